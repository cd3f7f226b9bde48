package session

import (
	"context"

	"github.com/dmitrijs2005/gophdine/internal/client/client"
	"github.com/dmitrijs2005/gophdine/internal/client/models"
	"github.com/dmitrijs2005/gophdine/internal/client/tokenstore"
)

// RequestPasswordReset asks for a reset link to be e-mailed. The session,
// signed in or not, is left as it is.
func (c *Controller) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	e := c.begin(false)
	msg, err := c.api.RequestPasswordReset(ctx, email)
	if err != nil {
		return "", c.fail(e, err)
	}
	c.succeed(e, msg)
	c.log.Info(ctx, "password reset requested", "email", email)
	return msg, nil
}

// ConfirmPasswordReset sets a new password from a reset link. It does not
// sign the user in.
func (c *Controller) ConfirmPasswordReset(ctx context.Context, reset models.PasswordReset) (string, error) {
	e := c.begin(false)
	msg, err := c.api.ConfirmPasswordReset(ctx, reset)
	if err != nil {
		return "", c.fail(e, err)
	}
	c.succeed(e, msg)
	c.log.Info(ctx, "password reset confirmed")
	return msg, nil
}

// ChangePassword changes the signed-in user's password. The current tokens
// stay valid.
func (c *Controller) ChangePassword(ctx context.Context, change models.PasswordChange) (string, error) {
	c.mu.Lock()
	signedIn := c.store.Get(tokenstore.KeyAccessToken) != ""
	name := username(c.user)
	c.mu.Unlock()
	if !signedIn {
		return "", client.ErrNotAuthenticated
	}

	e := c.begin(false)
	msg, err := c.api.ChangePassword(ctx, change)
	if err != nil {
		return "", c.fail(e, err)
	}
	c.succeed(e, msg)
	c.log.Info(ctx, "password changed", "username", name)
	return msg, nil
}

func (c *Controller) succeed(e uint64, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch == e {
		c.message = msg
	}
}
