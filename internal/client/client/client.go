package client

import (
	"context"
	"net/url"

	"github.com/dmitrijs2005/gophdine/internal/client/models"
	"golang.org/x/oauth2"
)

// Client is the API surface the session controller depends on.
type Client interface {
	Login(ctx context.Context, identifier, secret, totp string) (*AuthResult, error)
	SocialLogin(ctx context.Context, provider string, token *oauth2.Token) (*AuthResult, error)
	Register(ctx context.Context, profile models.RegistrationProfile) (*RegisterResult, error)
	VerifyEmailCode(ctx context.Context, email, code string) (*VerifyResult, error)
	ResendVerification(ctx context.Context, email string) (string, error)
	Me(ctx context.Context) (*models.User, error)
	Logout(ctx context.Context, tokens models.Tokens) error
	RequestPasswordReset(ctx context.Context, email string) (string, error)
	ConfirmPasswordReset(ctx context.Context, reset models.PasswordReset) (string, error)
	ChangePassword(ctx context.Context, change models.PasswordChange) (string, error)
	Fetch(ctx context.Context, path string, query url.Values) (Payload, error)
	Portal() models.Portal
}
