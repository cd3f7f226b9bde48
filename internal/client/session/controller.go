// Package session turns user actions into API calls and keeps the session
// state that the route guard and the CLI read.
//
// Every operation captures the session epoch before going to the network.
// Logout, session expiry, a new login and "start new registration" bump the
// epoch, so a response that arrives afterwards is dropped instead of
// resurrecting a session the user already left.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophdine/internal/client/client"
	"github.com/dmitrijs2005/gophdine/internal/client/csrf"
	"github.com/dmitrijs2005/gophdine/internal/client/models"
	"github.com/dmitrijs2005/gophdine/internal/client/tokenstore"
	"github.com/dmitrijs2005/gophdine/internal/common"
	"github.com/dmitrijs2005/gophdine/internal/logging"
	"golang.org/x/oauth2"
)

// DefaultResendCooldown is the wait between two verification e-mails.
const DefaultResendCooldown = 60 * time.Second

const logoutTimeout = 5 * time.Second

// Options tune a Controller.
type Options struct {
	ResendCooldown time.Duration
	// TrustLegacyTokens treats a profile without email_verified as verified,
	// but only when the access token was already stored before this process
	// started. Otherwise the status stays unknown.
	TrustLegacyTokens bool
	Now               func() time.Time
}

// pendingLogin is the first step of a login awaiting its second factor.
type pendingLogin struct {
	identifier string
	secret     []byte
}

func (p *pendingLogin) wipe() {
	if p != nil {
		common.WipeByteArray(p.secret)
	}
}

// Controller owns the session state.
type Controller struct {
	api   client.Client
	store tokenstore.Store
	csrf  *csrf.Coordinator
	log   logging.Logger

	cooldown    time.Duration
	trustLegacy bool
	now         func() time.Time

	// inherited is the access token found in the store at start-up.
	inherited string

	mu                   sync.Mutex
	epoch                uint64
	user                 *models.User
	loading              bool
	pending              *pendingLogin
	verificationRequired bool
	lastErr              error
	message              string
	resendAt             time.Time
}

// New builds a controller over api. coord may be nil when CSRF status is
// not of interest.
func New(api client.Client, store tokenstore.Store, coord *csrf.Coordinator, log logging.Logger, opts Options) *Controller {
	c := &Controller{
		api:         api,
		store:       store,
		csrf:        coord,
		log:         log.With("component", "session"),
		cooldown:    opts.ResendCooldown,
		trustLegacy: opts.TrustLegacyTokens,
		now:         opts.Now,
		inherited:   store.Get(tokenstore.KeyAccessToken),
	}
	if c.cooldown <= 0 {
		c.cooldown = DefaultResendCooldown
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	access := c.store.Get(tokenstore.KeyAccessToken)
	s := State{
		Portal:                   c.api.Portal(),
		User:                     c.user.Clone(),
		Loading:                  c.loading,
		HasAccessToken:           access != "",
		HasRefreshToken:          c.store.Get(tokenstore.KeyRefreshToken) != "",
		Requires2FA:              c.pending != nil,
		PendingVerificationEmail: c.store.Get(tokenstore.KeyPendingVerificationEmail),
		PendingUserType:          models.UserType(c.store.Get(tokenstore.KeyPendingUserType)),
		VerificationRequired:     c.verificationRequired,
		Err:                      c.lastErr,
		Message:                  c.message,
	}
	s.Authenticated = access != "" && c.user != nil && c.pending == nil
	if c.pending != nil {
		s.PendingIdentifier = c.pending.identifier
	}
	if wait := c.resendAt.Sub(c.now()); wait > 0 {
		s.ResendAvailableIn = wait
	}
	if c.csrf != nil {
		st := c.csrf.Status()
		s.CSRFInitialized = st.Initialized
		s.CSRFError = st.Err
	}
	return s
}

// begin starts an operation. A superseding operation bumps the epoch so
// that responses to earlier ones are ignored.
func (c *Controller) begin(supersede bool) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if supersede {
		c.epoch++
	}
	c.lastErr = nil
	c.message = ""
	return c.epoch
}

// fail records err unless the session moved on since epoch e. It returns
// err either way.
func (c *Controller) fail(e uint64, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch == e {
		c.lastErr = err
	}
	return err
}

// establish stores a token pair and the user. Callers hold c.mu.
func (c *Controller) establish(tokens models.Tokens, u *models.User) {
	c.store.SetAll(map[string]string{
		tokenstore.KeyAccessToken:  tokens.Access,
		tokenstore.KeyRefreshToken: tokens.Refresh,
	})
	c.user = u.Clone()
	c.pending.wipe()
	c.pending = nil
	c.loading = false
	c.verificationRequired = false
	if c.user.Verification() == models.VerificationVerified {
		c.store.ClearKeys(tokenstore.PendingKeys...)
	}
}

// Login submits credentials. When the account has a second factor the
// result has Requires2FA set and VerifyTwoFactor completes the login.
func (c *Controller) Login(ctx context.Context, identifier, secret string) (*client.AuthResult, error) {
	e := c.begin(true)

	res, err := c.api.Login(ctx, identifier, secret, "")
	if err != nil {
		return nil, c.loginFailed(ctx, e, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != e {
		return nil, ErrStaleResponse
	}

	if res.Requires2FA {
		c.pending.wipe()
		c.pending = &pendingLogin{identifier: identifier, secret: []byte(secret)}
		c.user = nil
		c.store.ClearKeys(tokenstore.KeyAccessToken, tokenstore.KeyRefreshToken)
		c.message = res.Message
		c.log.Info(ctx, "second factor required", "identifier", identifier)
		return res, nil
	}

	c.establish(res.Tokens, res.User)
	c.message = res.Message
	c.log.Info(ctx, "logged in", "username", username(res.User), "user_type", userType(res.User))
	return res, nil
}

func (c *Controller) loginFailed(ctx context.Context, e uint64, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != e {
		return err
	}
	c.lastErr = err

	var v *client.VerificationRequiredError
	if errors.As(err, &v) {
		c.verificationRequired = true
		values := map[string]string{tokenstore.KeyPendingUserType: string(c.pendingUserType(v.UserType))}
		if v.Email != "" {
			values[tokenstore.KeyPendingVerificationEmail] = v.Email
		}
		c.store.SetAll(values)
		c.log.Info(ctx, "login refused until e-mail is verified", "email", v.Email)
		return err
	}
	c.log.Warn(ctx, "login failed", "err", err)
	return err
}

// VerifyTwoFactor completes a login that returned Requires2FA. A rejected
// code keeps the login pending so that the user can try again.
func (c *Controller) VerifyTwoFactor(ctx context.Context, code string) (*client.AuthResult, error) {
	c.mu.Lock()
	p := c.pending
	e := c.epoch
	if p == nil {
		c.mu.Unlock()
		return nil, ErrTwoFactorNotPending
	}
	identifier, secret := p.identifier, string(p.secret)
	c.lastErr = nil
	c.mu.Unlock()

	res, err := c.api.Login(ctx, identifier, secret, strings.TrimSpace(code))
	if err == nil && res.Requires2FA {
		err = fmt.Errorf("%w: second factor not accepted", client.ErrInvalidCredentials)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != e || c.pending != p {
		if err != nil {
			return nil, err
		}
		return nil, ErrStaleResponse
	}
	if err != nil {
		c.lastErr = err
		return nil, err
	}

	c.establish(res.Tokens, res.User)
	c.message = res.Message
	c.log.Info(ctx, "logged in with second factor", "username", username(res.User))
	return res, nil
}

// SocialLogin signs in with a provider-issued token.
func (c *Controller) SocialLogin(ctx context.Context, provider string, token *oauth2.Token) (*client.AuthResult, error) {
	e := c.begin(true)

	res, err := c.api.SocialLogin(ctx, provider, token)
	if err == nil && res.Requires2FA {
		err = fmt.Errorf("%w: second factor requested for social login", client.ErrUnexpected)
	}
	if err != nil {
		return nil, c.loginFailed(ctx, e, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != e {
		return nil, ErrStaleResponse
	}
	c.establish(res.Tokens, res.User)
	c.message = res.Message
	c.log.Info(ctx, "logged in", "provider", provider, "username", username(res.User))
	return res, nil
}

// Register creates an account and marks its e-mail as pending
// verification. It does not sign the user in.
func (c *Controller) Register(ctx context.Context, profile models.RegistrationProfile) (*client.RegisterResult, error) {
	e := c.begin(false)
	if profile.UserType == "" {
		profile.UserType = c.api.Portal().DefaultUserType()
	}

	res, err := c.api.Register(ctx, profile)
	if err != nil {
		return nil, c.fail(e, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != e {
		return nil, ErrStaleResponse
	}
	c.store.SetAll(map[string]string{
		tokenstore.KeyPendingVerificationEmail: res.Email,
		tokenstore.KeyPendingUserType:          string(profile.UserType),
	})
	c.verificationRequired = true
	c.message = res.Message
	if res.EmailSent {
		c.resendAt = c.now().Add(c.cooldown)
	}
	c.log.Info(ctx, "registered, verification pending", "email", res.Email, "user_type", profile.UserType)
	return res, nil
}

// VerifyEmailCode submits a verification code. An empty email falls back
// to the pending verification marker.
func (c *Controller) VerifyEmailCode(ctx context.Context, email, code string) (*client.VerifyResult, error) {
	email = c.verificationEmail(email)
	if email == "" {
		return nil, ErrNoPendingVerification
	}
	e := c.begin(false)

	res, err := c.api.VerifyEmailCode(ctx, email, strings.TrimSpace(code))
	if err != nil {
		if codeRejected(err) {
			err = fmt.Errorf("%w: %w", ErrCodeRejected, err)
		}
		return nil, c.fail(e, err)
	}

	c.mu.Lock()
	if c.epoch != e {
		c.mu.Unlock()
		return nil, ErrStaleResponse
	}
	c.store.ClearKeys(tokenstore.PendingKeys...)
	c.verificationRequired = false
	c.resendAt = time.Time{}
	c.message = res.Message

	hydrate := false
	switch {
	case res.Tokens.Valid():
		c.establish(res.Tokens, res.User)
		hydrate = c.user == nil
	case c.user != nil && strings.EqualFold(c.user.Email, email):
		c.user.EmailVerified = models.Bool(true)
	}
	c.mu.Unlock()

	c.log.Info(ctx, "e-mail verified", "email", email, "signed_in", res.Tokens.Valid())
	if hydrate {
		if _, err := c.LoadUserFromToken(ctx); err != nil {
			return res, err
		}
	}
	return res, nil
}

func codeRejected(err error) bool {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		return false
	}
	msg := strings.ToLower(apiErr.Message)
	return strings.Contains(msg, "invalid") || strings.Contains(msg, "expired")
}

// ResendVerification asks for a new code, at most once per cool-down.
func (c *Controller) ResendVerification(ctx context.Context, email string) (string, error) {
	email = c.verificationEmail(email)
	if email == "" {
		return "", ErrNoPendingVerification
	}

	c.mu.Lock()
	if wait := c.resendAt.Sub(c.now()); wait > 0 {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: try again in %s", ErrResendCooldown, wait.Round(time.Second))
	}
	// reserve the slot so that concurrent calls do not both go out
	c.resendAt = c.now().Add(c.cooldown)
	c.lastErr = nil
	e := c.epoch
	c.mu.Unlock()

	msg, err := c.api.ResendVerification(ctx, email)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.resendAt = time.Time{}
		if c.epoch == e {
			c.lastErr = err
		}
		return "", err
	}
	c.resendAt = c.now().Add(c.cooldown)
	c.message = msg
	c.log.Info(ctx, "verification e-mail resent", "email", email)
	return msg, nil
}

// StartNewRegistration abandons a pending verification.
func (c *Controller) StartNewRegistration() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.store.ClearKeys(tokenstore.PendingKeys...)
	c.verificationRequired = false
	c.resendAt = time.Time{}
	c.lastErr = nil
	c.message = ""
}

// LoadUserFromToken fetches the profile for the stored access token. On
// failure the session is dropped. Authentication failures also clear the
// stored tokens; when the API is merely unreachable they are kept so that a
// later attempt can still succeed.
func (c *Controller) LoadUserFromToken(ctx context.Context) (*models.User, error) {
	c.mu.Lock()
	access := c.store.Get(tokenstore.KeyAccessToken)
	if access == "" {
		c.user = nil
		c.mu.Unlock()
		return nil, client.ErrNotAuthenticated
	}
	c.loading = true
	e := c.epoch
	inherited := access == c.inherited
	c.mu.Unlock()

	u, err := c.api.Me(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != e {
		if err != nil {
			return nil, err
		}
		return nil, ErrStaleResponse
	}
	c.loading = false

	if err != nil {
		c.user = nil
		c.lastErr = err
		if !errors.Is(err, client.ErrUnavailable) {
			c.store.ClearKeys(tokenstore.TokenKeys...)
			if c.csrf != nil {
				c.csrf.Reset()
			}
		}
		c.log.Warn(ctx, "could not load user from stored token", "err", err)
		return nil, err
	}

	if u.EmailVerified == nil && c.trustLegacy && inherited {
		u.EmailVerified = models.Bool(true)
	}
	c.user = u.Clone()
	return u, nil
}

// Logout clears every piece of local state, then notifies the server on a
// best-effort basis. It is safe to call any number of times.
func (c *Controller) Logout(ctx context.Context) {
	c.mu.Lock()
	c.epoch++
	c.user = nil
	c.loading = false
	c.pending.wipe()
	c.pending = nil
	c.verificationRequired = false
	c.lastErr = nil
	c.message = ""
	c.resendAt = time.Time{}
	c.inherited = ""
	tokens := models.Tokens{
		Access:  c.store.Get(tokenstore.KeyAccessToken),
		Refresh: c.store.Get(tokenstore.KeyRefreshToken),
	}
	c.store.ClearAll()
	c.mu.Unlock()

	if tokens.Access != "" {
		ctx, cancel := context.WithTimeout(ctx, logoutTimeout)
		if err := c.api.Logout(ctx, tokens); err != nil {
			c.log.Warn(ctx, "server logout failed, local session already cleared", "err", err)
		}
		cancel()
	}

	// the CSRF token is kept in memory for the server call above
	if c.csrf != nil {
		c.csrf.Reset()
	}
	c.log.Info(ctx, "logged out")
}

// HandleSessionExpired drops the in-memory session after the transport
// failed a token refresh. Register it with Transport.OnSessionExpired.
func (c *Controller) HandleSessionExpired(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.user = nil
	c.loading = false
	c.pending.wipe()
	c.pending = nil
	c.lastErr = client.ErrSessionExpired
	c.log.Warn(ctx, "session expired")
}

// SyncFromStore reconciles memory with a store another process may have
// changed. It reports whether the in-memory session was dropped.
func (c *Controller) SyncFromStore(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil || c.store.Get(tokenstore.KeyAccessToken) != "" {
		return false
	}
	c.epoch++
	c.user = nil
	c.loading = false
	if c.csrf != nil {
		c.csrf.Reset()
	}
	c.log.Info(ctx, "session cleared by another process")
	return true
}

func (c *Controller) verificationEmail(email string) string {
	if email = strings.TrimSpace(email); email != "" {
		return email
	}
	return c.store.Get(tokenstore.KeyPendingVerificationEmail)
}

func (c *Controller) pendingUserType(reported string) models.UserType {
	if reported != "" {
		return models.ParseUserType(reported)
	}
	return c.api.Portal().DefaultUserType()
}

func username(u *models.User) string {
	if u == nil {
		return ""
	}
	return u.Username
}

func userType(u *models.User) models.UserType {
	if u == nil {
		return ""
	}
	return u.UserType
}
