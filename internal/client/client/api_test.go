package client

import (
	"context"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/dmitrijs2005/gophdine/internal/client/models"
	"github.com/dmitrijs2005/gophdine/internal/client/tokenstore"
	"github.com/dmitrijs2005/gophdine/internal/logging"
	"github.com/dmitrijs2005/gophdine/internal/mockapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newOwnerHarness(t *testing.T) *harness {
	t.Helper()
	api := mockapi.New(demoConfig(), logging.Nop())
	ts := httptest.NewServer(api.Handler())
	t.Cleanup(ts.Close)

	h := newHarnessFor(t, ts.URL+"/api", models.PortalOwner)
	h.api = api
	return h
}

func TestHTTPClient_Login(t *testing.T) {
	h := newHarness(t, demoConfig())

	res, err := h.client.Login(context.Background(), "alice", "alice-pass", "")
	require.NoError(t, err)

	assert.False(t, res.Requires2FA)
	require.NotNil(t, res.User)
	assert.Equal(t, "alice", res.User.Username)
	assert.Equal(t, models.UserTypeCustomer, res.User.UserType)
	assert.Equal(t, models.VerificationVerified, res.User.Verification())
	assert.True(t, res.Tokens.Valid())
	assert.NotEmpty(t, res.Tokens.Refresh)

	// the client returns tokens; storing them is the caller's job
	assert.Empty(t, h.store.Get(tokenstore.KeyAccessToken))
	assert.Equal(t, int64(1), h.api.Stats().CSRFFetches)
}

func TestHTTPClient_LoginByEmail(t *testing.T) {
	h := newHarness(t, demoConfig())

	res, err := h.client.Login(context.Background(), "alice@example.com", "alice-pass", "")
	require.NoError(t, err)
	assert.Equal(t, "alice", res.User.Username)
}

func TestHTTPClient_LoginTwoFactor(t *testing.T) {
	h := newOwnerHarness(t)
	ctx := context.Background()

	res, err := h.client.Login(ctx, "olga", "olga-pass", "")
	require.NoError(t, err)
	assert.True(t, res.Requires2FA)
	assert.Nil(t, res.User)
	assert.False(t, res.Tokens.Valid())

	_, err = h.client.Login(ctx, "olga", "olga-pass", "000000")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	res, err = h.client.Login(ctx, "olga", "olga-pass", "123456")
	require.NoError(t, err)
	assert.False(t, res.Requires2FA)
	assert.Equal(t, models.UserTypeOwner, res.User.UserType)
	assert.True(t, res.Tokens.Valid())
}

func TestHTTPClient_LoginErrors(t *testing.T) {
	tests := []struct {
		name       string
		owner      bool
		identifier string
		secret     string
		check      func(t *testing.T, err error)
	}{
		{
			name:       "wrong password",
			identifier: "alice",
			secret:     "nope",
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrInvalidCredentials)
				assert.NotErrorIs(t, err, ErrSessionExpired)
			},
		},
		{
			name:       "customer on owner portal",
			owner:      true,
			identifier: "alice",
			secret:     "alice-pass",
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrInvalidCredentials)
			},
		},
		{
			name:       "unverified account",
			identifier: "newbie",
			secret:     "newbie-pass",
			check: func(t *testing.T, err error) {
				var v *VerificationRequiredError
				require.ErrorAs(t, err, &v)
				assert.ErrorIs(t, err, ErrVerificationRequired)
				assert.Equal(t, "newbie@example.com", v.Email)
				assert.Equal(t, "customer", v.UserType)
				assert.True(t, v.CanResend)
			},
		},
		{
			name:       "missing password",
			identifier: "alice",
			check: func(t *testing.T, err error) {
				var v *ValidationError
				require.ErrorAs(t, err, &v)
				assert.Contains(t, v.Fields, "password")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, demoConfig())
			if tt.owner {
				h = newOwnerHarness(t)
			}
			res, err := h.client.Login(context.Background(), tt.identifier, tt.secret, "")
			assert.Nil(t, res)
			require.Error(t, err)
			tt.check(t, err)
			assert.Equal(t, int32(0), h.expired.Load())
		})
	}
}

func TestHTTPClient_RegisterAndVerify(t *testing.T) {
	h := newHarness(t, demoConfig())
	ctx := context.Background()

	reg, err := h.client.Register(ctx, models.RegistrationProfile{
		Username: "dana",
		Email:    "dana@example.com",
		Password: "correct-horse",
	})
	require.NoError(t, err)
	assert.True(t, reg.RequiresVerification)
	assert.Equal(t, "dana@example.com", reg.Email)
	assert.NotZero(t, reg.UserID)

	_, err = h.client.VerifyEmailCode(ctx, "dana@example.com", "not-it")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Invalid or expired verification code", apiErr.Message)

	code := h.api.VerificationCode("dana@example.com")
	require.Len(t, code, 6)

	res, err := h.client.VerifyEmailCode(ctx, "dana@example.com", code)
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.True(t, res.Tokens.Valid())
	require.NotNil(t, res.User)
	assert.Equal(t, models.VerificationVerified, res.User.Verification())
}

func TestHTTPClient_RegisterOwnerPortalDefaultsUserType(t *testing.T) {
	h := newOwnerHarness(t)

	_, err := h.client.Register(context.Background(), models.RegistrationProfile{
		Username: "rita",
		Email:    "rita@example.com",
		Password: "correct-horse",
	})
	require.NoError(t, err)

	_, err = h.client.Login(context.Background(), "rita", "correct-horse", "")
	var v *VerificationRequiredError
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "owner", v.UserType)
}

func TestHTTPClient_RegisterValidation(t *testing.T) {
	h := newHarness(t, demoConfig())

	_, err := h.client.Register(context.Background(), models.RegistrationProfile{
		Username:  "alice",
		Email:     "someone@example.com",
		Password:  "short",
		Password2: "different",
	})

	var v *ValidationError
	require.ErrorAs(t, err, &v)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, v.Fields, "username")
	assert.Contains(t, v.Fields, "password")
	assert.Contains(t, v.Fields, "password2")
	assert.NotContains(t, v.Fields, "email")
}

func TestHTTPClient_ResendVerification(t *testing.T) {
	h := newHarness(t, demoConfig())
	ctx := context.Background()

	before := h.api.VerificationCode("newbie@example.com")
	msg, err := h.client.ResendVerification(ctx, "newbie@example.com")
	require.NoError(t, err)
	assert.Equal(t, "New verification email sent", msg)
	assert.NotEmpty(t, h.api.VerificationCode("newbie@example.com"))
	assert.NotEqual(t, before, h.api.VerificationCode("newbie@example.com"))

	_, err = h.client.ResendVerification(ctx, "alice@example.com")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Email is already verified", apiErr.Message)
}

func TestHTTPClient_SocialLogin(t *testing.T) {
	h := newHarness(t, demoConfig())
	ctx := context.Background()
	require.True(t, h.api.AddSocialToken(ProviderGoogle, "google-id-token", "alice"))

	_, err := h.client.SocialLogin(ctx, "github", &oauth2.Token{AccessToken: "x"})
	assert.ErrorIs(t, err, ErrUnsupportedProvider)

	_, err = h.client.SocialLogin(ctx, ProviderGoogle, nil)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = h.client.SocialLogin(ctx, ProviderGoogle, &oauth2.Token{AccessToken: "unknown"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	tok := (&oauth2.Token{AccessToken: "opaque"}).WithExtra(map[string]any{"id_token": "google-id-token"})
	res, err := h.client.SocialLogin(ctx, "Google", tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", res.User.Username)
	assert.True(t, res.Tokens.Valid())
}

func TestHTTPClient_Me(t *testing.T) {
	h := newHarness(t, demoConfig())

	_, err := h.client.Me(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	h.signIn(t, 3)
	u, err := h.client.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "mike", u.Username)
	assert.Equal(t, models.UserTypeStaff, u.UserType)
	assert.Equal(t, "manager", u.Role)
}

func TestHTTPClient_Logout(t *testing.T) {
	h := newHarness(t, demoConfig())
	tokens := h.signIn(t, 1)

	// local state is gone before the server hears about it
	h.store.ClearAll()
	require.NoError(t, h.client.Logout(context.Background(), tokens))
	assert.Equal(t, int64(1), h.api.Stats().Logouts)

	h.store.SetAll(map[string]string{
		tokenstore.KeyAccessToken:  tokens.Access,
		tokenstore.KeyRefreshToken: tokens.Refresh,
	})

	// the server revoked the refresh token
	h.api.RevokeAccessTokens()
	_, err := h.client.Me(context.Background())
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestHTTPClient_PasswordReset(t *testing.T) {
	h := newHarness(t, demoConfig())
	ctx := context.Background()

	_, err := h.client.RequestPasswordReset(ctx, "nobody@example.com")
	var v *ValidationError
	require.ErrorAs(t, err, &v)
	assert.Equal(t, []string{"User with this email does not exist."}, v.Fields["email"])

	msg, err := h.client.RequestPasswordReset(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Password reset email sent", msg)

	uid, token, err := models.ParseResetLink(h.api.PasswordResetLink("alice@example.com"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		reset models.PasswordReset
		field string
	}{
		{"mismatch", models.PasswordReset{UID: uid, Token: token, NewPassword: "brand-new-pass", NewPasswordConfirm: "nope-nope"}, "non_field_errors"},
		{"too short", models.PasswordReset{UID: uid, Token: token, NewPassword: "short", NewPasswordConfirm: "short"}, "new_password"},
		{"stale token", models.PasswordReset{UID: uid, Token: "stale", NewPassword: "brand-new-pass", NewPasswordConfirm: "brand-new-pass"}, "non_field_errors"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.client.ConfirmPasswordReset(ctx, tt.reset)
			var v *ValidationError
			require.ErrorAs(t, err, &v)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Contains(t, v.Fields, tt.field)
		})
	}

	msg, err = h.client.ConfirmPasswordReset(ctx, models.PasswordReset{
		UID: uid, Token: token, NewPassword: "brand-new-pass", NewPasswordConfirm: "brand-new-pass",
	})
	require.NoError(t, err)
	assert.Equal(t, "Password reset successful", msg)

	res, err := h.client.Login(ctx, "alice", "brand-new-pass", "")
	require.NoError(t, err)
	assert.True(t, res.Tokens.Valid())
}

func TestHTTPClient_ChangePassword(t *testing.T) {
	h := newHarness(t, demoConfig())
	ctx := context.Background()
	h.signIn(t, 1)

	_, err := h.client.ChangePassword(ctx, models.PasswordChange{
		OldPassword: "guess", NewPassword: "brand-new-pass", NewPasswordConfirm: "brand-new-pass",
	})
	var v *ValidationError
	require.ErrorAs(t, err, &v)
	assert.Equal(t, []string{"Current password is incorrect"}, v.Fields["old_password"])

	// an expired access token is refreshed like any other authenticated call
	h.api.RevokeAccessTokens()
	msg, err := h.client.ChangePassword(ctx, models.PasswordChange{
		OldPassword: "alice-pass", NewPassword: "brand-new-pass", NewPasswordConfirm: "brand-new-pass",
	})
	require.NoError(t, err)
	assert.Equal(t, "Password changed successfully", msg)
	assert.Equal(t, int64(1), h.api.Stats().Refreshes)

	_, err = h.client.Login(ctx, "alice", "alice-pass", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestHTTPClient_ChangePasswordRequiresSession(t *testing.T) {
	h := newHarness(t, demoConfig())

	_, err := h.client.ChangePassword(context.Background(), models.PasswordChange{
		OldPassword: "alice-pass", NewPassword: "brand-new-pass", NewPasswordConfirm: "brand-new-pass",
	})
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestHTTPClient_Fetch(t *testing.T) {
	h := newHarness(t, demoConfig())
	h.signIn(t, 1)
	ctx := context.Background()

	page, err := h.client.Fetch(ctx, "restaurants/", nil)
	require.NoError(t, err)
	assert.Equal(t, KindPage, page.Kind)
	assert.Equal(t, 3, page.Count)
	assert.Equal(t, 2, page.Len())
	assert.Contains(t, page.Next, "page=2")

	page, err = h.client.Fetch(ctx, "restaurants/", url.Values{"page": {"2"}})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Len())
	assert.Empty(t, page.Next)
	assert.NotEmpty(t, page.Previous)

	items, err := h.client.Fetch(ctx, "menu-items/", nil)
	require.NoError(t, err)
	assert.Equal(t, KindArray, items.Kind)
	var menu []struct {
		Name string `json:"name"`
	}
	require.NoError(t, items.DecodeItems(&menu))
	assert.Equal(t, "Margherita", menu[0].Name)

	orders, err := h.client.Fetch(ctx, "orders/", nil)
	require.NoError(t, err)
	assert.Equal(t, KindPage, orders.Kind)
	assert.Equal(t, 1, orders.Count)

	me, err := h.client.Fetch(ctx, "auth/me/", nil)
	require.NoError(t, err)
	assert.Equal(t, KindObject, me.Kind)
}

func TestNewHTTPClient_UnknownPortal(t *testing.T) {
	_, err := NewHTTPClient(nil, models.Portal("kitchen"))
	assert.Error(t, err)
}
