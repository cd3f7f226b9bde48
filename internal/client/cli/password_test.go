package cli

import (
	"context"
	"strings"
	"testing"

	"github.com/dmitrijs2005/gophdine/internal/client/client"
	"github.com/dmitrijs2005/gophdine/internal/client/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApp_ForgotAndResetPassword(t *testing.T) {
	ctx := context.Background()
	a, out, api := newTestApp(t, models.PortalCustomer, "alice@example.com\n")

	require.NoError(t, a.ForgotPassword(ctx, ""))
	assert.Contains(t, out.String(), "Password reset email sent")

	link := api.PasswordResetLink("alice@example.com")
	require.NotEmpty(t, link)

	a.reader.Reset(strings.NewReader("brand-new-pass\nbrand-new-pass\n"))
	require.NoError(t, a.ResetPassword(ctx, "https://dine.example.com"+link))
	assert.Contains(t, out.String(), "Password reset successful")
	assert.False(t, a.isLoggedIn())

	a.reader.Reset(strings.NewReader("brand-new-pass\n"))
	require.NoError(t, a.Login(ctx, "alice"))
	assert.True(t, a.isLoggedIn())
}

func TestApp_ResetPasswordErrors(t *testing.T) {
	tests := []struct {
		name    string
		link    string
		input   string
		wantErr error
		wantOut string
	}{
		{name: "not a link", link: "garbage", wantErr: models.ErrBadResetLink},
		{name: "mismatch", link: "MQ/abc", input: "brand-new-pass\nother-pass\n", wantErr: client.ErrValidation, wantOut: "  non_field_errors: Passwords don't match"},
		{name: "stale token", link: "MQ/abc", input: "brand-new-pass\nbrand-new-pass\n", wantErr: client.ErrValidation, wantOut: "Invalid or expired reset link"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, out, _ := newTestApp(t, models.PortalCustomer, tt.input)
			err := a.ResetPassword(context.Background(), tt.link)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Contains(t, out.String(), tt.wantOut)
		})
	}
}

func TestApp_ForgotPasswordUnknownEmail(t *testing.T) {
	a, out, _ := newTestApp(t, models.PortalCustomer, "")

	err := a.ForgotPassword(context.Background(), "nobody@example.com")
	require.ErrorIs(t, err, client.ErrValidation)
	assert.Contains(t, out.String(), "  email: User with this email does not exist.")
}

func TestApp_ChangePassword(t *testing.T) {
	ctx := context.Background()
	a, out, _ := newTestApp(t, models.PortalCustomer, "")

	require.NoError(t, a.ChangePassword(ctx))
	assert.Contains(t, out.String(), "Not logged in.")

	a.reader.Reset(strings.NewReader("alice-pass\n"))
	require.NoError(t, a.Login(ctx, "alice"))

	a.reader.Reset(strings.NewReader("guess\nbrand-new-pass\nbrand-new-pass\n"))
	require.ErrorIs(t, a.ChangePassword(ctx), client.ErrValidation)
	assert.Contains(t, out.String(), "  old_password: Current password is incorrect")

	a.reader.Reset(strings.NewReader("alice-pass\nbrand-new-pass\nbrand-new-pass\n"))
	require.NoError(t, a.ChangePassword(ctx))
	assert.Contains(t, out.String(), "Password changed successfully")
	assert.True(t, a.isLoggedIn())
}
