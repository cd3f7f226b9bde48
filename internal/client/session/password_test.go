package session

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/gophdine/internal/client/client"
	"github.com/dmitrijs2005/gophdine/internal/client/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_PasswordResetRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ctrl.RequestPasswordReset(ctx, "nobody@example.com")
	require.ErrorIs(t, err, client.ErrValidation)
	assert.ErrorIs(t, f.ctrl.Snapshot().Err, client.ErrValidation)

	msg, err := f.ctrl.RequestPasswordReset(ctx, "alice@example.com")
	require.NoError(t, err)
	s := f.ctrl.Snapshot()
	assert.Equal(t, "Password reset email sent", s.Message)
	assert.NoError(t, s.Err)
	assert.Equal(t, msg, s.Message)
	assertLoggedOut(t, s)

	uid, token, err := models.ParseResetLink(f.api.PasswordResetLink("alice@example.com"))
	require.NoError(t, err)
	_, err = f.ctrl.ConfirmPasswordReset(ctx, models.PasswordReset{
		UID: uid, Token: token, NewPassword: "brand-new-pass", NewPasswordConfirm: "brand-new-pass",
	})
	require.NoError(t, err)
	s = f.ctrl.Snapshot()
	assert.Equal(t, "Password reset successful", s.Message)
	assertLoggedOut(t, s)

	_, err = f.ctrl.Login(ctx, "alice", "brand-new-pass")
	require.NoError(t, err)
	assert.True(t, f.ctrl.Snapshot().Authenticated)
}

func TestController_ChangePassword(t *testing.T) {
	tests := []struct {
		name    string
		login   bool
		change  models.PasswordChange
		wantErr error
		wantMsg string
	}{
		{
			name:    "signed out",
			change:  models.PasswordChange{OldPassword: "alice-pass", NewPassword: "brand-new-pass", NewPasswordConfirm: "brand-new-pass"},
			wantErr: client.ErrNotAuthenticated,
		},
		{
			name:    "wrong current password",
			login:   true,
			change:  models.PasswordChange{OldPassword: "guess", NewPassword: "brand-new-pass", NewPasswordConfirm: "brand-new-pass"},
			wantErr: client.ErrValidation,
		},
		{
			name:    "changed",
			login:   true,
			change:  models.PasswordChange{OldPassword: "alice-pass", NewPassword: "brand-new-pass", NewPasswordConfirm: "brand-new-pass"},
			wantMsg: "Password changed successfully",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			if tt.login {
				_, err := f.ctrl.Login(ctx, "alice", "alice-pass")
				require.NoError(t, err)
			}

			msg, err := f.ctrl.ChangePassword(ctx, tt.change)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMsg, msg)

			s := f.ctrl.Snapshot()
			assert.True(t, s.Authenticated, "session survives a password change")
			assert.Equal(t, tt.wantMsg, s.Message)
		})
	}
}
