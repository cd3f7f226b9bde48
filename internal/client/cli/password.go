package cli

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/gophdine/internal/client/models"
	"github.com/dmitrijs2005/gophdine/internal/common"
)

// ForgotPassword asks for a reset link to be e-mailed.
func (a *App) ForgotPassword(ctx context.Context, email string) error {
	email, err := GetOptional(a.reader, email, "Enter email", a.out)
	if err != nil {
		return err
	}
	msg, err := a.session.RequestPasswordReset(ctx, email)
	if err != nil {
		printFieldErrors(a, err)
		return err
	}
	fmt.Fprintln(a.out, msg)
	fmt.Fprintln(a.out, "Run 'reset-password' with the link from the e-mail.")
	return nil
}

// ResetPassword sets a new password from a reset link. link may be the
// full URL from the e-mail or just "uid/token".
func (a *App) ResetPassword(ctx context.Context, link string) error {
	link, err := GetOptional(a.reader, link, "Paste the reset link", a.out)
	if err != nil {
		return err
	}
	uid, token, err := models.ParseResetLink(link)
	if err != nil {
		return err
	}

	password, confirm, err := a.newPassword()
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)
	defer common.WipeByteArray(confirm)

	msg, err := a.session.ConfirmPasswordReset(ctx, models.PasswordReset{
		UID:                uid,
		Token:              token,
		NewPassword:        string(password),
		NewPasswordConfirm: string(confirm),
	})
	if err != nil {
		printFieldErrors(a, err)
		return err
	}
	fmt.Fprintln(a.out, msg)
	fmt.Fprintln(a.out, "You can log in with the new password now.")
	return nil
}

// ChangePassword changes the signed-in user's password.
func (a *App) ChangePassword(ctx context.Context) error {
	if !a.isLoggedIn() {
		fmt.Fprintln(a.out, "Not logged in.")
		return nil
	}

	old, err := getSecret(a.reader, "Enter current password: ", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(old)

	password, confirm, err := a.newPassword()
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)
	defer common.WipeByteArray(confirm)

	msg, err := a.session.ChangePassword(ctx, models.PasswordChange{
		OldPassword:        string(old),
		NewPassword:        string(password),
		NewPasswordConfirm: string(confirm),
	})
	if err != nil {
		printFieldErrors(a, err)
		return err
	}
	fmt.Fprintln(a.out, msg)
	return nil
}

func (a *App) newPassword() (password, confirm []byte, err error) {
	password, err = getSecret(a.reader, "Enter new password: ", a.out)
	if err != nil {
		return nil, nil, err
	}
	confirm, err = getSecret(a.reader, "Repeat new password: ", a.out)
	if err != nil {
		common.WipeByteArray(password)
		return nil, nil, err
	}
	return password, confirm, nil
}
