package cli

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/dmitrijs2005/gophdine/internal/client/client"
	"github.com/dmitrijs2005/gophdine/internal/client/models"
	"github.com/dmitrijs2005/gophdine/internal/common"
	"golang.org/x/oauth2"
)

// getSecret is an indirection used to facilitate testing. It points to the
// interactive input helper and can be swapped in tests.
var getSecret = GetSecret

// Login prompts for whatever is missing (identifier, password and, when the
// account asks for it, the second factor) and signs in.
//
// A login refused because the e-mail is not verified yet leaves the
// verification marker set and tells the user how to continue.
func (a *App) Login(ctx context.Context, identifier string) error {
	identifier, err := GetOptional(a.reader, identifier, "Enter username or email", a.out)
	if err != nil {
		return err
	}

	password, err := getSecret(a.reader, "Enter password: ", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	res, err := a.session.Login(ctx, identifier, string(password))
	if err != nil {
		var v *client.VerificationRequiredError
		if errors.As(err, &v) {
			fmt.Fprintf(a.out, "Your e-mail is not verified yet. Run 'verify' with the code sent to %s, or 'resend'.\n", orPending(v.Email))
		}
		return err
	}

	if res.Requires2FA {
		code, err := getSecret(a.reader, "Enter 2FA code: ", a.out)
		if err != nil {
			return err
		}
		defer common.WipeByteArray(code)

		if res, err = a.session.VerifyTwoFactor(ctx, string(code)); err != nil {
			return err
		}
	}

	a.printWelcome(res.User)
	return nil
}

// TwoFactor submits the second factor of a pending login.
func (a *App) TwoFactor(ctx context.Context, code string) error {
	if code == "" {
		secret, err := getSecret(a.reader, "Enter 2FA code: ", a.out)
		if err != nil {
			return err
		}
		defer common.WipeByteArray(secret)
		code = string(secret)
	}

	res, err := a.session.VerifyTwoFactor(ctx, code)
	if err != nil {
		return err
	}
	a.printWelcome(res.User)
	return nil
}

// SocialLogin signs in with a token issued by provider. idToken, when set,
// is preferred by providers that verify OpenID identity tokens.
func (a *App) SocialLogin(ctx context.Context, provider, accessToken, idToken string) error {
	if accessToken == "" && idToken == "" {
		return fmt.Errorf("%s login needs a token", provider)
	}

	tok := &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}
	if idToken != "" {
		tok = tok.WithExtra(map[string]any{"id_token": idToken})
	}

	res, err := a.session.SocialLogin(ctx, strings.ToLower(provider), tok)
	if err != nil {
		return err
	}
	a.printWelcome(res.User)
	return nil
}

// RegisterInput holds the sign-up fields given on the command line.
// Missing username, email and password are prompted for.
type RegisterInput struct {
	Username  string
	Email     string
	FirstName string
	LastName  string
	Phone     string
	UserType  string
}

// Register creates an account. The user is not signed in; the e-mail
// address becomes the pending verification.
func (a *App) Register(ctx context.Context, in RegisterInput) error {
	username, err := GetOptional(a.reader, in.Username, "Enter username", a.out)
	if err != nil {
		return err
	}
	email, err := GetOptional(a.reader, in.Email, "Enter email", a.out)
	if err != nil {
		return err
	}

	password, err := getSecret(a.reader, "Enter password: ", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	confirm, err := getSecret(a.reader, "Repeat password: ", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(confirm)

	profile := models.RegistrationProfile{
		Username:  username,
		Email:     email,
		Password:  string(password),
		Password2: string(confirm),
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Phone:     in.Phone,
	}
	if in.UserType != "" {
		profile.UserType = models.ParseUserType(in.UserType)
	}

	res, err := a.session.Register(ctx, profile)
	if err != nil {
		printFieldErrors(a, err)
		return err
	}

	fmt.Fprintf(a.out, "Account %s created.\n", res.Username)
	if res.EmailSent {
		fmt.Fprintf(a.out, "A verification code was sent to %s. Run 'verify' to confirm it.\n", res.Email)
	} else {
		fmt.Fprintln(a.out, "Run 'resend' to get a verification code.")
	}
	return nil
}

// Verify submits an e-mail verification code. An empty email uses the
// pending verification.
func (a *App) Verify(ctx context.Context, email, code string) error {
	code, err := GetOptional(a.reader, code, "Enter verification code", a.out)
	if err != nil {
		return err
	}

	res, err := a.session.VerifyEmailCode(ctx, email, code)
	if err != nil {
		return err
	}

	if res.Tokens.Valid() {
		a.printWelcome(a.session.Snapshot().User)
		return nil
	}
	fmt.Fprintln(a.out, "E-mail verified. You can log in now.")
	return nil
}

// Resend asks for a new verification code.
func (a *App) Resend(ctx context.Context, email string) error {
	msg, err := a.session.ResendVerification(ctx, email)
	if err != nil {
		return err
	}
	if msg == "" {
		msg = "Verification code sent."
	}
	fmt.Fprintln(a.out, msg)
	return nil
}

// NewRegistration forgets a pending verification.
func (a *App) NewRegistration(ctx context.Context) error {
	a.session.StartNewRegistration()
	fmt.Fprintln(a.out, "Pending verification cleared.")
	return nil
}

// Logout signs out locally and, best effort, on the server.
func (a *App) Logout(ctx context.Context) error {
	a.session.Logout(ctx)
	fmt.Fprintln(a.out, "Logged out.")
	return nil
}

func (a *App) printWelcome(u *models.User) {
	if u == nil {
		fmt.Fprintln(a.out, "Logged in.")
		return
	}
	fmt.Fprintf(a.out, "Logged in as %s (%s).\n", u.Username, u.UserType)
	if u.Verification() != models.VerificationVerified {
		fmt.Fprintf(a.out, "E-mail verification is %s.\n", u.Verification())
	}
}

func printFieldErrors(a *App, err error) {
	var v *client.ValidationError
	if !errors.As(err, &v) {
		return
	}
	for _, field := range slices.Sorted(maps.Keys(v.Fields)) {
		fmt.Fprintf(a.out, "  %s: %s\n", field, strings.Join(v.Fields[field], "; "))
	}
}

func orPending(email string) string {
	if email == "" {
		return "your address"
	}
	return email
}
