package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/gophdine/internal/client/config"
	"github.com/dmitrijs2005/gophdine/internal/logging"
	"github.com/spf13/cobra"
)

type appKey struct{}

// NewRootCmd builds the gophdine command tree. Every subcommand runs with a
// fully wired App whose session was restored from the token store.
func NewRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gophdine",
		Short: "Command-line client for the restaurant ordering API",
		Long: `gophdine signs you in to the restaurant ordering API and keeps the
session alive between runs.

Sessions are stored in a local SQLite file (see --store). Both the
storefront ("customer") and the owner portal ("owner") are supported.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return openApp(cmd, in, out, errOut)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a := appFrom(cmd); a != nil {
				a.Close()
			}
		},
	}
	config.RegisterFlags(rootCmd.PersistentFlags())
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	rootCmd.AddCommand(
		loginCmd(),
		twoFactorCmd(),
		socialCmd(),
		logoutCmd(),
		registerCmd(),
		verifyCmd(),
		resendCmd(),
		newRegistrationCmd(),
		forgotPasswordCmd(),
		resetPasswordCmd(),
		passwdCmd(),
		whoamiCmd(),
		statusCmd(),
		routeCmd(),
		routesCmd(),
		getCmd(),
		statsCmd(),
		shellCmd(),
	)
	return rootCmd
}

// Execute runs the command tree on the process's terminal.
func Execute(ctx context.Context) error {
	return NewRootCmd(os.Stdin, os.Stdout, os.Stderr).ExecuteContext(ctx)
}

func openApp(cmd *cobra.Command, in io.Reader, out, errOut io.Writer) error {
	fs := cmd.Flags()
	cfg, err := config.Load(config.ConfigPath(fs), os.LookupEnv, fs)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.LogFormat, cfg.LogLevel, errOut)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := NewApp(ctx, cfg, in, out, log)
	if err != nil {
		return err
	}
	if err := a.Hydrate(ctx); err != nil {
		log.Warn(ctx, "stored session could not be restored", "err", err)
	}

	cmd.SetContext(context.WithValue(ctx, appKey{}, a))
	return nil
}

func appFrom(cmd *cobra.Command) *App {
	if cmd.Context() == nil {
		return nil
	}
	a, _ := cmd.Context().Value(appKey{}).(*App)
	return a
}

// run adapts an App method to a cobra RunE.
func run(fn func(ctx context.Context, a *App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a := appFrom(cmd)
		if a == nil {
			return fmt.Errorf("client not initialised")
		}
		return fn(cmd.Context(), a, args)
	}
}

func optionalArg(args []string) string {
	return arg(args, 0)
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login [username|email]",
		Short: "Sign in with a password (and a 2FA code when the account has one)",
		Args:  cobra.MaximumNArgs(1),
		RunE: run(func(ctx context.Context, a *App, args []string) error {
			return a.Login(ctx, optionalArg(args))
		}),
	}
}

func twoFactorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "2fa [code]",
		Short: "Submit the second factor of a pending login",
		Long:  "A pending login only lives inside one process, so this is mostly useful from the shell.",
		Args:  cobra.MaximumNArgs(1),
		RunE: run(func(ctx context.Context, a *App, args []string) error {
			return a.TwoFactor(ctx, optionalArg(args))
		}),
	}
}

func socialCmd() *cobra.Command {
	var idToken string

	cmd := &cobra.Command{
		Use:   "social <google|facebook> <access-token>",
		Short: "Sign in with a token issued by a social provider",
		Args:  cobra.ExactArgs(2),
		RunE: run(func(ctx context.Context, a *App, args []string) error {
			return a.SocialLogin(ctx, args[0], args[1], idToken)
		}),
	}
	cmd.Flags().StringVar(&idToken, "id-token", "", "OpenID identity token (preferred by google)")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget every stored token",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, a *App, args []string) error {
			return a.Logout(ctx)
		}),
	}
}

func registerCmd() *cobra.Command {
	var in RegisterInput

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account; the e-mail address must be verified before use",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, a *App, args []string) error {
			return a.Register(ctx, in)
		}),
	}
	cmd.Flags().StringVarP(&in.Username, "username", "u", "", "username")
	cmd.Flags().StringVarP(&in.Email, "email", "e", "", "e-mail address")
	cmd.Flags().StringVar(&in.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&in.LastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&in.Phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&in.UserType, "user-type", "", "account type (defaults to the portal's)")
	return cmd
}

func verifyCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "verify [code]",
		Short: "Confirm the e-mail address with the code that was sent to it",
		Args:  cobra.MaximumNArgs(1),
		RunE: run(func(ctx context.Context, a *App, args []string) error {
			return a.Verify(ctx, email, optionalArg(args))
		}),
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "address to verify (defaults to the pending one)")
	return cmd
}

func resendCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "resend",
		Short: "Send a new verification code",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, a *App, args []string) error {
			return a.Resend(ctx, email)
		}),
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "address to send to (defaults to the pending one)")
	return cmd
}

func newRegistrationCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new-registration",
		Short: "Forget the pending verification and start over",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, a *App, args []string) error {
			return a.NewRegistration(ctx)
		}),
	}
}

func forgotPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forgot-password [email]",
		Short: "E-mail a password reset link",
		Args:  cobra.MaximumNArgs(1),
		RunE: run(func(ctx context.Context, a *App, args []string) error {
			return a.ForgotPassword(ctx, optionalArg(args))
		}),
	}
}

func resetPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-password [link]",
		Short: "Set a new password using the link from the reset e-mail",
		Args:  cobra.MaximumNArgs(1),
		RunE: run(func(ctx context.Context, a *App, args []string) error {
			return a.ResetPassword(ctx, optionalArg(args))
		}),
	}
}

func passwdCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "passwd",
		Short: "Change the password of the signed-in account",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, a *App, args []string) error {
			return a.ChangePassword(ctx)
		}),
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, a *App, args []string) error {
			return a.Whoami(ctx)
		}),
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the session state",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, a *App, args []string) error {
			return a.Status(ctx)
		}),
	}
}

func routeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "route <name|path>",
		Short: "Show whether a page may be opened in the current session",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, a *App, args []string) error {
			return a.Route(ctx, args[0])
		}),
	}
}

func routesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "List the pages of the portal",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, a *App, args []string) error {
			return a.Routes(ctx)
		}),
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "GET an API path with the session's credentials",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, a *App, args []string) error {
			return a.Get(ctx, args[0])
		}),
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show request counters of this run",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, a *App, args []string) error {
			return a.Stats(ctx)
		}),
	}
}

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive mode",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, a *App, args []string) error {
			return a.Shell(ctx)
		}),
	}
}
