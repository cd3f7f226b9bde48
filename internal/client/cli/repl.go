package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Login(ctx context.Context, identifier string) error
	TwoFactor(ctx context.Context, code string) error
	SocialLogin(ctx context.Context, provider, accessToken, idToken string) error
	Register(ctx context.Context, in RegisterInput) error
	Verify(ctx context.Context, email, code string) error
	Resend(ctx context.Context, email string) error
	NewRegistration(ctx context.Context) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, link string) error
	ChangePassword(ctx context.Context) error
	Logout(ctx context.Context) error
	Whoami(ctx context.Context) error
	Status(ctx context.Context) error
	Route(ctx context.Context, nameOrPath string) error
	Routes(ctx context.Context) error
	Get(ctx context.Context, path string) error
	Stats(ctx context.Context) error
}

var (
	anonymousHelp = "Available commands: login [user], 2fa [code], social <provider> <token> [id_token], " +
		"register [user] [email], verify [code] [email], resend [email], new-registration, " +
		"forgot-password [email], reset-password [link], " +
		"status, route <name>, routes, get <path>, stats, exit"
	signedInHelp = "Available commands: whoami, passwd, status, route <name>, routes, get <path>, stats, logout, exit"
)

// runREPL starts a simple read–eval–print loop for the gophdine CLI.
//
// It reads a line from reader, parses the first token as the command and
// dispatches to methods on 'a'; the remaining tokens are its arguments.
// Unknown commands are reported back to the user. The loop exits on EOF,
// when ctx is done or when the user types "exit" or "quit".
//
// Handler errors are printed and the loop continues.
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	for ctx.Err() == nil {
		printlnFn(fmt.Sprintf("gd %s> ", statusFn()))
		line, err := readLine(reader)
		if err != nil {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn(signedInHelp)
			} else {
				printlnFn(anonymousHelp)
			}

		case "login":
			err = a.Login(ctx, arg(args, 0))

		case "2fa":
			err = a.TwoFactor(ctx, arg(args, 0))

		case "social":
			if len(args) < 2 {
				printlnFn("Usage: social <provider> <token> [id_token]")
				continue
			}
			err = a.SocialLogin(ctx, args[0], args[1], arg(args, 2))

		case "register":
			err = a.Register(ctx, RegisterInput{Username: arg(args, 0), Email: arg(args, 1)})

		case "verify":
			err = a.Verify(ctx, arg(args, 1), arg(args, 0))

		case "resend":
			err = a.Resend(ctx, arg(args, 0))

		case "new-registration":
			err = a.NewRegistration(ctx)

		case "forgot-password":
			err = a.ForgotPassword(ctx, arg(args, 0))

		case "reset-password":
			err = a.ResetPassword(ctx, arg(args, 0))

		case "passwd":
			err = a.ChangePassword(ctx)

		case "logout":
			err = a.Logout(ctx)

		case "whoami":
			err = a.Whoami(ctx)

		case "status":
			err = a.Status(ctx)

		case "route":
			if len(args) == 0 {
				printlnFn("Usage: route <name|path>")
				continue
			}
			err = a.Route(ctx, args[0])

		case "routes":
			err = a.Routes(ctx)

		case "get":
			if len(args) == 0 {
				printlnFn("Usage: get <path>")
				continue
			}
			err = a.Get(ctx, args[0])

		case "stats":
			err = a.Stats(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}

		if err != nil {
			printlnFn("Error:", err)
		}
	}
}

func arg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

// Shell runs the interactive loop until the user leaves or ctx is done.
// With WatchStore set, sign-outs made by other processes end the session
// here as well.
func (a *App) Shell(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.config.WatchStore {
		go func() {
			if err := a.WatchStore(ctx); err != nil {
				a.log.Warn(ctx, "store watcher stopped", "err", err)
			}
		}()
	}

	fmt.Fprintln(a.out, "Welcome to gophdine (type 'help' for commands)")
	runREPL(ctx, a, a.getStatus, a.reader)
	return nil
}
