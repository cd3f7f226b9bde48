package mockapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/dmitrijs2005/gophdine/internal/logging"
)

// App runs the mock API as a standalone HTTP server.
type App struct {
	config *Config
	logger logging.Logger
	server *Server
}

func NewApp(c *Config, out io.Writer) (*App, error) {
	logger, err := logging.New(c.LogFormat, c.LogLevel, out)
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}
	return &App{config: c, logger: logger, server: New(*c, logger)}, nil
}

// Server exposes the underlying fake for inspection.
func (app *App) Server() *Server {
	return app.server
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Banner renders the startup banner.
func Banner() string {
	return figure.NewFigure("gophdine", "cybermedium", true).String()
}

// Run serves until ctx is cancelled or a termination signal arrives.
func (app *App) Run(ctx context.Context, out io.Writer) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.initSignalHandler(cancelFunc)

	listener, err := net.Listen("tcp", app.config.Addr)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, Banner())
	app.logger.Info(ctx, "Starting mock API", "address", listener.Addr().String(), "prefix", app.config.Prefix)
	if app.config.SeedDemoUsers {
		for _, a := range DemoAccounts() {
			app.logger.Info(ctx, "demo account", "username", a.Username, "user_type", a.UserType, "role", a.Role, "active", a.Active)
		}
	}

	srv := &http.Server{Handler: app.server.Handler(), ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		app.logger.Info(ctx, "Stopping mock API...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
