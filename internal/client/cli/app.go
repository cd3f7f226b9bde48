package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/gophdine/internal/client/client"
	"github.com/dmitrijs2005/gophdine/internal/client/config"
	"github.com/dmitrijs2005/gophdine/internal/client/csrf"
	"github.com/dmitrijs2005/gophdine/internal/client/inflight"
	"github.com/dmitrijs2005/gophdine/internal/client/session"
	"github.com/dmitrijs2005/gophdine/internal/client/tokenstore"
	"github.com/dmitrijs2005/gophdine/internal/filex"
	"github.com/dmitrijs2005/gophdine/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
)

const watchDebounce = 200 * time.Millisecond

// App is one client process: token store, transport, typed API and the
// session controller on top, plus the terminal it talks to.
type App struct {
	config    *config.Config
	log       logging.Logger
	store     tokenstore.Store
	closer    io.Closer
	coord     *csrf.Coordinator
	transport *client.Transport
	api       *client.HTTPClient
	session   *session.Controller
	registry  *prometheus.Registry
	storePath string

	reader *bufio.Reader
	out    io.Writer
}

// NewApp wires the client stack for c. An empty StorePath keeps tokens in
// memory for the lifetime of the process.
func NewApp(ctx context.Context, c *config.Config, in io.Reader, out io.Writer, log logging.Logger) (*App, error) {
	a := &App{
		config:   c,
		log:      log,
		registry: prometheus.NewRegistry(),
		reader:   bufio.NewReader(in),
		out:      out,
	}

	if c.StorePath == "" {
		a.store = tokenstore.NewMemoryStore()
	} else {
		path, err := filex.EnsureParentDir(c.StorePath)
		if err != nil {
			return nil, err
		}
		a.storePath = path
		s, err := tokenstore.OpenSQLite(ctx, path, []byte(c.StorePassphrase), log)
		if err != nil {
			return nil, fmt.Errorf("open token store: %w", err)
		}
		a.store, a.closer = s, s
	}

	flight := &inflight.Group{}
	a.coord = csrf.NewCoordinator(a.store, flight, log)

	var err error
	a.transport, err = client.NewTransport(client.Options{
		BaseURL:        c.APIBaseURL,
		Timeout:        c.RequestTimeout,
		NetworkRetries: c.NetworkRetries,
		RefreshSkew:    30 * time.Second,
		Metrics:        client.NewMetrics(a.registry),
	}, a.store, a.coord, flight, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.api, err = client.NewHTTPClient(a.transport, c.PortalValue())
	if err != nil {
		a.Close()
		return nil, err
	}

	a.session = session.New(a.api, a.store, a.coord, log, session.Options{
		ResendCooldown:    c.ResendCooldown,
		TrustLegacyTokens: c.TrustLegacyTokens,
	})
	a.transport.OnSessionExpired(a.session.HandleSessionExpired)

	return a, nil
}

// Close releases the token store.
func (a *App) Close() {
	if a.closer != nil {
		if err := a.closer.Close(); err != nil {
			a.log.Warn(context.Background(), "closing token store", "err", err)
		}
		a.closer = nil
	}
}

// Session exposes the controller.
func (a *App) Session() *session.Controller {
	return a.session
}

// Hydrate restores the session of a token left by an earlier run. Having
// no token is not an error.
func (a *App) Hydrate(ctx context.Context) error {
	if a.store.Get(tokenstore.KeyAccessToken) == "" {
		return nil
	}
	_, err := a.session.LoadUserFromToken(ctx)
	if err != nil && !errors.Is(err, client.ErrNotAuthenticated) {
		return err
	}
	return nil
}

// WatchStore follows changes other processes make to the token store and
// drops the in-memory session when they sign us out. It blocks until ctx
// is done; with a memory store it returns at once.
func (a *App) WatchStore(ctx context.Context) error {
	if a.storePath == "" {
		return nil
	}
	return tokenstore.Watch(ctx, a.storePath, watchDebounce, func() {
		if a.session.SyncFromStore(ctx) {
			fmt.Fprintln(a.out, "Signed out by another process.")
		}
	}, a.log)
}

func (a *App) isLoggedIn() bool {
	return a.session.Snapshot().Authenticated
}

func (a *App) getStatus() string {
	s := a.session.Snapshot()
	switch {
	case s.Loading:
		return "(loading)"
	case s.Requires2FA:
		return fmt.Sprintf("(%s 2fa)", s.PendingIdentifier)
	case s.Authenticated:
		return fmt.Sprintf("(%s %s)", s.User.Username, s.Portal)
	case s.VerificationPending():
		return fmt.Sprintf("(verify %s)", s.PendingVerificationEmail)
	default:
		return fmt.Sprintf("(%s)", s.Portal)
	}
}
