// Package csrf owns the client's anti-forgery token: it caches the token,
// persists it in the token store and makes sure at most one acquisition
// is on the wire at a time.
package csrf

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/gophdine/internal/client/inflight"
	"github.com/dmitrijs2005/gophdine/internal/client/tokenstore"
	"github.com/dmitrijs2005/gophdine/internal/logging"
)

const flightKey = "csrf"

var (
	ErrEmptyToken = errors.New("csrf endpoint returned an empty token")
	ErrNoFetcher  = errors.New("csrf coordinator has no fetcher")
)

// Fetcher performs the CSRF bootstrap request.
type Fetcher interface {
	FetchCSRFToken(ctx context.Context) (string, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context) (string, error)

func (f FetcherFunc) FetchCSRFToken(ctx context.Context) (string, error) {
	return f(ctx)
}

// Status is the CSRF subsystem state, independent of login state.
type Status struct {
	Initialized bool
	Err         error
}

// Coordinator is constructed once per process and shared by the HTTP
// transport and the session controller.
type Coordinator struct {
	store  tokenstore.Store
	flight *inflight.Group
	log    logging.Logger

	mu          sync.Mutex
	fetcher     Fetcher
	cached      string
	initialized bool
	lastErr     error
	fetches     int
}

func NewCoordinator(store tokenstore.Store, flight *inflight.Group, log logging.Logger) *Coordinator {
	if flight == nil {
		flight = &inflight.Group{}
	}
	return &Coordinator{
		store:  store,
		flight: flight,
		log:    log.With("component", "csrf"),
	}
}

// SetFetcher binds the network side. The transport calls it on
// construction since it is both the fetcher and a consumer of tokens.
func (c *Coordinator) SetFetcher(f Fetcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetcher = f
}

// Token returns the cached token, falling back to the store, or "".
func (c *Coordinator) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached != "" {
		return c.cached
	}
	if tok := c.store.Get(tokenstore.KeyCSRFToken); tok != "" {
		c.cached = tok
		c.initialized = true
	}
	return c.cached
}

// EnsureToken returns a usable token. Without force a cached token is
// returned without network traffic. Otherwise the caller joins the
// acquisition in flight, or starts one.
func (c *Coordinator) EnsureToken(ctx context.Context, force bool) (string, error) {
	if !force {
		if tok := c.Token(); tok != "" {
			return tok, nil
		}
	}
	return c.acquire(ctx)
}

// Renew replaces a token the server rejected. If another caller already
// replaced stale, the newer token is returned without a fetch; this keeps
// a burst of rejections down to a single round trip even when the callers
// arrive after the first renewal has finished.
func (c *Coordinator) Renew(ctx context.Context, stale string) (string, error) {
	if tok := c.Token(); tok != "" && tok != stale {
		return tok, nil
	}
	return c.acquire(ctx)
}

func (c *Coordinator) acquire(ctx context.Context) (string, error) {
	tok, shared, err := c.flight.Do(ctx, flightKey, c.fetch)
	if err != nil {
		return "", err
	}
	if shared {
		c.log.Debug(ctx, "joined csrf acquisition in flight")
	}
	return tok, nil
}

func (c *Coordinator) fetch(ctx context.Context) (string, error) {
	c.mu.Lock()
	f := c.fetcher
	c.fetches++
	c.mu.Unlock()

	if f == nil {
		c.fail(ctx, ErrNoFetcher)
		return "", ErrNoFetcher
	}

	tok, err := f.FetchCSRFToken(ctx)
	if err == nil && tok == "" {
		err = ErrEmptyToken
	}
	if err != nil {
		err = fmt.Errorf("acquire csrf token: %w", err)
		c.fail(ctx, err)
		return "", err
	}

	c.mu.Lock()
	c.cached = tok
	c.initialized = true
	c.lastErr = nil
	c.mu.Unlock()
	c.store.Set(tokenstore.KeyCSRFToken, tok)

	c.log.Debug(ctx, "csrf token acquired")
	return tok, nil
}

func (c *Coordinator) fail(ctx context.Context, err error) {
	c.mu.Lock()
	c.cached = ""
	c.lastErr = err
	c.mu.Unlock()
	c.store.Clear(tokenstore.KeyCSRFToken)

	c.log.Warn(ctx, "csrf acquisition failed", "err", err)
}

// Status reports whether a token was ever acquired and the last failure.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{Initialized: c.initialized, Err: c.lastErr}
}

// Fetches counts network acquisitions started since construction.
func (c *Coordinator) Fetches() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetches
}

// Reset forgets the token, in memory and in the store.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.cached = ""
	c.initialized = false
	c.lastErr = nil
	c.mu.Unlock()
	c.store.Clear(tokenstore.KeyCSRFToken)
	c.flight.Forget(flightKey)
}
