package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophdine/internal/client/csrf"
	"github.com/dmitrijs2005/gophdine/internal/client/inflight"
	"github.com/dmitrijs2005/gophdine/internal/client/models"
	"github.com/dmitrijs2005/gophdine/internal/client/tokenstore"
	"github.com/dmitrijs2005/gophdine/internal/logging"
	"github.com/dmitrijs2005/gophdine/internal/mockapi"
	"github.com/stretchr/testify/require"
)

type harness struct {
	api       *mockapi.Server
	store     *tokenstore.MemoryStore
	coord     *csrf.Coordinator
	transport *Transport
	client    *HTTPClient
	expired   atomic.Int32
}

type harnessOption func(*Options)

func withNow(now func() time.Time) harnessOption {
	return func(o *Options) { o.Now = now }
}

func withRetries(n int) harnessOption {
	return func(o *Options) { o.NetworkRetries = n }
}

func withHTTPClient(c *http.Client) harnessOption {
	return func(o *Options) { o.HTTPClient = c }
}

func newHarness(t *testing.T, cfg mockapi.Config, opts ...harnessOption) *harness {
	t.Helper()
	api := mockapi.New(cfg, logging.Nop())
	ts := httptest.NewServer(api.Handler())
	t.Cleanup(ts.Close)

	h := newHarnessFor(t, ts.URL+"/api", models.PortalCustomer, opts...)
	h.api = api
	return h
}

func newHarnessFor(t *testing.T, baseURL string, portal models.Portal, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{store: tokenstore.NewMemoryStore()}

	flight := &inflight.Group{}
	h.coord = csrf.NewCoordinator(h.store, flight, logging.Nop())

	o := Options{
		BaseURL:        baseURL,
		Timeout:        5 * time.Second,
		NetworkRetries: 2,
		RetryBase:      time.Millisecond,
		RefreshSkew:    30 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	var err error
	h.transport, err = NewTransport(o, h.store, h.coord, flight, logging.Nop())
	require.NoError(t, err)
	h.transport.OnSessionExpired(func(context.Context) { h.expired.Add(1) })

	h.client, err = NewHTTPClient(h.transport, portal)
	require.NoError(t, err)
	return h
}

// signIn stores a fresh token pair for the account with id.
func (h *harness) signIn(t *testing.T, id int64) models.Tokens {
	t.Helper()
	tokens, err := h.api.IssueTokens(id)
	require.NoError(t, err)
	h.store.SetAll(map[string]string{
		tokenstore.KeyAccessToken:  tokens.Access,
		tokenstore.KeyRefreshToken: tokens.Refresh,
	})
	return tokens
}

func demoConfig() mockapi.Config {
	return mockapi.Config{SeedDemoUsers: true, RotateRefreshTokens: true, LoginOnVerify: true}
}
