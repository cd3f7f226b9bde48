package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophdine/internal/client/client"
	"github.com/dmitrijs2005/gophdine/internal/client/config"
	"github.com/dmitrijs2005/gophdine/internal/client/models"
	"github.com/dmitrijs2005/gophdine/internal/client/session"
	"github.com/dmitrijs2005/gophdine/internal/logging"
	"github.com/dmitrijs2005/gophdine/internal/mockapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a bytes.Buffer safe for a background writer.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

func startAPI(t *testing.T) (*mockapi.Server, string) {
	t.Helper()
	api := mockapi.New(mockapi.Config{SeedDemoUsers: true, RotateRefreshTokens: true, LoginOnVerify: true}, logging.Nop())
	ts := httptest.NewServer(api.Handler())
	t.Cleanup(ts.Close)
	return api, ts.URL + "/api"
}

func testConfig(baseURL string, portal models.Portal) *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.APIBaseURL = baseURL
	cfg.Portal = string(portal)
	cfg.StorePath = ""
	cfg.NetworkRetries = 0
	return cfg
}

func openTestApp(t *testing.T, cfg *config.Config, input string) (*App, *syncBuffer) {
	t.Helper()
	out := &syncBuffer{}
	a, err := NewApp(context.Background(), cfg, strings.NewReader(input), out, logging.Nop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a, out
}

func newTestApp(t *testing.T, portal models.Portal, input string) (*App, *syncBuffer, *mockapi.Server) {
	t.Helper()
	piped(t)
	api, base := startAPI(t)
	a, out := openTestApp(t, testConfig(base, portal), input)
	return a, out, api
}

func TestApp_LoginWhoamiLogout(t *testing.T) {
	ctx := context.Background()
	a, out, _ := newTestApp(t, models.PortalCustomer, "alice-pass\n")

	require.False(t, a.isLoggedIn())
	require.NoError(t, a.Login(ctx, "alice"))
	assert.True(t, a.isLoggedIn())
	assert.Contains(t, out.String(), "Logged in as alice (customer).")
	assert.Equal(t, "(alice customer)", a.getStatus())

	require.NoError(t, a.Whoami(ctx))
	assert.Contains(t, out.String(), "alice <alice@example.com>")
	assert.Contains(t, out.String(), "verification: verified")

	require.NoError(t, a.Logout(ctx))
	assert.False(t, a.isLoggedIn())
	assert.ErrorIs(t, a.Whoami(ctx), client.ErrNotAuthenticated)
}

func TestApp_LoginPromptsForIdentifier(t *testing.T) {
	a, out, _ := newTestApp(t, models.PortalCustomer, "alice@example.com\nalice-pass\n")

	require.NoError(t, a.Login(context.Background(), ""))
	assert.Contains(t, out.String(), "Enter username or email")
	assert.True(t, a.isLoggedIn())
}

func TestApp_LoginWithSecondFactor(t *testing.T) {
	a, out, _ := newTestApp(t, models.PortalOwner, "olga-pass\n123456\n")

	require.NoError(t, a.Login(context.Background(), "olga"))
	assert.Contains(t, out.String(), "Enter 2FA code: ")
	assert.Contains(t, out.String(), "Logged in as olga (owner).")
	assert.True(t, a.isLoggedIn())
}

func TestApp_TwoFactorWithoutPendingLogin(t *testing.T) {
	a, _, _ := newTestApp(t, models.PortalOwner, "")
	assert.ErrorIs(t, a.TwoFactor(context.Background(), "123456"), session.ErrTwoFactorNotPending)
}

func TestApp_WrongPassword(t *testing.T) {
	a, _, _ := newTestApp(t, models.PortalCustomer, "nope\n")

	err := a.Login(context.Background(), "alice")
	assert.ErrorIs(t, err, client.ErrInvalidCredentials)
	assert.False(t, a.isLoggedIn())
}

func TestApp_UnverifiedLoginThenVerify(t *testing.T) {
	ctx := context.Background()
	a, out, api := newTestApp(t, models.PortalCustomer, "newbie-pass\n")

	err := a.Login(ctx, "newbie")
	require.ErrorIs(t, err, client.ErrVerificationRequired)
	assert.Contains(t, out.String(), "not verified yet")
	assert.Equal(t, "newbie@example.com", a.session.Snapshot().PendingVerificationEmail)
	assert.Equal(t, "(verify newbie@example.com)", a.getStatus())

	code := api.VerificationCode("newbie@example.com")
	require.NotEmpty(t, code)
	require.NoError(t, a.Verify(ctx, "", code))

	assert.True(t, a.isLoggedIn())
	assert.Contains(t, out.String(), "Logged in as newbie")
	assert.False(t, a.session.Snapshot().VerificationPending())
}

func TestApp_RegisterResendNewRegistration(t *testing.T) {
	ctx := context.Background()
	a, out, _ := newTestApp(t, models.PortalCustomer, "dana\ndana@example.com\nlong-password\nlong-password\n")

	require.NoError(t, a.Register(ctx, RegisterInput{FirstName: "Dana"}))
	assert.Contains(t, out.String(), "Account dana created.")
	assert.Contains(t, out.String(), "A verification code was sent to dana@example.com.")

	s := a.session.Snapshot()
	assert.Equal(t, "dana@example.com", s.PendingVerificationEmail)
	assert.Equal(t, models.UserTypeCustomer, s.PendingUserType)
	assert.False(t, s.Authenticated)

	assert.ErrorIs(t, a.Resend(ctx, ""), session.ErrResendCooldown)

	require.NoError(t, a.NewRegistration(ctx))
	assert.False(t, a.session.Snapshot().VerificationPending())
	assert.ErrorIs(t, a.Resend(ctx, ""), session.ErrNoPendingVerification)
}

func TestApp_RegisterValidation(t *testing.T) {
	a, out, _ := newTestApp(t, models.PortalCustomer, "")

	// every field given on the command line except the passwords
	a.reader.Reset(strings.NewReader("short\nother\n"))
	err := a.Register(context.Background(), RegisterInput{Username: "x", Email: "not-an-email"})

	require.ErrorIs(t, err, client.ErrValidation)
	text := out.String()
	assert.Contains(t, text, "  email: ")
	assert.Contains(t, text, "  password: ")
	assert.Less(t, strings.Index(text, "  email: "), strings.Index(text, "  password: "), "fields are sorted")
}

func TestApp_SocialLogin(t *testing.T) {
	ctx := context.Background()
	a, out, api := newTestApp(t, models.PortalCustomer, "")
	require.True(t, api.AddSocialToken("google", "google-id-token", "alice"))

	assert.Error(t, a.SocialLogin(ctx, "google", "", ""))
	assert.ErrorIs(t, a.SocialLogin(ctx, "github", "tok", ""), client.ErrUnsupportedProvider)

	require.NoError(t, a.SocialLogin(ctx, "Google", "access-token", "google-id-token"))
	assert.True(t, a.isLoggedIn())
	assert.Contains(t, out.String(), "Logged in as alice (customer).")
}

func TestApp_Route(t *testing.T) {
	ctx := context.Background()
	a, out, _ := newTestApp(t, models.PortalCustomer, "alice-pass\n")

	require.NoError(t, a.Route(ctx, "checkout"))
	require.NoError(t, a.Route(ctx, "menu"))
	require.NoError(t, a.Route(ctx, "/nowhere"))
	assert.Error(t, a.Route(ctx, ""))

	text := out.String()
	assert.Contains(t, text, "checkout: redirect to /login?next=%2Fcheckout [auth-required]")
	assert.Contains(t, text, "menu: allow [allow]")
	assert.Contains(t, text, "/nowhere (unguarded): allow [allow]")

	require.NoError(t, a.Login(ctx, "alice"))
	require.NoError(t, a.Route(ctx, "login"))
	assert.Contains(t, out.String(), "login: redirect to / [anonymous-only]")

	require.NoError(t, a.Routes(ctx))
	assert.Contains(t, out.String(), "checkout         /checkout")
}

func TestApp_Get(t *testing.T) {
	ctx := context.Background()
	a, out, _ := newTestApp(t, models.PortalCustomer, "alice-pass\n")

	require.NoError(t, a.Get(ctx, "restaurants/?page=1"))
	text := out.String()
	assert.Contains(t, text, "3 results")
	assert.Contains(t, text, `"name": "Trattoria Roma"`)
	assert.Contains(t, text, "next: http")

	assert.ErrorIs(t, a.Get(ctx, "/orders/"), client.ErrNotAuthenticated)

	require.NoError(t, a.Login(ctx, "alice"))
	require.NoError(t, a.Get(ctx, "/orders/"))
	assert.Contains(t, out.String(), `"status": "pending"`)

	assert.Error(t, a.Get(ctx, ""))
}

func TestApp_StatusAndStats(t *testing.T) {
	ctx := context.Background()
	a, out, _ := newTestApp(t, models.PortalCustomer, "alice-pass\n")
	require.NoError(t, a.Login(ctx, "alice"))

	require.NoError(t, a.Status(ctx))
	text := out.String()
	assert.Contains(t, text, "portal:          customer")
	assert.Contains(t, text, "authenticated:   true")
	assert.Contains(t, text, "csrf ready:      true")
	assert.NotContains(t, text, "stored keys:", "memory store has no listing")

	require.NoError(t, a.Stats(ctx))
	text = out.String()
	assert.Contains(t, text, "gophdine_client_requests_total{method=POST,status=2xx} 1")
	assert.Contains(t, text, "gophdine_client_csrf_fetches_total 1")
	assert.Contains(t, text, "csrf fetches (coordinator) 1")
}

func TestApp_HydrateFromSQLiteStore(t *testing.T) {
	ctx := context.Background()
	piped(t)
	_, base := startAPI(t)

	cfg := testConfig(base, models.PortalCustomer)
	cfg.StorePath = filepath.Join(t.TempDir(), "session.db")
	cfg.StorePassphrase = "correct horse"

	first, _ := openTestApp(t, cfg, "alice-pass\n")
	require.NoError(t, first.Login(ctx, "alice"))
	first.Close()

	second, out := openTestApp(t, cfg, "")
	require.NoError(t, second.Hydrate(ctx))
	assert.True(t, second.isLoggedIn())
	assert.Equal(t, "alice", second.session.Snapshot().User.Username)

	require.NoError(t, second.Status(ctx))
	assert.Contains(t, out.String(), "stored keys:     csrfToken, refreshToken, token")

	require.NoError(t, second.Logout(ctx))
	out.Reset()
	require.NoError(t, second.Status(ctx))
	assert.Contains(t, out.String(), "stored keys:     (none)")
}

func TestApp_HydrateWithoutSession(t *testing.T) {
	a, _, _ := newTestApp(t, models.PortalCustomer, "")
	require.NoError(t, a.Hydrate(context.Background()))
	assert.False(t, a.isLoggedIn())
}

func TestApp_WatchStoreFollowsOtherProcess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	piped(t)
	_, base := startAPI(t)

	cfg := testConfig(base, models.PortalCustomer)
	cfg.StorePath = filepath.Join(t.TempDir(), "session.db")

	first, _ := openTestApp(t, cfg, "alice-pass\n")
	require.NoError(t, first.Login(ctx, "alice"))

	second, out := openTestApp(t, cfg, "")
	require.NoError(t, second.Hydrate(ctx))
	require.True(t, second.isLoggedIn())

	done := make(chan error, 1)
	go func() { done <- second.WatchStore(ctx) }()

	// give the watcher time to register before writing
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, first.Logout(ctx))

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Signed out by another process.")
	}, 3*time.Second, 20*time.Millisecond)
	assert.Nil(t, second.session.Snapshot().User)

	cancel()
	require.NoError(t, <-done)
}

func TestApp_WatchStoreWithMemoryStore(t *testing.T) {
	a, _, _ := newTestApp(t, models.PortalCustomer, "")
	assert.NoError(t, a.WatchStore(context.Background()))
}

func TestNewApp_BadConfig(t *testing.T) {
	cfg := testConfig("not a url", models.PortalCustomer)
	_, err := NewApp(context.Background(), cfg, strings.NewReader(""), &bytes.Buffer{}, logging.Nop())
	assert.Error(t, err)
}
