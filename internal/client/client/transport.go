package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophdine/internal/client/csrf"
	"github.com/dmitrijs2005/gophdine/internal/client/inflight"
	"github.com/dmitrijs2005/gophdine/internal/client/tokenstore"
	"github.com/dmitrijs2005/gophdine/internal/common"
	"github.com/dmitrijs2005/gophdine/internal/logging"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Endpoints shared by both portals.
const (
	PathCSRF         = "auth/csrf/"
	PathTokenRefresh = "auth/token/refresh/"
	PathLogout       = "auth/logout/"
)

const (
	refreshFlightKey = "refresh"
	maxBodySize      = 4 << 20
	tracerName       = "github.com/dmitrijs2005/gophdine/internal/client/client"
)

// Request is one logical API call. The transport may put it on the wire
// more than once while recovering.
type Request struct {
	Method string
	// Path is relative to the API base URL ("auth/me/"). Absolute URLs are
	// accepted; credentials are only attached when they point at the API host.
	Path  string
	Query url.Values
	Body  any

	// Anonymous requests never carry the bearer token.
	Anonymous bool
	// Bearer is sent instead of the stored access token when set.
	Bearer string
	// NoAuthRecovery disables refresh-on-401, for endpoints where 401 means
	// wrong credentials rather than an expired token.
	NoAuthRecovery bool
	// CSRFBootstrap marks the CSRF fetch itself: no CSRF header is attached
	// and a 403 is never recovered.
	CSRFBootstrap bool
}

// Response is a completed round trip.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpected, err)
	}
	return nil
}

// Budget is the number of recovery attempts left for one request, per
// failure class.
type Budget struct {
	CSRF int
	Auth int
}

// DefaultBudget allows one recovery of each class.
func DefaultBudget() Budget {
	return Budget{CSRF: 1, Auth: 1}
}

type budgetKey struct{}

// WithBudget overrides the recovery budget for requests made with ctx.
func WithBudget(ctx context.Context, b Budget) context.Context {
	return context.WithValue(ctx, budgetKey{}, b)
}

func budgetFrom(ctx context.Context) *Budget {
	b, ok := ctx.Value(budgetKey{}).(Budget)
	if !ok {
		b = DefaultBudget()
	}
	return &b
}

func (b *Budget) take(c RecoveryClass) bool {
	n := &b.Auth
	if c == RecoveryCSRF {
		n = &b.CSRF
	}
	if *n <= 0 {
		return false
	}
	*n--
	return true
}

// Options tune a Transport. Zero values get defaults.
type Options struct {
	BaseURL        string
	HTTPClient     *http.Client
	Timeout        time.Duration
	NetworkRetries int
	RetryBase      time.Duration
	// RefreshSkew refreshes a JWT access token this long before it expires.
	RefreshSkew time.Duration
	Metrics     *Metrics
	Tracer      trace.Tracer
	Now         func() time.Time
}

// Transport is the single choke point for outbound requests. It attaches
// the bearer and CSRF headers and recovers CSRF rejections and expired
// access tokens, each at most once per request.
type Transport struct {
	base    *url.URL
	http    *http.Client
	store   tokenstore.Store
	csrf    *csrf.Coordinator
	flight  *inflight.Group
	log     logging.Logger
	metrics *Metrics
	tracer  trace.Tracer
	now     func() time.Time

	retries   int
	retryBase time.Duration
	skew      time.Duration

	mu        sync.RWMutex
	onExpired func(ctx context.Context)
}

// NewTransport builds the transport and binds it to coord as its fetcher.
func NewTransport(opts Options, store tokenstore.Store, coord *csrf.Coordinator, flight *inflight.Group, log logging.Logger) (*Transport, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("api base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("api base url %q: scheme and host required", opts.BaseURL)
	}

	t := &Transport{
		base:      base,
		http:      opts.HTTPClient,
		store:     store,
		csrf:      coord,
		flight:    flight,
		log:       log.With("component", "transport"),
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
		now:       opts.Now,
		retries:   opts.NetworkRetries,
		retryBase: opts.RetryBase,
		skew:      opts.RefreshSkew,
	}
	if t.http == nil {
		t.http = &http.Client{Timeout: opts.Timeout}
	}
	if t.flight == nil {
		t.flight = &inflight.Group{}
	}
	if t.metrics == nil {
		t.metrics = NewMetrics(nil)
	}
	if t.tracer == nil {
		t.tracer = otel.Tracer(tracerName)
	}
	if t.now == nil {
		t.now = time.Now
	}
	if t.retryBase <= 0 {
		t.retryBase = 100 * time.Millisecond
	}
	if t.retries < 0 {
		t.retries = 0
	}

	coord.SetFetcher(t)
	return t, nil
}

// OnSessionExpired registers fn to run after an unrecoverable refresh
// failure has cleared the stored tokens.
func (t *Transport) OnSessionExpired(fn func(ctx context.Context)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onExpired = fn
}

// Metrics exposes the transport's collectors.
func (t *Transport) Metrics() *Metrics {
	return t.metrics
}

// Do sends req and recovers the failures it knows how to. A non-2xx final
// response is returned together with an *APIError (or a wrapping error).
func (t *Transport) Do(ctx context.Context, req *Request) (*Response, error) {
	ctx, span := t.tracer.Start(ctx, "api "+req.Method+" "+req.Path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("api.path", req.Path),
		),
	)
	defer span.End()

	resp, err := t.do(ctx, req)
	if resp != nil {
		span.SetAttributes(attribute.Int("http.status_code", resp.Status))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return resp, err
}

type credentials struct {
	bearer string
	csrf   string
}

func (t *Transport) do(ctx context.Context, req *Request) (*Response, error) {
	payload, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}
	budget := budgetFrom(ctx)

	if !req.Anonymous && !req.NoAuthRecovery && t.accessExpired() && budget.take(RecoveryAuth) {
		trace.SpanFromContext(ctx).AddEvent("proactive refresh")
		if _, err := t.refresh(ctx, t.store.Get(tokenstore.KeyAccessToken)); err != nil {
			return nil, err
		}
	}

	for {
		resp, sent, err := t.send(ctx, req, payload)
		if err != nil {
			return nil, err
		}
		if resp.Status < http.StatusBadRequest {
			return resp, nil
		}
		apiErr := parseAPIError(resp.Status, resp.Body)

		switch {
		case t.isCSRFRejection(req, apiErr):
			if !budget.take(RecoveryCSRF) {
				err := &RetryExhaustedError{Class: RecoveryCSRF, Err: fmt.Errorf("%w: %w", ErrCSRF, apiErr)}
				t.failClosed(ctx, err)
				return resp, err
			}
			t.recovering(ctx, RecoveryCSRF, req)
			if _, err := t.csrf.Renew(ctx, sent.csrf); err != nil {
				err = fmt.Errorf("%w: %w", ErrCSRF, err)
				t.failClosed(ctx, err)
				return resp, err
			}
			continue

		case apiErr.Status == http.StatusUnauthorized && sent.bearer != "" && !req.NoAuthRecovery:
			current := t.store.Get(tokenstore.KeyAccessToken)
			if current == "" {
				// logged out while this request was on the wire
				return resp, fmt.Errorf("%w: %w", ErrNotAuthenticated, apiErr)
			}
			if !budget.take(RecoveryAuth) {
				err := &RetryExhaustedError{Class: RecoveryAuth, Err: apiErr}
				t.failClosed(ctx, err)
				return resp, err
			}
			t.recovering(ctx, RecoveryAuth, req)
			if current == sent.bearer {
				if _, err := t.refresh(ctx, sent.bearer); err != nil {
					return resp, err
				}
			}
			continue
		}

		return resp, apiErr
	}
}

func (t *Transport) recovering(ctx context.Context, class RecoveryClass, req *Request) {
	t.metrics.Recoveries.WithLabelValues(string(class)).Inc()
	trace.SpanFromContext(ctx).AddEvent("recover", trace.WithAttributes(attribute.String("class", string(class))))
	t.log.Debug(ctx, "recovering request", "class", class, "method", req.Method, "path", req.Path)
}

func (t *Transport) isCSRFRejection(req *Request, apiErr *APIError) bool {
	if apiErr.Status != http.StatusForbidden || req.CSRFBootstrap || !isStateChanging(req.Method) {
		return false
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "csrf")
}

// send puts req on the wire. Idempotent requests are retried with
// exponential backoff on transport failures; others are sent once.
func (t *Transport) send(ctx context.Context, req *Request, payload []byte) (*Response, credentials, error) {
	target, firstParty, err := t.resolve(req)
	if err != nil {
		return nil, credentials{}, err
	}

	var (
		resp *Response
		sent credentials
	)

	attempt := func(ctx context.Context) error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		hreq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		hreq.Header.Set("Accept", "application/json")
		if payload != nil {
			hreq.Header.Set("Content-Type", "application/json")
		}
		hreq.Header.Set(common.RequestIDHeaderName, uuid.NewString())

		sent = credentials{}
		if firstParty && !req.Anonymous {
			tok := req.Bearer
			if tok == "" {
				tok = t.store.Get(tokenstore.KeyAccessToken)
			}
			if tok != "" {
				hreq.Header.Set(common.AuthorizationHeaderName, common.BearerPrefix+tok)
				sent.bearer = tok
			}
		}
		switch {
		case req.CSRFBootstrap:
			hreq.Header.Set(common.CSRFBootstrapHeaderName, "1")
		case firstParty && isStateChanging(req.Method):
			tok, err := t.csrf.EnsureToken(ctx, false)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrCSRF, err)
			}
			hreq.Header.Set(common.CSRFHeaderName, tok)
			sent.csrf = tok
		}

		hresp, err := t.http.Do(hreq)
		if err != nil {
			t.metrics.Requests.WithLabelValues(req.Method, statusClass(0)).Inc()
			return t.transportFailure(ctx, req, err)
		}
		defer hresp.Body.Close()

		b, err := io.ReadAll(io.LimitReader(hresp.Body, maxBodySize))
		if err != nil {
			t.metrics.Requests.WithLabelValues(req.Method, statusClass(0)).Inc()
			return t.transportFailure(ctx, req, err)
		}
		t.metrics.Requests.WithLabelValues(req.Method, statusClass(hresp.StatusCode)).Inc()

		resp = &Response{Status: hresp.StatusCode, Header: hresp.Header, Body: b}
		return nil
	}

	retries := uint64(0)
	if isIdempotent(req.Method) {
		retries = uint64(t.retries)
	}
	backoff := retry.WithMaxRetries(retries, retry.NewExponential(t.retryBase))

	if err := retry.Do(ctx, backoff, attempt); err != nil {
		return nil, sent, err
	}
	return resp, sent, nil
}

func (t *Transport) transportFailure(ctx context.Context, req *Request, err error) error {
	err = fmt.Errorf("%w: %w", ErrUnavailable, err)
	if ctx.Err() != nil || !isIdempotent(req.Method) {
		return err
	}
	t.log.Debug(ctx, "transient request failure", "method", req.Method, "path", req.Path, "err", err)
	return retry.RetryableError(err)
}

func (t *Transport) resolve(req *Request) (string, bool, error) {
	var u *url.URL
	if strings.HasPrefix(req.Path, "http://") || strings.HasPrefix(req.Path, "https://") {
		parsed, err := url.Parse(req.Path)
		if err != nil {
			return "", false, fmt.Errorf("request url: %w", err)
		}
		u = parsed
	} else {
		u = t.base.JoinPath(req.Path)
	}
	if len(req.Query) > 0 {
		q := u.Query()
		for k, vs := range req.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	firstParty := u.Scheme == t.base.Scheme && u.Host == t.base.Host
	return u.String(), firstParty, nil
}

// FetchCSRFToken performs the bootstrap request; the coordinator calls it.
func (t *Transport) FetchCSRFToken(ctx context.Context) (string, error) {
	t.metrics.CSRFFetches.Inc()

	resp, err := t.Do(ctx, &Request{
		Method:         http.MethodGet,
		Path:           PathCSRF,
		Anonymous:      true,
		NoAuthRecovery: true,
		CSRFBootstrap:  true,
	})
	if err != nil {
		return "", err
	}

	var out struct {
		CSRFToken string `json:"csrfToken"`
		Alt       string `json:"csrf_token"`
	}
	if err := resp.Decode(&out); err != nil {
		return "", err
	}
	switch {
	case out.CSRFToken != "":
		return out.CSRFToken, nil
	case out.Alt != "":
		return out.Alt, nil
	default:
		return resp.Header.Get(common.CSRFHeaderName), nil
	}
}

// refresh exchanges the refresh token for a new access token. Concurrent
// callers share one exchange.
func (t *Transport) refresh(ctx context.Context, stale string) (string, error) {
	tok, shared, err := t.flight.Do(ctx, refreshFlightKey, func(ctx context.Context) (string, error) {
		return t.exchange(ctx, stale)
	})
	if shared {
		t.log.Debug(ctx, "joined token refresh in flight")
	}
	return tok, err
}

func (t *Transport) exchange(ctx context.Context, stale string) (string, error) {
	current := t.store.Get(tokenstore.KeyAccessToken)
	if current == "" {
		return "", ErrNotAuthenticated
	}
	if current != stale {
		return current, nil
	}

	refreshToken := t.store.Get(tokenstore.KeyRefreshToken)
	if refreshToken == "" {
		err := fmt.Errorf("%w: no refresh token", ErrSessionExpired)
		t.expire(ctx, err)
		return "", err
	}

	resp, err := t.Do(WithBudget(ctx, DefaultBudget()), &Request{
		Method:         http.MethodPost,
		Path:           PathTokenRefresh,
		Body:           map[string]string{"refresh": refreshToken},
		Anonymous:      true,
		NoAuthRecovery: true,
	})
	var out struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh"`
	}
	if err == nil {
		err = resp.Decode(&out)
	}
	if err == nil && out.Access == "" {
		err = fmt.Errorf("%w: refresh response without access token", ErrUnexpected)
	}
	if err != nil {
		t.metrics.Refreshes.WithLabelValues("failed").Inc()
		err = fmt.Errorf("%w: %w", ErrSessionExpired, err)
		t.expire(ctx, err)
		return "", err
	}

	if t.store.Get(tokenstore.KeyAccessToken) != stale {
		// logout or another writer replaced the session meanwhile
		t.metrics.Refreshes.WithLabelValues("discarded").Inc()
		return "", ErrNotAuthenticated
	}

	values := map[string]string{tokenstore.KeyAccessToken: out.Access}
	if out.Refresh != "" {
		values[tokenstore.KeyRefreshToken] = out.Refresh
	}
	t.store.SetAll(values)
	t.metrics.Refreshes.WithLabelValues("ok").Inc()
	t.log.Info(ctx, "access token refreshed", "rotated", out.Refresh != "")
	return out.Access, nil
}

// expire fails the session closed.
func (t *Transport) expire(ctx context.Context, cause error) {
	t.store.ClearKeys(tokenstore.TokenKeys...)
	t.csrf.Reset()
	t.log.Warn(ctx, "session expired, credentials cleared", "err", cause)

	t.mu.RLock()
	fn := t.onExpired
	t.mu.RUnlock()
	if fn != nil {
		fn(ctx)
	}
}

// failClosed ends the session after a recovery that cannot succeed. With
// no credentials stored there is no session to end.
func (t *Transport) failClosed(ctx context.Context, cause error) {
	if t.store.Get(tokenstore.KeyAccessToken) == "" && t.store.Get(tokenstore.KeyRefreshToken) == "" {
		return
	}
	t.expire(ctx, cause)
}

// accessExpired reports whether the stored access token is a JWT past its
// expiry (minus skew) while a refresh token is available.
func (t *Transport) accessExpired() bool {
	tok := t.store.Get(tokenstore.KeyAccessToken)
	if tok == "" || t.store.Get(tokenstore.KeyRefreshToken) == "" {
		return false
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &claims); err != nil || claims.ExpiresAt == nil {
		return false
	}
	return !t.now().Add(t.skew).Before(claims.ExpiresAt.Time)
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return payload, nil
}

func isStateChanging(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func isIdempotent(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}
