// Package mockapi is an in-process fake of the restaurant REST API. It
// implements the authentication endpoints of both portals with CSRF
// enforcement, short-lived JWT access tokens, single-use refresh tokens,
// 2FA and e-mail verification codes, plus a few read endpoints for the
// normalization paths. Tests drive it through its knobs and counters.
package mockapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/gophdine/internal/client/models"
	"github.com/dmitrijs2005/gophdine/internal/common"
	"github.com/dmitrijs2005/gophdine/internal/logging"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// Stats are the server's call counters.
type Stats struct {
	CSRFFetches     int64
	CSRFRejections  int64
	Logins          int64
	Refreshes       int64
	RefreshFailures int64
	Logouts         int64
	Profiles        int64
	PasswordResets  int64
}

type refreshGrant struct {
	userID  int64
	expires time.Time
}

type Server struct {
	cfg    Config
	log    logging.Logger
	secret []byte
	now    func() time.Time
	router *mux.Router

	accounts *accounts

	mu         sync.Mutex
	csrfToken  string
	refresh    map[string]refreshGrant
	social     map[string]int64
	delays     map[string]time.Duration
	generation int64

	csrfFetches     atomic.Int64
	csrfRejections  atomic.Int64
	logins          atomic.Int64
	refreshes       atomic.Int64
	refreshFailures atomic.Int64
	logouts         atomic.Int64
	profiles        atomic.Int64
	passwordResets  atomic.Int64
}

// New builds a server. Zero-valued Config fields fall back to defaults.
func New(cfg Config, log logging.Logger) *Server {
	defaults := Config{}
	defaults.LoadDefaults()
	if cfg.Prefix == "" {
		cfg.Prefix = defaults.Prefix
	}
	if cfg.SecretKey == "" {
		cfg.SecretKey = defaults.SecretKey
	}
	if cfg.AccessTokenValidityDuration == 0 {
		cfg.AccessTokenValidityDuration = defaults.AccessTokenValidityDuration
	}
	if cfg.RefreshTokenValidityDuration == 0 {
		cfg.RefreshTokenValidityDuration = defaults.RefreshTokenValidityDuration
	}

	s := &Server{
		cfg:      cfg,
		log:      log.With("module", "mockapi"),
		secret:   []byte(cfg.SecretKey),
		now:      time.Now,
		accounts: newAccounts(),
		refresh:  map[string]refreshGrant{},
		social:   map[string]int64{},
		delays:   map[string]time.Duration{},
	}
	if cfg.SeedDemoUsers {
		for _, a := range DemoAccounts() {
			_, _ = s.accounts.add(a)
		}
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	root := mux.NewRouter()
	r := root.PathPrefix(s.cfg.Prefix).Subrouter()
	r.Use(s.delayMiddleware, s.csrfMiddleware)

	r.HandleFunc("/auth/csrf/", s.handleCSRF).Methods(http.MethodGet)
	r.HandleFunc("/auth/token/refresh/", s.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout/", s.authenticated(s.handleLogout)).Methods(http.MethodPost)
	r.HandleFunc("/auth/google/login/", s.handleSocial("google")).Methods(http.MethodPost)
	r.HandleFunc("/auth/facebook/login/", s.handleSocial("facebook")).Methods(http.MethodPost)
	r.HandleFunc("/auth/password/reset/", s.handlePasswordReset).Methods(http.MethodPost)
	r.HandleFunc("/auth/password/reset/confirm/", s.handlePasswordResetConfirm).Methods(http.MethodPost)
	r.HandleFunc("/auth/password/change/", s.authenticated(s.handlePasswordChange)).Methods(http.MethodPut)

	r.HandleFunc("/auth/login/", s.handleLogin(false)).Methods(http.MethodPost)
	r.HandleFunc("/auth/signup/", s.handleSignup(models.UserTypeCustomer)).Methods(http.MethodPost)
	r.HandleFunc("/auth/verify-code/", s.handleVerifyCode).Methods(http.MethodPost)
	r.HandleFunc("/auth/verify-email/", s.handleResend).Methods(http.MethodPost)
	r.HandleFunc("/auth/me/", s.authenticated(s.handleMe(false))).Methods(http.MethodGet)

	r.HandleFunc("/owner/auth/login/", s.handleLogin(true)).Methods(http.MethodPost)
	r.HandleFunc("/owner/auth/register/", s.handleSignup(models.UserTypeOwner)).Methods(http.MethodPost)
	r.HandleFunc("/owner/auth/verify-code/", s.handleVerifyCode).Methods(http.MethodPost)
	r.HandleFunc("/owner/auth/verify-email/", s.handleResend).Methods(http.MethodPost)
	r.HandleFunc("/owner/auth/me/", s.authenticated(s.handleMe(true))).Methods(http.MethodGet)

	r.HandleFunc("/restaurants/", s.handleRestaurants).Methods(http.MethodGet)
	r.HandleFunc("/menu-items/", s.handleMenuItems).Methods(http.MethodGet)
	r.HandleFunc("/orders/", s.authenticated(s.handleOrders)).Methods(http.MethodGet)
	r.HandleFunc("/orders/", s.authenticated(s.handleCreateOrder)).Methods(http.MethodPost)

	return root
}

// Handler serves the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetClock replaces the server clock.
func (s *Server) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Server) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now()
}

// AddAccount registers a and returns its ID.
func (s *Server) AddAccount(a Account) (int64, error) {
	c, err := s.accounts.add(a)
	if err != nil {
		return 0, err
	}
	return c.ID, nil
}

// VerificationCode returns the outstanding code for email, as if read from
// the mailbox.
func (s *Server) VerificationCode(email string) string {
	a := s.accounts.find(email)
	if a == nil {
		return ""
	}
	return a.code
}

// AddSocialToken makes token a valid provider credential for username.
func (s *Server) AddSocialToken(provider, token, username string) bool {
	a := s.accounts.find(username)
	if a == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.social[provider+":"+token] = a.ID
	return true
}

// RotateCSRF invalidates the current CSRF token.
func (s *Server) RotateCSRF() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.csrfToken = mustHex(32)
}

// CSRFToken is the currently accepted CSRF token ("" before the first fetch).
func (s *Server) CSRFToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.csrfToken
}

// RevokeAccessTokens invalidates every access token issued so far.
func (s *Server) RevokeAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
}

// RevokeRefreshTokens invalidates every refresh token issued so far.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh = map[string]refreshGrant{}
}

// SetDelay makes requests to path (relative to the prefix, "/auth/me/")
// wait d before being handled.
func (s *Server) SetDelay(path string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[path] = d
}

// IssueTokens mints a token pair for the account, as a login would.
func (s *Server) IssueTokens(userID int64) (models.Tokens, error) {
	a := s.accounts.get(userID)
	if a == nil {
		return models.Tokens{}, common.ErrorNotFound
	}
	return s.issue(a)
}

func (s *Server) Stats() Stats {
	return Stats{
		CSRFFetches:     s.csrfFetches.Load(),
		CSRFRejections:  s.csrfRejections.Load(),
		Logins:          s.logins.Load(),
		Refreshes:       s.refreshes.Load(),
		RefreshFailures: s.refreshFailures.Load(),
		Logouts:         s.logouts.Load(),
		Profiles:        s.profiles.Load(),
		PasswordResets:  s.passwordResets.Load(),
	}
}

func (s *Server) issue(a *Account) (models.Tokens, error) {
	s.mu.Lock()
	now := s.now()
	gen := s.generation
	s.mu.Unlock()

	access, err := GenerateToken(a.ID, string(a.UserType), gen, s.secret, now, s.cfg.AccessTokenValidityDuration)
	if err != nil {
		return models.Tokens{}, err
	}
	refresh := uuid.NewString()

	s.mu.Lock()
	s.refresh[refresh] = refreshGrant{userID: a.ID, expires: now.Add(s.cfg.RefreshTokenValidityDuration)}
	s.mu.Unlock()

	return models.Tokens{Access: access, Refresh: refresh}, nil
}

// middleware

func (s *Server) delayMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, s.cfg.Prefix)
		s.mu.Lock()
		d := s.delays[path]
		s.mu.Unlock()

		if d > 0 {
			select {
			case <-time.After(d):
			case <-r.Context().Done():
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) csrfMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		got := r.Header.Get(common.CSRFHeaderName)
		want := s.CSRFToken()
		if got == "" || want == "" || got != want {
			s.csrfRejections.Add(1)
			reason := "CSRF token incorrect."
			if got == "" {
				reason = "CSRF token missing."
			}
			writeJSON(w, http.StatusForbidden, map[string]any{"detail": "CSRF Failed: " + reason})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type accountKey struct{}

func (s *Server) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(common.AuthorizationHeaderName)
		if !strings.HasPrefix(header, common.BearerPrefix) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Authentication credentials were not provided."})
			return
		}

		claims, err := ParseToken(strings.TrimPrefix(header, common.BearerPrefix), s.secret, s.clock())
		s.mu.Lock()
		gen := s.generation
		s.mu.Unlock()
		if err != nil || claims.Generation < gen {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"detail": "Given token not valid for any token type",
				"code":   "token_not_valid",
			})
			return
		}

		a := s.accounts.get(claims.UserID)
		if a == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "User not found", "code": "user_not_found"})
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), accountKey{}, a)))
	}
}

func accountFrom(r *http.Request) *Account {
	a, _ := r.Context().Value(accountKey{}).(*Account)
	return a
}

// handlers

func (s *Server) handleCSRF(w http.ResponseWriter, r *http.Request) {
	s.csrfFetches.Add(1)

	s.mu.Lock()
	if s.csrfToken == "" {
		s.csrfToken = mustHex(32)
	}
	tok := s.csrfToken
	s.mu.Unlock()

	w.Header().Set(common.CSRFHeaderName, tok)
	writeJSON(w, http.StatusOK, map[string]any{"csrfToken": tok, "message": "CSRF cookie set"})
}

func (s *Server) handleLogin(ownerPortal bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.logins.Add(1)

		var in struct {
			Username string `json:"username"`
			Email    string `json:"email"`
			Password string `json:"password"`
			TOTP     string `json:"totp_token"`
		}
		if !decode(w, r, &in) {
			return
		}
		identifier := in.Username
		if identifier == "" {
			identifier = in.Email
		}
		fields := map[string][]string{}
		if identifier == "" {
			fields["username"] = []string{"This field is required."}
		}
		if in.Password == "" {
			fields["password"] = []string{"This field is required."}
		}
		if len(fields) > 0 {
			writeJSON(w, http.StatusBadRequest, fields)
			return
		}

		a := s.accounts.find(identifier)
		if a == nil || a.Password != in.Password {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Invalid credentials"})
			return
		}
		if !a.Active {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error":                 "Account not activated. Please verify your email.",
				"requires_verification": true,
				"email_verified":        false,
				"email":                 a.Email,
				"user_type":             string(a.UserType),
				"can_resend":            true,
			})
			return
		}
		if ownerPortal && a.UserType != models.UserTypeOwner {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Account not active or not an owner account"})
			return
		}
		if a.TOTP != "" {
			if in.TOTP == "" {
				writeJSON(w, http.StatusOK, map[string]any{"requires_2fa": true, "message": "2FA token required"})
				return
			}
			if in.TOTP != a.TOTP {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Invalid 2FA token"})
				return
			}
		}

		s.writeLogin(w, a, "Login successful")
	}
}

func (s *Server) writeLogin(w http.ResponseWriter, a *Account, msg string) {
	tokens, err := s.issue(a)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": msg,
		"user":    a.profile(),
		"tokens":  tokens,
	})
}

func (s *Server) handleSignup(userType models.UserType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in models.RegistrationProfile
		if !decode(w, r, &in) {
			return
		}

		fields := s.accounts.taken(in.Username, in.Email)
		if in.Username == "" {
			fields["username"] = []string{"This field is required."}
		}
		if in.Email == "" || !strings.Contains(in.Email, "@") {
			fields["email"] = []string{"Enter a valid email address."}
		}
		if len(in.Password) < 8 {
			fields["password"] = []string{"This password is too short. It must contain at least 8 characters."}
		}
		if in.Password2 != "" && in.Password2 != in.Password {
			fields["password2"] = []string{"Password fields didn't match."}
		}
		if len(fields) > 0 {
			writeJSON(w, http.StatusBadRequest, fields)
			return
		}

		a, err := s.accounts.add(Account{
			Username:  in.Username,
			Email:     in.Email,
			Password:  in.Password,
			FirstName: in.FirstName,
			LastName:  in.LastName,
			UserType:  userType,
			code:      newVerificationCode(),
		})
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"non_field_errors": []string{err.Error()}})
			return
		}
		s.log.Info(r.Context(), "account created", "username", a.Username, "user_type", a.UserType)

		writeJSON(w, http.StatusCreated, map[string]any{
			"message":               "User created successfully. Please check your email for verification.",
			"user_id":               a.ID,
			"username":              a.Username,
			"email":                 a.Email,
			"requires_verification": true,
			"email_sent":            true,
		})
	}
}

func (s *Server) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if !decode(w, r, &in) {
		return
	}
	if in.Email == "" || in.Code == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Email and verification code are required"})
		return
	}

	a := s.accounts.find(in.Email)
	if a == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "User not found"})
		return
	}

	var ok bool
	s.accounts.update(a.ID, func(a *Account) {
		if a.code != "" && a.code == in.Code {
			a.Active = true
			a.code = ""
			ok = true
		}
	})
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid or expired verification code"})
		return
	}
	a = s.accounts.get(a.ID)

	out := map[string]any{
		"message":  "Email verified successfully",
		"user_id":  a.ID,
		"verified": true,
	}
	if s.cfg.LoginOnVerify {
		tokens, err := s.issue(a)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		out["user"] = a.profile()
		out["tokens"] = tokens
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleResend(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email string `json:"email"`
	}
	if !decode(w, r, &in) {
		return
	}
	if in.Email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Email is required"})
		return
	}

	a := s.accounts.find(in.Email)
	if a == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "User not found with this email address"})
		return
	}
	var active bool
	s.accounts.update(a.ID, func(a *Account) {
		active = a.Active
		if !active {
			a.code = newVerificationCode()
		}
	})
	if active {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Email is already verified"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"message": "New verification email sent", "email": a.Email, "resend": true})
}

func (s *Server) handleMe(ownerPortal bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.profiles.Add(1)
		a := accountFrom(r)
		if ownerPortal && a.UserType != models.UserTypeOwner {
			writeJSON(w, http.StatusForbidden, map[string]any{"error": "Access restricted to restaurant owners"})
			return
		}
		writeJSON(w, http.StatusOK, a.profile())
	}
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshes.Add(1)

	var in struct {
		Refresh string `json:"refresh"`
	}
	if !decode(w, r, &in) {
		return
	}
	if in.Refresh == "" {
		s.refreshFailures.Add(1)
		writeJSON(w, http.StatusBadRequest, map[string]any{"refresh": []string{"This field is required."}})
		return
	}

	s.mu.Lock()
	grant, ok := s.refresh[in.Refresh]
	now := s.now()
	if ok && s.cfg.RotateRefreshTokens {
		delete(s.refresh, in.Refresh)
	}
	s.mu.Unlock()

	var a *Account
	if ok && now.Before(grant.expires) {
		a = s.accounts.get(grant.userID)
	}
	if a == nil {
		s.refreshFailures.Add(1)
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Token is invalid or expired", "code": "token_not_valid"})
		return
	}

	tokens, err := s.issue(a)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	out := map[string]any{"access": tokens.Access}
	if s.cfg.RotateRefreshTokens {
		out["refresh"] = tokens.Refresh
	} else {
		s.mu.Lock()
		delete(s.refresh, tokens.Refresh)
		s.mu.Unlock()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.logouts.Add(1)

	var in struct {
		Refresh string `json:"refresh"`
	}
	if !decode(w, r, &in) {
		return
	}
	if in.Refresh != "" {
		s.mu.Lock()
		delete(s.refresh, in.Refresh)
		s.mu.Unlock()
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Successfully logged out"})
}

func (s *Server) handleSocial(provider string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Token       string `json:"token"`
			AccessToken string `json:"access_token"`
		}
		if !decode(w, r, &in) {
			return
		}
		tok := in.Token
		if tok == "" {
			tok = in.AccessToken
		}

		s.mu.Lock()
		id, ok := s.social[provider+":"+tok]
		s.mu.Unlock()
		a := s.accounts.get(id)
		if !ok || a == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Invalid " + provider + " token"})
			return
		}
		s.accounts.update(a.ID, func(a *Account) { a.Active = true })
		a = s.accounts.get(a.ID)
		s.writeLogin(w, a, "Login successful")
	}
}

var sampleRestaurants = []map[string]any{
	{"id": 1, "name": "Trattoria Roma", "cuisine": "italian"},
	{"id": 2, "name": "Sakura", "cuisine": "japanese"},
	{"id": 3, "name": "El Patio", "cuisine": "mexican"},
}

// handleRestaurants serves a DRF-style page: ?page=N, two per page.
func (s *Server) handleRestaurants(w http.ResponseWriter, r *http.Request) {
	const size = 2
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	start := (page - 1) * size
	if start > len(sampleRestaurants) {
		start = len(sampleRestaurants)
	}
	end := start + size
	if end > len(sampleRestaurants) {
		end = len(sampleRestaurants)
	}

	out := map[string]any{"count": len(sampleRestaurants), "results": sampleRestaurants[start:end], "next": nil, "previous": nil}
	base := "http://" + r.Host + r.URL.Path
	if end < len(sampleRestaurants) {
		out["next"] = base + "?page=" + strconv.Itoa(page+1)
	}
	if page > 1 {
		out["previous"] = base + "?page=" + strconv.Itoa(page-1)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMenuItems(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, []map[string]any{
		{"id": 10, "name": "Margherita", "price": "9.50"},
		{"id": 11, "name": "Ramen", "price": "12.00"},
	})
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	a := accountFrom(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"count":   1,
			"results": []map[string]any{{"id": 100, "customer": a.ID, "status": "pending"}},
		},
	})
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var in map[string]any
	if !decode(w, r, &in) {
		return
	}
	a := accountFrom(r)
	in["id"] = 101
	in["customer"] = a.ID
	in["status"] = "pending"
	writeJSON(w, http.StatusCreated, in)
}

// helpers

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		return true
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "JSON parse error - " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func mustHex(n int) string {
	s, err := common.MakeRandHexString(n)
	if err != nil {
		panic(err)
	}
	return s
}
