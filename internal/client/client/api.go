package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/dmitrijs2005/gophdine/internal/client/models"
	"golang.org/x/oauth2"
)

// Social providers with a token hand-off endpoint.
const (
	ProviderGoogle   = "google"
	ProviderFacebook = "facebook"
)

type endpoints struct {
	login    string
	register string
	verify   string
	resend   string
	me       string
}

var portalEndpoints = map[models.Portal]endpoints{
	models.PortalCustomer: {
		login:    "auth/login/",
		register: "auth/signup/",
		verify:   "auth/verify-code/",
		resend:   "auth/verify-email/",
		me:       "auth/me/",
	},
	models.PortalOwner: {
		login:    "owner/auth/login/",
		register: "owner/auth/register/",
		verify:   "owner/auth/verify-code/",
		resend:   "owner/auth/verify-email/",
		me:       "owner/auth/me/",
	},
}

// Password endpoints are shared by both portals.
const (
	PathPasswordReset        = "auth/password/reset/"
	PathPasswordResetConfirm = "auth/password/reset/confirm/"
	PathPasswordChange       = "auth/password/change/"
)

var socialEndpoints = map[string]string{
	ProviderGoogle:   "auth/google/login/",
	ProviderFacebook: "auth/facebook/login/",
}

// AuthResult is the outcome of a password, 2FA or social login.
type AuthResult struct {
	Requires2FA bool
	User        *models.User
	Tokens      models.Tokens
	Message     string
}

// RegisterResult is the sign-up acknowledgement.
type RegisterResult struct {
	Message              string
	UserID               int64
	Username             string
	Email                string
	RequiresVerification bool
	EmailSent            bool
}

// VerifyResult is the outcome of submitting an e-mail verification code.
// User and Tokens are set only when the server signs the user in on verify.
type VerifyResult struct {
	Message  string
	Verified bool
	User     *models.User
	Tokens   models.Tokens
}

// HTTPClient is the typed REST client over Transport.
type HTTPClient struct {
	transport *Transport
	portal    models.Portal
	ep        endpoints
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(t *Transport, portal models.Portal) (*HTTPClient, error) {
	ep, ok := portalEndpoints[portal]
	if !ok {
		return nil, fmt.Errorf("unknown portal %q", portal)
	}
	return &HTTPClient{transport: t, portal: portal, ep: ep}, nil
}

func (c *HTTPClient) Portal() models.Portal {
	return c.portal
}

func (c *HTTPClient) Transport() *Transport {
	return c.transport
}

type authResponse struct {
	Requires2FA bool           `json:"requires_2fa"`
	Message     string         `json:"message"`
	User        *models.User   `json:"user"`
	Tokens      *models.Tokens `json:"tokens"`
	Access      string         `json:"access"`
	Refresh     string         `json:"refresh"`
	Verified    *bool          `json:"verified"`
}

func (r *authResponse) tokens() models.Tokens {
	if r.Tokens != nil && r.Tokens.Access != "" {
		return *r.Tokens
	}
	return models.Tokens{Access: r.Access, Refresh: r.Refresh}
}

func (r *authResponse) result() (*AuthResult, error) {
	if r.Requires2FA {
		return &AuthResult{Requires2FA: true, Message: r.Message}, nil
	}
	res := &AuthResult{User: r.User, Tokens: r.tokens(), Message: r.Message}
	if !res.Tokens.Valid() {
		return nil, fmt.Errorf("%w: login response without access token", ErrUnexpected)
	}
	return res, nil
}

// Login submits credentials. totp is empty on the first step and carries
// the second factor when the server asked for one.
func (c *HTTPClient) Login(ctx context.Context, identifier, secret, totp string) (*AuthResult, error) {
	body := map[string]string{"username": identifier, "password": secret}
	if totp != "" {
		body["totp_token"] = totp
	}

	resp, err := c.transport.Do(ctx, &Request{
		Method:         http.MethodPost,
		Path:           c.ep.login,
		Body:           body,
		Anonymous:      true,
		NoAuthRecovery: true,
	})
	if err != nil {
		return nil, mapAuthError(err, identifier)
	}

	var out authResponse
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return out.result()
}

// SocialLogin hands a provider-issued token to the API. The ID token is
// preferred when the provider returned one.
func (c *HTTPClient) SocialLogin(ctx context.Context, provider string, token *oauth2.Token) (*AuthResult, error) {
	path, ok := socialEndpoints[strings.ToLower(provider)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, provider)
	}
	credential := socialCredential(token)
	if credential == "" {
		return nil, fmt.Errorf("%w: empty provider token", ErrInvalidCredentials)
	}

	resp, err := c.transport.Do(ctx, &Request{
		Method:         http.MethodPost,
		Path:           path,
		Body:           map[string]string{"token": credential},
		Anonymous:      true,
		NoAuthRecovery: true,
	})
	if err != nil {
		return nil, mapAuthError(err, "")
	}

	var out authResponse
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return out.result()
}

func socialCredential(token *oauth2.Token) string {
	if token == nil {
		return ""
	}
	if id, ok := token.Extra("id_token").(string); ok && id != "" {
		return id
	}
	return token.AccessToken
}

func (c *HTTPClient) Register(ctx context.Context, profile models.RegistrationProfile) (*RegisterResult, error) {
	if profile.UserType == "" {
		profile.UserType = c.portal.DefaultUserType()
	}
	if profile.Password2 == "" {
		profile.Password2 = profile.Password
	}

	resp, err := c.transport.Do(ctx, &Request{
		Method:         http.MethodPost,
		Path:           c.ep.register,
		Body:           profile,
		Anonymous:      true,
		NoAuthRecovery: true,
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusBadRequest {
			return nil, &ValidationError{Fields: apiErr.Fields, Err: apiErr}
		}
		return nil, err
	}

	var out struct {
		Message              string `json:"message"`
		UserID               int64  `json:"user_id"`
		Username             string `json:"username"`
		Email                string `json:"email"`
		RequiresVerification *bool  `json:"requires_verification"`
		EmailSent            bool   `json:"email_sent"`
	}
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	res := &RegisterResult{
		Message:              out.Message,
		UserID:               out.UserID,
		Username:             out.Username,
		Email:                out.Email,
		RequiresVerification: out.RequiresVerification == nil || *out.RequiresVerification,
		EmailSent:            out.EmailSent,
	}
	if res.Email == "" {
		res.Email = profile.Email
	}
	return res, nil
}

func (c *HTTPClient) VerifyEmailCode(ctx context.Context, email, code string) (*VerifyResult, error) {
	resp, err := c.transport.Do(ctx, &Request{
		Method:         http.MethodPost,
		Path:           c.ep.verify,
		Body:           map[string]string{"email": email, "code": code},
		Anonymous:      true,
		NoAuthRecovery: true,
	})
	if err != nil {
		return nil, err
	}

	var out authResponse
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return &VerifyResult{
		Message:  out.Message,
		Verified: out.Verified == nil || *out.Verified,
		User:     out.User,
		Tokens:   out.tokens(),
	}, nil
}

// ResendVerification asks for a new code and returns the server message.
func (c *HTTPClient) ResendVerification(ctx context.Context, email string) (string, error) {
	resp, err := c.transport.Do(ctx, &Request{
		Method:         http.MethodPost,
		Path:           c.ep.resend,
		Body:           map[string]string{"email": email},
		Anonymous:      true,
		NoAuthRecovery: true,
	})
	if err != nil {
		return "", err
	}
	var out struct {
		Message string `json:"message"`
	}
	if err := resp.Decode(&out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// Me fetches the profile of the bearer of the stored access token.
func (c *HTTPClient) Me(ctx context.Context) (*models.User, error) {
	resp, err := c.transport.Do(ctx, &Request{Method: http.MethodGet, Path: c.ep.me})
	if err != nil {
		return nil, err
	}
	var u models.User
	if err := resp.Decode(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Logout tells the server to revoke tokens. The tokens are passed in
// because the caller clears local state first.
func (c *HTTPClient) Logout(ctx context.Context, tokens models.Tokens) error {
	_, err := c.transport.Do(WithBudget(ctx, Budget{CSRF: 1}), &Request{
		Method:         http.MethodPost,
		Path:           PathLogout,
		Body:           map[string]string{"refresh": tokens.Refresh},
		Bearer:         tokens.Access,
		NoAuthRecovery: true,
	})
	return err
}

// RequestPasswordReset asks the server to e-mail a reset link.
func (c *HTTPClient) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	return c.sendForm(ctx, &Request{
		Method:         http.MethodPost,
		Path:           PathPasswordReset,
		Body:           map[string]string{"email": email},
		Anonymous:      true,
		NoAuthRecovery: true,
	})
}

// ConfirmPasswordReset sets a new password using the uid and token from a
// reset link.
func (c *HTTPClient) ConfirmPasswordReset(ctx context.Context, reset models.PasswordReset) (string, error) {
	return c.sendForm(ctx, &Request{
		Method:         http.MethodPost,
		Path:           PathPasswordResetConfirm,
		Body:           reset,
		Anonymous:      true,
		NoAuthRecovery: true,
	})
}

// ChangePassword changes the signed-in user's password.
func (c *HTTPClient) ChangePassword(ctx context.Context, change models.PasswordChange) (string, error) {
	return c.sendForm(ctx, &Request{
		Method: http.MethodPut,
		Path:   PathPasswordChange,
		Body:   change,
	})
}

// sendForm submits a form whose reply is a bare message. Field errors come
// back as *ValidationError.
func (c *HTTPClient) sendForm(ctx context.Context, req *Request) (string, error) {
	resp, err := c.transport.Do(ctx, req)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusBadRequest {
			return "", &ValidationError{Fields: apiErr.Fields, Err: apiErr}
		}
		return "", err
	}
	var out struct {
		Message string `json:"message"`
	}
	if err := resp.Decode(&out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// Fetch GETs path and normalizes the body.
func (c *HTTPClient) Fetch(ctx context.Context, path string, query url.Values) (Payload, error) {
	resp, err := c.transport.Do(ctx, &Request{Method: http.MethodGet, Path: path, Query: query})
	if err != nil {
		return Payload{}, err
	}
	return Normalize(resp.Body)
}

// mapAuthError turns a failed login response into the error taxonomy.
func mapAuthError(err error, identifier string) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	switch apiErr.Status {
	case http.StatusBadRequest:
		return &ValidationError{Fields: apiErr.Fields, Err: apiErr}
	case http.StatusUnauthorized, http.StatusForbidden:
		if v := verificationRequired(apiErr, identifier); v != nil {
			return v
		}
		return fmt.Errorf("%w: %w", ErrInvalidCredentials, apiErr)
	}
	return err
}

func verificationRequired(apiErr *APIError, identifier string) *VerificationRequiredError {
	var body struct {
		RequiresVerification bool   `json:"requires_verification"`
		Email                string `json:"email"`
		UserType             string `json:"user_type"`
		CanResend            *bool  `json:"can_resend"`
	}
	_ = json.Unmarshal(apiErr.Body, &body)

	msg := strings.ToLower(apiErr.Message)
	if !body.RequiresVerification && !strings.Contains(msg, "not activated") && !strings.Contains(msg, "verify your email") {
		return nil
	}

	v := &VerificationRequiredError{
		Email:     body.Email,
		UserType:  body.UserType,
		CanResend: body.CanResend == nil || *body.CanResend,
		Err:       apiErr,
	}
	if v.Email == "" && strings.Contains(identifier, "@") {
		v.Email = identifier
	}
	return v
}
