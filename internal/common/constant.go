// Package common contains shared constants and small helpers used across
// the gophdine client, its CLI and the mock API.
package common

// Header names understood by the restaurant API.
const (
	// AuthorizationHeaderName carries the bearer access token.
	AuthorizationHeaderName = "Authorization"

	// CSRFHeaderName carries the anti-forgery token on state-changing requests.
	CSRFHeaderName = "X-CSRFToken"

	// CSRFBootstrapHeaderName marks the request that fetches a CSRF token.
	// Such requests never carry a CSRF token and are never CSRF-recovered.
	CSRFBootstrapHeaderName = "X-CSRF-Bootstrap"

	// RequestIDHeaderName correlates client and server logs.
	RequestIDHeaderName = "X-Request-ID"
)

// BearerPrefix precedes the access token in the Authorization header.
const BearerPrefix = "Bearer "
