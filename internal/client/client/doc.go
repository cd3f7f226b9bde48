// Package client talks to the restaurant REST API.
//
// # Overview
//
// The package provides:
//  1. Transport, the single choke point for outbound requests. It attaches
//     the bearer token and, on state-changing requests, the CSRF token; it
//     recovers a CSRF rejection by renewing the token through the shared
//     csrf.Coordinator and an expired access token by exchanging the refresh
//     token. Each class is recovered at most once per request (see Budget).
//     Concurrent refreshes share one exchange.
//  2. HTTPClient, the typed endpoints of the customer and owner portals
//     (see the Client interface).
//  3. Normalize, which resolves a response body into a tagged Payload
//     (object, array or paginated page) once, at the boundary.
//
// # Error Handling
//
// Failures are typed before they leave the package. Match classes with
// errors.Is (ErrCSRF, ErrSessionExpired, ErrNotAuthenticated,
// ErrInvalidCredentials, ErrVerificationRequired, ErrValidation,
// ErrUnavailable, ErrUnexpected, ErrUnsupportedProvider) and details with
// errors.As (*APIError, *ValidationError, *VerificationRequiredError,
// *RetryExhaustedError).
//
// An unrecoverable refresh failure clears the stored credentials before it
// is returned, and the callback registered with OnSessionExpired runs once.
//
// Concurrency & Contexts
//
// Transport and HTTPClient are safe for concurrent use. All operations accept
// context.Context and honor cancellation; shared CSRF and refresh exchanges
// keep running for the other waiters when one caller gives up.
package client
