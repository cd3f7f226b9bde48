// Package tokenstore is the durable key/value holder for session
// credentials: access token, refresh token, CSRF token and the pending
// verification markers.
//
// Every Store operation is synchronous and never fails. Backends log and
// swallow persistence errors: losing persistence only means the user logs
// in again, so callers are not burdened with storage failures.
//
// Writers always write full replacement values. Keys that belong together
// (the access/refresh pair) are written with SetAll and removed with
// ClearKeys so readers never observe a torn pair.
package tokenstore

// Keys persisted by the client.
const (
	KeyAccessToken              = "token"
	KeyRefreshToken             = "refreshToken"
	KeyCSRFToken                = "csrfToken"
	KeyPendingVerificationEmail = "pendingVerificationEmail"
	KeyPendingUserType          = "pendingUserType"
)

// TokenKeys are the credential keys.
var TokenKeys = []string{KeyAccessToken, KeyRefreshToken, KeyCSRFToken}

// PendingKeys are the verification markers.
var PendingKeys = []string{KeyPendingVerificationEmail, KeyPendingUserType}

// Store is the session persistence contract.
type Store interface {
	// Get returns the value for key, or "" when absent.
	Get(key string) string

	// Set replaces the value for key. An empty value clears the key.
	Set(key, value string)

	// SetAll replaces several keys atomically. Empty values clear their key.
	SetAll(values map[string]string)

	// Clear removes key.
	Clear(key string)

	// ClearKeys removes several keys atomically.
	ClearKeys(keys ...string)

	// ClearAll removes every key.
	ClearAll()
}
