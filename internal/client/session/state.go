package session

import (
	"time"

	"github.com/dmitrijs2005/gophdine/internal/client/models"
)

// State is a point-in-time copy of the session. It never aliases
// controller internals, so callers may keep and compare snapshots.
type State struct {
	Portal models.Portal

	User *models.User
	// Authenticated holds iff an access token is stored, a user is loaded
	// and no second factor is outstanding.
	Authenticated bool
	// Loading is set while the profile is being fetched for a stored token.
	Loading bool

	HasAccessToken  bool
	HasRefreshToken bool

	Requires2FA bool
	// PendingIdentifier is who the pending second factor is for.
	PendingIdentifier string

	PendingVerificationEmail string
	PendingUserType          models.UserType
	// VerificationRequired is set when the last login was refused because
	// the account is not verified yet.
	VerificationRequired bool
	ResendAvailableIn    time.Duration

	CSRFInitialized bool
	CSRFError       error

	// Err is the error of the last failed operation, Message the last
	// server message of a successful one.
	Err     error
	Message string
}

// Verification is the verification status of the loaded user.
func (s State) Verification() models.VerificationStatus {
	return s.User.Verification()
}

// FullyVerified reports an authenticated session whose e-mail is known to
// be verified.
func (s State) FullyVerified() bool {
	return s.Authenticated && s.Verification() == models.VerificationVerified
}

// VerificationPending reports whether a persisted verification marker is set.
func (s State) VerificationPending() bool {
	return s.PendingVerificationEmail != ""
}
