package session

import "errors"

var (
	// ErrTwoFactorNotPending is returned by VerifyTwoFactor when no login is
	// waiting for a second factor.
	ErrTwoFactorNotPending = errors.New("no login awaiting a second factor")

	// ErrNoPendingVerification is returned when an e-mail operation has
	// neither an explicit address nor a pending verification marker.
	ErrNoPendingVerification = errors.New("no pending e-mail verification")

	// ErrCodeRejected wraps a server rejection of a verification code that
	// the caller should clear and let the user re-enter.
	ErrCodeRejected = errors.New("verification code invalid or expired")

	// ErrResendCooldown is returned while a resend is not yet allowed.
	ErrResendCooldown = errors.New("verification e-mail recently sent")

	// ErrStaleResponse is returned when a response arrived after the session
	// moved on (logout, a newer login) and was therefore ignored.
	ErrStaleResponse = errors.New("response ignored: session changed while the request was in flight")
)
