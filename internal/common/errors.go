package common

import "errors"

var (
	// ErrorNotFound is returned by lookups that found nothing.
	ErrorNotFound = errors.New("not found")

	// ErrInvalidToken is returned when a token cannot be parsed or verified.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when a token is past its expiry.
	ErrTokenExpired = errors.New("token expired")
)
