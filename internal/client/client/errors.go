package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

var (
	ErrCSRF                 = errors.New("security token validation failed")
	ErrSessionExpired       = errors.New("session expired")
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrVerificationRequired = errors.New("email verification required")
	ErrValidation           = errors.New("validation failed")
	ErrUnavailable          = errors.New("server unavailable")
	ErrUnexpected           = errors.New("unexpected server response")
	ErrUnsupportedProvider  = errors.New("unsupported provider")
	ErrRetryExhausted       = errors.New("recovery already attempted")
)

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
	// Fields holds per-field messages when the body was a field map.
	Fields map[string][]string
	Body   []byte
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error %d", e.Status)
}

// Is lets callers match broad classes with errors.Is.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnavailable:
		return e.Status >= http.StatusInternalServerError
	case ErrNotAuthenticated:
		return e.Status == http.StatusUnauthorized
	}
	return false
}

var metaKeys = map[string]struct{}{
	"error": {}, "detail": {}, "message": {},
}

// parseAPIError extracts the message from the usual DRF shapes:
// {"error": "..."}, {"detail": "..."}, {"message": "..."} or a field map
// {"email": ["..."], "non_field_errors": ["..."]}.
func parseAPIError(status int, body []byte) *APIError {
	e := &APIError{Status: status, Body: body}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		e.Message = strings.TrimSpace(string(body))
		if e.Message == "" {
			e.Message = http.StatusText(status)
		}
		return e
	}

	for _, k := range []string{"error", "detail", "message"} {
		var s string
		if v, ok := raw[k]; ok && json.Unmarshal(v, &s) == nil && s != "" {
			e.Message = s
			break
		}
	}

	fields := map[string][]string{}
	for k, v := range raw {
		if _, meta := metaKeys[k]; meta {
			continue
		}
		// field errors are always lists; scalars are response metadata
		var list []string
		if json.Unmarshal(v, &list) == nil && len(list) > 0 {
			fields[k] = list
		}
	}
	if len(fields) > 0 {
		e.Fields = fields
		if e.Message == "" {
			e.Message = firstFieldMessage(fields)
		}
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

func firstFieldMessage(fields map[string][]string) string {
	if msgs := fields["non_field_errors"]; len(msgs) > 0 {
		return msgs[0]
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys[0] + ": " + fields[keys[0]][0]
}

// ValidationError carries field-level errors, for example from sign-up.
type ValidationError struct {
	Fields map[string][]string
	Err    *APIError
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return "validation failed: " + e.Err.Message
	}
	return "validation failed"
}

func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrValidation}
	}
	return []error{ErrValidation, e.Err}
}

// VerificationRequiredError is returned by login when the account exists but
// its e-mail address has not been confirmed yet.
type VerificationRequiredError struct {
	Email     string
	UserType  string
	CanResend bool
	Err       *APIError
}

func (e *VerificationRequiredError) Error() string {
	if e.Email != "" {
		return fmt.Sprintf("email verification required for %s", e.Email)
	}
	return ErrVerificationRequired.Error()
}

func (e *VerificationRequiredError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrVerificationRequired}
	}
	return []error{ErrVerificationRequired, e.Err}
}

// RecoveryClass names a response failure the transport knows how to recover.
type RecoveryClass string

const (
	RecoveryCSRF RecoveryClass = "csrf"
	RecoveryAuth RecoveryClass = "auth"
)

// RetryExhaustedError is returned when a request fails the same way after
// its single recovery attempt.
type RetryExhaustedError struct {
	Class RecoveryClass
	Err   error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s recovery exhausted: %v", e.Class, e.Err)
}

func (e *RetryExhaustedError) Unwrap() []error {
	return []error{ErrRetryExhausted, e.Err}
}
