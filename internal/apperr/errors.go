// Package apperr defines the error taxonomy shared by the session, access-key,
// agent, thread and exchange layers, and its mapping onto HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// Exchange errors. Both are recovered with a fallback reply and never
	// surfaced to the end user as-is.
	ErrAgentUnavailable = errors.New("agent unavailable")
	ErrTimeout          = errors.New("agent did not reply in time")

	// ErrSecurity signals an internal failure of a cryptographic primitive.
	ErrSecurity = errors.New("security primitive failure")

	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// ValidationError reports input with a bad shape or length.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

// Invalid builds a ValidationError.
func Invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// AuthKind enumerates authentication failures.
type AuthKind int

const (
	InvalidCredentials AuthKind = iota
	RateLimited
	SessionExpired
)

func (k AuthKind) String() string {
	switch k {
	case InvalidCredentials:
		return "invalid credentials"
	case RateLimited:
		return "too many failed login attempts"
	case SessionExpired:
		return "session expired"
	}
	return "authentication failed"
}

// AuthError is returned by login and session checks.
type AuthError struct {
	Kind AuthKind
	// RetryAfter is set for RateLimited.
	RetryAfter time.Duration
}

func (e *AuthError) Error() string {
	if e.Kind == RateLimited && e.RetryAfter > 0 {
		return fmt.Sprintf("%s, retry in %s", e.Kind, e.RetryAfter.Round(time.Second))
	}
	return e.Kind.String()
}

// KeyKind enumerates access-key failures.
type KeyKind int

const (
	KeyNotFound KeyKind = iota
	KeyAlreadyUsed
)

// KeyError is returned when an access key cannot be reserved.
type KeyError struct {
	Kind KeyKind
}

func (e *KeyError) Error() string {
	if e.Kind == KeyAlreadyUsed {
		return "access key already used"
	}
	return "access key not found"
}

// StorageError wraps a failing backing-store operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Storage wraps err as a StorageError, or returns nil when err is nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// IsAuth reports whether err is an AuthError of the given kind.
func IsAuth(err error, kind AuthKind) bool {
	var ae *AuthError
	return errors.As(err, &ae) && ae.Kind == kind
}

// AsAuth returns the AuthError in err's chain.
func AsAuth(err error) (*AuthError, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// IsKey reports whether err is a KeyError of the given kind.
func IsKey(err error, kind KeyKind) bool {
	var ke *KeyError
	return errors.As(err, &ke) && ke.Kind == kind
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// HTTPStatus maps an error onto the status code returned by the API.
func HTTPStatus(err error) int {
	var (
		ve *ValidationError
		ae *AuthError
		ke *KeyError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &ae):
		if ae.Kind == RateLimited {
			return http.StatusTooManyRequests
		}
		return http.StatusUnauthorized
	case errors.As(err, &ke):
		if ke.Kind == KeyAlreadyUsed {
			return http.StatusConflict
		}
		return http.StatusNotFound
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrAgentUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// PublicMessage returns the message safe to show a client. Unexpected errors
// collapse to a generic string.
func PublicMessage(err error) string {
	if HTTPStatus(err) == http.StatusInternalServerError {
		return "internal server error"
	}
	return err.Error()
}
