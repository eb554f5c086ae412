package authcore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AfriConnectExchange/authcore/rate"
)

var (
	// ErrUnauthorized covers bad credentials, unknown identifiers, and
	// invalid tokens alike so callers cannot probe which accounts exist.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrSessionInvalid is returned for unknown, revoked, and expired
	// sessions.
	ErrSessionInvalid = errors.New("session invalid")
	// ErrTokenExpired marks a correct secret presented past its TTL.
	ErrTokenExpired = errors.New("token expired")
	// ErrNotFound is for non-security-sensitive lookups only; credential
	// misses map to ErrUnauthorized instead.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateIdentifier is returned on sign-up when the email or phone
	// already has an account.
	ErrDuplicateIdentifier = errors.New("identifier already registered")
	// ErrAccountDisabled gates sign-in for suspended, deactivated, and
	// deleted accounts.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrDeliveryFailed is returned when a mandatory notification exhausted
	// its retry budget.
	ErrDeliveryFailed = errors.New("notification delivery failed")
	// ErrEngineClosed is returned by operations after Close.
	ErrEngineClosed = errors.New("engine closed")
)

// RateLimitedError is re-exported so callers only import this package to
// branch on retry-after.
type RateLimitedError = rate.RateLimitedError

// ValidationError reports malformed input, field by field.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func newValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}
