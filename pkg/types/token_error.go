package types

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
)

// ErrorKind classifies token and sync failures by how aggressively the caller must back off
type ErrorKind string

const (
	// KindNone is the zero value used when no failure has been recorded
	KindNone ErrorKind = ""

	// KindRateLimited means the provider signalled quota or rate exhaustion
	KindRateLimited ErrorKind = "rate_limited"

	// KindFatal means the credential is malformed or rejected (400-class from the identity endpoint)
	KindFatal ErrorKind = "fatal"

	// KindNetworkTransient covers connectivity failures and timeouts
	KindNetworkTransient ErrorKind = "network_transient"

	// KindUnknown is anything uncategorized. It carries NetworkTransient severity.
	KindUnknown ErrorKind = "unknown"
)

// Escalates reports whether the kind drives the full exponential backoff curve
func (k ErrorKind) Escalates() bool {
	return k == KindFatal || k == KindRateLimited
}

// String returns the kind name, or "none"
func (k ErrorKind) String() string {
	if k == KindNone {
		return "none"
	}
	return string(k)
}

// Sentinel errors shared by the token layer and the sync coordinator
var (
	ErrNoIdentity       = errors.New("no signed-in identity")
	ErrTokenUnavailable = errors.New("token unavailable")
)

// TokenError is a classified failure from the identity provider or a profile store call
type TokenError struct {
	Kind        ErrorKind // Classification driving backoff
	Message     string    // Human-readable message
	StatusCode  int       // HTTP status code (0 if not applicable)
	Operation   string    // What failed (e.g., "refresh", "profile_write")
	OriginalErr error     // Wrapped original error
}

// Error implements the error interface
func (e *TokenError) Error() string {
	op := e.Operation
	if op == "" {
		op = "token"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%s] %s (status=%d, kind=%s)", op, e.Message, e.StatusCode, e.Kind)
	}
	return fmt.Sprintf("[%s] %s (kind=%s)", op, e.Message, e.Kind)
}

// Unwrap returns the original error for errors.Is/As
func (e *TokenError) Unwrap() error {
	return e.OriginalErr
}

// WithOperation sets the operation field and returns the error for chaining
func (e *TokenError) WithOperation(operation string) *TokenError {
	e.Operation = operation
	return e
}

// WithStatusCode sets the status code field and returns the error for chaining
func (e *TokenError) WithStatusCode(statusCode int) *TokenError {
	e.StatusCode = statusCode
	return e
}

// WithOriginalErr sets the original error field and returns the error for chaining
func (e *TokenError) WithOriginalErr(err error) *TokenError {
	e.OriginalErr = err
	return e
}

// NewTokenError creates a new TokenError
func NewTokenError(kind ErrorKind, message string) *TokenError {
	return &TokenError{
		Kind:    kind,
		Message: message,
	}
}

// NewFatalError creates an error that invalidates the credential
func NewFatalError(message string) *TokenError {
	return NewTokenError(KindFatal, message)
}

// NewRateLimitError creates a quota/rate exhaustion error
func NewRateLimitError(message string) *TokenError {
	return NewTokenError(KindRateLimited, message)
}

// NewNetworkError creates a connectivity error
func NewNetworkError(message string) *TokenError {
	return NewTokenError(KindNetworkTransient, message)
}

// NewTimeoutError creates a timeout error. Timeouts are transient.
func NewTimeoutError(message string) *TokenError {
	return NewTokenError(KindNetworkTransient, message).WithOperation("timeout")
}

// ClassifyHTTPStatus maps an identity endpoint status code to an error kind
func ClassifyHTTPStatus(statusCode int) ErrorKind {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return KindRateLimited
	case statusCode >= 400 && statusCode < 500:
		return KindFatal
	case statusCode >= 500:
		return KindNetworkTransient
	default:
		return KindUnknown
	}
}

var (
	// Only status-shaped numbers count, so ports and addresses do not classify.
	rateLimitStatusPattern = regexp.MustCompile(`status(?: code)?[ =:]*429\b`)
	clientStatusPattern    = regexp.MustCompile(`status(?: code)?[ =:]*4\d\d\b`)

	rateLimitMarkers = []string{
		"too many requests", "too_many_attempts", "quota", "rate limit",
		"rate-limit", "ratelimit", "resource-exhausted", "resource_exhausted",
	}
	fatalMarkers = []string{
		"invalid_grant", "invalid token", "invalid_token", "invalid-refresh-token",
		"invalid_refresh_token", "token_expired", "token-expired", "malformed",
		"invalid credential", "invalid_client", "user_disabled", "user-disabled",
	}
	transientMarkers = []string{
		"network", "timeout", "timed out", "deadline exceeded", "connection",
		"failed to fetch", "unreachable", "eof", "reset by peer", "no such host",
		"temporary failure", "unavailable",
	}
)

// ClassifyMessage classifies a raw error message observed at the network layer.
// Rate limiting is checked first, then fatal markers, then connectivity markers,
// and last a 4xx status in the text.
func ClassifyMessage(message string) ErrorKind {
	msg := strings.ToLower(message)
	if msg == "" {
		return KindUnknown
	}

	if rateLimitStatusPattern.MatchString(msg) {
		return KindRateLimited
	}
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return KindRateLimited
		}
	}
	for _, marker := range fatalMarkers {
		if strings.Contains(msg, marker) {
			return KindFatal
		}
	}
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return KindNetworkTransient
		}
	}
	if clientStatusPattern.MatchString(msg) {
		return KindFatal
	}

	return KindUnknown
}

// Classify determines the kind of an arbitrary error.
// It examines the chain for a TokenError first, then context and net errors,
// and finally falls back to message patterns.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	var tokErr *TokenError
	if errors.As(err, &tokErr) && tokErr.Kind != KindNone {
		return tokErr.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindNetworkTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetworkTransient
	}

	return ClassifyMessage(err.Error())
}

// IsQuotaShaped reports whether a failure should mark the sync quota as exceeded
func IsQuotaShaped(err error) bool {
	return Classify(err) == KindRateLimited
}
