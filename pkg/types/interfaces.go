package types

import (
	"context"
	"fmt"
)

// IdentityProvider refreshes access tokens for a signed-in identity.
// Errors should be *TokenError where possible so they classify precisely.
type IdentityProvider interface {
	RefreshToken(ctx context.Context, identity Identity, forceRefresh bool) (*Token, error)
}

// ProfileStore persists profile records
type ProfileStore interface {
	// Read returns the stored record, or nil without error when none exists
	Read(ctx context.Context, userID string) (*ProfileRecord, error)
	Write(ctx context.Context, userID string, record ProfileRecord) error
}

// SessionManager owns the active sign-in session
type SessionManager interface {
	SignOut(ctx context.Context) error
	CurrentIdentity() *Identity
}

// OutcomeType distinguishes the result of an observed outbound call
type OutcomeType string

const (
	OutcomeSuccess   OutcomeType = "success"
	OutcomeHTTPError OutcomeType = "http_error"
	OutcomeException OutcomeType = "exception"
)

// Outcome is the result of one outbound call as seen by the transport layer
type Outcome struct {
	Type       OutcomeType
	StatusCode int    // set for OutcomeHTTPError
	Message    string // set for OutcomeException
}

// Success builds a successful outcome
func Success() Outcome {
	return Outcome{Type: OutcomeSuccess}
}

// HTTPError builds an outcome for a response with an error status
func HTTPError(statusCode int) Outcome {
	return Outcome{Type: OutcomeHTTPError, StatusCode: statusCode}
}

// Exception builds an outcome for a call that failed without a response
func Exception(message string) Outcome {
	return Outcome{Type: OutcomeException, Message: message}
}

// IsFailure reports whether the outcome should count as an observed error
func (o Outcome) IsFailure() bool {
	switch o.Type {
	case OutcomeHTTPError:
		return o.StatusCode >= 400
	case OutcomeException:
		return true
	default:
		return false
	}
}

// Describe renders the outcome as a message suitable for classification
func (o Outcome) Describe() string {
	switch o.Type {
	case OutcomeHTTPError:
		return fmt.Sprintf("http status %d", o.StatusCode)
	case OutcomeException:
		return o.Message
	default:
		return "ok"
	}
}

// Observation is reported by the transport for every outbound call
type Observation struct {
	IdentityEndpoint bool
	URL              string
	Outcome          Outcome
}

// NetworkObserver receives observations from an instrumented HTTP client
type NetworkObserver interface {
	Observe(obs Observation)
}

// AdvisoryKind identifies which user-visible surface an advisory targets
type AdvisoryKind string

const (
	AdvisoryRetrying     AdvisoryKind = "retrying"
	AdvisoryBlocked      AdvisoryKind = "blocked"
	AdvisoryPurged       AdvisoryKind = "purged"
	AdvisoryPurgeConsent AdvisoryKind = "purge_consent"
)

// Action is a user choice offered with an advisory
type Action string

const (
	ActionRetryNow Action = "retry_now"
	ActionDismiss  Action = "dismiss"
	ActionConfirm  Action = "confirm"
	ActionCancel   Action = "cancel"
)

// Advisory is a user-visible notice emitted by the resilience layer
type Advisory struct {
	Kind      AdvisoryKind `json:"kind"`
	Message   string       `json:"message"`
	Actions   []Action     `json:"actions,omitempty"`
	Remaining int          `json:"remaining_minutes,omitempty"`
}

// NotificationSink renders advisories. Implementations must not block for long.
type NotificationSink interface {
	Advise(advisory Advisory)
}

// Confirmer asks the user for explicit consent before a destructive action
type Confirmer interface {
	Confirm(ctx context.Context, advisory Advisory) bool
}

// Reloader restarts the host (page reload, process restart) after an unrecoverable state
type Reloader interface {
	Reload(reason string)
}

// ReloaderFunc adapts a function to the Reloader interface
type ReloaderFunc func(reason string)

// Reload calls f(reason)
func (f ReloaderFunc) Reload(reason string) {
	f(reason)
}
