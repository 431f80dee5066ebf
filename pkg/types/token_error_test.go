package types

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *TokenError
		expected string
	}{
		{
			name:     "error with status code",
			err:      NewFatalError("refresh rejected").WithOperation("refresh").WithStatusCode(400),
			expected: "[refresh] refresh rejected (status=400, kind=fatal)",
		},
		{
			name:     "error without status code",
			err:      NewNetworkError("dial failed"),
			expected: "[token] dial failed (kind=network_transient)",
		},
		{
			name:     "timeout",
			err:      NewTimeoutError("deadline"),
			expected: "[timeout] deadline (kind=network_transient)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestTokenError_Unwrap(t *testing.T) {
	original := errors.New("underlying")
	err := NewRateLimitError("slow down").WithOriginalErr(original)

	assert.Same(t, original, err.Unwrap())
	assert.True(t, errors.Is(err, original))

	wrapped := fmt.Errorf("sync: %w", err)
	var tokErr *TokenError
	require.True(t, errors.As(wrapped, &tokErr))
	assert.Equal(t, KindRateLimited, tokErr.Kind)
}

func TestErrorKind_Escalates(t *testing.T) {
	assert.True(t, KindFatal.Escalates())
	assert.True(t, KindRateLimited.Escalates())
	assert.False(t, KindNetworkTransient.Escalates())
	assert.False(t, KindUnknown.Escalates())
	assert.False(t, KindNone.Escalates())
	assert.Equal(t, "none", KindNone.String())
}

func TestClassifyHTTPStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusBadRequest, KindFatal},
		{http.StatusUnauthorized, KindFatal},
		{http.StatusForbidden, KindFatal},
		{http.StatusInternalServerError, KindNetworkTransient},
		{http.StatusServiceUnavailable, KindNetworkTransient},
		{http.StatusOK, KindUnknown},
		{0, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyHTTPStatus(tt.status))
		})
	}
}

func TestClassifyMessage(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    ErrorKind
	}{
		{"quota", "Quota exceeded for project", KindRateLimited},
		{"429 status", "http status 429", KindRateLimited},
		{"too many requests", "Too Many Requests", KindRateLimited},
		{"resource exhausted", "RESOURCE-EXHAUSTED", KindRateLimited},
		{"400 status", "http status 400", KindFatal},
		{"invalid grant", "oauth2: invalid_grant", KindFatal},
		{"malformed token", "malformed JWT", KindFatal},
		{"network", "network request failed", KindNetworkTransient},
		{"timeout", "i/o timeout", KindNetworkTransient},
		{"dns", "dial tcp: lookup auth.example.com: no such host", KindNetworkTransient},
		{"refused on https port", "dial tcp 10.0.0.1:443: connect: connection refused", KindNetworkTransient},
		{"port that looks like 429", "dial tcp 10.0.0.1:429: i/o timeout", KindNetworkTransient},
		{"status code field", "unexpected status code: 403", KindFatal},
		{"bare number is not a status", "request 404 of 900 skipped", KindUnknown},
		{"server error is not fatal", "http status 503", KindUnknown},
		{"empty", "", KindUnknown},
		{"gibberish", "something odd happened", KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyMessage(tt.message))
		})
	}
}

type fakeNetErr struct{}

func (fakeNetErr) Error() string   { return "boom" }
func (fakeNetErr) Timeout() bool   { return true }
func (fakeNetErr) Temporary() bool { return true }

var _ net.Error = fakeNetErr{}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindNone},
		{"typed", NewFatalError("bad"), KindFatal},
		{"wrapped typed", fmt.Errorf("outer: %w", NewRateLimitError("quota")), KindRateLimited},
		{"deadline", context.DeadlineExceeded, KindNetworkTransient},
		{"canceled", fmt.Errorf("refresh: %w", context.Canceled), KindNetworkTransient},
		{"net error", fakeNetErr{}, KindNetworkTransient},
		{"message fallback", errors.New("invalid_grant"), KindFatal},
		{"unknown", errors.New("weird"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}

	assert.True(t, IsQuotaShaped(errors.New("quota exceeded")))
	assert.False(t, IsQuotaShaped(errors.New("connection refused")))
}

func TestOutcome(t *testing.T) {
	assert.False(t, Success().IsFailure())
	assert.False(t, HTTPError(302).IsFailure())
	assert.True(t, HTTPError(401).IsFailure())
	assert.True(t, Exception("connection reset").IsFailure())

	assert.Equal(t, "http status 401", HTTPError(401).Describe())
	assert.Equal(t, "connection reset", Exception("connection reset").Describe())
	assert.Equal(t, KindFatal, ClassifyMessage(HTTPError(401).Describe()))
}

func TestProfileRecord_Clone(t *testing.T) {
	var nilRecord *ProfileRecord
	assert.Nil(t, nilRecord.Clone())

	rec := &ProfileRecord{UserID: "u1", Attributes: map[string]string{"theme": "dark"}}
	clone := rec.Clone()
	clone.Attributes["theme"] = "light"
	assert.Equal(t, "dark", rec.Attributes["theme"])
}

func TestToken_ValidFor(t *testing.T) {
	var nilToken *Token
	assert.False(t, nilToken.ValidFor(0))
	assert.False(t, (&Token{}).ValidFor(0))
	assert.True(t, (&Token{AccessToken: "a"}).ValidFor(time.Hour))
}
