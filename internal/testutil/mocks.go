// Package testutil provides shared fakes for the auth-resilience-kit test suite.
package testutil

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cecil-the-coder/auth-resilience-kit/pkg/types"
)

// FakeClock is a manually advanced clock
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a clock starting at a fixed instant
func NewFakeClock() *FakeClock {
	return &FakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// MockIdentityProvider is a configurable IdentityProvider
type MockIdentityProvider struct {
	mu sync.Mutex

	errs     []error // consumed in order, then err is used
	err      error
	token    *types.Token
	delay    time.Duration
	calls    int
	lastSeen types.Identity
	forced   int
}

// NewMockIdentityProvider creates a provider that succeeds with a fixed token
func NewMockIdentityProvider() *MockIdentityProvider {
	return &MockIdentityProvider{
		token: &types.Token{AccessToken: "access-token", TokenType: "Bearer"},
	}
}

// SetError makes every subsequent call fail with err (nil restores success)
func (m *MockIdentityProvider) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// QueueErrors makes the next calls fail with errs in order
func (m *MockIdentityProvider) QueueErrors(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, errs...)
}

// SetToken sets the token returned on success (nil simulates an empty response)
func (m *MockIdentityProvider) SetToken(token *types.Token) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

// SetDelay makes calls block for d or until the context ends
func (m *MockIdentityProvider) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// RefreshToken implements types.IdentityProvider
func (m *MockIdentityProvider) RefreshToken(ctx context.Context, identity types.Identity, forceRefresh bool) (*types.Token, error) {
	m.mu.Lock()
	m.calls++
	m.lastSeen = identity
	if forceRefresh {
		m.forced++
	}
	delay := m.delay
	var err error
	if len(m.errs) > 0 {
		err = m.errs[0]
		m.errs = m.errs[1:]
	} else {
		err = m.err
	}
	token := m.token
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return token, nil
}

// Calls returns the number of refresh calls
func (m *MockIdentityProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// ForcedCalls returns the number of refresh calls with forceRefresh set
func (m *MockIdentityProvider) ForcedCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forced
}

// MockSession is a configurable SessionManager
type MockSession struct {
	mu           sync.Mutex
	identity     *types.Identity
	signOutErr   error
	signOutCalls int
}

// NewMockSession creates a session signed in as identity (nil for signed out)
func NewMockSession(identity *types.Identity) *MockSession {
	return &MockSession{identity: identity}
}

// SetSignOutError makes SignOut fail
func (s *MockSession) SetSignOutError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signOutErr = err
}

// SignOut implements types.SessionManager
func (s *MockSession) SignOut(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signOutCalls++
	if s.signOutErr != nil {
		return s.signOutErr
	}
	s.identity = nil
	return nil
}

// CurrentIdentity implements types.SessionManager
func (s *MockSession) CurrentIdentity() *types.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return nil
	}
	id := *s.identity
	return &id
}

// SignOutCalls returns how many times SignOut was called
func (s *MockSession) SignOutCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signOutCalls
}

// RecordingSink records advisories
type RecordingSink struct {
	mu         sync.Mutex
	advisories []types.Advisory
}

// Advise implements types.NotificationSink
func (r *RecordingSink) Advise(advisory types.Advisory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advisories = append(r.advisories, advisory)
}

// Advisories returns a copy of everything recorded
func (r *RecordingSink) Advisories() []types.Advisory {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Advisory, len(r.advisories))
	copy(out, r.advisories)
	return out
}

// Count returns the number of advisories of the given kind
func (r *RecordingSink) Count(kind types.AdvisoryKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.advisories {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

// MockConfirmer answers consent prompts with a fixed value
type MockConfirmer struct {
	mu     sync.Mutex
	answer bool
	asked  int
}

// NewMockConfirmer creates a confirmer returning answer
func NewMockConfirmer(answer bool) *MockConfirmer {
	return &MockConfirmer{answer: answer}
}

// Confirm implements types.Confirmer
func (c *MockConfirmer) Confirm(ctx context.Context, advisory types.Advisory) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.asked++
	return c.answer
}

// Asked returns how many prompts were shown
func (c *MockConfirmer) Asked() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.asked
}

// RecordingReloader records reload requests
type RecordingReloader struct {
	mu      sync.Mutex
	reasons []string
}

// Reload implements types.Reloader
func (r *RecordingReloader) Reload(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
}

// Count returns the number of reload requests
func (r *RecordingReloader) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reasons)
}

// CountingTier is a credential tier that counts wipes
type CountingTier struct {
	mu    sync.Mutex
	name  string
	err   error
	wipes int
}

// NewCountingTier creates a tier with the given name
func NewCountingTier(name string) *CountingTier {
	return &CountingTier{name: name}
}

// SetError makes Wipe fail
func (t *CountingTier) SetError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
}

// Name implements the credential tier interface
func (t *CountingTier) Name() string { return t.name }

// Wipe implements the credential tier interface
func (t *CountingTier) Wipe(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.wipes++
	return t.err
}

// Wipes returns the number of wipe calls
func (t *CountingTier) Wipes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wipes
}

// MockCookieJar holds cookie names and clears them by prefix
type MockCookieJar struct {
	mu    sync.Mutex
	names map[string]bool
}

// NewMockCookieJar creates a jar holding names
func NewMockCookieJar(names ...string) *MockCookieJar {
	j := &MockCookieJar{names: make(map[string]bool)}
	for _, n := range names {
		j.names[n] = true
	}
	return j
}

// ClearNamespace removes every cookie whose name starts with prefix
func (j *MockCookieJar) ClearNamespace(prefix string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := 0
	for name := range j.names {
		if strings.HasPrefix(name, prefix) {
			delete(j.names, name)
			n++
		}
	}
	return n
}

// Len returns the number of remaining cookies
func (j *MockCookieJar) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.names)
}

// MemoryProfileStore is an in-memory ProfileStore that counts calls
type MemoryProfileStore struct {
	mu       sync.Mutex
	records  map[string]types.ProfileRecord
	readErr  error
	writeErr error
	reads    int
	writes   int
}

// NewMemoryProfileStore creates an empty store
func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{records: make(map[string]types.ProfileRecord)}
}

// SetReadError makes Read fail
func (s *MemoryProfileStore) SetReadError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = err
}

// SetWriteError makes Write fail
func (s *MemoryProfileStore) SetWriteError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// Read implements types.ProfileStore
func (s *MemoryProfileStore) Read(ctx context.Context, userID string) (*types.ProfileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.readErr != nil {
		return nil, s.readErr
	}
	rec, ok := s.records[userID]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}

// Write implements types.ProfileStore
func (s *MemoryProfileStore) Write(ctx context.Context, userID string, record types.ProfileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.writeErr != nil {
		return s.writeErr
	}
	if userID == "" {
		return errors.New("user id is required")
	}
	s.records[userID] = *record.Clone()
	return nil
}

// Put seeds a record without counting a write
func (s *MemoryProfileStore) Put(record types.ProfileRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.UserID] = *record.Clone()
}

// Writes returns the number of Write calls
func (s *MemoryProfileStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Reads returns the number of Read calls
func (s *MemoryProfileStore) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}
