package credstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cecil-the-coder/auth-resilience-kit/internal/errcode"
)

// MemoryConfig configures a MemoryStore
type MemoryConfig struct {
	MaxEntries int // 0 means unbounded
	Clock      func() time.Time
}

type memoryEntry struct {
	cred         Credential
	lastAccessed time.Time
}

// MemoryStore keeps credentials in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	cfg     MemoryConfig
	entries map[string]*memoryEntry
}

// NewMemoryStore creates an empty in-memory tier
func NewMemoryStore(cfg MemoryConfig) *MemoryStore {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &MemoryStore{
		cfg:     cfg,
		entries: make(map[string]*memoryEntry),
	}
}

func (m *MemoryStore) Name() string { return "memory" }

// Put stores cred under key. Replacing an existing key never counts against MaxEntries.
func (m *MemoryStore) Put(ctx context.Context, key string, cred Credential) error {
	if err := validateKey(key, "put"); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.cfg.Clock()
	if _, exists := m.entries[key]; !exists && m.cfg.MaxEntries > 0 && len(m.entries) >= m.cfg.MaxEntries {
		m.evictExpiredLocked(now)
		if len(m.entries) >= m.cfg.MaxEntries {
			return errcode.Errorf(errcode.CredentialCapacity, "memory tier is full (%d entries)", m.cfg.MaxEntries)
		}
	}

	if cred.StoredAt.IsZero() {
		cred.StoredAt = now
	}
	m.entries[key] = &memoryEntry{cred: cred, lastAccessed: now}
	return nil
}

// Get returns the credential for key. Expired credentials are evicted on read.
func (m *MemoryStore) Get(ctx context.Context, key string) (*Credential, error) {
	if err := validateKey(key, "get"); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, errcode.Errorf(errcode.CredentialNotFound, "credential %s not found", key)
	}

	now := m.cfg.Clock()
	if entry.cred.Expired(now) {
		delete(m.entries, key)
		return nil, errcode.Errorf(errcode.CredentialNotFound, "credential %s expired", key)
	}

	entry.lastAccessed = now
	cred := entry.cred
	return &cred, nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := validateKey(key, "delete"); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Keys returns the stored keys in sorted order
func (m *MemoryStore) Keys(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) Wipe(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*memoryEntry)
	return nil
}

// Len returns the number of stored entries, expired ones included
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *MemoryStore) evictExpiredLocked(now time.Time) {
	for k, e := range m.entries {
		if e.cred.Expired(now) {
			delete(m.entries, k)
		}
	}
}
