package credstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/cecil-the-coder/auth-resilience-kit/internal/errcode"
)

func init() {
	keyring.MockInit()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newClock() *clock {
	return &clock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func TestMemoryStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	m := NewMemoryStore(MemoryConfig{Clock: c.Now})

	require.NoError(t, m.Put(ctx, "user-1", Credential{Kind: KindAccessToken, Value: "tok"}))

	got, err := m.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "tok", got.Value)
	assert.Equal(t, c.now, got.StoredAt)

	require.NoError(t, m.Delete(ctx, "user-1"))
	_, err = m.Get(ctx, "user-1")
	assert.True(t, errcode.IsNotFound(err))
}

func TestMemoryStore_EmptyKey(t *testing.T) {
	m := NewMemoryStore(MemoryConfig{})
	err := m.Put(context.Background(), "", Credential{})
	assert.True(t, errcode.Has(err, errcode.CredentialInvalidInput))
}

func TestMemoryStore_ExpiredEvictedOnRead(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	m := NewMemoryStore(MemoryConfig{Clock: c.Now})

	require.NoError(t, m.Put(ctx, "k", Credential{Value: "v", ExpiresAt: c.now.Add(time.Minute)}))
	c.now = c.now.Add(time.Minute)

	_, err := m.Get(ctx, "k")
	assert.True(t, errcode.IsNotFound(err))
	assert.Equal(t, 0, m.Len())
}

func TestMemoryStore_MaxEntries(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	m := NewMemoryStore(MemoryConfig{MaxEntries: 2, Clock: c.Now})

	require.NoError(t, m.Put(ctx, "a", Credential{Value: "1", ExpiresAt: c.now.Add(time.Second)}))
	require.NoError(t, m.Put(ctx, "b", Credential{Value: "2"}))

	err := m.Put(ctx, "c", Credential{Value: "3"})
	assert.True(t, errcode.Has(err, errcode.CredentialCapacity))

	// replacing an existing key is always allowed
	require.NoError(t, m.Put(ctx, "b", Credential{Value: "2b"}))

	// expired entries make room
	c.now = c.now.Add(2 * time.Second)
	require.NoError(t, m.Put(ctx, "c", Credential{Value: "3"}))

	keys, err := m.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, keys)
}

func TestMemoryStore_Wipe(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(MemoryConfig{})
	require.NoError(t, m.Put(ctx, "a", Credential{Value: "1"}))
	require.NoError(t, m.Put(ctx, "b", Credential{Value: "2"}))

	require.NoError(t, m.Wipe(ctx))
	assert.Equal(t, 0, m.Len())
}

func TestFileStore_RoundTripEncrypted(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	fs, err := NewFileStore(FileConfig{Directory: dir, EncryptionKey: "secret"})
	require.NoError(t, err)
	assert.True(t, fs.Encrypted())

	require.NoError(t, fs.Put(ctx, "user/1", Credential{Kind: KindRefreshToken, Value: "refresh-me"}))

	raw, err := os.ReadFile(filepath.Join(dir, "user_1.cred"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "refresh-me")

	got, err := fs.Get(ctx, "user/1")
	require.NoError(t, err)
	assert.Equal(t, "refresh-me", got.Value)

	info, err := os.Stat(filepath.Join(dir, "user_1.cred"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileStore_WrongKeyFailsToDecode(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	writer, err := NewFileStore(FileConfig{Directory: dir, EncryptionKey: "one"})
	require.NoError(t, err)
	require.NoError(t, writer.Put(ctx, "k", Credential{Value: "v"}))

	reader, err := NewFileStore(FileConfig{Directory: dir, EncryptionKey: "two"})
	require.NoError(t, err)
	_, err = reader.Get(ctx, "k")
	assert.True(t, errcode.Has(err, errcode.CredentialDecodeFailure))
}

func TestFileStore_ExpiredRemoved(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	dir := t.TempDir()

	fs, err := NewFileStore(FileConfig{Directory: dir, Clock: c.Now})
	require.NoError(t, err)
	require.NoError(t, fs.Put(ctx, "k", Credential{Value: "v", ExpiresAt: c.now.Add(time.Minute)}))

	c.now = c.now.Add(time.Hour)
	_, err = fs.Get(ctx, "k")
	assert.True(t, errcode.IsNotFound(err))

	keys, err := fs.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestFileStore_WipeLeavesOtherFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("keep"), 0o600))

	fs, err := NewFileStore(FileConfig{Directory: dir})
	require.NoError(t, err)
	require.NoError(t, fs.Put(ctx, "a", Credential{Value: "1"}))
	require.NoError(t, fs.Put(ctx, "b", Credential{Value: "2"}))

	require.NoError(t, fs.Wipe(ctx))

	keys, err := fs.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))
}

func TestFileStore_RequiresDirectory(t *testing.T) {
	_, err := NewFileStore(FileConfig{})
	assert.True(t, errcode.Has(err, errcode.CredentialInvalidInput))
}

func TestKeyringStore_PutGetWipe(t *testing.T) {
	ctx := context.Background()
	ks, err := NewKeyringStore("test-keyring-wipe", discardLogger())
	require.NoError(t, err)

	require.NoError(t, ks.Put(ctx, "access", Credential{Kind: KindAccessToken, Value: "a"}))
	require.NoError(t, ks.Put(ctx, "refresh", Credential{Kind: KindRefreshToken, Value: "r"}))
	require.NoError(t, ks.Put(ctx, "refresh", Credential{Kind: KindRefreshToken, Value: "r2"}))

	keys, err := ks.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"access", "refresh"}, keys)

	got, err := ks.Get(ctx, "refresh")
	require.NoError(t, err)
	assert.Equal(t, "r2", got.Value)

	require.NoError(t, ks.Wipe(ctx))

	keys, err = ks.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, err = ks.Get(ctx, "access")
	assert.True(t, errcode.IsNotFound(err))
}

func TestKeyringStore_DeleteMissingIsNoop(t *testing.T) {
	ks, err := NewKeyringStore("test-keyring-delete", discardLogger())
	require.NoError(t, err)
	assert.NoError(t, ks.Delete(context.Background(), "nothing"))
}

func TestKeyringStore_RequiresService(t *testing.T) {
	_, err := NewKeyringStore("", nil)
	assert.True(t, errcode.Has(err, errcode.CredentialInvalidInput))
}

func TestCookieJar_ClearNamespace(t *testing.T) {
	jar, err := NewCookieJar()
	require.NoError(t, err)

	u, err := url.Parse("https://app.example.com/")
	require.NoError(t, err)

	jar.SetCookies(u, []*http.Cookie{
		{Name: "auth_session", Value: "s", Path: "/"},
		{Name: "auth_refresh", Value: "r", Path: "/"},
		{Name: "theme", Value: "dark", Path: "/"},
	})
	require.Len(t, jar.Cookies(u), 3)

	assert.Equal(t, 2, jar.ClearNamespace("auth"))

	remaining := jar.Cookies(u)
	require.Len(t, remaining, 1)
	assert.Equal(t, "theme", remaining[0].Name)
	assert.Equal(t, 1, jar.Len())

	assert.Equal(t, 0, jar.ClearNamespace("auth"))
}

type failingTier struct{ name string }

func (f failingTier) Name() string                                   { return f.name }
func (f failingTier) Put(context.Context, string, Credential) error    { return nil }
func (f failingTier) Get(context.Context, string) (*Credential, error) { return nil, nil }
func (f failingTier) Delete(context.Context, string) error             { return nil }
func (f failingTier) Keys(context.Context) ([]string, error)           { return nil, nil }
func (f failingTier) Wipe(context.Context) error                       { return errors.New("locked") }

func TestTiers_WipeAllContinuesPastFailure(t *testing.T) {
	ctx := context.Background()
	before := NewMemoryStore(MemoryConfig{})
	after := NewMemoryStore(MemoryConfig{})
	require.NoError(t, before.Put(ctx, "a", Credential{Value: "1"}))
	require.NoError(t, after.Put(ctx, "b", Credential{Value: "2"}))

	tiers := Tiers{before, failingTier{name: "broken"}, after}
	err := tiers.WipeAll(ctx, discardLogger())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken: locked")
	assert.Equal(t, 0, before.Len())
	assert.Equal(t, 0, after.Len())
}

func TestCredential_StringRedacts(t *testing.T) {
	c := Credential{Kind: KindAccessToken, Value: "super-secret"}
	assert.NotContains(t, c.String(), "super-secret")
}
