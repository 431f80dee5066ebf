package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cecil-the-coder/auth-resilience-kit/internal/errcode"
	"github.com/cecil-the-coder/auth-resilience-kit/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_ReadMissing(t *testing.T) {
	s := openTestStore(t)

	rec, err := s.Read(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestStore_WriteRead(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	updated := time.Date(2025, 3, 4, 5, 6, 7, 8, time.UTC)

	in := types.ProfileRecord{
		UserID:      "u1",
		DisplayName: "Ada",
		Email:       "ada@example.com",
		Attributes:  map[string]string{"locale": "en-GB"},
		UpdatedAt:   updated,
	}
	require.NoError(t, s.Write(ctx, "u1", in))

	got, err := s.Read(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Ada", got.DisplayName)
	assert.Equal(t, "ada@example.com", got.Email)
	assert.Equal(t, map[string]string{"locale": "en-GB"}, got.Attributes)
	assert.True(t, updated.Equal(got.UpdatedAt))

	// upsert replaces
	in.DisplayName = "Ada L."
	in.Attributes = nil
	require.NoError(t, s.Write(ctx, "u1", in))
	got, err = s.Read(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada L.", got.DisplayName)
	assert.Nil(t, got.Attributes)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_WriteStampsZeroTime(t *testing.T) {
	s := openTestStore(t)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.clock = func() time.Time { return now }

	require.NoError(t, s.Write(context.Background(), "u1", types.ProfileRecord{UserID: "u1"}))
	got, err := s.Read(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, now.Equal(got.UpdatedAt))
}

func TestStore_Delete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "u1", types.ProfileRecord{UserID: "u1"}))
	require.NoError(t, s.Delete(ctx, "u1"))
	require.NoError(t, s.Delete(ctx, "u1"))

	got, err := s.Read(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_RejectsEmptyUserID(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Read(context.Background(), "")
	assert.True(t, errcode.Has(err, errcode.ProfileInvalidInput))

	err = s.Write(context.Background(), "", types.ProfileRecord{})
	assert.True(t, errcode.IsInvalidInput(err))
}

func TestOpen_FileDatabasePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "profiles.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, "u1", types.ProfileRecord{UserID: "u1", DisplayName: "Ada"}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Read(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Ada", got.DisplayName)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("")
	assert.True(t, errcode.Has(err, errcode.ProfileInvalidInput))
}
