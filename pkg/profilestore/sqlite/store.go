// Package sqlite stores profile records in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cecil-the-coder/auth-resilience-kit/internal/errcode"
	"github.com/cecil-the-coder/auth-resilience-kit/pkg/types"
)

var _ types.ProfileStore = (*Store)(nil)

// Store implements types.ProfileStore backed by SQLite
type Store struct {
	db    *sql.DB
	clock func() time.Time
}

// Open opens (or creates) the database at dbPath and creates the profiles
// table. ":memory:" is accepted for tests.
func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, errcode.New(errcode.ProfileInvalidInput, "database path is required")
	}
	dsn := ":memory:"
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, errcode.Wrapf(err, errcode.ProfileOpenFailure, "creating directory for %s", dbPath)
		}
		dsn = dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errcode.Wrapf(err, errcode.ProfileOpenFailure, "opening sqlite db")
	}
	// a second connection to ":memory:" would see an empty database
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errcode.Wrapf(err, errcode.ProfileOpenFailure, "pinging sqlite db")
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, errcode.Wrapf(err, errcode.ProfileOpenFailure, "migrating sqlite db")
	}

	return &Store{db: db, clock: time.Now}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS profiles (
	user_id      TEXT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	email        TEXT NOT NULL DEFAULT '',
	attributes   TEXT NOT NULL DEFAULT '{}',
	updated_at   TEXT NOT NULL
);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Read returns the stored record for userID, or nil when none exists
func (s *Store) Read(ctx context.Context, userID string) (*types.ProfileRecord, error) {
	if userID == "" {
		return nil, errcode.New(errcode.ProfileInvalidInput, "user id is required")
	}

	const q = `SELECT user_id, display_name, email, attributes, updated_at FROM profiles WHERE user_id = ?`

	var (
		rec       types.ProfileRecord
		attrs     string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, q, userID).Scan(&rec.UserID, &rec.DisplayName, &rec.Email, &attrs, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errcode.Wrapf(err, errcode.ProfileReadFailure, "reading profile %s", userID)
	}

	if attrs != "" && attrs != "{}" {
		if err := json.Unmarshal([]byte(attrs), &rec.Attributes); err != nil {
			return nil, errcode.Wrapf(err, errcode.ProfileDecodeFailure, "decoding attributes of %s", userID)
		}
	}
	rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, errcode.Wrapf(err, errcode.ProfileDecodeFailure, "decoding updated_at of %s", userID)
	}
	return &rec, nil
}

// Write inserts or replaces the record for userID. A zero UpdatedAt is set to now.
func (s *Store) Write(ctx context.Context, userID string, record types.ProfileRecord) error {
	if userID == "" {
		return errcode.New(errcode.ProfileInvalidInput, "user id is required")
	}

	attrs := []byte("{}")
	if len(record.Attributes) > 0 {
		var err error
		if attrs, err = json.Marshal(record.Attributes); err != nil {
			return errcode.Wrapf(err, errcode.ProfileWriteFailure, "encoding attributes of %s", userID)
		}
	}
	updatedAt := record.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.clock()
	}

	const q = `INSERT INTO profiles (user_id, display_name, email, attributes, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
	display_name = excluded.display_name,
	email        = excluded.email,
	attributes   = excluded.attributes,
	updated_at   = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, q, userID, record.DisplayName, record.Email, string(attrs), updatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return errcode.Wrapf(err, errcode.ProfileWriteFailure, "writing profile %s", userID)
	}
	return nil
}

// Delete removes the record for userID. Deleting a missing record is not an error.
func (s *Store) Delete(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE user_id = ?`, userID); err != nil {
		return errcode.Wrapf(err, errcode.ProfileWriteFailure, "deleting profile %s", userID)
	}
	return nil
}

// Count returns the number of stored profiles
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&n); err != nil {
		return 0, errcode.Wrapf(err, errcode.ProfileReadFailure, "counting profiles")
	}
	return n, nil
}
