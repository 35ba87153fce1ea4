// Package sqlite implements the auth record store on an embedded SQLite
// database, for single-node deployments without PostgreSQL.
package sqlite

import (
	"context"
	"database/sql"

	"github.com/go-faster/errors"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/xenking/storefront/internal/domain/auth"
)

const schema = `CREATE TABLE IF NOT EXISTS auth_blobs (
	key        TEXT PRIMARY KEY,
	blob       BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

var _ auth.BlobStore = (*AuthBlobStore)(nil)

// AuthBlobStore persists signed-in user records keyed by session id.
type AuthBlobStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at dsn and applies the
// schema. Use ":memory:" for a throwaway store.
func Open(ctx context.Context, dsn string) (*AuthBlobStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	return &AuthBlobStore{db: db}, nil
}

// Close releases the database.
func (s *AuthBlobStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *AuthBlobStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *AuthBlobStore) Save(ctx context.Context, key string, blob []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO auth_blobs (key, blob, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (key) DO UPDATE SET blob = excluded.blob, updated_at = excluded.updated_at`,
		key, blob,
	)
	if err != nil {
		return errors.Wrap(err, "save auth blob")
	}
	return nil
}

func (s *AuthBlobStore) Load(ctx context.Context, key string) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT blob FROM auth_blobs WHERE key = ?`, key).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNoBlob
		}
		return nil, errors.Wrap(err, "load auth blob")
	}
	return blob, nil
}

func (s *AuthBlobStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM auth_blobs WHERE key = ?`, key); err != nil {
		return errors.Wrap(err, "delete auth blob")
	}
	return nil
}
