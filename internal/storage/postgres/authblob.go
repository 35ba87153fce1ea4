package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/auth"
)

const (
	saveAuthBlobSQL = `INSERT INTO auth_blobs (key, blob, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET blob = EXCLUDED.blob, updated_at = EXCLUDED.updated_at`

	loadAuthBlobSQL = `SELECT blob FROM auth_blobs WHERE key = $1`

	deleteAuthBlobSQL = `DELETE FROM auth_blobs WHERE key = $1`
)

var _ auth.BlobStore = (*AuthBlobStore)(nil)

// AuthBlobStore persists signed-in user records keyed by session id.
type AuthBlobStore struct {
	pool *pgxpool.Pool
}

// NewAuthBlobStore returns an AuthBlobStore that uses the given pool.
func NewAuthBlobStore(pool *pgxpool.Pool) *AuthBlobStore {
	return &AuthBlobStore{pool: pool}
}

func (s *AuthBlobStore) Save(ctx context.Context, key string, blob []byte) error {
	if _, err := s.pool.Exec(ctx, saveAuthBlobSQL, key, blob); err != nil {
		return errors.Wrap(err, "save auth blob")
	}
	return nil
}

func (s *AuthBlobStore) Load(ctx context.Context, key string) ([]byte, error) {
	var blob []byte
	if err := s.pool.QueryRow(ctx, loadAuthBlobSQL, key).Scan(&blob); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrNoBlob
		}
		return nil, errors.Wrap(err, "load auth blob")
	}
	return blob, nil
}

// Delete removes the record for key. Deleting a missing key is not an error.
func (s *AuthBlobStore) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, deleteAuthBlobSQL, key); err != nil {
		return errors.Wrap(err, "delete auth blob")
	}
	return nil
}
