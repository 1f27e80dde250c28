package authkitpg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tyemirov/xauth/internal/authkit"
)

// PostgresPKCEStore is a durable PKCE tier on PostgreSQL. Take is a single
// DELETE ... RETURNING, so concurrent consumers cannot both receive a row.
type PostgresPKCEStore struct {
	pool *pgxpool.Pool
}

// NewPostgresPKCEStore constructs a Postgres store.
func NewPostgresPKCEStore(pool *pgxpool.Pool) *PostgresPKCEStore {
	return &PostgresPKCEStore{pool: pool}
}

// Name labels the tier in logs.
func (store *PostgresPKCEStore) Name() string {
	return "pgx"
}

// Save upserts the record.
func (store *PostgresPKCEStore) Save(ctx context.Context, record authkit.PKCERecord) error {
	_, err := store.pool.Exec(ctx, `
INSERT INTO oauth_pkce_data (state, code_verifier, callback_url, expires_at, created_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (state) DO UPDATE
SET code_verifier = EXCLUDED.code_verifier,
    callback_url = EXCLUDED.callback_url,
    expires_at = EXCLUDED.expires_at
`, record.State, record.CodeVerifier, record.CallbackURL, record.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("authkitpg.save: %w", err)
	}
	return nil
}

// Load reads the record without deleting it.
func (store *PostgresPKCEStore) Load(ctx context.Context, state string) (authkit.PKCERecord, error) {
	row := store.pool.QueryRow(ctx, `
SELECT state, code_verifier, callback_url, expires_at
FROM oauth_pkce_data
WHERE state = $1
`, state)
	return scanRecord("load", row)
}

// Take deletes the record and returns what was deleted.
func (store *PostgresPKCEStore) Take(ctx context.Context, state string) (authkit.PKCERecord, error) {
	row := store.pool.QueryRow(ctx, `
DELETE FROM oauth_pkce_data
WHERE state = $1
RETURNING state, code_verifier, callback_url, expires_at
`, state)
	return scanRecord("take", row)
}

// Remove deletes the record.
func (store *PostgresPKCEStore) Remove(ctx context.Context, state string) error {
	if _, err := store.pool.Exec(ctx, `DELETE FROM oauth_pkce_data WHERE state = $1`, state); err != nil {
		return fmt.Errorf("authkitpg.remove: %w", err)
	}
	return nil
}

// DeleteExpired drops rows past their deadline.
func (store *PostgresPKCEStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := store.pool.Exec(ctx, `DELETE FROM oauth_pkce_data WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("authkitpg.delete_expired: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanRecord(operation string, row pgx.Row) (authkit.PKCERecord, error) {
	var record authkit.PKCERecord
	if err := row.Scan(&record.State, &record.CodeVerifier, &record.CallbackURL, &record.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authkit.PKCERecord{}, authkit.ErrStateNotFound
		}
		return authkit.PKCERecord{}, fmt.Errorf("authkitpg.%s: %w", operation, err)
	}
	record.ExpiresAt = record.ExpiresAt.UTC()
	return record, nil
}
