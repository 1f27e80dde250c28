package authkitpg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the PKCE table if it does not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS oauth_pkce_data (
    state VARCHAR(64) PRIMARY KEY,
    code_verifier TEXT NOT NULL,
    callback_url TEXT NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_oauth_pkce_data_expires ON oauth_pkce_data (expires_at);
`)
	if err != nil {
		return fmt.Errorf("authkitpg.schema: %w", err)
	}
	return nil
}
