package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"credential-service/internal/auth"
)

const defaultSweepBatch = 500

// Postgres keeps refresh entries in auth_refresh_tokens. Unlike Redis nothing evicts
// rows on its own, so Sweep deletes expired rows in batches.
type Postgres struct {
	db        *sql.DB
	batchSize int
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, batchSize: defaultSweepBatch}
}

func (p *Postgres) Put(ctx context.Context, entry auth.RefreshEntry) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO auth_refresh_tokens (id, user_id, email, token_hash, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			email = EXCLUDED.email,
			token_hash = EXCLUDED.token_hash,
			expires_at = EXCLUDED.expires_at
	`, entry.TokenID, entry.UserID, entry.Email, entry.TokenHash, entry.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, tokenID string, now time.Time) (auth.RefreshEntry, error) {
	entry := auth.RefreshEntry{TokenID: tokenID}

	err := p.db.QueryRowContext(ctx, `
		SELECT user_id, email, token_hash, expires_at
		FROM auth_refresh_tokens
		WHERE id = $1
	`, tokenID).Scan(&entry.UserID, &entry.Email, &entry.TokenHash, &entry.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.RefreshEntry{}, auth.ErrTokenNotFound
		}
		return auth.RefreshEntry{}, fmt.Errorf("read refresh token: %w", err)
	}
	entry.ExpiresAt = entry.ExpiresAt.UTC()

	if !now.Before(entry.ExpiresAt) {
		if err := p.Delete(ctx, tokenID); err != nil {
			return auth.RefreshEntry{}, err
		}
		return auth.RefreshEntry{}, auth.ErrTokenNotFound
	}

	return entry, nil
}

func (p *Postgres) Delete(ctx context.Context, tokenID string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM auth_refresh_tokens WHERE id = $1`, tokenID); err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

// Sweep deletes expired rows, oldest first, until a batch comes back short.
func (p *Postgres) Sweep(ctx context.Context, now time.Time) (int, error) {
	total := 0
	for {
		res, err := p.db.ExecContext(ctx, `
			WITH stale AS (
				SELECT id
				FROM auth_refresh_tokens
				WHERE expires_at <= $1
				ORDER BY expires_at ASC
				LIMIT $2
			)
			DELETE FROM auth_refresh_tokens t
			USING stale
			WHERE t.id = stale.id
		`, now.UTC(), p.batchSize)
		if err != nil {
			return total, fmt.Errorf("delete stale refresh tokens: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("stale refresh tokens rows affected: %w", err)
		}
		total += int(affected)

		if affected < int64(p.batchSize) {
			return total, nil
		}
	}
}
