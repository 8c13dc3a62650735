// Package registry holds TokenRegistry backends that outlive a single process.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"credential-service/internal/auth"
)

const keyPrefix = "rt:"

// Redis stores refresh entries as JSON under rt:<token id>. Keys carry a TTL equal
// to the token's remaining lifetime, so Redis itself does the sweeping.
type Redis struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func NewRedisFromURL(rawURL string) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedis(redis.NewClient(opts)), nil
}

func (r *Redis) Put(ctx context.Context, entry auth.RefreshEntry) error {
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("store refresh entry %s: already expired at %s", entry.TokenID, entry.ExpiresAt.Format(time.RFC3339))
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode refresh entry: %w", err)
	}

	if err := r.client.Set(ctx, key(entry.TokenID), data, ttl).Err(); err != nil {
		return fmt.Errorf("store refresh entry: %w", err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, tokenID string, now time.Time) (auth.RefreshEntry, error) {
	data, err := r.client.Get(ctx, key(tokenID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return auth.RefreshEntry{}, auth.ErrTokenNotFound
		}
		return auth.RefreshEntry{}, fmt.Errorf("read refresh entry: %w", err)
	}

	var entry auth.RefreshEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return auth.RefreshEntry{}, fmt.Errorf("decode refresh entry: %w", err)
	}

	if !now.Before(entry.ExpiresAt) {
		if err := r.Delete(ctx, tokenID); err != nil {
			return auth.RefreshEntry{}, err
		}
		return auth.RefreshEntry{}, auth.ErrTokenNotFound
	}

	return entry, nil
}

func (r *Redis) Delete(ctx context.Context, tokenID string) error {
	if err := r.client.Del(ctx, key(tokenID)).Err(); err != nil {
		return fmt.Errorf("delete refresh entry: %w", err)
	}
	return nil
}

// Sweep is a no-op: expired keys are evicted by their TTL.
func (r *Redis) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func key(tokenID string) string {
	return keyPrefix + tokenID
}
