package registry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credential-service/internal/auth"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	r := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = r.Close() })
	return r, mr
}

func TestRedis_PutGetDelete(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()
	now := time.Now().UTC()

	entry := auth.RefreshEntry{
		TokenID:   "id-1",
		TokenHash: auth.HashToken("raw"),
		UserID:    "user-1",
		Email:     "a@x.com",
		ExpiresAt: now.Add(time.Hour).Truncate(time.Second),
	}
	require.NoError(t, r.Put(ctx, entry))

	assert.True(t, mr.Exists("rt:id-1"))
	ttl := mr.TTL("rt:id-1")
	assert.Greater(t, ttl, 59*time.Minute)
	assert.LessOrEqual(t, ttl, time.Hour)

	stored, err := mr.Get("rt:id-1")
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(stored), &decoded))
	assert.NotContains(t, stored, `"raw"`)
	assert.Equal(t, entry.TokenHash, decoded["tokenHash"])

	got, err := r.Get(ctx, "id-1", now)
	require.NoError(t, err)
	assert.True(t, entry.ExpiresAt.Equal(got.ExpiresAt))
	assert.Equal(t, entry.UserID, got.UserID)
	assert.True(t, got.Matches("raw"))

	require.NoError(t, r.Delete(ctx, "id-1"))
	_, err = r.Get(ctx, "id-1", now)
	assert.ErrorIs(t, err, auth.ErrTokenNotFound)
}

func TestRedis_TTLEvictsEntries(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, r.Put(ctx, auth.RefreshEntry{TokenID: "id-1", ExpiresAt: now.Add(time.Minute)}))
	mr.FastForward(2 * time.Minute)

	_, err := r.Get(ctx, "id-1", now)
	assert.ErrorIs(t, err, auth.ErrTokenNotFound)
}

func TestRedis_ExpiredOnAccess(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, r.Put(ctx, auth.RefreshEntry{TokenID: "id-1", ExpiresAt: now.Add(time.Hour)}))

	_, err := r.Get(ctx, "id-1", now.Add(2*time.Hour))
	assert.ErrorIs(t, err, auth.ErrTokenNotFound)
	assert.False(t, mr.Exists("rt:id-1"))
}

func TestRedis_PutRejectsAlreadyExpired(t *testing.T) {
	r, mr := newTestRedis(t)

	err := r.Put(context.Background(), auth.RefreshEntry{TokenID: "id-1", ExpiresAt: time.Now().Add(-time.Second)})
	assert.Error(t, err)
	assert.False(t, mr.Exists("rt:id-1"))
}

func TestRedis_SweepAndPing(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()

	removed, err := r.Sweep(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.NoError(t, r.Ping(ctx))
}

func TestNewRedisFromURL(t *testing.T) {
	mr := miniredis.RunT(t)

	r, err := NewRedisFromURL("redis://" + mr.Addr() + "/0")
	require.NoError(t, err)
	defer r.Close()
	assert.NoError(t, r.Ping(context.Background()))

	_, err = NewRedisFromURL("http://nope")
	assert.Error(t, err)
}
