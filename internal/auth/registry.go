package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"sync"
	"time"
)

// TokenRegistry tracks live refresh tokens by token id.
//
// Get is expire-on-access: an entry past ExpiresAt is deleted and reported as
// ErrTokenNotFound. Sweep is optional housekeeping, correctness never depends on it.
type TokenRegistry interface {
	Put(ctx context.Context, entry RefreshEntry) error
	Get(ctx context.Context, tokenID string, now time.Time) (RefreshEntry, error)
	Delete(ctx context.Context, tokenID string) error
	Sweep(ctx context.Context, now time.Time) (int, error)
}

func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Matches reports whether raw is the token this entry was created for.
func (e RefreshEntry) Matches(raw string) bool {
	return subtle.ConstantTimeCompare([]byte(e.TokenHash), []byte(HashToken(raw))) == 1
}

type MemoryRegistry struct {
	mu      sync.Mutex
	entries map[string]RefreshEntry
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{entries: make(map[string]RefreshEntry)}
}

func (r *MemoryRegistry) Put(_ context.Context, entry RefreshEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[entry.TokenID] = entry
	return nil
}

func (r *MemoryRegistry) Get(_ context.Context, tokenID string, now time.Time) (RefreshEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[tokenID]
	if !ok {
		return RefreshEntry{}, ErrTokenNotFound
	}
	if !now.Before(entry.ExpiresAt) {
		delete(r.entries, tokenID)
		return RefreshEntry{}, ErrTokenNotFound
	}

	return entry, nil
}

func (r *MemoryRegistry) Delete(_ context.Context, tokenID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, tokenID)
	return nil
}

func (r *MemoryRegistry) Sweep(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, entry := range r.entries {
		if !now.Before(entry.ExpiresAt) {
			delete(r.entries, id)
			removed++
		}
	}

	return removed, nil
}

func (r *MemoryRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}
