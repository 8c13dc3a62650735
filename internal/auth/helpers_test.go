package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memStore struct {
	mu        sync.Mutex
	users     map[string]UserRecord
	updateErr error
	finds     atomic.Int64
}

func newMemStore() *memStore {
	return &memStore{users: make(map[string]UserRecord)}
}

func (m *memStore) Find(_ context.Context, email string) (UserRecord, error) {
	m.finds.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[email]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return user, nil
}

func (m *memStore) Create(_ context.Context, user UserRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[user.Email]; ok {
		return ErrUserExists
	}
	m.users[user.Email] = user
	return nil
}

func (m *memStore) Update(_ context.Context, user UserRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.updateErr != nil {
		return m.updateErr
	}
	if _, ok := m.users[user.Email]; !ok {
		return ErrUserNotFound
	}
	m.users[user.Email] = user
	return nil
}

func (m *memStore) get(email string) (UserRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[email]
	return user, ok
}

// countingVerifier records how many credential checks ran.
type countingVerifier struct {
	CredentialVerifier
	verifies atomic.Int64
}

func (v *countingVerifier) Verify(presented, stored string) bool {
	v.verifies.Add(1)
	return v.CredentialVerifier.Verify(presented, stored)
}

var errDiskFull = errors.New("disk full")

type testEnv struct {
	clock    *fakeClock
	store    *memStore
	verifier *countingVerifier
	registry *MemoryRegistry
	tokens   *TokenIssuer
	service  *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		clock:    newFakeClock(),
		store:    newMemStore(),
		verifier: &countingVerifier{CredentialVerifier: BcryptVerifier{Cost: bcrypt.MinCost}},
		registry: NewMemoryRegistry(),
		tokens:   NewTokenIssuer("access-secret", "refresh-secret", 0, 0),
	}
	env.service = NewService(env.store, env.verifier, env.tokens).
		WithRegistry(env.registry).
		WithClock(env.clock.Now)

	return env
}
