package store

import (
	"context"
	"sync"

	"github.com/getsentry/sentry-go"

	"credential-service/internal/auth"
	"credential-service/internal/observability"
)

// Persister loads and rewrites the whole user collection.
type Persister interface {
	Load() ([]Pair, error)
	Save(pairs []Pair) error
}

// Collection is the in-memory UserStore. Memory is authoritative: every mutation is
// visible immediately and then written through to the Persister. A failed write is
// logged and the request still succeeds.
type Collection struct {
	mu      sync.RWMutex
	order   []string
	users   map[string]auth.UserRecord
	version uint64

	saveMu sync.Mutex
	saved  uint64

	persister Persister
	logger    *observability.Logger
}

func NewCollection(persister Persister, logger *observability.Logger) *Collection {
	c := &Collection{
		users:     make(map[string]auth.UserRecord),
		persister: persister,
		logger:    logger,
	}

	if persister == nil {
		return c
	}

	pairs, err := persister.Load()
	if err != nil {
		logger.Error("load_users_failed", map[string]any{"error": err.Error()})
		return c
	}

	for _, pair := range pairs {
		if _, exists := c.users[pair.Email]; !exists {
			c.order = append(c.order, pair.Email)
		}
		c.users[pair.Email] = pair.User
	}
	logger.Info("users_loaded", map[string]any{"count": len(c.order)})

	return c
}

func (c *Collection) Find(_ context.Context, email string) (auth.UserRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	user, ok := c.users[email]
	if !ok {
		return auth.UserRecord{}, auth.ErrUserNotFound
	}
	return user, nil
}

func (c *Collection) Create(_ context.Context, user auth.UserRecord) error {
	c.mu.Lock()
	if _, exists := c.users[user.Email]; exists {
		c.mu.Unlock()
		return auth.ErrUserExists
	}
	c.users[user.Email] = user
	c.order = append(c.order, user.Email)
	version, snapshot := c.bumpLocked()
	c.mu.Unlock()

	c.persist(version, snapshot)
	return nil
}

func (c *Collection) Update(_ context.Context, user auth.UserRecord) error {
	c.mu.Lock()
	if _, exists := c.users[user.Email]; !exists {
		c.mu.Unlock()
		return auth.ErrUserNotFound
	}
	c.users[user.Email] = user
	version, snapshot := c.bumpLocked()
	c.mu.Unlock()

	c.persist(version, snapshot)
	return nil
}

// Snapshot returns the collection in insertion order.
func (c *Collection) Snapshot() []Pair {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.snapshotLocked()
}

func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.order)
}

func (c *Collection) bumpLocked() (uint64, []Pair) {
	c.version++
	return c.version, c.snapshotLocked()
}

func (c *Collection) snapshotLocked() []Pair {
	pairs := make([]Pair, 0, len(c.order))
	for _, email := range c.order {
		pairs = append(pairs, Pair{Email: email, User: c.users[email]})
	}
	return pairs
}

// persist writes snapshots in version order; a snapshot older than the last one
// written is dropped.
func (c *Collection) persist(version uint64, snapshot []Pair) {
	if c.persister == nil {
		return
	}

	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	if version <= c.saved {
		return
	}

	if err := c.persister.Save(snapshot); err != nil {
		sentry.CaptureException(err)
		c.logger.Error("save_users_failed", map[string]any{
			"version": version,
			"error":   err.Error(),
		})
		return
	}
	c.saved = version
}
