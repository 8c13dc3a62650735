package auth

import (
	"sync"
	"time"
)

const (
	defaultMaxAttempts = 5
	defaultLockWindow  = 15 * time.Minute
)

// AttemptTracker counts failed logins per identity. The window slides: it is measured
// from the most recent failure, so each failure pushes the unlock time forward.
type AttemptTracker struct {
	mu          sync.Mutex
	maxAttempts int
	window      time.Duration
	now         func() time.Time
	states      map[string]AttemptState
}

func NewAttemptTracker(maxAttempts int, window time.Duration) *AttemptTracker {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if window <= 0 {
		window = defaultLockWindow
	}

	return &AttemptTracker{
		maxAttempts: maxAttempts,
		window:      window,
		now:         func() time.Time { return time.Now().UTC() },
		states:      make(map[string]AttemptState),
	}
}

// WithClock replaces the time source. Intended for tests.
func (t *AttemptTracker) WithClock(now func() time.Time) *AttemptTracker {
	t.now = now
	return t
}

func (t *AttemptTracker) MaxAttempts() int {
	return t.maxAttempts
}

// Check reports whether identity may attempt a login.
//
// Expire-on-access: a state whose last failure is at least one window old is deleted
// here, whatever its count was.
func (t *AttemptTracker) Check(identity string) AttemptStatus {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[identity]
	if !ok {
		return AttemptStatus{Allowed: true, Remaining: t.maxAttempts}
	}

	if t.expired(state, now) {
		delete(t.states, identity)
		return AttemptStatus{Allowed: true, Remaining: t.maxAttempts}
	}

	if state.Count >= t.maxAttempts {
		return AttemptStatus{
			Allowed:     false,
			Remaining:   0,
			LockedUntil: state.LastFailure.Add(t.window),
		}
	}

	return AttemptStatus{Allowed: true, Remaining: t.maxAttempts - state.Count}
}

// Record clears the state on success and charges one failure otherwise.
func (t *AttemptTracker) Record(identity string, success bool) {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if success {
		delete(t.states, identity)
		return
	}

	state, ok := t.states[identity]
	if !ok || t.expired(state, now) {
		state = AttemptState{}
	}
	state.Count++
	state.LastFailure = now
	t.states[identity] = state
}

// State returns a copy of the stored state without applying expiry.
func (t *AttemptTracker) State(identity string) (AttemptState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[identity]
	return state, ok
}

// Sweep drops every state whose window has elapsed and returns how many were removed.
func (t *AttemptTracker) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for identity, state := range t.states {
		if t.expired(state, now) {
			delete(t.states, identity)
			removed++
		}
	}

	return removed
}

func (t *AttemptTracker) expired(state AttemptState, now time.Time) bool {
	return now.Sub(state.LastFailure) >= t.window
}
