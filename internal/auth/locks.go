package auth

import "sync"

// identityLocks hands out one mutex per identity and drops it once nobody holds or
// waits on it, so the map only grows with in-flight requests.
type identityLocks struct {
	mu    sync.Mutex
	locks map[string]*identityLock
}

type identityLock struct {
	mu   sync.Mutex
	refs int
}

func newIdentityLocks() *identityLocks {
	return &identityLocks{locks: make(map[string]*identityLock)}
}

// Lock blocks until identity is free and returns the matching unlock func.
func (l *identityLocks) Lock(identity string) func() {
	l.mu.Lock()
	lock, ok := l.locks[identity]
	if !ok {
		lock = &identityLock{}
		l.locks[identity] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, identity)
		}
		l.mu.Unlock()
	}
}
