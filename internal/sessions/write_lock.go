package sessions

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLockTimeout is returned when acquiring a session's write lock times
// out before the lock becomes available.
var ErrLockTimeout = errors.New("sessions: write lock acquisition timeout")

// DefaultLockTimeout bounds how long a caller waits for a session's write
// lock before giving up.
const DefaultLockTimeout = 5 * time.Second

const lockPollInterval = 10 * time.Millisecond

// WriteLocker hands out one mutex per session id, so the Scheduler task
// driving a session's rounds and any approval/deletion handler touching
// the same session serialize against each other while distinct sessions
// never contend.
type WriteLocker struct {
	locks   sync.Map // map[string]*sync.Mutex
	timeout time.Duration
}

// NewWriteLocker creates a WriteLocker. A non-positive timeout falls back
// to DefaultLockTimeout.
func NewWriteLocker(timeout time.Duration) *WriteLocker {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &WriteLocker{timeout: timeout}
}

func (l *WriteLocker) mutexFor(sessionID string) *sync.Mutex {
	mu, _ := l.locks.LoadOrStore(sessionID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Lock acquires the write lock for sessionID, polling until it succeeds,
// ctx is cancelled, or the configured timeout elapses. The returned func
// releases the lock.
func (l *WriteLocker) Lock(ctx context.Context, sessionID string) (func(), error) {
	mu := l.mutexFor(sessionID)

	deadline := time.Now().Add(l.timeout)
	for {
		if mu.TryLock() {
			return mu.Unlock, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}
