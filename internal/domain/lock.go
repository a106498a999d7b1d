package domain

import (
	"context"
	"errors"
	"time"
)

// ErrLockHeld is returned by LockManager.Acquire when another party
// currently holds the lock.
var ErrLockHeld = errors.New("lock already held")

// LockManager provides mutual exclusion scopes keyed by string. The
// settlement engine uses it to guarantee a single resolver per market.
// Implementations: Redis SETNX (multi-instance) and in-process (tests).
type LockManager interface {
	// Acquire obtains the lock for key with the given TTL and returns an
	// unlock function, or ErrLockHeld if the lock is taken. The unlock
	// function is safe to call more than once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
