// Package lock provides short-lived, best-effort mutual exclusion keyed by
// string. A lock expires after its TTL even if it is never released.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotAcquired is returned by TryLock when another holder owns the key.
var ErrNotAcquired = errors.New("lock held elsewhere")

// Release gives the lock back. Releasing an expired or stolen lock is a
// no-op.
type Release func(ctx context.Context) error

// Locker acquires a lock without waiting.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (Release, error)
}
