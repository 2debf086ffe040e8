package ports

import (
	"context"
	"errors"
)

// ErrLockTimeout is returned when a match lock could not be acquired in time.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// Locker grants exclusive ownership of a key, typically a match id.
type Locker interface {
	// Acquire blocks until the key is owned or ctx is done.
	// The returned release func must be called exactly once.
	Acquire(ctx context.Context, key string) (release func(), err error)
}
