package service

import (
	"context"
	"time"
)

// Clock supplies timestamps for spool stamping and expiry checks.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Locker is a named, process-external mutex. Acquire does not wait: false
// means another process holds the lock.
type Locker interface {
	Acquire(ctx context.Context, name string) (bool, error)
	Release(ctx context.Context, name string) error
}
