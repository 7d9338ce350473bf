package domain

import (
	"context"
	"time"
)

// LockManager provides exclusive locks around table rewrites.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
