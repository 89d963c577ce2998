package repository

import (
	"context"
	"time"
)

// LockRepository defines the interface for short-lived advisory locks used
// to serialize participant work on a single resource. Locks are best-effort:
// the TTL bounds how long a crashed holder can block others, and Release
// deletes unconditionally so a lock held past its TTL never wedges.
type LockRepository interface {
	// Acquire attempts to take the lock for a resource. Returns false when
	// another holder already has it.
	Acquire(ctx context.Context, resource string, ttl time.Duration) (bool, error)

	// Release drops the lock for a resource
	Release(ctx context.Context, resource string) error
}
