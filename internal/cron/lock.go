package cron

import (
	"context"
	"time"

	"github.com/muzafey/storefront-backend/pkg/redis"
)

const (
	leaderLockKey  = "cron:leader"
	defaultLockTTL = 4 * time.Minute
)

// Lock elects a single cron worker per cycle.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type lockFactory interface {
	NewLock(key string, ttl time.Duration) (*redis.Lock, error)
}

// NewLeaderLock returns the shared redis lease all cron workers compete for. The TTL should
// be shorter than the cycle interval so a crashed leader does not skip more than one cycle.
func NewLeaderLock(client lockFactory, ttl time.Duration) (Lock, error) {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	lock, err := client.NewLock(leaderLockKey, ttl)
	if err != nil {
		return nil, err
	}
	return lock, nil
}
