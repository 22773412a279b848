package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// releaseScript deletes the key only while it still holds the caller's token.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

const (
	defaultLockTTL       = 30 * time.Second
	defaultRetryInterval = 50 * time.Millisecond
	releaseTimeout       = 2 * time.Second
)

// ErrLockNotAcquired is returned when the wait budget runs out before the lock frees up.
var ErrLockNotAcquired = errors.New("lock not acquired")

// Lock is a single-key lease owned by a random token.
type Lock struct {
	client *Client
	key    string
	ttl    time.Duration
	owner  string
}

// NewLock builds a lease for key. The TTL bounds how long a crashed holder can block others.
func (c *Client) NewLock(key string, ttl time.Duration) (*Lock, error) {
	if c == nil || c.store == nil {
		return nil, errNotInitialized
	}
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &Lock{client: c, key: key, ttl: ttl}, nil
}

// Acquire tries once to take the lease.
func (l *Lock) Acquire(ctx context.Context) (bool, error) {
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", l.key, err)
	}
	if ok {
		l.owner = owner
	}
	return ok, nil
}

// Release frees the lease if this holder still owns it.
func (l *Lock) Release(ctx context.Context) error {
	if l.owner == "" {
		return nil
	}
	if err := l.client.store.Eval(ctx, releaseScript, []string{l.key}, l.owner).Err(); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	l.owner = ""
	return nil
}

// KeyedMutex serialises work per key (one order at a time) across processes.
type KeyedMutex struct {
	client        *Client
	scope         string
	ttl           time.Duration
	retryInterval time.Duration
	maxWait       time.Duration
}

// NewKeyedMutex builds a mutex family under scope. maxWait caps how long Acquire blocks.
func NewKeyedMutex(client *Client, scope string, ttl, maxWait time.Duration) (*KeyedMutex, error) {
	if client == nil {
		return nil, errNotInitialized
	}
	if scope == "" {
		return nil, errors.New("mutex scope is required")
	}
	if maxWait <= 0 {
		maxWait = ttl
	}
	return &KeyedMutex{
		client:        client,
		scope:         scope,
		ttl:           ttl,
		retryInterval: defaultRetryInterval,
		maxWait:       maxWait,
	}, nil
}

// Acquire blocks until the key is free, the wait budget runs out, or ctx ends.
func (m *KeyedMutex) Acquire(ctx context.Context, key string) (func(), error) {
	lock, err := m.client.NewLock(m.client.LockKey(m.scope, key), m.ttl)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(m.maxWait)
	for {
		ok, err := lock.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
				defer cancel()
				_ = lock.Release(releaseCtx)
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockNotAcquired, key)
		}

		timer := time.NewTimer(m.retryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
