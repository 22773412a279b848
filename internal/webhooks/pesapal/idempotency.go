// Package pesapalwebhook deduplicates Pesapal IPN deliveries.
package pesapalwebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/muzafey/storefront-backend/pkg/redis"
)

// IdempotencyGuard marks a tracking id as handled so redelivered IPNs skip the gateway query.
type IdempotencyGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

func NewIdempotencyGuard(store redis.IdempotencyStore, ttl time.Duration, scope string) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &IdempotencyGuard{
		store: store,
		ttl:   ttl,
		scope: scope,
	}, nil
}

// CheckAndMark reports whether trackingID was already marked, marking it otherwise.
func (g *IdempotencyGuard) CheckAndMark(ctx context.Context, trackingID string) (bool, error) {
	if trackingID == "" {
		return false, errors.New("tracking id is required")
	}
	key := g.store.IdempotencyKey(g.scope, trackingID)
	set, err := g.store.SetNX(ctx, key, "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set idempotency key: %w", err)
	}
	return !set, nil
}

// Delete clears the mark so the next delivery is processed again.
func (g *IdempotencyGuard) Delete(ctx context.Context, trackingID string) error {
	if trackingID == "" {
		return errors.New("tracking id is required")
	}
	key := g.store.IdempotencyKey(g.scope, trackingID)
	return g.store.Del(ctx, key)
}
