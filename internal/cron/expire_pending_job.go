package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/muzafey/storefront-backend/pkg/logger"
)

const (
	defaultPendingTTL = 72 * time.Hour
	expireBatchSize   = 200
)

type staleOrderExpirer interface {
	ExpireStalePending(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// ExpirePendingJobParams configure the abandoned gateway order sweeper.
type ExpirePendingJobParams struct {
	Logger  *logger.Logger
	Expirer staleOrderExpirer
	TTL     time.Duration
}

// NewExpirePendingJob cancels gateway orders that stayed unpaid longer than TTL.
func NewExpirePendingJob(params ExpirePendingJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Expirer == nil {
		return nil, fmt.Errorf("order expirer required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = defaultPendingTTL
	}
	return &expirePendingJob{
		logg:    params.Logger,
		expirer: params.Expirer,
		ttl:     ttl,
		batch:   expireBatchSize,
		now:     time.Now,
	}, nil
}

type expirePendingJob struct {
	logg    *logger.Logger
	expirer staleOrderExpirer
	ttl     time.Duration
	batch   int
	now     func() time.Time
}

func (j *expirePendingJob) Name() string { return "expire-pending-orders" }

// Run drains stale orders batch by batch. It stops after a short batch or an error so a
// persistently failing order cannot spin the loop.
func (j *expirePendingJob) Run(ctx context.Context) (int, error) {
	cutoff := j.now().UTC().Add(-j.ttl)
	total := 0
	for {
		expired, err := j.expirer.ExpireStalePending(ctx, cutoff, j.batch)
		total += expired
		if err != nil {
			return total, fmt.Errorf("expire pending orders: %w", err)
		}
		if expired < j.batch {
			break
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"expired": total,
	}), "pending order sweep complete")
	return total, nil
}
