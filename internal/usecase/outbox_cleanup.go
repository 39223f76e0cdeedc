package usecase

import (
	"context"
	"time"

	repo "spot/internal/repository"

	"github.com/rs/zerolog/log"
)

// 保持期間を過ぎたPUBLISHEDだけを消す。INIT/FAILEDには触らない。
type OutboxCleanup struct {
	outbox    repo.OutboxRepository
	clock     Clock
	retention time.Duration
}

func NewOutboxCleanup(outbox repo.OutboxRepository, clock Clock, retention time.Duration) *OutboxCleanup {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &OutboxCleanup{outbox: outbox, clock: clock, retention: retention}
}

func (c *OutboxCleanup) Run(ctx context.Context) (int64, error) {
	threshold := c.clock.Now().Add(-c.retention)
	deleted, err := c.outbox.DeletePublishedBefore(ctx, threshold)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Time("threshold", threshold).Msg("outbox cleanup finished")
	}
	return deleted, nil
}

func (c *OutboxCleanup) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("outbox cleanup failed")
			}
		}
	}
}
