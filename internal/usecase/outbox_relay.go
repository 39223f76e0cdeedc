package usecase

import (
	"context"
	"time"

	"spot/internal/domain/model"
	repo "spot/internal/repository"

	"github.com/rs/zerolog/log"
)

// バスへの出口
type EventPublisher interface {
	Publish(ctx context.Context, id string, topic string, payload []byte) error
}

type OutboxRelayConfig struct {
	Interval   time.Duration
	BatchSize  int
	ClaimLease time.Duration
}

// outboxをポーリングしてバスへ流す。
// 取得は短いtxで済ませ、publishとステータス更新はtxの外で1行ずつ行う。
type OutboxRelay struct {
	tx        repo.TransactionManager
	outbox    repo.OutboxRepository
	publisher EventPublisher
	clock     Clock
	cfg       OutboxRelayConfig
}

func NewOutboxRelay(tx repo.TransactionManager, outbox repo.OutboxRepository, publisher EventPublisher, clock Clock, cfg OutboxRelayConfig) *OutboxRelay {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = 30 * time.Second
	}
	return &OutboxRelay{tx: tx, outbox: outbox, publisher: publisher, clock: clock, cfg: cfg}
}

func (p *OutboxRelay) Start(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("outbox relay tick failed")
			}
		}
	}
}

// 1tick分。1行の失敗は他の行を止めない。
func (p *OutboxRelay) RunOnce(ctx context.Context) (published int, failed int, err error) {
	now := p.clock.Now()

	var claimed []model.OutboxRecord
	err = p.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		recs, err := r.Outbox().ClaimBatch(ctx, now, p.cfg.BatchSize, p.cfg.ClaimLease)
		if err != nil {
			return err
		}
		claimed = recs
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	if len(claimed) == 0 {
		return 0, 0, nil
	}

	log.Debug().Int("count", len(claimed)).Msg("outbox relay processing batch")

	for _, rec := range claimed {
		if p.relay(ctx, rec) {
			published++
		} else {
			failed++
		}
	}
	return published, failed, nil
}

func (p *OutboxRelay) relay(ctx context.Context, rec model.OutboxRecord) bool {
	if err := p.publisher.Publish(ctx, rec.ID, rec.EventType, []byte(rec.Payload)); err != nil {
		retry := rec.RetryCount + 1
		next := p.clock.Now().Add(model.OutboxBackoff(retry))
		log.Warn().Err(err).
			Str("outbox_id", rec.ID).
			Str("topic", rec.EventType).
			Int("attempt", retry).
			Time("next_attempt_at", next).
			Msg("failed to publish outbox event")

		if merr := p.outbox.MarkFailed(ctx, rec.ID, retry, next, err.Error()); merr != nil {
			//リース切れで再取得される
			log.Error().Err(merr).Str("outbox_id", rec.ID).Msg("failed to mark outbox event failed")
		}
		return false
	}

	if err := p.outbox.MarkPublished(ctx, rec.ID, p.clock.Now()); err != nil {
		//publish済みだがリース切れで再送される（at-least-once）
		log.Error().Err(err).Str("outbox_id", rec.ID).Str("topic", rec.EventType).Msg("failed to mark outbox event published")
	}
	return true
}
