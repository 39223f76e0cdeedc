package usecase

import (
	"context"
	"time"

	"spot/internal/domain/model"
	repo "spot/internal/repository"
)

// 業務データと同じtxでoutboxに1行積む。失敗したらtxごと巻き戻す。
func appendEvent(ctx context.Context, r repo.TxRepos, ids IDGenerator, now time.Time, aggregateType, aggregateID, topic string, payload any) error {
	rec, err := model.NewOutboxRecord(ids.NewID(), aggregateType, aggregateID, topic, payload, now)
	if err != nil {
		return err
	}
	return r.Outbox().Append(ctx, rec)
}
