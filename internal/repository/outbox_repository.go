package repository

import (
	"context"
	"time"

	"spot/internal/domain/model"
)

// outboxテーブルの約束。
// Appendは必ず呼び出し側のトランザクション内（TxRepos経由）で使う。
type OutboxRepository interface {
	Append(ctx context.Context, rec model.OutboxRecord) error

	// INIT/FAILEDで next_attempt_at <= now の行を古い順にlimit件取り、
	// next_attempt_at を now+lease にずらして他のrelayから見えなくする。
	ClaimBatch(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]model.OutboxRecord, error)

	MarkPublished(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, retryCount int, nextAttemptAt time.Time, lastErr string) error

	// PUBLISHEDだけを消す
	DeletePublishedBefore(ctx context.Context, threshold time.Time) (int64, error)

	ListByAggregateID(ctx context.Context, aggregateID string) ([]model.OutboxRecord, error)
}
