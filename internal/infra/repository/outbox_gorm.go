package repository

import (
	"context"
	"time"

	"spot/internal/domain/model"
	repo "spot/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OutboxGormRepository struct {
	db *gorm.DB
}

func NewOutboxGormRepository(db *gorm.DB) *OutboxGormRepository {
	return &OutboxGormRepository{db: db}
}

func (r *OutboxGormRepository) Append(ctx context.Context, rec model.OutboxRecord) error {
	return r.db.WithContext(ctx).Create(&rec).Error
}

// FOR UPDATE SKIP LOCKED で取って、リース分だけnext_attempt_atを先に送る
func (r *OutboxGormRepository) ClaimBatch(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]model.OutboxRecord, error) {
	var recs []model.OutboxRecord
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status IN ? AND next_attempt_at <= ?", model.OutboxStatusesInto(model.OutboxStatusPublished), now).
		Order("created_at ASC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return recs, nil
	}

	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.ID)
	}
	leaseUntil := now.Add(lease)
	if err := r.db.WithContext(ctx).Model(&model.OutboxRecord{}).
		Where("id IN ?", ids).
		Update("next_attempt_at", leaseUntil).Error; err != nil {
		return nil, err
	}
	for i := range recs {
		recs[i].NextAttemptAt = leaseUntil
	}
	return recs, nil
}

func (r *OutboxGormRepository) MarkPublished(ctx context.Context, id string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&model.OutboxRecord{}).
		Where("id = ? AND status IN ?", id, model.OutboxStatusesInto(model.OutboxStatusPublished)).
		Updates(map[string]any{
			"status":       model.OutboxStatusPublished,
			"published_at": at,
			"last_error":   "",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrConflict
	}
	return nil
}

func (r *OutboxGormRepository) MarkFailed(ctx context.Context, id string, retryCount int, nextAttemptAt time.Time, lastErr string) error {
	res := r.db.WithContext(ctx).Model(&model.OutboxRecord{}).
		Where("id = ? AND status IN ?", id, model.OutboxStatusesInto(model.OutboxStatusFailed)).
		Updates(map[string]any{
			"status":          model.OutboxStatusFailed,
			"retry_count":     retryCount,
			"next_attempt_at": nextAttemptAt,
			"last_error":      lastErr,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrConflict
	}
	return nil
}

func (r *OutboxGormRepository) DeletePublishedBefore(ctx context.Context, threshold time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status = ? AND published_at < ?", model.OutboxStatusPublished, threshold).
		Delete(&model.OutboxRecord{})
	return res.RowsAffected, res.Error
}

func (r *OutboxGormRepository) ListByAggregateID(ctx context.Context, aggregateID string) ([]model.OutboxRecord, error) {
	var recs []model.OutboxRecord
	err := r.db.WithContext(ctx).
		Where("aggregate_id = ?", aggregateID).
		Order("created_at ASC").
		Find(&recs).Error
	if err != nil {
		return []model.OutboxRecord{}, err
	}
	return recs, nil
}
