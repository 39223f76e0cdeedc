package repository

import (
	"context"
	"errors"
	"time"

	"spot/internal/domain/model"
	repo "spot/internal/repository"

	"gorm.io/gorm"
)

type PaymentHistoryGormRepository struct {
	db *gorm.DB
}

func NewPaymentHistoryGormRepository(db *gorm.DB) *PaymentHistoryGormRepository {
	return &PaymentHistoryGormRepository{db: db}
}

func (r *PaymentHistoryGormRepository) Append(ctx context.Context, h model.PaymentHistory) error {
	//IDは採番に任せる
	h.ID = 0
	return r.db.WithContext(ctx).Create(&h).Error
}

func (r *PaymentHistoryGormRepository) Latest(ctx context.Context, paymentID string) (model.PaymentHistory, error) {
	var h model.PaymentHistory
	err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at DESC").
		Order("id DESC").
		First(&h).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.PaymentHistory{}, repo.ErrNotFound
	}
	if err != nil {
		return model.PaymentHistory{}, err
	}
	return h, nil
}

// 古い順
func (r *PaymentHistoryGormRepository) ListByPaymentID(ctx context.Context, paymentID string) ([]model.PaymentHistory, error) {
	var hs []model.PaymentHistory
	err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&hs).Error
	if err != nil {
		return []model.PaymentHistory{}, err
	}
	return hs, nil
}

func (r *PaymentHistoryGormRepository) ListPaymentIDsByLatestStatus(ctx context.Context, status model.PaymentStatus, before time.Time, limit int) ([]string, error) {
	//決済ごとの最新行
	latest := r.db.Model(&model.PaymentHistory{}).
		Select("MAX(id)").
		Group("payment_id")

	var ids []string
	err := r.db.WithContext(ctx).Model(&model.PaymentHistory{}).
		Where("id IN (?)", latest).
		Where("status = ? AND created_at < ?", status, before).
		Order("created_at ASC").
		Limit(limit).
		Pluck("payment_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
