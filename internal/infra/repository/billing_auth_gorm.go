package repository

import (
	"context"
	"errors"

	"spot/internal/domain/model"
	repo "spot/internal/repository"

	"gorm.io/gorm"
)

type BillingAuthGormRepository struct {
	db *gorm.DB
}

func NewBillingAuthGormRepository(db *gorm.DB) *BillingAuthGormRepository {
	return &BillingAuthGormRepository{db: db}
}

func (r *BillingAuthGormRepository) FindActiveByUserID(ctx context.Context, userID int64) (model.UserBillingAuth, error) {
	var a model.UserBillingAuth
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("issued_at DESC").
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.UserBillingAuth{}, repo.ErrNotFound
	}
	if err != nil {
		return model.UserBillingAuth{}, err
	}
	return a, nil
}

func (r *BillingAuthGormRepository) DeactivateAllByUserID(ctx context.Context, userID int64) error {
	return r.db.WithContext(ctx).Model(&model.UserBillingAuth{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Update("is_active", false).Error
}

func (r *BillingAuthGormRepository) Create(ctx context.Context, auth model.UserBillingAuth) error {
	return r.db.WithContext(ctx).Create(&auth).Error
}
