package repository

import (
	"context"
	"errors"

	"spot/internal/domain/model"
	repo "spot/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PaymentKeyGormRepository struct {
	db *gorm.DB
}

func NewPaymentKeyGormRepository(db *gorm.DB) *PaymentKeyGormRepository {
	return &PaymentKeyGormRepository{db: db}
}

func (r *PaymentKeyGormRepository) SaveIfAbsent(ctx context.Context, key model.PaymentKey) error {
	key.ID = 0
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "payment_id"}},
			DoNothing: true,
		}).
		Create(&key).Error
}

func (r *PaymentKeyGormRepository) FindByPaymentID(ctx context.Context, paymentID string) (model.PaymentKey, error) {
	var k model.PaymentKey
	err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&k).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.PaymentKey{}, repo.ErrNotFound
	}
	if err != nil {
		return model.PaymentKey{}, err
	}
	return k, nil
}
