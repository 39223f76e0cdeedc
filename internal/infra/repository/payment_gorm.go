package repository

import (
	"context"
	"errors"

	"spot/internal/domain/model"
	repo "spot/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PaymentGormRepository struct {
	db *gorm.DB
}

func NewPaymentGormRepository(db *gorm.DB) *PaymentGormRepository {
	return &PaymentGormRepository{db: db}
}

func (r *PaymentGormRepository) Create(ctx context.Context, payment model.Payment) error {
	err := r.db.WithContext(ctx).Create(&payment).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return repo.ErrDuplicate
	}
	return err
}

func (r *PaymentGormRepository) FindByID(ctx context.Context, paymentID string) (model.Payment, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", paymentID))
}

func (r *PaymentGormRepository) FindByIDForUpdate(ctx context.Context, paymentID string) (model.Payment, error) {
	return r.first(r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", paymentID))
}

func (r *PaymentGormRepository) FindActiveByOrderID(ctx context.Context, orderID string) (model.Payment, error) {
	return r.first(r.db.WithContext(ctx).Where("active_order_id = ?", orderID))
}

func (r *PaymentGormRepository) FindActiveByOrderIDForUpdate(ctx context.Context, orderID string) (model.Payment, error) {
	return r.first(r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("active_order_id = ?", orderID))
}

func (r *PaymentGormRepository) FindByIdempotencyKey(ctx context.Context, key string) (model.Payment, bool, error) {
	p, err := r.first(r.db.WithContext(ctx).Where("idempotency_key = ?", key))
	if errors.Is(err, repo.ErrNotFound) {
		return model.Payment{}, false, nil
	}
	if err != nil {
		return model.Payment{}, false, err
	}
	return p, true, nil
}

func (r *PaymentGormRepository) FindLatestByOrderID(ctx context.Context, orderID string) (model.Payment, error) {
	return r.first(r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		Order("id DESC"))
}

func (r *PaymentGormRepository) ReleaseActive(ctx context.Context, paymentID string) error {
	res := r.db.WithContext(ctx).Model(&model.Payment{}).
		Where("id = ?", paymentID).
		Update("active_order_id", nil)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// 取消累計が金額を超える更新は弾く
func (r *PaymentGormRepository) AddCancelledAmount(ctx context.Context, paymentID string, amount int64) error {
	res := r.db.WithContext(ctx).Model(&model.Payment{}).
		Where("id = ? AND cancelled_amount + ? <= amount", paymentID, amount).
		Update("cancelled_amount", gorm.Expr("cancelled_amount + ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrConflict
	}
	return nil
}

func (r *PaymentGormRepository) first(q *gorm.DB) (model.Payment, error) {
	var p model.Payment
	err := q.First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Payment{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Payment{}, err
	}
	return p, nil
}
