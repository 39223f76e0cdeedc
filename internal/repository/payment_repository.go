package repository

import (
	"context"
	"time"

	"spot/internal/domain/model"
)

type PaymentRepository interface {
	// active_order_id / idempotency_key の重複はErrDuplicate
	Create(ctx context.Context, payment model.Payment) error
	FindByID(ctx context.Context, paymentID string) (model.Payment, error)
	FindByIDForUpdate(ctx context.Context, paymentID string) (model.Payment, error)

	// 有効（失敗・全額取消以外）な決済
	FindActiveByOrderID(ctx context.Context, orderID string) (model.Payment, error)
	FindActiveByOrderIDForUpdate(ctx context.Context, orderID string) (model.Payment, error)

	FindByIdempotencyKey(ctx context.Context, key string) (model.Payment, bool, error)

	// 注文に対して最後に作られた決済（有効かどうかは問わない）
	FindLatestByOrderID(ctx context.Context, orderID string) (model.Payment, error)

	// 有効枠を空ける（active_order_id = NULL）
	ReleaseActive(ctx context.Context, paymentID string) error
	AddCancelledAmount(ctx context.Context, paymentID string, amount int64) error
}

// 追記専用の台帳
type PaymentHistoryRepository interface {
	Append(ctx context.Context, h model.PaymentHistory) error
	Latest(ctx context.Context, paymentID string) (model.PaymentHistory, error)
	ListByPaymentID(ctx context.Context, paymentID string) ([]model.PaymentHistory, error)

	// 最新行が status で、その行が before より古い決済ID
	ListPaymentIDsByLatestStatus(ctx context.Context, status model.PaymentStatus, before time.Time, limit int) ([]string, error)
}

type PaymentKeyRepository interface {
	// 既にあれば何もしない
	SaveIfAbsent(ctx context.Context, key model.PaymentKey) error
	FindByPaymentID(ctx context.Context, paymentID string) (model.PaymentKey, error)
}

type BillingAuthRepository interface {
	FindActiveByUserID(ctx context.Context, userID int64) (model.UserBillingAuth, error)
	DeactivateAllByUserID(ctx context.Context, userID int64) error
	Create(ctx context.Context, auth model.UserBillingAuth) error
}
