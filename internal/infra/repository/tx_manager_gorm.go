package repository

import (
	"context"

	repo "spot/internal/repository"

	"gorm.io/gorm"
)

type txReposGorm struct {
	orders           repo.OrderRepository
	orderItems       repo.OrderItemRepository
	outbox           repo.OutboxRepository
	payments         repo.PaymentRepository
	paymentHistories repo.PaymentHistoryRepository
	paymentKeys      repo.PaymentKeyRepository
	billingAuths     repo.BillingAuthRepository
	auditLogs        repo.AuditLogRepository
}

func (r *txReposGorm) Orders() repo.OrderRepository                    { return r.orders }
func (r *txReposGorm) OrderItems() repo.OrderItemRepository            { return r.orderItems }
func (r *txReposGorm) Outbox() repo.OutboxRepository                   { return r.outbox }
func (r *txReposGorm) Payments() repo.PaymentRepository                { return r.payments }
func (r *txReposGorm) PaymentHistories() repo.PaymentHistoryRepository { return r.paymentHistories }
func (r *txReposGorm) PaymentKeys() repo.PaymentKeyRepository          { return r.paymentKeys }
func (r *txReposGorm) BillingAuths() repo.BillingAuthRepository        { return r.billingAuths }
func (r *txReposGorm) AuditLogs() repo.AuditLogRepository              { return r.auditLogs }

type TxManagerGorm struct {
	db *gorm.DB
}

func NewTxManagerGorm(db *gorm.DB) *TxManagerGorm {
	return &TxManagerGorm{db: db}
}

func (tm *TxManagerGorm) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	return tm.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		//repoはtxを持ったDBで作り直す
		return fn(NewTxRepos(tx))
	})
}

// tx外で同じrepo群を使うとき用（読み取り・relay）
func NewTxRepos(db *gorm.DB) repo.TxRepos {
	return &txReposGorm{
		orders:           NewOrderGormRepository(db),
		orderItems:       NewOrderItemGormRepository(db),
		outbox:           NewOutboxGormRepository(db),
		payments:         NewPaymentGormRepository(db),
		paymentHistories: NewPaymentHistoryGormRepository(db),
		paymentKeys:      NewPaymentKeyGormRepository(db),
		billingAuths:     NewBillingAuthGormRepository(db),
		auditLogs:        NewAuditLogGormRepository(db),
	}
}
