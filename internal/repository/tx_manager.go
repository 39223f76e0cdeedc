package repository

import "context"

// トランザクション内で使う約束
type TxRepos interface {
	Orders() OrderRepository
	OrderItems() OrderItemRepository
	Outbox() OutboxRepository
	Payments() PaymentRepository
	PaymentHistories() PaymentHistoryRepository
	PaymentKeys() PaymentKeyRepository
	BillingAuths() BillingAuthRepository
	AuditLogs() AuditLogRepository
}

// UsecaseからTxの開始/commit/rollbackを隠す。
type TransactionManager interface {
	WithinTx(ctx context.Context, fn func(r TxRepos) error) error
}
