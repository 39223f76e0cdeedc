package gateway

import (
	"context"
	"time"
)

// 決済プロバイダの支払い状態
const (
	StatusDone            = "DONE"
	StatusCanceled        = "CANCELED"
	StatusPartialCanceled = "PARTIAL_CANCELED"
	StatusAborted         = "ABORTED"
	StatusExpired         = "EXPIRED"
)

// プロバイダ側で請求が成立していない（またはすでに全額戻っている）状態
func IsNotCharged(status string) bool {
	switch status {
	case StatusAborted, StatusExpired, StatusCanceled:
		return true
	}
	return false
}

// 自動決済（billing key）での請求。
// OrderIDはプロバイダ側の注文ID。同じ注文の再決済と混ざらないよう決済ごとに変える。
type ChargeRequest struct {
	BillingKey     string
	CustomerKey    string
	OrderID        string
	OrderName      string
	Amount         int64
	IdempotencyKey string
}

type ChargeResult struct {
	PaymentKey  string
	OrderID     string
	Status      string
	TotalAmount int64
	ApprovedAt  time.Time
}

// CancelAmount が0なら全額取消
type CancelRequest struct {
	PaymentKey     string
	Reason         string
	CancelAmount   int64
	IdempotencyKey string
}

type CancelResult struct {
	PaymentKey    string
	Status        string
	BalanceAmount int64
}

type IssueBillingKeyRequest struct {
	AuthKey     string
	CustomerKey string
}

type BillingKeyResult struct {
	BillingKey      string
	CustomerKey     string
	AuthenticatedAt time.Time
}

// プロバイダ側に記録されている注文の支払い
type PaymentRecord struct {
	PaymentKey  string
	OrderID     string
	Status      string
	TotalAmount int64
	ApprovedAt  time.Time
}

// 外部決済プロバイダへの出口。
// 返すエラーはこのパッケージのエラーにそろえる。
type PaymentGateway interface {
	ChargeBilling(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	Cancel(ctx context.Context, req CancelRequest) (CancelResult, error)
	IssueBillingKey(ctx context.Context, req IssueBillingKeyRequest) (BillingKeyResult, error)
	FindByOrderID(ctx context.Context, orderID string) (PaymentRecord, error)
}
