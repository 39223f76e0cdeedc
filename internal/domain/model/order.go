package model

import (
	"fmt"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusAccepted  OrderStatus = "ACCEPTED"
	OrderStatusRejected  OrderStatus = "REJECTED"
	OrderStatusCooking   OrderStatus = "COOKING"
	OrderStatusReady     OrderStatus = "READY"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// 不正な状態遷移。注文は変更しない。
type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order transition: %s -> %s", e.From, e.To)
}

func ParseOrderStatus(s string) (OrderStatus, bool) {
	st := OrderStatus(s)
	return st, st.Valid()
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusAccepted, OrderStatusRejected, OrderStatusCooking,
		OrderStatusReady, OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

// 遷移表。終端（REJECTED/COMPLETED/CANCELLED）からは出られない。
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	switch s {
	case OrderStatusPending:
		return next == OrderStatusAccepted || next == OrderStatusRejected || next == OrderStatusCancelled
	case OrderStatusAccepted:
		return next == OrderStatusCooking || next == OrderStatusCancelled
	case OrderStatusCooking:
		return next == OrderStatusReady || next == OrderStatusCancelled
	case OrderStatusReady:
		return next == OrderStatusCompleted
	case OrderStatusRejected, OrderStatusCompleted, OrderStatusCancelled:
		return false
	default:
		return false
	}
}

func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusRejected, OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

// 受け取り前の注文（一覧の「進行中」）
func ActiveOrderStatuses() []OrderStatus {
	return []OrderStatus{OrderStatusPending, OrderStatusAccepted, OrderStatusCooking, OrderStatusReady}
}

type Order struct {
	ID             string      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID         int64       `gorm:"not null;index;uniqueIndex:idx_orders_user_idem,priority:1" json:"user_id"`
	StoreID        string      `gorm:"type:varchar(36);not null;index" json:"store_id"`
	OrderNumber    string      `gorm:"type:varchar(40);not null;uniqueIndex" json:"order_number"`
	Status         OrderStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	TotalPrice     int64       `gorm:"not null" json:"total_price"`
	PaymentMethod  string      `gorm:"type:varchar(30);not null" json:"payment_method"`
	IdempotencyKey string      `gorm:"type:varchar(255);not null;uniqueIndex:idx_orders_user_idem,priority:2" json:"-"`
	CancelReason   string      `gorm:"type:text" json:"cancel_reason,omitempty"`
	PickupTime     time.Time   `gorm:"not null" json:"pickup_time"`
	AcceptedAt     *time.Time  `json:"accepted_at,omitempty"`
	CreatedAt      time.Time   `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time   `gorm:"not null;autoUpdateTime" json:"updated_at"`

	Items []OrderItem `gorm:"foreignKey:OrderID" json:"items"`
}

// 遷移表を通してステータスを変える。失敗時は何も変えない。
func (o *Order) TransitionTo(next OrderStatus, now time.Time) error {
	if !o.Status.CanTransitionTo(next) {
		return &InvalidTransitionError{From: o.Status, To: next}
	}
	o.Status = next
	o.UpdatedAt = now
	if next == OrderStatusAccepted {
		t := now
		o.AcceptedAt = &t
	}
	return nil
}
