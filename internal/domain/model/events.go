package model

import "time"

// バスのtopic名。outboxのevent_typeにもそのまま入る。
const (
	TopicOrderCreated     = "order.created"
	TopicOrderPending     = "order.pending"
	TopicOrderAccepted    = "order.accepted"
	TopicOrderCancelled   = "order.cancelled"
	TopicPaymentSucceeded = "payment.succeeded"
	TopicAuthRequired     = "payment-auth.required"
	TopicPaymentRefunded  = "payment.refunded"
)

type OrderCreatedEvent struct {
	OrderID       string    `json:"orderId"`
	UserID        int64     `json:"userId"`
	StoreID       string    `json:"storeId"`
	Amount        int64     `json:"amount"`
	PaymentMethod string    `json:"paymentMethod"`
	Title         string    `json:"title"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// 決済手段の登録待ちで注文がPENDINGのまま止まっていることの通知。
type OrderPendingEvent struct {
	OrderID    string    `json:"orderId"`
	UserID     int64     `json:"userId"`
	StoreID    string    `json:"storeId"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurredAt"`
}

type OrderAcceptedEvent struct {
	OrderID    string    `json:"orderId"`
	UserID     int64     `json:"userId"`
	StoreID    string    `json:"storeId"`
	OccurredAt time.Time `json:"occurredAt"`
}

type OrderCancelledEvent struct {
	OrderID    string      `json:"orderId"`
	UserID     int64       `json:"userId"`
	Status     OrderStatus `json:"status"`
	Reason     string      `json:"reason"`
	OccurredAt time.Time   `json:"occurredAt"`
}

type PaymentSucceededEvent struct {
	OrderID    string    `json:"orderId"`
	UserID     int64     `json:"userId"`
	PaymentID  string    `json:"paymentId"`
	Amount     int64     `json:"amount"`
	OccurredAt time.Time `json:"occurredAt"`
}

type AuthRequiredEvent struct {
	OrderID    string    `json:"orderId"`
	UserID     int64     `json:"userId"`
	PaymentID  string    `json:"paymentId"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurredAt"`
}

type PaymentRefundedEvent struct {
	OrderID      string    `json:"orderId"`
	PaymentID    string    `json:"paymentId"`
	CancelAmount int64     `json:"cancelAmount"`
	Remaining    int64     `json:"remaining"`
	OccurredAt   time.Time `json:"occurredAt"`
}
