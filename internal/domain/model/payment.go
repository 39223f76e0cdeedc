package model

import "time"

type PaymentMethod string

const (
	PaymentMethodCreditCard   PaymentMethod = "CREDIT_CARD"
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	PaymentMethodEasyPay      PaymentMethod = "EASY_PAY"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCreditCard, PaymentMethodBankTransfer, PaymentMethodEasyPay:
		return true
	}
	return false
}

// 1注文につき有効な決済は1件だけ。
// ActiveOrderIDはユニーク制約でそれを保証する（失敗・全額取消でNULLに戻す）。
type Payment struct {
	ID              string        `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OrderID         string        `gorm:"type:varchar(36);not null;index" json:"order_id"`
	ActiveOrderID   *string       `gorm:"type:varchar(36);uniqueIndex" json:"-"`
	UserID          int64         `gorm:"not null;index" json:"user_id"`
	Title           string        `gorm:"type:varchar(255);not null" json:"title"`
	Content         string        `gorm:"type:text" json:"content"`
	Method          PaymentMethod `gorm:"type:varchar(30);not null" json:"method"`
	Amount          int64         `gorm:"not null" json:"amount"`
	CancelledAmount int64         `gorm:"not null;default:0" json:"cancelled_amount"`
	IdempotencyKey  string        `gorm:"type:varchar(255);not null;uniqueIndex" json:"-"`
	CreatedAt       time.Time     `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time     `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (p Payment) RemainingAmount() int64 {
	return p.Amount - p.CancelledAmount
}

// ゲートウェイが発行したpaymentKey。取消に必須。
type PaymentKey struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PaymentID   string    `gorm:"type:varchar(36);not null;uniqueIndex" json:"payment_id"`
	PaymentKey  string    `gorm:"type:varchar(255);not null" json:"payment_key"`
	ConfirmedAt time.Time `gorm:"not null" json:"confirmed_at"`
}

// ユーザーごとの自動決済手段。有効なものは1件だけ。
type UserBillingAuth struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID      int64     `gorm:"not null;index" json:"user_id"`
	CustomerKey string    `gorm:"type:varchar(255);not null" json:"customer_key"`
	AuthKey     string    `gorm:"type:varchar(255);not null" json:"-"`
	BillingKey  string    `gorm:"type:varchar(255);not null" json:"-"`
	IsActive    bool      `gorm:"not null;index" json:"is_active"`
	IssuedAt    time.Time `gorm:"not null" json:"issued_at"`
}

func (UserBillingAuth) TableName() string {
	return "user_billing_auths"
}
