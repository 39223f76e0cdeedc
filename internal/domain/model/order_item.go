package model

import (
	"fmt"
	"time"
)

// 注文時点のメニュー情報のスナップショット。メニューが後で変わっても注文は変わらない。
type OrderItem struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OrderID   string    `gorm:"type:varchar(36);not null;index" json:"order_id"`
	MenuID    string    `gorm:"type:varchar(36);not null" json:"menu_id"`
	MenuName  string    `gorm:"type:varchar(255);not null" json:"menu_name"`
	MenuPrice int64     `gorm:"not null" json:"menu_price"`
	Quantity  int64     `gorm:"not null" json:"quantity"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`

	Options []OrderItemOption `gorm:"foreignKey:OrderItemID" json:"options"`
}

type OrderItemOption struct {
	ID           string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OrderItemID  string `gorm:"type:varchar(36);not null;index" json:"order_item_id"`
	MenuOptionID string `gorm:"type:varchar(36);not null" json:"menu_option_id"`
	OptionName   string `gorm:"type:varchar(255);not null" json:"option_name"`
	OptionDetail string `gorm:"type:varchar(255)" json:"option_detail"`
	OptionPrice  int64  `gorm:"not null" json:"option_price"`
}

type ItemValidationError struct {
	Field  string
	Reason string
}

func (e *ItemValidationError) Error() string {
	return fmt.Sprintf("invalid order item %s: %s", e.Field, e.Reason)
}

func (it OrderItem) Validate() error {
	if it.MenuID == "" {
		return &ItemValidationError{Field: "menu_id", Reason: "required"}
	}
	if it.MenuName == "" {
		return &ItemValidationError{Field: "menu_name", Reason: "required"}
	}
	if it.MenuPrice < 0 {
		return &ItemValidationError{Field: "menu_price", Reason: "must be >= 0"}
	}
	if it.Quantity < 0 {
		return &ItemValidationError{Field: "quantity", Reason: "must be >= 0"}
	}
	for _, op := range it.Options {
		if op.MenuOptionID == "" {
			return &ItemValidationError{Field: "menu_option_id", Reason: "required"}
		}
		if op.OptionName == "" {
			return &ItemValidationError{Field: "option_name", Reason: "required"}
		}
		if op.OptionPrice < 0 {
			return &ItemValidationError{Field: "option_price", Reason: "must be >= 0"}
		}
	}
	return nil
}

// (メニュー価格 + オプション合計) x 数量
func (it OrderItem) Subtotal() int64 {
	unit := it.MenuPrice
	for _, op := range it.Options {
		unit += op.OptionPrice
	}
	return unit * it.Quantity
}
