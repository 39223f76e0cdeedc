package model

import "time"

type PaymentStatus string

const (
	PaymentStatusReady            PaymentStatus = "READY"
	PaymentStatusInProgress       PaymentStatus = "IN_PROGRESS"
	PaymentStatusSuccess          PaymentStatus = "SUCCESS"
	PaymentStatusCancelInProgress PaymentStatus = "CANCEL_IN_PROGRESS"
	PaymentStatusCancelled        PaymentStatus = "CANCELLED"
	PaymentStatusFailed           PaymentStatus = "FAILED"
)

// READY -> FAILED は承認前に注文が取り消されたときの無効化、
// CANCELLED -> CANCEL_IN_PROGRESS は部分取消の残額、
// FAILED -> CANCEL_IN_PROGRESS は取消失敗後の再取消。
// どちらもpaymentKeyの有無はusecase側で確認する。
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	switch s {
	case PaymentStatusReady:
		return next == PaymentStatusInProgress || next == PaymentStatusFailed
	case PaymentStatusInProgress:
		return next == PaymentStatusSuccess || next == PaymentStatusFailed
	case PaymentStatusSuccess:
		return next == PaymentStatusCancelInProgress
	case PaymentStatusCancelInProgress:
		return next == PaymentStatusCancelled || next == PaymentStatusFailed
	case PaymentStatusCancelled:
		return next == PaymentStatusCancelInProgress
	case PaymentStatusFailed:
		return next == PaymentStatusCancelInProgress
	default:
		return false
	}
}

// 決済ステップごとに1行追加する台帳。更新・削除はしない。
// 現在の状態は created_at（同時刻ならid）の最新行。
type PaymentHistory struct {
	ID           int64         `gorm:"primaryKey;autoIncrement" json:"id"`
	PaymentID    string        `gorm:"type:varchar(36);not null;index" json:"payment_id"`
	Status       PaymentStatus `gorm:"type:varchar(30);not null" json:"status"`
	PaymentKey   *string       `gorm:"type:varchar(255)" json:"payment_key,omitempty"`
	CancelAmount int64         `gorm:"not null;default:0" json:"cancel_amount,omitempty"`
	Reason       string        `gorm:"type:text" json:"reason,omitempty"`
	CreatedAt    time.Time     `gorm:"not null;index" json:"created_at"`
}

func (PaymentHistory) TableName() string {
	return "payment_histories"
}
