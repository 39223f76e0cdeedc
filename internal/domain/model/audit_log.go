package model

import "time"

type AuditAction string

const (
	//注文ステータスを更新した操作。
	AuditActionUpdateOrderStatus AuditAction = "UPDATE_ORDER_STATUS"
	//決済を取り消した操作。
	AuditActionCancelPayment AuditAction = "CANCEL_PAYMENT"
	//決済手段（billing key）を登録した操作。
	AuditActionRegisterBilling AuditAction = "REGISTER_BILLING"
)

func (a AuditAction) Valid() bool {
	switch a {
	case AuditActionUpdateOrderStatus, AuditActionCancelPayment, AuditActionRegisterBilling:
		return true
	}
	return false
}

type AuditResourceType string

const (
	AuditResourceOrder   AuditResourceType = "order"
	AuditResourcePayment AuditResourceType = "payment"
	AuditResourceUser    AuditResourceType = "user"
)

func (t AuditResourceType) Valid() bool {
	switch t {
	case AuditResourceOrder, AuditResourcePayment, AuditResourceUser:
		return true
	}
	return false
}

// 監査ログ。
// 「誰が」「何を」「どの対象に」「どう変えたか」を残す。
// Actorはユーザー操作なら "user:<id>"、イベント起因なら "event:<topic>"。
type AuditLog struct {
	ID int64 `gorm:"primaryKey;autoIncrement" json:"id"`

	Actor string `gorm:"type:varchar(100);not null;index" json:"actor"`

	Action AuditAction `gorm:"type:varchar(50);not null;index" json:"action"`

	ResourceType AuditResourceType `gorm:"type:varchar(50);not null;index" json:"resource_type"`

	ResourceID string `gorm:"type:varchar(36);not null;index" json:"resource_id"`

	//JSON文字列で保存する。
	BeforeJSON string `gorm:"type:text" json:"before_json"`

	AfterJSON string `gorm:"type:text" json:"after_json"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}
