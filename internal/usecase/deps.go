package usecase

import (
	"fmt"
	"time"

	"spot/internal/domain/model"
)

// UUID 等のIDを作る約束
type IDGenerator interface {
	NewID() string
}

// 現在の時間
type Clock interface {
	Now() time.Time
}

// リクエストの主体。echo.Contextから取り出して引数で渡す。
type Principal struct {
	UserID int64
	Role   string
	// OWNER/MANAGERが担当する店舗
	StoreID string
}

// 監査ログのactor
func (p Principal) Actor() string {
	if p.Role == model.RoleInternal {
		return "service:internal"
	}
	return fmt.Sprintf("user:%d", p.UserID)
}

func (p Principal) IsPrivileged() bool {
	return p.Role == model.RoleInternal || p.Role == model.RoleAdmin
}

// 本人か、特権ロール
func (p Principal) CanAccess(ownerID int64) bool {
	return p.IsPrivileged() || (p.UserID > 0 && p.UserID == ownerID)
}

func (p Principal) IsStoreStaff() bool {
	return p.Role == model.RoleOwner || p.Role == model.RoleManager
}

// 担当店舗のスタッフか、特権ロール
func (p Principal) CanManageStore(storeID string) bool {
	if p.IsPrivileged() {
		return true
	}
	return p.IsStoreStaff() && p.StoreID != "" && p.StoreID == storeID
}

// 注文者本人、その店舗のスタッフ、特権ロール
func (p Principal) CanReadOrder(o model.Order) bool {
	return p.CanAccess(o.UserID) || p.CanManageStore(o.StoreID)
}

func eventActor(topic string) string {
	return "event:" + topic
}
