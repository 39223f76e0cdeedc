package repository

import (
	"context"
	"time"

	"spot/internal/domain/model"
)

// 監査ログの絞り込み。ゼロ値の項目は条件にしない。
// 新しい順に返すので、次のページは前ページ最後のIDをBeforeIDに渡す。
type AuditLogFilter struct {
	Actor        string
	Action       model.AuditAction
	ResourceType model.AuditResourceType
	ResourceID   string
	Since        *time.Time
	Until        *time.Time
	BeforeID     int64
	Limit        int
}

type AuditLogRepository interface {
	//業務の更新と同じtxで1件書く
	Create(ctx context.Context, log model.AuditLog) error

	List(ctx context.Context, filter AuditLogFilter) ([]model.AuditLog, error)
}
