package usecase

import (
	"context"
	"strings"
	"time"

	"spot/internal/domain/model"
	repo "spot/internal/repository"
)

const (
	defaultAuditLogPage = 50
	maxAuditLogPage     = 200
)

// 監査ログの参照（管理者・サービス間のみ）
type AuditLogUsecase struct {
	logs repo.AuditLogRepository
}

func NewAuditLogUsecase(logs repo.AuditLogRepository) *AuditLogUsecase {
	return &AuditLogUsecase{logs: logs}
}

type AuditLogQuery struct {
	Actor        string
	Action       string
	ResourceType string
	ResourceID   string
	Since        *time.Time
	Until        *time.Time
	BeforeID     int64
	Limit        int
}

type AuditLogOutput struct {
	ID           int64     `json:"id"`
	Actor        string    `json:"actor"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id"`
	BeforeJSON   string    `json:"before_json"`
	AfterJSON    string    `json:"after_json"`
	CreatedAt    time.Time `json:"created_at"`
}

// NextBeforeIDが0なら続きはない
type AuditLogPage struct {
	Items        []AuditLogOutput `json:"items"`
	NextBeforeID int64            `json:"next_before_id,omitempty"`
}

func (u *AuditLogUsecase) List(ctx context.Context, p Principal, q AuditLogQuery) (AuditLogPage, error) {
	if !p.IsPrivileged() {
		return AuditLogPage{}, ErrForbidden
	}

	f := repo.AuditLogFilter{
		Actor:      strings.TrimSpace(q.Actor),
		ResourceID: strings.TrimSpace(q.ResourceID),
		Since:      q.Since,
		Until:      q.Until,
		BeforeID:   q.BeforeID,
		Limit:      q.Limit,
	}
	if a := model.AuditAction(strings.TrimSpace(q.Action)); a != "" {
		if !a.Valid() {
			return AuditLogPage{}, validationError("invalid action %q", q.Action)
		}
		f.Action = a
	}
	if t := model.AuditResourceType(strings.TrimSpace(q.ResourceType)); t != "" {
		if !t.Valid() {
			return AuditLogPage{}, validationError("invalid resource_type %q", q.ResourceType)
		}
		f.ResourceType = t
	}
	if f.Since != nil && f.Until != nil && !f.Since.Before(*f.Until) {
		return AuditLogPage{}, validationError("since must be before until")
	}
	if f.BeforeID < 0 || f.Limit < 0 {
		return AuditLogPage{}, validationError("before_id and limit must be >= 0")
	}
	if f.Limit == 0 || f.Limit > maxAuditLogPage {
		f.Limit = defaultAuditLogPage
	}

	logs, err := u.logs.List(ctx, f)
	if err != nil {
		return AuditLogPage{}, err
	}

	page := AuditLogPage{Items: make([]AuditLogOutput, 0, len(logs))}
	for _, l := range logs {
		page.Items = append(page.Items, AuditLogOutput{
			ID:           l.ID,
			Actor:        l.Actor,
			Action:       string(l.Action),
			ResourceType: string(l.ResourceType),
			ResourceID:   l.ResourceID,
			BeforeJSON:   l.BeforeJSON,
			AfterJSON:    l.AfterJSON,
			CreatedAt:    l.CreatedAt,
		})
	}
	//1ページ分埋まっていれば続きがあるかもしれない
	if n := len(logs); n > 0 && n >= f.Limit {
		page.NextBeforeID = logs[n-1].ID
	}
	return page, nil
}
