package repository

import (
	"context"

	"spot/internal/domain/model"
	repo "spot/internal/repository"

	"gorm.io/gorm"
)

const (
	defaultAuditLogLimit = 50
	maxAuditLogLimit     = 200
)

type auditLogGormRepository struct {
	db *gorm.DB
}

func NewAuditLogGormRepository(db *gorm.DB) repo.AuditLogRepository {
	return &auditLogGormRepository{db: db}
}

func (r *auditLogGormRepository) Create(ctx context.Context, log model.AuditLog) error {
	return r.db.WithContext(ctx).Create(&log).Error
}

// id降順のkeysetページング
func (r *auditLogGormRepository) List(ctx context.Context, f repo.AuditLogFilter) ([]model.AuditLog, error) {
	logs := []model.AuditLog{}
	err := r.db.WithContext(ctx).
		Scopes(auditLogMatches(f), auditLogPage(f)).
		Order("id DESC").
		Find(&logs).Error
	if err != nil {
		return []model.AuditLog{}, err
	}
	return logs, nil
}

func auditLogMatches(f repo.AuditLogFilter) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		eq := map[string]any{}
		if f.Actor != "" {
			eq["actor"] = f.Actor
		}
		if f.Action != "" {
			eq["action"] = string(f.Action)
		}
		if f.ResourceType != "" {
			eq["resource_type"] = string(f.ResourceType)
		}
		if f.ResourceID != "" {
			eq["resource_id"] = f.ResourceID
		}
		if len(eq) > 0 {
			db = db.Where(eq)
		}
		if f.Since != nil {
			db = db.Where("created_at >= ?", *f.Since)
		}
		if f.Until != nil {
			db = db.Where("created_at < ?", *f.Until)
		}
		return db
	}
}

func auditLogPage(f repo.AuditLogFilter) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if f.BeforeID > 0 {
			db = db.Where("id < ?", f.BeforeID)
		}
		limit := f.Limit
		if limit <= 0 {
			limit = defaultAuditLogLimit
		}
		if limit > maxAuditLogLimit {
			limit = maxAuditLogLimit
		}
		return db.Limit(limit)
	}
}
