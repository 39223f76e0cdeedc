package db

import (
	"fmt"
	"time"

	"spot/internal/config"
	"spot/internal/domain/model"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect はDBに接続して *gorm.DB を返す。
func Connect(cfg config.Config) (*gorm.DB, error) {
	dsn := cfg.DatabaseURL
	if dsn == "" {
		dsn = fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDB, cfg.PostgresSSLMode,
		)
	}
	return gorm.Open(postgres.Open(dsn), Options())
}

// ユニーク制約違反を gorm.ErrDuplicatedKey に揃える。時刻はUTC。
func Options() *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
		Logger:         logger.Default.LogMode(logger.Warn),
	}
}

// 注文サービスのテーブル
func MigrateOrder(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Order{},
		&model.OrderItem{},
		&model.OrderItemOption{},
		&model.OutboxRecord{},
		&model.AuditLog{},
	)
}

// 決済サービスのテーブル
func MigratePayment(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Payment{},
		&model.PaymentHistory{},
		&model.PaymentKey{},
		&model.UserBillingAuth{},
		&model.OutboxRecord{},
		&model.AuditLog{},
	)
}
