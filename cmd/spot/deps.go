package main

import (
	"fmt"
	"time"

	"spot/internal/config"
	"spot/internal/infra/db"
	"spot/internal/infra/eventbus"
	"spot/internal/infra/resilience"
	"spot/internal/logger"
	"spot/internal/usecase"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type uuidGenerator struct{}

func (g *uuidGenerator) NewID() string {
	return uuid.NewString()
}

type realClock struct{}

func (c *realClock) Now() time.Time {
	return time.Now().UTC()
}

// 設定・logger・DB接続までの共通部分
func bootstrap(service string) (config.Config, *gorm.DB, error) {
	cfg, err := config.Load(service)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger.Setup(cfg.LogLevel, cfg.IsDev(), service)

	gormDB, err := db.Connect(cfg)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("connect db: %w", err)
	}
	return cfg, gormDB, nil
}

func rabbitOptions(cfg config.Config) eventbus.RabbitMQOptions {
	opts := eventbus.RabbitMQOptions{
		Exchange: cfg.ExchangeName,
		Prefetch: cfg.Prefetch,
	}
	if cfg.DeadLetterEnabled {
		opts.DeadLetterExchange = cfg.DeadLetterExchange
	}
	return opts
}

func relayConfig(cfg config.Config) usecase.OutboxRelayConfig {
	return usecase.OutboxRelayConfig{
		Interval:   cfg.OutboxPollInterval,
		BatchSize:  cfg.OutboxBatchSize,
		ClaimLease: cfg.OutboxClaimLease,
	}
}

// 外部呼び出し共通のretry/breaker/bulkhead/timeout
func resilienceSettings(cfg config.Config, name string) resilience.Settings {
	return resilience.Settings{
		Name:             name,
		FailureThreshold: cfg.BreakerFailureThreshold,
		OpenTimeout:      cfg.BreakerOpenTimeout,
		HalfOpenRequests: cfg.BreakerHalfOpenRequests,
		MaxConcurrent:    cfg.BulkheadSize,
		MaxAttempts:      cfg.RetryMaxAttempts,
		InitialInterval:  cfg.RetryInitialInterval,
		Timeout:          cfg.GatewayTimeout,
	}
}
