package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"spot/internal/config"
	"spot/internal/consumer"
	"spot/internal/handler"
	"spot/internal/infra/db"
	"spot/internal/infra/eventbus"
	infraRepo "spot/internal/infra/repository"
	"spot/internal/server"
	"spot/internal/usecase"

	"github.com/spf13/cobra"
)

func orderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "order",
		Short: "Run the order service (HTTP API, outbox relay, payment event consumer)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runOrder(ctx)
		},
	}
}

func runOrder(ctx context.Context) error {
	cfg, gormDB, err := bootstrap(config.ServiceOrder)
	if err != nil {
		return err
	}
	if err := db.MigrateOrder(gormDB); err != nil {
		return err
	}

	bus, err := eventbus.DialRabbitMQ(ctx, cfg.RabbitMQURL, rabbitOptions(cfg))
	if err != nil {
		return err
	}
	defer bus.Close()

	//usecaseに渡す部品
	idGen := &uuidGenerator{}
	clock := &realClock{}
	txm := infraRepo.NewTxManagerGorm(gormDB)
	repos := infraRepo.NewTxRepos(gormDB)

	sm := usecase.NewOrderStateMachine(txm, idGen, clock)
	orderUC := usecase.NewOrderUsecase(txm, repos.Orders(), sm, idGen, clock)

	if err := consumer.NewOrderConsumer(sm, cfg.DeadLetterEnabled).Register(ctx, bus); err != nil {
		return err
	}

	relay := usecase.NewOutboxRelay(txm, repos.Outbox(), bus, clock, relayConfig(cfg))
	cleanup := usecase.NewOutboxCleanup(repos.Outbox(), clock, cfg.OutboxRetention)
	go relay.Start(ctx)
	go cleanup.Start(ctx, cfg.OutboxCleanupInterval)

	audits := usecase.NewAuditLogUsecase(repos.AuditLogs())

	e := server.New(cfg, handler.NewOrderHandler(orderUC), handler.NewAuditLogHandler(audits))
	return server.Start(ctx, cfg.Addr(), e)
}
