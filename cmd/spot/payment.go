package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"spot/internal/config"
	"spot/internal/consumer"
	"spot/internal/handler"
	"spot/internal/infra/db"
	"spot/internal/infra/eventbus"
	"spot/internal/infra/orderclient"
	infraRepo "spot/internal/infra/repository"
	"spot/internal/infra/resilience"
	"spot/internal/infra/toss"
	"spot/internal/server"
	"spot/internal/usecase"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func paymentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payment",
		Short: "Run the payment service (HTTP API, outbox relay, order event consumer, reconcile job)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runPayment(ctx)
		},
	}
	cmd.AddCommand(reconcileCmd())
	return cmd
}

func reconcileCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Resolve payments stuck in IN_PROGRESS against the gateway, once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gormDB, err := bootstrap(config.ServicePayment)
			if err != nil {
				return err
			}
			if olderThan <= 0 {
				olderThan = cfg.ReconcileAfter
			}
			saga := newPaymentSaga(cfg, gormDB, newGateway(cfg))
			rep, err := saga.Reconcile(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			fmt.Printf("checked=%d succeeded=%d failed=%d skipped=%d\n", rep.Checked, rep.Succeeded, rep.Failed, rep.Skipped)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "only payments in IN_PROGRESS longer than this (default RECONCILE_AFTER)")
	return cmd
}

// breakerの状態はclientごとに持つので、1プロセスで1つだけ作る
func newGateway(cfg config.Config) *toss.Client {
	return toss.NewClient(cfg.TossBaseURL, cfg.TossSecretKey, &http.Client{}, toss.NewPolicies(resilienceSettings(cfg, "toss")))
}

func newPaymentSaga(cfg config.Config, gormDB *gorm.DB, gw *toss.Client) *usecase.PaymentSaga {
	txm := infraRepo.NewTxManagerGorm(gormDB)
	repos := infraRepo.NewTxRepos(gormDB)
	orders := orderclient.NewClient(cfg.OrderServiceURL, cfg.JWTSecret, &http.Client{},
		resilience.NewPolicy(resilienceSettings(cfg, "order_lookup"), orderclient.IsTransient))

	return usecase.NewPaymentSaga(
		txm,
		repos.Payments(),
		repos.PaymentHistories(),
		repos.BillingAuths(),
		gw,
		orders,
		&uuidGenerator{},
		&realClock{},
	)
}

func runPayment(ctx context.Context) error {
	cfg, gormDB, err := bootstrap(config.ServicePayment)
	if err != nil {
		return err
	}
	if err := db.MigratePayment(gormDB); err != nil {
		return err
	}

	bus, err := eventbus.DialRabbitMQ(ctx, cfg.RabbitMQURL, rabbitOptions(cfg))
	if err != nil {
		return err
	}
	defer bus.Close()

	idGen := &uuidGenerator{}
	clock := &realClock{}
	txm := infraRepo.NewTxManagerGorm(gormDB)
	repos := infraRepo.NewTxRepos(gormDB)

	gw := newGateway(cfg)
	saga := newPaymentSaga(cfg, gormDB, gw)
	billing := usecase.NewBillingAuthUsecase(txm, gw, idGen, clock)

	if err := consumer.NewPaymentConsumer(saga, cfg.DeadLetterEnabled).Register(ctx, bus); err != nil {
		return err
	}

	relay := usecase.NewOutboxRelay(txm, repos.Outbox(), bus, clock, relayConfig(cfg))
	cleanup := usecase.NewOutboxCleanup(repos.Outbox(), clock, cfg.OutboxRetention)
	go relay.Start(ctx)
	go cleanup.Start(ctx, cfg.OutboxCleanupInterval)
	go saga.StartReconcile(ctx, cfg.ReconcileInterval, cfg.ReconcileAfter)

	audits := usecase.NewAuditLogUsecase(repos.AuditLogs())

	e := server.New(cfg, handler.NewPaymentHandler(saga, billing), handler.NewAuditLogHandler(audits))
	return server.Start(ctx, cfg.Addr(), e)
}
