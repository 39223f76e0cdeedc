package main

import (
	"fmt"

	"spot/internal/config"
	infraRepo "spot/internal/infra/repository"
	"spot/internal/usecase"

	"github.com/spf13/cobra"
)

func outboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Outbox maintenance",
	}
	cmd.AddCommand(outboxCleanupCmd())
	return cmd
}

func outboxCleanupCmd() *cobra.Command {
	var service string
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete PUBLISHED outbox rows older than OUTBOX_RETENTION",
		RunE: func(cmd *cobra.Command, args []string) error {
			if service != config.ServiceOrder && service != config.ServicePayment {
				return fmt.Errorf("--service must be order or payment")
			}
			cfg, gormDB, err := bootstrap(service)
			if err != nil {
				return err
			}
			repos := infraRepo.NewTxRepos(gormDB)
			deleted, err := usecase.NewOutboxCleanup(repos.Outbox(), &realClock{}, cfg.OutboxRetention).Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("deleted=%d\n", deleted)
			return nil
		},
	}
	cmd.Flags().StringVar(&service, "service", "order", "which service database to clean (order, payment)")
	return cmd
}
