package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "spot",
		Short:   "spot - order and payment services",
		Version: Version,
	}

	rootCmd.AddCommand(orderCmd())
	rootCmd.AddCommand(paymentCmd())
	rootCmd.AddCommand(outboxCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
