package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yamakatsunamamugi/autoai/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "autoai",
	Short: "Spreadsheet-driven batch runner for chat AI backends",
	Long:  "Reads prompt rows from a workbook, fans them out across AI backends, drives each task through the staged submit protocol and writes answers and audit logs back to the local store.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
