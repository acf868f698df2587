/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/profilekit/accounts/config"
	"github.com/profilekit/accounts/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serverWithWorker bool

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Starts the accounts API server",
	Long: `Starts the accounts API server. Usage:

	accounts server [--worker]

With --worker the avatar janitor consumes profile events in the same process.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		logger, err := newLogger(cfg, "accounts-api")
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		srv, err := server.New(cmd.Context(), cfg, logger, server.WithWorker(serverWithWorker))
		if err != nil {
			logger.Error("failed to start server", zap.Error(err))
			return fmt.Errorf("failed to start server: %w", err)
		}
		if err := srv.Start(cmd.Context()); err != nil {
			logger.Error("server error", zap.Error(err))
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("server stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().BoolVar(&serverWithWorker, "worker", false, "also run the avatar janitor")
}
