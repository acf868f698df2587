/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"github.com/profilekit/accounts/config"
	"github.com/profilekit/accounts/internal/server"
	"github.com/spf13/cobra"
)

// workerCmd runs the profile event consumers on their own.
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume profile events and clean up replaced avatars",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		logger, err := newLogger(cfg, "accounts-worker")
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		w, err := server.NewWorker(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		return w.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
