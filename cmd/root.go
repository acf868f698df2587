/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/profilekit/accounts/config"
	"github.com/profilekit/accounts/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Account profiles backend and settings client",
	Long: `accounts serves the profile API (sessions, profiles, avatars) and ships
a client for managing the signed-in user's account settings.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure. SIGINT and
// SIGTERM cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var shown alertedError
		if !errors.As(err, &shown) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}

// alertedError marks an error the user has already been shown.
type alertedError struct {
	err error
}

func (e alertedError) Error() string { return e.err.Error() }
func (e alertedError) Unwrap() error { return e.err }

func newLogger(cfg config.Config, service string) (*zap.Logger, error) {
	logger, err := logging.New(cfg.Log, service)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}
