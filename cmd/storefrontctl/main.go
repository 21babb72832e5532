package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"storefront/internal/app"
	"storefront/internal/config"
	"storefront/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var Version = "dev"

// env resolves configuration and dependencies for a command run.
type env struct {
	load   func() (config.Config, error)
	build  func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error)
	openDB func(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error)
}

func defaultEnv() env {
	return env{
		load:   func() (config.Config, error) { return config.Load() },
		build:  app.Build,
		openDB: app.OpenPostgres,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(defaultEnv()).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(e env) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "storefrontctl",
		Short:         "Operator tooling for the storefront checkout saga",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(initSchemaCmd(e))
	rootCmd.AddCommand(reconcileCmd(e))
	rootCmd.AddCommand(expireCmd(e))
	rootCmd.AddCommand(releaseCmd(e))
	rootCmd.AddCommand(cancelCmd(e))
	return rootCmd
}

// withApp loads config, builds the service against Postgres and runs fn.
func withApp(cmd *cobra.Command, e env, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	cfg, err := e.load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Postgres.URL == "" {
		return errors.New("DATABASE_URL is required")
	}
	level, _ := cmd.Flags().GetString("log-level")
	logger, err := logging.New(logging.Config{Level: level, Env: cfg.Env})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := e.build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(ctx, a)
}
