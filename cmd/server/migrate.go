package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mcp-gateway/backend/internal/repository"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the execution history table in PostgreSQL",
		RunE:  runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	pool, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	store := repository.NewPostgresExecutionStore(pool)
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("schema up to date", "host", cfg.Persistence.DB.Host, "name", cfg.Persistence.DB.Name)
	return nil
}
