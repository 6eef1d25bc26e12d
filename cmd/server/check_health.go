package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"mcp-gateway/backend/internal/config"
	"mcp-gateway/backend/pkg/models"
)

func newCheckHealthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check-health",
		Short: "Probe every registered backend once and print the snapshot",
		RunE:  runCheckHealth,
	}
	cmd.Flags().Bool("strict", false, "Exit non-zero when any backend is not HEALTHY")
	return cmd
}

func runCheckHealth(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, v, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Persistence.Driver = config.DriverNone
	logger := newLogger(cfg)

	a, err := buildApp(ctx, cfg, v, logger)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	snapshot := a.aggregator.Snapshot(ctx)
	if err := writeJSON(cmd.OutOrStdout(), snapshot); err != nil {
		return err
	}

	strict, _ := cmd.Flags().GetBool("strict")
	if bad := len(snapshot.PerNamespace) - snapshot.Count(models.HealthHealthy); strict && bad > 0 {
		return fmt.Errorf("%d of %d backends are not healthy", bad, len(snapshot.PerNamespace))
	}
	return nil
}
