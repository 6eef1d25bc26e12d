package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mcp-gateway/backend/internal/workflow"
	"mcp-gateway/backend/pkg/models"
)

func newRunWorkflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run-workflow",
		Short: "Execute a workflow file against the configured backends",
		Long:  "Loads a YAML or JSON workflow definition, executes it and prints the execution report. Exits non-zero unless the workflow completes.",
		RunE:  runWorkflow,
	}
	cmd.Flags().StringP("file", "f", "", "Path to the workflow definition (YAML or JSON)")
	cmd.Flags().String("correlation-id", "", "Correlation id shared by every step")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runWorkflow(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	path, _ := cmd.Flags().GetString("file")
	def, err := workflow.LoadFile(path)
	if err != nil {
		return err
	}
	if id, _ := cmd.Flags().GetString("correlation-id"); id != "" {
		def.CorrelationID = id
	}

	cfg, v, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	a, err := buildApp(ctx, cfg, v, logger)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	report := a.gateway.ExecuteWorkflow(ctx, def)
	if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
		return err
	}
	if report.Status != models.ExecutionCompleted {
		return errors.New(workflowFailure(report))
	}
	return nil
}

func workflowFailure(report *models.ExecutionReport) string {
	if report.FailedAtStep == nil {
		return fmt.Sprintf("workflow %s", report.Status)
	}
	return fmt.Sprintf("workflow %s at step %d", report.Status, *report.FailedAtStep)
}
