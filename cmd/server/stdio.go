package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mcp-gateway/backend/internal/mcp"
)

func newStdioCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stdio",
		Short: "Serve MCP over stdin/stdout",
		Long:  "Runs the gateway as an MCP server on stdin/stdout so it can be launched directly by an MCP client. Logs go to stderr.",
		RunE:  runStdio,
	}
}

func runStdio(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	logger.Info("serving MCP on stdio", "backends", a.registry.Len())
	if err := mcp.ServeStdio(ctx, mcp.NewServer(a.gateway).GetMCPServer(), os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
