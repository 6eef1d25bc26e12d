package main

import (
	"os"

	"github.com/spf13/cobra"

	"mcp-gateway/backend/internal/services"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "server",
		Short:        "MCP hub-and-spoke gateway",
		Long:         "Routes namespaced tool calls to registered MCP backends, runs multi-step workflows and reports backend health.",
		Version:      services.Version,
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "Path to config file (default: ./config.yaml or ./config/config.yaml)")
	root.PersistentFlags().String("env", "", "Path to .env file")

	root.AddCommand(newServeCmd())
	root.AddCommand(newStdioCmd())
	root.AddCommand(newCheckHealthCmd())
	root.AddCommand(newRunWorkflowCmd())
	root.AddCommand(newMigrateCmd())
	return root
}
