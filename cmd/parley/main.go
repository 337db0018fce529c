// Package main is the CLI entry point for Parley, a conversational
// request-orchestration gateway: it admits chat messages under
// concurrency bounds, assembles and compresses context, selects tools
// by intent, invokes an LLM backend, executes requested tools
// concurrently, and delivers a single synthesized reply.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "parley",
		Short: "Parley conversational orchestration gateway",
		Long: `Parley connects chat surfaces to LLM providers with intent-gated
tool execution, per-channel concurrency control, and context
compression.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(buildServeCmd())
	rootCmd.AddCommand(buildVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("parley %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Parley gateway",
		Long: `Start the gateway with all configured transports and providers.

The server loads configuration, opens the history store, registers the
tool set, connects the Discord transport when enabled, and serves
/metrics when configured. SIGINT/SIGTERM trigger graceful shutdown.`,
		Example: `  # Start with default config
  parley serve

  # Start with custom config
  parley serve --config /etc/parley/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "parley.yaml",
		"Path to YAML or JSON5 configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging")

	return cmd
}
