package main

import (
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that starts the runtime: the
// gateway loop, the inner-layer stack, the dual-core observation loop, and
// (if enabled) the conductor's stdin command loop.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the consciousness loop, layer stack, and dual-core pair",
		Long: `Start noema with all configured layers.

The runtime will:
1. Load configuration from the specified file (or noema.yaml)
2. Bootstrap the layered workspace (L0-L3, core-a, core-b)
3. Start the gateway's consciousness loop
4. Start the inner-layer stack's delta watchers
5. Start the dual-core pair's observation loop
6. Start the conductor's stdin command loop, if enabled

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		Example: `  # Start with default config
  noema serve

  # Start with a custom config
  noema serve --config ./noema.yaml

  # Start with debug logging
  noema serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging (verbose output)")
	return cmd
}
