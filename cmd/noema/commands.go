package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// defaultConfigPath is used when --config is not set and NOEMA_CONFIG is
// unset.
const defaultConfigPath = "noema.yaml"

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to keep it testable.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "noema",
		Short: "noema - a layered, self-observing agent runtime",
		Long: `noema runs a consciousness loop (a single-consumer priority event queue
coordinating streaming LLM calls, concurrent tools, and human preemption)
alongside a stack of inner layers that observe each other's transcripts and
a dual-core pair that grows an independent identity over time.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildSetupCmd(),
		buildConfigCmd(),
	)

	return rootCmd
}

// resolveConfigPath fills in a config path when the --config flag was left
// at its zero value, falling back to NOEMA_CONFIG and finally
// defaultConfigPath.
func resolveConfigPath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed != "" && trimmed != defaultConfigPath {
		return trimmed
	}
	if env := strings.TrimSpace(os.Getenv("NOEMA_CONFIG")); env != "" {
		return env
	}
	return defaultConfigPath
}
