// Package main provides the CLI entry point for noema, a layered,
// self-observing agent runtime.
//
// noema coordinates a single-consumer consciousness loop (the gateway) with
// a stack of inner layers that watch each other's transcripts, a dual-core
// pair that grows an independent identity alongside the gateway, and a
// subagent registry for spawned helper sessions.
//
// # Basic Usage
//
// Start the runtime:
//
//	noema serve --config noema.yaml
//
// Seed a fresh workspace:
//
//	noema setup --workspace ./workspace
//
// Inspect the configuration schema:
//
//	noema config schema
//
// # Environment Variables
//
//   - NOEMA_CONFIG: path to the configuration file (default: noema.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
package main

import (
	"log/slog"
	"os"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}
