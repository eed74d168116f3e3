// Package main provides the CLI entry point for the world runtime: a
// server-side engine that hosts long-lived "worlds" of LLM-backed agents
// and human participants, routes messages between them, and streams
// fine-grained events to subscribed clients over a websocket transport.
//
// # Basic usage
//
// Start the server:
//
//	worldrt serve --config worldrt.yaml
//
// Sync skill directories without starting the server:
//
//	worldrt skills sync --config worldrt.yaml
//
// Show the effective configuration:
//
//	worldrt config show
//
// # Environment variables
//
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY: LLM provider credentials.
//   - SERVER_HOST, SERVER_PORT: transport listen address.
//   - DATA_PATH, STORAGE_TYPE: StorageAPI backend selection.
//   - LOG_LEVEL_GLOBAL, LOG_LEVEL_<CATEGORY>: hierarchical log levels.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd assembles the root command and its subcommands. Separated
// from main so it can be exercised without a process exit.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "worldrt",
		Short: "worldrt - multi-agent conversation runtime",
		Long: `worldrt hosts long-lived worlds of LLM-backed agents and human
participants, routes messages between them, invokes LLM providers with
per-agent memory and tool access, and streams events to subscribed
clients over a websocket transport.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildSkillsCmd(),
		buildConfigCmd(),
	)

	return rootCmd
}
