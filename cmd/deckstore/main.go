// Package main provides the CLI entry point for deckstore, a tiered
// presentation-document store.
//
// Documents live in three tiers: a bounded in-memory cache, a durable backend
// (S3-compatible object storage or SQLite), and a local filesystem fallback
// that keeps the store usable when the durable tier is unreachable. Every
// mutation records a version snapshot that can be listed and restored.
//
// # Basic Usage
//
// Create a document from a JSON file:
//
//	deckstore create deck.json
//
// Edit a slide and look at the history:
//
//	deckstore update-slide <id> --index 0 --content '{"title":"New title"}'
//	deckstore versions <id>
//	deckstore restore <id> <version-id>
//
// # Environment Variables
//
//   - DECKSTORE_CONFIG: Path to configuration file (default: deckstore.yaml)
//   - AWS credentials are resolved the usual SDK way when storage.durable.s3
//     omits static keys.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
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

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "deckstore",
		Short: "Deckstore - Tiered presentation document store",
		Long: `Deckstore stores presentation documents across three tiers: a bounded
in-memory cache, a durable backend (S3 or SQLite), and a local filesystem
fallback used when the durable tier is unreachable.

Every mutation records a version snapshot; history can be listed and any
snapshot restored, with a backup version taken before the restore.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildCreateCmd(),
		buildGetCmd(),
		buildListCmd(),
		buildUpdateSlideCmd(),
		buildUpdateMetaCmd(),
		buildDeleteCmd(),
		buildVersionsCmd(),
		buildRestoreCmd(),
		buildCleanupCmd(),
	)
	return rootCmd
}
