// commands.go contains all cobra command definitions and their flag
// configurations. Each command builder creates a command and wires it to the
// storage facade.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/deckstore/internal/cache"
	"github.com/haasonsaas/deckstore/internal/config"
	"github.com/haasonsaas/deckstore/internal/deck"
	"github.com/haasonsaas/deckstore/internal/observability"
	"github.com/haasonsaas/deckstore/pkg/models"
)

// resolveConfigPath picks the config file: explicit flag, then
// DECKSTORE_CONFIG, then deckstore.yaml in the working directory.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("DECKSTORE_CONFIG"); env != "" {
		return env
	}
	return "deckstore.yaml"
}

// loadConfig reads the config file, falling back to defaults when the
// default path does not exist. An explicitly given path must exist.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !explicit {
			return config.Default(), nil
		}
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return config.Load(path)
}

// openService wires the configured tiers into a storage facade.
func openService(ctx context.Context, cfg *config.Config) (*deck.Service, error) {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})

	fallback, err := deck.NewLocalStore(cfg.Storage.Fallback.Dir)
	if err != nil {
		return nil, fmt.Errorf("open fallback store: %w", err)
	}

	var durable deck.Backend
	if cfg.Storage.Durable.Enabled {
		switch strings.ToLower(cfg.Storage.Durable.Driver) {
		case "s3":
			s3cfg := cfg.Storage.Durable.S3
			durable, err = deck.NewS3Store(ctx, &deck.S3StoreConfig{
				Bucket:          s3cfg.Bucket,
				Region:          s3cfg.Region,
				Endpoint:        s3cfg.Endpoint,
				Prefix:          s3cfg.Prefix,
				AccessKeyID:     s3cfg.AccessKeyID,
				SecretAccessKey: s3cfg.SecretAccessKey,
				UsePathStyle:    s3cfg.UsePathStyle,
			})
		case "sqlite":
			durable, err = deck.NewSQLiteStore(deck.SQLiteStoreConfig{
				Path: cfg.Storage.Durable.SQLite.Path,
			})
		default:
			err = fmt.Errorf("unknown durable driver %q", cfg.Storage.Durable.Driver)
		}
		if err != nil {
			return nil, fmt.Errorf("open durable store: %w", err)
		}
	}

	return deck.NewService(durable, fallback, deck.Options{
		Cache: cache.New(cache.Options{
			TTL:     cfg.Storage.Cache.TTL,
			MaxSize: cfg.Storage.Cache.MaxEntries,
		}),
		Logger:         logger,
		Metrics:        observability.NewMetrics(),
		DurableTimeout: cfg.Storage.Durable.Timeout,
	})
}

// withService handles the config-load / open / close bracket around a command
// body.
func withService(cmd *cobra.Command, configPath string, fn func(ctx context.Context, svc *deck.Service) error) error {
	explicit := configPath != ""
	path := resolveConfigPath(configPath)
	cfg, err := loadConfig(path, explicit)
	if err != nil {
		return err
	}
	svc, err := openService(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(cmd.Context(), svc)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readDocument(path string) (*models.Presentation, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	var p models.Presentation
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &p, nil
}

func buildCreateCmd() *cobra.Command {
	var configPath, by string
	cmd := &cobra.Command{
		Use:   "create <file.json|->",
		Short: "Create a presentation document from a JSON file (or stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(args[0])
			if err != nil {
				return err
			}
			return withService(cmd, configPath, func(ctx context.Context, svc *deck.Service) error {
				created, err := svc.Create(ctx, doc, by)
				if err != nil {
					return err
				}
				return printJSON(created)
			})
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().StringVar(&by, "by", "cli", "Author recorded on version entries")
	return cmd
}

func buildGetCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Load a presentation document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, configPath, func(ctx context.Context, svc *deck.Service) error {
				doc, err := svc.Load(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(doc)
			})
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	return cmd
}

func buildListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored presentation documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, configPath, func(ctx context.Context, svc *deck.Service) error {
				summaries, err := svc.List(ctx)
				if err != nil {
					return err
				}
				return printJSON(summaries)
			})
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	return cmd
}

func buildUpdateSlideCmd() *cobra.Command {
	var (
		configPath, by, summary, content string
		index                            int
	)
	cmd := &cobra.Command{
		Use:   "update-slide <id>",
		Short: "Merge content fields into one slide, recording a version",
		Example: `  deckstore update-slide 5f3a... --index 0 --content '{"title":"Q4 Results"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var fields map[string]any
			if err := json.Unmarshal([]byte(content), &fields); err != nil {
				return fmt.Errorf("parse --content: %w", err)
			}
			return withService(cmd, configPath, func(ctx context.Context, svc *deck.Service) error {
				slide, err := svc.UpdateSlide(ctx, args[0], index, fields, by, summary)
				if err != nil {
					return err
				}
				return printJSON(slide)
			})
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().IntVar(&index, "index", 0, "Zero-based slide index")
	cmd.Flags().StringVar(&content, "content", "", "JSON object of content fields to merge")
	cmd.Flags().StringVar(&by, "by", "cli", "Author recorded on the version entry")
	cmd.Flags().StringVar(&summary, "summary", "", "Change summary recorded on the version entry")
	cmd.MarkFlagRequired("content")
	return cmd
}

func buildUpdateMetaCmd() *cobra.Command {
	var configPath, by, summary, fieldsJSON string
	cmd := &cobra.Command{
		Use:   "update-meta <id>",
		Short: "Update document metadata (title, theme), recording a version",
		Example: `  deckstore update-meta 5f3a... --fields '{"title":"Q4 Final"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var fields map[string]any
			if err := json.Unmarshal([]byte(fieldsJSON), &fields); err != nil {
				return fmt.Errorf("parse --fields: %w", err)
			}
			return withService(cmd, configPath, func(ctx context.Context, svc *deck.Service) error {
				doc, err := svc.UpdateMetadata(ctx, args[0], fields, by, summary)
				if err != nil {
					return err
				}
				return printJSON(doc)
			})
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().StringVar(&fieldsJSON, "fields", "", "JSON object of metadata fields to apply")
	cmd.Flags().StringVar(&by, "by", "cli", "Author recorded on the version entry")
	cmd.Flags().StringVar(&summary, "summary", "", "Change summary recorded on the version entry")
	cmd.MarkFlagRequired("fields")
	return cmd
}

func buildDeleteCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a document and its version history from every tier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, configPath, func(ctx context.Context, svc *deck.Service) error {
				if err := svc.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "deleted %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	return cmd
}

func buildVersionsCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "versions <id>",
		Short: "List a document's version history, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, configPath, func(ctx context.Context, svc *deck.Service) error {
				versions, err := svc.ListVersions(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(versions)
			})
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	return cmd
}

func buildRestoreCmd() *cobra.Command {
	var configPath string
	var noBackup bool
	cmd := &cobra.Command{
		Use:   "restore <id> <version-id>",
		Short: "Restore a document to a version snapshot",
		Long: `Restore a document to the state captured in a version snapshot.

A backup version of the current state is recorded before the restore so the
operation can itself be undone; pass --no-backup to skip it.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, configPath, func(ctx context.Context, svc *deck.Service) error {
				doc, err := svc.Restore(ctx, args[0], args[1], !noBackup)
				if err != nil {
					return err
				}
				return printJSON(doc)
			})
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().BoolVar(&noBackup, "no-backup", false, "Skip the pre-restore backup version")
	return cmd
}

func buildCleanupCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "cleanup <id>",
		Short: "Remove orphaned slide elements, recording a version",
		Long: `Remove elements whose parent slide no longer exists. Slides without ids
are assigned one and their unparented elements adopted first, so legacy
documents are reconciled rather than stripped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, configPath, func(ctx context.Context, svc *deck.Service) error {
				removed, err := svc.CleanupOrphans(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(map[string]any{
					"removed_count": len(removed),
					"removed_ids":   removed,
				})
			})
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	return cmd
}
