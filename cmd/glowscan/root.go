package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/franckalain/glowscan/internal/app"
	"github.com/franckalain/glowscan/internal/config"
	"github.com/franckalain/glowscan/internal/database"
	"github.com/franckalain/glowscan/internal/knowledge"
	"github.com/franckalain/glowscan/internal/logging"
	"github.com/franckalain/glowscan/internal/ml"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "glowscan",
		Short:         "Skin analysis service",
		Long:          `glowscan scores skin photos, retrieves skincare knowledge and writes a short narrative for each scan.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", config.GetConfigPath(), "path to configuration file")

	root.AddCommand(newServeCmd(opts), newSeedCmd(opts))
	return root
}

// load reads configuration and builds the logger.
func (o *rootOptions) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(viper.New(), o.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	log, err := logging.New(cfg.Server.Debug)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return cfg, log, nil
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck
			if port != "" {
				cfg.Server.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "override server.port")
	return cmd
}

func newSeedCmd(opts *rootOptions) *cobra.Command {
	var seedFile string
	cmd := &cobra.Command{
		Use:   "seed-knowledge",
		Short: "Embed the knowledge base into the SQLite vector index",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck
			if seedFile == "" {
				seedFile = cfg.Knowledge.SeedFile
			}
			return seed(cmd.Context(), cfg, seedFile, log)
		},
	}
	cmd.Flags().StringVar(&seedFile, "file", "", "YAML knowledge base (defaults to the built-in one)")
	return cmd
}

func seed(ctx context.Context, cfg *config.Config, seedFile string, log *zap.Logger) error {
	entries, err := knowledge.LoadSeed(seedFile)
	if err != nil {
		return err
	}

	embedder, err := ml.NewGenAIEmbedder(ctx, app.MLConfig(cfg))
	if err != nil {
		return err
	}

	db, err := database.NewSQLiteDB(cfg.Store.SQLitePath, log)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	n, err := knowledge.Seed(ctx, embedder.ForDocuments(), db, entries)
	if err != nil {
		return err
	}
	log.Info("knowledge base seeded", zap.Int("entries", n), zap.String("path", cfg.Store.SQLitePath))
	return nil
}
