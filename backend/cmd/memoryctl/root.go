package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"graph-memory/backend/internal/services"
	"graph-memory/backend/pkg/config"
	"graph-memory/backend/pkg/logger"
)

type ctxKey struct{}

// NewRootCmd creates the memoryctl command tree. Every subcommand talks to
// the configured store directly; no running server is needed.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "memoryctl",
		Short:         "Operate a graph memory store",
		Long:          "memoryctl runs maintenance jobs, applies the Neo4j schema and reports health and statistics for a graph memory deployment.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd)
		},
	}

	root.PersistentFlags().String("store", "", `graph store backend ("neo4j" or "memory"); overrides STORE_BACKEND`)
	root.PersistentFlags().String("log-level", "", "log level; overrides LOG_LEVEL")

	root.AddCommand(
		newJobsCmd(),
		newHealthCmd(),
		newStatsCmd(),
		newMigrateCmd(),
	)

	return root
}

// loadConfig reads the environment, applies flag overrides and stores the
// result on the command context.
func loadConfig(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if store, _ := cmd.Flags().GetString("store"); store != "" {
		cfg.StoreBackend = store
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "warn"
	}
	if err := logger.Init(cfg.Env, cfg.LogLevel); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	cmd.SetContext(context.WithValue(contextOf(cmd), ctxKey{}, cfg))
	return nil
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func configFrom(cmd *cobra.Command) *config.Config {
	if cfg, ok := contextOf(cmd).Value(ctxKey{}).(*config.Config); ok {
		return cfg
	}
	return config.Default()
}

// withManager builds the services for one command and tears them down after
func withManager(cmd *cobra.Command, fn func(ctx context.Context, mgr *services.Manager) error) error {
	ctx := contextOf(cmd)
	mgr, err := services.NewManager(ctx, configFrom(cmd), services.Options{Logger: logger.Named("memoryctl")})
	if err != nil {
		return fmt.Errorf("initializing services: %w", err)
	}
	defer func() {
		if err := mgr.StopAll(context.Background()); err != nil {
			logger.Get().Warn("Shutdown failed", zap.Error(err))
		}
	}()
	return fn(ctx, mgr)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
