package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"graph-memory/backend/internal/memory"
	"graph-memory/backend/internal/services"
)

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check store and embedder health",
		Long:  "Ping the graph store and report the embedder circuit breaker. Exits non-zero when degraded.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, func(ctx context.Context, mgr *services.Manager) error {
				report := mgr.Service.Health(ctx)
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				if report.Status != memory.HealthHealthy {
					return fmt.Errorf("memory store is %s", report.Status)
				}
				return nil
			})
		},
	}
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show node and relation counts for an owner",
		RunE: func(cmd *cobra.Command, _ []string) error {
			owner, _ := cmd.Flags().GetString("owner")
			return withManager(cmd, func(ctx context.Context, mgr *services.Manager) error {
				st, err := mgr.Service.Stats(ctx, owner)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
	cmd.Flags().String("owner", "", "owner id (default owner when empty)")
	return cmd
}
