package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"graph-memory/backend/internal/services"
	"graph-memory/backend/pkg/config"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply Neo4j constraints and indexes",
		Long:  "Create the node constraints, lookup indexes and vector indexes. Skips when the schema marker exists unless --force is given.",
		RunE:  runMigrate,
	}
	cmd.Flags().Bool("force", false, "reapply even if the schema marker exists")
	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	w := cmd.OutOrStdout()
	if configFrom(cmd).StoreBackend == config.StoreMemory {
		_, err := fmt.Fprintln(w, "In-memory store has no schema; nothing to do.")
		return err
	}
	force, _ := cmd.Flags().GetBool("force")

	return withManager(cmd, func(ctx context.Context, mgr *services.Manager) error {
		if !force {
			applied, err := mgr.SchemaApplied(ctx)
			if err != nil {
				return fmt.Errorf("checking migration status: %w", err)
			}
			if applied {
				_, err := fmt.Fprintln(w, "Schema already applied. Use --force to reapply.")
				return err
			}
		}
		if err := mgr.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		_, err := fmt.Fprintln(w, "Migration completed successfully.")
		return err
	})
}
