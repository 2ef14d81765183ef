package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"graph-memory/backend/internal/jobs"
	"graph-memory/backend/internal/services"
)

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Run or inspect maintenance jobs",
	}
	cmd.AddCommand(newJobsRunCmd(), newJobsListCmd())
	return cmd
}

func newJobsRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <deduplicate|archive|all>",
		Short: "Run a maintenance job once",
		Long:  "Run a maintenance job immediately for the configured owners, with the same locking and retry policy the scheduler uses.",
		Args:  cobra.ExactArgs(1),
		RunE:  runJobs,
	}
	cmd.Flags().StringSlice("owner", nil, "owner ids to process; overrides JOBS_OWNER_IDS")
	cmd.Flags().Bool("all-owners", false, "process every owner found in the store")
	return cmd
}

func runJobs(cmd *cobra.Command, args []string) error {
	cfg := configFrom(cmd)
	if owners, _ := cmd.Flags().GetStringSlice("owner"); len(owners) > 0 {
		cfg.Jobs.OwnerIDs = owners
	}
	if all, _ := cmd.Flags().GetBool("all-owners"); all {
		cfg.Jobs.ProcessAllOwners = true
	}

	return withManager(cmd, func(ctx context.Context, mgr *services.Manager) error {
		reports := map[string]*jobs.Report{}
		var err error
		if args[0] == "all" {
			reports, err = mgr.Scheduler.RunAll(ctx)
		} else {
			var r *jobs.Report
			r, err = mgr.Scheduler.RunNow(ctx, args[0])
			if r != nil {
				reports[args[0]] = r
			}
		}
		if perr := printJSON(cmd.OutOrStdout(), reports); perr != nil {
			return perr
		}
		if err != nil {
			return fmt.Errorf("job failed: %w", err)
		}
		return nil
	})
}

func newJobsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List jobs and their schedules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, func(_ context.Context, mgr *services.Manager) error {
				w := cmd.OutOrStdout()
				for _, st := range mgr.Scheduler.Status() {
					state := "disabled"
					if st.Enabled {
						state = "enabled"
					}
					if _, err := fmt.Fprintf(w, "%-12s %-9s %s\n", st.Name, state, st.Schedule); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}
