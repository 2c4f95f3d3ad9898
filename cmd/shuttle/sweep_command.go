package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"shuttle/internal/artifact"
	"shuttle/internal/logging"
	"shuttle/internal/sweeper"
)

func newSweepCommand(ctx *commandContext) *cobra.Command {
	var dryRun bool
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired artifacts while the daemon is stopped",
		Long: "Delete artifacts older than retention.file_lifetime directly from the store.\n" +
			"A running daemon sweeps on its own schedule and holds the store lock, so\n" +
			"this command refuses to run alongside it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := artifact.Open(cfg.Paths.StoreDir)
			if err != nil {
				return fmt.Errorf("open artifact store: %w", err)
			}
			if err := store.Lock(); err != nil {
				if errors.Is(err, artifact.ErrStoreLocked) {
					return fmt.Errorf("store %s is in use by a running daemon; it sweeps every %s", store.Root(), cfg.CleanupInterval())
				}
				return err
			}
			defer store.Unlock() //nolint:errcheck

			lifetime := cfg.FileLifetime()
			if olderThan > 0 {
				lifetime = olderThan
			}
			sw, err := sweeper.New(sweeper.Options{
				Store:    store,
				Lifetime: lifetime,
				Logger:   logging.NewNop(),
				DryRun:   dryRun,
			})
			if err != nil {
				return err
			}
			report, err := sw.Sweep(cmd.Context())
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, map[string]any{
					"dry_run": dryRun,
					"scanned": report.Scanned,
					"deleted": report.Deleted,
					"failed":  report.Failed,
					"removed": report.Removed,
				})
			}

			out := cmd.OutOrStdout()
			verb := "Deleted"
			if dryRun {
				verb = "Would delete"
			}
			for _, id := range report.Removed {
				fmt.Fprintf(out, "  %s\n", id)
			}
			fmt.Fprintf(out, "%s %d of %d artifacts older than %s", verb, report.Deleted, report.Scanned, lifetime)
			if report.Failed > 0 {
				fmt.Fprintf(out, " (%d failed)", report.Failed)
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List what would be deleted without deleting")
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Override retention.file_lifetime for this run")
	return cmd
}
