package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"docsentry/internal/service"
)

// runPass bootstraps, runs one reconciliation pass, prints its counters as
// JSON and exits.
func runPass(name string, pick func(*service.Reconciler) func(context.Context) (service.Stats, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := bootstrap(ctx, nil)
		if err != nil {
			return err
		}
		defer a.close()

		stats, err := pick(a.reconciler)(ctx)
		if err != nil {
			return fmt.Errorf("%s failed: %w", name, err)
		}

		out, err := json.Marshal(stats)
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one scan pass over new remote documents",
	RunE: runPass("scan", func(r *service.Reconciler) func(context.Context) (service.Stats, error) {
		return r.ScanNew
	}),
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Process every remote document that has no local record",
	RunE: runPass("backfill", func(r *service.Reconciler) func(context.Context) (service.Stats, error) {
		return r.Backfill
	}),
}

var syncTagsCmd = &cobra.Command{
	Use:   "sync-tags",
	Short: "Reconcile remote anomaly tags with stored detection state",
	RunE: runPass("tag sync", func(r *service.Reconciler) func(context.Context) (service.Stats, error) {
		return r.SyncTags
	}),
}

var recheckCmd = &cobra.Command{
	Use:   "recheck",
	Short: "Re-run detection on documents modified remotely since processing",
	RunE: runPass("recheck", func(r *service.Reconciler) func(context.Context) (service.Stats, error) {
		return r.RecheckModified
	}),
}

func init() {
	rootCmd.AddCommand(scanCmd, backfillCmd, syncTagsCmd, recheckCmd)
}
