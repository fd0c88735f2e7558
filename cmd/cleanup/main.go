// Command cleanup runs maintenance against the evidence store outside the
// API server: expiry sweeps, storage statistics and reprocessing.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-evidence/internal/app"
	"go-evidence/internal/features/file"
	"go-evidence/internal/features/lifecycle"
	"go-evidence/internal/features/processing"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

const startTimeout = 30 * time.Second

func main() {
	root := &cobra.Command{
		Use:           "cleanup",
		Short:         "evidence store maintenance",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newSweepCommand(), newStatsCommand(), newReprocessCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// run starts the fx graph, hands the populated targets to fn and stops the
// graph again.
func run(cmd *cobra.Command, opts fx.Option, fn func(ctx context.Context) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fxApp := fx.New(app.Core, opts, fx.NopLogger)
	if err := fxApp.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	if err := fxApp.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), startTimeout)
		defer cancel()
		fxApp.Stop(stopCtx)
	}()

	return fn(ctx)
}

func newSweepCommand() *cobra.Command {
	var (
		dryRun bool
		report string
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "delete expired files and their blobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			var svc lifecycle.LifecycleService
			return run(cmd, fx.Populate(&svc), func(ctx context.Context) error {
				res, err := svc.RunSweep(ctx, lifecycle.TriggerCLI, dryRun)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if res.DryRun {
					fmt.Fprintf(out, "dry run: %d expired files\n", len(res.Candidates))
					for _, c := range res.Candidates {
						fmt.Fprintf(out, "  %s  %s  %d bytes\n", c.ID, c.OriginalName, c.SizeBytes)
					}
				} else {
					fmt.Fprintf(out, "deleted %d, skipped %d, failed %d in %s\n",
						res.Deleted, res.Skipped, res.Failed, res.Duration.Round(time.Millisecond))
					for _, f := range res.Failures {
						fmt.Fprintf(out, "  %s: %s\n", f.FileID, f.Error)
					}
				}

				if report == "" {
					return nil
				}
				data, err := lifecycle.ExportReport(res)
				if err != nil {
					return err
				}
				if err := os.WriteFile(report, data, 0o640); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
				fmt.Fprintf(out, "report written to %s\n", report)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", true, "list expired files without deleting them")
	cmd.Flags().StringVar(&report, "report", "", "write an XLSX report to this path")
	return cmd
}

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "print storage statistics as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			var repo file.FileRepository
			return run(cmd, fx.Populate(&repo), func(ctx context.Context) error {
				stats, err := repo.Stats(ctx)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			})
		},
	}
}

func newReprocessCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reprocess <file-id>...",
		Short: "run the processing pipeline synchronously",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pipeline *processing.Pipeline
			return run(cmd, fx.Options(app.Processing, fx.Populate(&pipeline)), func(ctx context.Context) error {
				for _, id := range args {
					if err := pipeline.ProcessFile(ctx, id); err != nil {
						return fmt.Errorf("%s: %w", id, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s processed\n", id)
				}
				return nil
			})
		},
	}
}
