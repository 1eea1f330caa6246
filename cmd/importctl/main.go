// Command importctl administers the import queue from the shell.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/CatalogImport/internal/app"
	"github.com/dharsanguruparan/CatalogImport/internal/config"
	"github.com/dharsanguruparan/CatalogImport/internal/database"
	"github.com/dharsanguruparan/CatalogImport/internal/processing"
)

var verbose bool

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "importctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "importctl",
		Short: "Import queue administration",
		Long: `importctl processes the dataset import queue, reports its state and repairs
failed or stuck imports. Settings come from IMPORTQ_* environment variables.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	cmd.AddCommand(
		newProcessCmd(),
		newStatusCmd(),
		newCancelCmd(),
		newRetryCmd(),
		newDiagnoseCmd(),
		newCleanupCmd(),
		newMigrateCmd(),
	)
	return cmd
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if verbose {
		cfg.LogLevel = slog.LevelDebug
	}
	return cfg, config.SetupLogger(cfg), nil
}

// withApp opens the service for the duration of fn.
func withApp(cmd *cobra.Command, fn func(a *app.App, logger *slog.Logger) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.Open(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a, logger)
}

func newProcessCmd() *cobra.Command {
	var (
		continuous  bool
		maxRuntime  time.Duration
		cleanup     bool
		cleanupDays int
	)
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Process the next queued import, or keep processing with --continuous",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app.App, logger *slog.Logger) error {
				runner := processing.New(a.Manager, logger)
				sum, err := runner.Run(cmd.Context(), processing.Options{
					Continuous:     continuous,
					MaxRuntime:     maxRuntime,
					IdleWait:       a.Config.PollInterval,
					BetweenImports: a.Config.BetweenImports,
					Cleanup:        cleanup,
					CleanupDays:    cleanupDays,
				})
				printSummary(cmd.OutOrStdout(), sum)
				return err
			})
		},
	}
	defaults := processing.DefaultOptions()
	cmd.Flags().BoolVar(&continuous, "continuous", false, "Keep processing until the maximum runtime is reached")
	cmd.Flags().DurationVar(&maxRuntime, "max-runtime", defaults.MaxRuntime, "Maximum runtime in continuous mode")
	cmd.Flags().BoolVar(&cleanup, "cleanup", false, "Delete old completed entries afterwards")
	cmd.Flags().IntVar(&cleanupDays, "cleanup-days", defaults.CleanupDays, "Age in days of completed entries to delete")
	return cmd
}

func printSummary(w io.Writer, sum processing.Summary) {
	fmt.Fprintf(w, "Processed: %d\n", sum.Processed)
	fmt.Fprintf(w, "Failed: %d\n", sum.Failed)
	if sum.Cleaned > 0 {
		fmt.Fprintf(w, "Cleaned up: %d\n", sum.Cleaned)
	}
	fmt.Fprintf(w, "Runtime: %s\n", sum.Runtime.Round(time.Millisecond))
}

func newStatusCmd() *cobra.Command {
	var (
		detailed bool
		recent   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue counts, the running import and what runs next",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app.App, _ *slog.Logger) error {
				return printStatus(cmd.Context(), cmd.OutOrStdout(), a.Services, detailed, recent)
			})
		},
	}
	cmd.Flags().BoolVar(&detailed, "detailed", false, "List recent entries")
	cmd.Flags().DurationVar(&recent, "recent", 24*time.Hour, "Window for --detailed")
	return cmd
}

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <import-id>",
		Short: "Cancel a pending import",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app.App, _ *slog.Logger) error {
				req, err := a.Queue.Cancel(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Import %s cancelled\n", req.ID)
				return nil
			})
		},
	}
}

func newRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <import-id>",
		Short: "Return a failed import to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app.App, _ *slog.Logger) error {
				req, err := a.Queue.Retry(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Import %s queued for retry\n", req.ID)
				return nil
			})
		},
	}
}

func newDiagnoseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose <import-id>",
		Short: "Diagnose a failed or stuck import and apply safe fixes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app.App, _ *slog.Logger) error {
				report, err := a.Manager.Diagnose(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			})
		},
	}
}

func newCleanupCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete completed entries older than --days",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app.App, _ *slog.Logger) error {
				n, err := a.Manager.CleanupOldImports(cmd.Context(), days)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d completed imports\n", n)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "Age in days of completed entries to delete")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the catalog schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if down {
				return database.Rollback(cfg.CatalogDSN)
			}
			return database.Migrate(cfg.CatalogDSN, logger)
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "Revert every migration instead")
	return cmd
}
