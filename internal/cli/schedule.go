package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/markwatch/internal/metrics"
	"github.com/roach88/markwatch/internal/schedule"
)

// ScheduleOptions holds flags for the schedule command.
type ScheduleOptions struct {
	*RootOptions
	DryRun      bool
	MetricsAddr string

	// SchedulerOptions customize the scheduler (for testing).
	SchedulerOptions []schedule.Option
}

// NewScheduleCommand creates the schedule command.
func NewScheduleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScheduleOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run now, then once a day",
		Long: `Run a reconciliation cycle immediately and then every day at the
configured time (schedule.daily_at in schedule.timezone) until interrupted.

Runs never overlap. A failed run is logged, journaled and reported to the
operator page; the schedule continues.

Example:
  markwatch schedule --config markwatch.yaml --metrics-addr :9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchedule(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "log intended edits without writing to the wiki")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides metrics.addr)")

	return cmd
}

func runSchedule(opts *ScheduleOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	setupLogging(cmd.ErrOrStderr(), cfg, opts.Verbose)

	hour, minute, err := cfg.Schedule.Clock()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid schedule", err)
	}
	loc, err := cfg.Schedule.Location()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid schedule", err)
	}
	daily, err := schedule.NewDaily(hour, minute, loc)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid schedule", err)
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	a, err := newApp(ctx, opts.RootOptions, cfg, opts.DryRun)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := cfg.Metrics.Addr
	if opts.MetricsAddr != "" {
		addr = opts.MetricsAddr
	}
	if addr != "" {
		a.metrics = metrics.New()
		srv := newMetricsServer(addr, a.metrics)
		go func() {
			slog.Info("serving metrics", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown", "error", err)
			}
		}()
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Scheduler started (%s). Press Ctrl-C to stop.\n", daily)

	job := func(ctx context.Context) error {
		_, err := a.cycle(ctx)
		return err
	}
	if err := schedule.New(daily, job, opts.SchedulerOptions...).Run(ctx); err != nil {
		return WrapExitError(ExitFailure, "scheduler error", err)
	}
	return nil
}

func newMetricsServer(addr string, m *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
