package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/markwatch/internal/reconcile"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	DryRun bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one reconciliation cycle",
		Long: `Run a single reconciliation cycle and exit.

The live set of marked pages is compared with the ledger page. New markers
are attributed from page history, removed markers are closed, closed
entries are purged and overdue markers trigger a talk page reminder.

Example:
  markwatch run --config markwatch.yaml
  markwatch run --dry-run --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "log intended edits without writing to the wiki")

	return cmd
}

func runOnce(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	setupLogging(cmd.ErrOrStderr(), cfg, opts.Verbose)

	ctx, cancel := signalContext(cmd)
	defer cancel()

	a, err := newApp(ctx, opts.RootOptions, cfg, opts.DryRun)
	if err != nil {
		return err
	}
	defer a.Close()

	rep, runErr := a.cycle(ctx)

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	formatter.VerboseLog("run %s: %d result(s), %d failure(s)", rep.RunID, len(rep.Results), len(rep.Failures()))
	if runErr != nil {
		_ = formatter.Error(string(reconcile.Classify(runErr)), runErr.Error(), rep.RunID)
		return WrapExitError(ExitFailure, "reconciliation aborted", runErr)
	}

	if opts.Format == "json" {
		return formatter.SuccessRun(rep.RunID, newRunSummary(rep))
	}
	writeRunText(cmd.OutOrStdout(), rep, opts.Verbose)
	return nil
}

// signalContext derives a context cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// RunSummary is the JSON shape of a finished run.
type RunSummary struct {
	RunID         string         `json:"run_id"`
	StartedAt     time.Time      `json:"started_at"`
	Duration      string         `json:"duration"`
	LiveDocuments int            `json:"live_documents"`
	LedgerEntries int            `json:"ledger_entries"`
	OpenEntries   int            `json:"open_entries"`
	SkippedRows   int            `json:"skipped_rows"`
	LedgerChanged bool           `json:"ledger_changed"`
	LedgerWritten bool           `json:"ledger_written"`
	Outcomes      map[string]int `json:"outcomes"`
	Failures      []string       `json:"failures,omitempty"`
}

func newRunSummary(rep *reconcile.Report) RunSummary {
	s := RunSummary{
		RunID:         rep.RunID,
		StartedAt:     rep.StartedAt.UTC(),
		Duration:      rep.Duration().Round(time.Millisecond).String(),
		LiveDocuments: rep.LiveDocuments,
		LedgerEntries: rep.LedgerEntries,
		OpenEntries:   rep.OpenEntries,
		SkippedRows:   rep.SkippedRows,
		LedgerChanged: rep.LedgerChanged,
		LedgerWritten: rep.LedgerWritten,
		Outcomes:      make(map[string]int),
	}
	for _, res := range rep.Results {
		s.Outcomes[string(res.Phase)+"/"+string(res.Outcome)]++
	}
	for _, res := range rep.Failures() {
		s.Failures = append(s.Failures, res.String())
	}
	return s
}

func writeRunText(w io.Writer, rep *reconcile.Report, verbose bool) {
	fmt.Fprintf(w, "Run %s finished in %s\n", rep.RunID, rep.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "  live documents: %d\n", rep.LiveDocuments)
	fmt.Fprintf(w, "  ledger entries: %d (%d open)\n", rep.LedgerEntries, rep.OpenEntries)
	if rep.SkippedRows > 0 {
		fmt.Fprintf(w, "  skipped rows:   %d\n", rep.SkippedRows)
	}
	switch {
	case rep.LedgerWritten:
		fmt.Fprintln(w, "  ledger:         updated")
	case rep.LedgerChanged:
		fmt.Fprintln(w, "  ledger:         changed (not written)")
	default:
		fmt.Fprintln(w, "  ledger:         unchanged")
	}
	fmt.Fprintf(w, "  inserted: %d  closed: %d  purged: %d  reminded: %d\n",
		rep.Count(reconcile.OutcomeInserted),
		rep.Count(reconcile.OutcomeClosed),
		rep.Count(reconcile.OutcomePurged),
		rep.Count(reconcile.OutcomeReminded)+rep.Count(reconcile.OutcomeWouldRemind),
	)

	if failures := rep.Failures(); len(failures) > 0 {
		fmt.Fprintf(w, "\n%d failure(s):\n", len(failures))
		for _, res := range failures {
			fmt.Fprintf(w, "  %s\n", res)
		}
	}

	if verbose {
		fmt.Fprintln(w, "\nResults:")
		for _, res := range rep.Results {
			fmt.Fprintf(w, "  %s\n", res)
		}
	}
}
