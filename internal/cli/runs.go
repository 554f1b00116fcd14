package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/markwatch/internal/journal"
)

// RunsOptions holds flags for the runs command.
type RunsOptions struct {
	*RootOptions
	Journal  string
	Limit    int
	RunID    string
	Document string
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show journaled runs",
		Long: `List recent runs from the run journal, the results of one run
(--run) or the history of one document across runs (--document).

Example:
  markwatch runs --limit 5
  markwatch runs --run 0190c8a4-...
  markwatch runs --document "Amsterdam" --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to the journal database (overrides journal.path)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 10, "number of runs to list")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "show the results of one run")
	cmd.Flags().StringVar(&opts.Document, "document", "", "show the results for one document")

	return cmd
}

func runRuns(opts *RunsOptions, cmd *cobra.Command) error {
	path := opts.Journal
	if path == "" {
		cfg, err := loadConfig(opts.RootOptions)
		if err != nil {
			return err
		}
		path = cfg.Journal.Path
	}
	if path == "" {
		return NewExitError(ExitCommandError, "no journal configured (set journal.path or --journal)")
	}

	j, err := journal.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	w := cmd.OutOrStdout()

	switch {
	case opts.RunID != "":
		outcomes, err := j.Outcomes(ctx, opts.RunID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read outcomes", err)
		}
		if opts.Format == "json" {
			return formatter.SuccessRun(opts.RunID, outcomes)
		}
		fmt.Fprintf(w, "Run %s: %d result(s)\n", opts.RunID, len(outcomes))
		writeOutcomesText(w, outcomes, false)
		return nil

	case opts.Document != "":
		outcomes, err := j.DocumentOutcomes(ctx, opts.Document)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read outcomes", err)
		}
		if opts.Format == "json" {
			return formatter.Success(outcomes)
		}
		fmt.Fprintf(w, "%s: %d result(s)\n", opts.Document, len(outcomes))
		writeOutcomesText(w, outcomes, true)
		return nil
	}

	runs, err := j.RecentRuns(ctx, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read runs", err)
	}
	if opts.Format == "json" {
		return formatter.Success(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}
	for _, r := range runs {
		status := "ok"
		if r.Failed {
			status = "FAILED"
		}
		fmt.Fprintf(w, "%s  %s  %-6s  live=%d entries=%d open=%d\n",
			r.StartedAt.UTC().Format(time.RFC3339), r.ID, status, r.LiveDocuments, r.LedgerEntries, r.OpenEntries)
		if r.Error != "" {
			fmt.Fprintf(w, "    %s\n", r.Error)
		}
	}
	return nil
}

func writeOutcomesText(w io.Writer, outcomes []journal.OutcomeRecord, withRun bool) {
	for _, o := range outcomes {
		prefix := ""
		if withRun {
			prefix = o.RunID + " "
		}
		line := fmt.Sprintf("  %s%s %s: %s", prefix, o.Phase, o.Document, o.Outcome)
		if o.Reason != "" {
			line += " (" + o.Reason + ")"
		}
		if o.Error != "" {
			line += " [" + o.Code + "] " + o.Error
		}
		fmt.Fprintln(w, line)
	}
}
