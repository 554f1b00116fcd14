package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/markwatch/internal/config"
	"github.com/roach88/markwatch/internal/corpus"
	"github.com/roach88/markwatch/internal/ledger"
)

// LedgerOptions holds flags for the ledger subcommands.
type LedgerOptions struct {
	*RootOptions
	File string
}

// NewLedgerCommand creates the ledger command group.
func NewLedgerCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the ledger page",
	}

	cmd.AddCommand(newLedgerShowCommand(rootOpts))
	cmd.AddCommand(newLedgerCheckCommand(rootOpts))

	return cmd
}

func newLedgerShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LedgerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show",
		Short: "List ledger entries with their age",
		Long: `Read the ledger page (or a local copy with --file) and list its
entries. Open entries older than the reminder threshold are flagged.

Example:
  markwatch ledger show
  markwatch ledger show --file overzicht.wiki --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLedgerShow(opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.File, "file", "", "read ledger wikitext from a file instead of the wiki")
	return cmd
}

func newLedgerCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LedgerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report malformed ledger rows",
		Long: `Parse the ledger and list rows a run would skip. Exits with code 1
when any row is malformed.

Example:
  markwatch ledger check --file overzicht.wiki`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLedgerCheck(opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.File, "file", "", "read ledger wikitext from a file instead of the wiki")
	return cmd
}

// LedgerRow is the JSON shape of one entry.
type LedgerRow struct {
	Document  string     `json:"document"`
	AddedBy   string     `json:"added_by"`
	AddedAt   time.Time  `json:"added_at"`
	RemovedBy string     `json:"removed_by,omitempty"`
	RemovedAt *time.Time `json:"removed_at,omitempty"`
	Open      bool       `json:"open"`
	Overdue   bool       `json:"overdue"`
}

// LedgerListing is the JSON payload of ledger show.
type LedgerListing struct {
	Page        string      `json:"page"`
	Entries     []LedgerRow `json:"entries"`
	SkippedRows int         `json:"skipped_rows"`
}

func runLedgerShow(opts *LedgerOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	setupLogging(cmd.ErrOrStderr(), cfg, opts.Verbose)

	source := cfg.Ledger.Page
	raw, err := readLedger(cmd.Context(), opts, cfg)
	if err != nil {
		return err
	}
	if opts.File != "" {
		source = opts.File
	}

	snap, rowErrs := ledger.Parse(raw)
	now := time.Now()

	listing := LedgerListing{Page: source, Entries: []LedgerRow{}, SkippedRows: len(rowErrs)}
	for _, e := range snap.Entries() {
		row := LedgerRow{
			Document:  e.Document,
			AddedBy:   e.AddedBy,
			AddedAt:   e.AddedAt,
			RemovedBy: e.RemovedBy,
			Open:      e.Open(),
			Overdue:   e.Open() && e.Age(now) >= cfg.Reminder.Threshold,
		}
		if !e.Open() {
			at := e.RemovedAt
			row.RemovedAt = &at
		}
		listing.Entries = append(listing.Entries, row)
	}

	if opts.Format == "json" {
		formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		return formatter.Success(listing)
	}

	writeLedgerText(cmd.OutOrStdout(), listing)
	return nil
}

func writeLedgerText(w io.Writer, listing LedgerListing) {
	fmt.Fprintf(w, "Ledger %s: %d entries\n", listing.Page, len(listing.Entries))
	for _, row := range listing.Entries {
		status := "open"
		switch {
		case !row.Open:
			status = fmt.Sprintf("removed by %s at %s", row.RemovedBy, ledger.FormatTime(*row.RemovedAt))
		case row.Overdue:
			status = "OVERDUE"
		}
		fmt.Fprintf(w, "  %s\n    added by %s at %s, %s\n", row.Document, row.AddedBy, ledger.FormatTime(row.AddedAt), status)
	}
	if listing.SkippedRows > 0 {
		fmt.Fprintf(w, "%d malformed row(s) skipped; run 'markwatch ledger check' for details\n", listing.SkippedRows)
	}
}

func runLedgerCheck(opts *LedgerOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	setupLogging(cmd.ErrOrStderr(), cfg, opts.Verbose)

	raw, err := readLedger(cmd.Context(), opts, cfg)
	if err != nil {
		return err
	}

	snap, rowErrs := ledger.Parse(raw)
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	if len(rowErrs) == 0 {
		if opts.Format == "json" {
			return formatter.Success(map[string]int{"entries": snap.Len()})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ %d entries, no malformed rows\n", snap.Len())
		return nil
	}

	details := make([]string, len(rowErrs))
	for i, re := range rowErrs {
		details[i] = re.Error()
	}
	if opts.Format == "json" {
		_ = formatter.Error(ErrCodeMalformedRows, fmt.Sprintf("%d malformed row(s)", len(rowErrs)), details)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "✗ %d malformed row(s), %d valid entries\n", len(rowErrs), snap.Len())
		for _, d := range details {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", d)
		}
	}
	return NewExitError(ExitFailure, fmt.Sprintf("%d malformed ledger row(s)", len(rowErrs)))
}

// ErrCodeMalformedRows is the CLI error code of a failed ledger check.
const ErrCodeMalformedRows = "MALFORMED_ROWS"

// readLedger returns the ledger text from --file or from the wiki. A
// missing ledger page reads as empty.
func readLedger(ctx context.Context, opts *LedgerOptions, cfg *config.Config) (string, error) {
	if opts.File != "" {
		data, err := os.ReadFile(opts.File)
		if err != nil {
			return "", WrapExitError(ExitCommandError, "failed to read ledger file", err)
		}
		return string(data), nil
	}

	if ctx == nil {
		ctx = context.Background()
	}
	c, err := connect(ctx, opts.RootOptions, cfg)
	if err != nil {
		return "", WrapExitError(ExitCommandError, "failed to connect to wiki", err)
	}
	page, err := c.ReadPage(ctx, cfg.Ledger.Page)
	if err != nil {
		if corpus.IsNotFound(err) {
			return "", nil
		}
		return "", WrapExitError(ExitCommandError, "failed to read ledger page", err)
	}
	return page.Text, nil
}
