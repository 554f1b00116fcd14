package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/markwatch/internal/config"
	"github.com/roach88/markwatch/internal/corpus"
	"github.com/roach88/markwatch/internal/reconcile"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	// NewCorpus allows overriding the wiki connection (for testing).
	// If nil, defaults to a logged-in MediaWiki client.
	NewCorpus func(ctx context.Context, cfg *config.Config) (corpus.Corpus, error)

	// ReconcilerOptions are passed to every reconciler (for testing).
	ReconcilerOptions []reconcile.Option
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the markwatch CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "markwatch",
		Short: "markwatch - work-in-progress marker ledger",
		Long: `Tracks pages that carry a work-in-progress template on a wiki.

Each run reconciles the pages that transclude the marker against a ledger
table kept on a wiki page, attributes additions and removals from page
history and reminds the adder when a marker has been left too long.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewScheduleCommand(opts))
	cmd.AddCommand(NewLedgerCommand(opts))
	cmd.AddCommand(NewRunsCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
