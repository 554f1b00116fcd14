package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/markwatch/internal/config"
	"github.com/roach88/markwatch/internal/corpus"
	"github.com/roach88/markwatch/internal/reconcile"
	"github.com/roach88/markwatch/internal/testutil"
)

const testLedgerPage = "Gebruiker:MeebezigBot/Overzicht"

var testNow = time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)

// testWiki returns an in-memory wiki with one overdue marker on Amsterdam.
func testWiki() *testutil.FakeCorpus {
	wiki := testutil.NewFakeCorpus()
	wiki.Clock = testutil.NewFixedClock(testNow)
	wiki.Author = "MeebezigBot"
	wiki.Edit("Amsterdam", "Bob", "2024-02-01T09:00:00Z", "Amsterdam is een stad.")
	wiki.Edit("Amsterdam", "Alice", "2024-03-01T10:00:00Z", "{{meebezig}}\nAmsterdam is een stad.")
	return wiki
}

// testRoot wires a root command to wiki with a fixed clock and run ids.
func testRoot(wiki *testutil.FakeCorpus, ids ...string) *RootOptions {
	if len(ids) == 0 {
		ids = []string{"test-run-1"}
	}
	return &RootOptions{
		Format: "text",
		NewCorpus: func(ctx context.Context, cfg *config.Config) (corpus.Corpus, error) {
			return wiki, nil
		},
		ReconcilerOptions: []reconcile.Option{
			reconcile.WithClock(testutil.NewFixedClock(testNow)),
			reconcile.WithRunIDGenerator(reconcile.NewFixedGenerator(ids...)),
		},
	}
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := newRootCommand(opts)
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	cmd.SetContext(context.Background())
	err := cmd.Execute()
	return out.String(), err
}

// writeConfig writes a YAML config file and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "markwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// commandWithContext returns a bare command for calling run functions
// directly.
func commandWithContext(ctx context.Context) (*cobra.Command, *bytes.Buffer) {
	out := &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetContext(ctx)
	return cmd, out
}
