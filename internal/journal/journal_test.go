package journal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/markwatch/internal/reconcile"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func testReport(id string, started time.Time) *reconcile.Report {
	return &reconcile.Report{
		RunID:         id,
		StartedAt:     started,
		FinishedAt:    started.Add(3 * time.Second),
		LiveDocuments: 2,
		LedgerEntries: 3,
		OpenEntries:   2,
		LedgerChanged: true,
		LedgerWritten: true,
		Results: []reconcile.Result{
			{Document: "Amsterdam", Phase: reconcile.PhaseAdd, Outcome: reconcile.OutcomeInserted},
			{Document: "Amsterdam", Phase: reconcile.PhaseRemind, Outcome: reconcile.OutcomeReminded},
			{
				Document: "Utrecht",
				Phase:    reconcile.PhaseRemove,
				Outcome:  reconcile.OutcomeFailed,
				Err:      errors.New("connection reset"),
			},
		},
	}
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := Open(path)
	require.NoError(t, err)
	defer j.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	for i := 0; i < 3; i++ {
		j, err := Open(path)
		require.NoError(t, err, "iteration %d", i)
		require.NoError(t, j.Close())
	}
}

func TestOpen_Pragmas(t *testing.T) {
	j := openTestJournal(t)

	assert.NoError(t, j.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, j.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, j.verifyPragma("user_version", "1"))
}

func TestRecordRun_RoundTrip(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	started := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, j.RecordRun(ctx, testReport("run-1", started)))

	runs, err := j.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	run := runs[0]
	assert.Equal(t, "run-1", run.ID)
	assert.True(t, run.StartedAt.Equal(started))
	assert.Equal(t, 3*time.Second, run.FinishedAt.Sub(run.StartedAt))
	assert.Equal(t, 2, run.LiveDocuments)
	assert.Equal(t, 3, run.LedgerEntries)
	assert.True(t, run.LedgerWritten)
	assert.True(t, run.Failed)
	assert.Empty(t, run.Error)

	outcomes, err := j.Outcomes(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	assert.Equal(t, "inserted", outcomes[0].Outcome)
	assert.Equal(t, "remind", outcomes[1].Phase)
	assert.Equal(t, "Utrecht", outcomes[2].Document)
	assert.Equal(t, "TRANSIENT_IO", outcomes[2].Code)
	assert.Equal(t, "connection reset", outcomes[2].Error)
}

func TestRecordRun_Idempotent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	rep := testReport("run-1", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

	require.NoError(t, j.RecordRun(ctx, rep))
	require.NoError(t, j.RecordRun(ctx, rep))

	runs, err := j.RecentRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	outcomes, err := j.Outcomes(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, outcomes, 3)
}

func TestRecordRun_RunLevelError(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	rep := &reconcile.Report{
		RunID:      "run-err",
		StartedAt:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2024, 3, 1, 0, 0, 1, 0, time.UTC),
		Err:        errors.New("lookup live set: timeout"),
	}
	require.NoError(t, j.RecordRun(ctx, rep))

	runs, err := j.RecentRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Failed)
	assert.Equal(t, "lookup live set: timeout", runs[0].Error)
}

func TestRecordRun_RequiresRunID(t *testing.T) {
	j := openTestJournal(t)
	assert.Error(t, j.RecordRun(context.Background(), &reconcile.Report{}))
	assert.Error(t, j.RecordRun(context.Background(), nil))
}

func TestRecentRuns_NewestFirstWithLimit(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, j.RecordRun(ctx, testReport("a", base)))
	require.NoError(t, j.RecordRun(ctx, testReport("c", base.Add(48*time.Hour))))
	require.NoError(t, j.RecordRun(ctx, testReport("b", base.Add(24*time.Hour+500*time.Millisecond))))

	runs, err := j.RecentRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
}

func TestRecentRuns_Empty(t *testing.T) {
	j := openTestJournal(t)

	runs, err := j.RecentRuns(context.Background(), 5)
	require.NoError(t, err)
	assert.NotNil(t, runs)
	assert.Empty(t, runs)
}

func TestDocumentOutcomes(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, j.RecordRun(ctx, testReport("second", base.Add(24*time.Hour))))
	require.NoError(t, j.RecordRun(ctx, testReport("first", base)))

	outcomes, err := j.DocumentOutcomes(ctx, "Amsterdam")
	require.NoError(t, err)
	require.Len(t, outcomes, 4)
	assert.Equal(t, "first", outcomes[0].RunID)
	assert.Equal(t, "second", outcomes[3].RunID)
}
