package reconcile

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/markwatch/internal/corpus"
	"github.com/roach88/markwatch/internal/history"
)

func TestReport_Fold(t *testing.T) {
	rep := &Report{
		RunID:      "run-x",
		StartedAt:  at("2024-01-10T00:00:00Z"),
		FinishedAt: at("2024-01-10T00:00:03Z"),
	}
	rep.add(Result{Document: "A", Phase: PhaseAdd, Outcome: OutcomeInserted})
	rep.add(Result{Document: "B", Phase: PhaseRemind, Outcome: OutcomeReminded})
	rep.add(Result{Document: "C", Phase: PhaseRemind, Outcome: OutcomeReminded})

	assert.False(t, rep.Failed())
	assert.Equal(t, 2, rep.Count(OutcomeReminded))
	assert.Empty(t, rep.Details())
	assert.Equal(t, 3*time.Second, rep.Duration())

	rep.add(Result{Document: "D", Phase: PhaseRemove, Outcome: OutcomeFailed, Err: newDocumentError("fetch latest revision", "D", errBoom)})
	assert.True(t, rep.Failed())
	require.Len(t, rep.Details(), 1)
	assert.Contains(t, rep.Details()[0], "remove D: failed")
	assert.Contains(t, rep.Details()[0], "TRANSIENT_IO")
}

func TestReport_RunLevelDetails(t *testing.T) {
	rep := &Report{Err: newRunError("lookup live set", errBoom)}
	assert.True(t, rep.Failed())
	assert.Equal(t, []string{"RUN_LEVEL: lookup live set: boom"}, rep.Details())
}

func TestResult_String(t *testing.T) {
	r := Result{Document: "X", Phase: PhaseAdd, Outcome: OutcomeDeferred, Reason: "author hidden"}
	assert.Equal(t, "add X: deferred (author hidden)", r.String())
	assert.Equal(t, ErrorCode(""), r.Code())
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrCodeNotFound, Classify(fmt.Errorf("x: %w", corpus.ErrNotFound)))
	assert.Equal(t, ErrCodeUnparseable, Classify(&history.TimestampError{Value: "?"}))
	assert.Equal(t, ErrCodeTransientIO, Classify(errBoom))
	assert.Equal(t, ErrCodeRunLevel, Classify(fmt.Errorf("wrapped: %w", newRunError("read ledger", errBoom))))
	assert.False(t, IsRunLevel(errBoom))
}

func TestRunIDGenerators(t *testing.T) {
	g := NewFixedGenerator("a", "b")
	assert.Equal(t, "a", g.Generate())
	assert.Equal(t, "b", g.Generate())
	assert.Panics(t, func() { g.Generate() })

	u := UUIDv7Generator{}
	first, second := u.Generate(), u.Generate()
	assert.Len(t, first, 36)
	assert.NotEqual(t, first, second)
}
