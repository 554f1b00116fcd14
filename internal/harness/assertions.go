package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/markwatch/internal/corpus"
	"github.com/roach88/markwatch/internal/ledger"
)

// evaluateAssertion checks one assertion against the final wiki state.
func evaluateAssertion(h *Harness, a Assertion) error {
	switch a.Type {
	case AssertLedgerEntry:
		return assertLedgerEntry(h, a)
	case AssertLedgerAbsent:
		snap := h.finalLedger()
		if _, ok := snap.Get(corpus.CanonicalTitle(a.Document)); ok {
			return fmt.Errorf("ledger still has an entry for %q", a.Document)
		}
		return nil
	case AssertPageContains:
		text, _ := h.wiki.Page(a.Page)
		if !strings.Contains(text, a.Text) {
			return fmt.Errorf("page %q does not contain %q; text:\n%s", a.Page, a.Text, text)
		}
		return nil
	case AssertPageLacks:
		text, _ := h.wiki.Page(a.Page)
		if strings.Contains(text, a.Text) {
			return fmt.Errorf("page %q contains %q", a.Page, a.Text)
		}
		return nil
	case AssertWriteCount:
		if got := len(h.wiki.WritesTo(a.Page)); got != a.Count {
			return fmt.Errorf("%d write(s) to %q, want %d", got, a.Page, a.Count)
		}
		return nil
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertLedgerEntry(h *Harness, a Assertion) error {
	snap := h.finalLedger()
	e, ok := snap.Get(corpus.CanonicalTitle(a.Document))
	if !ok {
		return fmt.Errorf("no ledger entry for %q (documents: %v)", a.Document, snap.Documents())
	}

	var mismatches []string
	if a.AddedBy != "" && e.AddedBy != a.AddedBy {
		mismatches = append(mismatches, fmt.Sprintf("added_by = %q, want %q", e.AddedBy, a.AddedBy))
	}
	if a.AddedAt != "" && ledger.FormatTime(e.AddedAt) != a.AddedAt {
		mismatches = append(mismatches, fmt.Sprintf("added_at = %q, want %q", ledger.FormatTime(e.AddedAt), a.AddedAt))
	}
	if a.RemovedBy != "" && e.RemovedBy != a.RemovedBy {
		mismatches = append(mismatches, fmt.Sprintf("removed_by = %q, want %q", e.RemovedBy, a.RemovedBy))
	}
	if a.Open != nil && e.Open() != *a.Open {
		mismatches = append(mismatches, fmt.Sprintf("open = %v, want %v", e.Open(), *a.Open))
	}

	if len(mismatches) > 0 {
		return fmt.Errorf("entry %q: %s", a.Document, strings.Join(mismatches, "; "))
	}
	return nil
}

func (h *Harness) finalLedger() *ledger.Snapshot {
	text, _ := h.wiki.Page(h.ledger)
	snap, _ := ledger.Parse(text)
	return snap
}
