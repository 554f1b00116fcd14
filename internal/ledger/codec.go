package ledger

import (
	"fmt"
	"strings"
	"time"
)

// NotApplicable is the cell value for a missing remover or removal time.
const NotApplicable = "N.v.t."

// TimeLayout renders timestamps in UTC with an explicit offset.
const TimeLayout = "2006-01-02T15:04:05-07:00"

const (
	header = "{| class=\"wikitable sortable\"\n" +
		"! Pagina !! Toegevoegd door !! Toegevoegd op !! Verwijderd door !! Verwijderd op\n" +
		"|-"
	rowSeparator = "|-"
	footer       = "|}"
	cellSep      = "||"
)

// RowError describes a table row that could not be decoded.
type RowError struct {
	Line   int
	Text   string
	Reason string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("ledger line %d: %s: %q", e.Line, e.Reason, e.Text)
}

// Parse decodes the ledger table in raw. Rows that cannot be decoded are
// returned as RowErrors and left out of the snapshot; they never make the
// whole parse fail. Lines that are not table rows are ignored.
func Parse(raw string) (*Snapshot, []*RowError) {
	snap := NewSnapshot()
	var rowErrs []*RowError

	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	for i, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if !isRow(line) {
			continue
		}

		entry, reason := parseRow(line)
		if reason != "" {
			rowErrs = append(rowErrs, &RowError{Line: i + 1, Text: line, Reason: reason})
			continue
		}
		if _, dup := snap.Get(entry.Document); dup {
			rowErrs = append(rowErrs, &RowError{Line: i + 1, Text: line, Reason: "duplicate document"})
			continue
		}
		snap.Put(entry)
	}

	return snap, rowErrs
}

// isRow reports whether line is a data row rather than table markup.
func isRow(line string) bool {
	if !strings.HasPrefix(line, "|") {
		return false
	}
	for _, markup := range []string{"|-", "|}", "|+"} {
		if strings.HasPrefix(line, markup) {
			return false
		}
	}
	return true
}

func parseRow(line string) (Entry, string) {
	cells := strings.Split(strings.TrimPrefix(line, "|"), cellSep)
	if len(cells) != 5 {
		return Entry{}, fmt.Sprintf("expected 5 cells, got %d", len(cells))
	}
	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}

	doc, ok := parseLink(cells[0])
	if !ok {
		return Entry{}, "document cell is not a link"
	}

	if isNotApplicable(cells[1]) {
		return Entry{}, "missing adder"
	}
	addedAt, err := parseTime(cells[2])
	if err != nil {
		return Entry{}, fmt.Sprintf("bad add timestamp: %v", err)
	}

	e := Entry{Document: doc, AddedBy: cells[1], AddedAt: addedAt}

	removerNA, removedNA := isNotApplicable(cells[3]), isNotApplicable(cells[4])
	switch {
	case removerNA && removedNA:
	case removerNA != removedNA:
		return Entry{}, "remover and removal time must both be set or both be " + NotApplicable
	default:
		removedAt, err := parseTime(cells[4])
		if err != nil {
			return Entry{}, fmt.Sprintf("bad removal timestamp: %v", err)
		}
		if removedAt.Before(addedAt) {
			return Entry{}, "removal precedes addition"
		}
		e.RemovedBy = cells[3]
		e.RemovedAt = removedAt
	}

	return e, ""
}

// parseLink extracts the target of a [[link]] or [[link|label]] cell.
func parseLink(cell string) (string, bool) {
	if !strings.HasPrefix(cell, "[[") || !strings.HasSuffix(cell, "]]") {
		return "", false
	}
	target := cell[2 : len(cell)-2]
	if i := strings.Index(target, "|"); i >= 0 {
		target = target[:i]
	}
	target = strings.TrimSpace(target)
	if target == "" {
		return "", false
	}
	return target, true
}

func isNotApplicable(cell string) bool {
	cell = strings.TrimSpace(cell)
	return cell == "" || IsNotApplicable(cell)
}

// IsNotApplicable reports whether name is the NotApplicable sentinel in
// any casing. Such a name cannot be stored as an author.
func IsNotApplicable(name string) bool {
	return strings.EqualFold(strings.TrimSpace(name), NotApplicable)
}

func parseTime(cell string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, cell)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// FormatTime renders t the way the ledger stores it.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Format encodes snap as a ledger table. The output has no trailing
// newline because the wiki strips it on save.
func Format(snap *Snapshot) string {
	var b strings.Builder
	b.WriteString(header)
	b.WriteByte('\n')

	for _, e := range snap.Entries() {
		removedBy, removedAt := NotApplicable, NotApplicable
		if !e.Open() {
			removedBy = e.RemovedBy
			removedAt = FormatTime(e.RemovedAt)
		}
		fmt.Fprintf(&b, "| [[%s]] || %s || %s || %s || %s\n",
			e.Document, e.AddedBy, FormatTime(e.AddedAt), removedBy, removedAt)
		b.WriteString(rowSeparator)
		b.WriteByte('\n')
	}

	b.WriteString(footer)
	return b.String()
}
