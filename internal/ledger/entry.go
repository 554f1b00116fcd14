package ledger

import (
	"sort"
	"time"
)

// Entry records the marker's provenance on one document.
//
// An entry is open while RemovedBy is empty. RemovedAt is set exactly
// when RemovedBy is set, and is never before AddedAt.
type Entry struct {
	Document  string
	AddedBy   string
	AddedAt   time.Time
	RemovedBy string
	RemovedAt time.Time
}

// Open reports whether the marker is still considered present.
func (e Entry) Open() bool {
	return e.RemovedBy == ""
}

// Close marks the entry removed. A removal time before AddedAt is
// clamped to AddedAt.
func (e *Entry) Close(by string, at time.Time) {
	at = at.UTC()
	if at.Before(e.AddedAt) {
		at = e.AddedAt
	}
	e.RemovedBy = by
	e.RemovedAt = at
}

// Age returns how long the marker has been present at now.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.AddedAt)
}

// Snapshot is the full ledger keyed by document. It is owned by a single
// reconciliation run and is not safe for concurrent use.
type Snapshot struct {
	entries map[string]Entry
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{entries: make(map[string]Entry)}
}

// Get returns the entry for document.
func (s *Snapshot) Get(document string) (Entry, bool) {
	e, ok := s.entries[document]
	return e, ok
}

// Put inserts or replaces the entry for e.Document.
func (s *Snapshot) Put(e Entry) {
	e.AddedAt = e.AddedAt.UTC()
	if !e.RemovedAt.IsZero() {
		e.RemovedAt = e.RemovedAt.UTC()
	}
	s.entries[e.Document] = e
}

// Delete removes the entry for document, if any.
func (s *Snapshot) Delete(document string) {
	delete(s.entries, document)
}

// Len returns the number of entries.
func (s *Snapshot) Len() int {
	return len(s.entries)
}

// OpenCount returns the number of open entries.
func (s *Snapshot) OpenCount() int {
	n := 0
	for _, e := range s.entries {
		if e.Open() {
			n++
		}
	}
	return n
}

// Documents returns all document keys in ascending order.
func (s *Snapshot) Documents() []string {
	docs := make([]string, 0, len(s.entries))
	for doc := range s.entries {
		docs = append(docs, doc)
	}
	sort.Strings(docs)
	return docs
}

// Entries returns all entries ordered by document.
func (s *Snapshot) Entries() []Entry {
	docs := s.Documents()
	out := make([]Entry, len(docs))
	for i, doc := range docs {
		out[i] = s.entries[doc]
	}
	return out
}
