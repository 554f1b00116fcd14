// Package testutil provides deterministic doubles for markwatch tests.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/roach88/markwatch/internal/corpus"
	"github.com/roach88/markwatch/internal/marker"
)

// Corpus operations that can be failed on purpose with FakeCorpus.Fail.
const (
	OpLookup  = "lookup"
	OpText    = "text"
	OpHistory = "history"
	OpLatest  = "latest"
	OpRead    = "read"
	OpWrite   = "write"
)

// Write records one FakeCorpus.WritePage or AppendPage call. For appends
// Text is the appended text only.
type Write struct {
	Title   string
	Text    string
	Summary string
	Append  bool
}

// FakeCorpus is an in-memory wiki implementing corpus.Corpus.
//
// Documents have a revision history and their current text is the text
// of the newest revision. Other pages (talk pages, the ledger) are plain
// text. The live set is derived from document text unless Live is set,
// which models an eventually-consistent reference index.
//
// Every page carries a timestamp that WritePage checks against its base.
// Documents use their newest revision's timestamp; other pages get an
// opaque value that changes with every edit.
type FakeCorpus struct {
	mu sync.Mutex

	pages     map[string]string
	stamps    map[string]string
	histories map[string][]corpus.Revision
	failures  map[string]error
	writes    []Write
	nextRevID int64

	// Live, when non-nil, is returned by LookupReferences verbatim.
	Live []string

	// Author and Clock stamp revisions created by WritePage on documents.
	Author string
	Clock  interface{ Now() time.Time }

	// BeforeWrite, when set, runs before every WritePage and AppendPage
	// with the target title. It may edit the wiki to simulate a
	// concurrent editor.
	BeforeWrite func(title string)
}

// NewFakeCorpus returns an empty wiki.
func NewFakeCorpus() *FakeCorpus {
	return &FakeCorpus{
		pages:     make(map[string]string),
		stamps:    make(map[string]string),
		histories: make(map[string][]corpus.Revision),
		failures:  make(map[string]error),
		Author:    "MeebezigBot",
	}
}

var _ corpus.Corpus = (*FakeCorpus)(nil)

// Edit appends a revision to a document and makes text its current text.
func (f *FakeCorpus) Edit(title, author, timestamp, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.editLocked(title, author, timestamp, text)
}

func (f *FakeCorpus) editLocked(title, author, timestamp, text string) {
	f.nextRevID++
	f.histories[title] = append(f.histories[title], corpus.Revision{
		ID:        f.nextRevID,
		Author:    author,
		Timestamp: timestamp,
		Text:      text,
		HasText:   true,
	})
	f.pages[title] = text
	f.stamps[title] = timestamp
}

// touchLocked gives a plain page a fresh timestamp.
func (f *FakeCorpus) touchLocked(title string) {
	f.nextRevID++
	f.stamps[title] = fmt.Sprintf("%s#%d", f.now().Format(time.RFC3339), f.nextRevID)
}

func (f *FakeCorpus) now() time.Time {
	if f.Clock != nil {
		return f.Clock.Now()
	}
	return time.Now().UTC()
}

// HideText marks the text of revision index i of title as suppressed.
func (f *FakeCorpus) HideText(title string, i int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	revs := f.histories[title]
	revs[i].Text = ""
	revs[i].HasText = false
}

// Delete removes a document and its history.
func (f *FakeCorpus) Delete(title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pages, title)
	delete(f.stamps, title)
	delete(f.histories, title)
}

// SetPage sets the text of a page without history (talk pages, ledger).
func (f *FakeCorpus) SetPage(title, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[title] = text
	f.touchLocked(title)
}

// Page returns the current text of a page.
func (f *FakeCorpus) Page(title string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	text, ok := f.pages[title]
	return text, ok
}

// Fail makes op on title return err until cleared with a nil err.
// An empty title fails op for every page.
func (f *FakeCorpus) Fail(op, title string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := op + ":" + title
	if err == nil {
		delete(f.failures, key)
		return
	}
	f.failures[key] = err
}

// Writes returns every WritePage call so far.
func (f *FakeCorpus) Writes() []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Write, len(f.writes))
	copy(out, f.writes)
	return out
}

// WritesTo returns the WritePage calls for title.
func (f *FakeCorpus) WritesTo(title string) []Write {
	var out []Write
	for _, w := range f.Writes() {
		if w.Title == title {
			out = append(out, w)
		}
	}
	return out
}

// ResetWrites forgets recorded writes.
func (f *FakeCorpus) ResetWrites() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = nil
}

func (f *FakeCorpus) failure(op, title string) error {
	if err, ok := f.failures[op+":"+title]; ok {
		return err
	}
	if err, ok := f.failures[op+":"]; ok {
		return err
	}
	return nil
}

func notFound(title string) error {
	return fmt.Errorf("%q: %w", title, corpus.ErrNotFound)
}

// LookupReferences returns Live, or every document whose text carries
// the marker.
func (f *FakeCorpus) LookupReferences(_ context.Context, name string, _ []int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failure(OpLookup, ""); err != nil {
		return nil, err
	}
	if f.Live != nil {
		return append([]string(nil), f.Live...), nil
	}

	m, err := marker.New(name, marker.DefaultSpacePrefix)
	if err != nil {
		return nil, err
	}
	var out []string
	for title := range f.histories {
		if m.Exists(f.pages[title]) {
			out = append(out, title)
		}
	}
	sort.Strings(out)
	return out, nil
}

// DocumentText returns the current text of a document.
func (f *FakeCorpus) DocumentText(_ context.Context, title string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failure(OpText, title); err != nil {
		return "", err
	}
	if _, ok := f.histories[title]; !ok {
		return "", notFound(title)
	}
	return f.pages[title], nil
}

// RevisionHistory returns a copy of the history, oldest first.
func (f *FakeCorpus) RevisionHistory(_ context.Context, title string, withText bool) ([]corpus.Revision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failure(OpHistory, title); err != nil {
		return nil, err
	}
	revs, ok := f.histories[title]
	if !ok {
		return nil, notFound(title)
	}
	out := make([]corpus.Revision, len(revs))
	copy(out, revs)
	if !withText {
		for i := range out {
			out[i].Text = ""
			out[i].HasText = false
		}
	}
	return out, nil
}

// LatestRevision returns the newest revision without text.
func (f *FakeCorpus) LatestRevision(_ context.Context, title string) (corpus.Revision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failure(OpLatest, title); err != nil {
		return corpus.Revision{}, err
	}
	revs := f.histories[title]
	if len(revs) == 0 {
		return corpus.Revision{}, notFound(title)
	}
	latest := revs[len(revs)-1]
	latest.Text = ""
	latest.HasText = false
	return latest, nil
}

// ReadPage returns the text and timestamp of any page.
func (f *FakeCorpus) ReadPage(_ context.Context, title string) (corpus.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failure(OpRead, title); err != nil {
		return corpus.Page{}, err
	}
	text, ok := f.pages[title]
	if !ok {
		return corpus.Page{}, notFound(title)
	}
	return corpus.Page{Title: title, Text: text, Timestamp: f.stamps[title]}, nil
}

// WritePage stores text and records the call. It fails with
// corpus.ErrEditConflict when base is not the page's current timestamp.
// Writes to documents add a revision by Author at Clock's time.
func (f *FakeCorpus) WritePage(_ context.Context, title, text, summary, base string) error {
	if f.BeforeWrite != nil {
		f.BeforeWrite(title)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failure(OpWrite, title); err != nil {
		return err
	}
	if _, exists := f.pages[title]; exists != (base != "") || f.stamps[title] != base {
		return fmt.Errorf("%q changed since %q: %w", title, base, corpus.ErrEditConflict)
	}
	f.writes = append(f.writes, Write{Title: title, Text: text, Summary: summary})
	f.storeLocked(title, text)
	return nil
}

// AppendPage adds text to a page and records the call.
func (f *FakeCorpus) AppendPage(_ context.Context, title, text, summary string) error {
	if f.BeforeWrite != nil {
		f.BeforeWrite(title)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failure(OpWrite, title); err != nil {
		return err
	}
	f.writes = append(f.writes, Write{Title: title, Text: text, Summary: summary, Append: true})
	f.storeLocked(title, f.pages[title]+text)
	return nil
}

func (f *FakeCorpus) storeLocked(title, text string) {
	if _, isDoc := f.histories[title]; isDoc {
		f.editLocked(title, f.Author, f.now().Format(time.RFC3339), text)
		return
	}
	f.pages[title] = text
	f.touchLocked(title)
}
