package corpus

import (
	"context"
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// ErrNotFound is returned when a document or page does not exist.
// Implementations must wrap it so callers can use errors.Is.
var ErrNotFound = errors.New("page not found")

// ErrEditConflict is returned by WritePage when the page changed after
// the base it was read at. Implementations must wrap it.
var ErrEditConflict = errors.New("edit conflict")

// Page is the current text of a page together with the timestamp of the
// revision it was read from. Timestamp is the base for WritePage.
type Page struct {
	Title     string
	Text      string
	Timestamp string
}

// Revision is one entry of a document's edit history.
//
// Timestamp is kept exactly as the wiki reported it; parsing happens in
// the history scanner so an unparseable value can be surfaced instead of
// guessed. Text is only meaningful when HasText is true (content may be
// omitted on request or hidden by the wiki).
type Revision struct {
	ID        int64
	Author    string
	Timestamp string
	Text      string
	HasText   bool
}

// Corpus is the wiki platform as seen by the reconciler.
//
// All methods block until the wiki answers. Missing documents and pages
// are reported as errors wrapping ErrNotFound.
type Corpus interface {
	// LookupReferences returns the titles of all documents in the given
	// namespaces that transclude the template named marker.
	LookupReferences(ctx context.Context, marker string, namespaces []int) ([]string, error)

	// DocumentText returns the current wikitext of a document.
	DocumentText(ctx context.Context, title string) (string, error)

	// RevisionHistory returns the full history ordered oldest to newest.
	RevisionHistory(ctx context.Context, title string, withText bool) ([]Revision, error)

	// LatestRevision returns the newest revision without text.
	LatestRevision(ctx context.Context, title string) (Revision, error)

	// ReadPage returns the wikitext of an arbitrary page and the
	// timestamp of its current revision.
	ReadPage(ctx context.Context, title string) (Page, error)

	// WritePage replaces the text of a page. base is the Timestamp of the
	// Page the text was derived from; if the page changed since, the
	// write fails with ErrEditConflict. An empty base creates the page
	// and conflicts if it exists by then.
	WritePage(ctx context.Context, title, text, summary, base string) error

	// AppendPage adds text to the end of a page, creating it if needed.
	// Concurrent edits are kept.
	AppendPage(ctx context.Context, title, text, summary string) error
}

// CanonicalTitle normalizes a page title the way MediaWiki does for the
// main namespace: NFC, underscores as spaces, collapsed whitespace and an
// upper-case first letter.
func CanonicalTitle(title string) string {
	title = norm.NFC.String(title)
	title = strings.ReplaceAll(title, "_", " ")
	title = strings.Join(strings.Fields(title), " ")
	if title == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(title)
	return string(unicode.ToUpper(r)) + title[size:]
}

// IsNotFound reports whether err signals a missing page.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsEditConflict reports whether err signals a write against a stale base.
func IsEditConflict(err error) bool {
	return errors.Is(err, ErrEditConflict)
}
