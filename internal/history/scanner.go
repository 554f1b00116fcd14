// Package history attributes marker transitions in a document's revisions.
//
// Revisions are always consumed oldest to newest. Timestamps are parsed
// here rather than by the wiki client so a malformed value becomes an
// explicit error: the scanner never guesses a date.
package history

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/markwatch/internal/corpus"
)

// ErrNoTransition means the history holds no evidence of the transition
// being looked for (empty history, or the newest readable revision does
// not carry the marker).
var ErrNoTransition = errors.New("no marker transition in history")

// TimestampError reports a revision whose timestamp could not be parsed.
type TimestampError struct {
	RevisionID int64
	Value      string
	Err        error
}

func (e *TimestampError) Error() string {
	return fmt.Sprintf("revision %d: unparseable timestamp %q: %v", e.RevisionID, e.Value, e.Err)
}

func (e *TimestampError) Unwrap() error {
	return e.Err
}

// IsTimestampError reports whether err wraps a TimestampError.
func IsTimestampError(err error) bool {
	var te *TimestampError
	return errors.As(err, &te)
}

// Attribution is the author and time responsible for a transition.
type Attribution struct {
	Author string
	At     time.Time
}

// Detector is the part of marker.Matcher the scanner needs.
type Detector interface {
	Exists(text string) bool
}

// ParseTimestamp parses a wiki timestamp into UTC.
func ParseTimestamp(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// FindAddition returns the revision that started the marker's current
// presence streak: the newest revision carrying the marker whose
// predecessor did not. Document creation counts as an absent predecessor.
//
// A marker that was removed and later re-added is attributed to the
// re-adding revision, not the original one. Revisions without text are
// ignored. Any unparseable timestamp in the history yields a
// *TimestampError; the document is then indeterminate.
func FindAddition(revs []corpus.Revision, d Detector) (Attribution, error) {
	if err := checkTimestamps(revs); err != nil {
		return Attribution{}, err
	}

	var (
		start   *corpus.Revision
		present bool
		seen    bool
	)
	for i := range revs {
		rev := &revs[i]
		if !rev.HasText {
			continue
		}
		seen = true
		has := d.Exists(rev.Text)
		switch {
		case has && !present:
			start = rev
		case !has:
			start = nil
		}
		present = has
	}

	if !seen || start == nil {
		return Attribution{}, ErrNoTransition
	}
	return attribute(*start)
}

// FindRemoval attributes a removal to the newest revision of tail.
//
// This is an approximation: when several edits happened between the last
// observed presence and the current absence, the newest editor is
// credited even if an earlier edit removed the marker.
func FindRemoval(tail []corpus.Revision) (Attribution, error) {
	if len(tail) == 0 {
		return Attribution{}, ErrNoTransition
	}
	return attribute(tail[len(tail)-1])
}

func attribute(rev corpus.Revision) (Attribution, error) {
	at, err := ParseTimestamp(rev.Timestamp)
	if err != nil {
		return Attribution{}, &TimestampError{RevisionID: rev.ID, Value: rev.Timestamp, Err: err}
	}
	return Attribution{Author: rev.Author, At: at}, nil
}

func checkTimestamps(revs []corpus.Revision) error {
	for _, rev := range revs {
		if _, err := ParseTimestamp(rev.Timestamp); err != nil {
			return &TimestampError{RevisionID: rev.ID, Value: rev.Timestamp, Err: err}
		}
	}
	return nil
}
