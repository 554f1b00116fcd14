// Package notify composes the talk-page messages markwatch leaves.
//
// A reminder is a single append to the adder's talk page. The document
// link it carries ("[[Title]]") doubles as the delivery marker: if the
// talk page already contains it the reminder counts as delivered.
package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/markwatch/internal/ledger"
)

// Defaults mirror the Dutch Wikipedia deployment.
const (
	DefaultTalkPrefix = "Overleg gebruiker:"
	DefaultTemplate   = "{{subst:MeebezigMelding|$1}}"
	DefaultSummary    = "Bot: Melding sjabloon {{meebezig}} op $2"
)

// Composer builds reminders. Templates may use $1 (document link),
// $2 (document title), $3 (adder) and $4 (date the marker was added).
type Composer struct {
	TalkPrefix string
	Template   string
	Summary    string
}

// NewComposer returns a composer, falling back to defaults for empty
// arguments.
func NewComposer(talkPrefix, template, summary string) *Composer {
	if talkPrefix == "" {
		talkPrefix = DefaultTalkPrefix
	}
	if template == "" {
		template = DefaultTemplate
	}
	if summary == "" {
		summary = DefaultSummary
	}
	return &Composer{TalkPrefix: talkPrefix, Template: template, Summary: summary}
}

// Notice is a composed reminder, ready to append.
type Notice struct {
	Document  string
	Recipient string
	TalkPage  string
	Reference string
	Text      string
	Summary   string
}

// TalkPage returns the talk page title of user.
func (c *Composer) TalkPage(user string) string {
	return c.TalkPrefix + user
}

// Compose builds the reminder for an open ledger entry.
func (c *Composer) Compose(e ledger.Entry) Notice {
	ref := Reference(e.Document)
	r := strings.NewReplacer(
		"$1", ref,
		"$2", e.Document,
		"$3", e.AddedBy,
		"$4", e.AddedAt.UTC().Format("2006-01-02"),
	)
	return Notice{
		Document:  e.Document,
		Recipient: e.AddedBy,
		TalkPage:  c.TalkPage(e.AddedBy),
		Reference: ref,
		Text:      r.Replace(c.Template),
		Summary:   r.Replace(c.Summary),
	}
}

// Reference is the canonical link to document used for deduplication.
func Reference(document string) string {
	return "[[" + document + "]]"
}

// AlreadyDelivered reports whether talkText already mentions the document.
func (n Notice) AlreadyDelivered(talkText string) bool {
	return strings.Contains(talkText, n.Reference)
}

// AppendText returns what to append to talkText so the notice starts a
// new paragraph.
func (n Notice) AppendText(talkText string) string {
	return paragraph(talkText, n.Text)
}

// OperatorReport is the run report appended to the operator's page.
type OperatorReport struct {
	Heading string
	Body    string
	Summary string
}

// ComposeOperatorReport builds the failure report for a run.
// details lists one line per failed document or run-level error.
func ComposeOperatorReport(at time.Time, runID string, details []string) OperatorReport {
	stamp := at.UTC().Format("2006-01-02 15:04:05")

	var b strings.Builder
	fmt.Fprintf(&b, "Botrun %s uitgevoerd op %s (UTC), maar er zijn fouten opgetreden. Zie de botlog voor details.\n", runID, stamp)
	for _, d := range details {
		fmt.Fprintf(&b, "* %s\n", d)
	}
	b.WriteString("~~~~")

	return OperatorReport{
		Heading: fmt.Sprintf("== Botrun rapport (%s) ==", stamp),
		Body:    b.String(),
		Summary: "Bot: Rapport van de botrun.",
	}
}

// AppendText returns what to append to pageText to add the report as a
// new section.
func (r OperatorReport) AppendText(pageText string) string {
	return paragraph(pageText, r.Heading+"\n"+r.Body)
}

// paragraph separates addition from existing text by a blank line. The
// wiki strips trailing newlines on save, so existing text is assumed to
// end without one.
func paragraph(existing, addition string) string {
	switch {
	case strings.TrimSpace(existing) == "":
		return addition
	case strings.HasSuffix(existing, "\n\n"):
		return addition
	case strings.HasSuffix(existing, "\n"):
		return "\n" + addition
	default:
		return "\n\n" + addition
	}
}
