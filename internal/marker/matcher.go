// Package marker recognizes the tracked template token in wikitext.
//
// The token is matched inside double braces, case-insensitively, with
// optional whitespace, an optional template namespace prefix and optional
// pipe-delimited arguments. Besides the plain name a spelling with a
// single space after a fixed-length prefix is accepted ("mee bezig" for
// "meebezig").
package marker

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultSpacePrefix is where the alternate spelling of the default
// marker inserts its space ("mee bezig").
const DefaultSpacePrefix = 3

// Matcher detects one marker. It is immutable and safe for concurrent use.
type Matcher struct {
	name string
	re   *regexp.Regexp
}

// New builds a matcher for name. spacePrefix is the length of the prefix
// after which the alternate spelling has a space; 0 or a value outside
// the name disables that variant.
func New(name string, spacePrefix int) (*Matcher, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("marker name is empty")
	}
	if strings.ContainsAny(name, "{}|") {
		return nil, fmt.Errorf("marker name %q contains template delimiters", name)
	}

	variants := []string{quoteName(name)}
	if spacePrefix > 0 && spacePrefix < len(name) {
		variants = append(variants, quoteName(name[:spacePrefix])+"[ _]"+quoteName(name[spacePrefix:]))
	}

	pattern := `(?i)\{\{\s*(?:(?:sjabloon|template)\s*:\s*)?(?:` +
		strings.Join(variants, "|") +
		`)\s*(?:\|[^}]*)?\}\}`

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile marker pattern: %w", err)
	}
	return &Matcher{name: name, re: re}, nil
}

// MustNew is New for package-level defaults; it panics on error.
func MustNew(name string, spacePrefix int) *Matcher {
	m, err := New(name, spacePrefix)
	if err != nil {
		panic(err)
	}
	return m
}

// quoteName escapes name for the pattern, treating spaces and
// underscores as interchangeable like MediaWiki titles do.
func quoteName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch r {
		case ' ', '_':
			b.WriteString("[ _]")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return b.String()
}

// Name returns the marker name as configured.
func (m *Matcher) Name() string {
	return m.name
}

// Token returns the canonical wikitext form, e.g. "{{meebezig}}".
func (m *Matcher) Token() string {
	return "{{" + m.name + "}}"
}

// Exists reports whether text contains the marker.
func (m *Matcher) Exists(text string) bool {
	return m.re.MatchString(text)
}

// Strip removes every occurrence of the marker and trims the result.
func (m *Matcher) Strip(text string) string {
	return strings.TrimSpace(m.re.ReplaceAllString(text, ""))
}

// Exists reports whether text contains the marker called name, using the
// default alternate-spelling prefix.
func Exists(text, name string) bool {
	m, err := New(name, DefaultSpacePrefix)
	if err != nil {
		return false
	}
	return m.Exists(text)
}
