// Package exclusion reads opt-out directives from talk pages.
//
// Supported directives, names matched case-insensitively:
//
//	{{bots|deny=all}}          deny every agent
//	{{bots|deny=Foo,Bar}}      deny the listed agents
//	{{bots|allow=none}}        deny every agent
//	{{bots|allow=Foo}}         deny every agent not listed
//	{{nobots}}                 deny every agent
//
// Every directive on the page is checked; any denial wins.
package exclusion

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
)

var directivePattern = regexp.MustCompile(`(?i)\{\{\s*(bots|nobots)\s*((?:\|[^}]*)?)\}\}`)

var fold = cases.Fold()

// Directive is one parsed {{bots}} or {{nobots}} occurrence.
type Directive struct {
	Name  string
	Deny  []string
	Allow []string
}

// Directives returns every opt-out directive found in text, in order.
func Directives(text string) []Directive {
	matches := directivePattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	out := make([]Directive, 0, len(matches))
	for _, m := range matches {
		d := Directive{Name: strings.ToLower(m[1])}
		for _, param := range strings.Split(m[2], "|") {
			key, value, ok := strings.Cut(param, "=")
			if !ok {
				continue
			}
			switch strings.ToLower(strings.TrimSpace(key)) {
			case "deny":
				d.Deny = append(d.Deny, splitList(value)...)
			case "allow":
				d.Allow = append(d.Allow, splitList(value)...)
			}
		}
		out = append(out, d)
	}
	return out
}

// Denies reports whether this directive forbids agent from editing.
func (d Directive) Denies(agent string) bool {
	if d.Name == "nobots" {
		return true
	}
	if contains(d.Deny, "all") || contains(d.Deny, agent) {
		return true
	}
	if len(d.Allow) > 0 {
		if contains(d.Allow, "none") {
			return true
		}
		return !contains(d.Allow, "all") && !contains(d.Allow, agent)
	}
	return false
}

// IsDenied reports whether talkText forbids automated messages from agent.
// This must be consulted before composing or sending anything.
func IsDenied(talkText, agent string) bool {
	for _, d := range Directives(talkText) {
		if d.Denies(agent) {
			return true
		}
	}
	return false
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func contains(list []string, want string) bool {
	want = fold.String(strings.TrimSpace(want))
	if want == "" {
		return false
	}
	for _, item := range list {
		if fold.String(item) == want {
			return true
		}
	}
	return false
}
