// Package sanitize shrinks raw page markup into something a language model
// can read within a bounded prompt size.
package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultBudget is the default output ceiling in characters.
const DefaultBudget = 80000

const truncationMarker = "..."

var (
	scriptBodyRe = regexp.MustCompile(`(?is)(<script\b[^>]*>).*?</script\s*>`)
	styleBodyRe  = regexp.MustCompile(`(?is)(<style\b[^>]*>).*?</style\s*>`)
	commentRe    = regexp.MustCompile(`(?s)<!--.*?-->`)
	blankLinesRe = regexp.MustCompile(`\n\s*\n`)
	hspaceRe     = regexp.MustCompile(`[ \t]+`)
	bodyRe       = regexp.MustCompile(`(?is)<body\b[^>]*>(.*)</body\s*>`)
)

// Clean empties script and style bodies (keeping their opening tags and
// attributes), strips comments, collapses whitespace and fits the result into
// budget characters. A budget <= 0 selects DefaultBudget.
//
// Clean is deterministic and Clean(Clean(x)) == Clean(x).
func Clean(html string, budget int) string {
	if budget <= 0 {
		budget = DefaultBudget
	}

	out := stripBodies(html)
	out = blankLinesRe.ReplaceAllString(out, "\n")
	out = hspaceRe.ReplaceAllString(out, " ")
	out = strings.TrimSpace(out)

	if utf8.RuneCountInString(out) <= budget {
		return out
	}

	if m := bodyRe.FindStringSubmatch(out); m != nil {
		body := "<html><body>" + m[1] + "</body></html>"
		if utf8.RuneCountInString(body) <= budget {
			return body
		}
		return truncate(body, budget)
	}
	return truncate(out, budget)
}

// stripBodies empties script and style bodies and drops comments until
// nothing changes. Removing a comment can join the pieces of a tag or of
// another comment marker, so a single pass is not enough. Every rewrite that
// changes the text shortens it, so the loop terminates.
func stripBodies(s string) string {
	for {
		out := scriptBodyRe.ReplaceAllString(s, "$1</script>")
		out = styleBodyRe.ReplaceAllString(out, "$1</style>")
		out = commentRe.ReplaceAllString(out, "")
		if out == s {
			return out
		}
		s = out
	}
}

// truncate cuts s so that the result including the marker is exactly budget runes.
func truncate(s string, budget int) string {
	keep := budget - utf8.RuneCountInString(truncationMarker)
	if keep <= 0 {
		return string([]rune(truncationMarker)[:budget])
	}
	n := 0
	for i := range s {
		if n == keep {
			return s[:i] + truncationMarker
		}
		n++
	}
	return s
}
