// Package textclean holds pure text transforms applied to generated articles
// before they are published.
package textclean

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var (
	headingRE   = regexp.MustCompile(`^#{1,6}\s*(.*?)(?:\s+#+)?\s*$`)
	htmlWrapRE  = regexp.MustCompile(`^<([a-zA-Z][a-zA-Z0-9]*)(?:\s[^>]*)?>(.*)</([a-zA-Z][a-zA-Z0-9]*)\s*>$`)
	boldRE      = regexp.MustCompile(`^(\*\*|__|\*|_)(.+?)(\*\*|__|\*|_)$`)
	setextRE    = regexp.MustCompile(`^(=+|-+)$`)
	blankRunsRE = regexp.MustCompile(`\n{3,}`)
	spaceRE     = regexp.MustCompile(`\s+`)
)

// Tags whose sole content may be a restated title.
var wrapperTags = map[string]bool{
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"p": true, "div": true, "strong": true, "b": true, "em": true, "i": true,
	"title": true, "span": true,
}

var bracketPairs = [][2]string{
	{"【", "】"}, {"「", "」"}, {"『", "』"}, {"[", "]"}, {"(", ")"},
}

// Trailing punctuation after NFKC folding (full-width ！？：， become ASCII).
const trailingPunct = "。、.,:!?"

// StripTitle removes a verbatim restatement of title from the start of body.
//
// Only whole leading lines are considered: plain text, Markdown ATX and
// setext headings, emphasis, HTML wrappers such as <h1> or <p><strong>, and
// bracket wrappers, each with optional trailing punctuation. Comparison is
// done after NFKC normalization, case folding and whitespace collapsing.
// When nothing matches the body is returned trimmed but otherwise untouched,
// and a body consisting only of the title is never emptied.
func StripTitle(title, body string) string {
	body = strings.TrimSpace(strings.ReplaceAll(body, "\r\n", "\n"))
	want := comparable(title)
	if want == "" || body == "" {
		return body
	}
	titleLines := nonEmptyLines(title)

	lines := strings.Split(body, "\n")
	stripped := false
	for {
		lines = dropLeadingBlank(lines)
		n := matchLeading(lines, want, titleLines)
		if n == 0 {
			break
		}
		lines = lines[n:]
		stripped = true
	}
	if !stripped {
		return body
	}

	out := strings.TrimSpace(strings.Join(lines, "\n"))
	if out == "" {
		return body
	}
	return blankRunsRE.ReplaceAllString(out, "\n\n")
}

// matchLeading returns how many lines at the head of lines restate the
// title, or 0.
func matchLeading(lines []string, want string, titleLines []string) int {
	if len(lines) == 0 {
		return 0
	}
	first := strings.TrimSpace(lines[0])

	if lineMatches(first, want) {
		// Setext heading: title followed by === or --- underline.
		if len(lines) > 1 && setextRE.MatchString(strings.TrimSpace(lines[1])) {
			return 2
		}
		return 1
	}

	// A multi-line title restated over the same number of lines.
	if k := len(titleLines); k > 1 && len(lines) >= k {
		joined := make([]string, 0, k)
		for _, l := range lines[:k] {
			joined = append(joined, strings.TrimSpace(l))
		}
		if lineMatches(strings.Join(joined, " "), want) {
			return k
		}
	}
	return 0
}

// lineMatches peels known wrappers off line until it equals want or no
// wrapper is left.
func lineMatches(line, want string) bool {
	cur := line
	for i := 0; i < 6; i++ {
		if comparable(cur) == want {
			return true
		}
		next, ok := unwrap(cur)
		if !ok {
			return false
		}
		cur = next
	}
	return false
}

// unwrap removes one layer of heading, emphasis, HTML or bracket wrapping.
func unwrap(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if m := headingRE.FindStringSubmatch(s); m != nil && strings.HasPrefix(s, "#") {
		return m[1], true
	}
	if m := htmlWrapRE.FindStringSubmatch(s); m != nil {
		open, closing := strings.ToLower(m[1]), strings.ToLower(m[3])
		if open == closing && wrapperTags[open] {
			return m[2], true
		}
	}
	if m := boldRE.FindStringSubmatch(s); m != nil && m[1] == m[3] {
		return m[2], true
	}
	for _, p := range bracketPairs {
		if strings.HasPrefix(s, p[0]) && strings.HasSuffix(s, p[1]) && len(s) > len(p[0])+len(p[1]) {
			return s[len(p[0]) : len(s)-len(p[1])], true
		}
	}
	return s, false
}

// comparable normalizes s for title comparison.
func comparable(s string) string {
	s = norm.NFKC.String(s)
	s = spaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
	s = strings.TrimRight(s, trailingPunct)
	s = strings.TrimSpace(s)
	return cases.Fold().String(s)
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}

func dropLeadingBlank(lines []string) []string {
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	return lines
}
