package analyzer

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// cleanJSON strips Markdown code fences and any prose around the outermost
// JSON object of a model reply.
func cleanJSON(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		content = content[start : end+1]
	}
	return content
}

// tagList accepts either a JSON array of strings or one comma separated string.
type tagList []string

func (t *tagList) UnmarshalJSON(b []byte) error {
	var arr []string
	if err := json.Unmarshal(b, &arr); err == nil {
		*t = normalizeTags(arr)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*t = normalizeTags(strings.FieldsFunc(s, isTagSep))
	return nil
}

func isTagSep(r rune) bool { return r == ',' || r == '、' || r == '，' }

func normalizeTags(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.Trim(strings.TrimSpace(t), "#[]")
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// ParseComposition reads a compose reply. A JSON object with title, summary,
// tags and body is preferred; a reply using labelled sections
// ("Title:", "タイトル:", ...) is accepted next; anything else becomes the
// body as-is with no title.
func ParseComposition(raw string) Composition {
	var parsed struct {
		Title   string  `json:"title"`
		Summary string  `json:"summary"`
		Tags    tagList `json:"tags"`
		Body    string  `json:"body"`
	}
	if err := json.Unmarshal([]byte(cleanJSON(raw)), &parsed); err == nil && strings.TrimSpace(parsed.Body) != "" {
		return Composition{
			Title:   strings.TrimSpace(parsed.Title),
			Summary: strings.TrimSpace(parsed.Summary),
			Tags:    []string(parsed.Tags),
			Body:    strings.TrimSpace(parsed.Body),
		}
	}
	if c, ok := parseSections(raw); ok {
		return c
	}
	return Composition{Body: strings.TrimSpace(raw)}
}

var sectionLabels = map[string]string{
	"title": "title", "タイトル": "title",
	"summary": "summary", "要約": "summary",
	"tags": "tags", "タグ": "tags",
	"body": "body", "本文": "body",
}

// parseSections handles replies of the form
//
//	Title: ...
//	Summary: ...
//	Tags: a, b
//	Body:
//	...
//
// Everything after the body label is the body.
func parseSections(raw string) (Composition, bool) {
	var c Composition
	var body []string
	inBody := false
	for _, line := range strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n") {
		if inBody {
			body = append(body, line)
			continue
		}
		label, rest, ok := splitLabel(line)
		if !ok {
			continue
		}
		switch label {
		case "title":
			c.Title = rest
		case "summary":
			c.Summary = rest
		case "tags":
			c.Tags = normalizeTags(strings.FieldsFunc(rest, isTagSep))
		case "body":
			inBody = true
			if rest != "" {
				body = append(body, rest)
			}
		}
	}
	c.Body = strings.TrimSpace(strings.Join(body, "\n"))
	if !inBody || c.Body == "" {
		return Composition{}, false
	}
	return c, true
}

func splitLabel(line string) (label, rest string, ok bool) {
	line = strings.TrimSpace(line)
	i := strings.IndexAny(line, ":：")
	if i <= 0 {
		return "", "", false
	}
	key := strings.ToLower(strings.TrimSpace(line[:i]))
	label, ok = sectionLabels[key]
	if !ok {
		return "", "", false
	}
	_, size := utf8.DecodeRuneInString(line[i:])
	return label, strings.TrimSpace(line[i+size:]), true
}
