package analyzer

import (
	"fmt"
	"strings"
)

const describePrompt = `Describe this %s in one or two short sentences for a personal blog post.
Mention what is visible or audible, not how it was recorded.
Reply with the description only.`

const composeSystemPrompt = `You turn a person's chat messages from a short period into one blog post.

The input is a list of notes in the order they were sent. Media items appear as
[media: description] tags.

Rules:
1. Keep the author's voice and every fact they wrote.
2. Keep each [media: ...] tag exactly once, where it fits best in the story.
3. Do not repeat the title as the first line of the body.
4. Write the body in Markdown.

Output as JSON only, no other text:
{
  "title": "short title",
  "summary": "one sentence",
  "tags": ["tag", "tag"],
  "body": "markdown body"
}`

func describeUserPrompt(kind, hint string) string {
	p := fmt.Sprintf(describePrompt, kind)
	if hint = strings.TrimSpace(hint); hint != "" {
		p += "\n\nThe author wrote this next to it: " + hint
	}
	return p
}

func composeUserPrompt(merged string) string {
	return "Notes:\n\n" + merged
}
