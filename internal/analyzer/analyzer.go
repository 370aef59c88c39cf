// Package analyzer talks to the generative-content services: it describes
// single media items and composes the merged text of a window into an
// article. Errors are classified with the failure package so the pipeline
// can decide between retrying and failing the window.
package analyzer

import "context"

// Composition is the structured reply of a compose call.
type Composition struct {
	Title   string
	Summary string
	Tags    []string
	Body    string
}

// Describer produces one description for one media file. hint is the text
// the user sent next to the media, if any.
type Describer interface {
	Describe(ctx context.Context, mediaPath, hint string) (string, error)
}

// Composer turns merged text into an article.
type Composer interface {
	Compose(ctx context.Context, mergedText string) (Composition, error)
}

// Analyzer pairs a Describer with a Composer so the two capabilities can be
// served by different backends.
type Analyzer struct {
	Describer
	Composer
}

// New returns an Analyzer that describes with d and composes with c.
func New(d Describer, c Composer) *Analyzer {
	return &Analyzer{Describer: d, Composer: c}
}
