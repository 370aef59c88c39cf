package domain

import "fmt"

// MediaRef is one media item of a draft, parallel to a [media:N] placeholder
// in the draft body. Index is 1-based and follows arrival order.
type MediaRef struct {
	Index       int
	MessageID   string
	Kind        string
	Path        string
	Description string
}

// Placeholder returns the body token for the media item.
func (r MediaRef) Placeholder() string { return Placeholder(r.Index) }

// Placeholder formats the body token for the n-th media item.
func Placeholder(n int) string { return fmt.Sprintf("[media:%d]", n) }

// DraftArticle is the composed but not yet published article of a window.
type DraftArticle struct {
	Title     string
	Summary   string
	Tags      []string
	Body      string
	MediaRefs []MediaRef

	// AnalysisFailures counts media items whose description fell back to the
	// generic placeholder text.
	AnalysisFailures int
}
