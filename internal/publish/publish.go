// Package publish delivers finished articles to the blogging platform.
package publish

import "context"

// Article is what gets posted. Body is Markdown with media already spliced in.
type Article struct {
	Title   string
	Body    string
	Tags    []string
	Summary string
}

// Published identifies an article on the platform.
type Published struct {
	ID  string
	URL string
}

// Gateway creates and revises articles on a blog.
type Gateway interface {
	Publish(ctx context.Context, a Article) (Published, error)
	Update(ctx context.Context, externalID string, a Article) (Published, error)
}
