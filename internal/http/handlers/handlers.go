// Package handlers implements the ingestion API: message intake (JSON and
// multipart media), window inspection, article revision and pipeline stats.
//
// Handlers are transport-thin. They validate input, call the services and
// translate results and service errors into the envelope from response.go.
package handlers

import (
	"context"

	"github.com/tbourn/lifelog-publisher/internal/domain"
	"github.com/tbourn/lifelog-publisher/internal/publish"
	"github.com/tbourn/lifelog-publisher/internal/repo"
)

// WindowService is the ingest and read side of the pipeline.
//
// Implementations must be safe for concurrent use and honor ctx.
type WindowService interface {
	// AddMessage appends m to its user's collecting window and returns the
	// window id.
	AddMessage(ctx context.Context, m domain.Message) (string, error)
	// Window returns a window with its messages and its terminal result, if any.
	Window(ctx context.Context, id string) (*domain.Window, *domain.PublishedResult, error)
	// Stats summarizes window states and failure totals.
	Stats(ctx context.Context) (repo.Stats, error)
}

// ArticleService revises articles that were already published.
type ArticleService interface {
	Revise(ctx context.Context, windowID string, a publish.Article) (*domain.PublishedResult, error)
}

// Options carries transport settings for media intake.
type Options struct {
	// MediaDir is where uploaded files are staged and the only directory
	// JSON media_path values may point into.
	MediaDir string
}

// Handlers groups the API endpoints.
type Handlers struct {
	windows  WindowService
	articles ArticleService
	mediaDir string
}

// New constructs Handlers bound to the given services.
func New(windows WindowService, articles ArticleService, opts Options) *Handlers {
	return &Handlers{windows: windows, articles: articles, mediaDir: opts.MediaDir}
}
