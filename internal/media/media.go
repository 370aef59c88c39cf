// Package media uploads locally staged media files to interchangeable
// hosting providers.
//
// An Uploader holds an ordered provider list and tries each provider in turn,
// every attempt under its own timeout, until one returns a complete Ref. The
// staged file is checked once up front; an unreadable file is reported as
// failure.FileUnreadable without calling any provider.
package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/lifelog-publisher/internal/failure"
)

// ErrMalformedRef is returned when a provider answers without a URL or
// deletion token.
var ErrMalformedRef = errors.New("provider returned an incomplete reference")

// UploadMeta describes the media item being uploaded. Providers use it for
// titles, descriptions and object naming.
type UploadMeta struct {
	WindowID    string
	UserID      string
	MessageID   string
	Kind        string
	Title       string
	Description string
}

// Ref is a durable reference to an uploaded file. Both URL and DeleteToken
// are required.
type Ref struct {
	Provider    string `json:"provider"`
	URL         string `json:"url"`
	DeleteToken string `json:"delete_token"`
}

// Complete reports whether the ref carries a URL and a deletion token.
func (r Ref) Complete() bool { return r.URL != "" && r.DeleteToken != "" }

// File is a staged media file as seen by providers.
type File struct {
	Path        string
	Name        string
	Size        int64
	ContentType string
	Ext         string
}

// Open opens the staged file for reading. A failure is FileUnreadable.
func (f File) Open() (*os.File, error) {
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, failure.New(failure.FileUnreadable, "media.open", err)
	}
	return fh, nil
}

// Provider is one media host.
type Provider interface {
	Name() string
	Upload(ctx context.Context, f File, meta UploadMeta) (Ref, error)
	Delete(ctx context.Context, token string) error
}

// Uploader tries providers in order.
type Uploader struct {
	providers []Provider
	timeout   time.Duration
}

// NewUploader returns an Uploader over providers, tried in the given order.
// A non-positive timeout disables the per-call deadline.
func NewUploader(timeout time.Duration, providers ...Provider) *Uploader {
	return &Uploader{providers: providers, timeout: timeout}
}

// Providers returns the provider names in fallback order.
func (u *Uploader) Providers() []string {
	out := make([]string, 0, len(u.providers))
	for _, p := range u.providers {
		out = append(out, p.Name())
	}
	return out
}

// Upload stores the file at path with the first provider that succeeds.
//
// Any provider error moves on to the next provider. When all fail, the
// returned *failure.Error carries the kind of the last provider error and
// joins every provider error.
func (u *Uploader) Upload(ctx context.Context, path string, meta UploadMeta) (Ref, error) {
	f, err := inspect(path)
	if err != nil {
		return Ref{}, err
	}
	if len(u.providers) == 0 {
		return Ref{}, failure.New(failure.Unknown, "media.upload", errors.New("no media providers configured"))
	}

	var (
		errs     []error
		lastKind = failure.Unknown
	)
	for _, p := range u.providers {
		ref, err := u.try(ctx, p, f, meta)
		if err == nil {
			uploadsTotal.WithLabelValues(p.Name(), "success").Inc()
			return ref, nil
		}

		lastKind = failure.KindOf(err)
		uploadsTotal.WithLabelValues(p.Name(), lastKind.String()).Inc()
		log.Warn().Err(err).
			Str("provider", p.Name()).
			Str("window_id", meta.WindowID).
			Str("message_id", meta.MessageID).
			Msg("media upload failed")
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))

		if lastKind == failure.FileUnreadable || ctx.Err() != nil {
			break
		}
	}
	return Ref{}, &failure.Error{Kind: lastKind, Op: "media.upload", Err: errors.Join(errs...)}
}

func (u *Uploader) try(ctx context.Context, p Provider, f File, meta UploadMeta) (Ref, error) {
	pctx, cancel := u.withTimeout(ctx)
	defer cancel()

	ref, err := p.Upload(pctx, f, meta)
	if err != nil {
		if failure.KindOf(err) == failure.Unknown && pctx.Err() != nil {
			return Ref{}, failure.Transient(p.Name()+".upload", err)
		}
		return Ref{}, err
	}
	if !ref.Complete() {
		return Ref{}, failure.Transient(p.Name()+".upload", ErrMalformedRef)
	}
	ref.Provider = p.Name()
	return ref, nil
}

// Delete removes an uploaded file through the provider that issued ref.
func (u *Uploader) Delete(ctx context.Context, ref Ref) error {
	for _, p := range u.providers {
		if p.Name() != ref.Provider {
			continue
		}
		dctx, cancel := u.withTimeout(ctx)
		defer cancel()
		return p.Delete(dctx, ref.DeleteToken)
	}
	return fmt.Errorf("media: unknown provider %q", ref.Provider)
}

func (u *Uploader) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if u.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, u.timeout)
}

// inspect verifies that path is a readable regular file and detects its
// content type.
func inspect(path string) (File, error) {
	const op = "media.inspect"
	st, err := os.Stat(path)
	if err != nil {
		return File{}, failure.New(failure.FileUnreadable, op, err)
	}
	if st.IsDir() {
		return File{}, failure.New(failure.FileUnreadable, op, fmt.Errorf("%s is a directory", path))
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return File{}, failure.New(failure.FileUnreadable, op, err)
	}
	ext := filepath.Ext(path)
	if ext == "" {
		ext = mt.Extension()
	}
	return File{
		Path:        path,
		Name:        filepath.Base(path),
		Size:        st.Size(),
		ContentType: mt.String(),
		Ext:         ext,
	}, nil
}
