// Package services – Coordinator
//
// Coordinator finalizes a window exactly once: it claims the window's
// finalize marker, uploads the draft's media, splices hosted URLs into the
// body, publishes once, and records the terminal result in one transaction.
// A window whose claim was already taken is never published again; callers
// get the stored result instead.
package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/lifelog-publisher/internal/domain"
	"github.com/tbourn/lifelog-publisher/internal/failure"
	"github.com/tbourn/lifelog-publisher/internal/lock"
	"github.com/tbourn/lifelog-publisher/internal/media"
	"github.com/tbourn/lifelog-publisher/internal/publish"
	"github.com/tbourn/lifelog-publisher/internal/repo"
	"github.com/tbourn/lifelog-publisher/internal/textclean"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MediaUploader stores media files with an external host.
type MediaUploader interface {
	Upload(ctx context.Context, path string, meta media.UploadMeta) (media.Ref, error)
	Delete(ctx context.Context, ref media.Ref) error
}

// PublishGateway creates and revises blog articles.
type PublishGateway interface {
	Publish(ctx context.Context, a publish.Article) (publish.Published, error)
	Update(ctx context.Context, externalID string, a publish.Article) (publish.Published, error)
}

// Notifier tells a user how their window ended.
type Notifier interface {
	Notify(ctx context.Context, userID, text string) error
}

// Notification texts.
const (
	apologyText = "Sorry, your recent notes could not be turned into a post. Please try sending them again."
)

var placeholderRE = regexp.MustCompile(`\[media:(\d+)\]`)

// Coordinator publishes drafts.
type Coordinator struct {
	DB       *gorm.DB
	Locks    lock.Locker
	Uploader MediaUploader
	Gateway  PublishGateway
	Notifier Notifier

	// CallTimeout bounds each upload, the publish call and the notification.
	CallTimeout time.Duration
	// UploadConcurrency limits parallel uploads; <=0 means 4.
	UploadConcurrency int

	Now func() time.Time
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

// Finalize publishes d for w. The first caller for a window performs the
// publish and returns the new result; later callers get the stored result
// (or ErrFinalizeInProgress while the first caller is still running).
// Publish failures are terminal and reported through the result, not the
// error.
func (c *Coordinator) Finalize(ctx context.Context, w domain.Window, d domain.DraftArticle) (*domain.PublishedResult, error) {
	tr := otel.Tracer("services/Coordinator")
	ctx, span := tr.Start(ctx, "Finalize",
		trace.WithAttributes(
			attribute.String("window.id", w.ID),
			attribute.String("user.id", w.UserID),
			attribute.Int("media", len(d.MediaRefs)),
		),
	)
	defer span.End()

	won, err := c.claim(ctx, w)
	if err != nil {
		return nil, err
	}
	if !won {
		return c.stored(ctx, w.ID)
	}
	start := time.Now()

	// Once claimed, the window must reach a terminal record: a shutdown
	// arriving mid-publish does not cancel the remaining calls, each of
	// which stays bounded by CallTimeout.
	ctx = context.WithoutCancel(ctx)

	results := c.uploadAll(ctx, w, d)
	uploadFailures := 0
	var uploaded []media.Ref
	for _, r := range results {
		if r.err != nil {
			uploadFailures++
			continue
		}
		uploaded = append(uploaded, r.ref)
	}

	body := spliceMedia(d.Body, d.MediaRefs, results)
	body = textclean.StripTitle(d.Title, body)

	pctx, cancel := withTimeout(ctx, c.CallTimeout)
	pub, perr := c.Gateway.Publish(pctx, publish.Article{
		Title:   d.Title,
		Body:    body,
		Tags:    d.Tags,
		Summary: d.Summary,
	})
	cancel()

	res := &domain.PublishedResult{
		WindowID:              w.ID,
		UserID:                w.UserID,
		Title:                 d.Title,
		MediaUploadFailures:   uploadFailures,
		MediaAnalysisFailures: d.AnalysisFailures,
	}
	if perr != nil {
		res.Status = domain.StateFailed
		res.Reason = fmt.Sprintf("publish: %s: %v", failure.KindOf(perr), perr)
		log.Error().Err(perr).Str("window_id", w.ID).Str("user_id", w.UserID).Msg("publish failed")
		c.cleanup(ctx, w, uploaded)
	} else {
		now := c.now()
		res.Status = domain.StatePublished
		res.ExternalArticleID = pub.ID
		res.ExternalURL = pub.URL
		res.PublishedAt = &now
		if uploadFailures > 0 {
			res.Reason = fmt.Sprintf("%s: %d of %d media uploads failed", failure.PartialMediaLoss, uploadFailures, len(results))
		}
	}

	if err := c.record(ctx, w, res); err != nil {
		return nil, err
	}
	finalizeDuration.WithLabelValues(res.Status).Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.String("result.status", res.Status), attribute.Int("media.upload_failures", uploadFailures))

	log.Info().
		Str("window_id", w.ID).
		Str("user_id", w.UserID).
		Str("status", res.Status).
		Str("url", res.ExternalURL).
		Int("media_upload_failures", uploadFailures).
		Int("media_analysis_failures", d.AnalysisFailures).
		Msg("window finalized")

	c.notify(ctx, res)
	return res, nil
}

// Abandon records a failed result for a window whose draft could not be
// built. It follows the same claim discipline as Finalize.
func (c *Coordinator) Abandon(ctx context.Context, w domain.Window, cause error) (*domain.PublishedResult, error) {
	tr := otel.Tracer("services/Coordinator")
	ctx, span := tr.Start(ctx, "Abandon",
		trace.WithAttributes(
			attribute.String("window.id", w.ID),
			attribute.String("user.id", w.UserID),
		),
	)
	defer span.End()

	won, err := c.claim(ctx, w)
	if err != nil {
		return nil, err
	}
	if !won {
		return c.stored(ctx, w.ID)
	}

	res := &domain.PublishedResult{
		WindowID: w.ID,
		UserID:   w.UserID,
		Status:   domain.StateFailed,
		Reason:   fmt.Sprintf("%s: %v", failure.KindOf(cause), cause),
	}
	if err := c.record(ctx, w, res); err != nil {
		return nil, err
	}
	log.Error().Err(cause).Str("window_id", w.ID).Str("user_id", w.UserID).Msg("window abandoned")

	c.notify(ctx, res)
	return res, nil
}

// MarkInterrupted records a failed result for a window whose publish was
// claimed by a process that died before recording the outcome. Such windows
// are never published again because the first attempt may have succeeded.
func (c *Coordinator) MarkInterrupted(ctx context.Context, w domain.Window) (*domain.PublishedResult, error) {
	res := &domain.PublishedResult{
		WindowID: w.ID,
		UserID:   w.UserID,
		Status:   domain.StateFailed,
		Reason:   "interrupted",
	}
	if err := c.record(ctx, w, res); err != nil {
		return nil, err
	}
	log.Warn().Str("window_id", w.ID).Str("user_id", w.UserID).Msg("interrupted finalize marked failed")
	return res, nil
}

// Revise replaces the article of an already published window and refreshes
// the stored title and URL.
func (c *Coordinator) Revise(ctx context.Context, windowID string, a publish.Article) (*domain.PublishedResult, error) {
	tr := otel.Tracer("services/Coordinator")
	ctx, span := tr.Start(ctx, "Revise", trace.WithAttributes(attribute.String("window.id", windowID)))
	defer span.End()

	res, err := repo.GetResult(ctx, c.DB, windowID)
	if errors.Is(err, repo.ErrNotFound) {
		if _, werr := repo.GetWindow(ctx, c.DB, windowID); errors.Is(werr, repo.ErrNotFound) {
			return nil, ErrWindowNotFound
		}
		return nil, ErrNotPublished
	}
	if err != nil {
		return nil, err
	}
	if res.Status != domain.StatePublished || res.ExternalArticleID == "" {
		return nil, ErrNotPublished
	}

	a.Title = strings.TrimSpace(a.Title)
	if a.Title == "" {
		a.Title = res.Title
	}
	a.Body = textclean.StripTitle(a.Title, a.Body)
	if a.Body == "" {
		return nil, ErrEmptyMessage
	}

	pctx, cancel := withTimeout(ctx, c.CallTimeout)
	pub, err := c.Gateway.Update(pctx, res.ExternalArticleID, a)
	cancel()
	if err != nil {
		return nil, err
	}
	url := pub.URL
	if url == "" {
		url = res.ExternalURL
	}
	if err := repo.UpdateResultArticle(ctx, c.DB, windowID, a.Title, url); err != nil {
		return nil, err
	}
	return repo.GetResult(ctx, c.DB, windowID)
}

// claim flips the window's finalize marker under the user lock.
func (c *Coordinator) claim(ctx context.Context, w domain.Window) (bool, error) {
	unlock, err := c.Locks.Lock(ctx, userKey(w.UserID))
	if err != nil {
		return false, err
	}
	defer unlock()
	return repo.ClaimFinalize(ctx, c.DB, w.ID)
}

// stored resolves a lost claim to the recorded result or the reason there
// is none yet.
func (c *Coordinator) stored(ctx context.Context, windowID string) (*domain.PublishedResult, error) {
	res, err := repo.GetResult(ctx, c.DB, windowID)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	cur, err := repo.GetWindow(ctx, c.DB, windowID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrWindowNotFound
	}
	if err != nil {
		return nil, err
	}
	if cur.State == domain.StateCollecting {
		return nil, ErrWindowNotSealed
	}
	return nil, ErrFinalizeInProgress
}

// record writes the terminal result, completes the window and marks its
// messages consumed in one transaction. It runs detached from ctx so a
// cancelled caller cannot leave a published article unrecorded.
func (c *Coordinator) record(ctx context.Context, w domain.Window, res *domain.PublishedResult) error {
	ctx = context.WithoutCancel(ctx)
	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.CreateResult(ctx, tx, res); err != nil {
			return err
		}
		if err := repo.CompleteWindow(ctx, tx, w.ID, res.Status); err != nil {
			return err
		}
		_, err := repo.MarkConsumed(ctx, tx, w.ID)
		return err
	})
	if err != nil {
		return err
	}
	windowsTotal.WithLabelValues(res.Status).Inc()
	return nil
}

type uploadResult struct {
	ref media.Ref
	err error
}

// uploadAll uploads every media item of d in parallel. results is parallel
// to d.MediaRefs.
func (c *Coordinator) uploadAll(ctx context.Context, w domain.Window, d domain.DraftArticle) []uploadResult {
	results := make([]uploadResult, len(d.MediaRefs))
	limit := c.UploadConcurrency
	if limit <= 0 {
		limit = 4
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, mr := range d.MediaRefs {
		i, mr := i, mr
		g.Go(func() error {
			ref, err := c.Uploader.Upload(ctx, mr.Path, media.UploadMeta{
				WindowID:    w.ID,
				UserID:      w.UserID,
				MessageID:   mr.MessageID,
				Kind:        mr.Kind,
				Title:       d.Title,
				Description: mr.Description,
			})
			if err != nil {
				log.Warn().Err(err).
					Str("window_id", w.ID).
					Str("message_id", mr.MessageID).
					Str("kind", failure.KindOf(err).String()).
					Msg("media upload failed on every provider")
			}
			results[i] = uploadResult{ref: ref, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// cleanup deletes media uploaded for a window whose publish failed.
func (c *Coordinator) cleanup(ctx context.Context, w domain.Window, refs []media.Ref) {
	ctx = context.WithoutCancel(ctx)
	for _, ref := range refs {
		dctx, cancel := withTimeout(ctx, c.CallTimeout)
		if err := c.Uploader.Delete(dctx, ref); err != nil {
			log.Warn().Err(err).Str("window_id", w.ID).Str("provider", ref.Provider).Msg("media cleanup failed")
		}
		cancel()
	}
}

func (c *Coordinator) notify(ctx context.Context, res *domain.PublishedResult) {
	if c.Notifier == nil {
		return
	}
	text := apologyText
	if res.Status == domain.StatePublished {
		text = fmt.Sprintf("Your post is up: %s\n%s", res.Title, res.ExternalURL)
	}
	nctx, cancel := withTimeout(context.WithoutCancel(ctx), c.CallTimeout)
	defer cancel()
	if err := c.Notifier.Notify(nctx, res.UserID, text); err != nil {
		log.Warn().Err(err).Str("window_id", res.WindowID).Str("user_id", res.UserID).Msg("notify failed")
	}
}

// spliceMedia replaces [media:N] tokens with Markdown for the hosted media.
// Images become inline images, other kinds links. Tokens of failed uploads
// are removed.
func spliceMedia(body string, refs []domain.MediaRef, results []uploadResult) string {
	out := placeholderRE.ReplaceAllStringFunc(body, func(tok string) string {
		n, err := strconv.Atoi(placeholderRE.FindStringSubmatch(tok)[1])
		if err != nil || n < 1 || n > len(refs) || n > len(results) {
			return ""
		}
		r := results[n-1]
		if r.err != nil || r.ref.URL == "" {
			return ""
		}
		mr := refs[n-1]
		desc := altText(mr.Description)
		if mr.Kind == domain.KindImage {
			return fmt.Sprintf("![%s](%s)", desc, r.ref.URL)
		}
		return fmt.Sprintf("[%s](%s)", desc, r.ref.URL)
	})
	return collapseBlank(out)
}

var altReplacer = strings.NewReplacer("[", "", "]", "", "\r", " ", "\n", " ")

func altText(s string) string {
	return strings.Join(strings.Fields(altReplacer.Replace(s)), " ")
}
