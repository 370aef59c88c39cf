// Package services – AggregationEngine
//
// AggregationEngine turns the messages of a sealed window into a draft
// article: media items are described in parallel, texts and descriptions are
// merged in arrival order, the merged text is composed into an article, and
// the composed body's media tags are resolved to numbered placeholders that
// the coordinator later replaces with hosted URLs.
package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/lifelog-publisher/internal/analyzer"
	"github.com/tbourn/lifelog-publisher/internal/domain"
	"github.com/tbourn/lifelog-publisher/internal/failure"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// FallbackDescription replaces a media description that could not be
// generated.
const FallbackDescription = "media attached"

const defaultTitleLayout = "Lifelog 2006/01/02 15:04"

var mediaTagRE = regexp.MustCompile(`\[media:\s*([^\]]*)\]`)

// ContentAnalyzer is the generative-content collaborator.
type ContentAnalyzer interface {
	Describe(ctx context.Context, mediaPath, hint string) (string, error)
	Compose(ctx context.Context, mergedText string) (analyzer.Composition, error)
}

// AggregationEngine builds drafts from windows.
type AggregationEngine struct {
	Analyzer ContentAnalyzer

	// CallTimeout bounds each Describe and Compose call.
	CallTimeout time.Duration
	// ComposeAttempts is the total number of Compose tries on transient errors.
	ComposeAttempts int
	// RetryBackoff is the first delay between Compose tries; it doubles.
	RetryBackoff time.Duration
	// MaxMediaFailures fails the window when more descriptions than this
	// fall back. Zero means unlimited.
	MaxMediaFailures int
	// DescribeConcurrency limits parallel Describe calls; <=0 means 4.
	DescribeConcurrency int
}

// Build produces the draft of w. w.Messages must be loaded.
func (e *AggregationEngine) Build(ctx context.Context, w domain.Window) (domain.DraftArticle, error) {
	tr := otel.Tracer("services/AggregationEngine")
	ctx, span := tr.Start(ctx, "Build",
		trace.WithAttributes(
			attribute.String("window.id", w.ID),
			attribute.String("user.id", w.UserID),
			attribute.Int("messages", len(w.Messages)),
		),
	)
	defer span.End()

	if len(w.Messages) == 0 {
		return domain.DraftArticle{}, failure.New(failure.FatalCompose, "aggregate.build", errors.New("window has no messages"))
	}

	msgs := orderMessages(w.Messages)
	refs, failed := e.describeAll(ctx, w, msgs)
	span.SetAttributes(attribute.Int("media", len(refs)), attribute.Int("media.analysis_failures", failed))
	if e.MaxMediaFailures > 0 && failed > e.MaxMediaFailures {
		return domain.DraftArticle{}, failure.New(failure.FatalCompose, "aggregate.describe",
			fmt.Errorf("%w: %d of %d", ErrTooManyMediaFailures, failed, len(refs)))
	}

	merged := mergeText(msgs, refs)
	comp, err := retry(ctx, "analyzer.compose", e.ComposeAttempts, e.RetryBackoff, func(ctx context.Context) (analyzer.Composition, error) {
		cctx, cancel := withTimeout(ctx, e.CallTimeout)
		defer cancel()
		return e.Analyzer.Compose(cctx, merged)
	})
	if err != nil {
		return domain.DraftArticle{}, failure.New(failure.FatalCompose, "aggregate.compose", err)
	}
	if strings.TrimSpace(comp.Body) == "" {
		return domain.DraftArticle{}, failure.New(failure.FatalCompose, "aggregate.compose", errors.New("composed body is empty"))
	}

	title := strings.TrimSpace(comp.Title)
	if title == "" {
		title = w.OpenedAt.Format(defaultTitleLayout)
	}

	return domain.DraftArticle{
		Title:            title,
		Summary:          strings.TrimSpace(comp.Summary),
		Tags:             comp.Tags,
		Body:             resolvePlaceholders(comp.Body, refs),
		MediaRefs:        refs,
		AnalysisFailures: failed,
	}, nil
}

// orderMessages returns a copy of msgs sorted by arrival, ties broken by
// insertion order.
func orderMessages(msgs []domain.Message) []domain.Message {
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ReceivedAt.Before(out[j].ReceivedAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// describeAll describes every media message in parallel and returns the refs
// with the number of failed descriptions. Failures fall back to
// FallbackDescription and are logged, never returned.
func (e *AggregationEngine) describeAll(ctx context.Context, w domain.Window, msgs []domain.Message) ([]domain.MediaRef, int) {
	var refs []domain.MediaRef
	var hints []string
	lastText := ""
	for _, m := range msgs {
		if !m.IsMedia() {
			lastText = m.TextBody
			continue
		}
		refs = append(refs, domain.MediaRef{
			Index:     len(refs) + 1,
			MessageID: m.ID,
			Kind:      m.Kind,
			Path:      m.MediaPath,
		})
		hints = append(hints, lastText)
	}
	if len(refs) == 0 {
		return nil, 0
	}

	limit := e.DescribeConcurrency
	if limit <= 0 {
		limit = 4
	}
	failedAt := make([]bool, len(refs))
	var g errgroup.Group
	g.SetLimit(limit)
	for i := range refs {
		i := i
		g.Go(func() error {
			cctx, cancel := withTimeout(ctx, e.CallTimeout)
			defer cancel()
			desc, err := e.Analyzer.Describe(cctx, refs[i].Path, hints[i])
			desc = strings.TrimSpace(desc)
			if err != nil || desc == "" {
				log.Warn().Err(err).
					Str("window_id", w.ID).
					Str("user_id", w.UserID).
					Str("message_id", refs[i].MessageID).
					Str("kind", failure.KindOf(err).String()).
					Msg("media description failed")
				analysisFailuresTotal.Inc()
				failedAt[i] = true
				desc = FallbackDescription
			}
			refs[i].Description = altText(desc)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, f := range failedAt {
		if f {
			failed++
		}
	}
	return refs, failed
}

// mergeText joins text bodies and media tags in arrival order.
func mergeText(msgs []domain.Message, refs []domain.MediaRef) string {
	parts := make([]string, 0, len(msgs))
	next := 0
	for _, m := range msgs {
		if m.IsMedia() {
			parts = append(parts, "[media: "+altText(refs[next].Description)+"]")
			next++
			continue
		}
		if t := strings.TrimSpace(m.TextBody); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

// resolvePlaceholders rewrites every media tag of body to a [media:N] token.
// A tag maps to an explicit unused index, else to the first unused item with
// an equal description, else to the next unused item. Tags left over are
// removed and items never referenced are appended at the end.
func resolvePlaceholders(body string, refs []domain.MediaRef) string {
	used := make([]bool, len(refs)+1)
	nextUnused := func() int {
		for i := 1; i <= len(refs); i++ {
			if !used[i] {
				return i
			}
		}
		return 0
	}

	out := mediaTagRE.ReplaceAllStringFunc(body, func(tag string) string {
		inner := strings.TrimSpace(mediaTagRE.FindStringSubmatch(tag)[1])
		n := 0
		if idx, err := strconv.Atoi(inner); err == nil {
			if idx >= 1 && idx <= len(refs) && !used[idx] {
				n = idx
			}
		} else {
			for _, r := range refs {
				if !used[r.Index] && strings.EqualFold(altText(r.Description), inner) {
					n = r.Index
					break
				}
			}
			if n == 0 {
				n = nextUnused()
			}
		}
		if n == 0 {
			return ""
		}
		used[n] = true
		return domain.Placeholder(n)
	})

	var b strings.Builder
	b.WriteString(strings.TrimSpace(out))
	for _, r := range refs {
		if !used[r.Index] {
			b.WriteString("\n\n")
			b.WriteString(r.Placeholder())
		}
	}
	return collapseBlank(b.String())
}

var blankRunRE = regexp.MustCompile(`\n[ \t]*\n(?:[ \t]*\n)+`)

func collapseBlank(s string) string {
	return strings.TrimSpace(blankRunRE.ReplaceAllString(s, "\n\n"))
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
