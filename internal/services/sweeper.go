// Package services – Sweeper
//
// Sweeper drives the pipeline. Every tick it seals expired windows and hands
// each finalizing, unclaimed window to a bounded pool of workers that build
// and finalize it. The same query resumes windows left over by a restart;
// windows whose publish was claimed but never recorded are failed once at
// startup instead of being published a second time.
package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/lifelog-publisher/internal/domain"
	"github.com/tbourn/lifelog-publisher/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Sweeper runs the seal/build/finalize loop.
type Sweeper struct {
	DB          *gorm.DB
	Windows     *WindowManager
	Engine      *AggregationEngine
	Coordinator *Coordinator

	Interval time.Duration
	Workers  int

	mu       sync.Mutex
	inflight map[string]bool
}

func (s *Sweeper) workers() int {
	if s.Workers <= 0 {
		return 1
	}
	return s.Workers
}

// Run recovers interrupted windows, then ticks until ctx is cancelled.
// It returns nil on cancellation.
func (s *Sweeper) Run(ctx context.Context) error {
	if _, err := s.Recover(ctx); err != nil {
		return err
	}

	interval := s.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	jobs := make(chan string, s.workers()*4)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.workers(); i++ {
		g.Go(func() error {
			for id := range jobs {
				if err := s.Process(gctx, id); err != nil && gctx.Err() == nil {
					log.Error().Err(err).Str("window_id", id).Msg("window processing failed")
				}
				s.done(id)
			}
			return nil
		})
	}
	g.Go(func() error {
		defer close(jobs)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			if err := s.tick(gctx, jobs); err != nil && gctx.Err() == nil {
				log.Error().Err(err).Msg("sweep failed")
			}
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// tick seals expired windows and queues every finalizing window that is not
// already being processed.
func (s *Sweeper) tick(ctx context.Context, jobs chan<- string) error {
	ids, err := s.pending(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if !s.start(id) {
			continue
		}
		select {
		case jobs <- id:
		case <-ctx.Done():
			s.done(id)
			return ctx.Err()
		}
	}
	return nil
}

// RunOnce performs one sweep synchronously: it seals expired windows and
// processes every pending window, at most Workers at a time. It returns the
// IDs processed.
func (s *Sweeper) RunOnce(ctx context.Context) ([]string, error) {
	ids, err := s.pending(ctx)
	if err != nil {
		return nil, err
	}
	var (
		mu   sync.Mutex
		done []string
	)
	var g errgroup.Group
	g.SetLimit(s.workers())
	for _, id := range ids {
		id := id
		if !s.start(id) {
			continue
		}
		g.Go(func() error {
			defer s.done(id)
			if err := s.Process(ctx, id); err != nil {
				return err
			}
			mu.Lock()
			done = append(done, id)
			mu.Unlock()
			return nil
		})
	}
	err = g.Wait()
	return done, err
}

func (s *Sweeper) pending(ctx context.Context) ([]string, error) {
	if _, err := s.Windows.SealExpired(ctx, s.Windows.now()); err != nil {
		return nil, err
	}
	ws, err := repo.ListFinalizing(ctx, s.DB, false)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(ws))
	for _, w := range ws {
		ids = append(ids, w.ID)
	}
	return ids, nil
}

func (s *Sweeper) start(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight == nil {
		s.inflight = make(map[string]bool)
	}
	if s.inflight[id] {
		return false
	}
	s.inflight[id] = true
	return true
}

func (s *Sweeper) done(id string) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
}

// Recover fails every window whose publish was claimed but never recorded
// and returns how many were marked.
func (s *Sweeper) Recover(ctx context.Context) (int, error) {
	ws, err := repo.ListInterrupted(ctx, s.DB)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, w := range ws {
		if _, err := s.Coordinator.MarkInterrupted(ctx, w); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Process builds and finalizes one window. Windows that are not finalizing
// or already claimed are skipped.
func (s *Sweeper) Process(ctx context.Context, windowID string) error {
	tr := otel.Tracer("services/Sweeper")
	ctx, span := tr.Start(ctx, "Process", trace.WithAttributes(attribute.String("window.id", windowID)))
	defer span.End()

	w, err := repo.GetWindowWithMessages(ctx, s.DB, windowID)
	if err != nil {
		return err
	}
	if w.State != domain.StateFinalizing || w.FinalizeAttempted {
		return nil
	}

	draft, err := s.Engine.Build(ctx, *w)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, aerr := s.Coordinator.Abandon(ctx, *w, err)
		return ignoreLostClaim(aerr)
	}
	_, err = s.Coordinator.Finalize(ctx, *w, draft)
	return ignoreLostClaim(err)
}

// ignoreLostClaim treats losing the finalize race to another worker as
// success.
func ignoreLostClaim(err error) error {
	if errors.Is(err, ErrFinalizeInProgress) {
		return nil
	}
	return err
}
