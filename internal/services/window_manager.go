// Package services – WindowManager
//
// WindowManager owns the collecting side of the window lifecycle: it appends
// inbound messages to the user's open window under a per-user lock, opens a
// new window when none is open or the open one has expired, and seals expired
// windows during the sweep.
//
// Every state change is a conditional UPDATE in the repo layer, so two
// processes that somehow bypass the lock still cannot both win a transition;
// the partial unique index on windows(user_id) WHERE state='collecting'
// rejects a second open window outright.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/lifelog-publisher/internal/domain"
	"github.com/tbourn/lifelog-publisher/internal/lock"
	"github.com/tbourn/lifelog-publisher/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// WindowManager buffers messages into per-user windows.
type WindowManager struct {
	DB    *gorm.DB
	Locks lock.Locker

	// Span is the window width measured from its first message.
	Span time.Duration
	// Sliding pushes closesAt to now+Span on every append.
	Sliding bool
	// MaxSpan caps a sliding window at openedAt+MaxSpan. Zero disables the cap.
	MaxSpan time.Duration

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

func (s *WindowManager) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func userKey(userID string) string { return "user:" + userID }

// AddMessage appends m to the user's collecting window and returns that
// window's ID. A redelivered message ID returns the window it already
// belongs to without inserting anything.
func (s *WindowManager) AddMessage(ctx context.Context, m domain.Message) (string, error) {
	tr := otel.Tracer("services/WindowManager")
	ctx, span := tr.Start(ctx, "AddMessage",
		trace.WithAttributes(
			attribute.String("user.id", m.UserID),
			attribute.String("message.id", m.ID),
			attribute.String("message.kind", m.Kind),
		),
	)
	defer span.End()

	if err := validateMessage(&m); err != nil {
		return "", err
	}

	unlock, err := s.Locks.Lock(ctx, userKey(m.UserID))
	if err != nil {
		return "", err
	}
	defer unlock()

	if existing, err := repo.GetMessage(ctx, s.DB, m.ID); err == nil {
		return existing.WindowID, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return "", err
	}

	now := s.now()
	if m.ReceivedAt.IsZero() {
		m.ReceivedAt = now
	}
	m.ReceivedAt = m.ReceivedAt.UTC()

	var windowID string
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		w, err := s.openWindow(ctx, tx, m.UserID, now)
		if err != nil {
			return err
		}
		m.WindowID = w.ID
		m.Seq = w.MessageCount
		if err := repo.CreateMessage(ctx, tx, &m); err != nil {
			return err
		}

		var closesAt *time.Time
		if s.Sliding {
			next := s.slide(*w, now)
			closesAt = &next
		}
		if err := repo.AppendToWindow(ctx, tx, w.ID, closesAt); err != nil {
			return err
		}
		windowID = w.ID
		return nil
	})
	if errors.Is(err, repo.ErrDuplicate) {
		// Lost a race against a redelivery handled elsewhere.
		if existing, gerr := repo.GetMessage(ctx, s.DB, m.ID); gerr == nil {
			return existing.WindowID, nil
		}
	}
	if err != nil {
		return "", err
	}

	span.SetAttributes(attribute.String("window.id", windowID))
	return windowID, nil
}

// openWindow returns the user's collecting window, sealing it first and
// opening a fresh one when it has already expired.
func (s *WindowManager) openWindow(ctx context.Context, tx *gorm.DB, userID string, now time.Time) (*domain.Window, error) {
	w, err := repo.FindCollecting(ctx, tx, userID)
	switch {
	case err == nil && w.ClosesAt.After(now):
		return w, nil
	case err == nil:
		sealed, err := repo.SealWindow(ctx, tx, w.ID)
		if err != nil {
			return nil, err
		}
		if sealed {
			log.Info().Str("window_id", w.ID).Str("user_id", userID).Msg("window sealed by late message")
		}
	case !errors.Is(err, repo.ErrNotFound):
		return nil, err
	}
	return repo.CreateWindow(ctx, tx, userID, now, now.Add(s.Span))
}

// slide computes the next close of a sliding window.
func (s *WindowManager) slide(w domain.Window, now time.Time) time.Time {
	next := now.Add(s.Span)
	if s.MaxSpan > 0 {
		if limit := w.OpenedAt.Add(s.MaxSpan); next.After(limit) {
			next = limit
		}
	}
	if next.Before(w.ClosesAt) {
		return w.ClosesAt
	}
	return next
}

func validateMessage(m *domain.Message) error {
	m.ID = strings.TrimSpace(m.ID)
	m.UserID = strings.TrimSpace(m.UserID)
	if m.ID == "" || m.UserID == "" {
		return ErrInvalidMessage
	}
	if !domain.ValidKind(m.Kind) {
		return ErrInvalidKind
	}
	if m.Kind == domain.KindText {
		m.MediaPath = ""
		if strings.TrimSpace(m.TextBody) == "" {
			return ErrEmptyMessage
		}
		return nil
	}
	m.TextBody = ""
	if strings.TrimSpace(m.MediaPath) == "" {
		return ErrEmptyMessage
	}
	return nil
}

// SealExpired seals every collecting window whose close time is at or
// before now and returns the IDs this call actually transitioned.
func (s *WindowManager) SealExpired(ctx context.Context, now time.Time) ([]string, error) {
	tr := otel.Tracer("services/WindowManager")
	ctx, span := tr.Start(ctx, "SealExpired")
	defer span.End()

	now = now.UTC()
	expired, err := repo.ListExpired(ctx, s.DB, now, 0)
	if err != nil {
		return nil, err
	}

	var sealed []string
	for _, w := range expired {
		ok, err := s.sealOne(ctx, w, now)
		if err != nil {
			return sealed, err
		}
		if ok {
			sealed = append(sealed, w.ID)
		}
	}
	span.SetAttributes(attribute.Int("windows.sealed", len(sealed)))
	return sealed, nil
}

func (s *WindowManager) sealOne(ctx context.Context, w domain.Window, now time.Time) (bool, error) {
	unlock, err := s.Locks.Lock(ctx, userKey(w.UserID))
	if err != nil {
		return false, err
	}
	defer unlock()

	// A sliding window may have been extended since it was listed.
	cur, err := repo.GetWindow(ctx, s.DB, w.ID)
	if err != nil {
		return false, err
	}
	if cur.State != domain.StateCollecting || cur.ClosesAt.After(now) {
		return false, nil
	}
	return repo.SealWindow(ctx, s.DB, w.ID)
}

// Window returns a window with its messages and, once terminal, its result.
func (s *WindowManager) Window(ctx context.Context, id string) (*domain.Window, *domain.PublishedResult, error) {
	tr := otel.Tracer("services/WindowManager")
	ctx, span := tr.Start(ctx, "Window", trace.WithAttributes(attribute.String("window.id", id)))
	defer span.End()

	w, err := repo.GetWindowWithMessages(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil, ErrWindowNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	res, err := repo.GetResult(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return w, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return w, res, nil
}

// Stats returns window counts per state and failure totals.
func (s *WindowManager) Stats(ctx context.Context) (repo.Stats, error) {
	tr := otel.Tracer("services/WindowManager")
	ctx, span := tr.Start(ctx, "Stats")
	defer span.End()
	return repo.WindowStats(ctx, s.DB)
}
