// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Window
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence, query composition and the conditional updates that back the
// window state machine.
//
// Error semantics:
//   - When a window is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - Unique violations (a second collecting window for a user, a second
//     result for a window, a redelivered message id) are reported as
//     ErrDuplicate.
//   - On other DB errors, the raw gorm error is propagated.
//
// State transitions are all conditional UPDATEs whose RowsAffected tells the
// caller whether it won the transition:
//
//   - SealWindow:      collecting -> finalizing
//   - ClaimFinalize:   finalize_attempted false -> true (finalizing only)
//   - CompleteWindow:  finalizing -> published | failed
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/lifelog-publisher/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates that a unique constraint rejected the insert.
var ErrDuplicate = errors.New("duplicate")

// isDuplicate reports whether err is a unique-constraint violation.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}

// CreateWindow inserts a new collecting window for userID. The window ID is a
// random UUID and all timestamps are stored in UTC. It returns ErrDuplicate
// when the user already has a collecting window.
func CreateWindow(ctx context.Context, db *gorm.DB, userID string, openedAt, closesAt time.Time) (*domain.Window, error) {
	w := &domain.Window{
		ID:       uuid.NewString(),
		UserID:   userID,
		State:    domain.StateCollecting,
		OpenedAt: openedAt.UTC(),
		ClosesAt: closesAt.UTC(),
	}
	if err := db.WithContext(ctx).Create(w).Error; err != nil {
		if isDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return w, nil
}

// GetWindow fetches a window by ID without its messages.
func GetWindow(ctx context.Context, db *gorm.DB, id string) (*domain.Window, error) {
	var w domain.Window
	if err := db.WithContext(ctx).Where("id = ?", id).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

// GetWindowWithMessages fetches a window and its messages in arrival order.
func GetWindowWithMessages(ctx context.Context, db *gorm.DB, id string) (*domain.Window, error) {
	var w domain.Window
	err := db.WithContext(ctx).
		Preload("Messages", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("received_at ASC, seq ASC, id ASC")
		}).
		Where("id = ?", id).
		First(&w).Error
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// FindCollecting returns the user's collecting window, or ErrNotFound.
func FindCollecting(ctx context.Context, db *gorm.DB, userID string) (*domain.Window, error) {
	var w domain.Window
	err := db.WithContext(ctx).
		Where("user_id = ? AND state = ?", userID, domain.StateCollecting).
		First(&w).Error
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// AppendToWindow bumps the message count of a collecting window and, when
// closesAt is non-nil, moves its scheduled close. It returns ErrNotFound if
// the window is no longer collecting.
func AppendToWindow(ctx context.Context, db *gorm.DB, id string, closesAt *time.Time) error {
	updates := map[string]any{
		"message_count": gorm.Expr("message_count + 1"),
		"updated_at":    time.Now().UTC(),
	}
	if closesAt != nil {
		updates["closes_at"] = closesAt.UTC()
	}
	res := db.WithContext(ctx).
		Model(&domain.Window{}).
		Where("id = ? AND state = ?", id, domain.StateCollecting).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListExpired returns collecting windows whose close time is at or before
// now, oldest first. A non-positive limit means no limit.
func ListExpired(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.Window, error) {
	var out []domain.Window
	q := db.WithContext(ctx).
		Where("state = ? AND closes_at <= ?", domain.StateCollecting, now.UTC()).
		Order("closes_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// ListFinalizing returns finalizing windows filtered by their
// finalize_attempted marker, oldest close first.
func ListFinalizing(ctx context.Context, db *gorm.DB, attempted bool) ([]domain.Window, error) {
	var out []domain.Window
	err := db.WithContext(ctx).
		Where("state = ? AND finalize_attempted = ?", domain.StateFinalizing, attempted).
		Order("closes_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// SealWindow moves a collecting window to finalizing. It reports whether
// this call performed the transition.
func SealWindow(ctx context.Context, db *gorm.DB, id string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Window{}).
		Where("id = ? AND state = ?", id, domain.StateCollecting).
		Updates(map[string]any{
			"state":      domain.StateFinalizing,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ClaimFinalize sets the finalize_attempted marker of a finalizing window.
// Only the caller that flips the marker gets true; every later call gets
// false.
func ClaimFinalize(ctx context.Context, db *gorm.DB, id string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Window{}).
		Where("id = ? AND state = ? AND finalize_attempted = ?", id, domain.StateFinalizing, false).
		Updates(map[string]any{
			"finalize_attempted": true,
			"updated_at":         time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CompleteWindow moves a finalizing window to a terminal state. It returns
// ErrNotFound when the window is not finalizing.
func CompleteWindow(ctx context.Context, db *gorm.DB, id, state string) error {
	res := db.WithContext(ctx).
		Model(&domain.Window{}).
		Where("id = ? AND state = ?", id, domain.StateFinalizing).
		Updates(map[string]any{
			"state":      state,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
