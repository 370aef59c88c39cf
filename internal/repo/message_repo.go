// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message
// model.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/lifelog-publisher/internal/domain"
)

// CreateMessage inserts m as-is. The ID is assigned by the chat platform, so
// a redelivered message yields ErrDuplicate.
func CreateMessage(ctx context.Context, db *gorm.DB, m *domain.Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetMessage fetches a message by ID.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ListWindowMessages returns a window's messages ordered deterministically
// (ReceivedAt ASC, Seq ASC, ID ASC).
func ListWindowMessages(ctx context.Context, db *gorm.DB, windowID string) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("window_id = ?", windowID).
		Order("received_at ASC, seq ASC, id ASC").
		Find(&out).Error
	return out, err
}

// MarkConsumed flags every message of the window as aggregated and returns
// the number of rows changed.
func MarkConsumed(ctx context.Context, db *gorm.DB, windowID string) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("window_id = ? AND consumed = ?", windowID, false).
		Update("consumed", true)
	return res.RowsAffected, res.Error
}
