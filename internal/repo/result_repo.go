// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// PublishedResult model, the terminal record of a window.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/lifelog-publisher/internal/domain"
)

// CreateResult inserts the terminal record of a window. The unique index on
// window_id turns a second insert for the same window into ErrDuplicate.
func CreateResult(ctx context.Context, db *gorm.DB, r *domain.PublishedResult) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if err := db.WithContext(ctx).Create(r).Error; err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetResult fetches the terminal record of a window, or ErrNotFound.
func GetResult(ctx context.Context, db *gorm.DB, windowID string) (*domain.PublishedResult, error) {
	var r domain.PublishedResult
	if err := db.WithContext(ctx).Where("window_id = ?", windowID).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// UpdateResultArticle refreshes the title and URL of a published result
// after the article was revised at the blog.
func UpdateResultArticle(ctx context.Context, db *gorm.DB, windowID, title, url string) error {
	res := db.WithContext(ctx).
		Model(&domain.PublishedResult{}).
		Where("window_id = ? AND status = ?", windowID, domain.StatePublished).
		Updates(map[string]any{
			"title":        title,
			"external_url": url,
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListInterrupted returns finalizing windows whose publish was claimed but
// which never got a terminal record.
func ListInterrupted(ctx context.Context, db *gorm.DB) ([]domain.Window, error) {
	var out []domain.Window
	err := db.WithContext(ctx).
		Where("state = ? AND finalize_attempted = ?", domain.StateFinalizing, true).
		Where("NOT EXISTS (SELECT 1 FROM published_results r WHERE r.window_id = windows.id)").
		Order("closes_at ASC, id ASC").
		Find(&out).Error
	return out, err
}
