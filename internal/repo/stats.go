// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// by the stats endpoint. Each function is context-aware and safe to call from
// services or handlers.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/lifelog-publisher/internal/domain"
)

// Stats summarizes the pipeline state.
//
// Fields:
//   - Windows:               number of windows per state (all four states present)
//   - MediaUploadFailures:   sum over all results
//   - MediaAnalysisFailures: sum over all results
//   - LastPublishedAt:       latest PublishedAt, or nil if nothing was published
type Stats struct {
	Windows               map[string]int64 `json:"windows"`
	MediaUploadFailures   int64            `json:"media_upload_failures"`
	MediaAnalysisFailures int64            `json:"media_analysis_failures"`
	LastPublishedAt       *time.Time       `json:"last_published_at,omitempty"`
}

// WindowStats returns window counts per state plus failure totals of the
// terminal records.
func WindowStats(ctx context.Context, db *gorm.DB) (Stats, error) {
	st := Stats{Windows: map[string]int64{
		domain.StateCollecting: 0,
		domain.StateFinalizing: 0,
		domain.StatePublished:  0,
		domain.StateFailed:     0,
	}}

	var rows []struct {
		State string
		N     int64
	}
	err := db.WithContext(ctx).
		Model(&domain.Window{}).
		Select("state, COUNT(*) AS n").
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return Stats{}, err
	}
	for _, r := range rows {
		st.Windows[r.State] = r.N
	}

	var sums struct {
		Uploads  int64
		Analysis int64
	}
	err = db.WithContext(ctx).
		Model(&domain.PublishedResult{}).
		Select("COALESCE(SUM(media_upload_failures), 0) AS uploads, COALESCE(SUM(media_analysis_failures), 0) AS analysis").
		Scan(&sums).Error
	if err != nil {
		return Stats{}, err
	}
	st.MediaUploadFailures = sums.Uploads
	st.MediaAnalysisFailures = sums.Analysis

	// Get latest published_at (avoid MAX() -> TEXT in SQLite)
	var latest []struct {
		PublishedAt time.Time
	}
	err = db.WithContext(ctx).
		Model(&domain.PublishedResult{}).
		Select("published_at").
		Where("status = ? AND published_at IS NOT NULL", domain.StatePublished).
		Order("published_at DESC").
		Limit(1).
		Scan(&latest).Error
	if err != nil {
		return Stats{}, err
	}
	if len(latest) == 1 {
		t := latest[0].PublishedAt
		st.LastPublishedAt = &t
	}
	return st, nil
}
