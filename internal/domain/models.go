// Package domain defines the persistence models for aggregation windows,
// their inbound messages, and the terminal publish results. These types are
// mapped with GORM and form the core data layer of the lifelog publisher.
package domain

import (
	"time"
)

// Window lifecycle states.
const (
	StateCollecting = "collecting"
	StateFinalizing = "finalizing"
	StatePublished  = "published"
	StateFailed     = "failed"
)

// Message kinds.
const (
	KindText  = "text"
	KindImage = "image"
	KindVideo = "video"
	KindAudio = "audio"
)

// ValidKind reports whether k is one of the supported message kinds.
func ValidKind(k string) bool {
	switch k {
	case KindText, KindImage, KindVideo, KindAudio:
		return true
	}
	return false
}

// Window is the per-user, time-boxed collection of messages that becomes one
// article. At most one window per user is in the collecting state; the
// partial unique index on user_id enforces that in the database as well.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - UserID: owner of the window.
//   - State: collecting, finalizing, published or failed.
//   - OpenedAt: time of the first message.
//   - ClosesAt: scheduled close; fixed unless sliding windows are enabled.
//   - FinalizeAttempted: check-and-set marker guarding the single publish.
//   - MessageCount: number of messages appended so far.
//   - Messages: the ordered messages (loaded on demand).
type Window struct {
	ID                string    `json:"id"                 gorm:"type:char(36);primaryKey"`
	UserID            string    `json:"user_id"            gorm:"type:varchar(64);not null;index:idx_user_windows;uniqueIndex:idx_user_collecting,where:state = 'collecting'"`
	State             string    `json:"state"              gorm:"type:varchar(16);not null;index:idx_state_closes,priority:1;check:state IN ('collecting','finalizing','published','failed')"`
	OpenedAt          time.Time `json:"opened_at"          gorm:"not null"`
	ClosesAt          time.Time `json:"closes_at"          gorm:"not null;index:idx_state_closes,priority:2"`
	FinalizeAttempted bool      `json:"finalize_attempted" gorm:"not null;default:false"`
	MessageCount      int       `json:"message_count"      gorm:"not null;default:0"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`

	Messages []Message `json:"messages,omitempty" gorm:"foreignKey:WindowID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Window.
func (Window) TableName() string { return "windows" }

// Terminal reports whether the window has reached published or failed.
func (w Window) Terminal() bool {
	return w.State == StatePublished || w.State == StateFailed
}

// Message is one inbound unit. The ID is assigned by the chat platform and is
// globally unique, which makes redelivered webhooks idempotent.
//
// Fields:
//   - TextBody is set iff Kind is text.
//   - MediaPath is set iff Kind is not text; it points at locally staged bytes.
//   - Seq is the insertion position within the window and breaks ReceivedAt ties.
//   - Consumed is set once the window has been aggregated.
type Message struct {
	ID         string    `json:"id"          gorm:"type:varchar(128);primaryKey"`
	WindowID   string    `json:"window_id"   gorm:"type:char(36);not null;index:idx_window_msgs,priority:1"`
	UserID     string    `json:"user_id"     gorm:"type:varchar(64);not null"`
	Kind       string    `json:"kind"        gorm:"type:varchar(8);not null;check:kind IN ('text','image','video','audio')"`
	TextBody   string    `json:"text,omitempty"       gorm:"type:text"`
	MediaPath  string    `json:"media_path,omitempty" gorm:"type:varchar(1024)"`
	ReceivedAt time.Time `json:"received_at" gorm:"not null;index:idx_window_msgs,priority:2"`
	Seq        int       `json:"seq"         gorm:"not null;default:0"`
	Consumed   bool      `json:"consumed"    gorm:"not null;default:false"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "window_messages" }

// IsMedia reports whether the message carries a media file.
func (m Message) IsMedia() bool { return m.Kind != KindText }

// PublishedResult is the terminal record of a window. The unique index on
// WindowID guarantees at most one published or failed record per window.
type PublishedResult struct {
	ID                    string     `json:"id"                      gorm:"type:char(36);primaryKey"`
	WindowID              string     `json:"window_id"               gorm:"type:char(36);not null;uniqueIndex:idx_result_window"`
	UserID                string     `json:"user_id"                 gorm:"type:varchar(64);not null;index"`
	Status                string     `json:"status"                  gorm:"type:varchar(16);not null;check:status IN ('published','failed')"`
	ExternalArticleID     string     `json:"external_article_id,omitempty" gorm:"type:varchar(255)"`
	ExternalURL           string     `json:"external_url,omitempty"        gorm:"type:varchar(1024)"`
	Title                 string     `json:"title,omitempty"               gorm:"type:varchar(512)"`
	PublishedAt           *time.Time `json:"published_at,omitempty"`
	MediaUploadFailures   int        `json:"media_upload_failures"   gorm:"not null;default:0"`
	MediaAnalysisFailures int        `json:"media_analysis_failures" gorm:"not null;default:0"`
	Reason                string     `json:"reason,omitempty"        gorm:"type:text"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// TableName returns the database table name for PublishedResult.
func (PublishedResult) TableName() string { return "published_results" }
