package handlers

import (
	"errors"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/lifelog-publisher/internal/domain"
	"github.com/tbourn/lifelog-publisher/internal/http/middleware"
)

var extRE = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)

var errOutsideMediaDir = errors.New("media_path must point into the media directory")

// IngestRequest is the JSON payload of one inbound chat message.
type IngestRequest struct {
	// ID is the platform message id; redeliveries with the same id are no-ops.
	ID     string `json:"id"      binding:"required" example:"line-msg-0001"`
	UserID string `json:"user_id" binding:"required" example:"U4af4980629"`
	// Kind is text, image, video or audio.
	Kind string `json:"kind" binding:"required" example:"text"`
	// Text is required for text messages.
	Text string `json:"text,omitempty" example:"Lunch today"`
	// MediaPath points at an already staged file, relative to the media
	// directory or absolute inside it.
	MediaPath string `json:"media_path,omitempty" example:"2f1c.jpg"`
	// ReceivedAt defaults to the server clock.
	ReceivedAt *time.Time `json:"received_at,omitempty" example:"2025-01-02T12:00:00Z"`
}

// IngestResponse names the window the message landed in.
type IngestResponse struct {
	WindowID string `json:"window_id" example:"0b7a5c1e-9a53-4a43-9f8d-3f1c9b7f2a10"`
}

// IngestMessage godoc
// @ID          ingestMessage
// @Summary     Ingest a message
// @Description Appends a text or pre-staged media message to the user's collecting window.
// @Description Redelivering a known message id returns its existing window.
// @Tags        Messages
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.IngestRequest  true  "Inbound message"
//
// @Success     202  {object}  handlers.IngestResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid message"
// @Failure     413  {object}  handlers.ErrorResponse  "Body too large"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /messages [post]
func (h *Handlers) IngestMessage(c *gin.Context) {
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			failErr(c, err, ErrCodeBadRequest)
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "id, user_id and kind are required")
		return
	}

	m := domain.Message{
		ID:       strings.TrimSpace(req.ID),
		UserID:   strings.TrimSpace(req.UserID),
		Kind:     strings.ToLower(strings.TrimSpace(req.Kind)),
		TextBody: req.Text,
	}
	if req.ReceivedAt != nil {
		m.ReceivedAt = *req.ReceivedAt
	}
	if p := strings.TrimSpace(req.MediaPath); p != "" {
		resolved, err := h.resolveMediaPath(p)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeInvalidMessage, err.Error())
			return
		}
		m.MediaPath = resolved
	}

	windowID, err := h.windows.AddMessage(c.Request.Context(), m)
	if err != nil {
		failErr(c, err, ErrCodeIngestFailed)
		return
	}
	c.Set(middleware.WindowIDKey, windowID)
	ok(c, http.StatusAccepted, IngestResponse{WindowID: windowID})
}

// IngestMedia godoc
// @ID          ingestMedia
// @Summary     Upload and ingest a media message
// @Description Stages the uploaded file in the media directory and appends it to the user's window.
// @Description When kind is omitted it is inferred from the file's content type.
// @Tags        Messages
// @Accept      multipart/form-data
// @Produce     json
//
// @Param       id           formData  string  true   "Platform message id"
// @Param       user_id      formData  string  true   "Chat user id"
// @Param       kind         formData  string  false  "image, video or audio"
// @Param       received_at  formData  string  false  "RFC 3339 timestamp"
// @Param       file         formData  file    true   "Media file"
//
// @Success     202  {object}  handlers.IngestResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid message"
// @Failure     413  {object}  handlers.ErrorResponse  "File too large"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /messages/media [post]
func (h *Handlers) IngestMedia(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			failErr(c, err, ErrCodeBadRequest)
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "file is required")
		return
	}

	m := domain.Message{
		ID:     strings.TrimSpace(c.PostForm("id")),
		UserID: strings.TrimSpace(c.PostForm("user_id")),
		Kind:   strings.ToLower(strings.TrimSpace(c.PostForm("kind"))),
	}
	if m.ID == "" || m.UserID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "id and user_id are required")
		return
	}
	if m.Kind == domain.KindText {
		fail(c, http.StatusBadRequest, ErrCodeInvalidMessage, "text messages cannot carry a file")
		return
	}
	if v := strings.TrimSpace(c.PostForm("received_at")); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "received_at must be RFC 3339")
			return
		}
		m.ReceivedAt = ts
	}

	dst, err := h.stage(c, fh)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeIngestFailed, "could not stage upload")
		return
	}
	m.MediaPath = dst
	if m.Kind == "" {
		m.Kind = kindOf(dst)
	}

	windowID, err := h.windows.AddMessage(c.Request.Context(), m)
	if err != nil {
		_ = os.Remove(dst)
		failErr(c, err, ErrCodeIngestFailed)
		return
	}
	c.Set(middleware.WindowIDKey, windowID)
	ok(c, http.StatusAccepted, IngestResponse{WindowID: windowID})
}

// stage saves fh under the media directory with a random name that keeps a
// sane extension from the client file name.
func (h *Handlers) stage(c *gin.Context, fh *multipart.FileHeader) (string, error) {
	dir := h.dir()
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if !extRE.MatchString(ext) {
		ext = ""
	}
	dst := filepath.Join(dir, uuid.NewString()+ext)
	if err := c.SaveUploadedFile(fh, dst); err != nil {
		return "", err
	}
	return dst, nil
}

// resolveMediaPath confines p to the media directory. Relative paths are
// taken relative to it.
func (h *Handlers) resolveMediaPath(p string) (string, error) {
	dir, err := filepath.Abs(h.dir())
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(dir, p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(dir, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errOutsideMediaDir
	}
	return p, nil
}

func (h *Handlers) dir() string {
	if h.mediaDir == "" {
		return os.TempDir()
	}
	return h.mediaDir
}

// kindOf infers the message kind from the staged file's content. Unknown
// types yield "" which ingestion rejects as an invalid kind.
func kindOf(path string) string {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return ""
	}
	top, _, _ := strings.Cut(mt.String(), "/")
	switch top {
	case domain.KindImage, domain.KindVideo, domain.KindAudio:
		return top
	}
	return ""
}
