package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/lifelog-publisher/internal/domain"
	"github.com/tbourn/lifelog-publisher/internal/http/middleware"
	"github.com/tbourn/lifelog-publisher/internal/publish"
)

// WindowResponse is a window with its messages and, once terminal, its
// published or failed record.
type WindowResponse struct {
	Window *domain.Window          `json:"window"`
	Result *domain.PublishedResult `json:"result,omitempty"`
}

// ReviseArticleRequest replaces the article of a published window. An empty
// title keeps the published one.
type ReviseArticleRequest struct {
	Title   string   `json:"title"   example:"Lunch today"`
	Summary string   `json:"summary" example:"Ramen near the office."`
	Tags    []string `json:"tags"    example:"food,lunch"`
	Body    string   `json:"body"    binding:"required" example:"We went for ramen."`
}

// GetWindow godoc
// @ID          getWindow
// @Summary     Get a window
// @Description Returns the window state, its ordered messages and the terminal result if any.
// @Tags        Windows
// @Produce     json
//
// @Param       id  path  string  true  "Window ID (UUID)"  format(uuid)
//
// @Success     200  {object}  handlers.WindowResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Window not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /windows/{id} [get]
func (h *Handlers) GetWindow(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "window id must be a UUID")
		return
	}
	w, res, err := h.windows.Window(c.Request.Context(), id)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	c.Set(middleware.WindowIDKey, id)
	ok(c, http.StatusOK, WindowResponse{Window: w, Result: res})
}

// ReviseArticle godoc
// @ID          reviseArticle
// @Summary     Revise a published article
// @Description Updates the blog entry of a published window in place and returns the refreshed record.
// @Tags        Windows
// @Accept      json
// @Produce     json
//
// @Param       id    path  string                          true  "Window ID (UUID)"  format(uuid)
// @Param       body  body  handlers.ReviseArticleRequest   true  "Replacement article"
//
// @Success     200  {object}  domain.PublishedResult
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Window not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Window not published"
// @Failure     502  {object}  handlers.ErrorResponse  "Blog rejected the update"
// @Failure     503  {object}  handlers.ErrorResponse  "Blog unavailable"
// @Router      /windows/{id}/article [put]
func (h *Handlers) ReviseArticle(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "window id must be a UUID")
		return
	}
	var req ReviseArticleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "body is required")
		return
	}

	res, err := h.articles.Revise(c.Request.Context(), id, publish.Article{
		Title:   req.Title,
		Summary: req.Summary,
		Tags:    req.Tags,
		Body:    req.Body,
	})
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	c.Set(middleware.WindowIDKey, id)
	ok(c, http.StatusOK, res)
}

// GetStats godoc
// @ID          getStats
// @Summary     Pipeline statistics
// @Description Window counts per state and media failure totals.
// @Tags        Stats
// @Produce     json
//
// @Success     200  {object}  repo.Stats
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /stats [get]
func (h *Handlers) GetStats(c *gin.Context) {
	st, err := h.windows.Stats(c.Request.Context())
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, st)
}
