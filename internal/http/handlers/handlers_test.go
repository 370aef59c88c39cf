package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/lifelog-publisher/internal/domain"
	"github.com/tbourn/lifelog-publisher/internal/publish"
	"github.com/tbourn/lifelog-publisher/internal/repo"
	"github.com/tbourn/lifelog-publisher/internal/services"
)

// ---------- fakes ----------

type stubWindows struct {
	add    func(ctx context.Context, m domain.Message) (string, error)
	window func(ctx context.Context, id string) (*domain.Window, *domain.PublishedResult, error)
	stats  func(ctx context.Context) (repo.Stats, error)

	got []domain.Message
}

func (s *stubWindows) AddMessage(ctx context.Context, m domain.Message) (string, error) {
	s.got = append(s.got, m)
	if s.add == nil {
		return "w-1", nil
	}
	return s.add(ctx, m)
}

func (s *stubWindows) Window(ctx context.Context, id string) (*domain.Window, *domain.PublishedResult, error) {
	return s.window(ctx, id)
}

func (s *stubWindows) Stats(ctx context.Context) (repo.Stats, error) { return s.stats(ctx) }

type stubArticles struct {
	revise func(ctx context.Context, windowID string, a publish.Article) (*domain.PublishedResult, error)
}

func (s stubArticles) Revise(ctx context.Context, windowID string, a publish.Article) (*domain.PublishedResult, error) {
	return s.revise(ctx, windowID, a)
}

func newRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/messages", h.IngestMessage)
	r.POST("/messages/media", h.IngestMedia)
	r.GET("/windows/:id", h.GetWindow)
	r.PUT("/windows/:id/article", h.ReviseArticle)
	r.GET("/stats", h.GetStats)
	return r
}

func doJSON(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeErr(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return er
}

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")

func multipartBody(t *testing.T, fields map[string]string, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("field: %v", err)
		}
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		_, _ = fw.Write(data)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

// ---------- ingest ----------

func TestIngestMessage_Accepted(t *testing.T) {
	ws := &stubWindows{}
	r := newRouter(New(ws, nil, Options{MediaDir: t.TempDir()}))

	w := doJSON(r, http.MethodPost, "/messages",
		`{"id":" m1 ","user_id":"u1","kind":"TEXT","text":"Lunch today","received_at":"2025-01-02T12:00:00Z"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp IngestResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.WindowID != "w-1" {
		t.Fatalf("resp=%+v err=%v", resp, err)
	}
	got := ws.got[0]
	if got.ID != "m1" || got.Kind != domain.KindText || got.TextBody != "Lunch today" {
		t.Fatalf("message not normalized: %+v", got)
	}
	if !got.ReceivedAt.Equal(time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("received_at = %v", got.ReceivedAt)
	}
}

func TestIngestMessage_BadRequests(t *testing.T) {
	ws := &stubWindows{add: func(context.Context, domain.Message) (string, error) {
		return "", services.ErrInvalidKind
	}}
	r := newRouter(New(ws, nil, Options{MediaDir: t.TempDir()}))

	w := doJSON(r, http.MethodPost, "/messages", `{"id":"m1"}`)
	if w.Code != http.StatusBadRequest || decodeErr(t, w).Code != ErrCodeBadRequest {
		t.Fatalf("missing fields: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(r, http.MethodPost, "/messages", `{"id":"m1","user_id":"u1","kind":"sticker"}`)
	if w.Code != http.StatusBadRequest || decodeErr(t, w).Code != ErrCodeInvalidMessage {
		t.Fatalf("service validation: %d %s", w.Code, w.Body.String())
	}
}

func TestIngestMessage_MediaPathConfined(t *testing.T) {
	dir := t.TempDir()
	ws := &stubWindows{}
	r := newRouter(New(ws, nil, Options{MediaDir: dir}))

	w := doJSON(r, http.MethodPost, "/messages", `{"id":"m1","user_id":"u1","kind":"image","media_path":"a.png"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("relative path: %d %s", w.Code, w.Body.String())
	}
	abs, _ := filepath.Abs(filepath.Join(dir, "a.png"))
	if ws.got[0].MediaPath != abs {
		t.Fatalf("media path = %q; want %q", ws.got[0].MediaPath, abs)
	}

	for _, p := range []string{"../secret.png", "/etc/passwd", "."} {
		body, _ := json.Marshal(IngestRequest{ID: "m2", UserID: "u1", Kind: "image", MediaPath: p})
		w = doJSON(r, http.MethodPost, "/messages", string(body))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("path %q accepted: %d", p, w.Code)
		}
	}
	if len(ws.got) != 1 {
		t.Fatalf("rejected paths reached the service: %d calls", len(ws.got))
	}
}

func TestIngestMedia_StagesAndInfersKind(t *testing.T) {
	dir := t.TempDir()
	ws := &stubWindows{}
	r := newRouter(New(ws, nil, Options{MediaDir: dir}))

	body, ct := multipartBody(t, map[string]string{"id": "m1", "user_id": "u1"}, "photo.PNG", pngBytes)
	req := httptest.NewRequest(http.MethodPost, "/messages/media", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	got := ws.got[0]
	if got.Kind != domain.KindImage {
		t.Fatalf("kind = %q; want image", got.Kind)
	}
	if filepath.Dir(got.MediaPath) != dir || filepath.Ext(got.MediaPath) != ".png" {
		t.Fatalf("unexpected staged path %q", got.MediaPath)
	}
	data, err := os.ReadFile(got.MediaPath)
	if err != nil || !bytes.Equal(data, pngBytes) {
		t.Fatalf("staged bytes differ: %v", err)
	}
}

func TestIngestMedia_RemovesStagedFileOnFailure(t *testing.T) {
	dir := t.TempDir()
	ws := &stubWindows{add: func(context.Context, domain.Message) (string, error) {
		return "", errors.New("db down")
	}}
	r := newRouter(New(ws, nil, Options{MediaDir: dir}))

	body, ct := multipartBody(t, map[string]string{"id": "m1", "user_id": "u1", "kind": "image"}, "p.png", pngBytes)
	req := httptest.NewRequest(http.MethodPost, "/messages/media", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError || decodeErr(t, w).Code != ErrCodeIngestFailed {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("staged file left behind: %v", entries)
	}
}

func TestIngestMedia_Rejects(t *testing.T) {
	ws := &stubWindows{}
	r := newRouter(New(ws, nil, Options{MediaDir: t.TempDir()}))

	cases := map[string]struct {
		fields   map[string]string
		filename string
	}{
		"no file":     {map[string]string{"id": "m1", "user_id": "u1"}, ""},
		"no user":     {map[string]string{"id": "m1"}, "p.png"},
		"text kind":   {map[string]string{"id": "m1", "user_id": "u1", "kind": "text"}, "p.png"},
		"bad instant": {map[string]string{"id": "m1", "user_id": "u1", "received_at": "yesterday"}, "p.png"},
	}
	for name, tc := range cases {
		body, ct := multipartBody(t, tc.fields, tc.filename, pngBytes)
		req := httptest.NewRequest(http.MethodPost, "/messages/media", body)
		req.Header.Set("Content-Type", ct)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: status=%d", name, w.Code)
		}
	}
	if len(ws.got) != 0 {
		t.Fatalf("rejected uploads reached the service")
	}
}

func Test_kindOf(t *testing.T) {
	dir := t.TempDir()
	png := filepath.Join(dir, "a")
	txt := filepath.Join(dir, "b")
	_ = os.WriteFile(png, pngBytes, 0o600)
	_ = os.WriteFile(txt, []byte("plain words"), 0o600)

	if got := kindOf(png); got != domain.KindImage {
		t.Fatalf("png kind = %q", got)
	}
	if got := kindOf(txt); got != "" {
		t.Fatalf("text file kind = %q", got)
	}
	if got := kindOf(filepath.Join(dir, "missing")); got != "" {
		t.Fatalf("missing file kind = %q", got)
	}
}

// ---------- windows ----------

func TestGetWindow(t *testing.T) {
	id := uuid.NewString()
	ws := &stubWindows{window: func(_ context.Context, got string) (*domain.Window, *domain.PublishedResult, error) {
		if got != id {
			return nil, nil, services.ErrWindowNotFound
		}
		return &domain.Window{ID: id, State: domain.StatePublished},
			&domain.PublishedResult{WindowID: id, Status: domain.StatePublished, ExternalURL: "https://blog.example/entry/1"}, nil
	}}
	r := newRouter(New(ws, nil, Options{}))

	w := doJSON(r, http.MethodGet, "/windows/not-a-uuid", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad id: %d", w.Code)
	}

	w = doJSON(r, http.MethodGet, "/windows/"+uuid.NewString(), "")
	if w.Code != http.StatusNotFound || decodeErr(t, w).Code != ErrCodeNotFound {
		t.Fatalf("unknown id: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(r, http.MethodGet, "/windows/"+id, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var resp WindowResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Window.ID != id || resp.Result == nil || resp.Result.ExternalURL != "https://blog.example/entry/1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestReviseArticle(t *testing.T) {
	published := uuid.NewString()
	collecting := uuid.NewString()
	var seen publish.Article
	arts := stubArticles{revise: func(_ context.Context, id string, a publish.Article) (*domain.PublishedResult, error) {
		if id == collecting {
			return nil, services.ErrNotPublished
		}
		seen = a
		return &domain.PublishedResult{WindowID: id, Title: a.Title, ExternalURL: "https://blog.example/entry/1?rev"}, nil
	}}
	r := newRouter(New(&stubWindows{}, arts, Options{}))

	w := doJSON(r, http.MethodPut, "/windows/"+published+"/article", `{"title":"t"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing body: %d", w.Code)
	}

	w = doJSON(r, http.MethodPut, "/windows/"+collecting+"/article", `{"body":"b"}`)
	if w.Code != http.StatusConflict || decodeErr(t, w).Code != ErrCodeNotPublished {
		t.Fatalf("not published: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(r, http.MethodPut, "/windows/"+published+"/article", `{"title":"New","body":"Fresh body","tags":["a","b"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if seen.Title != "New" || seen.Body != "Fresh body" || len(seen.Tags) != 2 {
		t.Fatalf("article not forwarded: %+v", seen)
	}
}

func TestGetStats(t *testing.T) {
	ws := &stubWindows{stats: func(context.Context) (repo.Stats, error) {
		return repo.Stats{Windows: map[string]int64{domain.StatePublished: 3}, MediaUploadFailures: 1}, nil
	}}
	r := newRouter(New(ws, nil, Options{}))

	w := doJSON(r, http.MethodGet, "/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var st repo.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Windows[domain.StatePublished] != 3 || st.MediaUploadFailures != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}
