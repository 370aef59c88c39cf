package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/lifelog-publisher/internal/config"
	"github.com/tbourn/lifelog-publisher/internal/domain"
	"github.com/tbourn/lifelog-publisher/internal/http/handlers"
	"github.com/tbourn/lifelog-publisher/internal/lock"
	"github.com/tbourn/lifelog-publisher/internal/repo"
	"github.com/tbourn/lifelog-publisher/internal/services"
)

// newTestDB opens a private in-memory database (pure-Go sqlite, no CGO).
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:router_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     100,
		RateBurst:   50,
		Security:    config.SecurityConfig{EnableHSTS: true, HSTSMaxAge: time.Hour},
		OTEL:        config.OTELConfig{ServiceName: "test-svc"},
		Media:       config.MediaConfig{MaxUploadBytes: 4 << 20},
	}
}

func newEngine(t *testing.T, cfg config.Config) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	locks := lock.NewKeyedMutex()
	wm := &services.WindowManager{DB: db, Locks: locks, Span: time.Minute}
	coord := &services.Coordinator{DB: db, Locks: locks}

	r := gin.New()
	RegisterRoutes(r, handlers.New(wm, coord, handlers.Options{MediaDir: t.TempDir()}), cfg)
	return r
}

func serve(r http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	r := newEngine(t, testConfig())

	w := serve(r, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}
	if w.Header().Get("X-Request-ID") == "" || w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("middleware headers missing: %#v", w.Header())
	}
	if w.Header().Get("Strict-Transport-Security") != "" {
		t.Fatalf("HSTS must not be sent over plain HTTP")
	}

	w = serve(r, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "lifelog_http_requests_total") {
		t.Fatalf("GET /metrics bad: code=%d", w.Code)
	}

	w = serve(r, http.MethodGet, "/nope", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}
	w = serve(r, http.MethodPost, "/health", "", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	cfg := testConfig()
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	r := newEngine(t, cfg)

	w := serve(r, http.MethodGet, "/health", "", map[string]string{"Origin": "http://example.com"})
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
	w = serve(r, http.MethodGet, "/health", "", map[string]string{"Origin": "http://evil.example"})
	if got := w.Header().Get("Access-Control-Allow-Origin"); got == "http://evil.example" {
		t.Fatalf("unlisted origin echoed")
	}
}

func TestRegisterRoutes_IngestAndInspect(t *testing.T) {
	r := newEngine(t, testConfig())

	w := serve(r, http.MethodPost, "/api/v1/messages", `{"id":"m1","user_id":"u1","kind":"text","text":"Lunch today"}`, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("ingest = %d %s", w.Code, w.Body.String())
	}
	var ing handlers.IngestResponse
	if err := json.Unmarshal(w.Body.Bytes(), &ing); err != nil || ing.WindowID == "" {
		t.Fatalf("ingest body %s: %v", w.Body.String(), err)
	}

	// Redelivery lands in the same window.
	w = serve(r, http.MethodPost, "/api/v1/messages", `{"id":"m1","user_id":"u1","kind":"text","text":"Lunch today"}`, nil)
	var again handlers.IngestResponse
	_ = json.Unmarshal(w.Body.Bytes(), &again)
	if again.WindowID != ing.WindowID {
		t.Fatalf("redelivery window %q; want %q", again.WindowID, ing.WindowID)
	}

	w = serve(r, http.MethodGet, "/api/v1/windows/"+ing.WindowID, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get window = %d %s", w.Code, w.Body.String())
	}
	var win handlers.WindowResponse
	if err := json.Unmarshal(w.Body.Bytes(), &win); err != nil {
		t.Fatalf("decode window: %v", err)
	}
	if win.Window.State != domain.StateCollecting || len(win.Window.Messages) != 1 || win.Result != nil {
		t.Fatalf("unexpected window: %+v", win)
	}

	w = serve(r, http.MethodPut, "/api/v1/windows/"+ing.WindowID+"/article", `{"body":"x"}`, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("revise collecting window = %d", w.Code)
	}
	w = serve(r, http.MethodGet, "/api/v1/windows/"+uuid.NewString(), "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown window = %d", w.Code)
	}

	w = serve(r, http.MethodGet, "/api/v1/stats", "", nil)
	var st repo.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if st.Windows[domain.StateCollecting] != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestRegisterRoutes_JSONBodyLimit(t *testing.T) {
	r := newEngine(t, testConfig())

	big := `{"id":"m1","user_id":"u1","kind":"text","text":"` + strings.Repeat("a", jsonBodyLimit+10) + `"}`
	w := serve(r, http.MethodPost, "/api/v1/messages", big, nil)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d %s", w.Code, w.Body.String())
	}
}

func TestRegisterRoutes_Gzip(t *testing.T) {
	r := newEngine(t, testConfig())

	w := serve(r, http.MethodGet, "/api/v1/stats", "", map[string]string{"Accept-Encoding": "gzip"})
	if w.Code != http.StatusOK || w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip response, got %d %q", w.Code, w.Header().Get("Content-Encoding"))
	}
}

func TestRegisterRoutes_Swagger(t *testing.T) {
	cfg := testConfig()
	r := newEngine(t, cfg)
	if w := serve(r, http.MethodGet, "/swagger/index.html", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("swagger should be off by default, got %d", w.Code)
	}

	cfg.SwaggerEnabled = true
	r = newEngine(t, cfg)
	w := serve(r, http.MethodGet, "/swagger/doc.json", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "ingestMessage") {
		t.Fatalf("doc.json = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"basePath": "/api/v1"`) {
		t.Fatalf("base path not applied: %s", w.Body.String())
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	groupWithPrefix(r, "").GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK || rec.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, rec.Code, rec.Body.String())
		}
	}
}
