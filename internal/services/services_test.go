package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/lifelog-publisher/internal/analyzer"
	"github.com/tbourn/lifelog-publisher/internal/domain"
	"github.com/tbourn/lifelog-publisher/internal/failure"
	"github.com/tbourn/lifelog-publisher/internal/lock"
	"github.com/tbourn/lifelog-publisher/internal/media"
	"github.com/tbourn/lifelog-publisher/internal/publish"
	"github.com/tbourn/lifelog-publisher/internal/repo"
)

// ---------- test helpers ----------

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	// Shared-cache memory databases lock per table; keep one connection.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *clock { return &clock{now: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func text(id, user string, at time.Time, body string) domain.Message {
	return domain.Message{ID: id, UserID: user, Kind: domain.KindText, TextBody: body, ReceivedAt: at}
}

func mediaMsg(id, user, kind string, at time.Time, path string) domain.Message {
	return domain.Message{ID: id, UserID: user, Kind: kind, MediaPath: path, ReceivedAt: at}
}

// ---------- fakes ----------

type fakeAnalyzer struct {
	mu           sync.Mutex
	descriptions map[string]string // path -> description; missing path fails
	merged       []string
	composeCalls int32
	compose      func(call int, merged string) (analyzer.Composition, error)
}

func (f *fakeAnalyzer) Describe(_ context.Context, path, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.descriptions[path]
	if !ok {
		return "", failure.Transient("fake.describe", errors.New("model unavailable"))
	}
	return d, nil
}

func (f *fakeAnalyzer) Compose(_ context.Context, merged string) (analyzer.Composition, error) {
	call := int(atomic.AddInt32(&f.composeCalls, 1))
	f.mu.Lock()
	f.merged = append(f.merged, merged)
	f.mu.Unlock()
	if f.compose != nil {
		return f.compose(call, merged)
	}
	return analyzer.Composition{Title: "Day", Body: merged}, nil
}

type fakeUploader struct {
	mu      sync.Mutex
	fail    map[string]bool
	uploads []media.UploadMeta
	deleted []media.Ref
}

func (f *fakeUploader) Upload(_ context.Context, path string, meta media.UploadMeta) (media.Ref, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, meta)
	if f.fail[path] {
		return media.Ref{}, failure.Transient("fake.upload", errors.New("all providers down"))
	}
	name := path[strings.LastIndex(path, "/")+1:]
	return media.Ref{Provider: "fake", URL: "https://img.example/" + name, DeleteToken: "del-" + name}, nil
}

func (f *fakeUploader) Delete(_ context.Context, ref media.Ref) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ref)
	return nil
}

type fakeGateway struct {
	mu       sync.Mutex
	calls    int32
	articles []publish.Article
	updates  []string
	err      error
	block    chan struct{} // when set, Publish waits for it to close
	started  chan struct{} // closed on first Publish call
	once     sync.Once
}

func (f *fakeGateway) Publish(ctx context.Context, a publish.Article) (publish.Published, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return publish.Published{}, ctx.Err()
		}
	}
	f.mu.Lock()
	f.articles = append(f.articles, a)
	f.mu.Unlock()
	if f.err != nil {
		return publish.Published{}, f.err
	}
	return publish.Published{ID: fmt.Sprintf("%d", 1000+n), URL: fmt.Sprintf("https://blog.example/entry/%d", 1000+n)}, nil
}

func (f *fakeGateway) Update(_ context.Context, id string, a publish.Article) (publish.Published, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, id)
	f.articles = append(f.articles, a)
	if f.err != nil {
		return publish.Published{}, f.err
	}
	return publish.Published{ID: id, URL: "https://blog.example/entry/" + id + "?rev"}, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs map[string][]string
}

func (f *fakeNotifier) Notify(_ context.Context, userID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.msgs == nil {
		f.msgs = map[string][]string{}
	}
	f.msgs[userID] = append(f.msgs[userID], text)
	return nil
}

func (f *fakeNotifier) For(userID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.msgs[userID]...)
}

// pipeline wires every service against one database and one clock.
type pipeline struct {
	db       *gorm.DB
	clock    *clock
	windows  *WindowManager
	engine   *AggregationEngine
	coord    *Coordinator
	sweeper  *Sweeper
	analyzer *fakeAnalyzer
	uploader *fakeUploader
	gateway  *fakeGateway
	notifier *fakeNotifier
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	db := newSvcDB(t)
	clk := newClock(t0)
	locks := lock.NewKeyedMutex()
	p := &pipeline{
		db:       db,
		clock:    clk,
		analyzer: &fakeAnalyzer{descriptions: map[string]string{}},
		uploader: &fakeUploader{fail: map[string]bool{}},
		gateway:  &fakeGateway{},
		notifier: &fakeNotifier{},
	}
	p.windows = &WindowManager{DB: db, Locks: locks, Span: time.Minute, MaxSpan: 4 * time.Minute, Now: clk.Now}
	p.engine = &AggregationEngine{Analyzer: p.analyzer, CallTimeout: time.Second, ComposeAttempts: 3, RetryBackoff: time.Millisecond}
	p.coord = &Coordinator{DB: db, Locks: locks, Uploader: p.uploader, Gateway: p.gateway, Notifier: p.notifier, CallTimeout: time.Second, Now: clk.Now}
	p.sweeper = &Sweeper{DB: db, Windows: p.windows, Engine: p.engine, Coordinator: p.coord, Interval: 10 * time.Millisecond, Workers: 2}
	return p
}

func (p *pipeline) add(t *testing.T, m domain.Message) string {
	t.Helper()
	id, err := p.windows.AddMessage(context.Background(), m)
	if err != nil {
		t.Fatalf("AddMessage(%s): %v", m.ID, err)
	}
	return id
}

// sealed seals everything due at the current clock and loads w with messages.
func (p *pipeline) sealed(t *testing.T, windowID string) domain.Window {
	t.Helper()
	if _, err := p.windows.SealExpired(context.Background(), p.clock.Now()); err != nil {
		t.Fatalf("SealExpired: %v", err)
	}
	w, err := repo.GetWindowWithMessages(context.Background(), p.db, windowID)
	if err != nil {
		t.Fatalf("load window: %v", err)
	}
	if w.State != domain.StateFinalizing {
		t.Fatalf("window state = %s, want finalizing", w.State)
	}
	return *w
}

func mediaRef(url string) media.Ref {
	return media.Ref{Provider: "fake", URL: url, DeleteToken: url}
}
