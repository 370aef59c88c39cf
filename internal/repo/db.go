// Package repo implements the persistence layer for windows, their messages
// and terminal results, backed by GORM over pure-Go SQLite. This file opens
// the database and migrates the schema.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/lifelog-publisher/internal/domain"
)

// connPragmas run on every pooled connection. Ingestion and the sweep
// workers write concurrently, so each connection waits on the writer lock
// instead of failing with SQLITE_BUSY.
var connPragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(ON)",
}

// slowQuery is the threshold above which GORM logs a statement.
const slowQuery = 500 * time.Millisecond

// OpenSQLite opens (or creates) the database at path with per-connection
// pragmas, a zerolog-backed GORM logger and the OpenTelemetry tracing plugin.
// The parent directory must exist.
func OpenSQLite(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." && !strings.HasPrefix(path, "file:") {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(dsnFor(path)), &gorm.Config{Logger: newGormLogger()})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(8)
	sqlDB.SetMaxIdleConns(8)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}
	return db, nil
}

// dsnFor appends the connection pragmas to path, keeping any query string
// and pragmas the caller already set.
func dsnFor(path string) string {
	var b strings.Builder
	b.WriteString(path)
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	for _, p := range connPragmas {
		name := p[:strings.IndexByte(p, '(')]
		if strings.Contains(path, "_pragma="+name) {
			continue
		}
		fmt.Fprintf(&b, "%s_pragma=%s", sep, p)
		sep = "&"
	}
	return b.String()
}

// gormWriter forwards GORM's printf-style output to the global zerolog
// logger.
type gormWriter struct{}

func (gormWriter) Printf(format string, args ...any) {
	log.Warn().Str("component", "gorm").Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func newGormLogger() logger.Interface {
	return logger.New(gormWriter{}, logger.Config{
		SlowThreshold:             slowQuery,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// AutoMigrate creates or updates the windows, window_messages and
// published_results tables together with their indexes.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Window{},
		&domain.Message{},
		&domain.PublishedResult{},
	)
}
