// Command lifelogd runs the lifelog publisher: the HTTP ingestion API and
// the background sweeper that turns closed windows into blog articles.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/lifelog-publisher/internal/config"
	httpapi "github.com/tbourn/lifelog-publisher/internal/http"
	"github.com/tbourn/lifelog-publisher/internal/http/handlers"
	"github.com/tbourn/lifelog-publisher/internal/media"
	"github.com/tbourn/lifelog-publisher/internal/observability"
	"github.com/tbourn/lifelog-publisher/internal/repo"
	"github.com/tbourn/lifelog-publisher/internal/services"
	"github.com/tbourn/lifelog-publisher/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	sysutil.SetupLogging(cfg.LogLevel, cfg.LogPretty, os.Stderr)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("lifelogd stopped")
	}
	log.Info().Msg("lifelogd stopped")
}

func run(ctx context.Context, cfg config.Config) error {
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	if err := sysutil.EnsureParentDir(cfg.DBPath); err != nil {
		return err
	}
	if err := sysutil.EnsureDir(cfg.Media.Dir); err != nil {
		return err
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}

	locks, closeLocks, err := buildLocker(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer func() { _ = closeLocks() }()

	providers, err := buildProviders(ctx, cfg.Media)
	if err != nil {
		return err
	}
	uploader := media.NewUploader(cfg.Window.CallTimeout, providers...)

	an, err := buildAnalyzer(cfg.Analyzer)
	if err != nil {
		return err
	}
	gateway, err := buildGateway(cfg.Publish)
	if err != nil {
		return err
	}
	notifier, err := buildNotifier(cfg.Notify)
	if err != nil {
		return err
	}

	windows := &services.WindowManager{
		DB:      db,
		Locks:   locks,
		Span:    cfg.Window.Span,
		Sliding: cfg.Window.Sliding,
		MaxSpan: cfg.Window.MaxSpan,
	}
	engine := &services.AggregationEngine{
		Analyzer:         an,
		CallTimeout:      cfg.Window.CallTimeout,
		ComposeAttempts:  cfg.Window.ComposeAttempts,
		RetryBackoff:     cfg.Window.RetryBackoff,
		MaxMediaFailures: cfg.Window.MaxMediaFailures,
	}
	coord := &services.Coordinator{
		DB:          db,
		Locks:       locks,
		Uploader:    uploader,
		Gateway:     gateway,
		Notifier:    notifier,
		CallTimeout: cfg.Window.CallTimeout,
	}
	sweeper := &services.Sweeper{
		DB:          db,
		Windows:     windows,
		Engine:      engine,
		Coordinator: coord,
		Interval:    cfg.Window.SweepInterval,
		Workers:     cfg.Window.Workers,
	}

	r := gin.New()
	httpapi.RegisterRoutes(r, handlers.New(windows, coord, handlers.Options{MediaDir: cfg.Media.Dir}), cfg)

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error {
		log.Info().
			Str("addr", srv.Addr).
			Str("version", version).
			Strs("media_providers", uploader.Providers()).
			Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
