package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/lifelog-publisher/internal/analyzer"
	"github.com/tbourn/lifelog-publisher/internal/config"
	"github.com/tbourn/lifelog-publisher/internal/lock"
	"github.com/tbourn/lifelog-publisher/internal/media"
	"github.com/tbourn/lifelog-publisher/internal/notify"
	"github.com/tbourn/lifelog-publisher/internal/publish"
	"github.com/tbourn/lifelog-publisher/internal/services"
)

// buildProviders constructs the media hosts in the configured order.
func buildProviders(ctx context.Context, cfg config.MediaConfig) ([]media.Provider, error) {
	out := make([]media.Provider, 0, len(cfg.Providers))
	for _, name := range cfg.Providers {
		var (
			p   media.Provider
			err error
		)
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "imgur":
			p, err = media.NewImgur(cfg.ImgurClientID, "")
		case "googlephotos":
			p, err = media.NewGooglePhotos(cfg.GooglePhotosToken, "")
		case "minio":
			p, err = media.NewMinio(ctx, media.MinioConfig{
				Endpoint:      cfg.Minio.Endpoint,
				AccessKey:     cfg.Minio.AccessKey,
				SecretKey:     cfg.Minio.SecretKey,
				Bucket:        cfg.Minio.Bucket,
				Region:        cfg.Minio.Region,
				UseSSL:        cfg.Minio.UseSSL,
				PublicBaseURL: cfg.Minio.PublicBaseURL,
				Prefix:        cfg.Minio.Prefix,
			})
		default:
			return nil, fmt.Errorf("unknown media provider %q", name)
		}
		if err != nil {
			return nil, fmt.Errorf("media provider %s: %w", name, err)
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no media provider configured")
	}
	return out, nil
}

// buildAnalyzer pairs the Gemini describer with the configured composer.
func buildAnalyzer(cfg config.AnalyzerConfig) (*analyzer.Analyzer, error) {
	gemini, err := analyzer.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiModel, "")
	if err != nil {
		return nil, err
	}
	var composer analyzer.Composer
	switch cfg.ComposeBackend {
	case "", "gemini":
		composer = gemini
	case "openai":
		if composer, err = analyzer.NewOpenAIComposer(cfg.OpenAIAPIKey, cfg.OpenAIModel); err != nil {
			return nil, err
		}
	case "anthropic":
		if composer, err = analyzer.NewAnthropicComposer(cfg.AnthropicAPIKey, cfg.AnthropicModel); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown compose backend %q", cfg.ComposeBackend)
	}
	return analyzer.New(gemini, composer), nil
}

func buildNotifier(cfg config.NotifyConfig) (services.Notifier, error) {
	switch cfg.Backend {
	case "", "log":
		return notify.Log{}, nil
	case "line":
		return notify.NewLine(cfg.LineAccessToken, cfg.LineAPIBaseURL)
	default:
		return nil, fmt.Errorf("unknown notify backend %q", cfg.Backend)
	}
}

func buildGateway(cfg config.PublishConfig) (*publish.Hatena, error) {
	return publish.NewHatena(publish.HatenaConfig{
		HatenaID: cfg.HatenaID,
		BlogID:   cfg.HatenaBlogID,
		APIKey:   cfg.HatenaAPIKey,
		Draft:    cfg.Draft,
	})
}

// buildLocker uses Redis when an address is configured so several replicas
// can share the per-user and per-window locks. The returned close func is
// never nil.
func buildLocker(ctx context.Context, cfg config.RedisConfig) (lock.Locker, func() error, error) {
	if cfg.Addr == "" {
		return lock.NewKeyedMutex(), func() error { return nil }, nil
	}
	rl, err := lock.NewRedisLocker(cfg.Addr, cfg.Password, cfg.Prefix, cfg.LockTTL)
	if err != nil {
		return nil, nil, err
	}
	if err := rl.Ping(ctx); err != nil {
		_ = rl.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Info().Str("addr", cfg.Addr).Msg("using redis locks")
	return rl, rl.Close, nil
}
