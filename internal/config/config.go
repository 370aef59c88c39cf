// Package config provides application configuration loaded from environment
// variables with defaults and validation. An optional YAML file named by
// CONFIG_FILE supplies defaults underneath the environment. It centralizes
// server, logging, database, window, collaborator and observability settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "lifelog-publisher")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// WindowConfig controls aggregation windows and the sweep.
type WindowConfig struct {
	Span             time.Duration // WINDOW_SPAN
	Sliding          bool          // SLIDING_WINDOW
	MaxSpan          time.Duration // MAX_WINDOW_SPAN, upper bound for sliding windows
	SweepInterval    time.Duration // SWEEP_INTERVAL, 1s..60s
	Workers          int           // SWEEP_WORKERS
	CallTimeout      time.Duration // CALL_TIMEOUT for every external call
	ComposeAttempts  int           // COMPOSE_ATTEMPTS
	RetryBackoff     time.Duration // RETRY_BACKOFF, first compose retry delay
	MaxMediaFailures int           // MAX_MEDIA_ANALYSIS_FAILURES, 0 = unlimited
}

// MinioConfig holds S3-compatible object storage settings.
type MinioConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	Region        string
	UseSSL        bool
	PublicBaseURL string
	Prefix        string
}

// MediaConfig selects and configures media hosting providers.
type MediaConfig struct {
	Providers         []string // MEDIA_PROVIDERS, tried in order
	Dir               string   // MEDIA_DIR, staging dir for uploaded files
	MaxUploadBytes    int64    // MEDIA_MAX_BYTES
	ImgurClientID     string
	GooglePhotosToken string
	Minio             MinioConfig
}

// AnalyzerConfig configures media description and article composition.
type AnalyzerConfig struct {
	GeminiAPIKey    string
	GeminiModel     string
	ComposeBackend  string // gemini|openai|anthropic
	OpenAIAPIKey    string
	OpenAIModel     string
	AnthropicAPIKey string
	AnthropicModel  string
}

// PublishConfig configures the blog target.
type PublishConfig struct {
	HatenaID     string
	HatenaBlogID string
	HatenaAPIKey string
	Draft        bool
}

// NotifyConfig configures user notifications.
type NotifyConfig struct {
	Backend         string // log|line
	LineAccessToken string
	LineAPIBaseURL  string
}

// RedisConfig enables distributed per-user locks when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	LockTTL  time.Duration
	Prefix   string
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	DBPath string // SQLite path

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Pipeline
	Window   WindowConfig
	Media    MediaConfig
	Analyzer AnalyzerConfig
	Publish  PublishConfig
	Notify   NotifyConfig
	Redis    RedisConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables (and CONFIG_FILE when
// set), applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	src, err := newSource(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return Config{}, err
	}

	span := src.getdur("WINDOW_SPAN", time.Minute)
	cfg := Config{
		// Server
		Port:              src.getenv("PORT", "8080"),
		ReadTimeout:       src.getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: src.getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      src.getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       src.getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    src.getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(src.getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(src.getenv("LOG_LEVEL", "info")),
		LogPretty:      src.getbool("LOG_PRETTY", false),
		SwaggerEnabled: src.getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(src.getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath: src.getenv("DB_PATH", "lifelog.db"),

		// Rate limiting
		RateRPS:   src.getfloat("RATE_RPS", 20.0),
		RateBurst: src.getint("RATE_BURST", 40),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(src.getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: src.getbool("ENABLE_HSTS", false),
			HSTSMaxAge: src.getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		Window: WindowConfig{
			Span:             span,
			Sliding:          src.getbool("SLIDING_WINDOW", false),
			MaxSpan:          src.getdur("MAX_WINDOW_SPAN", 4*span),
			SweepInterval:    src.getdur("SWEEP_INTERVAL", 10*time.Second),
			Workers:          src.getint("SWEEP_WORKERS", 4),
			CallTimeout:      src.getdur("CALL_TIMEOUT", 30*time.Second),
			ComposeAttempts:  src.getint("COMPOSE_ATTEMPTS", 3),
			RetryBackoff:     src.getdur("RETRY_BACKOFF", 500*time.Millisecond),
			MaxMediaFailures: src.getint("MAX_MEDIA_ANALYSIS_FAILURES", 0),
		},

		Media: MediaConfig{
			Providers:         lowerAll(splitCSV(src.getenv("MEDIA_PROVIDERS", "imgur,minio"))),
			Dir:               src.getenv("MEDIA_DIR", "media"),
			MaxUploadBytes:    int64(src.getint("MEDIA_MAX_BYTES", 16<<20)),
			ImgurClientID:     src.getenv("IMGUR_CLIENT_ID", ""),
			GooglePhotosToken: src.getenv("GOOGLE_PHOTOS_TOKEN", ""),
			Minio: MinioConfig{
				Endpoint:      src.getenv("MINIO_ENDPOINT", ""),
				AccessKey:     src.getenv("MINIO_ACCESS_KEY", ""),
				SecretKey:     src.getenv("MINIO_SECRET_KEY", ""),
				Bucket:        src.getenv("MINIO_BUCKET", "lifelog-media"),
				Region:        src.getenv("MINIO_REGION", "us-east-1"),
				UseSSL:        src.getbool("MINIO_USE_SSL", false),
				PublicBaseURL: strings.TrimRight(src.getenv("MINIO_PUBLIC_BASE_URL", ""), "/"),
				Prefix:        strings.Trim(src.getenv("MINIO_PREFIX", "windows"), "/"),
			},
		},

		Analyzer: AnalyzerConfig{
			GeminiAPIKey:    src.getenv("GEMINI_API_KEY", ""),
			GeminiModel:     src.getenv("GEMINI_MODEL", "gemini-1.5-flash"),
			ComposeBackend:  strings.ToLower(src.getenv("COMPOSE_BACKEND", "gemini")),
			OpenAIAPIKey:    src.getenv("OPENAI_API_KEY", ""),
			OpenAIModel:     src.getenv("OPENAI_MODEL", "gpt-4o-mini"),
			AnthropicAPIKey: src.getenv("ANTHROPIC_API_KEY", ""),
			AnthropicModel:  src.getenv("ANTHROPIC_MODEL", "claude-haiku-4-5"),
		},

		Publish: PublishConfig{
			HatenaID:     src.getenv("HATENA_ID", ""),
			HatenaBlogID: src.getenv("HATENA_BLOG_ID", ""),
			HatenaAPIKey: src.getenv("HATENA_API_KEY", ""),
			Draft:        src.getbool("HATENA_DRAFT", false),
		},

		Notify: NotifyConfig{
			Backend:         strings.ToLower(src.getenv("NOTIFIER", "log")),
			LineAccessToken: src.getenv("LINE_CHANNEL_ACCESS_TOKEN", ""),
			LineAPIBaseURL:  strings.TrimRight(src.getenv("LINE_API_BASE_URL", "https://api.line.me"), "/"),
		},

		Redis: RedisConfig{
			Addr:     src.getenv("REDIS_ADDR", ""),
			Password: src.getenv("REDIS_PASSWORD", ""),
			LockTTL:  src.getdur("REDIS_LOCK_TTL", 10*time.Second),
			Prefix:   src.getenv("REDIS_LOCK_PREFIX", "lifelog:lock"),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     src.getbool("OTEL_ENABLED", false),
			Endpoint:    src.getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    src.getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: src.getenv("OTEL_SERVICE_NAME", "lifelog-publisher"),
			SampleRatio: src.getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.Window.Span <= 0 {
		return cfg, errors.New("WINDOW_SPAN must be > 0")
	}
	if cfg.Window.MaxSpan < cfg.Window.Span {
		return cfg, errors.New("MAX_WINDOW_SPAN must be >= WINDOW_SPAN")
	}
	if cfg.Window.SweepInterval < time.Second || cfg.Window.SweepInterval > time.Minute {
		return cfg, errors.New("SWEEP_INTERVAL must be between 1s and 60s")
	}
	if cfg.Window.Workers < 1 {
		return cfg, errors.New("SWEEP_WORKERS must be >= 1")
	}
	if cfg.Window.CallTimeout <= 0 {
		return cfg, errors.New("CALL_TIMEOUT must be > 0")
	}
	if cfg.Window.ComposeAttempts < 1 {
		return cfg, errors.New("COMPOSE_ATTEMPTS must be >= 1")
	}
	if cfg.Window.RetryBackoff < 0 {
		return cfg, errors.New("RETRY_BACKOFF must be >= 0")
	}
	if cfg.Window.MaxMediaFailures < 0 {
		return cfg, errors.New("MAX_MEDIA_ANALYSIS_FAILURES must be >= 0")
	}
	if len(cfg.Media.Providers) == 0 {
		return cfg, errors.New("MEDIA_PROVIDERS must name at least one provider")
	}
	for _, p := range cfg.Media.Providers {
		switch p {
		case "imgur", "minio", "googlephotos":
		default:
			return cfg, fmt.Errorf("MEDIA_PROVIDERS: unknown provider %q", p)
		}
	}
	if cfg.Media.MaxUploadBytes <= 0 {
		return cfg, errors.New("MEDIA_MAX_BYTES must be > 0")
	}
	switch cfg.Analyzer.ComposeBackend {
	case "gemini", "openai", "anthropic":
	default:
		return cfg, errors.New("COMPOSE_BACKEND must be one of: gemini, openai, anthropic")
	}
	switch cfg.Notify.Backend {
	case "log", "line":
	default:
		return cfg, errors.New("NOTIFIER must be one of: log, line")
	}
	if cfg.Redis.Addr != "" && cfg.Redis.LockTTL <= 0 {
		return cfg, errors.New("REDIS_LOCK_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers ----

// source resolves keys from the environment first, then from the optional
// YAML file.
type source struct {
	file map[string]string
}

// newSource parses path as a flat YAML mapping of the same keys as the
// environment (e.g. "WINDOW_SPAN: 90s"). An empty path yields env-only.
func newSource(path string) (source, error) {
	if strings.TrimSpace(path) == "" {
		return source{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return source{}, fmt.Errorf("CONFIG_FILE: %w", err)
	}
	var parsed map[string]any
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return source{}, fmt.Errorf("CONFIG_FILE: %w", err)
	}
	file := make(map[string]string, len(parsed))
	for k, v := range parsed {
		switch vv := v.(type) {
		case nil:
		case []any:
			parts := make([]string, 0, len(vv))
			for _, p := range vv {
				parts = append(parts, fmt.Sprint(p))
			}
			file[strings.ToUpper(k)] = strings.Join(parts, ",")
		default:
			file[strings.ToUpper(k)] = fmt.Sprint(vv)
		}
	}
	return source{file: file}, nil
}

func (s source) lookup(k string) (string, bool) {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v, true
	}
	if v, ok := s.file[k]; ok && v != "" {
		return v, true
	}
	return "", false
}

func (s source) getenv(k, def string) string {
	if v, ok := s.lookup(k); ok {
		return v
	}
	return def
}

func (s source) getfloat(k string, def float64) float64 {
	if v, ok := s.lookup(k); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func (s source) getint(k string, def int) int {
	if v, ok := s.lookup(k); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func (s source) getbool(k string, def bool) bool {
	if v, ok := s.lookup(k); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func (s source) getdur(k string, def time.Duration) time.Duration {
	if v, ok := s.lookup(k); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func lowerAll(in []string) []string {
	for i := range in {
		in[i] = strings.ToLower(in[i])
	}
	return in
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
