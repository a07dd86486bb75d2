package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom log forwarding configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// ProvidersConfig defines the insight engines and the model per provider.
type ProvidersConfig struct {
	PrimaryEngine   string // "openai"|"anthropic"
	SecondaryEngine string // "anthropic"|"openai"
	OpenAIModel     string
	AnthropicModel  string
}

// InsightConfig bounds the document analysis call.
type InsightConfig struct {
	MaxChars       int
	RequestTimeout time.Duration
	MaxKeywords    int
}

// RenderConfig defines rasterization defaults and limits.
type RenderConfig struct {
	DefaultFormat  string  // "png"|"jpeg"
	DefaultScale   float64 // 1.0 == 72 DPI
	DefaultQuality float64 // lossy only, [0,1]
	MaxScale       float64
	MaxUploadMB    int64
}

// SessionConfig controls session lifetime and the optional status mirror.
type SessionConfig struct {
	TTL             time.Duration
	CleanupInterval time.Duration
	MirrorRedisURL  string // empty disables the mirror
}

// FetchConfig controls remote document intake.
type FetchConfig struct {
	AllowRemote bool
	HTTPTimeout time.Duration
	TempMaxAge  time.Duration
}

// Config is the top-level configuration.
type Config struct {
	Logging   LoggingConfig
	Axiom     AxiomConfig
	Providers ProvidersConfig
	Insight   InsightConfig
	Render    RenderConfig
	Session   SessionConfig
	Fetch     FetchConfig
	Port      string
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	// Logging defaults
	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/pageforge.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	// Axiom defaults
	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_pageforge",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	// Providers defaults
	cfg.Providers = ProvidersConfig{
		PrimaryEngine:   getEnv("PRIMARY_ENGINE", "openai"),
		SecondaryEngine: getEnv("SECONDARY_ENGINE", "anthropic"),
		OpenAIModel:     getEnv("OPENAI_MODEL", "gpt-4.1-mini"),
		AnthropicModel:  getEnv("ANTHROPIC_MODEL", "claude-3-5-haiku"),
	}

	// Insight defaults
	cfg.Insight = InsightConfig{
		MaxChars:       parseInt(getEnv("INSIGHT_MAX_CHARS", "4000"), 4000),
		RequestTimeout: parseDuration(getEnv("INSIGHT_TIMEOUT", "30s"), 30*time.Second),
		MaxKeywords:    parseInt(getEnv("INSIGHT_MAX_KEYWORDS", "8"), 8),
	}

	// Render defaults
	cfg.Render = RenderConfig{
		DefaultFormat:  getEnv("RENDER_DEFAULT_FORMAT", "png"),
		DefaultScale:   parseFloat(getEnv("RENDER_DEFAULT_SCALE", "2.0"), 2.0),
		DefaultQuality: parseFloat(getEnv("RENDER_DEFAULT_QUALITY", "0.92"), 0.92),
		MaxScale:       parseFloat(getEnv("RENDER_MAX_SCALE", "8.0"), 8.0),
		MaxUploadMB:    int64(parseInt(getEnv("MAX_UPLOAD_MB", "100"), 100)),
	}

	// Session defaults
	cfg.Session = SessionConfig{
		TTL:             parseDuration(getEnv("SESSION_TTL", "2h"), 2*time.Hour),
		CleanupInterval: parseDuration(getEnv("SESSION_CLEANUP_INTERVAL", "10m"), 10*time.Minute),
		MirrorRedisURL:  getEnv("SESSION_MIRROR_REDIS_URL", ""),
	}

	// Fetch defaults
	cfg.Fetch = FetchConfig{
		AllowRemote: parseBool(getEnv("ALLOW_REMOTE_FETCH", "true")),
		HTTPTimeout: parseDuration(getEnv("FETCH_HTTP_TIMEOUT", "60s"), 60*time.Second),
		TempMaxAge:  parseDuration(getEnv("FETCH_TEMP_MAX_AGE", "1h"), time.Hour),
	}

	cfg.Port = getEnv("PORT", "8080")

	return cfg
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
