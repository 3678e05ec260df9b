package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env          string
	ServerURL    string
	WebSocketURL string
	DataDir      string
	CachePath    string
	LogFile      string
	LogLevel     string

	ReconnectDelay  time.Duration
	TypingIdle      time.Duration
	ScrollDebounce  time.Duration
	NotificationTTL time.Duration
	RemoteTypingTTL time.Duration
	HTTPTimeout     time.Duration
	PageSize        int

	OTel OTelConfig
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

// Load reads configuration from the environment. In development a .env file
// in the working directory is loaded first.
func Load() (*Config, error) {
	if getEnv("FORUMCHAT_ENV", "development") == "development" {
		_ = godotenv.Load(".env")
	}

	dataDir := getEnv("FORUMCHAT_DATA_DIR", "")
	if dataDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		dataDir = filepath.Join(cwd, "data")
	}

	cfg := &Config{
		Env:             getEnv("FORUMCHAT_ENV", "development"),
		ServerURL:       strings.TrimRight(getEnv("FORUMCHAT_SERVER_URL", "http://localhost:8080"), "/"),
		WebSocketURL:    getEnv("FORUMCHAT_WS_URL", ""),
		DataDir:         dataDir,
		CachePath:       getEnv("FORUMCHAT_CACHE_PATH", "sqlite://"+filepath.Join(dataDir, "roster.db")),
		LogFile:         getEnv("FORUMCHAT_LOG_FILE", filepath.Join(dataDir, "chat.log")),
		LogLevel:        getEnv("FORUMCHAT_LOG_LEVEL", ""),
		ReconnectDelay:  getEnvDuration("FORUMCHAT_RECONNECT_DELAY", 2*time.Second),
		TypingIdle:      getEnvDuration("FORUMCHAT_TYPING_IDLE", 300*time.Millisecond),
		ScrollDebounce:  getEnvDuration("FORUMCHAT_SCROLL_DEBOUNCE", 300*time.Millisecond),
		NotificationTTL: getEnvDuration("FORUMCHAT_NOTIFICATION_TTL", 5*time.Second),
		RemoteTypingTTL: getEnvDuration("FORUMCHAT_REMOTE_TYPING_TTL", 15*time.Second),
		HTTPTimeout:     getEnvDuration("FORUMCHAT_HTTP_TIMEOUT", 10*time.Second),
		PageSize:        getEnvInt("FORUMCHAT_PAGE_SIZE", 10),
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "forumchat"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
	}

	if cfg.WebSocketURL == "" {
		wsURL, err := DeriveWebSocketURL(cfg.ServerURL)
		if err != nil {
			return nil, err
		}
		cfg.WebSocketURL = wsURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the chat state machines cannot run with.
func (c *Config) Validate() error {
	if _, err := url.ParseRequestURI(c.ServerURL); err != nil {
		return fmt.Errorf("invalid FORUMCHAT_SERVER_URL %q: %w", c.ServerURL, err)
	}
	u, err := url.Parse(c.WebSocketURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return fmt.Errorf("invalid FORUMCHAT_WS_URL %q", c.WebSocketURL)
	}

	durations := map[string]time.Duration{
		"FORUMCHAT_RECONNECT_DELAY":   c.ReconnectDelay,
		"FORUMCHAT_TYPING_IDLE":       c.TypingIdle,
		"FORUMCHAT_SCROLL_DEBOUNCE":   c.ScrollDebounce,
		"FORUMCHAT_NOTIFICATION_TTL":  c.NotificationTTL,
		"FORUMCHAT_REMOTE_TYPING_TTL": c.RemoteTypingTTL,
		"FORUMCHAT_HTTP_TIMEOUT":      c.HTTPTimeout,
	}
	for key, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", key, d)
		}
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("FORUMCHAT_PAGE_SIZE must be positive, got %d", c.PageSize)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

// CleanCachePath returns a clean filesystem path from the cache URL
func (c *Config) CleanCachePath() string {
	dbPath := strings.TrimPrefix(c.CachePath, "sqlite://")

	if !filepath.IsAbs(dbPath) {
		cwd, err := os.Getwd()
		if err == nil {
			dbPath = filepath.Join(cwd, dbPath)
		}
	}

	return dbPath
}

// DeriveWebSocketURL maps http(s)://host[/base] to ws(s)://host[/base]/ws.
func DeriveWebSocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
