package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is the configuration to start the relay server.
type Profile struct {
	// Mode can be "prod" or "dev"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Data is the data directory
	Data string
	// DSN points to where chatbridge stores its own data
	DSN string
	// Driver is the database driver (sqlite or postgres)
	Driver string
	// Version is the current version of server
	Version string

	// Telegram transport configuration
	TelegramToken  string // CHATBRIDGE_TELEGRAM_TOKEN (required)
	OperatorChatID string // CHATBRIDGE_OPERATOR_CHAT_ID (required)
	UseWebhook     bool   // CHATBRIDGE_USE_WEBHOOK (default: false, long-poll)

	// AI backend configuration
	OpenAIAPIKey  string        // CHATBRIDGE_OPENAI_API_KEY (required)
	OpenAIBaseURL string        // CHATBRIDGE_OPENAI_BASE_URL (default: https://api.openai.com/v1)
	AssistantID   string        // CHATBRIDGE_ASSISTANT_ID (required)
	RunTimeout    time.Duration // CHATBRIDGE_RUN_TIMEOUT (default: 90s)

	// Redis cache tier (optional; enabled when addr is set)
	RedisAddr     string // CHATBRIDGE_REDIS_ADDR
	RedisPassword string // CHATBRIDGE_REDIS_PASSWORD
	RedisDB       int    // CHATBRIDGE_REDIS_DB

	// Relay behavior
	HandoffMarker       string        // CHATBRIDGE_HANDOFF_MARKER (default: [[handoff]])
	DispatchConcurrency int           // CHATBRIDGE_DISPATCH_CONCURRENCY (default: 3)
	SessionCacheTTL     time.Duration // CHATBRIDGE_SESSION_CACHE_TTL (default: 30m)
	InstanceStaleAfter  time.Duration // CHATBRIDGE_INSTANCE_STALE_AFTER (default: 5m)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsRedisEnabled returns true when a Redis cache tier is configured.
func (p *Profile) IsRedisEnabled() bool {
	return p.RedisAddr != ""
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FromEnv loads configuration from CHATBRIDGE_* environment variables.
// Values already set (e.g. from flags) are only overridden by non-empty
// environment values. A malformed value is fatal at startup rather than
// silently ignored.
func (p *Profile) FromEnv() error {
	if v := os.Getenv("CHATBRIDGE_TELEGRAM_TOKEN"); v != "" {
		p.TelegramToken = v
	}
	if v := os.Getenv("CHATBRIDGE_OPERATOR_CHAT_ID"); v != "" {
		p.OperatorChatID = v
	}
	p.UseWebhook = p.UseWebhook || os.Getenv("CHATBRIDGE_USE_WEBHOOK") == "true"

	if v := os.Getenv("CHATBRIDGE_OPENAI_API_KEY"); v != "" {
		p.OpenAIAPIKey = v
	}
	p.OpenAIBaseURL = getEnvOrDefault("CHATBRIDGE_OPENAI_BASE_URL", valueOr(p.OpenAIBaseURL, "https://api.openai.com/v1"))
	if v := os.Getenv("CHATBRIDGE_ASSISTANT_ID"); v != "" {
		p.AssistantID = v
	}

	if v := os.Getenv("CHATBRIDGE_REDIS_ADDR"); v != "" {
		p.RedisAddr = v
	}
	if v := os.Getenv("CHATBRIDGE_REDIS_PASSWORD"); v != "" {
		p.RedisPassword = v
	}
	if err := intFromEnv("CHATBRIDGE_REDIS_DB", &p.RedisDB); err != nil {
		return err
	}

	p.HandoffMarker = getEnvOrDefault("CHATBRIDGE_HANDOFF_MARKER", valueOr(p.HandoffMarker, "[[handoff]]"))

	if err := durationFromEnv("CHATBRIDGE_RUN_TIMEOUT", &p.RunTimeout); err != nil {
		return err
	}
	if err := intFromEnv("CHATBRIDGE_DISPATCH_CONCURRENCY", &p.DispatchConcurrency); err != nil {
		return err
	}
	if err := durationFromEnv("CHATBRIDGE_SESSION_CACHE_TTL", &p.SessionCacheTTL); err != nil {
		return err
	}
	if err := durationFromEnv("CHATBRIDGE_INSTANCE_STALE_AFTER", &p.InstanceStaleAfter); err != nil {
		return err
	}

	if p.RunTimeout == 0 {
		p.RunTimeout = 90 * time.Second
	}
	if p.DispatchConcurrency == 0 {
		p.DispatchConcurrency = 3
	}
	if p.SessionCacheTTL == 0 {
		p.SessionCacheTTL = 30 * time.Minute
	}
	if p.InstanceStaleAfter == 0 {
		p.InstanceStaleAfter = 5 * time.Minute
	}
	return nil
}

func durationFromEnv(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return errors.Wrapf(err, "%s=%q", key, v)
	}
	*dst = d
	return nil
}

func intFromEnv(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return errors.Wrapf(err, "%s=%q", key, v)
	}
	*dst = n
	return nil
}

func valueOr(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

// Validate checks the profile and reports the first missing required value.
// A missing credential is fatal at startup.
func (p *Profile) Validate() error {
	if p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "dev"
	}

	if p.TelegramToken == "" {
		return errors.New("missing required configuration: CHATBRIDGE_TELEGRAM_TOKEN")
	}
	if p.OperatorChatID == "" {
		return errors.New("missing required configuration: CHATBRIDGE_OPERATOR_CHAT_ID")
	}
	if p.OpenAIAPIKey == "" {
		return errors.New("missing required configuration: CHATBRIDGE_OPENAI_API_KEY")
	}
	if p.AssistantID == "" {
		return errors.New("missing required configuration: CHATBRIDGE_ASSISTANT_ID")
	}
	if p.Driver != "sqlite" && p.Driver != "postgres" {
		return errors.Errorf("unsupported database driver %q (sqlite or postgres)", p.Driver)
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("missing required configuration: CHATBRIDGE_DSN (postgres driver)")
	}

	if p.Driver == "sqlite" && p.DSN == "" {
		dataDir, err := checkDataDir(p.Data)
		if err != nil {
			return err
		}
		p.Data = dataDir
		dbFile := fmt.Sprintf("chatbridge_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}

	return nil
}
