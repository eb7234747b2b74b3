// Package config loads runtime settings from the environment and an optional
// .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort int

	OutputDir string
	TempDir   string
	GCSBucket string
	GCSPrefix string

	TelegramBotToken string

	GeminiAPIKey string
	GeminiModel  string

	RunsDBPath string
	BQProject  string
	BQDataset  string

	WorkerCount int
	QueueSize   int

	TempMaxAge      time.Duration
	JanitorSchedule string

	IMAPHost         string
	IMAPPort         int
	IMAPSecure       bool
	IMAPUser         string
	IMAPPassword     string
	IMAPMailbox      string
	IMAPFetchMax     int
	IMAPMarkSeen     bool
	IMAPPollSchedule string

	LogLevel string
	LogJSON  bool
}

// Load reads .env when present, then the process environment. Variables
// already set in the environment win over .env entries; empty ones count as
// unset.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTPPort: getEnvInt("HTTP_PORT", 8080),

		OutputDir: getEnv("OUTPUT_DIR", "output"),
		TempDir:   getEnv("TEMP_DIR", "temp_files"),
		GCSBucket: getEnv("GCS_BUCKET", ""),
		GCSPrefix: getEnv("GCS_PREFIX", ""),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),

		RunsDBPath: getEnv("RUNS_DB_PATH", "data/runs.db"),
		BQProject:  getEnv("BQ_PROJECT", ""),
		BQDataset:  getEnv("BQ_DATASET", "reports"),

		WorkerCount: getEnvInt("WORKER_COUNT", 5),
		QueueSize:   getEnvInt("QUEUE_SIZE", 100),

		JanitorSchedule: getEnv("JANITOR_SCHEDULE", "@every 15m"),

		IMAPHost:         getEnv("IMAP_HOST", ""),
		IMAPPort:         getEnvInt("IMAP_PORT", 993),
		IMAPSecure:       getEnvBool("IMAP_SECURE", true),
		IMAPUser:         getEnv("IMAP_USER", ""),
		IMAPPassword:     getEnv("IMAP_PASSWORD", ""),
		IMAPMailbox:      getEnv("IMAP_MAILBOX", "INBOX"),
		IMAPFetchMax:     getEnvInt("IMAP_FETCH_MAX", 20),
		IMAPMarkSeen:     getEnvBool("IMAP_MARK_SEEN", true),
		IMAPPollSchedule: getEnv("IMAP_POLL_SCHEDULE", "@every 1m"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogJSON:  strings.EqualFold(getEnv("LOG_FORMAT", "console"), "json"),
	}

	maxAge, err := getEnvDuration("TEMP_MAX_AGE", time.Hour)
	if err != nil {
		return Config{}, err
	}
	cfg.TempMaxAge = maxAge

	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		return Config{}, fmt.Errorf("invalid HTTP_PORT: %d", cfg.HTTPPort)
	}
	if cfg.WorkerCount <= 0 {
		return Config{}, fmt.Errorf("invalid WORKER_COUNT: %d", cfg.WorkerCount)
	}
	if cfg.QueueSize < 0 {
		return Config{}, fmt.Errorf("invalid QUEUE_SIZE: %d", cfg.QueueSize)
	}

	return cfg, nil
}

func (c Config) Require(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("missing required env var: %s", name)
	}
	return nil
}

// TelegramEnabled reports whether the chat bot should run.
func (c Config) TelegramEnabled() bool { return c.TelegramBotToken != "" }

// IMAPEnabled reports whether the mailbox intake should run.
func (c Config) IMAPEnabled() bool { return c.IMAPHost != "" && c.IMAPUser != "" }

// BigQueryEnabled reports whether runs are also recorded in BigQuery.
func (c Config) BigQueryEnabled() bool { return c.BQProject != "" }

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(getEnv(key, ""))
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}
