package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"HTTP_PORT", "OUTPUT_DIR", "TEMP_DIR", "TEMP_MAX_AGE", "WORKER_COUNT",
		"TELEGRAM_BOT_TOKEN", "IMAP_HOST", "IMAP_USER", "BQ_PROJECT", "LOG_FORMAT", "GEMINI_MODEL",
		"QUEUE_SIZE"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPPort != 8080 || cfg.OutputDir != "output" || cfg.TempDir != "temp_files" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.TempMaxAge != time.Hour || cfg.WorkerCount != 5 || cfg.GeminiModel != "gemini-2.5-flash" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.TelegramEnabled() || cfg.IMAPEnabled() || cfg.BigQueryEnabled() || cfg.LogJSON {
		t.Errorf("optional integrations enabled by default: %+v", cfg)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("TEMP_MAX_AGE", "30m")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("IMAP_HOST", "imap.example.com")
	t.Setenv("IMAP_USER", "reports@example.com")
	t.Setenv("IMAP_SECURE", "off")
	t.Setenv("LOG_FORMAT", "JSON")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPPort != 9090 || cfg.TempMaxAge != 30*time.Minute {
		t.Errorf("cfg = %+v", cfg)
	}
	if !cfg.TelegramEnabled() || !cfg.IMAPEnabled() || cfg.IMAPSecure || !cfg.LogJSON {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"TEMP_MAX_AGE", "soon"},
		{"TEMP_MAX_AGE", "-1m"},
		{"HTTP_PORT", "70000"},
		{"WORKER_COUNT", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestRequire(t *testing.T) {
	var c Config
	if err := c.Require("GEMINI_API_KEY", " "); err == nil {
		t.Error("expected error for blank value")
	}
	if err := c.Require("GEMINI_API_KEY", "k"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
