package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OSINT_AGGREGATOR_CONFIG", "")
	t.Setenv("DATABASE_PATH", "")
	t.Setenv("GEMINI_API_KEY", "")

	cfg := Load()

	if cfg.Database.Path != "osint_database.db" {
		t.Fatalf("unexpected database path: %s", cfg.Database.Path)
	}
	if cfg.Run.Workers != 4 || cfg.Run.HealingBatchSize != 25 {
		t.Fatalf("unexpected run defaults: %+v", cfg.Run)
	}
	if len(cfg.Sources) == 0 {
		t.Fatal("default sources missing")
	}
	if cfg.Scheduler.Location().String() != "UTC" {
		t.Fatalf("unexpected timezone: %s", cfg.Scheduler.Location())
	}
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	raw := `
logging:
  level: debug
run:
  timeout: 5m
  workers: 2
scrape:
  maxAttempts: 5
sources:
  - name: "RSS: Only One"
    kind: rss
    url: https://x.example/feed
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("OSINT_AGGREGATOR_CONFIG", path)
	t.Setenv("GEMINI_API_KEY", "env-key")
	t.Setenv("TELEGRAM_CHAT_ID", "-100123")

	cfg := Load()

	if cfg.Logging.Level != "debug" {
		t.Fatalf("file level not applied: %s", cfg.Logging.Level)
	}
	if cfg.Run.Timeout.Std() != 5*time.Minute || cfg.Run.Workers != 2 {
		t.Fatalf("file run settings not applied: %+v", cfg.Run)
	}
	if cfg.Run.HealingBatchSize != 25 {
		t.Fatalf("unset file value must keep default: %+v", cfg.Run)
	}
	if cfg.Scrape.MaxAttempts != 5 {
		t.Fatalf("scrape override not applied: %+v", cfg.Scrape)
	}
	if len(cfg.Sources) != 1 || cfg.Sources[0].Name != "RSS: Only One" {
		t.Fatalf("file sources must replace defaults: %+v", cfg.Sources)
	}
	if cfg.Gemini.APIKey != "env-key" {
		t.Fatalf("env api key not applied: %q", cfg.Gemini.APIKey)
	}
	if cfg.Telegram.ChatID != -100123 {
		t.Fatalf("env chat id not applied: %d", cfg.Telegram.ChatID)
	}
}

func TestLoadIgnoresBrokenConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("{not yaml"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("OSINT_AGGREGATOR_CONFIG", path)

	cfg := Load()
	if cfg.Database.Path != "osint_database.db" {
		t.Fatalf("broken file must fall back to defaults: %+v", cfg.Database)
	}
}
