package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone   = "UTC"
	configPathEnv     = "OSINT_AGGREGATOR_CONFIG"
	databasePathEnv   = "DATABASE_PATH"
	geminiAPIKeyEnv   = "GEMINI_API_KEY"
	geminiModelEnv    = "GEMINI_MODEL"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
)

// Duration wraps time.Duration so YAML can carry values like "45s".
type Duration time.Duration

// UnmarshalYAML parses Go duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the underlying time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds high-level settings required across the application.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Run       RunConfig       `yaml:"run"`
	Scrape    ScrapeConfig    `yaml:"scrape"`
	Gemini    GeminiConfig    `yaml:"gemini"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Report    ReportConfig    `yaml:"report"`
	Sources   []SourceConfig  `yaml:"sources"`
}

// DatabaseConfig locates the SQLite file.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig sets the slog level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SchedulerConfig defines when daemon mode runs collection.
type SchedulerConfig struct {
	CronExpression string         `yaml:"cronExpression"`
	Timezone       string         `yaml:"timezone"`
	location       *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// RunConfig bounds a single pipeline run.
type RunConfig struct {
	Timeout          Duration `yaml:"timeout"`
	Workers          int      `yaml:"workers"`
	HealingBatchSize int      `yaml:"healingBatchSize"`
}

// ScrapeConfig tunes the tiered scrape engine.
type ScrapeConfig struct {
	Timeout             Duration `yaml:"timeout"`
	MaxAttempts         int      `yaml:"maxAttempts"`
	InitialBackoff      Duration `yaml:"initialBackoff"`
	MaxBackoff          Duration `yaml:"maxBackoff"`
	BrowserTimeout      Duration `yaml:"browserTimeout"`
	BrowserSettle       Duration `yaml:"browserSettle"`
	EscalateInNormalRun bool     `yaml:"escalateInNormalRun"`
}

// GeminiConfig defines how to contact the analysis API.
type GeminiConfig struct {
	Endpoint        string   `yaml:"endpoint"`
	Model           string   `yaml:"model"`
	APIKey          string   `yaml:"apiKey"`
	MinCallInterval Duration `yaml:"minCallInterval"`
	MaxRetries      int      `yaml:"maxRetries"`
	MaxWait         Duration `yaml:"maxWait"`
}

// TelegramConfig wires the analyst channel.
type TelegramConfig struct {
	BotToken string   `yaml:"botToken"`
	ChatID   int64    `yaml:"chatId"`
	Lookback Duration `yaml:"lookback"`
}

// ReportConfig controls the weekly report and graph export outputs.
type ReportConfig struct {
	Days      int    `yaml:"days"`
	HTMLPath  string `yaml:"htmlPath"`
	JSONPath  string `yaml:"jsonPath"`
	GraphPath string `yaml:"graphPath"`
}

// SourceConfig describes one discovery provider instance.
type SourceConfig struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"`
	URL      string `yaml:"url"`
	Dir      string `yaml:"dir"`
	MaxItems int    `yaml:"maxItems"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()

	if len(cfg.Sources) == 0 {
		cfg.Sources = defaultConfig().Sources
	}

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databasePathEnv); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(geminiAPIKeyEnv); v != "" {
		c.Gemini.APIKey = v
	}
	if v := os.Getenv(geminiModelEnv); v != "" {
		c.Gemini.Model = v
	}
	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChatIDEnv); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Telegram.ChatID = id
		} else {
			log.Printf("config: invalid %s: %v", telegramChatIDEnv, err)
		}
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.location = loc
}

func mergeConfig(base, override Config) Config {
	if override.Database.Path != "" {
		base.Database = override.Database
	}
	if override.Logging.Level != "" {
		base.Logging = override.Logging
	}

	if override.Scheduler.CronExpression != "" {
		base.Scheduler.CronExpression = override.Scheduler.CronExpression
	}
	if override.Scheduler.Timezone != "" {
		base.Scheduler.Timezone = override.Scheduler.Timezone
	}

	if override.Run.Timeout != 0 {
		base.Run.Timeout = override.Run.Timeout
	}
	if override.Run.Workers != 0 {
		base.Run.Workers = override.Run.Workers
	}
	if override.Run.HealingBatchSize != 0 {
		base.Run.HealingBatchSize = override.Run.HealingBatchSize
	}

	if override.Scrape.Timeout != 0 {
		base.Scrape.Timeout = override.Scrape.Timeout
	}
	if override.Scrape.MaxAttempts != 0 {
		base.Scrape.MaxAttempts = override.Scrape.MaxAttempts
	}
	if override.Scrape.InitialBackoff != 0 {
		base.Scrape.InitialBackoff = override.Scrape.InitialBackoff
	}
	if override.Scrape.MaxBackoff != 0 {
		base.Scrape.MaxBackoff = override.Scrape.MaxBackoff
	}
	if override.Scrape.BrowserTimeout != 0 {
		base.Scrape.BrowserTimeout = override.Scrape.BrowserTimeout
	}
	if override.Scrape.BrowserSettle != 0 {
		base.Scrape.BrowserSettle = override.Scrape.BrowserSettle
	}
	if override.Scrape.EscalateInNormalRun {
		base.Scrape.EscalateInNormalRun = true
	}

	if override.Gemini.Endpoint != "" {
		base.Gemini.Endpoint = override.Gemini.Endpoint
	}
	if override.Gemini.Model != "" {
		base.Gemini.Model = override.Gemini.Model
	}
	if override.Gemini.APIKey != "" {
		base.Gemini.APIKey = override.Gemini.APIKey
	}
	if override.Gemini.MinCallInterval != 0 {
		base.Gemini.MinCallInterval = override.Gemini.MinCallInterval
	}
	if override.Gemini.MaxRetries != 0 {
		base.Gemini.MaxRetries = override.Gemini.MaxRetries
	}
	if override.Gemini.MaxWait != 0 {
		base.Gemini.MaxWait = override.Gemini.MaxWait
	}

	if override.Telegram.BotToken != "" {
		base.Telegram.BotToken = override.Telegram.BotToken
	}
	if override.Telegram.ChatID != 0 {
		base.Telegram.ChatID = override.Telegram.ChatID
	}
	if override.Telegram.Lookback != 0 {
		base.Telegram.Lookback = override.Telegram.Lookback
	}

	if override.Report.Days != 0 {
		base.Report.Days = override.Report.Days
	}
	if override.Report.HTMLPath != "" {
		base.Report.HTMLPath = override.Report.HTMLPath
	}
	if override.Report.JSONPath != "" {
		base.Report.JSONPath = override.Report.JSONPath
	}
	if override.Report.GraphPath != "" {
		base.Report.GraphPath = override.Report.GraphPath
	}

	if len(override.Sources) > 0 {
		base.Sources = override.Sources
	}

	return base
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Database:  DatabaseConfig{Path: "osint_database.db"},
		Logging:   LoggingConfig{Level: "info"},
		Scheduler: SchedulerConfig{CronExpression: "0 6 * * *", Timezone: defaultTimezone, location: tz},
		Run: RunConfig{
			Timeout:          Duration(30 * time.Minute),
			Workers:          4,
			HealingBatchSize: 25,
		},
		Scrape: ScrapeConfig{
			Timeout:        Duration(60 * time.Second),
			MaxAttempts:    3,
			InitialBackoff: Duration(5 * time.Second),
			MaxBackoff:     Duration(60 * time.Second),
			BrowserTimeout: Duration(45 * time.Second),
			BrowserSettle:  Duration(5 * time.Second),
		},
		Gemini: GeminiConfig{
			Endpoint:        "https://generativelanguage.googleapis.com/v1beta",
			Model:           "gemini-1.5-flash-latest",
			MinCallInterval: Duration(4 * time.Second),
			MaxRetries:      2,
			MaxWait:         Duration(30 * time.Second),
		},
		Telegram: TelegramConfig{Lookback: Duration(72 * time.Hour)},
		Report: ReportConfig{
			Days:      7,
			HTMLPath:  "Weekly_Threat_Report.html",
			JSONPath:  "Weekly_Threat_Report.json",
			GraphPath: "graph_export.json",
		},
		Sources: []SourceConfig{
			{Name: "RSS: The Hacker News", Kind: "rss", URL: "https://feeds.feedburner.com/TheHackersNews", MaxItems: 10},
			{Name: "RSS: Bleeping Computer", Kind: "rss", URL: "https://www.bleepingcomputer.com/feed/", MaxItems: 10},
			{Name: "RSS: Krebs on Security", Kind: "rss", URL: "https://krebsonsecurity.com/feed/", MaxItems: 10},
			{Name: "RSS: Dark Reading", Kind: "rss", URL: "https://www.darkreading.com/rss_simple.asp", MaxItems: 10},
			{Name: "Google Alert", Kind: "alertmail", Dir: "alerts"},
		},
	}
}
