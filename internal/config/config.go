package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone  = "UTC"
	configPathEnv    = "UNREST_WATCH_CONFIG"
	databaseDSNEnv   = "DATABASE_DSN"
	extractorURLEnv  = "EXTRACTOR_URL"
	extractorKeyEnv  = "EXTRACTOR_API_KEY"
	labelerKeyEnv    = "LABELER_API_KEY"
	labelerModelEnv  = "LABELER_MODEL"
	telegramTokenEnv = "TELEGRAM_BOT_TOKEN"
	telegramChatEnv  = "TELEGRAM_CHAT_ID"
)

// Config holds high-level settings required across the application.
type Config struct {
	Database      DatabaseConfig     `yaml:"database"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Dedup         DedupConfig        `yaml:"dedup"`
	Clustering    ClusteringConfig   `yaml:"clustering"`
	Severity      SeverityConfig     `yaml:"severity"`
	Aliases       map[string]string  `yaml:"aliases"`
	Feeds         []FeedConfig       `yaml:"feeds"`
	Extractor     ExtractorConfig    `yaml:"extractor"`
	Labeler       LabelerConfig      `yaml:"labeler"`
	Notifications NotificationConfig `yaml:"notifications"`
	Logging       LoggingConfig      `yaml:"logging"`
}

// DatabaseConfig describes Postgres connection details. An empty DSN keeps
// the engine on the in-memory store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// SchedulerConfig defines when ingestion and reconciliation run.
type SchedulerConfig struct {
	IngestEvery    time.Duration  `yaml:"ingestEvery"`
	ReconcileEvery time.Duration  `yaml:"reconcileEvery"`
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

// DedupConfig tunes near-duplicate detection.
type DedupConfig struct {
	HammingThreshold int           `yaml:"hammingThreshold"`
	Window           time.Duration `yaml:"window"`
}

// ClusteringConfig tunes event assignment and lifecycle. The inactivity
// windows are domain policy: they decide how rolling actions segment.
type ClusteringConfig struct {
	AcceptThreshold float64       `yaml:"acceptThreshold"`
	ActivityWindow  time.Duration `yaml:"activityWindow"`
	DormantAfter    time.Duration `yaml:"dormantAfter"`
	CloseAfter      time.Duration `yaml:"closeAfter"`
	MergeGrace      time.Duration `yaml:"mergeGrace"`
	ConfidenceFloor float64       `yaml:"confidenceFloor"`
}

// SeverityConfig overrides the built-in severity weight tables.
type SeverityConfig struct {
	ScopeWeights  map[string]float64 `yaml:"scopeWeights"`
	SectorWeights map[string]float64 `yaml:"sectorWeights"`
	SectorDefault float64            `yaml:"sectorDefault"`
	DurationDay   float64            `yaml:"durationDay"`
}

// FeedConfig describes one upstream source of attributed article records.
type FeedConfig struct {
	Name      string            `yaml:"name"`
	Kind      string            `yaml:"kind"`
	Endpoints []EndpointConfig  `yaml:"endpoints"`
	Options   map[string]string `yaml:"options"`
}

// EndpointConfig holds a concrete path or URL to pull labeled batches from.
type EndpointConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// ExtractorConfig describes the external attribute-extraction service used
// for records that arrive without a bundle.
type ExtractorConfig struct {
	InferenceURL string  `yaml:"inferenceUrl"`
	APIKey       string  `yaml:"apiKey"`
	RatePerSec   float64 `yaml:"ratePerSec"`
}

// LabelerConfig defines the OpenAI-compatible labeling fallback.
type LabelerConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Model        string `yaml:"model"`
	APIKey       string `yaml:"apiKey"`
	SystemPrompt string `yaml:"systemPrompt"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send digest messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// LoggingConfig sets the slog level.
type LoggingConfig struct {
	Level string `yaml:"level"`
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

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv(extractorURLEnv); v != "" {
		c.Extractor.InferenceURL = v
	}
	if v := os.Getenv(extractorKeyEnv); v != "" {
		c.Extractor.APIKey = v
	}

	if v := os.Getenv(labelerKeyEnv); v != "" {
		c.Labeler.APIKey = v
	}
	if v := os.Getenv(labelerModelEnv); v != "" {
		c.Labeler.Model = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChatEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
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
	if override.Database.DSN != "" {
		base.Database = override.Database
	}

	if override.Scheduler.IngestEvery != 0 {
		base.Scheduler.IngestEvery = override.Scheduler.IngestEvery
	}
	if override.Scheduler.ReconcileEvery != 0 {
		base.Scheduler.ReconcileEvery = override.Scheduler.ReconcileEvery
	}
	if override.Scheduler.Timezone != "" {
		base.Scheduler.Timezone = override.Scheduler.Timezone
	}

	if override.Dedup.HammingThreshold != 0 {
		base.Dedup.HammingThreshold = override.Dedup.HammingThreshold
	}
	if override.Dedup.Window != 0 {
		base.Dedup.Window = override.Dedup.Window
	}

	if override.Clustering.AcceptThreshold != 0 {
		base.Clustering.AcceptThreshold = override.Clustering.AcceptThreshold
	}
	if override.Clustering.ActivityWindow != 0 {
		base.Clustering.ActivityWindow = override.Clustering.ActivityWindow
	}
	if override.Clustering.DormantAfter != 0 {
		base.Clustering.DormantAfter = override.Clustering.DormantAfter
	}
	if override.Clustering.CloseAfter != 0 {
		base.Clustering.CloseAfter = override.Clustering.CloseAfter
	}
	if override.Clustering.MergeGrace != 0 {
		base.Clustering.MergeGrace = override.Clustering.MergeGrace
	}
	if override.Clustering.ConfidenceFloor != 0 {
		base.Clustering.ConfidenceFloor = override.Clustering.ConfidenceFloor
	}

	if len(override.Severity.ScopeWeights) > 0 {
		base.Severity.ScopeWeights = override.Severity.ScopeWeights
	}
	if len(override.Severity.SectorWeights) > 0 {
		base.Severity.SectorWeights = override.Severity.SectorWeights
	}
	if override.Severity.SectorDefault != 0 {
		base.Severity.SectorDefault = override.Severity.SectorDefault
	}
	if override.Severity.DurationDay != 0 {
		base.Severity.DurationDay = override.Severity.DurationDay
	}

	if len(override.Aliases) > 0 {
		base.Aliases = override.Aliases
	}
	if len(override.Feeds) > 0 {
		base.Feeds = override.Feeds
	}

	if override.Extractor.InferenceURL != "" {
		base.Extractor.InferenceURL = override.Extractor.InferenceURL
	}
	if override.Extractor.APIKey != "" {
		base.Extractor.APIKey = override.Extractor.APIKey
	}
	if override.Extractor.RatePerSec != 0 {
		base.Extractor.RatePerSec = override.Extractor.RatePerSec
	}

	if override.Labeler.Endpoint != "" {
		base.Labeler.Endpoint = override.Labeler.Endpoint
	}
	if override.Labeler.Model != "" {
		base.Labeler.Model = override.Labeler.Model
	}
	if override.Labeler.APIKey != "" {
		base.Labeler.APIKey = override.Labeler.APIKey
	}
	if override.Labeler.SystemPrompt != "" {
		base.Labeler.SystemPrompt = override.Labeler.SystemPrompt
	}

	if override.Notifications.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = override.Notifications.Telegram.BotToken
	}
	if override.Notifications.Telegram.ChatID != "" {
		base.Notifications.Telegram.ChatID = override.Notifications.Telegram.ChatID
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}

	return base
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Database: DatabaseConfig{DSN: ""},
		Scheduler: SchedulerConfig{
			IngestEvery:    time.Hour,
			ReconcileEvery: 6 * time.Hour,
			Timezone:       defaultTimezone,
			location:       tz,
		},
		Dedup: DedupConfig{
			HammingThreshold: 10,
			Window:           72 * time.Hour,
		},
		Clustering: ClusteringConfig{
			AcceptThreshold: 0.35,
			ActivityWindow:  14 * 24 * time.Hour,
			DormantAfter:    14 * 24 * time.Hour,
			CloseAfter:      45 * 24 * time.Hour,
			MergeGrace:      7 * 24 * time.Hour,
			ConfidenceFloor: 0.4,
		},
		Aliases: map[string]string{},
		Feeds: []FeedConfig{
			{
				Name: "labeled-batches",
				Kind: "file",
				Endpoints: []EndpointConfig{
					{Name: "default", URL: "./data/labels"},
				},
			},
		},
		Extractor: ExtractorConfig{RatePerSec: 2},
		Labeler: LabelerConfig{
			Endpoint: "https://api.openai.com/v1/chat/completions",
			Model:    "gpt-4o-mini",
			SystemPrompt: "You label news articles about labour unrest. " +
				"Return a JSON object with sector, scope, location, actors, action_date and confidence fields.",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}
