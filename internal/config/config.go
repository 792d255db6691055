// Package config provides configuration management for vigil.
//
// Settings are resolved in three layers: built-in defaults, an optional YAML
// file (path from --config or VIGIL_CONFIG), then environment variables with
// the VIGIL_ prefix. Validate is applied to the merged result.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds all configuration settings for vigil.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Encoder  EncoderConfig  `yaml:"encoder"`
	Context  ContextConfig  `yaml:"context"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Triage   TriageConfig   `yaml:"triage"`
	Feedback FeedbackConfig `yaml:"feedback"`
	Agent    AgentConfig    `yaml:"agent"`
	Sources  []SourceConfig `yaml:"sources"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains HTTP API configuration.
type ServerConfig struct {
	Enabled   bool    `yaml:"enabled"`    // Serve the HTTP API during `vigil run` (default: true)
	Host      string  `yaml:"host"`       // default: 127.0.0.1
	Port      int     `yaml:"port"`       // default: 6464
	RateLimit float64 `yaml:"rate_limit"` // Requests per second on /api (default: 20)
	RateBurst int     `yaml:"rate_burst"` // default: 40
}

// StorageConfig selects the vector index backend and data directory.
type StorageConfig struct {
	DataPath        string `yaml:"data_path"`        // default: ./data
	IndexBackend    string `yaml:"index_backend"`    // memory | sqlite | postgres | duckdb (default: sqlite)
	PostgresDSN     string `yaml:"postgres_dsn"`     // required for the postgres backend
	PersistFeedback bool   `yaml:"persist_feedback"` // Store feedback in {data}/feedback.db (default: true)
}

// EncoderConfig selects the embedding provider.
type EncoderConfig struct {
	Provider      string        `yaml:"provider"`       // ollama | langchain-ollama | langchain-openai | hashing (default: ollama)
	OllamaURL     string        `yaml:"ollama_url"`     // default: http://localhost:11434
	Model         string        `yaml:"model"`          // default: nomic-embed-text
	OpenAIAPIKey  string        `yaml:"openai_api_key"` // required for langchain-openai
	Dimension     int           `yaml:"dimension"`      // Output size of the hashing encoder (default: 256)
	CacheSize     int           `yaml:"cache_size"`     // Cached embeddings (default: 4096, 0 disables)
	Timeout       time.Duration `yaml:"timeout"`        // Per-request timeout (default: 30s)
	ProbeAttempts int           `yaml:"probe_attempts"` // Startup probe attempts (default: 3)
}

// ContextConfig tunes the context store.
type ContextConfig struct {
	HistoryCapacity int `yaml:"history_capacity"` // default: 1000
}

// AlertsConfig tunes the detector rules.
type AlertsConfig struct {
	LookAhead        time.Duration `yaml:"look_ahead"`          // Meeting-prep window (default: 2h)
	ConflictBuffer   time.Duration `yaml:"conflict_buffer"`     // Minimum gap between meetings (default: 15m)
	FollowUpLookBack time.Duration `yaml:"follow_up_look_back"` // default: 24h
	HistoryCapacity  int           `yaml:"history_capacity"`    // Generated alerts remembered (default: 500)
}

// TriageConfig tunes the delivery gate.
type TriageConfig struct {
	BusinessStartHour  int     `yaml:"business_start_hour"` // default: 9
	BusinessEndHour    int     `yaml:"business_end_hour"`   // default: 18
	RelevanceThreshold float64 `yaml:"relevance_threshold"` // default: 0.6
	MinVotes           int     `yaml:"min_votes"`           // Predicates required to deliver (default: 2)
	TrainThreshold     int     `yaml:"train_threshold"`     // Feedback count that enables learning (default: 50)
	RetrainEvery       int     `yaml:"retrain_every"`       // default: 100
	Availability       string  `yaml:"availability"`        // static | meetings (default: static)
}

// FeedbackConfig tunes the feedback recorder.
type FeedbackConfig struct {
	Capacity int  `yaml:"capacity"` // Records held in memory (default: 10000)
	Inbox    bool `yaml:"inbox"`    // Watch {data}/feedback for dropped files (default: true)
}

// AgentConfig tunes the polling loop.
type AgentConfig struct {
	Interval          time.Duration `yaml:"interval"`           // default: 30s
	Backoff           time.Duration `yaml:"backoff"`            // default: 60s
	MinPollInterval   time.Duration `yaml:"min_poll_interval"`  // Per-source throttle (default: 10s)
	DedupeTTL         time.Duration `yaml:"dedupe_ttl"`         // default: 1h
	DedupeSize        int           `yaml:"dedupe_size"`        // default: 4096
	DeliveredCapacity int           `yaml:"delivered_capacity"` // default: 1000
	EventFiles        bool          `yaml:"event_files"`        // Write {data}/events/*.event (default: false)
}

// SourceConfig declares one polled source.
type SourceConfig struct {
	Name    string            `yaml:"name"`
	Type    string            `yaml:"type"` // mcp | mock | file
	Tag     string            `yaml:"tag"`  // Extractor tag; defaults per type
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	Tool    string            `yaml:"tool"`
	Path    string            `yaml:"path"`

	HoursAhead float64 `yaml:"hours_ahead"` // mcp tool argument (default: 24)
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error (default: info)
	File  string `yaml:"file"`  // JSON log file (default: {data}/vigil.log)
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Enabled:   true,
			Host:      "127.0.0.1",
			Port:      6464,
			RateLimit: 20,
			RateBurst: 40,
		},
		Storage: StorageConfig{
			DataPath:        "./data",
			IndexBackend:    "sqlite",
			PersistFeedback: true,
		},
		Encoder: EncoderConfig{
			Provider:      "ollama",
			OllamaURL:     "http://localhost:11434",
			Model:         "nomic-embed-text",
			Dimension:     256,
			CacheSize:     4096,
			Timeout:       30 * time.Second,
			ProbeAttempts: 3,
		},
		Context: ContextConfig{HistoryCapacity: 1000},
		Alerts: AlertsConfig{
			LookAhead:        2 * time.Hour,
			ConflictBuffer:   15 * time.Minute,
			FollowUpLookBack: 24 * time.Hour,
			HistoryCapacity:  500,
		},
		Triage: TriageConfig{
			BusinessStartHour:  9,
			BusinessEndHour:    18,
			RelevanceThreshold: 0.6,
			MinVotes:           2,
			TrainThreshold:     50,
			RetrainEvery:       100,
			Availability:       "static",
		},
		Feedback: FeedbackConfig{Capacity: 10000, Inbox: true},
		Agent: AgentConfig{
			Interval:          30 * time.Second,
			Backoff:           60 * time.Second,
			MinPollInterval:   10 * time.Second,
			DedupeTTL:         time.Hour,
			DedupeSize:        4096,
			DeliveredCapacity: 1000,
		},
		Sources: []SourceConfig{{Name: "demo", Type: "mock"}},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load builds the configuration from defaults, the YAML file at path (or
// VIGIL_CONFIG when path is empty) and VIGIL_* environment variables.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv("VIGIL_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays VIGIL_* environment variables. Unset or unparsable
// variables leave the current value alone.
func (c *Config) applyEnv() {
	c.Server.Enabled = getEnvBool("VIGIL_SERVER_ENABLED", c.Server.Enabled)
	c.Server.Host = getEnv("VIGIL_HOST", c.Server.Host)
	c.Server.Port = getEnvInt("VIGIL_PORT", c.Server.Port)
	c.Server.RateLimit = getEnvFloat("VIGIL_RATE_LIMIT", c.Server.RateLimit)

	c.Storage.DataPath = getEnv("VIGIL_DATA_PATH", c.Storage.DataPath)
	c.Storage.IndexBackend = getEnv("VIGIL_INDEX_BACKEND", c.Storage.IndexBackend)
	c.Storage.PostgresDSN = getEnv("VIGIL_POSTGRES_DSN", c.Storage.PostgresDSN)
	c.Storage.PersistFeedback = getEnvBool("VIGIL_PERSIST_FEEDBACK", c.Storage.PersistFeedback)

	c.Encoder.Provider = getEnv("VIGIL_ENCODER_PROVIDER", c.Encoder.Provider)
	c.Encoder.OllamaURL = getEnv("VIGIL_OLLAMA_URL", c.Encoder.OllamaURL)
	c.Encoder.Model = getEnv("VIGIL_EMBEDDING_MODEL", c.Encoder.Model)
	c.Encoder.OpenAIAPIKey = getEnv("VIGIL_OPENAI_API_KEY", c.Encoder.OpenAIAPIKey)
	c.Encoder.CacheSize = getEnvInt("VIGIL_EMBEDDING_CACHE_SIZE", c.Encoder.CacheSize)

	c.Context.HistoryCapacity = getEnvInt("VIGIL_HISTORY_CAPACITY", c.Context.HistoryCapacity)

	c.Alerts.LookAhead = getEnvDuration("VIGIL_LOOK_AHEAD", c.Alerts.LookAhead)
	c.Alerts.ConflictBuffer = getEnvDuration("VIGIL_CONFLICT_BUFFER", c.Alerts.ConflictBuffer)

	c.Triage.BusinessStartHour = getEnvInt("VIGIL_BUSINESS_START_HOUR", c.Triage.BusinessStartHour)
	c.Triage.BusinessEndHour = getEnvInt("VIGIL_BUSINESS_END_HOUR", c.Triage.BusinessEndHour)
	c.Triage.RelevanceThreshold = getEnvFloat("VIGIL_RELEVANCE_THRESHOLD", c.Triage.RelevanceThreshold)
	c.Triage.Availability = getEnv("VIGIL_AVAILABILITY", c.Triage.Availability)

	c.Feedback.Inbox = getEnvBool("VIGIL_FEEDBACK_INBOX", c.Feedback.Inbox)

	c.Agent.Interval = getEnvDuration("VIGIL_AGENT_INTERVAL", c.Agent.Interval)
	c.Agent.Backoff = getEnvDuration("VIGIL_AGENT_BACKOFF", c.Agent.Backoff)
	c.Agent.EventFiles = getEnvBool("VIGIL_EVENT_FILES", c.Agent.EventFiles)

	c.Logging.Level = getEnv("VIGIL_LOG_LEVEL", c.Logging.Level)
	c.Logging.File = getEnv("VIGIL_LOG_FILE", c.Logging.File)
}

// Validate checks the merged configuration.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
		}
	}

	check(c.Server.Port > 0 && c.Server.Port < 65536, "server.port %d out of range", c.Server.Port)
	check(c.Server.RateLimit > 0, "server.rate_limit must be positive")

	switch c.Storage.IndexBackend {
	case "memory", "sqlite", "duckdb":
	case "postgres":
		check(c.Storage.PostgresDSN != "", "storage.postgres_dsn is required for the postgres backend")
	default:
		check(false, "unknown storage.index_backend %q", c.Storage.IndexBackend)
	}

	switch c.Encoder.Provider {
	case "ollama", "langchain-ollama":
		check(c.Encoder.OllamaURL != "", "encoder.ollama_url is required")
	case "langchain-openai":
		check(c.Encoder.OpenAIAPIKey != "", "encoder.openai_api_key is required for langchain-openai")
	case "hashing":
		check(c.Encoder.Dimension > 0, "encoder.dimension must be positive")
	default:
		check(false, "unknown encoder.provider %q", c.Encoder.Provider)
	}

	check(c.Context.HistoryCapacity > 0, "context.history_capacity must be positive")
	check(c.Alerts.LookAhead > 0, "alerts.look_ahead must be positive")
	check(c.Alerts.ConflictBuffer >= 0, "alerts.conflict_buffer must not be negative")
	check(c.Alerts.FollowUpLookBack > 0, "alerts.follow_up_look_back must be positive")

	t := c.Triage
	check(t.BusinessStartHour >= 0 && t.BusinessStartHour < t.BusinessEndHour && t.BusinessEndHour <= 24,
		"triage business hours %d-%d invalid", t.BusinessStartHour, t.BusinessEndHour)
	check(t.RelevanceThreshold >= 0 && t.RelevanceThreshold <= 1, "triage.relevance_threshold must be in [0,1]")
	check(t.MinVotes >= 1 && t.MinVotes <= 4, "triage.min_votes must be 1-4")
	check(t.TrainThreshold > 0, "triage.train_threshold must be positive")
	check(t.RetrainEvery > 0, "triage.retrain_every must be positive")
	check(t.Availability == "static" || t.Availability == "meetings", "unknown triage.availability %q", t.Availability)

	check(c.Feedback.Capacity > 0, "feedback.capacity must be positive")
	check(c.Agent.Interval > 0, "agent.interval must be positive")
	check(c.Agent.Backoff > 0, "agent.backoff must be positive")

	for i, s := range c.Sources {
		check(s.Name != "", "sources[%d].name is required", i)
		switch s.Type {
		case "mock":
		case "mcp":
			check(s.Command != "", "sources[%d] (%s): command is required for mcp", i, s.Name)
		case "file":
			check(s.Path != "", "sources[%d] (%s): path is required for file", i, s.Name)
		default:
			check(false, "sources[%d] (%s): unknown type %q", i, s.Name, s.Type)
		}
	}

	return errors.Join(errs...)
}

// LogFile returns the configured log file, defaulting into the data directory.
func (c *Config) LogFile() string {
	if c.Logging.File != "" {
		return c.Logging.File
	}
	return filepath.Join(c.Storage.DataPath, "vigil.log")
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string { return c.Server.Addr() }

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvBool recognizes "true", "1", "yes" as true and "false", "0", "no"
// as false. Anything else returns the default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}
