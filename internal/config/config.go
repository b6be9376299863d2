package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the top-level agent router configuration.
type Config struct {
	OpenAI    OpenAIConfig    `json:"openai" yaml:"openai"`
	Agent     AgentConfig     `json:"agent" yaml:"agent"`
	KB        KBConfig        `json:"kb" yaml:"kb"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	API       APIConfig       `json:"api" yaml:"api"`
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler"`
	Log       LogConfig       `json:"log" yaml:"log"`
}

// OpenAIConfig holds inference endpoint settings.
type OpenAIConfig struct {
	APIKey         string `json:"api_key" yaml:"api_key"`
	Model          string `json:"model" yaml:"model"`
	BaseURL        string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// AgentConfig holds orchestrator settings.
type AgentConfig struct {
	MaxIterations int `json:"max_iterations" yaml:"max_iterations"`
}

// KBConfig points at the knowledge source.
type KBConfig struct {
	Path string `json:"path" yaml:"path"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Type   string `json:"type" yaml:"type"`                         // memory, file or sql
	File   string `json:"file,omitempty" yaml:"file,omitempty"`     // snapshot path for file
	Driver string `json:"driver,omitempty" yaml:"driver,omitempty"` // sqlite, postgres or mysql
	Path   string `json:"path,omitempty" yaml:"path,omitempty"`     // sqlite database file
	URL    string `json:"url,omitempty" yaml:"url,omitempty"`       // postgres/mysql DSN
}

// APIConfig holds HTTP server settings.
type APIConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// SchedulerConfig holds the follow-up sweep schedule. Empty disables it.
type SchedulerConfig struct {
	FollowupSweep string `json:"followup_sweep" yaml:"followup_sweep"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `json:"level,omitempty" yaml:"level,omitempty"`
}

// Storage types.
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageSQL    = "sql"
)

// Default returns a config with every default applied.
func Default() *Config {
	return &Config{
		OpenAI:    OpenAIConfig{Model: "gpt-4o", TimeoutSeconds: 60},
		Agent:     AgentConfig{MaxIterations: 6},
		KB:        KBConfig{Path: "kb.json"},
		Storage:   StorageConfig{Type: StorageMemory, File: "tickets_followups.json", Driver: "sqlite", Path: "agent_router.db"},
		API:       APIConfig{Host: "127.0.0.1", Port: 8000},
		Scheduler: SchedulerConfig{FollowupSweep: "@every 1m"},
	}
}

// Load reads configuration from a YAML or JSON file, chosen by extension.
// Unset fields keep their defaults and an empty api_key falls back to
// OPENAI_API_KEY.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv builds the config from environment variables, after loading
// an optional .env file from the working directory.
func LoadFromEnv() (*Config, error) {
	_ = godotenv.Load()

	d := Default()
	cfg := &Config{
		OpenAI: OpenAIConfig{
			APIKey:         os.Getenv("OPENAI_API_KEY"),
			Model:          getenv("OPENAI_MODEL", d.OpenAI.Model),
			BaseURL:        os.Getenv("OPENAI_BASE_URL"),
			TimeoutSeconds: getenvInt("OPENAI_TIMEOUT_SECONDS", d.OpenAI.TimeoutSeconds),
		},
		Agent: AgentConfig{
			MaxIterations: getenvInt("AGENT_MAX_ITERATIONS", d.Agent.MaxIterations),
		},
		KB: KBConfig{Path: getenv("KB_PATH", d.KB.Path)},
		Storage: StorageConfig{
			Type:   strings.ToLower(getenv("STORAGE_TYPE", d.Storage.Type)),
			File:   getenv("STORAGE_FILE", d.Storage.File),
			Driver: strings.ToLower(getenv("DATABASE_DRIVER", d.Storage.Driver)),
			Path:   getenv("DATABASE_PATH", d.Storage.Path),
			URL:    os.Getenv("DATABASE_URL"),
		},
		API: APIConfig{
			Host: getenv("API_HOST", d.API.Host),
			Port: getenvInt("API_PORT", d.API.Port),
		},
		Scheduler: SchedulerConfig{
			FollowupSweep: getenvDefined("FOLLOWUP_SWEEP", d.Scheduler.FollowupSweep),
		},
		Log: LogConfig{Level: os.Getenv("LOG_LEVEL")},
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalize folds the "sqlite" storage shorthand into sql + driver.
func (c *Config) normalize() {
	if c.Storage.Type == "sqlite" {
		c.Storage.Type = StorageSQL
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Type == StorageSQL && c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
}

// DSN returns the data source name for the configured SQL driver.
func (s StorageConfig) DSN() string {
	if s.Driver == "sqlite" {
		if s.URL != "" {
			return s.URL
		}
		return s.Path
	}
	return s.URL
}

// Addr returns host:port for the HTTP listener.
func (a APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// HasAPIKey reports whether an inference client can be built.
func (c *Config) HasAPIKey() bool {
	return c.OpenAI.APIKey != ""
}

// Validate checks every field and reports all problems at once. A missing
// API key is not an error: the server starts and refuses runs.
func (c *Config) Validate() error {
	var errs []string

	if c.OpenAI.Model == "" {
		errs = append(errs, "openai.model is required")
	}
	if c.OpenAI.TimeoutSeconds <= 0 {
		errs = append(errs, "openai.timeout_seconds must be positive")
	}
	if c.Agent.MaxIterations <= 0 {
		errs = append(errs, "agent.max_iterations must be positive")
	}
	if c.KB.Path == "" {
		errs = append(errs, "kb.path is required")
	}

	switch c.Storage.Type {
	case StorageMemory:
	case StorageFile:
		if c.Storage.File == "" {
			errs = append(errs, "storage.file is required for file storage")
		}
	case StorageSQL:
		switch c.Storage.Driver {
		case "sqlite", "postgres", "mysql":
			if c.Storage.DSN() == "" {
				errs = append(errs, fmt.Sprintf("storage: a database location is required for driver %s", c.Storage.Driver))
			}
		default:
			errs = append(errs, fmt.Sprintf("storage.driver %q is not one of sqlite, postgres, mysql", c.Storage.Driver))
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.type %q is not one of memory, file, sql, sqlite", c.Storage.Type))
	}

	if c.API.Port <= 0 || c.API.Port > 65535 {
		errs = append(errs, fmt.Sprintf("api.port %d is out of range", c.API.Port))
	}

	if c.Scheduler.FollowupSweep != "" {
		if _, err := cron.ParseStandard(c.Scheduler.FollowupSweep); err != nil {
			errs = append(errs, fmt.Sprintf("scheduler.followup_sweep: %v", err))
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getenvDefined is like getenv but an explicitly empty variable wins.
func getenvDefined(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
