// Package config loads the settings shared by the server and agent binaries.
//
// Values come from the built-in defaults, then an optional TOML file, then
// MENTORFY_* environment variables, and are validated last.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
)

// Duration decodes TOML strings such as "60s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Config struct {
	Server    Server    `toml:"server"`
	Database  Database  `toml:"database"`
	Upstream  Upstream  `toml:"upstream"`
	NATS      NATS      `toml:"nats"`
	Cache     Cache     `toml:"cache"`
	RateLimit RateLimit `toml:"rate_limit"`
	Agent     Agent     `toml:"agent"`
	Log       Log       `toml:"log"`
}

type Server struct {
	Addr              string   `toml:"addr"`
	ShutdownTimeout   Duration `toml:"shutdown_timeout"`
	HeartbeatInterval Duration `toml:"heartbeat_interval"`
	HistoryLimit      int      `toml:"history_limit"`
	StaticDir         string   `toml:"static_dir"`
}

type Database struct {
	Path string `toml:"path"`
}

// Upstream is the agent chat endpoint the relay streams from.
type Upstream struct {
	URL            string   `toml:"url"`
	APIKey         string   `toml:"api_key"`
	ConnectTimeout Duration `toml:"connect_timeout"`
	IdleTimeout    Duration `toml:"idle_timeout"`
	PersistTimeout Duration `toml:"persist_timeout"`
}

type NATS struct {
	Enabled       bool   `toml:"enabled"`
	URL           string `toml:"url"`
	SubjectPrefix string `toml:"subject_prefix"`
}

type Cache struct {
	TTL        Duration `toml:"ttl"`
	MaxTenants int      `toml:"max_tenants"`
}

// RateLimit bounds chat sends per organization.
type RateLimit struct {
	PerSecond float64 `toml:"per_second"`
	Burst     int     `toml:"burst"`
}

type Agent struct {
	Addr             string   `toml:"addr"`
	BaseURL          string   `toml:"base_url"`
	APIKey           string   `toml:"api_key"`
	Model            string   `toml:"model"`
	Temperature      float64  `toml:"temperature"`
	MaxHistoryTokens int      `toml:"max_history_tokens"`
	KnowledgeResults int      `toml:"knowledge_results"`
	Timeout          Duration `toml:"timeout"`
}

type Log struct {
	Development bool   `toml:"development"`
	Level       string `toml:"level"`
}

func Default() *Config {
	return &Config{
		Server: Server{
			Addr:              ":8100",
			ShutdownTimeout:   Duration{15 * time.Second},
			HeartbeatInterval: Duration{15 * time.Second},
			HistoryLimit:      20,
		},
		Database: Database{Path: "mentorfy.db"},
		Upstream: Upstream{
			URL:            "http://localhost:8200/chat",
			ConnectTimeout: Duration{10 * time.Second},
			IdleTimeout:    Duration{60 * time.Second},
			PersistTimeout: Duration{10 * time.Second},
		},
		NATS: NATS{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "mentorfy.stream",
		},
		Cache:     Cache{TTL: Duration{time.Minute}, MaxTenants: 1000},
		RateLimit: RateLimit{PerSecond: 1, Burst: 5},
		Agent: Agent{
			Addr:             ":8200",
			BaseURL:          "http://localhost:11434/v1/",
			Model:            "llama3.1:8b",
			Temperature:      0.7,
			MaxHistoryTokens: 3000,
			KnowledgeResults: 5,
			Timeout:          Duration{2 * time.Minute},
		},
		Log: Log{Level: "info"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) ApplyEnvOverrides() error {
	str := map[string]*string{
		"MENTORFY_SERVER_ADDR":      &c.Server.Addr,
		"MENTORFY_STATIC_DIR":       &c.Server.StaticDir,
		"MENTORFY_DB_PATH":          &c.Database.Path,
		"MENTORFY_UPSTREAM_URL":     &c.Upstream.URL,
		"MENTORFY_UPSTREAM_API_KEY": &c.Upstream.APIKey,
		"MENTORFY_NATS_URL":         &c.NATS.URL,
		"MENTORFY_NATS_SUBJECT":     &c.NATS.SubjectPrefix,
		"MENTORFY_AGENT_ADDR":       &c.Agent.Addr,
		"MENTORFY_AGENT_BASE_URL":   &c.Agent.BaseURL,
		"MENTORFY_AGENT_MODEL":      &c.Agent.Model,
		"OPENAI_API_KEY":            &c.Agent.APIKey,
		"MENTORFY_LOG_LEVEL":        &c.Log.Level,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	flags := map[string]*bool{
		"MENTORFY_NATS_ENABLED":    &c.NATS.Enabled,
		"MENTORFY_LOG_DEVELOPMENT": &c.Log.Development,
	}
	for key, dst := range flags {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = b
	}

	durations := map[string]*Duration{
		"MENTORFY_UPSTREAM_IDLE_TIMEOUT": &c.Upstream.IdleTimeout,
	}
	for key, dst := range durations {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		if err := dst.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	return nil
}

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}

	if c.Server.Addr == "" {
		add("server.addr", "must not be empty")
	}
	if c.Server.HistoryLimit < 0 {
		add("server.history_limit", "cannot be negative")
	}
	if c.Database.Path == "" {
		add("database.path", "must not be empty")
	}
	if u, err := url.Parse(c.Upstream.URL); err != nil || u.Scheme == "" || u.Host == "" {
		add("upstream.url", fmt.Sprintf("invalid URL %q", c.Upstream.URL))
	}
	if c.Upstream.IdleTimeout.Duration < 0 {
		add("upstream.idle_timeout", "cannot be negative")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		add("nats.url", "required when nats is enabled")
	}
	if c.NATS.Enabled && c.NATS.SubjectPrefix == "" {
		add("nats.subject_prefix", "required when nats is enabled")
	}
	if c.RateLimit.PerSecond < 0 || c.RateLimit.Burst < 0 {
		add("rate_limit", "cannot be negative")
	}
	if c.Agent.MaxHistoryTokens <= 0 {
		add("agent.max_history_tokens", "must be positive")
	}
	if c.Agent.Temperature < 0 || c.Agent.Temperature > 2 {
		add("agent.temperature", "must be between 0 and 2")
	}
	if _, err := zap.ParseAtomicLevel(c.Log.Level); err != nil {
		add("log.level", fmt.Sprintf("unknown level %q", c.Log.Level))
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// NewLogger builds the process logger.
func (l Log) NewLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if l.Development {
		cfg = zap.NewDevelopmentConfig()
	}
	if l.Level != "" {
		level, err := zap.ParseAtomicLevel(l.Level)
		if err != nil {
			return nil, err
		}
		cfg.Level = level
	}
	return cfg.Build()
}

var ErrNoConfig = errors.New("config file not found")

// Path resolves the config file: the explicit flag value, then
// MENTORFY_CONFIG, then mentorfy.toml in the working directory if present.
func Path(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if p := os.Getenv("MENTORFY_CONFIG"); p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("%w: %s", ErrNoConfig, p)
		}
		return p, nil
	}
	if _, err := os.Stat("mentorfy.toml"); err == nil {
		return "mentorfy.toml", nil
	}
	return "", nil
}
