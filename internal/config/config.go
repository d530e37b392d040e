// Package config loads the client configuration: defaults, then the config
// file (JSON5, or YAML by extension), then GB_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"
)

const (
	// Dir is the per-user state directory under $HOME.
	Dir = ".graphiti-browser"
	// File is the default config file name inside Dir.
	File = "config.json5"
	// EnvPath overrides the config file location.
	EnvPath = "GRAPHITI_BROWSER_CONFIG"
	// EnvPrefix prefixes every field override.
	EnvPrefix = "GB"
)

type Config struct {
	GroupID       string              `json:"group_id" yaml:"group_id"`
	Graphiti      ServiceConfig       `json:"graphiti" yaml:"graphiti"`
	Xerro         ServiceConfig       `json:"xerro" yaml:"xerro"`
	Llama         ServiceConfig       `json:"llamacpp" yaml:"llamacpp"`
	Auth          AuthConfig          `json:"auth" yaml:"auth"`
	Chat          ChatConfig          `json:"chat" yaml:"chat"`
	Cache         CacheConfig         `json:"cache" yaml:"cache"`
	Transport     TransportConfig     `json:"transport" yaml:"transport"`
	Storage       StorageConfig       `json:"storage" yaml:"storage"`
	Health        HealthConfig        `json:"health" yaml:"health"`
	Notifications NotificationsConfig `json:"notifications" yaml:"notifications"`
	Log           LogConfig           `json:"log" yaml:"log"`
	Telemetry     TelemetryConfig     `json:"telemetry" yaml:"telemetry"`
	API           APIConfig           `json:"api" yaml:"api"`
}

// ServiceConfig locates one backend. WSURL is empty for services without
// an event channel.
type ServiceConfig struct {
	URL   string `json:"url" yaml:"url" split_words:"true"`
	WSURL string `json:"ws_url,omitempty" yaml:"ws_url,omitempty" split_words:"true"`
}

type AuthConfig struct {
	Token      string `json:"token,omitempty" yaml:"token,omitempty" split_words:"true"`
	UseKeyring bool   `json:"use_keyring" yaml:"use_keyring" split_words:"true"`
}

type ChatConfig struct {
	MaxMessages      int    `json:"max_messages" yaml:"max_messages" split_words:"true"`
	MaxTokens        int    `json:"max_tokens" yaml:"max_tokens" split_words:"true"`
	HistoryTurns     int    `json:"history_turns" yaml:"history_turns" split_words:"true"`
	MaxRequestTokens int    `json:"max_request_tokens" yaml:"max_request_tokens" split_words:"true"`
	TokenizerModel   string `json:"tokenizer_model,omitempty" yaml:"tokenizer_model,omitempty" split_words:"true"`
	Stream           bool   `json:"stream" yaml:"stream" split_words:"true"`
}

type CacheConfig struct {
	MaxIdleEntries int `json:"max_idle_entries" yaml:"max_idle_entries" split_words:"true"`
	FetchTimeoutMs int `json:"fetch_timeout_ms" yaml:"fetch_timeout_ms" split_words:"true"`
}

type TransportConfig struct {
	BackoffBaseMs   int   `json:"backoff_base_ms" yaml:"backoff_base_ms" split_words:"true"`
	BackoffMaxMs    int   `json:"backoff_max_ms" yaml:"backoff_max_ms" split_words:"true"`
	PingIntervalSec int   `json:"ping_interval_sec" yaml:"ping_interval_sec" split_words:"true"`
	ReadLimitBytes  int64 `json:"read_limit_bytes" yaml:"read_limit_bytes" split_words:"true"`
}

type StorageConfig struct {
	Driver        string `json:"driver" yaml:"driver" split_words:"true"` // sqlite | postgres | redis | memory
	Path          string `json:"path,omitempty" yaml:"path,omitempty" split_words:"true"`
	DSN           string `json:"dsn,omitempty" yaml:"dsn,omitempty" split_words:"true"`
	RedisAddr     string `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty" split_words:"true"`
	RedisPassword string `json:"redis_password,omitempty" yaml:"redis_password,omitempty" split_words:"true"`
	RedisDB       int    `json:"redis_db,omitempty" yaml:"redis_db,omitempty" split_words:"true"`
}

type HealthConfig struct {
	IntervalSec int `json:"interval_sec" yaml:"interval_sec" split_words:"true"`
}

type NotificationsConfig struct {
	DedupeWindowMs int  `json:"dedupe_window_ms" yaml:"dedupe_window_ms" split_words:"true"`
	Terminal       bool `json:"terminal" yaml:"terminal" split_words:"true"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level" split_words:"true"`   // debug | info | warn | error
	Format string `json:"format" yaml:"format" split_words:"true"` // text | json
}

type TelemetryConfig struct {
	Endpoint    string `json:"endpoint,omitempty" yaml:"endpoint,omitempty" split_words:"true"`
	Protocol    string `json:"protocol,omitempty" yaml:"protocol,omitempty" split_words:"true"` // grpc | http
	Insecure    bool   `json:"insecure,omitempty" yaml:"insecure,omitempty" split_words:"true"`
	ServiceName string `json:"service_name,omitempty" yaml:"service_name,omitempty" split_words:"true"`
}

type APIConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second" split_words:"true"`
	Burst             int     `json:"burst" yaml:"burst" split_words:"true"`
	TimeoutSec        int     `json:"timeout_sec" yaml:"timeout_sec" split_words:"true"`
	ChatTimeoutSec    int     `json:"chat_timeout_sec" yaml:"chat_timeout_sec" split_words:"true"`
}

// Default returns a complete configuration for a local stack.
func Default() *Config {
	return &Config{
		GroupID:  DefaultGroupID,
		Graphiti: ServiceConfig{URL: "http://localhost:8000", WSURL: "ws://localhost:8000/ws"},
		Xerro:    ServiceConfig{URL: "http://localhost:9205", WSURL: "ws://localhost:9205/ws"},
		Llama:    ServiceConfig{URL: "http://localhost:9206"},
		Chat: ChatConfig{
			MaxMessages:      50,
			MaxTokens:        8000,
			HistoryTurns:     10,
			MaxRequestTokens: 6000,
			Stream:           true,
		},
		Cache:         CacheConfig{MaxIdleEntries: 256, FetchTimeoutMs: 30000},
		Transport:     TransportConfig{BackoffBaseMs: 1000, BackoffMaxMs: 30000, PingIntervalSec: 30, ReadLimitBytes: 512 << 10},
		Storage:       StorageConfig{Driver: "sqlite"},
		Health:        HealthConfig{IntervalSec: 30},
		Notifications: NotificationsConfig{DedupeWindowMs: 5000, Terminal: true},
		Log:           LogConfig{Level: "info", Format: "text"},
		API:           APIConfig{RequestsPerSecond: 20, Burst: 10, TimeoutSec: 30, ChatTimeoutSec: 300},
	}
}

// ResolvePath picks the config file: explicit flag, then $GRAPHITI_BROWSER_CONFIG,
// then ~/.graphiti-browser/config.json5.
func ResolvePath(flag string) string {
	if flag != "" {
		return expandHome(flag)
	}
	if env := strings.TrimSpace(os.Getenv(EnvPath)); env != "" {
		return expandHome(env)
	}
	return filepath.Join(StateDir(), File)
}

// StateDir is ~/.graphiti-browser, or the working directory when no home
// directory is known.
func StateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return Dir
	}
	return filepath.Join(home, Dir)
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[1:])
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json5.Unmarshal(data, cfg)
	}
}

func applyEnv(cfg *Config) error {
	var top struct {
		GroupID string `split_words:"true"`
	}
	if err := envconfig.Process(EnvPrefix, &top); err != nil {
		return err
	}
	if top.GroupID != "" {
		cfg.GroupID = top.GroupID
	}

	groups := []struct {
		prefix string
		spec   any
	}{
		{"GRAPHITI", &cfg.Graphiti},
		{"XERRO", &cfg.Xerro},
		{"LLAMACPP", &cfg.Llama},
		{"AUTH", &cfg.Auth},
		{"CHAT", &cfg.Chat},
		{"CACHE", &cfg.Cache},
		{"TRANSPORT", &cfg.Transport},
		{"STORAGE", &cfg.Storage},
		{"HEALTH", &cfg.Health},
		{"NOTIFICATIONS", &cfg.Notifications},
		{"LOG", &cfg.Log},
		{"TELEMETRY", &cfg.Telemetry},
		{"API", &cfg.API},
	}
	for _, g := range groups {
		if err := envconfig.Process(EnvPrefix+"_"+g.prefix, g.spec); err != nil {
			return fmt.Errorf("%s_%s: %w", EnvPrefix, g.prefix, err)
		}
	}
	return nil
}

func (c *Config) normalize() {
	c.GroupID = NormalizeGroupID(c.GroupID)
	c.Graphiti.URL = strings.TrimRight(c.Graphiti.URL, "/")
	c.Xerro.URL = strings.TrimRight(c.Xerro.URL, "/")
	c.Llama.URL = strings.TrimRight(c.Llama.URL, "/")
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Driver == "sqlite" && c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(StateDir(), "state.db")
	}
	c.Storage.Path = expandHome(c.Storage.Path)
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Auth.Token != "" {
		out.Auth.Token = "***"
	}
	if out.Storage.RedisPassword != "" {
		out.Storage.RedisPassword = "***"
	}
	if out.Storage.DSN != "" {
		out.Storage.DSN = "***"
	}
	return &out
}
