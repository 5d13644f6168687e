// Package config loads wsgraph's configuration once at startup.
//
// Values come from, in increasing precedence: built-in defaults, an
// optional YAML file, and environment variables. Every key has a
// WSGRAPH_-prefixed variable (workspace.url -> WSGRAPH_WORKSPACE_URL), and
// the variable names used by earlier deployments are honored as
// fallbacks. Components never read the environment themselves.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "WSGRAPH"

// Workspace limits that bound Sync sizes.
const (
	MaxPageSize        = 10000
	MaxDetailBatchSize = 1000
)

// Config is the full configuration.
type Config struct {
	Workspace WorkspaceConfig `mapstructure:"workspace" json:"workspace" yaml:"workspace"`
	Store     StoreConfig     `mapstructure:"store" json:"store" yaml:"store"`
	Bus       BusConfig       `mapstructure:"bus" json:"bus" yaml:"bus"`
	Sync      SyncConfig      `mapstructure:"sync" json:"sync" yaml:"sync"`
	HTTP      HTTPConfig      `mapstructure:"http" json:"http" yaml:"http"`
}

// WorkspaceConfig points at the source workspace service.
type WorkspaceConfig struct {
	URL        string        `mapstructure:"url" json:"url" yaml:"url"`
	Token      string        `mapstructure:"token" json:"token" yaml:"token"`
	Timeout    time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
	MaxRetries int           `mapstructure:"max_retries" json:"max_retries" yaml:"max_retries"`
}

// StoreConfig selects the graph store backend by DSN scheme.
type StoreConfig struct {
	DSN   string `mapstructure:"dsn" json:"dsn" yaml:"dsn"`
	Token string `mapstructure:"token" json:"token" yaml:"token"`
}

// BusConfig configures the Kafka consumer group.
type BusConfig struct {
	Brokers        []string `mapstructure:"brokers" json:"brokers" yaml:"brokers"`
	Group          string   `mapstructure:"group" json:"group" yaml:"group"`
	WorkspaceTopic string   `mapstructure:"workspace_topic" json:"workspace_topic" yaml:"workspace_topic"`
	AdminTopic     string   `mapstructure:"admin_topic" json:"admin_topic" yaml:"admin_topic"`
}

// Topics returns the non-empty topics to subscribe to.
func (b BusConfig) Topics() []string {
	var out []string
	for _, t := range []string{b.WorkspaceTopic, b.AdminTopic} {
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// SyncConfig sizes pagination, batching and the worker pool.
type SyncConfig struct {
	PageSize        int  `mapstructure:"page_size" json:"page_size" yaml:"page_size"`
	DetailBatchSize int  `mapstructure:"detail_batch_size" json:"detail_batch_size" yaml:"detail_batch_size"`
	FlushThreshold  int  `mapstructure:"flush_threshold" json:"flush_threshold" yaml:"flush_threshold"`
	Workers         int  `mapstructure:"workers" json:"workers" yaml:"workers"`
	BulkImport      bool `mapstructure:"bulk_import" json:"bulk_import" yaml:"bulk_import"`
}

// HTTPConfig configures the status server.
type HTTPConfig struct {
	Addr string `mapstructure:"addr" json:"addr" yaml:"addr"`
}

var defaults = map[string]any{
	"workspace.url":          "http://workspace:5000",
	"workspace.token":        "",
	"workspace.timeout":      2 * time.Minute,
	"workspace.max_retries":  3,
	"store.dsn":              "sqlite://wsgraph.db",
	"store.token":            "",
	"bus.brokers":            []string{"kafka:9092"},
	"bus.group":              "re_sync",
	"bus.workspace_topic":    "workspaceevents",
	"bus.admin_topic":        "re_admin_events",
	"sync.page_size":         MaxPageSize,
	"sync.detail_batch_size": MaxDetailBatchSize,
	"sync.flush_threshold":   10000,
	"sync.workers":           8,
	"sync.bulk_import":       false,
	"http.addr":              ":8080",
}

// legacyEnv maps keys to the variable names earlier deployments used.
var legacyEnv = map[string][]string{
	"workspace.url":       {"WS_URL", "KBASE_SECURE_CONFIG_PARAM_WORKSPACE_URL"},
	"workspace.token":     {"WS_TOKEN", "KBASE_SECURE_CONFIG_PARAM_WS_TOKEN"},
	"store.dsn":           {"RE_URL", "KBASE_SECURE_CONFIG_PARAM_RE_URL"},
	"store.token":         {"RE_TOKEN"},
	"bus.brokers":         {"KAFKA_SERVER"},
	"bus.group":           {"KAFKA_CLIENTGROUP"},
	"bus.workspace_topic": {"KAFKA_WORKSPACE_TOPIC"},
	"bus.admin_topic":     {"KAFKA_ADMIN_TOPIC", "RE_WS_ADMIN_TOPIC"},
	"sync.workers":        {"NUM_CONSUMERS"},
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := load(newViper())
	if err != nil {
		panic(fmt.Sprintf("config: defaults do not decode: %v", err))
	}
	return cfg
}

// Load builds the configuration. path names an optional YAML file; empty
// means defaults and environment only.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return load(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key := range defaults {
		names := []string{envName(key)}
		names = append(names, legacyEnv[key]...)
		// BindEnv only errors without a key.
		_ = v.BindEnv(append([]string{key}, names...)...)
	}
	return v
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Workspace.URL = strings.TrimRight(cfg.Workspace.URL, "/")
	cfg.Store.DSN = strings.TrimRight(cfg.Store.DSN, "/")
	return &cfg, nil
}

// Validate checks the configuration for a sync run.
func (c *Config) Validate() error {
	var errs []error
	if c.Workspace.URL == "" {
		errs = append(errs, errors.New("workspace.url is required"))
	}
	if c.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn is required"))
	}
	if c.Workspace.MaxRetries < 0 {
		errs = append(errs, errors.New("workspace.max_retries must not be negative"))
	}
	if c.Workspace.Timeout <= 0 {
		errs = append(errs, errors.New("workspace.timeout must be positive"))
	}
	if c.Sync.PageSize <= 0 || c.Sync.PageSize > MaxPageSize {
		errs = append(errs, fmt.Errorf("sync.page_size must be in 1..%d", MaxPageSize))
	}
	if c.Sync.DetailBatchSize <= 0 || c.Sync.DetailBatchSize > MaxDetailBatchSize {
		errs = append(errs, fmt.Errorf("sync.detail_batch_size must be in 1..%d", MaxDetailBatchSize))
	}
	if c.Sync.FlushThreshold <= 0 {
		errs = append(errs, errors.New("sync.flush_threshold must be positive"))
	}
	if c.Sync.Workers <= 0 {
		errs = append(errs, errors.New("sync.workers must be positive"))
	}
	return errors.Join(errs...)
}

// ValidateBus checks the settings the consumer needs.
func (c *Config) ValidateBus() error {
	var errs []error
	if len(c.Bus.Brokers) == 0 {
		errs = append(errs, errors.New("bus.brokers is required"))
	}
	if c.Bus.Group == "" {
		errs = append(errs, errors.New("bus.group is required"))
	}
	if len(c.Bus.Topics()) == 0 {
		errs = append(errs, errors.New("at least one of bus.workspace_topic and bus.admin_topic is required"))
	}
	return errors.Join(errs...)
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	out.Bus.Brokers = append([]string(nil), c.Bus.Brokers...)
	if out.Workspace.Token != "" {
		out.Workspace.Token = "REDACTED"
	}
	if out.Store.Token != "" {
		out.Store.Token = "REDACTED"
	}
	return &out
}
