package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/tracker/ingest"
	"github.com/rustyeddy/tracker/valuation"
)

// Config represents the complete tracker configuration
type Config struct {
	Account   AccountConfig   `json:"account" yaml:"account"`
	Store     StoreConfig     `json:"store" yaml:"store"`
	Remote    RemoteConfig    `json:"remote" yaml:"remote"`
	Sync      SyncConfig      `json:"sync" yaml:"sync"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	Valuation ValuationConfig `json:"valuation" yaml:"valuation"`
	Status    StatusConfig    `json:"status" yaml:"status"`
	Gateway   GatewayConfig   `json:"gateway" yaml:"gateway"`
	Log       LogConfig       `json:"log" yaml:"log"`
}

// AccountConfig identifies the single account this store tracks
type AccountConfig struct {
	ID       string `json:"id" yaml:"id"`
	Currency string `json:"currency" yaml:"currency"`
}

// StoreConfig locates the local SQLite journal
type StoreConfig struct {
	Path      string `json:"path" yaml:"path"`
	PageSize  int    `json:"page_size,omitempty" yaml:"page_size,omitempty"`
	Retention string `json:"retention,omitempty" yaml:"retention,omitempty"` // e.g. "2160h"; empty keeps everything
}

// Remote kinds
const (
	RemoteNone     = "none"
	RemoteMemory   = "memory"
	RemoteHTTP     = "http"
	RemotePostgres = "postgres"
)

// RemoteConfig selects the remote document store
type RemoteConfig struct {
	Kind    string `json:"kind" yaml:"kind"`
	URL     string `json:"url,omitempty" yaml:"url,omitempty"`
	Token   string `json:"token,omitempty" yaml:"token,omitempty"`
	DSN     string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// SyncConfig tunes the sync engine
type SyncConfig struct {
	Collection     string `json:"collection" yaml:"collection"`
	PageSize       int    `json:"page_size" yaml:"page_size"`
	BatchSize      int    `json:"batch_size" yaml:"batch_size"`
	MaxAttempts    int    `json:"max_attempts" yaml:"max_attempts"`
	InitialBackoff string `json:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff     string `json:"max_backoff" yaml:"max_backoff"`
	Interval       string `json:"interval,omitempty" yaml:"interval,omitempty"` // periodic sync while serving
}

// IngestConfig describes the default price feed
type IngestConfig struct {
	URL           string `json:"url,omitempty" yaml:"url,omitempty"`
	Token         string `json:"token,omitempty" yaml:"token,omitempty"`
	Format        string `json:"format,omitempty" yaml:"format,omitempty"`
	Path          string `json:"path,omitempty" yaml:"path,omitempty"` // JSONPath selecting records
	Instrument    string `json:"instrument,omitempty" yaml:"instrument,omitempty"`
	Source        string `json:"source,omitempty" yaml:"source,omitempty"`
	MaxFutureSkew string `json:"max_future_skew,omitempty" yaml:"max_future_skew,omitempty"`
	Timeout       string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// ValuationConfig selects the cost basis method and the default return step
type ValuationConfig struct {
	Method     string `json:"method" yaml:"method"`
	ReturnStep string `json:"return_step,omitempty" yaml:"return_step,omitempty"`
}

// StatusConfig enables Kafka status fan-out when brokers are set
type StatusConfig struct {
	Brokers []string `json:"brokers,omitempty" yaml:"brokers,omitempty"`
	Topic   string   `json:"topic,omitempty" yaml:"topic,omitempty"`
}

// GatewayConfig configures the HTTP presentation gateway
type GatewayConfig struct {
	Addr  string `json:"addr" yaml:"addr"`
	Token string `json:"token,omitempty" yaml:"token,omitempty"`
}

// LogConfig configures logrus
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // "text" or "json"
}

// Duration parses a duration string; empty means zero.
func Duration(s string) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

// MustDuration is Duration for values Validate already accepted.
func MustDuration(s string) time.Duration {
	d, err := Duration(s)
	if err != nil {
		panic(err)
	}
	return d
}

// LoadFromFile loads configuration from a file (YAML, falling back to JSON)
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		cfg = Default()
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves configuration to a file (YAML for .yaml/.yml, else JSON)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}

	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Account.ID == "" {
		return fmt.Errorf("account.id is required")
	}
	if money.GetCurrency(c.Account.Currency) == nil {
		return fmt.Errorf("account.currency %q is not a known currency", c.Account.Currency)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Store.PageSize < 0 {
		return fmt.Errorf("store.page_size must not be negative")
	}

	switch c.Remote.Kind {
	case "", RemoteNone, RemoteMemory:
	case RemoteHTTP:
		u, err := url.Parse(c.Remote.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("remote.url must be an absolute URL for the http remote")
		}
	case RemotePostgres:
		if c.Remote.DSN == "" {
			return fmt.Errorf("remote.dsn is required for the postgres remote")
		}
	default:
		return fmt.Errorf("remote.kind must be one of none, memory, http, postgres")
	}

	if c.Sync.Collection == "" {
		return fmt.Errorf("sync.collection is required")
	}
	if c.Sync.PageSize <= 0 || c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.page_size and sync.batch_size must be positive")
	}
	if c.Sync.MaxAttempts <= 0 {
		return fmt.Errorf("sync.max_attempts must be positive")
	}

	if _, err := ingest.ParseFormat(c.Ingest.Format); err != nil {
		return fmt.Errorf("ingest.format: %w", err)
	}
	if _, err := valuation.ParseCostBasisMethod(c.Valuation.Method); err != nil {
		return fmt.Errorf("valuation.method: %w", err)
	}

	durations := map[string]string{
		"store.retention":        c.Store.Retention,
		"remote.timeout":         c.Remote.Timeout,
		"sync.initial_backoff":   c.Sync.InitialBackoff,
		"sync.max_backoff":       c.Sync.MaxBackoff,
		"sync.interval":          c.Sync.Interval,
		"ingest.max_future_skew": c.Ingest.MaxFutureSkew,
		"ingest.timeout":         c.Ingest.Timeout,
		"valuation.return_step":  c.Valuation.ReturnStep,
	}
	for name, v := range durations {
		if _, err := Duration(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	if c.Gateway.Addr == "" {
		return fmt.Errorf("gateway.addr is required")
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be 'text' or 'json'")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Account: AccountConfig{
			ID:       "default",
			Currency: "USD",
		},
		Store: StoreConfig{
			Path: "./tracker.db",
		},
		Remote: RemoteConfig{
			Kind:    RemoteNone,
			Timeout: "30s",
		},
		Sync: SyncConfig{
			Collection:     "transactions",
			PageSize:       100,
			BatchSize:      50,
			MaxAttempts:    5,
			InitialBackoff: "500ms",
			MaxBackoff:     "30s",
			Interval:       "5m",
		},
		Ingest: IngestConfig{
			Format:        "auto",
			MaxFutureSkew: "24h",
			Timeout:       "30s",
		},
		Valuation: ValuationConfig{
			Method:     "average",
			ReturnStep: "24h",
		},
		Gateway: GatewayConfig{
			Addr: ":8080",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
