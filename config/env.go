package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TRACKER_"

type override struct {
	key string
	set func(c *Config, v string) error
}

func str(dst func(c *Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func num(dst func(c *Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

var overrides = []override{
	{"ACCOUNT", str(func(c *Config) *string { return &c.Account.ID })},
	{"CURRENCY", str(func(c *Config) *string { return &c.Account.Currency })},
	{"DB", str(func(c *Config) *string { return &c.Store.Path })},
	{"RETENTION", str(func(c *Config) *string { return &c.Store.Retention })},
	{"REMOTE", str(func(c *Config) *string { return &c.Remote.Kind })},
	{"REMOTE_URL", str(func(c *Config) *string { return &c.Remote.URL })},
	{"REMOTE_TOKEN", str(func(c *Config) *string { return &c.Remote.Token })},
	{"REMOTE_DSN", str(func(c *Config) *string { return &c.Remote.DSN })},
	{"SYNC_COLLECTION", str(func(c *Config) *string { return &c.Sync.Collection })},
	{"SYNC_INTERVAL", str(func(c *Config) *string { return &c.Sync.Interval })},
	{"SYNC_BATCH_SIZE", num(func(c *Config) *int { return &c.Sync.BatchSize })},
	{"SYNC_MAX_ATTEMPTS", num(func(c *Config) *int { return &c.Sync.MaxAttempts })},
	{"INGEST_URL", str(func(c *Config) *string { return &c.Ingest.URL })},
	{"INGEST_TOKEN", str(func(c *Config) *string { return &c.Ingest.Token })},
	{"COST_BASIS", str(func(c *Config) *string { return &c.Valuation.Method })},
	{"KAFKA_TOPIC", str(func(c *Config) *string { return &c.Status.Topic })},
	{"KAFKA_BROKERS", func(c *Config, v string) error {
		c.Status.Brokers = nil
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.Status.Brokers = append(c.Status.Brokers, b)
			}
		}
		return nil
	}},
	{"GATEWAY_ADDR", str(func(c *Config) *string { return &c.Gateway.Addr })},
	{"GATEWAY_TOKEN", str(func(c *Config) *string { return &c.Gateway.Token })},
	{"LOG_LEVEL", str(func(c *Config) *string { return &c.Log.Level })},
	{"LOG_FORMAT", str(func(c *Config) *string { return &c.Log.Format })},
}

// ApplyEnv loads the given .env files (".env" when none are named; missing
// files are ignored) and then applies TRACKER_* variables over c. Variables
// already set in the process environment win over .env entries.
func (c *Config) ApplyEnv(files ...string) error {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env: %w", err)
	}
	for _, o := range overrides {
		v, ok := os.LookupEnv(EnvPrefix + o.key)
		if !ok {
			continue
		}
		if err := o.set(c, v); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, o.key, err)
		}
	}
	return nil
}
