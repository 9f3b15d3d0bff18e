package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestSaveAndLoad(t *testing.T) {
	for _, name := range []string{"tracker.yaml", "tracker.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)

			cfg := Default()
			cfg.Account.ID = "brokerage"
			cfg.Remote = RemoteConfig{Kind: RemoteHTTP, URL: "https://docs.example.com", Token: "t", Timeout: "10s"}
			cfg.Status.Brokers = []string{"k1:9092", "k2:9092"}
			require.NoError(t, cfg.SaveToFile(path))

			got, err := LoadFromFile(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, got)
		})
	}
}

func TestLoadKeepsDefaultsForMissingSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	require.NoError(t, os.WriteFile(path, []byte("account:\n  id: ira\n  currency: EUR\n"), 0600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ira", cfg.Account.ID)
	assert.Equal(t, "EUR", cfg.Account.Currency)
	assert.Equal(t, "transactions", cfg.Sync.Collection)
	assert.Equal(t, 50, cfg.Sync.BatchSize)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFromFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("account: [unclosed"), 0600))
	_, err = LoadFromFile(bad)
	assert.ErrorContains(t, err, "parse config")

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("remote:\n  kind: ftp\n"), 0600))
	_, err = LoadFromFile(invalid)
	assert.ErrorContains(t, err, "remote.kind")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"account id", func(c *Config) { c.Account.ID = "" }, "account.id"},
		{"currency", func(c *Config) { c.Account.Currency = "XXQ" }, "account.currency"},
		{"store path", func(c *Config) { c.Store.Path = "" }, "store.path"},
		{"http url", func(c *Config) { c.Remote.Kind = RemoteHTTP; c.Remote.URL = "docs" }, "remote.url"},
		{"postgres dsn", func(c *Config) { c.Remote.Kind = RemotePostgres }, "remote.dsn"},
		{"batch size", func(c *Config) { c.Sync.BatchSize = 0 }, "sync.page_size"},
		{"attempts", func(c *Config) { c.Sync.MaxAttempts = 0 }, "sync.max_attempts"},
		{"format", func(c *Config) { c.Ingest.Format = "xml" }, "ingest.format"},
		{"method", func(c *Config) { c.Valuation.Method = "lifo" }, "valuation.method"},
		{"duration", func(c *Config) { c.Sync.Interval = "often" }, "sync.interval"},
		{"negative duration", func(c *Config) { c.Store.Retention = "-1h" }, "store.retention"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("TRACKER_REMOTE_TOKEN=from-file\nTRACKER_ACCOUNT=from-file\n"), 0600))

	t.Setenv("TRACKER_ACCOUNT", "from-env")
	t.Setenv("TRACKER_SYNC_BATCH_SIZE", "7")
	t.Setenv("TRACKER_KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("TRACKER_REMOTE_TOKEN", "")
	os.Unsetenv("TRACKER_REMOTE_TOKEN")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(envFile))
	// godotenv leaves variables it set behind
	t.Cleanup(func() { os.Unsetenv("TRACKER_REMOTE_TOKEN") })

	assert.Equal(t, "from-env", cfg.Account.ID)
	assert.Equal(t, "from-file", cfg.Remote.Token)
	assert.Equal(t, 7, cfg.Sync.BatchSize)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Status.Brokers)

	require.NoError(t, Default().ApplyEnv(filepath.Join(dir, "absent.env")))

	t.Setenv("TRACKER_SYNC_MAX_ATTEMPTS", "many")
	assert.ErrorContains(t, Default().ApplyEnv(envFile), "TRACKER_SYNC_MAX_ATTEMPTS")
}

func TestDuration(t *testing.T) {
	d, err := Duration("")
	require.NoError(t, err)
	assert.Zero(t, d)

	d, err = Duration("90m")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, d)
	assert.Equal(t, 24*time.Hour, MustDuration(Default().Valuation.ReturnStep))

	assert.Panics(t, func() { MustDuration("soon") })
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := LogConfig{Level: "debug", Format: "json"}.newLogger(&buf)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	logger.WithField("collection", "transactions").Debug("hello")
	assert.Contains(t, buf.String(), `"collection":"transactions"`)

	_, err = LogConfig{Level: "chatty"}.NewLogger()
	assert.Error(t, err)
}
