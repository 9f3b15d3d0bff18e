package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/tracker/config"
	"github.com/rustyeddy/tracker/ingest"
	"github.com/rustyeddy/tracker/journal"
	"github.com/rustyeddy/tracker/notify"
	"github.com/rustyeddy/tracker/remote"
	"github.com/rustyeddy/tracker/remote/httpdoc"
	"github.com/rustyeddy/tracker/remote/memory"
	"github.com/rustyeddy/tracker/remote/postgres"
	"github.com/rustyeddy/tracker/service"
	"github.com/rustyeddy/tracker/syncer"
	"github.com/rustyeddy/tracker/valuation"
)

// RootConfig carries the persistent flags.
type RootConfig struct {
	ConfigPath string
	DBPath     string
	LogLevel   string
	EnvFile    string
}

// load resolves the configuration: defaults or the config file, then
// .env and TRACKER_* variables, then flags.
func (rc *RootConfig) load() (*config.Config, error) {
	cfg := config.Default()
	if rc.ConfigPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(rc.ConfigPath); err != nil {
			return nil, err
		}
	}

	var files []string
	if rc.EnvFile != "" {
		files = append(files, rc.EnvFile)
	}
	if err := cfg.ApplyEnv(files...); err != nil {
		return nil, err
	}

	if rc.DBPath != "" {
		cfg.Store.Path = rc.DBPath
	}
	if rc.LogLevel != "" {
		cfg.Log.Level = rc.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// app is everything a command needs, opened from the configuration.
type app struct {
	cfg     *config.Config
	log     *logrus.Logger
	store   *journal.Store
	remote  remote.Store
	svc     *service.Service
	closers []func() error
}

// open loads the configuration, applies per-command overrides and opens
// the app.
func (rc *RootConfig) open(ctx context.Context, overrides ...func(*config.Config)) (*app, error) {
	cfg, err := rc.load()
	if err != nil {
		return nil, err
	}
	if len(overrides) > 0 {
		for _, o := range overrides {
			o(cfg)
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
	}
	log, err := cfg.Log.NewLogger()
	if err != nil {
		return nil, err
	}
	return openApp(ctx, cfg, log)
}

func openApp(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	store, err := journal.Open(cfg.Store.Path, journal.Options{Logger: log, PageSize: cfg.Store.PageSize})
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	for _, sk := range store.Report().Skipped {
		log.WithFields(logrus.Fields{"table": sk.Table, "id": sk.ID}).WithError(sk.Err).Warn("skipped unreadable record")
	}

	rs, err := a.openRemote(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.remote = rs

	var eng *syncer.Engine
	if rs != nil {
		pubs := []syncer.StatusPublisher{syncer.LogPublisher{Log: log}}
		if len(cfg.Status.Brokers) > 0 {
			kp := notify.NewPublisher(cfg.Status.Brokers, cfg.Status.Topic, log)
			pubs = append(pubs, kp)
			a.closers = append(a.closers, kp.Close)
		}
		eng = syncer.New(store, rs, syncer.Options{
			Collection:     cfg.Sync.Collection,
			PageSize:       cfg.Sync.PageSize,
			BatchSize:      cfg.Sync.BatchSize,
			MaxAttempts:    cfg.Sync.MaxAttempts,
			InitialBackoff: config.MustDuration(cfg.Sync.InitialBackoff),
			MaxBackoff:     config.MustDuration(cfg.Sync.MaxBackoff),
			Logger:         log,
			Publishers:     pubs,
		})
	}

	// Validate has already accepted both
	method, _ := valuation.ParseCostBasisMethod(cfg.Valuation.Method)
	format, _ := ingest.ParseFormat(cfg.Ingest.Format)

	a.svc = service.New(store, eng, service.Options{
		Account:  cfg.Account.ID,
		Currency: cfg.Account.Currency,
		Method:   method,
		Parser: ingest.Parser{
			Format:        format,
			Path:          cfg.Ingest.Path,
			Instrument:    cfg.Ingest.Instrument,
			Source:        cfg.Ingest.Source,
			MaxFutureSkew: config.MustDuration(cfg.Ingest.MaxFutureSkew),
		},
		FetchToken:   cfg.Ingest.Token,
		FetchTimeout: config.MustDuration(cfg.Ingest.Timeout),
		Logger:       log,
	})
	// closers run in reverse, so sync stops before the store closes
	a.closers = append(a.closers, a.svc.Close)
	return a, nil
}

func (a *app) openRemote(ctx context.Context) (remote.Store, error) {
	rc := a.cfg.Remote
	switch rc.Kind {
	case "", config.RemoteNone:
		return nil, nil
	case config.RemoteMemory:
		return memory.New(memory.WithClock(time.Now)), nil
	case config.RemoteHTTP:
		return httpdoc.NewClient(strings.TrimRight(rc.URL, "/"), rc.Token, config.MustDuration(rc.Timeout)), nil
	case config.RemotePostgres:
		pg, err := postgres.Open(ctx, rc.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pg.Close)
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown remote kind %q", rc.Kind)
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
