// Package service wires the journal, the sync engine, valuation and price
// ingestion into the operations callers use.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/tracker/ingest"
	"github.com/rustyeddy/tracker/journal"
	"github.com/rustyeddy/tracker/market"
	"github.com/rustyeddy/tracker/pkg/id"
	"github.com/rustyeddy/tracker/syncer"
	"github.com/rustyeddy/tracker/valuation"
)

// ErrNoRemote is returned by sync operations when no remote is configured.
var ErrNoRemote = errors.New("no remote store configured")

type Options struct {
	Account  string
	Currency string
	Method   valuation.CostBasisMethod
	Parser   ingest.Parser
	// FetchToken and FetchTimeout configure IngestURL.
	FetchToken   string
	FetchTimeout time.Duration
	Logger       logrus.FieldLogger
	Now          func() time.Time
}

type Service struct {
	store    *journal.Store
	sync     *syncer.Engine
	engine   valuation.Engine
	parser   ingest.Parser
	fetcher  *ingest.Fetcher
	account  string
	currency string
	log      logrus.FieldLogger
	now      func() time.Time
	loops    sync.WaitGroup
}

// New creates a service over store. sync may be nil when the tracker runs
// without a remote.
func New(store *journal.Store, sync *syncer.Engine, opts Options) *Service {
	if opts.Account == "" {
		opts.Account = "default"
	}
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Parser.Now == nil {
		opts.Parser.Now = opts.Now
	}
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}
	return &Service{
		store:    store,
		sync:     sync,
		engine:   valuation.New(opts.Method),
		parser:   opts.Parser,
		fetcher:  ingest.NewFetcher(opts.Parser, opts.FetchToken, opts.FetchTimeout),
		account:  opts.Account,
		currency: opts.Currency,
		log:      log,
		now:      opts.Now,
	}
}

func (s *Service) Account() string  { return s.account }
func (s *Service) Currency() string { return s.currency }

// Store exposes the underlying journal.
func (s *Service) Store() *journal.Store { return s.store }

// Record appends a new local transaction with a fresh id. A zero at means
// now.
func (s *Service) Record(instrument string, quantity, price decimal.Decimal, at time.Time) (market.Transaction, error) {
	if at.IsZero() {
		at = s.now()
	}
	tx, err := s.store.Append(market.Transaction{
		ID:         id.New(),
		Account:    s.account,
		Instrument: instrument,
		Quantity:   quantity,
		Price:      price,
		Time:       at.UTC(),
	})
	if err != nil {
		return market.Transaction{}, err
	}
	s.log.WithFields(logrus.Fields{
		"id":         tx.ID,
		"instrument": tx.Instrument,
		"quantity":   tx.Quantity.String(),
	}).Info("transaction recorded")
	return tx, nil
}

// Ingest parses raw with the configured parser and caches the result. A
// payload that fails to parse caches nothing.
func (s *Service) Ingest(raw []byte) (int, error) {
	return s.ingest(s.parser, raw)
}

// IngestFile ingests a file; with automatic format detection the file
// extension is used as a hint.
func (s *Service) IngestFile(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	p := s.parser
	if p.Format == ingest.FormatAuto {
		p.Format = ingest.DetectFormat("", filepath.Base(path), raw)
	}
	return s.ingest(p, raw)
}

// IngestURL fetches a price payload and caches it.
func (s *Service) IngestURL(ctx context.Context, url string) (int, error) {
	snaps, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return 0, err
	}
	return s.cache(snaps)
}

// IngestWith is Ingest with a caller-supplied parser.
func (s *Service) IngestWith(p ingest.Parser, raw []byte) (int, error) {
	if p.Now == nil {
		p.Now = s.now
	}
	return s.ingest(p, raw)
}

func (s *Service) ingest(p ingest.Parser, raw []byte) (int, error) {
	snaps, err := p.Parse(raw)
	if err != nil {
		return 0, err
	}
	return s.cache(snaps)
}

func (s *Service) cache(snaps []market.PriceSnapshot) (int, error) {
	n, err := s.store.CachePrices(snaps)
	if err != nil {
		return 0, err
	}
	s.log.WithField("snapshots", n).Info("prices cached")
	return n, nil
}

// Holdings replays the log up to at.
func (s *Service) Holdings(at time.Time) market.PortfolioState {
	return s.engine.State(s.store.Transactions(), at)
}

// Portfolio values the holdings at at from the cached prices.
func (s *Service) Portfolio(at time.Time) (valuation.Valuation, error) {
	txs := s.store.Transactions()
	book, err := s.priceBook(txs, at)
	if err != nil {
		return valuation.Valuation{}, err
	}
	return s.engine.Value(txs, book, at), nil
}

// Returns computes a return series over boundaries from, from+step, ... to.
func (s *Service) Returns(from, to time.Time, step time.Duration) ([]valuation.Point, error) {
	if step <= 0 {
		return nil, fmt.Errorf("returns: step must be positive")
	}
	return s.ReturnsAt(valuation.Every(from, to, step))
}

// ReturnsAt computes a return series over caller-chosen boundaries.
func (s *Service) ReturnsAt(boundaries []time.Time) ([]valuation.Point, error) {
	if len(boundaries) == 0 {
		return nil, nil
	}
	txs := s.store.Transactions()
	book, err := s.priceBook(txs, boundaries[len(boundaries)-1])
	if err != nil {
		return nil, err
	}
	return s.engine.Returns(txs, book, boundaries)
}

// priceBook loads the cached history, up to and including to, of every
// instrument traded by then.
func (s *Service) priceBook(txs []market.Transaction, to time.Time) (*valuation.PriceBook, error) {
	seen := make(map[string]bool)
	var instruments []string
	for _, tx := range txs {
		if tx.Time.After(to) || seen[tx.Instrument] {
			continue
		}
		seen[tx.Instrument] = true
		instruments = append(instruments, tx.Instrument)
	}
	sort.Strings(instruments)

	var snaps []market.PriceSnapshot
	for _, inst := range instruments {
		for snap, err := range s.store.SnapshotPrices(inst, market.Until(to)) {
			if err != nil {
				return nil, fmt.Errorf("load prices for %s: %w", inst, err)
			}
			snaps = append(snaps, snap)
		}
	}
	return valuation.NewPriceBook(snaps), nil
}

// Display formats an amount in the account currency.
func (s *Service) Display(amount decimal.Decimal) string {
	return valuation.Display(amount, s.currency)
}

func (s *Service) Conflicts() []market.Conflict {
	return s.store.Conflicts()
}

func (s *Service) Purge(maxAge time.Duration) (journal.PurgeResult, error) {
	res, err := s.store.Purge(journal.RetentionPolicy{MaxAge: maxAge})
	if err != nil {
		return journal.PurgeResult{}, err
	}
	s.log.WithFields(logrus.Fields{
		"cutoff":       res.Cutoff,
		"transactions": res.Transactions,
		"prices":       res.Prices,
	}).Info("journal purged")
	return res, nil
}

// Syncer returns the sync engine, nil without a remote.
func (s *Service) Syncer() *syncer.Engine { return s.sync }

func (s *Service) Sync(ctx context.Context) (syncer.Result, error) {
	if s.sync == nil {
		return syncer.Result{}, ErrNoRemote
	}
	return s.sync.Sync(ctx)
}

// SyncStatus reports the current phase, Idle without a remote.
func (s *Service) SyncStatus() syncer.Status {
	if s.sync == nil {
		return syncer.Idle
	}
	return s.sync.Status()
}

// Start runs periodic sync in the background until ctx is done.
func (s *Service) Start(ctx context.Context, interval time.Duration) {
	if s.sync == nil || interval <= 0 {
		return
	}
	s.loops.Add(1)
	go func() {
		defer s.loops.Done()
		s.sync.Run(ctx, interval)
		s.log.Info("sync loop stopping")
	}()
}

// Close stops the sync engine and waits for background loops, so the
// store can be closed safely afterwards.
func (s *Service) Close() error {
	if s.sync == nil {
		return nil
	}
	err := s.sync.Close()
	s.loops.Wait()
	return err
}
