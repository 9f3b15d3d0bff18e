// Package journal is the on-device store: an append-only transaction log,
// a keyed price cache and the remote sync cursors, persisted in SQLite.
//
// The log is mirrored in memory as an indexed arena (a slice in creation
// order plus an id→index map). The arena is only touched after the SQLite
// transaction that carries a change has committed, so readers never see
// uncommitted writes. Readers always receive copies.
package journal

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/tracker/market"
)

var (
	// ErrDuplicateID is returned by Append when the id is already in the log.
	ErrDuplicateID = errors.New("duplicate transaction id")
	// ErrNotFound is returned for lookups of unknown ids.
	ErrNotFound = errors.New("not found")
)

// Options tune a Store. The zero value is usable.
type Options struct {
	Logger   logrus.FieldLogger
	Now      func() time.Time
	PageSize int // price rows fetched per page by SnapshotPrices
}

// SkippedRecord identifies a persisted row that could not be decoded.
type SkippedRecord struct {
	Table string
	ID    string
	Err   error
}

// LoadReport summarises what Open read back from disk.
type LoadReport struct {
	Transactions int
	Conflicts    int
	Skipped      []SkippedRecord
}

type Store struct {
	db       *sqlx.DB
	log      logrus.FieldLogger
	now      func() time.Time
	pageSize int

	// wmu serialises writers; mu guards the arena against readers.
	wmu sync.Mutex
	mu  sync.RWMutex

	txs       []market.Transaction
	index     map[string]int
	conflicts map[string]market.Conflict
	// ids whose rows could not be decoded; a remote copy repairs them
	corrupt map[string]bool
	// ids removed by Purge; redelivered copies are ignored
	purged    map[string]bool
	lastSeq   int64
	ingestSeq int64

	report LoadReport
}

// Open opens (creating if needed) the SQLite store at path and loads the
// transaction log. Use ":memory:" for a throwaway store.
func Open(path string, opts Options) (*Store, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// One connection: a single writer, and ":memory:" databases stay shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:        db,
		log:       opts.Logger,
		now:       opts.Now,
		pageSize:  opts.PageSize,
		index:     make(map[string]int),
		conflicts: make(map[string]market.Conflict),
		corrupt:   make(map[string]bool),
		purged:    make(map[string]bool),
	}
	if s.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		s.log = l
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.pageSize <= 0 {
		s.pageSize = 500
	}

	if err := s.load(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Report returns what was loaded (and skipped) when the store was opened.
func (s *Store) Report() LoadReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.report
	r.Skipped = append([]SkippedRecord(nil), s.report.Skipped...)
	return r
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) load() error {
	var rows []txRow
	if err := s.db.Select(&rows, `
		SELECT seq, id, account, instrument, quantity, price, time, state, revision
		FROM transactions
		ORDER BY seq ASC`); err != nil {
		return fmt.Errorf("load transactions: %w", err)
	}

	for _, r := range rows {
		if r.Seq > s.lastSeq {
			s.lastSeq = r.Seq
		}
		tx, err := r.transaction()
		if err != nil {
			s.skip("transactions", r.ID.String, err)
			if r.ID.String != "" {
				s.corrupt[r.ID.String] = true
			}
			continue
		}
		s.index[tx.ID] = len(s.txs)
		s.txs = append(s.txs, tx)
	}
	s.report.Transactions = len(s.txs)

	var crows []conflictRow
	if err := s.db.Select(&crows, `
		SELECT id, remote_account, remote_instrument, remote_quantity, remote_price,
		       remote_time, remote_revision, reason, detected
		FROM conflicts`); err != nil {
		return fmt.Errorf("load conflicts: %w", err)
	}
	for _, r := range crows {
		c, err := r.conflict()
		if err != nil {
			s.skip("conflicts", r.ID, err)
			continue
		}
		i, ok := s.index[c.ID]
		if !ok {
			s.skip("conflicts", c.ID, fmt.Errorf("no local transaction"))
			continue
		}
		c.Local = s.txs[i]
		s.conflicts[c.ID] = c
	}
	s.report.Conflicts = len(s.conflicts)

	if err := s.loadPurged(); err != nil {
		return err
	}

	if err := s.db.Get(&s.ingestSeq, `SELECT COALESCE(MAX(ingested), 0) FROM prices`); err != nil {
		return fmt.Errorf("load price sequence: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"transactions": s.report.Transactions,
		"conflicts":    s.report.Conflicts,
		"skipped":      len(s.report.Skipped),
	}).Debug("journal loaded")
	return nil
}

func migrate(db *sqlx.DB) error {
	for _, m := range migrations {
		var n int
		if err := db.Get(&n, `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column); err != nil {
			return fmt.Errorf("inspect %s: %w", m.table, err)
		}
		if n > 0 {
			continue
		}
		if _, err := db.Exec(m.ddl); err != nil {
			return fmt.Errorf("migrate %s.%s: %w", m.table, m.column, err)
		}
	}
	return nil
}

func (s *Store) loadPurged() error {
	var ids []string
	if err := s.db.Select(&ids, `SELECT id FROM purged`); err != nil {
		return fmt.Errorf("load purged ids: %w", err)
	}
	purged := make(map[string]bool, len(ids))
	for _, id := range ids {
		purged[id] = true
	}
	s.mu.Lock()
	s.purged = purged
	s.mu.Unlock()
	return nil
}

func (s *Store) skip(table, id string, err error) {
	s.report.Skipped = append(s.report.Skipped, SkippedRecord{Table: table, ID: id, Err: err})
	s.log.WithFields(logrus.Fields{"table": table, "id": id}).WithError(err).Warn("skipping unreadable record")
}
