package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"math"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/tracker/market"
)

// CachePrices upserts snapshots keyed by (instrument, time). When a key
// already exists, or repeats within the batch, the latest ingestion wins.
// The batch is applied atomically.
func (s *Store) CachePrices(snaps []market.PriceSnapshot) (int, error) {
	for i, p := range snaps {
		if p.Instrument == "" || p.Time.IsZero() {
			return 0, fmt.Errorf("cache prices: snapshot %d: missing instrument or time", i)
		}
	}
	if len(snaps) == 0 {
		return 0, nil
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	seq := s.ingestSeq
	err := s.inTx(func(tx *sqlx.Tx) error {
		for _, p := range snaps {
			seq++
			if _, err := tx.Exec(`
				INSERT INTO prices (instrument, time, price, source, ingested)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(instrument, time) DO UPDATE SET
					price = excluded.price,
					source = excluded.source,
					ingested = excluded.ingested`,
				p.Instrument, nanos(p.Time), p.Price.String(), p.Source, seq); err != nil {
				return fmt.Errorf("upsert %s@%s: %w", p.Instrument, p.Time.Format(time.RFC3339), err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("cache prices: %w", err)
	}
	s.ingestSeq = seq

	s.log.WithField("count", len(snaps)).Debug("prices cached")
	return len(snaps), nil
}

// SnapshotPrices returns a lazy sequence of an instrument's snapshots in
// the range, ordered by time. Rows are read a page at a time, and every
// range over the sequence starts a fresh read, so it can be restarted.
func (s *Store) SnapshotPrices(instrument string, r market.Range) iter.Seq2[market.PriceSnapshot, error] {
	lo := int64(math.MinInt64)
	if !r.From.IsZero() {
		lo = nanos(r.From) - 1
	}
	hi := int64(math.MaxInt64)
	if !r.To.IsZero() {
		hi = nanos(r.To)
	}

	return func(yield func(market.PriceSnapshot, error) bool) {
		after := lo
		for {
			var rows []priceRow
			err := s.db.Select(&rows, `
				SELECT instrument, time, price, source, ingested
				FROM prices
				WHERE instrument = ? AND time > ? AND time < ?
				ORDER BY time ASC
				LIMIT ?`, instrument, after, hi, s.pageSize)
			if err != nil {
				yield(market.PriceSnapshot{}, fmt.Errorf("snapshot prices %s: %w", instrument, err))
				return
			}

			for _, row := range rows {
				p, err := row.snapshot()
				if err != nil {
					s.log.WithFields(logrus.Fields{
						"instrument": row.Instrument,
						"time":       row.Time,
					}).WithError(err).Warn("skipping unreadable price")
					continue
				}
				if !yield(p, nil) {
					return
				}
			}
			if len(rows) < s.pageSize {
				return
			}
			after = rows[len(rows)-1].Time
		}
	}
}

// Prices collects SnapshotPrices into a slice.
func (s *Store) Prices(instrument string, r market.Range) ([]market.PriceSnapshot, error) {
	var out []market.PriceSnapshot
	for p, err := range s.SnapshotPrices(instrument, r) {
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// LatestPrice returns the newest snapshot at or before at.
func (s *Store) LatestPrice(instrument string, at time.Time) (market.PriceSnapshot, bool, error) {
	var row priceRow
	err := s.db.Get(&row, `
		SELECT instrument, time, price, source, ingested
		FROM prices
		WHERE instrument = ? AND time <= ?
		ORDER BY time DESC
		LIMIT 1`, instrument, nanos(at))
	if errors.Is(err, sql.ErrNoRows) {
		return market.PriceSnapshot{}, false, nil
	}
	if err != nil {
		return market.PriceSnapshot{}, false, fmt.Errorf("latest price %s: %w", instrument, err)
	}
	p, err := row.snapshot()
	if err != nil {
		return market.PriceSnapshot{}, false, fmt.Errorf("latest price %s: %w", instrument, err)
	}
	return p, true, nil
}

// PriceInstruments lists the instruments that have cached prices.
func (s *Store) PriceInstruments() ([]string, error) {
	var out []string
	if err := s.db.Select(&out, `SELECT DISTINCT instrument FROM prices ORDER BY instrument`); err != nil {
		return nil, fmt.Errorf("price instruments: %w", err)
	}
	return out, nil
}
