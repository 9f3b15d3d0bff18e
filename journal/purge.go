package journal

import (
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/tracker/market"
)

// RetentionPolicy bounds what Purge may remove.
type RetentionPolicy struct {
	MaxAge time.Duration
}

type PurgeResult struct {
	Cutoff       time.Time
	Transactions int
	Prices       int64
	// Tombstones counts purged ids forgotten because every cursor has
	// moved past their revision.
	Tombstones int64
}

// Purge drops history older than the retention window without changing
// the current portfolio. For each instrument it removes the longest prefix
// of Synced transactions before the cutoff that brings the position back
// to exactly zero. A Pending or Conflicted transaction ends the prefix.
// Price snapshots before the cutoff are dropped except the newest one at or
// before it.
//
// Purged ids are remembered so a remote that delivers them again does not
// bring them back, until every sync cursor is past the purged revision.
func (s *Store) Purge(p RetentionPolicy) (PurgeResult, error) {
	if p.MaxAge <= 0 {
		return PurgeResult{}, fmt.Errorf("purge: retention max age must be positive")
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	res := PurgeResult{Cutoff: s.now().UTC().Add(-p.MaxAge)}
	drop := s.purgeable(res.Cutoff)
	now := nanos(s.now())

	err := s.inTx(func(tx *sqlx.Tx) error {
		for _, old := range drop {
			if _, err := tx.Exec(`DELETE FROM transactions WHERE id = ?`, old.ID); err != nil {
				return fmt.Errorf("delete %s: %w", old.ID, err)
			}
			if _, err := tx.Exec(`INSERT OR REPLACE INTO purged (id, revision, purged) VALUES (?, ?, ?)`,
				old.ID, old.Revision, now); err != nil {
				return fmt.Errorf("tombstone %s: %w", old.ID, err)
			}
		}
		// MIN over no cursors is NULL, which keeps every tombstone
		r, err := tx.Exec(`DELETE FROM purged WHERE revision <= (SELECT MIN(revision) FROM cursors)`)
		if err != nil {
			return fmt.Errorf("release tombstones: %w", err)
		}
		res.Tombstones, _ = r.RowsAffected()

		cut := nanos(res.Cutoff)
		r, err = tx.Exec(`
			DELETE FROM prices
			WHERE time < ?
			AND time < (SELECT MAX(p2.time) FROM prices p2
			            WHERE p2.instrument = prices.instrument AND p2.time <= ?)`, cut, cut)
		if err != nil {
			return fmt.Errorf("delete prices: %w", err)
		}
		res.Prices, _ = r.RowsAffected()
		return nil
	})
	if err != nil {
		return PurgeResult{}, fmt.Errorf("purge: %w", err)
	}

	if err := s.loadPurged(); err != nil {
		return PurgeResult{}, fmt.Errorf("purge: %w", err)
	}
	if len(drop) > 0 {
		gone := make(map[string]bool, len(drop))
		for _, old := range drop {
			gone[old.ID] = true
		}
		s.mu.Lock()
		kept := s.txs[:0:0]
		for _, tx := range s.txs {
			if !gone[tx.ID] {
				kept = append(kept, tx)
			}
		}
		s.txs = kept
		s.index = make(map[string]int, len(kept))
		for i, tx := range kept {
			s.index[tx.ID] = i
		}
		s.mu.Unlock()
	}
	res.Transactions = len(drop)

	s.log.WithFields(logrus.Fields{
		"cutoff":       res.Cutoff,
		"transactions": res.Transactions,
		"prices":       res.Prices,
		"tombstones":   res.Tombstones,
	}).Info("journal purged")
	return res, nil
}

func (s *Store) purgeable(cutoff time.Time) []market.Transaction {
	s.mu.RLock()
	byInstrument := make(map[string][]market.Transaction)
	for _, tx := range s.txs {
		if tx.Time.Before(cutoff) {
			byInstrument[tx.Instrument] = append(byInstrument[tx.Instrument], tx)
		}
	}
	s.mu.RUnlock()

	var drop []market.Transaction
	for _, txs := range byInstrument {
		sort.Slice(txs, func(i, j int) bool { return txs[i].Before(txs[j]) })

		qty := decimal.Zero
		flat := 0
		for i, tx := range txs {
			if tx.State != market.Synced || !tx.Time.Before(cutoff) {
				break
			}
			qty = qty.Add(tx.Quantity)
			if qty.IsZero() {
				flat = i + 1
			}
		}
		drop = append(drop, txs[:flat]...)
	}
	sort.Slice(drop, func(i, j int) bool { return drop[i].ID < drop[j].ID })
	return drop
}
