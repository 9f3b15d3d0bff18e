package journal

import (
	"errors"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/tracker/market"
)

// ApplyResult counts what ApplyRemote did with a batch.
type ApplyResult struct {
	Inserted  int
	Synced    int
	Unchanged int
	Rejected  int
	Conflicts []market.Conflict
}

func (r *ApplyResult) add(o ApplyResult) {
	r.Inserted += o.Inserted
	r.Synced += o.Synced
	r.Unchanged += o.Unchanged
	r.Rejected += o.Rejected
	r.Conflicts = append(r.Conflicts, o.Conflicts...)
}

// Append records a new local transaction as Pending.
func (s *Store) Append(tx market.Transaction) (market.Transaction, error) {
	if err := tx.Validate(); err != nil {
		return market.Transaction{}, err
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	s.mu.RLock()
	_, exists := s.index[tx.ID]
	gone := s.purged[tx.ID]
	s.mu.RUnlock()
	if exists || gone {
		return market.Transaction{}, fmt.Errorf("append %s: %w", tx.ID, ErrDuplicateID)
	}

	tx.State = market.Pending
	tx.Revision = 0
	tx.Time = tx.Time.UTC()
	tx.Seq = s.lastSeq + 1

	if err := insertTx(s.db, tx); err != nil {
		if isUniqueViolation(err) {
			return market.Transaction{}, fmt.Errorf("append %s: %w", tx.ID, ErrDuplicateID)
		}
		return market.Transaction{}, fmt.Errorf("append %s: %w", tx.ID, err)
	}

	s.mu.Lock()
	s.lastSeq = tx.Seq
	s.index[tx.ID] = len(s.txs)
	s.txs = append(s.txs, tx)
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"id": tx.ID, "instrument": tx.Instrument}).Debug("transaction appended")
	return tx, nil
}

// ApplyRemote merges remote-confirmed transactions into the log.
//
//   - unseen ids are inserted as Synced
//   - a local copy with the same content becomes Synced and adopts the
//     remote time and revision
//   - a local copy with different content becomes Conflicted and the remote
//     version is staged next to it
//   - a local row that could not be decoded is replaced by the remote copy
//   - ids removed by Purge are ignored
//
// Replaying a batch that was already applied changes nothing.
func (s *Store) ApplyRemote(txs []market.Transaction) (ApplyResult, error) {
	return s.apply(txs, nil)
}

// ApplyRemoteBatch is ApplyRemote plus advancing the collection cursor, in
// one local transaction: either both land or neither does.
func (s *Store) ApplyRemoteBatch(cur market.SyncCursor, txs []market.Transaction) (ApplyResult, error) {
	return s.apply(txs, &cur)
}

type change struct {
	tx       market.Transaction
	inserted bool
	repair   bool // overwrite an unreadable row with the same id
}

func (s *Store) apply(batch []market.Transaction, cur *market.SyncCursor) (ApplyResult, error) {
	var res ApplyResult

	s.wmu.Lock()
	defer s.wmu.Unlock()

	changes := make(map[string]*change)
	var order []string
	var staged []market.Conflict
	seq := s.lastSeq
	now := s.now().UTC()

	lookup := func(id string) (market.Transaction, bool) {
		if c, ok := changes[id]; ok {
			return c.tx, true
		}
		s.mu.RLock()
		defer s.mu.RUnlock()
		if i, ok := s.index[id]; ok {
			return s.txs[i], true
		}
		return market.Transaction{}, false
	}
	record := func(tx market.Transaction, inserted bool) {
		if c, ok := changes[tx.ID]; ok {
			c.tx = tx
			return
		}
		s.mu.RLock()
		repair := inserted && s.corrupt[tx.ID]
		s.mu.RUnlock()
		changes[tx.ID] = &change{tx: tx, inserted: inserted, repair: repair}
		order = append(order, tx.ID)
	}

	for _, r := range batch {
		if err := r.Validate(); err != nil {
			res.Rejected++
			s.log.WithError(err).Warn("rejecting remote transaction")
			continue
		}
		r.Time = r.Time.UTC()

		s.mu.RLock()
		gone := s.purged[r.ID]
		s.mu.RUnlock()
		if gone {
			res.Unchanged++
			continue
		}

		local, ok := lookup(r.ID)
		switch {
		case !ok:
			seq++
			r.State = market.Synced
			r.Seq = seq
			record(r, true)
			res.Inserted++

		case local.State == market.Conflicted:
			res.Unchanged++

		case local.SameContent(r):
			if local.State == market.Synced && local.Time.Equal(r.Time) && local.Revision == r.Revision {
				res.Unchanged++
				continue
			}
			local.State = market.Synced
			local.Time = r.Time
			local.Revision = r.Revision
			record(local, false)
			res.Synced++

		default:
			c := market.Conflict{ID: r.ID, Local: local, Remote: r, Detected: now}
			c.Remote.State = market.Synced
			local.State = market.Conflicted
			c.Local.State = market.Conflicted
			record(local, false)
			staged = append(staged, c)
			res.Conflicts = append(res.Conflicts, c)
		}
	}

	if len(order) == 0 && cur == nil {
		return res, nil
	}

	err := s.inTx(func(tx *sqlx.Tx) error {
		for _, id := range order {
			c := changes[id]
			if c.repair {
				if _, err := tx.Exec(`DELETE FROM transactions WHERE id = ?`, id); err != nil {
					return fmt.Errorf("repair %s: %w", id, err)
				}
			}
			if c.inserted {
				if err := insertTx(tx, c.tx); err != nil {
					return fmt.Errorf("insert %s: %w", id, err)
				}
				continue
			}
			if _, err := tx.Exec(`UPDATE transactions SET state = ?, time = ?, revision = ? WHERE id = ?`,
				c.tx.State.String(), nanos(c.tx.Time), c.tx.Revision, id); err != nil {
				return fmt.Errorf("update %s: %w", id, err)
			}
		}
		for _, c := range staged {
			if err := insertConflict(tx, c); err != nil {
				return err
			}
		}
		if cur != nil {
			return setCursor(tx, *cur, now)
		}
		return nil
	})
	if err != nil {
		return ApplyResult{}, fmt.Errorf("apply remote: %w", err)
	}

	s.mu.Lock()
	for _, id := range order {
		c := changes[id]
		if c.inserted {
			if c.repair {
				delete(s.corrupt, id)
				s.log.WithField("id", id).Info("unreadable record replaced by remote copy")
			}
			s.index[id] = len(s.txs)
			s.txs = append(s.txs, c.tx)
			continue
		}
		s.txs[s.index[id]] = c.tx
	}
	for _, c := range staged {
		s.conflicts[c.ID] = c
	}
	s.lastSeq = seq
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"inserted":  res.Inserted,
		"synced":    res.Synced,
		"unchanged": res.Unchanged,
		"conflicts": len(res.Conflicts),
	}).Debug("remote batch applied")
	return res, nil
}

// Refuse records that the remote will not accept a Pending transaction.
// The transaction becomes Conflicted, so later pushes skip it, and the
// reason is staged as a conflict for a decision.
func (s *Store) Refuse(id, reason string) (market.Conflict, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	s.mu.RLock()
	i, ok := s.index[id]
	var local market.Transaction
	if ok {
		local = s.txs[i]
	}
	s.mu.RUnlock()
	if !ok {
		return market.Conflict{}, fmt.Errorf("refuse %q: %w", id, ErrNotFound)
	}
	if local.State != market.Pending {
		return market.Conflict{}, fmt.Errorf("refuse %q: transaction is %s", id, local.State)
	}
	if reason == "" {
		reason = "refused by remote"
	}

	local.State = market.Conflicted
	c := market.Conflict{ID: id, Local: local, Reason: reason, Detected: s.now().UTC()}
	err := s.inTx(func(tx *sqlx.Tx) error {
		if _, err := tx.Exec(`UPDATE transactions SET state = ? WHERE id = ?`, local.State.String(), id); err != nil {
			return fmt.Errorf("update %s: %w", id, err)
		}
		return insertConflict(tx, c)
	})
	if err != nil {
		return market.Conflict{}, fmt.Errorf("refuse: %w", err)
	}

	s.mu.Lock()
	s.txs[i] = local
	s.conflicts[id] = c
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"id": id, "reason": reason}).Warn("transaction refused by remote")
	return c, nil
}

// Get returns a copy of the transaction with the given id.
func (s *Store) Get(id string) (market.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return market.Transaction{}, fmt.Errorf("transaction %q: %w", id, ErrNotFound)
	}
	return s.txs[i], nil
}

// Transactions returns a copy of the whole log in creation order.
func (s *Store) Transactions() []market.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]market.Transaction(nil), s.txs...)
}

// Pending returns the transactions not yet acknowledged by the remote
// store, in creation order.
func (s *Store) Pending() []market.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []market.Transaction
	for _, tx := range s.txs {
		if tx.State == market.Pending {
			out = append(out, tx)
		}
	}
	return out
}

// Conflicts returns the staged conflicts ordered by id.
func (s *Store) Conflicts() []market.Conflict {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]market.Conflict, 0, len(s.conflicts))
	for _, c := range s.conflicts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) inTx(fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func insertTx(e sqlx.Execer, t market.Transaction) error {
	_, err := e.Exec(`
		INSERT INTO transactions
		(seq, id, account, instrument, quantity, price, time, state, revision)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Seq, t.ID, t.Account, t.Instrument, t.Quantity.String(), t.Price.String(),
		nanos(t.Time), t.State.String(), t.Revision,
	)
	return err
}

func insertConflict(e sqlx.Execer, c market.Conflict) error {
	r := c.Remote
	var at int64
	if !r.Time.IsZero() {
		at = nanos(r.Time)
	}
	_, err := e.Exec(`
		INSERT OR REPLACE INTO conflicts
		(id, remote_account, remote_instrument, remote_quantity, remote_price, remote_time, remote_revision, reason, detected)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, r.Account, r.Instrument, r.Quantity.String(), r.Price.String(),
		at, r.Revision, c.Reason, nanos(c.Detected),
	)
	if err != nil {
		return fmt.Errorf("stage conflict %s: %w", c.ID, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
