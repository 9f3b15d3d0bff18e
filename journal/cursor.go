package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/rustyeddy/tracker/market"
)

// Cursor returns the sync watermark for a collection. An unknown
// collection has revision 0.
func (s *Store) Cursor(collection string) (market.SyncCursor, error) {
	var row struct {
		Revision int64 `db:"revision"`
		Updated  int64 `db:"updated"`
	}
	err := s.db.Get(&row, `SELECT revision, updated FROM cursors WHERE collection = ?`, collection)
	if errors.Is(err, sql.ErrNoRows) {
		return market.SyncCursor{Collection: collection}, nil
	}
	if err != nil {
		return market.SyncCursor{}, fmt.Errorf("cursor %q: %w", collection, err)
	}
	return market.SyncCursor{
		Collection: collection,
		Revision:   row.Revision,
		Updated:    fromNanos(row.Updated),
	}, nil
}

// SetCursor moves the watermark forward. It never moves backwards.
func (s *Store) SetCursor(cur market.SyncCursor) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.inTx(func(tx *sqlx.Tx) error {
		return setCursor(tx, cur, s.now())
	})
}

func setCursor(e sqlx.Execer, cur market.SyncCursor, now time.Time) error {
	if cur.Collection == "" {
		return fmt.Errorf("cursor: missing collection")
	}
	_, err := e.Exec(`
		INSERT INTO cursors (collection, revision, updated) VALUES (?, ?, ?)
		ON CONFLICT(collection) DO UPDATE SET
			revision = MAX(cursors.revision, excluded.revision),
			updated = excluded.updated`,
		cur.Collection, cur.Revision, nanos(now))
	if err != nil {
		return fmt.Errorf("set cursor %q: %w", cur.Collection, err)
	}
	return nil
}
