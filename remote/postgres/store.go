// Package postgres is a remote document store kept in a shared Postgres
// database.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tracker/market"
	"github.com/rustyeddy/tracker/remote"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	revision   BIGSERIAL PRIMARY KEY,
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	account    TEXT NOT NULL DEFAULT '',
	instrument TEXT NOT NULL,
	quantity   NUMERIC NOT NULL,
	price      NUMERIC NOT NULL,
	time       TIMESTAMPTZ NOT NULL,
	UNIQUE (collection, id)
);
CREATE INDEX IF NOT EXISTS documents_collection_revision ON documents (collection, revision);
`

type row struct {
	Revision   int64           `db:"revision"`
	ID         string          `db:"id"`
	Account    string          `db:"account"`
	Instrument string          `db:"instrument"`
	Quantity   decimal.Decimal `db:"quantity"`
	Price      decimal.Decimal `db:"price"`
	Time       time.Time       `db:"time"`
}

func (r row) transaction() market.Transaction {
	return market.Transaction{
		ID:         r.ID,
		Account:    r.Account,
		Instrument: r.Instrument,
		Quantity:   r.Quantity,
		Price:      r.Price,
		Time:       r.Time.UTC(),
		State:      market.Synced,
		Revision:   r.Revision,
	}
}

type Store struct {
	db *sqlx.DB
}

// Open connects to dsn and makes sure the documents table exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Pull(ctx context.Context, collection string, after int64, limit int) (remote.Page, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `
		SELECT revision, id, account, instrument, quantity, price, time
		FROM documents
		WHERE collection = $1 AND revision > $2
		ORDER BY revision
		LIMIT $3`

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, collection, after, limit+1); err != nil {
		return remote.Page{}, fmt.Errorf("pull %s: %w", collection, err)
	}

	page := remote.Page{Next: after}
	if len(rows) > limit {
		rows = rows[:limit]
		page.More = true
	}
	for _, r := range rows {
		page.Docs = append(page.Docs, r.transaction())
		page.Next = r.Revision
	}
	return page, nil
}

// Push inserts docs in one transaction. The table lock keeps revisions
// committed in the order they were assigned, so a concurrent reader never
// skips past an uncommitted lower revision.
func (s *Store) Push(ctx context.Context, collection string, docs []market.Transaction) ([]remote.Ack, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `LOCK TABLE documents IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return nil, fmt.Errorf("lock documents: %w", err)
	}

	acks := make([]remote.Ack, 0, len(docs))
	for _, d := range docs {
		if err := d.Validate(); err != nil {
			acks = append(acks, remote.Ack{ID: d.ID, Status: remote.AckRejected, Reason: err.Error()})
			continue
		}

		var saved row
		err := tx.GetContext(ctx, &saved, `
			INSERT INTO documents (collection, id, account, instrument, quantity, price, time)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (collection, id) DO NOTHING
			RETURNING revision, id, account, instrument, quantity, price, time`,
			collection, d.ID, d.Account, d.Instrument, d.Quantity, d.Price, d.Time.UTC())
		switch {
		case err == nil:
			acks = append(acks, remote.Ack{ID: d.ID, Status: remote.AckOK, Revision: saved.Revision, Time: saved.Time.UTC()})
			continue
		case !errors.Is(err, sql.ErrNoRows):
			return nil, fmt.Errorf("insert %s: %w", d.ID, err)
		}

		if err := tx.GetContext(ctx, &saved, `
			SELECT revision, id, account, instrument, quantity, price, time
			FROM documents WHERE collection = $1 AND id = $2`, collection, d.ID); err != nil {
			return nil, fmt.Errorf("load %s: %w", d.ID, err)
		}
		existing := saved.transaction()
		if existing.SameContent(d) {
			acks = append(acks, remote.Ack{ID: d.ID, Status: remote.AckOK, Revision: existing.Revision, Time: existing.Time})
		} else {
			acks = append(acks, remote.Ack{ID: d.ID, Status: remote.AckConflict, Existing: &existing})
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit push: %w", err)
	}
	return acks, nil
}

var _ remote.Store = (*Store)(nil)
