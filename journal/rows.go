package journal

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tracker/market"
)

// Rows are scanned as strings so a single bad value only spoils its own
// record instead of failing the whole query.
type txRow struct {
	Seq        int64          `db:"seq"`
	ID         sql.NullString `db:"id"`
	Account    sql.NullString `db:"account"`
	Instrument sql.NullString `db:"instrument"`
	Quantity   sql.NullString `db:"quantity"`
	Price      sql.NullString `db:"price"`
	Time       sql.NullString `db:"time"`
	State      sql.NullString `db:"state"`
	Revision   sql.NullString `db:"revision"`
}

func (r txRow) transaction() (market.Transaction, error) {
	if r.ID.String == "" {
		return market.Transaction{}, fmt.Errorf("seq %d: empty id", r.Seq)
	}
	qty, err := decimal.NewFromString(r.Quantity.String)
	if err != nil {
		return market.Transaction{}, fmt.Errorf("quantity: %w", err)
	}
	price, err := decimal.NewFromString(r.Price.String)
	if err != nil {
		return market.Transaction{}, fmt.Errorf("price: %w", err)
	}
	ts, err := parseNanos(r.Time.String)
	if err != nil {
		return market.Transaction{}, fmt.Errorf("time: %w", err)
	}
	state, err := market.ParseSyncState(r.State.String)
	if err != nil {
		return market.Transaction{}, err
	}
	rev, err := parseInt(r.Revision.String)
	if err != nil {
		return market.Transaction{}, fmt.Errorf("revision: %w", err)
	}
	return market.Transaction{
		ID:         r.ID.String,
		Account:    r.Account.String,
		Instrument: r.Instrument.String,
		Quantity:   qty,
		Price:      price,
		Time:       ts,
		State:      state,
		Revision:   rev,
		Seq:        r.Seq,
	}, nil
}

type conflictRow struct {
	ID         string         `db:"id"`
	Account    sql.NullString `db:"remote_account"`
	Instrument sql.NullString `db:"remote_instrument"`
	Quantity   sql.NullString `db:"remote_quantity"`
	Price      sql.NullString `db:"remote_price"`
	Time       sql.NullString `db:"remote_time"`
	Revision   sql.NullString `db:"remote_revision"`
	Reason     sql.NullString `db:"reason"`
	Detected   sql.NullString `db:"detected"`
}

func (r conflictRow) conflict() (market.Conflict, error) {
	detected, err := parseNanos(r.Detected.String)
	if err != nil {
		return market.Conflict{}, fmt.Errorf("detected: %w", err)
	}
	if r.Reason.String != "" {
		return market.Conflict{ID: r.ID, Reason: r.Reason.String, Detected: detected}, nil
	}
	remote, err := txRow{
		ID:         sql.NullString{String: r.ID, Valid: true},
		Account:    r.Account,
		Instrument: r.Instrument,
		Quantity:   r.Quantity,
		Price:      r.Price,
		Time:       r.Time,
		State:      sql.NullString{String: market.Synced.String(), Valid: true},
		Revision:   r.Revision,
	}.transaction()
	if err != nil {
		return market.Conflict{}, err
	}
	return market.Conflict{ID: r.ID, Remote: remote, Detected: detected}, nil
}

type priceRow struct {
	Instrument string         `db:"instrument"`
	Time       int64          `db:"time"`
	Price      sql.NullString `db:"price"`
	Source     sql.NullString `db:"source"`
	Ingested   int64          `db:"ingested"`
}

func (r priceRow) snapshot() (market.PriceSnapshot, error) {
	p, err := decimal.NewFromString(r.Price.String)
	if err != nil {
		return market.PriceSnapshot{}, fmt.Errorf("price: %w", err)
	}
	return market.PriceSnapshot{
		Instrument: r.Instrument,
		Time:       fromNanos(r.Time),
		Price:      p,
		Source:     r.Source.String,
		Ingested:   r.Ingested,
	}, nil
}

func nanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func parseNanos(s string) (time.Time, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return fromNanos(n), nil
}

func parseInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
