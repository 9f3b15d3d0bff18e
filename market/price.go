package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceSnapshot is one timestamped price observation for an instrument.
//
// Ingested is a store-assigned sequence; when two snapshots share a
// timestamp the one with the higher Ingested value wins.
type PriceSnapshot struct {
	Instrument string          `json:"instrument"`
	Time       time.Time       `json:"time"`
	Price      decimal.Decimal `json:"price"`
	Source     string          `json:"source,omitempty"`
	Ingested   int64           `json:"-"`
}

// Range is a half-open time interval [From, To). A zero bound is unbounded.
type Range struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the range.
func (r Range) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

// Until returns the range of everything up to and including t.
func Until(t time.Time) Range {
	return Range{To: t.Add(time.Nanosecond)}
}
