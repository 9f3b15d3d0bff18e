package market

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SyncState tracks where a transaction is in its round trip to the remote store.
type SyncState int

const (
	Pending SyncState = iota
	Synced
	Conflicted
)

func (s SyncState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Synced:
		return "synced"
	case Conflicted:
		return "conflicted"
	default:
		return fmt.Sprintf("SyncState(%d)", int(s))
	}
}

// ParseSyncState parses the String form of a SyncState.
func ParseSyncState(s string) (SyncState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return Pending, nil
	case "synced":
		return Synced, nil
	case "conflicted":
		return Conflicted, nil
	default:
		return 0, fmt.Errorf("unknown sync state %q", s)
	}
}

func (s SyncState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SyncState) UnmarshalText(b []byte) error {
	v, err := ParseSyncState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Transaction is an immutable quantity change of one instrument at a price
// and time. Only State (and, when the remote store reorders it, Time and
// Revision) ever change after creation.
type Transaction struct {
	ID         string          `json:"id"`
	Account    string          `json:"account,omitempty"`
	Instrument string          `json:"instrument"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Time       time.Time       `json:"time"`
	State      SyncState       `json:"state"`
	Revision   int64           `json:"revision,omitempty"`
	Seq        int64           `json:"-"`
}

// SameContent reports whether two versions of a transaction describe the same
// economic event. Time, State and Revision are ignored since the remote store
// may assign its own ordering.
func (t Transaction) SameContent(o Transaction) bool {
	return t.ID == o.ID &&
		t.Account == o.Account &&
		t.Instrument == o.Instrument &&
		t.Quantity.Equal(o.Quantity) &&
		t.Price.Equal(o.Price)
}

// Cost is the signed cash amount of the transaction (quantity × price).
func (t Transaction) Cost() decimal.Decimal {
	return t.Quantity.Mul(t.Price)
}

// Validate checks the fields every transaction must carry.
func (t Transaction) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("transaction: missing id")
	}
	if t.Instrument == "" {
		return fmt.Errorf("transaction %s: missing instrument", t.ID)
	}
	if t.Quantity.IsZero() {
		return fmt.Errorf("transaction %s: zero quantity", t.ID)
	}
	if t.Price.IsNegative() {
		return fmt.Errorf("transaction %s: negative price", t.ID)
	}
	if t.Time.IsZero() {
		return fmt.Errorf("transaction %s: missing time", t.ID)
	}
	return nil
}

// Before orders transactions chronologically, breaking ties by id.
func (t Transaction) Before(o Transaction) bool {
	if !t.Time.Equal(o.Time) {
		return t.Time.Before(o.Time)
	}
	return t.ID < o.ID
}

// Conflict pairs the local and remote versions of a transaction id whose
// contents disagree. It is staged for an external decision and never merged.
// When the remote refused the local version outright, Reason says why and
// Remote is empty.
type Conflict struct {
	ID       string      `json:"id"`
	Local    Transaction `json:"local"`
	Remote   Transaction `json:"remote"`
	Reason   string      `json:"reason,omitempty"`
	Detected time.Time   `json:"detected"`
}
