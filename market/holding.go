package market

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Holding is the current position in one instrument. It is always derived
// by replaying transactions and never edited directly.
type Holding struct {
	Instrument string          `json:"instrument"`
	Account    string          `json:"account,omitempty"`
	Quantity   decimal.Decimal `json:"quantity"`
	CostBasis  decimal.Decimal `json:"cost_basis"`
	RealizedPL decimal.Decimal `json:"realized_pl"`
	Modified   time.Time       `json:"modified"`
}

// AverageCost is the cost basis per unit, zero for a flat position.
func (h Holding) AverageCost() decimal.Decimal {
	if h.Quantity.IsZero() {
		return decimal.Zero
	}
	return h.CostBasis.DivRound(h.Quantity, 8)
}

// PortfolioState maps instrument to holding at a point in time.
type PortfolioState map[string]Holding

// Instruments returns the instruments of the state in sorted order.
func (s PortfolioState) Instruments() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Open returns the holdings with a non-zero quantity, sorted by instrument.
func (s PortfolioState) Open() []Holding {
	var out []Holding
	for _, k := range s.Instruments() {
		if h := s[k]; !h.Quantity.IsZero() {
			out = append(out, h)
		}
	}
	return out
}

// SyncCursor is the watermark of the last remote revision applied locally
// for a collection.
type SyncCursor struct {
	Collection string    `json:"collection"`
	Revision   int64     `json:"revision"`
	Updated    time.Time `json:"updated"`
}
