// Package valuation derives holdings, value and return series from the
// transaction log and price history.
//
// Everything here is a pure function of its arguments. Quantities and money
// are decimals throughout; floats appear only in the display helpers.
package valuation

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tracker/market"
)

// Engine replays transactions with a fixed cost basis method. The zero
// value uses average cost.
type Engine struct {
	Method CostBasisMethod
}

func New(method CostBasisMethod) Engine {
	return Engine{Method: method}
}

// State replays txs with average cost. See Engine.State.
func State(txs []market.Transaction, at time.Time) market.PortfolioState {
	return Engine{}.State(txs, at)
}

// State replays the Pending and Synced transactions with Time at or before
// at, in (Time, ID) order. The result does not depend on the order of txs.
// Flat positions stay in the state so their realized P/L is kept.
func (e Engine) State(txs []market.Transaction, at time.Time) market.PortfolioState {
	sorted := make([]market.Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.State == market.Conflicted || tx.Time.After(at) {
			continue
		}
		sorted = append(sorted, tx)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	positions := make(map[string]*position)
	for _, tx := range sorted {
		p, ok := positions[tx.Instrument]
		if !ok {
			p = &position{h: market.Holding{Instrument: tx.Instrument}}
			positions[tx.Instrument] = p
		}
		if e.Method == FIFO {
			p.applyFIFO(tx)
		} else {
			p.applyAverage(tx)
		}
	}

	state := make(market.PortfolioState, len(positions))
	for k, p := range positions {
		state[k] = p.h
	}
	return state
}

// lot is an open quantity at the price it was opened at. The quantity is
// signed: short lots are negative.
type lot struct {
	qty   decimal.Decimal
	price decimal.Decimal
}

type position struct {
	h    market.Holding
	lots []lot
}

func (p *position) touch(tx market.Transaction) {
	p.h.Modified = tx.Time
	if tx.Account != "" {
		p.h.Account = tx.Account
	}
}

// closes reports whether qty reduces the position q.
func closes(q, qty decimal.Decimal) bool {
	return !q.IsZero() && q.Sign() != qty.Sign()
}

// minAbs returns the smaller magnitude of a and b carrying the sign of a.
func minAbs(a, b decimal.Decimal) decimal.Decimal {
	if a.Abs().LessThanOrEqual(b.Abs()) {
		return a
	}
	return b.Abs().Mul(decimal.NewFromInt(int64(a.Sign())))
}

func (p *position) applyAverage(tx market.Transaction) {
	defer p.touch(tx)

	h := &p.h
	if !closes(h.Quantity, tx.Quantity) {
		h.Quantity = h.Quantity.Add(tx.Quantity)
		h.CostBasis = h.CostBasis.Add(tx.Cost())
		return
	}

	closing := minAbs(tx.Quantity, h.Quantity)
	avg := h.CostBasis.Div(h.Quantity)
	h.RealizedPL = h.RealizedPL.Add(closing.Neg().Mul(tx.Price.Sub(avg)))

	remaining := h.Quantity.Add(closing)
	if remaining.IsZero() {
		h.CostBasis = decimal.Zero
	} else {
		h.CostBasis = h.CostBasis.Mul(remaining).Div(h.Quantity)
	}
	h.Quantity = remaining

	// a trade larger than the position flips it
	if rest := tx.Quantity.Sub(closing); !rest.IsZero() {
		h.Quantity = rest
		h.CostBasis = rest.Mul(tx.Price)
	}
}

func (p *position) applyFIFO(tx market.Transaction) {
	defer p.touch(tx)

	h := &p.h
	rest := tx.Quantity
	for closes(h.Quantity, rest) && len(p.lots) > 0 {
		l := &p.lots[0]
		take := minAbs(l.qty, rest)
		h.RealizedPL = h.RealizedPL.Add(take.Mul(tx.Price.Sub(l.price)))
		l.qty = l.qty.Sub(take)
		rest = rest.Add(take)
		h.Quantity = h.Quantity.Sub(take)
		if l.qty.IsZero() {
			p.lots = p.lots[1:]
		}
	}
	if !rest.IsZero() {
		p.lots = append(p.lots, lot{qty: rest, price: tx.Price})
		h.Quantity = h.Quantity.Add(rest)
	}

	h.CostBasis = decimal.Zero
	for _, l := range p.lots {
		h.CostBasis = h.CostBasis.Add(l.qty.Mul(l.price))
	}
}
