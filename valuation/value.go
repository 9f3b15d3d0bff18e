package valuation

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tracker/market"
)

var ErrPriceUnavailable = errors.New("price unavailable")

// PriceUnavailableError names an open holding with no price at or before
// the valuation time.
type PriceUnavailableError struct {
	Instrument string
	At         time.Time
}

func (e *PriceUnavailableError) Error() string {
	return fmt.Sprintf("no price for %s at or before %s", e.Instrument, e.At.UTC().Format(time.RFC3339))
}

func (e *PriceUnavailableError) Unwrap() error { return ErrPriceUnavailable }

// Position is a priced holding.
type Position struct {
	market.Holding
	Price      decimal.Decimal `json:"price"`
	PriceTime  time.Time       `json:"price_time"`
	Value      decimal.Decimal `json:"value"`
	Unrealized decimal.Decimal `json:"unrealized_pl"`
}

// Valuation is the value of a portfolio state at one instant. Holdings
// without a price are listed in Unpriced and left out of Total.
type Valuation struct {
	At        time.Time                `json:"at"`
	Total     decimal.Decimal          `json:"total"`
	CostBasis decimal.Decimal          `json:"cost_basis"`
	Realized  decimal.Decimal          `json:"realized_pl"`
	Positions []Position               `json:"positions"`
	Unpriced  []*PriceUnavailableError `json:"-"`
}

// Complete reports whether every open holding was priced.
func (v Valuation) Complete() bool { return len(v.Unpriced) == 0 }

// Err joins the per-instrument price errors, nil when complete.
func (v Valuation) Err() error {
	if v.Complete() {
		return nil
	}
	errs := make([]error, len(v.Unpriced))
	for i, e := range v.Unpriced {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// UnpricedInstruments lists the instruments named in Unpriced.
func (v Valuation) UnpricedInstruments() []string {
	out := make([]string, len(v.Unpriced))
	for i, e := range v.Unpriced {
		out[i] = e.Instrument
	}
	return out
}

// Value sums quantity × latest price at or before at over the open holdings
// of state. A missing price is recorded and the remaining holdings are
// still valued.
func Value(state market.PortfolioState, prices PriceSource, at time.Time) Valuation {
	v := Valuation{At: at}
	for _, k := range state.Instruments() {
		h := state[k]
		v.Realized = v.Realized.Add(h.RealizedPL)
		if h.Quantity.IsZero() {
			continue
		}

		snap, ok := prices.At(h.Instrument, at)
		if !ok {
			v.Unpriced = append(v.Unpriced, &PriceUnavailableError{Instrument: h.Instrument, At: at})
			continue
		}

		p := Position{
			Holding:   h,
			Price:     snap.Price,
			PriceTime: snap.Time,
			Value:     h.Quantity.Mul(snap.Price),
		}
		p.Unrealized = p.Value.Sub(h.CostBasis)
		v.Positions = append(v.Positions, p)
		v.Total = v.Total.Add(p.Value)
		v.CostBasis = v.CostBasis.Add(h.CostBasis)
	}
	return v
}

// Value replays txs to at and values the result.
func (e Engine) Value(txs []market.Transaction, prices PriceSource, at time.Time) Valuation {
	return Value(e.State(txs, at), prices, at)
}
