package valuation

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tracker/market"
)

// Point is one sample of a return series.
//
// Change is the value difference to the previous boundary. NetFlow is the
// cash put into positions between the two boundaries (buys positive, sells
// negative), Gain is Change minus NetFlow and Return is Gain over the
// previous value. The first point only carries Value.
type Point struct {
	At       time.Time       `json:"at"`
	Value    decimal.Decimal `json:"value"`
	Change   decimal.Decimal `json:"change"`
	NetFlow  decimal.Decimal `json:"net_flow"`
	Gain     decimal.Decimal `json:"gain"`
	Return   decimal.Decimal `json:"return"`
	Unpriced []string        `json:"unpriced,omitempty"`
}

// Returns values the portfolio at each boundary. Boundaries are chosen by
// the caller and must be strictly increasing. Unpriced holdings are left
// out of a point's value and listed on it.
func (e Engine) Returns(txs []market.Transaction, prices PriceSource, boundaries []time.Time) ([]Point, error) {
	for i := 1; i < len(boundaries); i++ {
		if !boundaries[i].After(boundaries[i-1]) {
			return nil, fmt.Errorf("returns: boundary %d (%s) not after %s", i,
				boundaries[i].Format(time.RFC3339), boundaries[i-1].Format(time.RFC3339))
		}
	}

	points := make([]Point, 0, len(boundaries))
	for i, at := range boundaries {
		v := e.Value(txs, prices, at)
		p := Point{At: at, Value: v.Total, Unpriced: v.UnpricedInstruments()}
		if i > 0 {
			prev := points[i-1]
			p.Change = p.Value.Sub(prev.Value)
			p.NetFlow = netFlow(txs, prev.At, at)
			p.Gain = p.Change.Sub(p.NetFlow)
			if !prev.Value.IsZero() {
				p.Return = p.Gain.DivRound(prev.Value, 8)
			}
		}
		points = append(points, p)
	}
	return points, nil
}

// Returns computes a series with average cost. See Engine.Returns.
func Returns(txs []market.Transaction, prices PriceSource, boundaries []time.Time) ([]Point, error) {
	return Engine{}.Returns(txs, prices, boundaries)
}

// netFlow sums the cost of valued transactions in (from, to].
func netFlow(txs []market.Transaction, from, to time.Time) decimal.Decimal {
	sum := decimal.Zero
	for _, tx := range txs {
		if tx.State == market.Conflicted {
			continue
		}
		if tx.Time.After(from) && !tx.Time.After(to) {
			sum = sum.Add(tx.Cost())
		}
	}
	return sum
}

// Daily returns midnight UTC boundaries from the UTC day of from through
// the UTC day of to, inclusive. The locations of from and to are ignored.
func Daily(from, to time.Time) []time.Time {
	return DailyIn(from, to, time.UTC)
}

// DailyIn returns local midnights in loc from the day containing from
// through the day containing to. Days are calendar days, so a DST change
// gives a 23 or 25 hour step.
func DailyIn(from, to time.Time, loc *time.Location) []time.Time {
	if loc == nil {
		loc = time.UTC
	}
	if to.Before(from) {
		return nil
	}
	f := from.In(loc)
	var out []time.Time
	for d := time.Date(f.Year(), f.Month(), f.Day(), 0, 0, 0, 0, loc); !d.After(to); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

// Every returns from, from+step, ... up to and including to.
func Every(from, to time.Time, step time.Duration) []time.Time {
	if step <= 0 || to.Before(from) {
		return nil
	}
	var out []time.Time
	for t := from; !t.After(to); t = t.Add(step) {
		out = append(out, t)
	}
	return out
}
