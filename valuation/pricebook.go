package valuation

import (
	"sort"
	"time"

	"github.com/rustyeddy/tracker/market"
)

// PriceSource answers "what was the price of instrument at time at".
type PriceSource interface {
	At(instrument string, at time.Time) (market.PriceSnapshot, bool)
}

// PriceBook is an immutable, per-instrument, time-sorted price index.
type PriceBook struct {
	series map[string][]market.PriceSnapshot
}

// NewPriceBook indexes snaps. When two snapshots of an instrument share a
// timestamp the one with the higher Ingested sequence is kept.
func NewPriceBook(snaps []market.PriceSnapshot) *PriceBook {
	b := &PriceBook{series: make(map[string][]market.PriceSnapshot)}
	for _, s := range snaps {
		b.series[s.Instrument] = append(b.series[s.Instrument], s)
	}
	for k, ss := range b.series {
		sort.SliceStable(ss, func(i, j int) bool {
			if !ss[i].Time.Equal(ss[j].Time) {
				return ss[i].Time.Before(ss[j].Time)
			}
			return ss[i].Ingested < ss[j].Ingested
		})
		out := ss[:0]
		for _, s := range ss {
			if n := len(out); n > 0 && out[n-1].Time.Equal(s.Time) {
				out[n-1] = s
				continue
			}
			out = append(out, s)
		}
		b.series[k] = out
	}
	return b
}

// At returns the latest snapshot at or before at.
func (b *PriceBook) At(instrument string, at time.Time) (market.PriceSnapshot, bool) {
	ss := b.series[instrument]
	i := sort.Search(len(ss), func(i int) bool { return ss[i].Time.After(at) })
	if i == 0 {
		return market.PriceSnapshot{}, false
	}
	return ss[i-1], true
}

// Series returns the snapshots of one instrument in time order.
func (b *PriceBook) Series(instrument string) []market.PriceSnapshot {
	return append([]market.PriceSnapshot(nil), b.series[instrument]...)
}

func (b *PriceBook) Instruments() []string {
	out := make([]string, 0, len(b.series))
	for k := range b.series {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (b *PriceBook) Len() int {
	n := 0
	for _, ss := range b.series {
		n += len(ss)
	}
	return n
}
