package journal

import (
	"sort"

	"github.com/rustyeddy/tracker/market"
)

// Filter selects transactions from the log. Zero fields match everything.
type Filter struct {
	Instrument string
	Range      market.Range
	States     []market.SyncState
}

func (f Filter) match(t market.Transaction) bool {
	if f.Instrument != "" && t.Instrument != f.Instrument {
		return false
	}
	if !f.Range.Contains(t.Time) {
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	for _, s := range f.States {
		if t.State == s {
			return true
		}
	}
	return false
}

// Query returns matching transactions in chronological order (ties broken
// by id).
func (s *Store) Query(f Filter) []market.Transaction {
	s.mu.RLock()
	var out []market.Transaction
	for _, t := range s.txs {
		if f.match(t) {
			out = append(out, t)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Instruments lists every instrument that appears in the log.
func (s *Store) Instruments() []string {
	s.mu.RLock()
	seen := make(map[string]bool)
	for _, t := range s.txs {
		seen[t.Instrument] = true
	}
	s.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
