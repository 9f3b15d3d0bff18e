package journal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tracker/market"
)

func TestQuery(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)

	_, err := s.Append(mkTx("B", "AAPL", "1", "1", t0.Add(time.Hour)))
	require.NoError(t, err)
	_, err = s.Append(mkTx("A", "AAPL", "1", "1", t0.Add(time.Hour)))
	require.NoError(t, err)
	_, err = s.Append(mkTx("C", "MSFT", "1", "1", t0))
	require.NoError(t, err)
	_, err = s.ApplyRemote([]market.Transaction{remote(mkTx("D", "AAPL", "1", "1", t0.Add(2*time.Hour)), 1)})
	require.NoError(t, err)

	ids := func(txs []market.Transaction) []string {
		var out []string
		for _, tx := range txs {
			out = append(out, tx.ID)
		}
		return out
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all in time order", Filter{}, []string{"C", "A", "B", "D"}},
		{"instrument", Filter{Instrument: "AAPL"}, []string{"A", "B", "D"}},
		{"range", Filter{Range: market.Range{From: t0.Add(time.Hour), To: t0.Add(2 * time.Hour)}}, []string{"A", "B"}},
		{"state", Filter{States: []market.SyncState{market.Synced}}, []string{"D"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(s.Query(tt.filter)))
		})
	}

	assert.Equal(t, []string{"AAPL", "MSFT"}, s.Instruments())
}
