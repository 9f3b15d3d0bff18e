package journal

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tracker/market"
	"github.com/rustyeddy/tracker/valuation"
)

func TestReadersSeeWholeBatches(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	const rounds = 40

	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		for i := 0; i < rounds; i++ {
			// each batch opens and closes a position
			_, err := s.ApplyRemote([]market.Transaction{
				remote(mkTx(fmt.Sprintf("B%03d", i), "AAPL", "10", "5", t0), int64(2*i+1)),
				remote(mkTx(fmt.Sprintf("S%03d", i), "AAPL", "-10", "6", t0.Add(time.Minute)), int64(2*i+2)),
			})
			if err != nil {
				t.Error(err)
				return
			}
			if _, err := s.Append(mkTx(fmt.Sprintf("P%03d", i), "MSFT", "1", "1", t0)); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := 0
			for {
				select {
				case <-done:
					return
				default:
				}
				state := valuation.State(s.Transactions(), t0.Add(time.Hour))
				if q := state["AAPL"].Quantity; !q.IsZero() {
					t.Errorf("partial batch visible: AAPL quantity %s", q)
					return
				}
				n := len(s.Pending())
				if n < last {
					t.Errorf("pending went from %d to %d", last, n)
					return
				}
				last = n
				for _, tx := range s.Query(Filter{Instrument: "AAPL"}) {
					if tx.State != market.Synced {
						t.Errorf("%s visible as %s", tx.ID, tx.State)
						return
					}
				}
			}
		}()
	}

	wg.Wait()
	assert.Len(t, s.Pending(), rounds)
	assert.Len(t, s.Transactions(), 3*rounds)
}

func TestReadsReturnCopies(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	_, err := s.Append(mkTx("T1", "AAPL", "10", "5", t0))
	require.NoError(t, err)

	all := s.Transactions()
	all[0].Quantity = d("99")
	pending := s.Pending()
	pending[0].State = market.Synced
	found := s.Query(Filter{})
	found[0].Instrument = "MSFT"

	got, err := s.Get("T1")
	require.NoError(t, err)
	assert.True(t, got.Quantity.Equal(d("10")))
	assert.Equal(t, market.Pending, got.State)
	assert.Equal(t, "AAPL", got.Instrument)
	assert.Len(t, s.Pending(), 1)
}
