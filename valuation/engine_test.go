package valuation

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tracker/market"
)

var (
	t1 = time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	t2 = t1.Add(24 * time.Hour)
	t3 = t2.Add(24 * time.Hour)
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func trade(id, inst, qty, price string, at time.Time) market.Transaction {
	return market.Transaction{
		ID:         id,
		Instrument: inst,
		Quantity:   d(qty),
		Price:      d(price),
		Time:       at,
		State:      market.Synced,
	}
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, d(want).Equal(got), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func TestStateBuyThenSell(t *testing.T) {
	txs := []market.Transaction{
		trade("a", "AAPL", "10", "5", t1),
		trade("b", "AAPL", "-3", "6", t2),
	}

	for _, m := range []CostBasisMethod{AverageCost, FIFO} {
		t.Run(m.String(), func(t *testing.T) {
			h := New(m).State(txs, t3)["AAPL"]
			assertDec(t, "7", h.Quantity)
			assertDec(t, "35", h.CostBasis)
			assertDec(t, "3", h.RealizedPL)
			assertDec(t, "5", h.AverageCost())
			assert.Equal(t, t2, h.Modified)
		})
	}

	book := NewPriceBook([]market.PriceSnapshot{{Instrument: "AAPL", Time: t3, Price: d("7")}})
	v := Value(State(txs, t3), book, t3)
	assert.True(t, v.Complete())
	assertDec(t, "49", v.Total)
	assertDec(t, "14", v.Positions[0].Unrealized)
}

func TestStateOrderIndependent(t *testing.T) {
	txs := []market.Transaction{
		trade("a", "AAPL", "10", "5", t1),
		trade("b", "AAPL", "-3", "6", t2),
		trade("c", "AAPL", "4", "5.5", t2), // same time as b, ordered by id
		trade("d", "MSFT", "2", "300", t1),
		trade("e", "AAPL", "-20", "7", t3),
	}
	want := State(txs, t3)

	r := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		shuffled := append([]market.Transaction(nil), txs...)
		r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		got := State(shuffled, t3)
		require.Len(t, got, len(want))
		for k, h := range want {
			assert.True(t, h.Quantity.Equal(got[k].Quantity))
			assert.True(t, h.CostBasis.Equal(got[k].CostBasis))
			assert.True(t, h.RealizedPL.Equal(got[k].RealizedPL))
		}
	}
}

func TestStateFiltersByTimeAndState(t *testing.T) {
	pending := trade("p", "AAPL", "1", "5", t1)
	pending.State = market.Pending
	conflicted := trade("c", "AAPL", "100", "5", t1)
	conflicted.State = market.Conflicted

	txs := []market.Transaction{
		trade("a", "AAPL", "10", "5", t1),
		pending,
		conflicted,
		trade("late", "AAPL", "5", "5", t3),
	}

	s := State(txs, t2)
	assertDec(t, "11", s["AAPL"].Quantity)

	s = State(txs, t1.Add(-time.Second))
	assert.Empty(t, s)
}

func TestStateShortAndFlip(t *testing.T) {
	txs := []market.Transaction{
		trade("a", "AAPL", "-5", "10", t1), // open short
		trade("b", "AAPL", "2", "8", t2),   // cover part at a profit
		trade("c", "AAPL", "6", "9", t3),   // cover the rest and go long 3
	}

	for _, m := range []CostBasisMethod{AverageCost, FIFO} {
		t.Run(m.String(), func(t *testing.T) {
			h := New(m).State(txs, t3)["AAPL"]
			assertDec(t, "3", h.Quantity)
			assertDec(t, "27", h.CostBasis)
			// (10-8)*2 + (10-9)*3
			assertDec(t, "7", h.RealizedPL)
		})
	}
}

func TestStateFIFODiffersFromAverage(t *testing.T) {
	txs := []market.Transaction{
		trade("a", "AAPL", "10", "5", t1),
		trade("b", "AAPL", "10", "7", t2),
		trade("c", "AAPL", "-10", "8", t3),
	}

	avg := New(AverageCost).State(txs, t3)["AAPL"]
	assertDec(t, "10", avg.Quantity)
	assertDec(t, "60", avg.CostBasis)
	assertDec(t, "20", avg.RealizedPL)

	fifo := New(FIFO).State(txs, t3)["AAPL"]
	assertDec(t, "10", fifo.Quantity)
	assertDec(t, "70", fifo.CostBasis)
	assertDec(t, "30", fifo.RealizedPL)
}

func TestStateFlatPositionKeepsRealized(t *testing.T) {
	txs := []market.Transaction{
		trade("a", "AAPL", "3", "10", t1),
		trade("b", "AAPL", "-3", "12", t2),
	}
	s := State(txs, t3)
	h := s["AAPL"]
	assert.True(t, h.Quantity.IsZero())
	assert.True(t, h.CostBasis.IsZero())
	assertDec(t, "6", h.RealizedPL)
	assert.Empty(t, s.Open())
}

func TestParseCostBasisMethod(t *testing.T) {
	m, err := ParseCostBasisMethod("FIFO")
	require.NoError(t, err)
	assert.Equal(t, FIFO, m)

	m, err = ParseCostBasisMethod("")
	require.NoError(t, err)
	assert.Equal(t, AverageCost, m)

	_, err = ParseCostBasisMethod("lifo")
	assert.Error(t, err)
}
