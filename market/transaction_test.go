package market

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncStateText(t *testing.T) {
	for _, s := range []SyncState{Pending, Synced, Conflicted} {
		b, err := s.MarshalText()
		require.NoError(t, err)

		var got SyncState
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, s, got)
	}

	_, err := ParseSyncState("lost")
	assert.Error(t, err)
}

func TestTransactionBefore(t *testing.T) {
	t1 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	a := Transaction{ID: "A", Time: t1}
	b := Transaction{ID: "B", Time: t1}
	c := Transaction{ID: "0", Time: t1.Add(time.Second)}

	assert.True(t, a.Before(b))
	assert.False(t, b.Before(a))
	assert.True(t, b.Before(c))
}

func TestTransactionSameContent(t *testing.T) {
	base := Transaction{
		ID:         "X",
		Instrument: "AAPL",
		Quantity:   decimal.RequireFromString("10"),
		Price:      decimal.RequireFromString("5.00"),
		Time:       time.Unix(100, 0),
	}

	moved := base
	moved.Time = time.Unix(200, 0)
	moved.State = Synced
	moved.Revision = 9
	assert.True(t, base.SameContent(moved))

	other := base
	other.Quantity = decimal.RequireFromString("12")
	assert.False(t, base.SameContent(other))
}

func TestTransactionValidate(t *testing.T) {
	ok := Transaction{
		ID:         "X",
		Instrument: "AAPL",
		Quantity:   decimal.NewFromInt(1),
		Price:      decimal.NewFromInt(1),
		Time:       time.Unix(1, 0),
	}
	assert.NoError(t, ok.Validate())

	zero := ok
	zero.Quantity = decimal.Zero
	assert.Error(t, zero.Validate())

	noInst := ok
	noInst.Instrument = ""
	assert.Error(t, noInst.Validate())
}

func TestTransactionJSONState(t *testing.T) {
	tx := Transaction{ID: "X", Instrument: "AAPL", State: Conflicted}
	b, err := json.Marshal(tx)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"state":"conflicted"`)

	var back Transaction
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, Conflicted, back.State)
}

func TestRangeContains(t *testing.T) {
	from := time.Unix(100, 0)
	to := time.Unix(200, 0)
	r := Range{From: from, To: to}

	assert.True(t, r.Contains(from))
	assert.False(t, r.Contains(to))
	assert.True(t, Range{}.Contains(time.Unix(0, 0)))
	assert.True(t, Until(to).Contains(to))
}
