package journal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tracker/market"
)

func TestPurgeRemovesFlatPrefixOnly(t *testing.T) {
	t.Parallel()

	s, path := newTestStore(t) // now = t0 + 24h
	old := t0.Add(-30 * 24 * time.Hour)

	_, err := s.ApplyRemote([]market.Transaction{
		// AAPL opened and closed before the cutoff, then reopened
		remote(mkTx("A1", "AAPL", "10", "5", old), 1),
		remote(mkTx("A2", "AAPL", "-10", "6", old.Add(time.Hour)), 2),
		remote(mkTx("A3", "AAPL", "4", "7", old.Add(2*time.Hour)), 3),
		// MSFT never flat before the cutoff
		remote(mkTx("M1", "MSFT", "2", "300", old), 4),
		// recent
		remote(mkTx("A4", "AAPL", "1", "8", t0), 5),
	})
	require.NoError(t, err)

	res, err := s.Purge(RetentionPolicy{MaxAge: 7 * 24 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Transactions)

	var ids []string
	for _, tx := range s.Transactions() {
		ids = append(ids, tx.ID)
	}
	assert.ElementsMatch(t, []string{"A3", "M1", "A4"}, ids)

	s2 := reopen(t, s, path)
	assert.Len(t, s2.Transactions(), 3)
	_, err = s2.Get("A3")
	assert.NoError(t, err)
}

func TestPurgeStopsAtPending(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	old := t0.Add(-30 * 24 * time.Hour)

	_, err := s.Append(mkTx("P1", "AAPL", "5", "5", old))
	require.NoError(t, err)
	_, err = s.ApplyRemote([]market.Transaction{
		remote(mkTx("S1", "AAPL", "-5", "6", old.Add(time.Hour)), 1),
	})
	require.NoError(t, err)

	res, err := s.Purge(RetentionPolicy{MaxAge: 24 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Transactions)
	assert.Len(t, s.Transactions(), 2)
}

func TestPurgeKeepsLatestPriceBeforeCutoff(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	old := t0.Add(-30 * 24 * time.Hour)
	_, err := s.CachePrices([]market.PriceSnapshot{
		snap("AAPL", old, "1", ""),
		snap("AAPL", old.Add(time.Hour), "2", ""),
		snap("AAPL", t0, "3", ""),
	})
	require.NoError(t, err)

	// cutoff lands a day before t0
	res, err := s.Purge(RetentionPolicy{MaxAge: 48 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Prices)

	ps, err := s.Prices("AAPL", market.Range{})
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.True(t, ps[0].Price.Equal(d("2")))
}

func TestPurgeRequiresPolicy(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	_, err := s.Purge(RetentionPolicy{})
	assert.Error(t, err)
}

func TestPurgedTransactionsStayPurged(t *testing.T) {
	t.Parallel()

	s, path := newTestStore(t)
	old := t0.Add(-30 * 24 * time.Hour)

	// pushed and acknowledged, but not pulled back yet
	open := mkTx("A1", "AAPL", "10", "5", old)
	closed := mkTx("A2", "AAPL", "-10", "6", old.Add(time.Hour))
	for _, tx := range []market.Transaction{open, closed} {
		_, err := s.Append(tx)
		require.NoError(t, err)
	}
	_, err := s.ApplyRemote([]market.Transaction{remote(open, 1), remote(closed, 2)})
	require.NoError(t, err)

	res, err := s.Purge(RetentionPolicy{MaxAge: 7 * 24 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Transactions)
	assert.Zero(t, res.Tombstones)

	// the next pull delivers both documents again
	redelivered := []market.Transaction{remote(open, 1), remote(closed, 2)}
	ar, err := s.ApplyRemoteBatch(market.SyncCursor{Collection: "tx", Revision: 2}, redelivered)
	require.NoError(t, err)
	assert.Zero(t, ar.Inserted)
	assert.Equal(t, 2, ar.Unchanged)
	assert.Empty(t, s.Transactions())

	s2 := reopen(t, s, path)
	ar, err = s2.ApplyRemote(redelivered)
	require.NoError(t, err)
	assert.Zero(t, ar.Inserted)
	assert.Empty(t, s2.Transactions())
	_, err = s2.Append(open)
	assert.ErrorIs(t, err, ErrDuplicateID)

	// the cursor is past both revisions, so the ids can be forgotten
	res, err = s2.Purge(RetentionPolicy{MaxAge: 7 * 24 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Tombstones)
}
