package httpdoc

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tracker/market"
	"github.com/rustyeddy/tracker/remote"
	"github.com/rustyeddy/tracker/remote/memory"
)

var t0 = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func tx(id, qty string) market.Transaction {
	return market.Transaction{
		ID:         id,
		Account:    "main",
		Instrument: "AAPL",
		Quantity:   decimal.RequireFromString(qty),
		Price:      decimal.RequireFromString("5.25"),
		Time:       t0,
	}
}

func newPair(t *testing.T, token string) (*Client, *memory.Store) {
	t.Helper()
	store := memory.New()
	srv := httptest.NewServer(NewServer(store, token, quietLogger()).Handler())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, token, 5*time.Second), store
}

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, store := newPair(t, "test-token")
	store.Put("txs", tx("x", "1"))

	acks, err := c.Push(ctx, "txs", []market.Transaction{tx("a", "10"), tx("x", "2")})
	require.NoError(t, err)
	require.Len(t, acks, 2)
	assert.Equal(t, remote.AckOK, acks[0].Status)
	assert.Equal(t, int64(2), acks[0].Revision)
	assert.Equal(t, t0, acks[0].Time)
	assert.Equal(t, remote.AckConflict, acks[1].Status)
	require.NotNil(t, acks[1].Existing)
	assert.True(t, acks[1].Existing.Quantity.Equal(decimal.NewFromInt(1)))

	page, err := c.Pull(ctx, "txs", 0, 1)
	require.NoError(t, err)
	require.Len(t, page.Docs, 1)
	assert.True(t, page.More)
	assert.Equal(t, int64(1), page.Next)
	assert.Equal(t, "x", page.Docs[0].ID)
	assert.Equal(t, market.Synced, page.Docs[0].State)

	page, err = c.Pull(ctx, "txs", page.Next, 10)
	require.NoError(t, err)
	require.Len(t, page.Docs, 1)
	assert.False(t, page.More)
	got := page.Docs[0]
	assert.Equal(t, "a", got.ID)
	assert.Equal(t, "main", got.Account)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("5.25")))
}

func TestClientPartialAck(t *testing.T) {
	c, store := newPair(t, "")
	store.LimitAcks(1)

	acks, err := c.Push(context.Background(), "txs", []market.Transaction{tx("a", "1"), tx("b", "1")})
	require.NoError(t, err)
	assert.Len(t, acks, 1)
}

func TestClientUnauthorized(t *testing.T) {
	store := memory.New()
	srv := httptest.NewServer(NewServer(store, "right", quietLogger()).Handler())
	defer srv.Close()

	c := NewClient(srv.URL, "wrong", time.Second)
	_, err := c.Pull(context.Background(), "txs", 0, 10)
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.Code)
	assert.True(t, remote.IsPermanent(err))
}

func TestClientServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"down"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	_, err := c.Pull(context.Background(), "txs", 0, 10)
	require.Error(t, err)
	assert.False(t, remote.IsPermanent(err))
	assert.Contains(t, err.Error(), "status 503")
}

func TestClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, "", time.Second)
	_, err := c.Pull(context.Background(), "txs", 0, 10)
	assert.ErrorIs(t, err, remote.ErrUnavailable)
}

func TestClientRejectsOutOfOrderAcks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"acks":[{"id":"b","status":"ok","revision":1}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	_, err := c.Push(context.Background(), "txs", []market.Transaction{tx("a", "1"), tx("b", "1")})
	assert.Error(t, err)
}

func TestServerReplaysIdempotencyKey(t *testing.T) {
	store := memory.New()
	s := NewServer(store, "", quietLogger())
	h := s.Handler()

	body := `{"documents":[{"id":"a","instrument":"AAPL","quantity":"1","price":"5","time":"2024-01-02T09:30:00Z"}]}`
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/collections/txs/documents", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", "k1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"revision":1`)
	}
	_, pushes := store.Calls()
	assert.Equal(t, 1, pushes)
}

func TestClientRetryReusesIdempotencyKey(t *testing.T) {
	store := memory.New()
	inner := NewServer(store, "", quietLogger()).Handler()

	var (
		mu   sync.Mutex
		keys []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		first := len(keys) == 1
		mu.Unlock()
		if first {
			// the store commits, then the answer is lost on the way back
			inner.ServeHTTP(httptest.NewRecorder(), r)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		inner.ServeHTTP(w, r)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	docs := []market.Transaction{tx("a", "1"), tx("b", "2")}
	_, err := c.Push(context.Background(), "txs", docs)
	require.Error(t, err)
	assert.False(t, remote.IsPermanent(err))

	acks, err := c.Push(context.Background(), "txs", docs)
	require.NoError(t, err)
	require.Len(t, acks, 2)
	assert.Equal(t, int64(1), acks[0].Revision)

	require.Len(t, keys, 2)
	assert.NotEmpty(t, keys[0])
	assert.Equal(t, keys[0], keys[1])
	_, pushes := store.Calls()
	assert.Equal(t, 1, pushes, "the retry is answered from the replay cache")

	// a different batch gets a different key
	_, err = c.Push(context.Background(), "txs", docs[1:])
	require.NoError(t, err)
	require.Len(t, keys, 3)
	assert.NotEqual(t, keys[0], keys[2])
}

func TestServerForgetsOldestKeys(t *testing.T) {
	store := memory.New()
	s := NewServer(store, "", quietLogger())
	s.seenLimit = 2
	h := s.Handler()

	push := func(key, id string) {
		body := `{"documents":[{"id":"` + id + `","instrument":"AAPL","quantity":"1","price":"5","time":"2024-01-02T09:30:00Z"}]}`
		req := httptest.NewRequest(http.MethodPost, "/v1/collections/txs/documents", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", key)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	push("k1", "a")
	push("k2", "b")
	push("k3", "c")
	assert.Len(t, s.seen, 2)
	assert.Equal(t, []string{"k2", "k3"}, s.keys)

	push("k3", "c")
	_, pushes := store.Calls()
	assert.Equal(t, 3, pushes)

	push("k1", "a")
	_, pushes = store.Calls()
	assert.Equal(t, 4, pushes, "a forgotten key reaches the store again")
}
