package ingest

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func parser(f Format) Parser {
	return Parser{Format: f, Now: func() time.Time { return now }}
}

func TestParseJSONArray(t *testing.T) {
	raw := []byte(`[
		{"instrument": "AAPL", "time": "2024-01-02T10:00:00Z", "price": "185.25", "source": "nasdaq", "extra": {"x": 1}},
		{"symbol": "AAPL", "timestamp": 1704193200, "close": 186.5},
		{"symbol": "BTCUSDT", "closeTime": 1704193200000, "lastPrice": "42000.10", "exchangeName": "binance"}
	]`)

	snaps, err := parser(FormatJSON).Parse(raw)
	require.NoError(t, err)
	require.Len(t, snaps, 3)

	assert.Equal(t, "AAPL", snaps[0].Instrument)
	assert.Equal(t, time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC), snaps[0].Time)
	assert.True(t, snaps[0].Price.Equal(decimal.RequireFromString("185.25")))
	assert.Equal(t, "nasdaq", snaps[0].Source)

	assert.Equal(t, time.Unix(1704193200, 0).UTC(), snaps[1].Time)
	assert.True(t, snaps[1].Price.Equal(decimal.RequireFromString("186.5")))

	assert.Equal(t, "BTCUSDT", snaps[2].Instrument)
	assert.Equal(t, time.UnixMilli(1704193200000).UTC(), snaps[2].Time)
	assert.Equal(t, "binance", snaps[2].Source)
}

func TestParseJSONObjectWithDefaults(t *testing.T) {
	raw := []byte(`{
		"symbol": "EUR_USD",
		"exchange": "oanda",
		"granularity": "D",
		"candles": [
			[1704153600000, "1.10", "1.11", "1.09", "1.105", "1200"],
			{"time": "2024-01-03", "c": "1.098"}
		]
	}`)

	snaps, err := parser(FormatAuto).Parse(raw)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	for _, s := range snaps {
		assert.Equal(t, "EUR_USD", s.Instrument)
		assert.Equal(t, "oanda", s.Source)
	}
	assert.True(t, snaps[0].Price.Equal(decimal.RequireFromString("1.105")))
	assert.Equal(t, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), snaps[1].Time)
}

func TestParseJSONSingleObject(t *testing.T) {
	snaps, err := parser(FormatJSON).Parse([]byte(`{"symbol":"AAPL","time":"2024-01-02T10:00:00Z","price":1}`))
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "AAPL", snaps[0].Instrument)
}

func TestParseJSONMissingPrice(t *testing.T) {
	raw := []byte(`[{"instrument":"AAPL","time":"2024-01-02T10:00:00Z","price":"1"},
 {"instrument":"AAPL","time":"2024-01-02T11:00:00Z"}]`)

	_, err := parser(FormatJSON).Parse(raw)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedInput))

	var me *MalformedInputError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, 1, me.Record)
	assert.Equal(t, "price", me.Field)
	assert.Equal(t, int64(67), me.Offset)
	assert.Equal(t, byte('{'), raw[me.Offset])
	assert.Contains(t, me.Error(), "offset 67")
}

func TestParseJSONSyntaxError(t *testing.T) {
	raw := []byte(`[{"instrument":"AAPL","time":"2024-01-02T10:00:00Z","price":}]`)
	_, err := parser(FormatJSON).Parse(raw)

	var me *MalformedInputError
	require.True(t, errors.As(err, &me))
	assert.Greater(t, me.Offset, int64(0))
	assert.Equal(t, 0, me.Record)

	_, err = parser(FormatJSON).Parse([]byte(`   `))
	assert.ErrorIs(t, err, ErrMalformedInput)

	_, err = parser(FormatJSON).Parse([]byte(`[] []`))
	assert.ErrorIs(t, err, ErrMalformedInput)

	_, err = parser(FormatJSON).Parse([]byte(`["x"]`))
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestParseJSONPath(t *testing.T) {
	raw := []byte(`{"result": {"AAPL": {"series": [
		{"t": "2024-01-02T10:00:00Z", "v": 1},
		{"t": "2024-01-02T11:00:00Z", "v": 2}
	]}}, "quote": {"symbol": "MSFT", "time": "2024-01-02T10:00:00Z", "price": 300}}`)

	p := parser(FormatJSON)
	p.Path = "$.quote"
	snaps, err := p.Parse(raw)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "MSFT", snaps[0].Instrument)

	p.Path = "$.result.AAPL.series[-1:]"
	p.Instrument = "AAPL"
	_, err = p.Parse(raw)
	// series uses t/v, which are not price fields
	var me *MalformedInputError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "time", me.Field)
	assert.Equal(t, int64(-1), me.Offset)

	p.Path = "$.nope"
	_, err = p.Parse(raw)
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestParseInvalidSnapshots(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"backwards", `[{"symbol":"A","time":"2024-01-02T10:00:00Z","price":1},{"symbol":"A","time":"2024-01-02T09:00:00Z","price":1}]`},
		{"far future", `[{"symbol":"A","time":"2030-01-01T00:00:00Z","price":1}]`},
		{"before epoch", `[{"symbol":"A","time":"1960-01-01T00:00:00Z","price":1}]`},
		{"zero price", `[{"symbol":"A","time":"2024-01-02T10:00:00Z","price":0}]`},
		{"negative price", `[{"symbol":"A","time":"2024-01-02T10:00:00Z","price":-3}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parser(FormatJSON).Parse([]byte(tt.raw))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidSnapshot), err.Error())
			assert.False(t, errors.Is(err, ErrMalformedInput))
		})
	}
}

func TestParseAllowsInterleavedInstruments(t *testing.T) {
	raw := `[{"symbol":"A","time":"2024-01-02T10:00:00Z","price":1},
		{"symbol":"B","time":"2024-01-01T10:00:00Z","price":1},
		{"symbol":"A","time":"2024-01-02T10:00:00Z","price":2}]`
	snaps, err := parser(FormatJSON).Parse([]byte(raw))
	require.NoError(t, err)
	assert.Len(t, snaps, 3)
}

func TestParseFutureSkew(t *testing.T) {
	raw := []byte(`[{"symbol":"A","time":"2024-06-01T18:00:00Z","price":1}]`)

	_, err := parser(FormatJSON).Parse(raw)
	require.NoError(t, err)

	p := parser(FormatJSON)
	p.MaxFutureSkew = time.Hour
	_, err = p.Parse(raw)
	assert.ErrorIs(t, err, ErrInvalidSnapshot)
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, FormatJSON, DetectFormat("application/json; charset=utf-8", "", nil))
	assert.Equal(t, FormatYAML, DetectFormat("application/x-yaml", "", nil))
	assert.Equal(t, FormatCSV, DetectFormat("text/csv", "", nil))
	assert.Equal(t, FormatCSV, DetectFormat("", "/prices/aapl.csv", nil))
	assert.Equal(t, FormatYAML, DetectFormat("", "prices.yml", nil))
	assert.Equal(t, FormatJSON, DetectFormat("text/plain", "", []byte("  [1]")))
	assert.Equal(t, FormatCSV, DetectFormat("", "", []byte("symbol,date,close\nA,2024-01-02,1")))
	assert.Equal(t, FormatYAML, DetectFormat("", "", []byte("symbol: A\nprices: []")))

	f, err := ParseFormat(".YML")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)
	_, err = ParseFormat("xml")
	assert.Error(t, err)
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-01-02T10:00:00.5+01:00", time.Date(2024, 1, 2, 9, 0, 0, 500_000_000, time.UTC)},
		{"2024-01-02 10:00:00", time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)},
		{"2024-01-02", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		{"1704189600", time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)},
		{"1704189600000", time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)},
		{"1704189600.25", time.Date(2024, 1, 2, 10, 0, 0, 250_000_000, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseTime(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := parseTime("yesterday")
	assert.Error(t, err)

	for _, in := range []string{"1e30", "-1e30", "99999999999999999999.5", "253402300800000000"} {
		_, err := parseTime(in)
		assert.Error(t, err, in)
	}
}

func TestHugeEpochIsMalformed(t *testing.T) {
	_, err := parser(FormatJSON).Parse([]byte(`[
		{"symbol":"AAPL","time":"2024-01-02T10:00:00Z","price":5},
		{"symbol":"AAPL","time":1e30,"price":6}
	]`))
	require.ErrorIs(t, err, ErrMalformedInput)
	var me *MalformedInputError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "time", me.Field)
	assert.Equal(t, 1, me.Record)
}
