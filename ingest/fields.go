package ingest

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Field aliases, first match wins.
var (
	instrumentFields = []string{"instrument", "symbol", "ticker"}
	timeFields       = []string{"time", "timestamp", "date", "closetime"}
	priceFields      = []string{"price", "close", "c", "lastprice", "last"}
	sourceFields     = []string{"source", "exchange", "exchangename"}
)

// Keys that hold the record array inside an object payload.
var recordArrayKeys = map[string]bool{
	"prices":    true,
	"data":      true,
	"candles":   true,
	"snapshots": true,
}

func lookup(fields map[string]string, names []string) (string, bool) {
	for _, n := range names {
		if v, ok := fields[n]; ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// positional maps an array record onto fields: [time, price] or a kline
// [open time, open, high, low, close, ...].
func positional(vals []string) map[string]string {
	switch {
	case len(vals) >= 5:
		return map[string]string{"time": vals[0], "price": vals[4]}
	case len(vals) >= 2:
		return map[string]string{"time": vals[0], "price": vals[1]}
	default:
		return map[string]string{}
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// epochMillisCutoff separates unix seconds from unix milliseconds; as
// seconds it is past the year 5000.
const epochMillisCutoff = 100_000_000_000

// maxEpochSeconds is the last second of year 9999.
const maxEpochSeconds = 253_402_300_799

// parseTime accepts RFC 3339, a few zone-less layouts (read as UTC) and
// unix seconds or milliseconds.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n >= epochMillisCutoff || n <= -epochMillisCutoff {
			if n > maxEpochSeconds*1000 || n < -maxEpochSeconds*1000 {
				return time.Time{}, fmt.Errorf("time %q out of range", s)
			}
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	if d, err := decimal.NewFromString(s); err == nil {
		if d.Abs().GreaterThan(decimal.NewFromInt(maxEpochSeconds)) {
			return time.Time{}, fmt.Errorf("time %q out of range", s)
		}
		sec := d.IntPart()
		nsec := d.Sub(decimal.NewFromInt(sec)).Shift(9).IntPart()
		return time.Unix(sec, nsec).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("bad time %q", s)
}

// recordPrice reads the price of a record, falling back to the bid/ask
// midpoint for quote feeds. The returned field names what was wrong.
func recordPrice(fields map[string]string) (decimal.Decimal, string, error) {
	if s, ok := lookup(fields, priceFields); ok {
		p, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, "price", fmt.Errorf("bad price %q", s)
		}
		return p, "", nil
	}

	bs, hasBid := lookup(fields, []string{"bid"})
	as, hasAsk := lookup(fields, []string{"ask"})
	if !hasBid || !hasAsk {
		return decimal.Zero, "price", fmt.Errorf("missing price")
	}
	bid, err := decimal.NewFromString(bs)
	if err != nil {
		return decimal.Zero, "bid", fmt.Errorf("bad bid %q", bs)
	}
	ask, err := decimal.NewFromString(as)
	if err != nil {
		return decimal.Zero, "ask", fmt.Errorf("bad ask %q", as)
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2)), "", nil
}
