package journal

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/rustyeddy/tracker/market"
)

var csvHeader = []string{"id", "account", "instrument", "quantity", "price", "time", "state", "revision"}

// ExportCSV writes the given transactions as CSV with a header row.
func ExportCSV(w io.Writer, txs []market.Transaction) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, t := range txs {
		if err := cw.Write([]string{
			t.ID,
			t.Account,
			t.Instrument,
			t.Quantity.String(),
			t.Price.String(),
			t.Time.UTC().Format(time.RFC3339Nano),
			t.State.String(),
			strconv.FormatInt(t.Revision, 10),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportCSV writes the whole log in creation order.
func (s *Store) ExportCSV(w io.Writer) error {
	return ExportCSV(w, s.Transactions())
}
