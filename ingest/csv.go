package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strings"
)

// tickColumns is the header-less tick layout written by the trading tools:
//
//	time,instrument,bid,ask[,source]
var tickColumns = []string{"time", "instrument", "bid", "ask", "source"}

// parseCSV reads a header row naming the columns, or header-less tick rows.
func parseCSV(raw []byte) ([]record, error) {
	r := csv.NewReader(bytes.NewReader(raw))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	first, err := r.Read()
	if err == io.EOF {
		return nil, malformed(FormatCSV, pos{row: 1}, -1, "", "empty input")
	}
	if err != nil {
		return nil, csvError(err)
	}

	var (
		cols []string
		recs []record
	)
	if _, err := parseTime(first[0]); err == nil {
		cols = tickColumns
		line, _ := r.FieldPos(0)
		recs = append(recs, csvRecord(cols, first, line))
	} else {
		cols = make([]string, len(first))
		for i, h := range first {
			cols[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		}
		if !hasAny(cols, timeFields) || !(hasAny(cols, priceFields) || (hasAny(cols, []string{"bid"}) && hasAny(cols, []string{"ask"}))) {
			return nil, malformed(FormatCSV, pos{row: 1}, -1, "", "header must name a time and a price column")
		}
	}

	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, csvError(err)
		}
		line, _ := r.FieldPos(0)
		recs = append(recs, csvRecord(cols, row, line))
	}
	return recs, nil
}

func csvRecord(cols, row []string, line int) record {
	fields := make(map[string]string, len(cols))
	for i, v := range row {
		if i < len(cols) && cols[i] != "" {
			fields[cols[i]] = strings.TrimSpace(v)
		}
	}
	return record{fields: fields, pos: pos{row: line}}
}

func hasAny(cols, names []string) bool {
	for _, c := range cols {
		for _, n := range names {
			if c == n {
				return true
			}
		}
	}
	return false
}

func csvError(err error) error {
	at := pos{row: 1}
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		at.row = pe.Line
		err = pe.Err
	}
	return malformed(FormatCSV, at, -1, "", err.Error())
}
