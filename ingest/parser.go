// Package ingest turns externally fetched price payloads into price
// snapshots.
//
// JSON, YAML and CSV are accepted. A payload is parsed completely before
// anything is returned, so a bad record rejects the whole payload.
package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rustyeddy/tracker/market"
)

var (
	ErrMalformedInput  = errors.New("malformed input")
	ErrInvalidSnapshot = errors.New("invalid snapshot")
)

type Format int

const (
	FormatAuto Format = iota
	FormatJSON
	FormatYAML
	FormatCSV
)

func (f Format) String() string {
	switch f {
	case FormatAuto:
		return "auto"
	case FormatJSON:
		return "json"
	case FormatYAML:
		return "yaml"
	case FormatCSV:
		return "csv"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// ParseFormat parses a format name or file extension.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "", "auto":
		return FormatAuto, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "csv":
		return FormatCSV, nil
	default:
		return 0, fmt.Errorf("unknown format %q", s)
	}
}

// DetectFormat picks a format from a content type, then a file name or URL
// path, then the payload itself.
func DetectFormat(contentType, name string, raw []byte) Format {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "json"):
		return FormatJSON
	case strings.Contains(ct, "yaml"), strings.Contains(ct, "yml"):
		return FormatYAML
	case strings.Contains(ct, "csv"):
		return FormatCSV
	}
	if f, err := ParseFormat(path.Ext(name)); err == nil && f != FormatAuto {
		return f
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && (trimmed[0] == '[' || trimmed[0] == '{') {
		return FormatJSON
	}
	first, _, _ := bytes.Cut(trimmed, []byte("\n"))
	if bytes.Contains(first, []byte(",")) && !bytes.Contains(first, []byte(":")) {
		return FormatCSV
	}
	return FormatYAML
}

// MalformedInputError is a schema violation. Only the position fields that
// make sense for the format are set: Offset for JSON, Line and Column for
// YAML, Row for CSV.
type MalformedInputError struct {
	Format Format
	Offset int64
	Line   int
	Column int
	Row    int
	Record int // index of the record in the payload, -1 if not inside one
	Field  string
	Reason string
}

func (e *MalformedInputError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "malformed %s input", e.Format)
	switch {
	case e.Row > 0:
		fmt.Fprintf(&b, " at row %d", e.Row)
	case e.Line > 0:
		fmt.Fprintf(&b, " at line %d column %d", e.Line, e.Column)
	case e.Offset >= 0:
		fmt.Fprintf(&b, " at offset %d", e.Offset)
	}
	if e.Record >= 0 {
		fmt.Fprintf(&b, " (record %d", e.Record)
		if e.Field != "" {
			fmt.Fprintf(&b, ", field %s", e.Field)
		}
		b.WriteString(")")
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	return b.String()
}

func (e *MalformedInputError) Unwrap() error { return ErrMalformedInput }

// InvalidSnapshotError is a well-formed record that must not be cached.
type InvalidSnapshotError struct {
	Record     int
	Instrument string
	Time       time.Time
	Reason     string
}

func (e *InvalidSnapshotError) Error() string {
	return fmt.Sprintf("invalid snapshot (record %d, %s at %s): %s",
		e.Record, e.Instrument, e.Time.UTC().Format(time.RFC3339Nano), e.Reason)
}

func (e *InvalidSnapshotError) Unwrap() error { return ErrInvalidSnapshot }

// Parser converts one payload into snapshots.
type Parser struct {
	Format Format

	// Path is a JSONPath expression selecting the records of a JSON
	// payload whose shape is not one of the built-in ones.
	Path string

	// Instrument and Source fill records that do not name their own.
	Instrument string
	Source     string

	// MaxFutureSkew bounds how far past Now a timestamp may be. Zero means
	// 24 hours.
	MaxFutureSkew time.Duration
	Now           func() time.Time
}

// pos locates a record or value in the payload.
type pos struct {
	offset int64
	line   int
	column int
	row    int
}

// record is one flattened input record keyed by lower-cased field name.
type record struct {
	fields map[string]string
	pos    pos
}

// defaults are document-level values that apply to every record.
type defaults struct {
	instrument string
	source     string
}

// Parse decodes raw according to p.Format and validates the result.
func (p Parser) Parse(raw []byte) ([]market.PriceSnapshot, error) {
	format := p.Format
	if format == FormatAuto {
		format = DetectFormat("", "", raw)
	}

	var (
		recs []record
		defs defaults
		err  error
	)
	switch format {
	case FormatJSON:
		if p.Path != "" {
			recs, err = parseJSONPath(raw, p.Path)
		} else {
			recs, defs, err = parseJSON(raw)
		}
	case FormatYAML:
		recs, defs, err = parseYAML(raw)
	case FormatCSV:
		recs, err = parseCSV(raw)
	default:
		return nil, fmt.Errorf("unsupported format %s", format)
	}
	if err != nil {
		return nil, err
	}

	if defs.instrument == "" {
		defs.instrument = p.Instrument
	}
	if defs.source == "" {
		defs.source = p.Source
	}

	snaps, err := build(format, recs, defs)
	if err != nil {
		return nil, err
	}
	if err := p.validate(snaps); err != nil {
		return nil, err
	}
	return snaps, nil
}

func malformed(format Format, at pos, record int, field, reason string) *MalformedInputError {
	e := &MalformedInputError{
		Format: format,
		Offset: -1,
		Record: record,
		Field:  field,
		Reason: reason,
	}
	switch format {
	case FormatJSON:
		if at.offset >= 0 {
			e.Offset = at.offset
		}
	case FormatYAML:
		e.Line, e.Column = at.line, at.column
	case FormatCSV:
		e.Row = at.row
	}
	return e
}

func build(format Format, recs []record, defs defaults) ([]market.PriceSnapshot, error) {
	snaps := make([]market.PriceSnapshot, 0, len(recs))
	for i, r := range recs {
		inst, _ := lookup(r.fields, instrumentFields)
		if inst == "" {
			inst = defs.instrument
		}
		if inst == "" {
			return nil, malformed(format, r.pos, i, "instrument", "missing instrument")
		}

		ts, ok := lookup(r.fields, timeFields)
		if !ok {
			return nil, malformed(format, r.pos, i, "time", "missing time")
		}
		t, err := parseTime(ts)
		if err != nil {
			return nil, malformed(format, r.pos, i, "time", err.Error())
		}

		price, field, err := recordPrice(r.fields)
		if err != nil {
			return nil, malformed(format, r.pos, i, field, err.Error())
		}

		src, _ := lookup(r.fields, sourceFields)
		if src == "" {
			src = defs.source
		}

		snaps = append(snaps, market.PriceSnapshot{
			Instrument: inst,
			Time:       t,
			Price:      price,
			Source:     src,
		})
	}
	return snaps, nil
}

func (p Parser) validate(snaps []market.PriceSnapshot) error {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	skew := p.MaxFutureSkew
	if skew <= 0 {
		skew = 24 * time.Hour
	}
	limit := now().Add(skew)
	epoch := time.Unix(0, 0)

	last := make(map[string]time.Time)
	for i, s := range snaps {
		invalid := func(reason string) error {
			return &InvalidSnapshotError{Record: i, Instrument: s.Instrument, Time: s.Time, Reason: reason}
		}
		switch {
		case !s.Price.IsPositive():
			return invalid("price must be positive")
		case s.Time.Before(epoch):
			return invalid("timestamp before 1970")
		case s.Time.After(limit):
			return invalid(fmt.Sprintf("timestamp more than %s in the future", skew))
		}
		if prev, ok := last[s.Instrument]; ok && s.Time.Before(prev) {
			return invalid(fmt.Sprintf("timestamp goes backwards from %s", prev.Format(time.RFC3339Nano)))
		}
		last[s.Instrument] = s.Time
	}
	return nil
}
