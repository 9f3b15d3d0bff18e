package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/PaesslerAG/jsonpath"
)

// parseJSON streams the payload one record at a time so errors can name
// the byte offset where the offending record starts.
func parseJSON(raw []byte) ([]record, defaults, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err == io.EOF {
		return nil, defaults{}, malformed(FormatJSON, pos{offset: 0}, -1, "", "empty input")
	}
	if err != nil {
		return nil, defaults{}, jsonError(err, dec, raw, -1)
	}

	var (
		recs []record
		defs defaults
	)
	switch tok {
	case json.Delim('['):
		recs, err = readRecords(dec, raw)
	case json.Delim('{'):
		recs, defs, err = readObject(dec, raw)
	default:
		return nil, defaults{}, malformed(FormatJSON, pos{offset: 0}, -1, "", "expected an array or object")
	}
	if err != nil {
		return nil, defaults{}, err
	}

	if _, err := dec.Token(); err != io.EOF {
		return nil, defaults{}, malformed(FormatJSON, pos{offset: dec.InputOffset()}, -1, "", "trailing data after document")
	}
	return recs, defs, nil
}

// readRecords reads array elements up to and including the closing ']'.
func readRecords(dec *json.Decoder, raw []byte) ([]record, error) {
	var recs []record
	for i := 0; dec.More(); i++ {
		at := pos{offset: nextToken(raw, dec.InputOffset())}
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, jsonError(err, dec, raw, i)
		}
		r, err := recordFromValue(v, at, i)
		if err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	if _, err := dec.Token(); err != nil {
		return nil, jsonError(err, dec, raw, -1)
	}
	return recs, nil
}

// readObject reads an object payload. The first array under a record key
// holds the records and scalar members are document defaults. An object
// without such an array is itself a single record.
func readObject(dec *json.Decoder, raw []byte) ([]record, defaults, error) {
	top := make(map[string]string)
	var (
		recs  []record
		found bool
	)
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return nil, defaults{}, jsonError(err, dec, raw, -1)
		}
		key, _ := kt.(string)
		key = strings.ToLower(key)

		next := nextToken(raw, dec.InputOffset())
		if !found && recordArrayKeys[key] && next < int64(len(raw)) && raw[next] == '[' {
			if _, err := dec.Token(); err != nil {
				return nil, defaults{}, jsonError(err, dec, raw, -1)
			}
			if recs, err = readRecords(dec, raw); err != nil {
				return nil, defaults{}, err
			}
			found = true
			continue
		}

		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, defaults{}, jsonError(err, dec, raw, -1)
		}
		if s, ok := scalar(v); ok {
			top[key] = s
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, defaults{}, jsonError(err, dec, raw, -1)
	}

	if !found {
		return []record{{fields: top, pos: pos{offset: nextToken(raw, 0)}}}, defaults{}, nil
	}
	var defs defaults
	defs.instrument, _ = lookup(top, instrumentFields)
	defs.source, _ = lookup(top, sourceFields)
	return recs, defs, nil
}

// parseJSONPath selects records with a JSONPath expression. Offsets are
// not known for selected records.
func parseJSONPath(raw []byte, expr string) ([]record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	var doc any
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, malformed(FormatJSON, pos{offset: 0}, -1, "", "empty input")
		}
		return nil, jsonError(err, dec, raw, -1)
	}

	v, err := jsonpath.Get(expr, doc)
	if err != nil {
		return nil, malformed(FormatJSON, pos{offset: -1}, -1, "", fmt.Sprintf("path %q: %v", expr, err))
	}

	var items []any
	switch x := v.(type) {
	case []any:
		items = x
		if allScalars(x) {
			// the path picked a single positional record
			items = []any{x}
		}
	default:
		items = []any{x}
	}

	recs := make([]record, 0, len(items))
	for i, item := range items {
		r, err := recordFromValue(item, pos{offset: -1}, i)
		if err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, nil
}

func recordFromValue(v any, at pos, i int) (record, error) {
	switch x := v.(type) {
	case map[string]any:
		fields := make(map[string]string, len(x))
		for k, val := range x {
			if s, ok := scalar(val); ok {
				fields[strings.ToLower(k)] = s
			}
		}
		return record{fields: fields, pos: at}, nil
	case []any:
		vals := make([]string, len(x))
		for j, val := range x {
			vals[j], _ = scalar(val)
		}
		return record{fields: positional(vals), pos: at}, nil
	default:
		return record{}, malformed(FormatJSON, at, i, "", "record is not an object or array")
	}
}

func scalar(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(x), true
	default:
		return "", false
	}
}

func allScalars(vs []any) bool {
	if len(vs) == 0 {
		return false
	}
	for _, v := range vs {
		if _, ok := scalar(v); !ok {
			return false
		}
	}
	return true
}

// nextToken skips whitespace and separators from off.
func nextToken(raw []byte, off int64) int64 {
	for off < int64(len(raw)) {
		switch raw[off] {
		case ' ', '\t', '\r', '\n', ',', ':':
			off++
		default:
			return off
		}
	}
	return off
}

func jsonError(err error, dec *json.Decoder, raw []byte, record int) error {
	off := dec.InputOffset()
	var se *json.SyntaxError
	var te *json.UnmarshalTypeError
	switch {
	case errors.As(err, &se):
		off = se.Offset
	case errors.As(err, &te):
		off = te.Offset
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		off = int64(len(raw))
		err = errors.New("unexpected end of input")
	}
	return malformed(FormatJSON, pos{offset: off}, record, "", err.Error())
}
