// Package ingest reads raw environmental data files into datasets.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"geosense/data"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// Options configures CSV parsing. Zero-value column names fall back to
// "time", "x1" and "x2"; the default time format is a plain date.
type Options struct {
	// Charset of the input: "utf-8" (default), "gbk" or "latin1".
	// Station archives from regional weather agencies are frequently not
	// UTF-8.
	Charset string

	Comma rune

	TimeColumn string
	X1Column   string
	X2Column   string
	TimeFormat string

	// VarColumns are the value columns to read. Empty means every column
	// that is not a coordinate becomes a variable.
	VarColumns []string

	// ExtraColumns are carried into the frame as string metadata.
	ExtraColumns []string
}

func (o Options) withDefaults() Options {
	if o.Charset == "" {
		o.Charset = "utf-8"
	}
	if o.Comma == 0 {
		o.Comma = ','
	}
	if o.TimeColumn == "" {
		o.TimeColumn = "time"
	}
	if o.X1Column == "" {
		o.X1Column = "x1"
	}
	if o.X2Column == "" {
		o.X2Column = "x2"
	}
	if o.TimeFormat == "" {
		o.TimeFormat = "2006-01-02"
	}
	return o
}

func decodeReader(r io.Reader, charset string) (io.Reader, error) {
	switch strings.ToLower(charset) {
	case "utf-8", "utf8":
		return r, nil
	case "gbk":
		return transform.NewReader(r, simplifiedchinese.GBK.NewDecoder()), nil
	case "latin1", "iso-8859-1":
		return transform.NewReader(r, charmap.ISO8859_1.NewDecoder()), nil
	default:
		return nil, fmt.Errorf("unsupported charset %q", charset)
	}
}

type header struct {
	timeCol int
	x1Col   int
	x2Col   int
	varCols map[string]int
	extras  map[string]int
}

func parseHeader(record []string, opts Options) (*header, error) {
	idx := make(map[string]int, len(record))
	for i, name := range record {
		idx[strings.TrimSpace(name)] = i
	}
	h := &header{timeCol: -1, x1Col: -1, x2Col: -1, varCols: make(map[string]int), extras: make(map[string]int)}
	var ok bool
	if h.timeCol, ok = idx[opts.TimeColumn]; !ok {
		return nil, fmt.Errorf("missing column %q", opts.TimeColumn)
	}
	if h.x1Col, ok = idx[opts.X1Column]; !ok {
		return nil, fmt.Errorf("missing column %q", opts.X1Column)
	}
	if h.x2Col, ok = idx[opts.X2Column]; !ok {
		return nil, fmt.Errorf("missing column %q", opts.X2Column)
	}
	for _, name := range opts.ExtraColumns {
		col, ok := idx[name]
		if !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
		h.extras[name] = col
	}
	if len(opts.VarColumns) > 0 {
		for _, name := range opts.VarColumns {
			col, ok := idx[name]
			if !ok {
				return nil, fmt.Errorf("missing column %q", name)
			}
			h.varCols[name] = col
		}
		return h, nil
	}
	for name, col := range idx {
		if col == h.timeCol || col == h.x1Col || col == h.x2Col {
			continue
		}
		if _, isExtra := h.extras[name]; isExtra {
			continue
		}
		h.varCols[name] = col
	}
	if len(h.varCols) == 0 {
		return nil, errors.New("no variable columns found")
	}
	return h, nil
}

func (h *header) varNames(opts Options) []string {
	if len(opts.VarColumns) > 0 {
		return append([]string(nil), opts.VarColumns...)
	}
	names := make([]string, 0, len(h.varCols))
	for name := range h.varCols {
		names = append(names, name)
	}
	// Deterministic order regardless of map iteration.
	sort.Strings(names)
	return names
}

// ReadStationsCSV parses tabular point observations into a Frame. The frame
// keeps the configured column names as its dimension names, ready for a
// Processor configured the same way.
func ReadStationsCSV(r io.Reader, opts Options) (*data.Frame, error) {
	opts = opts.withDefaults()
	decoded, err := decodeReader(r, opts.Charset)
	if err != nil {
		return nil, err
	}
	reader := csv.NewReader(decoded)
	reader.Comma = opts.Comma
	reader.TrimLeadingSpace = true

	first, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	h, err := parseHeader(first, opts)
	if err != nil {
		return nil, err
	}
	names := h.varNames(opts)

	frame := &data.Frame{
		TimeName:   opts.TimeColumn,
		X1Name:     opts.X1Column,
		X2Name:     opts.X2Column,
		VarNames:   names,
		Vars:       make(map[string][]float64, len(names)),
		ExtraNames: append([]string(nil), opts.ExtraColumns...),
		Extras:     make(map[string][]string, len(opts.ExtraColumns)),
	}

	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line+1, err)
		}
		line++

		ts, err := time.Parse(opts.TimeFormat, strings.TrimSpace(record[h.timeCol]))
		if err != nil {
			return nil, fmt.Errorf("line %d: bad time %q: %w", line, record[h.timeCol], err)
		}
		x1, err := strconv.ParseFloat(strings.TrimSpace(record[h.x1Col]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad %s: %w", line, opts.X1Column, err)
		}
		x2, err := strconv.ParseFloat(strings.TrimSpace(record[h.x2Col]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad %s: %w", line, opts.X2Column, err)
		}
		frame.Times = append(frame.Times, ts)
		frame.X1 = append(frame.X1, x1)
		frame.X2 = append(frame.X2, x2)
		for _, name := range names {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[h.varCols[name]]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad %s: %w", line, name, err)
			}
			frame.Vars[name] = append(frame.Vars[name], v)
		}
		for name, col := range h.extras {
			frame.Extras[name] = append(frame.Extras[name], strings.TrimSpace(record[col]))
		}
	}

	if frame.Len() == 0 {
		return nil, errors.New("no data rows")
	}
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	return frame, nil
}
