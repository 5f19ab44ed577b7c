package measurement

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Delimiter separates fields in a measurement file.
const Delimiter = ';'

// Column names recognised in the header line, compared case-insensitively.
const (
	ColumnDate          = "date"
	ColumnTimestamp     = "timestamp"
	ColumnExecutionTime = "executiontime"
	ColumnValue         = "value"
)

// contextCheckInterval is how often (in records) Parse checks for cancellation.
const contextCheckInterval = 1000

// decimalNumber is the accepted number grammar: optional sign, digits with
// an optional fraction, optional exponent. Hex floats and '_' separators
// that strconv would accept are excluded.
var decimalNumber = regexp.MustCompile(`^[+-]?(?:[0-9]+(?:\.[0-9]*)?|\.[0-9]+)(?:[eE][+-]?[0-9]+)?$`)

// timestampLayouts are tried in order. Layouts without a zone parse as UTC.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// FormatError reports input that is not a well-formed measurement file.
// Structural errors concern the shape of the file (header, field count,
// quoting); the others concern a single field that did not parse.
type FormatError struct {
	Line       int
	Column     string
	Value      string
	Structural bool
	Err        error
}

func (e *FormatError) Error() string {
	if e.Structural {
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}

	return fmt.Sprintf("line %d: column %s: invalid value %q: %v",
		e.Line, e.Column, e.Value, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

type columnIndex struct {
	date, executionTime, value int
	width                      int
}

// Parse reads a semicolon-delimited measurement file. The first record is
// the header. An empty or header-only input yields no rows and no error.
// Any malformed record fails the whole parse and no rows are returned.
func Parse(ctx context.Context, r io.Reader) ([]Row, error) {
	br := bufio.NewReader(r)

	if prefix, err := br.Peek(len(utf8BOM)); err == nil && string(prefix) == string(utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	reader := csv.NewReader(br)
	reader.Comma = Delimiter
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return []Row{}, nil
	}

	if err != nil {
		return nil, structuralError(err)
	}

	line, _ := reader.FieldPos(0)

	cols, err := resolveColumns(header)
	if err != nil {
		return nil, &FormatError{Line: line, Structural: true, Err: err}
	}

	rows := make([]Row, 0, 64)

	for i := 0; ; i++ {
		if i%contextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, structuralError(err)
		}

		line, _ = reader.FieldPos(0)

		if len(record) != cols.width {
			return nil, &FormatError{
				Line:       line,
				Structural: true,
				Err: fmt.Errorf("expected %d fields, got %d",
					cols.width, len(record)),
			}
		}

		row, err := parseRecord(record, cols, line)
		if err != nil {
			return nil, err
		}

		rows = append(rows, row)
	}

	return rows, nil
}

func resolveColumns(header []string) (columnIndex, error) {
	cols := columnIndex{date: -1, executionTime: -1, value: -1, width: len(header)}

	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case ColumnDate, ColumnTimestamp:
			if cols.date < 0 {
				cols.date = i
			}
		case ColumnExecutionTime:
			cols.executionTime = i
		case ColumnValue:
			cols.value = i
		}
	}

	var missing []string

	if cols.date < 0 {
		missing = append(missing, "Date")
	}

	if cols.executionTime < 0 {
		missing = append(missing, "ExecutionTime")
	}

	if cols.value < 0 {
		missing = append(missing, "Value")
	}

	if len(missing) > 0 {
		return cols, fmt.Errorf("header is missing column(s): %s",
			strings.Join(missing, ", "))
	}

	return cols, nil
}

func parseRecord(record []string, cols columnIndex, line int) (Row, error) {
	var row Row

	raw := strings.TrimSpace(record[cols.date])

	ts, err := ParseTimestamp(raw)
	if err != nil {
		return Row{}, &FormatError{Line: line, Column: "Date", Value: raw, Err: err}
	}

	row.Timestamp = ts

	if row.ExecutionTime, err = parseNumber(record[cols.executionTime]); err != nil {
		return Row{}, &FormatError{
			Line: line, Column: "ExecutionTime",
			Value: record[cols.executionTime], Err: err,
		}
	}

	if row.Value, err = parseNumber(record[cols.value]); err != nil {
		return Row{}, &FormatError{
			Line: line, Column: "Value",
			Value: record[cols.value], Err: err,
		}
	}

	return row, nil
}

// ParseTimestamp parses a measurement timestamp and returns it in UTC.
// Timestamps without a zone offset are taken to be UTC.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognised timestamp format")
}

func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if !decimalNumber.MatchString(s) {
		return 0, fmt.Errorf("not a number")
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number")
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a finite number")
	}

	return f, nil
}

func structuralError(err error) error {
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return &FormatError{Line: parseErr.Line, Structural: true, Err: parseErr.Err}
	}

	return fmt.Errorf("reading measurement file: %w", err)
}
