package measurement

import (
	"fmt"
	"time"
)

const (
	// MinRows is the smallest number of rows an import may contain.
	MinRows = 1
	// MaxRows is the largest number of rows an import may contain.
	MaxRows = 10000
)

// EarliestTimestamp is the earliest accepted measurement timestamp.
var EarliestTimestamp = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// ValidationError describes the first business rule a row set violates.
// Line is the 1-based data row index, or 0 when the error concerns the row
// set as a whole.
type ValidationError struct {
	Field   string
	Line    int
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Validate checks rows against the import rules and returns the first
// violation. The row count is checked first; each row is then checked in
// input order for its timestamp bounds, execution time and value, so the
// first offending row determines the error. now is the upper bound for
// timestamps.
func Validate(rows []Row, now time.Time) error {
	if len(rows) < MinRows || len(rows) > MaxRows {
		return &ValidationError{
			Field:   "rows",
			Message: "The number of lines must be between 1 and 10,000",
		}
	}

	for i, row := range rows {
		if err := validateRow(row, i+1, now); err != nil {
			return err
		}
	}

	return nil
}

func validateRow(row Row, line int, now time.Time) error {
	if row.Timestamp.Before(EarliestTimestamp) || row.Timestamp.After(now) {
		return &ValidationError{
			Field:   "Date",
			Line:    line,
			Message: "Invalid date: " + row.Timestamp.UTC().Format(time.RFC3339Nano),
		}
	}

	if row.ExecutionTime < 0 {
		return &ValidationError{
			Field:   "ExecutionTime",
			Line:    line,
			Message: "Execution time can't be less than 0",
		}
	}

	if row.Value < 0 {
		return &ValidationError{
			Field:   "Value",
			Line:    line,
			Message: "Value can't be less than 0",
		}
	}

	return nil
}

// Detail renders the error with its location, for logs.
func (e *ValidationError) Detail() string {
	if e.Line == 0 {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}

	return fmt.Sprintf("row %d: %s: %s", e.Line, e.Field, e.Message)
}
