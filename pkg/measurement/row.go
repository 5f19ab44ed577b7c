// Package measurement turns uploaded measurement files into validated rows
// and computes the per-file summary stored alongside them.
package measurement

import (
	"time"
)

// Row is a single parsed measurement.
type Row struct {
	Timestamp     time.Time
	ExecutionTime float64
	Value         float64
}

// Summary is the aggregate computed over every row of one file.
type Summary struct {
	FileName         string    `json:"file_name"`
	MinTimestamp     time.Time `json:"min_timestamp"`
	SpanSeconds      float64   `json:"span_seconds"`
	AvgExecutionTime float64   `json:"avg_execution_time"`
	AvgValue         float64   `json:"avg_value"`
	MedianValue      float64   `json:"median_value"`
	MinValue         float64   `json:"min_value"`
	MaxValue         float64   `json:"max_value"`
}
