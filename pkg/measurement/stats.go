package measurement

import (
	"sort"
)

// Calculate computes the summary of rows for fileName. The result does not
// depend on the order of rows, and rows is not modified.
//
// rows must not be empty; Calculate panics otherwise. Validate guarantees
// this for any row set that passed validation.
func Calculate(fileName string, rows []Row) Summary {
	if len(rows) == 0 {
		panic("measurement: Calculate called with no rows")
	}

	minTS := rows[0].Timestamp
	maxTS := rows[0].Timestamp

	execs := make([]float64, len(rows))
	values := make([]float64, len(rows))

	for i, row := range rows {
		if row.Timestamp.Before(minTS) {
			minTS = row.Timestamp
		}

		if row.Timestamp.After(maxTS) {
			maxTS = row.Timestamp
		}

		execs[i] = row.ExecutionTime
		values[i] = row.Value
	}

	// Summing in sorted order keeps the means bit-identical under any
	// permutation of rows.
	sort.Float64s(execs)
	sort.Float64s(values)

	return Summary{
		FileName:         fileName,
		MinTimestamp:     minTS.UTC(),
		SpanSeconds:      maxTS.Sub(minTS).Seconds(),
		AvgExecutionTime: mean(execs),
		AvgValue:         mean(values),
		MedianValue:      median(values),
		MinValue:         values[0],
		MaxValue:         values[len(values)-1],
	}
}

// median returns the median of an ascending, non-empty slice.
func median(sorted []float64) float64 {
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}

	return (sorted[mid-1] + sorted[mid]) / 2
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}

	return sum / float64(len(xs))
}
