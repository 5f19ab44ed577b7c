package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/importoor/pkg/store"
)

var seedStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type seed struct {
	fileName string
	minDate  time.Time
	avgValue float64
	avgExec  float64
	rows     int
}

func seedResults(t *testing.T, st store.Store, seeds ...seed) {
	t.Helper()

	for _, s := range seeds {
		values := make([]store.Value, s.rows)
		for i := range values {
			values[i] = store.Value{
				Date:          s.minDate.Add(time.Duration(i) * time.Minute),
				ExecutionTime: s.avgExec,
				Value:         float64(i),
			}
		}

		require.NoError(t, st.ReplaceFile(context.Background(), s.fileName, values,
			&store.Result{
				MinDate:          s.minDate,
				AvgValue:         s.avgValue,
				AvgExecutionTime: s.avgExec,
			}))
	}
}

func fileNames(results []store.Result) []string {
	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, r.FileName)
	}

	return names
}

func TestHandleListResults(t *testing.T) {
	ts := setupTestServer(t, testConfig(), nil)

	seedResults(t, ts.store,
		seed{fileName: "alpha", minDate: seedStart, avgValue: 10, avgExec: 1, rows: 2},
		seed{fileName: "beta", minDate: seedStart.AddDate(0, 1, 0), avgValue: 20, avgExec: 2, rows: 2},
		seed{fileName: "gamma", minDate: seedStart.AddDate(0, 2, 0), avgValue: 30, avgExec: 3, rows: 2},
	)

	tests := []struct {
		name     string
		query    string
		expected []string
	}{
		{name: "no filters", query: "", expected: []string{"alpha", "beta", "gamma"}},
		{name: "file name", query: "file_name=beta", expected: []string{"beta"}},
		{name: "unknown file name", query: "file_name=delta", expected: []string{}},
		{
			name:     "avg value range inclusive",
			query:    "avg_value_from=20&avg_value_to=30",
			expected: []string{"beta", "gamma"},
		},
		{
			name:     "min date from",
			query:    "min_date_from=2024-02-01T00:00:00Z",
			expected: []string{"beta", "gamma"},
		},
		{
			name:     "min date to",
			query:    "min_date_to=2024-01-15T00:00:00Z",
			expected: []string{"alpha"},
		},
		{
			name:     "avg execution time upper bound",
			query:    "avg_execution_time_to=2",
			expected: []string{"alpha", "beta"},
		},
		{
			name:     "combined filters",
			query:    "avg_value_from=15&avg_execution_time_to=2",
			expected: []string{"beta"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.get("/api/v1/results?" + tt.query)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var results []store.Result
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&results))

			assert.ElementsMatch(t, tt.expected, fileNames(results))
		})
	}
}

func TestHandleListResults_BadQuery(t *testing.T) {
	ts := setupTestServer(t, testConfig(), nil)

	tests := []struct {
		name     string
		query    string
		expected string
	}{
		{
			name:     "negative avg value",
			query:    "avg_value_from=-1",
			expected: "avg_value_from must be greater than or equal to 0",
		},
		{
			name:     "negative avg execution time",
			query:    "avg_execution_time_to=-0.5",
			expected: "avg_execution_time_to must be greater than or equal to 0",
		},
		{
			name:     "malformed number",
			query:    "avg_value_to=abc",
			expected: `avg_value_to: invalid number "abc"`,
		},
		{
			name:     "malformed date",
			query:    "min_date_from=yesterday",
			expected: `min_date_from: invalid timestamp "yesterday"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.get("/api/v1/results?" + tt.query)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.expected, decodeError(t, rec))
		})
	}
}

func TestHandleGetResult(t *testing.T) {
	ts := setupTestServer(t, testConfig(), nil)

	seedResults(t, ts.store,
		seed{fileName: "alpha", minDate: seedStart, avgValue: 10, avgExec: 1, rows: 7},
	)

	t.Run("existing", func(t *testing.T) {
		rec := ts.get("/api/v1/results/alpha")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp resultResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

		require.NotNil(t, resp.Result)
		assert.Equal(t, "alpha", resp.Result.FileName)
		assert.InDelta(t, 10, resp.Result.AvgValue, 1e-9)
		assert.True(t, seedStart.Equal(resp.Result.MinDate))
		assert.Equal(t, int64(7), resp.ValueCount)
	})

	t.Run("missing", func(t *testing.T) {
		rec := ts.get("/api/v1/results/missing")

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "File 'missing' not found", decodeError(t, rec))
	})

	t.Run("blank name", func(t *testing.T) {
		rec := ts.get("/api/v1/results/%20")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "File name can't be empty", decodeError(t, rec))
	})
}

func TestHandleLastValues(t *testing.T) {
	ts := setupTestServer(t, testConfig(), nil)

	seedResults(t, ts.store,
		seed{fileName: "alpha", minDate: seedStart, avgValue: 10, avgExec: 1, rows: 15},
	)

	t.Run("default limit newest first", func(t *testing.T) {
		rec := ts.get("/api/v1/values/alpha/last")
		require.Equal(t, http.StatusOK, rec.Code)

		var values []store.Value
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&values))

		require.Len(t, values, defaultLastValuesLimit)
		assert.True(t, seedStart.Add(14*time.Minute).Equal(values[0].Date))

		for i := 1; i < len(values); i++ {
			assert.True(t, values[i-1].Date.After(values[i].Date))
		}
	})

	t.Run("explicit limit", func(t *testing.T) {
		rec := ts.get("/api/v1/values/alpha/last?limit=3")
		require.Equal(t, http.StatusOK, rec.Code)

		var values []store.Value
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&values))

		require.Len(t, values, 3)
		assert.InDelta(t, 14, values[0].Value, 1e-9)
	})

	t.Run("limit larger than stored rows", func(t *testing.T) {
		rec := ts.get("/api/v1/values/alpha/last?limit=1000")
		require.Equal(t, http.StatusOK, rec.Code)

		var values []store.Value
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&values))
		assert.Len(t, values, 15)
	})

	badLimits := []struct {
		limit    string
		expected string
	}{
		{limit: "0", expected: "limit must be greater than or equal to 1"},
		{limit: "-5", expected: "limit must be greater than or equal to 1"},
		{limit: "1001", expected: "limit must be less than or equal to 1000"},
		{limit: "ten", expected: `limit: invalid number "ten"`},
	}

	for _, tt := range badLimits {
		t.Run(fmt.Sprintf("bad limit %s", tt.limit), func(t *testing.T) {
			rec := ts.get("/api/v1/values/alpha/last?limit=" + tt.limit)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.expected, decodeError(t, rec))
		})
	}

	t.Run("unknown file", func(t *testing.T) {
		rec := ts.get("/api/v1/values/missing/last")

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "File 'missing' not found", decodeError(t, rec))
	})

	t.Run("blank name", func(t *testing.T) {
		rec := ts.get("/api/v1/values/%20/last")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
