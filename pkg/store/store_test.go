package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ethpandaops/importoor/pkg/config"
	"github.com/ethpandaops/importoor/pkg/store"
)

var baseTime = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func setupTestStore(t *testing.T) store.Store {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := store.NewStore(log, cfg)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

// steppingClock returns a clock that advances one second per call.
func steppingClock() func() time.Time {
	var mu sync.Mutex

	current := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()

		current = current.Add(time.Second)

		return current
	}
}

func makeValues(n int, value float64) []store.Value {
	values := make([]store.Value, n)
	for i := range values {
		values[i] = store.Value{
			Date:          baseTime.Add(time.Duration(i) * time.Minute),
			ExecutionTime: 1,
			Value:         value,
		}
	}

	return values
}

func makeResult(avgValue, avgExec float64, minDate time.Time) *store.Result {
	return &store.Result{
		MinDate:          minDate,
		DeltaSeconds:     60,
		AvgExecutionTime: avgExec,
		AvgValue:         avgValue,
		MedianValue:      avgValue,
		MinValue:         avgValue,
		MaxValue:         avgValue,
	}
}

func TestStore_ReplaceFileInsertsValuesAndResult(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceFile(ctx, "alpha", makeValues(5, 10), makeResult(10, 1, baseTime)))

	count, err := s.CountValues(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)

	result, err := s.GetResult(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "alpha", result.FileName)
	assert.Equal(t, 10.0, result.AvgValue)
	assert.True(t, baseTime.Equal(result.MinDate))
	assert.False(t, result.CreatedAt.IsZero())
}

func TestStore_ReplaceFileReplacesPriorData(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceFile(ctx, "alpha", makeValues(7, 1), makeResult(1, 1, baseTime)))
	require.NoError(t, s.ReplaceFile(ctx, "beta", makeValues(2, 5), makeResult(5, 1, baseTime)))
	require.NoError(t, s.ReplaceFile(ctx, "alpha", makeValues(3, 2), makeResult(2, 1, baseTime)))

	count, err := s.CountValues(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	values, err := s.LastValues(ctx, "alpha", 100)
	require.NoError(t, err)

	for _, v := range values {
		assert.Equal(t, 2.0, v.Value)
	}

	results, err := s.ListResults(ctx, store.ResultFilter{FileName: "alpha"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 2.0, results[0].AvgValue)

	// Other file names are untouched.
	count, err = s.CountValues(ctx, "beta")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestStore_ReplaceFileLargeBatch(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceFile(ctx, "big", makeValues(10000, 3), makeResult(3, 1, baseTime)))

	count, err := s.CountValues(ctx, "big")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), count)
}

func TestStore_FailedReplaceLeavesPriorDataUntouched(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceFile(ctx, "alpha", makeValues(4, 1), makeResult(1, 1, baseTime)))

	before, err := s.GetResult(ctx, "alpha")
	require.NoError(t, err)

	injected := errors.New("injected fault")

	db := store.DBForTest(s)
	require.NoError(t, db.Callback().Create().Before("gorm:create").
		Register("test:fail_results", func(tx *gorm.DB) {
			if tx.Statement.Schema != nil && tx.Statement.Schema.Table == "results" {
				_ = tx.AddError(injected)
			}
		}))

	t.Cleanup(func() {
		_ = db.Callback().Create().Remove("test:fail_results")
	})

	err = s.ReplaceFile(ctx, "alpha", makeValues(9, 99), makeResult(99, 1, baseTime))
	require.Error(t, err)

	var persistErr *store.PersistenceError
	require.ErrorAs(t, err, &persistErr)
	assert.Equal(t, "alpha", persistErr.FileName)
	assert.ErrorIs(t, err, injected)

	count, err := s.CountValues(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	values, err := s.LastValues(ctx, "alpha", 10)
	require.NoError(t, err)

	for _, v := range values {
		assert.Equal(t, 1.0, v.Value)
	}

	after, err := s.GetResult(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, before.AvgValue, after.AvgValue)
}

func TestStore_ReplaceFileRequiresResult(t *testing.T) {
	s := setupTestStore(t)

	err := s.ReplaceFile(context.Background(), "alpha", makeValues(1, 1), nil)

	var persistErr *store.PersistenceError
	require.ErrorAs(t, err, &persistErr)
}

func TestStore_ReplaceFileCancelledContext(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceFile(ctx, "alpha", makeValues(2, 1), makeResult(1, 1, baseTime)))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	err := s.ReplaceFile(cancelled, "alpha", makeValues(5, 2), makeResult(2, 1, baseTime))

	var persistErr *store.PersistenceError
	require.ErrorAs(t, err, &persistErr)

	count, err := s.CountValues(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestStore_ConcurrentReplaceDifferentNames(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup

	errs := make(chan error, 8)

	for i := 0; i < 8; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			name := fmt.Sprintf("file-%d", i)
			errs <- s.ReplaceFile(ctx, name, makeValues(i+1, float64(i)), makeResult(float64(i), 1, baseTime))
		}(i)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	for i := 0; i < 8; i++ {
		count, err := s.CountValues(ctx, fmt.Sprintf("file-%d", i))
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), count)
	}
}

func TestStore_GetResultNotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetResult(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_GetResultWithCount(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, _, err := s.GetResultWithCount(ctx, "alpha")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.ReplaceFile(ctx, "alpha", makeValues(7, 3), makeResult(3, 1, baseTime)))

	result, count, err := s.GetResultWithCount(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "alpha", result.FileName)
	assert.InDelta(t, 3, result.AvgValue, 1e-9)
	assert.Equal(t, int64(7), count)
}

func TestStore_GetResultWithCountDuringReplaces(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	// AvgValue records the row count of each import so a reader can tell
	// whether result and count came from the same one.
	replace := func(n int) error {
		return s.ReplaceFile(ctx, "alpha",
			makeValues(n, float64(n)), makeResult(float64(n), 1, baseTime))
	}

	require.NoError(t, replace(3))

	var (
		wg       sync.WaitGroup
		writeErr error
	)

	wg.Add(1)

	go func() {
		defer wg.Done()

		for i := range 50 {
			if err := replace(3 + (i%2)*4); err != nil {
				writeErr = err

				return
			}
		}
	}()

	for range 50 {
		result, count, err := s.GetResultWithCount(ctx, "alpha")
		require.NoError(t, err)
		assert.Equal(t, int64(result.AvgValue), count)
	}

	wg.Wait()
	require.NoError(t, writeErr)
}

func TestStore_LastValues(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceFile(ctx, "alpha", makeValues(15, 1), makeResult(1, 1, baseTime)))

	values, err := s.LastValues(ctx, "alpha", 10)
	require.NoError(t, err)
	require.Len(t, values, 10)

	assert.True(t, baseTime.Add(14*time.Minute).Equal(values[0].Date))

	for i := 1; i < len(values); i++ {
		assert.True(t, values[i-1].Date.After(values[i].Date))
	}

	values, err = s.LastValues(ctx, "missing", 10)
	require.NoError(t, err)
	assert.Empty(t, values)

	values, err = s.LastValues(ctx, "alpha", 0)
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestStore_ListResultsFilters(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	store.SetClockForTest(s, steppingClock())

	require.NoError(t, s.ReplaceFile(ctx, "low", makeValues(1, 10),
		makeResult(10, 1, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))))
	require.NoError(t, s.ReplaceFile(ctx, "mid", makeValues(1, 50),
		makeResult(50, 5, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))))
	require.NoError(t, s.ReplaceFile(ctx, "high", makeValues(1, 90),
		makeResult(90, 9, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))))

	f := func(v float64) *float64 { return &v }
	ts := func(y int) *time.Time {
		v := time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC)

		return &v
	}

	tests := []struct {
		name   string
		filter store.ResultFilter
		want   []string
	}{
		{
			name:   "no filter newest first",
			filter: store.ResultFilter{},
			want:   []string{"high", "mid", "low"},
		},
		{
			name:   "by file name",
			filter: store.ResultFilter{FileName: "mid"},
			want:   []string{"mid"},
		},
		{
			name:   "avg value range inclusive",
			filter: store.ResultFilter{AvgValueFrom: f(10), AvgValueTo: f(50)},
			want:   []string{"mid", "low"},
		},
		{
			name:   "avg execution time lower bound",
			filter: store.ResultFilter{AvgExecutionTimeFrom: f(5)},
			want:   []string{"high", "mid"},
		},
		{
			name:   "avg execution time upper bound",
			filter: store.ResultFilter{AvgExecutionTimeTo: f(4.9)},
			want:   []string{"low"},
		},
		{
			name:   "min date range",
			filter: store.ResultFilter{MinDateFrom: ts(2023), MinDateTo: ts(2024)},
			want:   []string{"mid", "low"},
		},
		{
			name: "bounds are and-ed",
			filter: store.ResultFilter{
				AvgValueFrom: f(40), MinDateTo: ts(2024),
			},
			want: []string{"mid"},
		},
		{
			name:   "nothing matches",
			filter: store.ResultFilter{AvgValueFrom: f(1000)},
			want:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := s.ListResults(ctx, tt.filter)
			require.NoError(t, err)

			names := make([]string, 0, len(results))
			for _, r := range results {
				names = append(names, r.FileName)
			}

			assert.Equal(t, tt.want, names)
		})
	}
}

func TestStore_StartUnsupportedDriver(t *testing.T) {
	s := store.NewStore(logrus.New(), &config.DatabaseConfig{Driver: "mysql"})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
	assert.NoError(t, s.Stop())
}
