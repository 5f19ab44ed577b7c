package store

import (
	"time"

	"gorm.io/gorm"
)

// ResultFilter holds optional bounds for listing results. Every bound that
// is set narrows the listing; unset bounds are ignored. Range bounds are
// inclusive.
type ResultFilter struct {
	FileName             string
	MinDateFrom          *time.Time
	MinDateTo            *time.Time
	AvgValueFrom         *float64
	AvgValueTo           *float64
	AvgExecutionTimeFrom *float64
	AvgExecutionTimeTo   *float64
}

func where(query string, arg any) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(query, arg)
	}
}

// Scopes returns one predicate per bound that is set. gorm AND-s them.
func (f ResultFilter) Scopes() []func(*gorm.DB) *gorm.DB {
	var scopes []func(*gorm.DB) *gorm.DB

	if f.FileName != "" {
		scopes = append(scopes, where("file_name = ?", f.FileName))
	}

	if f.MinDateFrom != nil {
		scopes = append(scopes, where("min_date >= ?", f.MinDateFrom.UTC()))
	}

	if f.MinDateTo != nil {
		scopes = append(scopes, where("min_date <= ?", f.MinDateTo.UTC()))
	}

	if f.AvgValueFrom != nil {
		scopes = append(scopes, where("avg_value >= ?", *f.AvgValueFrom))
	}

	if f.AvgValueTo != nil {
		scopes = append(scopes, where("avg_value <= ?", *f.AvgValueTo))
	}

	if f.AvgExecutionTimeFrom != nil {
		scopes = append(scopes, where("avg_execution_time >= ?", *f.AvgExecutionTimeFrom))
	}

	if f.AvgExecutionTimeTo != nil {
		scopes = append(scopes, where("avg_execution_time <= ?", *f.AvgExecutionTimeTo))
	}

	return scopes
}
