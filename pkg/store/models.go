package store

import "time"

// Value is a single stored measurement. Every value belongs to exactly one
// file name and is only ever written or removed by ReplaceFile.
type Value struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	FileName      string    `gorm:"size:255;not null;index:idx_values_file_date,priority:1" json:"file_name"`
	Date          time.Time `gorm:"not null;index:idx_values_file_date,priority:2" json:"date"`
	ExecutionTime float64   `gorm:"not null" json:"execution_time"`
	Value         float64   `gorm:"not null" json:"value"`
}

// TableName overrides the gorm default.
func (Value) TableName() string {
	return "values"
}

// Result is the summary computed from the values of one file name. There is
// at most one Result per file name.
type Result struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	FileName         string    `gorm:"size:255;not null;uniqueIndex" json:"file_name"`
	MinDate          time.Time `gorm:"not null;index" json:"min_date"`
	DeltaSeconds     float64   `gorm:"not null" json:"delta_seconds"`
	AvgExecutionTime float64   `gorm:"not null;index" json:"avg_execution_time"`
	AvgValue         float64   `gorm:"not null;index" json:"avg_value"`
	MedianValue      float64   `gorm:"not null" json:"median_value"`
	MinValue         float64   `gorm:"not null" json:"min_value"`
	MaxValue         float64   `gorm:"not null" json:"max_value"`
	CreatedAt        time.Time `gorm:"not null;index" json:"created_at"`
}

// TableName overrides the gorm default.
func (Result) TableName() string {
	return "results"
}
