package store

import (
	"time"

	"gorm.io/gorm"
)

// DBForTest exposes the underlying connection so tests can inject faults.
func DBForTest(s Store) *gorm.DB {
	return s.(*store).db
}

// SetClockForTest replaces the clock used for Result.CreatedAt.
func SetClockForTest(s Store, now func() time.Time) {
	s.(*store).now = now
}
