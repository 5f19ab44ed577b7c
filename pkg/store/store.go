package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/ethpandaops/importoor/pkg/config"
)

// insertBatchSize bounds the number of values per INSERT statement.
const insertBatchSize = 500

// ErrNotFound is returned when no result exists for a file name.
var ErrNotFound = errors.New("not found")

// PersistenceError is returned when a write to the database fails. The
// underlying driver error is available through Unwrap.
type PersistenceError struct {
	Op       string
	FileName string
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.FileName, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Store provides persistence for imported values and their results.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// ReplaceFile atomically replaces every value and the result stored
	// for fileName. On failure nothing stored for fileName changes.
	ReplaceFile(
		ctx context.Context, fileName string, values []Value, result *Result,
	) error

	ListResults(ctx context.Context, filter ResultFilter) ([]Result, error)
	GetResult(ctx context.Context, fileName string) (*Result, error)
	GetResultWithCount(ctx context.Context, fileName string) (*Result, int64, error)
	LastValues(ctx context.Context, fileName string, limit int) ([]Value, error)
	CountValues(ctx context.Context, fileName string) (int64, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
	now func() time.Time
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(log logrus.FieldLogger, cfg *config.DatabaseConfig) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
		now: time.Now,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dialector = postgres.Open(s.cfg.Postgres.DSN())
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	if s.cfg.Driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("getting underlying db: %w", err)
		}

		// One connection serialises writers and keeps ":memory:"
		// databases shared across callers.
		sqlDB.SetMaxOpenConns(1)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(
		&Value{},
		&Result{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// ReplaceFile deletes the values and result stored for fileName and inserts
// the given ones in a single transaction. On PostgreSQL a transaction-scoped
// advisory lock on the file name serialises concurrent replaces of the same
// name, so the last commit wins.
func (s *store) ReplaceFile(
	ctx context.Context, fileName string, values []Value, result *Result,
) error {
	if result == nil {
		return &PersistenceError{
			Op: "replace", FileName: fileName, Err: errors.New("result is required"),
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.cfg.Driver == "postgres" {
			if err := tx.Exec(
				"SELECT pg_advisory_xact_lock(hashtext(?))", fileName,
			).Error; err != nil {
				return fmt.Errorf("acquiring file lock: %w", err)
			}
		}

		if err := tx.Where("file_name = ?", fileName).
			Delete(&Value{}).Error; err != nil {
			return fmt.Errorf("deleting values: %w", err)
		}

		if err := tx.Where("file_name = ?", fileName).
			Delete(&Result{}).Error; err != nil {
			return fmt.Errorf("deleting result: %w", err)
		}

		for i := range values {
			values[i].ID = 0
			values[i].FileName = fileName
			values[i].Date = values[i].Date.UTC()
		}

		if len(values) > 0 {
			if err := tx.CreateInBatches(values, insertBatchSize).Error; err != nil {
				return fmt.Errorf("inserting values: %w", err)
			}
		}

		result.ID = 0
		result.FileName = fileName
		result.MinDate = result.MinDate.UTC()
		result.CreatedAt = s.now().UTC()

		if err := tx.Create(result).Error; err != nil {
			return fmt.Errorf("inserting result: %w", err)
		}

		return nil
	})
	if err != nil {
		return &PersistenceError{Op: "replace", FileName: fileName, Err: err}
	}

	s.log.WithFields(logrus.Fields{
		"file_name": fileName,
		"values":    len(values),
	}).Debug("Replaced file data")

	return nil
}

// ListResults returns the results matching filter, newest first.
func (s *store) ListResults(
	ctx context.Context, filter ResultFilter,
) ([]Result, error) {
	results := make([]Result, 0)
	if err := s.db.WithContext(ctx).
		Scopes(filter.Scopes()...).
		Order("created_at DESC").
		Order("id DESC").
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("listing results: %w", err)
	}

	return results, nil
}

// GetResult returns the result stored for fileName, or ErrNotFound.
func (s *store) GetResult(ctx context.Context, fileName string) (*Result, error) {
	var result Result

	err := s.db.WithContext(ctx).
		Where("file_name = ?", fileName).
		Take(&result).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("getting result: %w", err)
	}

	return &result, nil
}

// GetResultWithCount returns the result stored for fileName and the number
// of values stored with it, both read from one snapshot so they always
// belong to the same import. Returns ErrNotFound when no result exists.
func (s *store) GetResultWithCount(
	ctx context.Context, fileName string,
) (*Result, int64, error) {
	var (
		result Result
		count  int64
		opts   []*sql.TxOptions
	)

	// Read committed would give each statement its own snapshot.
	if s.cfg.Driver == "postgres" {
		opts = append(opts, &sql.TxOptions{
			Isolation: sql.LevelRepeatableRead,
			ReadOnly:  true,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("file_name = ?", fileName).
			Take(&result).Error; err != nil {
			return err
		}

		return tx.Model(&Value{}).
			Where("file_name = ?", fileName).
			Count(&count).Error
	}, opts...)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, 0, ErrNotFound
	}

	if err != nil {
		return nil, 0, fmt.Errorf("getting result with count: %w", err)
	}

	return &result, count, nil
}

// LastValues returns up to limit values for fileName, most recent first.
func (s *store) LastValues(
	ctx context.Context, fileName string, limit int,
) ([]Value, error) {
	if limit <= 0 {
		return []Value{}, nil
	}

	values := make([]Value, 0)
	if err := s.db.WithContext(ctx).
		Where("file_name = ?", fileName).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "date"}, Desc: true}).
		Order("id DESC").
		Limit(limit).
		Find(&values).Error; err != nil {
		return nil, fmt.Errorf("listing last values: %w", err)
	}

	return values, nil
}

// CountValues returns the number of values stored for fileName.
func (s *store) CountValues(ctx context.Context, fileName string) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&Value{}).
		Where("file_name = ?", fileName).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting values: %w", err)
	}

	return count, nil
}
