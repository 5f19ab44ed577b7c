// Package importer runs the import pipeline: it parses and validates an
// uploaded measurement file, computes its summary and replaces whatever was
// stored for the same file name.
package importer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/importoor/pkg/archive"
	"github.com/ethpandaops/importoor/pkg/measurement"
	"github.com/ethpandaops/importoor/pkg/store"
)

// MaxFileNameLength is the longest accepted logical file name.
const MaxFileNameLength = 255

const (
	msgFileNameRequired = "File name is required"
	msgFileNameTooLong  = "File name is too long"
	msgEmptyFile        = "File is empty"
	msgInvalidData      = "File contains invalid data. Check the format"
	msgInvalidFormat    = "File contains data of an invalid format"
)

// Repository persists an imported file.
type Repository interface {
	ReplaceFile(
		ctx context.Context, fileName string, values []store.Value, result *store.Result,
	) error
}

// Option configures an Importer.
type Option func(*Importer)

// WithArchiver keeps a copy of every successfully imported file.
func WithArchiver(a archive.Archiver) Option {
	return func(i *Importer) {
		i.archiver = a
	}
}

// WithMetrics records import outcomes on m.
func WithMetrics(m *Metrics) Option {
	return func(i *Importer) {
		i.metrics = m
	}
}

// WithClock sets the clock used as the upper bound for timestamps.
func WithClock(now func() time.Time) Option {
	return func(i *Importer) {
		i.now = now
	}
}

// Importer composes parsing, validation, summary calculation and storage.
// It holds no state between imports and is safe for concurrent use.
type Importer struct {
	log      logrus.FieldLogger
	repo     Repository
	archiver archive.Archiver
	metrics  *Metrics
	now      func() time.Time
}

// New creates an Importer that stores files in repo.
func New(log logrus.FieldLogger, repo Repository, opts ...Option) *Importer {
	i := &Importer{
		log:      log.WithField("component", "importer"),
		repo:     repo,
		archiver: archive.Noop{},
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(i)
	}

	if i.metrics == nil {
		i.metrics = NewMetrics(nil)
	}

	return i
}

type importIDKey struct{}

// WithImportID attaches an import ID to ctx. Import logs under this ID and
// generates one when none is set.
func WithImportID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, importIDKey{}, id)
}

// ImportIDFromContext returns the import ID attached to ctx, if any.
func ImportIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(importIDKey{}).(string)

	return id, ok && id != ""
}

// Import parses content, validates it and replaces the data stored for
// fileName. Every failure is an *Error whose Kind tells validation,
// persistence and internal failures apart. Nothing is written unless the
// whole file is valid, and a cancelled ctx before the commit leaves stored
// data untouched.
func (i *Importer) Import(
	ctx context.Context, fileName string, content io.Reader,
) (*store.Result, error) {
	id, ok := ImportIDFromContext(ctx)
	if !ok {
		id = uuid.NewString()
	}

	log := i.log.WithFields(logrus.Fields{
		"import_id": id,
		"file_name": fileName,
	})

	start := time.Now()

	result, data, err := i.run(ctx, fileName, content)

	elapsed := time.Since(start)

	if err != nil {
		kind := KindOf(err)
		i.metrics.observe(kind.String(), elapsed.Seconds())

		entry := log.WithError(err).WithField("kind", kind.String())

		var validationErr *measurement.ValidationError
		if errors.As(err, &validationErr) {
			entry = entry.WithField("detail", validationErr.Detail())
		}

		if kind == KindValidation {
			entry.Info("Import rejected")
		} else {
			entry.Error("Import failed")
		}

		return nil, err
	}

	i.metrics.observe(OutcomeSuccess, elapsed.Seconds())

	if err := i.archiver.Archive(ctx, fileName, data); err != nil {
		i.metrics.ArchiveFailures.Inc()
		log.WithError(err).Warn("Failed to archive imported file")
	}

	log.WithFields(logrus.Fields{
		"avg_value": result.AvgValue,
		"duration":  elapsed.String(),
	}).Info("Import completed")

	return result, nil
}

func (i *Importer) run(
	ctx context.Context, fileName string, content io.Reader,
) (*store.Result, []byte, error) {
	switch {
	case strings.TrimSpace(fileName) == "":
		return nil, nil, validationError(msgFileNameRequired, nil)
	case utf8.RuneCountInString(fileName) > MaxFileNameLength:
		return nil, nil, validationError(msgFileNameTooLong, nil)
	}

	if content == nil {
		return nil, nil, validationError(msgEmptyFile, nil)
	}

	data, err := io.ReadAll(content)
	if err != nil {
		return nil, nil, &Error{
			Kind: KindInternal, Message: "reading uploaded content", Err: err,
		}
	}

	if len(data) == 0 {
		return nil, nil, validationError(msgEmptyFile, nil)
	}

	rows, err := measurement.Parse(ctx, bytes.NewReader(data))
	if err != nil {
		return nil, nil, classifyParseError(err)
	}

	if err := measurement.Validate(rows, i.now()); err != nil {
		var validationErr *measurement.ValidationError
		if errors.As(err, &validationErr) {
			return nil, nil, validationError(validationErr.Message, err)
		}

		return nil, nil, &Error{Kind: KindInternal, Message: "validating rows", Err: err}
	}

	values := make([]store.Value, len(rows))
	for n, row := range rows {
		values[n] = store.Value{
			FileName:      fileName,
			Date:          row.Timestamp,
			ExecutionTime: row.ExecutionTime,
			Value:         row.Value,
		}
	}

	result := toResult(measurement.Calculate(fileName, rows))

	if err := ctx.Err(); err != nil {
		return nil, nil, &Error{Kind: KindInternal, Message: "import cancelled", Err: err}
	}

	if err := i.repo.ReplaceFile(ctx, fileName, values, result); err != nil {
		return nil, nil, &Error{
			Kind: KindPersistence, Message: "storing imported file", Err: err,
		}
	}

	i.metrics.ImportRows.Observe(float64(len(rows)))

	return result, data, nil
}

func classifyParseError(err error) error {
	var formatErr *measurement.FormatError
	if errors.As(err, &formatErr) {
		if formatErr.Structural {
			return validationError(msgInvalidData, err)
		}

		return validationError(msgInvalidFormat, err)
	}

	return &Error{Kind: KindInternal, Message: "parsing uploaded content", Err: err}
}

func toResult(s measurement.Summary) *store.Result {
	return &store.Result{
		FileName:         s.FileName,
		MinDate:          s.MinTimestamp,
		DeltaSeconds:     s.SpanSeconds,
		AvgExecutionTime: s.AvgExecutionTime,
		AvgValue:         s.AvgValue,
		MedianValue:      s.MedianValue,
		MinValue:         s.MinValue,
		MaxValue:         s.MaxValue,
	}
}
