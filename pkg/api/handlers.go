package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ethpandaops/importoor/pkg/measurement"
	"github.com/ethpandaops/importoor/pkg/store"
)

const (
	defaultLastValuesLimit = 10
	msgInternal            = "Internal server error"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// newValidator returns a validator that reports fields by their query name.
func newValidator() *validator.Validate {
	v := validator.New()

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("query"), ",", 2)[0]
		if name == "-" {
			return ""
		}

		return name
	})

	return v
}

// validationMessage renders the first failed rule of a validator error.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}

	fe := verrs[0]

	switch fe.Tag() {
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", fe.Field(), fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", fe.Field(), fe.Param())
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// resultsQuery holds the optional /results filters.
type resultsQuery struct {
	FileName             string     `query:"file_name" validate:"omitempty,max=255"`
	MinDateFrom          *time.Time `query:"min_date_from"`
	MinDateTo            *time.Time `query:"min_date_to"`
	AvgValueFrom         *float64   `query:"avg_value_from" validate:"omitempty,gte=0"`
	AvgValueTo           *float64   `query:"avg_value_to" validate:"omitempty,gte=0"`
	AvgExecutionTimeFrom *float64   `query:"avg_execution_time_from" validate:"omitempty,gte=0"`
	AvgExecutionTimeTo   *float64   `query:"avg_execution_time_to" validate:"omitempty,gte=0"`
}

func (q *resultsQuery) filter() store.ResultFilter {
	return store.ResultFilter{
		FileName:             q.FileName,
		MinDateFrom:          q.MinDateFrom,
		MinDateTo:            q.MinDateTo,
		AvgValueFrom:         q.AvgValueFrom,
		AvgValueTo:           q.AvgValueTo,
		AvgExecutionTimeFrom: q.AvgExecutionTimeFrom,
		AvgExecutionTimeTo:   q.AvgExecutionTimeTo,
	}
}

func parseResultsQuery(r *http.Request) (*resultsQuery, error) {
	values := r.URL.Query()
	q := &resultsQuery{FileName: strings.TrimSpace(values.Get("file_name"))}

	timeParams := []struct {
		key string
		dst **time.Time
	}{
		{"min_date_from", &q.MinDateFrom},
		{"min_date_to", &q.MinDateTo},
	}

	for _, p := range timeParams {
		key, dst := p.key, p.dst

		raw := strings.TrimSpace(values.Get(key))
		if raw == "" {
			continue
		}

		ts, err := measurement.ParseTimestamp(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid timestamp %q", key, raw)
		}

		*dst = &ts
	}

	floatParams := []struct {
		key string
		dst **float64
	}{
		{"avg_value_from", &q.AvgValueFrom},
		{"avg_value_to", &q.AvgValueTo},
		{"avg_execution_time_from", &q.AvgExecutionTimeFrom},
		{"avg_execution_time_to", &q.AvgExecutionTimeTo},
	}

	for _, p := range floatParams {
		key, dst := p.key, p.dst

		raw := strings.TrimSpace(values.Get(key))
		if raw == "" {
			continue
		}

		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid number %q", key, raw)
		}

		*dst = &f
	}

	return q, nil
}

// handleListResults returns the results matching the query filters, newest
// first.
func (s *server) handleListResults(w http.ResponseWriter, r *http.Request) {
	q, err := parseResultsQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	if err := s.validate.Struct(q); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{validationMessage(err)})

		return
	}

	results, err := s.store.ListResults(r.Context(), q.filter())
	if err != nil {
		s.log.WithError(err).Error("Failed to list results")
		writeJSON(w, http.StatusInternalServerError, errorResponse{msgInternal})

		return
	}

	writeJSON(w, http.StatusOK, results)
}

type resultResponse struct {
	Result     *store.Result `json:"result"`
	ValueCount int64         `json:"value_count"`
}

// handleGetResult returns the result of a single file name.
func (s *server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	fileName := strings.TrimSpace(chi.URLParam(r, "fileName"))
	if fileName == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{"File name can't be empty"})

		return
	}

	result, count, err := s.store.GetResultWithCount(r.Context(), fileName)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound,
			errorResponse{fmt.Sprintf("File '%s' not found", fileName)})

		return
	}

	if err != nil {
		s.log.WithError(err).WithField("file_name", fileName).
			Error("Failed to get result")
		writeJSON(w, http.StatusInternalServerError, errorResponse{msgInternal})

		return
	}

	writeJSON(w, http.StatusOK, resultResponse{Result: result, ValueCount: count})
}

type lastValuesQuery struct {
	Limit int `query:"limit" validate:"gte=1,lte=1000"`
}

// handleLastValues returns the most recent values of a file name.
func (s *server) handleLastValues(w http.ResponseWriter, r *http.Request) {
	fileName := strings.TrimSpace(chi.URLParam(r, "fileName"))
	if fileName == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{"File name can't be empty"})

		return
	}

	q := lastValuesQuery{Limit: defaultLastValuesLimit}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest,
				errorResponse{fmt.Sprintf("limit: invalid number %q", raw)})

			return
		}

		q.Limit = limit
	}

	if err := s.validate.Struct(q); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{validationMessage(err)})

		return
	}

	values, err := s.store.LastValues(r.Context(), fileName, q.Limit)
	if err != nil {
		s.log.WithError(err).WithField("file_name", fileName).
			Error("Failed to list values")
		writeJSON(w, http.StatusInternalServerError, errorResponse{msgInternal})

		return
	}

	if len(values) == 0 {
		writeJSON(w, http.StatusNotFound,
			errorResponse{fmt.Sprintf("File '%s' not found", fileName)})

		return
	}

	writeJSON(w, http.StatusOK, values)
}
