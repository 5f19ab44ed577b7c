package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/ethpandaops/importoor/pkg/importer"
	"github.com/ethpandaops/importoor/pkg/store"
)

const (
	importFormField       = "file"
	multipartMemoryLimit  = 32 << 20
	msgImportSucceeded    = "File successfully processed"
	msgFileMissing        = "File is missing"
	msgFileTooLarge       = "File is too large"
	msgInvalidUploadForm  = "Request must be a multipart form with a file field"
	msgPersistenceFailure = "Failed to save data. Please try again."
)

type importResponse struct {
	Message  string        `json:"message"`
	ImportID string        `json:"import_id"`
	Result   *store.Result `json:"result"`
}

// handleImport accepts a multipart upload in the "file" field and replaces
// the stored data for the uploaded file name.
func (s *server) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		var maxBytesErr *http.MaxBytesError

		switch {
		case errors.As(err, &maxBytesErr):
			writeJSON(w, http.StatusBadRequest, errorResponse{msgFileTooLarge})
		case errors.Is(err, http.ErrNotMultipart):
			writeJSON(w, http.StatusBadRequest, errorResponse{msgInvalidUploadForm})
		default:
			s.log.WithError(err).Debug("Failed to parse upload")
			writeJSON(w, http.StatusBadRequest, errorResponse{msgInvalidUploadForm})
		}

		return
	}

	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			s.log.WithError(err).Warn("Failed to remove multipart temp files")
		}
	}()

	file, header, err := r.FormFile(importFormField)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{msgFileMissing})

		return
	}
	defer file.Close()

	importID := uuid.NewString()
	fileName := importer.FileNameFromUpload(header.Filename)

	ctx, cancel := context.WithTimeout(
		importer.WithImportID(r.Context(), importID), s.importTimeout,
	)
	defer cancel()

	result, err := s.importer.Import(ctx, fileName, file)
	if err != nil {
		switch importer.KindOf(err) {
		case importer.KindValidation:
			writeJSON(w, http.StatusBadRequest,
				errorResponse{importer.PublicMessage(err)})
		case importer.KindPersistence:
			writeJSON(w, http.StatusInternalServerError,
				errorResponse{msgPersistenceFailure})
		default:
			writeJSON(w, http.StatusInternalServerError, errorResponse{msgInternal})
		}

		return
	}

	writeJSON(w, http.StatusOK, importResponse{
		Message:  msgImportSucceeded,
		ImportID: importID,
		Result:   result,
	})
}
