package importer

import (
	"errors"
)

// Kind classifies an import failure.
type Kind int

const (
	// KindValidation means the uploaded content was rejected.
	KindValidation Kind = iota + 1
	// KindPersistence means the content was valid but could not be stored.
	KindPersistence
	// KindInternal covers every other failure.
	KindInternal
)

const (
	msgPersistence = "Failed to save data. Please try again."
	msgInternal    = "Internal server error"
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPersistence:
		return "persistence"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is returned by Import for every failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}

	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Public returns the message that may be shown to the uploader. Only
// validation failures expose their detail.
func (e *Error) Public() string {
	switch e.Kind {
	case KindValidation:
		return e.Message
	case KindPersistence:
		return msgPersistence
	default:
		return msgInternal
	}
}

// KindOf returns the kind of err, or KindInternal for errors that did not
// come from Import.
func KindOf(err error) Kind {
	var importErr *Error
	if errors.As(err, &importErr) {
		return importErr.Kind
	}

	return KindInternal
}

// PublicMessage returns the uploader-facing message for any error.
func PublicMessage(err error) string {
	var importErr *Error
	if errors.As(err, &importErr) {
		return importErr.Public()
	}

	return msgInternal
}

func validationError(message string, cause error) *Error {
	return &Error{Kind: KindValidation, Message: message, Err: cause}
}
