// Package apperr defines the error taxonomy shared by the ingestion and
// analysis pipeline.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrUnexpectedStatus   = errors.New("unexpected status code")
	ErrEncodingUndetected = errors.New("text encoding could not be detected")
)

// FetchError reports a failure to reach an external source.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// EncodingError reports an undetectable or unsupported text encoding.
type EncodingError struct {
	Path    string
	Charset string
	Err     error
}

func (e *EncodingError) Error() string {
	if e.Charset != "" {
		return fmt.Sprintf("encoding of %s (%s): %v", e.Path, e.Charset, e.Err)
	}
	return fmt.Sprintf("encoding of %s: %v", e.Path, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// ValidationError reports a row rejected by a required-field or range
// constraint while writing a batch. Row is the 1-based source line, zero
// when unknown.
type ValidationError struct {
	Row   int
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	switch {
	case e.Row > 0 && e.Field != "":
		return fmt.Sprintf("row %d: field %s: %v", e.Row, e.Field, e.Err)
	case e.Row > 0:
		return fmt.Sprintf("row %d: %v", e.Row, e.Err)
	case e.Field != "":
		return fmt.Sprintf("field %s: %v", e.Field, e.Err)
	default:
		return fmt.Sprintf("validation: %v", e.Err)
	}
}

func (e *ValidationError) Unwrap() error { return e.Err }

// StorageError reports a failed database operation or commit.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
