package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorsUnwrap(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name string
		err  error
		msg  string
	}{
		{"fetch with status", &FetchError{URL: "http://x", StatusCode: 503, Err: ErrUnexpectedStatus}, "fetch http://x: status 503: unexpected status code"},
		{"fetch transport", &FetchError{URL: "http://x", Err: base}, "fetch http://x: boom"},
		{"encoding", &EncodingError{Path: "dvf.txt", Err: ErrEncodingUndetected}, "encoding of dvf.txt: text encoding could not be detected"},
		{"validation", &ValidationError{Row: 3, Field: "ValeurFonciere", Err: base}, "row 3: field ValeurFonciere: boom"},
		{"validation without row", &ValidationError{Err: base}, "validation: boom"},
		{"storage", &StorageError{Op: "commit", Err: base}, "storage commit: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.msg, tt.err.Error())
			assert.NotNil(t, errors.Unwrap(tt.err))
		})
	}
}

func TestErrorsAs(t *testing.T) {
	wrapped := fmt.Errorf("failed to ingest: %w", &FetchError{URL: "u", StatusCode: 404, Err: ErrUnexpectedStatus})

	var fetchErr *FetchError
	assert.True(t, errors.As(wrapped, &fetchErr))
	assert.Equal(t, 404, fetchErr.StatusCode)
	assert.True(t, errors.Is(wrapped, ErrUnexpectedStatus))
}
