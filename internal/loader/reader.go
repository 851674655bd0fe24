package loader

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"

	"immobilier/server/internal/dvf"
)

// BatchReader yields the rows of one DVF file in source order. It keeps no
// cursor outside the process: opening the file again restarts the sequence.
type BatchReader struct {
	file      *os.File
	csv       *csv.Reader
	header    *dvf.Header
	batchSize int
	line      int
	encoding  string
	malformed int
}

func newBatchReader(path string, enc encoding.Encoding, charset string, batchSize int) (*BatchReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	cr := csv.NewReader(transform.NewReader(f, enc.NewDecoder()))
	cr.Comma = fieldSep
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	columns, err := cr.Read()
	if err != nil {
		f.Close()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("file %s is empty", path)
		}
		return nil, fmt.Errorf("failed to read header of %s: %w", path, err)
	}

	return &BatchReader{
		file:      f,
		csv:       cr,
		header:    dvf.NewHeader(columns),
		batchSize: batchSize,
		line:      1,
		encoding:  charset,
	}, nil
}

// Next returns up to batch size records, or io.EOF once the file is
// exhausted.
func (r *BatchReader) Next() ([]dvf.Record, error) {
	batch := make([]dvf.Record, 0, r.batchSize)
	for len(batch) < r.batchSize {
		fields, err := r.csv.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read line %d: %w", r.line+1, err)
		}
		r.line++

		rec, malformed := r.header.Parse(fields, r.line)
		r.malformed += malformed
		batch = append(batch, rec)
	}

	if len(batch) == 0 {
		return nil, io.EOF
	}
	return batch, nil
}

// Encoding is the charset used to decode the file.
func (r *BatchReader) Encoding() string {
	return r.encoding
}

// Malformed counts numeric values nulled because they could not be parsed.
func (r *BatchReader) Malformed() int {
	return r.malformed
}

// Lines is the number of data lines read so far.
func (r *BatchReader) Lines() int {
	return r.line - 1
}

func (r *BatchReader) Close() error {
	return r.file.Close()
}
