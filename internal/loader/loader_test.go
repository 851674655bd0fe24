package loader

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"immobilier/server/internal/apperr"
	"immobilier/server/internal/dvf"
)

const testHeader = "Date mutation|Nature mutation|Valeur fonciere|Code postal|Commune|Code departement|Code commune|Type local|Surface reelle bati"

func testLines(n int) string {
	var b strings.Builder
	b.WriteString(testHeader + "\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "0%d/06/2023|Vente|%d000,00|75001|PARIS 01|75|101|Appartement|50\n", i+1, 100+i)
	}
	return b.String()
}

func testLoader(t *testing.T, opts Options) *Loader {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	if opts.DataDir == "" {
		opts.DataDir = t.TempDir()
	}
	opts.RetryInitial = 5 * time.Millisecond
	if opts.RetryWindow == 0 {
		opts.RetryWindow = 100 * time.Millisecond
	}
	return New(opts, nil, logger)
}

func zipBytes(t *testing.T, name, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	require.NoError(t, err)
	_, err = w.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func readAll(t *testing.T, r *BatchReader) [][]dvf.Record {
	t.Helper()
	var batches [][]dvf.Record
	for {
		batch, err := r.Next()
		if errors.Is(err, io.EOF) {
			return batches
		}
		require.NoError(t, err)
		batches = append(batches, batch)
	}
}

func TestOpenLocalFileInBatches(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.txt")
	require.NoError(t, os.WriteFile(path, []byte(testLines(5)), 0644))

	l := testLoader(t, Options{DataDir: dir, BatchSize: 2})
	r, err := l.Open(context.Background(), path)
	require.NoError(t, err)
	defer r.Close()

	batches := readAll(t, r)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[1], 2)
	assert.Len(t, batches[2], 1)
	assert.Equal(t, "UTF-8", r.Encoding())
	assert.Equal(t, 5, r.Lines())

	first := batches[0][0]
	assert.Equal(t, "01/06/2023", first.RawDate)
	require.NotNil(t, first.ValeurFonciere)
	assert.Equal(t, 100000.0, *first.ValeurFonciere)
	assert.Equal(t, 2, first.Line)
	assert.Equal(t, 6, batches[2][0].Line)

	// a second Open restarts the sequence
	again, err := l.Open(context.Background(), path)
	require.NoError(t, err)
	defer again.Close()
	batch, err := again.Next()
	require.NoError(t, err)
	assert.Equal(t, "01/06/2023", batch[0].RawDate)
}

func TestOpenRemoteArchiveIsCached(t *testing.T) {
	payload := zipBytes(t, "valeursfoncieres-2023.txt", testLines(3))
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	l := testLoader(t, Options{DataDir: dir, BatchSize: 10})

	for i := 0; i < 2; i++ {
		r, err := l.Open(context.Background(), srv.URL)
		require.NoError(t, err)
		batches := readAll(t, r)
		require.NoError(t, r.Close())
		require.Len(t, batches, 1)
		assert.Len(t, batches[0], 3)
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.FileExists(t, filepath.Join(dir, "dvf.zip"))
	assert.FileExists(t, filepath.Join(dir, "dvf.txt"))
}

func TestOpenReusesExtractedFile(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "upload.zip")
	require.NoError(t, os.WriteFile(archive, zipBytes(t, "valeursfoncieres-2023.txt", testLines(3)), 0644))
	l := testLoader(t, Options{DataDir: dir, BatchSize: 10})

	count := func() int {
		r, err := l.Open(context.Background(), archive)
		require.NoError(t, err)
		defer r.Close()
		n := 0
		for _, b := range readAll(t, r) {
			n += len(b)
		}
		return n
	}
	require.Equal(t, 3, count())

	// Rewrite the extracted file but keep its stamp: a second Open must
	// read it as is instead of extracting again.
	extracted := filepath.Join(dir, "dvf.txt")
	info, err := os.Stat(extracted)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(extracted, []byte(testLines(1)), 0644))
	require.NoError(t, os.Chtimes(extracted, time.Now(), info.ModTime()))
	assert.Equal(t, 1, count())

	// A newer archive is extracted again.
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(archive, later, later))
	assert.Equal(t, 3, count())
}

func TestOpenRemoteNotFound(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	l := testLoader(t, Options{})
	_, err := l.Open(context.Background(), srv.URL)
	require.Error(t, err)

	var fetchErr *apperr.FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, http.StatusNotFound, fetchErr.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestOpenRemoteRetriesServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	l := testLoader(t, Options{RetryWindow: 80 * time.Millisecond})
	_, err := l.Open(context.Background(), srv.URL)
	require.Error(t, err)

	var fetchErr *apperr.FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Greater(t, atomic.LoadInt32(&hits), int32(1))
}

func TestOpenMissingLocalFile(t *testing.T) {
	l := testLoader(t, Options{})
	_, err := l.Open(context.Background(), filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

type stubDetector struct {
	charset string
	err     error
}

func (s stubDetector) Detect([]byte) (string, error) { return s.charset, s.err }

// latin1 encodes "Valeur fonciere|Commune\n1000,00|Sèvres\n" in ISO-8859-1.
func latin1Sample() []byte {
	return []byte("Valeur fonciere|Commune\n1000,00|S\xe8vres\n")
}

func TestEncodingDetectedByDetector(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "latin1.txt")
	require.NoError(t, os.WriteFile(path, latin1Sample(), 0644))

	l := testLoader(t, Options{DataDir: dir}).WithDetector(stubDetector{charset: "ISO-8859-1"})
	r, err := l.Open(context.Background(), path)
	require.NoError(t, err)
	defer r.Close()

	batch, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "Sèvres", batch[0].Commune)
	assert.Equal(t, "ISO-8859-1", r.Encoding())
}

func TestEncodingFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "latin1.txt")
	require.NoError(t, os.WriteFile(path, latin1Sample(), 0644))

	l := testLoader(t, Options{DataDir: dir, FallbackEncoding: "windows-1252"}).
		WithDetector(stubDetector{err: errors.New("inconclusive")})
	r, err := l.Open(context.Background(), path)
	require.NoError(t, err)
	defer r.Close()

	batch, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "Sèvres", batch[0].Commune)
	assert.Equal(t, "windows-1252", r.Encoding())
}

func TestEncodingUndetectedWithoutFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "latin1.txt")
	require.NoError(t, os.WriteFile(path, latin1Sample(), 0644))

	l := testLoader(t, Options{DataDir: dir}).WithDetector(stubDetector{charset: "x-unknown-charset"})
	_, err := l.Open(context.Background(), path)
	require.Error(t, err)

	var encErr *apperr.EncodingError
	require.True(t, errors.As(err, &encErr))
	assert.ErrorIs(t, err, apperr.ErrEncodingUndetected)
}

func TestTrimPartialRune(t *testing.T) {
	full := []byte("abc\xc3\xa9")
	assert.Equal(t, full, trimPartialRune(full))
	assert.Equal(t, []byte("abc"), trimPartialRune([]byte("abc\xc3")))
	assert.Equal(t, []byte("ab"), trimPartialRune([]byte("ab\xe2\x82")))
	assert.Equal(t, []byte("abc"), trimPartialRune([]byte("abc")))
}
