// Package loader fetches the DVF archive, prepares the text file it contains
// and streams its rows in fixed-size batches.
package loader

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"
)

const (
	archiveName   = "dvf.zip"
	canonicalName = "dvf.txt"
	sampleSize    = 10 * 1024
	fieldSep      = '|'
)

// Options tunes the loader. Zero values fall back to the defaults used by
// the ingestion job.
type Options struct {
	DataDir          string
	BatchSize        int
	FallbackEncoding string
	HTTPTimeout      time.Duration
	RetryInitial     time.Duration
	RetryWindow      time.Duration
}

func (o *Options) setDefaults() {
	if o.DataDir == "" {
		o.DataDir = "data"
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 2000
	}
	if o.HTTPTimeout <= 0 {
		o.HTTPTimeout = 10 * time.Minute
	}
	if o.RetryInitial <= 0 {
		o.RetryInitial = 2 * time.Second
	}
	if o.RetryWindow <= 0 {
		o.RetryWindow = 2 * time.Minute
	}
}

// Loader turns a source locator into a BatchReader.
type Loader struct {
	opts     Options
	client   *http.Client
	detector Detector
	logger   *logrus.Logger
}

// New creates a loader. A nil client gets one with the configured timeout,
// a nil logger gets a JSON logger on stdout.
func New(opts Options, client *http.Client, logger *logrus.Logger) *Loader {
	opts.setDefaults()
	if client == nil {
		client = &http.Client{Timeout: opts.HTTPTimeout}
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Loader{
		opts:     opts,
		client:   client,
		detector: NewChardetDetector(),
		logger:   logger,
	}
}

// WithDetector replaces the encoding detector.
func (l *Loader) WithDetector(d Detector) *Loader {
	l.detector = d
	return l
}

// Open resolves the source, extracts it when it is an archive, detects its
// encoding once and returns a reader positioned on the first data row.
func (l *Loader) Open(ctx context.Context, source string) (*BatchReader, error) {
	if err := os.MkdirAll(l.opts.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	artifact, err := l.resolve(ctx, source)
	if err != nil {
		return nil, err
	}

	textPath, err := l.prepare(artifact)
	if err != nil {
		return nil, err
	}

	enc, charset, err := l.detectEncoding(textPath)
	if err != nil {
		return nil, err
	}

	l.logger.WithFields(logrus.Fields{
		"path":       textPath,
		"encoding":   charset,
		"batch_size": l.opts.BatchSize,
	}).Info("Opening DVF file")

	return newBatchReader(textPath, enc, charset, l.opts.BatchSize)
}

// resolve returns the local path of the raw artifact, downloading it once
// when the source is remote and no cached copy exists.
func (l *Loader) resolve(ctx context.Context, source string) (string, error) {
	if !isRemote(source) {
		if _, err := os.Stat(source); err != nil {
			return "", fmt.Errorf("failed to stat source %s: %w", source, err)
		}
		return source, nil
	}

	cached := filepath.Join(l.opts.DataDir, archiveName)
	if info, err := os.Stat(cached); err == nil && info.Size() > 0 {
		l.logger.WithField("path", cached).Info("Using cached DVF archive")
		return cached, nil
	}

	start := time.Now()
	if err := l.download(ctx, source, cached); err != nil {
		return "", err
	}
	l.logger.WithFields(logrus.Fields{
		"url":      source,
		"path":     cached,
		"duration": time.Since(start).String(),
	}).Info("Downloaded DVF archive")

	return cached, nil
}

// prepare extracts zip archives to the canonical text file and returns the
// path to parse. The extracted file is stamped with the archive's
// modification time and reused while the stamps match.
func (l *Loader) prepare(artifact string) (string, error) {
	mtype, err := mimetype.DetectFile(artifact)
	if err != nil {
		return "", fmt.Errorf("failed to sniff %s: %w", artifact, err)
	}

	if !isZip(mtype) {
		return artifact, nil
	}

	archiveInfo, err := os.Stat(artifact)
	if err != nil {
		return "", fmt.Errorf("failed to stat archive %s: %w", artifact, err)
	}
	dest := filepath.Join(l.opts.DataDir, canonicalName)
	if info, err := os.Stat(dest); err == nil && info.Size() > 0 && info.ModTime().Equal(archiveInfo.ModTime()) {
		l.logger.WithField("path", dest).Info("Reusing extracted DVF file")
		return dest, nil
	}

	entry, err := extractFirst(artifact, dest)
	if err != nil {
		return "", err
	}
	if err := os.Chtimes(dest, time.Now(), archiveInfo.ModTime()); err != nil {
		return "", fmt.Errorf("failed to stamp %s: %w", dest, err)
	}
	l.logger.WithFields(logrus.Fields{
		"archive": artifact,
		"entry":   entry,
		"path":    dest,
	}).Info("Extracted DVF archive")

	return dest, nil
}

func isZip(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is("application/zip") {
			return true
		}
	}
	return false
}

func isRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}
