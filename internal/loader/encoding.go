package loader

import (
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"immobilier/server/internal/apperr"
)

// minConfidence is the chardet score under which a guess is ignored.
const minConfidence = 10

// Detector guesses the charset of a byte sample.
type Detector interface {
	Detect(sample []byte) (string, error)
}

type chardetDetector struct {
	d *chardet.Detector
}

// NewChardetDetector returns the statistical detector used by default.
func NewChardetDetector() Detector {
	return &chardetDetector{d: chardet.NewTextDetector()}
}

func (c *chardetDetector) Detect(sample []byte) (string, error) {
	res, err := c.d.DetectBest(sample)
	if err != nil {
		return "", err
	}
	if res.Confidence < minConfidence {
		return "", fmt.Errorf("low confidence %d for %s", res.Confidence, res.Charset)
	}
	return res.Charset, nil
}

// detectEncoding samples the head of the file once and returns the decoder
// to use for the whole file.
func (l *Loader) detectEncoding(path string) (encoding.Encoding, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	sample := make([]byte, sampleSize)
	n, err := io.ReadFull(f, sample)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, "", fmt.Errorf("failed to sample %s: %w", path, err)
	}
	sample = sample[:n]

	charset, detectErr := l.guess(sample)
	if detectErr == nil {
		if enc, err := htmlindex.Get(charset); err == nil {
			return enc, charset, nil
		}
		detectErr = fmt.Errorf("unsupported charset %q", charset)
	}

	if l.opts.FallbackEncoding == "" {
		return nil, "", &apperr.EncodingError{Path: path, Charset: charset, Err: fmt.Errorf("%w: %v", apperr.ErrEncodingUndetected, detectErr)}
	}

	enc, err := htmlindex.Get(l.opts.FallbackEncoding)
	if err != nil {
		return nil, "", &apperr.EncodingError{Path: path, Charset: l.opts.FallbackEncoding, Err: err}
	}
	l.logger.WithError(detectErr).WithField("fallback", l.opts.FallbackEncoding).Warn("Encoding detection inconclusive, using fallback")
	return enc, l.opts.FallbackEncoding, nil
}

func (l *Loader) guess(sample []byte) (string, error) {
	if len(sample) == 0 {
		return "", fmt.Errorf("empty sample")
	}
	if utf8.Valid(trimPartialRune(sample)) {
		return "UTF-8", nil
	}
	return l.detector.Detect(sample)
}

// trimPartialRune drops a multi-byte sequence cut by the sample boundary.
func trimPartialRune(b []byte) []byte {
	for i := 1; i <= utf8.UTFMax-1 && i <= len(b); i++ {
		c := b[len(b)-i]
		if c < 0x80 {
			return b
		}
		if utf8.RuneStart(c) {
			if !utf8.FullRune(b[len(b)-i:]) {
				return b[:len(b)-i]
			}
			return b
		}
	}
	return b
}
