package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/cenkalti/backoff/v4"

	"immobilier/server/internal/apperr"
)

// download streams url into dest. Transport errors, 429 and 5xx responses
// are retried with exponential backoff; other non-2xx statuses fail at once.
func (l *Loader) download(ctx context.Context, url, dest string) error {
	tmp := dest + ".part"

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(&apperr.FetchError{URL: url, Err: err})
		}

		resp, err := l.client.Do(req)
		if err != nil {
			l.logger.WithError(err).WithField("url", url).Warn("DVF download failed, retrying")
			return &apperr.FetchError{URL: url, Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			l.logger.WithField("status", resp.StatusCode).Warn("DVF download rejected, retrying")
			return &apperr.FetchError{URL: url, StatusCode: resp.StatusCode, Err: apperr.ErrUnexpectedStatus}
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return backoff.Permanent(&apperr.FetchError{URL: url, StatusCode: resp.StatusCode, Err: apperr.ErrUnexpectedStatus})
		}

		f, err := os.Create(tmp)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create %s: %w", tmp, err))
		}
		if _, err := io.Copy(f, resp.Body); err != nil {
			f.Close()
			return &apperr.FetchError{URL: url, Err: fmt.Errorf("failed to read body: %w", err)}
		}
		return f.Close()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.opts.RetryInitial
	b.MaxInterval = 30 * l.opts.RetryInitial
	b.MaxElapsedTime = l.opts.RetryWindow

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		os.Remove(tmp)
		var fetchErr *apperr.FetchError
		if errors.As(err, &fetchErr) {
			return fetchErr
		}
		return &apperr.FetchError{URL: url, Err: err}
	}

	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("failed to move download into place: %w", err)
	}
	return nil
}
