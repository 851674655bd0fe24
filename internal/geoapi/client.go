// Package geoapi reads the commune reference list of geo.api.gouv.fr.
package geoapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"

	"immobilier/server/internal/apperr"
	"immobilier/server/internal/models"
)

const requestedFields = "nom,code,codeDepartement,codeRegion,population,surface,centre"

// Commune is one entry of the reference API response.
type Commune struct {
	Code            string            `json:"code"`
	Nom             string            `json:"nom"`
	CodeDepartement string            `json:"codeDepartement"`
	CodeRegion      string            `json:"codeRegion"`
	Population      *int              `json:"population"`
	Surface         *float64          `json:"surface"`
	Centre          *geojson.Geometry `json:"centre"`
}

// Model maps the API entry to its storage row.
func (c Commune) Model() models.Commune {
	m := models.Commune{
		Code:            c.Code,
		Nom:             c.Nom,
		CodeDepartement: c.CodeDepartement,
		CodeRegion:      c.CodeRegion,
		Population:      c.Population,
		Surface:         c.Surface,
	}
	if c.Centre != nil {
		if p, ok := c.Centre.Coordinates.(orb.Point); ok {
			lon, lat := p.Lon(), p.Lat()
			m.Longitude = &lon
			m.Latitude = &lat
		}
	}
	return m
}

type Options struct {
	BaseURL      string
	Timeout      time.Duration
	RetryInitial time.Duration
	RetryWindow  time.Duration

	// Consecutive failed calls before the breaker opens
	FailureThreshold uint32
	// Time the breaker stays open before letting a trial call through
	OpenTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	if o.RetryInitial <= 0 {
		o.RetryInitial = 500 * time.Millisecond
	}
	if o.RetryWindow <= 0 {
		o.RetryWindow = time.Minute
	}
	if o.FailureThreshold == 0 {
		o.FailureThreshold = 3
	}
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = 2 * time.Minute
	}
}

type Client struct {
	opts    Options
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]Commune]
	logger  *logrus.Logger
}

func NewClient(opts Options, logger *logrus.Logger) *Client {
	opts.setDefaults()
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	c := &Client{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]Commune](gobreaker.Settings{
		Name:        "geo-api-communes",
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			// a cancelled caller says nothing about the upstream
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})
	return c
}

// BreakerState reports the circuit breaker state for health checks.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// FetchCommunes downloads the full commune list in one call. Transport
// errors, 429 and 5xx answers are retried; an open breaker fails at once.
func (c *Client) FetchCommunes(ctx context.Context) ([]Commune, error) {
	endpoint, err := c.endpoint()
	if err != nil {
		return nil, &apperr.FetchError{URL: c.opts.BaseURL, Err: err}
	}

	var communes []Commune
	operation := func() error {
		result, err := c.breaker.Execute(func() ([]Commune, error) {
			return c.get(ctx, endpoint)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(&apperr.FetchError{URL: endpoint, Err: err})
		}
		if err != nil {
			var fetchErr *apperr.FetchError
			if errors.As(err, &fetchErr) && !retryable(fetchErr.StatusCode) {
				return backoff.Permanent(err)
			}
			c.logger.WithError(err).WithField("url", endpoint).Warn("Commune fetch failed, retrying")
			return err
		}
		communes = result
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.RetryInitial
	b.MaxElapsedTime = c.opts.RetryWindow

	start := time.Now()
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		var fetchErr *apperr.FetchError
		if errors.As(err, &fetchErr) {
			return nil, fetchErr
		}
		return nil, &apperr.FetchError{URL: endpoint, Err: err}
	}

	c.logger.WithFields(logrus.Fields{
		"communes": len(communes),
		"duration": time.Since(start).String(),
	}).Info("Fetched commune reference list")
	return communes, nil
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.opts.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid communes API URL: %w", err)
	}
	q := u.Query()
	q.Set("fields", requestedFields)
	q.Set("format", "json")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]Commune, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &apperr.FetchError{URL: endpoint, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &apperr.FetchError{URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &apperr.FetchError{URL: endpoint, StatusCode: resp.StatusCode, Err: apperr.ErrUnexpectedStatus}
	}

	var communes []Commune
	if err := json.NewDecoder(resp.Body).Decode(&communes); err != nil {
		return nil, &apperr.FetchError{URL: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return communes, nil
}

// retryable reports whether a status is worth another attempt. Zero means
// the request never got an answer.
func retryable(status int) bool {
	return status == 0 || status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}
