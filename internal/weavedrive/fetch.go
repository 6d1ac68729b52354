package weavedrive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/roach88/aosim/internal/metrics"
)

const (
	// DefaultRetryStep is the unit of the metadata retry ladder.
	DefaultRetryStep = 10 * time.Second
	// DefaultMaxAttempts bounds metadata fetches, first try included.
	DefaultMaxAttempts = 4
)

// Response is a fully read endpoint response.
type Response struct {
	Endpoint string
	Status   int
	Header   http.Header
	Body     []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

var errServerStatus = errors.New("server error status")

// Fetcher sends requests to a primary endpoint and its ordered alternates.
// Each endpoint sits behind its own circuit breaker.
type Fetcher struct {
	endpoints   []string
	breakers    []*gobreaker.CircuitBreaker
	client      *http.Client
	retryStep   time.Duration
	maxAttempts int
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) {
		f.client = c
	}
}

// WithRetryStep sets the ladder unit: attempt n waits (n-1)*step first.
func WithRetryStep(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		f.retryStep = d
	}
}

// WithMaxAttempts bounds metadata fetch attempts.
func WithMaxAttempts(n int) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxAttempts = n
		}
	}
}

// WithFetchLogger sets the fetcher logger.
func WithFetchLogger(l *slog.Logger) FetcherOption {
	return func(f *Fetcher) {
		f.logger = l
	}
}

// WithFetchMetrics records fetch outcomes.
func WithFetchMetrics(m *metrics.Metrics) FetcherOption {
	return func(f *Fetcher) {
		f.metrics = m
	}
}

// ParseEndpoints splits a comma-separated endpoint list. The first entry
// is the primary.
func ParseEndpoints(list string) []string {
	var out []string
	for _, e := range strings.Split(list, ",") {
		e = strings.TrimRight(strings.TrimSpace(e), "/")
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}

// NewFetcher creates a fetcher over endpoints.
func NewFetcher(endpoints []string, opts ...FetcherOption) (*Fetcher, error) {
	if len(endpoints) == 0 {
		return nil, &ConfigError{Message: "no endpoints"}
	}
	f := &Fetcher{
		endpoints:   append([]string(nil), endpoints...),
		client:      &http.Client{Timeout: 30 * time.Second},
		retryStep:   DefaultRetryStep,
		maxAttempts: DefaultMaxAttempts,
		sleep:       sleepContext,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	for _, e := range f.endpoints {
		f.breakers = append(f.breakers, gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    e,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				f.logger.Warn("endpoint breaker changed state", "endpoint", name, "from", from.String(), "to", to.String())
			},
		}))
	}
	return f, nil
}

// Endpoints returns the endpoint list, primary first.
func (f *Fetcher) Endpoints() []string {
	return append([]string(nil), f.endpoints...)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do tries each endpoint in order and returns the first 2xx response. When
// none succeeds, the primary's response is returned, or the primary's error
// if it produced no response.
func (f *Fetcher) Do(ctx context.Context, method, path string, header http.Header, body []byte) (*Response, error) {
	var primary *Response
	var primaryErr error
	for i, endpoint := range f.endpoints {
		resp, err := f.try(ctx, i, method, endpoint+path, header, body)
		if resp.OK() {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if i == 0 {
			primary, primaryErr = resp, err
		}
		f.logger.Debug("endpoint failed, trying next", "endpoint", endpoint, "path", path, "error", err)
	}
	if primary != nil {
		return primary, nil
	}
	return nil, primaryErr
}

func (f *Fetcher) try(ctx context.Context, i int, method, url string, header http.Header, body []byte) (*Response, error) {
	endpoint := f.endpoints[i]
	out, err := f.breakers[i].Execute(func() (interface{}, error) {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, rd)
		if err != nil {
			return nil, err
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		res, err := f.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer res.Body.Close()
		data, err := io.ReadAll(res.Body)
		if err != nil {
			return nil, err
		}
		resp := &Response{Endpoint: endpoint, Status: res.StatusCode, Header: res.Header, Body: data}
		if res.StatusCode >= 500 {
			return resp, errServerStatus
		}
		return resp, nil
	})

	resp, _ := out.(*Response)
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		f.metrics.ObserveFetch(endpoint, "open")
	case resp.OK():
		f.metrics.ObserveFetch(endpoint, "ok")
	default:
		f.metrics.ObserveFetch(endpoint, "failed")
	}
	return resp, err
}

// GetWithRetry fetches metadata, retrying failed attempts with a linearly
// increasing delay. A 404 from every endpoint is final and reported as
// ErrNotFound.
func (f *Fetcher) GetWithRetry(ctx context.Context, path string) (*Response, error) {
	var last *Response
	var lastErr error
	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		if attempt > 1 {
			f.metrics.IncFetchRetries()
			delay := time.Duration(attempt-1) * f.retryStep
			f.logger.Debug("retrying metadata fetch", "path", path, "attempt", attempt, "delay", delay)
			if err := f.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
		resp, err := f.Do(ctx, http.MethodGet, path, nil, nil)
		if resp.OK() {
			return resp, nil
		}
		if resp != nil && resp.Status == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		last, lastErr = resp, err
	}

	te := &TransientFetchError{Path: path, Attempts: f.maxAttempts, Err: lastErr}
	if last != nil {
		te.Status = last.Status
	}
	return nil, te
}
