package weavedrive

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statusServer(t *testing.T, status int, body string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// recordSleeps replaces the fetcher's sleep with one that records delays.
func recordSleeps(f *Fetcher) *[]time.Duration {
	var delays []time.Duration
	f.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return &delays
}

func TestParseEndpoints(t *testing.T) {
	assert.Equal(t, []string{"http://a", "http://b"}, ParseEndpoints(" http://a/ , ,http://b"))
	assert.Nil(t, ParseEndpoints(""))

	_, err := NewFetcher(nil)
	assert.True(t, IsConfigError(err))
}

func TestFetcher_PrimaryWins(t *testing.T) {
	var altHits atomic.Int32
	primary := statusServer(t, http.StatusOK, "primary", nil)
	alt := statusServer(t, http.StatusOK, "alt", &altHits)

	f, err := NewFetcher([]string{primary.URL, alt.URL})
	require.NoError(t, err)
	resp, err := f.Do(context.Background(), http.MethodGet, "/x", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "primary", string(resp.Body))
	assert.Zero(t, altHits.Load())
}

func TestFetcher_FallsBackInOrder(t *testing.T) {
	var secondHits, thirdHits atomic.Int32
	primary := statusServer(t, http.StatusBadGateway, "down", nil)
	second := statusServer(t, http.StatusOK, "second", &secondHits)
	third := statusServer(t, http.StatusOK, "third", &thirdHits)

	f, err := NewFetcher([]string{primary.URL, second.URL, third.URL})
	require.NoError(t, err)
	resp, err := f.Do(context.Background(), http.MethodGet, "/x", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "second", string(resp.Body))
	assert.Equal(t, second.URL, resp.Endpoint)
	assert.Equal(t, int32(1), secondHits.Load())
	assert.Zero(t, thirdHits.Load())
}

func TestFetcher_SurfacesPrimaryFailure(t *testing.T) {
	primary := statusServer(t, http.StatusServiceUnavailable, "primary down", nil)
	alt := statusServer(t, http.StatusNotFound, "alt missing", nil)

	f, err := NewFetcher([]string{primary.URL, alt.URL})
	require.NoError(t, err)
	resp, err := f.Do(context.Background(), http.MethodGet, "/x", nil, nil)
	require.NoError(t, err)
	assert.False(t, resp.OK())
	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
	assert.Equal(t, "primary down", string(resp.Body))
}

func TestFetcher_PrimaryUnreachable(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()
	alt := statusServer(t, http.StatusInternalServerError, "", nil)

	f, err := NewFetcher([]string{dead.URL, alt.URL})
	require.NoError(t, err)
	_, err = f.Do(context.Background(), http.MethodGet, "/x", nil, nil)
	assert.Error(t, err, "primary error is surfaced when it produced no response")
}

func TestFetcher_RetryLadder(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("doc"))
	}))
	defer srv.Close()

	f, err := NewFetcher([]string{srv.URL}, WithRetryStep(time.Second))
	require.NoError(t, err)
	delays := recordSleeps(f)

	resp, err := f.GetWithRetry(context.Background(), "/tx/abc")
	require.NoError(t, err)
	assert.Equal(t, "doc", string(resp.Body))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *delays)
}

func TestFetcher_RetryLadderExhausted(t *testing.T) {
	var hits atomic.Int32
	srv := statusServer(t, http.StatusBadGateway, "", &hits)

	f, err := NewFetcher([]string{srv.URL}, WithRetryStep(time.Millisecond))
	require.NoError(t, err)
	delays := recordSleeps(f)

	_, err = f.GetWithRetry(context.Background(), "/tx/abc")
	require.Error(t, err)
	assert.True(t, IsTransient(err))

	var te *TransientFetchError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, DefaultMaxAttempts, te.Attempts)
	assert.Equal(t, http.StatusBadGateway, te.Status)
	assert.Equal(t, int32(DefaultMaxAttempts), hits.Load())
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond}, *delays)
}

func TestFetcher_NotFoundIsFinal(t *testing.T) {
	var hits atomic.Int32
	srv := statusServer(t, http.StatusNotFound, "", &hits)

	f, err := NewFetcher([]string{srv.URL})
	require.NoError(t, err)
	recordSleeps(f)

	_, err = f.GetWithRetry(context.Background(), "/tx/abc")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetcher_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	srv := statusServer(t, http.StatusInternalServerError, "", &hits)

	f, err := NewFetcher([]string{srv.URL})
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		f.Do(context.Background(), http.MethodGet, "/x", nil, nil)
	}
	assert.Equal(t, int32(5), hits.Load(), "open breaker stops calling the endpoint")
}

func TestFetcher_ContextCancelled(t *testing.T) {
	srv := statusServer(t, http.StatusBadGateway, "", nil)
	f, err := NewFetcher([]string{srv.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.GetWithRetry(ctx, "/tx/abc")
	assert.ErrorIs(t, err, context.Canceled)
}
