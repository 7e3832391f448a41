package httpretry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	sleeps []time.Duration
}

func (r *recorder) sleep(ctx context.Context, d time.Duration) error {
	r.sleeps = append(r.sleeps, d)
	return nil
}

func newRetryer(maxRetries int, now time.Time, rec *recorder) *Retryer {
	r := New(maxRetries, time.Hour, nil)
	r.Now = func() time.Time { return now }
	r.Sleep = rec.sleep
	return r
}

func get(url string) func(ctx context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}
}

func TestRetriesAfterReset(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("X-Rate-Limit-Reset", strconv.FormatInt(now.Add(30*time.Second).Unix(), 10))
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	rec := &recorder{}
	resp, err := newRetryer(1, now, rec).Do(context.Background(), srv.Client(), get(srv.URL))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int32(2), calls.Load())
	require.Equal(t, []time.Duration{30 * time.Second}, rec.sleeps)
}

func TestBoundedRetries(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Ratelimit-Reset", strconv.FormatInt(now.Add(5*time.Second).Unix(), 10))
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	rec := &recorder{}
	_, err := newRetryer(2, now, rec).Do(context.Background(), srv.Client(), get(srv.URL))
	require.ErrorIs(t, err, ErrRateLimited)
	require.Equal(t, int32(3), calls.Load())
	require.Len(t, rec.sleeps, 2)
}

func TestNoResetHeaderAbandons(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	rec := &recorder{}
	_, err := newRetryer(3, time.Now(), rec).Do(context.Background(), srv.Client(), get(srv.URL))
	require.ErrorIs(t, err, ErrRateLimited)
	require.Equal(t, int32(1), calls.Load())
	require.Empty(t, rec.sleeps)
}

func TestResetBeyondMaxWaitAbandons(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Rate-Limit-Reset", strconv.FormatInt(now.Add(2*time.Hour).Unix(), 10))
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	rec := &recorder{}
	_, err := newRetryer(1, now, rec).Do(context.Background(), srv.Client(), get(srv.URL))
	require.ErrorIs(t, err, ErrRateLimited)
	require.Empty(t, rec.sleeps)
}

func TestBackoffFloorsPastReset(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("X-Rate-Limit-Reset", strconv.FormatInt(now.Add(-time.Minute).Unix(), 10))
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	rec := &recorder{}
	resp, err := newRetryer(1, now, rec).Do(context.Background(), srv.Client(), get(srv.URL))
	require.NoError(t, err)
	resp.Body.Close()
	require.Len(t, rec.sleeps, 1)
	require.GreaterOrEqual(t, rec.sleeps[0], 500*time.Millisecond)
}
