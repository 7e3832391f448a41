// Package httpretry retries HTTP 429 responses a bounded number of times,
// sleeping until the reset instant announced by the server.
package httpretry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"guildwarden/internal/metrics"

	"github.com/jpillora/backoff"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const tracerName = "guildwarden/internal/httpretry"

var ErrRateLimited = errors.New("rate limited")

// resetHeaders are checked in order. Values are unix seconds.
var resetHeaders = []string{"X-Rate-Limit-Reset", "Ratelimit-Reset"}

type Retryer struct {
	MaxRetries int
	// MaxWait abandons the call when the server asks to wait longer.
	MaxWait time.Duration
	Backoff backoff.Backoff
	Limiter *rate.Limiter
	Logger  *zap.Logger
	Now     func() time.Time
	Sleep   func(ctx context.Context, d time.Duration) error
}

func New(maxRetries int, maxWait time.Duration, logger *zap.Logger) *Retryer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retryer{
		MaxRetries: maxRetries,
		MaxWait:    maxWait,
		Backoff:    backoff.Backoff{Min: 500 * time.Millisecond, Max: 10 * time.Second, Factor: 2, Jitter: true},
		Logger:     logger,
		Now:        time.Now,
		Sleep:      sleepContext,
	}
}

// Do sends the request built by newReq, rebuilding it for every attempt.
// A 429 without a usable reset header, or one still returned after
// MaxRetries retries, yields ErrRateLimited.
func (r *Retryer) Do(ctx context.Context, client *http.Client, newReq func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Retryer.Do")
	defer span.End()

	for attempt := 0; ; attempt++ {
		if r.Limiter != nil {
			if err := r.Limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		req, err := newReq(ctx)
		if err != nil {
			return nil, err
		}
		span.SetAttributes(attribute.String("http.host", req.URL.Host), attribute.Int("attempt", attempt))

		resp, err := client.Do(req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			span.SetStatus(codes.Ok, "ok")
			return resp, nil
		}

		metrics.RateLimited.WithLabelValues(req.URL.Host).Inc()
		wait, ok := r.resetWait(resp.Header)
		drain(resp)

		if !ok || attempt >= r.MaxRetries {
			span.SetStatus(codes.Error, ErrRateLimited.Error())
			return nil, ErrRateLimited
		}
		if floor := r.Backoff.ForAttempt(float64(attempt)); wait < floor {
			wait = floor
		}
		if r.MaxWait > 0 && wait > r.MaxWait {
			r.Logger.Warn("rate limit reset too far, giving up", zap.String("host", req.URL.Host), zap.Duration("wait", wait))
			span.SetStatus(codes.Error, ErrRateLimited.Error())
			return nil, ErrRateLimited
		}

		r.Logger.Info("rate limited, waiting for reset", zap.String("host", req.URL.Host), zap.Duration("wait", wait), zap.Int("attempt", attempt+1))
		if err := r.Sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func (r *Retryer) resetWait(header http.Header) (time.Duration, bool) {
	for _, key := range resetHeaders {
		value := header.Get(key)
		if value == "" {
			continue
		}
		unix, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		wait := time.Unix(unix, 0).Sub(r.Now())
		if wait < 0 {
			wait = 0
		}
		return wait, true
	}
	if value := header.Get("Retry-After"); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
			return time.Duration(seconds) * time.Second, true
		}
	}
	return 0, false
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
