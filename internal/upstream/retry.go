// Package upstream talks to the completion provider. Outbound calls that
// fail at the transport level are retried with bounded exponential
// backoff; HTTP error statuses are returned to the caller untouched.
package upstream

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Default retry policy.
const (
	DefaultMaxRetries = 10
	DefaultBaseDelay  = time.Second
	DefaultMaxDelay   = 5 * time.Second
)

// Retrier retries a call up to MaxRetries times after the first attempt,
// sleeping min(BaseDelay*2^attempt, MaxDelay) between attempts. There is
// no jitter.
type Retrier struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Logger     *slog.Logger

	// After returns a channel that fires after d. Defaults to time.After.
	After func(d time.Duration) <-chan time.Time
}

// NewRetrier returns a Retrier with the default policy.
func NewRetrier(logger *slog.Logger) *Retrier {
	return &Retrier{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
		Logger:     logger,
	}
}

// Delay returns the backoff before retry number attempt (zero based).
func (r *Retrier) Delay(attempt int) time.Duration {
	d := r.BaseDelay
	for i := 0; i < attempt && d < r.MaxDelay; i++ {
		d *= 2
	}
	return min(d, r.MaxDelay)
}

func (r *Retrier) after(d time.Duration) <-chan time.Time {
	if r.After != nil {
		return r.After(d)
	}
	return time.After(d)
}

// Do calls fn until it succeeds or retries are exhausted, returning the
// last error unchanged. A cancelled ctx stops waiting and returns the
// last error.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= r.MaxRetries || ctx.Err() != nil {
			return err
		}

		delay := r.Delay(attempt)
		if r.Logger != nil {
			r.Logger.Warn("upstream call failed, retrying",
				"attempt", attempt+1,
				"delay", delay,
				"error", err,
			)
		}
		select {
		case <-ctx.Done():
			return err
		case <-r.after(delay):
		}
	}
}

// RetryTransport is an http.RoundTripper that retries transport errors.
// Requests with a body are only retried when GetBody is set.
type RetryTransport struct {
	Base    http.RoundTripper
	Retrier *Retrier
}

func (t *RetryTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// RoundTrip implements http.RoundTripper.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	replayable := req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
	if t.Retrier == nil || !replayable {
		return t.base().RoundTrip(req)
	}

	var resp *http.Response
	first := true
	err := t.Retrier.Do(req.Context(), func(ctx context.Context) error {
		attempt := req
		if !first && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return err
			}
			attempt = req.Clone(ctx)
			attempt.Body = body
		}
		first = false

		var err error
		resp, err = t.base().RoundTrip(attempt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}
