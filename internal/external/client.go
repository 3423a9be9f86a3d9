// Package external holds the resilient HTTP plumbing shared by providers
// that talk to vendor REST APIs. Every outbound call goes through Client,
// which applies a circuit breaker, bounded retries with backoff and
// mapping of upstream failures to types.AppError.
package external

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"habitly/internal/types"
)

// RetryPolicy configures how often and how long Client waits between
// attempts on 429 and 5xx responses.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy suits short notification API calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		MinWait:    500 * time.Millisecond,
		MaxWait:    5 * time.Second,
	}
}

// Options configures a Client.
type Options struct {
	// Name identifies the breaker in logs and state-change callbacks.
	Name      string
	UserAgent string
	Retry     RetryPolicy

	// FailureCode is the AppError code reported when the upstream stays
	// unavailable after retries.
	FailureCode types.ErrorCode

	// TripAfter is the number of consecutive failures that opens the breaker.
	TripAfter   uint32
	OpenTimeout time.Duration

	// OnStateChange is invoked on breaker transitions.
	OnStateChange func(name string, from, to gobreaker.State)
}

// Client wraps an *http.Client with a circuit breaker and retries.
type Client struct {
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	opts    Options
	sleep   func(context.Context, time.Duration) error
}

// ClientOption is a functional option for configuring a Client.
type ClientOption func(*Client)

// WithSleepFunc overrides the wait between retries. Tests use it to avoid
// real delays.
func WithSleepFunc(fn func(context.Context, time.Duration) error) ClientOption {
	return func(c *Client) {
		c.sleep = fn
	}
}

// WithBreaker replaces the breaker built from Options.
func WithBreaker(cb *gobreaker.CircuitBreaker[*http.Response]) ClientOption {
	return func(c *Client) {
		c.breaker = cb
	}
}

// NewClient creates a Client. Zero-valued options fall back to defaults.
func NewClient(httpClient *http.Client, opts Options, options ...ClientOption) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Retry == (RetryPolicy{}) {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.FailureCode == "" {
		opts.FailureCode = types.ErrCodeUpstreamUnavailable
	}
	if opts.TripAfter == 0 {
		opts.TripAfter = 5
	}
	if opts.OpenTimeout == 0 {
		opts.OpenTimeout = 30 * time.Second
	}

	tripAfter := opts.TripAfter
	settings := gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= tripAfter
		},
		OnStateChange: opts.OnStateChange,
	}

	c := &Client{
		http:    httpClient,
		breaker: gobreaker.NewCircuitBreaker[*http.Response](settings),
		opts:    opts,
		sleep:   sleepContext,
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// State reports the breaker state.
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}

// Do executes req. Responses other than 429 and 5xx are returned as-is and
// the caller closes the body. Exhausted retries, an open breaker or a
// cancelled context yield a *types.AppError.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if id := types.GetRequestID(ctx); id != "" {
		req.Header.Set("X-Request-Id", id)
	}
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	// Requests are replayed on retry, so the body is buffered once.
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to buffer request body", err)
		}
	}

	var (
		lastResp *http.Response
		lastErr  error
	)
	attempts := 1 + c.opts.Retry.MaxRetries
	for attempt := 0; attempt < attempts; attempt++ {
		if body != nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
			req.ContentLength = int64(len(body))
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, err := c.http.Do(req)
			if err != nil {
				return nil, err
			}
			if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
				return r, fmt.Errorf("upstream returned %d", r.StatusCode)
			}
			return r, nil
		})
		if err == nil {
			return resp, nil
		}

		lastErr = err
		lastResp = nil
		if resp != nil {
			if attempt < attempts-1 {
				resp.Body.Close()
			} else {
				lastResp = resp
			}
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}
		if ctx.Err() != nil {
			break
		}

		if attempt < attempts-1 {
			if err := c.sleep(ctx, c.backoff(attempt, resp)); err != nil {
				lastErr = err
				break
			}
		}
	}

	if lastResp != nil {
		lastResp.Body.Close()
	}
	return nil, c.mapError(lastResp, lastErr)
}

// backoff honours Retry-After when present, otherwise uses exponential
// backoff with jitter clamped to [MinWait, MaxWait].
func (c *Client) backoff(attempt int, resp *http.Response) time.Duration {
	p := c.opts.Retry
	if resp != nil {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				return min(time.Duration(secs)*time.Second, p.MaxWait)
			}
			if t, err := http.ParseTime(ra); err == nil {
				wait := time.Until(t)
				if wait <= 0 {
					return p.MinWait
				}
				return min(wait, p.MaxWait)
			}
		}
	}

	ceiling := math.Min(float64(p.MinWait)*math.Pow(2, float64(attempt)), float64(p.MaxWait))
	floor := float64(p.MinWait)
	if ceiling <= floor {
		return p.MinWait
	}
	return time.Duration(floor + rand.Float64()*(ceiling-floor))
}

func (c *Client) mapError(resp *http.Response, err error) *types.AppError {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		return types.NewAppError(c.opts.FailureCode, fmt.Sprintf("%s circuit breaker is open", c.opts.Name), err)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return types.NewAppError(c.opts.FailureCode, fmt.Sprintf("%s request cancelled", c.opts.Name), err)
	case resp != nil && resp.StatusCode == http.StatusTooManyRequests:
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "upstream rate limit exceeded", err)
	case resp != nil && resp.StatusCode >= 500:
		return types.NewAppError(c.opts.FailureCode, fmt.Sprintf("upstream returned %d after retries", resp.StatusCode), err)
	}
	return types.NewAppError(c.opts.FailureCode, fmt.Sprintf("%s request failed", c.opts.Name), err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
