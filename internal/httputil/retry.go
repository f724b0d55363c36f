package httputil

import (
	"bytes"
	"context"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/breeze-rmm/procstatus/internal/logging"
)

var log = logging.L("httputil")

// RetryPolicy controls how requests to a status server are retried.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterFrac    float64 // ±fraction of delay to randomize (e.g. 0.3 = ±30%)
}

// DefaultRetryPolicy suits interactive CLI reads: a scan takes milliseconds,
// so a short budget is enough to ride out a transient /proc failure.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    2,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
		JitterFrac:    0.3,
	}
}

// NoRetry sends each request once.
func NoRetry() RetryPolicy { return RetryPolicy{} }

// Next returns the delay that follows d under the policy's backoff.
func (p RetryPolicy) Next(d time.Duration) time.Duration {
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	next := time.Duration(float64(d) * factor)
	if p.MaxDelay > 0 && next > p.MaxDelay {
		next = p.MaxDelay
	}
	return next
}

// IsRetryableStatus reports whether a response code is worth another attempt.
// 503 is what a status server answers while it cannot read the process table.
func IsRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

// Do executes an HTTP request with retries. The body is passed as bytes so it
// can be replayed. When every attempt gets a retryable status the last
// response is returned so the caller can read the server's error body; an
// error is returned only when no response was received at all.
func Do(ctx context.Context, client *http.Client, method, url string, body []byte, headers http.Header, policy RetryPolicy) (*http.Response, error) {
	var lastErr error
	delay := policy.InitialDelay

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := Jitter(delay, policy.JitterFrac)
			log.Debug("retrying request", "attempt", attempt, "delay", wait, "url", url)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			delay = policy.Next(delay)
		}

		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return nil, err
		}
		for k, vals := range headers {
			for _, v := range vals {
				req.Header.Add(k, v)
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}
		if !IsRetryableStatus(resp.StatusCode) || attempt == policy.MaxRetries {
			return resp, nil
		}
		resp.Body.Close()
		lastErr = &RetryableStatusError{StatusCode: resp.StatusCode, URL: url}
	}

	log.Warn("all retries exhausted",
		"method", method,
		"url", url,
		"attempts", policy.MaxRetries+1,
		logging.KeyError, lastErr,
	)
	return nil, lastErr
}

// RetryableStatusError records a retryable status seen on a failed attempt.
type RetryableStatusError struct {
	StatusCode int
	URL        string
}

func (e *RetryableStatusError) Error() string {
	return "request to " + e.URL + " failed with status " + http.StatusText(e.StatusCode)
}

// Jitter adds ±frac random jitter to d.
func Jitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	j := float64(d) * frac * (2*rand.Float64() - 1)
	out := time.Duration(float64(d) + j)
	if out < 0 {
		return 0
	}
	return out
}
