package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

// Policy controls DoWithRetry. The zero value makes a single attempt.
type Policy struct {
	MaxRetries  int
	BaseBackoff time.Duration // backoff for attempt n is BaseBackoff*n² plus jitter
	MaxBackoff  time.Duration // ceiling for both computed backoff and Retry-After
	// RateLimitOnly retries 429 responses only. Set it for non-idempotent
	// requests: after a 5xx or a dropped connection the server may already
	// have acted on the request.
	RateLimitOnly bool
}

// DefaultPolicy mirrors the backoff used for platform calls.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 2, BaseBackoff: time.Second, MaxBackoff: 30 * time.Second}
}

// StatusError is a retryable HTTP failure (5xx or 429) that outlived its retries.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if len(e.Body) > 200 {
		return fmt.Sprintf("HTTP %d: %s...", e.StatusCode, e.Body[:200])
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// DoWithRetry executes the request built by buildReq, retrying on network
// errors, 5xx and 429 (only 429 under RateLimitOnly). A Retry-After header
// replaces the computed backoff.
// Any other status is returned to the caller with its body unread.
func DoWithRetry(ctx context.Context, client *http.Client, buildReq func() (*http.Request, error), p Policy, logger *slog.Logger) (*http.Response, error) {
	var lastErr error
	var wait time.Duration

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			if wait <= 0 {
				wait = p.backoff(attempt)
			}
			logger.Warn("retrying request", "attempt", attempt+1, "backoff", wait)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
			wait = 0
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil || p.RateLimitOnly {
				return nil, err
			}
			if attempt < p.MaxRetries {
				logger.Warn("request failed, will retry", "error", err)
				continue
			}
			if p.MaxRetries == 0 {
				return nil, err
			}
			return nil, fmt.Errorf("request failed after %d retries: %w", p.MaxRetries, err)
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			se := &StatusError{
				StatusCode: resp.StatusCode,
				Body:       string(body),
				RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			}
			lastErr = se
			retryable := !p.RateLimitOnly || resp.StatusCode == http.StatusTooManyRequests
			if retryable && attempt < p.MaxRetries {
				logger.Warn("server error, will retry", "status", resp.StatusCode, "retry_after", se.RetryAfter)
				wait = p.clamp(se.RetryAfter)
				continue
			}
			return nil, se
		}

		return resp, nil
	}

	return nil, lastErr
}

func (p Policy) backoff(attempt int) time.Duration {
	base := p.BaseBackoff * time.Duration(attempt*attempt)
	if base <= 0 {
		return 0
	}
	jitter := time.Duration(rand.Int64N(int64(base/2 + 1)))
	return p.clamp(base + jitter)
}

func (p Policy) clamp(d time.Duration) time.Duration {
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// parseRetryAfter accepts delta-seconds (fractions allowed, as Discord sends)
// or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
