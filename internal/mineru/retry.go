package mineru

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

const (
	defaultMaxRetries     = 3
	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 30 * time.Second
)

// RetryConfig holds retry configuration for idempotent requests
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     defaultMaxRetries,
		InitialBackoff: defaultInitialBackoff,
		MaxBackoff:     defaultMaxBackoff,
	}
}

// shouldRetry determines if a status code is transient
func shouldRetry(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// calculateBackoff returns initialBackoff * 2^attempt, capped at MaxBackoff
func calculateBackoff(attempt int, cfg RetryConfig) time.Duration {
	backoff := float64(cfg.InitialBackoff) * math.Pow(2, float64(attempt))
	if backoff > float64(cfg.MaxBackoff) {
		backoff = float64(cfg.MaxBackoff)
	}
	return time.Duration(backoff)
}

// doWithRetry sends the request built by newReq, retrying network errors and
// transient statuses. When retries run out on a transient status the last
// response is returned so the caller can report its status code.
func (c *Client) doWithRetry(ctx context.Context, newReq func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := newReq()
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err == nil {
			if !shouldRetry(resp.StatusCode) || attempt == c.retry.MaxRetries {
				return resp, nil
			}
			lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		} else {
			lastErr = err
		}

		if attempt == c.retry.MaxRetries {
			break
		}

		backoff := calculateBackoff(attempt, c.retry)
		c.logger.Warn().
			Err(lastErr).
			Int("attempt", attempt+1).
			Int("max_retries", c.retry.MaxRetries).
			Dur("backoff", backoff).
			Msg("Request failed, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, fmt.Errorf("request failed after %d retries: %w", c.retry.MaxRetries, lastErr)
}
