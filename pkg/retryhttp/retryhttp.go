// Package retryhttp is the generic fetch helper used for non-auction calls
// (upload-timer refresh, webhook sends). Every call is retried a fixed number
// of times with a constant delay between attempts. retries counts repeats after
// the first attempt, so DefaultRetries means four requests in total.
package retryhttp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultRetries is the number of retries after the first attempt
	DefaultRetries = 3
	DefaultDelay   = time.Second
)

// NewClient returns a retrying client with a fixed delay between attempts
func NewClient(retries int, delay time.Duration) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = retries
	c.RetryWaitMin = delay
	c.RetryWaitMax = delay
	c.Backoff = func(min, _ time.Duration, _ int, _ *http.Response) time.Duration {
		return min
	}
	c.HTTPClient.Timeout = 30 * time.Second
	c.Logger = zerologAdapter{}
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return c
}

// Do sends a request with an optional JSON body and returns the body of a 2xx response.
func Do(ctx context.Context, c *retryablehttp.Client, method, url string, body []byte) ([]byte, error) {
	var raw interface{}
	if body != nil {
		raw = body
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", "AzerothSniper/1.0")

	resp, err := c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(data)
		if len(msg) > 200 {
			msg = msg[:200] + "..."
		}
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, msg)
	}

	return data, nil
}

// zerologAdapter satisfies retryablehttp.LeveledLogger
type zerologAdapter struct{}

func (zerologAdapter) Error(msg string, kv ...interface{}) { log.Error().Fields(kv).Msg(msg) }
func (zerologAdapter) Info(msg string, kv ...interface{})  { log.Debug().Fields(kv).Msg(msg) }
func (zerologAdapter) Debug(msg string, kv ...interface{}) { log.Debug().Fields(kv).Msg(msg) }
func (zerologAdapter) Warn(msg string, kv ...interface{})  { log.Warn().Fields(kv).Msg(msg) }
