package battlenet

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RateLimiter enforces a request budget shared by every engine pointed at the same Redis.
// Battle.net limits per client id, so two engines using one client must share the count.
type RateLimiter struct {
	client  *redis.Client
	limit   int
	window  time.Duration
	baseKey string
}

// NewRateLimiter creates a fixed-window limiter of limit requests per window
func NewRateLimiter(redisURL string, limit int, window time.Duration, baseKey string) (*RateLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if window <= 0 {
		window = time.Second
	}

	return &RateLimiter{
		client:  client,
		limit:   limit,
		window:  window,
		baseKey: baseKey,
	}, nil
}

func (r *RateLimiter) windowKey(now time.Time) string {
	return fmt.Sprintf("%s:%d", r.baseKey, now.UnixNano()/int64(r.window))
}

// WaitForTicket blocks until a request is allowed in the current window
func (r *RateLimiter) WaitForTicket(ctx context.Context) error {
	limit := r.limit
	if limit <= 0 {
		limit = 50
	}

	now := time.Now()
	key := r.windowKey(now)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		count, err := r.client.Incr(ctx, key).Result()
		if err != nil {
			// Fail open: a broken Redis must not stall scanning; the local limiter still applies.
			log.Error().Err(err).Msg("RateLimiter: Redis error, allowing request")
			return nil
		}

		if count == 1 {
			r.client.Expire(ctx, key, 2*r.window)
		}

		if count <= int64(limit) {
			return nil
		}

		log.Debug().
			Int64("count", count).
			Int("limit", limit).
			Msg("Shared rate limit exceeded, waiting for next window")

		next := now.Truncate(r.window).Add(r.window).Add(10 * time.Millisecond)
		wait := time.Until(next)
		if wait < 0 {
			wait = 10 * time.Millisecond
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			now = time.Now()
			key = r.windowKey(now)
		}
	}
}

// Client exposes the underlying Redis client so other components can share the connection
func (r *RateLimiter) Client() *redis.Client {
	return r.client
}

// Close closes the Redis client
func (r *RateLimiter) Close() error {
	return r.client.Close()
}
