package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Ledger remembers which matches were already alerted during the current epoch
type Ledger interface {
	// Claim records the fingerprint and reports whether it was new
	Claim(ctx context.Context, fingerprint string) (bool, error)
	Reset(ctx context.Context) error
	Len(ctx context.Context) int
}

// MemoryLedger is a process-local ledger
type MemoryLedger struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemoryLedger creates an empty in-memory ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{seen: make(map[string]struct{})}
}

func (l *MemoryLedger) Claim(_ context.Context, fingerprint string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.seen[fingerprint]; ok {
		return false, nil
	}
	l.seen[fingerprint] = struct{}{}
	return true, nil
}

func (l *MemoryLedger) Reset(_ context.Context) error {
	l.mu.Lock()
	l.seen = make(map[string]struct{})
	l.mu.Unlock()
	return nil
}

func (l *MemoryLedger) Len(_ context.Context) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}

// RedisLedger keeps the ledger in a Redis set so restarts within the hour stay quiet
type RedisLedger struct {
	client *redis.Client
	key    string
}

// NewRedisLedger creates a ledger stored under sniper:ledger:<region>
func NewRedisLedger(client *redis.Client, region string) *RedisLedger {
	return &RedisLedger{client: client, key: fmt.Sprintf("sniper:ledger:%s", region)}
}

func (l *RedisLedger) Claim(ctx context.Context, fingerprint string) (bool, error) {
	added, err := l.client.SAdd(ctx, l.key, fingerprint).Result()
	if err != nil {
		return false, fmt.Errorf("ledger claim: %w", err)
	}
	return added == 1, nil
}

func (l *RedisLedger) Reset(ctx context.Context) error {
	if err := l.client.Del(ctx, l.key).Err(); err != nil {
		return fmt.Errorf("ledger reset: %w", err)
	}
	return nil
}

func (l *RedisLedger) Len(ctx context.Context) int {
	n, err := l.client.SCard(ctx, l.key).Result()
	if err != nil {
		return 0
	}
	return int(n)
}
