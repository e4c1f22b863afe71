// Package jobstore records which scheduled job runs already happened so a restart
// inside the same hour does not repeat them.
package jobstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// SlotTTL is how long a claim is kept; long enough to cover the hour it was made in
const SlotTTL = 2 * time.Hour

// Ledger claims (job, hour slot) pairs
type Ledger interface {
	// Claim returns true when this caller is the first to claim jobID for the hour containing slot
	Claim(ctx context.Context, jobID string, slot time.Time) (bool, error)
}

// SlotKey identifies the hour containing slot
func SlotKey(jobID string, slot time.Time) string {
	return fmt.Sprintf("%s:%s", jobID, slot.UTC().Truncate(time.Hour).Format("2006010215"))
}

type redisSetNXer interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisLedger keeps claims in Redis with SETNX so they survive restarts
type RedisLedger struct {
	client  redisSetNXer
	prefix  string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewRedisLedger creates a ledger over client
func NewRedisLedger(client *redis.Client, logger zerolog.Logger) *RedisLedger {
	return &RedisLedger{
		client:  client,
		prefix:  "analyzer:job:",
		timeout: 2 * time.Second,
		logger:  logger.With().Str("component", "jobstore").Logger(),
	}
}

// Claim sets the slot key only if it does not exist yet
func (l *RedisLedger) Claim(ctx context.Context, jobID string, slot time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	key := l.prefix + SlotKey(jobID, slot)
	ok, err := l.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), SlotTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim %s: %w", key, err)
	}

	l.logger.Debug().
		Str("key", key).
		Bool("claimed", ok).
		Msg("Job slot claim")

	return ok, nil
}

// MemoryLedger keeps claims in process memory; used when Redis is not configured
type MemoryLedger struct {
	mu     sync.Mutex
	claims map[string]time.Time
	now    func() time.Time
}

// NewMemoryLedger creates an empty in-memory ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		claims: make(map[string]time.Time),
		now:    time.Now,
	}
}

// Claim records the slot unless it was already claimed within SlotTTL
func (l *MemoryLedger) Claim(ctx context.Context, jobID string, slot time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, at := range l.claims {
		if now.Sub(at) > SlotTTL {
			delete(l.claims, key)
		}
	}

	key := SlotKey(jobID, slot)
	if _, ok := l.claims[key]; ok {
		return false, nil
	}
	l.claims[key] = now
	return true, nil
}
