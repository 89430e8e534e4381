package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sweeney/irrigation-scheduler/internal/config"
)

// Revoker remembers logged-out token IDs until their expiry.
type Revoker interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	Revoked(ctx context.Context, tokenID string) (bool, error)
}

// MemoryRevoker is a process-local Revoker. Revocations are lost on restart.
type MemoryRevoker struct {
	mu    sync.Mutex
	until map[string]time.Time
	now   func() time.Time
}

// NewMemoryRevoker creates an empty revoker. nil now means time.Now.
func NewMemoryRevoker(now func() time.Time) *MemoryRevoker {
	if now == nil {
		now = time.Now
	}
	return &MemoryRevoker{until: make(map[string]time.Time), now: now}
}

func (m *MemoryRevoker) Revoke(_ context.Context, tokenID string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for id, t := range m.until {
		if !now.Before(t) {
			delete(m.until, id)
		}
	}
	m.until[tokenID] = until
	return nil
}

func (m *MemoryRevoker) Revoked(_ context.Context, tokenID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.until[tokenID]
	return ok && m.now().Before(t), nil
}

const revokedKeyPrefix = "irrigation:revoked:"

func revokedKey(tokenID string) string {
	return revokedKeyPrefix + tokenID
}

// RedisRevoker stores revocations in Redis with a TTL, so they survive
// restarts and are shared between replicas.
type RedisRevoker struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisRevoker connects to cfg.Addr and pings it.
func NewRedisRevoker(ctx context.Context, cfg config.RedisConfig) (*RedisRevoker, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}
	return &RedisRevoker{client: rdb, now: time.Now}, nil
}

func (r *RedisRevoker) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	ttl := until.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, revokedKey(tokenID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis revoke: %w", err)
	}
	return nil
}

func (r *RedisRevoker) Revoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.client.Exists(ctx, revokedKey(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis revoked: %w", err)
	}
	return n > 0, nil
}

// Close closes the Redis client.
func (r *RedisRevoker) Close() error {
	return r.client.Close()
}
