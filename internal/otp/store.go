package otp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// Record is a pending verification code. Only the SHA-256 hash is stored.
type Record struct {
	CodeHash  string    `json:"codeHash"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Store persists verification codes keyed by email.
type Store interface {
	// Get returns nil, nil when there is no live record.
	Get(ctx context.Context, email string) (*Record, error)
	// Save replaces the code and resets its attempt counter.
	Save(ctx context.Context, email string, rec Record, ttl time.Duration) error
	// Delete drops the code. The attempt counter is left to expire so that
	// requests already in flight keep counting against the same budget.
	Delete(ctx context.Context, email string) error
	// IncrAttempts atomically counts one verify attempt and returns the total.
	IncrAttempts(ctx context.Context, email string, ttl time.Duration) (int64, error)
	// Acquire reports whether a new code may be sent now, and starts the
	// cooldown when it may.
	Acquire(ctx context.Context, email string, cooldown time.Duration) (bool, error)
}

func codeKey(email string) string     { return "otp:code:" + strings.ToLower(email) }
func cooldownKey(email string) string { return "otp:cooldown:" + strings.ToLower(email) }
func attemptsKey(email string) string { return "otp:attempts:" + strings.ToLower(email) }

// RedisStore keeps codes in Redis with native key expiry.
type RedisStore struct {
	client redis.Cmdable
}

func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, email string) (*Record, error) {
	raw, err := s.client.Get(ctx, codeKey(email)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get otp: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode otp: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) Save(ctx context.Context, email string, rec Record, ttl time.Duration) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode otp: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, codeKey(email), raw, ttl)
	pipe.Del(ctx, attemptsKey(email))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save otp: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, email string) error {
	if err := s.client.Del(ctx, codeKey(email)).Err(); err != nil {
		return fmt.Errorf("delete otp: %w", err)
	}
	return nil
}

func (s *RedisStore) IncrAttempts(ctx context.Context, email string, ttl time.Duration) (int64, error) {
	key := attemptsKey(email)
	pipe := s.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("count otp attempt: %w", err)
	}
	return incr.Val(), nil
}

func (s *RedisStore) Acquire(ctx context.Context, email string, cooldown time.Duration) (bool, error) {
	if cooldown <= 0 {
		return true, nil
	}
	ok, err := s.client.SetNX(ctx, cooldownKey(email), 1, cooldown).Result()
	if err != nil {
		return false, fmt.Errorf("otp cooldown: %w", err)
	}
	return ok, nil
}

// MemoryStore is the single-process fallback used when Redis is not configured.
type MemoryStore struct {
	c *cache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{c: cache.New(10*time.Minute, time.Minute)}
}

func (s *MemoryStore) Get(_ context.Context, email string) (*Record, error) {
	v, ok := s.c.Get(codeKey(email))
	if !ok {
		return nil, nil
	}
	rec := v.(Record)
	return &rec, nil
}

func (s *MemoryStore) Save(_ context.Context, email string, rec Record, ttl time.Duration) error {
	s.c.Set(codeKey(email), rec, ttl)
	s.c.Delete(attemptsKey(email))
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, email string) error {
	s.c.Delete(codeKey(email))
	return nil
}

func (s *MemoryStore) IncrAttempts(_ context.Context, email string, ttl time.Duration) (int64, error) {
	key := attemptsKey(email)
	// Add is a no-op once the counter exists; IncrementInt holds the cache lock.
	_ = s.c.Add(key, 0, ttl)
	n, err := s.c.IncrementInt(key, 1)
	if err != nil {
		return 0, fmt.Errorf("count otp attempt: %w", err)
	}
	return int64(n), nil
}

func (s *MemoryStore) Acquire(_ context.Context, email string, cooldown time.Duration) (bool, error) {
	if cooldown <= 0 {
		return true, nil
	}
	// Add fails while the key is still live.
	if err := s.c.Add(cooldownKey(email), true, cooldown); err != nil {
		return false, nil
	}
	return true, nil
}
