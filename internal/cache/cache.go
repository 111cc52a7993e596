// cache содержит короткоживущие ключи с TTL, разделяемые между репликами.
// Сейчас это один примитив — Limiter: «не чаще одного раза за окно»,
// которым ограничивается частота писем сброса пароля на учётную запись.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter — контракт «первый вызов в окне выигрывает».
type Limiter interface {
	// Allow возвращает true, если ключ не занят, и занимает его на window.
	Allow(ctx context.Context, key string, window time.Duration) (bool, error)
	// Close освобождает ресурсы.
	Close() error
}

type redisLimiter struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisLimiter создаёт Limiter поверх Redis из URL (например, redis://:pass@host:6379/0).
// Если prefix пустой — используется "auth:".
func NewRedisLimiter(ctx context.Context, redisURL, prefix string) (Limiter, error) {
	const op = "cache.NewRedisLimiter"

	if prefix == "" {
		prefix = "auth:"
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rdb := redis.NewClient(opt)

	// Fail-fast на старте.
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &redisLimiter{rdb: rdb, prefix: prefix}, nil
}

func (l *redisLimiter) key(k string) string { return l.prefix + "cooldown:" + k }

// Allow занимает ключ через SET NX PX.
func (l *redisLimiter) Allow(ctx context.Context, key string, window time.Duration) (bool, error) {
	const op = "cache.redisLimiter.Allow"

	ok, err := l.rdb.SetNX(ctx, l.key(key), "1", window).Result()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return ok, nil
}

func (l *redisLimiter) Close() error { return l.rdb.Close() }

// MemoryLimiter — Limiter в памяти процесса (одна реплика, тесты).
type MemoryLimiter struct {
	mu    sync.Mutex
	until map[string]time.Time
	now   func() time.Time
}

// NewMemoryLimiter создаёт MemoryLimiter. now == nil — time.Now.
func NewMemoryLimiter(now func() time.Time) *MemoryLimiter {
	if now == nil {
		now = time.Now
	}

	return &MemoryLimiter{until: make(map[string]time.Time), now: now}
}

// Allow занимает ключ, если окно предыдущего вызова истекло.
func (l *MemoryLimiter) Allow(_ context.Context, key string, window time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if until, ok := l.until[key]; ok && now.Before(until) {
		return false, nil
	}

	l.until[key] = now.Add(window)

	// Ленивая чистка, чтобы карта не росла бесконечно.
	if len(l.until) > 1024 {
		for k, until := range l.until {
			if !now.Before(until) {
				delete(l.until, k)
			}
		}
	}

	return true, nil
}

func (l *MemoryLimiter) Close() error { return nil }

var (
	_ Limiter = (*redisLimiter)(nil)
	_ Limiter = (*MemoryLimiter)(nil)
)
