// Package ratelimit throttles API clients. Limits are kept in process by
// default, or in Redis when several instances share one budget.
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/kindkart/kindkart/internal/auth"
	"github.com/kindkart/kindkart/internal/logging"
)

// Config configures rate limiting.
type Config struct {
	// RequestsPerMinute is the sustained rate allowed per client.
	RequestsPerMinute int
	// BurstSize allows brief bursts above the rate (in-process only).
	BurstSize int
	// CleanupInterval is how often idle in-process buckets are dropped.
	CleanupInterval time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 120,
		BurstSize:         20,
		CleanupInterval:   time.Minute,
	}
}

// Store decides whether one more request for key fits the budget.
type Store interface {
	Allow(ctx context.Context, key string, now time.Time) (bool, error)
}

// Limiter applies a Store to HTTP requests.
type Limiter struct {
	cfg   Config
	store Store
	now   func() time.Time
}

// New creates a limiter backed by in-process token buckets.
func New(cfg Config) *Limiter {
	return &Limiter{cfg: cfg, store: NewMemoryStore(cfg), now: time.Now}
}

// NewWithStore creates a limiter over any Store.
func NewWithStore(cfg Config, store Store) *Limiter {
	return &Limiter{cfg: cfg, store: store, now: time.Now}
}

// Stop ends background cleanup if the store runs any.
func (l *Limiter) Stop() {
	if m, ok := l.store.(*MemoryStore); ok {
		m.Stop()
	}
}

// Allow reports whether key may make another request. Store errors fail
// open: a broken Redis must not take the API down with it.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	ok, err := l.store.Allow(ctx, key, l.now())
	if err != nil {
		logging.L(ctx).Warn("rate limit store unavailable", "error", err)
		return true
	}
	return ok
}

// Middleware rate limits by authenticated user when known, else by IP.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if uid := auth.UserID(c); uid != "" {
			key = "user:" + uid
		}

		if !l.Allow(c.Request.Context(), key) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down.",
				"retry_after": 1,
			})
			return
		}
		c.Next()
	}
}

// MemoryStore is a token bucket per key.
type MemoryStore struct {
	cfg     Config
	mu      sync.Mutex
	clients map[string]*bucket
	stop    chan struct{}
	once    sync.Once
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// NewMemoryStore creates token buckets and starts their cleanup loop.
func NewMemoryStore(cfg Config) *MemoryStore {
	m := &MemoryStore{
		cfg:     cfg,
		clients: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		go m.cleanup()
	}
	return m
}

func (m *MemoryStore) cleanup() {
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			cutoff := time.Now().Add(-2 * time.Minute)
			for key, b := range m.clients {
				if b.lastCheck.Before(cutoff) {
					delete(m.clients, key)
				}
			}
			m.mu.Unlock()
		case <-m.stop:
			return
		}
	}
}

// Stop ends the cleanup loop. Safe to call more than once.
func (m *MemoryStore) Stop() {
	m.once.Do(func() { close(m.stop) })
}

func (m *MemoryStore) Allow(_ context.Context, key string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.clients[key]
	if !ok {
		m.clients[key] = &bucket{tokens: float64(m.cfg.BurstSize - 1), lastCheck: now}
		return true, nil
	}

	perSecond := float64(m.cfg.RequestsPerMinute) / 60.0
	b.tokens = min(b.tokens+now.Sub(b.lastCheck).Seconds()*perSecond, float64(m.cfg.BurstSize))
	b.lastCheck = now

	if b.tokens >= 1 {
		b.tokens--
		return true, nil
	}
	return false, nil
}

// RedisStore counts requests per key in fixed one-minute windows shared by
// every instance.
type RedisStore struct {
	client redis.Cmdable
	limit  int
	prefix string
}

// NewRedisStore creates a shared fixed-window store.
func NewRedisStore(client redis.Cmdable, requestsPerMinute int) *RedisStore {
	return &RedisStore{client: client, limit: requestsPerMinute, prefix: "kindkart:ratelimit:"}
}

func (s *RedisStore) Allow(ctx context.Context, key string, now time.Time) (bool, error) {
	redisKey := s.windowKey(key, now)

	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, redisKey)
		p.Expire(ctx, redisKey, 2*time.Minute)
		return nil
	})
	if err != nil {
		return false, err
	}
	return incr.Val() <= int64(s.limit), nil
}

func (s *RedisStore) windowKey(key string, now time.Time) string {
	return s.prefix + key + ":" + strconv.FormatInt(now.Unix()/60, 10)
}
