package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/saturnino-fabrica-de-software/hookrelay/internal/domain"
)

// RateLimiterConfig holds configuration for rate limiting
type RateLimiterConfig struct {
	// Requests allowed per minute; also the burst size.
	PerMinute int
	// Idle limiters are evicted after this long.
	IdleTTL time.Duration
	// Key generator function - returns tenant ID from context
	KeyGenerator func(c *fiber.Ctx) string
}

func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		PerMinute: 600,
		IdleTTL:   10 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			tenantID, ok := c.Locals(LocalTenantID).(uuid.UUID)
			if !ok {
				return ""
			}
			return tenantID.String()
		},
	}
}

type tenantLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter is a per-tenant token bucket. It must run after Auth.
type RateLimiter struct {
	config   RateLimiterConfig
	limiters map[string]*tenantLimiter
	mu       sync.Mutex
	done     chan struct{}
	stopOnce sync.Once
}

func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	defaults := DefaultRateLimiterConfig()
	if config.PerMinute <= 0 {
		config.PerMinute = defaults.PerMinute
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = defaults.IdleTTL
	}
	if config.KeyGenerator == nil {
		config.KeyGenerator = defaults.KeyGenerator
	}

	rl := &RateLimiter{
		config:   config,
		limiters: make(map[string]*tenantLimiter),
		done:     make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// Stop gracefully shuts down the rate limiter cleanup goroutine
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.done) })
}

func (rl *RateLimiter) Handler() fiber.Handler {
	limit := strconv.Itoa(rl.config.PerMinute)

	return func(c *fiber.Ctx) error {
		key := rl.config.KeyGenerator(c)
		if key == "" {
			return c.Next()
		}

		now := time.Now()
		l := rl.get(key, now)
		r := l.ReserveN(now, 1)

		c.Set("X-RateLimit-Limit", limit)
		if delay := r.DelayFrom(now); delay > 0 {
			r.CancelAt(now)
			c.Set("X-RateLimit-Remaining", "0")
			c.Set("Retry-After", strconv.Itoa(int(delay.Seconds())+1))
			return domain.ErrRateLimitExceeded
		}

		c.Set("X-RateLimit-Remaining", strconv.Itoa(int(l.TokensAt(now))))
		return c.Next()
	}
}

func (rl *RateLimiter) get(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	tl, ok := rl.limiters[key]
	if !ok {
		every := rate.Every(time.Minute / time.Duration(rl.config.PerMinute))
		tl = &tenantLimiter{limiter: rate.NewLimiter(every, rl.config.PerMinute)}
		rl.limiters[key] = tl
	}
	tl.lastAccess = now
	return tl.limiter
}

// cleanup removes stale entries
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.evictIdle(time.Now())
		}
	}
}

func (rl *RateLimiter) evictIdle(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, tl := range rl.limiters {
		if now.Sub(tl.lastAccess) > rl.config.IdleTTL {
			delete(rl.limiters, key)
		}
	}
}
