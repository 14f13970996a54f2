package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type keyedBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter keeps a token bucket per key (client IP, user ID). A bucket holds limit
// tokens and refills at limit per window.
type KeyedLimiter struct {
	mu      sync.Mutex
	buckets map[string]*keyedBucket
	every   rate.Limit
	burst   int
	idle    time.Duration
	stop    chan struct{}
	once    sync.Once
}

func NewKeyedLimiter(limit int, window time.Duration) *KeyedLimiter {
	l := &KeyedLimiter{
		buckets: make(map[string]*keyedBucket),
		every:   rate.Limit(float64(limit) / window.Seconds()),
		burst:   limit,
		idle:    window,
		stop:    make(chan struct{}),
	}
	go l.evict()
	return l
}

func (l *KeyedLimiter) Allow(key string) bool {
	now := time.Now()
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &keyedBucket{lim: rate.NewLimiter(l.every, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()
	return b.lim.AllowN(now, 1)
}

// Close stops eviction of idle buckets.
func (l *KeyedLimiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

// evict drops buckets idle for a full window; they would be full again anyway.
func (l *KeyedLimiter) evict() {
	tick := time.NewTicker(time.Minute)
	defer tick.Stop()
	for {
		select {
		case <-l.stop:
			return
		case now := <-tick.C:
			l.mu.Lock()
			for k, b := range l.buckets {
				if now.Sub(b.lastSeen) > l.idle {
					delete(l.buckets, k)
				}
			}
			l.mu.Unlock()
		}
	}
}

// RateLimit limits by client IP.
func RateLimit(limiter *KeyedLimiter) gin.HandlerFunc {
	return RateLimitBy(limiter, func(c *gin.Context) string { return c.ClientIP() })
}

// RateLimitBy limits by an arbitrary key, falling back to the client IP when the key is empty.
func RateLimitBy(limiter *KeyedLimiter, key func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		k := key(c)
		if k == "" {
			k = c.ClientIP()
		}
		if !limiter.Allow(k) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
