package httpapi

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"nawra-portal/internal/route"
)

// LoginLimiter throttles sign-in attempts per client IP.
type LoginLimiter struct {
	every time.Duration
	burst int
	ttl   time.Duration
	now   func() time.Time

	mu        sync.Mutex
	buckets   map[string]*loginBucket
	lastSweep time.Time
}

type loginBucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

// NewLoginLimiter allows perMinute attempts per IP with the given burst.
func NewLoginLimiter(perMinute, burst int) *LoginLimiter {
	if perMinute <= 0 {
		perMinute = 10
	}
	if burst <= 0 {
		burst = 1
	}
	return &LoginLimiter{
		every:   time.Minute / time.Duration(perMinute),
		burst:   burst,
		ttl:     10 * time.Minute,
		now:     time.Now,
		buckets: make(map[string]*loginBucket),
	}
}

func (l *LoginLimiter) Allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > l.ttl {
		for k, b := range l.buckets {
			if now.Sub(b.seen) > l.ttl {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &loginBucket{limiter: rate.NewLimiter(rate.Every(l.every), l.burst)}
		l.buckets[key] = b
	}
	b.seen = now
	return b.limiter.AllowN(now, 1)
}

// Middleware answers 429 with a localized message once an IP runs dry.
// A nil limiter lets everything through.
func (l *LoginLimiter) Middleware(def route.Locale) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil || l.Allow(c.ClientIP()) {
			c.Next()
			return
		}
		locale := route.FromRequest(c.Request, def)
		c.Header("Retry-After", strconv.Itoa(max(1, int(l.every.Seconds()+0.5))))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":   "rate_limited",
			"message": message(locale, msgRateLimited),
		})
	}
}
