package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	rateLimitPerMinIP    = 200
	rateLimitPerMinActor = 100
	rateLimitIdleTTL     = 10 * time.Minute
	rateLimitSweepEvery  = 5000
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterPool: token bucket на ключ. Простаивающие ведра удаляются при обходе раз в rateLimitSweepEvery запросов.
type limiterPool struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	lookups int
}

func newLimiterPool(perMinute int) *limiterPool {
	return &limiterPool{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   perMinute,
	}
}

func (p *limiterPool) allow(key string) bool {
	now := time.Now()
	p.mu.Lock()
	p.lookups++
	if p.lookups >= rateLimitSweepEvery {
		for k, b := range p.buckets {
			if now.Sub(b.lastSeen) >= rateLimitIdleTTL {
				delete(p.buckets, k)
			}
		}
		p.lookups = 0
	}
	b, ok := p.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(p.limit, p.burst)}
		p.buckets[key] = b
	}
	b.lastSeen = now
	lim := b.limiter
	p.mu.Unlock()
	return lim.AllowN(now, 1)
}

// RateLimiter ограничивает запросы по IP и по участнику (если он уже в контексте). 429 при превышении.
type RateLimiter struct {
	byIP    *limiterPool
	byActor *limiterPool
}

func NewRateLimiter(perMinuteIP, perMinuteActor int) *RateLimiter {
	if perMinuteIP <= 0 {
		perMinuteIP = rateLimitPerMinIP
	}
	if perMinuteActor <= 0 {
		perMinuteActor = rateLimitPerMinActor
	}
	return &RateLimiter{byIP: newLimiterPool(perMinuteIP), byActor: newLimiterPool(perMinuteActor)}
}

func (l *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.byIP.allow("ip:" + clientIP(r)) {
			tooMany(w)
			return
		}
		if actor, ok := Actor(r.Context()); ok && !l.byActor.allow("actor:"+actor.Key()) {
			tooMany(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func tooMany(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Retry-After", "1")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"error":"too many requests","code":"rate_limited"}`))
}
