package ratelimit

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"delivery-backend/internal/observability"
)

const defaultMaxTrackedIPs = 5000

// IPRateLimiter throttles requests per client IP against two budgets at
// once, a per-minute and a per-hour one. State is process-local.
type IPRateLimiter struct {
	mu        sync.Mutex
	perMinute int
	perHour   int
	visitors  map[string]*visitor
	maxMemory int
	now       func() time.Time
}

type visitor struct {
	minute   *rate.Limiter
	hour     *rate.Limiter
	lastSeen time.Time
}

func NewIPRateLimiter(perMinute, perHour int) *IPRateLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if perHour <= 0 {
		perHour = 1000
	}

	return &IPRateLimiter{
		perMinute: perMinute,
		perHour:   perHour,
		visitors:  make(map[string]*visitor),
		maxMemory: defaultMaxTrackedIPs,
		now:       time.Now,
	}
}

func (l *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(observability.ClientIP(r)) {
			w.Header().Set("Retry-After", "60")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "too many requests"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (l *IPRateLimiter) Allow(ip string) bool {
	now := l.now().UTC()

	l.mu.Lock()
	defer l.mu.Unlock()

	v := l.visitors[ip]
	if v == nil {
		v = &visitor{
			minute: rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMinute)), l.perMinute),
			hour:   rate.NewLimiter(rate.Every(time.Hour/time.Duration(l.perHour)), l.perHour),
		}
		l.visitors[ip] = v
	}
	v.lastSeen = now

	if len(l.visitors) > l.maxMemory {
		threshold := now.Add(-time.Hour)
		for key, value := range l.visitors {
			if value.lastSeen.Before(threshold) {
				delete(l.visitors, key)
			}
		}
	}

	return v.minute.Allow() && v.hour.Allow()
}
