package httplisten

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// perClientLimiter enforces a token-bucket rate limit per remote address,
// lazily creating a limiter the first time a client is seen and reaping
// idle ones (a full bucket means no recent traffic) on a timer.
type perClientLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newPerClientLimiter(requestsPerMinute, burst int) *perClientLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 120
	}
	if burst <= 0 {
		burst = 20
	}
	return &perClientLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:    burst,
	}
}

func (rl *perClientLimiter) limiterFor(clientID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[clientID]
	if !ok {
		l = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[clientID] = l
	}
	return l
}

// reapIdle drops limiters whose bucket is still full, i.e. have seen no
// traffic since the last sweep.
func (rl *perClientLimiter) reapIdle() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	for key, l := range rl.limiters {
		if l.TokensAt(now) == float64(rl.burst) {
			delete(rl.limiters, key)
		}
	}
}

func (rl *perClientLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := clientAddr(r)
		if !rl.limiterFor(clientID).Allow() {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
