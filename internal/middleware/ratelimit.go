package middleware

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// RateLimiter is per-client token bucket middleware. Planning requests each
// cost a model call, so it guards the plan endpoints.
type RateLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients *expirable.LRU[string, *rate.Limiter]
	now     func() time.Time
}

// NewRateLimiter allows perMinute sustained requests per client with the
// given burst. At most maxClients limiters are tracked; idle clients expire
// after idleTTL.
func NewRateLimiter(perMinute, burst, maxClients int, idleTTL time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   burst,
		clients: expirable.NewLRU[string, *rate.Limiter](maxClients, nil, idleTTL),
		now:     time.Now,
	}
}

// Handler returns HTTP middleware that rejects requests over the limit with 429.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := rl.reserve(clientKey(r))
		delay := res.DelayFrom(rl.now())
		if delay > 0 {
			res.CancelAt(rl.now())
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", math.Ceil(delay.Seconds())))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) reserve(key string) *rate.Reservation {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	lim, ok := rl.clients.Get(key)
	if !ok {
		lim = rate.NewLimiter(rl.limit, rl.burst)
	}
	// Add refreshes the idle TTL of active clients.
	rl.clients.Add(key, lim)
	return lim.ReserveN(rl.now(), 1)
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	return rl.clients.Len()
}

// clientKey identifies the caller by RemoteAddr only; proxy headers can be spoofed.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
