package middleware

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/diagnosis/slotgrid/internal/http/response"
)

// Class names a rate-limit budget.
type Class string

const (
	ClassAuth  Class = "auth"
	ClassWrite Class = "write"
	ClassRead  Class = "read"
)

type Budget struct {
	RPS   float64
	Burst int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per (class, client IP). Buckets are
// created on first use and dropped after idleTTL without traffic.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	budgets  map[Class]Budget
	idleTTL  time.Duration
	now      func() time.Time
}

func NewRateLimiter(budgets map[Class]Budget, idleTTL time.Duration) *RateLimiter {
	if idleTTL <= 0 {
		idleTTL = 3 * time.Minute
	}
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		budgets:  budgets,
		idleTTL:  idleTTL,
		now:      time.Now,
	}
}

func (rl *RateLimiter) getLimiter(class Class, ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	key := string(class) + "|" + ip
	v, exists := rl.visitors[key]
	if !exists {
		b := rl.budgets[class]
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(b.RPS), b.Burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = rl.now()
	return v.limiter
}

// Allow consumes one token from the caller's bucket for class.
func (rl *RateLimiter) Allow(class Class, ip string) bool {
	if _, ok := rl.budgets[class]; !ok {
		return true
	}
	return rl.getLimiter(class, ip).AllowN(rl.now(), 1)
}

// Sweep drops idle buckets and returns how many remain.
func (rl *RateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-rl.idleTTL)
	for key, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, key)
		}
	}
	return len(rl.visitors)
}

// Run sweeps idle buckets until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(rl.idleTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rl.Sweep()
		}
	}
}

// Limit returns middleware charging every request to class.
func (rl *RateLimiter) Limit(class Class) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(class, ClientIP(r)) {
				w.Header().Set("Retry-After", "1")
				response.RateLimit(w, "too many requests, try again later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LimitByMethod charges safe methods to read and everything else to write.
func (rl *RateLimiter) LimitByMethod() func(http.Handler) http.Handler {
	read, write := rl.Limit(ClassRead), rl.Limit(ClassWrite)
	return func(next http.Handler) http.Handler {
		readH, writeH := read(next), write(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				readH.ServeHTTP(w, r)
			default:
				writeH.ServeHTTP(w, r)
			}
		})
	}
}

// ClientIP returns the host part of RemoteAddr. Behind a trusted proxy the
// router rewrites RemoteAddr from forwarding headers first.
func ClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
