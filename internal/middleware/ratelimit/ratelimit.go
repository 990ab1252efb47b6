package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"stars/internal/log"
	"stars/internal/metrics"
)

const (
	window    = time.Minute
	staleIdle = 10 * time.Minute
)

// Limiter counts requests per client in fixed one-minute windows.
type Limiter struct {
	mu       sync.Mutex
	clients  map[string]*clientWindow
	stop     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
	logger   *log.Logger

	limit           int
	cleanupInterval time.Duration
}

type clientWindow struct {
	start    time.Time
	last     time.Time
	requests int
}

// Config holds rate limiter configuration
type Config struct {
	RequestsPerMinute int
	CleanupInterval   time.Duration
}

func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		CleanupInterval:   5 * time.Minute,
	}
}

// Decision is the outcome of counting one request.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time // end of the client's current window
}

// RetryAfter is the wait until the window resets, rounded up to a second.
func (d Decision) RetryAfter(now time.Time) int {
	secs := int(math.Ceil(d.Reset.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// NewLimiter starts a limiter and its cleanup goroutine. Call Stop when done.
func NewLimiter(config Config) *Limiter {
	def := DefaultConfig()
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = def.RequestsPerMinute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}

	rl := &Limiter{
		clients:         make(map[string]*clientWindow),
		stop:            make(chan struct{}),
		now:             time.Now,
		logger:          log.ForComponent(log.ComponentRateLimit),
		limit:           config.RequestsPerMinute,
		cleanupInterval: config.CleanupInterval,
	}
	go rl.cleanupLoop()
	return rl
}

// Take counts a request from client and reports whether it fits the quota.
func (rl *Limiter) Take(client string) Decision {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.clients[client]
	if !ok || now.Sub(w.start) >= window {
		w = &clientWindow{start: now}
		rl.clients[client] = w
	}
	w.requests++
	w.last = now

	return Decision{
		Allowed:   w.requests <= rl.limit,
		Limit:     rl.limit,
		Remaining: max(rl.limit-w.requests, 0),
		Reset:     w.start.Add(window),
	}
}

// Allow is Take reduced to its verdict.
func (rl *Limiter) Allow(client string) bool {
	return rl.Take(client).Allowed
}

func (rl *Limiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stop:
			return
		}
	}
}

// cleanupStaleEntries forgets clients idle for more than ten minutes.
func (rl *Limiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-staleIdle)
	for client, w := range rl.clients {
		if w.last.Before(cutoff) {
			delete(rl.clients, client)
		}
	}
}

func (rl *Limiter) ActiveClients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Stop ends the cleanup goroutine. Safe to call more than once.
func (rl *Limiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// Middleware counts requests of the given methods (all methods when none
// are given) per client and answers over-quota ones through onLimit, or a
// plain 429 when onLimit is nil. Counted responses carry X-RateLimit-*
// headers.
func (rl *Limiter) Middleware(extractIP func(*http.Request) string, onLimit http.HandlerFunc, methods ...string) func(http.Handler) http.Handler {
	limited := make(map[string]bool, len(methods))
	for _, m := range methods {
		limited[m] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(limited) > 0 && !limited[r.Method] {
				next.ServeHTTP(w, r)
				return
			}

			ip := extractIP(r)
			d := rl.Take(ip)
			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))

			if !d.Allowed {
				metrics.RateLimited.Inc()
				rl.logger.WarnContext(r.Context(), "Rate limit exceeded",
					log.FieldClientIP, ip, log.FieldMethod, r.Method, log.FieldPath, r.URL.Path)
				h.Set("Retry-After", strconv.Itoa(d.RetryAfter(rl.now())))
				if onLimit != nil {
					onLimit(w, r)
				} else {
					http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				}
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
