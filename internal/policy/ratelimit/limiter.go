// Package ratelimit spaces out browser navigations against the same venue
// host. Every host gets its own token bucket; buckets that sit idle are
// forgotten so a long-running scheduler does not accumulate one per site
// ever scraped.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/realtime-event-crawler/internal/metrics"
)

const defaultIdleTTL = 30 * time.Minute

// Config sets the per-host budget. RPS <= 0 disables throttling.
type Config struct {
	RPS   float64
	Burst int
	// IdleTTL is how long an unused host bucket is kept.
	IdleTTL time.Duration
}

type bucket struct {
	lim      *rate.Limiter
	lastUsed time.Time
}

// Limiter hands out navigation slots keyed by host.
type Limiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

// New builds a Limiter from cfg.
func New(cfg Config) *Limiter {
	l := &Limiter{
		limit:   rate.Limit(cfg.RPS),
		burst:   max(cfg.Burst, 1),
		idleTTL: cfg.IdleTTL,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
	if cfg.RPS <= 0 {
		l.limit = rate.Inf
	}
	if l.idleTTL <= 0 {
		l.idleTTL = defaultIdleTTL
	}
	return l
}

// Wait blocks until rawURL's host may be navigated again or ctx ends.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostKey(rawURL)
	lim := l.acquire(host)

	start := time.Now()
	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", host, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

// Hosts reports how many host buckets are currently tracked.
func (l *Limiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) acquire(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.lastSweep) >= l.idleTTL {
		for h, b := range l.buckets {
			if now.Sub(b.lastUsed) >= l.idleTTL {
				delete(l.buckets, h)
			}
		}
		l.lastSweep = now
	}
	b, ok := l.buckets[host]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[host] = b
	}
	b.lastUsed = now
	return b.lim
}

// hostKey folds "www." and letter case so a venue listed under both forms
// shares one bucket.
func hostKey(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}
