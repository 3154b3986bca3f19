// Package ratelimit limits how often a single sender may issue commands.
// Each sender gets its own token bucket; an idle bucket is dropped by
// Cleanup.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration.
type Config struct {
	// PerMinute is the sustained rate per key. Zero disables limiting.
	PerMinute int
	// Burst is how many events a fresh key may issue at once. Defaults to
	// PerMinute.
	Burst int
}

func (c Config) Enabled() bool {
	return c.PerMinute > 0
}

// Limiter hands out one token bucket per key.
type Limiter struct {
	config  Config
	buckets sync.Map // map[string]*entry
	now     func() time.Time
}

type entry struct {
	limiter *rate.Limiter

	mu       sync.Mutex
	lastSeen time.Time
}

func NewLimiter(config Config) *Limiter {
	if config.Burst <= 0 {
		config.Burst = config.PerMinute
	}
	return &Limiter{
		config: config,
		now:    time.Now,
	}
}

// Allow reports whether key may act now and consumes a token if so.
func (l *Limiter) Allow(key string) bool {
	if l == nil || !l.config.Enabled() {
		return true
	}

	now := l.now()
	e := l.bucket(key, now)
	e.mu.Lock()
	e.lastSeen = now
	e.mu.Unlock()
	return e.limiter.AllowN(now, 1)
}

func (l *Limiter) bucket(key string, now time.Time) *entry {
	if cached, ok := l.buckets.Load(key); ok {
		return cached.(*entry)
	}

	every := time.Minute / time.Duration(l.config.PerMinute)
	e := &entry{
		limiter:  rate.NewLimiter(rate.Every(every), l.config.Burst),
		lastSeen: now,
	}
	actual, _ := l.buckets.LoadOrStore(key, e)
	return actual.(*entry)
}

// Cleanup removes buckets that have not been used for maxAge.
func (l *Limiter) Cleanup(maxAge time.Duration) {
	if l == nil {
		return
	}

	now := l.now()
	l.buckets.Range(func(key, value any) bool {
		e := value.(*entry)
		e.mu.Lock()
		idle := now.Sub(e.lastSeen) > maxAge
		e.mu.Unlock()
		if idle {
			l.buckets.Delete(key)
		}
		return true
	})
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	n := 0
	l.buckets.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
