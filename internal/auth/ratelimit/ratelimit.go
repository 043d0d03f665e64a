// Package ratelimit is an in-memory token bucket per API client.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Decision is the outcome of one Take.
type Decision struct {
	Allowed bool
	Limit   int
	// Remaining is the whole tokens left after this request.
	Remaining int
	// RetryAfter is how long until one token is available, when denied.
	RetryAfter time.Duration
}

type bucket struct {
	tokens float64
	seen   time.Time
}

// Limiter refills each client's bucket continuously at limit tokens per
// window. Idle buckets are dropped in the background.
type Limiter struct {
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	done chan struct{}
	once sync.Once
}

func New(window time.Duration) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	l := &Limiter{
		window:  window,
		now:     time.Now,
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	go l.sweep(5 * time.Minute)
	return l
}

// Take spends one of key's tokens. A non-positive limit always allows.
func (l *Limiter) Take(key string, limit int) Decision {
	if limit <= 0 {
		return Decision{Allowed: true}
	}
	capacity := float64(limit)
	perSecond := capacity / l.window.Seconds()

	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	b := l.buckets[key]
	if b == nil {
		b = &bucket{tokens: capacity, seen: now}
		l.buckets[key] = b
	}
	b.tokens = math.Min(capacity, b.tokens+now.Sub(b.seen).Seconds()*perSecond)
	b.seen = now

	d := Decision{Limit: limit}
	if b.tokens >= 1 {
		b.tokens--
		d.Allowed = true
	} else {
		missing := 1 - b.tokens
		d.RetryAfter = time.Duration(missing / perSecond * float64(time.Second))
	}
	d.Remaining = int(b.tokens)
	return d
}

// Allow is Take without the details.
func (l *Limiter) Allow(key string, limit int) bool {
	return l.Take(key, limit).Allowed
}

// Reset forgets key's bucket.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
}

func (l *Limiter) Close() {
	l.once.Do(func() { close(l.done) })
}

func (l *Limiter) sweep(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-t.C:
			l.evictIdle()
		}
	}
}

// evictIdle drops buckets untouched for two windows; they would be full again.
func (l *Limiter) evictIdle() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-2 * l.window)
	n := 0
	for k, b := range l.buckets {
		if b.seen.Before(cutoff) {
			delete(l.buckets, k)
			n++
		}
	}
	return n
}
