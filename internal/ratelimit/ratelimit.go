// Package ratelimit wraps token buckets for websocket connections and HTTP
// clients.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket refilled at rate tokens per second up to burst.
type Limiter struct {
	lim      *rate.Limiter
	mu       sync.Mutex
	lastSeen time.Time
}

func NewLimiter(r float64, burst int) *Limiter {
	return &Limiter{
		lim:      rate.NewLimiter(rate.Limit(r), burst),
		lastSeen: time.Now(),
	}
}

func (l *Limiter) Allow() bool {
	return l.AllowN(1)
}

func (l *Limiter) AllowN(n int) bool {
	now := time.Now()
	l.mu.Lock()
	l.lastSeen = now
	l.mu.Unlock()
	return l.lim.AllowN(now, n)
}

func (l *Limiter) idleSince() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeen
}

// ClientLimiters hands out one Limiter per client key and forgets keys that
// have been idle for longer than the idle timeout.
type ClientLimiters struct {
	limiters        map[string]*Limiter
	rate            float64
	burst           int
	mu              sync.RWMutex
	cleanupInterval time.Duration
	idleTimeout     time.Duration
	stop            chan struct{}
	stopOnce        sync.Once
}

func NewClientLimiters(r float64, burst int) *ClientLimiters {
	cl := &ClientLimiters{
		limiters:        make(map[string]*Limiter),
		rate:            r,
		burst:           burst,
		cleanupInterval: 5 * time.Minute,
		idleTimeout:     10 * time.Minute,
		stop:            make(chan struct{}),
	}
	go cl.cleanup()
	return cl
}

func (cl *ClientLimiters) Get(clientID string) *Limiter {
	cl.mu.RLock()
	limiter, ok := cl.limiters[clientID]
	cl.mu.RUnlock()

	if ok {
		return limiter
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if limiter, ok := cl.limiters[clientID]; ok {
		return limiter
	}

	limiter = NewLimiter(cl.rate, cl.burst)
	cl.limiters[clientID] = limiter
	return limiter
}

// Allow is Get(clientID).Allow().
func (cl *ClientLimiters) Allow(clientID string) bool {
	return cl.Get(clientID).Allow()
}

func (cl *ClientLimiters) Remove(clientID string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	delete(cl.limiters, clientID)
}

func (cl *ClientLimiters) Len() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.limiters)
}

func (cl *ClientLimiters) Stop() {
	cl.stopOnce.Do(func() { close(cl.stop) })
}

func (cl *ClientLimiters) cleanup() {
	ticker := time.NewTicker(cl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cl.stop:
			return
		case now := <-ticker.C:
			cl.evictIdle(now)
		}
	}
}

func (cl *ClientLimiters) evictIdle(now time.Time) int {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	n := 0
	for id, l := range cl.limiters {
		if now.Sub(l.idleSince()) > cl.idleTimeout {
			delete(cl.limiters, id)
			n++
		}
	}
	return n
}
