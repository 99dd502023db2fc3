package wsproxy

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipRateLimiter is an optional per-IP WebSocket connection-rate guard, a
// one-token-per-connect-attempt limiter layered in front of the KeyStore
// charge so a single IP can't hammer the upgrade handshake.
type ipRateLimiter struct {
	mu      sync.Mutex
	rps     float64
	burst   int
	entries map[string]*ipEntry
}

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPRateLimiter(rps float64, burst int) *ipRateLimiter {
	l := &ipRateLimiter{rps: rps, burst: burst, entries: make(map[string]*ipEntry)}
	go l.cleanupLoop()
	return l
}

func (l *ipRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[ip]
	if !ok {
		e = &ipEntry{limiter: rate.NewLimiter(rate.Limit(l.rps), l.burst)}
		l.entries[ip] = e
	}
	e.lastSeen = time.Now()
	return e.limiter.Allow()
}

func (l *ipRateLimiter) cleanupLoop() {
	for range time.Tick(5 * time.Minute) {
		l.mu.Lock()
		for ip, e := range l.entries {
			if time.Since(e.lastSeen) > 10*time.Minute {
				delete(l.entries, ip)
			}
		}
		l.mu.Unlock()
	}
}
