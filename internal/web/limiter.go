package web

import (
	"sync"
	"time"
)

// Denied ops probes are rate limited per source host so a scanner
// hammering /healthz or /metrics cannot flood the denial log.
const (
	DefaultDenialLimit   = 30
	DefaultDenialWindow  = time.Minute
	DefaultDenialSources = 1000
)

// denialLimiter counts allowlist rejections per remote host over a fixed
// window. Only the denial path consults it; allowed traffic never takes
// the lock.
type denialLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	maxKeys int
	sources map[string]*denialWindow
	sweptAt time.Time
}

type denialWindow struct {
	count    int
	openedAt time.Time
	lastSeen time.Time
}

func newDenialLimiter(limit int, window time.Duration, maxKeys int) *denialLimiter {
	if limit <= 0 {
		limit = DefaultDenialLimit
	}
	if window <= 0 {
		window = DefaultDenialWindow
	}
	if maxKeys <= 0 {
		maxKeys = DefaultDenialSources
	}
	return &denialLimiter{
		limit:   limit,
		window:  window,
		maxKeys: maxKeys,
		sources: make(map[string]*denialWindow),
	}
}

// allow reports whether this host's denial may still be answered with a
// full 403; past the limit the caller downgrades to 429.
func (l *denialLimiter) allow(host string, now time.Time) bool {
	if l == nil {
		return true
	}
	if host == "" {
		host = "unknown"
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sweptAt.IsZero() || now.Sub(l.sweptAt) >= l.window || len(l.sources) > l.maxKeys {
		l.sweep(now)
	}

	w := l.sources[host]
	if w == nil {
		w = &denialWindow{openedAt: now}
		l.sources[host] = w
	} else if now.Sub(w.openedAt) >= l.window {
		w.count = 0
		w.openedAt = now
	}
	w.lastSeen = now

	if w.count >= l.limit {
		return false
	}
	w.count++
	return true
}

// sweep drops hosts idle for two windows, then evicts arbitrarily if the
// table still exceeds maxKeys. Eviction resets an offender's window, which
// only makes the limiter more permissive, never stricter.
func (l *denialLimiter) sweep(now time.Time) {
	idleCutoff := now.Add(-2 * l.window)
	for host, w := range l.sources {
		if w.lastSeen.Before(idleCutoff) {
			delete(l.sources, host)
		}
	}
	for host := range l.sources {
		if len(l.sources) <= l.maxKeys {
			break
		}
		delete(l.sources, host)
	}
	l.sweptAt = now
}
