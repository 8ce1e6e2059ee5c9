// Package ratelimit keeps one token bucket per caller key (remote IP or
// session id) for command ingress.
package ratelimit

import (
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	lim  *rate.Limiter
	seen time.Time
}

type Keyed struct {
	limit rate.Limit
	burst int
	idle  time.Duration

	mu   sync.Mutex
	keys map[string]*entry
	now  func() time.Time
}

// NewKeyed allows perSec commands per key with the given burst. A
// non-positive perSec disables limiting.
func NewKeyed(perSec float64, burst int) *Keyed {
	lim := rate.Inf
	if perSec > 0 {
		lim = rate.Limit(perSec)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Keyed{
		limit: lim,
		burst: burst,
		idle:  10 * time.Minute,
		keys:  map[string]*entry{},
		now:   time.Now,
	}
}

// Limiter returns the bucket for key, creating it on first use.
func (k *Keyed) Limiter(key string) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()
	now := k.now()
	e, ok := k.keys[key]
	if !ok {
		e = &entry{lim: rate.NewLimiter(k.limit, k.burst)}
		k.keys[key] = e
	}
	e.seen = now
	return e.lim
}

func (k *Keyed) Allow(key string) bool {
	if k == nil {
		return true
	}
	return k.Limiter(key).AllowN(k.now(), 1)
}

// Sweep forgets keys idle for longer than the idle window and returns how
// many were dropped.
func (k *Keyed) Sweep() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	cut := k.now().Add(-k.idle)
	n := 0
	for key, e := range k.keys {
		if e.seen.Before(cut) {
			delete(k.keys, key)
			n++
		}
	}
	return n
}

func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.keys)
}

// RemoteIP strips the port and brackets from an http.Request RemoteAddr.
func RemoteIP(remoteAddr string) string {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	return strings.TrimSuffix(host, "]")
}

// IsLoopback reports whether remoteAddr is a loopback address.
func IsLoopback(remoteAddr string) bool {
	ip := net.ParseIP(RemoteIP(remoteAddr))
	return ip != nil && ip.IsLoopback()
}
