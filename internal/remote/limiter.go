package remote

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type cachedLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter rate limits control requests per peer host.
type KeyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*cachedLimiter
	rate     rate.Limit
	burst    int
}

// NewKeyedLimiter allows perSecond requests per peer with the given burst.
// A non-positive perSecond disables limiting.
func NewKeyedLimiter(perSecond float64, burst int) *KeyedLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = int(perSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &KeyedLimiter{
		limiters: map[string]*cachedLimiter{},
		rate:     rate.Limit(perSecond),
		burst:    burst,
	}
}

// Allow reports whether key may issue one more request now. A nil limiter allows everything.
func (k *KeyedLimiter) Allow(key string) bool {
	if k == nil {
		return true
	}
	now := time.Now()
	k.mu.Lock()
	defer k.mu.Unlock()
	entry, ok := k.limiters[key]
	if !ok {
		k.pruneLocked(now)
		entry = &cachedLimiter{limiter: rate.NewLimiter(k.rate, k.burst)}
		k.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (k *KeyedLimiter) pruneLocked(now time.Time) {
	for key, entry := range k.limiters {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(k.limiters, key)
		}
	}
}

// PeerKey returns the host part of a remote address.
func PeerKey(addr net.Addr) string {
	if addr == nil {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil || host == "" {
		return addr.String()
	}
	return host
}
