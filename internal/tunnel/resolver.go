package tunnel

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"
)

const maxExpiryJitter = 5 * time.Second

// cachedEntry is one resolved answer set plus its cache expiry instant.
type cachedEntry struct {
	addresses []string
	expiresAt time.Time
}

// Resolver resolves a "host:port" string to one socket address, caching the
// full multi-answer set for a configurable TTL.
//
// The cache is a single table guarded by a RWMutex so that reads never block
// each other. Concurrent misses for the same key may each perform a system
// lookup; the last writer to populate the cache wins. This is deliberately
// relaxed: all answers for a hostname are semantically interchangeable, so
// coalescing concurrent lookups (e.g. with golang.org/x/sync/singleflight)
// would buy nothing and was left out on purpose. Expiry is jittered by a
// uniform random amount in [0, 5s] so that many connections sharing a hot
// cache entry don't all miss and re-resolve in the same instant.
type Resolver struct {
	ttl time.Duration

	mu    sync.RWMutex
	cache map[string]cachedEntry

	// lookup is the system resolver hook; overridable in tests.
	lookup func(ctx context.Context, host string) ([]string, error)
}

// NewResolver constructs a Resolver that caches answers for ttl.
func NewResolver(ttl time.Duration) *Resolver {
	return &Resolver{
		ttl:    ttl,
		cache:  make(map[string]cachedEntry),
		lookup: systemLookupHost,
	}
}

func systemLookupHost(ctx context.Context, host string) ([]string, error) {
	return net.DefaultResolver.LookupHost(ctx, host)
}

// Resolve resolves hostPort ("host:port") to one address, picked uniformly
// at random from the (possibly cached) answer set.
func (r *Resolver) Resolve(ctx context.Context, hostPort string) (string, error) {
	host, port, err := net.SplitHostPort(hostPort)
	if err != nil {
		return "", fmt.Errorf("tunnel: invalid target %q: %w", hostPort, err)
	}

	if addr, ok := r.fromCache(hostPort); ok {
		return pickAddress(addr, port), nil
	}

	addrs, err := r.lookup(ctx, host)
	if err != nil {
		return "", fmt.Errorf("tunnel: resolve %q: %w", host, err)
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("tunnel: no addresses available for %q", host)
	}

	r.mu.Lock()
	r.cache[hostPort] = cachedEntry{
		addresses: addrs,
		expiresAt: time.Now().Add(r.ttl),
	}
	r.mu.Unlock()

	return pickAddress(addrs, port), nil
}

func (r *Resolver) fromCache(hostPort string) ([]string, bool) {
	r.mu.RLock()
	entry, ok := r.cache[hostPort]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}

	jitter := time.Duration(rand.Int63n(int64(maxExpiryJitter) + 1))
	if time.Now().Before(entry.expiresAt.Add(jitter)) {
		return entry.addresses, true
	}
	return nil, false
}

func pickAddress(addrs []string, port string) string {
	idx := 0
	if len(addrs) > 1 {
		idx = rand.Intn(len(addrs))
	}
	return net.JoinHostPort(addrs[idx], port)
}
