// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"

	"github.com/telekom/tekton-step/pkg/metrics"
)

// DefaultClientTTL is how long a cached client stays valid, measured from
// insertion. Upstream credentials (cloud issued tokens) have their own short
// lifetime, so entries are not refreshed on access.
const DefaultClientTTL = 10 * time.Minute

// EvictionReason tells an EvictionHook why an entry was discarded.
type EvictionReason string

const (
	EvictionExpired     EvictionReason = "expired"
	EvictionStale       EvictionReason = "stale"
	EvictionRemoved     EvictionReason = "removed"
	EvictionInvalidated EvictionReason = "invalidated"
)

// EvictionHook is called once for every entry the cache discards, after the
// entry has been removed and without the cache lock held, so a hook may call
// back into the cache.
type EvictionHook func(name string, reason EvictionReason)

// cachedClient wraps the client handle with the data needed to decide validity.
type cachedClient struct {
	clients     *Clients
	fingerprint string
	createdAt   time.Time
}

func (e *cachedClient) handle() *Clients {
	cp := *e.clients
	cp.Fingerprint = e.fingerprint
	cp.CreatedAt = e.createdAt
	return &cp
}

// ClientCache maps a cluster identity name to a live API client.
// It is safe for concurrent use by multiple invocations.
type ClientCache struct {
	factory Factory
	log     *zap.SugaredLogger
	clock   clock.PassiveClock
	ttl     time.Duration
	onEvict EvictionHook

	mu      sync.RWMutex
	entries map[string]*cachedClient
}

// Option configures a ClientCache.
type Option func(*ClientCache)

// WithTTL overrides DefaultClientTTL. Non-positive values are ignored.
func WithTTL(ttl time.Duration) Option {
	return func(c *ClientCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock replaces the wall clock, mostly for tests.
func WithClock(clk clock.PassiveClock) Option {
	return func(c *ClientCache) { c.clock = clk }
}

// WithFactory replaces NewClients.
func WithFactory(f Factory) Option {
	return func(c *ClientCache) { c.factory = f }
}

// WithEvictionHook replaces the default hook, which only logs.
func WithEvictionHook(h EvictionHook) Option {
	return func(c *ClientCache) { c.onEvict = h }
}

func NewClientCache(log *zap.SugaredLogger, opts ...Option) *ClientCache {
	if log == nil {
		log = zap.S()
	}
	c := &ClientCache{
		factory: NewClients,
		log:     log,
		clock:   clock.RealClock{},
		ttl:     DefaultClientTTL,
		entries: map[string]*cachedClient{},
	}
	c.onEvict = func(name string, reason EvictionReason) {
		c.log.Debugw("Evicted cached cluster client", "cluster", name, "reason", reason)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached client for the identity if it is younger than the TTL
// and its fingerprint still matches; otherwise it builds and stores a new one.
// Construction failures are returned wrapped in ErrClientConstructionFailed and
// nothing is cached.
func (c *ClientCache) Get(ctx context.Context, id Identity) (*Clients, error) {
	name := id.DisplayName()
	fingerprint := id.Fingerprint()
	now := c.clock.Now()

	c.mu.RLock()
	entry, ok := c.entries[name]
	c.mu.RUnlock()

	if ok {
		switch {
		case entry.fingerprint != fingerprint:
			c.log.Debugw("Cached cluster client is stale", "cluster", name)
			c.evict(name, entry, EvictionStale)
		case !now.Before(entry.createdAt.Add(c.ttl)):
			c.log.Debugw("Cached cluster client expired", "cluster", name, "createdAt", entry.createdAt)
			c.evict(name, entry, EvictionExpired)
		default:
			metrics.ClusterCacheHits.WithLabelValues(name).Inc()
			return entry.handle(), nil
		}
	}
	metrics.ClusterCacheMisses.WithLabelValues(name).Inc()

	clients, err := c.factory(ctx, id)
	if err != nil {
		metrics.ClusterClientErrors.WithLabelValues(name).Inc()
		return nil, fmt.Errorf("%w: cluster %s: %w", ErrClientConstructionFailed, name, err)
	}
	if clients == nil {
		metrics.ClusterClientErrors.WithLabelValues(name).Inc()
		return nil, fmt.Errorf("%w: cluster %s: factory returned no client", ErrClientConstructionFailed, name)
	}

	entry = &cachedClient{
		clients:     clients,
		fingerprint: fingerprint,
		createdAt:   c.clock.Now(),
	}
	// concurrent misses may both construct; the last write wins
	c.mu.Lock()
	c.entries[name] = entry
	c.mu.Unlock()

	c.log.Debugw("Cached cluster client", "cluster", name, "ttl", c.ttl)
	return entry.handle(), nil
}

// Reconfigure replaces the known identity set. Entries for identities that are
// gone or whose fingerprint changed are evicted right away.
func (c *ClientCache) Reconfigure(ids []Identity) {
	current := make(map[string]string, len(ids))
	for _, id := range ids {
		current[id.DisplayName()] = id.Fingerprint()
	}

	type victim struct {
		name   string
		entry  *cachedClient
		reason EvictionReason
	}
	var victims []victim

	c.mu.RLock()
	for name, entry := range c.entries {
		fp, ok := current[name]
		switch {
		case !ok:
			victims = append(victims, victim{name, entry, EvictionRemoved})
		case fp != entry.fingerprint:
			victims = append(victims, victim{name, entry, EvictionStale})
		}
	}
	c.mu.RUnlock()

	for _, v := range victims {
		c.evict(v.name, v.entry, v.reason)
	}
}

// Invalidate drops the entry for name, if any.
func (c *ClientCache) Invalidate(name string) {
	c.mu.RLock()
	entry, ok := c.entries[name]
	c.mu.RUnlock()
	if ok {
		c.evict(name, entry, EvictionInvalidated)
	}
}

// Sweep evicts every expired entry.
func (c *ClientCache) Sweep() {
	now := c.clock.Now()
	c.mu.RLock()
	expired := map[string]*cachedClient{}
	for name, entry := range c.entries {
		if !now.Before(entry.createdAt.Add(c.ttl)) {
			expired[name] = entry
		}
	}
	c.mu.RUnlock()

	for name, entry := range expired {
		c.evict(name, entry, EvictionExpired)
	}
}

// Run sweeps expired entries every interval until ctx is done.
func (c *ClientCache) Run(ctx context.Context, interval time.Duration) {
	wait.UntilWithContext(ctx, func(context.Context) { c.Sweep() }, interval)
}

// Len returns the number of cached entries, expired ones included.
func (c *ClientCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evict removes entry only if it is still the one stored under name, so a
// client inserted concurrently by another caller survives. The hook runs after
// the removal.
func (c *ClientCache) evict(name string, entry *cachedClient, reason EvictionReason) {
	c.mu.Lock()
	current, ok := c.entries[name]
	if !ok || current != entry {
		c.mu.Unlock()
		return
	}
	delete(c.entries, name)
	c.mu.Unlock()

	metrics.ClusterCacheEvictions.WithLabelValues(string(reason)).Inc()
	if c.onEvict != nil {
		c.onEvict(name, reason)
	}
}
