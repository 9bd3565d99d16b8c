package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Generation is an immutable view of the week cache. A run reads from the
// generation it started with; later commits never change it.
type Generation struct {
	entries map[string]cacheEntry
}

type cacheEntry struct {
	fingerprint string
	payload     []byte
}

// Len returns the number of cached weeks.
func (g *Generation) Len() int { return len(g.entries) }

// Proposal is a freshly computed week a run offers to the next generation.
type Proposal struct {
	Key         string
	Fingerprint string
	Payload     []byte
}

// CacheManager holds computed week aggregates keyed by (hospital, week) and
// validated by the fingerprint of their inputs. Commits build a new
// generation and swap it in, so readers never see an entry change.
type CacheManager struct {
	current atomic.Pointer[Generation]
	mu      sync.Mutex // serializes commits

	kv     KVStore // optional second tier
	ttl    time.Duration
	logger *zap.Logger
}

func NewCacheManager(kv KVStore, ttl time.Duration, logger *zap.Logger) *CacheManager {
	c := &CacheManager{kv: kv, ttl: ttl, logger: logger}
	c.current.Store(&Generation{entries: map[string]cacheEntry{}})
	return c
}

// Snapshot returns the current generation.
func (c *CacheManager) Snapshot() *Generation {
	return c.current.Load()
}

func kvKey(key, fingerprint string) string {
	return fmt.Sprintf("kmc:week:%s:%s", key, fingerprint)
}

// Get returns the payload cached for key under fingerprint, looking in gen
// first and then in the KV store.
func (c *CacheManager) Get(ctx context.Context, gen *Generation, key, fingerprint string) ([]byte, error) {
	if e, ok := gen.entries[key]; ok && e.fingerprint == fingerprint {
		return e.payload, nil
	}
	if c.kv == nil {
		return nil, ErrCacheMiss
	}
	val, err := c.kv.Get(ctx, kvKey(key, fingerprint))
	if errors.Is(err, ErrCacheMiss) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		// A broken second tier only costs a recompute.
		c.logger.Warn("Week cache read failed", zap.String("key", key), zap.Error(err))
		return nil, ErrCacheMiss
	}
	return []byte(val), nil
}

// Commit adopts proposals into a new generation and writes them through to
// the KV store.
func (c *CacheManager) Commit(ctx context.Context, proposals []Proposal) {
	if len(proposals) == 0 {
		return
	}
	c.mu.Lock()
	old := c.current.Load()
	next := &Generation{entries: make(map[string]cacheEntry, len(old.entries)+len(proposals))}
	for k, v := range old.entries {
		next.entries[k] = v
	}
	for _, p := range proposals {
		next.entries[p.Key] = cacheEntry{fingerprint: p.Fingerprint, payload: p.Payload}
	}
	c.current.Store(next)
	c.mu.Unlock()

	if c.kv == nil {
		return
	}
	for _, p := range proposals {
		if err := c.kv.Set(ctx, kvKey(p.Key, p.Fingerprint), string(p.Payload), c.ttl); err != nil {
			c.logger.Warn("Week cache write failed", zap.String("key", p.Key), zap.Error(err))
		}
	}
	c.logger.Debug("Committed week cache generation",
		zap.Int("proposals", len(proposals)),
		zap.Int("entries", next.Len()),
	)
}
