package aggregator

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/0xFannie/gmt-pay-dashboard/lib/store"
)

// runTimeout bounds one pipeline run triggered by the cache. It sits above
// the per-fetch timeout so a run never outlives a wedged provider by much.
const runTimeout = 2 * time.Minute

// Cache holds the latest snapshot and refreshes it through the pipeline when
// it goes stale. Concurrent stale reads trigger a single pipeline run, all
// callers share its result. A partial snapshot goes stale in half the TTL so
// a degraded view recovers sooner.
type Cache struct {
	p   *Pipeline
	ttl time.Duration

	mu   sync.RWMutex
	snap *store.Snapshot
	base context.Context

	sf singleflight.Group
}

// NewCache returns a Cache over the pipeline with the given TTL.
func NewCache(p *Pipeline, ttl time.Duration) *Cache {
	return &Cache{p: p, ttl: ttl, base: context.Background()}
}

// Seed preloads the cache, typically from the snapshot store at startup. A
// stale seed still counts, the first read past its TTL refreshes it.
func (c *Cache) Seed(s *store.Snapshot) {
	c.mu.Lock()
	c.snap = s
	c.mu.Unlock()
}

// Snapshot returns the cached snapshot without refreshing, nil when empty.
func (c *Cache) Snapshot() *store.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.snap
}

// Get returns a fresh snapshot, running the pipeline if the cached one has
// expired. When the refresh fails but a previous snapshot exists, that stale
// snapshot is returned instead of the error.
func (c *Cache) Get(ctx context.Context) (*store.Snapshot, error) {
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()

	if snap != nil && !c.expired(snap) {
		cacheHits.Inc()

		return snap, nil
	}

	fresh, err := c.Refresh(ctx)
	if err != nil {
		if snap != nil {
			log.Printf("Refresh failed, serving stale snapshot from %s: %v", snap.Taken.Format(time.RFC3339), err)

			return snap, nil
		}

		return nil, err
	}

	return fresh, nil
}

// Refresh runs the pipeline and swaps in its snapshot. Concurrent calls are
// collapsed into one run. The run executes under the cache's lifetime context
// with its own deadline, not the caller's: a caller going away stops that
// caller waiting but never aborts the run the other callers share.
func (c *Cache) Refresh(ctx context.Context) (*store.Snapshot, error) {
	ch := c.sf.DoChan("refresh", func() (interface{}, error) {
		cacheRefreshes.Inc()

		c.mu.RLock()
		prev, base := c.snap, c.base
		c.mu.RUnlock()

		rctx, cancel := context.WithTimeout(base, runTimeout)
		defer cancel()

		snap, err := c.p.Run(rctx, prev)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.snap = snap
		c.mu.Unlock()

		return snap, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}

		return r.Val.(*store.Snapshot), nil
	}
}

// StartRefresher refreshes the cache every interval until ctx is done. It
// keeps the snapshot warm so reads rarely pay for a pipeline run. ctx becomes
// the cache's lifetime context, cancelling it also stops an in-flight run.
func (c *Cache) StartRefresher(ctx context.Context, interval time.Duration) {
	c.mu.Lock()
	c.base = ctx
	c.mu.Unlock()

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Printf("Refresher stopped: %v", ctx.Err())

				return
			case <-t.C:
				if _, err := c.Refresh(ctx); err != nil {
					log.Printf("Background refresh failed: %v", err)
				}
			}
		}
	}()
}

func (c *Cache) expired(s *store.Snapshot) bool {
	return stale(time.Since(s.Taken), c.ttl, s.Partial)
}

// stale reports whether a snapshot of the given age must be refreshed. A
// snapshot aged exactly the TTL is stale; partial snapshots go stale at half
// the TTL.
func stale(age, ttl time.Duration, partial bool) bool {
	if partial {
		ttl /= 2
	}

	return age >= ttl
}
