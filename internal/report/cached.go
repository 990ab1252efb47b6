package report

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"stars/internal/cache"
	"stars/internal/core"
	"stars/internal/log"
	"stars/internal/metrics"
	"stars/internal/store"
)

// Cached memoises reports. Entries for a child are dropped as soon as a
// ledger change for that child is observed, and otherwise expire with the
// cache's TTL.
//
// Each child has a generation that Invalidate bumps. A report is stored
// only if its child's generation did not move while it was computed, so a
// summary read before a concurrent write never outlives that write's
// eviction.
type Cached struct {
	inner  *Reporter
	store  store.Store
	cache  cache.Cache[core.Report]
	logger *log.Logger

	mu    sync.Mutex
	gens  map[string]uint64
	epoch uint64
}

type generation struct {
	epoch, child uint64
}

func NewCached(inner *Reporter, st store.Store, c cache.Cache[core.Report]) *Cached {
	return &Cached{
		inner:  inner,
		store:  st,
		cache:  c,
		logger: log.ForComponent(log.ComponentReport),
		gens:   make(map[string]uint64),
	}
}

func (c *Cached) generation(childID string) generation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return generation{epoch: c.epoch, child: c.gens[childID]}
}

func cacheKey(childID string, w Window) string {
	return fmt.Sprintf("%s|%d|%d", childID, w.From.UnixNano(), w.To.UnixNano())
}

// Summarize is Reporter.Summarize served from the cache when possible. The
// window is half-open, [w.From, w.To).
func (c *Cached) Summarize(ctx context.Context, childID string, w Window) (core.Report, error) {
	key := cacheKey(childID, w)
	if rep, ok := c.cache.Get(key); ok {
		metrics.ReportCache.WithLabelValues("hit").Inc()
		return rep, nil
	}
	metrics.ReportCache.WithLabelValues("miss").Inc()

	gen := c.generation(childID)
	rep, err := c.inner.Summarize(ctx, childID, w)
	if err != nil {
		return core.Report{}, err
	}

	c.mu.Lock()
	if gen == (generation{epoch: c.epoch, child: c.gens[childID]}) {
		c.cache.Set(key, rep)
	}
	c.mu.Unlock()
	return rep, nil
}

func (c *Cached) Weekly(ctx context.Context, childID string, weekStart time.Time) (core.Report, error) {
	from := c.inner.day(weekStart)
	return c.Summarize(ctx, childID, Window{From: from, To: from.AddDate(0, 0, 7)})
}

// Invalidate drops every cached report of the child, including one being
// computed right now.
func (c *Cached) Invalidate(childID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[childID]++
	prefix := childID + "|"
	return c.cache.DeleteFunc(func(key string) bool { return strings.HasPrefix(key, prefix) })
}

// InvalidateAll drops every cached report.
func (c *Cached) InvalidateAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	clear(c.gens)
	return c.cache.DeleteFunc(func(string) bool { return true })
}

// Start subscribes to ledger changes and evicts in the background until ctx
// is done. Changes to submissions also evict, since a report reads their
// category.
func (c *Cached) Start(ctx context.Context) error {
	changes, err := c.store.Subscribe(ctx, store.Filter{
		Entities: []store.Entity{store.EntityTransaction, store.EntitySubmission},
	})
	if err != nil {
		return fmt.Errorf("subscribe for report eviction: %w", err)
	}
	go func() {
		for ch := range changes {
			if ch.Op == store.OpResync {
				n := c.InvalidateAll()
				c.logger.WarnContext(ctx, "Missed ledger changes, report cache cleared", "count", n)
				continue
			}
			if ch.ChildID == "" {
				continue
			}
			if n := c.Invalidate(ch.ChildID); n > 0 {
				c.logger.DebugContext(ctx, "Reports evicted", log.FieldChildID, ch.ChildID, "count", n)
			}
		}
	}()
	return nil
}

// Run is Start for an errgroup: it blocks until ctx is done.
func (c *Cached) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}
