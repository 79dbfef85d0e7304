package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/cognicore/graphreason/pkg/reasoner/internalerr"
	"github.com/cognicore/graphreason/pkg/reasoner/query"
	"github.com/cognicore/graphreason/pkg/reasoner/store"
	"github.com/cognicore/graphreason/pkg/reasoner/unifier"
)

// PlanCache shares compiled plans between transactions. Unlike the
// transaction caches it is safe for concurrent use, and concurrent compiles
// of the same query are deduplicated.
type PlanCache struct {
	mu      sync.Mutex
	entries *lru.Cache[string, []*planEntry]
	flight  singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// NewPlanCache creates a plan cache holding at most size equivalence classes.
func NewPlanCache(size int) (*PlanCache, error) {
	if size <= 0 {
		return nil, fmt.Errorf("plan cache size %d: %w", size, internalerr.ErrInvalidConfig)
	}
	entries, err := lru.New[string, []*planEntry](size)
	if err != nil {
		return nil, fmt.Errorf("create plan cache: %w", err)
	}
	return &PlanCache{entries: entries}, nil
}

func (c *PlanCache) lookup(key string, q *query.AtomicQuery, cmp unifier.Comparison) (*planEntry, bool) {
	c.mu.Lock()
	list, _ := c.entries.Get(key)
	c.mu.Unlock()
	e, _, ok := findEntry(list, q, cmp)
	return e, ok
}

func (c *PlanCache) getOrCompile(ctx context.Context, key string, q *query.AtomicQuery, cs store.ConceptStore, cmp unifier.Comparison) (*planEntry, error) {
	if e, ok := c.lookup(key, q, cmp); ok {
		c.hits.Add(1)
		recordHit(ctx, LayerShared)
		return e, nil
	}

	v, err, _ := c.flight.Do(key+"\x00"+q.String(), func() (interface{}, error) {
		// Another caller may have compiled it while we waited.
		if e, ok := c.lookup(key, q, cmp); ok {
			return e, nil
		}
		plan, err := cs.Compile(q)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", q, err)
		}
		e := &planEntry{query: q, plan: plan}
		c.mu.Lock()
		list, _ := c.entries.Get(key)
		c.entries.Add(key, append(append([]*planEntry(nil), list...), e))
		c.mu.Unlock()
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	c.misses.Add(1)
	recordMiss(ctx, LayerShared)
	return v.(*planEntry), nil
}

// Len returns the number of cached equivalence classes.
func (c *PlanCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Stats returns the shared hit and miss counts.
func (c *PlanCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Purge drops every cached plan.
func (c *PlanCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}
