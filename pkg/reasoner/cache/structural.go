package cache

import (
	"context"
	"fmt"

	"github.com/cognicore/graphreason/pkg/reasoner/concept"
	"github.com/cognicore/graphreason/pkg/reasoner/query"
	"github.com/cognicore/graphreason/pkg/reasoner/store"
	"github.com/cognicore/graphreason/pkg/reasoner/unifier"
)

type planEntry struct {
	query *query.AtomicQuery
	plan  *store.Plan
}

// StructuralCache keeps one compiled plan per structural equivalence class.
// A query that differs from a cached one only in its pinned ids reuses the
// cached plan with the ids swapped in. It is not safe for concurrent use.
type StructuralCache struct {
	store   store.ConceptStore
	cmp     unifier.Comparison
	shared  *PlanCache
	entries map[string][]*planEntry

	hits     int64
	compiles int64
}

// NewStructuralCache creates a cache compiling through cs. shared may be nil.
func NewStructuralCache(cs store.ConceptStore, h unifier.Hierarchy, shared *PlanCache) *StructuralCache {
	return &StructuralCache{
		store:   cs,
		cmp:     unifier.NewComparison(unifier.Structural, h),
		shared:  shared,
		entries: make(map[string][]*planEntry),
	}
}

// findEntry returns the first entry equivalent to q under cmp together with
// the unifier from the entry's variables onto q's.
func findEntry(entries []*planEntry, q *query.AtomicQuery, cmp unifier.Comparison) (*planEntry, unifier.Unifier, bool) {
	for _, e := range entries {
		if u, ok := unifier.Unify(e.query, q, cmp).First(); ok {
			return e, u, true
		}
	}
	return nil, unifier.Unifier{}, false
}

// Plan returns a plan answering q and the unifier from the plan's variables
// onto q's.
func (c *StructuralCache) Plan(ctx context.Context, q *query.AtomicQuery) (*store.Plan, unifier.Unifier, error) {
	key := q.Pattern().Signature(true)
	if e, u, ok := findEntry(c.entries[key], q, c.cmp); ok {
		c.hits++
		recordHit(ctx, LayerStructural)
		return rebind(e, u, q), u, nil
	}
	recordMiss(ctx, LayerStructural)

	var e *planEntry
	if c.shared != nil {
		shared, err := c.shared.getOrCompile(ctx, key, q, c.store, c.cmp)
		if err != nil {
			return nil, unifier.Unifier{}, err
		}
		e = shared
	} else {
		plan, err := c.store.Compile(q)
		if err != nil {
			return nil, unifier.Unifier{}, fmt.Errorf("compile %s: %w", q, err)
		}
		c.compiles++
		e = &planEntry{query: q, plan: plan}
	}
	c.entries[key] = append(c.entries[key], e)

	u, ok := unifier.Unify(e.query, q, c.cmp).First()
	if !ok {
		return nil, unifier.Unifier{}, fmt.Errorf("plan for %s does not unify with its own query", q)
	}
	return rebind(e, u, q), u, nil
}

// rebind swaps the ids pinned by q into the entry's plan.
func rebind(e *planEntry, u unifier.Unifier, q *query.AtomicQuery) *store.Plan {
	p := q.Pattern()
	ids := make(map[concept.Variable]concept.ID)
	for v := range e.plan.IDs() {
		for _, t := range u.Get(v) {
			if pinned := p.IDsOf(t); len(pinned) > 0 {
				ids[v] = pinned[0]
			}
		}
	}
	return e.plan.WithIDs(ids)
}

// Answers executes the plan for q and returns the stored answers in q's
// variables.
func (c *StructuralCache) Answers(ctx context.Context, q *query.AtomicQuery, h query.TypeChecker) ([]concept.Substitution, error) {
	plan, u, err := c.Plan(ctx, q)
	if err != nil {
		return nil, err
	}
	raw, err := plan.Execute(ctx)
	if err != nil {
		return nil, err
	}
	vars := q.Vars()
	out := make([]concept.Substitution, 0, len(raw))
	for _, a := range raw {
		mapped, ok := u.Apply(a)
		if !ok {
			continue
		}
		mapped = mapped.Project(vars).WithPattern(q.String())
		if !q.Satisfies(mapped, h) {
			continue
		}
		out = append(out, mapped)
	}
	return out, nil
}

// Len returns the number of cached plans.
func (c *StructuralCache) Len() int {
	n := 0
	for _, es := range c.entries {
		n += len(es)
	}
	return n
}
