// Package cache memoizes answers and compiled plans for the duration of a
// read transaction.
package cache

import (
	"context"
	"log/slog"

	"github.com/cognicore/graphreason/pkg/reasoner/concept"
	"github.com/cognicore/graphreason/pkg/reasoner/internalerr"
	"github.com/cognicore/graphreason/pkg/reasoner/query"
	"github.com/cognicore/graphreason/pkg/reasoner/unifier"
)

// Stats summarises cache activity.
type Stats struct {
	Entries         int
	Answers         int
	Plans           int
	ExactHits       int64
	SubsumptiveHits int64
	StructuralHits  int64
	StoreLookups    int64
	Compiles        int64
	FruitlessRules  int
}

type answerEntry struct {
	query    *query.AtomicQuery
	answers  []concept.Substitution
	index    map[string]int
	complete bool
}

func (e *answerEntry) add(a concept.Substitution) bool {
	k := a.Key()
	if _, dup := e.index[k]; dup {
		return false
	}
	e.index[k] = len(e.answers)
	e.answers = append(e.answers, a)
	return true
}

func (e *answerEntry) remove(keys map[string]struct{}) {
	kept := e.answers[:0]
	e.index = make(map[string]int, len(e.answers))
	for _, a := range e.answers {
		if _, drop := keys[a.Key()]; drop {
			continue
		}
		e.index[a.Key()] = len(kept)
		kept = append(kept, a)
	}
	e.answers = kept
}

// AnswerCache memoizes answers of atomic queries. Entries are keyed by exact
// equivalence; a miss falls back to a more general complete entry
// (subsumption) and only then to the store. Cached answers are rewritten into
// the asking query's variables. It is not safe for concurrent use.
type AnswerCache struct {
	hierarchy  unifier.Hierarchy
	structural *StructuralCache
	exact      unifier.Comparison
	subsume    unifier.Comparison
	logger     *slog.Logger

	entries map[string][]*answerEntry
	byShape map[string][]*answerEntry

	exactHits       int64
	subsumptiveHits int64
	storeLookups    int64
}

// NewAnswerCache creates an answer cache that falls back to structural for
// stored answers. A nil logger means slog.Default().
func NewAnswerCache(structural *StructuralCache, h unifier.Hierarchy, logger *slog.Logger) *AnswerCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnswerCache{
		hierarchy:  h,
		structural: structural,
		exact:      unifier.NewComparison(unifier.Exact, h),
		subsume:    unifier.NewComparison(unifier.Subsumptive, h),
		logger:     logger,
		entries:    make(map[string][]*answerEntry),
		byShape:    make(map[string][]*answerEntry),
	}
}

// find returns the entry alpha-equivalent to q and the unifier from the
// entry's variables onto q's.
func (c *AnswerCache) find(q *query.AtomicQuery) (*answerEntry, unifier.Unifier, bool) {
	for _, e := range c.entries[q.Pattern().Signature(false)] {
		if u, ok := unifier.Unify(e.query, q, c.exact).First(); ok {
			return e, u, true
		}
	}
	return nil, unifier.Unifier{}, false
}

func (c *AnswerCache) findOrCreate(q *query.AtomicQuery) (*answerEntry, unifier.Unifier) {
	if e, u, ok := c.find(q); ok {
		return e, u
	}
	p := q.Pattern()
	e := &answerEntry{query: q, index: make(map[string]int)}
	c.entries[p.Signature(false)] = append(c.entries[p.Signature(false)], e)
	c.byShape[p.Shape()] = append(c.byShape[p.Shape()], e)
	return e, unifier.Identity(q.Vars())
}

// rewrite maps a through u and checks the result binds every variable of
// target. A gap means u was computed wrongly.
func rewrite(u unifier.Unifier, a concept.Substitution, target *query.AtomicQuery) (concept.Substitution, error) {
	mapped, ok := u.Apply(a)
	vars := target.Vars()
	if !ok {
		return concept.Empty, &internalerr.CacheConsistencyError{Query: target.String(), Answer: a.String(), Reason: "conflicts under the entry unifier"}
	}
	for _, v := range vars {
		if !mapped.Contains(v) {
			return concept.Empty, &internalerr.CacheConsistencyError{Query: target.String(), Answer: a.String(), Reason: "leaves $" + string(v) + " unbound"}
		}
	}
	return mapped.Project(vars), nil
}

// Record adds an answer of q. It returns the answer as stored, rewritten into
// q's variables, and whether it was new.
func (c *AnswerCache) Record(q *query.AtomicQuery, ans concept.Substitution) (concept.Substitution, bool, error) {
	e, u := c.findOrCreate(q)
	stored, err := rewrite(u.Inverse(), ans, e.query)
	if err != nil {
		return concept.Empty, false, err
	}
	if idx, dup := e.index[stored.Key()]; dup {
		out, err := rewrite(u, e.answers[idx], q)
		return out, false, err
	}
	e.add(stored)
	return ans.Project(q.Vars()), true, nil
}

// RecordAll records answers of q and returns the entry's full answer set in
// q's variables.
func (c *AnswerCache) RecordAll(q *query.AtomicQuery, answers []concept.Substitution) ([]concept.Substitution, error) {
	for _, a := range answers {
		if _, _, err := c.Record(q, a); err != nil {
			return nil, err
		}
	}
	out, _, err := c.Answers(q)
	return out, err
}

// Answers returns what is cached for q without touching the store. The
// boolean reports whether q's stored answers have been fetched.
func (c *AnswerCache) Answers(q *query.AtomicQuery) ([]concept.Substitution, bool, error) {
	e, u, ok := c.find(q)
	if !ok {
		return nil, false, nil
	}
	out := make([]concept.Substitution, 0, len(e.answers))
	for _, a := range e.answers {
		mapped, err := rewrite(u, a, q)
		if err != nil {
			return nil, false, err
		}
		out = append(out, mapped)
	}
	return out, e.complete, nil
}

// Lookup returns every known answer of q: a complete exact entry, else the
// filtered answers of a complete subsuming entry, else a store lookup. The
// result is recorded under q. The layer that served it is returned.
func (c *AnswerCache) Lookup(ctx context.Context, q *query.AtomicQuery) ([]concept.Substitution, string, error) {
	ctx, span := startLookupSpan(ctx, q.String())
	defer span.End()

	if e, _, ok := c.find(q); ok && e.complete {
		out, _, err := c.Answers(q)
		if err != nil {
			return nil, "", err
		}
		c.exactHits++
		recordHit(ctx, LayerExact)
		setSpanLayer(span, LayerExact, len(out))
		return out, LayerExact, nil
	}
	recordMiss(ctx, LayerExact)

	if answers, ok, err := c.fromSubsuming(q); err != nil {
		return nil, "", err
	} else if ok {
		out, err := c.complete(q, answers)
		if err != nil {
			return nil, "", err
		}
		c.subsumptiveHits++
		recordHit(ctx, LayerSubsumptive)
		setSpanLayer(span, LayerSubsumptive, len(out))
		return out, LayerSubsumptive, nil
	}
	recordMiss(ctx, LayerSubsumptive)

	stored, err := c.structural.Answers(ctx, q, c.hierarchy)
	if err != nil {
		return nil, "", err
	}
	c.storeLookups++
	c.logger.Debug("answer cache miss", "query", q.String(), "answers", len(stored))
	out, err := c.complete(q, stored)
	if err != nil {
		return nil, "", err
	}
	setSpanLayer(span, LayerStore, len(out))
	return out, LayerStore, nil
}

// complete records answers and marks q's stored answers as fetched.
func (c *AnswerCache) complete(q *query.AtomicQuery, answers []concept.Substitution) ([]concept.Substitution, error) {
	out, err := c.RecordAll(q, answers)
	if err != nil {
		return nil, err
	}
	e, _ := c.findOrCreate(q)
	e.complete = true
	return out, nil
}

// fromSubsuming serves q from a complete entry whose query is more general.
func (c *AnswerCache) fromSubsuming(q *query.AtomicQuery) ([]concept.Substitution, bool, error) {
	vars := q.Vars()
	for _, e := range c.byShape[q.Pattern().Shape()] {
		if !e.complete || e.query == q || !sameLabels(e.query.Atom(), q.Atom()) {
			continue
		}
		mu := unifier.Unify(e.query, q, c.subsume)
		if mu.IsEmpty() || !covers(mu, vars) {
			continue
		}
		var out []concept.Substitution
		for _, a := range e.answers {
			for _, m := range mu.Apply(a) {
				m = m.Project(vars).WithPattern(q.String())
				if m.Len() == len(vars) && q.Satisfies(m, c.hierarchy) {
					out = append(out, m)
				}
			}
		}
		return out, true, nil
	}
	return nil, false, nil
}

// sameLabels reports whether a and b name the same type and roles. A more
// general type or role would let answers through that q rejects, and the
// answers do not always carry what is needed to filter them.
func sameLabels(a, b query.Atom) bool {
	if a.Type != b.Type || len(a.Players) != len(b.Players) {
		return false
	}
	roles := make(map[string]int, len(a.Players))
	for _, p := range a.Players {
		roles[p.Role]++
	}
	for _, p := range b.Players {
		if roles[p.Role] == 0 {
			return false
		}
		roles[p.Role]--
	}
	return true
}

// covers reports whether every unifier of mu reaches all of vars.
func covers(mu unifier.MultiUnifier, vars []concept.Variable) bool {
	for _, u := range mu.Unifiers() {
		reached := make(map[concept.Variable]bool)
		for _, p := range u.Pairs() {
			reached[p.To] = true
		}
		for _, v := range vars {
			if !reached[v] {
				return false
			}
		}
	}
	return true
}

// GetAnswers returns a lazy stream of q's answers. The store is only
// consulted once the stream is pulled and no cached entry can serve q.
func (c *AnswerCache) GetAnswers(ctx context.Context, q *query.AtomicQuery) concept.Iterator {
	return &lazyIterator{fetch: func() ([]concept.Substitution, error) {
		out, _, err := c.Lookup(ctx, q)
		return out, err
	}}
}

// Remove drops from this cache every answer other yields for queries. The
// answers are pulled through other.GetAnswers, so other may consult its
// store for queries it has not cached yet. Queries this cache has no entry
// for are skipped without touching other.
func (c *AnswerCache) Remove(ctx context.Context, other *AnswerCache, queries ...*query.AtomicQuery) error {
	for _, q := range queries {
		e, u, ok := c.find(q)
		if !ok {
			continue
		}
		theirs, err := concept.Collect(other.GetAnswers(ctx, q))
		if err != nil {
			return err
		}
		if len(theirs) == 0 {
			continue
		}
		inv := u.Inverse()
		keys := make(map[string]struct{}, len(theirs))
		for _, a := range theirs {
			mapped, ok := inv.Apply(a)
			if !ok {
				continue
			}
			keys[mapped.Project(e.query.Vars()).Key()] = struct{}{}
		}
		e.remove(keys)
	}
	return nil
}

// Len returns the number of entries.
func (c *AnswerCache) Len() int {
	n := 0
	for _, es := range c.entries {
		n += len(es)
	}
	return n
}

// AnswerCount returns the number of cached answers over all entries.
func (c *AnswerCache) AnswerCount() int {
	n := 0
	for _, es := range c.entries {
		for _, e := range es {
			n += len(e.answers)
		}
	}
	return n
}

// Stats returns a snapshot of cache activity.
func (c *AnswerCache) Stats() Stats {
	s := Stats{
		Entries:         c.Len(),
		Answers:         c.AnswerCount(),
		ExactHits:       c.exactHits,
		SubsumptiveHits: c.subsumptiveHits,
		StoreLookups:    c.storeLookups,
	}
	if c.structural != nil {
		s.Plans = c.structural.Len()
		s.StructuralHits = c.structural.hits
		s.Compiles = c.structural.compiles
	}
	return s
}

type lazyIterator struct {
	fetch func() ([]concept.Substitution, error)
	it    *concept.SliceIterator
	err   error
}

func (l *lazyIterator) Next() (concept.Substitution, bool) {
	if l.it == nil && l.err == nil {
		answers, err := l.fetch()
		if err != nil {
			l.err = err
			return concept.Empty, false
		}
		l.it = concept.NewSliceIterator(answers)
	}
	if l.err != nil {
		return concept.Empty, false
	}
	return l.it.Next()
}

func (l *lazyIterator) Err() error { return l.err }
