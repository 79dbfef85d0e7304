// Package resolution answers queries by expanding them into a tree of
// resolution states: atoms, rule applications, negations and disjunctions.
// The tree lives in an arena owned by one pass; a driver walks it depth first
// and yields answers as they reach the root.
package resolution

import (
	"context"
	"crypto/rand"
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/cognicore/graphreason/pkg/reasoner/cache"
	"github.com/cognicore/graphreason/pkg/reasoner/concept"
	"github.com/cognicore/graphreason/pkg/reasoner/query"
	"github.com/cognicore/graphreason/pkg/reasoner/schema"
	"github.com/cognicore/graphreason/pkg/reasoner/store"
	"github.com/cognicore/graphreason/pkg/reasoner/unifier"
)

// DefaultMaxPasses bounds reiteration when Env.MaxPasses is unset.
const DefaultMaxPasses = 32

// Env is what resolutions inside one transaction share. The caches are not
// safe for concurrent use, so an Env serves one resolution at a time.
type Env struct {
	Schema  *schema.Schema
	Store   store.ConceptStore
	Answers *cache.AnswerCache
	Rules   *cache.RuleCache
	Logger  *slog.Logger

	// Materialise persists rule conclusions that need a concept in storage.
	// When false such rules only confirm facts that already exist.
	Materialise bool
	// Reiterate re-runs queries reaching recursive rules until a pass adds
	// no answers to the cache.
	Reiterate bool
	MaxPasses int
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newExplanationID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Now(), entropy).String()
}

// Iterator streams the deduplicated answers of a query. It is finite and not
// restartable; resolve again for a fresh stream.
type Iterator struct {
	ctx  context.Context
	env  *Env
	q    query.Query
	vars []concept.Variable

	reiterate bool
	maxPasses int
	pass      int
	baseline  int
	current   *run

	seen map[string]struct{}
	err  error
	done bool
}

// Resolve starts resolving q. Answers are projected onto q's variables and
// carry the explanation of the rule that derived them, if any.
func Resolve(ctx context.Context, env *Env, q query.Query) *Iterator {
	if env.Logger == nil {
		withLogger := *env
		withLogger.Logger = slog.Default()
		env = &withLogger
	}
	return &Iterator{
		ctx:       ctx,
		env:       env,
		q:         q,
		vars:      q.Vars(),
		reiterate: env.Reiterate && env.Schema.RequiresReiteration(allAtoms(q)),
		maxPasses: env.maxPasses(),
		seen:      make(map[string]struct{}),
	}
}

func (env *Env) maxPasses() int {
	if env.MaxPasses <= 0 {
		return DefaultMaxPasses
	}
	return env.MaxPasses
}

func allAtoms(q query.Query) []query.Atom {
	switch t := q.(type) {
	case *query.CompositeQuery:
		atoms := t.Atoms()
		for _, n := range t.Negated() {
			atoms = append(atoms, allAtoms(n)...)
		}
		return atoms
	}
	return q.Atoms()
}

// Next implements concept.Iterator.
func (it *Iterator) Next() (concept.Substitution, bool) {
	for !it.done {
		if it.current == nil {
			it.pass++
			it.baseline = it.env.Answers.AnswerCount()
			r, err := newRun(it.ctx, it.env, it.q, it.q.Substitution(), nil)
			if err != nil {
				it.fail(err)
				break
			}
			it.current = r
		}

		ans, ok, err := it.current.next()
		if err != nil {
			it.fail(err)
			break
		}
		if ok {
			ans = ans.Project(it.vars)
			if _, dup := it.seen[ans.Key()]; dup {
				continue
			}
			it.seen[ans.Key()] = struct{}{}
			source := "stored"
			if ans.Explanation() != nil {
				source = "derived"
			}
			answersTotal.WithLabelValues(source).Inc()
			return ans, true
		}

		grew := it.env.Answers.AnswerCount() > it.baseline
		it.current = nil
		if it.reiterate && grew && it.pass < it.maxPasses {
			it.env.Logger.Debug("reiterating", "query", it.q.String(), "passes", it.pass)
			continue
		}
		it.finish()
	}
	return concept.Empty, false
}

func (it *Iterator) fail(err error) {
	it.err = err
	it.finish()
}

func (it *Iterator) finish() {
	if it.done {
		return
	}
	it.done = true
	it.current = nil
	resolutionPasses.Observe(float64(it.pass))
	it.env.Logger.Debug("resolution finished", "query", it.q.String(), "answers", len(it.seen), "passes", it.pass)
}

// Err implements concept.Iterator.
func (it *Iterator) Err() error { return it.err }

// Passes returns how many passes have run so far.
func (it *Iterator) Passes() int { return it.pass }

// run is one pass: an arena of states and the stack of the depth-first walk.
type run struct {
	ctx     context.Context
	env     *Env
	exact   unifier.Comparison
	ruleCmp unifier.Comparison
	arena   []node
	stack   []handle
}

func newRun(ctx context.Context, env *Env, q query.Query, sub concept.Substitution, path *subgoals) (*run, error) {
	r := &run{
		ctx:     ctx,
		env:     env,
		exact:   unifier.NewComparison(unifier.Exact, env.Schema),
		ruleCmp: unifier.NewComparison(unifier.Rule, env.Schema),
	}
	root, err := r.stateFor(q, sub, noParent, path)
	if err != nil {
		return nil, err
	}
	r.stack = append(r.stack, root)
	return r, nil
}

func (r *run) add(parent handle, path *subgoals, st state) handle {
	r.arena = append(r.arena, node{parent: parent, path: path, state: st})
	return handle(len(r.arena) - 1)
}

// next walks until an answer reaches the root or the tree is exhausted.
func (r *run) next() (concept.Substitution, bool, error) {
	for len(r.stack) > 0 {
		if err := r.ctx.Err(); err != nil {
			return concept.Empty, false, err
		}
		h := r.stack[len(r.stack)-1]
		r.stack = r.stack[:len(r.stack)-1]
		n := r.arena[h]

		ans, isAnswer := n.state.(*answerState)
		if isAnswer && n.parent == noParent {
			return ans.sub, true, nil
		}
		child, ok, err := r.generateChild(h)
		if err != nil {
			return concept.Empty, false, err
		}
		if !ok {
			continue
		}
		if !isAnswer {
			r.stack = append(r.stack, h)
		}
		r.stack = append(r.stack, child)
	}
	return concept.Empty, false, nil
}

// exists resolves q under sub and reports whether it has at least one
// answer. A recursive q is rerun while its passes keep growing the cache,
// so a "no" is only given once nothing more can be derived.
func (r *run) exists(q query.Query, sub concept.Substitution, path *subgoals) (bool, error) {
	recursive := r.env.Reiterate && r.env.Schema.RequiresReiteration(allAtoms(q))
	maxPasses := r.env.maxPasses()
	for pass := 1; ; pass++ {
		baseline := r.env.Answers.AnswerCount()
		sr, err := newRun(r.ctx, r.env, q, sub, path)
		if err != nil {
			return false, err
		}
		_, ok, err := sr.next()
		if err != nil || ok {
			return ok, err
		}
		if !recursive || pass >= maxPasses || r.env.Answers.AnswerCount() <= baseline {
			return false, nil
		}
		r.env.Logger.Debug("reiterating negated query", "query", q.String(), "passes", pass)
	}
}
