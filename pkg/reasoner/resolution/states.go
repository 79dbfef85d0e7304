package resolution

import (
	"fmt"

	"github.com/cognicore/graphreason/pkg/reasoner/concept"
	"github.com/cognicore/graphreason/pkg/reasoner/query"
	"github.com/cognicore/graphreason/pkg/reasoner/rule"
	"github.com/cognicore/graphreason/pkg/reasoner/unifier"
)

// handle indexes a state in the run's arena.
type handle int

const noParent handle = -1

// node is one arena slot. Answers produced by a state flow to parent.
type node struct {
	parent handle
	path   *subgoals
	state  state
}

// state is one of the resolution state variants below. Behaviour lives in
// run.generateChild and run.propagate, which switch on the variant.
type state interface {
	kind() string
}

// conjunctiveState resolves atom idx of q under the bindings accumulated
// from the atoms before it. Each answer spawns the state for the next atom.
type conjunctiveState struct {
	q       *query.ConjunctiveQuery
	idx     int
	sub     concept.Substitution
	started bool
}

// atomicState answers one atom: stored and cached answers first, then one
// rule state per unifier with each applicable rule head.
type atomicState struct {
	q       *query.AtomicQuery
	sub     concept.Substitution
	started bool
	blocked bool

	answers  concept.Iterator
	rules    []*rule.InferenceRule
	ruleIdx  int
	pending  []unifier.Unifier
	current  *rule.InferenceRule
	rulePath *subgoals
	seen     map[string]struct{}
}

// ruleState resolves the body of rule and turns each body answer into an
// answer of the atom, materialising the conclusion when needed.
type ruleState struct {
	rule    *rule.InferenceRule
	u       unifier.Unifier
	q       *query.AtomicQuery
	sub     concept.Substitution
	bodySub concept.Substitution
	started bool
	found   int
}

// compositeState resolves the positive part and keeps the answers under
// which no negated query has an answer.
type compositeState struct {
	q       *query.CompositeQuery
	sub     concept.Substitution
	started bool
}

// disjunctiveState resolves the branches in turn and deduplicates their
// answers on the shared variables.
type disjunctiveState struct {
	q      *query.DisjunctiveQuery
	sub    concept.Substitution
	branch int
	seen   map[string]struct{}
}

// neqComplementState resolves inner without its inequalities and drops the
// answers that violate one.
type neqComplementState struct {
	inner   query.Query
	neqs    []query.NeqPredicate
	sub     concept.Substitution
	started bool
}

// expansionState fans a batch of answers out to its parent, one answer per
// child. Role expansion and multi-fact rule conclusions produce batches.
type expansionState struct {
	answers []concept.Substitution
	pos     int
}

// answerState is a finished answer on its way to the parent.
type answerState struct {
	sub concept.Substitution
}

func (*conjunctiveState) kind() string   { return "conjunctive" }
func (*atomicState) kind() string        { return "atomic" }
func (*ruleState) kind() string          { return "rule" }
func (*compositeState) kind() string     { return "composite" }
func (*disjunctiveState) kind() string   { return "disjunctive" }
func (*neqComplementState) kind() string { return "neq-complement" }
func (*expansionState) kind() string     { return "expansion" }
func (*answerState) kind() string        { return "answer" }

// stateFor builds the state resolving q under sub.
func (r *run) stateFor(q query.Query, sub concept.Substitution, parent handle, path *subgoals) (handle, error) {
	switch t := q.(type) {
	case *query.AtomicQuery:
		if neqs := t.Neqs(); len(neqs) > 0 {
			return r.add(parent, path, &neqComplementState{inner: t.WithoutNeqs(), neqs: neqs, sub: sub}), nil
		}
		aq := t.WithSubstitution(sub)
		return r.add(parent, path, &atomicState{q: aq, sub: aq.Substitution()}), nil
	case *query.ConjunctiveQuery:
		if neqs := t.Neqs(); len(neqs) > 0 {
			return r.add(parent, path, &neqComplementState{inner: t.WithoutNeqs(), neqs: neqs, sub: sub}), nil
		}
		cq := t.WithSubstitution(sub)
		return r.add(parent, path, &conjunctiveState{q: cq, sub: sub}), nil
	case *query.CompositeQuery:
		return r.add(parent, path, &compositeState{q: t, sub: sub}), nil
	case *query.DisjunctiveQuery:
		return r.add(parent, path, &disjunctiveState{q: t, sub: sub, seen: make(map[string]struct{})}), nil
	}
	return noParent, fmt.Errorf("cannot resolve %T", q)
}

func (r *run) answer(parent handle, sub concept.Substitution) handle {
	return r.add(parent, nil, &answerState{sub: sub})
}

// generateChild returns the next unexplored child of h, or false once h is
// exhausted.
func (r *run) generateChild(h handle) (handle, bool, error) {
	n := r.arena[h]
	switch st := n.state.(type) {
	case *conjunctiveState:
		if st.started {
			return noParent, false, nil
		}
		st.started = true
		aq := st.q.Atomic(st.idx, st.sub)
		child, err := r.stateFor(aq, st.sub, h, n.path)
		return child, err == nil, err

	case *atomicState:
		return r.nextAtomicChild(h, n, st)

	case *ruleState:
		if !st.started {
			st.started = true
			child, err := r.stateFor(st.rule.Body(), st.bodySub, h, n.path)
			return child, err == nil, err
		}
		if st.found == 0 && st.bodySub.IsEmpty() && r.env.Rules.MarkFruitless(st.rule) {
			fruitlessRules.Inc()
			r.env.Logger.Debug("rule marked fruitless", "rule", st.rule.Label())
		}
		return noParent, false, nil

	case *compositeState:
		if st.started {
			return noParent, false, nil
		}
		st.started = true
		child, err := r.stateFor(st.q.Positive(), st.sub, h, n.path)
		return child, err == nil, err

	case *disjunctiveState:
		branches := st.q.Branches()
		if st.branch >= len(branches) {
			return noParent, false, nil
		}
		b := branches[st.branch]
		st.branch++
		child, err := r.stateFor(b, st.sub, h, n.path)
		return child, err == nil, err

	case *neqComplementState:
		if st.started {
			return noParent, false, nil
		}
		st.started = true
		child, err := r.stateFor(st.inner, st.sub, h, n.path)
		return child, err == nil, err

	case *expansionState:
		if st.pos >= len(st.answers) {
			return noParent, false, nil
		}
		a := st.answers[st.pos]
		st.pos++
		return r.answer(n.parent, a), true, nil

	case *answerState:
		if n.parent == noParent {
			return noParent, false, nil
		}
		return r.propagate(n.parent, st.sub)
	}
	return noParent, false, fmt.Errorf("unknown state %T", n.state)
}

func (r *run) nextAtomicChild(h handle, n node, st *atomicState) (handle, bool, error) {
	if !st.started {
		st.started = true
		st.seen = make(map[string]struct{})
		st.answers = r.env.Answers.GetAnswers(r.ctx, st.q)
		if n.path.contains(st.q, r.exact) {
			st.blocked = true
			subgoalBlocks.Inc()
			r.env.Logger.Debug("subgoal already on path", "query", st.q.String(), "depth", n.path.depth())
		} else {
			st.rules = r.env.Rules.Applicable(r.ctx, st.q.Atom())
			st.rulePath = n.path.push(st.q)
		}
	}

	if a, ok := st.answers.Next(); ok {
		return r.answer(h, a), true, nil
	}
	if err := st.answers.Err(); err != nil {
		return noParent, false, err
	}

	for len(st.pending) == 0 {
		if st.ruleIdx >= len(st.rules) {
			return noParent, false, nil
		}
		st.current = st.rules[st.ruleIdx]
		st.ruleIdx++
		target := st.q.InferTypes(r.env.Schema)
		st.pending = unifier.Unify(st.current.HeadQuery(), target, r.ruleCmp).Unifiers()
	}
	u := st.pending[0]
	st.pending = st.pending[1:]
	ruleApplications.WithLabelValues(st.current.Label()).Inc()

	bodySub, ok := u.Inverse().Apply(st.sub)
	if !ok {
		return r.nextAtomicChild(h, n, st)
	}
	bodySub = bodySub.Project(u.Keys())
	return r.add(h, st.rulePath, &ruleState{
		rule:    st.current,
		u:       u,
		q:       st.q,
		sub:     st.sub,
		bodySub: bodySub,
	}), true, nil
}

// propagate hands an answer produced by a child to h. It returns the state
// that carries the answer on, or false when h rejects it.
func (r *run) propagate(h handle, ans concept.Substitution) (handle, bool, error) {
	n := r.arena[h]
	switch st := n.state.(type) {
	case *conjunctiveState:
		merged, ok := st.sub.Merge(ans)
		if !ok {
			return noParent, false, nil
		}
		if st.idx+1 == len(st.q.Atoms()) {
			return r.answer(n.parent, merged), true, nil
		}
		return r.add(n.parent, n.path, &conjunctiveState{q: st.q, idx: st.idx + 1, sub: merged}), true, nil

	case *atomicState:
		return r.propagateAtomic(n, st, ans)

	case *ruleState:
		return r.propagateRule(n, st, ans)

	case *compositeState:
		for _, neg := range st.q.Negated() {
			found, err := r.exists(neg, ans, n.path)
			if err != nil {
				return noParent, false, err
			}
			if found {
				return noParent, false, nil
			}
		}
		return r.answer(n.parent, ans), true, nil

	case *disjunctiveState:
		projected := ans.Project(st.q.Vars())
		if _, dup := st.seen[projected.Key()]; dup {
			return noParent, false, nil
		}
		st.seen[projected.Key()] = struct{}{}
		return r.answer(n.parent, projected), true, nil

	case *neqComplementState:
		for _, neq := range st.neqs {
			l, lok := ans.Get(neq.Left)
			rt, rok := ans.Get(neq.Right)
			if lok && rok && l.Equal(rt) {
				return noParent, false, nil
			}
		}
		return r.answer(n.parent, ans), true, nil
	}
	return noParent, false, fmt.Errorf("%s state cannot take answers", n.state.kind())
}

func (r *run) propagateAtomic(n node, st *atomicState, ans concept.Substitution) (handle, bool, error) {
	merged, ok := ans.Merge(st.sub)
	if !ok {
		return noParent, false, nil
	}
	a := merged.Project(st.q.Vars())
	if !st.q.Satisfies(a, r.env.Schema) {
		return noParent, false, nil
	}
	if _, _, err := r.env.Answers.Record(st.q, a); err != nil {
		return noParent, false, err
	}
	if _, dup := st.seen[a.Key()]; dup {
		return noParent, false, nil
	}
	st.seen[a.Key()] = struct{}{}

	if expanded := r.expandRoles(st, a); len(expanded) > 1 {
		return r.add(n.parent, nil, &expansionState{answers: expanded}), true, nil
	}
	return r.answer(n.parent, a), true, nil
}

// expandRoles returns one answer per role in the hierarchy between the role a
// role variable was bound to and the role the atom declares. Role variables
// bound by the caller are left alone.
func (r *run) expandRoles(st *atomicState, a concept.Substitution) []concept.Substitution {
	out := []concept.Substitution{a}
	for _, rp := range st.q.Atom().Players {
		if rp.RoleVar == "" || st.sub.Contains(rp.RoleVar) {
			continue
		}
		played, ok := a.Get(rp.RoleVar)
		if !ok {
			continue
		}
		var roles []string
		for _, role := range r.env.Schema.RoleHierarchy(rp.Role) {
			if role != string(played.ID) && r.env.Schema.IsSubRole(string(played.ID), role) {
				roles = append(roles, role)
			}
		}
		if len(roles) == 0 {
			continue
		}
		next := make([]concept.Substitution, 0, len(out)*(len(roles)+1))
		for _, base := range out {
			next = append(next, base)
			rest := base.Without(rp.RoleVar)
			for _, role := range roles {
				if s, ok := rest.With(rp.RoleVar, concept.RoleConcept(role)); ok {
					next = append(next, s.WithExplanation(base.Explanation()))
				}
			}
		}
		out = next
	}
	return out
}

func (r *run) propagateRule(n node, st *ruleState, body concept.Substitution) (handle, bool, error) {
	st.found++
	heads, err := r.conclude(st.rule, body)
	if err != nil {
		return noParent, false, err
	}
	premise := body
	var out []concept.Substitution
	for _, head := range heads {
		mapped, ok := st.u.Apply(head.Project(st.rule.HeadVars()))
		if !ok {
			continue
		}
		mapped = mapped.Project(st.q.Vars())
		if mapped, ok = bindRoleVars(st.q.Atom(), st.rule.Head(), st.u, mapped, r.env.Schema); !ok {
			continue
		}
		if mapped, ok = mapped.Merge(st.sub); !ok {
			continue
		}
		out = append(out, mapped.WithExplanation(&concept.Explanation{
			ID:      newExplanationID(),
			Rule:    st.rule.Label(),
			Premise: &premise,
		}))
	}
	switch len(out) {
	case 0:
		return noParent, false, nil
	case 1:
		return r.answer(n.parent, out[0]), true, nil
	}
	return r.add(n.parent, nil, &expansionState{answers: out}), true, nil
}

// conclude turns a body answer into the head facts it supports, in the
// rule's variables.
func (r *run) conclude(rl *rule.InferenceRule, body concept.Substitution) ([]concept.Substitution, error) {
	if !rl.RequiresMaterialisation() {
		return []concept.Substitution{body}, nil
	}
	if r.env.Materialise {
		head, err := r.env.Store.Materialize(r.ctx, rl.HeadQuery(), body)
		if err != nil {
			return nil, fmt.Errorf("apply rule %s: %w", rl.Label(), err)
		}
		return []concept.Substitution{head}, nil
	}
	hq := rl.HeadQuery().WithSubstitution(body.Project(rl.HeadVars()))
	stored, _, err := r.env.Answers.Lookup(r.ctx, hq)
	if err != nil {
		return nil, fmt.Errorf("apply rule %s: %w", rl.Label(), err)
	}
	out := make([]concept.Substitution, 0, len(stored))
	for _, s := range stored {
		if merged, ok := body.Merge(s); ok {
			out = append(out, merged)
		}
	}
	return out, nil
}

// bindRoleVars binds the query's role variables that the rule head leaves
// open to the roles the head asserts for the matching players.
func bindRoleVars(qa, head query.Atom, u unifier.Unifier, ans concept.Substitution, h interface{ IsSubRole(sub, sup string) bool }) (concept.Substitution, bool) {
	used := make([]bool, len(head.Players))
	for _, rp := range qa.Players {
		if rp.RoleVar == "" {
			continue
		}
		bound, isBound := ans.Get(rp.RoleVar)
		matched := false
		for i, hp := range head.Players {
			if used[i] || !h.IsSubRole(hp.Role, rp.Role) || !mapsTo(u, hp.Player, rp.Player) {
				continue
			}
			if isBound && !h.IsSubRole(hp.Role, string(bound.ID)) {
				continue
			}
			used[i] = true
			matched = true
			if !isBound {
				next, ok := ans.With(rp.RoleVar, concept.RoleConcept(hp.Role))
				if !ok {
					return concept.Empty, false
				}
				ans = next
			}
			break
		}
		if !matched {
			return concept.Empty, false
		}
	}
	return ans, true
}

func mapsTo(u unifier.Unifier, from, to concept.Variable) bool {
	for _, t := range u.Get(from) {
		if t == to {
			return true
		}
	}
	return false
}
