package query

import (
	"fmt"
	"strings"

	"github.com/cognicore/graphreason/pkg/reasoner/concept"
	"github.com/cognicore/graphreason/pkg/reasoner/internalerr"
)

// Query is a normalized reasoner query. The concrete variants are
// *AtomicQuery, *ConjunctiveQuery, *CompositeQuery and *DisjunctiveQuery.
type Query interface {
	// Vars returns the variables answers are projected onto.
	Vars() []concept.Variable
	// Atoms returns every positive atom of the query.
	Atoms() []Atom
	// Substitution returns the bindings already known for the query.
	Substitution() concept.Substitution
	String() string
}

// Unifiable is implemented by queries the unifier can compare: a single
// conjunction of atoms and predicates.
type Unifiable interface {
	Query
	Pattern() Pattern
}

// ConjunctiveQuery is an ordered conjunction of atoms. Atoms are resolved in
// the order given.
type ConjunctiveQuery struct {
	pattern Pattern
	bound   concept.Substitution
}

// NewConjunctive validates p and wraps it.
func NewConjunctive(p Pattern) (*ConjunctiveQuery, error) {
	if len(p.Atoms) == 0 {
		return nil, fmt.Errorf("conjunction without atoms: %w", internalerr.ErrInvalidQuery)
	}
	for _, a := range p.Atoms {
		if err := a.Validate(); err != nil {
			return nil, err
		}
	}
	inAtoms := make(map[concept.Variable]bool)
	for _, a := range p.Atoms {
		for _, v := range a.Vars() {
			inAtoms[v] = true
		}
	}
	for _, v := range p.Vars() {
		if !inAtoms[v] {
			return nil, fmt.Errorf("variable $%s is not bound by any atom: %w", v, internalerr.ErrInvalidQuery)
		}
	}
	return &ConjunctiveQuery{pattern: p.clone()}, nil
}

// MustConjunctive is NewConjunctive for statically known patterns.
func MustConjunctive(p Pattern) *ConjunctiveQuery {
	q, err := NewConjunctive(p)
	if err != nil {
		panic(err)
	}
	return q
}

// Pattern returns the underlying conjunction.
func (q *ConjunctiveQuery) Pattern() Pattern { return q.pattern.clone() }

// Vars implements Query.
func (q *ConjunctiveQuery) Vars() []concept.Variable { return q.pattern.Vars() }

// Atoms implements Query.
func (q *ConjunctiveQuery) Atoms() []Atom { return append([]Atom(nil), q.pattern.Atoms...) }

// Substitution implements Query.
func (q *ConjunctiveQuery) Substitution() concept.Substitution { return q.bound }

// Neqs returns the inequality predicates.
func (q *ConjunctiveQuery) Neqs() []NeqPredicate { return append([]NeqPredicate(nil), q.pattern.Neqs...) }

// WithSubstitution binds variables of the query to known concepts.
func (q *ConjunctiveQuery) WithSubstitution(sub concept.Substitution) *ConjunctiveQuery {
	bound, ok := q.bound.Merge(sub.Project(q.Vars()))
	if !ok {
		bound = sub.Project(q.Vars())
	}
	return &ConjunctiveQuery{pattern: q.pattern.WithBindings(sub), bound: bound}
}

// WithoutNeqs returns the query without its inequality predicates.
func (q *ConjunctiveQuery) WithoutNeqs() *ConjunctiveQuery {
	return &ConjunctiveQuery{pattern: q.pattern.WithoutNeqs(), bound: q.bound}
}

// InferTypes adds schema-inferred player types.
func (q *ConjunctiveQuery) InferTypes(s PlayerTyping) *ConjunctiveQuery {
	return &ConjunctiveQuery{pattern: q.pattern.InferTypes(s), bound: q.bound}
}

// Atomic returns the atomic query for the i-th atom, carrying the predicates
// on its variables and the bindings from sub. Inequalities stay with the
// conjunction.
func (q *ConjunctiveQuery) Atomic(i int, sub concept.Substitution) *AtomicQuery {
	atom := q.pattern.Atoms[i]
	vars := atom.Vars()
	p := q.pattern.Restrict(vars, false)
	p.Atoms = []Atom{atom}
	bound := q.bound.Project(vars)
	if merged, ok := bound.Merge(sub.Project(vars)); ok {
		bound = merged
	}
	return &AtomicQuery{pattern: p.WithBindings(bound), bound: bound}
}

// IsAtomic reports whether the conjunction has a single atom.
func (q *ConjunctiveQuery) IsAtomic() bool { return len(q.pattern.Atoms) == 1 }

// AsAtomic converts a single-atom conjunction.
func (q *ConjunctiveQuery) AsAtomic() (*AtomicQuery, error) {
	if !q.IsAtomic() {
		return nil, fmt.Errorf("conjunction of %d atoms is not atomic: %w", len(q.pattern.Atoms), internalerr.ErrInvalidQuery)
	}
	return &AtomicQuery{pattern: q.pattern.clone(), bound: q.bound}, nil
}

func (q *ConjunctiveQuery) String() string { return q.pattern.String() }

// AtomicQuery is a single atom with the predicates on its variables.
type AtomicQuery struct {
	pattern Pattern
	bound   concept.Substitution
}

// NewAtomic builds an atomic query. Predicates on variables outside the atom
// are rejected.
func NewAtomic(atom Atom, preds Pattern) (*AtomicQuery, error) {
	p := preds.clone()
	p.Atoms = []Atom{atom}
	q, err := NewConjunctive(p)
	if err != nil {
		return nil, err
	}
	return &AtomicQuery{pattern: q.pattern}, nil
}

// MustAtomic is NewAtomic for statically known atoms.
func MustAtomic(atom Atom, preds Pattern) *AtomicQuery {
	q, err := NewAtomic(atom, preds)
	if err != nil {
		panic(err)
	}
	return q
}

// Atom returns the query's atom.
func (q *AtomicQuery) Atom() Atom { return q.pattern.Atoms[0] }

// Pattern implements Unifiable.
func (q *AtomicQuery) Pattern() Pattern { return q.pattern.clone() }

// Vars implements Query.
func (q *AtomicQuery) Vars() []concept.Variable { return q.pattern.Vars() }

// Atoms implements Query.
func (q *AtomicQuery) Atoms() []Atom { return []Atom{q.pattern.Atoms[0]} }

// Substitution implements Query.
func (q *AtomicQuery) Substitution() concept.Substitution { return q.bound }

// Neqs returns the inequality predicates.
func (q *AtomicQuery) Neqs() []NeqPredicate { return append([]NeqPredicate(nil), q.pattern.Neqs...) }

// WithSubstitution binds variables of the query to known concepts.
func (q *AtomicQuery) WithSubstitution(sub concept.Substitution) *AtomicQuery {
	bound, ok := q.bound.Merge(sub.Project(q.Vars()))
	if !ok {
		bound = sub.Project(q.Vars())
	}
	return &AtomicQuery{pattern: q.pattern.WithBindings(sub), bound: bound}
}

// WithoutNeqs returns the query without its inequality predicates.
func (q *AtomicQuery) WithoutNeqs() *AtomicQuery {
	return &AtomicQuery{pattern: q.pattern.WithoutNeqs(), bound: q.bound}
}

// InferTypes adds schema-inferred player types.
func (q *AtomicQuery) InferTypes(s PlayerTyping) *AtomicQuery {
	return &AtomicQuery{pattern: q.pattern.InferTypes(s), bound: q.bound}
}

// Satisfies reports whether ans agrees with the query's predicates.
func (q *AtomicQuery) Satisfies(ans concept.Substitution, h TypeChecker) bool {
	return q.pattern.Satisfies(ans, h)
}

// Conjunctive views the atomic query as a one-atom conjunction.
func (q *AtomicQuery) Conjunctive() *ConjunctiveQuery {
	return &ConjunctiveQuery{pattern: q.pattern.clone(), bound: q.bound}
}

func (q *AtomicQuery) String() string { return q.pattern.String() }

// CompositeQuery is a positive conjunction with negated sub-queries. An
// answer of the positive part survives only when no negated query has an
// answer under it.
type CompositeQuery struct {
	positive *ConjunctiveQuery
	negated  []Query
}

// NewComposite builds a composite query. Negated queries must be conjunctive,
// atomic or composite.
func NewComposite(positive *ConjunctiveQuery, negated ...Query) (*CompositeQuery, error) {
	if positive == nil {
		return nil, fmt.Errorf("composite query without positive part: %w", internalerr.ErrInvalidQuery)
	}
	for _, n := range negated {
		switch n.(type) {
		case *ConjunctiveQuery, *AtomicQuery, *CompositeQuery:
		default:
			return nil, fmt.Errorf("cannot negate %T: %w", n, internalerr.ErrInvalidQuery)
		}
	}
	return &CompositeQuery{positive: positive, negated: append([]Query(nil), negated...)}, nil
}

// Positive returns the positive conjunction.
func (q *CompositeQuery) Positive() *ConjunctiveQuery { return q.positive }

// Negated returns the negated sub-queries.
func (q *CompositeQuery) Negated() []Query { return append([]Query(nil), q.negated...) }

// Vars implements Query. Only positive variables are answer variables.
func (q *CompositeQuery) Vars() []concept.Variable { return q.positive.Vars() }

// Atoms implements Query.
func (q *CompositeQuery) Atoms() []Atom { return q.positive.Atoms() }

// Substitution implements Query.
func (q *CompositeQuery) Substitution() concept.Substitution { return q.positive.Substitution() }

func (q *CompositeQuery) String() string {
	var b strings.Builder
	b.WriteString(q.positive.String())
	for _, n := range q.negated {
		b.WriteString(" not { ")
		b.WriteString(n.String())
		b.WriteString(" };")
	}
	return b.String()
}

// DisjunctiveQuery is a union of branches projected onto shared variables.
type DisjunctiveQuery struct {
	branches []Query
	vars     []concept.Variable
}

// NewDisjunctive builds a disjunction. Answers are projected onto the
// variables common to every branch.
func NewDisjunctive(branches ...Query) (*DisjunctiveQuery, error) {
	if len(branches) == 0 {
		return nil, fmt.Errorf("disjunction without branches: %w", internalerr.ErrInvalidQuery)
	}
	for _, b := range branches {
		if _, ok := b.(*DisjunctiveQuery); ok {
			return nil, fmt.Errorf("nested disjunction: %w", internalerr.ErrInvalidQuery)
		}
	}
	common := branches[0].Vars()
	for _, b := range branches[1:] {
		in := make(map[concept.Variable]bool)
		for _, v := range b.Vars() {
			in[v] = true
		}
		var next []concept.Variable
		for _, v := range common {
			if in[v] {
				next = append(next, v)
			}
		}
		common = next
	}
	return &DisjunctiveQuery{branches: append([]Query(nil), branches...), vars: common}, nil
}

// Branches returns the disjuncts.
func (q *DisjunctiveQuery) Branches() []Query { return append([]Query(nil), q.branches...) }

// Vars implements Query.
func (q *DisjunctiveQuery) Vars() []concept.Variable { return append([]concept.Variable(nil), q.vars...) }

// Atoms implements Query.
func (q *DisjunctiveQuery) Atoms() []Atom {
	var out []Atom
	for _, b := range q.branches {
		out = append(out, b.Atoms()...)
	}
	return out
}

// Substitution implements Query.
func (q *DisjunctiveQuery) Substitution() concept.Substitution { return concept.Empty }

func (q *DisjunctiveQuery) String() string {
	parts := make([]string, len(q.branches))
	for i, b := range q.branches {
		parts[i] = "{ " + b.String() + " }"
	}
	return strings.Join(parts, " or ") + ";"
}
