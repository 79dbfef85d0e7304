package unifier

import (
	"sort"
	"strings"

	"github.com/cognicore/graphreason/pkg/reasoner/concept"
)

// Unifier maps the variables of a source query onto the variables of a target
// query. It is a multimap: a source variable may map to several targets once
// unifiers are merged. Unifiers are immutable.
type Unifier struct {
	m map[concept.Variable][]concept.Variable
}

// Pair is one source to target entry.
type Pair struct {
	From, To concept.Variable
}

// FromPairs builds a unifier from explicit pairs. Outside of tests unifiers
// should come from Unify.
func FromPairs(pairs ...Pair) Unifier {
	u := Unifier{m: make(map[concept.Variable][]concept.Variable, len(pairs))}
	for _, p := range pairs {
		u.add(p.From, p.To)
	}
	return u
}

// FromMap builds a one-to-one unifier.
func FromMap(m map[concept.Variable]concept.Variable) Unifier {
	u := Unifier{m: make(map[concept.Variable][]concept.Variable, len(m))}
	for f, t := range m {
		u.add(f, t)
	}
	return u
}

// Identity maps each variable onto itself.
func Identity(vars []concept.Variable) Unifier {
	u := Unifier{m: make(map[concept.Variable][]concept.Variable, len(vars))}
	for _, v := range vars {
		u.add(v, v)
	}
	return u
}

func (u *Unifier) add(from, to concept.Variable) {
	if u.m == nil {
		u.m = make(map[concept.Variable][]concept.Variable)
	}
	targets := u.m[from]
	i := sort.Search(len(targets), func(i int) bool { return targets[i] >= to })
	if i < len(targets) && targets[i] == to {
		return
	}
	targets = append(targets, "")
	copy(targets[i+1:], targets[i:])
	targets[i] = to
	u.m[from] = targets
}

// Get returns the targets of v.
func (u Unifier) Get(v concept.Variable) []concept.Variable {
	return append([]concept.Variable(nil), u.m[v]...)
}

// Keys returns the source variables, sorted.
func (u Unifier) Keys() []concept.Variable {
	out := make([]concept.Variable, 0, len(u.m))
	for v := range u.m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Pairs returns every entry, sorted.
func (u Unifier) Pairs() []Pair {
	var out []Pair
	for _, f := range u.Keys() {
		for _, t := range u.m[f] {
			out = append(out, Pair{From: f, To: t})
		}
	}
	return out
}

// Len returns the number of pairs.
func (u Unifier) Len() int {
	n := 0
	for _, ts := range u.m {
		n += len(ts)
	}
	return n
}

// IsEmpty reports whether the unifier has no pairs.
func (u Unifier) IsEmpty() bool { return len(u.m) == 0 }

// IsIdentity reports whether every pair maps a variable onto itself.
func (u Unifier) IsIdentity() bool {
	for f, ts := range u.m {
		if len(ts) != 1 || ts[0] != f {
			return false
		}
	}
	return true
}

// Merge returns the union of both unifiers. Conflicts are not detected here;
// they surface when the result is applied to an answer.
func (u Unifier) Merge(o Unifier) Unifier {
	out := Unifier{m: make(map[concept.Variable][]concept.Variable, len(u.m)+len(o.m))}
	for _, p := range u.Pairs() {
		out.add(p.From, p.To)
	}
	for _, p := range o.Pairs() {
		out.add(p.From, p.To)
	}
	return out
}

// Inverse swaps every pair.
func (u Unifier) Inverse() Unifier {
	out := Unifier{m: make(map[concept.Variable][]concept.Variable, len(u.m))}
	for _, p := range u.Pairs() {
		out.add(p.To, p.From)
	}
	return out
}

// IsNonInjective reports whether some target is reached from more than one
// source.
func (u Unifier) IsNonInjective() bool {
	seen := make(map[concept.Variable]struct{})
	for _, ts := range u.m {
		for _, t := range ts {
			if _, dup := seen[t]; dup {
				return true
			}
			seen[t] = struct{}{}
		}
	}
	return false
}

// Apply renames the bound variables of sub. Unmapped variables pass through
// unless a renamed variable already took their name. Two different concepts
// landing on one target variable is a unification failure: the result is
// (concept.Empty, false).
func (u Unifier) Apply(sub concept.Substitution) (concept.Substitution, bool) {
	bindings := sub.Bindings()
	out := make(map[concept.Variable]concept.Concept, len(bindings))
	for v, c := range bindings {
		for _, t := range u.m[v] {
			if prev, ok := out[t]; ok && !prev.Equal(c) {
				return concept.Empty, false
			}
			out[t] = c
		}
	}
	for v, c := range bindings {
		if len(u.m[v]) > 0 {
			continue
		}
		if _, taken := out[v]; taken {
			continue
		}
		out[v] = c
	}
	return concept.NewSubstitution(out).
		WithExplanation(sub.Explanation()).
		WithPattern(sub.Pattern()), true
}

// Equal compares pair sets.
func (u Unifier) Equal(o Unifier) bool {
	return u.String() == o.String()
}

// subsetOf reports whether every pair of u is also in o.
func (u Unifier) subsetOf(o Unifier) bool {
	for f, ts := range u.m {
		for _, t := range ts {
			found := false
			for _, ot := range o.m[f] {
				if ot == t {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	return true
}

func (u Unifier) String() string {
	parts := make([]string, 0, len(u.m))
	for _, p := range u.Pairs() {
		parts = append(parts, "$"+string(p.From)+"->$"+string(p.To))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
