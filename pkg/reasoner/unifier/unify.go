package unifier

import (
	"github.com/cognicore/graphreason/pkg/reasoner/concept"
	"github.com/cognicore/graphreason/pkg/reasoner/query"
)

// Unify returns every maximal unifier mapping the variables of from onto the
// variables of to under cmp. NonExistent means the queries do not unify.
func Unify(from, to query.Unifiable, cmp Comparison) MultiUnifier {
	fp, tp := from.Pattern(), to.Pattern()
	if p := cmp.Policy(); (p == Exact || p == Structural) && fp.String() == tp.String() {
		return Trivial(fp.Vars())
	}
	if cmp.Coverage() == Bijective {
		if len(fp.Atoms) != len(tp.Atoms) || len(fp.Vars()) != len(tp.Vars()) {
			return NonExistent
		}
	}
	u := &unification{cmp: cmp, from: fp, to: tp, infer: cmp.InferTypes()}
	u.atoms(0, make([]bool, len(tp.Atoms)), map[concept.Variable]concept.Variable{})
	return NewMulti(maximal(u.found)...)
}

// UnifyAtoms is Unify for two bare atoms without predicates.
func UnifyAtoms(from, to query.Atom, cmp Comparison) MultiUnifier {
	fq, err := query.NewAtomic(from, query.Pattern{})
	if err != nil {
		return NonExistent
	}
	tq, err := query.NewAtomic(to, query.Pattern{})
	if err != nil {
		return NonExistent
	}
	return Unify(fq, tq, cmp)
}

type unification struct {
	cmp      Comparison
	from, to query.Pattern
	infer    bool
	found    []Unifier
}

type varPair struct{ from, to concept.Variable }

// atoms matches from-atom i onward. used tracks matched target atoms.
func (u *unification) atoms(i int, used []bool, m map[concept.Variable]concept.Variable) {
	if i == len(u.from.Atoms) {
		u.leaf(used, m)
		return
	}
	fa := u.from.Atoms[i]
	for j, ta := range u.to.Atoms {
		if used[j] && u.cmp.Coverage() == Bijective {
			continue
		}
		for _, pairs := range u.pairAtoms(fa, ta) {
			next, ok := u.extend(m, pairs)
			if !ok {
				continue
			}
			was := used[j]
			used[j] = true
			u.atoms(i+1, used, next)
			used[j] = was
		}
	}
	if u.cmp.Coverage() == CoverTarget {
		u.atoms(i+1, used, m)
	}
}

func (u *unification) leaf(used []bool, m map[concept.Variable]concept.Variable) {
	if u.cmp.Coverage() != CoverSource {
		for _, ok := range used {
			if !ok {
				return
			}
		}
	}
	if len(m) == 0 {
		return
	}
	if u.cmp.Coverage() == Bijective && len(m) != len(u.to.Vars()) {
		return
	}
	for f, t := range m {
		if !u.cmp.TypeCompatibility(u.from.TypesOf(f, u.infer), u.to.TypesOf(t, u.infer)) {
			return
		}
		if !u.cmp.IDCompatibility(u.from.IDsOf(f), u.to.IDsOf(t)) {
			return
		}
		if !u.cmp.ValueCompatibility(u.from.ValuesOf(f), u.to.ValuesOf(t)) {
			return
		}
	}
	var neqs []query.NeqPredicate
	for _, n := range u.from.Neqs {
		l, lok := m[n.Left]
		r, rok := m[n.Right]
		if !lok || !rok {
			return
		}
		neqs = append(neqs, query.NeqPredicate{Left: l, Right: r})
	}
	if !u.cmp.NeqCompatibility(neqs, u.to.Neqs) {
		return
	}
	u.found = append(u.found, FromMap(m))
}

// extend adds pairs to m, rejecting a source variable mapped twice and, when
// the policy forbids it, a target reached twice.
func (u *unification) extend(m map[concept.Variable]concept.Variable, pairs []varPair) (map[concept.Variable]concept.Variable, bool) {
	next := make(map[concept.Variable]concept.Variable, len(m)+len(pairs))
	for f, t := range m {
		next[f] = t
	}
	for _, p := range pairs {
		if prev, ok := next[p.from]; ok {
			if prev != p.to {
				return nil, false
			}
			continue
		}
		if !u.cmp.AllowsNonInjective() {
			for _, t := range next {
				if t == p.to {
					return nil, false
				}
			}
		}
		next[p.from] = p.to
	}
	return next, true
}

// pairAtoms lists the alternative variable pairings of two atoms.
func (u *unification) pairAtoms(f, t query.Atom) [][]varPair {
	if f.Kind != t.Kind || !u.cmp.TypeDirectedness(f.Type, t.Type) {
		return nil
	}
	base := []varPair{{f.Var, t.Var}}
	switch f.Kind {
	case query.KindIsa:
		return [][]varPair{base}
	case query.KindHas:
		return [][]varPair{append(base, varPair{f.Attr, t.Attr})}
	}
	var out [][]varPair
	for _, assignment := range u.assignPlayers(f.Players, t.Players) {
		out = append(out, append(append([]varPair(nil), base...), assignment...))
	}
	return out
}

// assignPlayers enumerates the ways of matching role players. Which side must
// be fully matched follows the policy's coverage; every role player slot is
// used at most once.
func (u *unification) assignPlayers(fs, ts []query.RolePlayer) [][]varPair {
	cov := u.cmp.Coverage()
	switch cov {
	case Bijective:
		if len(fs) != len(ts) {
			return nil
		}
	case CoverSource:
		if len(fs) > len(ts) {
			return nil
		}
	case CoverTarget:
		if len(ts) > len(fs) {
			return nil
		}
	}
	var out [][]varPair
	// Iterate over the side that must be covered and pick a partner slot on
	// the other side.
	outer, inner := fs, ts
	if cov == CoverTarget {
		outer, inner = ts, fs
	}
	used := make([]bool, len(inner))
	var acc []varPair
	var walk func(i int)
	walk = func(i int) {
		if i == len(outer) {
			out = append(out, append([]varPair(nil), acc...))
			return
		}
		for j := range inner {
			if used[j] {
				continue
			}
			f, t := outer[i], inner[j]
			if cov == CoverTarget {
				f, t = inner[j], outer[i]
			}
			if !u.playerCompatible(f, t) {
				continue
			}
			used[j] = true
			n := len(acc)
			acc = append(acc, varPair{f.Player, t.Player})
			if f.RoleVar != "" && t.RoleVar != "" {
				acc = append(acc, varPair{f.RoleVar, t.RoleVar})
			}
			walk(i + 1)
			acc = acc[:n]
			used[j] = false
		}
	}
	walk(0)
	return out
}

func (u *unification) playerCompatible(f, t query.RolePlayer) bool {
	if !u.cmp.RoleCompatibility(f.Role, t.Role) {
		return false
	}
	switch u.cmp.Coverage() {
	case Bijective:
		if (f.RoleVar == "") != (t.RoleVar == "") {
			return false
		}
	case CoverSource:
		if t.RoleVar != "" && f.RoleVar == "" {
			return false
		}
	}
	return u.cmp.PlayabilityWithMatch(f.Role, u.to.TypesOf(t.Player, u.infer))
}

// maximal drops unifiers strictly contained in another one.
func maximal(us []Unifier) []Unifier {
	var out []Unifier
	for i, a := range us {
		dominated := false
		for j, b := range us {
			if i == j || a.Len() >= b.Len() {
				continue
			}
			if a.subsetOf(b) {
				dominated = true
				break
			}
		}
		if !dominated {
			out = append(out, a)
		}
	}
	return out
}
