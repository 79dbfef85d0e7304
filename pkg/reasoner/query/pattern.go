package query

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cognicore/graphreason/pkg/reasoner/concept"
)

// Pattern is an ordered conjunction of atoms plus the predicates that
// constrain their variables. Query variants are built from patterns.
type Pattern struct {
	Atoms  []Atom
	IDs    []IDPredicate
	Values []ValuePredicate
	Neqs   []NeqPredicate
	Types  []TypePredicate
}

// TypeChecker answers subtype questions for answer filtering.
type TypeChecker interface {
	IsSubtype(sub, sup string) bool
}

// PlayerTyping lists the types allowed to play a role.
type PlayerTyping interface {
	PlayersOf(role string) []string
}

// Vars returns every variable of the pattern in order of first appearance.
func (p Pattern) Vars() []concept.Variable {
	seen := make(map[concept.Variable]struct{})
	var out []concept.Variable
	add := func(v concept.Variable) {
		if _, ok := seen[v]; ok || v == "" {
			return
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	for _, a := range p.Atoms {
		for _, v := range a.Vars() {
			add(v)
		}
	}
	for _, id := range p.IDs {
		add(id.Var)
	}
	for _, vp := range p.Values {
		add(vp.Var)
	}
	for _, n := range p.Neqs {
		add(n.Left)
		add(n.Right)
	}
	for _, t := range p.Types {
		add(t.Var)
	}
	return out
}

// IDsOf returns the sorted ids pinned to v.
func (p Pattern) IDsOf(v concept.Variable) []concept.ID {
	var out []concept.ID
	for _, id := range p.IDs {
		if id.Var == v {
			out = append(out, id.ID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ValuesOf returns the value predicates on v.
func (p Pattern) ValuesOf(v concept.Variable) []ValuePredicate {
	var out []ValuePredicate
	for _, vp := range p.Values {
		if vp.Var == v {
			out = append(out, vp)
		}
	}
	return out
}

// TypesOf returns the sorted, distinct type labels constraining v. Inferred
// labels are included only when inferred is true.
func (p Pattern) TypesOf(v concept.Variable, inferred bool) []string {
	set := make(map[string]struct{})
	for _, t := range p.Types {
		if t.Var == v && (inferred || !t.Inferred) {
			set[t.Label] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for l := range set {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Restrict keeps the predicates whose variables all fall in vars. Atoms are
// left untouched.
func (p Pattern) Restrict(vars []concept.Variable, withNeqs bool) Pattern {
	in := make(map[concept.Variable]bool, len(vars))
	for _, v := range vars {
		in[v] = true
	}
	out := Pattern{Atoms: append([]Atom(nil), p.Atoms...)}
	for _, id := range p.IDs {
		if in[id.Var] {
			out.IDs = append(out.IDs, id)
		}
	}
	for _, vp := range p.Values {
		if in[vp.Var] {
			out.Values = append(out.Values, vp)
		}
	}
	if withNeqs {
		for _, n := range p.Neqs {
			if in[n.Left] && in[n.Right] {
				out.Neqs = append(out.Neqs, n)
			}
		}
	}
	for _, t := range p.Types {
		if in[t.Var] {
			out.Types = append(out.Types, t)
		}
	}
	return out
}

// WithBindings adds an id predicate for every bound variable of the pattern
// that does not already carry the same id.
func (p Pattern) WithBindings(sub concept.Substitution) Pattern {
	out := p.clone()
	for _, v := range p.Vars() {
		c, ok := sub.Get(v)
		if !ok {
			continue
		}
		dup := false
		for _, id := range out.IDs {
			if id.Var == v && id.ID == c.ID {
				dup = true
				break
			}
		}
		if !dup {
			out.IDs = append(out.IDs, IDPredicate{Var: v, ID: c.ID})
		}
	}
	return out
}

// WithoutNeqs drops the inequality predicates.
func (p Pattern) WithoutNeqs() Pattern {
	out := p.clone()
	out.Neqs = nil
	return out
}

// Rename maps every variable through f.
func (p Pattern) Rename(f func(concept.Variable) concept.Variable) Pattern {
	out := Pattern{}
	for _, a := range p.Atoms {
		out.Atoms = append(out.Atoms, a.Rename(f))
	}
	for _, id := range p.IDs {
		out.IDs = append(out.IDs, IDPredicate{Var: f(id.Var), ID: id.ID})
	}
	for _, vp := range p.Values {
		out.Values = append(out.Values, ValuePredicate{Var: f(vp.Var), Op: vp.Op, Value: vp.Value})
	}
	for _, n := range p.Neqs {
		out.Neqs = append(out.Neqs, NeqPredicate{Left: f(n.Left), Right: f(n.Right)})
	}
	for _, t := range p.Types {
		out.Types = append(out.Types, TypePredicate{Var: f(t.Var), Label: t.Label, Inferred: t.Inferred})
	}
	return out
}

// InferTypes adds inferred type predicates for relation players whose role can
// only be played by a single type.
func (p Pattern) InferTypes(s PlayerTyping) Pattern {
	out := p.clone()
	for _, a := range p.Atoms {
		if a.Kind != KindRelation {
			continue
		}
		for _, rp := range a.Players {
			if rp.Role == "" || len(p.TypesOf(rp.Player, true)) > 0 {
				continue
			}
			players := s.PlayersOf(rp.Role)
			if len(players) != 1 {
				continue
			}
			if !out.hasType(rp.Player, players[0]) {
				out.Types = append(out.Types, TypePredicate{Var: rp.Player, Label: players[0], Inferred: true})
			}
		}
	}
	return out
}

func (p Pattern) hasType(v concept.Variable, label string) bool {
	for _, t := range p.Types {
		if t.Var == v && t.Label == label {
			return true
		}
	}
	return false
}

// Satisfies reports whether an answer agrees with the pattern's id, value,
// type and inequality predicates. Unbound variables are not checked.
func (p Pattern) Satisfies(ans concept.Substitution, h TypeChecker) bool {
	for _, id := range p.IDs {
		if c, ok := ans.Get(id.Var); ok && c.ID != id.ID {
			return false
		}
	}
	for _, vp := range p.Values {
		c, ok := ans.Get(vp.Var)
		if !ok {
			continue
		}
		if c.Kind != concept.KindAttribute || !vp.Satisfied(c.Value) {
			return false
		}
	}
	for _, t := range p.Types {
		c, ok := ans.Get(t.Var)
		if !ok || c.Kind == concept.KindRole {
			continue
		}
		if h != nil && !h.IsSubtype(c.Type, t.Label) {
			return false
		}
	}
	for _, n := range p.Neqs {
		l, lok := ans.Get(n.Left)
		r, rok := ans.Get(n.Right)
		if lok && rok && l.Equal(r) {
			return false
		}
	}
	return true
}

// Signature returns a rendering that ignores variable names. Alpha-equivalent
// patterns always share a signature; with structural set, concrete ids are
// dropped so structurally equivalent patterns share one too. Equal signatures
// do not imply equivalence.
func (p Pattern) Signature(structural bool) string {
	atoms := make([]string, len(p.Atoms))
	for i, a := range p.Atoms {
		atoms[i] = a.shape()
	}
	sort.Strings(atoms)

	ids := make([]string, len(p.IDs))
	for i, id := range p.IDs {
		if structural {
			ids[i] = "#"
		} else {
			ids[i] = string(id.ID)
		}
	}
	sort.Strings(ids)

	values := make([]string, len(p.Values))
	for i, vp := range p.Values {
		values[i] = vp.Key()
	}
	sort.Strings(values)

	var types []string
	for _, t := range p.Types {
		if !t.Inferred {
			types = append(types, t.Label)
		}
	}
	sort.Strings(types)

	var b strings.Builder
	b.WriteString(strings.Join(atoms, ";"))
	b.WriteString("|ids=")
	b.WriteString(strings.Join(ids, ","))
	b.WriteString("|values=")
	b.WriteString(strings.Join(values, ","))
	b.WriteString("|types=")
	b.WriteString(strings.Join(types, ","))
	b.WriteString("|neq=")
	b.WriteString(strconv.Itoa(len(p.Neqs)))
	return b.String()
}

// Shape renders only the atom shapes; patterns that could subsume one another
// share a shape.
func (p Pattern) Shape() string {
	atoms := make([]string, len(p.Atoms))
	for i, a := range p.Atoms {
		atoms[i] = a.Kind.String()
	}
	sort.Strings(atoms)
	return strings.Join(atoms, ";")
}

func (p Pattern) clone() Pattern {
	return Pattern{
		Atoms:  append([]Atom(nil), p.Atoms...),
		IDs:    append([]IDPredicate(nil), p.IDs...),
		Values: append([]ValuePredicate(nil), p.Values...),
		Neqs:   append([]NeqPredicate(nil), p.Neqs...),
		Types:  append([]TypePredicate(nil), p.Types...),
	}
}

func (p Pattern) String() string {
	var parts []string
	for _, a := range p.Atoms {
		parts = append(parts, a.String())
	}
	for _, id := range p.IDs {
		parts = append(parts, id.String())
	}
	for _, vp := range p.Values {
		parts = append(parts, vp.String())
	}
	for _, n := range p.Neqs {
		parts = append(parts, n.String())
	}
	for _, t := range p.Types {
		parts = append(parts, t.String())
	}
	return strings.Join(parts, "; ") + ";"
}
