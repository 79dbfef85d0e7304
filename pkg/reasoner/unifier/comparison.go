package unifier

import (
	"sort"

	"github.com/cognicore/graphreason/pkg/reasoner/concept"
	"github.com/cognicore/graphreason/pkg/reasoner/query"
)

// Policy selects how strictly two queries must agree to unify.
type Policy uint8

const (
	// Exact requires alpha-equivalence: same atoms and same predicates up to
	// variable renaming.
	Exact Policy = iota
	// Structural is Exact with concrete ids reduced to their presence.
	Structural
	// Rule matches a rule head (source) against a query atom (target).
	Rule
	// Subsumptive holds when every answer of the target is an answer of the
	// source: the source is the more general query.
	Subsumptive
	// StructuralSubsumptive is Subsumptive with concrete ids reduced to their
	// presence.
	StructuralSubsumptive
)

func (p Policy) String() string {
	switch p {
	case Exact:
		return "exact"
	case Structural:
		return "structural"
	case Rule:
		return "rule"
	case Subsumptive:
		return "subsumptive"
	case StructuralSubsumptive:
		return "structural-subsumptive"
	}
	return "unknown"
}

// Coverage states which side's atoms and role players must all be matched.
type Coverage uint8

const (
	// Bijective matches both sides completely and one to one.
	Bijective Coverage = iota
	// CoverSource matches every source element; the target may have more.
	CoverSource
	// CoverTarget matches every target element; the source may have more.
	CoverTarget
)

// Hierarchy is the schema view the comparisons need.
type Hierarchy interface {
	IsSubtype(sub, sup string) bool
	IsSubRole(sub, sup string) bool
	CanPlay(typ, role string, insert bool) bool
}

// Comparison is a unification policy. Every method compares a source
// element (from) with the target element (to) it would be mapped onto.
type Comparison interface {
	Policy() Policy
	// InferTypes reports whether schema-inferred type predicates take part.
	InferTypes() bool
	// InferValues reports whether value predicates are normalized before
	// comparing, so redundant predicates do not block a match.
	InferValues() bool
	AllowsNonInjective() bool
	Coverage() Coverage

	// TypeDirectedness compares atom labels.
	TypeDirectedness(from, to string) bool
	// TypeCompatibility compares the type predicates of a variable pair.
	TypeCompatibility(from, to []string) bool
	RoleCompatibility(from, to string) bool
	IDCompatibility(from, to []concept.ID) bool
	ValueCompatibility(from, to []query.ValuePredicate) bool
	// NeqCompatibility compares inequalities, with from already renamed into
	// the target's variables.
	NeqCompatibility(from, to []query.NeqPredicate) bool

	// PlayabilityWithMatch reports whether some type in types may match a
	// player of role.
	PlayabilityWithMatch(role string, types []string) bool
	// PlayabilityWithInsert reports whether some type in types may legally be
	// inserted as a player of role.
	PlayabilityWithInsert(role string, types []string) bool
}

// NewComparison returns the comparison for p. h may be nil for Exact and
// Structural.
func NewComparison(p Policy, h Hierarchy) Comparison {
	switch p {
	case Structural:
		return structural{exact{h: h}}
	case Rule:
		return ruleCmp{h: h}
	case Subsumptive:
		return subsumptive{h: h}
	case StructuralSubsumptive:
		return structuralSubsumptive{subsumptive{h: h}}
	default:
		return exact{h: h}
	}
}

type exact struct{ h Hierarchy }

func (exact) Policy() Policy { return Exact }
func (exact) InferTypes() bool { return true }
func (exact) InferValues() bool { return true }
func (exact) AllowsNonInjective() bool { return false }
func (exact) Coverage() Coverage { return Bijective }
func (exact) TypeDirectedness(f, t string) bool { return f == t }
func (exact) RoleCompatibility(f, t string) bool { return f == t }

func (exact) TypeCompatibility(from, to []string) bool { return sameStrings(from, to) }

func (exact) IDCompatibility(from, to []concept.ID) bool {
	if len(from) != len(to) {
		return false
	}
	for i := range from {
		if from[i] != to[i] {
			return false
		}
	}
	return true
}

func (exact) ValueCompatibility(from, to []query.ValuePredicate) bool {
	return sameStrings(valueKeys(normalizeValues(from)), valueKeys(normalizeValues(to)))
}

func (exact) NeqCompatibility(from, to []query.NeqPredicate) bool {
	return sameStrings(neqKeys(from), neqKeys(to))
}

func (exact) PlayabilityWithMatch(string, []string) bool { return true }
func (exact) PlayabilityWithInsert(string, []string) bool { return true }

type structural struct{ exact }

func (structural) Policy() Policy { return Structural }
func (structural) InferTypes() bool { return false }
func (structural) InferValues() bool { return false }

func (structural) IDCompatibility(from, to []concept.ID) bool { return len(from) == len(to) }

func (structural) ValueCompatibility(from, to []query.ValuePredicate) bool {
	return sameStrings(valueKeys(from), valueKeys(to))
}

// ruleCmp compares a rule head (from) with a query atom (to). The head must be
// able to produce something the query accepts; answers are filtered later, so
// overlap is enough wherever the head is unconstrained.
type ruleCmp struct{ h Hierarchy }

func (ruleCmp) Policy() Policy { return Rule }
func (ruleCmp) InferTypes() bool { return true }
func (ruleCmp) InferValues() bool { return false }
func (ruleCmp) AllowsNonInjective() bool { return true }
func (ruleCmp) Coverage() Coverage { return CoverTarget }

func (c ruleCmp) TypeDirectedness(from, to string) bool {
	return to == "" || c.h.IsSubtype(from, to)
}

func (c ruleCmp) TypeCompatibility(from, to []string) bool {
	if len(from) == 0 || len(to) == 0 {
		return true
	}
	for _, f := range from {
		for _, t := range to {
			if c.h.IsSubtype(f, t) || c.h.IsSubtype(t, f) {
				return true
			}
		}
	}
	return false
}

func (c ruleCmp) RoleCompatibility(from, to string) bool {
	return to == "" || c.h.IsSubRole(from, to)
}

func (ruleCmp) IDCompatibility(from, to []concept.ID) bool {
	if len(from) == 0 || len(to) == 0 {
		return true
	}
	return sameIDs(from, to)
}

// ValueCompatibility checks that a constant asserted by the head passes every
// predicate of the query.
func (ruleCmp) ValueCompatibility(from, to []query.ValuePredicate) bool {
	for _, f := range from {
		if f.Op != query.EQ {
			continue
		}
		for _, t := range to {
			if !t.Satisfied(f.Value) {
				return false
			}
		}
	}
	return true
}

func (ruleCmp) NeqCompatibility([]query.NeqPredicate, []query.NeqPredicate) bool { return true }

func (c ruleCmp) PlayabilityWithMatch(role string, types []string) bool {
	return anyPlays(c.h, role, types, false)
}

func (c ruleCmp) PlayabilityWithInsert(role string, types []string) bool {
	return anyPlays(c.h, role, types, true)
}

// subsumptive holds when from is at least as general as to.
type subsumptive struct{ h Hierarchy }

func (subsumptive) Policy() Policy { return Subsumptive }
func (subsumptive) InferTypes() bool { return false }
func (subsumptive) InferValues() bool { return false }
func (subsumptive) AllowsNonInjective() bool { return true }
func (subsumptive) Coverage() Coverage { return CoverSource }

func (c subsumptive) TypeDirectedness(from, to string) bool {
	return from == "" || c.h.IsSubtype(to, from)
}

func (c subsumptive) TypeCompatibility(from, to []string) bool {
	for _, f := range from {
		ok := false
		for _, t := range to {
			if c.h.IsSubtype(t, f) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func (c subsumptive) RoleCompatibility(from, to string) bool {
	return from == "" || c.h.IsSubRole(to, from)
}

func (subsumptive) IDCompatibility(from, to []concept.ID) bool {
	in := make(map[concept.ID]bool, len(to))
	for _, id := range to {
		in[id] = true
	}
	for _, id := range from {
		if !in[id] {
			return false
		}
	}
	return true
}

func (subsumptive) ValueCompatibility(from, to []query.ValuePredicate) bool {
	for _, f := range from {
		ok := false
		for _, t := range to {
			if t.Implies(f) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func (subsumptive) NeqCompatibility(from, to []query.NeqPredicate) bool {
	in := make(map[string]bool, len(to))
	for _, k := range neqKeys(to) {
		in[k] = true
	}
	for _, k := range neqKeys(from) {
		if !in[k] {
			return false
		}
	}
	return true
}

func (c subsumptive) PlayabilityWithMatch(role string, types []string) bool {
	return anyPlays(c.h, role, types, false)
}

func (c subsumptive) PlayabilityWithInsert(role string, types []string) bool {
	return anyPlays(c.h, role, types, true)
}

type structuralSubsumptive struct{ subsumptive }

func (structuralSubsumptive) Policy() Policy { return StructuralSubsumptive }

func (structuralSubsumptive) IDCompatibility(from, to []concept.ID) bool {
	return len(from) == 0 || len(to) > 0
}

func anyPlays(h Hierarchy, role string, types []string, insert bool) bool {
	if len(types) == 0 || h == nil {
		return true
	}
	for _, t := range types {
		if h.CanPlay(t, role, insert) {
			return true
		}
	}
	return false
}

// normalizeValues drops predicates implied by another predicate of the set and
// duplicates.
func normalizeValues(ps []query.ValuePredicate) []query.ValuePredicate {
	var out []query.ValuePredicate
	for i, p := range ps {
		redundant := false
		for j, o := range ps {
			if i == j || p.Key() == o.Key() {
				continue
			}
			if o.Implies(p) && !p.Implies(o) {
				redundant = true
				break
			}
		}
		if !redundant {
			out = append(out, p)
		}
	}
	return out
}

func valueKeys(ps []query.ValuePredicate) []string {
	set := make(map[string]struct{}, len(ps))
	for _, p := range ps {
		set[p.Key()] = struct{}{}
	}
	return sortedKeys(set)
}

func neqKeys(ns []query.NeqPredicate) []string {
	set := make(map[string]struct{}, len(ns))
	for _, n := range ns {
		l, r := n.Left, n.Right
		if r < l {
			l, r = r, l
		}
		set[string(l)+"!="+string(r)] = struct{}{}
	}
	return sortedKeys(set)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameIDs(a, b []concept.ID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
