package unifier

import (
	"sort"
	"strings"

	"github.com/cognicore/graphreason/pkg/reasoner/concept"
)

// MultiUnifier is the set of alternative unifiers between one query pair. The
// empty set means no unifier exists.
type MultiUnifier struct {
	us []Unifier
}

// NonExistent is the empty multi-unifier: the queries do not unify.
var NonExistent = MultiUnifier{}

// NewMulti deduplicates and orders unifiers.
func NewMulti(us ...Unifier) MultiUnifier {
	seen := make(map[string]struct{}, len(us))
	var out []Unifier
	for _, u := range us {
		key := u.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return MultiUnifier{us: out}
}

// Trivial is the single identity unifier over vars.
func Trivial(vars []concept.Variable) MultiUnifier {
	return MultiUnifier{us: []Unifier{Identity(vars)}}
}

// IsEmpty reports whether no unifier exists.
func (m MultiUnifier) IsEmpty() bool { return len(m.us) == 0 }

// Len returns the number of alternatives.
func (m MultiUnifier) Len() int { return len(m.us) }

// Unifiers returns the alternatives.
func (m MultiUnifier) Unifiers() []Unifier { return append([]Unifier(nil), m.us...) }

// First returns the first alternative in canonical order.
func (m MultiUnifier) First() (Unifier, bool) {
	if len(m.us) == 0 {
		return Unifier{}, false
	}
	return m.us[0], true
}

// Inverse inverts every alternative.
func (m MultiUnifier) Inverse() MultiUnifier {
	out := make([]Unifier, len(m.us))
	for i, u := range m.us {
		out[i] = u.Inverse()
	}
	return NewMulti(out...)
}

// Apply rewrites sub through every alternative. Failed rewrites are dropped,
// so the result may be shorter than Len and may be empty.
func (m MultiUnifier) Apply(sub concept.Substitution) []concept.Substitution {
	var out []concept.Substitution
	seen := make(map[string]struct{}, len(m.us))
	for _, u := range m.us {
		s, ok := u.Apply(sub)
		if !ok {
			continue
		}
		if _, dup := seen[s.Key()]; dup {
			continue
		}
		seen[s.Key()] = struct{}{}
		out = append(out, s)
	}
	return out
}

func (m MultiUnifier) String() string {
	parts := make([]string, len(m.us))
	for i, u := range m.us {
		parts[i] = u.String()
	}
	return "[" + strings.Join(parts, " | ") + "]"
}
