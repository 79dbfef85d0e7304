package concept

import (
	"sort"
	"strings"
)

// Explanation records how an answer was derived. A nil explanation means the
// answer came straight from stored data.
type Explanation struct {
	ID      string
	Rule    string
	Premise *Substitution
}

// Substitution is an immutable mapping from variables to concepts: a partial
// or complete answer. Operations return new values and never mutate the
// receiver.
type Substitution struct {
	m       map[Variable]Concept
	expl    *Explanation
	pattern string
}

// Empty is the substitution with no bindings.
var Empty = Substitution{}

// NewSubstitution copies bindings into a new substitution.
func NewSubstitution(bindings map[Variable]Concept) Substitution {
	if len(bindings) == 0 {
		return Substitution{}
	}
	m := make(map[Variable]Concept, len(bindings))
	for v, c := range bindings {
		m[v] = c
	}
	return Substitution{m: m}
}

// Get returns the concept bound to v.
func (s Substitution) Get(v Variable) (Concept, bool) {
	c, ok := s.m[v]
	return c, ok
}

// Contains reports whether v is bound.
func (s Substitution) Contains(v Variable) bool {
	_, ok := s.m[v]
	return ok
}

// Len returns the number of bindings.
func (s Substitution) Len() int { return len(s.m) }

// IsEmpty reports whether the substitution binds nothing.
func (s Substitution) IsEmpty() bool { return len(s.m) == 0 }

// Vars returns the bound variables in sorted order.
func (s Substitution) Vars() []Variable {
	out := make([]Variable, 0, len(s.m))
	for v := range s.m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Bindings returns a copy of the underlying map.
func (s Substitution) Bindings() map[Variable]Concept {
	m := make(map[Variable]Concept, len(s.m))
	for v, c := range s.m {
		m[v] = c
	}
	return m
}

// Explanation returns the derivation record, nil for stored facts.
func (s Substitution) Explanation() *Explanation { return s.expl }

// Pattern returns the rendering of the query that produced the answer.
func (s Substitution) Pattern() string { return s.pattern }

// WithExplanation returns a copy carrying the given explanation.
func (s Substitution) WithExplanation(e *Explanation) Substitution {
	s.expl = e
	return s
}

// WithPattern returns a copy tagged with the originating pattern.
func (s Substitution) WithPattern(p string) Substitution {
	s.pattern = p
	return s
}

// With returns a copy with v bound to c. Rebinding v to a different concept
// fails.
func (s Substitution) With(v Variable, c Concept) (Substitution, bool) {
	if old, ok := s.m[v]; ok {
		if !old.Equal(c) {
			return Empty, false
		}
		return s, true
	}
	m := make(map[Variable]Concept, len(s.m)+1)
	for k, val := range s.m {
		m[k] = val
	}
	m[v] = c
	return Substitution{m: m, expl: s.expl, pattern: s.pattern}, true
}

// Merge combines two substitutions. A variable bound to different concepts
// on each side is a conflict and yields (Empty, false). The receiver's
// explanation wins unless it has none.
func (s Substitution) Merge(o Substitution) (Substitution, bool) {
	if len(o.m) == 0 {
		if s.expl == nil && o.expl != nil {
			s.expl = o.expl
		}
		return s, true
	}
	m := make(map[Variable]Concept, len(s.m)+len(o.m))
	for v, c := range s.m {
		m[v] = c
	}
	for v, c := range o.m {
		if old, ok := m[v]; ok && !old.Equal(c) {
			return Empty, false
		}
		m[v] = c
	}
	expl := s.expl
	if expl == nil {
		expl = o.expl
	}
	pattern := s.pattern
	if pattern == "" {
		pattern = o.pattern
	}
	return Substitution{m: m, expl: expl, pattern: pattern}, true
}

// Project restricts the substitution to vars.
func (s Substitution) Project(vars []Variable) Substitution {
	m := make(map[Variable]Concept, len(vars))
	for _, v := range vars {
		if c, ok := s.m[v]; ok {
			m[v] = c
		}
	}
	return Substitution{m: m, expl: s.expl, pattern: s.pattern}
}

// Without drops the given variables.
func (s Substitution) Without(vars ...Variable) Substitution {
	m := make(map[Variable]Concept, len(s.m))
	for v, c := range s.m {
		m[v] = c
	}
	for _, v := range vars {
		delete(m, v)
	}
	return Substitution{m: m, expl: s.expl, pattern: s.pattern}
}

// Equal compares bindings only; explanations are ignored.
func (s Substitution) Equal(o Substitution) bool {
	if len(s.m) != len(o.m) {
		return false
	}
	for v, c := range s.m {
		oc, ok := o.m[v]
		if !ok || !oc.Equal(c) {
			return false
		}
	}
	return true
}

// Key renders the bindings canonically; equal substitutions share a key.
func (s Substitution) Key() string {
	var b strings.Builder
	for i, v := range s.Vars() {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(string(v))
		b.WriteByte('=')
		b.WriteString(string(s.m[v].ID))
	}
	return b.String()
}

func (s Substitution) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, v := range s.Vars() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(string(v))
		b.WriteString(": ")
		b.WriteString(s.m[v].String())
	}
	b.WriteByte('}')
	return b.String()
}
