package schema

import (
	"fmt"
	"sort"

	"github.com/cognicore/graphreason/pkg/reasoner/concept"
	"github.com/cognicore/graphreason/pkg/reasoner/internalerr"
	"github.com/cognicore/graphreason/pkg/reasoner/query"
	"github.com/cognicore/graphreason/pkg/reasoner/rule"
	"github.com/cognicore/graphreason/pkg/reasoner/unifier"
)

// TypeDef declares an entity, relation or attribute type.
type TypeDef struct {
	Label     string
	Kind      concept.Kind
	Sup       string
	ValueType string
	Plays     []string
	Relates   []string
}

// RoleDef declares a role and its optional super-role.
type RoleDef struct {
	Label string
	Sup   string
}

// Builder collects schema definitions. Build validates them and produces an
// immutable Schema.
type Builder struct {
	types []TypeDef
	roles []RoleDef
	rules []*rule.InferenceRule
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder { return &Builder{} }

// Type declares a type.
func (b *Builder) Type(def TypeDef) *Builder {
	b.types = append(b.types, def)
	return b
}

// Role declares a role.
func (b *Builder) Role(def RoleDef) *Builder {
	b.roles = append(b.roles, def)
	return b
}

// Rule registers an inference rule.
func (b *Builder) Rule(r *rule.InferenceRule) *Builder {
	b.rules = append(b.rules, r)
	return b
}

// Schema is the read-only type system and rule set the reasoner consults.
// It is safe for concurrent use.
type Schema struct {
	types map[string]TypeDef
	roles map[string]RoleDef

	typeSupers map[string]map[string]struct{}
	typeSubs   map[string][]string
	roleSupers map[string]map[string]struct{}
	roleSubs   map[string][]string
	players    map[string][]string

	rules     []*rule.InferenceRule
	byLabel   map[string]*rule.InferenceRule
	recursive map[string]bool
}

// Build validates the definitions and computes the hierarchy closures.
func (b *Builder) Build() (*Schema, error) {
	s := &Schema{
		types:      make(map[string]TypeDef, len(b.types)),
		roles:      make(map[string]RoleDef, len(b.roles)),
		typeSupers: make(map[string]map[string]struct{}),
		typeSubs:   make(map[string][]string),
		roleSupers: make(map[string]map[string]struct{}),
		roleSubs:   make(map[string][]string),
		players:    make(map[string][]string),
		byLabel:    make(map[string]*rule.InferenceRule),
		recursive:  make(map[string]bool),
	}
	for _, t := range b.types {
		if t.Label == "" {
			return nil, fmt.Errorf("type without label: %w", internalerr.ErrInvalidConfig)
		}
		if _, dup := s.types[t.Label]; dup {
			return nil, fmt.Errorf("type %s: %w", t.Label, internalerr.ErrDuplicate)
		}
		s.types[t.Label] = t
	}
	for _, r := range b.roles {
		if r.Label == "" {
			return nil, fmt.Errorf("role without label: %w", internalerr.ErrInvalidConfig)
		}
		if _, dup := s.roles[r.Label]; dup {
			return nil, fmt.Errorf("role %s: %w", r.Label, internalerr.ErrDuplicate)
		}
		s.roles[r.Label] = r
	}
	for _, t := range s.types {
		if t.Sup != "" {
			sup, ok := s.types[t.Sup]
			if !ok {
				return nil, fmt.Errorf("type %s: supertype %s: %w", t.Label, t.Sup, internalerr.ErrUnknownType)
			}
			if sup.Kind != t.Kind {
				return nil, fmt.Errorf("type %s (%s) cannot subtype %s (%s): %w", t.Label, t.Kind, sup.Label, sup.Kind, internalerr.ErrInvalidConfig)
			}
		}
		for _, role := range append(append([]string(nil), t.Plays...), t.Relates...) {
			if _, ok := s.roles[role]; !ok {
				return nil, fmt.Errorf("type %s: role %s: %w", t.Label, role, internalerr.ErrUnknownType)
			}
		}
		for _, role := range t.Plays {
			s.players[role] = append(s.players[role], t.Label)
		}
	}
	for _, r := range s.roles {
		if r.Sup != "" {
			if _, ok := s.roles[r.Sup]; !ok {
				return nil, fmt.Errorf("role %s: super-role %s: %w", r.Label, r.Sup, internalerr.ErrUnknownType)
			}
		}
	}
	for role := range s.players {
		sort.Strings(s.players[role])
	}

	typeSup := make(map[string]string, len(s.types))
	for l, t := range s.types {
		typeSup[l] = t.Sup
	}
	var err error
	if s.typeSupers, s.typeSubs, err = closure(typeSup); err != nil {
		return nil, err
	}
	roleSup := make(map[string]string, len(s.roles))
	for l, r := range s.roles {
		roleSup[l] = r.Sup
	}
	if s.roleSupers, s.roleSubs, err = closure(roleSup); err != nil {
		return nil, err
	}

	for _, r := range b.rules {
		if _, dup := s.byLabel[r.Label()]; dup {
			return nil, fmt.Errorf("rule %s: %w", r.Label(), internalerr.ErrDuplicate)
		}
		if err := s.checkRule(r); err != nil {
			return nil, err
		}
		s.byLabel[r.Label()] = r
		s.rules = append(s.rules, r)
	}
	s.markRecursive()
	return s, nil
}

// closure computes reflexive-transitive super and sub sets from a parent map,
// rejecting cycles.
func closure(parent map[string]string) (map[string]map[string]struct{}, map[string][]string, error) {
	supers := make(map[string]map[string]struct{}, len(parent))
	subs := make(map[string][]string, len(parent))
	for label := range parent {
		set := map[string]struct{}{label: {}}
		for cur := parent[label]; cur != ""; cur = parent[cur] {
			if _, seen := set[cur]; seen {
				return nil, nil, fmt.Errorf("hierarchy cycle through %s: %w", label, internalerr.ErrInvalidConfig)
			}
			set[cur] = struct{}{}
		}
		supers[label] = set
		for sup := range set {
			subs[sup] = append(subs[sup], label)
		}
	}
	for l := range subs {
		sort.Strings(subs[l])
	}
	return supers, subs, nil
}

func (s *Schema) checkRule(r *rule.InferenceRule) error {
	atoms := append(r.BodyAtoms(), r.Head())
	if cq, ok := r.Body().(*query.CompositeQuery); ok {
		for _, n := range cq.Negated() {
			atoms = append(atoms, n.Atoms()...)
		}
	}
	for _, a := range atoms {
		if a.Type != "" {
			if _, ok := s.types[a.Type]; !ok {
				return fmt.Errorf("rule %s: type %s: %w", r.Label(), a.Type, internalerr.ErrUnknownType)
			}
		}
		for _, rp := range a.Players {
			if rp.Role == "" {
				continue
			}
			if _, ok := s.roles[rp.Role]; !ok {
				return fmt.Errorf("rule %s: role %s: %w", r.Label(), rp.Role, internalerr.ErrUnknownType)
			}
		}
	}
	head := r.Head()
	if head.Kind != query.KindRelation {
		return nil
	}
	cmp := unifier.NewComparison(unifier.Rule, s)
	for _, rp := range head.Players {
		types := bodyTypes(r, rp.Player)
		if !cmp.PlayabilityWithInsert(rp.Role, types) {
			return fmt.Errorf("rule %s: %v cannot play %s: %w", r.Label(), types, rp.Role, internalerr.ErrInvalidRule)
		}
	}
	return nil
}

// bodyTypes collects the type labels the rule body asserts for v.
func bodyTypes(r *rule.InferenceRule, v concept.Variable) []string {
	var p query.Pattern
	switch b := r.Body().(type) {
	case *query.ConjunctiveQuery:
		p = b.Pattern()
	case *query.CompositeQuery:
		p = b.Positive().Pattern()
	}
	var out []string
	for _, a := range p.Atoms {
		if a.Kind == query.KindIsa && a.Var == v {
			out = append(out, a.Type)
		}
	}
	for _, tp := range p.Types {
		if tp.Var == v && !tp.Inferred {
			out = append(out, tp.Label)
		}
	}
	return out
}

// Type returns the definition of label.
func (s *Schema) Type(label string) (TypeDef, bool) {
	t, ok := s.types[label]
	return t, ok
}

// HasRole reports whether the role is declared.
func (s *Schema) HasRole(label string) bool {
	_, ok := s.roles[label]
	return ok
}

// IsSubtype reports whether sub equals sup or descends from it. The empty
// label is the top of every hierarchy.
func (s *Schema) IsSubtype(sub, sup string) bool {
	if sup == "" || sub == sup {
		return true
	}
	_, ok := s.typeSupers[sub][sup]
	return ok
}

// Subtypes returns label and all its descendants.
func (s *Schema) Subtypes(label string) []string {
	return append([]string(nil), s.typeSubs[label]...)
}

// Supertypes returns label and all its ancestors, sorted.
func (s *Schema) Supertypes(label string) []string {
	out := make([]string, 0, len(s.typeSupers[label]))
	for l := range s.typeSupers[label] {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// TypesOfKind returns every type of the given kind, sorted.
func (s *Schema) TypesOfKind(k concept.Kind) []string {
	var out []string
	for l, t := range s.types {
		if t.Kind == k {
			out = append(out, l)
		}
	}
	sort.Strings(out)
	return out
}

// IsSubRole reports whether sub equals sup or specialises it. The empty role
// matches every role.
func (s *Schema) IsSubRole(sub, sup string) bool {
	if sup == "" || sub == sup {
		return true
	}
	_, ok := s.roleSupers[sub][sup]
	return ok
}

// RoleHierarchy returns role and every role specialising it. The empty role
// yields every declared role.
func (s *Schema) RoleHierarchy(role string) []string {
	if role == "" {
		out := make([]string, 0, len(s.roles))
		for l := range s.roles {
			out = append(out, l)
		}
		sort.Strings(out)
		return out
	}
	return append([]string(nil), s.roleSubs[role]...)
}

// PlayersOf returns the types declaring they play role.
func (s *Schema) PlayersOf(role string) []string {
	return append([]string(nil), s.players[role]...)
}

// CanPlay reports whether instances of typ may play role. With insert set the
// type or one of its supertypes must declare the role itself; otherwise it is
// enough for some related type (sub or super) to play the role or one of its
// specialisations.
func (s *Schema) CanPlay(typ, role string, insert bool) bool {
	if role == "" || typ == "" {
		return true
	}
	for sup := range s.typeSupers[typ] {
		for _, r := range s.types[sup].Plays {
			if r == role || (!insert && s.IsSubRole(r, role)) {
				return true
			}
		}
	}
	if insert {
		return false
	}
	for _, sub := range s.typeSubs[typ] {
		for _, r := range s.types[sub].Plays {
			if s.IsSubRole(r, role) {
				return true
			}
		}
	}
	return false
}

// Rules returns every rule in declaration order.
func (s *Schema) Rules() []*rule.InferenceRule {
	return append([]*rule.InferenceRule(nil), s.rules...)
}

// Rule looks a rule up by label.
func (s *Schema) Rule(label string) (*rule.InferenceRule, bool) {
	r, ok := s.byLabel[label]
	return r, ok
}

// RulesFor returns the rules whose head could produce answers for atom. It is
// a cheap pre-filter; unification makes the final decision.
func (s *Schema) RulesFor(atom query.Atom) []*rule.InferenceRule {
	var out []*rule.InferenceRule
	for _, r := range s.rules {
		head := r.Head()
		if head.Kind != atom.Kind {
			continue
		}
		if atom.Type != "" && !s.IsSubtype(head.Type, atom.Type) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// IsRuleResolvable reports whether some rule could produce answers for atom.
func (s *Schema) IsRuleResolvable(atom query.Atom) bool {
	return len(s.RulesFor(atom)) > 0
}

// IsRecursive reports whether the rule can reach itself through the heads
// of rules matching its body atoms.
func (s *Schema) IsRecursive(label string) bool { return s.recursive[label] }

// RequiresReiteration reports whether resolving atoms can reach a recursive
// rule. Single-pass resolution of such queries may miss answers cut off by
// cycle detection.
func (s *Schema) RequiresReiteration(atoms []query.Atom) bool {
	seen := make(map[string]bool)
	stack := append([]query.Atom(nil), atoms...)
	for len(stack) > 0 {
		a := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, r := range s.RulesFor(a) {
			if s.recursive[r.Label()] {
				return true
			}
			if seen[r.Label()] {
				continue
			}
			seen[r.Label()] = true
			stack = append(stack, dependencyAtoms(r)...)
		}
	}
	return false
}

// markRecursive runs a DFS over the rule dependency graph and marks every rule
// that sits on a cycle.
func (s *Schema) markRecursive() {
	deps := make(map[string][]string, len(s.rules))
	for _, r := range s.rules {
		set := make(map[string]struct{})
		for _, a := range dependencyAtoms(r) {
			for _, d := range s.RulesFor(a) {
				set[d.Label()] = struct{}{}
			}
		}
		for l := range set {
			deps[r.Label()] = append(deps[r.Label()], l)
		}
	}
	for _, r := range s.rules {
		start := r.Label()
		visited := make(map[string]bool)
		stack := append([]string(nil), deps[start]...)
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if cur == start {
				s.recursive[start] = true
				break
			}
			if visited[cur] {
				continue
			}
			visited[cur] = true
			stack = append(stack, deps[cur]...)
		}
	}
}

func dependencyAtoms(r *rule.InferenceRule) []query.Atom {
	atoms := r.BodyAtoms()
	if cq, ok := r.Body().(*query.CompositeQuery); ok {
		for _, n := range cq.Negated() {
			atoms = append(atoms, n.Atoms()...)
		}
	}
	return atoms
}
