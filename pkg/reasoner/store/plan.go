package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/cognicore/graphreason/pkg/reasoner/concept"
	"github.com/cognicore/graphreason/pkg/reasoner/query"
)

// Strategy is the access path a plan starts from.
type Strategy uint8

const (
	// ByType scans the instances of the atom's type and its subtypes.
	ByType Strategy = iota
	// ByID starts from the concept pinned to the atom's own variable.
	ByID
	// ByPlayer starts from a pinned role player.
	ByPlayer
	// ByOwner starts from a pinned attribute owner.
	ByOwner
	// ByAttribute starts from a pinned attribute.
	ByAttribute
	// ByValue looks attributes up by an equality predicate.
	ByValue
)

func (s Strategy) String() string {
	switch s {
	case ByType:
		return "by-type"
	case ByID:
		return "by-id"
	case ByPlayer:
		return "by-player"
	case ByOwner:
		return "by-owner"
	case ByAttribute:
		return "by-attribute"
	case ByValue:
		return "by-value"
	}
	return "unknown"
}

// Plan is a compiled lookup for one atomic query. Plans depend only on the
// query's structure; WithIDs rebinds the pinned concepts so a plan compiled
// for one query serves every structurally equivalent one.
type Plan struct {
	engine   *Engine
	atom     query.Atom
	preds    query.Pattern
	strategy Strategy
	anchor   concept.Variable
	types    []string
	ids      map[concept.Variable]concept.ID
	conflict bool
}

// Strategy returns the chosen access path.
func (p *Plan) Strategy() Strategy { return p.strategy }

// Atom returns the atom the plan matches.
func (p *Plan) Atom() query.Atom { return p.atom }

// IDs returns the pinned concepts.
func (p *Plan) IDs() map[concept.Variable]concept.ID {
	out := make(map[concept.Variable]concept.ID, len(p.ids))
	for v, id := range p.ids {
		out[v] = id
	}
	return out
}

// WithIDs returns a copy of the plan with pinned concepts replaced. Variables
// absent from ids keep their current pin.
func (p *Plan) WithIDs(ids map[concept.Variable]concept.ID) *Plan {
	cp := *p
	cp.ids = p.IDs()
	for v, id := range ids {
		if _, pinned := cp.ids[v]; pinned {
			cp.ids[v] = id
		}
	}
	cp.preds = p.preds
	cp.preds.IDs = make([]query.IDPredicate, 0, len(cp.ids))
	for v, id := range cp.ids {
		cp.preds.IDs = append(cp.preds.IDs, query.IDPredicate{Var: v, ID: id})
	}
	sort.Slice(cp.preds.IDs, func(i, j int) bool { return cp.preds.IDs[i].Var < cp.preds.IDs[j].Var })
	return &cp
}

func (p *Plan) String() string {
	return fmt.Sprintf("%s via %s", p.atom, p.strategy)
}

// Execute runs the plan and returns every stored answer that satisfies the
// query's predicates. Answers bind all atom variables.
func (p *Plan) Execute(ctx context.Context) ([]concept.Substitution, error) {
	if p.conflict {
		return nil, nil
	}
	x := &execution{plan: p, ctx: ctx, concepts: make(map[concept.ID]concept.Concept)}
	seed, ok, err := x.seed()
	if err != nil || !ok {
		return nil, err
	}
	var found []concept.Substitution
	switch p.atom.Kind {
	case query.KindIsa:
		found, err = x.isa(seed)
	case query.KindHas:
		found, err = x.has(seed)
	case query.KindRelation:
		found, err = x.relation(seed)
	}
	if err != nil {
		return nil, fmt.Errorf("execute %s: %w", p.atom, err)
	}
	seen := make(map[string]struct{}, len(found))
	out := found[:0]
	for _, ans := range found {
		if !p.preds.Satisfies(ans, p.engine.schema) {
			continue
		}
		if _, dup := seen[ans.Key()]; dup {
			continue
		}
		seen[ans.Key()] = struct{}{}
		out = append(out, ans)
	}
	return out, nil
}

type execution struct {
	plan     *Plan
	ctx      context.Context
	concepts map[concept.ID]concept.Concept
}

func (x *execution) get(id concept.ID) (concept.Concept, bool, error) {
	if c, ok := x.concepts[id]; ok {
		return c, true, nil
	}
	c, ok, err := x.plan.engine.backend.GetConcept(x.ctx, id)
	if err != nil || !ok {
		return concept.Concept{}, ok, err
	}
	x.concepts[id] = c
	return c, true, nil
}

// seed resolves the pinned ids into concepts. A pin to a missing concept
// means there are no answers.
func (x *execution) seed() (concept.Substitution, bool, error) {
	roleVars := make(map[concept.Variable]bool)
	for _, v := range x.plan.atom.RoleVars() {
		roleVars[v] = true
	}
	sub := concept.Empty
	for v, id := range x.plan.ids {
		var c concept.Concept
		if roleVars[v] {
			c = concept.RoleConcept(string(id))
		} else {
			found, ok, err := x.get(id)
			if err != nil || !ok {
				return concept.Empty, false, err
			}
			c = found
		}
		next, ok := sub.With(v, c)
		if !ok {
			return concept.Empty, false, nil
		}
		sub = next
	}
	return sub, true, nil
}

func (x *execution) isa(seed concept.Substitution) ([]concept.Substitution, error) {
	a := x.plan.atom
	if c, ok := seed.Get(a.Var); ok {
		if !x.plan.engine.schema.IsSubtype(c.Type, a.Type) {
			return nil, nil
		}
		return []concept.Substitution{seed}, nil
	}
	instances, err := x.plan.engine.backend.InstancesOf(x.ctx, x.plan.types)
	if err != nil {
		return nil, err
	}
	out := make([]concept.Substitution, 0, len(instances))
	for _, c := range instances {
		if s, ok := seed.With(a.Var, c); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (x *execution) has(seed concept.Substitution) ([]concept.Substitution, error) {
	a := x.plan.atom
	b := x.plan.engine.backend
	s := x.plan.engine.schema
	var out []concept.Substitution
	bindPair := func(owner, attr concept.Concept) {
		if !s.IsSubtype(attr.Type, a.Type) {
			return
		}
		sub, ok := seed.With(a.Var, owner)
		if !ok {
			return
		}
		if sub, ok = sub.With(a.Attr, attr); ok {
			out = append(out, sub)
		}
	}
	ownersOf := func(attr concept.Concept) error {
		owners, err := b.Owners(x.ctx, attr.ID)
		if err != nil {
			return err
		}
		for _, oid := range owners {
			owner, ok, err := x.get(oid)
			if err != nil {
				return err
			}
			if ok {
				bindPair(owner, attr)
			}
		}
		return nil
	}

	if owner, ok := seed.Get(a.Var); ok {
		attrs, err := b.Attributes(x.ctx, owner.ID)
		if err != nil {
			return nil, err
		}
		for _, attr := range attrs {
			bindPair(owner, attr)
		}
		return out, nil
	}
	if attr, ok := seed.Get(a.Attr); ok {
		return out, ownersOf(attr)
	}
	if x.plan.strategy == ByValue {
		for _, vp := range x.plan.preds.ValuesOf(a.Attr) {
			if vp.Op != query.EQ {
				continue
			}
			for _, t := range x.plan.types {
				attr, ok, err := b.AttributeByValue(x.ctx, t, vp.Value)
				if err != nil {
					return nil, err
				}
				if ok {
					if err := ownersOf(attr); err != nil {
						return nil, err
					}
				}
			}
			return out, nil
		}
	}
	attrs, err := b.InstancesOf(x.ctx, x.plan.types)
	if err != nil {
		return nil, err
	}
	for _, attr := range attrs {
		if err := ownersOf(attr); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (x *execution) relation(seed concept.Substitution) ([]concept.Substitution, error) {
	a := x.plan.atom
	b := x.plan.engine.backend
	var relIDs []concept.ID
	switch {
	case seed.Contains(a.Var):
		c, _ := seed.Get(a.Var)
		relIDs = []concept.ID{c.ID}
	case x.plan.strategy == ByPlayer:
		player, _ := seed.Get(x.plan.anchor)
		castings, err := b.CastingsByPlayer(x.ctx, player.ID)
		if err != nil {
			return nil, err
		}
		seen := make(map[concept.ID]bool)
		for _, c := range castings {
			if !seen[c.Relation] {
				seen[c.Relation] = true
				relIDs = append(relIDs, c.Relation)
			}
		}
	default:
		rels, err := b.InstancesOf(x.ctx, x.plan.types)
		if err != nil {
			return nil, err
		}
		for _, r := range rels {
			x.concepts[r.ID] = r
			relIDs = append(relIDs, r.ID)
		}
	}

	var out []concept.Substitution
	for _, id := range relIDs {
		rel, ok, err := x.get(id)
		if err != nil {
			return nil, err
		}
		if !ok || rel.Kind != concept.KindRelation || !x.plan.engine.schema.IsSubtype(rel.Type, a.Type) {
			continue
		}
		base, ok := seed.With(a.Var, rel)
		if !ok {
			continue
		}
		castings, err := b.Castings(x.ctx, id)
		if err != nil {
			return nil, err
		}
		matches, err := x.matchPlayers(a.Players, castings, base)
		if err != nil {
			return nil, err
		}
		out = append(out, matches...)
	}
	return out, nil
}

// matchPlayers assigns every role player of the atom to a distinct casting.
// A casting matches when its role specialises the declared role and its
// player agrees with the bindings so far.
func (x *execution) matchPlayers(rps []query.RolePlayer, castings []Casting, base concept.Substitution) ([]concept.Substitution, error) {
	s := x.plan.engine.schema
	used := make([]bool, len(castings))
	var out []concept.Substitution
	var walk func(i int, sub concept.Substitution) error
	walk = func(i int, sub concept.Substitution) error {
		if i == len(rps) {
			out = append(out, sub)
			return nil
		}
		rp := rps[i]
		for j, c := range castings {
			if used[j] || !s.IsSubRole(c.Role, rp.Role) {
				continue
			}
			player, ok, err := x.get(c.Player)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			next, ok := sub.With(rp.Player, player)
			if !ok {
				continue
			}
			if rp.RoleVar != "" {
				if bound, isBound := next.Get(rp.RoleVar); isBound {
					if !s.IsSubRole(c.Role, string(bound.ID)) {
						continue
					}
				} else if next, ok = next.With(rp.RoleVar, concept.RoleConcept(c.Role)); !ok {
					continue
				}
			}
			used[j] = true
			if err := walk(i+1, next); err != nil {
				return err
			}
			used[j] = false
		}
		return nil
	}
	if err := walk(0, base); err != nil {
		return nil, err
	}
	return out, nil
}
