package store

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/cognicore/graphreason/pkg/reasoner/concept"
	"github.com/cognicore/graphreason/pkg/reasoner/internalerr"
	"github.com/cognicore/graphreason/pkg/reasoner/query"
	"github.com/cognicore/graphreason/pkg/reasoner/schema"
)

// Engine implements ConceptStore on top of a Backend, expanding type and
// role hierarchies from the schema.
type Engine struct {
	backend Backend
	schema  *schema.Schema
	logger  *slog.Logger

	// mu serialises find-or-create so materialisation stays idempotent.
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewEngine wraps a backend. A nil logger means slog.Default().
func NewEngine(b Backend, s *schema.Schema, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		backend: b,
		schema:  s,
		logger:  logger,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Backend returns the underlying backend.
func (e *Engine) Backend() Backend { return e.backend }

// Schema returns the schema the engine expands hierarchies with.
func (e *Engine) Schema() *schema.Schema { return e.schema }

// NewID returns a fresh, time-ordered concept id.
func (e *Engine) NewID() concept.ID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.newIDLocked()
}

func (e *Engine) newIDLocked() concept.ID {
	return concept.ID(ulid.MustNew(ulid.Now(), e.entropy).String())
}

// Compile chooses an access path for q.
func (e *Engine) Compile(q *query.AtomicQuery) (*Plan, error) {
	a := q.Atom()
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if a.Type != "" {
		def, ok := e.schema.Type(a.Type)
		if !ok {
			return nil, fmt.Errorf("compile %s: type %s: %w", a, a.Type, internalerr.ErrUnknownType)
		}
		if want := kindOf(a.Kind); def.Kind != want {
			return nil, fmt.Errorf("compile %s: %s is a %s type: %w", a, a.Type, def.Kind, internalerr.ErrInvalidQuery)
		}
	}
	p := &Plan{
		engine: e,
		atom:   a,
		preds:  q.Pattern(),
		ids:    make(map[concept.Variable]concept.ID),
	}
	p.preds.Atoms = nil
	for _, id := range p.preds.IDs {
		if prev, ok := p.ids[id.Var]; ok && prev != id.ID {
			p.conflict = true
		}
		p.ids[id.Var] = id.ID
	}
	if a.Type == "" {
		p.types = e.schema.TypesOfKind(kindOf(a.Kind))
	} else {
		p.types = e.schema.Subtypes(a.Type)
	}

	pinned := func(v concept.Variable) bool {
		_, ok := p.ids[v]
		return ok
	}
	switch {
	case pinned(a.Var):
		p.strategy, p.anchor = ByID, a.Var
		if a.Kind == query.KindHas {
			p.strategy = ByOwner
		}
	case a.Kind == query.KindHas && pinned(a.Attr):
		p.strategy, p.anchor = ByAttribute, a.Attr
	case a.Kind == query.KindHas && hasEquality(p.preds, a.Attr):
		p.strategy, p.anchor = ByValue, a.Attr
	case a.Kind == query.KindRelation:
		p.strategy = ByType
		for _, rp := range a.Players {
			if pinned(rp.Player) {
				p.strategy, p.anchor = ByPlayer, rp.Player
				break
			}
		}
	default:
		p.strategy = ByType
	}
	return p, nil
}

func kindOf(k query.AtomKind) concept.Kind {
	switch k {
	case query.KindHas:
		return concept.KindAttribute
	case query.KindRelation:
		return concept.KindRelation
	}
	return concept.KindEntity
}

func hasEquality(p query.Pattern, v concept.Variable) bool {
	for _, vp := range p.ValuesOf(v) {
		if vp.Op == query.EQ {
			return true
		}
	}
	return false
}

// Materialize persists the conclusion of a rule for one body answer and
// returns sub extended with the concepts the head denotes. It is idempotent:
// materialising the same conclusion twice finds the first one.
func (e *Engine) Materialize(ctx context.Context, head *query.AtomicQuery, sub concept.Substitution) (concept.Substitution, error) {
	a := head.Atom()
	switch a.Kind {
	case query.KindIsa:
		return sub, nil
	case query.KindHas:
		return e.materializeHas(ctx, head, sub)
	case query.KindRelation:
		return e.materializeRelation(ctx, a, sub)
	}
	return concept.Empty, fmt.Errorf("materialize %s: %w", a, internalerr.ErrInvalidRule)
}

func (e *Engine) materializeHas(ctx context.Context, head *query.AtomicQuery, sub concept.Substitution) (concept.Substitution, error) {
	a := head.Atom()
	owner, ok := sub.Get(a.Var)
	if !ok {
		return concept.Empty, fmt.Errorf("materialize %s: owner $%s unbound: %w", a, a.Var, internalerr.ErrInvalidRule)
	}
	attr, ok := sub.Get(a.Attr)
	if !ok {
		var value any
		found := false
		for _, vp := range head.Pattern().ValuesOf(a.Attr) {
			if vp.Op == query.EQ {
				value, found = vp.Value, true
				break
			}
		}
		if !found {
			return concept.Empty, fmt.Errorf("materialize %s: no value for $%s: %w", a, a.Attr, internalerr.ErrInvalidRule)
		}
		var err error
		if attr, err = e.PutAttribute(ctx, a.Type, value); err != nil {
			return concept.Empty, err
		}
	}
	if err := e.backend.PutOwnership(ctx, Ownership{Owner: owner.ID, Attribute: attr.ID}); err != nil {
		return concept.Empty, fmt.Errorf("materialize %s: %w", a, err)
	}
	out, ok := sub.With(a.Attr, attr)
	if !ok {
		return concept.Empty, fmt.Errorf("materialize %s: attribute $%s rebound: %w", a, a.Attr, internalerr.ErrInvalidRule)
	}
	return out, nil
}

func (e *Engine) materializeRelation(ctx context.Context, a query.Atom, sub concept.Substitution) (concept.Substitution, error) {
	castings := make([]Casting, 0, len(a.Players))
	for _, rp := range a.Players {
		player, ok := sub.Get(rp.Player)
		if !ok {
			return concept.Empty, fmt.Errorf("materialize %s: player $%s unbound: %w", a, rp.Player, internalerr.ErrInvalidRule)
		}
		castings = append(castings, Casting{Role: rp.Role, Player: player.ID})
	}
	rel, err := e.PutRelation(ctx, a.Type, castings)
	if err != nil {
		return concept.Empty, err
	}
	out, ok := sub.With(a.Var, rel)
	if !ok {
		return concept.Empty, fmt.Errorf("materialize %s: relation $%s rebound: %w", a, a.Var, internalerr.ErrInvalidRule)
	}
	return out, nil
}

// PutEntity stores an entity. An empty id gets a fresh one.
func (e *Engine) PutEntity(ctx context.Context, id concept.ID, typ string) (concept.Concept, error) {
	if err := e.checkKind(typ, concept.KindEntity); err != nil {
		return concept.Concept{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if id == "" {
		id = e.newIDLocked()
	}
	c := concept.Concept{ID: id, Kind: concept.KindEntity, Type: typ}
	if err := e.backend.PutConcept(ctx, c); err != nil {
		return concept.Concept{}, fmt.Errorf("put entity %s: %w", id, err)
	}
	return c, nil
}

// PutAttribute finds or creates the attribute of type typ holding value.
func (e *Engine) PutAttribute(ctx context.Context, typ string, value any) (concept.Concept, error) {
	if err := e.checkKind(typ, concept.KindAttribute); err != nil {
		return concept.Concept{}, err
	}
	def, _ := e.schema.Type(typ)
	v, err := NormalizeValue(def.ValueType, value)
	if err != nil {
		return concept.Concept{}, fmt.Errorf("put attribute %s: %w", typ, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok, err := e.backend.AttributeByValue(ctx, typ, v); err != nil || ok {
		return c, err
	}
	c := concept.Concept{ID: e.newIDLocked(), Kind: concept.KindAttribute, Type: typ, Value: v}
	if err := e.backend.PutConcept(ctx, c); err != nil {
		return concept.Concept{}, fmt.Errorf("put attribute %s: %w", typ, err)
	}
	return c, nil
}

// PutOwnership links owner to attr.
func (e *Engine) PutOwnership(ctx context.Context, owner, attr concept.ID) error {
	return e.backend.PutOwnership(ctx, Ownership{Owner: owner, Attribute: attr})
}

// PutRelation finds or creates the relation of type typ with exactly the
// given castings. The Relation field of the castings is ignored.
func (e *Engine) PutRelation(ctx context.Context, typ string, castings []Casting) (concept.Concept, error) {
	return e.putRelation(ctx, "", typ, castings)
}

// PutRelationWithID stores a relation under a caller-chosen id.
func (e *Engine) PutRelationWithID(ctx context.Context, id concept.ID, typ string, castings []Casting) (concept.Concept, error) {
	return e.putRelation(ctx, id, typ, castings)
}

func (e *Engine) putRelation(ctx context.Context, id concept.ID, typ string, castings []Casting) (concept.Concept, error) {
	if err := e.checkKind(typ, concept.KindRelation); err != nil {
		return concept.Concept{}, err
	}
	if len(castings) == 0 {
		return concept.Concept{}, fmt.Errorf("relation %s without role players: %w", typ, internalerr.ErrInvalidInput)
	}
	def, _ := e.schema.Type(typ)
	for _, c := range castings {
		if !relates(e.schema, def, c.Role) {
			return concept.Concept{}, fmt.Errorf("relation %s does not relate %s: %w", typ, c.Role, internalerr.ErrInvalidInput)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if id == "" {
		existing, ok, err := e.findRelation(ctx, typ, castings)
		if err != nil || ok {
			return existing, err
		}
		id = e.newIDLocked()
	}
	rel := concept.Concept{ID: id, Kind: concept.KindRelation, Type: typ}
	if err := e.backend.PutConcept(ctx, rel); err != nil {
		return concept.Concept{}, fmt.Errorf("put relation %s: %w", typ, err)
	}
	for _, c := range castings {
		c.Relation = id
		if err := e.backend.PutCasting(ctx, c); err != nil {
			return concept.Concept{}, fmt.Errorf("put relation %s: %w", typ, err)
		}
	}
	e.logger.Debug("relation stored", slog.String("type", typ), slog.String("id", string(id)))
	return rel, nil
}

// findRelation looks for a relation of exactly type typ whose castings equal
// the given multiset.
func (e *Engine) findRelation(ctx context.Context, typ string, castings []Casting) (concept.Concept, bool, error) {
	want := castingKeys(castings)
	byPlayer, err := e.backend.CastingsByPlayer(ctx, castings[0].Player)
	if err != nil {
		return concept.Concept{}, false, err
	}
	seen := make(map[concept.ID]bool)
	for _, c := range byPlayer {
		if seen[c.Relation] {
			continue
		}
		seen[c.Relation] = true
		rel, ok, err := e.backend.GetConcept(ctx, c.Relation)
		if err != nil {
			return concept.Concept{}, false, err
		}
		if !ok || rel.Type != typ {
			continue
		}
		got, err := e.backend.Castings(ctx, c.Relation)
		if err != nil {
			return concept.Concept{}, false, err
		}
		if equalStrings(castingKeys(got), want) {
			return rel, true, nil
		}
	}
	return concept.Concept{}, false, nil
}

func (e *Engine) checkKind(typ string, k concept.Kind) error {
	def, ok := e.schema.Type(typ)
	if !ok {
		return fmt.Errorf("type %q: %w", typ, internalerr.ErrUnknownType)
	}
	if def.Kind != k {
		return fmt.Errorf("type %s is a %s, not a %s: %w", typ, def.Kind, k, internalerr.ErrInvalidInput)
	}
	return nil
}

func relates(s *schema.Schema, def schema.TypeDef, role string) bool {
	for _, sup := range s.Supertypes(def.Label) {
		t, _ := s.Type(sup)
		for _, r := range t.Relates {
			if s.IsSubRole(role, r) {
				return true
			}
		}
	}
	return false
}

func castingKeys(cs []Casting) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Role + "=" + string(c.Player)
	}
	sort.Strings(out)
	return out
}

func equalStrings(a, b []string) bool {
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
