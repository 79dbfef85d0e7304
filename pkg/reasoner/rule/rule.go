package rule

import (
	"fmt"

	"github.com/cognicore/graphreason/pkg/reasoner/concept"
	"github.com/cognicore/graphreason/pkg/reasoner/internalerr"
	"github.com/cognicore/graphreason/pkg/reasoner/query"
)

// InferenceRule derives its head atom from every answer of its body.
type InferenceRule struct {
	label string
	body  query.Query
	head  *query.AtomicQuery
}

// New validates and builds a rule. The head may carry value predicates on its
// attribute variable; they describe the constant the rule asserts.
func New(label string, body query.Query, head query.Atom, headValues ...query.ValuePredicate) (*InferenceRule, error) {
	if label == "" {
		return nil, fmt.Errorf("rule without label: %w", internalerr.ErrInvalidRule)
	}
	switch body.(type) {
	case *query.ConjunctiveQuery, *query.CompositeQuery:
	default:
		return nil, fmt.Errorf("rule %s: body must be a conjunction, got %T: %w", label, body, internalerr.ErrInvalidRule)
	}
	if err := head.Validate(); err != nil {
		return nil, fmt.Errorf("rule %s: %w: %v", label, internalerr.ErrInvalidRule, err)
	}
	hq, err := query.NewAtomic(head, query.Pattern{Values: headValues})
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w: %v", label, internalerr.ErrInvalidRule, err)
	}

	bodyVars := make(map[concept.Variable]bool)
	for _, v := range body.Vars() {
		bodyVars[v] = true
	}
	for _, vp := range headValues {
		if vp.Op != query.EQ || vp.Var != head.Attr || head.Kind != query.KindHas {
			return nil, fmt.Errorf("rule %s: head value must be an equality on the attribute: %w", label, internalerr.ErrInvalidRule)
		}
	}
	switch head.Kind {
	case query.KindIsa:
		if !bodyVars[head.Var] {
			return nil, fmt.Errorf("rule %s: head variable $%s not bound by body: %w", label, head.Var, internalerr.ErrInvalidRule)
		}
	case query.KindHas:
		if head.Type == "" {
			return nil, fmt.Errorf("rule %s: has head needs an attribute type: %w", label, internalerr.ErrInvalidRule)
		}
		if !bodyVars[head.Var] {
			return nil, fmt.Errorf("rule %s: owner $%s not bound by body: %w", label, head.Var, internalerr.ErrInvalidRule)
		}
		if !bodyVars[head.Attr] && len(headValues) == 0 {
			return nil, fmt.Errorf("rule %s: attribute $%s needs a body binding or a constant value: %w", label, head.Attr, internalerr.ErrInvalidRule)
		}
	case query.KindRelation:
		if head.Type == "" {
			return nil, fmt.Errorf("rule %s: relation head needs a type: %w", label, internalerr.ErrInvalidRule)
		}
		for _, rp := range head.Players {
			if rp.Role == "" || rp.RoleVar != "" {
				return nil, fmt.Errorf("rule %s: relation head needs concrete roles: %w", label, internalerr.ErrInvalidRule)
			}
			if !bodyVars[rp.Player] {
				return nil, fmt.Errorf("rule %s: player $%s not bound by body: %w", label, rp.Player, internalerr.ErrInvalidRule)
			}
		}
	}
	return &InferenceRule{label: label, body: body, head: hq}, nil
}

// MustNew is New for statically known rules.
func MustNew(label string, body query.Query, head query.Atom, headValues ...query.ValuePredicate) *InferenceRule {
	r, err := New(label, body, head, headValues...)
	if err != nil {
		panic(err)
	}
	return r
}

// Label returns the rule's name.
func (r *InferenceRule) Label() string { return r.label }

// Body returns the rule condition.
func (r *InferenceRule) Body() query.Query { return r.body }

// Head returns the conclusion atom.
func (r *InferenceRule) Head() query.Atom { return r.head.Atom() }

// HeadQuery returns the conclusion as an atomic query, including any constant
// value it asserts.
func (r *InferenceRule) HeadQuery() *query.AtomicQuery { return r.head }

// RequiresMaterialisation reports whether applying the rule has to persist a
// new fact: relations and attribute ownerships need a concept in storage,
// types are asserted on existing instances.
func (r *InferenceRule) RequiresMaterialisation() bool {
	return r.head.Atom().Kind != query.KindIsa
}

// HeadVars returns the variables of the head atom.
func (r *InferenceRule) HeadVars() []concept.Variable { return r.head.Atom().Vars() }

// BodyAtoms returns the positive atoms of the body.
func (r *InferenceRule) BodyAtoms() []query.Atom { return r.body.Atoms() }

func (r *InferenceRule) String() string {
	return fmt.Sprintf("rule %s: when { %s } then { %s; }", r.label, r.body, r.head.Atom())
}
