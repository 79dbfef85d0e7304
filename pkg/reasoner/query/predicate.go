package query

import (
	"fmt"

	"github.com/cognicore/graphreason/pkg/reasoner/concept"
)

// IDPredicate pins a variable to a concept.
type IDPredicate struct {
	Var concept.Variable
	ID  concept.ID
}

func (p IDPredicate) String() string { return fmt.Sprintf("$%s id %s", p.Var, p.ID) }

// Comparator is a value comparison operator.
type Comparator uint8

const (
	EQ Comparator = iota
	NEQ
	GT
	GTE
	LT
	LTE
)

var comparatorSymbols = [...]string{EQ: "==", NEQ: "!==", GT: ">", GTE: ">=", LT: "<", LTE: "<="}

func (c Comparator) String() string {
	if int(c) < len(comparatorSymbols) {
		return comparatorSymbols[c]
	}
	return "?"
}

// ParseComparator parses a comparator symbol.
func ParseComparator(s string) (Comparator, error) {
	for i, sym := range comparatorSymbols {
		if sym == s {
			return Comparator(i), nil
		}
	}
	if s == "!=" {
		return NEQ, nil
	}
	return 0, fmt.Errorf("unknown comparator %q", s)
}

// ValuePredicate constrains an attribute variable's value against a constant.
type ValuePredicate struct {
	Var   concept.Variable
	Op    Comparator
	Value any
}

// Satisfied reports whether v passes the predicate. Incomparable values never
// pass.
func (p ValuePredicate) Satisfied(v any) bool {
	cmp, ok := concept.CompareValues(v, p.Value)
	if !ok {
		return false
	}
	switch p.Op {
	case EQ:
		return cmp == 0
	case NEQ:
		return cmp != 0
	case GT:
		return cmp > 0
	case GTE:
		return cmp >= 0
	case LT:
		return cmp < 0
	case LTE:
		return cmp <= 0
	}
	return false
}

// Implies reports whether every value passing p also passes o. It is a sound
// but incomplete check over single predicates.
func (p ValuePredicate) Implies(o ValuePredicate) bool {
	if p.Op == EQ {
		return o.Satisfied(p.Value)
	}
	cmp, ok := concept.CompareValues(p.Value, o.Value)
	if !ok {
		return false
	}
	switch {
	case p.Op == o.Op && cmp == 0:
		return true
	case (p.Op == GT || p.Op == GTE) && (o.Op == GT || o.Op == GTE):
		return cmp > 0 || (cmp == 0 && (o.Op == GTE || p.Op == GT))
	case (p.Op == LT || p.Op == LTE) && (o.Op == LT || o.Op == LTE):
		return cmp < 0 || (cmp == 0 && (o.Op == LTE || p.Op == LT))
	}
	return false
}

func (p ValuePredicate) Key() string {
	return p.Op.String() + concept.ValueKey(p.Value)
}

func (p ValuePredicate) String() string {
	if s, ok := p.Value.(string); ok {
		return fmt.Sprintf("$%s %s %q", p.Var, p.Op, s)
	}
	return fmt.Sprintf("$%s %s %v", p.Var, p.Op, p.Value)
}

// NeqPredicate requires two variables to be bound to different concepts.
type NeqPredicate struct {
	Left, Right concept.Variable
}

func (p NeqPredicate) String() string { return fmt.Sprintf("$%s != $%s", p.Left, p.Right) }

// TypePredicate constrains a variable's type. Inferred predicates come from the
// schema rather than from the written query.
type TypePredicate struct {
	Var      concept.Variable
	Label    string
	Inferred bool
}

func (p TypePredicate) String() string {
	if p.Inferred {
		return fmt.Sprintf("$%s isa? %s", p.Var, p.Label)
	}
	return fmt.Sprintf("$%s isa %s", p.Var, p.Label)
}
