package concept

import (
	"fmt"
	"strconv"
)

// Variable names a query variable. Variables are only meaningful inside the
// query that declares them; crossing queries goes through a unifier.
type Variable string

// ID identifies a concept in the store.
type ID string

// Kind classifies a concept.
type Kind uint8

const (
	KindEntity Kind = iota
	KindRelation
	KindAttribute
	KindRole
)

func (k Kind) String() string {
	switch k {
	case KindEntity:
		return "entity"
	case KindRelation:
		return "relation"
	case KindAttribute:
		return "attribute"
	case KindRole:
		return "role"
	default:
		return "unknown"
	}
}

// ParseKind parses the lowercase kind name used in configuration files.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "entity":
		return KindEntity, nil
	case "relation":
		return KindRelation, nil
	case "attribute":
		return KindAttribute, nil
	case "role":
		return KindRole, nil
	}
	return 0, fmt.Errorf("unknown concept kind %q", s)
}

// Concept is an opaque handle into the concept store. The reasoner only looks
// at identity, type label and (for attributes) value.
type Concept struct {
	ID    ID
	Kind  Kind
	Type  string
	Value any
}

// RoleConcept returns the concept used to bind a role variable.
func RoleConcept(label string) Concept {
	return Concept{ID: ID(label), Kind: KindRole, Type: label}
}

// Equal reports concept identity.
func (c Concept) Equal(o Concept) bool {
	return c.ID == o.ID
}

func (c Concept) String() string {
	if c.Kind == KindAttribute {
		return fmt.Sprintf("%s:%s(%v)", c.Type, c.ID, c.Value)
	}
	return fmt.Sprintf("%s:%s", c.Type, c.ID)
}

// CompareValues orders two attribute values. The second result is false when
// the values are not comparable (different value types).
func CompareValues(a, b any) (int, bool) {
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if x == y {
			return 0, true
		}
		if !x {
			return -1, true
		}
		return 1, true
	}
	fx, ok := toFloat(a)
	if !ok {
		return 0, false
	}
	fy, ok := toFloat(b)
	if !ok {
		return 0, false
	}
	switch {
	case fx < fy:
		return -1, true
	case fx > fy:
		return 1, true
	}
	return 0, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// ValueKey renders a value so that equal values of the same value type share
// a key. Integral floats and ints collapse to the same key.
func ValueKey(v any) string {
	switch x := v.(type) {
	case string:
		return "s:" + x
	case bool:
		return "b:" + strconv.FormatBool(x)
	}
	if f, ok := toFloat(v); ok {
		return "n:" + strconv.FormatFloat(f, 'g', -1, 64)
	}
	return fmt.Sprintf("?:%v", v)
}
