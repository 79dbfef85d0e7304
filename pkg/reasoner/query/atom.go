package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cognicore/graphreason/pkg/reasoner/concept"
	"github.com/cognicore/graphreason/pkg/reasoner/internalerr"
)

// AtomKind selects the shape of an atom.
type AtomKind uint8

const (
	// KindIsa is `$x isa T`.
	KindIsa AtomKind = iota
	// KindHas is `$x has T $a`.
	KindHas
	// KindRelation is `$r (role: $p, ...) isa T`.
	KindRelation
)

func (k AtomKind) String() string {
	switch k {
	case KindIsa:
		return "isa"
	case KindHas:
		return "has"
	case KindRelation:
		return "relation"
	}
	return "unknown"
}

// RolePlayer is one `role: $player` entry of a relation atom. An empty Role
// means any role. RoleVar, when set, binds the role actually played.
type RolePlayer struct {
	Role    string
	RoleVar concept.Variable
	Player  concept.Variable
}

// Atom is one elementary constraint of a query.
type Atom struct {
	Kind AtomKind
	// Var is the isa subject, the attribute owner, or the relation variable.
	Var concept.Variable
	// Type is the instance type, attribute type or relation type. Empty
	// matches any type of the right kind.
	Type    string
	Attr    concept.Variable
	Players []RolePlayer
}

// Isa builds `$v isa label`.
func Isa(v concept.Variable, label string) Atom {
	return Atom{Kind: KindIsa, Var: v, Type: label}
}

// Has builds `$owner has label $attr`.
func Has(owner concept.Variable, label string, attr concept.Variable) Atom {
	return Atom{Kind: KindHas, Var: owner, Type: label, Attr: attr}
}

// Relation builds `$v (players...) isa label`.
func Relation(v concept.Variable, label string, players ...RolePlayer) Atom {
	ps := make([]RolePlayer, len(players))
	copy(ps, players)
	return Atom{Kind: KindRelation, Var: v, Type: label, Players: ps}
}

// Player builds a role player entry.
func Player(role string, v concept.Variable) RolePlayer {
	return RolePlayer{Role: role, Player: v}
}

// Validate checks the atom is well formed.
func (a Atom) Validate() error {
	if a.Var == "" {
		return fmt.Errorf("%s atom without variable: %w", a.Kind, internalerr.ErrInvalidQuery)
	}
	switch a.Kind {
	case KindIsa:
		if a.Type == "" {
			return fmt.Errorf("isa atom on $%s without type: %w", a.Var, internalerr.ErrInvalidQuery)
		}
	case KindHas:
		if a.Attr == "" {
			return fmt.Errorf("has atom on $%s without attribute variable: %w", a.Var, internalerr.ErrInvalidQuery)
		}
	case KindRelation:
		if len(a.Players) == 0 {
			return fmt.Errorf("relation $%s without role players: %w", a.Var, internalerr.ErrInvalidQuery)
		}
		for _, rp := range a.Players {
			if rp.Player == "" {
				return fmt.Errorf("relation $%s has an empty player: %w", a.Var, internalerr.ErrInvalidQuery)
			}
		}
	default:
		return fmt.Errorf("unknown atom kind %d: %w", a.Kind, internalerr.ErrInvalidQuery)
	}
	return nil
}

// Vars returns the atom's variables in order of appearance, without repeats.
func (a Atom) Vars() []concept.Variable {
	seen := make(map[concept.Variable]struct{}, 2+2*len(a.Players))
	var out []concept.Variable
	add := func(v concept.Variable) {
		if v == "" {
			return
		}
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	add(a.Var)
	add(a.Attr)
	for _, rp := range a.Players {
		add(rp.Player)
		add(rp.RoleVar)
	}
	return out
}

// RoleVars returns the role variables of a relation atom.
func (a Atom) RoleVars() []concept.Variable {
	var out []concept.Variable
	for _, rp := range a.Players {
		if rp.RoleVar != "" {
			out = append(out, rp.RoleVar)
		}
	}
	return out
}

// HasVar reports whether v occurs in the atom.
func (a Atom) HasVar(v concept.Variable) bool {
	for _, av := range a.Vars() {
		if av == v {
			return true
		}
	}
	return false
}

// Rename maps every variable through f.
func (a Atom) Rename(f func(concept.Variable) concept.Variable) Atom {
	out := Atom{Kind: a.Kind, Var: f(a.Var), Type: a.Type}
	if a.Attr != "" {
		out.Attr = f(a.Attr)
	}
	if len(a.Players) > 0 {
		out.Players = make([]RolePlayer, len(a.Players))
		for i, rp := range a.Players {
			out.Players[i] = RolePlayer{Role: rp.Role, Player: f(rp.Player)}
			if rp.RoleVar != "" {
				out.Players[i].RoleVar = f(rp.RoleVar)
			}
		}
	}
	return out
}

// shape renders the atom without variable names. Alpha-equivalent atoms share
// a shape.
func (a Atom) shape() string {
	var b strings.Builder
	b.WriteString(a.Kind.String())
	b.WriteByte('|')
	b.WriteString(a.Type)
	if len(a.Players) > 0 {
		roles := make([]string, len(a.Players))
		for i, rp := range a.Players {
			roles[i] = rp.Role
			if rp.RoleVar != "" {
				roles[i] += "*"
			}
		}
		sort.Strings(roles)
		b.WriteByte('(')
		b.WriteString(strings.Join(roles, ","))
		b.WriteByte(')')
	}
	return b.String()
}

func (a Atom) String() string {
	switch a.Kind {
	case KindIsa:
		return fmt.Sprintf("$%s isa %s", a.Var, a.Type)
	case KindHas:
		label := a.Type
		if label == "" {
			label = "attribute"
		}
		return fmt.Sprintf("$%s has %s $%s", a.Var, label, a.Attr)
	case KindRelation:
		parts := make([]string, len(a.Players))
		for i, rp := range a.Players {
			role := rp.Role
			if rp.RoleVar != "" {
				role = "$" + string(rp.RoleVar)
				if rp.Role != "" {
					role += "/" + rp.Role
				}
			}
			if role == "" {
				parts[i] = "$" + string(rp.Player)
			} else {
				parts[i] = role + ": $" + string(rp.Player)
			}
		}
		s := fmt.Sprintf("$%s (%s)", a.Var, strings.Join(parts, ", "))
		if a.Type != "" {
			s += " isa " + a.Type
		}
		return s
	}
	return "?"
}
