package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/graphreason/pkg/reasoner/concept"
	"github.com/cognicore/graphreason/pkg/reasoner/internalerr"
	"github.com/cognicore/graphreason/pkg/reasoner/query"
)

// PatternSpec is a structural query. Or makes it a disjunction of its
// branches; Not adds negated sub-patterns to the conjunction.
type PatternSpec struct {
	Atoms  []AtomSpec       `yaml:"atoms"`
	IDs    []IDSpec         `yaml:"ids"`
	Values []ValueSpec      `yaml:"values"`
	Neqs   [][2]string      `yaml:"neqs"`
	Types  []TypeConstraint `yaml:"types"`
	Not    []PatternSpec    `yaml:"not"`
	Or     []PatternSpec    `yaml:"or"`
}

// AtomSpec is one atom. Kind is isa, has or relation.
type AtomSpec struct {
	Kind    string       `yaml:"kind"`
	Var     string       `yaml:"var"`
	Type    string       `yaml:"type"`
	Attr    string       `yaml:"attr"`
	Players []PlayerSpec `yaml:"players"`
}

// PlayerSpec is one role player of a relation atom.
type PlayerSpec struct {
	Role    string `yaml:"role"`
	Player  string `yaml:"player"`
	RoleVar string `yaml:"role_var"`
}

// IDSpec pins a variable to a concept id.
type IDSpec struct {
	Var string `yaml:"var"`
	ID  string `yaml:"id"`
}

// ValueSpec compares an attribute variable against a constant.
type ValueSpec struct {
	Var   string `yaml:"var"`
	Op    string `yaml:"op"`
	Value any    `yaml:"value"`
}

// TypeConstraint requires a variable to be an instance of a type.
type TypeConstraint struct {
	Var  string `yaml:"var"`
	Type string `yaml:"type"`
}

// LoadPattern loads a query pattern from a YAML file.
func LoadPattern(path string) (query.Query, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePattern(data)
}

// ParsePattern decodes a query pattern document.
func ParsePattern(data []byte) (query.Query, error) {
	var ps PatternSpec
	if err := yaml.Unmarshal(data, &ps); err != nil {
		return nil, fmt.Errorf("parse pattern: %w", err)
	}
	return ps.Query()
}

// Query builds the query ps describes.
func (ps PatternSpec) Query() (query.Query, error) {
	if len(ps.Or) > 0 {
		if len(ps.Atoms) > 0 || len(ps.Not) > 0 {
			return nil, fmt.Errorf("or cannot be combined with atoms or not: %w", internalerr.ErrInvalidQuery)
		}
		branches := make([]query.Query, 0, len(ps.Or))
		for _, b := range ps.Or {
			q, err := b.Query()
			if err != nil {
				return nil, err
			}
			branches = append(branches, q)
		}
		return query.NewDisjunctive(branches...)
	}

	p, err := ps.Pattern()
	if err != nil {
		return nil, err
	}
	positive, err := query.NewConjunctive(p)
	if err != nil {
		return nil, err
	}
	if len(ps.Not) == 0 {
		return positive, nil
	}
	negated := make([]query.Query, 0, len(ps.Not))
	for _, n := range ps.Not {
		if len(n.Or) > 0 {
			return nil, fmt.Errorf("negated disjunction: %w", internalerr.ErrInvalidQuery)
		}
		q, err := n.Query()
		if err != nil {
			return nil, err
		}
		negated = append(negated, q)
	}
	return query.NewComposite(positive, negated...)
}

// Pattern converts the atoms and predicates, ignoring Not and Or.
func (ps PatternSpec) Pattern() (query.Pattern, error) {
	var p query.Pattern
	for _, as := range ps.Atoms {
		a, err := as.Atom()
		if err != nil {
			return query.Pattern{}, err
		}
		p.Atoms = append(p.Atoms, a)
	}
	for _, id := range ps.IDs {
		p.IDs = append(p.IDs, query.IDPredicate{Var: concept.Variable(id.Var), ID: concept.ID(id.ID)})
	}
	for _, vs := range ps.Values {
		op := query.EQ
		if vs.Op != "" {
			var err error
			if op, err = query.ParseComparator(vs.Op); err != nil {
				return query.Pattern{}, fmt.Errorf("%w: %v", internalerr.ErrInvalidQuery, err)
			}
		}
		p.Values = append(p.Values, query.ValuePredicate{Var: concept.Variable(vs.Var), Op: op, Value: vs.Value})
	}
	for _, n := range ps.Neqs {
		p.Neqs = append(p.Neqs, query.NeqPredicate{Left: concept.Variable(n[0]), Right: concept.Variable(n[1])})
	}
	for _, t := range ps.Types {
		p.Types = append(p.Types, query.TypePredicate{Var: concept.Variable(t.Var), Label: t.Type})
	}
	return p, nil
}

// Atom converts the atom spec.
func (as AtomSpec) Atom() (query.Atom, error) {
	v := concept.Variable(as.Var)
	switch as.Kind {
	case "isa":
		return query.Isa(v, as.Type), nil
	case "has":
		return query.Has(v, as.Type, concept.Variable(as.Attr)), nil
	case "relation", "":
		players := make([]query.RolePlayer, 0, len(as.Players))
		for _, ps := range as.Players {
			players = append(players, query.RolePlayer{
				Role:    ps.Role,
				RoleVar: concept.Variable(ps.RoleVar),
				Player:  concept.Variable(ps.Player),
			})
		}
		if as.Kind == "" && len(players) == 0 {
			return query.Atom{}, fmt.Errorf("atom $%s without kind: %w", as.Var, internalerr.ErrInvalidQuery)
		}
		return query.Relation(v, as.Type, players...), nil
	}
	return query.Atom{}, fmt.Errorf("unknown atom kind %q: %w", as.Kind, internalerr.ErrInvalidQuery)
}
