package store

import (
	"context"

	"github.com/cognicore/graphreason/pkg/reasoner/concept"
	"github.com/cognicore/graphreason/pkg/reasoner/query"
)

// Backend persists concepts and the edges between them. Backends know
// nothing about the schema; type hierarchies are expanded by the Engine.
type Backend interface {
	Close() error

	GetConcept(ctx context.Context, id concept.ID) (concept.Concept, bool, error)
	// InstancesOf returns the concepts whose direct type is one of types.
	InstancesOf(ctx context.Context, types []string) ([]concept.Concept, error)

	// Castings returns the role players of a relation.
	Castings(ctx context.Context, relation concept.ID) ([]Casting, error)
	// CastingsByPlayer returns every casting the concept takes part in.
	CastingsByPlayer(ctx context.Context, player concept.ID) ([]Casting, error)

	// Attributes returns the attributes owned by owner.
	Attributes(ctx context.Context, owner concept.ID) ([]concept.Concept, error)
	// Owners returns the owners of an attribute.
	Owners(ctx context.Context, attribute concept.ID) ([]concept.ID, error)
	// AttributeByValue finds the attribute of type typ holding value.
	AttributeByValue(ctx context.Context, typ string, value any) (concept.Concept, bool, error)

	PutConcept(ctx context.Context, c concept.Concept) error
	PutCasting(ctx context.Context, c Casting) error
	PutOwnership(ctx context.Context, o Ownership) error
}

// Casting is one role player of a relation.
type Casting struct {
	Relation concept.ID
	Role     string
	Player   concept.ID
}

// Ownership links an owner to an attribute.
type Ownership struct {
	Owner     concept.ID
	Attribute concept.ID
}

// ConceptStore is what the resolution engine needs from storage: compiled
// lookups for atomic queries and persistence of rule conclusions.
type ConceptStore interface {
	Compile(q *query.AtomicQuery) (*Plan, error)
	Materialize(ctx context.Context, head *query.AtomicQuery, sub concept.Substitution) (concept.Substitution, error)
}
