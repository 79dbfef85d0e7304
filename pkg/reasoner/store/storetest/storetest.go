// Package storetest holds the behaviour every store.Backend must share.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/graphreason/pkg/reasoner/concept"
	"github.com/cognicore/graphreason/pkg/reasoner/internalerr"
	"github.com/cognicore/graphreason/pkg/reasoner/store"
)

// Opener returns a fresh, empty backend. The suite closes it.
type Opener func(t *testing.T) store.Backend

func entity(id, typ string) concept.Concept {
	return concept.Concept{ID: concept.ID(id), Kind: concept.KindEntity, Type: typ}
}

// Run exercises open's backend.
func Run(t *testing.T, open Opener) {
	t.Run("Concepts", func(t *testing.T) { testConcepts(t, open(t)) })
	t.Run("Castings", func(t *testing.T) { testCastings(t, open(t)) })
	t.Run("Attributes", func(t *testing.T) { testAttributes(t, open(t)) })
	t.Run("ReplaceAttribute", func(t *testing.T) { testReplaceAttribute(t, open(t)) })
	t.Run("MissingTargets", func(t *testing.T) { testMissingTargets(t, open(t)) })
}

func testConcepts(t *testing.T, b store.Backend) {
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.PutConcept(ctx, entity("socrates", "man")))
	require.NoError(t, b.PutConcept(ctx, entity("hypatia", "woman")))
	require.NoError(t, b.PutConcept(ctx, entity("plato", "man")))

	c, ok, err := b.GetConcept(ctx, "socrates")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "man", c.Type)
	assert.Equal(t, concept.KindEntity, c.Kind)

	_, ok, err = b.GetConcept(ctx, "zeno")
	require.NoError(t, err)
	assert.False(t, ok)

	men, err := b.InstancesOf(ctx, []string{"man"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []concept.ID{"plato", "socrates"}, ids(men))

	all, err := b.InstancesOf(ctx, []string{"man", "woman"})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	// Retyping moves the concept between type indexes.
	require.NoError(t, b.PutConcept(ctx, entity("plato", "woman")))
	men, err = b.InstancesOf(ctx, []string{"man"})
	require.NoError(t, err)
	assert.Equal(t, []concept.ID{"socrates"}, ids(men))
}

func testCastings(t *testing.T, b store.Backend) {
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.PutConcept(ctx, entity("a", "person")))
	require.NoError(t, b.PutConcept(ctx, entity("b", "person")))
	require.NoError(t, b.PutConcept(ctx, concept.Concept{ID: "r1", Kind: concept.KindRelation, Type: "parentship"}))

	c1 := store.Casting{Relation: "r1", Role: "parent", Player: "a"}
	c2 := store.Casting{Relation: "r1", Role: "child", Player: "b"}
	require.NoError(t, b.PutCasting(ctx, c1))
	require.NoError(t, b.PutCasting(ctx, c2))
	require.NoError(t, b.PutCasting(ctx, c1), "duplicates are ignored")

	got, err := b.Castings(ctx, "r1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []store.Casting{c1, c2}, got)

	byPlayer, err := b.CastingsByPlayer(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []store.Casting{c2}, byPlayer)

	none, err := b.CastingsByPlayer(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testAttributes(t *testing.T, b store.Backend) {
	defer b.Close()
	ctx := context.Background()

	name := concept.Concept{ID: "n1", Kind: concept.KindAttribute, Type: "name", Value: "Socrates"}
	age := concept.Concept{ID: "a1", Kind: concept.KindAttribute, Type: "age", Value: int64(70)}
	require.NoError(t, b.PutConcept(ctx, entity("socrates", "man")))
	require.NoError(t, b.PutConcept(ctx, name))
	require.NoError(t, b.PutConcept(ctx, age))
	require.NoError(t, b.PutOwnership(ctx, store.Ownership{Owner: "socrates", Attribute: "n1"}))
	require.NoError(t, b.PutOwnership(ctx, store.Ownership{Owner: "socrates", Attribute: "a1"}))
	require.NoError(t, b.PutOwnership(ctx, store.Ownership{Owner: "socrates", Attribute: "a1"}))

	attrs, err := b.Attributes(ctx, "socrates")
	require.NoError(t, err)
	assert.ElementsMatch(t, []concept.ID{"a1", "n1"}, ids(attrs))
	for _, a := range attrs {
		if a.ID == "a1" {
			assert.Equal(t, int64(70), a.Value)
		}
	}

	owners, err := b.Owners(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, []concept.ID{"socrates"}, owners)

	found, ok, err := b.AttributeByValue(ctx, "age", int64(70))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, concept.ID("a1"), found.ID)

	_, ok, err = b.AttributeByValue(ctx, "age", int64(71))
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = b.AttributeByValue(ctx, "name", int64(70))
	require.NoError(t, err)
	assert.False(t, ok, "value lookups are per type")
}

func testReplaceAttribute(t *testing.T, b store.Backend) {
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.PutConcept(ctx, concept.Concept{ID: "n1", Kind: concept.KindAttribute, Type: "name", Value: "old"}))
	require.NoError(t, b.PutConcept(ctx, concept.Concept{ID: "n1", Kind: concept.KindAttribute, Type: "name", Value: "new"}))

	_, ok, err := b.AttributeByValue(ctx, "name", "old")
	require.NoError(t, err)
	assert.False(t, ok, "stale value index")

	c, ok, err := b.AttributeByValue(ctx, "name", "new")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, concept.ID("n1"), c.ID)
}

func testMissingTargets(t *testing.T, b store.Backend) {
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.PutConcept(ctx, entity("a", "person")))
	err := b.PutCasting(ctx, store.Casting{Relation: "ghost", Role: "parent", Player: "a"})
	assert.ErrorIs(t, err, internalerr.ErrNotFound)

	err = b.PutOwnership(ctx, store.Ownership{Owner: "a", Attribute: "ghost"})
	assert.ErrorIs(t, err, internalerr.ErrNotFound)
}

func ids(cs []concept.Concept) []concept.ID {
	out := make([]concept.ID, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}
