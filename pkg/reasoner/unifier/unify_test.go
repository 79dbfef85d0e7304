package unifier_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/graphreason/pkg/reasoner/concept"
	"github.com/cognicore/graphreason/pkg/reasoner/query"
	"github.com/cognicore/graphreason/pkg/reasoner/unifier"
)

func TestUnify_IdenticalQueriesGiveIdentity(t *testing.T) {
	s := testSchema(t)
	q := atomic(t, query.Relation("r", "friendship",
		query.Player("friend", "x"), query.Player("friend", "y")), query.Pattern{})

	mu := unifier.Unify(q, q, unifier.NewComparison(unifier.Exact, s))
	require.Equal(t, 1, mu.Len())
	u, _ := mu.First()
	assert.True(t, u.IsIdentity())
}

func TestUnify_ExactAlphaEquivalence(t *testing.T) {
	s := testSchema(t)
	cmp := unifier.NewComparison(unifier.Exact, s)
	from := atomic(t, query.Has("x", "age", "v"), query.Pattern{
		Values: []query.ValuePredicate{{Var: "v", Op: query.GT, Value: int64(18)}},
	})
	to := atomic(t, query.Has("p", "age", "w"), query.Pattern{
		Values: []query.ValuePredicate{{Var: "w", Op: query.GT, Value: int64(18)}},
	})

	mu := unifier.Unify(from, to, cmp)
	require.Equal(t, 1, mu.Len())
	u, _ := mu.First()
	assert.Equal(t, []concept.Variable{"p"}, u.Get("x"))
	assert.Equal(t, []concept.Variable{"w"}, u.Get("v"))

	other := atomic(t, query.Has("p", "age", "w"), query.Pattern{
		Values: []query.ValuePredicate{{Var: "w", Op: query.GT, Value: int64(21)}},
	})
	assert.True(t, unifier.Unify(from, other, cmp).IsEmpty())
}

func TestUnify_ExactNormalizesRedundantValues(t *testing.T) {
	s := testSchema(t)
	cmp := unifier.NewComparison(unifier.Exact, s)
	from := atomic(t, query.Has("x", "age", "v"), query.Pattern{
		Values: []query.ValuePredicate{
			{Var: "v", Op: query.GT, Value: int64(18)},
			{Var: "v", Op: query.GT, Value: int64(10)},
		},
	})
	to := atomic(t, query.Has("x", "age", "v"), query.Pattern{
		Values: []query.ValuePredicate{{Var: "v", Op: query.GT, Value: int64(18)}},
	})
	assert.False(t, unifier.Unify(from, to, cmp).IsEmpty())
	assert.True(t, unifier.Unify(from, to, unifier.NewComparison(unifier.Structural, s)).IsEmpty())
}

func TestUnify_StructuralIgnoresIDValues(t *testing.T) {
	s := testSchema(t)
	from := atomic(t, query.Isa("x", "person"), query.Pattern{IDs: []query.IDPredicate{{Var: "x", ID: "V1"}}})
	to := atomic(t, query.Isa("y", "person"), query.Pattern{IDs: []query.IDPredicate{{Var: "y", ID: "V2"}}})
	bare := atomic(t, query.Isa("y", "person"), query.Pattern{})

	assert.True(t, unifier.Unify(from, to, unifier.NewComparison(unifier.Exact, s)).IsEmpty())
	assert.False(t, unifier.Unify(from, to, unifier.NewComparison(unifier.Structural, s)).IsEmpty())
	assert.True(t, unifier.Unify(from, bare, unifier.NewComparison(unifier.Structural, s)).IsEmpty())
}

func TestUnify_ExactSymmetricRelationHasTwoUnifiers(t *testing.T) {
	s := testSchema(t)
	from := atomic(t, query.Relation("r", "friendship",
		query.Player("friend", "x"), query.Player("friend", "y")), query.Pattern{})
	to := atomic(t, query.Relation("q", "friendship",
		query.Player("friend", "a"), query.Player("friend", "b")), query.Pattern{})

	mu := unifier.Unify(from, to, unifier.NewComparison(unifier.Exact, s))
	assert.Equal(t, 2, mu.Len())
}

func TestUnify_RuleHeadAgainstQuery(t *testing.T) {
	s := testSchema(t)
	cmp := unifier.NewComparison(unifier.Rule, s)
	head := atomic(t, query.Relation("r", "parentship",
		query.Player("mother", "m"), query.Player("child", "c")), query.Pattern{})

	t.Run("super role in query", func(t *testing.T) {
		q := atomic(t, query.Relation("x", "parentship",
			query.Player("parent", "p")), query.Pattern{})
		mu := unifier.Unify(head, q, cmp)
		require.Equal(t, 1, mu.Len())
		u, _ := mu.First()
		assert.Equal(t, []concept.Variable{"p"}, u.Get("m"))
		assert.Empty(t, u.Get("c"))
	})

	t.Run("more specific role in query", func(t *testing.T) {
		general := atomic(t, query.Relation("r", "parentship",
			query.Player("parent", "m"), query.Player("child", "c")), query.Pattern{})
		q := atomic(t, query.Relation("x", "parentship",
			query.Player("mother", "p")), query.Pattern{})
		assert.True(t, unifier.Unify(general, q, cmp).IsEmpty())
	})

	t.Run("untyped query label", func(t *testing.T) {
		q := atomic(t, query.Relation("x", "",
			query.Player("", "a"), query.Player("", "b")), query.Pattern{})
		assert.Equal(t, 2, unifier.Unify(head, q, cmp).Len())
	})

	t.Run("unplayable player type", func(t *testing.T) {
		q := atomic(t, query.Relation("x", "parentship", query.Player("mother", "p")),
			query.Pattern{Types: []query.TypePredicate{{Var: "p", Label: "company"}}})
		assert.True(t, unifier.Unify(head, q, cmp).IsEmpty())
	})
}

func TestUnify_RuleIsaDirectedness(t *testing.T) {
	s := testSchema(t)
	cmp := unifier.NewComparison(unifier.Rule, s)
	head := atomic(t, query.Isa("x", "woman"), query.Pattern{})

	assert.False(t, unifier.Unify(head, atomic(t, query.Isa("y", "person"), query.Pattern{}), cmp).IsEmpty())
	assert.True(t, unifier.Unify(atomic(t, query.Isa("x", "person"), query.Pattern{}),
		atomic(t, query.Isa("y", "woman"), query.Pattern{}), cmp).IsEmpty())
}

func TestUnify_RuleConstantValue(t *testing.T) {
	s := testSchema(t)
	cmp := unifier.NewComparison(unifier.Rule, s)
	head := atomic(t, query.Has("x", "age", "v"), query.Pattern{
		Values: []query.ValuePredicate{{Var: "v", Op: query.EQ, Value: int64(30)}},
	})
	adult := atomic(t, query.Has("p", "age", "a"), query.Pattern{
		Values: []query.ValuePredicate{{Var: "a", Op: query.GTE, Value: int64(18)}},
	})
	child := atomic(t, query.Has("p", "age", "a"), query.Pattern{
		Values: []query.ValuePredicate{{Var: "a", Op: query.LT, Value: int64(18)}},
	})
	assert.False(t, unifier.Unify(head, adult, cmp).IsEmpty())
	assert.True(t, unifier.Unify(head, child, cmp).IsEmpty())
}

func TestUnify_RuleNonInjective(t *testing.T) {
	s := testSchema(t)
	head := atomic(t, query.Relation("r", "friendship",
		query.Player("friend", "x"), query.Player("friend", "y")), query.Pattern{})
	q := atomic(t, query.Relation("f", "friendship",
		query.Player("friend", "a"), query.Player("friend", "a")), query.Pattern{})

	mu := unifier.Unify(head, q, unifier.NewComparison(unifier.Rule, s))
	require.False(t, mu.IsEmpty())
	u, _ := mu.First()
	assert.True(t, u.IsNonInjective())
	assert.True(t, unifier.Unify(head, q, unifier.NewComparison(unifier.Exact, s)).IsEmpty())
}

func TestUnify_Subsumptive(t *testing.T) {
	s := testSchema(t)
	cmp := unifier.NewComparison(unifier.Subsumptive, s)
	general := atomic(t, query.Has("x", "age", "v"), query.Pattern{
		Values: []query.ValuePredicate{{Var: "v", Op: query.GT, Value: int64(10)}},
	})
	specific := atomic(t, query.Has("p", "age", "w"), query.Pattern{
		IDs:    []query.IDPredicate{{Var: "p", ID: "V1"}},
		Values: []query.ValuePredicate{{Var: "w", Op: query.GT, Value: int64(18)}},
	})

	assert.False(t, unifier.Unify(general, specific, cmp).IsEmpty())
	assert.True(t, unifier.Unify(specific, general, cmp).IsEmpty())

	withID := atomic(t, query.Has("x", "age", "v"), query.Pattern{
		IDs: []query.IDPredicate{{Var: "x", ID: "V2"}},
	})
	assert.True(t, unifier.Unify(withID, specific, cmp).IsEmpty())
	assert.False(t, unifier.Unify(withID, specific,
		unifier.NewComparison(unifier.StructuralSubsumptive, s)).IsEmpty())
}

func TestUnify_SubsumptiveTypes(t *testing.T) {
	s := testSchema(t)
	cmp := unifier.NewComparison(unifier.Subsumptive, s)
	person := atomic(t, query.Relation("r", "friendship", query.Player("friend", "x")),
		query.Pattern{Types: []query.TypePredicate{{Var: "x", Label: "person"}}})
	woman := atomic(t, query.Relation("q", "friendship", query.Player("friend", "y")),
		query.Pattern{Types: []query.TypePredicate{{Var: "y", Label: "woman"}}})

	assert.False(t, unifier.Unify(person, woman, cmp).IsEmpty())
	assert.True(t, unifier.Unify(woman, person, cmp).IsEmpty())
}

func TestUnify_NeqPredicates(t *testing.T) {
	s := testSchema(t)
	atom := query.Relation("r", "friendship", query.Player("friend", "x"), query.Player("friend", "y"))
	plain, err := query.NewConjunctive(query.Pattern{Atoms: []query.Atom{atom}})
	require.NoError(t, err)
	neq, err := query.NewConjunctive(query.Pattern{
		Atoms: []query.Atom{atom},
		Neqs:  []query.NeqPredicate{{Left: "x", Right: "y"}},
	})
	require.NoError(t, err)

	assert.True(t, unifier.Unify(plain, neq, unifier.NewComparison(unifier.Exact, s)).IsEmpty())
	assert.False(t, unifier.Unify(plain, neq, unifier.NewComparison(unifier.Subsumptive, s)).IsEmpty())
	assert.True(t, unifier.Unify(neq, plain, unifier.NewComparison(unifier.Subsumptive, s)).IsEmpty())
}

func TestUnify_KindMismatch(t *testing.T) {
	s := testSchema(t)
	mu := unifier.UnifyAtoms(query.Isa("x", "person"), query.Has("x", "age", "v"),
		unifier.NewComparison(unifier.Rule, s))
	assert.True(t, mu.IsEmpty())
}
