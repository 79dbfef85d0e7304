package resolution_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/graphreason/pkg/reasoner/cache"
	"github.com/cognicore/graphreason/pkg/reasoner/concept"
	"github.com/cognicore/graphreason/pkg/reasoner/query"
	"github.com/cognicore/graphreason/pkg/reasoner/resolution"
	"github.com/cognicore/graphreason/pkg/reasoner/rule"
	"github.com/cognicore/graphreason/pkg/reasoner/schema"
	"github.com/cognicore/graphreason/pkg/reasoner/store"
	"github.com/cognicore/graphreason/pkg/reasoner/store/memstore"
)

func conj(atoms ...query.Atom) *query.ConjunctiveQuery {
	return query.MustConjunctive(query.Pattern{Atoms: atoms})
}

var (
	mortality = rule.MustNew("mortality", conj(query.Isa("x", "person")), query.Isa("x", "mortal"))
	godly     = rule.MustNew("godly", conj(query.Isa("x", "god")), query.Isa("x", "mortal"))
	direct    = rule.MustNew("ancestry-direct",
		conj(query.Relation("p", "parentship", query.Player("parent", "x"), query.Player("child", "y"))),
		query.Relation("a", "ancestry", query.Player("ancestor", "x"), query.Player("descendant", "y")))
	transitive = rule.MustNew("ancestry-transitive",
		conj(
			query.Relation("a1", "ancestry", query.Player("ancestor", "x"), query.Player("descendant", "y")),
			query.Relation("a2", "ancestry", query.Player("ancestor", "y"), query.Player("descendant", "z")),
		),
		query.Relation("a", "ancestry", query.Player("ancestor", "x"), query.Player("descendant", "z")))
	elder = rule.MustNew("elder",
		query.MustConjunctive(query.Pattern{
			Atoms:  []query.Atom{query.Has("x", "age", "n")},
			Values: []query.ValuePredicate{{Var: "n", Op: query.GT, Value: int64(60)}},
		}),
		query.Has("x", "status", "s"),
		query.ValuePredicate{Var: "s", Op: query.EQ, Value: "elder"})
)

func testSchema(t *testing.T, rules ...*rule.InferenceRule) *schema.Schema {
	t.Helper()
	b := schema.NewBuilder().
		Role(schema.RoleDef{Label: "parent"}).
		Role(schema.RoleDef{Label: "mother", Sup: "parent"}).
		Role(schema.RoleDef{Label: "child"}).
		Role(schema.RoleDef{Label: "ancestor"}).
		Role(schema.RoleDef{Label: "descendant"}).
		Type(schema.TypeDef{Label: "person", Kind: concept.KindEntity, Plays: []string{"parent", "child", "ancestor", "descendant"}}).
		Type(schema.TypeDef{Label: "woman", Kind: concept.KindEntity, Sup: "person", Plays: []string{"mother"}}).
		Type(schema.TypeDef{Label: "mortal", Kind: concept.KindEntity}).
		Type(schema.TypeDef{Label: "god", Kind: concept.KindEntity}).
		Type(schema.TypeDef{Label: "parentship", Kind: concept.KindRelation, Relates: []string{"parent", "child"}}).
		Type(schema.TypeDef{Label: "ancestry", Kind: concept.KindRelation, Relates: []string{"ancestor", "descendant"}}).
		Type(schema.TypeDef{Label: "age", Kind: concept.KindAttribute, ValueType: store.ValueLong}).
		Type(schema.TypeDef{Label: "status", Kind: concept.KindAttribute, ValueType: store.ValueString})
	for _, r := range rules {
		b.Rule(r)
	}
	s, err := b.Build()
	require.NoError(t, err)
	return s
}

type fixture struct {
	ctx    context.Context
	engine *store.Engine
	env    *resolution.Env
}

// newFixture seeds alice (a woman, 70) as bob's mother and bob (45) as
// carol's (12) parent.
func newFixture(t *testing.T, rules ...*rule.InferenceRule) *fixture {
	t.Helper()
	s := testSchema(t, rules...)
	e := store.NewEngine(memstore.New(), s, nil)
	ctx := context.Background()
	for id, typ := range map[string]string{"alice": "woman", "bob": "person", "carol": "person"} {
		_, err := e.PutEntity(ctx, concept.ID(id), typ)
		require.NoError(t, err)
	}
	_, err := e.PutRelationWithID(ctx, "r1", "parentship", []store.Casting{
		{Role: "mother", Player: "alice"}, {Role: "child", Player: "bob"},
	})
	require.NoError(t, err)
	_, err = e.PutRelationWithID(ctx, "r2", "parentship", []store.Casting{
		{Role: "parent", Player: "bob"}, {Role: "child", Player: "carol"},
	})
	require.NoError(t, err)
	for owner, age := range map[string]int64{"alice": 70, "bob": 45, "carol": 12} {
		a, err := e.PutAttribute(ctx, "age", age)
		require.NoError(t, err)
		require.NoError(t, e.PutOwnership(ctx, concept.ID(owner), a.ID))
	}
	return &fixture{ctx: ctx, engine: e, env: newEnv(e, s)}
}

func newEnv(e *store.Engine, s *schema.Schema) *resolution.Env {
	return &resolution.Env{
		Schema:      s,
		Store:       e,
		Answers:     cache.NewAnswerCache(cache.NewStructuralCache(e, s, nil), s, nil),
		Rules:       cache.NewRuleCache(s),
		Materialise: true,
		Reiterate:   true,
	}
}

func (f *fixture) resolve(t *testing.T, q query.Query) []concept.Substitution {
	t.Helper()
	answers, err := concept.Collect(resolution.Resolve(f.ctx, f.env, q))
	require.NoError(t, err)
	return answers
}

func ids(t *testing.T, answers []concept.Substitution, v concept.Variable) []string {
	t.Helper()
	out := make([]string, 0, len(answers))
	for _, a := range answers {
		c, ok := a.Get(v)
		require.True(t, ok, "answer %s misses $%s", a, v)
		out = append(out, string(c.ID))
	}
	return out
}

func pairs(t *testing.T, answers []concept.Substitution, x, y concept.Variable) [][2]string {
	t.Helper()
	xs, ys := ids(t, answers, x), ids(t, answers, y)
	out := make([][2]string, len(xs))
	for i := range xs {
		out[i] = [2]string{xs[i], ys[i]}
	}
	return out
}

func TestResolve_StoredAnswers(t *testing.T) {
	f := newFixture(t)
	got := f.resolve(t, conj(query.Isa("x", "person")))
	assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, ids(t, got, "x"))
	for _, a := range got {
		assert.Nil(t, a.Explanation())
	}
}

func TestResolve_RuleWithExplanation(t *testing.T) {
	f := newFixture(t, mortality)
	q := conj(query.Isa("m", "mortal"))

	got := f.resolve(t, q)
	require.ElementsMatch(t, []string{"alice", "bob", "carol"}, ids(t, got, "m"))
	for _, a := range got {
		e := a.Explanation()
		require.NotNil(t, e)
		assert.Equal(t, "mortality", e.Rule)
		assert.Len(t, e.ID, 26)
		require.NotNil(t, e.Premise)
		premise, ok := e.Premise.Get("x")
		require.True(t, ok)
		m, _ := a.Get("m")
		assert.Equal(t, m.ID, premise.ID)
	}

	// The second resolution in the same environment reuses the cached entry.
	before := f.env.Answers.Stats().ExactHits
	again := f.resolve(t, conj(query.Isa("who", "mortal")))
	assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, ids(t, again, "who"))
	assert.Greater(t, f.env.Answers.Stats().ExactHits, before)

	// The rule body was answered once; asking it directly does not go back to
	// the store.
	lookups := f.env.Answers.Stats().StoreLookups
	persons := f.resolve(t, conj(query.Isa("p", "person")))
	assert.Len(t, persons, 3)
	assert.Equal(t, lookups, f.env.Answers.Stats().StoreLookups)
}

func TestResolve_ExplanationIDsAreUnique(t *testing.T) {
	f := newFixture(t, mortality)
	got := f.resolve(t, conj(query.Isa("m", "mortal")))
	seen := make(map[string]bool)
	for _, a := range got {
		require.NotNil(t, a.Explanation())
		assert.False(t, seen[a.Explanation().ID])
		seen[a.Explanation().ID] = true
	}
}

func TestResolve_TransitiveClosure(t *testing.T) {
	f := newFixture(t, direct, transitive)
	q := conj(query.Relation("a", "ancestry", query.Player("ancestor", "x"), query.Player("descendant", "y")))

	it := resolution.Resolve(f.ctx, f.env, q)
	got, err := concept.Collect(it)
	require.NoError(t, err)
	assert.ElementsMatch(t, [][2]string{
		{"alice", "bob"},
		{"bob", "carol"},
		{"alice", "carol"},
	}, pairs(t, got, "x", "y"))
	assert.GreaterOrEqual(t, it.Passes(), 1)
	assert.LessOrEqual(t, it.Passes(), resolution.DefaultMaxPasses)

	// Conclusions were materialised once each.
	stored, err := f.engine.Backend().InstancesOf(f.ctx, []string{"ancestry"})
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestResolve_BoundRecursiveQuery(t *testing.T) {
	f := newFixture(t, direct, transitive)
	q := query.MustConjunctive(query.Pattern{
		Atoms: []query.Atom{query.Relation("a", "ancestry", query.Player("ancestor", "x"), query.Player("descendant", "y"))},
		IDs:   []query.IDPredicate{{Var: "y", ID: "carol"}},
	})
	got := f.resolve(t, q)
	assert.ElementsMatch(t, []string{"alice", "bob"}, ids(t, got, "x"))
}

func TestResolve_Negation(t *testing.T) {
	s, err := schema.NewBuilder().
		Type(schema.TypeDef{Label: "a", Kind: concept.KindEntity}).
		Type(schema.TypeDef{Label: "b", Kind: concept.KindEntity, Sup: "a"}).
		Build()
	require.NoError(t, err)
	e := store.NewEngine(memstore.New(), s, nil)
	ctx := context.Background()
	_, err = e.PutEntity(ctx, "1", "a")
	require.NoError(t, err)
	_, err = e.PutEntity(ctx, "2", "b")
	require.NoError(t, err)

	q, err := query.NewComposite(conj(query.Isa("x", "a")), conj(query.Isa("x", "b")))
	require.NoError(t, err)
	got, err := concept.Collect(resolution.Resolve(ctx, newEnv(e, s), q))
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids(t, got, "x"))
}

func TestResolve_NegatedRuleConclusion(t *testing.T) {
	f := newFixture(t, elder)
	q, err := query.NewComposite(
		conj(query.Isa("x", "person")),
		conj(query.Has("x", "status", "s")),
	)
	require.NoError(t, err)
	got := f.resolve(t, q)
	assert.ElementsMatch(t, []string{"bob", "carol"}, ids(t, got, "x"))
}

// A left-linear rule derives one more generation per pass, so the negated
// query only sees p1's descent to p6 after several passes.
func TestResolve_NegatedRecursiveRule(t *testing.T) {
	extend := rule.MustNew("ancestry-extend",
		conj(
			query.Relation("a1", "ancestry", query.Player("ancestor", "x"), query.Player("descendant", "y")),
			query.Relation("p", "parentship", query.Player("parent", "y"), query.Player("child", "z")),
		),
		query.Relation("a", "ancestry", query.Player("ancestor", "x"), query.Player("descendant", "z")))
	s := testSchema(t, direct, extend)
	e := store.NewEngine(memstore.New(), s, nil)
	ctx := context.Background()
	chain := []concept.ID{"p1", "p2", "p3", "p4", "p5", "p6"}
	for _, id := range chain {
		_, err := e.PutEntity(ctx, id, "person")
		require.NoError(t, err)
	}
	for i := 0; i+1 < len(chain); i++ {
		_, err := e.PutRelation(ctx, "parentship", []store.Casting{
			{Role: "parent", Player: chain[i]}, {Role: "child", Player: chain[i+1]},
		})
		require.NoError(t, err)
	}

	q, err := query.NewComposite(
		conj(query.Isa("x", "person")),
		query.MustConjunctive(query.Pattern{
			Atoms: []query.Atom{query.Relation("a", "ancestry", query.Player("ancestor", "x"), query.Player("descendant", "y"))},
			IDs:   []query.IDPredicate{{Var: "y", ID: "p6"}},
		}),
	)
	require.NoError(t, err)
	got, err := concept.Collect(resolution.Resolve(ctx, newEnv(e, s), q))
	require.NoError(t, err)
	assert.Equal(t, []string{"p6"}, ids(t, got, "x"))
}

func TestResolve_LeavesEnvUntouched(t *testing.T) {
	f := newFixture(t, mortality)
	require.Nil(t, f.env.Logger)
	got := f.resolve(t, conj(query.Isa("m", "mortal")))
	assert.Len(t, got, 3)
	assert.Nil(t, f.env.Logger)
}

func TestResolve_Inequality(t *testing.T) {
	f := newFixture(t)
	q := query.MustConjunctive(query.Pattern{
		Atoms: []query.Atom{query.Isa("x", "person"), query.Isa("y", "person")},
		Neqs:  []query.NeqPredicate{{Left: "x", Right: "y"}},
	})
	got := f.resolve(t, q)
	assert.Len(t, got, 6)
	for _, a := range got {
		x, _ := a.Get("x")
		y, _ := a.Get("y")
		assert.NotEqual(t, x.ID, y.ID)
	}
}

func TestResolve_Disjunction(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.PutEntity(f.ctx, "zeus", "god")
	require.NoError(t, err)

	q, err := query.NewDisjunctive(
		conj(query.Isa("x", "woman")),
		conj(query.Isa("x", "god")),
		conj(query.Isa("x", "person")),
	)
	require.NoError(t, err)
	got := f.resolve(t, q)
	assert.ElementsMatch(t, []string{"alice", "zeus", "bob", "carol"}, ids(t, got, "x"))
}

func TestResolve_RoleExpansion(t *testing.T) {
	f := newFixture(t)
	q := conj(query.Relation("r", "parentship", query.RolePlayer{Role: "parent", RoleVar: "role", Player: "x"}))

	got := f.resolve(t, q)
	assert.ElementsMatch(t, [][2]string{
		{"alice", "mother"},
		{"alice", "parent"},
		{"bob", "parent"},
	}, pairs(t, got, "x", "role"))
}

func TestResolve_ConstantAttributeConclusion(t *testing.T) {
	f := newFixture(t, elder)
	got := f.resolve(t, conj(query.Has("x", "status", "s")))
	require.Len(t, got, 1)
	x, _ := got[0].Get("x")
	s, _ := got[0].Get("s")
	assert.Equal(t, concept.ID("alice"), x.ID)
	assert.Equal(t, "elder", s.Value)
	require.NotNil(t, got[0].Explanation())
	assert.Equal(t, "elder", got[0].Explanation().Rule)
}

func TestResolve_FruitlessRuleSkipped(t *testing.T) {
	f := newFixture(t, mortality, godly)
	got := f.resolve(t, conj(query.Isa("m", "mortal")))
	assert.Len(t, got, 3)
	assert.True(t, f.env.Rules.IsFruitless("godly"))
	assert.False(t, f.env.Rules.IsFruitless("mortality"))

	f.resolve(t, conj(query.Isa("n", "mortal")))
	assert.Equal(t, int64(1), f.env.Rules.Skipped())
}

func TestResolve_WithoutMaterialisation(t *testing.T) {
	f := newFixture(t, direct)
	f.env.Materialise = false
	_, err := f.engine.PutRelationWithID(f.ctx, "known", "ancestry", []store.Casting{
		{Role: "ancestor", Player: "alice"}, {Role: "descendant", Player: "bob"},
	})
	require.NoError(t, err)

	q := conj(query.Relation("a", "ancestry", query.Player("ancestor", "x"), query.Player("descendant", "y")))
	got := f.resolve(t, q)
	assert.Equal(t, [][2]string{{"alice", "bob"}}, pairs(t, got, "x", "y"))

	stored, err := f.engine.Backend().InstancesOf(f.ctx, []string{"ancestry"})
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestResolve_Cancelled(t *testing.T) {
	f := newFixture(t, mortality)
	ctx, cancel := context.WithCancel(f.ctx)
	cancel()
	_, err := concept.Collect(resolution.Resolve(ctx, f.env, conj(query.Isa("m", "mortal"))))
	assert.ErrorIs(t, err, context.Canceled)
}
