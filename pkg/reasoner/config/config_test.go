package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/graphreason/pkg/reasoner"
	"github.com/cognicore/graphreason/pkg/reasoner/concept"
	"github.com/cognicore/graphreason/pkg/reasoner/internalerr"
	"github.com/cognicore/graphreason/pkg/reasoner/query"
	"github.com/cognicore/graphreason/pkg/reasoner/resolution"
)

const familyKB = `
schema:
  roles:
    - label: parent
    - label: mother
      sup: parent
    - label: child
  types:
    - label: person
      kind: entity
      plays: [parent, child]
    - label: woman
      kind: entity
      sup: person
      plays: [mother]
    - label: parentship
      kind: relation
      relates: [parent, child]
    - label: age
      kind: attribute
      value_type: long
    - label: status
      kind: attribute
      value_type: string
rules:
  - label: elder
    when:
      atoms:
        - {kind: has, var: x, type: age, attr: n}
      values:
        - {var: n, op: ">", value: 60}
    then: {kind: has, var: x, type: status, attr: s}
    value: elder
data:
  entities:
    - {id: alice, type: woman}
    - {id: bob, type: person}
  attributes:
    - {type: age, value: 70, owners: [alice]}
    - {type: age, value: 45, owners: [bob]}
  relations:
    - id: r1
      type: parentship
      players:
        - {role: mother, player: alice}
        - {role: child, player: bob}
reasoner:
  materialise: false
  plan_cache_size: 8
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseKnowledgeBase_Defaults(t *testing.T) {
	kb, err := ParseKnowledgeBase([]byte(familyKB))
	require.NoError(t, err)

	r := kb.Reasoner
	assert.Equal(t, BackendMemory, r.Backend)
	require.NotNil(t, r.Reiterate)
	assert.True(t, *r.Reiterate)
	require.NotNil(t, r.Materialise)
	assert.False(t, *r.Materialise)
	assert.Equal(t, resolution.DefaultMaxPasses, r.MaxPasses)
	assert.Equal(t, 8, r.PlanCacheSize)

	assert.Len(t, kb.Schema.Types, 5)
	assert.Len(t, kb.Data.Entities, 2)
	assert.Equal(t, 70, kb.Data.Attributes[0].Value)
}

func TestParseKnowledgeBase_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown backend", "reasoner: {backend: postgres}"},
		{"sqlite without path", "reasoner: {backend: sqlite}"},
		{"badger without path", "reasoner: {backend: badger}"},
		{"negative passes", "reasoner: {max_passes: -1}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseKnowledgeBase([]byte(tt.doc))
			assert.ErrorIs(t, err, internalerr.ErrInvalidConfig)
		})
	}

	_, err := ParseKnowledgeBase([]byte("schema: ["))
	assert.Error(t, err)
}

func TestBuildSchema(t *testing.T) {
	kb, err := ParseKnowledgeBase([]byte(familyKB))
	require.NoError(t, err)
	s, err := kb.BuildSchema()
	require.NoError(t, err)

	assert.True(t, s.IsSubtype("woman", "person"))
	assert.True(t, s.IsSubRole("mother", "parent"))
	r, ok := s.Rule("elder")
	require.True(t, ok)
	assert.True(t, r.RequiresMaterialisation())
	values := r.HeadQuery().Pattern().ValuesOf("s")
	require.Len(t, values, 1)
	assert.Equal(t, "elder", values[0].Value)
}

func TestBuildSchema_UnknownKind(t *testing.T) {
	kb, err := ParseKnowledgeBase([]byte("schema: {types: [{label: x, kind: thing}]}"))
	require.NoError(t, err)
	_, err = kb.BuildSchema()
	assert.ErrorIs(t, err, internalerr.ErrInvalidConfig)
}

func TestRuleSpec_DefaultAttributeVariable(t *testing.T) {
	rs := RuleSpec{
		Label: "tagged",
		When:  PatternSpec{Atoms: []AtomSpec{{Kind: "isa", Var: "x", Type: "person"}}},
		Then:  AtomSpec{Kind: "has", Var: "x", Type: "status"},
		Value: "tagged",
	}
	r, err := rs.Rule()
	require.NoError(t, err)
	assert.Equal(t, concept.Variable("_status"), r.Head().Attr)
}

func TestParsePattern(t *testing.T) {
	q, err := ParsePattern([]byte(`
atoms:
  - kind: relation
    var: r
    type: parentship
    players:
      - {role: parent, player: x, role_var: role}
      - {role: child, player: y}
ids:
  - {var: y, id: bob}
neqs:
  - [x, y]
`))
	require.NoError(t, err)
	cq, ok := q.(*query.ConjunctiveQuery)
	require.True(t, ok)
	p := cq.Pattern()
	require.Len(t, p.Atoms, 1)
	a := p.Atoms[0]
	assert.Equal(t, query.KindRelation, a.Kind)
	assert.Equal(t, concept.Variable("role"), a.Players[0].RoleVar)
	assert.Equal(t, []concept.ID{"bob"}, p.IDsOf("y"))
	assert.Equal(t, []query.NeqPredicate{{Left: "x", Right: "y"}}, p.Neqs)
}

func TestParsePattern_Values(t *testing.T) {
	q, err := ParsePattern([]byte(`
atoms:
  - {kind: has, var: x, type: age, attr: n}
values:
  - {var: n, op: ">=", value: 18}
  - {var: n, value: 70}
`))
	require.NoError(t, err)
	values := q.(*query.ConjunctiveQuery).Pattern().ValuesOf("n")
	require.Len(t, values, 2)
	assert.Equal(t, query.GTE, values[0].Op)
	assert.Equal(t, query.EQ, values[1].Op)

	_, err = ParsePattern([]byte(`
atoms: [{kind: has, var: x, type: age, attr: n}]
values: [{var: n, op: "~", value: 1}]
`))
	assert.ErrorIs(t, err, internalerr.ErrInvalidQuery)
}

func TestParsePattern_NotAndOr(t *testing.T) {
	q, err := ParsePattern([]byte(`
atoms: [{kind: isa, var: x, type: person}]
not:
  - atoms: [{kind: isa, var: x, type: woman}]
`))
	require.NoError(t, err)
	cq, ok := q.(*query.CompositeQuery)
	require.True(t, ok)
	assert.Len(t, cq.Negated(), 1)

	q, err = ParsePattern([]byte(`
or:
  - atoms: [{kind: isa, var: x, type: woman}]
  - atoms: [{kind: isa, var: x, type: person}]
`))
	require.NoError(t, err)
	dq, ok := q.(*query.DisjunctiveQuery)
	require.True(t, ok)
	assert.Len(t, dq.Branches(), 2)
	assert.Equal(t, []concept.Variable{"x"}, dq.Vars())

	_, err = ParsePattern([]byte(`
atoms: [{kind: isa, var: x, type: person}]
or:
  - atoms: [{kind: isa, var: x, type: woman}]
`))
	assert.ErrorIs(t, err, internalerr.ErrInvalidQuery)

	_, err = ParsePattern([]byte(`
atoms: [{kind: isa, var: x, type: person}]
not:
  - or:
      - atoms: [{kind: isa, var: x, type: woman}]
`))
	assert.ErrorIs(t, err, internalerr.ErrInvalidQuery)
}

func TestAtomSpec_Errors(t *testing.T) {
	_, err := AtomSpec{Kind: "sameas", Var: "x"}.Atom()
	assert.ErrorIs(t, err, internalerr.ErrInvalidQuery)

	_, err = AtomSpec{Var: "x", Type: "person"}.Atom()
	assert.ErrorIs(t, err, internalerr.ErrInvalidQuery)

	a, err := AtomSpec{Var: "r", Type: "parentship", Players: []PlayerSpec{{Role: "parent", Player: "x"}}}.Atom()
	require.NoError(t, err)
	assert.Equal(t, query.KindRelation, a.Kind)
}

func TestLoader_SeedsMemory(t *testing.T) {
	ctx := context.Background()
	l := &Loader{KnowledgeBasePath: writeFile(t, "kb.yaml", familyKB)}
	comp, err := l.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, SeedStats{Entities: 2, Attributes: 2, Ownerships: 2, Relations: 1}, comp.Seeded)

	opts := comp.Options(nil)
	assert.False(t, opts.Materialise)
	assert.True(t, opts.Reiterate)
	assert.Equal(t, 8, opts.PlanCacheSize)

	r, err := reasoner.New(opts)
	require.NoError(t, err)
	defer r.Close()
	women, err := r.Resolve(ctx, query.MustConjunctive(query.Pattern{Atoms: []query.Atom{query.Isa("w", "woman")}}))
	require.NoError(t, err)
	require.Len(t, women, 1)
	w, _ := women[0].Get("w")
	assert.Equal(t, concept.ID("alice"), w.ID)
}

func TestLoader_SQLiteReopen(t *testing.T) {
	ctx := context.Background()
	kbPath := writeFile(t, "kb.yaml", familyKB)
	dbPath := filepath.Join(t.TempDir(), "kb.db")

	comp, err := (&Loader{KnowledgeBasePath: kbPath, Backend: BackendSQLite, Path: dbPath}).Load(ctx)
	require.NoError(t, err)
	require.NoError(t, comp.Backend.Close())

	comp, err = (&Loader{KnowledgeBasePath: kbPath, Backend: BackendSQLite, Path: dbPath, SkipSeed: true}).Load(ctx)
	require.NoError(t, err)
	defer comp.Backend.Close()
	assert.Zero(t, comp.Seeded.Entities)
	c, ok, err := comp.Backend.GetConcept(ctx, "bob")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "person", c.Type)
}

func TestLoader_Errors(t *testing.T) {
	ctx := context.Background()
	_, err := (&Loader{}).Load(ctx)
	assert.Error(t, err)

	_, err = (&Loader{KnowledgeBasePath: filepath.Join(t.TempDir(), "missing.yaml")}).Load(ctx)
	assert.Error(t, err)

	_, err = (&Loader{KnowledgeBasePath: writeFile(t, "kb.yaml", familyKB), Backend: BackendBadger}).Load(ctx)
	assert.ErrorIs(t, err, internalerr.ErrInvalidConfig)

	// motherhood does not relate child.
	bad := `
schema:
  roles: [{label: mother}, {label: child}]
  types:
    - {label: person, kind: entity, plays: [mother, child]}
    - {label: motherhood, kind: relation, relates: [mother]}
data:
  entities: [{id: bob, type: person}]
  relations:
    - type: motherhood
      players: [{role: child, player: bob}]
`
	_, err = (&Loader{KnowledgeBasePath: writeFile(t, "bad.yaml", bad)}).Load(ctx)
	assert.Error(t, err)
}
