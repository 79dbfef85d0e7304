package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/graphreason/pkg/reasoner/internalerr"
	"github.com/cognicore/graphreason/pkg/reasoner/query"
)

func body(t *testing.T, atoms ...query.Atom) *query.ConjunctiveQuery {
	t.Helper()
	q, err := query.NewConjunctive(query.Pattern{Atoms: atoms})
	require.NoError(t, err)
	return q
}

func TestNew_IsaHead(t *testing.T) {
	r, err := New("mortality", body(t, query.Isa("x", "person")), query.Isa("x", "mortal"))
	require.NoError(t, err)
	assert.False(t, r.RequiresMaterialisation())
	assert.Equal(t, "mortality", r.Label())
	assert.Equal(t, "rule mortality: when { $x isa person; } then { $x isa mortal; }", r.String())
}

func TestNew_RelationHead(t *testing.T) {
	b := body(t, query.Relation("f", "friendship", query.Player("friend", "x"), query.Player("friend", "y")))
	r, err := New("acquaintance", b,
		query.Relation("a", "acquaintance", query.Player("acquaintee", "x"), query.Player("acquaintee", "y")))
	require.NoError(t, err)
	assert.True(t, r.RequiresMaterialisation())
	assert.Equal(t, []string{"a", "x", "y"}, varNames(r.HeadVars()))
}

func TestNew_HasHeadWithConstant(t *testing.T) {
	r, err := New("adult-flag", body(t, query.Isa("x", "person")),
		query.Has("x", "status", "s"),
		query.ValuePredicate{Var: "s", Op: query.EQ, Value: "adult"})
	require.NoError(t, err)
	assert.Len(t, r.HeadQuery().Pattern().Values, 1)
	assert.True(t, r.RequiresMaterialisation())
}

func TestNew_Rejects(t *testing.T) {
	cases := map[string]func() error{
		"no label": func() error {
			_, err := New("", body(t, query.Isa("x", "person")), query.Isa("x", "mortal"))
			return err
		},
		"unbound isa head": func() error {
			_, err := New("r", body(t, query.Isa("x", "person")), query.Isa("y", "mortal"))
			return err
		},
		"has head without value source": func() error {
			_, err := New("r", body(t, query.Isa("x", "person")), query.Has("x", "status", "s"))
			return err
		},
		"relation head with role variable": func() error {
			_, err := New("r", body(t, query.Isa("x", "person")), query.Atom{
				Kind: query.KindRelation, Var: "r", Type: "friendship",
				Players: []query.RolePlayer{{Role: "friend", RoleVar: "k", Player: "x"}},
			})
			return err
		},
		"relation head with unbound player": func() error {
			_, err := New("r", body(t, query.Isa("x", "person")),
				query.Relation("f", "friendship", query.Player("friend", "z")))
			return err
		},
		"non-equality head value": func() error {
			_, err := New("r", body(t, query.Isa("x", "person")), query.Has("x", "status", "s"),
				query.ValuePredicate{Var: "s", Op: query.GT, Value: 1})
			return err
		},
		"disjunctive body": func() error {
			d, err := query.NewDisjunctive(body(t, query.Isa("x", "person")))
			require.NoError(t, err)
			_, err = New("r", d, query.Isa("x", "mortal"))
			return err
		},
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, fn(), internalerr.ErrInvalidRule)
		})
	}
}

func TestMustNew_Panics(t *testing.T) {
	assert.Panics(t, func() {
		MustNew("", body(t, query.Isa("x", "person")), query.Isa("x", "mortal"))
	})
}

func varNames[T ~string](vs []T) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = string(v)
	}
	return out
}
