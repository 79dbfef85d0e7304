package reasoner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/graphreason/pkg/reasoner/concept"
	"github.com/cognicore/graphreason/pkg/reasoner/internalerr"
	"github.com/cognicore/graphreason/pkg/reasoner/query"
	"github.com/cognicore/graphreason/pkg/reasoner/rule"
	"github.com/cognicore/graphreason/pkg/reasoner/schema"
	"github.com/cognicore/graphreason/pkg/reasoner/store/memstore"
)

func newTestReasoner(t *testing.T, planCache int) *Reasoner {
	t.Helper()
	mortality := rule.MustNew("mortality",
		query.MustConjunctive(query.Pattern{Atoms: []query.Atom{query.Isa("x", "person")}}),
		query.Isa("x", "mortal"))
	s, err := schema.NewBuilder().
		Type(schema.TypeDef{Label: "person", Kind: concept.KindEntity}).
		Type(schema.TypeDef{Label: "mortal", Kind: concept.KindEntity}).
		Rule(mortality).
		Build()
	require.NoError(t, err)

	opts := DefaultOptions(memstore.New(), s)
	opts.PlanCacheSize = planCache
	r, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	for _, id := range []concept.ID{"socrates", "plato"} {
		_, err := r.Engine().PutEntity(context.Background(), id, "person")
		require.NoError(t, err)
	}
	return r
}

func mortals() query.Query {
	return query.MustConjunctive(query.Pattern{Atoms: []query.Atom{query.Isa("m", "mortal")}})
}

func TestNew_RequiresBackendAndSchema(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, internalerr.ErrInvalidConfig)

	_, err = New(Options{Backend: memstore.New()})
	assert.ErrorIs(t, err, internalerr.ErrInvalidConfig)
}

func TestResolve(t *testing.T) {
	r := newTestReasoner(t, 0)
	answers, err := r.Resolve(context.Background(), mortals())
	require.NoError(t, err)
	require.Len(t, answers, 2)
	for _, a := range answers {
		require.NotNil(t, a.Explanation())
		assert.Equal(t, "mortality", a.Explanation().Rule)
	}
	assert.Nil(t, r.PlanCache())
}

func TestTx_SharesCaches(t *testing.T) {
	r := newTestReasoner(t, 0)
	ctx := context.Background()
	tx := r.Begin(ctx)
	defer tx.Close()
	assert.NotEmpty(t, tx.ID())

	_, err := tx.ResolveAll(ctx, mortals())
	require.NoError(t, err)
	first := tx.Stats()
	assert.Positive(t, first.Entries)

	_, err = tx.ResolveAll(ctx, mortals())
	require.NoError(t, err)
	assert.Greater(t, tx.Stats().ExactHits, first.ExactHits)

	other := r.Begin(ctx)
	defer other.Close()
	assert.NotEqual(t, tx.ID(), other.ID())
	assert.Zero(t, other.Stats().Entries)
}

func TestTx_Closed(t *testing.T) {
	r := newTestReasoner(t, 0)
	ctx := context.Background()
	tx := r.Begin(ctx)
	require.NoError(t, tx.Close())
	require.NoError(t, tx.Close())

	_, err := tx.Resolve(ctx, mortals())
	assert.ErrorIs(t, err, internalerr.ErrTxClosed)
}

func TestTx_NilQuery(t *testing.T) {
	r := newTestReasoner(t, 0)
	tx := r.Begin(context.Background())
	defer tx.Close()
	_, err := tx.Resolve(context.Background(), nil)
	assert.ErrorIs(t, err, internalerr.ErrInvalidQuery)
}

func TestPlanCache_SharedAcrossTransactions(t *testing.T) {
	r := newTestReasoner(t, 16)
	require.NotNil(t, r.PlanCache())
	ctx := context.Background()

	_, err := r.Resolve(ctx, mortals())
	require.NoError(t, err)
	_, err = r.Resolve(ctx, mortals())
	require.NoError(t, err)
	hits, misses := r.PlanCache().Stats()
	assert.Positive(t, hits)
	assert.Positive(t, misses)
	assert.Positive(t, r.PlanCache().Len())
}
