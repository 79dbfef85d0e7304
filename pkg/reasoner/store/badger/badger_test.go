package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/graphreason/pkg/reasoner/concept"
	"github.com/cognicore/graphreason/pkg/reasoner/store"
	"github.com/cognicore/graphreason/pkg/reasoner/store/storetest"
)

func TestBackend(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Backend {
		b, err := Open(InMemoryConfig())
		require.NoError(t, err)
		return b
	})
}

func TestOpen_Persistent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	b, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	require.NoError(t, b.PutConcept(ctx, concept.Concept{ID: "t1", Kind: concept.KindAttribute, Type: "flag", Value: true}))
	require.NoError(t, b.Close())

	b, err = Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer b.Close()

	c, ok, err := b.AttributeByValue(ctx, "flag", true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, concept.ID("t1"), c.ID)
}

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, []byte("t\x00person\x00p1"), key("t", "person", "p1"))
	assert.Equal(t, []byte("t\x00person\x00"), prefix("t", "person"))
}
