package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/graphreason/pkg/reasoner/concept"
	"github.com/cognicore/graphreason/pkg/reasoner/internalerr"
	"github.com/cognicore/graphreason/pkg/reasoner/store"
	"github.com/cognicore/graphreason/pkg/reasoner/store/storetest"
)

func TestBackend(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Backend { return New() })
}

func TestPutConcept_RequiresID(t *testing.T) {
	s := New()
	err := s.PutConcept(context.Background(), concept.Concept{Kind: concept.KindEntity, Type: "person"})
	assert.ErrorIs(t, err, internalerr.ErrInvalidInput)
}

func TestLen(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.PutConcept(ctx, concept.Concept{ID: "a", Kind: concept.KindEntity, Type: "person"}))
	require.NoError(t, s.PutConcept(ctx, concept.Concept{ID: "a", Kind: concept.KindEntity, Type: "person"}))
	require.NoError(t, s.PutConcept(ctx, concept.Concept{ID: "b", Kind: concept.KindEntity, Type: "person"}))
	assert.Equal(t, 2, s.Len())
}
