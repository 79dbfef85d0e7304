package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/cognicore/graphreason/pkg/reasoner/concept"
	"github.com/cognicore/graphreason/pkg/reasoner/internalerr"
	"github.com/cognicore/graphreason/pkg/reasoner/store"
)

// Store is an in-memory implementation of store.Backend.
type Store struct {
	mu         sync.RWMutex
	concepts   map[concept.ID]concept.Concept
	byType     map[string]map[concept.ID]struct{}
	castings   map[concept.ID][]store.Casting
	playing    map[concept.ID][]store.Casting
	attributes map[concept.ID]map[concept.ID]struct{}
	owners     map[concept.ID]map[concept.ID]struct{}
	byValue    map[string]concept.ID
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		concepts:   make(map[concept.ID]concept.Concept),
		byType:     make(map[string]map[concept.ID]struct{}),
		castings:   make(map[concept.ID][]store.Casting),
		playing:    make(map[concept.ID][]store.Casting),
		attributes: make(map[concept.ID]map[concept.ID]struct{}),
		owners:     make(map[concept.ID]map[concept.ID]struct{}),
		byValue:    make(map[string]concept.ID),
	}
}

// Close implements store.Backend.
func (s *Store) Close() error { return nil }

// GetConcept returns a concept by id.
func (s *Store) GetConcept(ctx context.Context, id concept.ID) (concept.Concept, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.concepts[id]
	return c, ok, nil
}

// InstancesOf returns the concepts of the given direct types, ordered by id.
func (s *Store) InstancesOf(ctx context.Context, types []string) ([]concept.Concept, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []concept.Concept
	for _, t := range types {
		for id := range s.byType[t] {
			out = append(out, s.concepts[id])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Castings returns the role players of a relation.
func (s *Store) Castings(ctx context.Context, relation concept.ID) ([]store.Casting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.Casting(nil), s.castings[relation]...), nil
}

// CastingsByPlayer returns the castings a concept takes part in.
func (s *Store) CastingsByPlayer(ctx context.Context, player concept.ID) ([]store.Casting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.Casting(nil), s.playing[player]...), nil
}

// Attributes returns the attributes of owner, ordered by id.
func (s *Store) Attributes(ctx context.Context, owner concept.ID) ([]concept.Concept, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]concept.Concept, 0, len(s.attributes[owner]))
	for id := range s.attributes[owner] {
		out = append(out, s.concepts[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Owners returns the owners of an attribute, ordered by id.
func (s *Store) Owners(ctx context.Context, attribute concept.ID) ([]concept.ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]concept.ID, 0, len(s.owners[attribute]))
	for id := range s.owners[attribute] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// AttributeByValue finds an attribute by type and value.
func (s *Store) AttributeByValue(ctx context.Context, typ string, value any) (concept.Concept, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byValue[valueKey(typ, value)]
	if !ok {
		return concept.Concept{}, false, nil
	}
	return s.concepts[id], true, nil
}

// PutConcept inserts or replaces a concept.
func (s *Store) PutConcept(ctx context.Context, c concept.Concept) error {
	if c.ID == "" {
		return internalerr.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.concepts[c.ID]; ok {
		delete(s.byType[old.Type], c.ID)
		if old.Kind == concept.KindAttribute {
			delete(s.byValue, valueKey(old.Type, old.Value))
		}
	}
	s.concepts[c.ID] = c
	if s.byType[c.Type] == nil {
		s.byType[c.Type] = make(map[concept.ID]struct{})
	}
	s.byType[c.Type][c.ID] = struct{}{}
	if c.Kind == concept.KindAttribute {
		s.byValue[valueKey(c.Type, c.Value)] = c.ID
	}
	return nil
}

// PutCasting adds a role player to a relation. Duplicates are ignored.
func (s *Store) PutCasting(ctx context.Context, c store.Casting) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.concepts[c.Relation]; !ok {
		return internalerr.ErrNotFound
	}
	for _, existing := range s.castings[c.Relation] {
		if existing == c {
			return nil
		}
	}
	s.castings[c.Relation] = append(s.castings[c.Relation], c)
	s.playing[c.Player] = append(s.playing[c.Player], c)
	return nil
}

// PutOwnership links an owner to an attribute. Duplicates are ignored.
func (s *Store) PutOwnership(ctx context.Context, o store.Ownership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.concepts[o.Attribute]; !ok {
		return internalerr.ErrNotFound
	}
	if s.attributes[o.Owner] == nil {
		s.attributes[o.Owner] = make(map[concept.ID]struct{})
	}
	s.attributes[o.Owner][o.Attribute] = struct{}{}
	if s.owners[o.Attribute] == nil {
		s.owners[o.Attribute] = make(map[concept.ID]struct{})
	}
	s.owners[o.Attribute][o.Owner] = struct{}{}
	return nil
}

// Len returns the number of stored concepts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.concepts)
}

func valueKey(typ string, v any) string {
	return typ + "|" + concept.ValueKey(v)
}
