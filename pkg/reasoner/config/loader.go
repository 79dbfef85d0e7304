package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cognicore/graphreason/pkg/reasoner"
	"github.com/cognicore/graphreason/pkg/reasoner/concept"
	"github.com/cognicore/graphreason/pkg/reasoner/schema"
	"github.com/cognicore/graphreason/pkg/reasoner/store"
	"github.com/cognicore/graphreason/pkg/reasoner/store/badger"
	"github.com/cognicore/graphreason/pkg/reasoner/store/memstore"
	"github.com/cognicore/graphreason/pkg/reasoner/store/sqlite"
)

// Loader loads a knowledge base and constructs the reasoner components.
type Loader struct {
	KnowledgeBasePath string
	// Backend and Path override the knowledge base's reasoner section.
	Backend string
	Path    string
	// SkipSeed opens the backend without inserting the data section.
	SkipSeed bool
	Logger   *slog.Logger
}

// Components holds everything built from a knowledge base.
type Components struct {
	KnowledgeBase *KnowledgeBase
	Schema        *schema.Schema
	Backend       store.Backend
	Seeded        SeedStats
}

// SeedStats counts inserted data.
type SeedStats struct {
	Entities   int
	Attributes int
	Ownerships int
	Relations  int
}

// Load reads the knowledge base, builds the schema, opens the backend and
// seeds it. The caller owns the backend.
func (l *Loader) Load(ctx context.Context) (*Components, error) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if l.KnowledgeBasePath == "" {
		return nil, fmt.Errorf("load knowledge base: no path given")
	}
	kb, err := LoadKnowledgeBase(l.KnowledgeBasePath)
	if err != nil {
		return nil, fmt.Errorf("load knowledge base: %w", err)
	}
	if l.Backend != "" {
		kb.Reasoner.Backend = l.Backend
	}
	if l.Path != "" {
		kb.Reasoner.Path = l.Path
	}
	if err := kb.Reasoner.Validate(); err != nil {
		return nil, err
	}

	s, err := kb.BuildSchema()
	if err != nil {
		return nil, fmt.Errorf("build schema: %w", err)
	}
	backend, err := OpenBackend(ctx, kb.Reasoner, logger)
	if err != nil {
		return nil, fmt.Errorf("open backend: %w", err)
	}
	comp := &Components{KnowledgeBase: kb, Schema: s, Backend: backend}
	if l.SkipSeed {
		return comp, nil
	}

	stats, err := Seed(ctx, store.NewEngine(backend, s, logger), kb.Data)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("seed data: %w", err)
	}
	comp.Seeded = stats
	logger.Info("knowledge base loaded",
		slog.String("backend", kb.Reasoner.Backend),
		slog.Int("types", len(kb.Schema.Types)),
		slog.Int("rules", len(s.Rules())),
		slog.Int("entities", stats.Entities),
		slog.Int("relations", stats.Relations))
	return comp, nil
}

// Options returns reasoner options for the loaded components.
func (c *Components) Options(logger *slog.Logger) reasoner.Options {
	r := c.KnowledgeBase.Reasoner.WithDefaults()
	return reasoner.Options{
		Backend:       c.Backend,
		Schema:        c.Schema,
		Logger:        logger,
		Materialise:   *r.Materialise,
		Reiterate:     *r.Reiterate,
		MaxPasses:     r.MaxPasses,
		PlanCacheSize: r.PlanCacheSize,
	}
}

// OpenBackend opens the backend named by spec.
func OpenBackend(ctx context.Context, spec ReasonerSpec, logger *slog.Logger) (store.Backend, error) {
	switch spec.Backend {
	case "", BackendMemory:
		return memstore.New(), nil
	case BackendSQLite:
		return sqlite.OpenSQLite(ctx, spec.Path)
	case BackendBadger:
		cfg := badger.DefaultConfig(spec.Path)
		cfg.Logger = logger
		return badger.Open(cfg)
	}
	return nil, fmt.Errorf("unknown backend %q", spec.Backend)
}

// Seed inserts the data section. Re-seeding the same data is a no-op apart
// from relations without ids, which are matched by their role players.
func Seed(ctx context.Context, e *store.Engine, data DataSpec) (SeedStats, error) {
	var stats SeedStats
	for _, es := range data.Entities {
		if _, err := e.PutEntity(ctx, concept.ID(es.ID), es.Type); err != nil {
			return stats, err
		}
		stats.Entities++
	}
	for _, as := range data.Attributes {
		attr, err := e.PutAttribute(ctx, as.Type, as.Value)
		if err != nil {
			return stats, err
		}
		stats.Attributes++
		for _, owner := range as.Owners {
			if err := e.PutOwnership(ctx, concept.ID(owner), attr.ID); err != nil {
				return stats, fmt.Errorf("%s owns %s: %w", owner, attr, err)
			}
			stats.Ownerships++
		}
	}
	for _, rs := range data.Relations {
		castings := make([]store.Casting, 0, len(rs.Players))
		for _, p := range rs.Players {
			castings = append(castings, store.Casting{Role: p.Role, Player: concept.ID(p.Player)})
		}
		if _, err := e.PutRelationWithID(ctx, concept.ID(rs.ID), rs.Type, castings); err != nil {
			return stats, err
		}
		stats.Relations++
	}
	return stats, nil
}
