// Package reasoner answers queries over a knowledge graph, including answers
// that only follow from chained rule application.
package reasoner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/cognicore/graphreason/pkg/reasoner/cache"
	"github.com/cognicore/graphreason/pkg/reasoner/concept"
	"github.com/cognicore/graphreason/pkg/reasoner/internalerr"
	"github.com/cognicore/graphreason/pkg/reasoner/query"
	"github.com/cognicore/graphreason/pkg/reasoner/resolution"
	"github.com/cognicore/graphreason/pkg/reasoner/schema"
	"github.com/cognicore/graphreason/pkg/reasoner/store"
)

// Options configures a Reasoner.
type Options struct {
	Backend store.Backend
	Schema  *schema.Schema
	Logger  *slog.Logger

	// Materialise persists derived relations and ownerships.
	Materialise bool
	// Reiterate runs recursive queries to a fixpoint.
	Reiterate bool
	// MaxPasses bounds reiteration; 0 means resolution.DefaultMaxPasses.
	MaxPasses int
	// PlanCacheSize enables a plan cache shared by all transactions.
	PlanCacheSize int
}

// DefaultOptions returns options with materialisation and reiteration on.
func DefaultOptions(b store.Backend, s *schema.Schema) Options {
	return Options{
		Backend:     b,
		Schema:      s,
		Materialise: true,
		Reiterate:   true,
		MaxPasses:   resolution.DefaultMaxPasses,
	}
}

// Reasoner is the main entry point.
type Reasoner struct {
	engine *store.Engine
	schema *schema.Schema
	plans  *cache.PlanCache
	logger *slog.Logger
	opts   Options
}

// New creates a Reasoner over the given backend and schema.
func New(opts Options) (*Reasoner, error) {
	if opts.Backend == nil || opts.Schema == nil {
		return nil, fmt.Errorf("reasoner needs a backend and a schema: %w", internalerr.ErrInvalidConfig)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reasoner{
		engine: store.NewEngine(opts.Backend, opts.Schema, logger),
		schema: opts.Schema,
		logger: logger,
		opts:   opts,
	}
	if opts.PlanCacheSize > 0 {
		plans, err := cache.NewPlanCache(opts.PlanCacheSize)
		if err != nil {
			return nil, err
		}
		r.plans = plans
	}
	return r, nil
}

// Engine returns the store engine, used to insert data.
func (r *Reasoner) Engine() *store.Engine { return r.engine }

// Schema returns the schema the reasoner was built with.
func (r *Reasoner) Schema() *schema.Schema { return r.schema }

// PlanCache returns the shared plan cache, nil when disabled.
func (r *Reasoner) PlanCache() *cache.PlanCache { return r.plans }

// Close closes the backend.
func (r *Reasoner) Close() error {
	return r.engine.Backend().Close()
}

// Begin opens a transaction. Its caches live until Close.
func (r *Reasoner) Begin(ctx context.Context) *Tx {
	id := uuid.New().String()
	logger := r.logger.With(slog.String("tx_id", id))
	structural := cache.NewStructuralCache(r.engine, r.schema, r.plans)
	tx := &Tx{
		id:     id,
		logger: logger,
		env: &resolution.Env{
			Schema:      r.schema,
			Store:       r.engine,
			Answers:     cache.NewAnswerCache(structural, r.schema, logger),
			Rules:       cache.NewRuleCache(r.schema),
			Logger:      logger,
			Materialise: r.opts.Materialise,
			Reiterate:   r.opts.Reiterate,
			MaxPasses:   r.opts.MaxPasses,
		},
	}
	logger.Debug("transaction opened")
	return tx
}

// Resolve answers q in a transaction of its own.
func (r *Reasoner) Resolve(ctx context.Context, q query.Query) ([]concept.Substitution, error) {
	tx := r.Begin(ctx)
	defer tx.Close()
	return tx.ResolveAll(ctx, q)
}

// Tx scopes the answer, plan and rule caches. Resolutions in the same Tx
// reuse each other's work. A Tx is not safe for concurrent use.
type Tx struct {
	id     string
	logger *slog.Logger
	env    *resolution.Env
	closed bool
}

// ID returns the transaction id.
func (tx *Tx) ID() string { return tx.id }

// Resolve returns the lazy answer stream of q.
func (tx *Tx) Resolve(ctx context.Context, q query.Query) (*resolution.Iterator, error) {
	if tx.closed {
		return nil, internalerr.ErrTxClosed
	}
	if q == nil {
		return nil, fmt.Errorf("nil query: %w", internalerr.ErrInvalidQuery)
	}
	tx.logger.Debug("resolving", slog.String("query", q.String()))
	return resolution.Resolve(ctx, tx.env, q), nil
}

// ResolveAll drains the answers of q.
func (tx *Tx) ResolveAll(ctx context.Context, q query.Query) ([]concept.Substitution, error) {
	it, err := tx.Resolve(ctx, q)
	if err != nil {
		return nil, err
	}
	answers, err := concept.Collect(it)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", q, err)
	}
	return answers, nil
}

// Stats returns the transaction's cache statistics.
func (tx *Tx) Stats() cache.Stats {
	s := tx.env.Answers.Stats()
	s.FruitlessRules = tx.env.Rules.Len()
	return s
}

// Close drops the transaction caches.
func (tx *Tx) Close() error {
	if tx.closed {
		return nil
	}
	tx.closed = true
	tx.logger.Debug("transaction closed", slog.Int("answers", tx.env.Answers.AnswerCount()))
	return nil
}
