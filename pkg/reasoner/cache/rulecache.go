package cache

import (
	"context"

	"github.com/cognicore/graphreason/pkg/reasoner/query"
	"github.com/cognicore/graphreason/pkg/reasoner/rule"
	"github.com/cognicore/graphreason/pkg/reasoner/schema"
)

// RuleCache remembers rules whose bodies were resolved without bindings and
// produced nothing. Such rules cannot contribute until the data changes, so
// they are skipped for the rest of the transaction. Rules whose bodies reach
// other rules are never marked.
type RuleCache struct {
	schema    *schema.Schema
	fruitless map[string]bool
	skipped   int64
}

// NewRuleCache creates an empty rule cache.
func NewRuleCache(s *schema.Schema) *RuleCache {
	return &RuleCache{schema: s, fruitless: make(map[string]bool)}
}

// Applicable returns the candidate rules for atom, minus fruitless ones.
func (c *RuleCache) Applicable(ctx context.Context, atom query.Atom) []*rule.InferenceRule {
	var out []*rule.InferenceRule
	for _, r := range c.schema.RulesFor(atom) {
		if c.fruitless[r.Label()] {
			c.skipped++
			recordHit(ctx, LayerRule)
			continue
		}
		out = append(out, r)
	}
	return out
}

// CanBeFruitless reports whether r's body is answered from stored data only.
func (c *RuleCache) CanBeFruitless(r *rule.InferenceRule) bool {
	if c.schema.IsRecursive(r.Label()) {
		return false
	}
	for _, a := range r.BodyAtoms() {
		if c.schema.IsRuleResolvable(a) {
			return false
		}
	}
	if cq, ok := r.Body().(*query.CompositeQuery); ok {
		for _, n := range cq.Negated() {
			for _, a := range n.Atoms() {
				if c.schema.IsRuleResolvable(a) {
					return false
				}
			}
		}
	}
	return true
}

// MarkFruitless records that r's unbound body has no answers. It refuses
// rules whose bodies depend on other rules and reports whether r was marked.
func (c *RuleCache) MarkFruitless(r *rule.InferenceRule) bool {
	if !c.CanBeFruitless(r) {
		return false
	}
	if c.fruitless[r.Label()] {
		return false
	}
	c.fruitless[r.Label()] = true
	return true
}

// IsFruitless reports whether the rule has been marked.
func (c *RuleCache) IsFruitless(label string) bool { return c.fruitless[label] }

// Len returns the number of fruitless rules.
func (c *RuleCache) Len() int { return len(c.fruitless) }

// Skipped returns how many rule applications were avoided.
func (c *RuleCache) Skipped() int64 { return c.skipped }
