// Package config reads knowledge bases and query patterns from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/graphreason/pkg/reasoner/concept"
	"github.com/cognicore/graphreason/pkg/reasoner/internalerr"
	"github.com/cognicore/graphreason/pkg/reasoner/query"
	"github.com/cognicore/graphreason/pkg/reasoner/resolution"
	"github.com/cognicore/graphreason/pkg/reasoner/rule"
	"github.com/cognicore/graphreason/pkg/reasoner/schema"
)

// Backend names accepted in the reasoner section.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// KnowledgeBase is a schema, its rules, seed data and reasoner options.
type KnowledgeBase struct {
	Schema   SchemaSpec   `yaml:"schema"`
	Rules    []RuleSpec   `yaml:"rules"`
	Data     DataSpec     `yaml:"data"`
	Reasoner ReasonerSpec `yaml:"reasoner"`
}

// SchemaSpec declares roles and types.
type SchemaSpec struct {
	Roles []RoleSpec `yaml:"roles"`
	Types []TypeSpec `yaml:"types"`
}

// RoleSpec declares a role.
type RoleSpec struct {
	Label string `yaml:"label"`
	Sup   string `yaml:"sup"`
}

// TypeSpec declares an entity, relation or attribute type.
type TypeSpec struct {
	Label     string   `yaml:"label"`
	Kind      string   `yaml:"kind"`
	Sup       string   `yaml:"sup"`
	ValueType string   `yaml:"value_type"`
	Plays     []string `yaml:"plays"`
	Relates   []string `yaml:"relates"`
}

// RuleSpec is `when { pattern } then { atom }`. Value gives the constant a
// has head asserts.
type RuleSpec struct {
	Label string      `yaml:"label"`
	When  PatternSpec `yaml:"when"`
	Then  AtomSpec    `yaml:"then"`
	Value any         `yaml:"value"`
}

// DataSpec is the seed data.
type DataSpec struct {
	Entities   []EntitySpec    `yaml:"entities"`
	Attributes []AttributeSpec `yaml:"attributes"`
	Relations  []RelationSpec  `yaml:"relations"`
}

// EntitySpec is one entity instance.
type EntitySpec struct {
	ID   string `yaml:"id"`
	Type string `yaml:"type"`
}

// AttributeSpec is one attribute value and the concepts owning it.
type AttributeSpec struct {
	Type   string   `yaml:"type"`
	Value  any      `yaml:"value"`
	Owners []string `yaml:"owners"`
}

// RelationSpec is one relation instance. ID may be empty.
type RelationSpec struct {
	ID      string        `yaml:"id"`
	Type    string        `yaml:"type"`
	Players []CastingSpec `yaml:"players"`
}

// CastingSpec is one role player of a seeded relation.
type CastingSpec struct {
	Role   string `yaml:"role"`
	Player string `yaml:"player"`
}

// ReasonerSpec holds reasoner options. Pointer fields distinguish unset from
// false.
type ReasonerSpec struct {
	Backend       string `yaml:"backend"`
	Path          string `yaml:"path"`
	Reiterate     *bool  `yaml:"reiterate"`
	Materialise   *bool  `yaml:"materialise"`
	MaxPasses     int    `yaml:"max_passes"`
	PlanCacheSize int    `yaml:"plan_cache_size"`
}

// WithDefaults fills unset options.
func (r ReasonerSpec) WithDefaults() ReasonerSpec {
	if r.Backend == "" {
		r.Backend = BackendMemory
	}
	if r.Reiterate == nil {
		t := true
		r.Reiterate = &t
	}
	if r.Materialise == nil {
		t := true
		r.Materialise = &t
	}
	if r.MaxPasses <= 0 {
		r.MaxPasses = resolution.DefaultMaxPasses
	}
	return r
}

// Validate checks option values.
func (r ReasonerSpec) Validate() error {
	switch r.Backend {
	case "", BackendMemory:
	case BackendSQLite, BackendBadger:
		if r.Path == "" {
			return fmt.Errorf("%s backend needs a path: %w", r.Backend, internalerr.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("unknown backend %q: %w", r.Backend, internalerr.ErrInvalidConfig)
	}
	if r.MaxPasses < 0 || r.PlanCacheSize < 0 {
		return fmt.Errorf("negative limits: %w", internalerr.ErrInvalidConfig)
	}
	return nil
}

// LoadKnowledgeBase loads a knowledge base from a YAML file.
func LoadKnowledgeBase(path string) (*KnowledgeBase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseKnowledgeBase(data)
}

// ParseKnowledgeBase decodes a knowledge base document.
func ParseKnowledgeBase(data []byte) (*KnowledgeBase, error) {
	var kb KnowledgeBase
	if err := yaml.Unmarshal(data, &kb); err != nil {
		return nil, fmt.Errorf("parse knowledge base: %w", err)
	}
	if err := kb.Reasoner.Validate(); err != nil {
		return nil, err
	}
	kb.Reasoner = kb.Reasoner.WithDefaults()
	return &kb, nil
}

// BuildSchema builds the schema with the knowledge base's rules.
func (kb *KnowledgeBase) BuildSchema() (*schema.Schema, error) {
	b := schema.NewBuilder()
	for _, r := range kb.Schema.Roles {
		b.Role(schema.RoleDef{Label: r.Label, Sup: r.Sup})
	}
	for _, t := range kb.Schema.Types {
		kind, err := concept.ParseKind(t.Kind)
		if err != nil {
			return nil, fmt.Errorf("type %s: %w: %v", t.Label, internalerr.ErrInvalidConfig, err)
		}
		b.Type(schema.TypeDef{
			Label:     t.Label,
			Kind:      kind,
			Sup:       t.Sup,
			ValueType: t.ValueType,
			Plays:     t.Plays,
			Relates:   t.Relates,
		})
	}
	for _, rs := range kb.Rules {
		r, err := rs.Rule()
		if err != nil {
			return nil, err
		}
		b.Rule(r)
	}
	return b.Build()
}

// Rule builds the inference rule.
func (rs RuleSpec) Rule() (*rule.InferenceRule, error) {
	body, err := rs.When.Query()
	if err != nil {
		return nil, fmt.Errorf("rule %s body: %w", rs.Label, err)
	}
	head, err := rs.Then.Atom()
	if err != nil {
		return nil, fmt.Errorf("rule %s head: %w", rs.Label, err)
	}
	var values []query.ValuePredicate
	if rs.Value != nil {
		if head.Attr == "" {
			head.Attr = concept.Variable("_" + head.Type)
		}
		values = append(values, query.ValuePredicate{Var: head.Attr, Op: query.EQ, Value: rs.Value})
	}
	return rule.New(rs.Label, body, head, values...)
}
