// Package badger stores concepts in an embedded BadgerDB key-value store.
//
// Keys are prefix-partitioned so every Backend lookup is a prefix scan:
//
//	c\x00<id>                      concept record (JSON)
//	t\x00<type>\x00<id>            type index
//	r\x00<relation>\x00<role>\x00<player>  castings by relation
//	p\x00<player>\x00<relation>\x00<role>  castings by player
//	o\x00<owner>\x00<attribute>    ownerships by owner
//	a\x00<attribute>\x00<owner>    ownerships by attribute
//	v\x00<type>\x00<value>         attribute by value
package badger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	dgbadger "github.com/dgraph-io/badger/v4"

	"github.com/cognicore/graphreason/pkg/reasoner/concept"
	"github.com/cognicore/graphreason/pkg/reasoner/internalerr"
	"github.com/cognicore/graphreason/pkg/reasoner/store"
)

// Config holds configuration for a BadgerDB backend.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logs. Nil disables them.
	Logger *slog.Logger
}

// DefaultConfig returns defaults for a persistent database at path.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

type badgerStore struct {
	db *dgbadger.DB
}

// Open opens a BadgerDB backend. The caller must Close it.
func Open(cfg Config) (store.Backend, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("badger path is required: %w", internalerr.ErrInvalidConfig)
	}

	var opts dgbadger.Options
	if cfg.InMemory {
		opts = dgbadger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = dgbadger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w: %v", internalerr.ErrStoreUnavailable, err)
	}
	return &badgerStore{db: db}, nil
}

func (s *badgerStore) Close() error { return s.db.Close() }

type record struct {
	Kind      concept.Kind `json:"kind"`
	Type      string       `json:"type"`
	ValueType string       `json:"value_type,omitempty"`
	Value     string       `json:"value,omitempty"`
}

func key(parts ...string) []byte {
	var b bytes.Buffer
	for i, p := range parts {
		if i > 0 {
			b.WriteByte(0)
		}
		b.WriteString(p)
	}
	return b.Bytes()
}

// prefix is key(parts...) followed by the separator.
func prefix(parts ...string) []byte {
	return append(key(parts...), 0)
}

// suffixes returns the remainder of every key under p, split on the
// separator.
func suffixes(txn *dgbadger.Txn, p []byte) [][]string {
	opts := dgbadger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var out [][]string
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		rest := it.Item().KeyCopy(nil)[len(p):]
		parts := bytes.Split(rest, []byte{0})
		strs := make([]string, len(parts))
		for i, part := range parts {
			strs[i] = string(part)
		}
		out = append(out, strs)
	}
	return out
}

func getConcept(txn *dgbadger.Txn, id concept.ID) (concept.Concept, bool, error) {
	item, err := txn.Get(key("c", string(id)))
	if errors.Is(err, dgbadger.ErrKeyNotFound) {
		return concept.Concept{}, false, nil
	}
	if err != nil {
		return concept.Concept{}, false, err
	}
	var rec record
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
		return concept.Concept{}, false, err
	}
	v, err := store.DecodeValue(rec.ValueType, rec.Value)
	if err != nil {
		return concept.Concept{}, false, err
	}
	return concept.Concept{ID: id, Kind: rec.Kind, Type: rec.Type, Value: v}, true, nil
}

func (s *badgerStore) GetConcept(ctx context.Context, id concept.ID) (c concept.Concept, ok bool, err error) {
	err = s.db.View(func(txn *dgbadger.Txn) error {
		c, ok, err = getConcept(txn, id)
		return err
	})
	return c, ok, err
}

func (s *badgerStore) InstancesOf(ctx context.Context, types []string) ([]concept.Concept, error) {
	var out []concept.Concept
	err := s.db.View(func(txn *dgbadger.Txn) error {
		for _, t := range types {
			for _, parts := range suffixes(txn, prefix("t", t)) {
				if err := ctx.Err(); err != nil {
					return err
				}
				c, ok, err := getConcept(txn, concept.ID(parts[0]))
				if err != nil {
					return err
				}
				if ok {
					out = append(out, c)
				}
			}
		}
		return nil
	})
	return out, err
}

func (s *badgerStore) Castings(ctx context.Context, relation concept.ID) ([]store.Casting, error) {
	var out []store.Casting
	err := s.db.View(func(txn *dgbadger.Txn) error {
		for _, parts := range suffixes(txn, prefix("r", string(relation))) {
			if len(parts) != 2 {
				continue
			}
			out = append(out, store.Casting{Relation: relation, Role: parts[0], Player: concept.ID(parts[1])})
		}
		return nil
	})
	return out, err
}

func (s *badgerStore) CastingsByPlayer(ctx context.Context, player concept.ID) ([]store.Casting, error) {
	var out []store.Casting
	err := s.db.View(func(txn *dgbadger.Txn) error {
		for _, parts := range suffixes(txn, prefix("p", string(player))) {
			if len(parts) != 2 {
				continue
			}
			out = append(out, store.Casting{Relation: concept.ID(parts[0]), Role: parts[1], Player: player})
		}
		return nil
	})
	return out, err
}

func (s *badgerStore) Attributes(ctx context.Context, owner concept.ID) ([]concept.Concept, error) {
	var out []concept.Concept
	err := s.db.View(func(txn *dgbadger.Txn) error {
		for _, parts := range suffixes(txn, prefix("o", string(owner))) {
			c, ok, err := getConcept(txn, concept.ID(parts[0]))
			if err != nil {
				return err
			}
			if ok {
				out = append(out, c)
			}
		}
		return nil
	})
	return out, err
}

func (s *badgerStore) Owners(ctx context.Context, attribute concept.ID) ([]concept.ID, error) {
	var out []concept.ID
	err := s.db.View(func(txn *dgbadger.Txn) error {
		for _, parts := range suffixes(txn, prefix("a", string(attribute))) {
			out = append(out, concept.ID(parts[0]))
		}
		return nil
	})
	return out, err
}

func (s *badgerStore) AttributeByValue(ctx context.Context, typ string, value any) (c concept.Concept, ok bool, err error) {
	_, text, err := store.EncodeValue(value)
	if err != nil {
		return concept.Concept{}, false, err
	}
	err = s.db.View(func(txn *dgbadger.Txn) error {
		item, err := txn.Get(key("v", typ, text))
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		c, ok, err = getConcept(txn, concept.ID(id))
		return err
	})
	return c, ok, err
}

func (s *badgerStore) PutConcept(ctx context.Context, c concept.Concept) error {
	if c.ID == "" {
		return internalerr.ErrInvalidInput
	}
	valueType, text, err := store.EncodeValue(c.Value)
	if err != nil {
		return err
	}
	data, err := json.Marshal(record{Kind: c.Kind, Type: c.Type, ValueType: valueType, Value: text})
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *dgbadger.Txn) error {
		old, existed, err := getConcept(txn, c.ID)
		if err != nil {
			return err
		}
		if existed {
			if err := txn.Delete(key("t", old.Type, string(c.ID))); err != nil {
				return err
			}
			if old.Kind == concept.KindAttribute {
				_, oldText, err := store.EncodeValue(old.Value)
				if err != nil {
					return err
				}
				if err := txn.Delete(key("v", old.Type, oldText)); err != nil {
					return err
				}
			}
		}
		if err := txn.Set(key("c", string(c.ID)), data); err != nil {
			return err
		}
		if err := txn.Set(key("t", c.Type, string(c.ID)), nil); err != nil {
			return err
		}
		if c.Kind == concept.KindAttribute {
			return txn.Set(key("v", c.Type, text), []byte(c.ID))
		}
		return nil
	})
}

func (s *badgerStore) PutCasting(ctx context.Context, c store.Casting) error {
	return s.db.Update(func(txn *dgbadger.Txn) error {
		if _, ok, err := getConcept(txn, c.Relation); err != nil || !ok {
			if err == nil {
				err = fmt.Errorf("relation %s: %w", c.Relation, internalerr.ErrNotFound)
			}
			return err
		}
		if err := txn.Set(key("r", string(c.Relation), c.Role, string(c.Player)), nil); err != nil {
			return err
		}
		return txn.Set(key("p", string(c.Player), string(c.Relation), c.Role), nil)
	})
}

func (s *badgerStore) PutOwnership(ctx context.Context, o store.Ownership) error {
	return s.db.Update(func(txn *dgbadger.Txn) error {
		if _, ok, err := getConcept(txn, o.Attribute); err != nil || !ok {
			if err == nil {
				err = fmt.Errorf("attribute %s: %w", o.Attribute, internalerr.ErrNotFound)
			}
			return err
		}
		if err := txn.Set(key("o", string(o.Owner), string(o.Attribute)), nil); err != nil {
			return err
		}
		return txn.Set(key("a", string(o.Attribute), string(o.Owner)), nil)
	})
}
