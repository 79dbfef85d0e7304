package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/cognicore/graphreason/pkg/reasoner/concept"
	"github.com/cognicore/graphreason/pkg/reasoner/internalerr"
	"github.com/cognicore/graphreason/pkg/reasoner/store"
)

// sqliteStore implements store.Backend using SQLite
type sqliteStore struct {
	db *sql.DB
}

// OpenSQLite opens a SQLite database with WAL mode enabled.
func OpenSQLite(ctx context.Context, path string) (store.Backend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, internalerr.ErrStoreUnavailable)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, err
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteStore{db: db}, nil
}

// Close closes the database connection
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS concepts (
	id TEXT PRIMARY KEY,
	kind INTEGER NOT NULL,
	type TEXT NOT NULL,
	value_type TEXT NOT NULL DEFAULT '',
	value TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_concepts_type ON concepts(type);
CREATE INDEX IF NOT EXISTS idx_concepts_value ON concepts(type, value);

CREATE TABLE IF NOT EXISTS castings (
	relation_id TEXT NOT NULL,
	role TEXT NOT NULL,
	player_id TEXT NOT NULL,
	UNIQUE(relation_id, role, player_id),
	FOREIGN KEY(relation_id) REFERENCES concepts(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_castings_player ON castings(player_id);

CREATE TABLE IF NOT EXISTS ownerships (
	owner_id TEXT NOT NULL,
	attribute_id TEXT NOT NULL,
	PRIMARY KEY(owner_id, attribute_id),
	FOREIGN KEY(attribute_id) REFERENCES concepts(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_ownerships_attribute ON ownerships(attribute_id);
`

	_, err := db.ExecContext(ctx, schema)
	return err
}

const conceptColumns = `id, kind, type, value_type, value`

func scanConcept(row interface{ Scan(...any) error }) (concept.Concept, error) {
	var (
		c         concept.Concept
		kind      int
		valueType string
		value     string
	)
	if err := row.Scan(&c.ID, &kind, &c.Type, &valueType, &value); err != nil {
		return concept.Concept{}, err
	}
	c.Kind = concept.Kind(kind)
	v, err := store.DecodeValue(valueType, value)
	if err != nil {
		return concept.Concept{}, err
	}
	c.Value = v
	return c, nil
}

// GetConcept returns a concept by id.
func (s *sqliteStore) GetConcept(ctx context.Context, id concept.ID) (concept.Concept, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conceptColumns+` FROM concepts WHERE id = ?`, string(id))
	c, err := scanConcept(row)
	if errors.Is(err, sql.ErrNoRows) {
		return concept.Concept{}, false, nil
	}
	if err != nil {
		return concept.Concept{}, false, err
	}
	return c, true, nil
}

// InstancesOf returns the concepts of the given direct types.
func (s *sqliteStore) InstancesOf(ctx context.Context, types []string) ([]concept.Concept, error) {
	if len(types) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(types))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(types))
	for i, t := range types {
		args[i] = t
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conceptColumns+` FROM concepts WHERE type IN (`+placeholders+`) ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []concept.Concept
	for rows.Next() {
		c, err := scanConcept(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Castings returns the role players of a relation.
func (s *sqliteStore) Castings(ctx context.Context, relation concept.ID) ([]store.Casting, error) {
	return s.queryCastings(ctx, `SELECT relation_id, role, player_id FROM castings WHERE relation_id = ? ORDER BY rowid`, string(relation))
}

// CastingsByPlayer returns the castings a concept takes part in.
func (s *sqliteStore) CastingsByPlayer(ctx context.Context, player concept.ID) ([]store.Casting, error) {
	return s.queryCastings(ctx, `SELECT relation_id, role, player_id FROM castings WHERE player_id = ? ORDER BY rowid`, string(player))
}

func (s *sqliteStore) queryCastings(ctx context.Context, q string, arg string) ([]store.Casting, error) {
	rows, err := s.db.QueryContext(ctx, q, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Casting
	for rows.Next() {
		var c store.Casting
		if err := rows.Scan(&c.Relation, &c.Role, &c.Player); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Attributes returns the attributes of owner.
func (s *sqliteStore) Attributes(ctx context.Context, owner concept.ID) ([]concept.Concept, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT c.id, c.kind, c.type, c.value_type, c.value
FROM ownerships o JOIN concepts c ON c.id = o.attribute_id
WHERE o.owner_id = ?
ORDER BY c.id
`, string(owner))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []concept.Concept
	for rows.Next() {
		c, err := scanConcept(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Owners returns the owners of an attribute.
func (s *sqliteStore) Owners(ctx context.Context, attribute concept.ID) ([]concept.ID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT owner_id FROM ownerships WHERE attribute_id = ? ORDER BY owner_id`, string(attribute))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []concept.ID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, concept.ID(id))
	}
	return out, rows.Err()
}

// AttributeByValue finds an attribute by type and value.
func (s *sqliteStore) AttributeByValue(ctx context.Context, typ string, value any) (concept.Concept, bool, error) {
	_, text, err := store.EncodeValue(value)
	if err != nil {
		return concept.Concept{}, false, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conceptColumns+` FROM concepts WHERE type = ? AND kind = ? AND value = ? ORDER BY id LIMIT 1`,
		typ, int(concept.KindAttribute), text)
	c, err := scanConcept(row)
	if errors.Is(err, sql.ErrNoRows) {
		return concept.Concept{}, false, nil
	}
	if err != nil {
		return concept.Concept{}, false, err
	}
	return c, true, nil
}

// PutConcept inserts or replaces a concept.
func (s *sqliteStore) PutConcept(ctx context.Context, c concept.Concept) error {
	if c.ID == "" {
		return internalerr.ErrInvalidInput
	}
	valueType, text, err := store.EncodeValue(c.Value)
	if err != nil {
		return err
	}

	const stmt = `
INSERT INTO concepts (id, kind, type, value_type, value)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	kind=excluded.kind,
	type=excluded.type,
	value_type=excluded.value_type,
	value=excluded.value;
`
	_, err = s.db.ExecContext(ctx, stmt, string(c.ID), int(c.Kind), c.Type, valueType, text)
	return err
}

// PutCasting adds a role player to a relation.
func (s *sqliteStore) PutCasting(ctx context.Context, c store.Casting) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM concepts WHERE id = ?`, string(c.Relation)).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("relation %s: %w", c.Relation, internalerr.ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO castings (relation_id, role, player_id) VALUES (?, ?, ?)`,
		string(c.Relation), c.Role, string(c.Player)); err != nil {
		return err
	}
	return tx.Commit()
}

// PutOwnership links an owner to an attribute.
func (s *sqliteStore) PutOwnership(ctx context.Context, o store.Ownership) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM concepts WHERE id = ?`, string(o.Attribute)).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("attribute %s: %w", o.Attribute, internalerr.ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO ownerships (owner_id, attribute_id) VALUES (?, ?)`,
		string(o.Owner), string(o.Attribute)); err != nil {
		return err
	}
	return tx.Commit()
}
