package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/cobquec/internal/corpus"
	"github.com/roach88/cobquec/internal/ir"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - no schema
// 1 - corpora table
const currentSchemaVersion = 1

// ErrNotFound is returned by Get for an unregistered corpus.
var ErrNotFound = errors.New("corpus not found")

// Catalog stores corpus descriptors in a SQLite database.
type Catalog struct {
	db *sql.DB
}

// Entry is a registered corpus.
type Entry struct {
	Name   string
	Schema string
	Config *corpus.Config

	// Hash is the content hash of the canonical descriptor; Revision counts
	// the distinct descriptors registered under Name.
	Hash     string
	Revision int
}

// Summary is an Entry without its descriptor.
type Summary struct {
	Name     string `json:"name"`
	Schema   string `json:"schema"`
	Hash     string `json:"hash"`
	Revision int    `json:"revision"`
}

// Open creates or opens the catalog database at path. ":memory:" opens a
// private in-memory catalog.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to catalog: %w", err)
	}

	// SQLite supports one writer; a single connection also keeps an
	// in-memory database alive for the lifetime of the catalog.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db, path); err != nil {
		db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	slog.Debug("catalog opened", "path", path)
	return &Catalog{db: db}, nil
}

// Close closes the database.
func (c *Catalog) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

func applyPragmas(db *sql.DB, path string) error {
	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	if path != ":memory:" {
		pragmas = append([]string{"PRAGMA journal_mode = WAL"}, pragmas...)
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply catalog schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Put registers cfg under name. The descriptor is validated first.
// Registering a different descriptor under an existing name replaces it
// and bumps the revision; registering the same one is a no-op.
func (c *Catalog) Put(ctx context.Context, name, schema string, cfg *corpus.Config) (Summary, error) {
	if name == "" {
		return Summary{}, fmt.Errorf("put corpus: empty name")
	}
	if schema == "" {
		return Summary{}, fmt.Errorf("put corpus %s: empty schema", name)
	}
	if err := cfg.Validate(); err != nil {
		return Summary{}, fmt.Errorf("put corpus %s: %w", name, err)
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return Summary{}, fmt.Errorf("put corpus %s: %w", name, err)
	}
	canonical, err := ir.Canonicalize(raw)
	if err != nil {
		return Summary{}, fmt.Errorf("put corpus %s: %w", name, err)
	}
	hash, err := ir.CorpusHash(canonical)
	if err != nil {
		return Summary{}, fmt.Errorf("put corpus %s: %w", name, err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO corpora (name, schema_name, descriptor, descriptor_hash, revision)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(name) DO UPDATE SET
			schema_name = excluded.schema_name,
			descriptor = excluded.descriptor,
			revision = corpora.revision + (corpora.descriptor_hash != excluded.descriptor_hash),
			descriptor_hash = excluded.descriptor_hash
	`, name, schema, string(canonical), hash)
	if err != nil {
		return Summary{}, fmt.Errorf("put corpus %s: %w", name, err)
	}

	var s Summary
	err = c.db.QueryRowContext(ctx, `
		SELECT name, schema_name, descriptor_hash, revision FROM corpora WHERE name = ?
	`, name).Scan(&s.Name, &s.Schema, &s.Hash, &s.Revision)
	if err != nil {
		return Summary{}, fmt.Errorf("put corpus %s: %w", name, err)
	}
	slog.Debug("corpus registered", "name", name, "schema", schema, "revision", s.Revision)
	return s, nil
}

// Get returns the corpus registered under name, or ErrNotFound.
func (c *Catalog) Get(ctx context.Context, name string) (*Entry, error) {
	var e Entry
	var descriptor string
	err := c.db.QueryRowContext(ctx, `
		SELECT name, schema_name, descriptor, descriptor_hash, revision FROM corpora WHERE name = ?
	`, name).Scan(&e.Name, &e.Schema, &descriptor, &e.Hash, &e.Revision)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get corpus %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get corpus %s: %w", name, err)
	}
	cfg, err := corpus.Parse([]byte(descriptor))
	if err != nil {
		return nil, fmt.Errorf("get corpus %s: %w", name, err)
	}
	e.Config = cfg
	return &e, nil
}

// List returns every registered corpus ordered by name.
func (c *Catalog) List(ctx context.Context) ([]Summary, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT name, schema_name, descriptor_hash, revision FROM corpora
		ORDER BY name COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list corpora: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.Name, &s.Schema, &s.Hash, &s.Revision); err != nil {
			return nil, fmt.Errorf("list corpora: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list corpora: %w", err)
	}
	return out, nil
}
