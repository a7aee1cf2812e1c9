// Package docstore persists JSON documents grouped in collections, using
// SQLite.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/neulab/pr-arena/pkg/eventbus"
)

// Collections used by the arena.
const (
	IssueCollection    = "issue_collection"
	UserDataCollection = "userdata_collection"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

// Document is a stored document with its bookkeeping columns.
type Document struct {
	Collection string
	ID         string
	Data       map[string]any
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Store manages documents in SQLite and publishes every write on a bus.
type Store struct {
	db  *sql.DB
	bus eventbus.Bus

	// mu serialises read-modify-write cycles within this process.
	mu sync.Mutex

	pollInterval time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithPollInterval sets how often watchers look for writes made by other
// processes (default 2s).
func WithPollInterval(d time.Duration) Option {
	return func(s *Store) { s.pollInterval = d }
}

// Open opens (or creates) a SQLite database at the given path. Writes are
// announced on bus; a nil bus gets a private in-memory one.
func Open(dbPath string, bus eventbus.Bus, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	if bus == nil {
		bus = eventbus.NewInMemoryBus()
	}
	s := &Store{db: db, bus: bus, pollInterval: 2 * time.Second}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id         TEXT NOT NULL,
			data       TEXT NOT NULL,
			version    INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (collection, id)
		);

		CREATE INDEX IF NOT EXISTS idx_documents_updated
			ON documents(collection, updated_at);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Bus returns the bus writes are published on.
func (s *Store) Bus() eventbus.Bus { return s.bus }

// Get returns the document data, or ErrNotFound.
func (s *Store) Get(ctx context.Context, collection, id string) (map[string]any, error) {
	doc, err := s.get(ctx, s.db, collection, id)
	if err != nil {
		return nil, err
	}
	return doc.Data, nil
}

// GetDocument returns the document with its bookkeeping columns.
func (s *Store) GetDocument(ctx context.Context, collection, id string) (*Document, error) {
	return s.get(ctx, s.db, collection, id)
}

// Set replaces the document with data. data may be a map or any value that
// encodes to a JSON object.
func (s *Store) Set(ctx context.Context, collection, id string, data any) error {
	m, err := toMap(data)
	if err != nil {
		return err
	}
	return s.write(ctx, collection, id, func(map[string]any, bool) (map[string]any, error) {
		return m, nil
	})
}

// SetMerge deep-merges data into the document, creating it when absent.
// Nested objects are merged key by key; other values are replaced.
func (s *Store) SetMerge(ctx context.Context, collection, id string, data any) error {
	m, err := toMap(data)
	if err != nil {
		return err
	}
	return s.write(ctx, collection, id, func(cur map[string]any, _ bool) (map[string]any, error) {
		if cur == nil {
			cur = map[string]any{}
		}
		mergeMaps(cur, m)
		return cur, nil
	})
}

// Update sets individual fields addressed by dotted paths such as
// "selections.<id>.isLatest". The document must exist.
func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	norm := make(map[string]any, len(fields))
	for path, v := range fields {
		nv, err := normalize(v)
		if err != nil {
			return fmt.Errorf("field %s: %w", path, err)
		}
		norm[path] = nv
	}
	return s.write(ctx, collection, id, func(cur map[string]any, exists bool) (map[string]any, error) {
		if !exists {
			return nil, ErrNotFound
		}
		for path, v := range norm {
			setPath(cur, strings.Split(path, "."), v)
		}
		return cur, nil
	})
}

// Mutate runs fn on the current document inside a transaction and stores
// the map it returns. exists reports whether the document was present.
func (s *Store) Mutate(ctx context.Context, collection, id string, fn func(cur map[string]any, exists bool) (map[string]any, error)) error {
	return s.write(ctx, collection, id, fn)
}

// List returns every document in a collection, newest first.
func (s *Store) List(ctx context.Context, collection string) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT collection, id, data, version, created_at, updated_at
		 FROM documents WHERE collection = ?
		 ORDER BY created_at DESC, id ASC`, collection,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *Store) write(ctx context.Context, collection, id string, fn func(map[string]any, bool) (map[string]any, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var cur map[string]any
	var version int64
	exists := true
	doc, err := s.get(ctx, tx, collection, id)
	switch {
	case errors.Is(err, ErrNotFound):
		exists = false
	case err != nil:
		return err
	default:
		cur, version = doc.Data, doc.Version
	}

	next, err := fn(cur, exists)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encoding document %s/%s: %w", collection, id, err)
	}

	now := time.Now().UTC()
	if exists {
		_, err = tx.ExecContext(ctx,
			`UPDATE documents SET data = ?, version = ?, updated_at = ?
			 WHERE collection = ? AND id = ?`,
			string(raw), version+1, now, collection, id,
		)
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO documents (collection, id, data, version, created_at, updated_at)
			 VALUES (?, ?, ?, 1, ?, ?)`,
			collection, id, string(raw), now, now,
		)
	}
	if err != nil {
		return fmt.Errorf("writing document %s/%s: %w", collection, id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing document %s/%s: %w", collection, id, err)
	}

	// Publish a private copy so subscribers cannot race with later writes.
	snapshot, _ := decodeMap(raw)
	change := &eventbus.Change{
		Collection: collection,
		ID:         id,
		Data:       snapshot,
		Version:    version + 1,
		UpdatedAt:  now,
	}
	s.bus.Publish(change.Key(), change)
	return nil
}

// --- Scan helpers ---

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scannable interface {
	Scan(dest ...any) error
}

func (s *Store) get(ctx context.Context, q queryer, collection, id string) (*Document, error) {
	row := q.QueryRowContext(ctx,
		`SELECT collection, id, data, version, created_at, updated_at
		 FROM documents WHERE collection = ? AND id = ?`, collection, id,
	)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return doc, err
}

func scanDocument(row scannable) (*Document, error) {
	doc := &Document{}
	var raw string
	if err := row.Scan(&doc.Collection, &doc.ID, &raw, &doc.Version, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	data, err := decodeMap([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("decoding document %s/%s: %w", doc.Collection, doc.ID, err)
	}
	doc.Data = data
	return doc, nil
}

// --- Map helpers ---

func decodeMap(raw []byte) (map[string]any, error) {
	m := map[string]any{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// toMap converts v into a JSON object map.
func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	m, err := decodeMap(raw)
	if err != nil {
		return nil, fmt.Errorf("document must encode to a JSON object: %w", err)
	}
	return m, nil
}

// normalize converts v into the plain JSON value form stored documents use.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func mergeMaps(dst, src map[string]any) {
	for k, v := range src {
		sv, sok := v.(map[string]any)
		dv, dok := dst[k].(map[string]any)
		if sok && dok {
			mergeMaps(dv, sv)
			continue
		}
		dst[k] = v
	}
}

func setPath(m map[string]any, path []string, v any) {
	for _, p := range path[:len(path)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[p] = next
		}
		m = next
	}
	m[path[len(path)-1]] = v
}

// Decode converts document data into v, which should be a pointer to a
// struct with json tags.
func Decode(data map[string]any, v any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
