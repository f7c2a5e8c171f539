package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver, no cgo
)

// DocumentStore is the external persistence sink referenced by §6. The
// real implementation (a managed document store) is explicitly out of
// scope for this repo (§1 "Deliberately out of scope" /
// "external document-store client used only as a persistence sink");
// the core only ever talks to this interface. memDocumentStore below
// is a minimal in-process stand-in so the core is runnable and
// testable without that external collaborator.
type DocumentStore interface {
	GetDocument(path string) (map[string]any, error)
	SetDocument(path string, data map[string]any, merge bool) error
	UpdateDocument(path string, data map[string]any, updateMask []string) error
	DeleteDocument(path string) error
	QueryDocuments(collection string, filters map[string]any) ([]map[string]any, error)
	BatchWrite(ops []DocumentOp) error
}

// DocumentOp is one operation in a DocumentStore.BatchWrite call.
type DocumentOp struct {
	Path  string
	Data  map[string]any
	Merge bool
}

type memDocumentStore struct {
	mu   sync.Mutex
	docs map[string]map[string]any
}

func newMemDocumentStore() *memDocumentStore {
	return &memDocumentStore{docs: make(map[string]map[string]any)}
}

func (m *memDocumentStore) GetDocument(path string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[path]
	if !ok {
		return nil, nil
	}
	cp := make(map[string]any, len(doc))
	for k, v := range doc {
		cp[k] = v
	}
	return cp, nil
}

func (m *memDocumentStore) SetDocument(path string, data map[string]any, merge bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !merge || m.docs[path] == nil {
		m.docs[path] = map[string]any{}
	}
	for k, v := range data {
		m.docs[path][k] = v
	}
	return nil
}

func (m *memDocumentStore) UpdateDocument(path string, data map[string]any, updateMask []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[path]
	if !ok {
		return fmt.Errorf("persistence: document %q does not exist", path)
	}
	if len(updateMask) == 0 {
		for k, v := range data {
			doc[k] = v
		}
		return nil
	}
	for _, field := range updateMask {
		if v, ok := data[field]; ok {
			doc[field] = v
		}
	}
	return nil
}

func (m *memDocumentStore) DeleteDocument(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, path)
	return nil
}

func (m *memDocumentStore) QueryDocuments(collection string, filters map[string]any) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []map[string]any
	for path, doc := range m.docs {
		if !pathInCollection(path, collection) {
			continue
		}
		if documentMatches(doc, filters) {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (m *memDocumentStore) BatchWrite(ops []DocumentOp) error {
	for _, op := range ops {
		if err := m.SetDocument(op.Path, op.Data, op.Merge); err != nil {
			return err
		}
	}
	return nil
}

func pathInCollection(path, collection string) bool {
	for i := 0; i+len(collection) <= len(path); i++ {
		if path[i:i+len(collection)] == collection {
			return true
		}
	}
	return false
}

func documentMatches(doc map[string]any, filters map[string]any) bool {
	for k, v := range filters {
		if doc[k] != v {
			return false
		}
	}
	return true
}

// snapshotStore is this repo's own durability mechanism (§5
// "Durability"): GameRoom/LobbyRoom/Matchmaker snapshot their state
// here after every authoritative mutation so an evicted actor can be
// rehydrated. It is distinct from DocumentStore, which models the
// out-of-scope external match-history/ratings sink.
type snapshotStore struct {
	db *sql.DB
}

func openSnapshotStore(path string) (*snapshotStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("snapshot store: cannot open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("snapshot store: cannot connect: %w", err)
	}

	s := &snapshotStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *snapshotStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS actor_snapshots (
			actor_kind TEXT NOT NULL,
			actor_id   TEXT NOT NULL,
			data       TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (actor_kind, actor_id)
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save last-writer-wins upserts a JSON-encoded snapshot for the given
// actor. Concurrent updates to the same actor are rare in practice
// (§5 "Shared-resource policy") because an actor is single-threaded
// from its own event loop; this tolerates the race regardless.
func (s *snapshotStore) Save(kind, id string, v any) error {
	blob, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO actor_snapshots (actor_kind, actor_id, data, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(actor_kind, actor_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		kind, id, string(blob), time.Now().UTC(),
	)
	return err
}

func (s *snapshotStore) Load(kind, id string, v any) (bool, error) {
	var blob string
	err := s.db.QueryRow(
		`SELECT data FROM actor_snapshots WHERE actor_kind = ? AND actor_id = ?`,
		kind, id,
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal([]byte(blob), v)
}

func (s *snapshotStore) Delete(kind, id string) error {
	_, err := s.db.Exec(`DELETE FROM actor_snapshots WHERE actor_kind = ? AND actor_id = ?`, kind, id)
	return err
}

func (s *snapshotStore) Close() error {
	return s.db.Close()
}
