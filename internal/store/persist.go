package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	// Embedded sqlite, no cgo.
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/AlexKenbo/book-club/internal/model"
)

// persistence is the on-disk side of the store: one sqlite file holding
// every collection plus replication checkpoints. A nil *persistence
// means memory-only mode.
type persistence struct {
	conn *sql.DB
	log  *zap.Logger
}

func openPersistence(path string, log *zap.Logger) (*persistence, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	// WAL keeps readers unblocked during write-through.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = conn.Close()
		return nil, err
	}
	q := `
CREATE TABLE IF NOT EXISTS checkpoints (
	collection TEXT PRIMARY KEY,
	last_id TEXT NOT NULL,
	last_modified TEXT NOT NULL
)`
	if _, err := conn.Exec(q); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &persistence{conn: conn, log: log.Named("persist")}, nil
}

func docsTable(collection string) string {
	return "docs_" + collection
}

func (p *persistence) ensureCollection(collection string) error {
	q := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	doc TEXT NOT NULL,
	schema_version INTEGER NOT NULL DEFAULT 0
)`, docsTable(collection))
	_, err := p.conn.Exec(q)
	return err
}

type persistedDoc struct {
	doc     model.Document
	version int
}

func (p *persistence) loadDocs(collection string) (map[string]persistedDoc, error) {
	rows, err := p.conn.Query(fmt.Sprintf("SELECT id, doc, schema_version FROM %s", docsTable(collection)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]persistedDoc)
	for rows.Next() {
		var (
			id, raw string
			version int
		)
		if err := rows.Scan(&id, &raw, &version); err != nil {
			return nil, err
		}
		var doc model.Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			p.log.Warn("skip corrupted document", zap.String("collection", collection), zap.String("id", id), zap.Error(err))
			continue
		}
		out[id] = persistedDoc{doc: doc, version: version}
	}
	return out, rows.Err()
}

func (p *persistence) saveDoc(collection, id string, doc model.Document, version int) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`
INSERT INTO %s (id, doc, schema_version) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET doc = excluded.doc, schema_version = excluded.schema_version`,
		docsTable(collection))
	_, err = p.conn.Exec(q, id, string(raw), version)
	return err
}

func (p *persistence) deleteDoc(collection, id string) error {
	_, err := p.conn.Exec(fmt.Sprintf("DELETE FROM %s WHERE id = ?", docsTable(collection)), id)
	return err
}

func (p *persistence) loadCheckpoint(collection string) (model.Checkpoint, error) {
	var cp model.Checkpoint
	row := p.conn.QueryRow("SELECT last_id, last_modified FROM checkpoints WHERE collection = ?", collection)
	if err := row.Scan(&cp.LastID, &cp.LastModifiedAt); err != nil {
		if err == sql.ErrNoRows {
			return model.Checkpoint{}, nil
		}
		return model.Checkpoint{}, err
	}
	return cp, nil
}

func (p *persistence) saveCheckpoint(collection string, cp model.Checkpoint) error {
	q := `
INSERT INTO checkpoints (collection, last_id, last_modified) VALUES (?, ?, ?)
ON CONFLICT(collection) DO UPDATE SET last_id = excluded.last_id, last_modified = excluded.last_modified`
	_, err := p.conn.Exec(q, collection, cp.LastID, cp.LastModifiedAt)
	return err
}

// destroy drops every table the store owns. Used by the full reset.
func (p *persistence) destroy(collections []string) error {
	for _, c := range collections {
		if _, err := p.conn.Exec("DROP TABLE IF EXISTS " + docsTable(c)); err != nil {
			return err
		}
	}
	_, err := p.conn.Exec("DELETE FROM checkpoints")
	return err
}

func (p *persistence) close() error {
	return p.conn.Close()
}
