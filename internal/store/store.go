// Package store implements the local document cache: validated
// per-entity collections with write-through sqlite persistence, a write
// log for push replication, and subscribe-able live queries.
package store

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/AlexKenbo/book-club/internal/model"
)

// Store owns every collection and the shared persistence handle.
type Store struct {
	log *zap.Logger
	p   *persistence // nil in memory-only mode

	mu          sync.RWMutex
	collections map[string]*Collection
}

// Open creates the store backed by a sqlite file. If the file cannot be
// opened the store degrades to memory-only mode and stays fully
// functional without durability, mirroring the host-storage fallback.
func Open(path string, log *zap.Logger) *Store {
	log = log.Named("store")
	s := &Store{
		log:         log,
		collections: make(map[string]*Collection),
	}
	if path == "" {
		log.Info("no store path configured, using memory storage")
		return s
	}
	p, err := openPersistence(path, log)
	if err != nil {
		log.Warn("sqlite unavailable, falling back to memory storage", zap.String("path", path), zap.Error(err))
		return s
	}
	log.Info("sqlite storage ready", zap.String("path", path))
	s.p = p
	return s
}

// Persistent reports whether documents survive a restart.
func (s *Store) Persistent() bool { return s.p != nil }

// AddCollection registers a collection, loading persisted documents and
// upgrading any stored under an older schema version through the
// registered per-version migrations.
func (s *Store) AddCollection(name string, schema Schema, migrations map[int]Migration) (*Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[name]; ok {
		return nil, errors.Errorf("collection %q already added", name)
	}
	c := newCollection(name, schema, s, s.log)

	if s.p != nil {
		if err := s.p.ensureCollection(name); err != nil {
			return nil, errors.Wrapf(err, "ensure collection %q", name)
		}
		persisted, err := s.p.loadDocs(name)
		if err != nil {
			return nil, errors.Wrapf(err, "load collection %q", name)
		}
		for id, pd := range persisted {
			doc, err := migrate(pd.doc, pd.version, schema.Version, migrations)
			if err != nil {
				s.log.Warn("drop unmigratable document",
					zap.String("collection", name), zap.String("id", id), zap.Error(err))
				_ = s.p.deleteDoc(name, id)
				continue
			}
			c.docs[id] = doc
			if pd.version != schema.Version {
				c.persistLocked(id, doc)
			}
		}
	}

	s.collections[name] = c
	return c, nil
}

func migrate(doc model.Document, from, to int, migrations map[int]Migration) (model.Document, error) {
	for v := from + 1; v <= to; v++ {
		fn, ok := migrations[v]
		if !ok {
			continue
		}
		next, err := fn(doc)
		if err != nil {
			return nil, errors.Wrapf(err, "migrate to version %d", v)
		}
		doc = next
	}
	return doc, nil
}

// Collection returns a registered collection, or nil.
func (s *Store) Collection(name string) *Collection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collections[name]
}

// Collections returns every registered collection.
func (s *Store) Collections() []*Collection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Collection, 0, len(s.collections))
	for _, c := range s.collections {
		out = append(out, c)
	}
	return out
}

// LoadCheckpoint returns the persisted replication checkpoint for a
// collection. The zero checkpoint means full sync.
func (s *Store) LoadCheckpoint(collection string) (model.Checkpoint, error) {
	if s.p == nil {
		return model.Checkpoint{}, nil
	}
	return s.p.loadCheckpoint(collection)
}

// SaveCheckpoint persists a replication checkpoint. Checkpoints are
// rebuildable; persistence failures only cost a wider resync.
func (s *Store) SaveCheckpoint(collection string, cp model.Checkpoint) {
	if s.p == nil {
		return
	}
	if err := s.p.saveCheckpoint(collection, cp); err != nil {
		s.log.Warn("persist checkpoint", zap.String("collection", collection), zap.Error(err))
	}
}

// Reset destructively drops all documents, write logs and checkpoints,
// both in memory and on disk. The coordinator starts cold afterwards.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.collections))
	for name, c := range s.collections {
		names = append(names, name)
		c.mu.Lock()
		c.resetLocked()
		c.mu.Unlock()
	}
	if s.p != nil {
		if err := s.p.destroy(names); err != nil {
			return errors.Wrap(err, "destroy persistence")
		}
		for _, name := range names {
			if err := s.p.ensureCollection(name); err != nil {
				return errors.Wrapf(err, "recreate collection %q", name)
			}
		}
	}
	s.log.Info("store reset", zap.Strings("collections", names))
	return nil
}

// Close releases the persistence handle.
func (s *Store) Close() error {
	if s.p == nil {
		return nil
	}
	return s.p.close()
}
