package store

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/AlexKenbo/book-club/internal/errs"
	"github.com/AlexKenbo/book-club/internal/model"
)

// Selector matches documents by flat field equality.
type Selector map[string]any

// Matches reports whether doc satisfies every selector field.
func (s Selector) Matches(doc model.Document) bool {
	for k, want := range s {
		got, ok := doc[k]
		if !ok {
			return false
		}
		if !looseEqual(got, want) {
			return false
		}
	}
	return true
}

func looseEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	return a == b
}

// Sort orders query results by one field.
type Sort struct {
	Field string
	Desc  bool
}

// PushDoc is one entry of the push write log: a dirty document or a
// tombstone awaiting upload.
type PushDoc struct {
	Doc     model.Document
	Deleted bool
}

// Collection holds validated documents of one entity kind, keyed by
// primary id. All access is serialized on its mutex; it is the single
// shared mutable resource of the process.
type Collection struct {
	name   string
	schema Schema
	store  *Store
	log    *zap.Logger

	mu         sync.RWMutex
	docs       map[string]model.Document
	dirty      map[string]struct{}
	tombstones map[string]model.Document
	subs       map[int]*Subscription
	nextSub    int
	dirtyCh    chan struct{}
}

func newCollection(name string, schema Schema, s *Store, log *zap.Logger) *Collection {
	return &Collection{
		name:       name,
		schema:     schema,
		store:      s,
		log:        log.Named(name),
		docs:       make(map[string]model.Document),
		dirty:      make(map[string]struct{}),
		tombstones: make(map[string]model.Document),
		subs:       make(map[int]*Subscription),
		dirtyCh:    make(chan struct{}, 1),
	}
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Insert stores a new document. The modification timestamp is stamped
// before validation, so callers need not provide one.
func (c *Collection) Insert(doc model.Document) (model.Document, error) {
	d := doc.Clone()
	d["updatedAt"] = model.Now()
	if err := c.schema.Validate(c.name, d); err != nil {
		return nil, err
	}
	id := d.ID()

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.docs[id]; ok {
		return nil, errs.ErrConflict
	}
	c.commitLocked(id, d)
	return d.Clone(), nil
}

// Upsert replaces the document with the same primary key, or inserts
// it. The replacement is whole-document, not a merge.
func (c *Collection) Upsert(doc model.Document) (model.Document, error) {
	d := doc.Clone()
	d["updatedAt"] = model.Now()
	if err := c.schema.Validate(c.name, d); err != nil {
		return nil, err
	}
	id := d.ID()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.commitLocked(id, d)
	return d.Clone(), nil
}

// Patch merges fields over the existing document.
func (c *Collection) Patch(id string, fields model.Document) (model.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.docs[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	d := cur.Clone()
	for k, v := range fields {
		if v == nil {
			delete(d, k)
			continue
		}
		d[k] = v
	}
	d["id"] = id
	d["updatedAt"] = model.Now()
	if err := c.schema.Validate(c.name, d); err != nil {
		return nil, err
	}
	c.commitLocked(id, d)
	return d.Clone(), nil
}

// Remove deletes the document locally and queues a tombstone so the
// next push cycle propagates the deletion as a remote deleted-flag.
func (c *Collection) Remove(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.docs[id]
	if !ok {
		return errs.ErrNotFound
	}
	tomb := cur.Clone()
	tomb["updatedAt"] = model.Now()
	c.tombstones[id] = tomb
	delete(c.docs, id)
	delete(c.dirty, id)
	c.persistDeleteLocked(id)
	c.signalDirtyLocked()
	c.notifyLocked(cur)
	return nil
}

// commitLocked stores d, marks it dirty, persists and notifies.
func (c *Collection) commitLocked(id string, d model.Document) {
	c.docs[id] = d
	delete(c.tombstones, id)
	c.dirty[id] = struct{}{}
	c.persistLocked(id, d)
	c.signalDirtyLocked()
	c.notifyLocked(d)
}

// Find returns every document matching sel, optionally sorted.
func (c *Collection) Find(sel Selector, s *Sort) []model.Document {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.findLocked(sel, s)
}

func (c *Collection) findLocked(sel Selector, s *Sort) []model.Document {
	out := make([]model.Document, 0)
	for _, d := range c.docs {
		if sel == nil || sel.Matches(d) {
			out = append(out, d.Clone())
		}
	}
	sortDocs(out, s)
	return out
}

func sortDocs(docs []model.Document, s *Sort) {
	field, desc := "id", false
	if s != nil {
		field, desc = s.Field, s.Desc
	}
	sort.SliceStable(docs, func(i, j int) bool {
		less := docLess(docs[i][field], docs[j][field])
		if desc {
			return docLess(docs[j][field], docs[i][field])
		}
		return less
	})
}

func docLess(a, b any) bool {
	if af, ok := toFloat(a); ok {
		bf, _ := toFloat(b)
		return af < bf
	}
	as, _ := a.(string)
	bs, _ := b.(string)
	return as < bs
}

// FindOne returns the document with the given id.
func (c *Collection) FindOne(id string) (model.Document, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.docs[id]
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

// FindOneBy returns the first document matching sel in id order.
func (c *Collection) FindOneBy(sel Selector) (model.Document, bool) {
	docs := c.Find(sel, &Sort{Field: "id"})
	if len(docs) == 0 {
		return nil, false
	}
	return docs[0], true
}

// Count returns the number of documents matching sel.
func (c *Collection) Count(sel Selector) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, d := range c.docs {
		if sel == nil || sel.Matches(d) {
			n++
		}
	}
	return n
}

// ApplyRemote upserts an authoritative remote document, overwriting
// local state unconditionally (remote wins). A deleted row drops the
// local document instead of keeping a tombstone. The pending local
// write, if any, is discarded.
func (c *Collection) ApplyRemote(doc model.Document, deleted bool) {
	id := doc.ID()
	if id == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.dirty, id)
	delete(c.tombstones, id)
	if deleted {
		cur, ok := c.docs[id]
		if !ok {
			return
		}
		delete(c.docs, id)
		c.persistDeleteLocked(id)
		c.notifyLocked(cur)
		return
	}
	d := doc.Clone()
	delete(d, "deleted")
	c.docs[id] = d
	c.persistLocked(id, d)
	c.notifyLocked(d)
}

// DirtyBatch returns up to limit write-log entries, tombstones first,
// in stable id order.
func (c *Collection) DirtyBatch(limit int) []PushDoc {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]PushDoc, 0, limit)
	for _, id := range sortedKeysTomb(c.tombstones) {
		if len(out) == limit {
			return out
		}
		out = append(out, PushDoc{Doc: c.tombstones[id].Clone(), Deleted: true})
	}
	for _, id := range sortedKeysSet(c.dirty) {
		if len(out) == limit {
			return out
		}
		if d, ok := c.docs[id]; ok {
			out = append(out, PushDoc{Doc: d.Clone()})
		}
	}
	return out
}

// MarkClean removes id from the write log, unless the document changed
// again after the pushed snapshot was taken.
func (c *Collection) MarkClean(id, pushedUpdatedAt string, deleted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if deleted {
		if t, ok := c.tombstones[id]; ok && t.String("updatedAt") == pushedUpdatedAt {
			delete(c.tombstones, id)
		}
		return
	}
	if d, ok := c.docs[id]; ok && d.String("updatedAt") == pushedUpdatedAt {
		delete(c.dirty, id)
	}
}

// HasDirty reports whether the write log is non-empty.
func (c *Collection) HasDirty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.dirty) > 0 || len(c.tombstones) > 0
}

// DirtySignal is notified (coalesced) after every local write.
func (c *Collection) DirtySignal() <-chan struct{} {
	return c.dirtyCh
}

func (c *Collection) signalDirtyLocked() {
	select {
	case c.dirtyCh <- struct{}{}:
	default:
	}
}

func (c *Collection) persistLocked(id string, d model.Document) {
	if c.store.p == nil {
		return
	}
	if err := c.store.p.saveDoc(c.name, id, d, c.schema.Version); err != nil {
		c.log.Error("persist document", zap.String("id", id), zap.Error(err))
	}
}

func (c *Collection) persistDeleteLocked(id string) {
	if c.store.p == nil {
		return
	}
	if err := c.store.p.deleteDoc(c.name, id); err != nil {
		c.log.Error("persist delete", zap.String("id", id), zap.Error(err))
	}
}

func (c *Collection) resetLocked() {
	c.docs = make(map[string]model.Document)
	c.dirty = make(map[string]struct{})
	c.tombstones = make(map[string]model.Document)
	for _, sub := range c.subs {
		sub.lastIDs = map[string]struct{}{}
		sub.enqueue(nil)
	}
}

func sortedKeysSet(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeysTomb(m map[string]model.Document) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
