package store

import (
	"sync"

	"github.com/AlexKenbo/book-club/internal/model"
)

// Subscription is a live view over one query. The callback receives a
// fresh result snapshot for the initial state and after every mutation
// that touches a matching (or previously matching) document, in commit
// order. After Unsubscribe returns, the callback is never invoked
// again, even for mutations already in flight.
type Subscription struct {
	id   int
	col  *Collection
	sel  Selector
	sort *Sort
	cb   func([]model.Document)

	qmu     sync.Mutex
	cond    *sync.Cond
	queue   [][]model.Document
	stopped bool

	cbMu   sync.Mutex
	closed bool

	// ids of the last delivered result set, so updates that drop a
	// document out of the query still notify. Guarded by col.mu.
	lastIDs map[string]struct{}
}

// Subscribe registers a live query. The initial snapshot is delivered
// through cb before any subsequent change.
func (c *Collection) Subscribe(sel Selector, s *Sort, cb func([]model.Document)) *Subscription {
	sub := &Subscription{
		col:     c,
		sel:     sel,
		sort:    s,
		cb:      cb,
		lastIDs: make(map[string]struct{}),
	}
	sub.cond = sync.NewCond(&sub.qmu)

	c.mu.Lock()
	sub.id = c.nextSub
	c.nextSub++
	c.subs[sub.id] = sub
	snapshot := c.findLocked(sel, s)
	sub.rememberIDs(snapshot)
	sub.enqueue(snapshot)
	c.mu.Unlock()

	go sub.loop()
	return sub
}

// Unsubscribe cancels the subscription. It blocks until any in-flight
// callback returns.
func (sub *Subscription) Unsubscribe() {
	sub.col.mu.Lock()
	delete(sub.col.subs, sub.id)
	sub.col.mu.Unlock()

	sub.cbMu.Lock()
	sub.closed = true
	sub.cbMu.Unlock()

	sub.qmu.Lock()
	sub.stopped = true
	sub.qmu.Unlock()
	sub.cond.Signal()
}

func (sub *Subscription) rememberIDs(snapshot []model.Document) {
	sub.lastIDs = make(map[string]struct{}, len(snapshot))
	for _, d := range snapshot {
		sub.lastIDs[d.ID()] = struct{}{}
	}
}

func (sub *Subscription) enqueue(snapshot []model.Document) {
	sub.qmu.Lock()
	sub.queue = append(sub.queue, snapshot)
	sub.qmu.Unlock()
	sub.cond.Signal()
}

func (sub *Subscription) loop() {
	for {
		sub.qmu.Lock()
		for len(sub.queue) == 0 && !sub.stopped {
			sub.cond.Wait()
		}
		if sub.stopped {
			sub.qmu.Unlock()
			return
		}
		snapshot := sub.queue[0]
		sub.queue = sub.queue[1:]
		sub.qmu.Unlock()

		sub.cbMu.Lock()
		if sub.closed {
			sub.cbMu.Unlock()
			return
		}
		sub.cb(snapshot)
		sub.cbMu.Unlock()
	}
}

// notifyLocked fans a committed mutation out to affected subscriptions.
// Caller holds c.mu, which keeps enqueue order equal to commit order.
func (c *Collection) notifyLocked(doc model.Document) {
	id := doc.ID()
	for _, sub := range c.subs {
		_, wasIn := sub.lastIDs[id]
		if !wasIn && !(sub.sel == nil || sub.sel.Matches(doc)) {
			continue
		}
		snapshot := c.findLocked(sub.sel, sub.sort)
		sub.rememberIDs(snapshot)
		sub.enqueue(snapshot)
	}
}
