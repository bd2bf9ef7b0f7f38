// Package replication keeps the local document store reconciled with
// the remote backend: checkpointed incremental pull, batched push with
// conflict fetch-back, a live change-feed listener, and the coordinator
// owning one pull+push+listener triple per collection.
package replication

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/AlexKenbo/book-club/internal/mapper"
	"github.com/AlexKenbo/book-club/internal/model"
	"github.com/AlexKenbo/book-club/internal/remote"
	"github.com/AlexKenbo/book-club/internal/store"
)

// Event is one entry of a collection's pull stream: either a resync
// signal or an already-fetched batch injected by the live listener.
type Event struct {
	Resync     bool
	Rows       []remote.Row
	Checkpoint model.Checkpoint
}

// Puller brings one collection up to date with remote state. Remote
// rows overwrite local documents unconditionally (last writer wins);
// rows flagged deleted drop the local document.
type Puller struct {
	col     *store.Collection
	client  remote.Client
	table   string
	batch   uint64
	persist func(model.Checkpoint)
	log     *zap.Logger

	mu sync.Mutex
	cp model.Checkpoint
}

func NewPuller(col *store.Collection, client remote.Client, table string, batch uint64,
	initial model.Checkpoint, persist func(model.Checkpoint), log *zap.Logger) *Puller {
	if persist == nil {
		persist = func(model.Checkpoint) {}
	}
	return &Puller{
		col:     col,
		client:  client,
		table:   table,
		batch:   batch,
		persist: persist,
		log:     log.Named("pull").Named(col.Name()),
		cp:      initial,
	}
}

// Checkpoint returns the current replication checkpoint.
func (p *Puller) Checkpoint() model.Checkpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cp
}

// RunCycle fetches and applies one batch after the checkpoint. It
// reports done when the remote returned fewer rows than the cap. On a
// fetch error the checkpoint stays untouched, so the failed batch is
// re-delivered on retry.
func (p *Puller) RunCycle(ctx context.Context) (bool, error) {
	cp := p.Checkpoint()
	rows, err := p.client.FetchSince(ctx, p.table, cp, p.batch)
	if err != nil {
		return false, err
	}
	p.applyBatch(rows)
	return uint64(len(rows)) < p.batch, nil
}

// CatchUp runs pull cycles until the collection is complete-for-now.
func (p *Puller) CatchUp(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := p.RunCycle(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// Inject applies a live batch that bypassed the network fetch, funneled
// through the same upsert/checkpoint path as an ordinary pull.
func (p *Puller) Inject(rows []remote.Row, cp model.Checkpoint) {
	for _, row := range rows {
		p.apply(row)
	}
	p.advance(cp)
}

// ApplyConflict applies an authoritative row reported by the push
// engine. Conflict rows arrive out of checkpoint order, so the
// checkpoint is left alone.
func (p *Puller) ApplyConflict(row remote.Row) {
	p.apply(row)
}

func (p *Puller) applyBatch(rows []remote.Row) {
	for _, row := range rows {
		p.apply(row)
	}
	if len(rows) == 0 {
		return
	}
	last := rows[len(rows)-1]
	p.advance(model.Checkpoint{LastID: last.ID(), LastModifiedAt: last.UpdatedAt()})
}

func (p *Puller) apply(row remote.Row) {
	doc := mapper.ToLocal(row)
	p.col.ApplyRemote(doc, row.Deleted())
}

// advance moves the checkpoint forward only; live injections can arrive
// behind the pulled frontier and must not regress it.
func (p *Puller) advance(cp model.Checkpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.cp.Less(cp) {
		return
	}
	p.cp = cp
	p.persist(cp)
}
