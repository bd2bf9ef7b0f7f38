package replication

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/AlexKenbo/book-club/internal/errs"
	"github.com/AlexKenbo/book-club/internal/mapper"
	"github.com/AlexKenbo/book-club/internal/model"
	"github.com/AlexKenbo/book-club/internal/remote"
	"github.com/AlexKenbo/book-club/internal/store"
)

// Pusher propagates locally modified documents to the remote store in
// batches. A write-write conflict is resolved by fetching the
// authoritative remote row and handing it back for remote-wins
// application; the losing local write is discarded. Transport errors
// leave documents dirty for the next cycle.
type Pusher struct {
	col    *store.Collection
	client remote.Client
	table  string
	batch  int
	log    *zap.Logger
}

func NewPusher(col *store.Collection, client remote.Client, table string, batch int, log *zap.Logger) *Pusher {
	return &Pusher{
		col:    col,
		client: client,
		table:  table,
		batch:  batch,
		log:    log.Named("push").Named(col.Name()),
	}
}

// Collection returns the collection this pusher drains.
func (p *Pusher) Collection() *store.Collection { return p.col }

// RunCycle uploads one batch from the write log. It returns the
// authoritative rows of any conflicts, and done=true when the write log
// held fewer entries than the batch cap.
func (p *Pusher) RunCycle(ctx context.Context) (conflicts []remote.Row, done bool, err error) {
	batch := p.col.DirtyBatch(p.batch)
	for _, pd := range batch {
		id := pd.Doc.ID()
		row := remote.Row(mapper.ToRemote(pd.Doc))
		stripLocal(row)
		row["deleted"] = pd.Deleted
		if _, ok := row["updated_at"].(string); !ok {
			row["updated_at"] = model.Now()
		}
		pushedAt, _ := row["updated_at"].(string)

		switch uerr := p.client.Upsert(ctx, p.table, row); {
		case uerr == nil:
			p.col.MarkClean(id, pushedAt, pd.Deleted)

		case errors.Is(uerr, errs.ErrRemoteConflict):
			authoritative, ferr := p.client.FetchByID(ctx, p.table, id)
			if errors.Is(ferr, errs.ErrNotFound) {
				// Guard rejected the write but the row vanished;
				// treat as transient and retry the whole document.
				return conflicts, false, uerr
			}
			if ferr != nil {
				return conflicts, false, ferr
			}
			p.log.Debug("push conflict, remote wins", zap.String("id", id))
			conflicts = append(conflicts, authoritative)
			p.col.MarkClean(id, pushedAt, pd.Deleted)

		default:
			return conflicts, false, uerr
		}
	}
	return conflicts, len(batch) < p.batch, nil
}

// stripLocal removes process-local bookkeeping fields before a row
// leaves the process.
func stripLocal(row remote.Row) {
	for k := range row {
		if strings.HasPrefix(k, "_") {
			delete(row, k)
		}
	}
}
