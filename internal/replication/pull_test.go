package replication_test

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AlexKenbo/book-club/internal/errs"
	"github.com/AlexKenbo/book-club/internal/model"
	"github.com/AlexKenbo/book-club/internal/remote"
	"github.com/AlexKenbo/book-club/internal/replication"
	"github.com/AlexKenbo/book-club/internal/store"
)

// fakeRemote is a scripted remote.Client. FetchSince pops one prepared
// page per call and records the checkpoint it was asked for.
type fakeRemote struct {
	mu       sync.Mutex
	pages    [][]remote.Row
	fetchCps []model.Checkpoint
	fetchErr error

	upserted  []remote.Row
	upsertErr func(row remote.Row) error
	byID      map[string]remote.Row
}

func (f *fakeRemote) FetchSince(_ context.Context, _ string, cp model.Checkpoint, _ uint64) ([]remote.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCps = append(f.fetchCps, cp)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if len(f.pages) == 0 {
		return nil, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func (f *fakeRemote) Upsert(_ context.Context, _ string, row remote.Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		if err := f.upsertErr(row); err != nil {
			return err
		}
	}
	f.upserted = append(f.upserted, row)
	return nil
}

func (f *fakeRemote) FetchByID(_ context.Context, _ string, id string) (remote.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.byID[id]; ok {
		return row, nil
	}
	return nil, errs.ErrNotFound
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	return store.Open("", zap.NewNop())
}

func newCollection(t *testing.T) *store.Collection {
	t.Helper()
	col, err := testStore(t).AddCollection("books", store.Schema{
		Fields: map[string]store.Field{
			"id":        {Type: store.FieldString, Required: true, MaxLength: 100},
			"ownerId":   {Type: store.FieldString, Required: true, MaxLength: 100},
			"status":    {Type: store.FieldString},
			"updatedAt": {Type: store.FieldString, Required: true, MaxLength: 100},
		},
	}, nil)
	require.NoError(t, err)
	return col
}

func row(id, owner, ts string) remote.Row {
	return remote.Row{"id": id, "owner_id": owner, "updated_at": ts, "deleted": false}
}

func TestCatchUpPagesFromCheckpoint(t *testing.T) {
	t.Parallel()
	col := newCollection(t)

	ts1 := "2024-01-01T00:00:00.000000Z"
	ts2 := "2024-01-02T00:00:00.000000Z"
	ts3 := "2024-01-03T00:00:00.000000Z"
	client := &fakeRemote{pages: [][]remote.Row{
		{row("b1", "u1", ts1), row("b2", "u1", ts2)}, // full page, keep going
		{row("b3", "u2", ts3)},                       // short page, done
	}}

	var persisted []model.Checkpoint
	p := replication.NewPuller(col, client, "books", 2, model.Checkpoint{},
		func(cp model.Checkpoint) { persisted = append(persisted, cp) }, zap.NewNop())

	require.NoError(t, p.CatchUp(context.Background()))

	// First fetch starts cold, second resumes from the last applied row.
	require.Equal(t, []model.Checkpoint{
		{},
		{LastID: "b2", LastModifiedAt: ts2},
	}, client.fetchCps)
	require.Equal(t, model.Checkpoint{LastID: "b3", LastModifiedAt: ts3}, p.Checkpoint())
	require.Equal(t, p.Checkpoint(), persisted[len(persisted)-1])

	require.Equal(t, 3, col.Count(nil))
	doc, ok := col.FindOne("b1")
	require.True(t, ok)
	require.Equal(t, "u1", doc["ownerId"], "pulled rows arrive in document field names")
	require.Equal(t, ts1, doc["updatedAt"], "remote timestamp preserved")
	require.Empty(t, col.DirtyBatch(10), "pulled rows never enter the write log")
}

func TestRunCycleErrorLeavesCheckpoint(t *testing.T) {
	t.Parallel()
	col := newCollection(t)

	initial := model.Checkpoint{LastID: "b1", LastModifiedAt: "2024-01-01T00:00:00.000000Z"}
	client := &fakeRemote{fetchErr: errors.New("connection refused")}
	p := replication.NewPuller(col, client, "books", 100, initial, nil, zap.NewNop())

	_, err := p.RunCycle(context.Background())
	require.Error(t, err)
	require.Equal(t, initial, p.Checkpoint(), "failed batch is re-delivered on retry")
}

func TestPullAppliesDeletes(t *testing.T) {
	t.Parallel()
	col := newCollection(t)

	_, err := col.Insert(model.Document{"id": "b1", "ownerId": "u1"})
	require.NoError(t, err)

	del := row("b1", "u1", "2030-01-01T00:00:00.000000Z")
	del["deleted"] = true
	client := &fakeRemote{pages: [][]remote.Row{{del}}}
	p := replication.NewPuller(col, client, "books", 100, model.Checkpoint{}, nil, zap.NewNop())

	require.NoError(t, p.CatchUp(context.Background()))
	_, ok := col.FindOne("b1")
	require.False(t, ok)
	require.Empty(t, col.DirtyBatch(10), "remote delete also cancels the pending local push")
}

func TestInjectNeverRegressesCheckpoint(t *testing.T) {
	t.Parallel()
	col := newCollection(t)

	ahead := model.Checkpoint{LastID: "b9", LastModifiedAt: "2024-06-01T00:00:00.000000Z"}
	p := replication.NewPuller(col, &fakeRemote{}, "books", 100, ahead, nil, zap.NewNop())

	// A live event delivered late, behind the pulled frontier.
	p.Inject([]remote.Row{row("b1", "u1", "2024-01-01T00:00:00.000000Z")},
		model.Checkpoint{LastID: "b1", LastModifiedAt: "2024-01-01T00:00:00.000000Z"})

	_, ok := col.FindOne("b1")
	require.True(t, ok, "the row itself is still applied")
	require.Equal(t, ahead, p.Checkpoint())

	newer := model.Checkpoint{LastID: "b1", LastModifiedAt: "2024-07-01T00:00:00.000000Z"}
	p.Inject([]remote.Row{row("b1", "u1", "2024-07-01T00:00:00.000000Z")}, newer)
	require.Equal(t, newer, p.Checkpoint())
}

func TestApplyConflictKeepsCheckpoint(t *testing.T) {
	t.Parallel()
	col := newCollection(t)

	p := replication.NewPuller(col, &fakeRemote{}, "books", 100, model.Checkpoint{}, nil, zap.NewNop())
	p.ApplyConflict(row("b1", "u1", "2024-01-01T00:00:00.000000Z"))

	_, ok := col.FindOne("b1")
	require.True(t, ok)
	require.True(t, p.Checkpoint().IsZero(), "conflict rows arrive out of order, checkpoint untouched")
}
