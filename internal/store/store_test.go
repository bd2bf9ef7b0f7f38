package store_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AlexKenbo/book-club/internal/errs"
	"github.com/AlexKenbo/book-club/internal/model"
	"github.com/AlexKenbo/book-club/internal/store"
)

func testSchema() store.Schema {
	max := float64(1e14)
	min := float64(0)
	return store.Schema{
		Version: 0,
		Fields: map[string]store.Field{
			"id":        {Type: store.FieldString, Required: true, MaxLength: 100},
			"ownerId":   {Type: store.FieldString, Required: true, MaxLength: 100},
			"status":    {Type: store.FieldString},
			"createdAt": {Type: store.FieldNumber, Min: &min, Max: &max},
			"updatedAt": {Type: store.FieldString, Required: true, MaxLength: 100},
		},
	}
}

func memCollection(t *testing.T) *store.Collection {
	t.Helper()
	s := store.Open("", zap.NewNop())
	col, err := s.AddCollection("books", testSchema(), nil)
	require.NoError(t, err)
	return col
}

func TestInsert(t *testing.T) {
	t.Parallel()
	col := memCollection(t)

	doc, err := col.Insert(model.Document{"id": "b1", "ownerId": "u1", "status": "свободна"})
	require.NoError(t, err)
	require.NotEmpty(t, doc["updatedAt"], "insert must stamp modification time")

	// Scenario: query by owner returns exactly the inserted book.
	got := col.Find(store.Selector{"ownerId": "u1"}, nil)
	require.Len(t, got, 1)
	require.Equal(t, "b1", got[0].ID())

	_, err = col.Insert(model.Document{"id": "b1", "ownerId": "u1"})
	require.ErrorIs(t, err, errs.ErrConflict)
}

func TestInsertValidation(t *testing.T) {
	t.Parallel()
	col := memCollection(t)

	var tests = []struct {
		name string
		doc  model.Document
	}{
		{name: "missing required", doc: model.Document{"id": "b1"}},
		{name: "wrong type", doc: model.Document{"id": "b1", "ownerId": 42}},
		{name: "negative number", doc: model.Document{"id": "b1", "ownerId": "u1", "createdAt": -5}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := col.Insert(tt.doc)
			require.Error(t, err)
			require.True(t, errs.IsValidation(err), "want ValidationError, got %v", err)
		})
	}
	require.Equal(t, 0, col.Count(nil))
}

func TestUpsertReplacesWhole(t *testing.T) {
	t.Parallel()
	col := memCollection(t)

	_, err := col.Insert(model.Document{"id": "b1", "ownerId": "u1", "status": "свободна"})
	require.NoError(t, err)

	// Upsert is a replacement, not a merge: status must be gone.
	_, err = col.Upsert(model.Document{"id": "b1", "ownerId": "u2"})
	require.NoError(t, err)

	doc, ok := col.FindOne("b1")
	require.True(t, ok)
	require.Equal(t, "u2", doc["ownerId"])
	require.NotContains(t, doc, "status")
}

func TestPatch(t *testing.T) {
	t.Parallel()
	col := memCollection(t)

	_, err := col.Patch("nope", model.Document{"status": "x"})
	require.ErrorIs(t, err, errs.ErrNotFound)

	first, err := col.Insert(model.Document{"id": "b1", "ownerId": "u1", "status": "свободна"})
	require.NoError(t, err)

	patched, err := col.Patch("b1", model.Document{"status": "у кого-то"})
	require.NoError(t, err)
	require.Equal(t, "у кого-то", patched["status"])
	require.Equal(t, "u1", patched["ownerId"], "patch merges over existing fields")
	require.GreaterOrEqual(t, patched["updatedAt"], first["updatedAt"])

	// nil value unsets the field
	patched, err = col.Patch("b1", model.Document{"status": nil})
	require.NoError(t, err)
	require.NotContains(t, patched, "status")
}

func TestRemoveQueuesTombstone(t *testing.T) {
	t.Parallel()
	col := memCollection(t)

	require.ErrorIs(t, col.Remove("b1"), errs.ErrNotFound)

	_, err := col.Insert(model.Document{"id": "b1", "ownerId": "u1"})
	require.NoError(t, err)
	require.NoError(t, col.Remove("b1"))

	_, ok := col.FindOne("b1")
	require.False(t, ok, "removed document is not queryable")

	batch := col.DirtyBatch(10)
	require.Len(t, batch, 1)
	require.True(t, batch[0].Deleted)
	require.Equal(t, "b1", batch[0].Doc.ID())
}

func TestDirtyBatchAndMarkClean(t *testing.T) {
	t.Parallel()
	col := memCollection(t)

	for _, id := range []string{"b1", "b2", "b3"} {
		_, err := col.Insert(model.Document{"id": id, "ownerId": "u1"})
		require.NoError(t, err)
	}
	batch := col.DirtyBatch(2)
	require.Len(t, batch, 2)

	d, ok := col.FindOne("b1")
	require.True(t, ok)
	col.MarkClean("b1", d.String("updatedAt"), false)
	col.MarkClean("b2", "stale-timestamp", false)

	ids := map[string]bool{}
	for _, pd := range col.DirtyBatch(10) {
		ids[pd.Doc.ID()] = true
	}
	require.False(t, ids["b1"], "clean after successful push")
	require.True(t, ids["b2"], "stays dirty when changed since snapshot")
	require.True(t, ids["b3"])
}

func TestApplyRemoteIdempotent(t *testing.T) {
	t.Parallel()
	col := memCollection(t)

	remoteDoc := model.Document{
		"id": "b1", "ownerId": "u9", "status": "свободна",
		"updatedAt": "2024-01-02T00:00:00.000000Z",
	}
	col.ApplyRemote(remoteDoc, false)
	first, ok := col.FindOne("b1")
	require.True(t, ok)

	col.ApplyRemote(remoteDoc, false)
	require.Equal(t, 1, col.Count(nil))
	second, _ := col.FindOne("b1")
	require.Equal(t, first, second, "same remote row applied twice yields identical state")

	// Remote timestamps are preserved, never re-stamped locally.
	require.Equal(t, "2024-01-02T00:00:00.000000Z", second.String("updatedAt"))

	// Remote rows never enter the push write log.
	require.Empty(t, col.DirtyBatch(10))

	col.ApplyRemote(model.Document{"id": "b1"}, true)
	_, ok = col.FindOne("b1")
	require.False(t, ok, "deleted flag drops the local document")
}

func TestApplyRemoteDiscardsLocalWrite(t *testing.T) {
	t.Parallel()
	col := memCollection(t)

	_, err := col.Insert(model.Document{"id": "b1", "ownerId": "u1", "status": "одобрено"})
	require.NoError(t, err)
	require.Len(t, col.DirtyBatch(10), 1)

	col.ApplyRemote(model.Document{
		"id": "b1", "ownerId": "u1", "status": "отклонено",
		"updatedAt": "2030-01-01T00:00:00.000000Z",
	}, false)

	doc, ok := col.FindOne("b1")
	require.True(t, ok)
	require.Equal(t, "отклонено", doc["status"], "remote wins over the conflicting local write")
	require.Empty(t, col.DirtyBatch(10), "losing local write is discarded")
}

func TestPersistenceReloadAndMigration(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bookclub.db")

	s := store.Open(path, zap.NewNop())
	require.True(t, s.Persistent())
	col, err := s.AddCollection("books", testSchema(), nil)
	require.NoError(t, err)
	_, err = col.Insert(model.Document{"id": "b1", "ownerId": "u1"})
	require.NoError(t, err)
	s.SaveCheckpoint("books", model.Checkpoint{LastID: "b1", LastModifiedAt: "2024-01-01T00:00:00.000000Z"})
	require.NoError(t, s.Close())

	// Reopen under a newer schema version with a migration that
	// backfills a field.
	upgraded := testSchema()
	upgraded.Version = 1
	s2 := store.Open(path, zap.NewNop())
	col2, err := s2.AddCollection("books", upgraded, map[int]store.Migration{
		1: func(doc model.Document) (model.Document, error) {
			doc["status"] = "свободна"
			return doc, nil
		},
	})
	require.NoError(t, err)

	doc, ok := col2.FindOne("b1")
	require.True(t, ok)
	require.Equal(t, "свободна", doc["status"], "migration ran on the persisted document")

	cp, err := s2.LoadCheckpoint("books")
	require.NoError(t, err)
	require.Equal(t, "b1", cp.LastID)
	require.NoError(t, s2.Close())
}

func TestReset(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bookclub.db")

	s := store.Open(path, zap.NewNop())
	col, err := s.AddCollection("books", testSchema(), nil)
	require.NoError(t, err)
	_, err = col.Insert(model.Document{"id": "b1", "ownerId": "u1"})
	require.NoError(t, err)
	s.SaveCheckpoint("books", model.Checkpoint{LastID: "b1", LastModifiedAt: "x"})

	require.NoError(t, s.Reset())
	require.Equal(t, 0, col.Count(nil))
	require.Empty(t, col.DirtyBatch(10))

	cp, err := s.LoadCheckpoint("books")
	require.NoError(t, err)
	require.True(t, cp.IsZero(), "reset discards checkpoints, next start is cold")

	// Store stays usable after the reset.
	_, err = col.Insert(model.Document{"id": "b2", "ownerId": "u1"})
	require.NoError(t, err)
	require.NoError(t, s.Close())
}
