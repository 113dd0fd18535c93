package audit_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/loom/pkg/audit"
)

func setupSQLiteStore(t *testing.T) (*audit.SQLiteStore, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := audit.NewSQLiteStore(db)
	require.NoError(t, err)
	return store, db
}

func TestSQLiteStore_MirrorsTrail(t *testing.T) {
	store, _ := setupSQLiteStore(t)

	trail := audit.NewTrail()
	trail.AddHandler(store.Handler())
	trail.Append("com.example.A", []string{"process", "mixin", "before", "simple"})
	trail.Append("com.example.B", []string{"process", "at", "after", "compute-maxs"})
	trail.Append("com.example.A", []string{"directive", "skip"})

	ctx := context.Background()

	entries, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, uint64(1), entries[0].Sequence)
	assert.Equal(t, "com.example.A", entries[0].ClassName)
	assert.Equal(t, []string{"process", "mixin", "before", "simple"}, entries[0].Fields)
	assert.Equal(t, "genesis", entries[0].PreviousHash)
	assert.Equal(t, entries[0].EntryHash, entries[1].PreviousHash)
	assert.WithinDuration(t, time.Now(), entries[0].Timestamp, time.Minute)
}

func TestSQLiteStore_ListLimit(t *testing.T) {
	store, _ := setupSQLiteStore(t)

	trail := audit.NewTrail()
	trail.AddHandler(store.Handler())
	for i := 0; i < 5; i++ {
		trail.Append("com.example.A", nil)
	}

	entries, err := store.List(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(1), entries[0].Sequence)
	assert.Equal(t, uint64(2), entries[1].Sequence)
}

func TestSQLiteStore_ByClass(t *testing.T) {
	store, _ := setupSQLiteStore(t)

	trail := audit.NewTrail()
	trail.AddHandler(store.Handler())
	trail.Append("com.example.A", []string{"process", "mixin", "before", "simple"})
	trail.Append("com.example.B", []string{"process", "mixin", "before", "simple"})
	trail.Append("com.example.A", []string{"directive", "rewrite", "simple"})

	entries, err := store.ByClass(context.Background(), "com.example.A", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, "com.example.A", e.ClassName)
	}
}

func TestSQLiteStore_VerifyChain(t *testing.T) {
	store, db := setupSQLiteStore(t)

	trail := audit.NewTrail()
	trail.AddHandler(store.Handler())
	trail.Append("com.example.A", []string{"process", "mixin", "before", "simple"})
	trail.Append("com.example.B", []string{"directive", "skip"})

	ctx := context.Background()
	require.NoError(t, store.VerifyChain(ctx))

	_, err := db.ExecContext(ctx, `UPDATE trail_entries SET class_name = 'com.example.Evil' WHERE sequence = 2`)
	require.NoError(t, err)

	err = store.VerifyChain(ctx)
	require.ErrorIs(t, err, audit.ErrChainBroken)
}

func TestSQLiteStore_RejectsDuplicateEntryID(t *testing.T) {
	store, _ := setupSQLiteStore(t)

	trail := audit.NewTrail()
	trail.Append("com.example.A", nil)
	entry := trail.Query(audit.Filter{})[0]

	ctx := context.Background()
	require.NoError(t, store.SaveEntry(ctx, entry))
	require.Error(t, store.SaveEntry(ctx, entry))
}
