package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thedenisnikulin/reindexer/index"
	"github.com/thedenisnikulin/reindexer/query"
	"github.com/thedenisnikulin/reindexer/variant"
	"github.com/thedenisnikulin/reindexer/wal"
)

func TestRemoveExpired(t *testing.T) {
	ctx := context.Background()
	ns := NewNamespace("sessions", Config{})
	require.NoError(t, ns.AddIndex(index.Def{
		Name: "id", JSONPaths: []string{"id"}, IndexType: "hash", FieldType: "int", IsPK: true,
	}, wal.EmptyLSN))
	require.NoError(t, ns.AddIndex(index.Def{
		Name: "expires_at", JSONPaths: []string{"expires_at"}, IndexType: "ttl", FieldType: "int64", ExpireSec: 60,
	}, wal.EmptyLSN))

	now := time.Now().Unix()
	stale := fmt.Sprintf(`{"id": 1, "expires_at": %d}`, now-3600)
	live := fmt.Sprintf(`{"id": 2, "expires_at": %d}`, now+3600)
	_, err := ns.ModifyItem(ctx, []byte(stale), ModeUpsert, wal.EmptyLSN)
	require.NoError(t, err)
	_, err = ns.ModifyItem(ctx, []byte(live), ModeUpsert, wal.EmptyLSN)
	require.NoError(t, err)

	require.NoError(t, ns.RemoveExpired(ctx))
	assert.Equal(t, 1, ns.ItemCount())

	res, err := ns.Select(ctx, query.New("sessions").Where("id", query.CondEq, variant.NewInt(2)), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count())
}

func TestOptimizeIndexes(t *testing.T) {
	ctx := context.Background()
	ns := NewNamespace("items", Config{OptimizationTimeout: time.Millisecond})
	require.NoError(t, ns.AddIndex(index.Def{
		Name: "id", JSONPaths: []string{"id"}, IndexType: "hash", FieldType: "int", IsPK: true,
	}, wal.EmptyLSN))
	require.NoError(t, ns.AddIndex(index.Def{
		Name: "price", JSONPaths: []string{"price"}, IndexType: "tree", FieldType: "int",
	}, wal.EmptyLSN))
	for i := 0; i < 50; i++ {
		doc := fmt.Sprintf(`{"id": %d, "price": %d}`, i, (i*37)%100)
		_, err := ns.ModifyItem(ctx, []byte(doc), ModeUpsert, wal.EmptyLSN)
		require.NoError(t, err)
	}

	time.Sleep(5 * time.Millisecond)
	ns.OptimizeIndexes(ctx)
	assert.Equal(t, "optimized", ns.GetMemStat().Optimization)

	// Sorted scans keep working against the built sort orders.
	q := query.New("items").SortBy("price", false)
	q.Limit = 10
	res, err := ns.Select(ctx, q, nil)
	require.NoError(t, err)
	require.Equal(t, 10, res.Count())

	// Any write discards the sort orders until the next idle window.
	_, err = ns.ModifyItem(ctx, []byte(`{"id": 100, "price": 1}`), ModeUpsert, wal.EmptyLSN)
	require.NoError(t, err)
	assert.Equal(t, "none", ns.GetMemStat().Optimization)
}

func TestOptimizeIndexesWaitsForIdle(t *testing.T) {
	ctx := context.Background()
	ns := NewNamespace("items", Config{OptimizationTimeout: time.Hour})
	require.NoError(t, ns.AddIndex(index.Def{
		Name: "id", JSONPaths: []string{"id"}, IndexType: "hash", FieldType: "int", IsPK: true,
	}, wal.EmptyLSN))
	_, err := ns.ModifyItem(ctx, []byte(`{"id": 1}`), ModeUpsert, wal.EmptyLSN)
	require.NoError(t, err)

	ns.OptimizeIndexes(ctx)
	assert.Equal(t, "none", ns.GetMemStat().Optimization)
}

func TestBackgroundRoutineSkipsInvalidated(t *testing.T) {
	ns := newTestNS(t)
	ns.invalidated.Store(true)
	// Must not panic or log errors against a swapped-out instance.
	ns.BackgroundRoutine(context.Background())
}
