package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thedenisnikulin/reindexer/errs"
	"github.com/thedenisnikulin/reindexer/query"
	"github.com/thedenisnikulin/reindexer/variant"
	"github.com/thedenisnikulin/reindexer/wal"
)

func TestTransactionInPlaceCommit(t *testing.T) {
	ctx := context.Background()
	ns := newTestNS(t)

	tx, err := ns.BeginTransaction(wal.EmptyLSN)
	require.NoError(t, err)
	require.NoError(t, tx.Upsert([]byte(`{"id": 1, "price": 10}`)))
	require.NoError(t, tx.Upsert([]byte(`{"id": 2, "price": 20}`)))
	require.NoError(t, tx.Delete([]byte(`{"id": 1}`)))

	swapped := false
	after, err := tx.Commit(ctx, nil, func(old, fresh *Namespace) { swapped = true })
	require.NoError(t, err)
	assert.False(t, swapped)
	assert.Same(t, ns, after)
	assert.Equal(t, 1, ns.ItemCount())
}

func TestTransactionWALFraming(t *testing.T) {
	ctx := context.Background()
	ns := newTestNS(t)
	before := ns.wlog.LSNCounter()

	tx, err := ns.BeginTransaction(wal.EmptyLSN)
	require.NoError(t, err)
	require.NoError(t, tx.Upsert([]byte(`{"id": 1, "price": 10}`)))
	_, err = tx.Commit(ctx, nil, nil)
	require.NoError(t, err)

	var types []wal.RecordType
	var flagged int
	require.NoError(t, ns.wlog.ForEach(before, func(_ int64, rec wal.Record) bool {
		types = append(types, rec.Type)
		if rec.InTransaction {
			flagged++
		}
		return true
	}))
	assert.Equal(t, []wal.RecordType{
		wal.RecInitTransaction, wal.RecItemUpdate, wal.RecCommitTransaction,
	}, types)
	assert.Equal(t, 1, flagged)
}

func TestTransactionRollback(t *testing.T) {
	ns := newTestNS(t)
	tx, err := ns.BeginTransaction(wal.EmptyLSN)
	require.NoError(t, err)
	require.NoError(t, tx.Upsert([]byte(`{"id": 1, "price": 10}`)))
	tx.Rollback()

	assert.Equal(t, 0, ns.ItemCount())
	require.Error(t, tx.Upsert([]byte(`{"id": 2, "price": 20}`)))
	_, err = tx.Commit(context.Background(), nil, nil)
	require.Error(t, err)
}

func TestTransactionQuerySteps(t *testing.T) {
	ctx := context.Background()
	ns := newTestNS(t)
	seedItems(t, ns, 10)

	tx, err := ns.BeginTransaction(wal.EmptyLSN)
	require.NoError(t, err)

	uq := query.New("items").Where("id", query.CondEq, variant.NewInt(1))
	uq.Type = query.QueryUpdate
	uq.Updates = []query.UpdateEntry{{
		Field: "price", Mode: query.UpdateValue, Values: []variant.Variant{variant.NewInt(0)},
	}}
	require.NoError(t, tx.UpdateQuery(uq))

	dq := query.New("items").Where("id", query.CondGe, variant.NewInt(8))
	dq.Type = query.QueryDelete
	require.NoError(t, tx.DeleteQuery(dq))

	_, err = tx.Commit(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 8, ns.ItemCount())

	sel := query.New("items").Where("price", query.CondEq, variant.NewInt(0))
	res, err := ns.Select(ctx, sel, nil)
	require.NoError(t, err)
	// id 0 was seeded with price 0 and id 1 was just set to it.
	assert.Equal(t, 2, res.Count())
}

func TestTransactionQueryStepTypeChecked(t *testing.T) {
	ns := newTestNS(t)
	tx, err := ns.BeginTransaction(wal.EmptyLSN)
	require.NoError(t, err)

	q := query.New("items")
	require.Error(t, tx.UpdateQuery(q))
	require.Error(t, tx.DeleteQuery(q))
}

func TestTransactionCopyCommit(t *testing.T) {
	ctx := context.Background()
	ns := newTestNS(t)
	oldIncarnation := ns.ReplicationState().Incarnation

	tx, err := ns.BeginTransaction(wal.EmptyLSN)
	require.NoError(t, err)
	for i := 0; i < startCopyPolicyTxSize; i++ {
		require.NoError(t, tx.Upsert([]byte(fmt.Sprintf(`{"id": %d, "price": %d}`, i, i))))
	}

	var swappedOld, swappedFresh *Namespace
	after, err := tx.Commit(ctx, nil, func(old, fresh *Namespace) {
		swappedOld, swappedFresh = old, fresh
	})
	require.NoError(t, err)
	require.NotNil(t, swappedFresh)
	assert.Same(t, ns, swappedOld)
	assert.Same(t, swappedFresh, after)
	assert.NotSame(t, ns, after)

	assert.Equal(t, startCopyPolicyTxSize, after.ItemCount())
	assert.NotEqual(t, oldIncarnation, after.ReplicationState().Incarnation)

	// The stale instance refuses further work.
	_, err = ns.ModifyItem(ctx, []byte(`{"id": 1, "price": 1}`), ModeUpsert, wal.EmptyLSN)
	require.Error(t, err)
	assert.Equal(t, errs.CodeNamespaceInvalidated, errs.CodeOf(err))

	// The fresh instance serves reads and writes.
	res, err := after.Select(ctx, query.New("items").Where("id", query.CondEq, variant.NewInt(7)), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count())
}

func TestTransactionCopyCommitWithoutSwapRunsInPlace(t *testing.T) {
	ctx := context.Background()
	ns := newTestNS(t)

	tx, err := ns.BeginTransaction(wal.EmptyLSN)
	require.NoError(t, err)
	for i := 0; i < startCopyPolicyTxSize; i++ {
		require.NoError(t, tx.Upsert([]byte(fmt.Sprintf(`{"id": %d, "price": %d}`, i, i))))
	}
	after, err := tx.Commit(ctx, nil, nil)
	require.NoError(t, err)
	assert.Same(t, ns, after)
	assert.Equal(t, startCopyPolicyTxSize, ns.ItemCount())
}

func TestTransactionEmptyCommit(t *testing.T) {
	ns := newTestNS(t)
	tx, err := ns.BeginTransaction(wal.EmptyLSN)
	require.NoError(t, err)
	before := ns.wlog.LSNCounter()
	after, err := tx.Commit(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Same(t, ns, after)
	assert.Equal(t, before, ns.wlog.LSNCounter())
}
