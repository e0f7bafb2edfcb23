package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thedenisnikulin/reindexer/query"
	"github.com/thedenisnikulin/reindexer/variant"
	"github.com/thedenisnikulin/reindexer/wal"
)

func TestDeleteQuery(t *testing.T) {
	ctx := context.Background()
	ns := newTestNS(t)
	seedItems(t, ns, 10)

	q := query.New("items").Where("price", query.CondLt, variant.NewInt(30))
	q.Type = query.QueryDelete
	res, err := ns.DeleteQuery(ctx, q, nil, wal.EmptyLSN)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Count())
	assert.Equal(t, 7, ns.ItemCount())
}

func TestDeleteQueryViaSQL(t *testing.T) {
	ctx := context.Background()
	ns := newTestNS(t)
	seedItems(t, ns, 10)

	q, err := query.ParseSQL("DELETE FROM items WHERE price >= 50")
	require.NoError(t, err)
	res, err := ns.DeleteQuery(ctx, q, nil, wal.EmptyLSN)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Count())
	assert.Equal(t, 5, ns.ItemCount())
}

func TestUpdateQuerySetValue(t *testing.T) {
	ctx := context.Background()
	ns := newTestNS(t)
	seedItems(t, ns, 10)

	q := query.New("items").Where("id", query.CondLe, variant.NewInt(2))
	q.Type = query.QueryUpdate
	q.Updates = []query.UpdateEntry{{
		Field: "price", Mode: query.UpdateValue, Values: []variant.Variant{variant.NewInt(777)},
	}}
	res, err := ns.UpdateQuery(ctx, q, nil, wal.EmptyLSN)
	require.NoError(t, err)
	require.Equal(t, 3, res.Count())

	sel := query.New("items").Where("price", query.CondEq, variant.NewInt(777))
	got, err := ns.Select(ctx, sel, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Count())
}

func TestUpdateQueryExpression(t *testing.T) {
	ctx := context.Background()
	ns := newTestNS(t)
	seedItems(t, ns, 4)

	q := query.New("items").Where("id", query.CondEq, variant.NewInt(2))
	q.Type = query.QueryUpdate
	q.Updates = []query.UpdateEntry{{
		Field: "price", Mode: query.UpdateExpression, Expression: "price + 5",
	}}
	res, err := ns.UpdateQuery(ctx, q, nil, wal.EmptyLSN)
	require.NoError(t, err)
	require.Equal(t, 1, res.Count())

	var doc struct {
		Price int `json:"price"`
	}
	require.NoError(t, json.Unmarshal(res.Items[0].JSON, &doc))
	assert.Equal(t, 25, doc.Price)
}

func TestUpdateQueryDropField(t *testing.T) {
	ctx := context.Background()
	ns := newTestNS(t)
	seedItems(t, ns, 3)

	q := query.New("items").Where("id", query.CondEq, variant.NewInt(1))
	q.Type = query.QueryUpdate
	q.Updates = []query.UpdateEntry{{Field: "name", Mode: query.UpdateDrop}}
	res, err := ns.UpdateQuery(ctx, q, nil, wal.EmptyLSN)
	require.NoError(t, err)
	require.Equal(t, 1, res.Count())

	var doc map[string]any
	require.NoError(t, json.Unmarshal(res.Items[0].JSON, &doc))
	_, hasName := doc["name"]
	assert.False(t, hasName)
}

func TestUpdateQueryViaSQL(t *testing.T) {
	ctx := context.Background()
	ns := newTestNS(t)
	seedItems(t, ns, 5)

	q, err := query.ParseSQL("UPDATE items SET price = 100 WHERE id = 3")
	require.NoError(t, err)
	res, err := ns.UpdateQuery(ctx, q, nil, wal.EmptyLSN)
	require.NoError(t, err)
	require.Equal(t, 1, res.Count())

	var doc struct {
		Price int `json:"price"`
	}
	require.NoError(t, json.Unmarshal(res.Items[0].JSON, &doc))
	assert.Equal(t, 100, doc.Price)
}

func walTypesFrom(t *testing.T, ns *Namespace, from int64) []wal.RecordType {
	t.Helper()
	var types []wal.RecordType
	require.NoError(t, ns.wlog.ForEach(from, func(_ int64, rec wal.Record) bool {
		types = append(types, rec.Type)
		return true
	}))
	return types
}

func TestDeleteQueryWritesStatementWAL(t *testing.T) {
	ctx := context.Background()
	ns := newTestNS(t)
	seedItems(t, ns, 20)
	before := ns.wlog.LSNCounter()

	q := query.New("items").Where("price", query.CondLt, variant.NewInt(100))
	q.Type = query.QueryDelete
	res, err := ns.DeleteQuery(ctx, q, nil, wal.EmptyLSN)
	require.NoError(t, err)
	require.Equal(t, 10, res.Count())

	assert.Equal(t, []wal.RecordType{wal.RecDeleteQuery}, walTypesFrom(t, ns, before))
}

func TestUpdateQueryStatementWALThreshold(t *testing.T) {
	ctx := context.Background()
	ns := newTestNS(t)
	seedItems(t, ns, 20)

	// Four matches stay below the statement threshold and replicate as
	// per-row item records.
	before := ns.wlog.LSNCounter()
	q := query.New("items").Where("id", query.CondLt, variant.NewInt(4))
	q.Type = query.QueryUpdate
	q.Updates = []query.UpdateEntry{{
		Field: "price", Mode: query.UpdateValue, Values: []variant.Variant{variant.NewInt(1)},
	}}
	res, err := ns.UpdateQuery(ctx, q, nil, wal.EmptyLSN)
	require.NoError(t, err)
	require.Equal(t, 4, res.Count())
	assert.Equal(t, []wal.RecordType{
		wal.RecItemUpdate, wal.RecItemUpdate, wal.RecItemUpdate, wal.RecItemUpdate,
	}, walTypesFrom(t, ns, before))

	// Ten matches with a pure SET-by-value collapse into one statement.
	before = ns.wlog.LSNCounter()
	q = query.New("items").Where("id", query.CondGe, variant.NewInt(10))
	q.Type = query.QueryUpdate
	q.Updates = []query.UpdateEntry{{
		Field: "price", Mode: query.UpdateValue, Values: []variant.Variant{variant.NewInt(2)},
	}}
	res, err = ns.UpdateQuery(ctx, q, nil, wal.EmptyLSN)
	require.NoError(t, err)
	require.Equal(t, 10, res.Count())
	assert.Equal(t, []wal.RecordType{wal.RecUpdateQuery}, walTypesFrom(t, ns, before))
}
