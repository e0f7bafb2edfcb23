package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thedenisnikulin/reindexer/errs"
	"github.com/thedenisnikulin/reindexer/index"
	"github.com/thedenisnikulin/reindexer/query"
	"github.com/thedenisnikulin/reindexer/variant"
	"github.com/thedenisnikulin/reindexer/wal"
)

func newCompositeNS(t *testing.T) *Namespace {
	t.Helper()
	ns := NewNamespace("books", Config{})
	require.NoError(t, ns.AddIndex(index.Def{
		Name: "id", JSONPaths: []string{"id"}, IndexType: "hash", FieldType: "int", IsPK: true,
	}, wal.EmptyLSN))
	require.NoError(t, ns.AddIndex(index.Def{
		Name: "price", JSONPaths: []string{"price"}, IndexType: "tree", FieldType: "int",
	}, wal.EmptyLSN))
	require.NoError(t, ns.AddIndex(index.Def{
		Name: "pages", JSONPaths: []string{"pages"}, IndexType: "hash", FieldType: "int",
	}, wal.EmptyLSN))
	require.NoError(t, ns.AddIndex(index.Def{
		Name: "price+pages", IndexType: "hash", FieldType: "composite",
	}, wal.EmptyLSN))
	return ns
}

func TestCompositeIndexSelect(t *testing.T) {
	ns := newCompositeNS(t)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		doc := fmt.Sprintf(`{"id": %d, "price": %d, "pages": %d, "title": "book%d", "name": "name%d"}`,
			i, 1000+i, 100+i, i, i)
		_, err := ns.ModifyItem(ctx, []byte(doc), ModeUpsert, wal.EmptyLSN)
		require.NoError(t, err)
	}
	doc := `{"id": 300, "price": 77777, "pages": 88888, "title": "test book1 title", "name": "test book1 name"}`
	_, err := ns.ModifyItem(ctx, []byte(doc), ModeUpsert, wal.EmptyLSN)
	require.NoError(t, err)

	q := query.New("books").Where("price+pages", query.CondEq,
		variant.NewTuple(variant.NewInt(77777), variant.NewInt(88888)))
	res, err := ns.Select(ctx, q, nil)
	require.NoError(t, err)
	require.Equal(t, 1, res.Count())

	var got struct {
		ID    int    `json:"id"`
		Title string `json:"title"`
		Name  string `json:"name"`
	}
	require.NoError(t, json.Unmarshal(res.Items[0].JSON, &got))
	assert.Equal(t, 300, got.ID)
	assert.Equal(t, "test book1 title", got.Title)
	assert.Equal(t, "test book1 name", got.Name)

	// An update of a component moves the row out of the composite key.
	doc = `{"id": 300, "price": 77778, "pages": 88888, "title": "test book1 title", "name": "test book1 name"}`
	_, err = ns.ModifyItem(ctx, []byte(doc), ModeUpsert, wal.EmptyLSN)
	require.NoError(t, err)
	res, err = ns.Select(ctx, q, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Count())
}

func TestCompositeIndexComponentCannotBeDropped(t *testing.T) {
	ns := newCompositeNS(t)

	err := ns.DropIndex("price", wal.EmptyLSN)
	assert.Equal(t, errs.CodeParams, errs.CodeOf(err))

	require.NoError(t, ns.DropIndex("price+pages", wal.EmptyLSN))
	require.NoError(t, ns.DropIndex("price", wal.EmptyLSN))
}

func TestCompositeIndexBadComponent(t *testing.T) {
	ns := newTestNS(t)

	err := ns.AddIndex(index.Def{
		Name: "price+missing", IndexType: "hash", FieldType: "composite",
	}, wal.EmptyLSN)
	assert.Equal(t, errs.CodeParams, errs.CodeOf(err))
}
