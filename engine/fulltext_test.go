package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thedenisnikulin/reindexer/index"
	"github.com/thedenisnikulin/reindexer/query"
	"github.com/thedenisnikulin/reindexer/variant"
	"github.com/thedenisnikulin/reindexer/wal"
)

func newFulltextNS(t *testing.T) *Namespace {
	t.Helper()
	ns := NewNamespace("docs", Config{})
	require.NoError(t, ns.AddIndex(index.Def{
		Name: "id", JSONPaths: []string{"id"}, IndexType: "hash", FieldType: "int", IsPK: true,
	}, wal.EmptyLSN))
	require.NoError(t, ns.AddIndex(index.Def{
		Name: "description", JSONPaths: []string{"description"}, IndexType: "text", FieldType: "string",
	}, wal.EmptyLSN))
	return ns
}

func TestFulltextSelectOverLargeCorpus(t *testing.T) {
	ns := newFulltextNS(t)
	ctx := context.Background()

	words := []string{"quick", "brown", "fox", "jumps", "over", "lazy", "dog", "stone", "river", "cloud"}
	const total = 12000
	needle := map[int]bool{}
	for i := 0; i < total; i++ {
		phrase := fmt.Sprintf("%s %s %s", words[i%10], words[(i/10)%10], words[(i/100)%10])
		// Every 700th phrase carries the needle word.
		if i%700 == 0 {
			phrase += " lskfj"
			needle[i] = true
		}
		doc := fmt.Sprintf(`{"id": %d, "description": %q}`, i, phrase)
		_, err := ns.ModifyItem(ctx, []byte(doc), ModeUpsert, wal.EmptyLSN)
		require.NoError(t, err)
	}
	require.Len(t, needle, 18)

	q := query.New("docs").Where("description", query.CondEq, variant.NewString("lskfj"))
	res, err := ns.Select(ctx, q, nil)
	require.NoError(t, err)
	require.LessOrEqual(t, res.Count(), 20)
	assert.Equal(t, len(needle), res.Count())
	for _, item := range res.Items {
		assert.True(t, needle[int(item.ID)], "id %d does not carry the needle", item.ID)
		assert.Greater(t, item.Rank, 0)
	}
}

func TestFulltextFullMatchRanksFirst(t *testing.T) {
	ns := newFulltextNS(t)
	ctx := context.Background()

	_, err := ns.ModifyItem(ctx, []byte(`{"id": 1, "description": "alpha"}`), ModeUpsert, wal.EmptyLSN)
	require.NoError(t, err)
	_, err = ns.ModifyItem(ctx, []byte(`{"id": 2, "description": "alpha beta"}`), ModeUpsert, wal.EmptyLSN)
	require.NoError(t, err)

	q := query.New("docs").
		Where("description", query.CondEq, variant.NewString("alpha")).
		SortBy("rank()", true)
	res, err := ns.Select(ctx, q, nil)
	require.NoError(t, err)
	require.Equal(t, 2, res.Count())

	// The one-word document is a full match and gets the boost.
	assert.Equal(t, 1, int(res.Items[0].ID))
	assert.GreaterOrEqual(t, res.Items[0].Rank, res.Items[1].Rank)
	assert.Greater(t, res.Items[1].Rank, 0)
}

func TestFulltextSeesUpdates(t *testing.T) {
	ns := newFulltextNS(t)
	ctx := context.Background()

	_, err := ns.ModifyItem(ctx, []byte(`{"id": 1, "description": "red apples"}`), ModeUpsert, wal.EmptyLSN)
	require.NoError(t, err)

	q := func(word string) *query.Query {
		return query.New("docs").Where("description", query.CondEq, variant.NewString(word))
	}
	res, err := ns.Select(ctx, q("apples"), nil)
	require.NoError(t, err)
	require.Equal(t, 1, res.Count())

	_, err = ns.ModifyItem(ctx, []byte(`{"id": 1, "description": "green pears"}`), ModeUpsert, wal.EmptyLSN)
	require.NoError(t, err)

	res, err = ns.Select(ctx, q("apples"), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Count())
	res, err = ns.Select(ctx, q("pears"), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count())
}
