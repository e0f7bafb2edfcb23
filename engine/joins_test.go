package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thedenisnikulin/reindexer/index"
	"github.com/thedenisnikulin/reindexer/query"
	"github.com/thedenisnikulin/reindexer/variant"
	"github.com/thedenisnikulin/reindexer/wal"
)

// newJoinFixture builds books and authors namespaces with one author per
// book: book i costs i*100 and is written by author i.
func newJoinFixture(t *testing.T) (books, authors *Namespace, resolve NamespaceResolver) {
	t.Helper()
	ctx := context.Background()

	books = NewNamespace("books", Config{})
	require.NoError(t, books.AddIndex(index.Def{
		Name: "id", JSONPaths: []string{"id"}, IndexType: "hash", FieldType: "int", IsPK: true,
	}, wal.EmptyLSN))
	require.NoError(t, books.AddIndex(index.Def{
		Name: "price", JSONPaths: []string{"price"}, IndexType: "tree", FieldType: "int",
	}, wal.EmptyLSN))
	require.NoError(t, books.AddIndex(index.Def{
		Name: "author_id", JSONPaths: []string{"author_id"}, IndexType: "hash", FieldType: "int",
	}, wal.EmptyLSN))

	authors = NewNamespace("authors", Config{})
	require.NoError(t, authors.AddIndex(index.Def{
		Name: "id", JSONPaths: []string{"id"}, IndexType: "hash", FieldType: "int", IsPK: true,
	}, wal.EmptyLSN))

	for i := 0; i < 20; i++ {
		doc := fmt.Sprintf(`{"id": %d, "name": "author%d"}`, i, i)
		_, err := authors.ModifyItem(ctx, []byte(doc), ModeUpsert, wal.EmptyLSN)
		require.NoError(t, err)
		doc = fmt.Sprintf(`{"id": %d, "title": "book%d", "price": %d, "author_id": %d}`, i, i, i*100, i)
		_, err = books.ModifyItem(ctx, []byte(doc), ModeUpsert, wal.EmptyLSN)
		require.NoError(t, err)
	}

	byName := map[string]*Namespace{"books": books, "authors": authors}
	resolve = func(name string) (*Namespace, error) {
		return byName[name], nil
	}
	return books, authors, resolve
}

func onAuthorID() []query.OnCondition {
	return []query.OnCondition{{Op: query.OpAnd, LeftField: "author_id", Cond: query.CondEq, RightField: "id"}}
}

func resultIDs(res *QueryResults) []int {
	out := make([]int, 0, len(res.Items))
	for _, item := range res.Items {
		out = append(out, int(item.ID))
	}
	sort.Ints(out)
	return out
}

func TestInnerJoin(t *testing.T) {
	books, _, resolve := newJoinFixture(t)

	q := query.New("books").Where("price", query.CondGt, variant.NewInt(500))
	q.Join(query.JoinedQuery{
		Query:    *query.New("authors").Where("id", query.CondLt, variant.NewInt(10)),
		JoinType: query.JoinInner,
		On:       onAuthorID(),
	})

	res, err := books.Select(context.Background(), q, resolve)
	require.NoError(t, err)
	assert.Equal(t, []int{6, 7, 8, 9}, resultIDs(res))

	for _, item := range res.Items {
		joined := item.Joined["authors"]
		require.Len(t, joined, 1)
		var author struct {
			ID   int    `json:"id"`
			Name string `json:"name"`
		}
		require.NoError(t, json.Unmarshal(joined[0], &author))
		assert.Equal(t, int(item.ID), author.ID)
		assert.Equal(t, fmt.Sprintf("author%d", author.ID), author.Name)
	}
}

func TestLeftJoin(t *testing.T) {
	books, _, resolve := newJoinFixture(t)

	q := query.New("books").Where("price", query.CondGt, variant.NewInt(500))
	q.Join(query.JoinedQuery{
		Query:    *query.New("authors").Where("id", query.CondLt, variant.NewInt(10)),
		JoinType: query.JoinLeft,
		On:       onAuthorID(),
	})

	res, err := books.Select(context.Background(), q, resolve)
	require.NoError(t, err)
	// A left join keeps every left row.
	assert.Equal(t, 14, res.Count())

	withJoined := 0
	for _, item := range res.Items {
		if len(item.Joined["authors"]) > 0 {
			withJoined++
			assert.Less(t, int(item.ID), 10)
		}
	}
	assert.Equal(t, 4, withJoined)
}

func TestOrInnerJoin(t *testing.T) {
	books, _, resolve := newJoinFixture(t)

	q := query.New("books").Where("price", query.CondGt, variant.NewInt(1700))
	q.Join(query.JoinedQuery{
		Query:    *query.New("authors").Where("id", query.CondLt, variant.NewInt(2)),
		JoinType: query.JoinOrInner,
		On:       onAuthorID(),
	})

	res, err := books.Select(context.Background(), q, resolve)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 18, 19}, resultIDs(res))
}

func TestJoinWithoutOnFails(t *testing.T) {
	books, _, resolve := newJoinFixture(t)

	q := query.New("books")
	q.Join(query.JoinedQuery{Query: *query.New("authors"), JoinType: query.JoinInner})
	_, err := books.Select(context.Background(), q, resolve)
	require.Error(t, err)

	q = query.New("books")
	q.Join(query.JoinedQuery{Query: *query.New("authors"), JoinType: query.JoinInner, On: onAuthorID()})
	_, err = books.Select(context.Background(), q, nil)
	require.Error(t, err)
}

func TestJoinPushdownEquivalence(t *testing.T) {
	books, _, resolve := newJoinFixture(t)
	ctx := context.Background()

	joined := query.New("books").Where("price", query.CondGt, variant.NewInt(500))
	joined.Join(query.JoinedQuery{
		Query:    *query.New("authors").Where("id", query.CondLt, variant.NewInt(10)),
		JoinType: query.JoinInner,
		On:       onAuthorID(),
	})
	jres, err := books.Select(ctx, joined, resolve)
	require.NoError(t, err)

	// The same predicate pushed down as an IN set over the right ids.
	authorIds := make([]variant.Variant, 10)
	for i := range authorIds {
		authorIds[i] = variant.NewInt(i)
	}
	direct := query.New("books").
		Where("author_id", query.CondSet, authorIds...).
		Where("price", query.CondGt, variant.NewInt(500))
	dres, err := books.Select(ctx, direct, resolve)
	require.NoError(t, err)

	assert.Equal(t, resultIDs(dres), resultIDs(jres))
}

func TestJoinCacheReusedAndInvalidated(t *testing.T) {
	books, authors, resolve := newJoinFixture(t)
	ctx := context.Background()

	q := func() *query.Query {
		q := query.New("books").Where("price", query.CondGt, variant.NewInt(500))
		q.Join(query.JoinedQuery{
			Query:    *query.New("authors").Where("id", query.CondLt, variant.NewInt(10)),
			JoinType: query.JoinInner,
			On:       onAuthorID(),
		})
		return q
	}

	res, err := books.Select(ctx, q(), resolve)
	require.NoError(t, err)
	require.Equal(t, 4, res.Count())

	res, err = books.Select(ctx, q(), resolve)
	require.NoError(t, err)
	require.Equal(t, 4, res.Count())
	require.Equal(t, 1, authors.joinCache.Len())

	// A write on the joined namespace drops its preselect cache. The late
	// author is outside the joined id < 10 filter, so the result stays.
	_, err = authors.ModifyItem(ctx, []byte(`{"id": 100, "name": "late"}`), ModeUpsert, wal.EmptyLSN)
	require.NoError(t, err)
	assert.Equal(t, 0, authors.joinCache.Len())
	_, err = books.ModifyItem(ctx, []byte(`{"id": 100, "title": "bookx", "price": 900, "author_id": 100}`), ModeUpsert, wal.EmptyLSN)
	require.NoError(t, err)

	res, err = books.Select(ctx, q(), resolve)
	require.NoError(t, err)
	assert.Equal(t, []int{6, 7, 8, 9}, resultIDs(res))
}

func TestMergeQueries(t *testing.T) {
	books, _, resolve := newJoinFixture(t)
	ctx := context.Background()

	archive := NewNamespace("books_archive", Config{})
	require.NoError(t, archive.AddIndex(index.Def{
		Name: "id", JSONPaths: []string{"id"}, IndexType: "hash", FieldType: "int", IsPK: true,
	}, wal.EmptyLSN))
	require.NoError(t, archive.AddIndex(index.Def{
		Name: "price", JSONPaths: []string{"price"}, IndexType: "tree", FieldType: "int",
	}, wal.EmptyLSN))
	for i := 100; i < 105; i++ {
		doc := fmt.Sprintf(`{"id": %d, "title": "old%d", "price": 50}`, i, i)
		_, err := archive.ModifyItem(ctx, []byte(doc), ModeUpsert, wal.EmptyLSN)
		require.NoError(t, err)
	}
	byName := map[string]*Namespace{"books_archive": archive}
	merged := func(name string) (*Namespace, error) {
		if ns, ok := byName[name]; ok {
			return ns, nil
		}
		return resolve(name)
	}

	q := query.New("books").Where("price", query.CondLt, variant.NewInt(300)).ReqTotal()
	q.Merge(query.JoinedQuery{
		Query: *query.New("books_archive").Where("price", query.CondLt, variant.NewInt(300)),
	})

	res, err := books.Select(ctx, q, merged)
	require.NoError(t, err)
	assert.Equal(t, 8, res.Count())
	assert.Equal(t, 8, res.TotalCount)

	namespaces := map[string]int{}
	for _, item := range res.Items {
		namespaces[item.Namespace]++
	}
	assert.Equal(t, 3, namespaces["books"])
	assert.Equal(t, 5, namespaces["books_archive"])

	// Merging needs a resolver.
	_, err = books.Select(ctx, q, nil)
	require.Error(t, err)
}
