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

func newGenreNS(t *testing.T) *Namespace {
	t.Helper()
	ctx := context.Background()

	ns := NewNamespace("library", Config{})
	require.NoError(t, ns.AddIndex(index.Def{
		Name: "id", JSONPaths: []string{"id"}, IndexType: "hash", FieldType: "int", IsPK: true,
	}, wal.EmptyLSN))
	require.NoError(t, ns.AddIndex(index.Def{
		Name: "genre", JSONPaths: []string{"genre"}, IndexType: "hash", FieldType: "string",
	}, wal.EmptyLSN))

	genres := []string{"sf", "sf", "sf", "poetry", "poetry", "novel"}
	for i, g := range genres {
		doc := fmt.Sprintf(`{"id": %d, "genre": %q}`, i, g)
		_, err := ns.ModifyItem(ctx, []byte(doc), ModeUpsert, wal.EmptyLSN)
		require.NoError(t, err)
	}
	return ns
}

func aggValue(t *testing.T, res AggResult) float64 {
	t.Helper()
	require.NotNil(t, res.Value)
	return *res.Value
}

func TestAggregateSumAvgMinMaxCount(t *testing.T) {
	ns := newTestNS(t)
	seedItems(t, ns, 10)

	q := query.New("items").
		Aggregate(query.AggSum, "price").
		Aggregate(query.AggAvg, "price").
		Aggregate(query.AggMin, "price").
		Aggregate(query.AggMax, "price").
		Aggregate(query.AggCount)

	res, err := ns.Select(context.Background(), q, nil)
	require.NoError(t, err)
	require.Len(t, res.AggResults, 5)

	assert.Equal(t, "SUM", res.AggResults[0].Type)
	assert.Equal(t, 450.0, aggValue(t, res.AggResults[0]))
	assert.Equal(t, 45.0, aggValue(t, res.AggResults[1]))
	assert.Equal(t, 0.0, aggValue(t, res.AggResults[2]))
	assert.Equal(t, 90.0, aggValue(t, res.AggResults[3]))
	assert.Equal(t, 10.0, aggValue(t, res.AggResults[4]))
}

func TestAggregateEmptySet(t *testing.T) {
	ns := newTestNS(t)
	seedItems(t, ns, 10)

	q := query.New("items").
		Where("id", query.CondEq, variant.NewInt(999)).
		Aggregate(query.AggSum, "price").
		Aggregate(query.AggAvg, "price").
		Aggregate(query.AggMin, "price").
		Aggregate(query.AggMax, "price").
		Aggregate(query.AggCount)

	res, err := ns.Select(context.Background(), q, nil)
	require.NoError(t, err)
	require.Len(t, res.AggResults, 5)

	// A sum over nothing is still zero; avg, min and max have no answer.
	assert.Equal(t, 0.0, aggValue(t, res.AggResults[0]))
	assert.Nil(t, res.AggResults[1].Value)
	assert.Nil(t, res.AggResults[2].Value)
	assert.Nil(t, res.AggResults[3].Value)
	assert.Equal(t, 0.0, aggValue(t, res.AggResults[4]))
}

func TestAggregateWantsOneField(t *testing.T) {
	ns := newTestNS(t)
	seedItems(t, ns, 3)

	q := query.New("items").Aggregate(query.AggSum, "id", "price")
	_, err := ns.Select(context.Background(), q, nil)
	require.Error(t, err)
}

func TestAggregateFacet(t *testing.T) {
	ns := newGenreNS(t)

	q := query.New("library")
	q.Aggregations = append(q.Aggregations, query.AggregateEntry{
		Type:   query.AggFacet,
		Fields: []string{"genre"},
		Sort:   []query.SortEntry{{Expression: "count", Desc: true}},
		Limit:  2,
	})

	res, err := ns.Select(context.Background(), q, nil)
	require.NoError(t, err)
	require.Len(t, res.AggResults, 1)
	facets := res.AggResults[0].Facets
	require.Len(t, facets, 2)
	assert.Equal(t, []string{"sf"}, facets[0].Values)
	assert.Equal(t, 3, facets[0].Count)
	assert.Equal(t, []string{"poetry"}, facets[1].Values)
	assert.Equal(t, 2, facets[1].Count)
}

func TestAggregateFacetSortByField(t *testing.T) {
	ns := newGenreNS(t)

	q := query.New("library")
	q.Aggregations = append(q.Aggregations, query.AggregateEntry{
		Type:   query.AggFacet,
		Fields: []string{"genre"},
		Sort:   []query.SortEntry{{Expression: "genre"}},
		Limit:  -1,
	})

	res, err := ns.Select(context.Background(), q, nil)
	require.NoError(t, err)
	facets := res.AggResults[0].Facets
	require.Len(t, facets, 3)
	assert.Equal(t, []string{"novel"}, facets[0].Values)
	assert.Equal(t, []string{"poetry"}, facets[1].Values)
	assert.Equal(t, []string{"sf"}, facets[2].Values)

	// Sorting a facet by a field that is not faceted fails.
	q = query.New("library")
	q.Aggregations = append(q.Aggregations, query.AggregateEntry{
		Type:   query.AggFacet,
		Fields: []string{"genre"},
		Sort:   []query.SortEntry{{Expression: "id"}},
		Limit:  -1,
	})
	_, err = ns.Select(context.Background(), q, nil)
	require.Error(t, err)
}

func TestAggregateDistinct(t *testing.T) {
	ns := newGenreNS(t)

	q := query.New("library").Aggregate(query.AggDistinct, "genre")
	res, err := ns.Select(context.Background(), q, nil)
	require.NoError(t, err)

	// Distinct dedupes the returned rows, one per distinct value.
	assert.Equal(t, 3, res.Count())
	require.Len(t, res.AggResults, 1)
	assert.ElementsMatch(t, []string{"sf", "poetry", "novel"}, res.AggResults[0].Distincts)
}
