package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thedenisnikulin/reindexer/variant"
)

func TestDSLRoundTrip(t *testing.T) {
	cases := []string{
		"SELECT * FROM items",
		"SELECT id, name FROM items WHERE id = 42",
		"SELECT COUNT(*) FROM items WHERE status = 'open'",
		"SELECT FACET(brand, model ORDER BY count DESC LIMIT 10) FROM items",
		"SELECT * FROM items WHERE (price > 100.5 AND stock < 20) OR name LIKE 'dr%'",
		"SELECT * FROM items WHERE id IN (1, 2, 3) ORDER BY name DESC LIMIT 10 OFFSET 5",
		"SELECT * FROM items WHERE comment IS NULL",
		"SELECT * FROM items WHERE NOT type = 'archived'",
		"SELECT * FROM items WHERE price > cost",
		"SELECT * FROM items WHERE 0",
		"SELECT * FROM items WHERE prices = 100 AND equal_position(prices, counts)",
		"SELECT * FROM places WHERE ST_DWithin(location, ST_GeomFromText('point(55.5 37.7)'), 0.5)",
		"SELECT * FROM items WHERE status = 'open' ORDER BY FIELD(priority, 'high', 'mid', 'low')",
		"SELECT * FROM orders WHERE INNER JOIN users ON orders.uid = users.id AND status = 'open'",
		"SELECT * FROM orders LEFT JOIN users ON orders.uid = users.id WHERE total > 100",
		"SELECT * FROM orders WHERE total > 100 OR INNER JOIN users ON orders.uid = users.id",
		"SELECT * FROM items LIMIT 10 MERGE (SELECT * FROM archive)",
		"UPDATE items SET price = 100, name = 'new' WHERE id = 1",
		"UPDATE items SET tags = ['a', 'b'] WHERE id = 1",
		"UPDATE items SET price = price * 2 WHERE id = 1",
		"UPDATE items DROP tmp WHERE id = 1",
		"DELETE FROM items WHERE id = 1",
		"TRUNCATE items",
	}
	for _, src := range cases {
		t.Run(src, func(t *testing.T) {
			q, err := ParseSQL(src)
			require.NoError(t, err)
			data, err := q.DSL()
			require.NoError(t, err)
			back, err := ParseDSL(data)
			require.NoError(t, err)
			require.Equal(t, q, back)
		})
	}
}

func TestDSLParse(t *testing.T) {
	data := []byte(`{
		"namespace": "items",
		"limit": 10,
		"offset": 2,
		"req_total": "cached",
		"strict_mode": "names",
		"filters": [
			{"field": "id", "cond": "set", "value": [1, 2, 3]},
			{"op": "or", "filters": [
				{"field": "price", "cond": "gt", "value": 9.5},
				{"op": "not", "field": "stock", "cond": "empty"}
			]}
		],
		"sort": [{"field": "name", "desc": true}],
		"aggregations": [{"type": "facet", "fields": ["brand"], "limit": 5}]
	}`)
	q, err := ParseDSL(data)
	require.NoError(t, err)

	assert.Equal(t, "items", q.Namespace)
	assert.Equal(t, 10, q.Limit)
	assert.Equal(t, 2, q.Offset)
	assert.Equal(t, TotalCached, q.TotalMode)
	assert.Equal(t, StrictNames, q.Strict)

	require.Len(t, q.Entries, 2)
	require.NotNil(t, q.Entries[0].Condition)
	assert.Equal(t, CondSet, q.Entries[0].Condition.Cond)
	assert.Equal(t,
		[]variant.Variant{variant.NewInt64(1), variant.NewInt64(2), variant.NewInt64(3)},
		q.Entries[0].Condition.Values)

	require.NotNil(t, q.Entries[1].Bracket)
	assert.Equal(t, OpOr, q.Entries[1].Op)
	sub := q.Entries[1].Bracket.Entries
	require.Len(t, sub, 2)
	assert.Equal(t, variant.NewDouble(9.5), sub[0].Condition.Values[0])
	assert.Equal(t, OpNot, sub[1].Op)
	assert.Equal(t, CondEmpty, sub[1].Condition.Cond)

	require.Len(t, q.Aggregations, 1)
	assert.Equal(t, AggFacet, q.Aggregations[0].Type)
	assert.Equal(t, 5, q.Aggregations[0].Limit)
}

func TestDSLParseJoin(t *testing.T) {
	data := []byte(`{
		"namespace": "orders",
		"filters": [
			{"join_query": {
				"namespace": "users",
				"join_type": "inner",
				"on": [{"left_field": "uid", "cond": "eq", "right_field": "id"}]
			}}
		]
	}`)
	q, err := ParseDSL(data)
	require.NoError(t, err)
	require.Len(t, q.Joins, 1)
	assert.Equal(t, JoinInner, q.Joins[0].JoinType)
	assert.Equal(t, "users", q.Joins[0].Namespace)
	require.Len(t, q.Entries, 1)
	assert.Equal(t, 0, q.Entries[0].JoinRef)
}

func TestDSLParseErrors(t *testing.T) {
	cases := map[string]string{
		"bad json":       `{namespace}`,
		"bad query type": `{"namespace": "a", "type": "upsert"}`,
		"bad req_total":  `{"namespace": "a", "req_total": "sometimes"}`,
		"bad cond":       `{"namespace": "a", "filters": [{"field": "x", "cond": "similar"}]}`,
		"bad op":         `{"namespace": "a", "filters": [{"op": "xor", "field": "x", "cond": "eq", "value": 1}]}`,
		"bad agg":        `{"namespace": "a", "aggregations": [{"type": "median", "fields": ["x"]}]}`,
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDSL([]byte(src))
			require.Error(t, err)
		})
	}
}
