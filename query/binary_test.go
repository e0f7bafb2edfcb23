package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thedenisnikulin/reindexer/cjson"
	"github.com/thedenisnikulin/reindexer/variant"
)

func TestBinaryRoundTrip(t *testing.T) {
	cases := []string{
		"SELECT * FROM items",
		"SELECT id, name FROM items WHERE id = 42",
		"SELECT COUNT(*) FROM items WHERE status = 'open'",
		"SELECT FACET(brand, model ORDER BY count DESC LIMIT 10) FROM items",
		"SELECT * FROM items WHERE (price > 100.5 AND stock < 20) OR name LIKE 'dr%'",
		"SELECT * FROM items WHERE id IN (1, 2, 3) ORDER BY name DESC LIMIT 10 OFFSET 5",
		"SELECT * FROM items WHERE comment IS NULL",
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

			wire := q.Binary()
			back, err := ParseBinary(wire)
			require.NoError(t, err)
			require.Equal(t, q, back)

			// Re-serializing the parsed query must reproduce the wire
			// bytes exactly.
			require.Equal(t, wire, back.Binary())
		})
	}
}

func TestBinaryFlags(t *testing.T) {
	q := New("items").Where("id", CondEq, variant.NewInt64(1))
	q.Explain = true
	q.WithRank = true
	q.Strict = StrictIndexes
	q.Debug = 2

	back, err := ParseBinary(q.Binary())
	require.NoError(t, err)
	assert.True(t, back.Explain)
	assert.True(t, back.WithRank)
	assert.Equal(t, StrictIndexes, back.Strict)
	assert.Equal(t, 2, back.Debug)
}

func TestBinaryDecodesOldUpdateField(t *testing.T) {
	ser := cjson.NewSerializer()
	ser.PutUvarint(uint64(QueryUpdate))
	ser.PutVString("items")
	ser.PutUvarint(tagUpdateField)
	ser.PutVString("price")
	ser.PutUvarint(1)
	ser.PutUvarint(uint64(UpdateValue))
	ser.PutUvarint(uint64(variant.TypeInt64))
	ser.PutVarint(42)
	ser.PutUvarint(tagEnd)
	ser.PutUvarint(0)
	ser.PutUvarint(0)

	q, err := ParseBinary(ser.Bytes())
	require.NoError(t, err)
	require.Len(t, q.Updates, 1)
	ue := q.Updates[0]
	assert.Equal(t, "price", ue.Field)
	assert.Equal(t, UpdateValue, ue.Mode)
	assert.False(t, ue.IsArray)
	assert.Equal(t, []variant.Variant{variant.NewInt64(42)}, ue.Values)
}

func TestBinaryDecodesOldUpdateFieldArray(t *testing.T) {
	ser := cjson.NewSerializer()
	ser.PutUvarint(uint64(QueryUpdate))
	ser.PutVString("items")
	ser.PutUvarint(tagUpdateField)
	ser.PutVString("tags")
	ser.PutUvarint(2)
	ser.PutUvarint(uint64(UpdateValue))
	ser.PutUvarint(uint64(variant.TypeString))
	ser.PutVString("a")
	ser.PutUvarint(uint64(UpdateValue))
	ser.PutUvarint(uint64(variant.TypeString))
	ser.PutVString("b")
	ser.PutUvarint(tagEnd)
	ser.PutUvarint(0)
	ser.PutUvarint(0)

	q, err := ParseBinary(ser.Bytes())
	require.NoError(t, err)
	require.Len(t, q.Updates, 1)
	assert.True(t, q.Updates[0].IsArray)
	assert.Len(t, q.Updates[0].Values, 2)
}

func TestBinaryErrors(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, err := ParseBinary(nil)
		require.Error(t, err)
	})
	t.Run("unknown query type", func(t *testing.T) {
		ser := cjson.NewSerializer()
		ser.PutUvarint(9)
		_, err := ParseBinary(ser.Bytes())
		require.Error(t, err)
	})
	t.Run("unknown tag", func(t *testing.T) {
		ser := cjson.NewSerializer()
		ser.PutUvarint(uint64(QuerySelect))
		ser.PutVString("items")
		ser.PutUvarint(99)
		_, err := ParseBinary(ser.Bytes())
		require.Error(t, err)
	})
	t.Run("unbalanced bracket", func(t *testing.T) {
		ser := cjson.NewSerializer()
		ser.PutUvarint(uint64(QuerySelect))
		ser.PutVString("items")
		ser.PutUvarint(tagOpenBracket)
		ser.PutUvarint(uint64(OpAnd))
		ser.PutUvarint(tagEnd)
		_, err := ParseBinary(ser.Bytes())
		require.Error(t, err)
	})
	t.Run("trailing bytes", func(t *testing.T) {
		wire := New("items").Binary()
		_, err := ParseBinary(append(wire, 0x01))
		require.Error(t, err)
	})
}
