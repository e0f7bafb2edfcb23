package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thedenisnikulin/reindexer/idset"
)

func TestLRUBasics(t *testing.T) {
	c := NewLRU[string, int](2)
	c.Set("a", 1)
	c.Set("b", 2)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	// "b" is now least recently used and gets evicted
	c.Set("c", 3)
	_, ok = c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)

	hits, misses := c.Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(1), misses)
}

func TestLRUSetUpdatesExisting(t *testing.T) {
	c := NewLRU[string, int](2)
	c.Set("a", 1)
	c.Set("a", 10)
	v, _ := c.Get("a")
	assert.Equal(t, 10, v)
	assert.Equal(t, 1, c.Len())
}

func TestLRUInvalidateAndClear(t *testing.T) {
	c := NewLRU[int, string](10)
	for i := 0; i < 5; i++ {
		c.Set(i, fmt.Sprintf("v%d", i))
	}
	c.Invalidate(func(k int) bool { return k%2 == 0 })
	assert.Equal(t, 2, c.Len())
	_, ok := c.Get(1)
	assert.True(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestIdSetCacheNullIdsEntry(t *testing.T) {
	c := NewIdSetCache(16)
	key := IdSetKey{Keys: "7", Cond: 1, SortID: 0}

	c.Set(key, IdSetEntry{NullIds: true})
	e, ok := c.Get(key)
	require.True(t, ok)
	assert.True(t, e.NullIds)
	assert.Nil(t, e.Ids)

	c.Set(key, IdSetEntry{Ids: idset.NewFrom(1, 2, 3)})
	e, ok = c.Get(key)
	require.True(t, ok)
	assert.Equal(t, 3, e.Ids.Size())
}
