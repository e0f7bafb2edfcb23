package cache

import "github.com/thedenisnikulin/reindexer/idset"

// IdSetKey identifies one index select: the normalized key values, the
// condition and the requested sort order.
type IdSetKey struct {
	Keys   string
	Cond   int
	SortID int
}

// IdSetEntry is a cached index select result. NullIds marks a select that
// chose comparator fallback, so later hits replay the same plan instead
// of re-walking the index.
type IdSetEntry struct {
	Ids     *idset.Set
	NullIds bool
}

// IdSetCache caches per-index select results.
type IdSetCache = LRU[IdSetKey, IdSetEntry]

// NewIdSetCache creates an idset cache.
func NewIdSetCache(capacity int) *IdSetCache {
	return NewLRU[IdSetKey, IdSetEntry](capacity)
}

// QueryCountEntry is a cached count-only query result.
type QueryCountEntry struct {
	Total int
}

// QueryCountCache caches totals for CachedTotal count queries, keyed by
// the canonicalized query text.
type QueryCountCache = LRU[string, QueryCountEntry]

// NewQueryCountCache creates a query-count cache.
func NewQueryCountCache(capacity int) *QueryCountCache {
	return NewLRU[string, QueryCountEntry](capacity)
}
