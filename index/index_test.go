package index

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thedenisnikulin/reindexer/errs"
	"github.com/thedenisnikulin/reindexer/idset"
	"github.com/thedenisnikulin/reindexer/payload"
	"github.com/thedenisnikulin/reindexer/query"
	"github.com/thedenisnikulin/reindexer/variant"
)

func mustNew(t *testing.T, name string, kind Kind, keyType variant.Type, opts Opts) Index {
	t.Helper()
	idx, err := New(name, kind, keyType, opts, payload.NewFieldsSet(1))
	require.NoError(t, err)
	return idx
}

func ints(vals ...int) []variant.Variant {
	out := make([]variant.Variant, len(vals))
	for i, v := range vals {
		out[i] = variant.NewInt(v)
	}
	return out
}

func selectIds(t *testing.T, idx Index, keys []variant.Variant, cond query.CondType) *idset.Set {
	t.Helper()
	res, err := idx.SelectKey(keys, cond, SelectOpts{})
	require.NoError(t, err)
	require.False(t, res.HasComparator())
	return res.MergeIds()
}

func TestHashIndexUpsertSelectDelete(t *testing.T) {
	idx := mustNew(t, "id", KindHash, variant.TypeInt, Opts{})

	for i := 0; i < 10; i++ {
		require.NoError(t, idx.Upsert(ints(i%5), idset.IdType(i)))
	}
	idx.Commit()

	ids := selectIds(t, idx, ints(3), query.CondEq)
	assert.Equal(t, 2, ids.Size())
	assert.True(t, ids.Contains(3))
	assert.True(t, ids.Contains(8))

	ids = selectIds(t, idx, ints(0, 1), query.CondSet)
	assert.Equal(t, 4, ids.Size())

	ids = selectIds(t, idx, nil, query.CondAny)
	assert.Equal(t, 10, ids.Size())

	require.NoError(t, idx.Delete(ints(3), 8))
	ids = selectIds(t, idx, ints(3), query.CondEq)
	assert.Equal(t, 1, ids.Size())
	assert.False(t, ids.Contains(8))
}

func TestHashIndexEmptyBucket(t *testing.T) {
	idx := mustNew(t, "tag", KindHash, variant.TypeString, Opts{})

	require.NoError(t, idx.Upsert(nil, 1))
	require.NoError(t, idx.Upsert([]variant.Variant{variant.NewString("x")}, 2))

	ids := selectIds(t, idx, nil, query.CondEmpty)
	assert.Equal(t, 1, ids.Size())
	assert.True(t, ids.Contains(1))

	require.NoError(t, idx.Delete(nil, 1))
	ids = selectIds(t, idx, nil, query.CondEmpty)
	assert.True(t, ids.IsEmpty())
}

func TestHashIndexDeleteAbsentId(t *testing.T) {
	idx := mustNew(t, "id", KindHash, variant.TypeInt, Opts{})
	require.NoError(t, idx.Upsert(ints(1), 1))

	err := idx.Delete(ints(1), 99)
	assert.Equal(t, errs.CodeLogic, errs.CodeOf(err))

	// Array and sparse indexes swallow the mismatch.
	arr := mustNew(t, "tags", KindHash, variant.TypeInt, Opts{Array: true})
	require.NoError(t, arr.Upsert(ints(1), 1))
	require.NoError(t, arr.Delete(ints(2), 99))
}

func TestPKUniqueness(t *testing.T) {
	for _, kind := range []Kind{KindHash, KindTree} {
		idx := mustNew(t, "id", kind, variant.TypeInt, Opts{PK: true})
		require.NoError(t, idx.Upsert(ints(1), 10))
		// Re-upserting the owner is fine.
		require.NoError(t, idx.Upsert(ints(1), 10))

		err := idx.Upsert(ints(1), 11)
		assert.Equal(t, errs.CodeConflict, errs.CodeOf(err), "kind %s", kind)
	}
}

func TestTreeIndexRanges(t *testing.T) {
	idx := mustNew(t, "price", KindTree, variant.TypeInt, Opts{})
	for i := 0; i < 10; i++ {
		require.NoError(t, idx.Upsert(ints(i*10), idset.IdType(i)))
	}
	idx.Commit()

	assert.Equal(t, 3, selectIds(t, idx, ints(30), query.CondLt).Size())
	assert.Equal(t, 4, selectIds(t, idx, ints(30), query.CondLe).Size())
	assert.Equal(t, 3, selectIds(t, idx, ints(60), query.CondGt).Size())
	assert.Equal(t, 4, selectIds(t, idx, ints(60), query.CondGe).Size())
	assert.Equal(t, 3, selectIds(t, idx, ints(20, 40), query.CondRange).Size())
	assert.Equal(t, 1, selectIds(t, idx, ints(50), query.CondEq).Size())
	assert.True(t, selectIds(t, idx, ints(55), query.CondEq).IsEmpty())
}

func TestTreeIndexLike(t *testing.T) {
	idx := mustNew(t, "name", KindTree, variant.TypeString, Opts{})
	for i, s := range []string{"apple", "apricot", "banana"} {
		require.NoError(t, idx.Upsert([]variant.Variant{variant.NewString(s)}, idset.IdType(i)))
	}

	res, err := idx.SelectKey([]variant.Variant{variant.NewString("ap%")}, query.CondLike, SelectOpts{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.MergeIds().Size())
}

func TestTreeIndexBuildSortOrders(t *testing.T) {
	idx := mustNew(t, "price", KindTree, variant.TypeInt, Opts{})
	// Insert out of key order; sort positions follow key order.
	require.NoError(t, idx.Upsert(ints(30), 0))
	require.NoError(t, idx.Upsert(ints(10), 1))
	require.NoError(t, idx.Upsert(ints(20), 2))

	orders := idx.(Sortable).BuildSortOrders(3)
	assert.Equal(t, []idset.IdType{2, 0, 1}, orders)
}

func TestCompositeKeysOverHash(t *testing.T) {
	idx := mustNew(t, "price+pages", KindHash, variant.TypeComposite, Opts{})
	key := func(price, pages int) []variant.Variant {
		return []variant.Variant{variant.NewComposite(variant.NewInt(price), variant.NewInt(pages))}
	}
	require.NoError(t, idx.Upsert(key(77777, 88888), 1))
	require.NoError(t, idx.Upsert(key(77777, 1), 2))
	require.NoError(t, idx.Upsert(key(2, 88888), 3))

	ids := selectIds(t, idx, key(77777, 88888), query.CondEq)
	assert.Equal(t, 1, ids.Size())
	assert.True(t, ids.Contains(1))
}

func TestSelectivityFallback(t *testing.T) {
	idx := mustNew(t, "flag", KindHash, variant.TypeInt, Opts{})
	for i := 0; i < 100; i++ {
		require.NoError(t, idx.Upsert(ints(1), idset.IdType(i)))
	}

	// A bucket bigger than the plan cost and over a fifth of the
	// namespace is answered with a comparator instead of ids.
	res, err := idx.SelectKey(ints(1), query.CondEq, SelectOpts{ItemsCount: 100, MaxIterations: 10, DisableCache: true})
	require.NoError(t, err)
	assert.True(t, res.HasComparator())

	// Without a better plan the ids win.
	res, err = idx.SelectKey(ints(1), query.CondEq, SelectOpts{ItemsCount: 100, DisableCache: true})
	require.NoError(t, err)
	assert.False(t, res.HasComparator())

	// Distinct selection never falls back.
	res, err = idx.SelectKey(ints(1), query.CondEq, SelectOpts{ItemsCount: 100, MaxIterations: 10, Distinct: true, DisableCache: true})
	require.NoError(t, err)
	assert.False(t, res.HasComparator())

	// A selective bucket stays an id set.
	res, err = idx.SelectKey(ints(1), query.CondEq, SelectOpts{ItemsCount: 10000, MaxIterations: 500, DisableCache: true})
	require.NoError(t, err)
	assert.False(t, res.HasComparator())
}

func TestIdSetCacheRemembersFallback(t *testing.T) {
	idx := mustNew(t, "flag", KindHash, variant.TypeInt, Opts{})
	for i := 0; i < 100; i++ {
		require.NoError(t, idx.Upsert(ints(1), idset.IdType(i)))
	}

	res, err := idx.SelectKey(ints(1), query.CondEq, SelectOpts{ItemsCount: 100, MaxIterations: 10})
	require.NoError(t, err)
	require.True(t, res.HasComparator())

	// The cached null-ids entry answers the repeat without re-merging.
	res, err = idx.SelectKey(ints(1), query.CondEq, SelectOpts{ItemsCount: 100, MaxIterations: 10})
	require.NoError(t, err)
	assert.True(t, res.HasComparator())

	// Any write drops the cache and the decision is re-made.
	require.NoError(t, idx.Upsert(ints(2), 100))
	res, err = idx.SelectKey(ints(1), query.CondEq, SelectOpts{})
	require.NoError(t, err)
	assert.False(t, res.HasComparator())
}

func TestAllSetIntersects(t *testing.T) {
	idx := mustNew(t, "tags", KindHash, variant.TypeInt, Opts{Array: true})
	require.NoError(t, idx.Upsert(ints(1, 2), 10))
	require.NoError(t, idx.Upsert(ints(1), 11))
	require.NoError(t, idx.Upsert(ints(2), 12))

	ids := selectIds(t, idx, ints(1, 2), query.CondAllSet)
	assert.Equal(t, 1, ids.Size())
	assert.True(t, ids.Contains(10))

	ids = selectIds(t, idx, ints(1, 3), query.CondAllSet)
	assert.True(t, ids.IsEmpty())
}

func TestStoreIndexAlwaysComparator(t *testing.T) {
	idx := mustNew(t, "note", KindStore, variant.TypeString, Opts{})
	require.NoError(t, idx.Upsert([]variant.Variant{variant.NewString("x")}, 1))

	res, err := idx.SelectKey([]variant.Variant{variant.NewString("x")}, query.CondEq, SelectOpts{})
	require.NoError(t, err)
	require.True(t, res.HasComparator())
	assert.Equal(t, query.CondEq, res.Results[0].Comparator.Cond)
}

func TestTTLIndexExpiredIds(t *testing.T) {
	idx := mustNew(t, "expires_at", KindTTL, variant.TypeInt64, Opts{TTLSec: 60})
	now := time.Now().Unix()
	require.NoError(t, idx.Upsert([]variant.Variant{variant.NewInt64(now - 3600)}, 1))
	require.NoError(t, idx.Upsert([]variant.Variant{variant.NewInt64(now + 3600)}, 2))

	expired := idx.(Expirer).ExpiredIds(now)
	assert.Equal(t, 1, expired.Size())
	assert.True(t, expired.Contains(1))

	_, err := New("bad", KindTTL, variant.TypeInt, Opts{}, payload.NewFieldsSet(1))
	require.Error(t, err)
}

func TestRTreeDWithin(t *testing.T) {
	idx := mustNew(t, "point", KindRTree, variant.TypeDouble, Opts{Array: true})
	pts := [][2]float64{{0, 0}, {1, 1}, {10, 10}}
	for i, p := range pts {
		keys := []variant.Variant{variant.NewDouble(p[0]), variant.NewDouble(p[1])}
		require.NoError(t, idx.Upsert(keys, idset.IdType(i)))
	}

	args := []variant.Variant{
		variant.NewTuple(variant.NewDouble(0), variant.NewDouble(0)),
		variant.NewDouble(2),
	}
	res, err := idx.SelectKey(args, query.CondDWithin, SelectOpts{})
	require.NoError(t, err)
	ids := res.MergeIds()
	assert.Equal(t, 2, ids.Size())
	assert.True(t, ids.Contains(0))
	assert.True(t, ids.Contains(1))

	_, err = idx.SelectKey(args, query.CondEq, SelectOpts{})
	require.Error(t, err)
}

func TestFulltextIndexSelect(t *testing.T) {
	idx := mustNew(t, "text", KindFulltext, variant.TypeString, Opts{})
	docs := []string{"quick brown fox", "lazy dog", "brown bear"}
	for i, d := range docs {
		require.NoError(t, idx.Upsert([]variant.Variant{variant.NewString(d)}, idset.IdType(i)))
	}
	idx.Commit()

	res, err := idx.SelectKey([]variant.Variant{variant.NewString("brown")}, query.CondEq, SelectOpts{})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	ids := res.MergeIds()
	assert.Equal(t, 2, ids.Size())
	assert.Len(t, res.Results[0].Ranks, 2)

	require.NoError(t, idx.Delete(nil, 0))
	idx.Commit()
	res, err = idx.SelectKey([]variant.Variant{variant.NewString("fox")}, query.CondEq, SelectOpts{})
	require.NoError(t, err)
	assert.True(t, res.MergeIds().IsEmpty())

	_, err = idx.SelectKey([]variant.Variant{variant.NewString("x")}, query.CondGt, SelectOpts{})
	require.Error(t, err)
}

func TestCloneIsIndependent(t *testing.T) {
	idx := mustNew(t, "id", KindHash, variant.TypeInt, Opts{})
	require.NoError(t, idx.Upsert(ints(1), 1))

	c := idx.Clone()
	require.NoError(t, c.Upsert(ints(1), 2))

	assert.Equal(t, 1, selectIds(t, idx, ints(1), query.CondEq).Size())
	assert.Equal(t, 2, selectIds(t, c, ints(1), query.CondEq).Size())
}
