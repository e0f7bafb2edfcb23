package index

import (
	"github.com/google/btree"

	"github.com/thedenisnikulin/reindexer/cache"
	"github.com/thedenisnikulin/reindexer/errs"
	"github.com/thedenisnikulin/reindexer/idset"
	"github.com/thedenisnikulin/reindexer/payload"
	"github.com/thedenisnikulin/reindexer/query"
	"github.com/thedenisnikulin/reindexer/variant"
)

const btreeDegree = 32

// ordered is the btree index. It answers range conditions by walking the
// tree and provides the sort-order vector for ORDER BY queries.
type ordered struct {
	base
	tree     *btree.BTreeG[*keyEntry]
	emptyIds *idset.Set
}

func newOrdered(name string, keyType variant.Type, opts Opts, fields payload.FieldsSet) *ordered {
	collate := opts.Collate
	return &ordered{
		base: newBase(name, KindTree, keyType, opts, fields),
		tree: btree.NewG(btreeDegree, func(a, b *keyEntry) bool {
			return a.key.Less(b.key, collate)
		}),
		emptyIds: idset.New(),
	}
}

func (o *ordered) IsOrdered() bool  { return true }
func (o *ordered) IsFulltext() bool { return false }

func (o *ordered) Upsert(keys []variant.Variant, id idset.IdType) error {
	o.cache.Clear()
	if len(keys) == 0 {
		o.emptyIds.Add(id)
		return nil
	}
	for _, key := range keys {
		conv, err := key.Convert(o.keyType)
		if err != nil {
			return errs.Params("index '%s': %s", o.name, err.Error())
		}
		probe := &keyEntry{key: conv}
		b, ok := o.tree.Get(probe)
		if !ok {
			b = &keyEntry{key: conv, ids: idset.New()}
			o.tree.ReplaceOrInsert(b)
		}
		if o.opts.PK && !b.ids.IsEmpty() && !b.ids.Contains(id) {
			return errs.Conflict("pk index '%s': key %s is already owned by another item", o.name, conv.String())
		}
		b.ids.Add(id)
	}
	return nil
}

func (o *ordered) Delete(keys []variant.Variant, id idset.IdType) error {
	o.cache.Clear()
	if len(keys) == 0 {
		o.emptyIds.Erase(id)
		return nil
	}
	for _, key := range keys {
		conv, err := key.Convert(o.keyType)
		if err != nil {
			return errs.Params("index '%s': %s", o.name, err.Error())
		}
		probe := &keyEntry{key: conv}
		b, ok := o.tree.Get(probe)
		if !ok || !b.ids.Erase(id) {
			if o.opts.Array || o.opts.Sparse {
				continue
			}
			return errs.Logic("index '%s': id %d is not present for key %s", o.name, id, conv.String())
		}
		if b.ids.IsEmpty() {
			o.tree.Delete(probe)
		}
	}
	return nil
}

func (o *ordered) SelectKey(keys []variant.Variant, cond query.CondType, opts SelectOpts) (SelectKeyResult, error) {
	switch cond {
	case query.CondEmpty:
		return NewIdsResult(o.emptyIds), nil
	case query.CondAny:
		var res SelectKeyResult
		o.tree.Ascend(func(b *keyEntry) bool {
			res.Results = append(res.Results, SingleKeyResult{Ids: b.ids})
			return true
		})
		return NewIdsResult(res.MergeIds()), nil
	case query.CondEq, query.CondSet:
		return o.selectEq(keys, cond, opts)
	case query.CondAllSet:
		return o.selectAllSet(keys)
	case query.CondLt, query.CondLe, query.CondGt, query.CondGe, query.CondRange:
		return o.selectRange(keys, cond)
	case query.CondLike:
		return o.selectLike(keys)
	default:
		return NewComparatorResult(o.comparator(cond, keys)), nil
	}
}

func (o *ordered) selectEq(keys []variant.Variant, cond query.CondType, opts SelectOpts) (SelectKeyResult, error) {
	var ck cache.IdSetKey
	useCache := !opts.DisableCache
	if useCache {
		ck = cacheKey(keys, cond, opts.SortID, o.opts.Collate)
		if e, ok := o.cache.Get(ck); ok {
			if e.NullIds {
				return NewComparatorResult(o.comparator(cond, keys)), nil
			}
			return NewIdsResult(e.Ids), nil
		}
	}
	var res SelectKeyResult
	total := 0
	for _, key := range keys {
		conv, err := key.Convert(o.keyType)
		if err != nil {
			return res, errs.Params("index '%s': %s", o.name, err.Error())
		}
		if b, ok := o.tree.Get(&keyEntry{key: conv}); ok {
			res.Results = append(res.Results, SingleKeyResult{Ids: b.ids})
			total += b.ids.Size()
		}
	}
	if fallbackToComparator(total, opts) {
		if useCache {
			o.cache.Set(ck, cache.IdSetEntry{NullIds: true})
		}
		return NewComparatorResult(o.comparator(cond, keys)), nil
	}
	if useCache {
		o.cache.Set(ck, cache.IdSetEntry{Ids: res.MergeIds()})
	}
	return res, nil
}

func (o *ordered) selectAllSet(keys []variant.Variant) (SelectKeyResult, error) {
	var acc *idset.Set
	for _, key := range keys {
		conv, err := key.Convert(o.keyType)
		if err != nil {
			return SelectKeyResult{}, errs.Params("index '%s': %s", o.name, err.Error())
		}
		b, ok := o.tree.Get(&keyEntry{key: conv})
		if !ok {
			return NewIdsResult(idset.New()), nil
		}
		if acc == nil {
			acc = b.ids
		} else {
			acc = idset.Intersect(acc, b.ids)
		}
		if acc.IsEmpty() {
			break
		}
	}
	if acc == nil {
		acc = idset.New()
	}
	return NewIdsResult(acc), nil
}

func (o *ordered) selectRange(keys []variant.Variant, cond query.CondType) (SelectKeyResult, error) {
	if len(keys) == 0 || (cond == query.CondRange && len(keys) < 2) {
		return SelectKeyResult{}, errs.Params("index '%s': condition %s needs more arguments", o.name, cond)
	}
	from, err := keys[0].Convert(o.keyType)
	if err != nil {
		return SelectKeyResult{}, errs.Params("index '%s': %s", o.name, err.Error())
	}
	var res SelectKeyResult
	collect := func(b *keyEntry) bool {
		res.Results = append(res.Results, SingleKeyResult{Ids: b.ids})
		return true
	}
	switch cond {
	case query.CondLt:
		o.tree.AscendLessThan(&keyEntry{key: from}, collect)
	case query.CondLe:
		o.tree.Ascend(func(b *keyEntry) bool {
			if from.Less(b.key, o.opts.Collate) {
				return false
			}
			return collect(b)
		})
	case query.CondGt:
		o.tree.AscendGreaterOrEqual(&keyEntry{key: from}, func(b *keyEntry) bool {
			if b.key.EqualTo(from, o.opts.Collate) {
				return true
			}
			return collect(b)
		})
	case query.CondGe:
		o.tree.AscendGreaterOrEqual(&keyEntry{key: from}, collect)
	case query.CondRange:
		to, err := keys[1].Convert(o.keyType)
		if err != nil {
			return SelectKeyResult{}, errs.Params("index '%s': %s", o.name, err.Error())
		}
		o.tree.AscendGreaterOrEqual(&keyEntry{key: from}, func(b *keyEntry) bool {
			if to.Less(b.key, o.opts.Collate) {
				return false
			}
			return collect(b)
		})
	}
	return res, nil
}

func (o *ordered) selectLike(keys []variant.Variant) (SelectKeyResult, error) {
	if len(keys) == 0 {
		return SelectKeyResult{}, errs.Params("index '%s': LIKE needs a pattern", o.name)
	}
	pattern := keys[0].Str()
	var res SelectKeyResult
	o.tree.Ascend(func(b *keyEntry) bool {
		if likeMatch(b.key.Str(), pattern) {
			res.Results = append(res.Results, SingleKeyResult{Ids: b.ids})
		}
		return true
	})
	return res, nil
}

func (o *ordered) comparator(cond query.CondType, keys []variant.Variant) *Comparator {
	return &Comparator{
		IndexName: o.name,
		Fields:    o.fields,
		Cond:      cond,
		Values:    keys,
		Collate:   o.opts.Collate,
	}
}

func (o *ordered) Commit() {
	o.tree.Ascend(func(b *keyEntry) bool {
		b.ids.Commit()
		return true
	})
	o.emptyIds.Commit()
}

func (o *ordered) UpdateSortedIds(sortOrders []idset.IdType, sortID int) {
	o.tree.Ascend(func(b *keyEntry) bool {
		b.ids.UpdateSortedIds(sortID, sortOrders)
		return true
	})
	o.emptyIds.UpdateSortedIds(sortID, sortOrders)
}

// BuildSortOrders assigns each id its position in key order. Ids absent
// from the index get -1 and sort last.
func (o *ordered) BuildSortOrders(maxID int) []idset.IdType {
	orders := make([]idset.IdType, maxID)
	for i := range orders {
		orders[i] = -1
	}
	pos := idset.IdType(0)
	o.tree.Ascend(func(b *keyEntry) bool {
		b.ids.ForEach(func(id idset.IdType) bool {
			if int(id) < len(orders) {
				orders[id] = pos
				pos++
			}
			return true
		})
		return true
	})
	return orders
}

func (o *ordered) Clone() Index {
	c := newOrdered(o.name, o.keyType, o.opts, o.fields)
	o.tree.Ascend(func(b *keyEntry) bool {
		c.tree.ReplaceOrInsert(&keyEntry{key: b.key, ids: b.ids.Clone()})
		return true
	})
	c.emptyIds = o.emptyIds.Clone()
	return c
}

// Sortable is implemented by indexes that can produce a namespace sort
// order.
type Sortable interface {
	BuildSortOrders(maxID int) []idset.IdType
}
