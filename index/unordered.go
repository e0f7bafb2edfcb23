package index

import (
	"github.com/thedenisnikulin/reindexer/cache"
	"github.com/thedenisnikulin/reindexer/errs"
	"github.com/thedenisnikulin/reindexer/idset"
	"github.com/thedenisnikulin/reindexer/payload"
	"github.com/thedenisnikulin/reindexer/query"
	"github.com/thedenisnikulin/reindexer/variant"
)

// keyEntry is one bucket: the original key plus the ids holding it.
type keyEntry struct {
	key variant.Variant
	ids *idset.Set
}

// unordered is the hash index: buckets keyed by the normalized key form.
// Composite indexes reuse it with tuple keys.
type unordered struct {
	base
	buckets  map[string]*keyEntry
	emptyIds *idset.Set
}

func newUnordered(name string, keyType variant.Type, opts Opts, fields payload.FieldsSet) *unordered {
	return &unordered{
		base:     newBase(name, KindHash, keyType, opts, fields),
		buckets:  make(map[string]*keyEntry),
		emptyIds: idset.New(),
	}
}

func (u *unordered) IsOrdered() bool  { return false }
func (u *unordered) IsFulltext() bool { return false }

func (u *unordered) Upsert(keys []variant.Variant, id idset.IdType) error {
	u.cache.Clear()
	if len(keys) == 0 {
		u.emptyIds.Add(id)
		return nil
	}
	for _, key := range keys {
		conv, err := key.Convert(u.keyType)
		if err != nil {
			return errs.Params("index '%s': %s", u.name, err.Error())
		}
		mk := u.mapKey(conv)
		b, ok := u.buckets[mk]
		if !ok {
			b = &keyEntry{key: conv, ids: idset.New()}
			u.buckets[mk] = b
		}
		if u.opts.PK && !b.ids.IsEmpty() && !b.ids.Contains(id) {
			return errs.Conflict("pk index '%s': key %s is already owned by another item", u.name, conv.String())
		}
		b.ids.Add(id)
	}
	return nil
}

func (u *unordered) Delete(keys []variant.Variant, id idset.IdType) error {
	u.cache.Clear()
	if len(keys) == 0 {
		u.emptyIds.Erase(id)
		return nil
	}
	for _, key := range keys {
		conv, err := key.Convert(u.keyType)
		if err != nil {
			return errs.Params("index '%s': %s", u.name, err.Error())
		}
		mk := u.mapKey(conv)
		b, ok := u.buckets[mk]
		if !ok || !b.ids.Erase(id) {
			if u.opts.Array || u.opts.Sparse {
				continue
			}
			return errs.Logic("index '%s': id %d is not present for key %s", u.name, id, conv.String())
		}
		if b.ids.IsEmpty() {
			delete(u.buckets, mk)
		}
	}
	return nil
}

func (u *unordered) SelectKey(keys []variant.Variant, cond query.CondType, opts SelectOpts) (SelectKeyResult, error) {
	switch cond {
	case query.CondEmpty:
		return NewIdsResult(u.emptyIds), nil
	case query.CondAny:
		out := idset.New()
		for _, b := range u.buckets {
			b.ids.ForEach(func(id idset.IdType) bool { out.Add(id); return true })
		}
		return NewIdsResult(out), nil
	case query.CondEq, query.CondSet, query.CondAllSet:
		return u.selectKeys(keys, cond, opts)
	default:
		// ranges and the rest fall through to a comparator walk
		return NewComparatorResult(u.comparator(cond, keys)), nil
	}
}

func (u *unordered) selectKeys(keys []variant.Variant, cond query.CondType, opts SelectOpts) (SelectKeyResult, error) {
	var ck cache.IdSetKey
	useCache := !opts.DisableCache && cond != query.CondAllSet
	if useCache {
		ck = cacheKey(keys, cond, opts.SortID, u.opts.Collate)
		if e, ok := u.cache.Get(ck); ok {
			if e.NullIds {
				return NewComparatorResult(u.comparator(cond, keys)), nil
			}
			return NewIdsResult(e.Ids), nil
		}
	}
	if cond == query.CondAllSet {
		return u.selectAllSet(keys)
	}
	var res SelectKeyResult
	total := 0
	for _, key := range keys {
		conv, err := key.Convert(u.keyType)
		if err != nil {
			return res, errs.Params("index '%s': %s", u.name, err.Error())
		}
		if b, ok := u.buckets[u.mapKey(conv)]; ok {
			res.Results = append(res.Results, SingleKeyResult{Ids: b.ids})
			total += b.ids.Size()
		}
	}
	if fallbackToComparator(total, opts) {
		if useCache {
			u.cache.Set(ck, cache.IdSetEntry{NullIds: true})
		}
		return NewComparatorResult(u.comparator(cond, keys)), nil
	}
	if useCache {
		u.cache.Set(ck, cache.IdSetEntry{Ids: res.MergeIds()})
	}
	return res, nil
}

func (u *unordered) selectAllSet(keys []variant.Variant) (SelectKeyResult, error) {
	var acc *idset.Set
	for _, key := range keys {
		conv, err := key.Convert(u.keyType)
		if err != nil {
			return SelectKeyResult{}, errs.Params("index '%s': %s", u.name, err.Error())
		}
		b, ok := u.buckets[u.mapKey(conv)]
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

// fallbackToComparator applies the selectivity policy: a huge idset is
// slower to merge than re-checking rows the plan already visits.
func fallbackToComparator(resultSize int, opts SelectOpts) bool {
	if opts.Distinct || opts.MaxIterations <= 0 || opts.ItemsCount == 0 {
		return false
	}
	return resultSize > opts.MaxIterations && resultSize*5 > opts.ItemsCount
}

func (u *unordered) comparator(cond query.CondType, keys []variant.Variant) *Comparator {
	return &Comparator{
		IndexName: u.name,
		Fields:    u.fields,
		Cond:      cond,
		Values:    keys,
		Collate:   u.opts.Collate,
	}
}

func (u *unordered) Commit() {
	for _, b := range u.buckets {
		b.ids.Commit()
	}
	u.emptyIds.Commit()
}

func (u *unordered) UpdateSortedIds(sortOrders []idset.IdType, sortID int) {
	for _, b := range u.buckets {
		b.ids.UpdateSortedIds(sortID, sortOrders)
	}
	u.emptyIds.UpdateSortedIds(sortID, sortOrders)
}

func (u *unordered) Clone() Index {
	c := newUnordered(u.name, u.keyType, u.opts, u.fields)
	for mk, b := range u.buckets {
		c.buckets[mk] = &keyEntry{key: b.key, ids: b.ids.Clone()}
	}
	c.emptyIds = u.emptyIds.Clone()
	return c
}
