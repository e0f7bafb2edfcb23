// Package idset implements the integer-id containers passed between
// indexes and the query executor: plain sorted or unordered id vectors
// that promote to a roaring bitmap once they grow large, plus per-sort
// projections for ORDER BY index iteration.
package idset

import (
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
)

// IdType is a row index into a namespace's items vector.
type IdType = int32

// bitmapThreshold is the plain-vector size past which Commit promotes a
// sorted set to a roaring bitmap.
const bitmapThreshold = 4096

// Set is a set of item ids. The zero value is an empty sorted set.
type Set struct {
	ids       []IdType
	bm        *roaring.Bitmap
	unordered bool

	// sortedIds caches, per namespace sort order id, a projection of the
	// set iterated in that order.
	sortedIds map[int][]IdType
}

// New creates an empty sorted set.
func New() *Set { return &Set{} }

// NewUnordered creates a set that keeps insertion order. Fulltext results
// use it to preserve rank order.
func NewUnordered() *Set { return &Set{unordered: true} }

// NewFrom creates a sorted set from the given ids.
func NewFrom(ids ...IdType) *Set {
	s := &Set{ids: append([]IdType(nil), ids...)}
	sort.Slice(s.ids, func(i, j int) bool { return s.ids[i] < s.ids[j] })
	s.ids = dedupSorted(s.ids)
	return s
}

func dedupSorted(ids []IdType) []IdType {
	out := ids[:0]
	for i, id := range ids {
		if i > 0 && id == ids[i-1] {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Unordered reports whether the set preserves insertion order instead of
// id order.
func (s *Set) Unordered() bool { return s.unordered }

// BTreed reports whether the set has been promoted to bitmap backing.
func (s *Set) BTreed() bool { return s.bm != nil }

// Size returns the number of ids.
func (s *Set) Size() int {
	if s.bm != nil {
		return int(s.bm.GetCardinality())
	}
	return len(s.ids)
}

// IsEmpty reports whether the set has no ids.
func (s *Set) IsEmpty() bool { return s.Size() == 0 }

// Add inserts an id. Sorted sets keep order and ignore duplicates;
// unordered sets append.
func (s *Set) Add(id IdType) {
	s.sortedIds = nil
	if s.bm != nil {
		s.bm.Add(uint32(id))
		return
	}
	if s.unordered {
		s.ids = append(s.ids, id)
		return
	}
	i := sort.Search(len(s.ids), func(i int) bool { return s.ids[i] >= id })
	if i < len(s.ids) && s.ids[i] == id {
		return
	}
	s.ids = append(s.ids, 0)
	copy(s.ids[i+1:], s.ids[i:])
	s.ids[i] = id
}

// Erase removes an id and reports whether it was present.
func (s *Set) Erase(id IdType) bool {
	s.sortedIds = nil
	if s.bm != nil {
		return s.bm.CheckedRemove(uint32(id))
	}
	if s.unordered {
		for i, v := range s.ids {
			if v == id {
				s.ids = append(s.ids[:i], s.ids[i+1:]...)
				return true
			}
		}
		return false
	}
	i := sort.Search(len(s.ids), func(i int) bool { return s.ids[i] >= id })
	if i >= len(s.ids) || s.ids[i] != id {
		return false
	}
	s.ids = append(s.ids[:i], s.ids[i+1:]...)
	return true
}

// Contains reports membership.
func (s *Set) Contains(id IdType) bool {
	if s.bm != nil {
		return s.bm.Contains(uint32(id))
	}
	if s.unordered {
		for _, v := range s.ids {
			if v == id {
				return true
			}
		}
		return false
	}
	i := sort.Search(len(s.ids), func(i int) bool { return s.ids[i] >= id })
	return i < len(s.ids) && s.ids[i] == id
}

// Commit promotes a large sorted set to bitmap backing. Indexes call it
// after ingesting pending updates.
func (s *Set) Commit() {
	if s.unordered || s.bm != nil || len(s.ids) <= bitmapThreshold {
		return
	}
	bm := roaring.New()
	for _, id := range s.ids {
		bm.Add(uint32(id))
	}
	s.bm = bm
	s.ids = nil
}

// ToSlice materializes the ids. Sorted sets come out in id order,
// unordered sets in insertion order.
func (s *Set) ToSlice() []IdType {
	if s.bm != nil {
		out := make([]IdType, 0, s.bm.GetCardinality())
		it := s.bm.Iterator()
		for it.HasNext() {
			out = append(out, IdType(it.Next()))
		}
		return out
	}
	return append([]IdType(nil), s.ids...)
}

// ForEach visits each id until fn returns false.
func (s *Set) ForEach(fn func(IdType) bool) {
	if s.bm != nil {
		it := s.bm.Iterator()
		for it.HasNext() {
			if !fn(IdType(it.Next())) {
				return
			}
		}
		return
	}
	for _, id := range s.ids {
		if !fn(id) {
			return
		}
	}
}

// Clone returns a deep copy.
func (s *Set) Clone() *Set {
	c := &Set{unordered: s.unordered, ids: append([]IdType(nil), s.ids...)}
	if s.bm != nil {
		c.bm = s.bm.Clone()
	}
	return c
}

// UpdateSortedIds builds and caches the projection of the set into the
// given sort order. sortOrders maps item id to its position in the order;
// a negative position means the item does not participate and sorts last.
func (s *Set) UpdateSortedIds(sortID int, sortOrders []IdType) {
	ids := s.ToSlice()
	sort.SliceStable(ids, func(i, j int) bool {
		return sortPos(sortOrders, ids[i]) < sortPos(sortOrders, ids[j])
	})
	if s.sortedIds == nil {
		s.sortedIds = make(map[int][]IdType)
	}
	s.sortedIds[sortID] = ids
}

func sortPos(sortOrders []IdType, id IdType) int64 {
	if int(id) >= len(sortOrders) || sortOrders[id] < 0 {
		return int64(1) << 40
	}
	return int64(sortOrders[id])
}

// SortedIds returns the cached projection for a sort order, or nil when
// none was built.
func (s *Set) SortedIds(sortID int) []IdType {
	if s.sortedIds == nil {
		return nil
	}
	return s.sortedIds[sortID]
}

// Iterator walks a set in its natural order.
type Iterator struct {
	ids []IdType
	pos int
	it  roaring.IntPeekable
}

// Iter returns an iterator over the set.
func (s *Set) Iter() *Iterator {
	if s.bm != nil {
		return &Iterator{it: s.bm.Iterator()}
	}
	return &Iterator{ids: s.ids}
}

// Next returns the next id; ok is false when exhausted.
func (it *Iterator) Next() (IdType, bool) {
	if it.it != nil {
		if !it.it.HasNext() {
			return 0, false
		}
		return IdType(it.it.Next()), true
	}
	if it.pos >= len(it.ids) {
		return 0, false
	}
	id := it.ids[it.pos]
	it.pos++
	return id, true
}

// Intersect returns the sorted intersection of two sets.
func Intersect(a, b *Set) *Set {
	if a.bm != nil && b.bm != nil {
		return &Set{bm: roaring.And(a.bm, b.bm)}
	}
	out := New()
	small, big := a, b
	if small.Size() > big.Size() {
		small, big = big, small
	}
	small.ForEach(func(id IdType) bool {
		if big.Contains(id) {
			out.ids = append(out.ids, id)
		}
		return true
	})
	if small.unordered {
		sort.Slice(out.ids, func(i, j int) bool { return out.ids[i] < out.ids[j] })
		out.ids = dedupSorted(out.ids)
	}
	return out
}

// Union returns the sorted union of two sets.
func Union(a, b *Set) *Set {
	if a.bm != nil && b.bm != nil {
		return &Set{bm: roaring.Or(a.bm, b.bm)}
	}
	out := New()
	a.ForEach(func(id IdType) bool { out.Add(id); return true })
	b.ForEach(func(id IdType) bool { out.Add(id); return true })
	return out
}
