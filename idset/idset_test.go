package idset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortedAddKeepsOrderAndDedups(t *testing.T) {
	s := New()
	for _, id := range []IdType{5, 1, 3, 5, 2, 1} {
		s.Add(id)
	}
	assert.Equal(t, []IdType{1, 2, 3, 5}, s.ToSlice())
	assert.Equal(t, 4, s.Size())
	assert.True(t, s.Contains(3))
	assert.False(t, s.Contains(4))
}

func TestUnorderedPreservesInsertion(t *testing.T) {
	s := NewUnordered()
	for _, id := range []IdType{9, 2, 7} {
		s.Add(id)
	}
	assert.Equal(t, []IdType{9, 2, 7}, s.ToSlice())
	assert.True(t, s.Erase(2))
	assert.Equal(t, []IdType{9, 7}, s.ToSlice())
}

func TestEraseReportsAbsence(t *testing.T) {
	s := NewFrom(1, 2, 3)
	assert.True(t, s.Erase(2))
	assert.False(t, s.Erase(2))
	assert.Equal(t, []IdType{1, 3}, s.ToSlice())
}

func TestCommitPromotesToBitmap(t *testing.T) {
	s := New()
	for i := IdType(0); i <= bitmapThreshold; i++ {
		s.Add(i)
	}
	require.False(t, s.BTreed())
	s.Commit()
	require.True(t, s.BTreed())

	assert.Equal(t, bitmapThreshold+1, s.Size())
	assert.True(t, s.Contains(bitmapThreshold/2))
	s.Add(bitmapThreshold + 100)
	assert.True(t, s.Contains(bitmapThreshold+100))
	assert.True(t, s.Erase(0))
	assert.False(t, s.Contains(0))

	ids := s.ToSlice()
	assert.Equal(t, IdType(1), ids[0])
}

func TestIterator(t *testing.T) {
	s := NewFrom(4, 1, 9)
	it := s.Iter()
	var got []IdType
	for {
		id, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, id)
	}
	assert.Equal(t, []IdType{1, 4, 9}, got)
}

func TestIntersectAndUnion(t *testing.T) {
	a := NewFrom(1, 2, 3, 4)
	b := NewFrom(3, 4, 5)
	assert.Equal(t, []IdType{3, 4}, Intersect(a, b).ToSlice())
	assert.Equal(t, []IdType{1, 2, 3, 4, 5}, Union(a, b).ToSlice())
}

func TestIntersectBitmapBacked(t *testing.T) {
	a, b := New(), New()
	for i := IdType(0); i <= bitmapThreshold; i++ {
		a.Add(i)
		b.Add(i + bitmapThreshold/2)
	}
	a.Commit()
	b.Commit()
	require.True(t, a.BTreed())
	require.True(t, b.BTreed())

	got := Intersect(a, b)
	assert.Equal(t, bitmapThreshold/2+1, got.Size())
	assert.True(t, got.Contains(bitmapThreshold / 2))
	assert.False(t, got.Contains(0))
}

func TestUpdateSortedIds(t *testing.T) {
	s := NewFrom(0, 1, 2)
	// id 2 sorts first, id 0 second, id 1 last.
	orders := []IdType{1, 2, 0}
	s.UpdateSortedIds(7, orders)
	assert.Equal(t, []IdType{2, 0, 1}, s.SortedIds(7))
	assert.Nil(t, s.SortedIds(8))

	// any mutation drops the projections
	s.Add(5)
	assert.Nil(t, s.SortedIds(7))
}

func TestCloneIsDeep(t *testing.T) {
	s := NewFrom(1, 2)
	c := s.Clone()
	c.Add(3)
	assert.Equal(t, 2, s.Size())
	assert.Equal(t, 3, c.Size())
}
