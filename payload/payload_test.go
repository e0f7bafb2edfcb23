package payload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thedenisnikulin/reindexer/errs"
	"github.com/thedenisnikulin/reindexer/variant"
)

func newBookType(t *testing.T) *Type {
	t.Helper()
	pt := NewType("books")
	require.NoError(t, pt.Add(Field{Name: "id", Type: variant.TypeInt, JSONPaths: []string{"id"}}))
	require.NoError(t, pt.Add(Field{Name: "price", Type: variant.TypeInt, JSONPaths: []string{"price"}}))
	require.NoError(t, pt.Add(Field{Name: "tags", Type: variant.TypeString, IsArray: true, JSONPaths: []string{"tags"}}))
	return pt
}

func TestTypeFieldLookup(t *testing.T) {
	pt := newBookType(t)

	assert.Equal(t, 4, pt.NumFields())
	idx, ok := pt.FieldByName("price")
	require.True(t, ok)
	assert.Equal(t, 2, idx)

	idx, ok = pt.FieldByJSONPath("tags")
	require.True(t, ok)
	assert.Equal(t, 3, idx)

	_, ok = pt.FieldByName("missing")
	assert.False(t, ok)
}

func TestTypeAddConflicts(t *testing.T) {
	pt := newBookType(t)

	err := pt.Add(Field{Name: "id", Type: variant.TypeInt, JSONPaths: []string{"id2"}})
	assert.Equal(t, errs.CodeConflict, errs.CodeOf(err))

	err = pt.Add(Field{Name: "id2", Type: variant.TypeInt, JSONPaths: []string{"id"}})
	assert.Equal(t, errs.CodeConflict, errs.CodeOf(err))
}

func TestTypeDropRenumbers(t *testing.T) {
	pt := newBookType(t)

	require.NoError(t, pt.Drop("price"))
	idx, ok := pt.FieldByName("tags")
	require.True(t, ok)
	assert.Equal(t, 2, idx)
	_, ok = pt.FieldByName("price")
	assert.False(t, ok)

	err := pt.Drop("-tuple")
	assert.Equal(t, errs.CodeLogic, errs.CodeOf(err))

	err = pt.Drop("missing")
	assert.Equal(t, errs.CodeNotFound, errs.CodeOf(err))
}

func TestValueSetGet(t *testing.T) {
	pt := newBookType(t)
	pv := NewValue(pt)

	id, _ := pt.FieldByName("id")
	require.NoError(t, pv.Set(pt, id, []variant.Variant{variant.NewString("7")}))
	// Values are converted to the field type on the way in.
	assert.Equal(t, variant.TypeInt, pv.GetOne(id).Type())
	assert.Equal(t, 7, pv.GetOne(id).Int())

	tags, _ := pt.FieldByName("tags")
	require.NoError(t, pv.Set(pt, tags, []variant.Variant{variant.NewString("a"), variant.NewString("b")}))
	assert.Len(t, pv.Get(tags), 2)

	price, _ := pt.FieldByName("price")
	err := pv.Set(pt, price, []variant.Variant{variant.NewInt(1), variant.NewInt(2)})
	require.Error(t, err)

	assert.True(t, pv.GetOne(price).IsNull())
	assert.Equal(t, errs.CodeLogic, errs.CodeOf(pv.Set(pt, 0, nil)))
}

func TestValueHashAndEqual(t *testing.T) {
	pt := newBookType(t)
	a, b := NewValue(pt), NewValue(pt)
	id, _ := pt.FieldByName("id")

	require.NoError(t, a.Set(pt, id, []variant.Variant{variant.NewInt(1)}))
	require.NoError(t, b.Set(pt, id, []variant.Variant{variant.NewInt(1)}))
	assert.Equal(t, a.Hash(), b.Hash())
	assert.True(t, a.Equal(b, NewFieldsSet(id), variant.Collate{}))

	require.NoError(t, b.Set(pt, id, []variant.Variant{variant.NewInt(2)}))
	assert.NotEqual(t, a.Hash(), b.Hash())
	assert.False(t, a.Equal(b, NewFieldsSet(id), variant.Collate{}))
}

func TestValueCloneIsDeep(t *testing.T) {
	pt := newBookType(t)
	pv := NewValue(pt)
	id, _ := pt.FieldByName("id")
	require.NoError(t, pv.Set(pt, id, []variant.Variant{variant.NewInt(1)}))
	pv.SetTuple([]byte{1, 2, 3})

	c := pv.Clone()
	require.NoError(t, c.Set(pt, id, []variant.Variant{variant.NewInt(9)}))
	assert.Equal(t, 1, pv.GetOne(id).Int())
	assert.Equal(t, []byte{1, 2, 3}, c.Tuple())
}

func TestValueCompositeKey(t *testing.T) {
	pt := newBookType(t)
	pv := NewValue(pt)
	id, _ := pt.FieldByName("id")
	price, _ := pt.FieldByName("price")
	require.NoError(t, pv.Set(pt, id, []variant.Variant{variant.NewInt(300)}))
	require.NoError(t, pv.Set(pt, price, []variant.Variant{variant.NewInt(77777)}))

	key := pv.CompositeKey(NewFieldsSet(id, price))
	want := variant.NewComposite(variant.NewInt(300), variant.NewInt(77777))
	assert.True(t, key.EqualTo(want, variant.Collate{}))
}

func TestValueGeoPoint(t *testing.T) {
	pt := NewType("places")
	require.NoError(t, pt.Add(Field{Name: "point", Type: variant.TypeDouble, IsArray: true, JSONPaths: []string{"point"}}))
	pv := NewValue(pt)
	f, _ := pt.FieldByName("point")

	_, ok := pv.GeoPoint(f)
	assert.False(t, ok)

	require.NoError(t, pv.Set(pt, f, []variant.Variant{variant.NewDouble(1.5), variant.NewDouble(-2.5)}))
	pt2, ok := pv.GeoPoint(f)
	require.True(t, ok)
	assert.Equal(t, [2]float64{1.5, -2.5}, pt2)
}

func TestTagsMatcherNamesAndPaths(t *testing.T) {
	tm := NewTagsMatcher()

	tag, err := tm.Name2Tag("name", true)
	require.NoError(t, err)
	assert.Equal(t, TagName(1), tag)
	assert.Equal(t, "name", tm.Tag2Name(tag))

	// Repeated resolution is stable.
	again, err := tm.Name2Tag("name", true)
	require.NoError(t, err)
	assert.Equal(t, tag, again)

	// Without canAdd an unknown name resolves to the reserved tag 0.
	missing, err := tm.Name2Tag("unknown", false)
	require.NoError(t, err)
	assert.Equal(t, TagName(0), missing)

	path, err := tm.Path2Tags("nested.field", true)
	require.NoError(t, err)
	require.Len(t, path, 2)
	assert.Equal(t, "nested", tm.Tag2Name(path[0]))
	assert.Equal(t, "field", tm.Tag2Name(path[1]))
	assert.True(t, tm.WasUpdated())
}

func TestTagsMatcherTryMerge(t *testing.T) {
	a := NewTagsMatcher()
	_, err := a.Name2Tag("id", true)
	require.NoError(t, err)

	b := NewTagsMatcher()
	_, err = b.Name2Tag("id", true)
	require.NoError(t, err)
	_, err = b.Name2Tag("name", true)
	require.NoError(t, err)

	require.NoError(t, a.TryMerge(b))
	tag, err := a.Name2Tag("name", false)
	require.NoError(t, err)
	assert.Equal(t, TagName(2), tag)

	// A matcher whose names map to different tags can not be merged.
	c := NewTagsMatcher()
	_, err = c.Name2Tag("name", true)
	require.NoError(t, err)
	_, err = c.Name2Tag("id", true)
	require.NoError(t, err)
	err = a.TryMerge(c)
	assert.Equal(t, errs.CodeLogic, errs.CodeOf(err))
}

func TestTagsMatcherSerializeRoundTrip(t *testing.T) {
	tm := NewTagsMatcher()
	for _, name := range []string{"id", "name", "price"} {
		_, err := tm.Name2Tag(name, true)
		require.NoError(t, err)
	}

	clone := NewTagsMatcher()
	require.NoError(t, clone.Deserialize(tm.Serialize()))
	for _, name := range []string{"id", "name", "price"} {
		want, err := tm.Name2Tag(name, false)
		require.NoError(t, err)
		got, err := clone.Name2Tag(name, false)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
