package payload

import (
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/thedenisnikulin/reindexer/errs"
	"github.com/thedenisnikulin/reindexer/variant"
)

// Value is one item's materialized payload: a slot per payload-type field.
// Slot 0 carries the CJSON-encoded tuple (non-indexed fields); the other
// slots carry decoded variants, one element for scalars, many for arrays.
type Value struct {
	tuple []byte
	slots [][]variant.Variant
}

// NewValue allocates an empty payload shaped after t.
func NewValue(t *Type) *Value {
	return &Value{slots: make([][]variant.Variant, t.NumFields())}
}

// Tuple returns the CJSON bytes of the non-indexed remainder.
func (v *Value) Tuple() []byte { return v.tuple }

// SetTuple stores the CJSON bytes of the non-indexed remainder.
func (v *Value) SetTuple(b []byte) { v.tuple = b }

// Get returns field values. Field 0 is not addressable this way.
func (v *Value) Get(field int) []variant.Variant {
	if field <= 0 || field >= len(v.slots) {
		return nil
	}
	return v.slots[field]
}

// GetOne returns the single value of a scalar field, or Null when unset.
func (v *Value) GetOne(field int) variant.Variant {
	vals := v.Get(field)
	if len(vals) == 0 {
		return variant.Null()
	}
	return vals[0]
}

// Set replaces field values, converting each to the field type.
func (v *Value) Set(t *Type, field int, vals []variant.Variant) error {
	if field <= 0 || field >= len(v.slots) {
		return errs.Logic("payload field %d out of range (%d fields)", field, len(v.slots))
	}
	f := t.Field(field)
	if len(vals) > 1 && !f.IsArray {
		return errs.Params("field '%s' is not an array", f.Name)
	}
	conv := make([]variant.Variant, len(vals))
	for i, val := range vals {
		if val.IsNull() {
			conv[i] = val
			continue
		}
		c, err := val.Convert(f.Type)
		if err != nil {
			return errs.Params("field '%s': %s", f.Name, err.Error())
		}
		conv[i] = c
	}
	v.slots[field] = conv
	return nil
}

// ResizeTo grows or shrinks the slot vector after payload-type changes.
// A dropped field's slot is removed in place, mirroring Type.Drop.
func (v *Value) ResizeTo(n int, droppedField int) {
	if droppedField > 0 && droppedField < len(v.slots) {
		v.slots = append(v.slots[:droppedField], v.slots[droppedField+1:]...)
	}
	for len(v.slots) < n {
		v.slots = append(v.slots, nil)
	}
	v.slots = v.slots[:n]
}

// Clone returns a deep copy.
func (v *Value) Clone() *Value {
	c := &Value{slots: make([][]variant.Variant, len(v.slots))}
	c.tuple = append([]byte(nil), v.tuple...)
	for i, s := range v.slots {
		c.slots[i] = append([]variant.Variant(nil), s...)
	}
	return c
}

// Hash folds the indexed fields and the tuple into one 64-bit value. Used
// for the replication dataHash, which XORs item hashes together.
func (v *Value) Hash() uint64 {
	d := xxhash.New()
	var buf [8]byte
	for i := 1; i < len(v.slots); i++ {
		for _, val := range v.slots[i] {
			bits := val.Hash()
			for b := 0; b < 8; b++ {
				buf[b] = byte(bits >> (8 * b))
			}
			_, _ = d.Write(buf[:])
		}
		_, _ = d.Write([]byte{0xff})
	}
	_, _ = d.Write(v.tuple)
	return d.Sum64()
}

// Equal compares the given fields of two payloads.
func (v *Value) Equal(other *Value, fields FieldsSet, collate variant.Collate) bool {
	for _, f := range fields.Fields() {
		a, b := v.Get(f), other.Get(f)
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if !a[i].EqualTo(b[i], collate) {
				return false
			}
		}
	}
	return true
}

// CompositeKey assembles the composite-index key over the fields set.
func (v *Value) CompositeKey(fields FieldsSet) variant.Variant {
	parts := make([]variant.Variant, 0, len(fields.Fields()))
	for _, f := range fields.Fields() {
		parts = append(parts, v.GetOne(f))
	}
	return variant.NewComposite(parts...)
}

// GeoPoint reads a 2-element array field as (x, y). The second return is
// false when the field has no point.
func (v *Value) GeoPoint(field int) ([2]float64, bool) {
	vals := v.Get(field)
	if len(vals) < 2 {
		return [2]float64{}, false
	}
	x, y := vals[0].AsDouble(), vals[1].AsDouble()
	if math.IsNaN(x) || math.IsNaN(y) {
		return [2]float64{}, false
	}
	return [2]float64{x, y}, true
}
