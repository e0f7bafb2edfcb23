// Package variant implements the typed scalar value used for index keys,
// filter arguments and payload fields.
//
// A Variant is a tagged union over null, bool, int, int64, double, string
// and tuple. Numbers form one comparison family; strings compare under a
// Collate. Tuples compare element-wise and back composite index keys.
package variant

import (
	"math"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/thedenisnikulin/reindexer/errs"
)

// Type enumerates variant kinds.
type Type int

const (
	// TypeUndefined marks an unset variant.
	TypeUndefined Type = iota
	// TypeNull is the JSON null.
	TypeNull
	// TypeBool is a boolean.
	TypeBool
	// TypeInt is a 32-bit integer.
	TypeInt
	// TypeInt64 is a 64-bit integer.
	TypeInt64
	// TypeDouble is a 64-bit float.
	TypeDouble
	// TypeString is a UTF-8 string.
	TypeString
	// TypeTuple is an ordered sequence of variants.
	TypeTuple
	// TypeComposite is a tuple produced from a composite index fields set.
	TypeComposite
)

func (t Type) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeInt64:
		return "int64"
	case TypeDouble:
		return "double"
	case TypeString:
		return "string"
	case TypeTuple:
		return "tuple"
	case TypeComposite:
		return "composite"
	default:
		return "undefined"
	}
}

// IsNumeric reports whether values of this type belong to the numeric
// comparison family.
func (t Type) IsNumeric() bool {
	return t == TypeBool || t == TypeInt || t == TypeInt64 || t == TypeDouble
}

// Variant is a single tagged scalar.
type Variant struct {
	typ   Type
	i64   int64
	f64   float64
	str   string
	tuple []Variant
}

// Null returns the null variant.
func Null() Variant { return Variant{typ: TypeNull} }

// NewBool creates a bool variant.
func NewBool(b bool) Variant {
	var i int64
	if b {
		i = 1
	}
	return Variant{typ: TypeBool, i64: i}
}

// NewNull creates a null variant.
func NewNull() Variant { return Variant{typ: TypeNull} }

// NewInt creates a 32-bit int variant.
func NewInt(i int) Variant { return Variant{typ: TypeInt, i64: int64(int32(i))} }

// NewInt64 creates a 64-bit int variant.
func NewInt64(i int64) Variant { return Variant{typ: TypeInt64, i64: i} }

// NewDouble creates a double variant.
func NewDouble(f float64) Variant { return Variant{typ: TypeDouble, f64: f} }

// NewString creates a string variant.
func NewString(s string) Variant { return Variant{typ: TypeString, str: s} }

// NewTuple creates a tuple variant.
func NewTuple(vs ...Variant) Variant { return Variant{typ: TypeTuple, tuple: vs} }

// NewComposite creates a composite-key variant over the given sub-values.
func NewComposite(vs ...Variant) Variant { return Variant{typ: TypeComposite, tuple: vs} }

// Type returns the variant kind.
func (v Variant) Type() Type { return v.typ }

// IsNull reports whether the variant is null or unset.
func (v Variant) IsNull() bool { return v.typ == TypeNull || v.typ == TypeUndefined }

// Bool returns the bool value. Valid for numeric kinds.
func (v Variant) Bool() bool {
	if v.typ == TypeDouble {
		return v.f64 != 0
	}
	return v.i64 != 0
}

// Int returns the value as int.
func (v Variant) Int() int { return int(v.AsInt64()) }

// AsInt64 converts any numeric kind to int64.
func (v Variant) AsInt64() int64 {
	if v.typ == TypeDouble {
		return int64(v.f64)
	}
	return v.i64
}

// AsDouble converts any numeric kind to float64.
func (v Variant) AsDouble() float64 {
	if v.typ == TypeDouble {
		return v.f64
	}
	return float64(v.i64)
}

// Str returns the string value. Empty unless TypeString.
func (v Variant) Str() string { return v.str }

// Tuple returns the tuple elements. Nil unless tuple/composite.
func (v Variant) Tuple() []Variant { return v.tuple }

// Convert coerces the variant to the target type.
func (v Variant) Convert(t Type) (Variant, error) {
	if v.typ == t || t == TypeUndefined {
		return v, nil
	}
	switch t {
	case TypeBool:
		return NewBool(v.asBoolLoose()), nil
	case TypeInt:
		i, err := v.asInt64Loose()
		return NewInt(int(i)), err
	case TypeInt64:
		i, err := v.asInt64Loose()
		return NewInt64(i), err
	case TypeDouble:
		f, err := v.asDoubleLoose()
		return NewDouble(f), err
	case TypeString:
		return NewString(v.text()), nil
	}
	return Variant{}, errs.Params("can't convert %s to %s", v.typ, t)
}

func (v Variant) asBoolLoose() bool {
	switch v.typ {
	case TypeString:
		return v.str == "true" || v.str == "1" || v.str == "on"
	default:
		return v.Bool()
	}
}

func (v Variant) asInt64Loose() (int64, error) {
	switch v.typ {
	case TypeString:
		i, err := strconv.ParseInt(strings.TrimSpace(v.str), 10, 64)
		if err != nil {
			return 0, errs.Params("can't convert %q to int", v.str)
		}
		return i, nil
	case TypeNull, TypeUndefined:
		return 0, nil
	default:
		return v.AsInt64(), nil
	}
}

func (v Variant) asDoubleLoose() (float64, error) {
	switch v.typ {
	case TypeString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		if err != nil {
			return 0, errs.Params("can't convert %q to double", v.str)
		}
		return f, nil
	case TypeNull, TypeUndefined:
		return 0, nil
	default:
		return v.AsDouble(), nil
	}
}

func (v Variant) text() string {
	switch v.typ {
	case TypeString:
		return v.str
	case TypeBool:
		if v.i64 != 0 {
			return "true"
		}
		return "false"
	case TypeInt, TypeInt64:
		return strconv.FormatInt(v.i64, 10)
	case TypeDouble:
		return strconv.FormatFloat(v.f64, 'g', -1, 64)
	case TypeNull:
		return "null"
	default:
		return ""
	}
}

// String implements fmt.Stringer for logs and explain output.
func (v Variant) String() string {
	if v.typ == TypeTuple || v.typ == TypeComposite {
		parts := make([]string, len(v.tuple))
		for i, e := range v.tuple {
			parts[i] = e.String()
		}
		return "(" + strings.Join(parts, ",") + ")"
	}
	return v.text()
}

// Hash mixes the variant into a stable 64-bit hash. Numeric kinds hash by
// their double representation so that 5 and 5.0 collide, matching Compare.
func (v Variant) Hash() uint64 {
	d := xxhash.New()
	v.writeHash(d)
	return d.Sum64()
}

func (v Variant) writeHash(d *xxhash.Digest) {
	var buf [8]byte
	switch v.typ {
	case TypeNull, TypeUndefined:
		_, _ = d.Write([]byte{0})
	case TypeBool, TypeInt, TypeInt64, TypeDouble:
		bits := math.Float64bits(v.AsDouble())
		for i := 0; i < 8; i++ {
			buf[i] = byte(bits >> (8 * i))
		}
		_, _ = d.Write(buf[:])
	case TypeString:
		_, _ = d.WriteString(v.str)
	case TypeTuple, TypeComposite:
		for _, e := range v.tuple {
			e.writeHash(d)
		}
	}
}

// Compare orders two variants: negative, zero or positive. Numeric kinds compare as one
// family; strings compare under the collate; null sorts before everything.
func (v Variant) Compare(other Variant, collate Collate) int {
	vn, on := v.IsNull(), other.IsNull()
	switch {
	case vn && on:
		return 0
	case vn:
		return -1
	case on:
		return 1
	}
	if v.typ.IsNumeric() && other.typ.IsNumeric() {
		a, b := v.AsDouble(), other.AsDouble()
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	}
	switch v.typ {
	case TypeString:
		if other.typ != TypeString {
			return int(v.typ) - int(other.typ)
		}
		return collate.Compare(v.str, other.str)
	case TypeTuple, TypeComposite:
		if other.typ != TypeTuple && other.typ != TypeComposite {
			return int(v.typ) - int(other.typ)
		}
		n := min(len(v.tuple), len(other.tuple))
		for i := 0; i < n; i++ {
			if c := v.tuple[i].Compare(other.tuple[i], collate); c != 0 {
				return c
			}
		}
		return len(v.tuple) - len(other.tuple)
	default:
		return int(v.typ) - int(other.typ)
	}
}

// EqualTo reports equality under the collate.
func (v Variant) EqualTo(other Variant, collate Collate) bool {
	return v.Compare(other, collate) == 0
}

// Less reports strict order under the collate.
func (v Variant) Less(other Variant, collate Collate) bool {
	return v.Compare(other, collate) < 0
}
