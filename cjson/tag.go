// Package cjson implements the compact binary document codec (CJSON) and
// the JSON codec that both round-trip through a namespace's tags matcher.
//
// A document is a stream of ctags. Each ctag packs a value type, the tag
// of the member name, and an optional reference to a payload field. A
// non-zero field reference means the value lives in the payload slots
// (the indexed columns) instead of the tuple stream.
package cjson

import "github.com/thedenisnikulin/reindexer/payload"

// TagType is the 3-bit value type of a ctag.
type TagType int

const (
	// TagVarint is a zigzag varint integer.
	TagVarint TagType = 0
	// TagDouble is an 8-byte little-endian float.
	TagDouble TagType = 1
	// TagString is a uvarint-length-prefixed UTF-8 string.
	TagString TagType = 2
	// TagBool is a single byte 0/1.
	TagBool TagType = 3
	// TagNull carries no value bytes.
	TagNull TagType = 4
	// TagArray is a uvarint count, a subtag byte, then elements.
	TagArray TagType = 5
	// TagObject is a member stream terminated by TagEnd.
	TagObject TagType = 6
	// TagEnd terminates an object.
	TagEnd TagType = 7
)

func (t TagType) String() string {
	switch t {
	case TagVarint:
		return "varint"
	case TagDouble:
		return "double"
	case TagString:
		return "string"
	case TagBool:
		return "bool"
	case TagNull:
		return "null"
	case TagArray:
		return "array"
	case TagObject:
		return "object"
	case TagEnd:
		return "end"
	}
	return "?"
}

const (
	tagTypeBits = 3
	tagNameBits = 12
	tagTypeMask = (1 << tagTypeBits) - 1
	tagNameMask = (1 << tagNameBits) - 1
)

// Ctag is the packed form: type | name<<3 | (field+1)<<15.
type Ctag uint64

// MakeCtag packs a ctag. field is the payload field reference or -1.
func MakeCtag(typ TagType, name payload.TagName, field int) Ctag {
	return Ctag(uint64(typ) | uint64(uint16(name))<<tagTypeBits | uint64(field+1)<<(tagTypeBits+tagNameBits))
}

// Type unpacks the value type.
func (c Ctag) Type() TagType { return TagType(c & tagTypeMask) }

// Name unpacks the member name tag; 0 for unnamed (array elements).
func (c Ctag) Name() payload.TagName {
	return payload.TagName((c >> tagTypeBits) & tagNameMask)
}

// Field unpacks the payload field reference; -1 when the value is inline.
func (c Ctag) Field() int { return int(c>>(tagTypeBits+tagNameBits)) - 1 }
