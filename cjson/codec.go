package cjson

import (
	"github.com/thedenisnikulin/reindexer/errs"
	"github.com/thedenisnikulin/reindexer/payload"
	"github.com/thedenisnikulin/reindexer/variant"
)

// Codec converts items between JSON, CJSON and the payload representation
// of one namespace. It is not safe for concurrent use; the namespace keeps
// one per write path and builds throwaway ones for readers.
type Codec struct {
	pt *payload.Type
	tm *payload.TagsMatcher
}

// NewCodec creates a codec over the namespace's payload type and matcher.
func NewCodec(pt *payload.Type, tm *payload.TagsMatcher) *Codec {
	return &Codec{pt: pt, tm: tm}
}

// node is one parsed document node. Scalar nodes carry val; arrays and
// objects carry children. field >= 0 marks a value stored in the payload
// slots rather than inline.
type node struct {
	name     payload.TagName
	typ      TagType
	val      variant.Variant
	children []node
	subtag   TagType
	field    int
}

func scalarTagType(v variant.Variant) TagType {
	switch v.Type() {
	case variant.TypeBool:
		return TagBool
	case variant.TypeInt, variant.TypeInt64:
		return TagVarint
	case variant.TypeDouble:
		return TagDouble
	case variant.TypeString:
		return TagString
	default:
		return TagNull
	}
}

func fieldTagType(t variant.Type) TagType {
	switch t {
	case variant.TypeBool:
		return TagBool
	case variant.TypeInt, variant.TypeInt64:
		return TagVarint
	case variant.TypeDouble:
		return TagDouble
	case variant.TypeString:
		return TagString
	default:
		return TagNull
	}
}

func variantOfTag(t TagType, d *Deserializer) (variant.Variant, error) {
	switch t {
	case TagVarint:
		i, err := d.GetVarint()
		return variant.NewInt64(i), err
	case TagDouble:
		f, err := d.GetDouble()
		return variant.NewDouble(f), err
	case TagString:
		s, err := d.GetVString()
		return variant.NewString(s), err
	case TagBool:
		b, err := d.GetBool()
		return variant.NewBool(b), err
	case TagNull:
		return variant.Null(), nil
	}
	return variant.Variant{}, errs.ParseBin("unexpected value tag %s", t)
}

func putVariant(s *Serializer, t TagType, v variant.Variant) {
	switch t {
	case TagVarint:
		s.PutVarint(v.AsInt64())
	case TagDouble:
		s.PutDouble(v.AsDouble())
	case TagString:
		s.PutVString(v.Str())
	case TagBool:
		s.PutBool(v.Bool())
	case TagNull:
	}
}

// encodeTuple writes the internal (field-referencing) form of a parsed
// document into pv's tuple, having already distributed indexed values to
// the slots.
func (c *Codec) encodeTuple(members []node, pv *payload.Value) {
	s := NewSerializer()
	for i := range members {
		c.encodeNode(s, &members[i])
	}
	s.PutCtag(MakeCtag(TagEnd, 0, -1))
	pv.SetTuple(s.Bytes())
}

func (c *Codec) encodeNode(s *Serializer, n *node) {
	if n.field >= 0 {
		if n.typ == TagArray {
			s.PutCtag(MakeCtag(TagArray, n.name, n.field))
		} else {
			s.PutCtag(MakeCtag(fieldTagType(c.pt.Field(n.field).Type), n.name, n.field))
		}
		return
	}
	switch n.typ {
	case TagObject:
		s.PutCtag(MakeCtag(TagObject, n.name, -1))
		for i := range n.children {
			c.encodeNode(s, &n.children[i])
		}
		s.PutCtag(MakeCtag(TagEnd, 0, -1))
	case TagArray:
		s.PutCtag(MakeCtag(TagArray, n.name, -1))
		s.PutUvarint(uint64(len(n.children)))
		s.Append([]byte{byte(n.subtag)})
		for i := range n.children {
			ch := &n.children[i]
			if n.subtag == TagObject {
				c.encodeNode(s, ch)
			} else {
				putVariant(s, n.subtag, ch.val)
			}
		}
	default:
		s.PutCtag(MakeCtag(n.typ, n.name, -1))
		putVariant(s, n.typ, n.val)
	}
}

// decodeTuple parses the internal tuple form back into nodes, reading
// referenced values out of the payload slots.
func (c *Codec) decodeTuple(pv *payload.Value) ([]node, error) {
	d := NewDeserializer(pv.Tuple())
	return c.decodeMembers(d, pv)
}

func (c *Codec) decodeMembers(d *Deserializer, pv *payload.Value) ([]node, error) {
	var members []node
	for {
		if d.Eof() {
			return nil, errs.ParseBin("cjson tuple: unterminated object")
		}
		tag, err := d.GetCtag()
		if err != nil {
			return nil, err
		}
		if tag.Type() == TagEnd {
			return members, nil
		}
		n, err := c.decodeNode(d, pv, tag)
		if err != nil {
			return nil, err
		}
		members = append(members, n)
	}
}

func (c *Codec) decodeNode(d *Deserializer, pv *payload.Value, tag Ctag) (node, error) {
	n := node{name: tag.Name(), typ: tag.Type(), field: tag.Field()}
	if n.field >= 0 {
		if n.field >= c.pt.NumFields() {
			return n, errs.ParseBin("cjson tuple: field ref %d out of range", n.field)
		}
		vals := pv.Get(n.field)
		if n.typ == TagArray {
			n.subtag = fieldTagType(c.pt.Field(n.field).Type)
			n.children = make([]node, len(vals))
			for i, v := range vals {
				n.children[i] = node{typ: n.subtag, val: v, field: -1}
			}
		} else {
			if len(vals) > 0 {
				n.val = vals[0]
			} else {
				n.val = variant.Null()
				n.typ = TagNull
			}
		}
		return n, nil
	}
	switch n.typ {
	case TagObject:
		children, err := c.decodeMembers(d, pv)
		if err != nil {
			return n, err
		}
		n.children = children
	case TagArray:
		count, err := d.GetUvarint()
		if err != nil {
			return n, err
		}
		if d.Eof() {
			return n, errs.ParseBin("cjson tuple: missing array subtag")
		}
		sub := TagType(d.buf[d.pos])
		d.pos++
		n.subtag = sub
		n.children = make([]node, 0, count)
		for i := uint64(0); i < count; i++ {
			if sub == TagObject {
				etag, err := d.GetCtag()
				if err != nil {
					return n, err
				}
				ch, err := c.decodeNode(d, pv, etag)
				if err != nil {
					return n, err
				}
				n.children = append(n.children, ch)
			} else {
				v, err := variantOfTag(sub, d)
				if err != nil {
					return n, err
				}
				n.children = append(n.children, node{typ: sub, val: v, field: -1})
			}
		}
	default:
		v, err := variantOfTag(n.typ, d)
		if err != nil {
			return n, err
		}
		n.val = v
	}
	return n, nil
}

// GetByTagsPath collects the values addressed by a tags path, resolving
// payload field references. Sparse indexes read items through this.
func (c *Codec) GetByTagsPath(pv *payload.Value, path payload.TagsPath) ([]variant.Variant, error) {
	if len(path) == 0 {
		return nil, nil
	}
	members, err := c.decodeTuple(pv)
	if err != nil {
		return nil, err
	}
	var out []variant.Variant
	collectByPath(members, path, &out)
	return out, nil
}

func collectByPath(members []node, path payload.TagsPath, out *[]variant.Variant) {
	for i := range members {
		n := &members[i]
		if n.name != path[0] {
			continue
		}
		if len(path) == 1 {
			collectLeaf(n, out)
			continue
		}
		switch n.typ {
		case TagObject:
			collectByPath(n.children, path[1:], out)
		case TagArray:
			for j := range n.children {
				if n.children[j].typ == TagObject {
					collectByPath(n.children[j].children, path[1:], out)
				}
			}
		}
	}
}

func collectLeaf(n *node, out *[]variant.Variant) {
	switch n.typ {
	case TagArray:
		for i := range n.children {
			collectLeaf(&n.children[i], out)
		}
	case TagObject:
	default:
		*out = append(*out, n.val)
	}
}
