package cjson

import (
	"github.com/thedenisnikulin/reindexer/errs"
	"github.com/thedenisnikulin/reindexer/payload"
	"github.com/thedenisnikulin/reindexer/variant"
)

// ToCJSON renders the payload value as a self-contained CJSON document:
// every value inline, no payload field references. This is the form stored
// in WAL records and on disk.
func (c *Codec) ToCJSON(pv *payload.Value) ([]byte, error) {
	members, err := c.decodeTuple(pv)
	if err != nil {
		return nil, err
	}
	s := NewSerializer()
	s.PutCtag(MakeCtag(TagObject, 0, -1))
	for i := range members {
		c.encodeWireNode(s, &members[i])
	}
	s.PutCtag(MakeCtag(TagEnd, 0, -1))
	return s.Bytes(), nil
}

func (c *Codec) encodeWireNode(s *Serializer, n *node) {
	switch n.typ {
	case TagObject:
		s.PutCtag(MakeCtag(TagObject, n.name, -1))
		for i := range n.children {
			c.encodeWireNode(s, &n.children[i])
		}
		s.PutCtag(MakeCtag(TagEnd, 0, -1))
	case TagArray:
		s.PutCtag(MakeCtag(TagArray, n.name, -1))
		s.PutUvarint(uint64(len(n.children)))
		s.Append([]byte{byte(n.subtag)})
		for i := range n.children {
			ch := &n.children[i]
			if n.subtag == TagObject {
				c.encodeWireNode(s, ch)
			} else {
				putVariant(s, n.subtag, ch.val)
			}
		}
	default:
		s.PutCtag(MakeCtag(n.typ, n.name, -1))
		putVariant(s, n.typ, n.val)
	}
}

// FromCJSON parses a self-contained CJSON document into a payload value,
// redistributing indexed fields to the slots.
func (c *Codec) FromCJSON(data []byte) (*payload.Value, error) {
	d := NewDeserializer(data)
	tag, err := d.GetCtag()
	if err != nil {
		return nil, err
	}
	if tag.Type() != TagObject {
		return nil, errs.ParseBin("cjson: document must start with an object tag, got %s", tag.Type())
	}
	members, err := c.parseWireMembers(d)
	if err != nil {
		return nil, err
	}
	pv := payload.NewValue(c.pt)
	if err := c.distributeWire(members, nil, pv); err != nil {
		return nil, err
	}
	c.encodeTuple(members, pv)
	return pv, nil
}

func (c *Codec) parseWireMembers(d *Deserializer) ([]node, error) {
	var members []node
	for {
		if d.Eof() {
			return nil, errs.ParseBin("cjson: unterminated object")
		}
		tag, err := d.GetCtag()
		if err != nil {
			return nil, err
		}
		if tag.Type() == TagEnd {
			return members, nil
		}
		n, err := c.parseWireNode(d, tag)
		if err != nil {
			return nil, err
		}
		members = append(members, n)
	}
}

func (c *Codec) parseWireNode(d *Deserializer, tag Ctag) (node, error) {
	n := node{name: tag.Name(), typ: tag.Type(), field: -1}
	switch n.typ {
	case TagObject:
		children, err := c.parseWireMembers(d)
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
			return n, errs.ParseBin("cjson: missing array subtag")
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
				ch, err := c.parseWireNode(d, etag)
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

func (c *Codec) distributeWire(members []node, prefix []payload.TagName, pv *payload.Value) error {
	for i := range members {
		n := &members[i]
		path := append(prefix, n.name)
		switch n.typ {
		case TagObject:
			if err := c.distributeWire(n.children, path, pv); err != nil {
				return err
			}
		case TagArray:
			if n.subtag == TagObject {
				continue
			}
			field, ok := c.fieldByTagsPath(path)
			if !ok {
				continue
			}
			vals := make([]variant.Variant, len(n.children))
			for j := range n.children {
				vals[j] = n.children[j].val
			}
			if err := pv.Set(c.pt, field, vals); err != nil {
				return err
			}
			n.field = field
			n.children = nil
		default:
			field, ok := c.fieldByTagsPath(path)
			if !ok {
				continue
			}
			if n.typ == TagNull {
				n.field = field
				continue
			}
			if err := pv.Set(c.pt, field, []variant.Variant{n.val}); err != nil {
				return err
			}
			n.field = field
		}
	}
	return nil
}

func (c *Codec) fieldByTagsPath(path []payload.TagName) (int, bool) {
	joined := ""
	for i, t := range path {
		name := c.tm.Tag2Name(t)
		if name == "" {
			return 0, false
		}
		if i > 0 {
			joined += "."
		}
		joined += name
	}
	field, ok := c.pt.FieldByJSONPath(joined)
	if !ok || field == 0 {
		return 0, false
	}
	return field, true
}
