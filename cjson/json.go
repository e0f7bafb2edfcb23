package cjson

import (
	"bytes"
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/thedenisnikulin/reindexer/errs"
	"github.com/thedenisnikulin/reindexer/payload"
	"github.com/thedenisnikulin/reindexer/variant"
)

// FromJSON parses a JSON document into a payload value: values of indexed
// fields go to the payload slots, everything else stays in the tuple.
// Member order is preserved, so encoding back yields the same document.
func (c *Codec) FromJSON(data []byte) (*payload.Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, errs.Params("json: %s", err.Error())
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return nil, errs.Params("json: document must be an object")
	}
	members, err := c.parseObject(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errs.Params("json: trailing data after document")
	}
	pv := payload.NewValue(c.pt)
	if err := c.distribute(members, nil, pv); err != nil {
		return nil, err
	}
	c.encodeTuple(members, pv)
	return pv, nil
}

func (c *Codec) parseObject(dec *json.Decoder) ([]node, error) {
	var members []node
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, errs.Params("json: %s", err.Error())
		}
		key, ok := tok.(string)
		if !ok {
			return nil, errs.Params("json: object key is not a string")
		}
		name, err := c.tm.Name2Tag(key, true)
		if err != nil {
			return nil, err
		}
		n, err := c.parseValue(dec)
		if err != nil {
			return nil, err
		}
		n.name = name
		members = append(members, n)
	}
	if _, err := dec.Token(); err != nil {
		return nil, errs.Params("json: %s", err.Error())
	}
	return members, nil
}

func (c *Codec) parseValue(dec *json.Decoder) (node, error) {
	tok, err := dec.Token()
	if err != nil {
		return node{}, errs.Params("json: %s", err.Error())
	}
	return c.parseToken(dec, tok)
}

func (c *Codec) parseToken(dec *json.Decoder, tok json.Token) (node, error) {
	n := node{field: -1}
	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			children, err := c.parseObject(dec)
			if err != nil {
				return n, err
			}
			n.typ = TagObject
			n.children = children
		case '[':
			if err := c.parseArray(dec, &n); err != nil {
				return n, err
			}
		default:
			return n, errs.Params("json: unexpected delimiter %q", v.String())
		}
	case string:
		n.typ = TagString
		n.val = variant.NewString(v)
	case json.Number:
		if i, err := strconv.ParseInt(v.String(), 10, 64); err == nil {
			n.typ = TagVarint
			n.val = variant.NewInt64(i)
		} else {
			f, err := v.Float64()
			if err != nil {
				return n, errs.Params("json: bad number %q", v.String())
			}
			n.typ = TagDouble
			n.val = variant.NewDouble(f)
		}
	case bool:
		n.typ = TagBool
		n.val = variant.NewBool(v)
	case nil:
		n.typ = TagNull
		n.val = variant.Null()
	default:
		return n, errs.Params("json: unexpected token")
	}
	return n, nil
}

func (c *Codec) parseArray(dec *json.Decoder, n *node) error {
	n.typ = TagArray
	n.subtag = TagNull
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return errs.Params("json: %s", err.Error())
		}
		ch, err := c.parseToken(dec, tok)
		if err != nil {
			return err
		}
		n.children = append(n.children, ch)
	}
	if _, err := dec.Token(); err != nil {
		return errs.Params("json: %s", err.Error())
	}
	n.subtag = arraySubtag(n.children)
	return nil
}

// arraySubtag picks the element encoding for a parsed array. Mixed scalars
// widen to the common type; anything with objects encodes per-element.
func arraySubtag(children []node) TagType {
	if len(children) == 0 {
		return TagNull
	}
	sub := children[0].typ
	for i := 1; i < len(children); i++ {
		t := children[i].typ
		if t == sub {
			continue
		}
		if (sub == TagVarint && t == TagDouble) || (sub == TagDouble && t == TagVarint) {
			sub = TagDouble
			continue
		}
		return TagObject
	}
	if sub == TagArray {
		return TagObject
	}
	return sub
}

// distribute walks the parsed tree and moves values of indexed fields into
// the payload slots, leaving field refs behind. Only scalars on a pure
// object path and direct arrays of scalars are extracted; values nested in
// arrays of objects stay inline.
func (c *Codec) distribute(members []node, prefix []string, pv *payload.Value) error {
	for i := range members {
		n := &members[i]
		path := append(prefix, c.tm.Tag2Name(n.name))
		switch n.typ {
		case TagObject:
			if err := c.distribute(n.children, path, pv); err != nil {
				return err
			}
		case TagArray:
			if n.subtag == TagObject {
				continue
			}
			field, ok := c.pt.FieldByJSONPath(strings.Join(path, "."))
			if !ok || field == 0 {
				continue
			}
			f := c.pt.Field(field)
			if !f.IsArray {
				return errs.Params("field '%s' is not an array but document has array value", f.Name)
			}
			vals := make([]variant.Variant, len(n.children))
			for j := range n.children {
				if n.subtag == TagDouble && n.children[j].typ == TagVarint {
					vals[j] = variant.NewDouble(float64(n.children[j].val.AsInt64()))
				} else {
					vals[j] = n.children[j].val
				}
			}
			if err := pv.Set(c.pt, field, vals); err != nil {
				return err
			}
			n.field = field
			n.children = nil
		default:
			field, ok := c.pt.FieldByJSONPath(strings.Join(path, "."))
			if !ok || field == 0 {
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

// ToJSON renders the payload value back into a JSON document.
func (c *Codec) ToJSON(pv *payload.Value) ([]byte, error) {
	members, err := c.decodeTuple(pv)
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	b.WriteByte('{')
	if err := c.writeMembers(&b, members); err != nil {
		return nil, err
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

func (c *Codec) writeMembers(b *bytes.Buffer, members []node) error {
	for i := range members {
		if i > 0 {
			b.WriteByte(',')
		}
		writeJSONString(b, c.tm.Tag2Name(members[i].name))
		b.WriteByte(':')
		if err := c.writeValue(b, &members[i]); err != nil {
			return err
		}
	}
	return nil
}

func (c *Codec) writeValue(b *bytes.Buffer, n *node) error {
	switch n.typ {
	case TagObject:
		b.WriteByte('{')
		if err := c.writeMembers(b, n.children); err != nil {
			return err
		}
		b.WriteByte('}')
	case TagArray:
		b.WriteByte('[')
		for i := range n.children {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := c.writeValue(b, &n.children[i]); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	default:
		writeScalar(b, n.val)
	}
	return nil
}

func writeScalar(b *bytes.Buffer, v variant.Variant) {
	switch v.Type() {
	case variant.TypeBool:
		if v.Bool() {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case variant.TypeInt, variant.TypeInt64:
		b.WriteString(strconv.FormatInt(v.AsInt64(), 10))
	case variant.TypeDouble:
		b.WriteString(formatDouble(v.AsDouble()))
	case variant.TypeString:
		writeJSONString(b, v.Str())
	default:
		b.WriteString("null")
	}
}

func formatDouble(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

func writeJSONString(b *bytes.Buffer, s string) {
	enc, err := json.Marshal(s)
	if err != nil {
		b.WriteString(`""`)
		return
	}
	b.Write(enc)
}
