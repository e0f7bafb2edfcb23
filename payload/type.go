package payload

import (
	"github.com/thedenisnikulin/reindexer/errs"
	"github.com/thedenisnikulin/reindexer/variant"
)

// Field describes one payload column.
type Field struct {
	Name      string
	Type      variant.Type
	IsArray   bool
	JSONPaths []string
}

// Type is the ordered field schema of a namespace's payload. Field 0 is
// always the tuple field holding the non-indexed remainder of a document
// as CJSON.
type Type struct {
	NsName string
	fields []Field
	byName map[string]int
}

// NewType creates a payload type containing only the tuple field.
func NewType(nsName string) *Type {
	t := &Type{NsName: nsName, byName: make(map[string]int)}
	t.fields = append(t.fields, Field{Name: "-tuple", Type: variant.TypeString, JSONPaths: []string{""}})
	t.byName["-tuple"] = 0
	return t
}

// NumFields returns the field count including the tuple field.
func (t *Type) NumFields() int { return len(t.fields) }

// Field returns the descriptor of field idx.
func (t *Type) Field(idx int) Field { return t.fields[idx] }

// FieldByName resolves a field name to its index.
func (t *Type) FieldByName(name string) (int, bool) {
	idx, ok := t.byName[name]
	return idx, ok
}

// FieldByJSONPath resolves a JSON path to the index of the field that
// materializes it.
func (t *Type) FieldByJSONPath(path string) (int, bool) {
	for i, f := range t.fields {
		for _, p := range f.JSONPaths {
			if p == path {
				return i, true
			}
		}
	}
	return 0, false
}

// Add appends a field. Duplicate names or JSON paths fail with Conflict.
func (t *Type) Add(f Field) error {
	if _, ok := t.byName[f.Name]; ok {
		return errs.Conflict("field '%s' already exists in payload type '%s'", f.Name, t.NsName)
	}
	for _, p := range f.JSONPaths {
		if p == "" {
			continue
		}
		if _, ok := t.FieldByJSONPath(p); ok {
			return errs.Conflict("json path '%s' already mapped in payload type '%s'", p, t.NsName)
		}
	}
	t.byName[f.Name] = len(t.fields)
	t.fields = append(t.fields, f)
	return nil
}

// Drop removes a field by name and renumbers subsequent fields. The tuple
// field can not be dropped.
func (t *Type) Drop(name string) error {
	idx, ok := t.byName[name]
	if !ok {
		return errs.NotFound("field '%s' not found in payload type '%s'", name, t.NsName)
	}
	if idx == 0 {
		return errs.Logic("can't drop tuple field from payload type '%s'", t.NsName)
	}
	t.fields = append(t.fields[:idx], t.fields[idx+1:]...)
	delete(t.byName, name)
	for i := idx; i < len(t.fields); i++ {
		t.byName[t.fields[i].Name] = i
	}
	return nil
}

// Clone returns a deep copy.
func (t *Type) Clone() *Type {
	c := &Type{NsName: t.NsName, fields: make([]Field, len(t.fields)), byName: make(map[string]int, len(t.byName))}
	for i, f := range t.fields {
		f.JSONPaths = append([]string(nil), f.JSONPaths...)
		c.fields[i] = f
	}
	for k, v := range t.byName {
		c.byName[k] = v
	}
	return c
}
