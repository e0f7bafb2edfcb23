// Package payload implements the column-struct item representation: the
// payload type (field schema), payload values, and the tags matcher that
// maps JSON key names to compact numeric tags for the CJSON codec.
package payload

import (
	"encoding/binary"
	"strings"

	"github.com/thedenisnikulin/reindexer/errs"
)

// TagName is a 16-bit numeric id of one JSON key name. Tag 0 is reserved
// for the tuple (the non-indexed remainder of a document).
type TagName = int16

// TagsPath addresses a nested JSON field as a sequence of tags.
type TagsPath []TagName

// Equal reports element-wise equality.
func (p TagsPath) Equal(other TagsPath) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

const maxTags = 1 << 15

// TagsMatcher is the bidirectional name <-> tag dictionary of one
// namespace. It grows on demand while encoding items and is versioned so
// replicas can detect divergence.
type TagsMatcher struct {
	names2tags map[string]TagName
	tags2names []string
	version    int32
	updated    bool
}

// NewTagsMatcher creates an empty matcher.
func NewTagsMatcher() *TagsMatcher {
	return &TagsMatcher{names2tags: make(map[string]TagName)}
}

// Version returns the monotonic matcher version. It bumps on every new
// name registration.
func (tm *TagsMatcher) Version() int32 { return tm.version }

// WasUpdated reports whether new tags were added since the last
// ResetUpdated call. The namespace uses it to schedule a storage snapshot.
func (tm *TagsMatcher) WasUpdated() bool { return tm.updated }

// ResetUpdated clears the updated flag after the matcher was persisted.
func (tm *TagsMatcher) ResetUpdated() { tm.updated = false }

// Name2Tag resolves a JSON key name to its tag, registering it when
// canAdd is set. Returns 0 when the name is unknown and canAdd is false.
func (tm *TagsMatcher) Name2Tag(name string, canAdd bool) (TagName, error) {
	if tag, ok := tm.names2tags[name]; ok {
		return tag, nil
	}
	if !canAdd {
		return 0, nil
	}
	if len(tm.tags2names) >= maxTags-1 {
		return 0, errs.Logic("tags matcher overflow on name '%s'", name)
	}
	tm.tags2names = append(tm.tags2names, name)
	tag := TagName(len(tm.tags2names)) // tag 0 stays reserved
	tm.names2tags[name] = tag
	tm.version++
	tm.updated = true
	return tag, nil
}

// Tag2Name resolves a tag back to its JSON key name.
func (tm *TagsMatcher) Tag2Name(tag TagName) string {
	if tag <= 0 || int(tag) > len(tm.tags2names) {
		return ""
	}
	return tm.tags2names[tag-1]
}

// Path2Tags resolves a dotted JSON path to a tags path.
func (tm *TagsMatcher) Path2Tags(jsonPath string, canAdd bool) (TagsPath, error) {
	if jsonPath == "" {
		return nil, nil
	}
	parts := strings.Split(jsonPath, ".")
	path := make(TagsPath, 0, len(parts))
	for _, p := range parts {
		tag, err := tm.Name2Tag(p, canAdd)
		if err != nil {
			return nil, err
		}
		if tag == 0 {
			return nil, nil
		}
		path = append(path, tag)
	}
	return path, nil
}

// TryMerge imports the other matcher's names. It fails with a Logic error
// when a name maps to a conflicting tag, leaving the matcher untouched.
func (tm *TagsMatcher) TryMerge(other *TagsMatcher) error {
	for i, name := range other.tags2names {
		tag := TagName(i + 1)
		if have, ok := tm.names2tags[name]; ok && have != tag {
			return errs.Logic("tags matcher merge conflict: name '%s' is tag %d here, %d there", name, have, tag)
		}
	}
	for i, name := range other.tags2names {
		tag := TagName(i + 1)
		if _, ok := tm.names2tags[name]; ok {
			continue
		}
		if int(tag) > len(tm.tags2names) {
			grown := make([]string, tag)
			copy(grown, tm.tags2names)
			tm.tags2names = grown
		}
		tm.tags2names[tag-1] = name
		tm.names2tags[name] = tag
		tm.updated = true
	}
	if other.version > tm.version {
		tm.version = other.version
	}
	tm.version++
	return nil
}

// Clone returns a deep copy, used by the copy-on-write commit path.
func (tm *TagsMatcher) Clone() *TagsMatcher {
	c := &TagsMatcher{
		names2tags: make(map[string]TagName, len(tm.names2tags)),
		tags2names: append([]string(nil), tm.tags2names...),
		version:    tm.version,
		updated:    tm.updated,
	}
	for k, v := range tm.names2tags {
		c.names2tags[k] = v
	}
	return c
}

// Serialize writes a storage snapshot: version, count, then names.
func (tm *TagsMatcher) Serialize() []byte {
	buf := binary.AppendVarint(nil, int64(tm.version))
	buf = binary.AppendUvarint(buf, uint64(len(tm.tags2names)))
	for _, name := range tm.tags2names {
		buf = binary.AppendUvarint(buf, uint64(len(name)))
		buf = append(buf, name...)
	}
	return buf
}

// Deserialize restores a matcher from a storage snapshot.
func (tm *TagsMatcher) Deserialize(data []byte) error {
	ver, n := binary.Varint(data)
	if n <= 0 {
		return errs.ParseBin("tags matcher: bad version")
	}
	data = data[n:]
	count, n := binary.Uvarint(data)
	if n <= 0 {
		return errs.ParseBin("tags matcher: bad count")
	}
	data = data[n:]
	names := make([]string, 0, count)
	m := make(map[string]TagName, count)
	for i := uint64(0); i < count; i++ {
		l, n := binary.Uvarint(data)
		if n <= 0 || uint64(len(data[n:])) < l {
			return errs.ParseBin("tags matcher: bad name at %d", i)
		}
		name := string(data[n : n+int(l)])
		data = data[n+int(l):]
		names = append(names, name)
		m[name] = TagName(i + 1)
	}
	tm.version = int32(ver)
	tm.tags2names = names
	tm.names2tags = m
	tm.updated = false
	return nil
}
