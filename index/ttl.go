package index

import (
	"github.com/thedenisnikulin/reindexer/idset"
	"github.com/thedenisnikulin/reindexer/payload"
	"github.com/thedenisnikulin/reindexer/variant"
)

// ttlIndex is an ordered int64 index over unix timestamps. The namespace
// background routine asks it for expired ids.
type ttlIndex struct {
	*ordered
}

func newTTL(name string, opts Opts, fields payload.FieldsSet) *ttlIndex {
	o := newOrdered(name, variant.TypeInt64, opts, fields)
	o.kind = KindTTL
	return &ttlIndex{ordered: o}
}

// ExpiredIds returns the ids whose timestamp plus the configured TTL is
// at or before now.
func (t *ttlIndex) ExpiredIds(now int64) *idset.Set {
	deadline := now - t.opts.TTLSec
	out := idset.New()
	t.tree.Ascend(func(b *keyEntry) bool {
		if b.key.AsInt64() > deadline {
			return false
		}
		b.ids.ForEach(func(id idset.IdType) bool {
			out.Add(id)
			return true
		})
		return true
	})
	return out
}

func (t *ttlIndex) Clone() Index {
	c := t.ordered.Clone().(*ordered)
	return &ttlIndex{ordered: c}
}

// Expirer is implemented by ttl indexes.
type Expirer interface {
	ExpiredIds(now int64) *idset.Set
}

var _ Expirer = (*ttlIndex)(nil)
