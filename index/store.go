package index

import (
	"github.com/thedenisnikulin/reindexer/idset"
	"github.com/thedenisnikulin/reindexer/payload"
	"github.com/thedenisnikulin/reindexer/query"
	"github.com/thedenisnikulin/reindexer/variant"
)

// store is the "-" index: it materializes a payload column but keeps no
// structure, so every select is a comparator walk.
type store struct {
	base
}

func newStore(name string, keyType variant.Type, opts Opts, fields payload.FieldsSet) *store {
	return &store{base: newBase(name, KindStore, keyType, opts, fields)}
}

func (s *store) IsOrdered() bool  { return false }
func (s *store) IsFulltext() bool { return false }

func (s *store) Upsert(keys []variant.Variant, id idset.IdType) error { return nil }

func (s *store) Delete(keys []variant.Variant, id idset.IdType) error { return nil }

func (s *store) SelectKey(keys []variant.Variant, cond query.CondType, opts SelectOpts) (SelectKeyResult, error) {
	return NewComparatorResult(&Comparator{
		IndexName: s.name,
		Fields:    s.fields,
		Cond:      cond,
		Values:    keys,
		Collate:   s.opts.Collate,
	}), nil
}

func (s *store) Commit() {}

func (s *store) UpdateSortedIds(sortOrders []idset.IdType, sortID int) {}

func (s *store) Clone() Index {
	c := *s
	return &c
}
