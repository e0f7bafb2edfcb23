// Package index implements the polymorphic index family: store,
// unordered hash, ordered btree, composite, geo rtree, ttl and the
// fulltext adapter. All kinds share one contract: Upsert, Delete,
// SelectKey, Commit and UpdateSortedIds.
package index

import (
	"github.com/thedenisnikulin/reindexer/cache"
	"github.com/thedenisnikulin/reindexer/errs"
	"github.com/thedenisnikulin/reindexer/idset"
	"github.com/thedenisnikulin/reindexer/payload"
	"github.com/thedenisnikulin/reindexer/query"
	"github.com/thedenisnikulin/reindexer/variant"
)

// Kind is the index implementation kind.
type Kind int

const (
	KindStore Kind = iota
	KindHash
	KindTree
	KindFulltext
	KindFuzzyFulltext
	KindRTree
	KindTTL
)

// KindFromString resolves the user-facing index type name.
func KindFromString(s string) (Kind, error) {
	switch s {
	case "-":
		return KindStore, nil
	case "hash":
		return KindHash, nil
	case "tree":
		return KindTree, nil
	case "text":
		return KindFulltext, nil
	case "fuzzytext":
		return KindFuzzyFulltext, nil
	case "rtree":
		return KindRTree, nil
	case "ttl":
		return KindTTL, nil
	}
	return 0, errs.Params("unknown index type '%s'", s)
}

func (k Kind) String() string {
	switch k {
	case KindStore:
		return "-"
	case KindHash:
		return "hash"
	case KindTree:
		return "tree"
	case KindFulltext:
		return "text"
	case KindFuzzyFulltext:
		return "fuzzytext"
	case KindRTree:
		return "rtree"
	case KindTTL:
		return "ttl"
	}
	return "?"
}

// Opts carries per-index options.
type Opts struct {
	PK      bool
	Dense   bool
	Array   bool
	Sparse  bool
	Collate variant.Collate
	TTLSec  int64
	Config  string
}

// Def is the serializable index definition.
type Def struct {
	Name      string   `json:"name"`
	JSONPaths []string `json:"json_paths"`
	IndexType string   `json:"index_type"`
	FieldType string   `json:"field_type"`
	IsPK      bool     `json:"is_pk,omitempty"`
	IsDense   bool     `json:"is_dense,omitempty"`
	IsArray   bool     `json:"is_array,omitempty"`
	IsSparse  bool     `json:"is_sparse,omitempty"`
	Collate   string   `json:"collate_mode,omitempty"`
	SortOrder string   `json:"sort_order_letters,omitempty"`
	ExpireSec int64    `json:"expire_after,omitempty"`
	Config    string   `json:"config,omitempty"`
}

// SelectOpts tunes one SelectKey call.
type SelectOpts struct {
	// ItemsCount is the namespace's current item count, used by the
	// selectivity fallback.
	ItemsCount int
	// MaxIterations is the best plan cost found so far.
	MaxIterations int
	// Distinct disables the comparator fallback.
	Distinct bool
	// DisableCache bypasses the idset cache.
	DisableCache bool
	SortID       int
}

// Index is the contract every index kind implements.
type Index interface {
	Name() string
	Kind() Kind
	Opts() Opts
	KeyType() variant.Type
	Fields() payload.FieldsSet

	// Upsert adds the keys of one item. No keys routes the id to the
	// empty-ids bucket. For a PK index a key owned by another id fails.
	Upsert(keys []variant.Variant, id idset.IdType) error
	// Delete removes the keys of one item. Deleting an id absent from a
	// bucket fails with a Logic error; sparse and array indexes swallow it.
	Delete(keys []variant.Variant, id idset.IdType) error
	// SelectKey answers one condition with id sets or a comparator.
	SelectKey(keys []variant.Variant, cond query.CondType, opts SelectOpts) (SelectKeyResult, error)
	// Commit ingests pending updates and promotes large buckets.
	Commit()
	// UpdateSortedIds projects every bucket into a namespace sort order.
	UpdateSortedIds(sortOrders []idset.IdType, sortID int)

	IsOrdered() bool
	IsFulltext() bool
	ClearCache()
	Clone() Index
}

// MaxIndexes is the non-composite index limit per namespace.
const MaxIndexes = 64

// New creates an index of the given kind.
func New(name string, kind Kind, keyType variant.Type, opts Opts, fields payload.FieldsSet) (Index, error) {
	switch kind {
	case KindStore:
		return newStore(name, keyType, opts, fields), nil
	case KindHash:
		return newUnordered(name, keyType, opts, fields), nil
	case KindTree:
		return newOrdered(name, keyType, opts, fields), nil
	case KindTTL:
		if keyType != variant.TypeInt64 {
			return nil, errs.Params("ttl index '%s' must be int64", name)
		}
		return newTTL(name, opts, fields), nil
	case KindRTree:
		if !opts.Array {
			return nil, errs.Params("rtree index '%s' must be an array of 2 doubles", name)
		}
		return newRTree(name, opts, fields), nil
	case KindFulltext, KindFuzzyFulltext:
		return newFulltext(name, kind, opts, fields)
	}
	return nil, errs.Params("unknown index kind %d for '%s'", kind, name)
}

// base carries state common to all kinds.
type base struct {
	name    string
	kind    Kind
	keyType variant.Type
	opts    Opts
	fields  payload.FieldsSet
	cache   *cache.IdSetCache
}

const idsetCacheSize = 1024

func newBase(name string, kind Kind, keyType variant.Type, opts Opts, fields payload.FieldsSet) base {
	return base{
		name:    name,
		kind:    kind,
		keyType: keyType,
		opts:    opts,
		fields:  fields,
		cache:   cache.NewIdSetCache(idsetCacheSize),
	}
}

func (b *base) Name() string              { return b.name }
func (b *base) Kind() Kind                { return b.kind }
func (b *base) Opts() Opts                { return b.opts }
func (b *base) KeyType() variant.Type     { return b.keyType }
func (b *base) Fields() payload.FieldsSet { return b.fields }
func (b *base) ClearCache()               { b.cache.Clear() }

func (b *base) mapKey(v variant.Variant) string {
	return MapKey(v, b.opts.Collate)
}

// cacheKey builds the idset cache key for a keys+cond+sort combination.
func cacheKey(keys []variant.Variant, cond query.CondType, sortID int, collate variant.Collate) cache.IdSetKey {
	joined := ""
	for i, k := range keys {
		if i > 0 {
			joined += "\x1f"
		}
		joined += MapKey(k, collate)
	}
	return cache.IdSetKey{Keys: joined, Cond: int(cond), SortID: sortID}
}
