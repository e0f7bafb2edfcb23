package index

import (
	"encoding/json"
	"strings"

	"github.com/thedenisnikulin/reindexer/errs"
	"github.com/thedenisnikulin/reindexer/fulltext"
	"github.com/thedenisnikulin/reindexer/idset"
	"github.com/thedenisnikulin/reindexer/payload"
	"github.com/thedenisnikulin/reindexer/query"
	"github.com/thedenisnikulin/reindexer/variant"
)

// fulltextIndex adapts the fulltext engine to the index contract. Item
// texts are buffered per id and the engine is rebuilt on Commit.
type fulltextIndex struct {
	base
	cfg    fulltext.Config
	docs   map[idset.IdType][]string
	engine *fulltext.Engine
	dirty  bool
}

func newFulltext(name string, kind Kind, opts Opts, fields payload.FieldsSet) (Index, error) {
	cfg := fulltext.DefaultConfig()
	if opts.Config != "" {
		if err := json.Unmarshal([]byte(opts.Config), &cfg); err != nil {
			return nil, errs.Params("fulltext index '%s': bad config: %s", name, err.Error())
		}
	}
	return &fulltextIndex{
		base: newBase(name, kind, variant.TypeString, opts, fields),
		cfg:  cfg,
		docs: make(map[idset.IdType][]string),
	}, nil
}

func (f *fulltextIndex) IsOrdered() bool  { return false }
func (f *fulltextIndex) IsFulltext() bool { return true }

func (f *fulltextIndex) Upsert(keys []variant.Variant, id idset.IdType) error {
	f.cache.Clear()
	texts := make([]string, len(keys))
	for i, key := range keys {
		texts[i] = key.Str()
	}
	f.docs[id] = texts
	f.dirty = true
	return nil
}

func (f *fulltextIndex) Delete(keys []variant.Variant, id idset.IdType) error {
	f.cache.Clear()
	if _, ok := f.docs[id]; !ok {
		return nil
	}
	delete(f.docs, id)
	f.dirty = true
	return nil
}

// Commit rebuilds the engine from the buffered texts. It is also where
// query-time lazy builds land when the namespace skipped a commit.
func (f *fulltextIndex) Commit() {
	if !f.dirty && f.engine != nil {
		return
	}
	docs := make([]fulltext.Document, 0, len(f.docs))
	for id, fields := range f.docs {
		docs = append(docs, fulltext.Document{VDoc: int(id), Fields: fields})
	}
	f.engine = fulltext.NewEngine(f.cfg)
	_ = f.engine.Build(docs)
	f.dirty = false
}

func (f *fulltextIndex) SelectKey(keys []variant.Variant, cond query.CondType, opts SelectOpts) (SelectKeyResult, error) {
	if cond != query.CondEq && cond != query.CondSet {
		return SelectKeyResult{}, errs.Params("fulltext index '%s' supports only EQ, got %s", f.name, cond)
	}
	if len(keys) == 0 {
		return SelectKeyResult{}, errs.Params("fulltext index '%s': query text is required", f.name)
	}
	if f.dirty || f.engine == nil {
		f.Commit()
	}
	parts := make([]string, len(keys))
	for i, key := range keys {
		parts[i] = key.Str()
	}
	matches := f.engine.Select(strings.Join(parts, " "))
	ids := idset.NewUnordered()
	ranks := make([]int, 0, len(matches))
	for _, m := range matches {
		ids.Add(idset.IdType(m.VDoc))
		ranks = append(ranks, m.Proc)
	}
	res := NewIdsResult(ids)
	res.Results[0].Ranks = ranks
	return res, nil
}

func (f *fulltextIndex) UpdateSortedIds(sortOrders []idset.IdType, sortID int) {}

func (f *fulltextIndex) Clone() Index {
	c := &fulltextIndex{
		base: newBase(f.name, f.kind, f.keyType, f.opts, f.fields),
		cfg:  f.cfg,
		docs: make(map[idset.IdType][]string, len(f.docs)),
	}
	for id, texts := range f.docs {
		c.docs[id] = texts
	}
	c.dirty = true
	return c
}
