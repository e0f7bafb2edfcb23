package engine

import (
	"encoding/json"
	"strings"

	"github.com/thedenisnikulin/reindexer/errs"
	"github.com/thedenisnikulin/reindexer/idset"
	"github.com/thedenisnikulin/reindexer/index"
	"github.com/thedenisnikulin/reindexer/payload"
	"github.com/thedenisnikulin/reindexer/variant"
	"github.com/thedenisnikulin/reindexer/wal"
)

func defKeyType(fieldType string) (variant.Type, error) {
	switch fieldType {
	case "int":
		return variant.TypeInt, nil
	case "int64":
		return variant.TypeInt64, nil
	case "double":
		return variant.TypeDouble, nil
	case "string":
		return variant.TypeString, nil
	case "bool":
		return variant.TypeBool, nil
	case "composite":
		return variant.TypeComposite, nil
	case "point":
		return variant.TypeDouble, nil
	}
	return variant.TypeUndefined, errs.Params("unknown index field type '%s'", fieldType)
}

func defCollate(def index.Def) variant.Collate {
	mode := variant.CollateModeFromString(def.Collate)
	if mode == variant.CollateCustom || def.SortOrder != "" {
		return variant.NewCustomCollate(def.SortOrder)
	}
	return variant.Collate{Mode: mode}
}

func isComposite(def index.Def) bool {
	return def.FieldType == "composite" || strings.Contains(def.Name, "+")
}

// indexSet is a fully built index registry plus the payload type it was
// built against. AddIndex and friends assemble a fresh set first and
// swap it in only when every definition checks out.
type indexSet struct {
	pt      *payload.Type
	indexes []index.Index
	byName  map[string]int
	defs    []index.Def
}

// buildIndexSet constructs payload fields and indexes from scratch for
// the given definitions. Non-composite definitions claim payload
// fields in order; composites resolve the fields of indexes declared
// before them. The tags matcher is shared with the namespace, so
// sparse paths registered here survive a failed build, which is
// harmless.
func (ns *Namespace) buildIndexSet(defs []index.Def) (*indexSet, error) {
	set := &indexSet{
		pt:     payload.NewType(ns.name),
		byName: make(map[string]int),
	}
	plain := 0
	for _, def := range defs {
		if !isComposite(def) {
			plain++
		}
	}
	if plain > index.MaxIndexes {
		return nil, errs.Conflict("too many indexes in namespace '%s', limit is %d", ns.name, index.MaxIndexes)
	}
	for _, def := range defs {
		if err := set.add(ns, def); err != nil {
			return nil, err
		}
	}
	return set, nil
}

func (set *indexSet) add(ns *Namespace, def index.Def) error {
	if def.Name == "" {
		return errs.Params("index name is empty")
	}
	if _, ok := set.byName[def.Name]; ok {
		return errs.Conflict("index '%s' already exists in namespace '%s'", def.Name, ns.name)
	}
	kind, err := index.KindFromString(def.IndexType)
	if err != nil {
		return err
	}
	keyType, err := defKeyType(def.FieldType)
	if err != nil {
		return err
	}
	opts := index.Opts{
		PK:      def.IsPK,
		Dense:   def.IsDense,
		Array:   def.IsArray,
		Sparse:  def.IsSparse,
		Collate: defCollate(def),
		TTLSec:  def.ExpireSec,
		Config:  def.Config,
	}
	var fields payload.FieldsSet
	switch {
	case isComposite(def):
		if def.IsSparse {
			return errs.Params("composite index '%s' cannot be sparse", def.Name)
		}
		keyType = variant.TypeComposite
		for _, part := range strings.Split(def.Name, "+") {
			sub, ok := set.byName[part]
			if !ok {
				return errs.Params("composite index '%s': unknown component '%s'", def.Name, part)
			}
			subFields := set.indexes[sub].Fields()
			if len(subFields.Fields()) != 1 {
				return errs.Params("composite index '%s': component '%s' must be a plain field index", def.Name, part)
			}
			fields.Push(subFields.Fields()[0])
		}
	case def.IsSparse:
		if def.IsPK {
			return errs.Params("sparse index '%s' cannot be the primary key", def.Name)
		}
		for _, path := range defJSONPaths(def) {
			tp, err := ns.tm.Path2Tags(path, true)
			if err != nil {
				return err
			}
			fields.PushTagsPath(tp)
		}
	default:
		if err := set.pt.Add(payload.Field{
			Name:      def.Name,
			Type:      keyType,
			IsArray:   def.IsArray || kind == index.KindRTree,
			JSONPaths: defJSONPaths(def),
		}); err != nil {
			return err
		}
		slot, _ := set.pt.FieldByName(def.Name)
		fields = payload.NewFieldsSet(slot)
	}
	idx, err := index.New(def.Name, kind, keyType, opts, fields)
	if err != nil {
		return err
	}
	set.byName[def.Name] = len(set.indexes)
	set.indexes = append(set.indexes, idx)
	set.defs = append(set.defs, def)
	return nil
}

func defJSONPaths(def index.Def) []string {
	if len(def.JSONPaths) > 0 {
		return def.JSONPaths
	}
	return []string{def.Name}
}

// rebuildLocked replaces the index registry and payload type from the
// definitions. The items arena is untouched; callers that keep live
// items must reindex them afterwards.
func (ns *Namespace) rebuildLocked(defs []index.Def) error {
	set, err := ns.buildIndexSet(defs)
	if err != nil {
		return err
	}
	ns.pt = set.pt
	ns.indexes = set.indexes
	ns.byName = set.byName
	ns.defs = set.defs
	return nil
}

// indexKeys extracts the key values index i reads from an item.
func (ns *Namespace) indexKeys(i int, pv *payload.Value) ([]variant.Variant, error) {
	idx := ns.indexes[i]
	fields := idx.Fields()
	if idx.KeyType() == variant.TypeComposite {
		return []variant.Variant{pv.CompositeKey(fields)}, nil
	}
	if idx.Opts().Sparse {
		codec := ns.codec()
		var keys []variant.Variant
		for _, tp := range fields.TagsPaths() {
			vals, err := codec.GetByTagsPath(pv, tp)
			if err != nil {
				return nil, err
			}
			for _, v := range vals {
				cv, err := v.Convert(idx.KeyType())
				if err != nil {
					return nil, errs.Params("sparse index '%s': %v", idx.Name(), err)
				}
				keys = append(keys, cv)
			}
		}
		return keys, nil
	}
	return pv.Get(fields.Fields()[0]), nil
}

// reshapeLocked rebuilds the registry for a changed definition list and
// pushes every live item through a CJSON round trip so values land in
// the slots of the new payload layout.
func (ns *Namespace) reshapeLocked(defs []index.Def) error {
	type row struct {
		id   idset.IdType
		data []byte
	}
	oldCodec := ns.codec()
	var rows []row
	for id, pv := range ns.items {
		if pv == nil {
			continue
		}
		data, err := oldCodec.ToCJSON(pv)
		if err != nil {
			return err
		}
		rows = append(rows, row{id: idset.IdType(id), data: data})
	}
	if err := ns.rebuildLocked(defs); err != nil {
		return err
	}
	newCodec := ns.codec()
	ns.repl.DataHash = 0
	for _, r := range rows {
		pv, err := newCodec.FromCJSON(r.data)
		if err != nil {
			return err
		}
		ns.items[r.id] = pv
		ns.repl.DataHash ^= pv.Hash()
		for i := range ns.indexes {
			keys, err := ns.indexKeys(i, pv)
			if err != nil {
				return err
			}
			if err := ns.indexes[i].Upsert(keys, r.id); err != nil {
				return err
			}
		}
	}
	ns.dropCachesLocked()
	return nil
}

// AddIndex declares a new index. Adding an identical definition twice
// is a no-op; a definition clashing with an existing name fails.
func (ns *Namespace) AddIndex(def index.Def, originLSN wal.LSN) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if err := ns.checkValid(); err != nil {
		return err
	}
	if err := ns.checkWritable(originLSN); err != nil {
		return err
	}
	if pos, ok := ns.byName[def.Name]; ok {
		if defsEqual(ns.defs[pos], def) {
			return nil
		}
		return errs.Conflict("index '%s' already exists in namespace '%s' with a different definition", def.Name, ns.name)
	}
	defs := append(append([]index.Def(nil), ns.defs...), def)
	if err := ns.reshapeLocked(defs); err != nil {
		return err
	}
	ns.addWAL(wal.Record{Type: wal.RecIndexAdd, Data: marshalDef(def)}, originLSN)
	ns.storeDirty = true
	ns.logger.Infof("namespace %s: added index %s (%s/%s)", ns.name, def.Name, def.IndexType, def.FieldType)
	return nil
}

// UpdateIndex replaces an existing index definition.
func (ns *Namespace) UpdateIndex(def index.Def, originLSN wal.LSN) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if err := ns.checkValid(); err != nil {
		return err
	}
	if err := ns.checkWritable(originLSN); err != nil {
		return err
	}
	pos, ok := ns.byName[def.Name]
	if !ok {
		return errs.NotFound("index '%s' in namespace '%s'", def.Name, ns.name)
	}
	if defsEqual(ns.defs[pos], def) {
		return nil
	}
	defs := append([]index.Def(nil), ns.defs...)
	defs[pos] = def
	if err := ns.reshapeLocked(defs); err != nil {
		return err
	}
	ns.addWAL(wal.Record{Type: wal.RecIndexUpdate, Data: marshalDef(def)}, originLSN)
	ns.storeDirty = true
	return nil
}

// DropIndex removes an index. The primary key index and components of
// composite indexes cannot be dropped.
func (ns *Namespace) DropIndex(name string, originLSN wal.LSN) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if err := ns.checkValid(); err != nil {
		return err
	}
	if err := ns.checkWritable(originLSN); err != nil {
		return err
	}
	pos, ok := ns.byName[name]
	if !ok {
		return errs.NotFound("index '%s' in namespace '%s'", name, ns.name)
	}
	if ns.indexes[pos].Opts().PK {
		return errs.Logic("cannot drop primary key index '%s'", name)
	}
	for _, def := range ns.defs {
		if !isComposite(def) {
			continue
		}
		for _, part := range strings.Split(def.Name, "+") {
			if part == name {
				return errs.Params("cannot drop index '%s': composite index '%s' uses it", name, def.Name)
			}
		}
	}
	defs := append([]index.Def(nil), ns.defs[:pos]...)
	defs = append(defs, ns.defs[pos+1:]...)
	if err := ns.reshapeLocked(defs); err != nil {
		return err
	}
	ns.addWAL(wal.Record{Type: wal.RecIndexDrop, Data: []byte(name)}, originLSN)
	ns.storeDirty = true
	return nil
}

// Indexes returns a copy of the current definitions.
func (ns *Namespace) Indexes() []index.Def {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return append([]index.Def(nil), ns.defs...)
}

func marshalDef(def index.Def) []byte {
	data, _ := json.Marshal(def)
	return data
}

func defsEqual(a, b index.Def) bool {
	return string(marshalDef(a)) == string(marshalDef(b))
}

// pkIndex returns the position of the primary key index.
func (ns *Namespace) pkIndex() (int, error) {
	for i, idx := range ns.indexes {
		if idx.Opts().PK {
			return i, nil
		}
	}
	return 0, errs.Logic("namespace '%s' has no primary key index", ns.name)
}
