package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/thedenisnikulin/reindexer/cache"
	"github.com/thedenisnikulin/reindexer/cjson"
	"github.com/thedenisnikulin/reindexer/errs"
	"github.com/thedenisnikulin/reindexer/idset"
	"github.com/thedenisnikulin/reindexer/index"
	"github.com/thedenisnikulin/reindexer/payload"
	"github.com/thedenisnikulin/reindexer/storage"
	"github.com/thedenisnikulin/reindexer/wal"
)

// ItemMode selects the write semantics of ModifyItem.
type ItemMode int

const (
	ModeUpsert ItemMode = iota
	ModeInsert
	ModeUpdate
	ModeDelete
)

// Namespace owns one collection of items: the arena, the index
// registry, the tags matcher, the WAL ring and the replication state.
// Writes serialize on the namespace lock; reads run under the read
// half. After a copy-on-write commit swaps a clone in, the stale
// instance reports NamespaceInvalidated to readers still holding it.
type Namespace struct {
	mu   sync.RWMutex
	name string

	pt   *payload.Type
	tm   *payload.TagsMatcher
	defs []index.Def

	items []*payload.Value
	free  []idset.IdType

	indexes []index.Index
	byName  map[string]int

	schema string
	meta   *xsync.MapOf[string, string]

	wlog *wal.Tracker
	repl ReplState

	store       storage.Store
	sysIndexes  *storage.SysRecord
	sysTags     *storage.SysRecord
	sysSchema   *storage.SysRecord
	sysRepl     *storage.SysRecord
	storeDirty  bool
	replUpdated bool

	joinCache       *cache.LRU[string, joinCacheEntry]
	queryCountCache *cache.QueryCountCache

	// sortOrders maps item id to its rank in the first ordered index's
	// order; built by the background optimizer for sortID 1.
	sortOrders        []idset.IdType
	optimizationState atomic.Int32
	cancelCommitCnt   atomic.Int32
	lastWrite         atomic.Int64

	// clonerMu serializes copy-on-write transaction commits.
	clonerMu sync.Mutex

	invalidated atomic.Bool
	temporary   bool

	// onWAL is set by the facade to fan records out to replication
	// observers.
	onWAL func(nsName string, lsn wal.LSN, origin wal.LSN, rec wal.Record)

	config Config
	logger Logger
}

const (
	optStateNone int32 = iota
	optStateOptimizing
	optStateOptimized
)

// NewNamespace creates an empty in-memory namespace.
func NewNamespace(name string, cfg Config) *Namespace {
	cfg = cfg.withDefaults()
	ns := &Namespace{
		name:            name,
		pt:              payload.NewType(name),
		tm:              payload.NewTagsMatcher(),
		byName:          make(map[string]int),
		meta:            xsync.NewMapOf[string, string](),
		wlog:            wal.NewTracker(cfg.WALCapacity, cfg.ServerID),
		joinCache:       cache.NewLRU[string, joinCacheEntry](cfg.JoinCacheSize),
		queryCountCache: cache.NewQueryCountCache(cfg.QueryCountCacheSize),
		sysIndexes:      storage.NewSysRecord("indexes"),
		sysTags:         storage.NewSysRecord("tags"),
		sysSchema:       storage.NewSysRecord("schema"),
		sysRepl:         storage.NewSysRecord("repl"),
		config:          cfg,
		logger:          cfg.Logger,
	}
	ns.repl = NewReplState(cfg.ServerID)
	return ns
}

// Name returns the namespace name.
func (ns *Namespace) Name() string {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.name
}

// SetTemporary marks the namespace as temporary; replication observers
// skip it.
func (ns *Namespace) SetTemporary() { ns.temporary = true }

// IsTemporary reports whether the namespace is temporary.
func (ns *Namespace) IsTemporary() bool { return ns.temporary }

// SetWALHandler installs the replication fan-out hook.
func (ns *Namespace) SetWALHandler(fn func(nsName string, lsn wal.LSN, origin wal.LSN, rec wal.Record)) {
	ns.mu.Lock()
	ns.onWAL = fn
	ns.mu.Unlock()
}

func (ns *Namespace) checkValid() error {
	if ns.invalidated.Load() {
		return errs.NamespaceInvalidated("namespace '%s' was invalidated by a transaction commit", ns.name)
	}
	return nil
}

func (ns *Namespace) codec() *cjson.Codec {
	return cjson.NewCodec(ns.pt, ns.tm)
}

func itemKey(id idset.IdType) string {
	return "I" + strconv.FormatInt(int64(id), 10)
}

// EnableStorage attaches a byte store and loads the persisted state.
func (ns *Namespace) EnableStorage(ctx context.Context, store storage.Store) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if ns.store != nil {
		return errs.Logic("namespace '%s' already has storage attached", ns.name)
	}
	ns.store = store
	return ns.loadLocked(ctx)
}

func (ns *Namespace) loadLocked(ctx context.Context) error {
	if data, err := ns.sysTags.Load(ctx, ns.store); err == nil {
		if err := ns.tm.Deserialize(data); err != nil {
			return err
		}
	}
	if data, err := ns.sysIndexes.Load(ctx, ns.store); err == nil {
		var defs []index.Def
		if err := json.Unmarshal(data, &defs); err != nil {
			return errs.ParseBin("namespace '%s': bad indexes record: %v", ns.name, err)
		}
		if err := ns.rebuildLocked(defs); err != nil {
			return err
		}
	}
	if data, err := ns.sysSchema.Load(ctx, ns.store); err == nil {
		ns.schema = string(data)
	}
	if data, err := ns.sysRepl.Load(ctx, ns.store); err == nil {
		if err := ns.repl.Deserialize(data); err != nil {
			return err
		}
	}

	cur, err := ns.store.Cursor(ctx, "I")
	if err != nil {
		return err
	}
	defer cur.Close()
	codec := ns.codec()
	for cur.Next() {
		idStr := cur.Key()[1:]
		id64, err := strconv.ParseInt(idStr, 10, 32)
		if err != nil {
			continue // not an item key
		}
		lsn, rec, err := wal.Unpack(cur.Value())
		if err != nil {
			ns.logger.Warnf("namespace %s: dropping unreadable item %s: %v", ns.name, cur.Key(), err)
			continue
		}
		pv, err := codec.FromCJSON(rec.Data)
		if err != nil {
			ns.logger.Warnf("namespace %s: dropping undecodable item %s: %v", ns.name, cur.Key(), err)
			continue
		}
		id := idset.IdType(id64)
		ns.placeItem(id, pv)
		ns.repl.DataHash ^= pv.Hash()
		ns.repl.DataCount++
		ns.wlog.Add(wal.Record{Type: wal.RecItemUpdate, Data: rec.Data}, lsn)
		for i, idx := range ns.indexes {
			keys, err := ns.indexKeys(i, pv)
			if err != nil {
				return err
			}
			if err := idx.Upsert(keys, id); err != nil {
				return err
			}
		}
	}
	if err := cur.Err(); err != nil {
		return err
	}
	for id, pv := range ns.items {
		if pv == nil {
			ns.free = append(ns.free, idset.IdType(id))
		}
	}
	ns.logger.Infof("namespace %s: loaded %d items from storage", ns.name, ns.repl.DataCount)
	return nil
}

func (ns *Namespace) placeItem(id idset.IdType, pv *payload.Value) {
	for int(id) >= len(ns.items) {
		ns.items = append(ns.items, nil)
	}
	ns.items[id] = pv
}

// meta keys share the storage with items under their own prefix.
const metaPrefix = "meta"

// PutMeta stores a meta key.
func (ns *Namespace) PutMeta(ctx context.Context, key, value string) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if err := ns.checkValid(); err != nil {
		return err
	}
	if err := ns.checkWritable(wal.EmptyLSN); err != nil {
		return err
	}
	return ns.putMetaLocked(ctx, key, value, wal.EmptyLSN)
}

func (ns *Namespace) putMetaLocked(ctx context.Context, key, value string, originLSN wal.LSN) error {
	ns.meta.Store(key, value)
	ns.addWAL(wal.Record{Type: wal.RecPutMeta, Data: packMeta(key, value)}, originLSN)
	if ns.store != nil {
		return ns.store.Write(ctx, metaPrefix+key, []byte(value))
	}
	return nil
}

// GetMeta reads a meta key.
func (ns *Namespace) GetMeta(ctx context.Context, key string) (string, error) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	if err := ns.checkValid(); err != nil {
		return "", err
	}
	if v, ok := ns.meta.Load(key); ok {
		return v, nil
	}
	if ns.store != nil {
		data, err := ns.store.Read(ctx, metaPrefix+key)
		if err == nil {
			ns.meta.Store(key, string(data))
			return string(data), nil
		}
	}
	return "", errs.NotFound("meta key '%s' in namespace '%s'", key, ns.name)
}

// EnumMeta lists all meta keys.
func (ns *Namespace) EnumMeta(ctx context.Context) ([]string, error) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	if err := ns.checkValid(); err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	var keys []string
	ns.meta.Range(func(k string, _ string) bool {
		seen[k] = struct{}{}
		keys = append(keys, k)
		return true
	})
	if ns.store != nil {
		cur, err := ns.store.Cursor(ctx, metaPrefix)
		if err != nil {
			return nil, err
		}
		defer cur.Close()
		for cur.Next() {
			k := strings.TrimPrefix(cur.Key(), metaPrefix)
			if _, ok := seen[k]; !ok {
				keys = append(keys, k)
			}
		}
		if err := cur.Err(); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// DeleteMeta removes a meta key.
func (ns *Namespace) DeleteMeta(ctx context.Context, key string) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if err := ns.checkValid(); err != nil {
		return err
	}
	return ns.deleteMetaLocked(ctx, key, wal.EmptyLSN)
}

func (ns *Namespace) deleteMetaLocked(ctx context.Context, key string, originLSN wal.LSN) error {
	ns.meta.Delete(key)
	ns.addWAL(wal.Record{Type: wal.RecDeleteMeta, Data: []byte(key)}, originLSN)
	if ns.store != nil {
		return ns.store.Remove(ctx, metaPrefix+key)
	}
	return nil
}

func packMeta(key, value string) []byte {
	ser := cjson.NewSerializer()
	ser.PutVString(key)
	ser.PutVString(value)
	return ser.Bytes()
}

// SetSchema installs the namespace JSON schema.
func (ns *Namespace) SetSchema(ctx context.Context, schema string) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if err := ns.checkValid(); err != nil {
		return err
	}
	return ns.setSchemaLocked(ctx, schema, wal.EmptyLSN)
}

func (ns *Namespace) setSchemaLocked(ctx context.Context, schema string, originLSN wal.LSN) error {
	if !json.Valid([]byte(schema)) {
		return errs.Params("schema for namespace '%s' is not valid JSON", ns.name)
	}
	ns.schema = schema
	ns.addWAL(wal.Record{Type: wal.RecSetSchema, Data: []byte(schema)}, originLSN)
	if ns.store != nil {
		return ns.sysSchema.Save(ctx, ns.store, []byte(schema))
	}
	return nil
}

// GetSchema returns the namespace JSON schema.
func (ns *Namespace) GetSchema() (string, error) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	if err := ns.checkValid(); err != nil {
		return "", err
	}
	return ns.schema, nil
}

// Rename changes the namespace name.
func (ns *Namespace) Rename(newName string) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if err := ns.checkValid(); err != nil {
		return err
	}
	if newName == "" {
		return errs.Params("namespace name is empty")
	}
	old := ns.name
	ns.name = newName
	ns.pt.NsName = newName
	ns.addWAL(wal.Record{Type: wal.RecRename, Data: []byte(newName)}, wal.EmptyLSN)
	ns.logger.Infof("namespace %s renamed to %s", old, newName)
	return nil
}

// Truncate drops all items, keeping indexes and the tags matcher.
func (ns *Namespace) Truncate(ctx context.Context) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if err := ns.checkValid(); err != nil {
		return err
	}
	if err := ns.checkWritable(wal.EmptyLSN); err != nil {
		return err
	}
	return ns.truncateLocked(ctx, wal.EmptyLSN)
}

func (ns *Namespace) truncateLocked(ctx context.Context, originLSN wal.LSN) error {
	if ns.store != nil {
		for id, pv := range ns.items {
			if pv == nil {
				continue
			}
			if err := ns.store.Remove(ctx, itemKey(idset.IdType(id))); err != nil {
				return err
			}
		}
	}
	ns.items = nil
	ns.free = nil
	defs := append([]index.Def(nil), ns.defs...)
	if err := ns.rebuildLocked(defs); err != nil {
		return err
	}
	ns.repl.DataHash = 0
	ns.repl.DataCount = 0
	ns.wlog.Reset()
	ns.dropCachesLocked()
	ns.addWAL(wal.Record{Type: wal.RecTruncate}, originLSN)
	return nil
}

func (ns *Namespace) dropCachesLocked() {
	ns.joinCache.Clear()
	ns.queryCountCache.Clear()
	for _, idx := range ns.indexes {
		idx.ClearCache()
	}
	ns.sortOrders = nil
	ns.optimizationState.Store(optStateNone)
}

// checkWritable refuses direct writes on a slave namespace; records
// arriving from replication carry an origin LSN and pass.
func (ns *Namespace) checkWritable(originLSN wal.LSN) error {
	if ns.repl.Role == RoleSlave && originLSN.IsEmpty() {
		return errs.Forbidden("namespace '%s' is a replication slave, direct writes are not allowed", ns.name)
	}
	return nil
}

// addWAL appends a record, updates replication counters and notifies
// observers. Callers hold the write lock.
func (ns *Namespace) addWAL(rec wal.Record, originLSN wal.LSN) wal.LSN {
	lsn := ns.wlog.Add(rec, originLSN)
	ns.repl.LastLSN = lsn
	ns.lastWrite.Store(time.Now().UnixNano())
	ns.cancelCommitCnt.Add(1)
	ns.replUpdated = true
	if ns.onWAL != nil && !ns.temporary {
		ns.onWAL(ns.name, lsn, originLSN, rec)
	}
	return lsn
}

// ItemCount returns the number of live items.
func (ns *Namespace) ItemCount() int {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.repl.DataCount
}

// Flush persists dirty system records and drains buffered writes.
func (ns *Namespace) Flush(ctx context.Context) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if ns.store == nil {
		return nil
	}
	if ns.tm.WasUpdated() {
		if err := ns.sysTags.Save(ctx, ns.store, ns.tm.Serialize()); err != nil {
			return err
		}
		ns.tm.ResetUpdated()
	}
	if ns.storeDirty {
		data, err := json.Marshal(ns.defs)
		if err != nil {
			return err
		}
		if err := ns.sysIndexes.Save(ctx, ns.store, data); err != nil {
			return err
		}
		ns.storeDirty = false
	}
	if ns.replUpdated {
		if err := ns.sysRepl.Save(ctx, ns.store, ns.repl.Serialize()); err != nil {
			return err
		}
		ns.replUpdated = false
	}
	return ns.store.Flush(ctx)
}

// Close flushes and detaches storage.
func (ns *Namespace) Close(ctx context.Context) error {
	if err := ns.Flush(ctx); err != nil {
		return err
	}
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if ns.store != nil {
		err := ns.store.Close()
		ns.store = nil
		return err
	}
	return nil
}

// Destroy drops all persisted data and invalidates the namespace.
func (ns *Namespace) Destroy() error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.invalidated.Store(true)
	if ns.store != nil {
		err := ns.store.Destroy()
		ns.store = nil
		return err
	}
	return nil
}

// MemStat is a coarse memory/state snapshot of one namespace.
type MemStat struct {
	Name          string `json:"name"`
	ItemsCount    int    `json:"items_count"`
	IndexesCount  int    `json:"indexes_count"`
	WALSize       int    `json:"wal_size"`
	DataHash      uint64 `json:"data_hash"`
	StorageOK     bool   `json:"storage_ok"`
	Temporary     bool   `json:"temporary,omitempty"`
	Optimization  string `json:"optimization_state"`
	TagsVersion   int32  `json:"tags_version"`
	SchemaPresent bool   `json:"schema_present,omitempty"`
}

// GetMemStat reports the namespace state.
func (ns *Namespace) GetMemStat() MemStat {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	st := MemStat{
		Name:          ns.name,
		ItemsCount:    ns.repl.DataCount,
		IndexesCount:  len(ns.indexes),
		WALSize:       ns.wlog.Size(),
		DataHash:      ns.repl.DataHash,
		StorageOK:     ns.store != nil,
		Temporary:     ns.temporary,
		TagsVersion:   ns.tm.Version(),
		SchemaPresent: ns.schema != "",
	}
	switch ns.optimizationState.Load() {
	case optStateOptimizing:
		st.Optimization = "optimizing"
	case optStateOptimized:
		st.Optimization = "optimized"
	default:
		st.Optimization = "none"
	}
	return st
}

func (ns *Namespace) String() string {
	return fmt.Sprintf("namespace(%s)", ns.Name())
}
