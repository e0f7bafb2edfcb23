package reindexer

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/thedenisnikulin/reindexer/engine"
	"github.com/thedenisnikulin/reindexer/errs"
	"github.com/thedenisnikulin/reindexer/index"
	"github.com/thedenisnikulin/reindexer/wal"
)

// backgroundTick is how often the maintenance loop visits namespaces.
const backgroundTick = 100 * time.Millisecond

// DB is an embedded document database. It owns a registry of
// namespaces, fans WAL updates out to subscribers and runs the
// background index optimizer.
type DB struct {
	namespaces *xsync.MapOf[string, *engine.Namespace]

	opts    options
	logger  *Logger
	metrics *PerfStats

	obsMu     sync.RWMutex
	observers map[UpdatesObserver]struct{}

	// txMu serializes transaction commits against namespace drops so a
	// copy-on-write swap never resurrects a dropped namespace.
	txMu sync.Mutex

	bgCancel context.CancelFunc
	bgDone   chan struct{}

	closed bool
	mu     sync.Mutex
}

// Open creates a database instance and starts its maintenance loop.
func Open(optFns ...Option) (*DB, error) {
	opts := applyOptions(optFns)
	db := &DB{
		namespaces: xsync.NewMapOf[string, *engine.Namespace](),
		opts:       opts,
		logger:     opts.logger,
		metrics:    opts.metrics,
		observers:  make(map[UpdatesObserver]struct{}),
	}
	ctx, cancel := context.WithCancel(context.Background())
	db.bgCancel = cancel
	db.bgDone = make(chan struct{})
	go db.backgroundLoop(ctx)
	return db, nil
}

func (db *DB) engineConfig() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.ServerID = db.opts.serverID
	cfg.Logger = engineLogger{db.logger}
	if db.opts.walCapacity > 0 {
		cfg.WALCapacity = db.opts.walCapacity
	}
	if db.opts.optimizationTimeout > 0 {
		cfg.OptimizationTimeout = db.opts.optimizationTimeout
	}
	if db.opts.optimizationSortWorkers > 0 {
		cfg.OptimizationSortWorkers = db.opts.optimizationSortWorkers
	}
	return cfg
}

// resolve looks namespaces up for joins, merges and subqueries.
func (db *DB) resolve() engine.NamespaceResolver {
	return func(name string) (*engine.Namespace, error) {
		return db.namespace(name)
	}
}

func (db *DB) namespace(name string) (*engine.Namespace, error) {
	if ns, ok := db.namespaces.Load(name); ok {
		return ns, nil
	}
	return nil, errs.NotFound("namespace '%s'", name)
}

// OpenNamespace creates the namespace if it does not exist, attaching
// storage when the database was opened with a storage backend. Opening
// an existing namespace is a no-op.
func (db *DB) OpenNamespace(ctx context.Context, name string, defs ...index.Def) error {
	if err := validateNamespaceName(name); err != nil {
		return err
	}
	ns := engine.NewNamespace(name, db.engineConfig())
	actual, loaded := db.namespaces.LoadOrStore(name, ns)
	if loaded {
		return nil
	}
	if db.opts.role == RoleSlave {
		if err := actual.SetRole(engine.RoleSlave); err != nil {
			return err
		}
	}
	actual.SetWALHandler(db.fanOut)
	if db.opts.storeFactory != nil {
		store, err := db.opts.storeFactory(name)
		if err != nil {
			db.namespaces.Delete(name)
			return err
		}
		if err := actual.EnableStorage(ctx, store); err != nil {
			db.namespaces.Delete(name)
			return err
		}
	}
	for _, def := range defs {
		if err := actual.AddIndex(def, wal.EmptyLSN); err != nil {
			return err
		}
	}
	db.logger.Info("namespace opened", "namespace", name, "items", actual.ItemCount())
	return nil
}

// OpenTemporaryNamespace creates a namespace that skips replication
// fan-out; force-sync uses these as staging areas.
func (db *DB) OpenTemporaryNamespace(ctx context.Context, name string) (*engine.Namespace, error) {
	if err := validateNamespaceName(name); err != nil {
		return nil, err
	}
	ns := engine.NewNamespace(name, db.engineConfig())
	ns.SetTemporary()
	if _, loaded := db.namespaces.LoadOrStore(name, ns); loaded {
		return nil, errs.Conflict("namespace '%s' already exists", name)
	}
	return ns, nil
}

// CloseNamespace detaches the namespace, flushing pending writes. The
// data stays in storage.
func (db *DB) CloseNamespace(ctx context.Context, name string) error {
	ns, ok := db.namespaces.LoadAndDelete(name)
	if !ok {
		return errs.NotFound("namespace '%s'", name)
	}
	return ns.Close(ctx)
}

// DropNamespace removes the namespace and destroys its storage.
func (db *DB) DropNamespace(ctx context.Context, name string) error {
	db.txMu.Lock()
	defer db.txMu.Unlock()
	ns, ok := db.namespaces.LoadAndDelete(name)
	if !ok {
		return errs.NotFound("namespace '%s'", name)
	}
	return ns.Destroy()
}

// TruncateNamespace deletes all items, keeping the indexes.
func (db *DB) TruncateNamespace(ctx context.Context, name string) error {
	ns, err := db.namespace(name)
	if err != nil {
		return err
	}
	return ns.Truncate(ctx)
}

// RenameNamespace moves a namespace to a new name, replacing any
// existing namespace with that name.
func (db *DB) RenameNamespace(ctx context.Context, src, dst string) error {
	if err := validateNamespaceName(dst); err != nil {
		return err
	}
	ns, err := db.namespace(src)
	if err != nil {
		return err
	}
	if ns.IsTemporary() {
		return errs.Params("cannot rename temporary namespace '%s'", src)
	}
	db.txMu.Lock()
	defer db.txMu.Unlock()
	if err := ns.Rename(dst); err != nil {
		return err
	}
	if old, ok := db.namespaces.Load(dst); ok && old != ns {
		_ = old.Destroy()
	}
	db.namespaces.Store(dst, ns)
	db.namespaces.Delete(src)
	return nil
}

// Namespaces lists the open namespaces.
func (db *DB) Namespaces() []string {
	var names []string
	db.namespaces.Range(func(name string, _ *engine.Namespace) bool {
		names = append(names, name)
		return true
	})
	return names
}

// Upsert inserts the item or replaces the one with the same primary key.
func (db *DB) Upsert(ctx context.Context, nsName string, itemJSON []byte) (engine.ItemResult, error) {
	return db.modifyItem(ctx, nsName, itemJSON, engine.ModeUpsert)
}

// Insert adds the item; an existing primary key leaves the stored item
// untouched and reports Applied false.
func (db *DB) Insert(ctx context.Context, nsName string, itemJSON []byte) (engine.ItemResult, error) {
	return db.modifyItem(ctx, nsName, itemJSON, engine.ModeInsert)
}

// Update replaces the item with the same primary key; a missing key
// reports Applied false.
func (db *DB) Update(ctx context.Context, nsName string, itemJSON []byte) (engine.ItemResult, error) {
	return db.modifyItem(ctx, nsName, itemJSON, engine.ModeUpdate)
}

// Delete removes the item with the item's primary key.
func (db *DB) Delete(ctx context.Context, nsName string, itemJSON []byte) (engine.ItemResult, error) {
	return db.modifyItem(ctx, nsName, itemJSON, engine.ModeDelete)
}

func (db *DB) modifyItem(ctx context.Context, nsName string, itemJSON []byte, mode engine.ItemMode) (engine.ItemResult, error) {
	start := time.Now()
	ns, err := db.namespace(nsName)
	if err != nil {
		db.metrics.recordModify(mode, time.Since(start), err)
		return engine.ItemResult{}, err
	}
	res, err := ns.ModifyItem(ctx, itemJSON, mode, wal.EmptyLSN)
	db.metrics.recordModify(mode, time.Since(start), err)
	return res, err
}

// AddIndex declares an index on the namespace.
func (db *DB) AddIndex(ctx context.Context, nsName string, def index.Def) error {
	ns, err := db.namespace(nsName)
	if err != nil {
		return err
	}
	return ns.AddIndex(def, wal.EmptyLSN)
}

// UpdateIndex replaces an index definition.
func (db *DB) UpdateIndex(ctx context.Context, nsName string, def index.Def) error {
	ns, err := db.namespace(nsName)
	if err != nil {
		return err
	}
	return ns.UpdateIndex(def, wal.EmptyLSN)
}

// DropIndex removes an index from the namespace.
func (db *DB) DropIndex(ctx context.Context, nsName, indexName string) error {
	ns, err := db.namespace(nsName)
	if err != nil {
		return err
	}
	return ns.DropIndex(indexName, wal.EmptyLSN)
}

// Indexes returns the namespace's index definitions.
func (db *DB) Indexes(nsName string) ([]index.Def, error) {
	ns, err := db.namespace(nsName)
	if err != nil {
		return nil, err
	}
	return ns.Indexes(), nil
}

// SetSchema installs a JSON schema on the namespace.
func (db *DB) SetSchema(ctx context.Context, nsName, schema string) error {
	ns, err := db.namespace(nsName)
	if err != nil {
		return err
	}
	return ns.SetSchema(ctx, schema)
}

// GetSchema returns the namespace's JSON schema.
func (db *DB) GetSchema(nsName string) (string, error) {
	ns, err := db.namespace(nsName)
	if err != nil {
		return "", err
	}
	return ns.GetSchema()
}

// PutMeta stores an arbitrary key/value pair on the namespace.
func (db *DB) PutMeta(ctx context.Context, nsName, key, value string) error {
	ns, err := db.namespace(nsName)
	if err != nil {
		return err
	}
	return ns.PutMeta(ctx, key, value)
}

// GetMeta reads a meta key.
func (db *DB) GetMeta(ctx context.Context, nsName, key string) (string, error) {
	ns, err := db.namespace(nsName)
	if err != nil {
		return "", err
	}
	return ns.GetMeta(ctx, key)
}

// EnumMeta lists meta keys.
func (db *DB) EnumMeta(ctx context.Context, nsName string) ([]string, error) {
	ns, err := db.namespace(nsName)
	if err != nil {
		return nil, err
	}
	return ns.EnumMeta(ctx)
}

// DeleteMeta removes a meta key.
func (db *DB) DeleteMeta(ctx context.Context, nsName, key string) error {
	ns, err := db.namespace(nsName)
	if err != nil {
		return err
	}
	return ns.DeleteMeta(ctx, key)
}

// BeginTransaction opens a buffered transaction on the namespace.
func (db *DB) BeginTransaction(nsName string) (*engine.Transaction, error) {
	ns, err := db.namespace(nsName)
	if err != nil {
		return nil, err
	}
	return ns.BeginTransaction(wal.EmptyLSN)
}

// CommitTransaction applies the transaction. Large transactions commit
// against a namespace clone which is swapped into the registry here.
func (db *DB) CommitTransaction(ctx context.Context, tx *engine.Transaction) error {
	start := time.Now()
	db.txMu.Lock()
	defer db.txMu.Unlock()
	name := tx.Namespace().Name()
	if cur, ok := db.namespaces.Load(name); !ok || cur != tx.Namespace() {
		return errs.NotValid("transaction namespace '%s' was invalidated by a subsequent commit", name)
	}
	_, err := tx.Commit(ctx, db.resolve(), func(old, fresh *engine.Namespace) {
		db.namespaces.Store(fresh.Name(), fresh)
	})
	db.metrics.recordCommit(tx.Len(), time.Since(start), err)
	return err
}

// GetMemStats reports a memory/state snapshot per namespace.
func (db *DB) GetMemStats() []engine.MemStat {
	var stats []engine.MemStat
	db.namespaces.Range(func(_ string, ns *engine.Namespace) bool {
		stats = append(stats, ns.GetMemStat())
		return true
	})
	return stats
}

// GetPerfStats returns a snapshot of the operation counters.
func (db *DB) GetPerfStats() PerfStatsSnapshot {
	return db.metrics.snapshot()
}

// Flush persists pending writes on every namespace.
func (db *DB) Flush(ctx context.Context) error {
	var firstErr error
	db.namespaces.Range(func(_ string, ns *engine.Namespace) bool {
		if err := ns.Flush(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// Close stops the maintenance loop and closes every namespace.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()

	db.bgCancel()
	<-db.bgDone

	ctx := context.Background()
	var firstErr error
	db.namespaces.Range(func(name string, ns *engine.Namespace) bool {
		if err := ns.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		db.namespaces.Delete(name)
		return true
	})
	return firstErr
}

// backgroundLoop periodically flushes dirty namespaces and runs the
// index optimizer. The flush limiter keeps storage churn bounded when
// many namespaces are dirty at once.
func (db *DB) backgroundLoop(ctx context.Context) {
	defer close(db.bgDone)
	ticker := time.NewTicker(backgroundTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		db.namespaces.Range(func(_ string, ns *engine.Namespace) bool {
			ns.BackgroundRoutine(ctx)
			if db.opts.flushLimiter.Allow() {
				if err := ns.Flush(ctx); err != nil {
					db.logger.Error("background flush failed", "namespace", ns.Name(), "error", err)
				}
			}
			return ctx.Err() == nil
		})
	}
}

func validateNamespaceName(name string) error {
	if name == "" {
		return errs.Params("namespace name is empty")
	}
	if strings.ContainsAny(name, "\x00/\\") {
		return errs.Params("namespace name '%s' contains forbidden characters", name)
	}
	return nil
}
