package engine

import (
	"context"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/thedenisnikulin/reindexer/cache"
	"github.com/thedenisnikulin/reindexer/errs"
	"github.com/thedenisnikulin/reindexer/idset"
	"github.com/thedenisnikulin/reindexer/index"
	"github.com/thedenisnikulin/reindexer/payload"
	"github.com/thedenisnikulin/reindexer/query"
	"github.com/thedenisnikulin/reindexer/wal"
)

// Copy-on-write thresholds. A transaction large enough relative to the
// namespace commits against a clone so readers keep the old instance,
// and the clone is swapped in atomically at the end.
const (
	txSizeToAlwaysCopy    = 100000
	startCopyPolicyTxSize = 10000
	copyPolicyMultiplier  = 20
)

type txStep struct {
	itemJSON []byte
	mode     ItemMode
	q        *query.Query
}

// Transaction buffers writes against one namespace. Steps are applied
// atomically on Commit, framed by init and commit WAL markers. Nothing
// touches the namespace until then, so Rollback is free.
type Transaction struct {
	ns     *Namespace
	origin wal.LSN
	steps  []txStep
	done   bool
}

// BeginTransaction opens a buffered transaction on the namespace.
func (ns *Namespace) BeginTransaction(originLSN wal.LSN) (*Transaction, error) {
	if err := ns.checkValid(); err != nil {
		return nil, err
	}
	return &Transaction{ns: ns, origin: originLSN}, nil
}

// Namespace returns the namespace the transaction targets.
func (tx *Transaction) Namespace() *Namespace { return tx.ns }

// Len returns the number of buffered steps.
func (tx *Transaction) Len() int { return len(tx.steps) }

// ModifyItem buffers one item write.
func (tx *Transaction) ModifyItem(itemJSON []byte, mode ItemMode) error {
	if tx.done {
		return errs.Logic("transaction on '%s' is already finished", tx.ns.name)
	}
	data := append([]byte(nil), itemJSON...)
	tx.steps = append(tx.steps, txStep{itemJSON: data, mode: mode})
	return nil
}

// Upsert buffers an upsert of the item.
func (tx *Transaction) Upsert(itemJSON []byte) error { return tx.ModifyItem(itemJSON, ModeUpsert) }

// Insert buffers an insert of the item.
func (tx *Transaction) Insert(itemJSON []byte) error { return tx.ModifyItem(itemJSON, ModeInsert) }

// Update buffers an update of the item.
func (tx *Transaction) Update(itemJSON []byte) error { return tx.ModifyItem(itemJSON, ModeUpdate) }

// Delete buffers a delete of the item.
func (tx *Transaction) Delete(itemJSON []byte) error { return tx.ModifyItem(itemJSON, ModeDelete) }

// UpdateQuery buffers an UPDATE query step.
func (tx *Transaction) UpdateQuery(q *query.Query) error {
	if tx.done {
		return errs.Logic("transaction on '%s' is already finished", tx.ns.name)
	}
	if q.Type != query.QueryUpdate {
		return errs.Params("transaction step expects an UPDATE query, got %s", q.Type)
	}
	tx.steps = append(tx.steps, txStep{q: q})
	return nil
}

// DeleteQuery buffers a DELETE query step.
func (tx *Transaction) DeleteQuery(q *query.Query) error {
	if tx.done {
		return errs.Logic("transaction on '%s' is already finished", tx.ns.name)
	}
	if q.Type != query.QueryDelete {
		return errs.Params("transaction step expects a DELETE query, got %s", q.Type)
	}
	tx.steps = append(tx.steps, txStep{q: q})
	return nil
}

// Rollback discards the buffered steps.
func (tx *Transaction) Rollback() {
	tx.done = true
	tx.steps = nil
}

// Commit applies the buffered steps. Small transactions run in place
// under the namespace write lock. Large ones clone the namespace, apply
// against the clone while readers keep using the original, then swap
// the clone in through the swap callback and invalidate the original.
// The namespace serving after the commit is returned.
func (tx *Transaction) Commit(ctx context.Context, resolve NamespaceResolver, swap func(old, fresh *Namespace)) (*Namespace, error) {
	if tx.done {
		return nil, errs.Logic("transaction on '%s' is already finished", tx.ns.name)
	}
	tx.done = true
	if len(tx.steps) == 0 {
		return tx.ns, nil
	}
	if swap != nil && tx.wantsCopy() {
		return tx.commitCopy(ctx, resolve, swap)
	}
	return tx.ns, tx.commitInPlace(ctx, resolve)
}

func (tx *Transaction) wantsCopy() bool {
	n := len(tx.steps)
	if n >= txSizeToAlwaysCopy {
		return true
	}
	return n >= startCopyPolicyTxSize && n*copyPolicyMultiplier >= tx.ns.ItemCount()
}

func (tx *Transaction) commitInPlace(ctx context.Context, resolve NamespaceResolver) error {
	ns := tx.ns
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if err := ns.checkValid(); err != nil {
		return err
	}
	if err := ns.checkWritable(tx.origin); err != nil {
		return err
	}
	return applySteps(ctx, ns, tx.steps, resolve, tx.origin)
}

func (tx *Transaction) commitCopy(ctx context.Context, resolve NamespaceResolver, swap func(old, fresh *Namespace)) (*Namespace, error) {
	ns := tx.ns
	ns.clonerMu.Lock()
	defer ns.clonerMu.Unlock()

	// The read lock keeps writers out for the whole commit while
	// readers continue against the original arena.
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	if err := ns.checkValid(); err != nil {
		return nil, err
	}
	if err := ns.checkWritable(tx.origin); err != nil {
		return nil, err
	}
	clone := ns.cloneLocked()
	if err := applySteps(ctx, clone, tx.steps, resolve, tx.origin); err != nil {
		return nil, err
	}
	swap(ns, clone)
	ns.invalidated.Store(true)
	return clone, nil
}

// applySteps replays the buffered steps on a namespace whose write lock
// is held (or which is still private to the caller).
func applySteps(ctx context.Context, ns *Namespace, steps []txStep, resolve NamespaceResolver, origin wal.LSN) error {
	ns.addWAL(wal.Record{Type: wal.RecInitTransaction}, origin)
	for i := range steps {
		st := &steps[i]
		if st.q != nil {
			var err error
			if st.q.Type == query.QueryDelete {
				_, err = ns.deleteQueryLocked(ctx, st.q, resolve, origin, true)
			} else {
				_, err = ns.updateQueryLocked(ctx, st.q, resolve, origin, true)
			}
			if err != nil {
				return err
			}
			continue
		}
		if _, err := ns.modifyLocked(ctx, st.itemJSON, st.mode, origin, true); err != nil {
			return err
		}
	}
	ns.addWAL(wal.Record{Type: wal.RecCommitTransaction}, origin)
	ns.dropCachesLocked()
	return nil
}

// cloneLocked builds a private copy of the namespace sharing the store
// and the WAL ring. Caller holds at least the read lock.
func (ns *Namespace) cloneLocked() *Namespace {
	c := &Namespace{
		name:            ns.name,
		pt:              ns.pt.Clone(),
		tm:              ns.tm.Clone(),
		defs:            append([]index.Def(nil), ns.defs...),
		items:           append([]*payload.Value(nil), ns.items...),
		free:            append([]idset.IdType(nil), ns.free...),
		indexes:         make([]index.Index, len(ns.indexes)),
		byName:          make(map[string]int, len(ns.byName)),
		schema:          ns.schema,
		meta:            xsync.NewMapOf[string, string](),
		wlog:            ns.wlog,
		repl:            ns.repl,
		store:           ns.store,
		sysIndexes:      ns.sysIndexes,
		sysTags:         ns.sysTags,
		sysSchema:       ns.sysSchema,
		sysRepl:         ns.sysRepl,
		storeDirty:      ns.storeDirty,
		replUpdated:     ns.replUpdated,
		joinCache:       cache.NewLRU[string, joinCacheEntry](ns.config.JoinCacheSize),
		queryCountCache: cache.NewQueryCountCache(ns.config.QueryCountCacheSize),
		temporary:       ns.temporary,
		onWAL:           ns.onWAL,
		config:          ns.config,
		logger:          ns.logger,
	}
	c.repl.Incarnation = uuid.NewString()
	for i, idx := range ns.indexes {
		c.indexes[i] = idx.Clone()
	}
	for k, v := range ns.byName {
		c.byName[k] = v
	}
	ns.meta.Range(func(k, v string) bool {
		c.meta.Store(k, v)
		return true
	})
	c.lastWrite.Store(ns.lastWrite.Load())
	return c
}
