package engine

import (
	"context"

	"github.com/thedenisnikulin/reindexer/errs"
	"github.com/thedenisnikulin/reindexer/idset"
	"github.com/thedenisnikulin/reindexer/index"
	"github.com/thedenisnikulin/reindexer/payload"
	"github.com/thedenisnikulin/reindexer/query"
	"github.com/thedenisnikulin/reindexer/variant"
	"github.com/thedenisnikulin/reindexer/wal"
)

// ItemResult reports what a write did.
type ItemResult struct {
	ID idset.IdType
	// Applied is false when an insert found an existing item or an
	// update or delete found none.
	Applied bool
}

// ModifyItem parses one JSON document and applies it in the given
// mode. Upsert inserts or replaces by primary key; Insert refuses an
// existing key; Update and Delete skip an absent one.
func (ns *Namespace) ModifyItem(ctx context.Context, itemJSON []byte, mode ItemMode, originLSN wal.LSN) (ItemResult, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if err := ns.checkValid(); err != nil {
		return ItemResult{}, err
	}
	if err := ns.checkWritable(originLSN); err != nil {
		return ItemResult{}, err
	}
	return ns.modifyLocked(ctx, itemJSON, mode, originLSN, false)
}

func (ns *Namespace) modifyLocked(ctx context.Context, itemJSON []byte, mode ItemMode, originLSN wal.LSN, inTx bool) (ItemResult, error) {
	pv, err := ns.codec().FromJSON(itemJSON)
	if err != nil {
		return ItemResult{}, err
	}
	if mode == ModeDelete {
		return ns.deleteItemLocked(ctx, pv, originLSN, inTx)
	}
	return ns.upsertItemLocked(ctx, pv, mode, originLSN, inTx)
}

// findByPK resolves an item id by primary key values.
func (ns *Namespace) findByPK(pkPos int, keys []variant.Variant) (idset.IdType, bool, error) {
	res, err := ns.indexes[pkPos].SelectKey(keys, query.CondEq, index.SelectOpts{
		DisableCache: true,
		ItemsCount:   ns.repl.DataCount,
	})
	if err != nil {
		return 0, false, err
	}
	for _, r := range res.Results {
		if r.Ids == nil || r.Ids.IsEmpty() {
			continue
		}
		it := r.Ids.Iter()
		if id, ok := it.Next(); ok {
			return id, true, nil
		}
	}
	return 0, false, nil
}

func (ns *Namespace) allocID() idset.IdType {
	if n := len(ns.free); n > 0 {
		id := ns.free[n-1]
		ns.free = ns.free[:n-1]
		return id
	}
	id := idset.IdType(len(ns.items))
	ns.items = append(ns.items, nil)
	return id
}

func (ns *Namespace) upsertItemLocked(ctx context.Context, pv *payload.Value, mode ItemMode, originLSN wal.LSN, inTx bool) (ItemResult, error) {
	pkPos, err := ns.pkIndex()
	if err != nil {
		return ItemResult{}, err
	}
	pkKeys, err := ns.indexKeys(pkPos, pv)
	if err != nil {
		return ItemResult{}, err
	}
	if len(pkKeys) == 0 {
		return ItemResult{}, errs.Params("item in namespace '%s' misses the primary key value", ns.name)
	}
	id, exists, err := ns.findByPK(pkPos, pkKeys)
	if err != nil {
		return ItemResult{}, err
	}
	switch mode {
	case ModeInsert:
		if exists {
			return ItemResult{ID: id}, nil
		}
	case ModeUpdate:
		if !exists {
			return ItemResult{}, nil
		}
	}
	if exists {
		if err := ns.unindexLocked(id); err != nil {
			return ItemResult{}, err
		}
	} else {
		id = ns.allocID()
		ns.repl.DataCount++
	}
	ns.items[id] = pv
	ns.repl.DataHash ^= pv.Hash()
	for i := range ns.indexes {
		keys, err := ns.indexKeys(i, pv)
		if err != nil {
			return ItemResult{}, err
		}
		if err := ns.indexes[i].Upsert(keys, id); err != nil {
			return ItemResult{}, err
		}
	}
	ns.dropCachesLocked()

	data, err := ns.codec().ToCJSON(pv)
	if err != nil {
		return ItemResult{}, err
	}
	rec := wal.Record{Type: wal.RecItemUpdate, Data: data, InTransaction: inTx}
	lsn := ns.addWAL(rec, originLSN)
	if ns.store != nil {
		if err := ns.store.Write(ctx, itemKey(id), wal.Pack(lsn, rec)); err != nil {
			return ItemResult{}, err
		}
	}
	return ItemResult{ID: id, Applied: true}, nil
}

func (ns *Namespace) deleteItemLocked(ctx context.Context, pv *payload.Value, originLSN wal.LSN, inTx bool) (ItemResult, error) {
	pkPos, err := ns.pkIndex()
	if err != nil {
		return ItemResult{}, err
	}
	pkKeys, err := ns.indexKeys(pkPos, pv)
	if err != nil {
		return ItemResult{}, err
	}
	if len(pkKeys) == 0 {
		return ItemResult{}, errs.Params("item in namespace '%s' misses the primary key value", ns.name)
	}
	id, exists, err := ns.findByPK(pkPos, pkKeys)
	if err != nil {
		return ItemResult{}, err
	}
	if !exists {
		return ItemResult{}, nil
	}
	old := ns.items[id]
	data, err := ns.codec().ToCJSON(old)
	if err != nil {
		return ItemResult{}, err
	}
	if err := ns.removeItemLocked(id); err != nil {
		return ItemResult{}, err
	}
	rec := wal.Record{Type: wal.RecItemDelete, Data: data, InTransaction: inTx}
	ns.addWAL(rec, originLSN)
	if ns.store != nil {
		if err := ns.store.Remove(ctx, itemKey(id)); err != nil {
			return ItemResult{}, err
		}
	}
	return ItemResult{ID: id, Applied: true}, nil
}

// unindexLocked pulls an item's keys out of every index and drops its
// hash contribution. The arena slot keeps the value.
func (ns *Namespace) unindexLocked(id idset.IdType) error {
	pv := ns.items[id]
	for i := range ns.indexes {
		keys, err := ns.indexKeys(i, pv)
		if err != nil {
			return err
		}
		if err := ns.indexes[i].Delete(keys, id); err != nil {
			return err
		}
	}
	ns.repl.DataHash ^= pv.Hash()
	return nil
}

// removeItemLocked deletes an item from the arena and all indexes.
func (ns *Namespace) removeItemLocked(id idset.IdType) error {
	if err := ns.unindexLocked(id); err != nil {
		return err
	}
	ns.items[id] = nil
	ns.free = append(ns.free, id)
	ns.repl.DataCount--
	ns.dropCachesLocked()
	return nil
}

// GetItemJSON serializes one item back to JSON.
func (ns *Namespace) GetItemJSON(id idset.IdType) ([]byte, error) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	if err := ns.checkValid(); err != nil {
		return nil, err
	}
	if int(id) >= len(ns.items) || ns.items[id] == nil {
		return nil, errs.NotFound("item %d in namespace '%s'", id, ns.name)
	}
	return ns.codec().ToJSON(ns.items[id])
}
