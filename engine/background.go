package engine

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thedenisnikulin/reindexer/idset"
	"github.com/thedenisnikulin/reindexer/index"
	"github.com/thedenisnikulin/reindexer/wal"
)

// sortOrdersID is the sort-order slot populated by the optimizer; the
// selecter passes it to SelectKey so ordered scans reuse the cached
// projections.
const sortOrdersID = 1

// BackgroundRoutine runs one maintenance tick: expire TTL items, then
// commit the indexes once the namespace has been idle long enough.
func (ns *Namespace) BackgroundRoutine(ctx context.Context) {
	if ns.invalidated.Load() {
		return
	}
	if err := ns.RemoveExpired(ctx); err != nil {
		ns.logger.Errorf("namespace '%s': ttl sweep: %v", ns.name, err)
	}
	ns.OptimizeIndexes(ctx)
}

// RemoveExpired deletes every item whose TTL index says its timestamp
// has passed.
func (ns *Namespace) RemoveExpired(ctx context.Context) error {
	now := time.Now().Unix()
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if err := ns.checkValid(); err != nil {
		return err
	}
	for _, idx := range ns.indexes {
		exp, ok := idx.(index.Expirer)
		if !ok {
			continue
		}
		var ids []idset.IdType
		exp.ExpiredIds(now).ForEach(func(id idset.IdType) bool {
			ids = append(ids, id)
			return true
		})
		for _, id := range ids {
			if int(id) >= len(ns.items) || ns.items[id] == nil {
				continue
			}
			data, err := ns.codec().ToCJSON(ns.items[id])
			if err != nil {
				return err
			}
			if err := ns.removeItemLocked(id); err != nil {
				return err
			}
			ns.addWAL(wal.Record{Type: wal.RecItemDelete, Data: data}, wal.EmptyLSN)
			if ns.store != nil {
				if err := ns.store.Remove(ctx, itemKey(id)); err != nil {
					return err
				}
			}
		}
		if len(ids) > 0 {
			ns.logger.Infof("namespace '%s': ttl index '%s' expired %d items", ns.name, idx.Name(), len(ids))
		}
	}
	return nil
}

// OptimizeIndexes commits the indexes and rebuilds the namespace sort
// order once writes have settled for the configured timeout. A write
// racing in while the routine waits for the lock postpones the run to
// the next tick.
func (ns *Namespace) OptimizeIndexes(ctx context.Context) {
	if ns.optimizationState.Load() == optStateOptimized {
		return
	}
	idle := time.Duration(time.Now().UnixNano() - ns.lastWrite.Load())
	if idle < ns.config.OptimizationTimeout {
		return
	}
	snapshot := ns.cancelCommitCnt.Load()

	ns.mu.Lock()
	defer ns.mu.Unlock()
	if err := ns.checkValid(); err != nil {
		return
	}
	if ns.cancelCommitCnt.Load() != snapshot {
		return
	}
	ns.optimizationState.Store(optStateOptimizing)
	start := time.Now()

	for _, idx := range ns.indexes {
		if ctx.Err() != nil {
			ns.optimizationState.Store(optStateNone)
			return
		}
		idx.Commit()
	}

	if orders := ns.buildSortOrdersLocked(); orders != nil {
		workers := ns.config.OptimizationSortWorkers
		if workers < 1 {
			workers = 1
		}
		g := &errgroup.Group{}
		g.SetLimit(workers)
		for _, idx := range ns.indexes {
			idx := idx
			g.Go(func() error {
				idx.UpdateSortedIds(orders, sortOrdersID)
				return nil
			})
		}
		_ = g.Wait()
		ns.sortOrders = orders
	}

	ns.optimizationState.Store(optStateOptimized)
	ns.logger.Infof("namespace '%s': indexes optimized in %s", ns.name, time.Since(start))
}

// buildSortOrdersLocked derives the namespace sort order from the first
// btree index, or nil when there is none.
func (ns *Namespace) buildSortOrdersLocked() []idset.IdType {
	for _, idx := range ns.indexes {
		if !idx.IsOrdered() {
			continue
		}
		if s, ok := idx.(index.Sortable); ok {
			return s.BuildSortOrders(len(ns.items))
		}
	}
	return nil
}
