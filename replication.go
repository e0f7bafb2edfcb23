package reindexer

import (
	"context"

	"github.com/thedenisnikulin/reindexer/engine"
	"github.com/thedenisnikulin/reindexer/wal"
)

// Role aliases the engine replication role for the Open options.
type Role = engine.Role

// Replication roles accepted by WithSlaveMode and SetNamespaceRole.
const (
	RoleNone   = engine.RoleNone
	RoleMaster = engine.RoleMaster
	RoleSlave  = engine.RoleSlave
)

// UpdatesObserver receives every WAL record written on any non-temporary
// namespace. Callbacks run on the writer's goroutine under the
// namespace write lock, so implementations must hand work off quickly
// and never call back into the database.
type UpdatesObserver interface {
	OnWALUpdate(nsName string, lsn wal.LSN, origin wal.LSN, rec wal.Record)
}

// SubscribeUpdates registers an observer for WAL fan-out.
func (db *DB) SubscribeUpdates(obs UpdatesObserver) {
	db.obsMu.Lock()
	db.observers[obs] = struct{}{}
	db.obsMu.Unlock()
}

// UnsubscribeUpdates removes a previously registered observer.
func (db *DB) UnsubscribeUpdates(obs UpdatesObserver) {
	db.obsMu.Lock()
	delete(db.observers, obs)
	db.obsMu.Unlock()
}

func (db *DB) fanOut(nsName string, lsn wal.LSN, origin wal.LSN, rec wal.Record) {
	db.obsMu.RLock()
	defer db.obsMu.RUnlock()
	for obs := range db.observers {
		obs.OnWALUpdate(nsName, lsn, origin, rec)
	}
}

// SetNamespaceRole switches a namespace between master, slave and
// standalone operation.
func (db *DB) SetNamespaceRole(nsName string, role Role) error {
	ns, err := db.namespace(nsName)
	if err != nil {
		return err
	}
	return ns.SetRole(role)
}

// ReplicationState reports the namespace's replication bookkeeping.
func (db *DB) ReplicationState(nsName string) (engine.ReplState, error) {
	ns, err := db.namespace(nsName)
	if err != nil {
		return engine.ReplState{}, err
	}
	return ns.ReplicationState(), nil
}

// ApplyWALRecord replays a record received from a master onto a slave
// namespace, creating the namespace on first contact.
func (db *DB) ApplyWALRecord(ctx context.Context, nsName string, lsn wal.LSN, rec wal.Record) error {
	ns, err := db.namespace(nsName)
	if err != nil {
		if err := db.OpenNamespace(ctx, nsName); err != nil {
			return err
		}
		if ns, err = db.namespace(nsName); err != nil {
			return err
		}
		if err := ns.SetRole(engine.RoleSlave); err != nil {
			return err
		}
	}
	return ns.ApplyWALRecord(ctx, lsn, rec, db.resolve())
}

// WALRecords streams the namespace's WAL from the given counter. It
// returns NotValid when the counter has already been overwritten by the
// ring, which tells the follower to force-sync instead.
func (db *DB) WALRecords(nsName string, from int64, fn func(lsn wal.LSN, rec wal.Record) bool) error {
	ns, err := db.namespace(nsName)
	if err != nil {
		return err
	}
	return ns.WALRecords(from, fn)
}
