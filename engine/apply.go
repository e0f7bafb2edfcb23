package engine

import (
	"context"
	"encoding/json"

	"github.com/thedenisnikulin/reindexer/cjson"
	"github.com/thedenisnikulin/reindexer/errs"
	"github.com/thedenisnikulin/reindexer/index"
	"github.com/thedenisnikulin/reindexer/query"
	"github.com/thedenisnikulin/reindexer/wal"
)

// ApplyWALRecord replays one record received from a master namespace.
// The record's own LSN becomes the origin so checkWritable lets it
// through on a slave, and local WAL counters follow the master's.
func (ns *Namespace) ApplyWALRecord(ctx context.Context, lsn wal.LSN, rec wal.Record, resolve NamespaceResolver) error {
	if lsn.IsEmpty() {
		return errs.Params("replicated record for namespace '%s' carries no LSN", ns.name)
	}
	switch rec.Type {
	case wal.RecIndexAdd, wal.RecIndexUpdate:
		var def index.Def
		if err := json.Unmarshal(rec.Data, &def); err != nil {
			return errs.ParseBin("bad index definition in replicated record: %v", err)
		}
		if rec.Type == wal.RecIndexAdd {
			return ns.AddIndex(def, lsn)
		}
		return ns.UpdateIndex(def, lsn)
	case wal.RecIndexDrop:
		return ns.DropIndex(string(rec.Data), lsn)
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()
	if err := ns.checkValid(); err != nil {
		return err
	}
	switch rec.Type {
	case wal.RecItemUpdate:
		pv, err := ns.codec().FromCJSON(rec.Data)
		if err != nil {
			return err
		}
		_, err = ns.upsertItemLocked(ctx, pv, ModeUpsert, lsn, rec.InTransaction)
		return err
	case wal.RecItemDelete:
		pv, err := ns.codec().FromCJSON(rec.Data)
		if err != nil {
			return err
		}
		_, err = ns.deleteItemLocked(ctx, pv, lsn, rec.InTransaction)
		return err
	case wal.RecUpdateQuery:
		q, err := query.ParseSQL(string(rec.Data))
		if err != nil {
			return err
		}
		_, err = ns.updateQueryLocked(ctx, q, resolve, lsn, rec.InTransaction)
		return err
	case wal.RecDeleteQuery:
		q, err := query.ParseSQL(string(rec.Data))
		if err != nil {
			return err
		}
		_, err = ns.deleteQueryLocked(ctx, q, resolve, lsn, rec.InTransaction)
		return err
	case wal.RecPutMeta:
		key, value, err := unpackMeta(rec.Data)
		if err != nil {
			return err
		}
		return ns.putMetaLocked(ctx, key, value, lsn)
	case wal.RecDeleteMeta:
		return ns.deleteMetaLocked(ctx, string(rec.Data), lsn)
	case wal.RecSetSchema:
		return ns.setSchemaLocked(ctx, string(rec.Data), lsn)
	case wal.RecTruncate:
		return ns.truncateLocked(ctx, lsn)
	case wal.RecRename:
		if string(rec.Data) == "" {
			return errs.Params("replicated rename for namespace '%s' has no target name", ns.name)
		}
		ns.name = string(rec.Data)
		ns.pt.NsName = ns.name
		ns.addWAL(wal.Record{Type: wal.RecRename, Data: rec.Data}, lsn)
		return nil
	case wal.RecInitTransaction, wal.RecCommitTransaction:
		ns.addWAL(wal.Record{Type: rec.Type}, lsn)
		return nil
	case wal.RecEmpty:
		return nil
	}
	return errs.Params("replicated record type %s is not applicable to namespace '%s'", rec.Type, ns.name)
}

func unpackMeta(data []byte) (string, string, error) {
	d := cjson.NewDeserializer(data)
	key, err := d.GetVString()
	if err != nil {
		return "", "", errs.ParseBin("bad meta record: %v", err)
	}
	value, err := d.GetVString()
	if err != nil {
		return "", "", errs.ParseBin("bad meta record: %v", err)
	}
	return key, value, nil
}
