package wal

import (
	"github.com/klauspost/compress/zstd"

	"github.com/thedenisnikulin/reindexer/cjson"
	"github.com/thedenisnikulin/reindexer/errs"
)

// RecordType enumerates the mutations the log can carry.
type RecordType int

const (
	RecEmpty RecordType = iota
	RecItemUpdate
	RecItemDelete
	RecIndexAdd
	RecIndexDrop
	RecIndexUpdate
	RecPutMeta
	RecDeleteMeta
	RecUpdateQuery
	RecDeleteQuery
	RecInitTransaction
	RecCommitTransaction
	RecTruncate
	RecRename
	RecSetSchema
	RecForceSync
)

func (t RecordType) String() string {
	switch t {
	case RecEmpty:
		return "empty"
	case RecItemUpdate:
		return "item_update"
	case RecItemDelete:
		return "item_delete"
	case RecIndexAdd:
		return "index_add"
	case RecIndexDrop:
		return "index_drop"
	case RecIndexUpdate:
		return "index_update"
	case RecPutMeta:
		return "put_meta"
	case RecDeleteMeta:
		return "delete_meta"
	case RecUpdateQuery:
		return "update_query"
	case RecDeleteQuery:
		return "delete_query"
	case RecInitTransaction:
		return "init_tx"
	case RecCommitTransaction:
		return "commit_tx"
	case RecTruncate:
		return "truncate"
	case RecRename:
		return "rename"
	case RecSetSchema:
		return "set_schema"
	case RecForceSync:
		return "force_sync"
	default:
		return "?"
	}
}

// Record is one logged mutation. Data is type-specific: CJSON of the
// item for item records, the serialized query for query records, the
// key/value pair for meta records.
type Record struct {
	Type RecordType
	Data []byte
	// InTransaction marks records framed by init/commit markers.
	InTransaction bool
}

var (
	zstdEnc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDec, _ = zstd.NewReader(nil)
)

// Pack serializes the record with its LSN for storage persistence.
// The payload is zstd-compressed past a small threshold.
const packCompressMin = 64

func Pack(lsn LSN, rec Record) []byte {
	ser := cjson.NewSerializer()
	ser.PutVarint(int64(lsn))
	ser.PutUvarint(uint64(rec.Type))
	ser.PutBool(rec.InTransaction)
	if len(rec.Data) >= packCompressMin {
		ser.PutBool(true)
		ser.PutVBytes(zstdEnc.EncodeAll(rec.Data, nil))
	} else {
		ser.PutBool(false)
		ser.PutVBytes(rec.Data)
	}
	return ser.Bytes()
}

// Unpack reverses Pack.
func Unpack(data []byte) (LSN, Record, error) {
	des := cjson.NewDeserializer(data)
	lsn, err := des.GetVarint()
	if err != nil {
		return EmptyLSN, Record{}, errs.ParseBin("bad wal lsn: %v", err)
	}
	typ, err := des.GetUvarint()
	if err != nil || typ > uint64(RecForceSync) {
		return EmptyLSN, Record{}, errs.ParseBin("bad wal record type")
	}
	inTx, err := des.GetBool()
	if err != nil {
		return EmptyLSN, Record{}, errs.ParseBin("bad wal record flags: %v", err)
	}
	compressed, err := des.GetBool()
	if err != nil {
		return EmptyLSN, Record{}, errs.ParseBin("bad wal record flags: %v", err)
	}
	payload, err := des.GetVBytes()
	if err != nil {
		return EmptyLSN, Record{}, errs.ParseBin("bad wal record payload: %v", err)
	}
	if compressed {
		payload, err = zstdDec.DecodeAll(payload, nil)
		if err != nil {
			return EmptyLSN, Record{}, errs.ParseBin("bad wal record compression: %v", err)
		}
	}
	rec := Record{Type: RecordType(typ), Data: payload, InTransaction: inTx}
	return LSN(lsn), rec, nil
}
