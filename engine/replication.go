package engine

import (
	"github.com/google/uuid"

	"github.com/thedenisnikulin/reindexer/cjson"
	"github.com/thedenisnikulin/reindexer/errs"
	"github.com/thedenisnikulin/reindexer/wal"
)

// Role tells a namespace how to treat incoming writes.
type Role int

const (
	// RoleNone accepts local writes and does not replicate.
	RoleNone Role = iota
	// RoleMaster accepts local writes and feeds observers.
	RoleMaster
	// RoleSlave refuses local writes; only records that carry an
	// origin LSN from the master are applied.
	RoleSlave
)

func (r Role) String() string {
	switch r {
	case RoleMaster:
		return "master"
	case RoleSlave:
		return "slave"
	default:
		return "none"
	}
}

// ReplState is the per-namespace replication bookkeeping persisted in
// the repl.N system record. DataHash is the XOR of all item hashes and
// DataCount the live item count, so two replicas can compare state
// without shipping data.
type ReplState struct {
	ServerID    int16
	Role        Role
	LastLSN     wal.LSN
	DataHash    uint64
	DataCount   int
	Incarnation string
}

func NewReplState(serverID int16) ReplState {
	return ReplState{
		ServerID:    serverID,
		LastLSN:     wal.EmptyLSN,
		Incarnation: uuid.NewString(),
	}
}

const replStateFormat = 1

// Serialize packs the state for the repl system record.
func (r *ReplState) Serialize() []byte {
	ser := cjson.NewSerializer()
	ser.PutUvarint(replStateFormat)
	ser.PutVarint(int64(r.ServerID))
	ser.PutVarint(int64(r.Role))
	ser.PutVarint(int64(r.LastLSN))
	ser.PutUInt64(r.DataHash)
	ser.PutUvarint(uint64(r.DataCount))
	ser.PutVString(r.Incarnation)
	return ser.Bytes()
}

// Deserialize restores state saved by Serialize. The incarnation token
// is kept from the stored copy so restarts stay recognizable to peers.
func (r *ReplState) Deserialize(data []byte) error {
	des := cjson.NewDeserializer(data)
	format, err := des.GetUvarint()
	if err != nil || format != replStateFormat {
		return errs.ParseBin("unsupported replication state format")
	}
	server, err := des.GetVarint()
	if err != nil {
		return errs.ParseBin("bad replication state: %v", err)
	}
	role, err := des.GetVarint()
	if err != nil {
		return errs.ParseBin("bad replication state: %v", err)
	}
	lsn, err := des.GetVarint()
	if err != nil {
		return errs.ParseBin("bad replication state: %v", err)
	}
	hash, err := des.GetUInt64()
	if err != nil {
		return errs.ParseBin("bad replication state: %v", err)
	}
	count, err := des.GetUvarint()
	if err != nil {
		return errs.ParseBin("bad replication state: %v", err)
	}
	inc, err := des.GetVString()
	if err != nil {
		return errs.ParseBin("bad replication state: %v", err)
	}
	r.ServerID = int16(server)
	r.Role = Role(role)
	r.LastLSN = wal.LSN(lsn)
	r.DataHash = hash
	r.DataCount = int(count)
	r.Incarnation = inc
	return nil
}

// SetRole switches the namespace between none, master and slave. The
// role is checked when a write runs, and for a transaction when it
// commits, so a transaction begun before a switch to slave is refused at
// commit unless it carries an origin LSN.
func (ns *Namespace) SetRole(role Role) error {
	if role < RoleNone || role > RoleSlave {
		return errs.Params("unknown replication role %d", role)
	}
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if err := ns.checkValid(); err != nil {
		return err
	}
	ns.repl.Role = role
	ns.replUpdated = true
	return nil
}

// ReplicationState returns a snapshot of the replication bookkeeping.
func (ns *Namespace) ReplicationState() ReplState {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.repl
}

// WALRecords walks the WAL ring starting at the given counter. A
// counter that the ring has already overwritten yields NotValid so the
// follower knows a force sync is needed.
func (ns *Namespace) WALRecords(from int64, fn func(lsn wal.LSN, rec wal.Record) bool) error {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	if err := ns.checkValid(); err != nil {
		return err
	}
	server := ns.wlog.Server()
	return ns.wlog.ForEach(from, func(counter int64, rec wal.Record) bool {
		return fn(wal.NewLSN(server, counter), rec)
	})
}
