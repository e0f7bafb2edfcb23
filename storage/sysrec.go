package storage

import (
	"context"
	"fmt"

	"github.com/thedenisnikulin/reindexer/cjson"
	"github.com/thedenisnikulin/reindexer/errs"
)

const (
	sysRecMagic  = uint32(0x1234FEDC)
	sysRecFormat = uint64(0x8)
	sysRecSlots  = 8
	sysRecCopies = 3
)

// SysRecord persists a single logical record across a fixed ring of
// versioned slots. Each save lands in the next slot, so a torn write
// corrupts at most one slot and the previous version stays readable.
// The very first save is duplicated into several slots.
type SysRecord struct {
	base    string
	version uint64
	loaded  bool
}

func NewSysRecord(base string) *SysRecord {
	return &SysRecord{base: base}
}

func (r *SysRecord) slotKey(slot uint64) string {
	return fmt.Sprintf("%s.%d", r.base, slot)
}

// Version returns the last version written or loaded.
func (r *SysRecord) Version() uint64 { return r.version }

func packSysRecord(version uint64, data []byte) []byte {
	ser := cjson.NewSerializer()
	ser.PutUInt32(sysRecMagic)
	ser.PutUvarint(sysRecFormat)
	ser.PutUvarint(version)
	ser.PutVBytes(data)
	return ser.Bytes()
}

func unpackSysRecord(raw []byte) (uint64, []byte, error) {
	des := cjson.NewDeserializer(raw)
	magic, err := des.GetUInt32()
	if err != nil || magic != sysRecMagic {
		return 0, nil, errs.ParseBin("bad system record magic")
	}
	format, err := des.GetUvarint()
	if err != nil || format > sysRecFormat {
		return 0, nil, errs.ParseBin("unsupported system record format %d", format)
	}
	version, err := des.GetUvarint()
	if err != nil {
		return 0, nil, errs.ParseBin("bad system record version: %v", err)
	}
	data, err := des.GetVBytes()
	if err != nil {
		return 0, nil, errs.ParseBin("bad system record payload: %v", err)
	}
	return version, data, nil
}

// Load scans all slots and returns the payload with the highest valid
// version. Missing or corrupt slots are skipped; no valid slot at all
// yields NotFound.
func (r *SysRecord) Load(ctx context.Context, s Store) ([]byte, error) {
	var (
		best     []byte
		bestVer  uint64
		anyValid bool
	)
	for slot := uint64(0); slot < sysRecSlots; slot++ {
		raw, err := s.Read(ctx, r.slotKey(slot))
		if err != nil {
			continue
		}
		version, data, err := unpackSysRecord(raw)
		if err != nil {
			continue
		}
		if !anyValid || version > bestVer {
			anyValid = true
			bestVer = version
			best = data
		}
	}
	if !anyValid {
		return nil, errs.NotFound("system record %q", r.base)
	}
	r.version = bestVer
	r.loaded = true
	return best, nil
}

// Save writes the payload under the next version. The first save seeds
// multiple slots so later torn writes cannot erase the only copy.
func (r *SysRecord) Save(ctx context.Context, s Store, data []byte) error {
	first := !r.loaded && r.version == 0
	r.version++
	raw := packSysRecord(r.version, data)
	if first {
		for slot := uint64(0); slot < sysRecCopies; slot++ {
			if err := s.WriteSync(ctx, r.slotKey(slot), raw); err != nil {
				return err
			}
		}
		r.loaded = true
		return nil
	}
	r.loaded = true
	return s.WriteSync(ctx, r.slotKey(r.version%sysRecSlots), raw)
}
