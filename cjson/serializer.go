package cjson

import (
	"encoding/binary"
	"math"

	"github.com/thedenisnikulin/reindexer/errs"
)

// Serializer is a little-endian append-only buffer shared by the CJSON
// codec, the WAL record codec and the binary query format.
type Serializer struct {
	buf []byte
}

// NewSerializer creates an empty serializer.
func NewSerializer() *Serializer { return &Serializer{} }

// Bytes returns the accumulated buffer.
func (s *Serializer) Bytes() []byte { return s.buf }

// Len returns the buffer length.
func (s *Serializer) Len() int { return len(s.buf) }

// PutVarint appends a zigzag varint.
func (s *Serializer) PutVarint(v int64) { s.buf = binary.AppendVarint(s.buf, v) }

// PutUvarint appends a uvarint.
func (s *Serializer) PutUvarint(v uint64) { s.buf = binary.AppendUvarint(s.buf, v) }

// PutDouble appends an 8-byte little-endian float.
func (s *Serializer) PutDouble(v float64) {
	s.buf = binary.LittleEndian.AppendUint64(s.buf, math.Float64bits(v))
}

// PutUInt64 appends an 8-byte little-endian integer.
func (s *Serializer) PutUInt64(v uint64) {
	s.buf = binary.LittleEndian.AppendUint64(s.buf, v)
}

// PutUInt32 appends a 4-byte little-endian integer.
func (s *Serializer) PutUInt32(v uint32) {
	s.buf = binary.LittleEndian.AppendUint32(s.buf, v)
}

// PutBool appends one byte.
func (s *Serializer) PutBool(v bool) {
	if v {
		s.buf = append(s.buf, 1)
	} else {
		s.buf = append(s.buf, 0)
	}
}

// PutVString appends a uvarint-length-prefixed string.
func (s *Serializer) PutVString(v string) {
	s.buf = binary.AppendUvarint(s.buf, uint64(len(v)))
	s.buf = append(s.buf, v...)
}

// PutVBytes appends a uvarint-length-prefixed byte slice.
func (s *Serializer) PutVBytes(v []byte) {
	s.buf = binary.AppendUvarint(s.buf, uint64(len(v)))
	s.buf = append(s.buf, v...)
}

// Append appends raw bytes.
func (s *Serializer) Append(b []byte) { s.buf = append(s.buf, b...) }

// PutCtag appends a packed ctag.
func (s *Serializer) PutCtag(c Ctag) { s.PutUvarint(uint64(c)) }

// Deserializer reads back what Serializer wrote. All getters return a
// ParseBin error on underflow.
type Deserializer struct {
	buf []byte
	pos int
}

// NewDeserializer wraps a buffer.
func NewDeserializer(buf []byte) *Deserializer { return &Deserializer{buf: buf} }

// Eof reports whether the buffer is exhausted.
func (d *Deserializer) Eof() bool { return d.pos >= len(d.buf) }

// Pos returns the read offset.
func (d *Deserializer) Pos() int { return d.pos }

// GetVarint reads a zigzag varint.
func (d *Deserializer) GetVarint() (int64, error) {
	v, n := binary.Varint(d.buf[d.pos:])
	if n <= 0 {
		return 0, errs.ParseBin("buffer underflow at %d reading varint", d.pos)
	}
	d.pos += n
	return v, nil
}

// GetUvarint reads a uvarint.
func (d *Deserializer) GetUvarint() (uint64, error) {
	v, n := binary.Uvarint(d.buf[d.pos:])
	if n <= 0 {
		return 0, errs.ParseBin("buffer underflow at %d reading uvarint", d.pos)
	}
	d.pos += n
	return v, nil
}

// GetDouble reads an 8-byte little-endian float.
func (d *Deserializer) GetDouble() (float64, error) {
	if d.pos+8 > len(d.buf) {
		return 0, errs.ParseBin("buffer underflow at %d reading double", d.pos)
	}
	v := math.Float64frombits(binary.LittleEndian.Uint64(d.buf[d.pos:]))
	d.pos += 8
	return v, nil
}

// GetUInt64 reads an 8-byte little-endian integer.
func (d *Deserializer) GetUInt64() (uint64, error) {
	if d.pos+8 > len(d.buf) {
		return 0, errs.ParseBin("buffer underflow at %d reading uint64", d.pos)
	}
	v := binary.LittleEndian.Uint64(d.buf[d.pos:])
	d.pos += 8
	return v, nil
}

// GetUInt32 reads a 4-byte little-endian integer.
func (d *Deserializer) GetUInt32() (uint32, error) {
	if d.pos+4 > len(d.buf) {
		return 0, errs.ParseBin("buffer underflow at %d reading uint32", d.pos)
	}
	v := binary.LittleEndian.Uint32(d.buf[d.pos:])
	d.pos += 4
	return v, nil
}

// GetBool reads one byte.
func (d *Deserializer) GetBool() (bool, error) {
	if d.pos >= len(d.buf) {
		return false, errs.ParseBin("buffer underflow at %d reading bool", d.pos)
	}
	v := d.buf[d.pos] != 0
	d.pos++
	return v, nil
}

// GetVString reads a uvarint-length-prefixed string.
func (d *Deserializer) GetVString() (string, error) {
	b, err := d.GetVBytes()
	return string(b), err
}

// GetVBytes reads a uvarint-length-prefixed byte slice (a view, not a
// copy).
func (d *Deserializer) GetVBytes() ([]byte, error) {
	l, err := d.GetUvarint()
	if err != nil {
		return nil, err
	}
	if uint64(len(d.buf)-d.pos) < l {
		return nil, errs.ParseBin("buffer underflow at %d reading %d bytes", d.pos, l)
	}
	b := d.buf[d.pos : d.pos+int(l)]
	d.pos += int(l)
	return b, nil
}

// GetCtag reads a packed ctag.
func (d *Deserializer) GetCtag() (Ctag, error) {
	v, err := d.GetUvarint()
	return Ctag(v), err
}
