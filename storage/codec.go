package storage

import (
	"context"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/thedenisnikulin/reindexer/errs"
)

// CodecID names a value compression codec. The id is written as the
// first byte of every stored value so reads self-describe.
type CodecID byte

const (
	CodecNone CodecID = 0
	CodecZstd CodecID = 1
	CodecLZ4  CodecID = 2
)

// Codec compresses values on their way into a store.
type Codec interface {
	ID() CodecID
	Encode(src []byte) ([]byte, error)
	Decode(src []byte) ([]byte, error)
}

func codecByID(id CodecID) (Codec, error) {
	switch id {
	case CodecZstd:
		return zstdCodec{}, nil
	case CodecLZ4:
		return lz4Codec{}, nil
	default:
		return nil, errs.Params("unknown storage codec %d", id)
	}
}

var (
	storeZstdEnc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	storeZstdDec, _ = zstd.NewReader(nil)
)

type zstdCodec struct{}

func (zstdCodec) ID() CodecID { return CodecZstd }

func (zstdCodec) Encode(src []byte) ([]byte, error) {
	return storeZstdEnc.EncodeAll(src, nil), nil
}

func (zstdCodec) Decode(src []byte) ([]byte, error) {
	out, err := storeZstdDec.DecodeAll(src, nil)
	if err != nil {
		return nil, errs.ParseBin("zstd value: %v", err)
	}
	return out, nil
}

type lz4Codec struct{}

func (lz4Codec) ID() CodecID { return CodecLZ4 }

func (lz4Codec) Encode(src []byte) ([]byte, error) {
	// The decompressed size leads the frame, lz4 block decoding needs
	// the exact destination length.
	hdr := make([]byte, 4, 4+lz4.CompressBlockBound(len(src)))
	hdr[0] = byte(len(src))
	hdr[1] = byte(len(src) >> 8)
	hdr[2] = byte(len(src) >> 16)
	hdr[3] = byte(len(src) >> 24)
	dst := hdr[4:cap(hdr)]
	var c lz4.Compressor
	n, err := c.CompressBlock(src, dst)
	if err != nil {
		return nil, errs.Logic("lz4 value: %v", err)
	}
	if n == 0 || len(src) == 0 {
		// Incompressible or empty, store raw with a zero marker length.
		raw := make([]byte, 4+len(src))
		copy(raw[4:], src)
		return raw, nil
	}
	return hdr[:4+n], nil
}

func (lz4Codec) Decode(src []byte) ([]byte, error) {
	if len(src) < 4 {
		return nil, errs.ParseBin("lz4 value too short")
	}
	size := int(src[0]) | int(src[1])<<8 | int(src[2])<<16 | int(src[3])<<24
	if size == 0 {
		return src[4:], nil
	}
	out := make([]byte, size)
	n, err := lz4.UncompressBlock(src[4:], out)
	if err != nil {
		return nil, errs.ParseBin("lz4 value: %v", err)
	}
	return out[:n], nil
}

// WithCodec wraps a store so values are compressed on write and
// transparently decompressed on read. The wrapped store must be read
// and written exclusively through the wrapper.
func WithCodec(s Store, c Codec) Store {
	return &codecStore{Store: s, codec: c}
}

type codecStore struct {
	Store
	codec Codec
}

func (s *codecStore) encode(value []byte) ([]byte, error) {
	enc, err := s.codec.Encode(value)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 1+len(enc))
	out[0] = byte(s.codec.ID())
	copy(out[1:], enc)
	return out, nil
}

func decodeValue(value []byte) ([]byte, error) {
	if len(value) == 0 {
		return value, nil
	}
	id := CodecID(value[0])
	if id == CodecNone {
		return value[1:], nil
	}
	codec, err := codecByID(id)
	if err != nil {
		return nil, err
	}
	return codec.Decode(value[1:])
}

func (s *codecStore) Read(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.Store.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	return decodeValue(raw)
}

func (s *codecStore) Write(ctx context.Context, key string, value []byte) error {
	enc, err := s.encode(value)
	if err != nil {
		return err
	}
	return s.Store.Write(ctx, key, enc)
}

func (s *codecStore) WriteSync(ctx context.Context, key string, value []byte) error {
	enc, err := s.encode(value)
	if err != nil {
		return err
	}
	return s.Store.WriteSync(ctx, key, enc)
}

func (s *codecStore) Cursor(ctx context.Context, prefix string) (Cursor, error) {
	cur, err := s.Store.Cursor(ctx, prefix)
	if err != nil {
		return nil, err
	}
	return &codecCursor{Cursor: cur}, nil
}

type codecCursor struct {
	Cursor
	value []byte
	err   error
}

func (c *codecCursor) Next() bool {
	if !c.Cursor.Next() {
		return false
	}
	c.value, c.err = decodeValue(c.Cursor.Value())
	return c.err == nil
}

func (c *codecCursor) Value() []byte { return c.value }

func (c *codecCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.Cursor.Err()
}
