// Package storage provides the key-value persistence layer namespaces
// write through: an in-memory backend for tests and volatile setups, a
// local file-per-key backend with mmap reads, and S3-compatible object
// store backends. Values can be routed through a compression codec, and
// system records are versioned across a fixed slot ring so a torn write
// never loses the latest readable state.
package storage

import (
	"context"

	"github.com/thedenisnikulin/reindexer/errs"
)

// Store is the contract the engine persists through. Write buffers,
// WriteSync reaches durable media before returning, Flush drains any
// buffered writes. Remove of an absent key is not an error.
type Store interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, value []byte) error
	WriteSync(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	Cursor(ctx context.Context, prefix string) (Cursor, error)
	Flush(ctx context.Context) error
	// AdviseBatching reports whether callers should coalesce writes
	// before handing them to the store.
	AdviseBatching() bool
	Close() error
	// Destroy closes the store and removes all persisted data.
	Destroy() error
}

// Cursor iterates keys under a prefix in ascending key order.
type Cursor interface {
	Next() bool
	Key() string
	Value() []byte
	Err() error
	Close() error
}

// Type names a storage backend.
type Type string

const (
	TypeMem   Type = "mem"
	TypeLocal Type = "local"
	TypeS3    Type = "s3"
	TypeMinio Type = "minio"
)

// Config selects and parameterizes a backend.
type Config struct {
	Type Type
	// Path is the root directory for the local backend.
	Path string
	// Codec wraps values on write; empty means no compression.
	Codec CodecID
}

// Open creates a store from config. Object store backends carry client
// handles and are constructed directly via NewS3Store and NewMinioStore.
func Open(cfg Config) (Store, error) {
	var s Store
	switch cfg.Type {
	case TypeMem, "":
		s = NewMemStore()
	case TypeLocal:
		var err error
		s, err = OpenLocalStore(cfg.Path)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errs.Params("unknown storage type %q", cfg.Type)
	}
	if cfg.Codec != CodecNone {
		codec, err := codecByID(cfg.Codec)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s = WithCodec(s, codec)
	}
	return s, nil
}

type sliceCursor struct {
	keys   []string
	values [][]byte
	pos    int
	err    error
}

func (c *sliceCursor) Next() bool {
	if c.err != nil || c.pos >= len(c.keys) {
		return false
	}
	c.pos++
	return true
}

func (c *sliceCursor) Key() string {
	return c.keys[c.pos-1]
}

func (c *sliceCursor) Value() []byte {
	return c.values[c.pos-1]
}

func (c *sliceCursor) Err() error   { return c.err }
func (c *sliceCursor) Close() error { return nil }
