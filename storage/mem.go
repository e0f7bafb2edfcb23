package storage

import (
	"context"
	"sort"
	"strings"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/thedenisnikulin/reindexer/errs"
)

// MemStore keeps everything in process memory. It backs namespaces
// opened without a storage path and most of the test suite.
type MemStore struct {
	data *xsync.MapOf[string, []byte]
}

func NewMemStore() *MemStore {
	return &MemStore{data: xsync.NewMapOf[string, []byte]()}
}

func (s *MemStore) Read(_ context.Context, key string) ([]byte, error) {
	v, ok := s.data.Load(key)
	if !ok {
		return nil, errs.NotFound("storage key %q", key)
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *MemStore) Write(_ context.Context, key string, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)
	s.data.Store(key, v)
	return nil
}

func (s *MemStore) WriteSync(ctx context.Context, key string, value []byte) error {
	return s.Write(ctx, key, value)
}

func (s *MemStore) Remove(_ context.Context, key string) error {
	s.data.Delete(key)
	return nil
}

func (s *MemStore) Cursor(_ context.Context, prefix string) (Cursor, error) {
	var keys []string
	s.data.Range(func(k string, _ []byte) bool {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
		return true
	})
	sort.Strings(keys)
	values := make([][]byte, len(keys))
	for i, k := range keys {
		v, _ := s.data.Load(k)
		values[i] = v
	}
	return &sliceCursor{keys: keys, values: values}, nil
}

func (s *MemStore) Flush(context.Context) error { return nil }

func (s *MemStore) AdviseBatching() bool { return false }

func (s *MemStore) Close() error { return nil }

func (s *MemStore) Destroy() error {
	s.data.Clear()
	return nil
}
