package storage

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/thedenisnikulin/reindexer/errs"
	"github.com/thedenisnikulin/reindexer/internal/mmap"
)

// LocalStore persists one file per key under a root directory. Keys are
// path-escaped into file names so any key byte is representable. Reads
// go through mmap, writes land in a temp file and rename into place so
// a crash never leaves a half-written value behind.
type LocalStore struct {
	dir string

	// pending guards keys written but not yet fsynced by Flush.
	mu      sync.Mutex
	pending map[string]struct{}
}

func OpenLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		return nil, errs.Params("storage path is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Logic("storage open %s: %v", dir, err)
	}
	return &LocalStore{dir: dir, pending: make(map[string]struct{})}, nil
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.dir, url.PathEscape(key))
}

func (s *LocalStore) Read(_ context.Context, key string) ([]byte, error) {
	f, err := mmap.Open(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.NotFound("storage key %q", key)
		}
		return nil, errs.Logic("storage read %q: %v", key, err)
	}
	defer f.Close()
	out := make([]byte, len(f.Data))
	copy(out, f.Data)
	return out, nil
}

func (s *LocalStore) write(key string, value []byte, durable bool) error {
	path := s.path(key)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errs.Logic("storage write %q: %v", key, err)
	}
	if _, err = f.Write(value); err != nil {
		f.Close()
		os.Remove(tmp)
		return errs.Logic("storage write %q: %v", key, err)
	}
	if durable {
		if err = f.Sync(); err != nil {
			f.Close()
			os.Remove(tmp)
			return errs.Logic("storage sync %q: %v", key, err)
		}
	}
	if err = f.Close(); err != nil {
		os.Remove(tmp)
		return errs.Logic("storage write %q: %v", key, err)
	}
	if err = os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errs.Logic("storage write %q: %v", key, err)
	}
	if !durable {
		s.mu.Lock()
		s.pending[key] = struct{}{}
		s.mu.Unlock()
	}
	return nil
}

func (s *LocalStore) Write(_ context.Context, key string, value []byte) error {
	return s.write(key, value, false)
}

func (s *LocalStore) WriteSync(_ context.Context, key string, value []byte) error {
	return s.write(key, value, true)
}

func (s *LocalStore) Remove(_ context.Context, key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return errs.Logic("storage remove %q: %v", key, err)
	}
	s.mu.Lock()
	delete(s.pending, key)
	s.mu.Unlock()
	return nil
}

func (s *LocalStore) Cursor(_ context.Context, prefix string) (Cursor, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errs.Logic("storage cursor: %v", err)
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		key, err := url.PathUnescape(e.Name())
		if err != nil {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return &localCursor{store: s, keys: keys}, nil
}

type localCursor struct {
	store *LocalStore
	keys  []string
	pos   int
	value []byte
	err   error
}

func (c *localCursor) Next() bool {
	if c.err != nil || c.pos >= len(c.keys) {
		return false
	}
	c.value, c.err = c.store.Read(context.Background(), c.keys[c.pos])
	c.pos++
	if c.err != nil {
		// Removed between listing and read, skip it.
		if errs.CodeOf(c.err) == errs.CodeNotFound {
			c.err = nil
			return c.Next()
		}
		return false
	}
	return true
}

func (c *localCursor) Key() string   { return c.keys[c.pos-1] }
func (c *localCursor) Value() []byte { return c.value }
func (c *localCursor) Err() error    { return c.err }
func (c *localCursor) Close() error  { return nil }

// Flush fsyncs every file written since the last flush, then the
// directory itself so renames are durable.
func (s *LocalStore) Flush(context.Context) error {
	s.mu.Lock()
	keys := make([]string, 0, len(s.pending))
	for k := range s.pending {
		keys = append(keys, k)
	}
	s.pending = make(map[string]struct{})
	s.mu.Unlock()

	for _, key := range keys {
		f, err := os.Open(s.path(key))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return errs.Logic("storage flush %q: %v", key, err)
		}
		err = f.Sync()
		f.Close()
		if err != nil {
			return errs.Logic("storage flush %q: %v", key, err)
		}
	}

	d, err := os.Open(s.dir)
	if err != nil {
		return errs.Logic("storage flush: %v", err)
	}
	err = d.Sync()
	d.Close()
	if err != nil {
		return errs.Logic("storage flush: %v", err)
	}
	return nil
}

func (s *LocalStore) AdviseBatching() bool { return false }

func (s *LocalStore) Close() error { return nil }

func (s *LocalStore) Destroy() error {
	if err := s.Close(); err != nil {
		return err
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return errs.Logic("storage destroy %s: %v", s.dir, err)
	}
	return nil
}
