// Package mmap provides read-only memory-mapped file access for the
// storage layer. Values are copied out before the mapping is closed, so
// callers never hold live mapped memory.
package mmap

import (
	"os"
)

// File is a read-only mapping of one file. Data stays valid until
// Close. An empty file maps to a nil Data slice.
type File struct {
	Data []byte
	done func() error
}

// Open maps the file at path for reading.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if st.Size() == 0 {
		return &File{}, nil
	}
	return mapFile(f, int(st.Size()))
}

// Close unmaps the file. Data must not be used afterwards.
func (m *File) Close() error {
	if m.done == nil {
		return nil
	}
	done := m.done
	m.done = nil
	m.Data = nil
	return done()
}
