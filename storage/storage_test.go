package storage

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thedenisnikulin/reindexer/errs"
)

func backends(t *testing.T) map[string]Store {
	local, err := OpenLocalStore(t.TempDir())
	require.NoError(t, err)
	return map[string]Store{
		"mem":   NewMemStore(),
		"local": local,
	}
}

func TestStoreReadWriteRemove(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Write(ctx, "a", []byte("1")))
			require.NoError(t, s.WriteSync(ctx, "b", []byte("2")))

			v, err := s.Read(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, []byte("1"), v)

			_, err = s.Read(ctx, "missing")
			require.Error(t, err)
			assert.Equal(t, errs.CodeNotFound, errs.CodeOf(err))

			require.NoError(t, s.Remove(ctx, "a"))
			require.NoError(t, s.Remove(ctx, "a"))
			_, err = s.Read(ctx, "a")
			require.Error(t, err)

			require.NoError(t, s.Flush(ctx))
			require.NoError(t, s.Close())
		})
	}
}

func TestStoreCursorPrefix(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Write(ctx, "I100", []byte("x")))
			require.NoError(t, s.Write(ctx, "I2", []byte("y")))
			require.NoError(t, s.Write(ctx, "meta.color", []byte("red")))

			cur, err := s.Cursor(ctx, "I")
			require.NoError(t, err)
			var keys []string
			for cur.Next() {
				keys = append(keys, cur.Key())
			}
			require.NoError(t, cur.Err())
			require.NoError(t, cur.Close())
			assert.Equal(t, []string{"I100", "I2"}, keys)
		})
	}
}

func TestStoreKeyEscaping(t *testing.T) {
	ctx := context.Background()
	s, err := OpenLocalStore(t.TempDir())
	require.NoError(t, err)
	key := "meta.path/with%odd bytes"
	require.NoError(t, s.Write(ctx, key, []byte("v")))

	v, err := s.Read(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	cur, err := s.Cursor(ctx, "meta.")
	require.NoError(t, err)
	require.True(t, cur.Next())
	assert.Equal(t, key, cur.Key())
}

func TestLocalStoreDestroy(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := OpenLocalStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, "a", []byte("1")))
	require.NoError(t, s.Destroy())

	s2, err := OpenLocalStore(dir)
	require.NoError(t, err)
	_, err = s2.Read(ctx, "a")
	require.Error(t, err)
}

func TestCodecRoundTrip(t *testing.T) {
	ctx := context.Background()
	payload := bytes.Repeat([]byte("compress me "), 50)
	for _, tc := range []struct {
		name string
		id   CodecID
	}{{"zstd", CodecZstd}, {"lz4", CodecLZ4}} {
		codec, err := codecByID(tc.id)
		require.NoError(t, err)
		t.Run(tc.name, func(t *testing.T) {
			raw := NewMemStore()
			s := WithCodec(raw, codec)
			require.NoError(t, s.Write(ctx, "k", payload))

			stored, err := raw.Read(ctx, "k")
			require.NoError(t, err)
			assert.Less(t, len(stored), len(payload))

			back, err := s.Read(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, payload, back)

			cur, err := s.Cursor(ctx, "")
			require.NoError(t, err)
			require.True(t, cur.Next())
			assert.Equal(t, payload, cur.Value())
		})
	}
}

func TestCodecEmptyAndIncompressible(t *testing.T) {
	ctx := context.Background()
	for _, id := range []CodecID{CodecZstd, CodecLZ4} {
		codec, err := codecByID(id)
		require.NoError(t, err)
		s := WithCodec(NewMemStore(), codec)

		require.NoError(t, s.Write(ctx, "empty", nil))
		v, err := s.Read(ctx, "empty")
		require.NoError(t, err)
		assert.Empty(t, v)

		odd := []byte{0x01, 0xfe, 0x7a, 0x33}
		require.NoError(t, s.Write(ctx, "odd", odd))
		v, err = s.Read(ctx, "odd")
		require.NoError(t, err)
		assert.Equal(t, odd, v)
	}
}

func TestOpenConfig(t *testing.T) {
	s, err := Open(Config{Type: TypeMem, Codec: CodecLZ4})
	require.NoError(t, err)
	require.NoError(t, s.Write(context.Background(), "k", []byte("v")))
	v, err := s.Read(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	_, err = Open(Config{Type: "bogus"})
	require.Error(t, err)
}

func TestSysRecordSaveLoad(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	rec := NewSysRecord("indexes")

	_, err := rec.Load(ctx, s)
	require.Error(t, err)
	assert.Equal(t, errs.CodeNotFound, errs.CodeOf(err))

	require.NoError(t, rec.Save(ctx, s, []byte("v1")))
	for _, slot := range []string{"indexes.0", "indexes.1", "indexes.2"} {
		_, err := s.Read(ctx, slot)
		require.NoError(t, err, slot)
	}

	require.NoError(t, rec.Save(ctx, s, []byte("v2")))
	require.NoError(t, rec.Save(ctx, s, []byte("v3")))

	fresh := NewSysRecord("indexes")
	data, err := fresh.Load(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, []byte("v3"), data)
	assert.Equal(t, uint64(3), fresh.Version())
}

func TestSysRecordSkipsCorruptSlot(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	rec := NewSysRecord("repl")
	require.NoError(t, rec.Save(ctx, s, []byte("old")))
	require.NoError(t, rec.Save(ctx, s, []byte("new")))

	require.NoError(t, s.Write(ctx, "repl.1", []byte("garbage")))

	fresh := NewSysRecord("repl")
	data, err := fresh.Load(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), data)
}
