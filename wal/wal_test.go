package wal

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLSNPacking(t *testing.T) {
	l := NewLSN(7, 123456)
	assert.Equal(t, int16(7), l.Server())
	assert.Equal(t, int64(123456), l.Counter())
	assert.False(t, l.IsEmpty())
	assert.Equal(t, "7:123456", l.String())

	assert.True(t, EmptyLSN.IsEmpty())
	assert.Equal(t, int64(-1), EmptyLSN.Counter())
}

func TestTrackerAddAndGet(t *testing.T) {
	tr := NewTracker(16, 1)
	var lsns []LSN
	for i := 0; i < 5; i++ {
		lsns = append(lsns, tr.Add(Record{Type: RecItemUpdate, Data: []byte{byte(i)}}, EmptyLSN))
	}
	assert.Equal(t, int64(5), tr.LSNCounter())
	for i, l := range lsns {
		assert.Equal(t, int64(i), l.Counter())
		assert.Equal(t, int16(1), l.Server())
		rec, err := tr.Get(l.Counter())
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i)}, rec.Data)
	}
	_, err := tr.Get(99)
	require.Error(t, err)
}

func TestTrackerRingOverwrite(t *testing.T) {
	tr := NewTracker(4, 1)
	for i := 0; i < 10; i++ {
		tr.Add(Record{Type: RecItemUpdate, Data: []byte{byte(i)}}, EmptyLSN)
	}
	assert.Equal(t, int64(6), tr.FirstCounter())
	assert.Equal(t, 4, tr.Size())

	_, err := tr.Get(3)
	require.Error(t, err)

	rec, err := tr.Get(8)
	require.NoError(t, err)
	assert.Equal(t, []byte{8}, rec.Data)

	err = tr.ForEach(0, func(int64, Record) bool { return true })
	require.Error(t, err)

	var seen []byte
	err = tr.ForEach(6, func(c int64, rec Record) bool {
		seen = append(seen, rec.Data[0])
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{6, 7, 8, 9}, seen)
}

func TestTrackerOriginLSN(t *testing.T) {
	tr := NewTracker(16, 2)
	l := tr.Add(Record{Type: RecItemUpdate}, NewLSN(0, 41))
	assert.Equal(t, int64(41), l.Counter())
	assert.Equal(t, int16(2), l.Server())

	next := tr.Add(Record{Type: RecItemUpdate}, EmptyLSN)
	assert.Equal(t, int64(42), next.Counter())
}

func TestTrackerResize(t *testing.T) {
	tr := NewTracker(8, 1)
	for i := 0; i < 8; i++ {
		tr.Add(Record{Type: RecItemUpdate, Data: []byte{byte(i)}}, EmptyLSN)
	}
	tr.Resize(2)
	assert.Equal(t, int64(6), tr.FirstCounter())
	rec, err := tr.Get(7)
	require.NoError(t, err)
	assert.Equal(t, []byte{7}, rec.Data)
	_, err = tr.Get(5)
	require.Error(t, err)
}

func TestRecordPackRoundTrip(t *testing.T) {
	small := Record{Type: RecPutMeta, Data: []byte("k"), InTransaction: true}
	lsn, back, err := Unpack(Pack(NewLSN(3, 9), small))
	require.NoError(t, err)
	assert.Equal(t, NewLSN(3, 9), lsn)
	assert.Equal(t, small, back)

	big := Record{Type: RecItemUpdate, Data: bytes.Repeat([]byte("payload"), 64)}
	packed := Pack(NewLSN(0, 1), big)
	assert.Less(t, len(packed), len(big.Data))
	_, back, err = Unpack(packed)
	require.NoError(t, err)
	assert.Equal(t, big, back)
}

func TestUnpackErrors(t *testing.T) {
	_, _, err := Unpack(nil)
	require.Error(t, err)
	_, _, err = Unpack([]byte{0x02, 0xff})
	require.Error(t, err)
}
