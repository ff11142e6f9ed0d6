package edb

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDBDescriptorSize guards against the struct-layout regression where
// placing entries (the only 8-byte field) after narrower fields forced Go
// to pad the struct to 40 bytes instead of the documented 32.
func TestDBDescriptorSize(t *testing.T) {
	require.Equal(t, metaDescriptorSize, int(unsafe.Sizeof(dbDescriptor{})))
}

func TestEncodeDecodeDBDescriptorRoundTrip(t *testing.T) {
	d := dbDescriptor{
		entries:       123,
		branchPages:   4,
		leafPages:     5,
		overflowPages: 6,
		root:          7,
		flags:         uint16(DupSort),
		depth:         3,
	}
	buf := encodeDBDescriptor(d)
	require.Len(t, buf, metaDescriptorSize)
	got := decodeDBDescriptor(buf)
	assert.Equal(t, d, got)
}

func TestDecodeDBDescriptorRejectsShortBuffer(t *testing.T) {
	got := decodeDBDescriptor([]byte{1, 2, 3})
	assert.Equal(t, dbDescriptor{}, got)
}

func TestInitMetaProducesEmptyEnv(t *testing.T) {
	data := make([]byte, DefaultPageSize)
	initMeta(data, 0, DefaultPageSize, 1<<20)

	m := metaView(data)
	assert.Equal(t, Magic, m.magic)
	assert.Equal(t, Version, m.version)
	assert.Equal(t, uint32(DefaultPageSize), m.pageSize)
	assert.Equal(t, invalidPgno, m.dbs[FreeDBI].root)
	assert.Equal(t, invalidPgno, m.dbs[MainDBI].root)
	assert.Equal(t, txnID(0), m.txnID)
	require.NoError(t, m.validate(DefaultPageSize))
}

func TestMetaValidateRejectsBadMagic(t *testing.T) {
	data := make([]byte, DefaultPageSize)
	initMeta(data, 0, DefaultPageSize, 1<<20)
	m := metaView(data)
	m.magic = 0xDEADBEEF
	assert.Error(t, m.validate(DefaultPageSize))
}

func TestMetaValidateRejectsVersionMismatch(t *testing.T) {
	data := make([]byte, DefaultPageSize)
	initMeta(data, 0, DefaultPageSize, 1<<20)
	m := metaView(data)
	m.version = Version + 1
	err := m.validate(DefaultPageSize)
	require.Error(t, err)
	assert.Equal(t, VersionMismatch, Code(err))
}

func TestPickMetaPrefersLargerTxnID(t *testing.T) {
	d0 := make([]byte, DefaultPageSize)
	d1 := make([]byte, DefaultPageSize)
	initMeta(d0, 0, DefaultPageSize, 1<<20)
	initMeta(d1, 1, DefaultPageSize, 1<<20)

	m0 := metaView(d0)
	m1 := metaView(d1)
	m0.txnID = 5
	m1.txnID = 9

	chosen, idx, err := pickMeta(m0, m1, DefaultPageSize)
	require.NoError(t, err)
	assert.Equal(t, pgno(1), idx)
	assert.Equal(t, txnID(9), chosen.txnID)
}

func TestPickMetaFallsBackWhenOneInvalid(t *testing.T) {
	d0 := make([]byte, DefaultPageSize)
	d1 := make([]byte, DefaultPageSize)
	initMeta(d0, 0, DefaultPageSize, 1<<20)
	initMeta(d1, 1, DefaultPageSize, 1<<20)

	m0 := metaView(d0)
	m1 := metaView(d1)
	m1.magic = 0

	chosen, idx, err := pickMeta(m0, m1, DefaultPageSize)
	require.NoError(t, err)
	assert.Equal(t, pgno(0), idx)
	assert.Same(t, m0, chosen)
}
