package edb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPage(pno pgno, flags PageFlags, size int) *page {
	data := make([]byte, size)
	initPage(data, pno, flags, size)
	return &page{data: data}
}

func TestInitPageSetsHeader(t *testing.T) {
	p := newTestPage(3, PageLeaf, DefaultPageSize)
	assert.Equal(t, pgno(3), p.pageNo())
	assert.True(t, p.isLeaf())
	assert.False(t, p.isBranch())
	assert.Equal(t, 0, p.numEntries())
	assert.Equal(t, DefaultPageSize-PageHeaderSize, p.freeSpace())
}

func TestInsertAndRemoveEntry(t *testing.T) {
	p := newTestPage(1, PageLeaf, DefaultPageSize)

	n1 := encodeLeafNode([]byte("aaa"), []byte("1"), 0)
	n2 := encodeLeafNode([]byte("bbb"), []byte("2"), 0)
	n3 := encodeLeafNode([]byte("ccc"), []byte("3"), 0)

	require.True(t, p.insertEntry(0, n1))
	require.True(t, p.insertEntry(1, n2))
	require.True(t, p.insertEntry(1, n3)) // insert between aaa and bbb

	require.Equal(t, 3, p.numEntries())
	assert.Equal(t, []byte("aaa"), p.nodeAt(0).key())
	assert.Equal(t, []byte("ccc"), p.nodeAt(1).key())
	assert.Equal(t, []byte("bbb"), p.nodeAt(2).key())

	require.True(t, p.removeEntry(1))
	require.Equal(t, 2, p.numEntries())
	assert.Equal(t, []byte("aaa"), p.nodeAt(0).key())
	assert.Equal(t, []byte("bbb"), p.nodeAt(1).key())
}

func TestCompactReclaimsSpace(t *testing.T) {
	p := newTestPage(1, PageLeaf, MinPageSize)

	for i := 0; i < 5; i++ {
		key := []byte{'a' + byte(i)}
		n := encodeLeafNode(key, make([]byte, 20), 0)
		require.True(t, p.insertEntry(i, n))
	}
	before := p.freeSpace()
	require.True(t, p.removeEntry(2))
	p.compact()
	after := p.freeSpace()
	assert.Greater(t, after, before)
	assert.Equal(t, 4, p.numEntries())
}

func TestInsertEntryRejectsOutOfRangeIndex(t *testing.T) {
	p := newTestPage(1, PageLeaf, DefaultPageSize)
	n := encodeLeafNode([]byte("a"), []byte("1"), 0)
	assert.False(t, p.insertEntry(5, n))
}

func TestOverflowPagesRoundTrip(t *testing.T) {
	p := newTestPage(9, PageOverflow, DefaultPageSize)
	p.setOverflowPages(300)
	assert.Equal(t, uint32(300), p.overflowPages())
}

func TestSplitPointFavorsEndOnSequentialAppend(t *testing.T) {
	p := newTestPage(1, PageLeaf, MinPageSize)
	n := 0
	for {
		node := encodeLeafNode([]byte{byte(n)}, make([]byte, 8), 0)
		if !p.insertEntry(n, node) {
			break
		}
		n++
	}
	require.Greater(t, n, 2)
	split := p.splitPoint(NodeHeaderSize+1+8, n)
	assert.Equal(t, n, split)
}
