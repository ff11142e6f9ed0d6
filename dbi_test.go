package edb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareBytesOrdering(t *testing.T) {
	assert.Equal(t, -1, compareBytes([]byte("a"), []byte("b")))
	assert.Equal(t, 1, compareBytes([]byte("b"), []byte("a")))
	assert.Equal(t, 0, compareBytes([]byte("a"), []byte("a")))
	assert.Equal(t, -1, compareBytes([]byte("a"), []byte("aa")))
}

func TestCompareReverseInvertsOrder(t *testing.T) {
	assert.Equal(t, 1, compareReverse([]byte("a"), []byte("b")))
	assert.Equal(t, -1, compareReverse([]byte("b"), []byte("a")))
}

func TestKeyComparatorPicksReverseKeyFlag(t *testing.T) {
	cmp := keyComparator(ReverseKey)
	assert.Equal(t, 1, cmp([]byte("a"), []byte("b")))

	cmp = keyComparator(0)
	assert.Equal(t, -1, cmp([]byte("a"), []byte("b")))
}

func TestDupComparatorPicksReverseDupFlag(t *testing.T) {
	cmp := dupComparator(ReverseDup)
	assert.Equal(t, 1, cmp([]byte("a"), []byte("b")))

	cmp = dupComparator(0)
	assert.Equal(t, -1, cmp([]byte("a"), []byte("b")))
}
