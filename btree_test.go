package edb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchPageFindsExactAndInsertionPoint(t *testing.T) {
	p := newTestPage(1, PageLeaf, DefaultPageSize)
	for i, k := range [][]byte{[]byte("b"), []byte("d"), []byte("f")} {
		require.True(t, p.insertEntry(i, encodeLeafNode(k, []byte("v"), 0)))
	}

	idx, exact := searchPage(p, []byte("d"), compareBytes)
	assert.True(t, exact)
	assert.Equal(t, 1, idx)

	idx, exact = searchPage(p, []byte("c"), compareBytes)
	assert.False(t, exact)
	assert.Equal(t, 1, idx)

	idx, exact = searchPage(p, []byte("z"), compareBytes)
	assert.False(t, exact)
	assert.Equal(t, 3, idx)
}

func TestReplaceBranchChildRewritesInPlace(t *testing.T) {
	p := newTestPage(1, PageBranch, DefaultPageSize)
	require.True(t, p.insertEntry(0, encodeBranchNode([]byte("a"), pgno(5))))
	replaceBranchChild(p, 0, pgno(99))
	assert.Equal(t, pgno(99), p.nodeAt(0).childPgno())
}

func TestPutThenGetAcrossSplit(t *testing.T) {
	env := openTestEnv(t)
	require.NoError(t, env.Update(func(txn *Txn) error {
		for i := 0; i < 200; i++ {
			k := []byte{byte(i)}
			v := make([]byte, 30)
			if err := txn.Put(MainDBI, k, v, 0); err != nil {
				return err
			}
		}
		return nil
	}))
	require.NoError(t, env.View(func(txn *Txn) error {
		for i := 0; i < 200; i++ {
			_, err := txn.Get(MainDBI, []byte{byte(i)})
			require.NoError(t, err)
		}
		return nil
	}))
}

func TestGetMissingKeyReturnsNotFound(t *testing.T) {
	env := openTestEnv(t)
	require.NoError(t, env.View(func(txn *Txn) error {
		_, err := txn.Get(MainDBI, []byte("nope"))
		assert.True(t, IsNotFound(err))
		return nil
	}))
}

func TestPutRejectsOversizeKey(t *testing.T) {
	env := openTestEnv(t)
	err := env.Update(func(txn *Txn) error {
		return txn.Put(MainDBI, make([]byte, MaxKeySize+1), []byte("v"), 0)
	})
	assert.Equal(t, BadValSize, Code(err))
}

func TestPutRejectsEmptyKey(t *testing.T) {
	env := openTestEnv(t)
	err := env.Update(func(txn *Txn) error {
		return txn.Put(MainDBI, nil, []byte("v"), 0)
	})
	assert.Equal(t, BadValSize, Code(err))
}

func TestDeleteMissingKeyReturnsNotFound(t *testing.T) {
	env := openTestEnv(t)
	err := env.Update(func(txn *Txn) error {
		return txn.Delete(MainDBI, []byte("nope"), nil, 0)
	})
	assert.True(t, IsNotFound(err))
}
