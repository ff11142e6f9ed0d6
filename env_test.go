package edb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestEnv(t *testing.T) *Env {
	t.Helper()
	dir := t.TempDir()
	env, err := Open(dir, Options{MapSize: 16 << 20})
	require.NoError(t, err)
	t.Cleanup(func() { env.Close() })
	return env
}

func TestOpenCreatesEmptyEnvironment(t *testing.T) {
	env := openTestEnv(t)
	info := env.Info()
	assert.Equal(t, DefaultPageSize, info.PageSize)
	assert.Equal(t, txnID(0), info.LastTxnID)

	stat := env.Stat()
	assert.Equal(t, uint64(0), stat.Entries)
}

func TestReopenExistingEnvironmentPreservesData(t *testing.T) {
	dir := t.TempDir()
	env, err := Open(dir, Options{MapSize: 16 << 20})
	require.NoError(t, err)

	require.NoError(t, env.Update(func(txn *Txn) error {
		return txn.Put(MainDBI, []byte("k"), []byte("v"), 0)
	}))
	require.NoError(t, env.Close())

	env2, err := Open(dir, Options{MapSize: 16 << 20})
	require.NoError(t, err)
	defer env2.Close()

	require.NoError(t, env2.View(func(txn *Txn) error {
		v, err := txn.Get(MainDBI, []byte("k"))
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), v)
		return nil
	}))
}

func TestReadOnlyOpenRejectsWrites(t *testing.T) {
	dir := t.TempDir()
	env, err := Open(dir, Options{MapSize: 16 << 20})
	require.NoError(t, err)
	require.NoError(t, env.Close())

	roEnv, err := Open(dir, Options{MapSize: 16 << 20, Flags: ReadOnly})
	require.NoError(t, err)
	defer roEnv.Close()

	_, err = roEnv.Begin(false)
	assert.Error(t, err)
}

func TestUpdateAbortsOnError(t *testing.T) {
	env := openTestEnv(t)
	sentinel := newError(Invalid)
	err := env.Update(func(txn *Txn) error {
		require.NoError(t, txn.Put(MainDBI, []byte("a"), []byte("1"), 0))
		return sentinel
	})
	assert.Equal(t, sentinel, err)

	require.NoError(t, env.View(func(txn *Txn) error {
		_, err := txn.Get(MainDBI, []byte("a"))
		assert.True(t, IsNotFound(err))
		return nil
	}))
}
