package edb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetDeleteRoundTrip(t *testing.T) {
	env := openTestEnv(t)

	require.NoError(t, env.Update(func(txn *Txn) error {
		return txn.Put(MainDBI, []byte("foo"), []byte("bar"), 0)
	}))

	require.NoError(t, env.View(func(txn *Txn) error {
		v, err := txn.Get(MainDBI, []byte("foo"))
		require.NoError(t, err)
		assert.Equal(t, []byte("bar"), v)
		return nil
	}))

	require.NoError(t, env.Update(func(txn *Txn) error {
		return txn.Delete(MainDBI, []byte("foo"), nil, 0)
	}))

	require.NoError(t, env.View(func(txn *Txn) error {
		_, err := txn.Get(MainDBI, []byte("foo"))
		assert.True(t, IsNotFound(err))
		return nil
	}))
}

func TestPutNoOverwriteRejectsExistingKey(t *testing.T) {
	env := openTestEnv(t)
	require.NoError(t, env.Update(func(txn *Txn) error {
		return txn.Put(MainDBI, []byte("k"), []byte("1"), 0)
	}))

	err := env.Update(func(txn *Txn) error {
		return txn.Put(MainDBI, []byte("k"), []byte("2"), NoOverwrite)
	})
	require.Error(t, err)
	assert.True(t, IsKeyExist(err))
}

func TestPutOverwritesExistingValue(t *testing.T) {
	env := openTestEnv(t)
	require.NoError(t, env.Update(func(txn *Txn) error {
		return txn.Put(MainDBI, []byte("k"), []byte("1"), 0)
	}))
	require.NoError(t, env.Update(func(txn *Txn) error {
		return txn.Put(MainDBI, []byte("k"), []byte("2"), 0)
	}))
	require.NoError(t, env.View(func(txn *Txn) error {
		v, err := txn.Get(MainDBI, []byte("k"))
		require.NoError(t, err)
		assert.Equal(t, []byte("2"), v)
		return nil
	}))
}

func TestReaderSeesSnapshotNotLaterWrites(t *testing.T) {
	env := openTestEnv(t)
	require.NoError(t, env.Update(func(txn *Txn) error {
		return txn.Put(MainDBI, []byte("k"), []byte("1"), 0)
	}))

	reader, err := env.Begin(true)
	require.NoError(t, err)
	defer reader.Abort()

	require.NoError(t, env.Update(func(txn *Txn) error {
		return txn.Put(MainDBI, []byte("k"), []byte("2"), 0)
	}))

	v, err := reader.Get(MainDBI, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v, "reader snapshot must not observe writes committed after it began")
}

func TestLargeValueUsesOverflowPages(t *testing.T) {
	env := openTestEnv(t)
	big := make([]byte, overflowThreshold*3)
	for i := range big {
		big[i] = byte(i)
	}
	require.NoError(t, env.Update(func(txn *Txn) error {
		return txn.Put(MainDBI, []byte("big"), big, 0)
	}))
	require.NoError(t, env.View(func(txn *Txn) error {
		v, err := txn.Get(MainDBI, []byte("big"))
		require.NoError(t, err)
		assert.Equal(t, big, v)
		return nil
	}))
}

func TestManyInsertsSurviveSplitsAndRemainOrdered(t *testing.T) {
	env := openTestEnv(t)
	const n = 500
	require.NoError(t, env.Update(func(txn *Txn) error {
		for i := 0; i < n; i++ {
			k := []byte{byte(i >> 8), byte(i)}
			if err := txn.Put(MainDBI, k, []byte("v"), 0); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, env.View(func(txn *Txn) error {
		for i := 0; i < n; i++ {
			k := []byte{byte(i >> 8), byte(i)}
			_, err := txn.Get(MainDBI, k)
			require.NoError(t, err)
		}

		c := txn.OpenCursor(MainDBI)
		defer c.Close()
		var prev []byte
		count := 0
		for k, _, err := c.Get(nil, nil, OpFirst); err == nil; k, _, err = c.Get(nil, nil, OpNext) {
			if prev != nil {
				assert.Less(t, compareBytes(prev, k), 0, "keys must come back in ascending order")
			}
			prev = k
			count++
		}
		assert.Equal(t, n, count)
		return nil
	}))

	stat := env.Stat()
	assert.Equal(t, uint64(n), stat.Entries)
	assert.Greater(t, stat.LeafPages, uint64(1))
}

func TestDeletesMergeUnderfullPages(t *testing.T) {
	env := openTestEnv(t)
	const n = 1000
	require.NoError(t, env.Update(func(txn *Txn) error {
		for i := 0; i < n; i++ {
			k := []byte{byte(i >> 8), byte(i)}
			if err := txn.Put(MainDBI, k, []byte("v"), 0); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, env.Update(func(txn *Txn) error {
		for i := 0; i < n-5; i++ {
			k := []byte{byte(i >> 8), byte(i)}
			if err := txn.Delete(MainDBI, k, nil, 0); err != nil {
				return err
			}
		}
		return nil
	}))

	stat := env.Stat()
	assert.Equal(t, uint64(5), stat.Entries)
	assert.Equal(t, uint64(1), stat.LeafPages, "the leaves emptied by the deletes must have been merged away")
}

func TestOpenNamedDBCreatesAndPersists(t *testing.T) {
	dir := t.TempDir()
	env, err := Open(dir, Options{MapSize: 16 << 20})
	require.NoError(t, err)

	require.NoError(t, env.Update(func(txn *Txn) error {
		dbi, err := txn.OpenDB("widgets", DBCreate)
		if err != nil {
			return err
		}
		return txn.Put(dbi, []byte("a"), []byte("1"), 0)
	}))
	require.NoError(t, env.Close())

	env2, err := Open(dir, Options{MapSize: 16 << 20})
	require.NoError(t, err)
	defer env2.Close()

	require.NoError(t, env2.View(func(txn *Txn) error {
		dbi, err := txn.OpenDB("widgets", 0)
		require.NoError(t, err)
		v, err := txn.Get(dbi, []byte("a"))
		require.NoError(t, err)
		assert.Equal(t, []byte("1"), v)
		return nil
	}))
}

func TestOpenNamedDBWithoutCreateFailsWhenMissing(t *testing.T) {
	env := openTestEnv(t)
	err := env.Update(func(txn *Txn) error {
		_, err := txn.OpenDB("missing", 0)
		return err
	})
	assert.True(t, IsNotFound(err))
}

func TestAbortDiscardsWrites(t *testing.T) {
	env := openTestEnv(t)
	txn, err := env.Begin(false)
	require.NoError(t, err)
	require.NoError(t, txn.Put(MainDBI, []byte("k"), []byte("v"), 0))
	require.NoError(t, txn.Abort())

	require.NoError(t, env.View(func(txn *Txn) error {
		_, err := txn.Get(MainDBI, []byte("k"))
		assert.True(t, IsNotFound(err))
		return nil
	}))
}

func TestCommitOnAbortedTxnFails(t *testing.T) {
	env := openTestEnv(t)
	txn, err := env.Begin(false)
	require.NoError(t, err)
	require.NoError(t, txn.Abort())
	assert.Equal(t, BadTxn, Code(txn.Commit()))
}

// TestFreePagesReclaimedAcrossCommits drives the end-to-end free-page path:
// a commit that frees pages records them under its own txnID in FreeDBI
// (Commit), and the next write transaction, seeing no active readers that
// could still pin the old snapshot, folds that record into its allocator's
// reuse pool at Begin (loadFreePages) rather than leaking the pages forever.
func TestFreePagesReclaimedAcrossCommits(t *testing.T) {
	env := openTestEnv(t)
	const n = 300

	require.NoError(t, env.Update(func(txn *Txn) error {
		for i := 0; i < n; i++ {
			k := []byte{byte(i >> 8), byte(i)}
			if err := txn.Put(MainDBI, k, []byte("v"), 0); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, env.Update(func(txn *Txn) error {
		for i := 0; i < n; i++ {
			k := []byte{byte(i >> 8), byte(i)}
			if err := txn.Delete(MainDBI, k, nil, 0); err != nil {
				return err
			}
		}
		return nil
	}))

	txn, err := env.Begin(false)
	require.NoError(t, err)
	defer txn.Abort()

	assert.NotEmpty(t, txn.fl.pghead, "a write transaction must pick up pages freed by a prior commit once no reader can still see them")

	lastPageBeforeReuse := txn.lastPage
	for i := 0; i < 5; i++ {
		k := []byte{byte(0xff), byte(i)}
		require.NoError(t, txn.Put(MainDBI, k, []byte("v"), 0))
	}
	assert.Equal(t, lastPageBeforeReuse, txn.lastPage, "allocation must prefer reclaimed pages over bumping lastPage")
}

func TestFreelistKeyRoundTrips(t *testing.T) {
	for _, id := range []txnID{0, 1, 255, 256, 1 << 40} {
		assert.Equal(t, id, decodeTxnIDKey(encodeTxnIDKey(id)))
	}
	// Big-endian encoding must sort lexicographically in numeric order,
	// since FreeDBI has no dedicated integer-key comparator.
	assert.True(t, compareBytes(encodeTxnIDKey(1), encodeTxnIDKey(2)) < 0)
	assert.True(t, compareBytes(encodeTxnIDKey(255), encodeTxnIDKey(256)) < 0)
}
