//go:build unix

package edb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLockFile(t *testing.T) *lockFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lock.mdb")
	lf, err := openLockFile(path, 4, true)
	require.NoError(t, err)
	t.Cleanup(func() { lf.close() })
	return lf
}

func TestOpenLockFileInitializesHeader(t *testing.T) {
	lf := openTestLockFile(t)
	assert.Equal(t, lockMagic, lf.header.magic)
	assert.Len(t, lf.slots, 4)
}

func TestAcquireAndReleaseReaderSlot(t *testing.T) {
	lf := openTestLockFile(t)

	slot, idx, err := lf.acquireReaderSlot(uint32(os.Getpid()), 1)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, idx, 0)
	lf.setReaderTxnID(slot, 42)
	assert.Equal(t, txnID(42), lf.oldestReader())

	lf.releaseReaderSlot(slot)
	assert.Equal(t, txnID(^uint64(0)), lf.oldestReader())
}

func TestAcquireReaderSlotFailsWhenTableFull(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock.mdb")
	lf, err := openLockFile(path, 1, true)
	require.NoError(t, err)
	defer lf.close()

	_, _, err = lf.acquireReaderSlot(uint32(os.Getpid()), 0)
	require.NoError(t, err)

	_, _, err = lf.acquireReaderSlot(uint32(os.Getpid()), 1)
	assert.Equal(t, ReadersFull, Code(err))
}

func TestOldestReaderAcrossMultipleSlots(t *testing.T) {
	lf := openTestLockFile(t)

	s1, _, err := lf.acquireReaderSlot(uint32(os.Getpid()), 1)
	require.NoError(t, err)
	lf.setReaderTxnID(s1, 10)

	s2, _, err := lf.acquireReaderSlot(uint32(os.Getpid()), 2)
	require.NoError(t, err)
	lf.setReaderTxnID(s2, 3)

	assert.Equal(t, txnID(3), lf.oldestReader())
}

func TestWriterLockExclusion(t *testing.T) {
	lf := openTestLockFile(t)
	require.NoError(t, lf.lockWriter())

	// A second handle on the same lock file must not get the writer lock
	// while lf holds it.
	f2, err := os.OpenFile(lf.file.Name(), os.O_RDWR, 0)
	require.NoError(t, err)
	defer f2.Close()
	other := &lockFile{file: f2}
	ok, err := other.tryLockWriter()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lf.unlockWriter())

	ok, err = lf.tryLockWriter()
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, lf.unlockWriter())
}

func TestCleanupStaleReadersIgnoresOwnProcess(t *testing.T) {
	lf := openTestLockFile(t)
	slot, _, err := lf.acquireReaderSlot(uint32(os.Getpid()), 0)
	require.NoError(t, err)
	lf.setReaderTxnID(slot, 1)

	cleaned := lf.cleanupStaleReaders()
	assert.Equal(t, 0, cleaned)
	assert.Equal(t, txnID(1), lf.oldestReader())
}
