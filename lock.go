//go:build unix

package edb

import (
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	lockMagic      uint64 = Magic<<8 | 1
	defaultMaxReaders      = 126
	readerSlotSize         = 24
	lockHeaderSize         = 64
)

// readerSlot is one entry of the reader table: {txnid, pid, thread_id}.
// A slot with txnid == 0 is free. Fields are accessed atomically since
// other processes sharing the mapping write them concurrently.
type readerSlot struct {
	txnID uint64
	pid   uint32
	tid   uint32
	_     uint64 // pad to 24 bytes, room for future per-slot diagnostics
}

type lockHeader struct {
	magic      uint64
	numReaders uint32
	_          uint32
}

// lockFile is the shared-memory reader table plus the inter-process writer
// mutex. It is mapped MAP_SHARED so every process attached to the
// environment observes the same slots.
type lockFile struct {
	file       *os.File
	data       []byte
	header     *lockHeader
	slots      []readerSlot
	maxReaders int
	writerLock bool
}

func openLockFile(path string, maxReaders int, create bool) (*lockFile, error) {
	if maxReaders <= 0 {
		maxReaders = defaultMaxReaders
	}

	flag := os.O_RDWR
	if create {
		flag |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, wrapError(Invalid, err)
	}

	lf := &lockFile{file: f, maxReaders: maxReaders}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, wrapError(Invalid, err)
	}

	expectedSize := int64(lockHeaderSize + maxReaders*readerSlotSize)
	if fi.Size() == 0 && create {
		if err := lf.initialize(expectedSize); err != nil {
			f.Close()
			return nil, err
		}
	} else if fi.Size() < expectedSize {
		f.Close()
		return nil, newError(Corrupted)
	}

	if err := lf.mmapFile(); err != nil {
		f.Close()
		return nil, err
	}

	if lf.header.magic != lockMagic {
		lf.close()
		return nil, newError(Invalid)
	}
	return lf, nil
}

func (lf *lockFile) initialize(size int64) error {
	if err := lf.file.Truncate(size); err != nil {
		return wrapError(Invalid, err)
	}
	hdr := lockHeader{magic: lockMagic}
	hdrBytes := (*[unsafe.Sizeof(lockHeader{})]byte)(unsafe.Pointer(&hdr))[:]
	if _, err := lf.file.WriteAt(hdrBytes, 0); err != nil {
		return wrapError(Invalid, err)
	}
	return lf.file.Sync()
}

func (lf *lockFile) mmapFile() error {
	fi, err := lf.file.Stat()
	if err != nil {
		return wrapError(Invalid, err)
	}
	size := int(fi.Size())
	data, err := unix.Mmap(int(lf.file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return wrapErrno(Invalid, err.(unix.Errno))
	}

	lf.data = data
	lf.header = (*lockHeader)(unsafe.Pointer(&data[0]))
	slotData := data[lockHeaderSize:]
	numSlots := len(slotData) / readerSlotSize
	if numSlots > lf.maxReaders {
		numSlots = lf.maxReaders
	}
	lf.slots = unsafe.Slice((*readerSlot)(unsafe.Pointer(&slotData[0])), numSlots)
	return nil
}

func (lf *lockFile) close() error {
	if lf.data != nil {
		if err := unix.Munmap(lf.data); err != nil {
			return wrapErrno(Invalid, err.(unix.Errno))
		}
		lf.data = nil
	}
	if lf.writerLock {
		lf.unlockWriter()
	}
	if lf.file != nil {
		return lf.file.Close()
	}
	return nil
}

// lockWriter blocks until the exclusive writer lock is held, implementing
// the single-writer rule (spec §5): only one write transaction may be in
// progress across all processes attached to the environment at a time.
func (lf *lockFile) lockWriter() error {
	if err := unix.Flock(int(lf.file.Fd()), unix.LOCK_EX); err != nil {
		return wrapErrno(Busy, err.(unix.Errno))
	}
	lf.writerLock = true
	return nil
}

func (lf *lockFile) tryLockWriter() (bool, error) {
	err := unix.Flock(int(lf.file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		if err == unix.EWOULDBLOCK {
			return false, nil
		}
		return false, wrapErrno(Busy, err.(unix.Errno))
	}
	lf.writerLock = true
	return true, nil
}

func (lf *lockFile) unlockWriter() error {
	if !lf.writerLock {
		return nil
	}
	if err := unix.Flock(int(lf.file.Fd()), unix.LOCK_UN); err != nil {
		return wrapErrno(Busy, err.(unix.Errno))
	}
	lf.writerLock = false
	return nil
}

// acquireReaderSlot scans the table for a free slot (txnid == 0), matching
// spec §4.2's description of reader-slot acquisition exactly: with at most
// 126 default slots, a linear scan is simpler and fast enough, and it
// avoids a second shared data structure (a freelist stack) that would need
// its own corruption-recovery story across crashed processes.
func (lf *lockFile) acquireReaderSlot(pid, tid uint32) (*readerSlot, int, error) {
	for i := range lf.slots {
		slot := &lf.slots[i]
		if atomic.CompareAndSwapUint64(&slot.txnID, 0, ^uint64(0)) {
			atomic.StoreUint32(&slot.pid, pid)
			atomic.StoreUint32(&slot.tid, tid)
			return slot, i, nil
		}
	}
	return nil, -1, newError(ReadersFull)
}

func (lf *lockFile) releaseReaderSlot(slot *readerSlot) {
	atomic.StoreUint32(&slot.pid, 0)
	atomic.StoreUint32(&slot.tid, 0)
	atomic.StoreUint64(&slot.txnID, 0)
}

func (lf *lockFile) setReaderTxnID(slot *readerSlot, id txnID) {
	atomic.StoreUint64(&slot.txnID, uint64(id))
}

// oldestReader scans the reader table for the lowest pinned txnID still
// in use, the snapshot visibility boundary the free-page reclamation
// policy (freelist.go) must not free pages behind (spec §4.4).
func (lf *lockFile) oldestReader() txnID {
	oldest := txnID(^uint64(0))
	for i := range lf.slots {
		v := atomic.LoadUint64(&lf.slots[i].txnID)
		if v > 0 && v != ^uint64(0) && txnID(v) < oldest {
			oldest = txnID(v)
		}
	}
	return oldest
}

// cleanupStaleReaders releases slots held by processes that no longer
// exist, recovering from an unclean process exit that skipped Txn.Abort.
func (lf *lockFile) cleanupStaleReaders() int {
	cleaned := 0
	myPID := uint32(os.Getpid())
	for i := range lf.slots {
		slot := &lf.slots[i]
		v := atomic.LoadUint64(&slot.txnID)
		if v == 0 || v == ^uint64(0) {
			continue
		}
		pid := atomic.LoadUint32(&slot.pid)
		if pid == 0 || pid == myPID {
			continue
		}
		if !processExists(int(pid)) {
			atomic.StoreUint64(&slot.txnID, 0)
			cleaned++
		}
	}
	return cleaned
}

func processExists(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
