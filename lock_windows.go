//go:build windows

package edb

import (
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	lockMagic      uint64 = Magic<<8 | 1
	defaultMaxReaders      = 126
	readerSlotSize         = 24
	lockHeaderSize         = 64
)

type readerSlot struct {
	txnID uint64
	pid   uint32
	tid   uint32
	_     uint64
}

type lockHeader struct {
	magic      uint64
	numReaders uint32
	_          uint32
}

// lockFile mirrors the Unix reader table, substituting LockFileEx for
// flock and a Windows file mapping for the shared memory region. Windows
// has no process-shared mmap file descriptor sharing quite like Unix's, so
// the mapping handle is kept alongside the data slice for Close to release.
type lockFile struct {
	file       *os.File
	mapping    windows.Handle
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

	if err := lf.mmapFile(expectedSize); err != nil {
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

func (lf *lockFile) mmapFile(size int64) error {
	h := windows.Handle(lf.file.Fd())
	mapping, err := windows.CreateFileMapping(h, nil, windows.PAGE_READWRITE, uint32(uint64(size)>>32), uint32(size), nil)
	if err != nil {
		return wrapError(Invalid, err)
	}
	addr, err := windows.MapViewOfFile(mapping, windows.FILE_MAP_WRITE, 0, 0, uintptr(size))
	if err != nil {
		windows.CloseHandle(mapping)
		return wrapError(Invalid, err)
	}

	var data []byte
	sh := (*struct {
		Data uintptr
		Len  int
		Cap  int
	})(unsafe.Pointer(&data))
	sh.Data = addr
	sh.Len = int(size)
	sh.Cap = int(size)

	lf.mapping = mapping
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
		windows.UnmapViewOfFile(uintptr(unsafe.Pointer(&lf.data[0])))
		lf.data = nil
	}
	if lf.mapping != 0 {
		windows.CloseHandle(lf.mapping)
		lf.mapping = 0
	}
	if lf.writerLock {
		lf.unlockWriter()
	}
	if lf.file != nil {
		return lf.file.Close()
	}
	return nil
}

func (lf *lockFile) lockWriter() error {
	ol := new(windows.Overlapped)
	if err := windows.LockFileEx(windows.Handle(lf.file.Fd()), windows.LOCKFILE_EXCLUSIVE_LOCK, 0, 1, 0, ol); err != nil {
		return wrapError(Busy, err)
	}
	lf.writerLock = true
	return nil
}

func (lf *lockFile) tryLockWriter() (bool, error) {
	ol := new(windows.Overlapped)
	flags := uint32(windows.LOCKFILE_EXCLUSIVE_LOCK | windows.LOCKFILE_FAIL_IMMEDIATELY)
	if err := windows.LockFileEx(windows.Handle(lf.file.Fd()), flags, 0, 1, 0, ol); err != nil {
		if err == windows.ERROR_LOCK_VIOLATION {
			return false, nil
		}
		return false, wrapError(Busy, err)
	}
	lf.writerLock = true
	return true, nil
}

func (lf *lockFile) unlockWriter() error {
	if !lf.writerLock {
		return nil
	}
	ol := new(windows.Overlapped)
	if err := windows.UnlockFileEx(windows.Handle(lf.file.Fd()), 0, 1, 0, ol); err != nil {
		return wrapError(Busy, err)
	}
	lf.writerLock = false
	return nil
}

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
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	windows.CloseHandle(h)
	return true
}
