package edb

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/edb-project/edb/internal/mmap"
)

// Env is a single open database environment: one data file, one lock file,
// at most one active write transaction at a time, and any number of
// concurrent read transactions (spec §4.1, §5).
type Env struct {
	path       string
	pageSize   int
	mapSize    uint64
	maxReaders int
	flags      uint

	dataFile *os.File
	dataMap  *mmap.Map
	lock     *lockFile

	// writerMu serializes Env.Update callers on top of the cross-process
	// flock held by lock.lockWriter, so two goroutines in this same
	// process queue politely instead of both blocking in the syscall.
	writerMu sync.Mutex

	// metaToggle (0 or 1) selects which of the two meta pages at the start
	// of dataMap's bytes holds the latest commit.
	metaToggle uint32

	dbis    map[string]DBI
	dbiTbl  []dbiInfo
	dbiMu   sync.RWMutex
	nextDBI uint32

	logger zerolog.Logger

	closed atomic.Bool
}

// Options configures Env.Open.
type Options struct {
	PageSize   int    // 0 selects DefaultPageSize for a new file
	MapSize    uint64 // maximum file size; required for a new file
	MaxReaders int    // 0 selects defaultMaxReaders
	Flags      uint   // FixedMap | NoSync | ReadOnly
}

// Open opens (creating if necessary) the environment rooted at dir,
// mapping dir/data.mdb and attaching dir/lock.mdb's reader table.
func Open(dir string, opts Options) (*Env, error) {
	if opts.PageSize == 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.MaxReaders == 0 {
		opts.MaxReaders = defaultMaxReaders
	}

	env := &Env{
		path:       dir,
		pageSize:   opts.PageSize,
		mapSize:    opts.MapSize,
		maxReaders: opts.MaxReaders,
		flags:      opts.Flags,
		dbis:       make(map[string]DBI),
		nextDBI:    MainDBI + 1,
		logger:     newNopLogger(),
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, wrapError(Invalid, err)
	}

	dataPath := filepath.Join(dir, DataFileName)
	dataFlag := os.O_RDWR | os.O_CREATE
	if opts.Flags&ReadOnly != 0 {
		dataFlag = os.O_RDONLY
	}
	f, err := os.OpenFile(dataPath, dataFlag, 0644)
	if err != nil {
		return nil, wrapError(Invalid, err)
	}
	env.dataFile = f

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, wrapError(Invalid, err)
	}

	if fi.Size() == 0 {
		if opts.Flags&ReadOnly != 0 {
			f.Close()
			return nil, newError(Invalid)
		}
		if err := env.initNewFile(); err != nil {
			f.Close()
			return nil, err
		}
	}

	// The data file is always mapped read-only: every write goes through
	// dataFile.WriteAt (txn.go's flushDirty and Commit), never through the
	// mapping itself. pwrite and a MAP_SHARED read-only mapping of the same
	// fd observe each other through the kernel's shared page cache, so
	// readers see a writer's pwrites without the mapping needing PROT_WRITE.
	m, err := mmap.New(int(f.Fd()), 0, int(env.mapSize), false)
	if err != nil {
		f.Close()
		return nil, wrapError(Invalid, err)
	}
	env.dataMap = m

	if err := env.readMetas(); err != nil {
		m.Close()
		f.Close()
		return nil, err
	}

	if opts.Flags&ReadOnly == 0 {
		lf, err := openLockFile(filepath.Join(dir, LockFileName), opts.MaxReaders, true)
		if err != nil {
			m.Close()
			f.Close()
			return nil, err
		}
		env.lock = lf
	}

	componentLogger(env.logger, "env").Info().Str("path", dir).Msg("environment opened")
	return env, nil
}

// initNewFile lays down the initial two meta pages of a fresh database.
func (env *Env) initNewFile() error {
	if err := env.dataFile.Truncate(int64(env.mapSize)); err != nil {
		return wrapError(Invalid, err)
	}
	buf := make([]byte, env.pageSize*NumMetas)
	initMeta(buf[0:env.pageSize], 0, env.pageSize, env.mapSize)
	initMeta(buf[env.pageSize:2*env.pageSize], 1, env.pageSize, env.mapSize)
	if _, err := env.dataFile.WriteAt(buf, 0); err != nil {
		return wrapError(Invalid, err)
	}
	return env.dataFile.Sync()
}

// readMetas validates both meta pages and records which one is current.
func (env *Env) readMetas() error {
	data := env.dataMap.Data()
	if len(data) < env.pageSize*NumMetas {
		return newError(Corrupted)
	}
	m0 := metaView(data[0:env.pageSize])
	m1 := metaView(data[env.pageSize : 2*env.pageSize])
	_, idx, err := pickMeta(m0, m1, env.pageSize)
	if err != nil {
		return err
	}
	atomic.StoreUint32(&env.metaToggle, uint32(idx))
	return nil
}

// currentMeta returns the meta page most recently committed. Call only
// while holding a consistent snapshot of metaToggle (a reader pins it at
// Txn begin; see txn.go).
func (env *Env) currentMeta() (*metaPage, pgno) {
	idx := atomic.LoadUint32(&env.metaToggle)
	data := env.dataMap.Data()
	return metaView(data[int(idx)*env.pageSize : (int(idx)+1)*env.pageSize]), pgno(idx)
}

func (env *Env) pageAt(p pgno) *page {
	off := int(p) * env.pageSize
	return &page{data: env.dataMap.Data()[off : off+env.pageSize]}
}

// SetLogger attaches a structured logger used for close and per-commit
// diagnostics (Open logs to the default logger, before SetLogger can run). The default is a no-op logger.
func (env *Env) SetLogger(l zerolog.Logger) {
	env.logger = l
}

// Close unmaps the data file and releases the reader-table attachment.
// Any transactions still open at the time of Close are left to the
// caller's discretion to have aborted first; Close does not wait for them.
func (env *Env) Close() error {
	if !env.closed.CompareAndSwap(false, true) {
		return nil
	}
	componentLogger(env.logger, "env").Info().Str("path", env.path).Msg("environment closing")

	var firstErr error
	if env.lock != nil {
		if err := env.lock.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if env.dataMap != nil {
		if err := env.dataMap.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if env.dataFile != nil {
		if err := env.dataFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stat reports page-count and depth statistics for the main database.
type Stat struct {
	BranchPages   uint64
	LeafPages     uint64
	OverflowPages uint64
	Entries       uint64
	Depth         uint16
}

// Stat reports the current statistics of the main (unnamed) database.
func (env *Env) Stat() Stat {
	m, _ := env.currentMeta()
	d := m.dbs[MainDBI]
	return Stat{
		BranchPages:   uint64(d.branchPages),
		LeafPages:     uint64(d.leafPages),
		OverflowPages: uint64(d.overflowPages),
		Entries:       d.entries,
		Depth:         d.depth,
	}
}

// Info reports environment-wide sizing and the last committed txnID.
type Info struct {
	MapSize    uint64
	PageSize   int
	LastPage   pgno
	LastTxnID  txnID
	MaxReaders int
}

func (env *Env) Info() Info {
	m, _ := env.currentMeta()
	return Info{
		MapSize:    env.mapSize,
		PageSize:   env.pageSize,
		LastPage:   m.lastPage,
		LastTxnID:  m.txnID,
		MaxReaders: env.maxReaders,
	}
}

// ReaderInfo describes one occupied reader-table slot.
type ReaderInfo struct {
	TxnID txnID
	PID   uint32
}

// ReaderList enumerates the environment's currently occupied reader slots,
// for diagnosing long-running readers that block free-page reclamation.
func (env *Env) ReaderList() []ReaderInfo {
	if env.lock == nil {
		return nil
	}
	var out []ReaderInfo
	for i := range env.lock.slots {
		v := env.lock.slots[i].txnID
		if v == 0 || v == ^uint64(0) {
			continue
		}
		out = append(out, ReaderInfo{TxnID: txnID(v), PID: env.lock.slots[i].pid})
	}
	return out
}

// View runs fn inside a read-only transaction, aborting it when fn returns.
// It is the ergonomic counterpart to the explicit Begin/Commit/Abort API
// (spec §4.5) for callers that don't need the transaction to outlive a
// single call.
func (env *Env) View(fn func(txn *Txn) error) error {
	txn, err := env.Begin(true)
	if err != nil {
		return err
	}
	defer txn.Abort()
	return fn(txn)
}

// Update runs fn inside a write transaction, committing on a nil return
// and aborting otherwise.
func (env *Env) Update(fn func(txn *Txn) error) error {
	txn, err := env.Begin(false)
	if err != nil {
		return err
	}
	if err := fn(txn); err != nil {
		txn.Abort()
		return err
	}
	return txn.Commit()
}
