package edb

import (
	"os"
	"time"
)

type txnState int

const (
	txnActive txnState = iota
	txnCommitted
	txnAborted
)

// Txn is a transaction: either a read-only snapshot of the database as of
// the instant it began, or the single write transaction permitted to be in
// flight at a time (spec §4.5, §5).
type Txn struct {
	env   *Env
	write bool
	id    txnID
	state txnState

	// dbs is a private, copy-on-write view of every database descriptor
	// this transaction has touched, indexed by DBI. Index 0 (FreeDBI) and
	// 1 (MainDBI) are always populated from the meta page at Begin; a
	// named sub-database's slot is populated at Begin when the Env already
	// knows its name, otherwise by OpenDB, and is re-serialized into the
	// main tree at Commit (dbiNames below).
	dbs []dbDescriptor

	// dbiNames records, for each named DBI this transaction opened or
	// created, the key its descriptor is persisted under within MainDBI.
	dbiNames map[DBI]string

	// lastPage is this transaction's private view of the highest page
	// number ever handed out; allocatePage bumps it when pghead is empty.
	lastPage pgno

	// dirty holds pages this write transaction has copied or newly
	// allocated, keyed by their (possibly just-assigned) page number.
	// A read transaction never populates this map — it only ever reads
	// through env.pageAt, which is why concurrent readers never observe
	// a writer's in-progress edits (spec §5's MVCC isolation guarantee).
	dirty map[pgno]*page
	fl    freelist

	readerSlot *readerSlot
}

// Begin starts a new transaction. Only one write transaction (readonly =
// false) may be active across the whole environment at once; Begin blocks
// until the writer lock is available.
func (env *Env) Begin(readonly bool) (*Txn, error) {
	if !readonly && env.flags&ReadOnly != 0 {
		return nil, newError(Invalid)
	}

	m, _ := env.currentMeta()
	txn := &Txn{
		env:      env,
		write:    !readonly,
		id:       m.txnID,
		dbs:      append([]dbDescriptor(nil), m.dbs[0], m.dbs[1]),
		lastPage: m.lastPage,
		dbiNames: make(map[DBI]string),
	}
	// A DBI handed out by OpenDB stays valid in later transactions.
	loadNamedDBs := func() {
		env.dbiMu.RLock()
		defer env.dbiMu.RUnlock()
		for name, dbi := range env.dbis {
			if val, err := txn.Get(MainDBI, []byte(name)); err == nil {
				txn.ensureDB(dbi, decodeDBDescriptor(val))
				txn.dbiNames[dbi] = name
			}
		}
	}

	if readonly {
		if env.lock != nil {
			slot, _, err := env.lock.acquireReaderSlot(uint32(os.Getpid()), 0)
			if err != nil {
				return nil, err
			}
			env.lock.setReaderTxnID(slot, txn.id)
			txn.readerSlot = slot
		}
		loadNamedDBs()
		return txn, nil
	}

	env.writerMu.Lock()
	if env.lock != nil {
		if err := env.lock.lockWriter(); err != nil {
			env.writerMu.Unlock()
			return nil, err
		}
	}
	// Re-read meta now that the writer lock is held: another process's
	// writer may have committed while we were waiting for the lock.
	m, _ = env.currentMeta()
	txn.id = m.txnID + 1
	txn.dbs = append([]dbDescriptor(nil), m.dbs[0], m.dbs[1])
	txn.lastPage = m.lastPage
	txn.dirty = make(map[pgno]*page)
	loadNamedDBs()
	if err := txn.loadFreePages(); err != nil {
		env.writerMu.Unlock()
		if env.lock != nil {
			env.lock.unlockWriter()
		}
		return nil, err
	}
	return txn, nil
}

// loadFreePages scans the free-page database for every committed
// transaction's page-run record, folds the records whose committing txnID
// is older than the oldest active reader's snapshot into this transaction's
// reusable-page cache (freelist.go's pghead), and removes those records
// from the free-page database since their pages are now tracked in pghead
// instead. It runs once, at the start of every write transaction (spec
// §4.4), before any of the caller's own edits.
func (txn *Txn) loadFreePages() error {
	root := txn.dbs[FreeDBI].root
	if root == invalidPgno {
		return nil
	}

	entries := make(map[txnID]idList)
	c := txn.OpenCursor(FreeDBI)
	k, v, err := c.Get(nil, nil, OpFirst)
	for err == nil {
		id := decodeTxnIDKey(k)
		pages, derr := decodeIDList(v)
		if derr != nil {
			c.Close()
			return derr
		}
		entries[id] = pages
		k, v, err = c.Get(nil, nil, OpNext)
	}
	c.Close()
	if err != nil && !IsNotFound(err) {
		return err
	}

	oldestReader := txn.env.lock.oldestReader()
	pghead, consumed := loadReclaimable(entries, oldestReader)
	txn.fl.pghead = pghead
	for _, id := range consumed {
		if err := txn.Delete(FreeDBI, encodeTxnIDKey(id), nil, 0); err != nil {
			return err
		}
	}
	return nil
}

// ensureDB grows txn.dbs so index dbi is addressable, seeding any newly
// created slot with desc.
func (txn *Txn) ensureDB(dbi DBI, desc dbDescriptor) {
	for DBI(len(txn.dbs)) <= dbi {
		txn.dbs = append(txn.dbs, dbDescriptor{root: invalidPgno})
	}
	txn.dbs[dbi] = desc
}

// OpenDB returns the handle for the named sub-database, creating it (as an
// empty database rooted in the main tree under key name) when flags has
// DBCreate set and no such database yet exists. name == "" returns MainDBI.
func (txn *Txn) OpenDB(name string, flags uint) (DBI, error) {
	if name == "" {
		return MainDBI, nil
	}
	env := txn.env

	env.dbiMu.RLock()
	dbi, known := env.dbis[name]
	env.dbiMu.RUnlock()

	if known {
		if int(dbi) >= len(txn.dbs) || txn.dbiNames[dbi] == "" {
			val, err := txn.Get(MainDBI, []byte(name))
			if err != nil {
				return 0, err
			}
			txn.ensureDB(dbi, decodeDBDescriptor(val))
			if txn.dbiNames == nil {
				txn.dbiNames = make(map[DBI]string)
			}
			txn.dbiNames[dbi] = name
		}
		return dbi, nil
	}

	val, err := txn.Get(MainDBI, []byte(name))
	var desc dbDescriptor
	isNew := false
	switch {
	case err == nil:
		desc = decodeDBDescriptor(val)
	case IsNotFound(err) && flags&DBCreate != 0:
		if !txn.write {
			return 0, newError(Invalid)
		}
		desc = dbDescriptor{root: invalidPgno, flags: uint16(flags)}
		isNew = true
	default:
		return 0, err
	}

	env.dbiMu.Lock()
	dbi, known = env.dbis[name]
	if !known {
		dbi = DBI(env.nextDBI)
		env.nextDBI++
		env.dbis[name] = dbi
		env.dbiTbl = append(env.dbiTbl, dbiInfo{name: name, flags: flags, desc: desc})
	}
	env.dbiMu.Unlock()

	txn.ensureDB(dbi, desc)
	if txn.dbiNames == nil {
		txn.dbiNames = make(map[DBI]string)
	}
	txn.dbiNames[dbi] = name

	if isNew {
		if err := txn.Put(MainDBI, []byte(name), encodeDBDescriptor(desc), 0); err != nil {
			return 0, err
		}
	}
	return dbi, nil
}

// allocatePage returns a fresh page number for new content, first
// preferring a page freed by an already-committed transaction no reader
// can still see (freelist.go), falling back to extending the file.
func (txn *Txn) allocatePage() pgno {
	return txn.fl.allocate(&txn.lastPage)
}

// touch returns a private, mutable copy of the page at p, allocating it a
// fresh page number and marking the original free — the copy-on-write step
// every B+tree mutation performs before editing a page, so concurrent
// readers pinned to an older snapshot keep seeing the original bytes
// (spec §4.6 "touch"). Calling touch with a page number it already returned
// in this transaction (a dirty page) returns that same copy; calling it
// again with the original page number makes another copy.
func (txn *Txn) touch(p pgno) (*page, pgno) {
	if cp, ok := txn.dirty[p]; ok {
		return cp, p
	}
	src := txn.env.pageAt(p)
	newPgno := txn.allocatePage()
	buf := make([]byte, txn.env.pageSize)
	copy(buf, src.data)
	np := &page{data: buf}
	np.header().pgno = newPgno
	txn.dirty[newPgno] = np
	if p >= MinPageNo {
		txn.fl.free(p)
	}
	return np, newPgno
}

// newDirtyPage allocates and zero-initializes a brand-new page (used when
// growing the tree rather than copying an existing page).
func (txn *Txn) newDirtyPage(flags PageFlags) (*page, pgno) {
	newPgno := txn.allocatePage()
	buf := make([]byte, txn.env.pageSize)
	initPage(buf, newPgno, flags, txn.env.pageSize)
	np := &page{data: buf}
	txn.dirty[newPgno] = np
	return np, newPgno
}

// pageFor returns the page at p, preferring this transaction's dirty copy
// if one exists.
func (txn *Txn) pageFor(p pgno) *page {
	if txn.dirty != nil {
		if cp, ok := txn.dirty[p]; ok {
			return cp
		}
	}
	return txn.env.pageAt(p)
}

// root returns the current root page of the named database.
func (txn *Txn) root(dbi DBI) pgno {
	return txn.dbs[dbi].root
}

// Commit persists all of this write transaction's dirty pages and
// publishes them as the new current snapshot (spec §4.8):
//  1. the free-page database is updated with this commit's page-run record
//     and with entries consumed by reclamation removed,
//  2. every dirty page is written to the data file in contiguous batches
//     of up to commitBatchPages pages (scatter-gather),
//  3. the data file is fsynced (skipped when the environment has NoSync),
//  4. the *other* meta page (the one not currently active) is overwritten
//     with this commit's state and fsynced,
//  5. metaToggle is flipped, publishing the commit, and the writer lock is
//     released.
func (txn *Txn) Commit() error {
	if txn.state != txnActive {
		return newError(BadTxn)
	}
	if !txn.write {
		return txn.Abort()
	}
	start := time.Now()
	defer txn.env.writerMu.Unlock()
	if txn.env.lock != nil {
		defer txn.env.lock.unlockWriter()
	}

	_, activeIdx := txn.env.currentMeta()

	// Re-serialize any named sub-database this transaction touched back
	// into its value slot within MainDBI before computing the final tree
	// shape below — a named DB's descriptor lives in the main tree, not
	// directly in the meta page, so this has to happen before nm.dbs is
	// populated from txn.dbs[MainDBI].
	for dbi, name := range txn.dbiNames {
		if err := txn.Put(MainDBI, []byte(name), encodeDBDescriptor(txn.dbs[dbi]), 0); err != nil {
			return err
		}
	}

	// Persist this commit's freed-page record under FreeDBI, keyed by this
	// transaction's id, so a future write transaction's loadFreePages can
	// fold it into pghead once no reader can still observe these pages.
	// Any pghead entries this transaction pulled in but never consumed are
	// folded back in here too, rather than written back under the original
	// committing txnID spec §4.4 names — conservative in that it only
	// delays their eligibility for reclamation, never allows premature
	// reuse, since they're recorded under this, the newest, commit.
	leftover := txn.fl.pghead.union(txn.fl.pendingFree)
	if len(leftover) > 0 {
		if err := txn.Put(FreeDBI, encodeTxnIDKey(txn.id), encodeIDList(leftover), 0); err != nil {
			return err
		}
	}

	if err := txn.flushDirty(); err != nil {
		return err
	}
	if txn.env.flags&NoSync == 0 {
		if err := txn.env.dataFile.Sync(); err != nil {
			return wrapError(Invalid, err)
		}
	}

	inactiveIdx := 1 - activeIdx
	pageSize := txn.env.pageSize
	buf := make([]byte, pageSize)
	initPage(buf, inactiveIdx, PageMeta, pageSize)
	nm := metaView(buf)
	nm.magic = Magic
	nm.version = Version
	nm.pageSize = uint32(pageSize)
	nm.mapSize = txn.env.mapSize
	nm.dbs[FreeDBI] = txn.dbs[FreeDBI]
	nm.dbs[MainDBI] = txn.dbs[MainDBI]
	nm.lastPage = txn.lastPage
	nm.txnID = txn.id

	metaOff := int64(int(inactiveIdx) * pageSize)
	if err := writeAtFull(txn.env.dataFile, buf, metaOff); err != nil {
		return wrapError(Invalid, err)
	}
	if txn.env.flags&NoSync == 0 {
		if err := txn.env.dataFile.Sync(); err != nil {
			return wrapError(Invalid, err)
		}
	}

	txn.env.metaToggle = uint32(inactiveIdx)
	txn.state = txnCommitted

	logCommit(txn.env.logger, txn.id, len(txn.dirty), time.Since(start))
	return nil
}

// flushDirty writes every dirty page to the data file with pwrite
// (os.File.WriteAt), never through the mapping — the data file is mapped
// PROT_READ only (env.go), so a writer never touches it directly and a
// concurrent reader's mapping can never observe a torn page. Grouping dirty
// pages into contiguous runs (up to commitBatchPages at a time) and issuing
// one WriteAt per run keeps this a scatter-gather write rather than one
// syscall per page, mirroring the batching spec §4.8 describes.
func (txn *Txn) flushDirty() error {
	if len(txn.dirty) == 0 {
		return nil
	}
	pages := make([]pgno, 0, len(txn.dirty))
	for p := range txn.dirty {
		pages = append(pages, p)
	}
	sortPgnos(pages)

	pageSize := txn.env.pageSize
	i := 0
	for i < len(pages) {
		j := i + 1
		for j < len(pages) && j-i < commitBatchPages && pages[j] == pages[j-1]+1 {
			j++
		}
		batch := make([]byte, (j-i)*pageSize)
		for k := i; k < j; k++ {
			copy(batch[(k-i)*pageSize:], txn.dirty[pages[k]].data)
		}
		off := int64(pages[i]) * int64(pageSize)
		if err := writeAtFull(txn.env.dataFile, batch, off); err != nil {
			return wrapError(Invalid, err)
		}
		i = j
	}
	return nil
}

// writeAtFull calls f.WriteAt repeatedly until every byte of buf has been
// written at off, since WriteAt is not guaranteed to write the whole buffer
// in one call even though it reports an error when it doesn't.
func writeAtFull(f *os.File, buf []byte, off int64) error {
	for len(buf) > 0 {
		n, err := f.WriteAt(buf, off)
		if err != nil {
			return err
		}
		buf = buf[n:]
		off += int64(n)
	}
	return nil
}

func sortPgnos(p []pgno) {
	for i := 1; i < len(p); i++ {
		for j := i; j > 0 && p[j-1] > p[j]; j-- {
			p[j-1], p[j] = p[j], p[j-1]
		}
	}
}

// Abort discards a write transaction's dirty pages (they were never
// published, so simply forgetting them is enough) or releases a read
// transaction's reader-table slot.
func (txn *Txn) Abort() error {
	if txn.state != txnActive {
		return nil
	}
	txn.state = txnAborted

	if txn.write {
		txn.dirty = nil
		txn.env.writerMu.Unlock()
		if txn.env.lock != nil {
			txn.env.lock.unlockWriter()
		}
		return nil
	}

	if txn.readerSlot != nil {
		txn.env.lock.releaseReaderSlot(txn.readerSlot)
	}
	return nil
}
