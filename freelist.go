package edb

import "encoding/binary"

// encodeTxnIDKey encodes id as the FreeDBI key its freed-page run list is
// stored under at commit. Unlike the other integers in the on-disk format
// (host byte order, or little-endian through binary.go's helpers) this one
// deliberately uses big-endian: FreeDBI
// is an ordinary byte-lexicographic database with no dedicated integer-key
// comparator, so only a big-endian encoding makes key order match commit
// order, which loadFreePages relies on when it scans for reclaimable runs.
func encodeTxnIDKey(id txnID) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

// decodeTxnIDKey is the inverse of encodeTxnIDKey.
func decodeTxnIDKey(buf []byte) txnID {
	return txnID(binary.BigEndian.Uint64(buf))
}

// freelist tracks, for a single write transaction, the pages it has freed
// (pendingFree) and the in-memory cache of reusable page numbers pulled
// from the free-page database (pghead) that the allocator draws from
// before ever bumping lastPage.
//
// Persistence model: at commit, the write transaction's pendingFree list is
// itself written into the free-page database under a key of its own
// txnID (encodeIDList/decodeIDList, idlist.go). Readers never see these
// pages reused until every reader that could still observe them has moved
// on — that's the oldestReader check in loadReclaimable below, grounded on
// mdb.c's mdb_page_alloc oldest-reader gate and the free-page database's
// structure (keyed by committing txnID, values are page-run lists).
type freelist struct {
	pghead      idList // pages available for immediate reuse
	pendingFree idList // pages this txn has freed, to persist at commit
}

// allocate returns a page number for new content. It first tries to reuse
// a page from pghead (refilled by loadReclaimable) whose freeing
// transaction committed strictly before the oldest active reader's
// snapshot — reusing it any earlier would let that reader observe pages
// mutated out from under its snapshot, violating the MVCC isolation the
// reader-table protocol (lock.go) exists to provide. Failing that, it
// bumps lastPage.
func (fl *freelist) allocate(lastPage *pgno) pgno {
	if rest, id, ok := fl.pghead.popSmallest(); ok {
		fl.pghead = rest
		return id
	}
	*lastPage++
	return *lastPage
}

// free marks pgno as no longer referenced by the tree being built by the
// current write transaction. It is not reusable until this transaction
// commits and no earlier reader can still see it.
func (fl *freelist) free(p pgno) {
	fl.pendingFree = fl.pendingFree.insert(p)
}

// loadReclaimable scans the free-page database for every committed
// transaction's page-run record whose txnID is older than oldestReader,
// folding their page lists into pghead so they become available to
// allocate. consumed holds the keys that should now be deleted from
// the free-page database, since their pages have been handed to pghead
// and the record itself is no longer needed.
func loadReclaimable(entries map[txnID]idList, oldestReader txnID) (pghead idList, consumed []txnID) {
	for id, pages := range entries {
		if id >= oldestReader {
			continue
		}
		pghead = pghead.union(pages)
		consumed = append(consumed, id)
	}
	return pghead, consumed
}
