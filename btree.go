package edb

import "sort"

// btreeFrame is one level of the root-to-leaf path walked by search, kept so
// insert/delete can copy-on-write and rebalance back up the tree without a
// second descent.
type btreeFrame struct {
	pgno pgno
	idx  int // index of the node on this page that leads to the next frame
}

// treeRef names the tree a B+tree mutation works against: either a
// top-level sub-database's descriptor (a pointer into txn.dbs, mutated in
// place) or, for a DUPSORT key, a decoded, stack-local copy of its
// duplicate-value sub-tree descriptor (dupsort.go re-embeds it into the
// owning leaf node's value bytes once the operation returns). Every
// split/merge/rebalance primitive below is written against this pair so the
// same machinery serves both trees.
type treeRef struct {
	desc *dbDescriptor
	cmp  comparator
}

// dbRef builds the treeRef for a top-level sub-database.
func (txn *Txn) dbRef(dbi DBI) *treeRef {
	d := &txn.dbs[dbi]
	return &treeRef{desc: d, cmp: keyComparator(uint(d.flags))}
}

// searchPage binary-searches a single branch or leaf page for key using cmp,
// returning the index of the first node whose key is >= key, and whether
// that node's key is an exact match.
func searchPage(p *page, key []byte, cmp comparator) (idx int, exact bool) {
	n := p.numEntries()
	i := sort.Search(n, func(i int) bool {
		return cmp(p.nodeAt(i).key(), key) >= 0
	})
	if i < n && cmp(p.nodeAt(i).key(), key) == 0 {
		return i, true
	}
	return i, false
}

// descend walks from ref's root to the leaf that would contain key,
// recording the path taken. On a branch page, descend follows the child of
// the last node whose key is <= the search key (the node at idx-1, or node
// 0 if key is less than every separator), so the key of node 0 never
// steers the search.
func (txn *Txn) descend(ref *treeRef, key []byte) (leaf *page, leafIdx int, exact bool, path []btreeFrame, err error) {
	root := ref.desc.root
	if root == invalidPgno {
		return nil, 0, false, nil, newError(NotFound)
	}

	p := txn.pageFor(root)
	for {
		idx, ex := searchPage(p, key, ref.cmp)
		if p.isLeaf() {
			return p, idx, ex, path, nil
		}
		childIdx := idx
		if !ex && idx > 0 {
			childIdx = idx - 1
		}
		if p.numEntries() == 0 {
			return nil, 0, false, nil, newError(Corrupted)
		}
		path = append(path, btreeFrame{pgno: p.pageNo(), idx: childIdx})
		p = txn.pageFor(p.nodeAt(childIdx).childPgno())
	}
}

// leftmostKey returns the smallest key stored in ref's tree.
func (txn *Txn) leftmostKey(ref *treeRef) ([]byte, error) {
	if ref.desc.root == invalidPgno {
		return nil, newError(NotFound)
	}
	p := txn.pageFor(ref.desc.root)
	for {
		if p.numEntries() == 0 {
			return nil, newError(Corrupted)
		}
		if p.isLeaf() {
			return append([]byte(nil), p.nodeAt(0).key()...), nil
		}
		p = txn.pageFor(p.nodeAt(0).childPgno())
	}
}

// replaceBranchChild rewrites the idx'th branch node's child pointer in
// place. The node's total size never changes (the child pointer occupies a
// fixed-width header field), so this is always safe without a
// remove/insert cycle.
func replaceBranchChild(p *page, idx int, child pgno) {
	p.nodeAt(idx).header().dataSizeOrChildPgno = uint32(child)
}

// descendForWrite is descend's copy-on-write counterpart: every page from
// the root down to the returned leaf is touched (so the caller may mutate
// it directly), and each ancestor's child pointer is fixed up immediately
// after its child is touched, so no page ever points at a pgno the
// transaction has already superseded. path entries record each ancestor's
// already-touched (current) pgno. ref.desc.root is updated in place.
func (txn *Txn) descendForWrite(ref *treeRef, key []byte) (leaf *page, leafPgno pgno, idx int, exact bool, path []btreeFrame, err error) {
	d := ref.desc
	if d.root == invalidPgno {
		return nil, 0, 0, false, nil, newError(NotFound)
	}

	p, pno := txn.touch(d.root)
	d.root = pno

	for {
		i, ex := searchPage(p, key, ref.cmp)
		if p.isLeaf() {
			return p, pno, i, ex, path, nil
		}
		childIdx := i
		if !ex && i > 0 {
			childIdx = i - 1
		}
		if p.numEntries() == 0 {
			return nil, 0, 0, false, nil, newError(Corrupted)
		}
		childPgno := p.nodeAt(childIdx).childPgno()
		cp, newChildPgno := txn.touch(childPgno)
		if newChildPgno != childPgno {
			replaceBranchChild(p, childIdx, newChildPgno)
		}
		path = append(path, btreeFrame{pgno: pno, idx: childIdx})
		p, pno = cp, newChildPgno
	}
}

// Get looks up key in dbi, following overflow pages if the value is big and
// returning the first duplicate value when dbi is a DUPSORT database
// (spec's Open Question on plain Get against a sorted-duplicate database).
func (txn *Txn) Get(dbi DBI, key []byte) ([]byte, error) {
	ref := txn.dbRef(dbi)
	leaf, idx, exact, _, err := txn.descend(ref, key)
	if err != nil {
		return nil, err
	}
	if !exact {
		return nil, newError(NotFound)
	}
	nd := leaf.nodeAt(idx)
	if nd.flags()&NodeDup != 0 {
		desc := decodeDBDescriptor(nd.value())
		return txn.leftmostKey(&treeRef{desc: &desc, cmp: dupComparator(uint(txn.dbs[dbi].flags))})
	}
	if nd.flags()&NodeBig != 0 {
		return txn.readOverflow(nd.overflowPgno(), nd.dataSize())
	}
	out := make([]byte, len(nd.value()))
	copy(out, nd.value())
	return out, nil
}

// Count returns the number of duplicate values stored under key in a
// DUPSORT database, or 1 if dbi is not DUPSORT and key exists.
func (txn *Txn) Count(dbi DBI, key []byte) (uint64, error) {
	ref := txn.dbRef(dbi)
	leaf, idx, exact, _, err := txn.descend(ref, key)
	if err != nil {
		return 0, err
	}
	if !exact {
		return 0, newError(NotFound)
	}
	nd := leaf.nodeAt(idx)
	if nd.flags()&NodeDup != 0 {
		desc := decodeDBDescriptor(nd.value())
		return desc.entries, nil
	}
	return 1, nil
}

// readOverflow reassembles a big value stored across ceil(size/pageBody)
// overflow pages.
func (txn *Txn) readOverflow(first pgno, size int) ([]byte, error) {
	out := make([]byte, 0, size)
	body := txn.env.pageSize - PageHeaderSize
	p := first
	for len(out) < size {
		op := txn.pageFor(p)
		if !op.isOverflow() {
			return nil, newError(Corrupted)
		}
		n := size - len(out)
		if n > body {
			n = body
		}
		out = append(out, op.data[PageHeaderSize:PageHeaderSize+n]...)
		p++
	}
	return out, nil
}

// writeOverflow allocates and fills enough overflow pages to hold val,
// returning the first page number.
func (txn *Txn) writeOverflow(val []byte) (pgno, error) {
	body := txn.env.pageSize - PageHeaderSize
	numPages := (len(val) + body - 1) / body
	if numPages == 0 {
		numPages = 1
	}
	var first pgno
	off := 0
	for i := 0; i < numPages; i++ {
		op, pno := txn.newDirtyPage(PageOverflow)
		if i == 0 {
			first = pno
		}
		op.setOverflowPages(uint32(numPages - i))
		n := len(val) - off
		if n > body {
			n = body
		}
		copy(op.data[PageHeaderSize:PageHeaderSize+n], val[off:off+n])
		off += n
	}
	return first, nil
}

func (txn *Txn) freeOverflow(first pgno, size int) {
	body := txn.env.pageSize - PageHeaderSize
	numPages := (size + body - 1) / body
	if numPages == 0 {
		numPages = 1
	}
	for i := 0; i < numPages; i++ {
		txn.fl.free(first + pgno(i))
	}
}

// Put inserts or updates key/val in dbi according to flags (Upsert,
// NoOverwrite, NoDupData). Append is accepted but has no effect: the key
// is always placed by a search from the root. DUPSORT databases recurse into
// dupPut, which layers a duplicate-value sub-tree on top of the same
// descend/split/rebalance primitives used here (dupsort.go).
func (txn *Txn) Put(dbi DBI, key, val []byte, flags uint) error {
	if len(key) == 0 || len(key) > MaxKeySize {
		return newError(BadValSize)
	}
	if uint(txn.dbs[dbi].flags)&DupSort != 0 {
		return txn.dupPut(dbi, key, val, flags)
	}
	ref := txn.dbRef(dbi)
	return txn.putLeaf(ref, key, flags, func() ([]byte, error) {
		return txn.buildLeafNode(key, val)
	})
}

func (txn *Txn) buildLeafNode(key, val []byte) ([]byte, error) {
	if len(val) > overflowThreshold {
		first, err := txn.writeOverflow(val)
		if err != nil {
			return nil, err
		}
		return encodeBigNode(key, first, len(val)), nil
	}
	return encodeLeafNode(key, val, 0), nil
}

// putLeaf is Put's tree-mutation core, parameterized over which tree (ref)
// to mutate and how to encode the replacement node — shared by the
// top-level Put path and, via dupsort.go, by inserting a duplicate value
// into a key's sub-tree.
func (txn *Txn) putLeaf(ref *treeRef, key []byte, flags uint, encode func() ([]byte, error)) error {
	d := ref.desc
	if d.root == invalidPgno {
		nodeData, err := encode()
		if err != nil {
			return err
		}
		return txn.createRoot(ref, nodeData)
	}

	leaf, leafPgno, idx, exact, path, err := txn.descendForWrite(ref, key)
	if err != nil {
		return err
	}

	if exact {
		if flags&NoOverwrite != 0 {
			return newError(KeyExist)
		}
		old := leaf.nodeAt(idx)
		if old.flags()&NodeBig != 0 {
			txn.freeOverflow(old.overflowPgno(), old.dataSize())
		}
		leaf.removeEntry(idx)
		d.entries--
	}

	nodeData, err := encode()
	if err != nil {
		return err
	}

	if leaf.insertEntry(idx, nodeData) {
		d.entries++
		txn.updateAncestorKeys(ref, path, key, idx == 0)
		return nil
	}
	return txn.splitAndInsert(ref, leaf, leafPgno, idx, nodeData, path, func() { d.entries++ })
}

// createRoot builds the very first leaf page of an empty tree.
func (txn *Txn) createRoot(ref *treeRef, nodeData []byte) error {
	p, pno := txn.newDirtyPage(PageLeaf)
	if !p.insertEntry(0, nodeData) {
		return newError(MapFull)
	}
	d := ref.desc
	d.root = pno
	d.leafPages = 1
	d.entries = 1
	d.depth = 1
	return nil
}

// updateAncestorKeys fixes up a branch ancestor's separator key after a leaf
// insert changed its own smallest key (only needed when idx == 0, i.e. the
// new/updated node is now the leaf's first entry).
func (txn *Txn) updateAncestorKeys(ref *treeRef, path []btreeFrame, key []byte, firstChanged bool) {
	if !firstChanged || len(path) == 0 {
		return
	}
	for i := len(path) - 1; i >= 0; i-- {
		frame := path[i]
		bp, _ := txn.touch(frame.pgno)
		if frame.idx != 0 {
			old := bp.nodeAt(frame.idx)
			if ref.cmp(old.key(), key) == 0 {
				return
			}
			replaceBranchKey(bp, frame.idx, key)
			return
		}
		replaceBranchKey(bp, 0, key)
		// idx 0 on this level means this level's own first key also
		// changed; keep walking up.
	}
}

// replaceBranchKey rewrites the idx'th branch node's key in place when the
// new key has the same length as the old one, or by remove+insert otherwise.
func replaceBranchKey(p *page, idx int, key []byte) {
	old := p.nodeAt(idx)
	child := old.childPgno()
	if len(key) == len(old.key()) {
		copy(old.key(), key)
		return
	}
	p.removeEntry(idx)
	p.insertEntry(idx, encodeBranchNode(key, child))
}

// splitAndInsert handles a leaf or branch page that didn't have room for
// nodeData: it splits the page in two using splitPoint's append-aware
// heuristic, places nodeData on whichever half it belongs to, and inserts a
// separator for the new right page into the parent (recursing into another
// split if the parent is itself full).
func (txn *Txn) splitAndInsert(ref *treeRef, p *page, pno pgno, insertIdx int, nodeData []byte, path []btreeFrame, onLeafInsert func()) error {
	isLeaf := p.isLeaf()
	split := p.splitPoint(len(nodeData), insertIdx)

	var flags PageFlags = PageLeaf
	if !isLeaf {
		flags = PageBranch
	}
	right, rightPgno := txn.newDirtyPage(flags)

	n := p.numEntries()
	moved := make([][]byte, 0, n-split)
	for i := split; i < n; i++ {
		nd := p.nodeAt(i)
		buf := make([]byte, len(nd.data))
		copy(buf, nd.data)
		moved = append(moved, buf)
	}
	for i := n - 1; i >= split; i-- {
		p.removeEntry(i)
	}
	for _, buf := range moved {
		right.insertEntry(right.numEntries(), buf)
	}

	if insertIdx < split {
		if !p.insertEntry(insertIdx, nodeData) {
			return newError(MapFull)
		}
	} else {
		if !right.insertEntry(insertIdx-split, nodeData) {
			return newError(MapFull)
		}
	}
	if isLeaf && onLeafInsert != nil {
		onLeafInsert()
	}

	d := ref.desc
	if isLeaf {
		d.leafPages++
	} else {
		d.branchPages++
	}

	sepKey := append([]byte(nil), right.nodeAt(0).key()...)
	return txn.insertIntoParent(ref, path, rightPgno, sepKey)
}

// insertIntoParent adds a separator for a freshly-split right sibling into
// the parent branch page named by the last entry of path, creating a new
// root if the split page had none (it was the root).
func (txn *Txn) insertIntoParent(ref *treeRef, path []btreeFrame, rightPgno pgno, sepKey []byte) error {
	if len(path) == 0 {
		return txn.createNewRoot(ref, sepKey, rightPgno)
	}
	frame := path[len(path)-1]
	parent, parentPgno := txn.touch(frame.pgno)
	branchData := encodeBranchNode(sepKey, rightPgno)
	insertAt := frame.idx + 1
	if parent.insertEntry(insertAt, branchData) {
		return nil
	}
	return txn.splitAndInsert(ref, parent, parentPgno, insertAt, branchData, path[:len(path)-1], nil)
}

// createNewRoot builds a fresh branch page over the two halves of a root
// page that just split, growing the tree's depth by one.
func (txn *Txn) createNewRoot(ref *treeRef, sepKey []byte, rightPgno pgno) error {
	d := ref.desc
	oldRoot := d.root
	p, pno := txn.newDirtyPage(PageBranch)
	leftKey := []byte{}
	if op := txn.pageFor(oldRoot); op.numEntries() > 0 {
		leftKey = append([]byte(nil), op.nodeAt(0).key()...)
	}
	if !p.insertEntry(0, encodeBranchNode(leftKey, oldRoot)) {
		return newError(MapFull)
	}
	if !p.insertEntry(1, encodeBranchNode(sepKey, rightPgno)) {
		return newError(MapFull)
	}
	d.root = pno
	d.branchPages++
	d.depth++
	return nil
}

// Delete removes key from dbi (every duplicate, for a DUPSORT database,
// unless val is given together with the DelDup flag — see dupDelete).
// Underfull pages are merged with an adjacent sibling when their live
// entries fill less than rebalanceFillNum/rebalanceFillDen (one quarter) of
// the page body; the root collapses by one level when it is reduced to a
// single child.
func (txn *Txn) Delete(dbi DBI, key, val []byte, flags uint) error {
	if uint(txn.dbs[dbi].flags)&DupSort != 0 {
		return txn.dupDelete(dbi, key, val, flags)
	}
	ref := txn.dbRef(dbi)
	return txn.deleteLeaf(ref, key)
}

// deleteLeaf is Delete's tree-mutation core, shared with dupsort.go for
// removing a value from a duplicate sub-tree.
func (txn *Txn) deleteLeaf(ref *treeRef, key []byte) error {
	leaf, leafPgno, idx, exact, path, err := txn.descendForWrite(ref, key)
	if err != nil {
		return err
	}
	if !exact {
		return newError(NotFound)
	}

	old := leaf.nodeAt(idx)
	if old.flags()&NodeBig != 0 {
		txn.freeOverflow(old.overflowPgno(), old.dataSize())
	}
	leaf.removeEntry(idx)

	d := ref.desc
	d.entries--

	if idx == 0 && leaf.numEntries() > 0 {
		txn.updateAncestorKeys(ref, path, leaf.nodeAt(0).key(), true)
	}

	return txn.rebalance(ref, leaf, leafPgno, path)
}

// rebalanceFillNum/rebalanceFillDen: a page whose live entries (pointer
// slots plus node bodies) fill less than this fraction of its body capacity
// is a merge candidate.
const rebalanceFillNum, rebalanceFillDen = 1, 4

func pageUnderfull(p *page, pageSize int) bool {
	n := p.numEntries()
	if n == 0 {
		return true
	}
	used := 0
	for i := 0; i < n; i++ {
		used += 2 + p.nodeSize(i)
	}
	return used*rebalanceFillDen < (pageSize-PageHeaderSize)*rebalanceFillNum
}

// rebalance walks back up path from a page that just lost an entry, merging
// it into a sibling whenever it has fallen under the fill threshold and the
// two fit on one page (entries are never borrowed from a sibling), and
// collapsing the root when it ends up with exactly one child.
func (txn *Txn) rebalance(ref *treeRef, p *page, pno pgno, path []btreeFrame) error {
	d := ref.desc

	if len(path) == 0 {
		// p is the root. An empty root leaf is fine (empty database); a
		// root branch left with a single child is replaced by that child,
		// shrinking the tree by one level.
		if !p.isLeaf() && p.numEntries() == 1 {
			d.root = p.nodeAt(0).childPgno()
			d.depth--
			txn.fl.free(pno)
			return nil
		}
		return nil
	}

	if !pageUnderfull(p, txn.env.pageSize) {
		return nil
	}

	parentFrame := path[len(path)-1]
	parent, parentPgno := txn.touch(parentFrame.pgno)
	selfIdx := parentFrame.idx

	// Prefer merging with the right sibling, falling back to the left.
	// Touching a sibling may reallocate it, so its parent pointer is fixed
	// up immediately — whether or not the merge attempt below succeeds.
	if selfIdx+1 < parent.numEntries() {
		siblingPgno := parent.nodeAt(selfIdx + 1).childPgno()
		sibling, siblingPno := txn.touch(siblingPgno)
		if siblingPno != siblingPgno {
			replaceBranchChild(parent, selfIdx+1, siblingPno)
		}
		if txn.tryMerge(p, sibling, pno, siblingPno, &d.leafPages, &d.branchPages) {
			parent.removeEntry(selfIdx + 1)
			return txn.rebalance(ref, parent, parentPgno, path[:len(path)-1])
		}
	}
	if selfIdx > 0 {
		siblingPgno := parent.nodeAt(selfIdx - 1).childPgno()
		sibling, siblingPno := txn.touch(siblingPgno)
		if siblingPno != siblingPgno {
			replaceBranchChild(parent, selfIdx-1, siblingPno)
		}
		if txn.tryMerge(sibling, p, siblingPno, pno, &d.leafPages, &d.branchPages) {
			parent.removeEntry(selfIdx)
			return txn.rebalance(ref, parent, parentPgno, path[:len(path)-1])
		}
	}
	return nil
}

// tryMerge appends right's entries onto left when they fit on one page,
// freeing right's page. Returns false (doing nothing) when they don't fit,
// leaving both pages as they were for the caller to leave unmerged.
func (txn *Txn) tryMerge(left, right *page, leftPgno, rightPgno pgno, leafPages, branchPages *pgno) bool {
	maxSpace := len(left.data) - PageHeaderSize
	used := 0
	for _, pg := range []*page{left, right} {
		for i := 0; i < pg.numEntries(); i++ {
			used += 2 + pg.nodeSize(i)
		}
	}
	if used > maxSpace {
		return false
	}
	base := left.numEntries()
	for i := 0; i < right.numEntries(); i++ {
		nd := right.nodeAt(i)
		buf := make([]byte, len(nd.data))
		copy(buf, nd.data)
		left.insertEntry(base+i, buf)
	}
	txn.fl.free(rightPgno)
	if left.isLeaf() {
		if *leafPages > 0 {
			*leafPages--
		}
	} else if *branchPages > 0 {
		*branchPages--
	}
	_ = leftPgno
	return true
}
