package edb

// dupsort.go implements sorted-duplicate databases (spec §4.6) on top of
// btree.go's treeRef-parameterized primitives: a DUPSORT key's node in the
// outer tree carries, instead of a literal value, an embedded dbDescriptor
// (NodeDup) naming a private sub-tree whose keys are the duplicate values
// (and whose values are always empty). Every sub-tree mutation runs through
// the same descend/split/merge/rebalance machinery the outer tree uses,
// against a treeRef wrapping a decoded, stack-local copy of that
// descriptor — the "temporary sub-transaction" the duplicate layer
// describes, sharing the parent write transaction's dirty-page map and
// lastPage counter but tracking its own tree shape. The updated descriptor
// is re-encoded back into the owning outer leaf node's value bytes before
// returning; since encodeDBDescriptor always produces exactly
// metaDescriptorSize bytes, this is an in-place overwrite that never
// resizes (and so never re-splits) the outer leaf.

// subRefFor decodes the duplicate sub-tree descriptor embedded in nd (which
// must carry NodeDup) into a fresh local copy and wraps it in a treeRef
// using the duplicate-value comparator for dbi.
func (txn *Txn) subRefFor(dbi DBI, nd *node) *treeRef {
	desc := decodeDBDescriptor(nd.value())
	return &treeRef{desc: &desc, cmp: dupComparator(uint(txn.dbs[dbi].flags))}
}

// newDupSubtree builds the first, single-entry duplicate sub-tree for a
// brand-new DUPSORT key.
func (txn *Txn) newDupSubtree(val []byte) (dbDescriptor, error) {
	p, pno := txn.newDirtyPage(PageLeaf)
	if !p.insertEntry(0, encodeLeafNode(val, nil, 0)) {
		return dbDescriptor{}, newError(MapFull)
	}
	return dbDescriptor{root: pno, leafPages: 1, entries: 1, depth: 1}, nil
}

// dupPut inserts (key, val) into a DUPSORT database, creating the key's
// duplicate sub-tree on first use and inserting into it thereafter.
func (txn *Txn) dupPut(dbi DBI, key, val []byte, flags uint) error {
	if len(val) == 0 || len(val) > MaxKeySize {
		return newError(BadValSize)
	}

	outerRef := txn.dbRef(dbi)
	if outerRef.desc.root == invalidPgno {
		return txn.dupCreateKey(outerRef, key, val)
	}

	leaf, leafPgno, idx, exact, path, err := txn.descendForWrite(outerRef, key)
	if err != nil {
		return err
	}

	if !exact {
		return txn.dupInsertNewKey(outerRef, leaf, leafPgno, idx, key, val, path)
	}

	if flags&NoOverwrite != 0 {
		return newError(KeyExist)
	}

	nd := leaf.nodeAt(idx)
	subRef := txn.subRefFor(dbi, nd)

	_, _, subExact, _, serr := txn.descend(subRef, val)
	if serr == nil && subExact {
		if flags&NoDupData != 0 {
			return newError(KeyExist)
		}
		return nil // identical (key, val) pair already present: no-op
	}
	if serr != nil && !IsNotFound(serr) {
		return serr
	}

	if err := txn.putLeaf(subRef, val, 0, func() ([]byte, error) {
		return encodeLeafNode(val, nil, 0), nil
	}); err != nil {
		return err
	}

	copy(nd.value(), encodeDBDescriptor(*subRef.desc))
	return nil
}

// dupInsertNewKey adds a brand-new DUPSORT key (not yet present) carrying a
// freshly built single-entry duplicate sub-tree.
func (txn *Txn) dupInsertNewKey(outerRef *treeRef, leaf *page, leafPgno pgno, idx int, key, val []byte, path []btreeFrame) error {
	desc, err := txn.newDupSubtree(val)
	if err != nil {
		return err
	}
	nodeData := encodeLeafNode(key, encodeDBDescriptor(desc), NodeDup)
	if leaf.insertEntry(idx, nodeData) {
		outerRef.desc.entries++
		txn.updateAncestorKeys(outerRef, path, key, idx == 0)
		return nil
	}
	return txn.splitAndInsert(outerRef, leaf, leafPgno, idx, nodeData, path, func() { outerRef.desc.entries++ })
}

// dupCreateKey builds the very first key of an empty DUPSORT database.
func (txn *Txn) dupCreateKey(outerRef *treeRef, key, val []byte) error {
	desc, err := txn.newDupSubtree(val)
	if err != nil {
		return err
	}
	nodeData := encodeLeafNode(key, encodeDBDescriptor(desc), NodeDup)
	return txn.createRoot(outerRef, nodeData)
}

// dupDelete removes from a DUPSORT database either a single duplicate value
// (val given with the DelDup flag) or the key and every one of its
// duplicates (val omitted, or DelDup not set).
func (txn *Txn) dupDelete(dbi DBI, key, val []byte, flags uint) error {
	outerRef := txn.dbRef(dbi)
	leaf, leafPgno, idx, exact, path, err := txn.descendForWrite(outerRef, key)
	if err != nil {
		return err
	}
	if !exact {
		return newError(NotFound)
	}

	if len(val) > 0 && flags&DelDup != 0 {
		nd := leaf.nodeAt(idx)
		subRef := txn.subRefFor(dbi, nd)
		if err := txn.deleteLeaf(subRef, val); err != nil {
			return err
		}
		if subRef.desc.entries == 0 {
			return txn.dupRemoveKey(outerRef, leaf, leafPgno, idx, path)
		}
		copy(nd.value(), encodeDBDescriptor(*subRef.desc))
		return nil
	}

	return txn.dupRemoveKey(outerRef, leaf, leafPgno, idx, path)
}

// dupRemoveKey drops a DUPSORT key and its entire duplicate sub-tree from
// the outer tree.
func (txn *Txn) dupRemoveKey(outerRef *treeRef, leaf *page, leafPgno pgno, idx int, path []btreeFrame) error {
	leaf.removeEntry(idx)
	outerRef.desc.entries--
	if idx == 0 && leaf.numEntries() > 0 {
		txn.updateAncestorKeys(outerRef, path, leaf.nodeAt(0).key(), true)
	}
	return txn.rebalance(outerRef, leaf, leafPgno, path)
}
