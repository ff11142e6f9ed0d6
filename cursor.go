package edb

// CursorOp selects the positioning operation for Cursor.Get, mirroring the
// fixed set of moves the external API exposes (spec §4.7), including the
// DUPSORT-only moves over a key's duplicate values.
type CursorOp uint

const (
	OpFirst CursorOp = iota
	OpLast
	OpNext
	OpPrev
	OpSet
	OpSetRange
	OpGetCurrent
	OpNextDup
	OpPrevDup
	OpNextNoDup
	OpPrevNoDup
	OpGetBoth
	OpGetBothRange
)

// cursorFrame is one level of the stack a Cursor keeps while positioned:
// the page at that level, and the index of the entry currently selected.
type cursorFrame struct {
	pgno pgno
	idx  int
}

// Cursor iterates the ordered keys of one database within a single
// transaction. It holds no locks of its own — its validity is exactly the
// validity of the Txn it was opened from.
//
// Over a DUPSORT database the outer stack walks the key tree as usual,
// while subStack walks the current key's duplicate-value sub-tree
// (subDesc, decoded from the outer node whenever the outer position
// changes) — the embedded sub-cursor spec §4.7 describes. Plain Next/Prev
// advance the sub-cursor first and only climb to the next/previous outer
// key once it is exhausted; NextNoDup/PrevNoDup skip the remaining
// duplicates outright.
type Cursor struct {
	txn   *Txn
	dbi   DBI
	dup   bool
	stack []cursorFrame
	eof   bool

	subDesc  dbDescriptor
	subStack []cursorFrame
	subEOF   bool
}

// OpenCursor creates a cursor over dbi positioned before the first entry.
func (txn *Txn) OpenCursor(dbi DBI) *Cursor {
	return &Cursor{txn: txn, dbi: dbi, dup: uint(txn.dbs[dbi].flags)&DupSort != 0}
}

// Close releases the cursor's internal state. It does not affect the
// owning transaction.
func (c *Cursor) Close() {
	c.stack = nil
	c.subStack = nil
}

func (c *Cursor) topPage() *page {
	f := c.stack[len(c.stack)-1]
	return c.txn.pageFor(f.pgno)
}

func (c *Cursor) topIdx() int {
	return c.stack[len(c.stack)-1].idx
}

func (c *Cursor) subTopPage() *page {
	f := c.subStack[len(c.subStack)-1]
	return c.txn.pageFor(f.pgno)
}

func (c *Cursor) subTopIdx() int {
	return c.subStack[len(c.subStack)-1].idx
}

// Get positions the cursor according to op and returns the key/value at the
// resulting position. key and val are only consulted by the Set/SetRange
// and GetBoth/GetBothRange operations.
func (c *Cursor) Get(key, val []byte, op CursorOp) ([]byte, []byte, error) {
	switch op {
	case OpFirst:
		return c.first()
	case OpLast:
		return c.last()
	case OpNext:
		return c.next()
	case OpPrev:
		return c.prev()
	case OpSet, OpSetRange:
		return c.seek(key, op == OpSetRange)
	case OpGetCurrent:
		return c.current()
	case OpNextDup:
		return c.nextDup()
	case OpPrevDup:
		return c.prevDup()
	case OpNextNoDup:
		return c.nextNoDup()
	case OpPrevNoDup:
		return c.prevNoDup()
	case OpGetBoth:
		return c.getBoth(key, val, false)
	case OpGetBothRange:
		return c.getBoth(key, val, true)
	}
	return nil, nil, newError(Invalid)
}

func (c *Cursor) descendLeftmost(root pgno) error {
	c.stack = c.stack[:0]
	p := c.txn.pageFor(root)
	for {
		if p.numEntries() == 0 {
			c.eof = true
			return newError(NotFound)
		}
		c.stack = append(c.stack, cursorFrame{pgno: p.pageNo(), idx: 0})
		if p.isLeaf() {
			break
		}
		p = c.txn.pageFor(p.nodeAt(0).childPgno())
	}
	c.eof = false
	return nil
}

func (c *Cursor) descendRightmost(root pgno) error {
	c.stack = c.stack[:0]
	p := c.txn.pageFor(root)
	for {
		n := p.numEntries()
		if n == 0 {
			c.eof = true
			return newError(NotFound)
		}
		c.stack = append(c.stack, cursorFrame{pgno: p.pageNo(), idx: n - 1})
		if p.isLeaf() {
			break
		}
		p = c.txn.pageFor(p.nodeAt(n - 1).childPgno())
	}
	c.eof = false
	return nil
}

// loadSubForward decodes the current outer key's duplicate sub-tree and
// positions the sub-cursor at its first (smallest) value.
func (c *Cursor) loadSubForward() error {
	if !c.dup {
		return nil
	}
	nd := c.topPage().nodeAt(c.topIdx())
	c.subDesc = decodeDBDescriptor(nd.value())
	return c.subDescend(true)
}

// loadSubBackward is loadSubForward's mirror, positioning at the last
// (largest) duplicate value.
func (c *Cursor) loadSubBackward() error {
	if !c.dup {
		return nil
	}
	nd := c.topPage().nodeAt(c.topIdx())
	c.subDesc = decodeDBDescriptor(nd.value())
	return c.subDescend(false)
}

func (c *Cursor) subDescendInto(root pgno, leftmost bool) error {
	p := c.txn.pageFor(root)
	for {
		n := p.numEntries()
		if n == 0 {
			return newError(Corrupted)
		}
		idx := 0
		if !leftmost {
			idx = n - 1
		}
		c.subStack = append(c.subStack, cursorFrame{pgno: p.pageNo(), idx: idx})
		if p.isLeaf() {
			return nil
		}
		p = c.txn.pageFor(p.nodeAt(idx).childPgno())
	}
}

func (c *Cursor) subDescend(leftmost bool) error {
	c.subStack = c.subStack[:0]
	if c.subDesc.root == invalidPgno {
		c.subEOF = true
		return newError(NotFound)
	}
	if err := c.subDescendInto(c.subDesc.root, leftmost); err != nil {
		c.subEOF = true
		return err
	}
	c.subEOF = false
	return nil
}

func (c *Cursor) first() ([]byte, []byte, error) {
	root := c.txn.root(c.dbi)
	if root == invalidPgno {
		c.eof = true
		return nil, nil, newError(NotFound)
	}
	if err := c.descendLeftmost(root); err != nil {
		return nil, nil, err
	}
	if err := c.loadSubForward(); err != nil {
		return nil, nil, err
	}
	return c.current()
}

func (c *Cursor) last() ([]byte, []byte, error) {
	root := c.txn.root(c.dbi)
	if root == invalidPgno {
		c.eof = true
		return nil, nil, newError(NotFound)
	}
	if err := c.descendRightmost(root); err != nil {
		return nil, nil, err
	}
	if err := c.loadSubBackward(); err != nil {
		return nil, nil, err
	}
	return c.current()
}

func (c *Cursor) current() ([]byte, []byte, error) {
	if c.eof || len(c.stack) == 0 {
		return nil, nil, newError(NotFound)
	}
	p := c.topPage()
	nd := p.nodeAt(c.topIdx())
	key := append([]byte(nil), nd.key()...)

	if c.dup {
		if c.subEOF || len(c.subStack) == 0 {
			return nil, nil, newError(NotFound)
		}
		snd := c.subTopPage().nodeAt(c.subTopIdx())
		val := append([]byte(nil), snd.key()...)
		return key, val, nil
	}

	if nd.flags()&NodeBig != 0 {
		val, err := c.txn.readOverflow(nd.overflowPgno(), nd.dataSize())
		return key, val, err
	}
	val := append([]byte(nil), nd.value()...)
	return key, val, nil
}

// outerAdvance moves the outer stack to the next (forward) or previous
// (!forward) key, climbing the stack when the current page is exhausted
// and descending back down the neighboring branch's near path. It does not
// touch sub-cursor state.
func (c *Cursor) outerAdvance(forward bool) error {
	for len(c.stack) > 0 {
		top := &c.stack[len(c.stack)-1]
		p := c.txn.pageFor(top.pgno)
		if forward {
			if top.idx+1 < p.numEntries() {
				top.idx++
				if p.isLeaf() {
					c.eof = false
					return nil
				}
				ancestors := append([]cursorFrame(nil), c.stack...)
				err := c.descendLeftmost(p.nodeAt(top.idx).childPgno())
				c.stack = append(ancestors, c.stack...)
				return err
			}
		} else {
			if top.idx > 0 {
				top.idx--
				if p.isLeaf() {
					c.eof = false
					return nil
				}
				ancestors := append([]cursorFrame(nil), c.stack...)
				err := c.descendRightmost(p.nodeAt(top.idx).childPgno())
				c.stack = append(ancestors, c.stack...)
				return err
			}
		}
		c.stack = c.stack[:len(c.stack)-1]
	}
	c.eof = true
	return newError(NotFound)
}

// subAdvance is outerAdvance's counterpart over the duplicate-value
// sub-tree; it never touches the outer stack and reports false (leaving
// subEOF set) once the sub-tree is exhausted in the requested direction.
func (c *Cursor) subAdvance(forward bool) bool {
	for len(c.subStack) > 0 {
		top := &c.subStack[len(c.subStack)-1]
		p := c.txn.pageFor(top.pgno)
		if forward {
			if top.idx+1 < p.numEntries() {
				top.idx++
				if p.isLeaf() {
					c.subEOF = false
					return true
				}
				if err := c.subDescendInto(p.nodeAt(top.idx).childPgno(), true); err != nil {
					c.subEOF = true
					return false
				}
				return true
			}
		} else {
			if top.idx > 0 {
				top.idx--
				if p.isLeaf() {
					c.subEOF = false
					return true
				}
				if err := c.subDescendInto(p.nodeAt(top.idx).childPgno(), false); err != nil {
					c.subEOF = true
					return false
				}
				return true
			}
		}
		c.subStack = c.subStack[:len(c.subStack)-1]
	}
	c.subEOF = true
	return false
}

// next advances to the following (key, value) pair. Over a DUPSORT
// database this means the next duplicate of the current key if one
// remains, otherwise the next key's first duplicate.
func (c *Cursor) next() ([]byte, []byte, error) {
	if len(c.stack) == 0 {
		return c.first()
	}
	if c.dup && c.subAdvance(true) {
		return c.current()
	}
	if err := c.outerAdvance(true); err != nil {
		return nil, nil, err
	}
	if err := c.loadSubForward(); err != nil {
		return nil, nil, err
	}
	return c.current()
}

// prev is next's mirror image.
func (c *Cursor) prev() ([]byte, []byte, error) {
	if len(c.stack) == 0 {
		return c.last()
	}
	if c.dup && c.subAdvance(false) {
		return c.current()
	}
	if err := c.outerAdvance(false); err != nil {
		return nil, nil, err
	}
	if err := c.loadSubBackward(); err != nil {
		return nil, nil, err
	}
	return c.current()
}

// nextDup/prevDup move within the current key's duplicates only, reporting
// NotFound without moving to a different key once they run out.
func (c *Cursor) nextDup() ([]byte, []byte, error) {
	if !c.dup || len(c.stack) == 0 {
		return nil, nil, newError(Invalid)
	}
	if !c.subAdvance(true) {
		return nil, nil, newError(NotFound)
	}
	return c.current()
}

func (c *Cursor) prevDup() ([]byte, []byte, error) {
	if !c.dup || len(c.stack) == 0 {
		return nil, nil, newError(Invalid)
	}
	if !c.subAdvance(false) {
		return nil, nil, newError(NotFound)
	}
	return c.current()
}

// nextNoDup/prevNoDup move to the next/previous distinct key, ignoring any
// remaining duplicates of the current key.
func (c *Cursor) nextNoDup() ([]byte, []byte, error) {
	if len(c.stack) == 0 {
		return c.first()
	}
	if err := c.outerAdvance(true); err != nil {
		return nil, nil, err
	}
	if err := c.loadSubForward(); err != nil {
		return nil, nil, err
	}
	return c.current()
}

func (c *Cursor) prevNoDup() ([]byte, []byte, error) {
	if len(c.stack) == 0 {
		return c.last()
	}
	if err := c.outerAdvance(false); err != nil {
		return nil, nil, err
	}
	if err := c.loadSubBackward(); err != nil {
		return nil, nil, err
	}
	return c.current()
}

// seek positions the cursor at key (exact match required unless
// greaterOrEqual allows landing on the next key in order).
func (c *Cursor) seek(key []byte, greaterOrEqual bool) ([]byte, []byte, error) {
	root := c.txn.root(c.dbi)
	if root == invalidPgno {
		c.eof = true
		return nil, nil, newError(NotFound)
	}
	cmp := keyComparator(uint(c.txn.dbs[c.dbi].flags))
	c.stack = c.stack[:0]

	p := c.txn.pageFor(root)
	for {
		idx, exact := searchPage(p, key, cmp)
		if p.isLeaf() {
			if !exact && !greaterOrEqual {
				c.eof = true
				return nil, nil, newError(NotFound)
			}
			if idx >= p.numEntries() {
				c.stack = append(c.stack, cursorFrame{pgno: p.pageNo(), idx: idx})
				if err := c.outerAdvance(true); err != nil {
					return nil, nil, err
				}
				if err := c.loadSubForward(); err != nil {
					return nil, nil, err
				}
				return c.current()
			}
			c.stack = append(c.stack, cursorFrame{pgno: p.pageNo(), idx: idx})
			c.eof = false
			if err := c.loadSubForward(); err != nil {
				return nil, nil, err
			}
			return c.current()
		}
		childIdx := idx
		if !exact && idx > 0 {
			childIdx = idx - 1
		}
		if p.numEntries() == 0 {
			c.eof = true
			return nil, nil, newError(Corrupted)
		}
		c.stack = append(c.stack, cursorFrame{pgno: p.pageNo(), idx: childIdx})
		p = c.txn.pageFor(p.nodeAt(childIdx).childPgno())
	}
}

// subSeek positions the sub-cursor at val within the current key's
// duplicate sub-tree (exact match required unless greaterOrEqual allows
// landing on the next duplicate value in order).
func (c *Cursor) subSeek(val []byte, greaterOrEqual bool) error {
	cmp := dupComparator(uint(c.txn.dbs[c.dbi].flags))
	c.subStack = c.subStack[:0]
	if c.subDesc.root == invalidPgno {
		c.subEOF = true
		return newError(NotFound)
	}

	p := c.txn.pageFor(c.subDesc.root)
	for {
		idx, exact := searchPage(p, val, cmp)
		if p.isLeaf() {
			if !exact && !greaterOrEqual {
				c.subEOF = true
				return newError(NotFound)
			}
			if idx >= p.numEntries() {
				c.subStack = append(c.subStack, cursorFrame{pgno: p.pageNo(), idx: idx})
				if !c.subAdvance(true) {
					return newError(NotFound)
				}
				return nil
			}
			c.subStack = append(c.subStack, cursorFrame{pgno: p.pageNo(), idx: idx})
			c.subEOF = false
			return nil
		}
		childIdx := idx
		if !exact && idx > 0 {
			childIdx = idx - 1
		}
		if p.numEntries() == 0 {
			c.subEOF = true
			return newError(Corrupted)
		}
		c.subStack = append(c.subStack, cursorFrame{pgno: p.pageNo(), idx: childIdx})
		p = c.txn.pageFor(p.nodeAt(childIdx).childPgno())
	}
}

// getBoth positions the cursor at the exact (key, val) pair (rangeMode
// false) or at key with the first duplicate >= val (rangeMode true); only
// meaningful over a DUPSORT database.
func (c *Cursor) getBoth(key, val []byte, rangeMode bool) ([]byte, []byte, error) {
	if !c.dup {
		return nil, nil, newError(Invalid)
	}
	if _, _, err := c.seek(key, false); err != nil {
		return nil, nil, err
	}
	if err := c.subSeek(val, rangeMode); err != nil {
		return nil, nil, err
	}
	return c.current()
}

// Put inserts or updates the key/value at the cursor through the owning
// transaction's Put, then repositions the cursor to the written pair.
func (c *Cursor) Put(key, val []byte, flags uint) error {
	if err := c.txn.Put(c.dbi, key, val, flags); err != nil {
		return err
	}
	if c.dup {
		_, _, err := c.getBoth(key, val, false)
		return err
	}
	_, _, err := c.seek(key, false)
	return err
}

// Del removes the key/value pair currently under the cursor. Over a
// DUPSORT database this removes only the current duplicate (DelDup); over
// a plain database it removes the whole key.
func (c *Cursor) Del() error {
	k, v, err := c.current()
	if err != nil {
		return err
	}
	if c.dup {
		if err := c.txn.Delete(c.dbi, k, v, DelDup); err != nil {
			return err
		}
	} else {
		if err := c.txn.Delete(c.dbi, k, nil, 0); err != nil {
			return err
		}
	}
	c.stack = c.stack[:0]
	c.subStack = nil
	c.eof = true
	c.subEOF = true
	return nil
}
