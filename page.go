package edb

import "unsafe"

// pageTypeMask masks off the content-type bits of a page's flags, leaving
// out transient/meta bits.
const pageTypeMask = PageBranch | PageLeaf | PageOverflow | PageMeta

// pageHeader is the fixed 12-byte prefix of every page. For an overflow
// page, lower and upper are reinterpreted as the two halves of a single
// uint32 page count (see overflowPages/setOverflowPages) rather than as
// independent free-space bounds.
type pageHeader struct {
	pgno  pgno
	flags PageFlags
	lower uint16
	upper uint16
}

// page is a typed view over one page-sized slice of the environment's
// memory map (for a clean page) or a private copy (for a dirty page being
// built up by a write transaction).
type page struct {
	data []byte
}

func (p *page) header() *pageHeader {
	return (*pageHeader)(unsafe.Pointer(&p.data[0]))
}

func (p *page) pageNo() pgno        { return p.header().pgno }
func (p *page) pageType() PageFlags { return p.header().flags & pageTypeMask }
func (p *page) isBranch() bool      { return p.header().flags&PageBranch != 0 }
func (p *page) isLeaf() bool        { return p.header().flags&PageLeaf != 0 }
func (p *page) isOverflow() bool    { return p.header().flags&PageOverflow != 0 }
func (p *page) isMeta() bool        { return p.header().flags&PageMeta != 0 }
func (p *page) isSubPage() bool     { return p.header().flags&PageSubP != 0 }

// numEntries returns the number of node entries on the page. The entry
// table is an array of uint16 offsets immediately following the header;
// lower tracks its size in bytes, hence the >>1.
func (p *page) numEntries() int {
	return int(p.header().lower) >> 1
}

// entryOffset returns the absolute byte offset of the idx'th node's data
// within p.data.
func (p *page) entryOffset(idx int) int {
	stored := getUint16(p.data[PageHeaderSize+idx*2:])
	return int(stored) + PageHeaderSize
}

// freeSpace returns the gap between the entry table and the packed node
// bodies. Holes left by removeEntry are not counted until compact reclaims
// them (insertEntry compacts when this gap is too small).
func (p *page) freeSpace() int {
	h := p.header()
	return int(h.upper) - int(h.lower)
}

// overflowPages returns the page-run length of an overflow page.
func (p *page) overflowPages() uint32 {
	h := p.header()
	return uint32(h.lower) | uint32(h.upper)<<16
}

func (p *page) setOverflowPages(n uint32) {
	h := p.header()
	h.lower = uint16(n)
	h.upper = uint16(n >> 16)
}

// initPage resets p.data to an empty page header of the given kind.
func initPage(data []byte, pno pgno, flags PageFlags, pageSize int) {
	h := (*pageHeader)(unsafe.Pointer(&data[0]))
	h.pgno = pno
	h.flags = flags
	h.lower = 0
	h.upper = uint16(pageSize - PageHeaderSize)
}

func (p *page) nodeAt(idx int) *node {
	off := p.entryOffset(idx)
	size := p.nodeSize(idx)
	return &node{data: p.data[off : off+size]}
}

// nodeSize computes the encoded byte length of the node at idx by
// inspecting its header (key size) and, for a leaf, its data size or
// NodeBig's fixed 4-byte overflow pointer.
func (p *page) nodeSize(idx int) int {
	off := p.entryOffset(idx)
	packed := getUint16(p.data[off+4 : off+6])
	ksize := int(packed & 0x0FFF)
	if p.isBranch() {
		return NodeHeaderSize + ksize
	}
	nflags := NodeFlags(packed >> 12)
	if nflags&NodeBig != 0 {
		return NodeHeaderSize + ksize + 4
	}
	dsize := int(getUint32(p.data[off : off+4]))
	return NodeHeaderSize + ksize + dsize
}

// insertEntry inserts nodeData's bytes as the page's idx'th entry, shifting
// later entry-pointer slots up. Returns false if there is not enough free
// space, even after compaction.
func (p *page) insertEntry(idx int, nodeData []byte) bool {
	h := p.header()
	n := p.numEntries()
	if idx < 0 || idx > n {
		return false
	}

	need := 2 + len(nodeData)
	if p.freeSpace() < need {
		p.compact()
		if p.freeSpace() < need {
			return false
		}
	}

	newUpper := int(h.upper) - len(nodeData)
	copy(p.data[PageHeaderSize+newUpper:], nodeData)
	h.upper = uint16(newUpper)

	entriesStart := PageHeaderSize
	if idx < n {
		src := entriesStart + idx*2
		copy(p.data[src+2:], p.data[src:entriesStart+n*2])
	}
	putUint16(p.data[entriesStart+idx*2:], uint16(newUpper))
	h.lower += 2
	return true
}

// removeEntry deletes the idx'th entry's pointer slot, leaving a hole in the
// data area for a later compact to reclaim.
func (p *page) removeEntry(idx int) bool {
	h := p.header()
	n := p.numEntries()
	if idx < 0 || idx >= n {
		return false
	}
	entriesStart := PageHeaderSize
	if idx < n-1 {
		src := entriesStart + (idx+1)*2
		dst := entriesStart + idx*2
		copy(p.data[dst:], p.data[src:entriesStart+n*2])
	}
	h.lower -= 2
	return true
}

// compact repacks all live node bodies toward the end of the page,
// eliminating holes left by removeEntry so freeSpace again
// reflects truly reusable bytes.
func (p *page) compact() {
	h := p.header()
	n := p.numEntries()
	if n == 0 {
		h.upper = uint16(len(p.data) - PageHeaderSize)
		return
	}

	type slot struct {
		off, size int
	}
	slots := make([]slot, n)
	for i := 0; i < n; i++ {
		slots[i] = slot{p.entryOffset(i), p.nodeSize(i)}
	}

	tmp := make([]byte, len(p.data)-PageHeaderSize)
	pos := len(tmp)
	for i := n - 1; i >= 0; i-- {
		pos -= slots[i].size
		copy(tmp[pos:], p.data[slots[i].off:slots[i].off+slots[i].size])
		putUint16(p.data[PageHeaderSize+i*2:], uint16(pos))
	}
	copy(p.data[len(p.data)-(len(tmp)-pos):], tmp[pos:])
	h.upper = uint16(pos)
}

// splitPoint picks the index at which to divide the page's entries so that,
// after also inserting a new node of newNodeSize at insertIdx, both
// resulting pages fit within maxSpace. It favors leaving the split at the
// end when insertIdx is itself at the end (the common sequential-append
// case), avoiding rewriting every existing entry into the new right page.
func (p *page) splitPoint(newNodeSize, insertIdx int) int {
	n := p.numEntries()
	if n == 0 {
		return 0
	}
	maxSpace := len(p.data) - PageHeaderSize

	sizes := make([]int, n)
	total := 0
	for i := 0; i < n; i++ {
		sizes[i] = p.nodeSize(i)
		total += sizes[i]
	}

	if insertIdx >= n {
		if n*2+total <= maxSpace && 2+newNodeSize <= maxSpace {
			return n
		}
	}

	fits := func(split int) bool {
		leftData, leftN := 0, split
		for i := 0; i < split; i++ {
			leftData += sizes[i]
		}
		rightData, rightN := total-leftData, n-split
		if insertIdx < split {
			leftN++
			leftData += newNodeSize
		} else {
			rightN++
			rightData += newNodeSize
		}
		if leftN == 0 || rightN == 0 {
			return false
		}
		return leftN*2+leftData <= maxSpace && rightN*2+rightData <= maxSpace
	}

	mid := n / 2
	if mid == 0 {
		mid = 1
	}
	if fits(mid) {
		return mid
	}
	for delta := 1; delta <= n; delta++ {
		if mid-delta >= 0 && fits(mid-delta) {
			return mid - delta
		}
		if mid+delta <= n && fits(mid+delta) {
			return mid + delta
		}
	}
	return mid
}
