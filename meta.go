package edb

import "unsafe"

// dbDescriptor is the persisted state of one sub-database: its flags, tree
// shape, and root page. Index FreeDBI (0) is the free-page reclamation
// database; index MainDBI (1) is the unnamed root database, whose leaves
// may themselves point at named sub-databases opened later via Txn.OpenDB.
// Field order matters here: entries (the only 8-byte field) comes first so
// Go's natural alignment packs the struct to exactly metaDescriptorSize
// bytes with no hidden padding before it — putting a narrower field first
// would force the compiler to insert padding ahead of entries instead.
type dbDescriptor struct {
	entries       uint64
	branchPages   pgno
	leafPages     pgno
	overflowPages pgno
	root          pgno
	flags         uint16
	depth         uint16
	_             uint32 // reserved, keeps the struct a round 32 bytes
}

// metaDescriptorSize is the exact encoded size of dbDescriptor.
const metaDescriptorSize = 32

// encodeDBDescriptor/decodeDBDescriptor convert a named sub-database's
// descriptor to and from the raw bytes stored as its value under
// MainDBI — the same representation the two core databases use inline in
// the meta page, just relocated into the main tree (spec §4.3/§4.6).
func encodeDBDescriptor(d dbDescriptor) []byte {
	buf := make([]byte, metaDescriptorSize)
	*(*dbDescriptor)(unsafe.Pointer(&buf[0])) = d
	return buf
}

func decodeDBDescriptor(buf []byte) dbDescriptor {
	var d dbDescriptor
	if len(buf) < metaDescriptorSize {
		return d
	}
	return *(*dbDescriptor)(unsafe.Pointer(&buf[0]))
}

// metaPage is the fixed-layout content of one of the environment's two meta
// pages (see page.go's PageMeta flag for how it's framed as a page).
// Exactly one txnID field, written last during commit, is enough to detect
// a torn write: on Env.Open, a meta page whose checksum-equivalent fields
// (magic, version, pageSize) fail to validate is simply never preferred
// over its sibling, and the sibling's txnID always is, being the last
// successfully completed commit.
type metaPage struct {
	magic    uint64
	version  uint32
	pageSize uint32
	mapSize  uint64
	dbs      [2]dbDescriptor
	lastPage pgno
	_        uint32 // padding to keep txnID 8-byte aligned
	txnID    txnID
}

func metaView(pageData []byte) *metaPage {
	return (*metaPage)(unsafe.Pointer(&pageData[PageHeaderSize]))
}

// validate checks the static, txnID-independent fields of a meta page:
// magic, format version, and page size. A meta page that fails validate is
// never a commit candidate, regardless of its txnID.
func (m *metaPage) validate(expectPageSize int) error {
	if m.magic != Magic {
		return newError(Invalid)
	}
	if m.version != Version {
		return wrapError(VersionMismatch, nil)
	}
	if expectPageSize != 0 && int(m.pageSize) != expectPageSize {
		return newError(Corrupted)
	}
	if m.dbs[FreeDBI].root == invalidPgno && m.dbs[FreeDBI].entries != 0 {
		return newError(Corrupted)
	}
	return nil
}

// initMeta writes a brand-new meta page describing an empty environment.
func initMeta(pageData []byte, pno pgno, pageSize int, mapSize uint64) {
	initPage(pageData, pno, PageMeta, pageSize)
	m := metaView(pageData)
	m.magic = Magic
	m.version = Version
	m.pageSize = uint32(pageSize)
	m.mapSize = mapSize
	m.dbs[FreeDBI] = dbDescriptor{root: invalidPgno}
	m.dbs[MainDBI] = dbDescriptor{root: invalidPgno}
	m.lastPage = MinPageNo - 1
	m.txnID = 0
}

// pickMeta chooses which of the two meta pages is the current one: the
// validated meta with the larger txnID, ties (both equally valid, equal
// txnID — only possible on a freshly initialized file) favoring page 0.
func pickMeta(meta0, meta1 *metaPage, pageSize int) (*metaPage, pgno, error) {
	err0 := meta0.validate(pageSize)
	err1 := meta1.validate(pageSize)
	switch {
	case err0 != nil && err1 != nil:
		return nil, 0, err0
	case err0 != nil:
		return meta1, 1, nil
	case err1 != nil:
		return meta0, 0, nil
	case meta1.txnID > meta0.txnID:
		return meta1, 1, nil
	default:
		return meta0, 0, nil
	}
}
