package edb

// Database file format constants.
const (
	// Magic identifies a well-formed meta page.
	Magic uint64 = 0xBEEFC0DE

	// Version is the on-disk format version this package reads and writes.
	Version uint32 = 1
)

// Page size constraints.
const (
	MinPageSize     = 512
	MaxPageSize     = 65536
	DefaultPageSize = 4096
)

// Page and node header sizes, in bytes.
const (
	// PageHeaderSize is the fixed page header size: pgno(4) + flags(2) +
	// lower(2) + upper(2), padded to 4-byte alignment by the leading
	// uint32 field.
	PageHeaderSize = 12

	// NodeHeaderSize is the fixed node header size: dataSizeOrChildPgno(4)
	// + packed flags/keySize(2) + 2 reserved bytes. dataSizeOrChildPgno
	// is deliberately the same width as pgno so a branch node's value can
	// hold a full child page number.
	NodeHeaderSize = 8
)

// Database limits.
const (
	// MaxDBI is the maximum number of named sub-databases.
	MaxDBI = 32765

	// MaxKeySize is the maximum key length in bytes.
	MaxKeySize = 511

	// NumMetas is the number of meta pages (dual, toggled on commit).
	NumMetas = 2

	// MinPageNo is the first page number usable for tree content; pages
	// 0 and 1 are always the two meta pages.
	MinPageNo = NumMetas

	// FreeDBI is the handle for the free-page (reclamation) database.
	FreeDBI = 0

	// MainDBI is the handle for the unnamed root database.
	MainDBI = 1
)

// pgno is a page number. 0 and 1 are reserved for the meta pages. 32 bits
// ceils the file at roughly 2^32 pages; at a 4KB page size that is a 16TB
// file, matching the scale this store targets.
type pgno uint32

const invalidPgno pgno = ^pgno(0)

// txnID identifies a committed (or in-flight write) transaction. Meta pages
// record the txnID of the transaction that produced them; readers pin the
// txnID they are snapshotted against.
type txnID uint64

const invalidTxnID txnID = 0

// commitBatchPages is the maximum number of contiguous dirty pages flushed
// in a single scatter-gather write during commit.
const commitBatchPages = 64

// PageFlags identifies the kind of content stored on a page.
type PageFlags uint16

const (
	PageBranch   PageFlags = 0x01
	PageLeaf     PageFlags = 0x02
	PageOverflow PageFlags = 0x04
	PageMeta     PageFlags = 0x08
	PageSubP     PageFlags = 0x40 // DUPSORT sub-page embedded in a leaf value
)

// NodeFlags identifies special node encodings within a page.
type NodeFlags uint16

const (
	// NodeBig marks a node whose value lives on overflow pages rather
	// than inline.
	NodeBig NodeFlags = 0x01
	// NodeTree marks a node whose value is a sub-database root pgno
	// rather than a literal value (DUPSORT without DUPFIXED).
	NodeTree NodeFlags = 0x02
	// NodeDup marks a node in the main tree whose value encodes a
	// DUPSORT sub-tree rather than a single value.
	NodeDup NodeFlags = 0x04
)

// Environment open flags.
const (
	// FixedMap is accepted but has no effect: the data file is mapped at
	// whatever address the OS chooses and no address hint is stored.
	FixedMap uint = 0x01
	// NoSync skips the data-file fsync after writing dirty pages,
	// trading durability on power loss for commit latency.
	NoSync uint = 0x02
	// ReadOnly opens the environment without a writer lock, refusing
	// write transactions.
	ReadOnly uint = 0x04
)

// Sub-database open flags.
const (
	DBDefaults  uint = 0
	ReverseKey  uint = 0x02
	DupSort     uint = 0x04
	DupFixed    uint = 0x10
	ReverseDup  uint = 0x40
	DBCreate    uint = 0x40000
)

// Put flags.
const (
	Upsert      uint = 0
	NoOverwrite uint = 0x10
	NoDupData   uint = 0x20
	Current     uint = 0x40
	Append      uint = 0x20000
)

// Delete flags.
const (
	// DelDup removes a single duplicate value from a DUPSORT key rather
	// than the key and all of its duplicates.
	DelDup uint = 0x01
)

// File names within an environment directory.
const (
	DataFileName = "data.mdb"
	LockFileName = "lock.mdb"
)
