package edb

// DBI identifies an open sub-database within an environment. FreeDBI and
// MainDBI are always open; further handles are assigned by Txn.OpenDB.
type DBI uint32

// dbiInfo is the in-memory handle table entry for one open DBI: its
// descriptor (mirrored from / to the meta page for the two core
// databases, or from a node value in the main tree for a named one) and
// the flags it was opened with.
type dbiInfo struct {
	name  string // empty for FreeDBI/MainDBI
	flags uint
	desc  dbDescriptor
}

// comparator orders two keys (or, for a DUPSORT database, two values)
// according to a sub-database's flags.
type comparator func(a, b []byte) int

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

func compareReverse(a, b []byte) int {
	return compareBytes(b, a)
}

// keyComparator picks the key comparator implied by a sub-database's flags.
func keyComparator(flags uint) comparator {
	if flags&ReverseKey != 0 {
		return compareReverse
	}
	return compareBytes
}

// dupComparator picks the duplicate-value comparator implied by a
// sub-database's flags, used only when DupSort is set.
func dupComparator(flags uint) comparator {
	if flags&ReverseDup != 0 {
		return compareReverse
	}
	return compareBytes
}
