package edb

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrorCode classifies a failure returned from this package.
type ErrorCode int

const (
	// Success is never returned as an error; it exists so Code(nil) has a
	// defined zero value.
	Success ErrorCode = 0

	// KeyExist indicates a NoOverwrite put found the key already present.
	KeyExist ErrorCode = -(iota + 1)
	// NotFound indicates the requested key, or the next key in a range
	// scan, does not exist.
	NotFound
	// PageNotFound indicates a referenced page number has no backing
	// content — always a corruption signal.
	PageNotFound
	// Corrupted indicates a structural invariant of the file failed
	// validation (bad magic, bad page flags, checksum-equivalent
	// mismatch).
	Corrupted
	// Panic indicates the environment hit a fatal internal error and
	// must be reopened before further use.
	Panic
	// VersionMismatch indicates the data file's format version does not
	// match this package's Version.
	VersionMismatch
	// Invalid indicates the file is not a well-formed database, an
	// operation that is not valid in its context (an unknown cursor op, a
	// duplicate op on a non-DUPSORT cursor, a write through a read-only
	// environment or transaction), or an OS error while opening, mapping,
	// writing or syncing the data file.
	Invalid
	// MapFull indicates the environment's mapSize was reached; Env.Open
	// must be retried with a larger size.
	MapFull
	// DBsFull indicates the maximum number of named sub-databases is
	// already open.
	DBsFull
	// ReadersFull indicates the reader table has no free slot.
	ReadersFull
	// BadTxn indicates the transaction has already been committed or
	// aborted.
	BadTxn
	// BadValSize indicates a key or value exceeded size limits.
	BadValSize
	// BadDBI indicates the DBI handle is not open in this environment.
	BadDBI
	// Busy indicates another write transaction is in progress.
	Busy
	// Incompatible indicates the sub-database's stored flags (DupSort,
	// ReverseKey, ...) don't match the flags it was opened with.
	Incompatible
)

var errorMessages = map[ErrorCode]string{
	KeyExist:        "key/value pair already exists",
	NotFound:        "key not found",
	PageNotFound:    "requested page not found",
	Corrupted:       "database is corrupted",
	Panic:           "fatal environment error, environment must be reopened",
	VersionMismatch: "database format version mismatch",
	Invalid:         "file is not a valid database",
	MapFull:         "environment map size limit reached",
	DBsFull:         "maximum number of named databases reached",
	ReadersFull:     "reader table is full",
	BadTxn:          "transaction is no longer active",
	BadValSize:      "invalid key or value size",
	BadDBI:          "DBI handle is not open",
	Busy:            "another write transaction is in progress",
	Incompatible:    "sub-database flags incompatible with open flags",
}

// Error is the error type returned by every operation in this package.
type Error struct {
	Code ErrorCode
	Err  error // wrapped cause, e.g. an *os.PathError or syscall.Errno
}

func (e *Error) Error() string {
	msg, ok := errorMessages[e.Code]
	if !ok {
		msg = fmt.Sprintf("unknown error code %d", e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("edb: %s: %v", msg, e.Err)
	}
	return fmt.Sprintf("edb: %s", msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// newError builds an *Error carrying code with no further cause.
func newError(code ErrorCode) *Error {
	return &Error{Code: code}
}

// wrapError builds an *Error carrying code and an underlying OS or I/O
// cause. When err ultimately wraps a syscall.Errno, callers can still
// recover it with errors.As since Error.Unwrap chains through.
func wrapError(code ErrorCode, err error) *Error {
	return &Error{Code: code, Err: err}
}

// wrapErrno wraps a raw unix errno returned by a golang.org/x/sys/unix call
// (flock, msync, mmap, ...) into the package's error taxonomy.
func wrapErrno(code ErrorCode, errno unix.Errno) *Error {
	if errno == 0 {
		return nil
	}
	return wrapError(code, errno)
}

// Code returns the ErrorCode carried by err, or Success if err is nil.
func Code(err error) ErrorCode {
	if err == nil {
		return Success
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Corrupted
}

// IsNotFound reports whether err is, or wraps, a NotFound error.
func IsNotFound(err error) bool {
	return Code(err) == NotFound
}

// IsKeyExist reports whether err is, or wraps, a KeyExist error.
func IsKeyExist(err error) bool {
	return Code(err) == KeyExist
}

// IsCorrupted reports whether err indicates on-disk structural corruption.
func IsCorrupted(err error) bool {
	c := Code(err)
	return c == Corrupted || c == PageNotFound || c == Invalid
}
