package edb

import "encoding/binary"

// Little-endian helpers for node headers, entry offsets and ID-lists. Page
// headers, meta pages and database descriptors are read and written through
// unsafe struct views in host byte order, and node.header reads node headers
// the same way, so these helpers agree with those views, and a data file is
// readable on another host, only on little-endian machines.

func getUint16(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }
func putUint16(b []byte, v uint16) { binary.LittleEndian.PutUint16(b, v) }

func getUint32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }
func putUint32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }

func getUint64(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }
func putUint64(b []byte, v uint64) { binary.LittleEndian.PutUint64(b, v) }
