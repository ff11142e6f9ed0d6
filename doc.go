// Package edb implements an embedded, single-file, ordered key/value store:
// a copy-on-write B+tree accessed under multi-reader/single-writer MVCC
// transactions, with durability provided by a pair of alternating meta
// pages so a crash mid-commit never corrupts the last successful one.
//
// A typical program opens an environment once:
//
//	env, err := edb.Open("/var/lib/myapp/db", edb.Options{MapSize: 1 << 30})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer env.Close()
//
//	err = env.Update(func(txn *edb.Txn) error {
//		return txn.Put(edb.MainDBI, []byte("k"), []byte("v"), edb.Upsert)
//	})
//
// Reads never block writes and writes never block reads: every Txn sees a
// consistent snapshot of the database exactly as it was at the instant the
// transaction began, regardless of what a concurrent writer commits after.
package edb
