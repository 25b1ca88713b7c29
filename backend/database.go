package backend

//go:generate mockgen -source database.go -destination database_mock.go -package backend

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// Database is the capability set an overlay requires from a persistent
// ordered key-value engine. It is intentionally narrow, so the overlay can
// run on top of a plain LevelDB instance, a LevelDB transaction, or an
// in-memory substitute. The *leveldb.DB type satisfies this interface
// directly.
type Database interface {

	// Get gets the value for the given key. It returns leveldb.ErrNotFound
	// if the database does not contain the key.
	//
	// The returned slice is its own copy, it is safe to modify the contents
	// of the returned slice.
	// It is safe to modify the contents of the argument after Get returns.
	Get(key []byte, ro *opt.ReadOptions) (value []byte, err error)

	// Has returns true if the database does contain the given key.
	//
	// It is safe to modify the contents of the argument after Has returns.
	Has(key []byte, ro *opt.ReadOptions) (bool, error)

	// Put sets the value for the given key. It overwrites any previous value
	// for that key; a database is not a multi-map.
	//
	// It is safe to modify the contents of the arguments after Put returns.
	Put(key, value []byte, wo *opt.WriteOptions) error

	// Delete deletes the value for the given key.
	//
	// It is safe to modify the contents of the arguments after Delete returns.
	Delete(key []byte, wo *opt.WriteOptions) error

	// Write applies the given batch to the database atomically. The batch
	// records will be applied sequentially; either all of them become
	// visible or none of them do.
	//
	// It is safe to modify the contents of the arguments after Write returns
	// but not before. Write will not modify the content of the batch.
	Write(batch *leveldb.Batch, wo *opt.WriteOptions) error
}
