package backend

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// a LevelDB instance can directly serve as a Database
var _ Database = (*leveldb.DB)(nil)
var _ Database = (*leveldb.Transaction)(nil)

// OpenLevelDb opens the LevelDB instance stored in the given directory,
// creating it if it does not exist yet. The returned handle must be closed
// by the caller when no longer needed.
func OpenLevelDb(path string, options *opt.Options) (*leveldb.DB, error) {
	return leveldb.OpenFile(path, options)
}
