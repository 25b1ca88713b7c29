// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package overlay

import (
	"errors"
	"log"
	"strconv"

	"github.com/Fantom-foundation/Fidelio/common"
	"github.com/syndtr/goleveldb/leveldb"
)

// Reference counts are stored as ASCII decimal strings, without padding or
// sign, for compatibility with pre-existing state. An absent or empty
// record reads as zero.

// getRefCount returns the persisted reference count of the given node.
// A malformed count is reported and treated as zero.
func (o *Overlay) getRefCount(hash common.Hash) int {
	data, err := o.db.Get(refcountKey(hash), nil)
	if err != nil {
		if !errors.Is(err, leveldb.ErrNotFound) {
			log.Printf("WARNING: failed to read the reference count of node %v: %v", hash, err)
		}
		return 0
	}
	if len(data) == 0 {
		return 0
	}
	count, err := strconv.Atoi(string(data))
	if err != nil {
		log.Printf("WARNING: malformed reference count %q of node %v, assuming 0", data, hash)
		return 0
	}
	return count
}

// adjustRefCount stages the new reference count of the given node into the
// batch and returns it. A count dropping below zero is a consistency
// anomaly; it is reported and clamped to zero in storage, while the
// unclamped value is returned for the caller to act on. Unless the
// adjustment is part of a reorganization undo, the delta is journaled under
// the block number most recently passed to Commit.
func (o *Overlay) adjustRefCount(hash common.Hash, delta int, journal bool, batch *leveldb.Batch) int {
	previous := o.getRefCount(hash)
	count := previous + delta
	stored := count
	if count < 0 {
		log.Printf("WARNING: the reference count of node %v dropped below zero (%d %+d = %d), releasing a node no one references; clamping to 0", hash, previous, delta, count)
		stored = 0
	}
	batch.Put(refcountKey(hash), []byte(strconv.Itoa(stored)))
	if journal {
		o.journal.record(o.blockNumber, hash, delta)
	}
	return count
}
