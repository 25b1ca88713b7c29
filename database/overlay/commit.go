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
	"log"
	"time"

	"github.com/Fantom-foundation/Fidelio/common"
	"github.com/syndtr/goleveldb/leveldb"
	"golang.org/x/exp/maps"
)

// writeRetryAttempts is the number of attempts to write a batch before the
// process gives up.
const writeRetryAttempts = 10

// fatalf terminates the process after an exhausted write-retry chain. It is
// a variable so tests can intercept the termination.
var fatalf = log.Fatalf

// Commit applies everything staged for the given block to the backend in
// one atomic batch: pending node values are materialized and their
// reference counts raised, released nodes have their counts lowered and are
// scheduled for deletion when a count reaches zero, auxiliary records are
// stored, and the nodes whose deathrow stay expired with this block are
// physically deleted. If the journal holds changes for the block number, the
// reference-count changes journaled for it and for each following block, up
// to the first block without journaled changes, are inverted first,
// unwinding the stale lineage of a chain reorganization.
// After a successful write the pending buffers are cleared.
func (o *Overlay) Commit(blockNumber uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.blockNumber = blockNumber

	o.undoReorganizedBlocks(blockNumber)

	batch := new(leveldb.Batch)
	for _, hash := range sortHashes(maps.Keys(o.pending)) {
		o.applyPendingNode(hash, o.pending[hash], blockNumber, batch)
	}
	for _, hash := range sortHashes(maps.Keys(o.aux)) {
		if value := o.aux[hash]; len(value) > 0 {
			batch.Put(auxKey(hash), value)
		}
	}
	o.prune(blockNumber, batch)
	o.safeWrite(batch)

	o.pending = map[common.Hash]pendingEntry{}
	o.aux = map[common.Hash][]byte{}
}

// Rollback discards the pending node mutations accumulated since the last
// commit, restoring lookups to the committed state. Staged auxiliary
// records are kept.
func (o *Overlay) Rollback() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = map[common.Hash]pendingEntry{}
}

// undoReorganizedBlocks detects the re-commit of an already committed block
// number, implying the canonical chain has retreated. The journal is keyed
// by block number, so what is journaled at this number and beyond belongs
// to the stale lineage: walking forward while the journal holds the block,
// each block's deltas are inverted without journaling, and its deathrow
// group and journal entry are dropped. The walk stops at the first block
// without journaled changes; later blocks are not unwound. Every unwound
// block is written in its own atomic batch before the new commit is
// assembled.
func (o *Overlay) undoReorganizedBlocks(blockNumber uint64) {
	for block := blockNumber; o.journal.contains(block); block++ {
		log.Printf("WARNING: chain reorganization at block %d, reverting the reference-count changes of block %d", blockNumber, block)
		undo := new(leveldb.Batch)
		deltas := o.journal.deltas(block)
		for _, hash := range sortHashes(maps.Keys(deltas)) {
			o.adjustRefCount(hash, -deltas[hash], false, undo)
		}
		o.deathrow.eraseBlock(block)
		o.journal.erase(block)
		o.safeWrite(undo)
	}
}

// applyPendingNode materializes one pending entry into the commit batch.
// Gained references write the node value and raise the count, taking the
// node off deathrow if it was scheduled; released references lower the
// count and schedule the node for deletion once no references remain. An
// entry whose inserts and kills cancelled out is skipped. The genesis block
// is the authoritative first write: there, even entries with a non-positive
// balance persist their value and count.
func (o *Overlay) applyPendingNode(hash common.Hash, entry pendingEntry, blockNumber uint64, batch *leveldb.Batch) {
	if entry.delta == 0 && blockNumber != 0 {
		return
	}
	if entry.delta > 0 || blockNumber == 0 {
		if len(entry.value) > 0 {
			batch.Put(valueKey(hash), entry.value)
		}
	}
	count := o.adjustRefCount(hash, entry.delta, true, batch)
	if entry.delta > 0 {
		if block, scheduled := o.deathrow.membershipBlock(hash); scheduled {
			o.deathrow.remove(block, hash)
		}
	} else if count <= 0 {
		o.deathrow.add(blockNumber, hash)
	}
}

// prune physically deletes the nodes whose deathrow stay expires with this
// commit, clearing the node value, the reference count, and any auxiliary
// record together. The journal of the expired block is dropped as well,
// reorganizations reaching back that far are no longer supported.
func (o *Overlay) prune(blockNumber uint64, batch *leveldb.Batch) {
	if blockNumber < o.window {
		return
	}
	expire := blockNumber - o.window
	for _, hash := range o.deathrow.drainBlock(expire) {
		batch.Delete(valueKey(hash))
		batch.Delete(auxKey(hash))
		batch.Delete(refcountKey(hash))
	}
	o.journal.erase(expire)
}

// safeWrite submits a batch to the backend. Transient failures are retried
// with a linearly growing backoff; once all attempts are exhausted the
// process is terminated, since a lost state write is not recoverable. A
// batch is never partially applied.
func (o *Overlay) safeWrite(batch *leveldb.Batch) {
	for attempt := 0; attempt < writeRetryAttempts; attempt++ {
		err := o.db.Write(batch, nil)
		if err == nil {
			return
		}
		if attempt == writeRetryAttempts-1 {
			fatalf("failed to write to the state database, giving up: %v", err)
			return
		}
		log.Printf("WARNING: failed to write to the state database: %v", err)
		if err := batch.Replay(batchNoter{}); err != nil {
			log.Printf("WARNING: cannot dump the failed batch: %v", err)
		}
		log.Printf("WARNING: sleeping for %d seconds before retrying", attempt+1)
		o.sleep(time.Duration(attempt+1) * time.Second)
	}
}

// batchNoter logs the content of a failed batch to aid diagnosing what the
// database refused to accept.
type batchNoter struct{}

func (batchNoter) Put(key, value []byte) {
	hash, kind := decodeKey(key)
	log.Printf("WARNING: failed batch contains a put of %v %v => %x", kind, hash, value)
}

func (batchNoter) Delete(key []byte) {
	hash, kind := decodeKey(key)
	log.Printf("WARNING: failed batch contains a delete of %v %v", kind, hash)
}
