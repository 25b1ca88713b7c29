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
	"bytes"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Fantom-foundation/Fidelio/backend"
	"github.com/Fantom-foundation/Fidelio/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/syndtr/goleveldb/leveldb"
	"slices"
)

// PruningWindow is the default number of blocks a node stays on deathrow
// before it is physically deleted. The window is the grace period in which
// a chain reorganization can still resurrect a node; reorganizations longer
// than the window are not recoverable. The value is part of the behavioral
// compatibility of the persisted format and must be shared by all readers
// of a database.
const PruningWindow = 100

// ErrEmptyValue is reported when an empty node value is inserted.
const ErrEmptyValue = common.ConstError("node value must not be empty")

// EmptyNodeHash is the digest of the RLP encoding of an empty string, the
// root hash of an empty trie. The node it names is implicit everywhere; it
// is never stored, never reference counted, and never scheduled for
// deletion.
var EmptyNodeHash = func() common.Hash {
	encoded, err := rlp.EncodeToBytes("")
	if err != nil {
		panic(fmt.Sprintf("cannot encode an empty string: %v", err))
	}
	return common.Keccak256(encoded)
}()

// Overlay buffers node-level mutations produced while executing a block and
// applies them to a persistent backend in one atomic batch per commit. It
// maintains a reference count for every persisted node, schedules nodes
// whose count drops to zero for deletion once a pruning window has passed,
// and supports chain reorganizations by inverting the reference-count
// changes of any block number that gets committed a second time.
//
// Commit and Rollback require exclusive access; lookups may run
// concurrently and only upgrade to exclusive access when they need to
// resurrect a node scheduled for deletion.
type Overlay struct {
	db backend.Database

	// mu guards the pending buffers and the pruning state below.
	mu      sync.RWMutex
	pending map[common.Hash]pendingEntry
	aux     map[common.Hash][]byte

	deathrow    deathrowIndex
	journal     reorgJournal
	blockNumber uint64

	window uint64

	// sleep paces the write retry backoff, replaceable in tests.
	sleep func(time.Duration)
}

// pendingEntry accumulates the effect of all insert and kill calls applied
// to one node since the last commit. The delta is the net number of
// references gained (positive) or released (negative); the value is the
// payload of the most recent insert.
type pendingEntry struct {
	value []byte
	delta int
}

// NewOverlay creates an overlay committing through the given backend,
// pruning with the default window.
func NewOverlay(db backend.Database) *Overlay {
	return makeOverlay(db, PruningWindow)
}

func makeOverlay(db backend.Database, window uint64) *Overlay {
	return &Overlay{
		db:       db,
		pending:  map[common.Hash]pendingEntry{},
		aux:      map[common.Hash][]byte{},
		deathrow: makeDeathrowIndex(),
		journal:  reorgJournal{},
		window:   window,
		sleep:    time.Sleep,
	}
}

// Insert stages the given node value under its hash and raises the node's
// pending reference balance by one. Repeated inserts of the same hash sum
// up their references; the payload of the last insert wins. Inserting an
// empty value is rejected, inserting the empty trie hash has no effect.
func (o *Overlay) Insert(hash common.Hash, value []byte) error {
	if len(value) == 0 {
		return fmt.Errorf("%w: node %v", ErrEmptyValue, hash)
	}
	if hash == EmptyNodeHash {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	entry := o.pending[hash]
	entry.value = bytes.Clone(value)
	entry.delta++
	o.pending[hash] = entry
	return nil
}

// Kill releases one reference to the given node. Killing the empty trie
// hash has no effect.
func (o *Overlay) Kill(hash common.Hash) {
	if hash == EmptyNodeHash {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	entry := o.pending[hash]
	entry.delta--
	o.pending[hash] = entry
}

// InsertAux stages an auxiliary record for the given hash. Auxiliary
// records live in a key namespace of their own and are not reference
// counted.
func (o *Overlay) InsertAux(hash common.Hash, value []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.aux[hash] = bytes.Clone(value)
}

// Lookup resolves the given hash to its node value, consulting the pending
// buffer before the backend. A miss yields nil; reads never fail. A backend
// hit on a node whose persisted reference count is zero raises the count
// again and takes the node off deathrow before returning, re-attaching
// nodes orphaned by a chain reorganization.
func (o *Overlay) Lookup(hash common.Hash) []byte {
	o.mu.RLock()
	value, buffered := o.pendingValue(hash)
	o.mu.RUnlock()
	if buffered {
		return value
	}
	data, err := o.db.Get(valueKey(hash), nil)
	if err != nil {
		if !errors.Is(err, leveldb.ErrNotFound) {
			log.Printf("WARNING: failed to read node %v: %v", hash, err)
		}
		return nil
	}
	if len(data) == 0 {
		return nil
	}
	o.reanimate(hash)
	return data
}

// Exists reports whether the given node is known, either to the pending
// buffer or to the backend. Like Lookup, a backend hit on a node with a
// zero reference count resurrects it.
func (o *Overlay) Exists(hash common.Hash) bool {
	o.mu.RLock()
	_, buffered := o.pendingValue(hash)
	o.mu.RUnlock()
	if buffered {
		return true
	}
	data, err := o.db.Get(valueKey(hash), nil)
	if err != nil {
		if !errors.Is(err, leveldb.ErrNotFound) {
			log.Printf("WARNING: failed to read node %v: %v", hash, err)
		}
		return false
	}
	if len(data) == 0 {
		return false
	}
	o.reanimate(hash)
	return true
}

// LookupAux resolves the auxiliary record of the given hash, consulting the
// pending buffer before the backend. A miss yields an empty result.
func (o *Overlay) LookupAux(hash common.Hash) []byte {
	o.mu.RLock()
	value, buffered := o.aux[hash]
	o.mu.RUnlock()
	if buffered && len(value) > 0 {
		return bytes.Clone(value)
	}
	data, err := o.db.Get(auxKey(hash), nil)
	if err != nil || len(data) == 0 {
		log.Printf("WARNING: aux record not found for %v", hash)
		return nil
	}
	return data
}

// pendingValue retrieves the buffered value of the given node, provided the
// node is referenced by the pending set. The caller must hold at least a
// read lock.
func (o *Overlay) pendingValue(hash common.Hash) ([]byte, bool) {
	entry, exists := o.pending[hash]
	if !exists {
		return nil, false
	}
	if entry.delta == 0 && len(entry.value) > 0 {
		log.Printf("WARNING: lookup of node %v whose pending reference balance is zero", hash)
	}
	if entry.delta == 0 || len(entry.value) == 0 {
		return nil, false
	}
	return bytes.Clone(entry.value), true
}

// reanimate raises the reference count of a node found in the backend with
// a count of zero, taking it off deathrow in the same step. This happens
// when a read reaches a node already scheduled for deletion, typically
// while blocks are being reverted; the node is in use again and must not be
// pruned. The bump is journaled under the block number most recently passed
// to Commit and is durable before the triggering read returns.
func (o *Overlay) reanimate(hash common.Hash) {
	if hash == EmptyNodeHash {
		return
	}
	if o.getRefCount(hash) != 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	// re-check, a concurrent reader may have resurrected the node already
	if o.getRefCount(hash) != 0 {
		return
	}
	batch := new(leveldb.Batch)
	o.adjustRefCount(hash, 1, true, batch)
	if block, scheduled := o.deathrow.membershipBlock(hash); scheduled {
		o.deathrow.remove(block, hash)
	}
	o.safeWrite(batch)
}

// sortHashes orders hashes lexicographically, making iteration order and
// thus the content of commit batches deterministic.
func sortHashes(hashes []common.Hash) []common.Hash {
	slices.SortFunc(hashes, func(a, b common.Hash) int {
		return bytes.Compare(a[:], b[:])
	})
	return hashes
}
