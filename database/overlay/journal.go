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

import "github.com/Fantom-foundation/Fidelio/common"

// reorgJournal records the net reference-count delta applied to each node
// during the commit of each block. When a block number is committed a
// second time the canonical chain has been reorganized, and the journaled
// deltas of the stale commit allow the committer to invert its effects.
// Entries are dropped when their block is unwound or falls out of the
// pruning window.
type reorgJournal map[uint64]map[common.Hash]int

func (j reorgJournal) contains(block uint64) bool {
	_, exists := j[block]
	return exists
}

// record accumulates the given delta into the journal entry of the node at
// the given block.
func (j reorgJournal) record(block uint64, hash common.Hash, delta int) {
	changes := j[block]
	if changes == nil {
		changes = map[common.Hash]int{}
		j[block] = changes
	}
	changes[hash] += delta
}

// deltas returns the journaled per-node deltas of the given block, or nil
// if the block was never committed or has been cleared.
func (j reorgJournal) deltas(block uint64) map[common.Hash]int {
	return j[block]
}

func (j reorgJournal) erase(block uint64) {
	delete(j, block)
}
