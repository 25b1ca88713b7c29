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
	"github.com/Fantom-foundation/Fidelio/common"
	"golang.org/x/exp/maps"
)

// deathrowIndex groups the nodes whose reference count dropped to zero by
// the block that scheduled them for deletion. A node is a member of at most
// one block's group at any time; the byHash reverse map maintains this
// invariant and serves membership lookups in constant time.
type deathrowIndex struct {
	blocks map[uint64]map[common.Hash]struct{}
	byHash map[common.Hash]uint64
}

func makeDeathrowIndex() deathrowIndex {
	return deathrowIndex{
		blocks: map[uint64]map[common.Hash]struct{}{},
		byHash: map[common.Hash]uint64{},
	}
}

// membershipBlock returns the block whose group contains the given node,
// if there is one.
func (d deathrowIndex) membershipBlock(hash common.Hash) (uint64, bool) {
	block, exists := d.byHash[hash]
	return block, exists
}

// add schedules the node for deletion at the given block. A node already
// scheduled at another block is re-scheduled, the later request wins.
func (d deathrowIndex) add(block uint64, hash common.Hash) {
	if previous, exists := d.byHash[hash]; exists {
		delete(d.blocks[previous], hash)
	}
	group := d.blocks[block]
	if group == nil {
		group = map[common.Hash]struct{}{}
		d.blocks[block] = group
	}
	group[hash] = struct{}{}
	d.byHash[hash] = block
}

// remove takes the node out of the given block's group, if present.
func (d deathrowIndex) remove(block uint64, hash common.Hash) {
	if group := d.blocks[block]; group != nil {
		delete(group, hash)
	}
	if d.byHash[hash] == block {
		delete(d.byHash, hash)
	}
}

// drainBlock extracts the group of the given block, removing it from the
// index. The returned hashes are sorted to make processing deterministic.
func (d deathrowIndex) drainBlock(block uint64) []common.Hash {
	hashes := sortHashes(maps.Keys(d.blocks[block]))
	d.eraseBlock(block)
	return hashes
}

// eraseBlock discards the group of the given block without returning it.
func (d deathrowIndex) eraseBlock(block uint64) {
	for hash := range d.blocks[block] {
		delete(d.byHash, hash)
	}
	delete(d.blocks, block)
}
