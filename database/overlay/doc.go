// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package overlay implements a buffering layer between an in-memory working
// set of content-addressed nodes and a persistent ordered key-value engine.
//
// Node mutations produced while executing a block are staged in memory and
// applied to the backend in one atomic batch per commit. Every persisted
// node carries a reference count; a node whose count drops to zero is
// placed on a per-block deathrow and physically deleted once a fixed number
// of blocks (the pruning window) has passed without the node being used
// again. Re-committing a block number signals a chain reorganization: the
// reference-count changes journaled for that block and for the following
// blocks, up to the first one without journaled changes, are inverted
// before the new block is applied.
//
// Node contents are opaque byte strings identified by their 32-byte keccak
// digest. Reference counts and auxiliary records share the backend with the
// node values under suffix-distinguished key namespaces whose encoding is
// fixed by existing on-disk state.
package overlay
