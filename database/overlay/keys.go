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
)

// Node values, reference counts, and auxiliary records share the backend
// under three disjoint key namespaces. A node value is addressed by its
// plain 32-byte hash; the two side records are addressed by the hash with a
// suffix byte appended. The encoding is bit-exact with pre-existing
// on-disk state and must not change.
const (
	// refCountKeySuffix marks the keys of reference counts.
	refCountKeySuffix byte = 0xFE
	// auxKeySuffix marks the keys of auxiliary records.
	auxKeySuffix byte = 0xFF
)

func valueKey(hash common.Hash) []byte {
	return hash[:]
}

func refcountKey(hash common.Hash) []byte {
	return suffixedKey(hash, refCountKeySuffix)
}

func auxKey(hash common.Hash) []byte {
	return suffixedKey(hash, auxKeySuffix)
}

func suffixedKey(hash common.Hash, suffix byte) []byte {
	key := make([]byte, common.HashSize+1)
	copy(key, hash[:])
	key[common.HashSize] = suffix
	return key
}

// keyKind identifies the namespace a raw backend key belongs to.
type keyKind byte

const (
	kindUnknown keyKind = iota
	kindNodeValue
	kindRefCount
	kindAux
)

func (k keyKind) String() string {
	switch k {
	case kindNodeValue:
		return "node value"
	case kindRefCount:
		return "reference count"
	case kindAux:
		return "aux record"
	}
	return "unknown key"
}

// decodeKey classifies a raw backend key. A 32-byte key addresses a node
// value, a 33-byte key with a recognized suffix addresses a reference count
// or an auxiliary record. Anything else is reported as unknown.
func decodeKey(key []byte) (common.Hash, keyKind) {
	switch len(key) {
	case common.HashSize:
		return common.HashFromBytes(key), kindNodeValue
	case common.HashSize + 1:
		switch key[common.HashSize] {
		case refCountKeySuffix:
			return common.HashFromBytes(key[:common.HashSize]), kindRefCount
		case auxKeySuffix:
			return common.HashFromBytes(key[:common.HashSize]), kindAux
		}
	}
	return common.Hash{}, kindUnknown
}
