package common

import "fmt"

// Hash is a 32-byte keccak digest serving as the value-identity of a
// content-addressed node.
type Hash [32]byte

// HashSize is the size of a Hash in bytes when serialized.
const HashSize = 32

// HashFromBytes creates a Hash from the given bytes. Input longer than
// 32 bytes is truncated, shorter input is zero-padded at the end.
func HashFromBytes(data []byte) Hash {
	var hash Hash
	copy(hash[:], data)
	return hash
}

func (h Hash) String() string {
	return fmt.Sprintf("0x%x", h[:])
}
