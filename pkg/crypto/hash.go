// Package crypto provides the cryptographic primitives consumed by the
// Cobalt core: content hashing, Schnorr signatures, and address derivation.
package crypto

import (
	"github.com/cobaltchain/cobalt/pkg/types"
	"github.com/zeebo/blake3"
)

// Hash computes a BLAKE3-256 hash of the input data.
func Hash(data []byte) types.Hash {
	return blake3.Sum256(data)
}

// DoubleHash computes Hash(Hash(data)). Used for proof-of-work so the
// outer preimage is itself a fixed-width digest.
func DoubleHash(data []byte) types.Hash {
	first := Hash(data)
	return Hash(first[:])
}

// HashConcat hashes the concatenation of two hashes.
// Used for building merkle trees.
func HashConcat(a, b types.Hash) types.Hash {
	var buf [2 * types.HashSize]byte
	copy(buf[:types.HashSize], a[:])
	copy(buf[types.HashSize:], b[:])
	return Hash(buf[:])
}

// AddressFromPubKey derives an address from a compressed public key.
// Address = BLAKE3(compressed_pubkey)[:20].
func AddressFromPubKey(pubKey []byte) types.Address {
	h := Hash(pubKey)
	var addr types.Address
	copy(addr[:], h[:types.AddressSize])
	return addr
}

// Hasher accumulates data incrementally and produces a types.Hash.
// Used where hashing a single contiguous buffer would be wasteful
// (e.g. state-root computation over many entries).
type Hasher struct {
	h *blake3.Hasher
}

// NewHasher creates a new incremental hasher.
func NewHasher() *Hasher {
	return &Hasher{h: blake3.New()}
}

// Write adds data to the hash state. It never returns an error.
func (hs *Hasher) Write(p []byte) (int, error) {
	return hs.h.Write(p)
}

// Sum finalizes and returns the digest.
func (hs *Hasher) Sum() types.Hash {
	var out types.Hash
	copy(out[:], hs.h.Sum(nil))
	return out
}
