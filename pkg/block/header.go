// Package block defines block headers, block bodies, merkle commitments,
// and the stateless structural validation rules.
package block

import (
	"encoding/binary"

	"github.com/cobaltchain/cobalt/pkg/crypto"
	"github.com/cobaltchain/cobalt/pkg/types"
)

// CurrentVersion is the block format version produced by this node.
const CurrentVersion uint32 = 1

// HeaderSize is the serialized header length in bytes.
const HeaderSize = 4 + types.HashSize + types.HashSize + 8 + 8 + 4 + 4

// Header holds the consensus-relevant block metadata. The consensus proof
// lives on the Block, not here: the header digest is what proofs commit to,
// so including the proof would make the commitment circular.
type Header struct {
	Version    uint32     `json:"version"`
	PrevHash   types.Hash `json:"prev_hash"`
	MerkleRoot types.Hash `json:"merkle_root"`
	Timestamp  int64      `json:"timestamp"`
	Height     uint64     `json:"height"`
	Bits       uint32     `json:"bits"`
	TxCount    uint32     `json:"tx_count"`
}

// SigningBytes returns the canonical little-endian header encoding used for
// hashing and for consensus proofs.
//
// Layout: version(4) | prev_hash(32) | merkle_root(32) | timestamp(8) |
// height(8) | bits(4) | tx_count(4).
func (h *Header) SigningBytes() []byte {
	buf := make([]byte, 0, HeaderSize)
	buf = binary.LittleEndian.AppendUint32(buf, h.Version)
	buf = append(buf, h.PrevHash[:]...)
	buf = append(buf, h.MerkleRoot[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(h.Timestamp))
	buf = binary.LittleEndian.AppendUint64(buf, h.Height)
	buf = binary.LittleEndian.AppendUint32(buf, h.Bits)
	buf = binary.LittleEndian.AppendUint32(buf, h.TxCount)
	return buf
}

// Hash computes the block id: BLAKE3 over the canonical header bytes.
func (h *Header) Hash() types.Hash {
	return crypto.Hash(h.SigningBytes())
}

// IsGenesis reports whether the header is at height zero with no parent.
func (h *Header) IsGenesis() bool {
	return h.Height == 0 && h.PrevHash.IsZero()
}
