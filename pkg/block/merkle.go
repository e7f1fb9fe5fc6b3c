package block

import (
	"errors"

	"github.com/cobaltchain/cobalt/pkg/crypto"
	"github.com/cobaltchain/cobalt/pkg/tx"
	"github.com/cobaltchain/cobalt/pkg/types"
)

// ErrBadProofIndex is returned when a merkle proof is requested for an
// index outside the transaction list.
var ErrBadProofIndex = errors.New("merkle proof index out of range")

// MerkleRoot computes the merkle root over the transaction ids.
// Odd levels duplicate their last node. An empty list hashes to the digest
// of the empty byte string, which is distinct from the zero hash so that an
// empty block still commits to "verified empty" rather than "absent".
func MerkleRoot(txs []*tx.Transaction) types.Hash {
	if len(txs) == 0 {
		return crypto.Hash(nil)
	}
	level := make([]types.Hash, len(txs))
	for i, t := range txs {
		level[i] = t.Hash()
	}
	for len(level) > 1 {
		level = nextLevel(level)
	}
	return level[0]
}

func nextLevel(level []types.Hash) []types.Hash {
	if len(level)%2 != 0 {
		level = append(level, level[len(level)-1])
	}
	next := make([]types.Hash, 0, len(level)/2)
	for i := 0; i < len(level); i += 2 {
		next = append(next, crypto.HashConcat(level[i], level[i+1]))
	}
	return next
}

// ProofStep is one level of a merkle inclusion proof: the sibling digest
// and which side of the pair it sits on.
type ProofStep struct {
	Sibling types.Hash `json:"sibling"`
	Right   bool       `json:"right"`
}

// MerkleProof proves that a transaction is included under a merkle root.
type MerkleProof struct {
	TxID  types.Hash  `json:"txid"`
	Index uint32      `json:"index"`
	Steps []ProofStep `json:"steps"`
}

// NewMerkleProof builds an inclusion proof for the transaction at index.
func NewMerkleProof(txs []*tx.Transaction, index int) (*MerkleProof, error) {
	if index < 0 || index >= len(txs) {
		return nil, ErrBadProofIndex
	}
	level := make([]types.Hash, len(txs))
	for i, t := range txs {
		level[i] = t.Hash()
	}

	proof := &MerkleProof{TxID: level[index], Index: uint32(index)}
	pos := index
	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}
		sibling := pos ^ 1
		proof.Steps = append(proof.Steps, ProofStep{
			Sibling: level[sibling],
			Right:   sibling > pos,
		})
		level = nextLevel(level)
		pos /= 2
	}
	return proof, nil
}

// Verify recomputes the root from the proof and compares it to root.
func (p *MerkleProof) Verify(root types.Hash) bool {
	current := p.TxID
	for _, step := range p.Steps {
		if step.Right {
			current = crypto.HashConcat(current, step.Sibling)
		} else {
			current = crypto.HashConcat(step.Sibling, current)
		}
	}
	return current == root
}
