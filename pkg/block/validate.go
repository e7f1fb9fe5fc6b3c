package block

import (
	"errors"
	"fmt"
)

// MaxBlockSize bounds the serialized block size in bytes.
const MaxBlockSize = 2 * 1024 * 1024

var (
	// ErrBadVersion is returned for unknown block versions.
	ErrBadVersion = errors.New("unsupported block version")
	// ErrTxCountMismatch is returned when the header transaction count does
	// not match the body.
	ErrTxCountMismatch = errors.New("header tx count does not match body")
	// ErrMerkleMismatch is returned when the recomputed merkle root differs
	// from the header commitment.
	ErrMerkleMismatch = errors.New("merkle root mismatch")
	// ErrNoCoinbase is returned when a block's first transaction is not a
	// coinbase.
	ErrNoCoinbase = errors.New("first transaction is not a coinbase")
	// ErrExtraCoinbase is returned when a block carries more than one
	// coinbase transaction.
	ErrExtraCoinbase = errors.New("multiple coinbase transactions")
	// ErrBlockTooLarge is returned when the block exceeds MaxBlockSize.
	ErrBlockTooLarge = errors.New("block exceeds maximum size")
	// ErrDuplicateTx is returned when a block contains the same transaction
	// twice.
	ErrDuplicateTx = errors.New("duplicate transaction in block")
)

// Validate performs the stateless structural checks on a block: version,
// header/body consistency, merkle commitment, coinbase placement, and each
// transaction's own structural rules. It does not verify the consensus
// proof or consult state.
func (b *Block) Validate() error {
	if b.Header.Version == 0 || b.Header.Version > CurrentVersion {
		return fmt.Errorf("%w: %d", ErrBadVersion, b.Header.Version)
	}
	if int(b.Header.TxCount) != len(b.Transactions) {
		return fmt.Errorf("%w: header %d, body %d",
			ErrTxCountMismatch, b.Header.TxCount, len(b.Transactions))
	}
	if b.Size() > MaxBlockSize {
		return fmt.Errorf("%w: %d bytes", ErrBlockTooLarge, b.Size())
	}
	if root := MerkleRoot(b.Transactions); root != b.Header.MerkleRoot {
		return fmt.Errorf("%w: computed %s, header %s",
			ErrMerkleMismatch, root, b.Header.MerkleRoot)
	}

	if len(b.Transactions) > 0 {
		if !b.Transactions[0].IsCoinbase() {
			return ErrNoCoinbase
		}
		for i, t := range b.Transactions[1:] {
			if t.IsCoinbase() {
				return fmt.Errorf("%w: at index %d", ErrExtraCoinbase, i+1)
			}
		}
	}

	seen := make(map[string]struct{}, len(b.Transactions))
	for _, t := range b.Transactions {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("tx %s: %w", t.Hash(), err)
		}
		id := t.Hash().String()
		if _, ok := seen[id]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateTx, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
