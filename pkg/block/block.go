package block

import (
	"encoding/hex"
	"encoding/json"

	"github.com/cobaltchain/cobalt/pkg/tx"
	"github.com/cobaltchain/cobalt/pkg/types"
)

// Block is a header, an ordered transaction list, and the consensus proof
// that authorizes the header. The proof format is engine-specific: an
// 8-byte nonce for proof-of-work, a pubkey and signature for proof-of-stake.
// The core treats it as opaque bytes.
type Block struct {
	Header       Header            `json:"header"`
	Transactions []*tx.Transaction `json:"transactions"`
	Proof        []byte            `json:"-"`
}

// New assembles a block over the given transactions. The merkle root and
// transaction count are derived from the list; the proof is left empty for
// the consensus engine to fill.
func New(version uint32, prevHash types.Hash, height uint64, timestamp int64, bits uint32, txs []*tx.Transaction) *Block {
	return &Block{
		Header: Header{
			Version:    version,
			PrevHash:   prevHash,
			MerkleRoot: MerkleRoot(txs),
			Timestamp:  timestamp,
			Height:     height,
			Bits:       bits,
			TxCount:    uint32(len(txs)),
		},
		Transactions: txs,
	}
}

// Hash returns the block id, which is the header hash.
func (b *Block) Hash() types.Hash {
	return b.Header.Hash()
}

// Coinbase returns the block's coinbase transaction, or nil if the block
// has no transactions or the first transaction is not a coinbase.
func (b *Block) Coinbase() *tx.Transaction {
	if len(b.Transactions) == 0 || !b.Transactions[0].IsCoinbase() {
		return nil
	}
	return b.Transactions[0]
}

// Size returns the approximate serialized size of the block in bytes.
func (b *Block) Size() int {
	size := HeaderSize + len(b.Proof)
	for _, t := range b.Transactions {
		size += t.Size()
	}
	return size
}

// blockJSON carries the proof as hex in JSON form.
type blockJSON struct {
	Header       Header            `json:"header"`
	Transactions []*tx.Transaction `json:"transactions"`
	Proof        string            `json:"proof,omitempty"`
}

// MarshalJSON encodes the block with a hex-encoded proof.
func (b *Block) MarshalJSON() ([]byte, error) {
	return json.Marshal(blockJSON{
		Header:       b.Header,
		Transactions: b.Transactions,
		Proof:        hex.EncodeToString(b.Proof),
	})
}

// UnmarshalJSON decodes a block with a hex-encoded proof.
func (b *Block) UnmarshalJSON(data []byte) error {
	var j blockJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	b.Header = j.Header
	b.Transactions = j.Transactions
	if j.Proof != "" {
		proof, err := hex.DecodeString(j.Proof)
		if err != nil {
			return err
		}
		b.Proof = proof
	} else {
		b.Proof = nil
	}
	return nil
}
