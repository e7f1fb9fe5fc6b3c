package block

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/cobaltchain/cobalt/pkg/crypto"
	"github.com/cobaltchain/cobalt/pkg/tx"
	"github.com/cobaltchain/cobalt/pkg/types"
)

func testAddr(b byte) types.Address {
	var a types.Address
	a[0] = b
	return a
}

func testTxs(t *testing.T, n int) []*tx.Transaction {
	t.Helper()
	txs := make([]*tx.Transaction, 0, n)
	txs = append(txs, tx.NewCoinbase(testAddr(0xff), 100, 1))
	for i := 1; i < n; i++ {
		txs = append(txs, &tx.Transaction{
			Version: 1,
			Inputs:  []tx.Input{{PrevOut: types.Outpoint{TxID: types.Hash{byte(i)}, Index: 0}}},
			Outputs: []tx.Output{{Value: uint64(i), Address: testAddr(byte(i))}},
		})
	}
	return txs
}

func testBlock(t *testing.T, n int) *Block {
	t.Helper()
	return New(1, types.Hash{0xaa}, 1, 1700000000, 0x1d00ffff, testTxs(t, n))
}

func TestHeaderHashDeterministic(t *testing.T) {
	b := testBlock(t, 3)
	if b.Hash() != b.Header.Hash() {
		t.Error("block hash must equal header hash")
	}
	again := b.Header
	if again.Hash() != b.Hash() {
		t.Error("copied header hashes differently")
	}
}

func TestHeaderHashSensitivity(t *testing.T) {
	base := testBlock(t, 2).Header
	mutations := []struct {
		name   string
		mutate func(*Header)
	}{
		{"version", func(h *Header) { h.Version++ }},
		{"prev hash", func(h *Header) { h.PrevHash[0] ^= 1 }},
		{"merkle root", func(h *Header) { h.MerkleRoot[0] ^= 1 }},
		{"timestamp", func(h *Header) { h.Timestamp++ }},
		{"height", func(h *Header) { h.Height++ }},
		{"bits", func(h *Header) { h.Bits++ }},
		{"tx count", func(h *Header) { h.TxCount++ }},
	}
	for _, tt := range mutations {
		t.Run(tt.name, func(t *testing.T) {
			h := base
			tt.mutate(&h)
			if h.Hash() == base.Hash() {
				t.Error("mutation did not change header hash")
			}
		})
	}
}

func TestProofExcludedFromHash(t *testing.T) {
	b := testBlock(t, 2)
	before := b.Hash()
	b.Proof = []byte{1, 2, 3, 4}
	if b.Hash() != before {
		t.Error("proof must not affect the block hash")
	}
}

func TestMerkleRootEmpty(t *testing.T) {
	root := MerkleRoot(nil)
	if root.IsZero() {
		t.Error("empty merkle root must not be the zero hash")
	}
	if root != crypto.Hash(nil) {
		t.Error("empty merkle root must be the hash of the empty string")
	}
}

func TestMerkleRootSingle(t *testing.T) {
	txs := testTxs(t, 1)
	if MerkleRoot(txs) != txs[0].Hash() {
		t.Error("single-tx merkle root must be the tx hash")
	}
}

func TestMerkleRootOddDuplication(t *testing.T) {
	txs := testTxs(t, 3)
	// With three leaves the last is duplicated:
	// root = H(H(t0,t1), H(t2,t2)).
	left := crypto.HashConcat(txs[0].Hash(), txs[1].Hash())
	right := crypto.HashConcat(txs[2].Hash(), txs[2].Hash())
	want := crypto.HashConcat(left, right)
	if got := MerkleRoot(txs); got != want {
		t.Errorf("MerkleRoot = %s, want %s", got, want)
	}
}

func TestMerkleRootOrderSensitive(t *testing.T) {
	txs := testTxs(t, 4)
	root := MerkleRoot(txs)
	swapped := []*tx.Transaction{txs[0], txs[2], txs[1], txs[3]}
	if MerkleRoot(swapped) == root {
		t.Error("reordering transactions must change the merkle root")
	}
}

func TestMerkleProof(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 5, 8} {
		txs := testTxs(t, n)
		root := MerkleRoot(txs)
		for i := range txs {
			proof, err := NewMerkleProof(txs, i)
			if err != nil {
				t.Fatalf("n=%d i=%d: %v", n, i, err)
			}
			if !proof.Verify(root) {
				t.Errorf("n=%d i=%d: proof does not verify", n, i)
			}
			// A proof must not verify against a different root.
			var other types.Hash
			other[0] = 1
			if proof.Verify(other) {
				t.Errorf("n=%d i=%d: proof verified against wrong root", n, i)
			}
		}
	}
}

func TestMerkleProofBadIndex(t *testing.T) {
	txs := testTxs(t, 2)
	if _, err := NewMerkleProof(txs, 5); !errors.Is(err, ErrBadProofIndex) {
		t.Errorf("got %v, want ErrBadProofIndex", err)
	}
	if _, err := NewMerkleProof(txs, -1); !errors.Is(err, ErrBadProofIndex) {
		t.Errorf("got %v, want ErrBadProofIndex", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Block)
		wantErr error
	}{
		{
			name:   "valid block",
			mutate: func(b *Block) {},
		},
		{
			name:    "tx count mismatch",
			mutate:  func(b *Block) { b.Header.TxCount++ },
			wantErr: ErrTxCountMismatch,
		},
		{
			name:    "merkle mismatch",
			mutate:  func(b *Block) { b.Header.MerkleRoot[0] ^= 1 },
			wantErr: ErrMerkleMismatch,
		},
		{
			name: "missing coinbase",
			mutate: func(b *Block) {
				b.Transactions = b.Transactions[1:]
				b.Header.TxCount--
				b.Header.MerkleRoot = MerkleRoot(b.Transactions)
			},
			wantErr: ErrNoCoinbase,
		},
		{
			name: "second coinbase",
			mutate: func(b *Block) {
				b.Transactions = append(b.Transactions, tx.NewCoinbase(testAddr(2), 100, 1))
				b.Header.TxCount++
				b.Header.MerkleRoot = MerkleRoot(b.Transactions)
			},
			wantErr: ErrExtraCoinbase,
		},
		{
			name: "duplicate transaction",
			mutate: func(b *Block) {
				b.Transactions = append(b.Transactions, b.Transactions[1])
				b.Header.TxCount++
				b.Header.MerkleRoot = MerkleRoot(b.Transactions)
			},
			wantErr: ErrDuplicateTx,
		},
		{
			name:    "bad version",
			mutate:  func(b *Block) { b.Header.Version = 0 },
			wantErr: ErrBadVersion,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := testBlock(t, 3)
			tt.mutate(b)
			err := b.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestJSONRoundTrip(t *testing.T) {
	b := testBlock(t, 2)
	b.Proof = []byte{1, 2, 3}

	data, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Block
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Hash() != b.Hash() {
		t.Error("round trip changed the block hash")
	}
	if len(back.Proof) != 3 || back.Proof[0] != 1 {
		t.Error("round trip lost the proof")
	}
	if len(back.Transactions) != len(b.Transactions) {
		t.Error("round trip lost transactions")
	}
}
