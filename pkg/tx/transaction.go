// Package tx defines the transaction model and validation.
//
// A Transaction is a closed tagged variant: it is either account-style
// (sender, recipient, amount, nonce, gas) or UTXO-style (inputs spending
// prior outputs, new outputs). The shape is derived from the populated
// fields, never declared separately, so the two can never disagree.
package tx

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"github.com/cobaltchain/cobalt/pkg/crypto"
	"github.com/cobaltchain/cobalt/pkg/types"
)

// Kind identifies the transaction shape.
type Kind uint8

const (
	// KindAccount is a sender/recipient balance transfer.
	KindAccount Kind = iota
	// KindUTXO spends prior outputs and creates new ones.
	KindUTXO
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindAccount:
		return "account"
	case KindUTXO:
		return "utxo"
	default:
		return "unknown"
	}
}

// Input references a UTXO being spent.
type Input struct {
	PrevOut   types.Outpoint `json:"prevout"`
	Signature []byte         `json:"signature,omitempty"`
	PubKey    []byte         `json:"pubkey,omitempty"`
}

// Output creates a new UTXO paying the given address.
type Output struct {
	Value   uint64        `json:"value"`
	Address types.Address `json:"address"`
}

// Transaction represents a Cobalt transaction in either shape.
//
// For coinbase transactions (no inputs, no sender) the Nonce field carries
// the block height so each coinbase has a unique id.
type Transaction struct {
	Version uint32 `json:"version"`

	// UTXO form.
	Inputs  []Input  `json:"inputs,omitempty"`
	Outputs []Output `json:"outputs,omitempty"`

	// Account form.
	From     types.Address `json:"from,omitempty"`
	To       types.Address `json:"to,omitempty"`
	Amount   uint64        `json:"amount,omitempty"`
	Nonce    uint64        `json:"nonce,omitempty"`
	GasLimit uint64        `json:"gas_limit,omitempty"`
	GasPrice uint64        `json:"gas_price,omitempty"`
	Payload  []byte        `json:"payload,omitempty"`

	// Account-form authorization. UTXO inputs carry their own.
	PubKey    []byte `json:"pubkey,omitempty"`
	Signature []byte `json:"signature,omitempty"`
}

// Kind returns the transaction shape. A transaction with any inputs or
// outputs is UTXO-style; everything else is account-style. Coinbase
// transactions (outputs only) are UTXO-shaped mints.
func (t *Transaction) Kind() Kind {
	if len(t.Inputs) > 0 || len(t.Outputs) > 0 {
		return KindUTXO
	}
	return KindAccount
}

// IsCoinbase returns true if the transaction mints value: it has no inputs
// and no sender. Coinbase transactions carry no signature.
func (t *Transaction) IsCoinbase() bool {
	return len(t.Inputs) == 0 && t.From.IsZero() && len(t.Outputs) > 0
}

// NewCoinbase creates a coinbase transaction paying reward to addr.
// The block height is stored in the Nonce field so each coinbase has a
// unique hash.
func NewCoinbase(addr types.Address, reward, height uint64) *Transaction {
	return &Transaction{
		Version: CurrentVersion,
		Outputs: []Output{{Value: reward, Address: addr}},
		Nonce:   height,
	}
}

// Hash computes the transaction id: BLAKE3 over the canonical signing bytes.
// Signatures are excluded to avoid a circular dependency during signing.
func (t *Transaction) Hash() types.Hash {
	return crypto.Hash(t.SigningBytes())
}

// SigningBytes returns the canonical byte encoding used for hashing and
// signing. The encoding is little-endian and byte-exact: two conformant
// implementations must produce identical digests for identical content.
//
// Layout: version(4) | input_count(4) | [txid(32) index(4)]... |
// output_count(4) | [value(8) address(20)]... | from(20) | to(20) |
// amount(8) | nonce(8) | gas_limit(8) | gas_price(8) |
// payload_len(4) payload.
func (t *Transaction) SigningBytes() []byte {
	size := 4 + 4 + len(t.Inputs)*(types.HashSize+4) +
		4 + len(t.Outputs)*(8+types.AddressSize) +
		2*types.AddressSize + 4*8 + 4 + len(t.Payload)
	buf := make([]byte, 0, size)

	buf = binary.LittleEndian.AppendUint32(buf, t.Version)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(t.Inputs)))
	for _, in := range t.Inputs {
		buf = append(buf, in.PrevOut.TxID[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, in.PrevOut.Index)
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(t.Outputs)))
	for _, out := range t.Outputs {
		buf = binary.LittleEndian.AppendUint64(buf, out.Value)
		buf = append(buf, out.Address[:]...)
	}

	buf = append(buf, t.From[:]...)
	buf = append(buf, t.To[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, t.Amount)
	buf = binary.LittleEndian.AppendUint64(buf, t.Nonce)
	buf = binary.LittleEndian.AppendUint64(buf, t.GasLimit)
	buf = binary.LittleEndian.AppendUint64(buf, t.GasPrice)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(t.Payload)))
	buf = append(buf, t.Payload...)

	return buf
}

// Size returns the serialized size in signing bytes. This is the byte
// count fee rates are measured against.
func (t *Transaction) Size() int {
	return len(t.SigningBytes())
}

// GasFee returns the account-form gas fee (GasLimit × GasPrice).
// Returns an error on overflow. Zero for UTXO-form transactions.
func (t *Transaction) GasFee() (uint64, error) {
	if t.GasLimit == 0 || t.GasPrice == 0 {
		return 0, nil
	}
	if t.GasLimit > math.MaxUint64/t.GasPrice {
		return 0, fmt.Errorf("gas fee overflow: limit %d price %d", t.GasLimit, t.GasPrice)
	}
	return t.GasLimit * t.GasPrice, nil
}

// TotalOutputValue returns the sum of all output values.
// Returns an error if the sum overflows uint64.
func (t *Transaction) TotalOutputValue() (uint64, error) {
	var total uint64
	for _, out := range t.Outputs {
		if total > math.MaxUint64-out.Value {
			return 0, fmt.Errorf("output value overflow")
		}
		total += out.Value
	}
	return total, nil
}

// inputJSON is the JSON representation of Input with hex-encoded byte fields.
type inputJSON struct {
	PrevOut   types.Outpoint `json:"prevout"`
	Signature string         `json:"signature,omitempty"`
	PubKey    string         `json:"pubkey,omitempty"`
}

// MarshalJSON encodes the input with hex-encoded signature and pubkey.
func (in Input) MarshalJSON() ([]byte, error) {
	return json.Marshal(inputJSON{
		PrevOut:   in.PrevOut,
		Signature: hex.EncodeToString(in.Signature),
		PubKey:    hex.EncodeToString(in.PubKey),
	})
}

// UnmarshalJSON decodes an input with hex-encoded signature and pubkey.
func (in *Input) UnmarshalJSON(data []byte) error {
	var j inputJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	in.PrevOut = j.PrevOut
	if j.Signature != "" {
		b, err := hex.DecodeString(j.Signature)
		if err != nil {
			return err
		}
		in.Signature = b
	}
	if j.PubKey != "" {
		b, err := hex.DecodeString(j.PubKey)
		if err != nil {
			return err
		}
		in.PubKey = b
	}
	return nil
}
