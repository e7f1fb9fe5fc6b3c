// Package state implements the world state: account balances, the UTXO
// set, or both at once under the hybrid model. It applies transactions,
// supports deep snapshots for speculative execution, and commits to its
// full contents through a deterministic state root.
package state

import "github.com/cobaltchain/cobalt/pkg/types"

// Account holds the balance and replay-protection nonce for one address.
// StorageRoot and CodeHash are reserved for contract state; the core does
// not execute code, so both stay zero for now but are committed into the
// state root so activating them later is not a silent format change.
type Account struct {
	Balance     uint64     `json:"balance"`
	Nonce       uint64     `json:"nonce"`
	StorageRoot types.Hash `json:"storage_root,omitempty"`
	CodeHash    types.Hash `json:"code_hash,omitempty"`
}
