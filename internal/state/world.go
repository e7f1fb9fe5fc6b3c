package state

import (
	"fmt"
	"math"
	"sync"

	"github.com/cobaltchain/cobalt/pkg/tx"
	"github.com/cobaltchain/cobalt/pkg/types"
)

// Model selects which ledger representations the world state accepts.
type Model uint8

const (
	// ModelAccount accepts only account-style transactions.
	ModelAccount Model = iota
	// ModelUTXO accepts only UTXO-style transactions.
	ModelUTXO
	// ModelHybrid accepts both.
	ModelHybrid
)

// String returns a human-readable name for the model.
func (m Model) String() string {
	switch m {
	case ModelAccount:
		return "account"
	case ModelUTXO:
		return "utxo"
	case ModelHybrid:
		return "hybrid"
	default:
		return "unknown"
	}
}

// ParseModel converts a config string to a Model.
func ParseModel(s string) (Model, error) {
	switch s {
	case "account":
		return ModelAccount, nil
	case "utxo":
		return ModelUTXO, nil
	case "hybrid", "":
		return ModelHybrid, nil
	default:
		return 0, fmt.Errorf("unknown state model %q", s)
	}
}

// DefaultCoinbaseMaturity is how many blocks a coinbase output must age
// before it can be spent.
const DefaultCoinbaseMaturity = 10

// Config parameterizes a WorldState.
type Config struct {
	Model Model
	// MintAuthority, when non-zero, is the only address allowed to invoke
	// Mint.
	MintAuthority types.Address
	// CoinbaseMaturity overrides DefaultCoinbaseMaturity when non-zero.
	CoinbaseMaturity uint64
}

// WorldState is the mutable ledger state. All methods are safe for
// concurrent use.
type WorldState struct {
	mu sync.RWMutex

	model         Model
	accounts      map[types.Address]Account
	utxos         *UTXOSet
	mintAuthority types.Address
	maturity      uint64
	// height is the last block height applied. Every connected block
	// carries exactly one coinbase, so applyCoinbase advances it, which
	// keeps replay and reorg paths covered for free.
	height uint64

	rootCache types.Hash
	rootValid bool
}

// New creates an empty world state.
func New(cfg Config) *WorldState {
	maturity := cfg.CoinbaseMaturity
	if maturity == 0 {
		maturity = DefaultCoinbaseMaturity
	}
	return &WorldState{
		model:         cfg.Model,
		accounts:      make(map[types.Address]Account),
		utxos:         NewUTXOSet(),
		mintAuthority: cfg.MintAuthority,
		maturity:      maturity,
	}
}

// Model returns the configured ledger model.
func (w *WorldState) Model() Model {
	return w.model
}

// Apply executes a single transaction against the state and returns the fee
// it pays. Validation and mutation are atomic: on any error the state is
// untouched. Signature checks happen here because ownership of spent funds
// is only known to the state.
func (w *WorldState) Apply(t *tx.Transaction, height uint64) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t.IsCoinbase() {
		return 0, w.applyCoinbase(t, height)
	}

	switch t.Kind() {
	case tx.KindAccount:
		if w.model == ModelUTXO {
			return 0, fmt.Errorf("%w: account tx under %s model", ErrWrongModel, w.model)
		}
		return w.applyAccount(t)
	case tx.KindUTXO:
		if w.model == ModelAccount {
			return 0, fmt.Errorf("%w: utxo tx under %s model", ErrWrongModel, w.model)
		}
		return w.applyUTXO(t, height)
	default:
		return 0, fmt.Errorf("unknown transaction kind")
	}
}

// applyCoinbase mints the block reward. Under the account model outputs
// credit balances directly; otherwise they become spendable outputs marked
// with the block height for maturity tracking.
func (w *WorldState) applyCoinbase(t *tx.Transaction, height uint64) error {
	txid := t.Hash()
	w.height = height
	if w.model == ModelAccount {
		for _, out := range t.Outputs {
			w.credit(out.Address, out.Value)
		}
		w.rootValid = false
		return nil
	}
	for i, out := range t.Outputs {
		op := types.Outpoint{TxID: txid, Index: uint32(i)}
		if err := w.utxos.Add(op, UTXOEntry{
			Value:    out.Value,
			Address:  out.Address,
			Coinbase: true,
			Height:   height,
		}); err != nil {
			return err
		}
	}
	w.rootValid = false
	return nil
}

func (w *WorldState) applyAccount(t *tx.Transaction) (uint64, error) {
	if err := t.VerifySender(); err != nil {
		return 0, err
	}
	fee, err := t.GasFee()
	if err != nil {
		return 0, err
	}
	if t.Amount > math.MaxUint64-fee {
		return 0, fmt.Errorf("amount plus fee overflows")
	}
	cost := t.Amount + fee

	sender := w.accounts[t.From]
	if t.Nonce != sender.Nonce+1 {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrBadNonce, t.Nonce, sender.Nonce+1)
	}
	if sender.Balance < cost {
		return 0, fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, sender.Balance, cost)
	}

	sender.Balance -= cost
	sender.Nonce = t.Nonce
	w.accounts[t.From] = sender
	w.credit(t.To, t.Amount)
	w.rootValid = false
	return fee, nil
}

func (w *WorldState) applyUTXO(t *tx.Transaction, height uint64) (uint64, error) {
	// Verify everything before mutating anything.
	var inputSum uint64
	spent := make([]UTXOEntry, len(t.Inputs))
	for i, in := range t.Inputs {
		entry, ok := w.utxos.Get(in.PrevOut)
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrDoubleSpend, in.PrevOut)
		}
		if entry.Coinbase && height < entry.Height+w.maturity {
			return 0, fmt.Errorf("%w: created at %d, spent at %d", ErrImmatureCoinbase, entry.Height, height)
		}
		if err := t.VerifyInput(i, entry.Address); err != nil {
			return 0, err
		}
		if inputSum > math.MaxUint64-entry.Value {
			return 0, fmt.Errorf("input value overflow")
		}
		inputSum += entry.Value
		spent[i] = entry
	}
	outputSum, err := t.TotalOutputValue()
	if err != nil {
		return 0, err
	}
	if inputSum < outputSum {
		return 0, fmt.Errorf("%w: inputs %d, outputs %d", ErrInsufficientBalance, inputSum, outputSum)
	}

	txid := t.Hash()
	for _, in := range t.Inputs {
		if _, err := w.utxos.Spend(in.PrevOut); err != nil {
			return 0, err
		}
	}
	for i, out := range t.Outputs {
		op := types.Outpoint{TxID: txid, Index: uint32(i)}
		if err := w.utxos.Add(op, UTXOEntry{Value: out.Value, Address: out.Address, Height: height}); err != nil {
			return 0, err
		}
	}
	w.rootValid = false
	return inputSum - outputSum, nil
}

// credit adds value to an account balance, creating the account if needed.
// Caller holds the lock.
func (w *WorldState) credit(addr types.Address, value uint64) {
	acct := w.accounts[addr]
	acct.Balance += value
	w.accounts[addr] = acct
}

// Mint credits newly created value to an account. Only the configured mint
// authority may mint; a state without one rejects all mints.
func (w *WorldState) Mint(authority, to types.Address, value uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.mintAuthority.IsZero() || authority != w.mintAuthority {
		return fmt.Errorf("%w: %s is not the mint authority", ErrUnauthorized, authority)
	}
	acct := w.accounts[to]
	if acct.Balance > math.MaxUint64-value {
		return fmt.Errorf("mint overflows balance of %s", to)
	}
	w.credit(to, value)
	w.rootValid = false
	return nil
}

// Transfer moves value directly between accounts without a signed
// transaction. Used for genesis allocation and administrative testing.
func (w *WorldState) Transfer(from, to types.Address, value uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	sender := w.accounts[from]
	if sender.Balance < value {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, sender.Balance, value)
	}
	sender.Balance -= value
	w.accounts[from] = sender
	w.credit(to, value)
	w.rootValid = false
	return nil
}

// SetBalance overwrites an account balance. Genesis initialization only.
func (w *WorldState) SetBalance(addr types.Address, value uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	acct := w.accounts[addr]
	acct.Balance = value
	w.accounts[addr] = acct
	w.rootValid = false
}

// AddUTXO inserts an unspent output directly. Genesis initialization only.
func (w *WorldState) AddUTXO(op types.Outpoint, entry UTXOEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.utxos.Add(op, entry); err != nil {
		return err
	}
	w.rootValid = false
	return nil
}

// Account returns the account record for addr. Missing accounts read as
// zero balance, zero nonce.
func (w *WorldState) Account(addr types.Address) Account {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.accounts[addr]
}

// Height returns the height of the last applied block.
func (w *WorldState) Height() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.height
}

// CoinbaseMaturity returns the configured maturity window.
func (w *WorldState) CoinbaseMaturity() uint64 {
	return w.maturity
}

// Nonce returns the current nonce for addr.
func (w *WorldState) Nonce(addr types.Address) uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.accounts[addr].Nonce
}

// Balance returns the total spendable value for addr. Under the hybrid
// model this is the account balance plus the sum of unspent outputs.
func (w *WorldState) Balance(addr types.Address) uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.accounts[addr].Balance + w.utxos.Balance(addr)
}

// HasUTXO reports whether an outpoint is currently unspent.
func (w *WorldState) HasUTXO(op types.Outpoint) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.utxos.Has(op)
}

// UTXO returns the entry for an outpoint if it is unspent.
func (w *WorldState) UTXO(op types.Outpoint) (UTXOEntry, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.utxos.Get(op)
}

// OutpointsByAddress returns the unspent outpoints paying addr.
func (w *WorldState) OutpointsByAddress(addr types.Address) []types.Outpoint {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.utxos.OutpointsByAddress(addr)
}

// TotalUTXOValue returns the sum of all unspent outputs.
func (w *WorldState) TotalUTXOValue() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.utxos.TotalValue()
}

// Snapshot captures a deep copy of the state for later restoration.
type Snapshot struct {
	accounts map[types.Address]Account
	utxos    *UTXOSet
	height   uint64
	root     types.Hash
	rootOK   bool
}

// Snapshot returns a deep copy of the current state. Mutations after the
// snapshot do not leak into it.
func (w *WorldState) Snapshot() *Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	accounts := make(map[types.Address]Account, len(w.accounts))
	for addr, acct := range w.accounts {
		accounts[addr] = acct
	}
	return &Snapshot{
		accounts: accounts,
		utxos:    w.utxos.Clone(),
		height:   w.height,
		root:     w.rootCache,
		rootOK:   w.rootValid,
	}
}

// Restore replaces the state with a previously captured snapshot.
func (w *WorldState) Restore(s *Snapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()

	accounts := make(map[types.Address]Account, len(s.accounts))
	for addr, acct := range s.accounts {
		accounts[addr] = acct
	}
	w.accounts = accounts
	w.utxos = s.utxos.Clone()
	w.height = s.height
	w.rootCache = s.root
	w.rootValid = s.rootOK
}
