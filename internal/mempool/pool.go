// Package mempool holds transactions waiting for inclusion in a block,
// ordered by fee rate. Admission verifies signatures and funding against
// the current state, reserves spent outpoints so no two pending
// transactions conflict, and evicts by age and fee when full.
package mempool

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cobaltchain/cobalt/internal/log"
	"github.com/cobaltchain/cobalt/internal/state"
	"github.com/cobaltchain/cobalt/pkg/tx"
	"github.com/cobaltchain/cobalt/pkg/types"
)

var (
	// ErrKnownTx is returned when the pool already holds the transaction.
	ErrKnownTx = errors.New("transaction already in pool")
	// ErrCoinbase is returned when a coinbase is submitted; coinbases only
	// exist inside blocks.
	ErrCoinbase = errors.New("coinbase not accepted into pool")
	// ErrConflict is returned when a transaction spends an outpoint already
	// reserved by a pooled transaction, or reuses a pending nonce without
	// paying more.
	ErrConflict = errors.New("conflicts with pooled transaction")
	// ErrStaleNonce is returned when an account transaction's nonce is not
	// above the sender's committed nonce.
	ErrStaleNonce = errors.New("nonce already used")
	// ErrFeeTooLow is returned when the fee rate is below the pool floor.
	ErrFeeTooLow = errors.New("fee rate below minimum")
	// ErrPoolFull is returned when the pool is at capacity and the new
	// transaction does not pay enough to displace anything.
	ErrPoolFull = errors.New("pool full")
	// ErrUnknownInput is returned when a transaction spends an outpoint the
	// state does not know.
	ErrUnknownInput = errors.New("input not found in state")
	// ErrUnderfunded is returned when a sender cannot cover its pending
	// transactions.
	ErrUnderfunded = errors.New("sender cannot fund pending transactions")
	// ErrImmature is returned when a transaction spends a coinbase output
	// that has not aged past the maturity window.
	ErrImmature = errors.New("spends immature coinbase output")
	// ErrTxTooLarge is returned when a single transaction exceeds the
	// per-transaction size cap.
	ErrTxTooLarge = errors.New("transaction exceeds size limit")
)

// StateView is the read-only slice of world state admission consults.
// *state.WorldState satisfies it.
type StateView interface {
	Balance(addr types.Address) uint64
	Nonce(addr types.Address) uint64
	UTXO(op types.Outpoint) (state.UTXOEntry, bool)
	Height() uint64
	CoinbaseMaturity() uint64
}

// Config bounds the pool.
type Config struct {
	// MaxTxs caps the entry count. Zero means DefaultMaxTxs.
	MaxTxs int
	// MaxBytes caps the summed transaction sizes. Zero means
	// DefaultMaxBytes.
	MaxBytes int
	// MaxTxSize caps the size of a single transaction. Zero means
	// DefaultMaxTxSize.
	MaxTxSize int
	// MaxAge expires entries that sat unconfirmed too long. Zero means
	// DefaultMaxAge.
	MaxAge time.Duration
	// MinFeeRate is the admission floor in fee units per byte.
	MinFeeRate float64
}

// Pool defaults.
const (
	DefaultMaxTxs    = 4096
	DefaultMaxBytes  = 32 * 1024 * 1024
	DefaultMaxTxSize = 1 * 1024 * 1024
	DefaultMaxAge    = 2 * time.Hour
)

type entry struct {
	tx      *tx.Transaction
	id      types.Hash
	fee     uint64
	feeRate float64
	size    int
	arrived time.Time
	seq     uint64 // arrival order, breaks fee ties FIFO
}

// Pool is the transaction pool. Safe for concurrent use.
type Pool struct {
	mu  sync.Mutex
	cfg Config

	view StateView

	entries map[types.Hash]*entry
	// spends reserves each outpoint for the pooled transaction spending it.
	spends map[types.Outpoint]types.Hash
	// byNonce maps a pending (sender, nonce) pair to its transaction for
	// fee-based replacement.
	byNonce map[nonceKey]types.Hash
	// pendingCost accumulates amount+fee per sender for funding checks.
	pendingCost map[types.Address]uint64

	bytes int
	seq   uint64

	now func() time.Time
}

type nonceKey struct {
	sender types.Address
	nonce  uint64
}

// New creates a pool admitting against the given state view.
func New(cfg Config, view StateView) *Pool {
	if cfg.MaxTxs == 0 {
		cfg.MaxTxs = DefaultMaxTxs
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.MaxTxSize == 0 {
		cfg.MaxTxSize = DefaultMaxTxSize
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	return &Pool{
		cfg:         cfg,
		view:        view,
		entries:     make(map[types.Hash]*entry),
		spends:      make(map[types.Outpoint]types.Hash),
		byNonce:     make(map[nonceKey]types.Hash),
		pendingCost: make(map[types.Address]uint64),
		now:         time.Now,
	}
}

// Add admits a transaction. On success the transaction is fully verified:
// structurally valid, signed by the owners of the funds it moves, funded
// under the current state, and conflict-free against everything pooled.
func (p *Pool) Add(t *tx.Transaction) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.IsCoinbase() {
		return ErrCoinbase
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	id := t.Hash()
	if _, ok := p.entries[id]; ok {
		return fmt.Errorf("%w: %s", ErrKnownTx, id)
	}

	e := &entry{tx: t, id: id, size: t.Size(), arrived: p.now()}
	if e.size > p.cfg.MaxTxSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrTxTooLarge, e.size, p.cfg.MaxTxSize)
	}

	var replace *entry
	var err error
	switch t.Kind() {
	case tx.KindAccount:
		replace, err = p.admitAccount(t, e)
	case tx.KindUTXO:
		err = p.admitUTXO(t, e)
	}
	if err != nil {
		return err
	}
	if e.size > 0 {
		e.feeRate = float64(e.fee) / float64(e.size)
	}
	if e.feeRate < p.cfg.MinFeeRate {
		return fmt.Errorf("%w: %.4f < %.4f", ErrFeeTooLow, e.feeRate, p.cfg.MinFeeRate)
	}

	if replace != nil {
		p.drop(replace)
	}
	if err := p.makeRoom(e); err != nil {
		return err
	}
	p.insert(e)

	log.Mempool.Debug().
		Stringer("tx", id).
		Uint64("fee", e.fee).
		Float64("fee_rate", e.feeRate).
		Int("pool_size", len(p.entries)).
		Msg("transaction admitted")
	return nil
}

// admitAccount verifies an account transaction and returns the entry it
// replaces, if this is a fee bump of a pending nonce. Caller holds the lock.
func (p *Pool) admitAccount(t *tx.Transaction, e *entry) (*entry, error) {
	if err := t.VerifySender(); err != nil {
		return nil, err
	}
	fee, err := t.GasFee()
	if err != nil {
		return nil, err
	}
	e.fee = fee

	committed := p.view.Nonce(t.From)
	if t.Nonce <= committed {
		return nil, fmt.Errorf("%w: nonce %d, committed %d", ErrStaleNonce, t.Nonce, committed)
	}

	// Same sender and nonce: only a strictly better fee rate may replace.
	var replace *entry
	if prevID, ok := p.byNonce[nonceKey{t.From, t.Nonce}]; ok {
		prev := p.entries[prevID]
		newRate := float64(fee) / float64(e.size)
		if newRate <= prev.feeRate {
			return nil, fmt.Errorf("%w: nonce %d pending with fee rate %.4f", ErrConflict, t.Nonce, prev.feeRate)
		}
		replace = prev
	}

	cost := t.Amount + fee
	pending := p.pendingCost[t.From]
	if replace != nil {
		pending -= replace.tx.Amount + replace.fee
	}
	if p.view.Balance(t.From) < pending+cost {
		return nil, fmt.Errorf("%w: balance %d, pending %d, new %d",
			ErrUnderfunded, p.view.Balance(t.From), pending, cost)
	}
	return replace, nil
}

// admitUTXO verifies a UTXO transaction against state and the reservation
// set. Caller holds the lock.
func (p *Pool) admitUTXO(t *tx.Transaction, e *entry) error {
	// The earliest block this transaction can land in.
	spendHeight := p.view.Height() + 1
	maturity := p.view.CoinbaseMaturity()

	var inputSum uint64
	for i, in := range t.Inputs {
		if owner, ok := p.spends[in.PrevOut]; ok {
			return fmt.Errorf("%w: %s reserved by %s", ErrConflict, in.PrevOut, owner)
		}
		utxo, ok := p.view.UTXO(in.PrevOut)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownInput, in.PrevOut)
		}
		if utxo.Coinbase && spendHeight < utxo.Height+maturity {
			return fmt.Errorf("%w: %s matures at height %d, tip %d",
				ErrImmature, in.PrevOut, utxo.Height+maturity, p.view.Height())
		}
		if err := t.VerifyInput(i, utxo.Address); err != nil {
			return err
		}
		inputSum += utxo.Value
	}
	outputSum, err := t.TotalOutputValue()
	if err != nil {
		return err
	}
	if inputSum < outputSum {
		return fmt.Errorf("%w: inputs %d, outputs %d", ErrUnderfunded, inputSum, outputSum)
	}
	e.fee = inputSum - outputSum
	return nil
}

// insert adds an entry to every index. Caller holds the lock.
func (p *Pool) insert(e *entry) {
	e.seq = p.seq
	p.seq++
	p.entries[e.id] = e
	p.bytes += e.size
	for _, in := range e.tx.Inputs {
		p.spends[in.PrevOut] = e.id
	}
	if e.tx.Kind() == tx.KindAccount {
		p.byNonce[nonceKey{e.tx.From, e.tx.Nonce}] = e.id
		p.pendingCost[e.tx.From] += e.tx.Amount + e.fee
	}
}

// drop removes an entry from every index. Caller holds the lock.
func (p *Pool) drop(e *entry) {
	delete(p.entries, e.id)
	p.bytes -= e.size
	for _, in := range e.tx.Inputs {
		if p.spends[in.PrevOut] == e.id {
			delete(p.spends, in.PrevOut)
		}
	}
	if e.tx.Kind() == tx.KindAccount {
		key := nonceKey{e.tx.From, e.tx.Nonce}
		if p.byNonce[key] == e.id {
			delete(p.byNonce, key)
		}
		cost := e.tx.Amount + e.fee
		if p.pendingCost[e.tx.From] <= cost {
			delete(p.pendingCost, e.tx.From)
		} else {
			p.pendingCost[e.tx.From] -= cost
		}
	}
}

// Has reports whether the pool holds the transaction.
func (p *Pool) Has(id types.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[id]
	return ok
}

// Get returns a pooled transaction by id.
func (p *Pool) Get(id types.Hash) (*tx.Transaction, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[id]
	if !ok {
		return nil, false
	}
	return e.tx, true
}

// Len returns the number of pooled transactions.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Remove drops transactions by id, typically after block confirmation.
// Dropping a confirmed transaction also drops pooled transactions that
// conflict with it: anything spending the same outpoints or reusing a
// now-committed nonce.
func (p *Pool) Remove(txs []*tx.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, t := range txs {
		if e, ok := p.entries[t.Hash()]; ok {
			p.drop(e)
		}
		// Conflicting spends of the same outpoints are now invalid.
		for _, in := range t.Inputs {
			if id, ok := p.spends[in.PrevOut]; ok {
				if e, ok := p.entries[id]; ok {
					p.drop(e)
				}
			}
		}
		// Stale nonces from the same sender are now invalid.
		if t.Kind() == tx.KindAccount && !t.IsCoinbase() {
			if id, ok := p.byNonce[nonceKey{t.From, t.Nonce}]; ok {
				if e, ok := p.entries[id]; ok {
					p.drop(e)
				}
			}
		}
	}
}

// Select assembles the best package of transactions for a block: highest
// fee rate first, arrival order breaking ties, respecting the count and
// byte budgets. Account transactions are only taken in contiguous nonce
// order from each sender's committed nonce; a gap parks the rest of that
// sender's queue.
func (p *Pool) Select(maxTxs, maxBytes int) []*tx.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	ordered := p.sortedEntries()

	var (
		picked    []*tx.Transaction
		usedBytes int
		nextNonce = make(map[types.Address]uint64)
		spent     = make(map[types.Outpoint]struct{})
		parked    = make(map[types.Address][]*entry)
	)

	full := func() bool {
		return maxTxs > 0 && len(picked) >= maxTxs
	}
	fits := func(e *entry) bool {
		return maxBytes <= 0 || usedBytes+e.size <= maxBytes
	}
	take := func(e *entry) {
		picked = append(picked, e.tx)
		usedBytes += e.size
	}

	for _, e := range ordered {
		if full() {
			break
		}
		if !fits(e) {
			continue // a smaller transaction may still fit
		}
		t := e.tx
		switch t.Kind() {
		case tx.KindUTXO:
			conflict := false
			for _, in := range t.Inputs {
				if _, ok := spent[in.PrevOut]; ok {
					conflict = true
					break
				}
			}
			if conflict {
				continue
			}
			take(e)
			for _, in := range t.Inputs {
				spent[in.PrevOut] = struct{}{}
			}
		case tx.KindAccount:
			want, ok := nextNonce[t.From]
			if !ok {
				want = p.view.Nonce(t.From) + 1
			}
			switch {
			case t.Nonce == want:
				take(e)
				nextNonce[t.From] = want + 1
				// Parked successors may be unblocked now.
				queue := parked[t.From]
				for len(queue) > 0 && !full() &&
					queue[0].tx.Nonce == nextNonce[t.From] && fits(queue[0]) {
					take(queue[0])
					nextNonce[t.From]++
					queue = queue[1:]
				}
				parked[t.From] = queue
			case t.Nonce > want:
				// Out of order: park until predecessors are taken.
				q := parked[t.From]
				i := sort.Search(len(q), func(i int) bool { return q[i].tx.Nonce >= t.Nonce })
				q = append(q, nil)
				copy(q[i+1:], q[i:])
				q[i] = e
				parked[t.From] = q
			}
		}
	}
	return picked
}

// sortedEntries returns entries by descending fee rate, FIFO on ties.
// Caller holds the lock.
func (p *Pool) sortedEntries() []*entry {
	ordered := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].feeRate != ordered[j].feeRate {
			return ordered[i].feeRate > ordered[j].feeRate
		}
		return ordered[i].seq < ordered[j].seq
	})
	return ordered
}
