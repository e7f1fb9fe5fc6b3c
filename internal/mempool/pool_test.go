package mempool

import (
	"errors"
	"testing"
	"time"

	"github.com/cobaltchain/cobalt/internal/state"
	"github.com/cobaltchain/cobalt/pkg/crypto"
	"github.com/cobaltchain/cobalt/pkg/tx"
	"github.com/cobaltchain/cobalt/pkg/types"
)

// fakeView is a hand-rolled state view for admission tests.
type fakeView struct {
	balances map[types.Address]uint64
	nonces   map[types.Address]uint64
	utxos    map[types.Outpoint]state.UTXOEntry
	height   uint64
	maturity uint64
}

func newFakeView() *fakeView {
	return &fakeView{
		balances: make(map[types.Address]uint64),
		nonces:   make(map[types.Address]uint64),
		utxos:    make(map[types.Outpoint]state.UTXOEntry),
	}
}

func (f *fakeView) Balance(addr types.Address) uint64 { return f.balances[addr] }
func (f *fakeView) Nonce(addr types.Address) uint64   { return f.nonces[addr] }
func (f *fakeView) UTXO(op types.Outpoint) (state.UTXOEntry, bool) {
	e, ok := f.utxos[op]
	return e, ok
}
func (f *fakeView) Height() uint64           { return f.height }
func (f *fakeView) CoinbaseMaturity() uint64 { return f.maturity }

func newKey(t *testing.T) (*crypto.PrivateKey, types.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key, crypto.AddressFromPubKey(key.PublicKey())
}

func accountTx(t *testing.T, key *crypto.PrivateKey, from, to types.Address, amount, nonce, gasPrice uint64) *tx.Transaction {
	t.Helper()
	txn := &tx.Transaction{
		Version: 1, From: from, To: to, Amount: amount, Nonce: nonce,
		GasLimit: 100, GasPrice: gasPrice,
	}
	if err := txn.Sign(key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return txn
}

func utxoTx(t *testing.T, key *crypto.PrivateKey, owner types.Address, in types.Outpoint, outValue uint64, to types.Address) *tx.Transaction {
	t.Helper()
	txn := &tx.Transaction{
		Version: 1,
		Inputs:  []tx.Input{{PrevOut: in}},
		Outputs: []tx.Output{{Value: outValue, Address: to}},
	}
	if err := txn.SignInput(0, key, owner); err != nil {
		t.Fatalf("sign input: %v", err)
	}
	return txn
}

func TestAddAndSelect(t *testing.T) {
	aliceKey, alice := newKey(t)
	_, bob := newKey(t)

	view := newFakeView()
	view.balances[alice] = 1_000_000
	pool := New(Config{}, view)

	txn := accountTx(t, aliceKey, alice, bob, 500, 1, 2)
	if err := pool.Add(txn); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !pool.Has(txn.Hash()) {
		t.Error("pool does not report the added tx")
	}
	if err := pool.Add(txn); !errors.Is(err, ErrKnownTx) {
		t.Errorf("re-add: got %v, want ErrKnownTx", err)
	}

	got := pool.Select(0, 0)
	if len(got) != 1 || got[0].Hash() != txn.Hash() {
		t.Fatalf("Select returned %d txs", len(got))
	}
}

func TestAddRejectsCoinbase(t *testing.T) {
	_, alice := newKey(t)
	pool := New(Config{}, newFakeView())
	if err := pool.Add(tx.NewCoinbase(alice, 100, 1)); !errors.Is(err, ErrCoinbase) {
		t.Errorf("got %v, want ErrCoinbase", err)
	}
}

func TestAddRejectsStaleNonce(t *testing.T) {
	aliceKey, alice := newKey(t)
	_, bob := newKey(t)

	view := newFakeView()
	view.balances[alice] = 1_000_000
	view.nonces[alice] = 5
	pool := New(Config{}, view)

	if err := pool.Add(accountTx(t, aliceKey, alice, bob, 10, 5, 1)); !errors.Is(err, ErrStaleNonce) {
		t.Errorf("got %v, want ErrStaleNonce", err)
	}
	if err := pool.Add(accountTx(t, aliceKey, alice, bob, 10, 6, 1)); err != nil {
		t.Errorf("next nonce rejected: %v", err)
	}
}

func TestAddRejectsUnderfundedPending(t *testing.T) {
	aliceKey, alice := newKey(t)
	_, bob := newKey(t)

	view := newFakeView()
	view.balances[alice] = 1000
	pool := New(Config{}, view)

	// 600 + 100 fee leaves 300, not enough for another 600.
	if err := pool.Add(accountTx(t, aliceKey, alice, bob, 600, 1, 1)); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := pool.Add(accountTx(t, aliceKey, alice, bob, 600, 2, 1)); !errors.Is(err, ErrUnderfunded) {
		t.Errorf("got %v, want ErrUnderfunded", err)
	}
}

func TestFeeBumpReplacement(t *testing.T) {
	aliceKey, alice := newKey(t)
	_, bob := newKey(t)

	view := newFakeView()
	view.balances[alice] = 1_000_000
	pool := New(Config{}, view)

	cheap := accountTx(t, aliceKey, alice, bob, 100, 1, 1)
	if err := pool.Add(cheap); err != nil {
		t.Fatalf("add cheap: %v", err)
	}

	// Same nonce, same fee: rejected.
	sameFee := accountTx(t, aliceKey, alice, bob, 101, 1, 1)
	if err := pool.Add(sameFee); !errors.Is(err, ErrConflict) {
		t.Errorf("equal fee replacement: got %v, want ErrConflict", err)
	}

	// Same nonce, higher fee: replaces.
	bump := accountTx(t, aliceKey, alice, bob, 100, 1, 5)
	if err := pool.Add(bump); err != nil {
		t.Fatalf("fee bump: %v", err)
	}
	if pool.Has(cheap.Hash()) {
		t.Error("replaced tx still pooled")
	}
	if !pool.Has(bump.Hash()) {
		t.Error("bump tx not pooled")
	}
	if pool.Len() != 1 {
		t.Errorf("pool size = %d, want 1", pool.Len())
	}
}

func TestUTXOConflictRejected(t *testing.T) {
	aliceKey, alice := newKey(t)
	_, bob := newKey(t)
	_, carol := newKey(t)

	view := newFakeView()
	funding := types.Outpoint{TxID: types.Hash{1}, Index: 0}
	view.utxos[funding] = state.UTXOEntry{Value: 100, Address: alice}
	pool := New(Config{}, view)

	first := utxoTx(t, aliceKey, alice, funding, 90, bob)
	if err := pool.Add(first); err != nil {
		t.Fatalf("add: %v", err)
	}

	double := utxoTx(t, aliceKey, alice, funding, 90, carol)
	if err := pool.Add(double); !errors.Is(err, ErrConflict) {
		t.Errorf("double spend: got %v, want ErrConflict", err)
	}
}

func TestUTXOUnknownInput(t *testing.T) {
	aliceKey, alice := newKey(t)
	_, bob := newKey(t)

	pool := New(Config{}, newFakeView())
	ghost := utxoTx(t, aliceKey, alice, types.Outpoint{TxID: types.Hash{9}, Index: 0}, 10, bob)
	if err := pool.Add(ghost); !errors.Is(err, ErrUnknownInput) {
		t.Errorf("got %v, want ErrUnknownInput", err)
	}
}

func TestSelectFeePriorityAndFIFO(t *testing.T) {
	view := newFakeView()
	pool := New(Config{}, view)
	_, dest := newKey(t)

	// Three senders with distinct gas prices; two with equal prices to
	// exercise the FIFO tie break.
	type sender struct {
		gasPrice uint64
	}
	senders := []sender{{5}, {1}, {3}, {3}}
	var ids []types.Hash
	for _, s := range senders {
		key, addr := newKey(t)
		view.balances[addr] = 1_000_000
		txn := accountTx(t, key, addr, dest, 10, 1, s.gasPrice)
		if err := pool.Add(txn); err != nil {
			t.Fatalf("add: %v", err)
		}
		ids = append(ids, txn.Hash())
	}

	got := pool.Select(0, 0)
	if len(got) != 4 {
		t.Fatalf("Select returned %d txs, want 4", len(got))
	}
	wantOrder := []types.Hash{ids[0], ids[2], ids[3], ids[1]}
	for i, want := range wantOrder {
		if got[i].Hash() != want {
			t.Errorf("position %d: wrong tx (gas prices out of order)", i)
		}
	}
}

func TestSelectNonceOrderWithinSender(t *testing.T) {
	aliceKey, alice := newKey(t)
	_, bob := newKey(t)

	view := newFakeView()
	view.balances[alice] = 1_000_000
	pool := New(Config{}, view)

	// Later nonce pays more, but must still come after its predecessor.
	low := accountTx(t, aliceKey, alice, bob, 10, 1, 1)
	high := accountTx(t, aliceKey, alice, bob, 10, 2, 50)
	if err := pool.Add(high); err != nil {
		t.Fatalf("add high: %v", err)
	}
	if err := pool.Add(low); err != nil {
		t.Fatalf("add low: %v", err)
	}

	got := pool.Select(0, 0)
	if len(got) != 2 {
		t.Fatalf("Select returned %d txs, want 2", len(got))
	}
	if got[0].Nonce != 1 || got[1].Nonce != 2 {
		t.Errorf("nonces out of order: %d, %d", got[0].Nonce, got[1].Nonce)
	}
}

func TestSelectSkipsNonceGap(t *testing.T) {
	aliceKey, alice := newKey(t)
	_, bob := newKey(t)

	view := newFakeView()
	view.balances[alice] = 1_000_000
	pool := New(Config{}, view)

	// Nonce 1 is missing; nonces 2 and 3 must not be selected.
	if err := pool.Add(accountTx(t, aliceKey, alice, bob, 10, 2, 1)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := pool.Add(accountTx(t, aliceKey, alice, bob, 10, 3, 1)); err != nil {
		t.Fatalf("add: %v", err)
	}

	if got := pool.Select(0, 0); len(got) != 0 {
		t.Errorf("Select returned %d txs across a nonce gap, want 0", len(got))
	}
}

func TestSelectRespectsLimits(t *testing.T) {
	view := newFakeView()
	pool := New(Config{}, view)
	_, dest := newKey(t)

	for i := 0; i < 5; i++ {
		key, addr := newKey(t)
		view.balances[addr] = 1_000_000
		if err := pool.Add(accountTx(t, key, addr, dest, 10, 1, 1)); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	if got := pool.Select(3, 0); len(got) != 3 {
		t.Errorf("count-limited Select returned %d, want 3", len(got))
	}

	one := pool.Content()[0]
	if got := pool.Select(0, one.Size()); len(got) != 1 {
		t.Errorf("byte-limited Select returned %d, want 1", len(got))
	}
}

func TestEvictionPrefersLowestFee(t *testing.T) {
	view := newFakeView()
	pool := New(Config{MaxTxs: 2}, view)
	_, dest := newKey(t)

	add := func(gasPrice uint64) *tx.Transaction {
		key, addr := newKey(t)
		view.balances[addr] = 1_000_000
		txn := accountTx(t, key, addr, dest, 10, 1, gasPrice)
		if err := pool.Add(txn); err != nil {
			t.Fatalf("add: %v", err)
		}
		return txn
	}

	cheap := add(1)
	mid := add(3)
	rich := add(5) // pool full: must evict cheap

	if pool.Has(cheap.Hash()) {
		t.Error("cheapest tx survived eviction")
	}
	if !pool.Has(mid.Hash()) || !pool.Has(rich.Hash()) {
		t.Error("better-paying txs were evicted")
	}

	// A newcomer cheaper than everything pooled is rejected outright.
	key, addr := newKey(t)
	view.balances[addr] = 1_000_000
	outbid := accountTx(t, key, addr, dest, 10, 1, 1)
	if err := pool.Add(outbid); !errors.Is(err, ErrPoolFull) {
		t.Errorf("got %v, want ErrPoolFull", err)
	}
}

func TestExpire(t *testing.T) {
	aliceKey, alice := newKey(t)
	_, bob := newKey(t)

	view := newFakeView()
	view.balances[alice] = 1_000_000
	pool := New(Config{MaxAge: time.Minute}, view)

	current := time.Now()
	pool.now = func() time.Time { return current }

	if err := pool.Add(accountTx(t, aliceKey, alice, bob, 10, 1, 1)); err != nil {
		t.Fatalf("add: %v", err)
	}

	current = current.Add(30 * time.Second)
	if n := pool.Expire(); n != 0 {
		t.Errorf("expired %d fresh txs", n)
	}

	current = current.Add(2 * time.Minute)
	if n := pool.Expire(); n != 1 {
		t.Errorf("expired %d txs, want 1", n)
	}
	if pool.Len() != 0 {
		t.Error("expired tx still pooled")
	}
}

func TestRemoveConfirmedAndConflicts(t *testing.T) {
	aliceKey, alice := newKey(t)
	_, bob := newKey(t)
	_, carol := newKey(t)

	view := newFakeView()
	funding := types.Outpoint{TxID: types.Hash{1}, Index: 0}
	view.utxos[funding] = state.UTXOEntry{Value: 100, Address: alice}
	view.balances[alice] = 1_000_000
	pool := New(Config{}, view)

	pooledSpend := utxoTx(t, aliceKey, alice, funding, 90, bob)
	if err := pool.Add(pooledSpend); err != nil {
		t.Fatalf("add: %v", err)
	}
	pooledTransfer := accountTx(t, aliceKey, alice, bob, 10, 1, 1)
	if err := pool.Add(pooledTransfer); err != nil {
		t.Fatalf("add: %v", err)
	}

	// A block confirms a different spend of the same outpoint and a
	// transfer with the same nonce.
	confirmedSpend := utxoTx(t, aliceKey, alice, funding, 80, carol)
	confirmedTransfer := accountTx(t, aliceKey, alice, carol, 20, 1, 2)
	pool.Remove([]*tx.Transaction{confirmedSpend, confirmedTransfer})

	if pool.Has(pooledSpend.Hash()) {
		t.Error("conflicting spend survived Remove")
	}
	if pool.Has(pooledTransfer.Hash()) {
		t.Error("stale-nonce transfer survived Remove")
	}
	if pool.Len() != 0 {
		t.Errorf("pool size = %d, want 0", pool.Len())
	}
}

func TestStats(t *testing.T) {
	view := newFakeView()
	pool := New(Config{}, view)
	_, dest := newKey(t)

	for _, gasPrice := range []uint64{1, 4} {
		key, addr := newKey(t)
		view.balances[addr] = 1_000_000
		if err := pool.Add(accountTx(t, key, addr, dest, 10, 1, gasPrice)); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	s := pool.Stats()
	if s.Count != 2 {
		t.Errorf("count = %d, want 2", s.Count)
	}
	if s.Bytes <= 0 {
		t.Error("bytes not tracked")
	}
	if s.TotalFees != 500 { // 100 gas * (1 + 4)
		t.Errorf("total fees = %d, want 500", s.TotalFees)
	}
	if s.MinFeeRate >= s.MaxFeeRate {
		t.Error("fee rate bounds not tracked")
	}
}

func TestAddRejectsImmatureCoinbaseSpend(t *testing.T) {
	key, alice := newKey(t)
	_, bob := newKey(t)

	view := newFakeView()
	view.height = 1
	view.maturity = 10
	reward := types.Outpoint{TxID: types.Hash{0xcb}, Index: 0}
	view.utxos[reward] = state.UTXOEntry{Value: 5000, Address: alice, Coinbase: true, Height: 1}
	pool := New(Config{}, view)

	spend := utxoTx(t, key, alice, reward, 4000, bob)
	if err := pool.Add(spend); !errors.Is(err, ErrImmature) {
		t.Fatalf("immature spend: got %v, want ErrImmature", err)
	}
	if pool.Len() != 0 {
		t.Fatalf("pool size = %d, want 0", pool.Len())
	}

	// One block short of maturity: still rejected.
	view.height = 9
	if err := pool.Add(spend); !errors.Is(err, ErrImmature) {
		t.Fatalf("spend at tip 9: got %v, want ErrImmature", err)
	}

	// At tip 10 the spend lands in block 11 = 1 + maturity.
	view.height = 10
	if err := pool.Add(spend); err != nil {
		t.Fatalf("mature spend rejected: %v", err)
	}
}

func TestAddImmatureAgainstWorldState(t *testing.T) {
	key, alice := newKey(t)
	_, bob := newKey(t)

	w := state.New(state.Config{Model: state.ModelUTXO, CoinbaseMaturity: 10})
	cb := tx.NewCoinbase(alice, 5000, 1)
	if _, err := w.Apply(cb, 1); err != nil {
		t.Fatalf("apply coinbase: %v", err)
	}
	pool := New(Config{}, w)

	reward := types.Outpoint{TxID: cb.Hash(), Index: 0}
	spend := utxoTx(t, key, alice, reward, 4000, bob)
	if err := pool.Add(spend); !errors.Is(err, ErrImmature) {
		t.Fatalf("got %v, want ErrImmature", err)
	}
}

func TestAddRejectsOversizedTransaction(t *testing.T) {
	key, alice := newKey(t)
	_, bob := newKey(t)

	view := newFakeView()
	view.balances[alice] = 1_000_000
	pool := New(Config{MaxTxSize: 64}, view)

	txn := accountTx(t, key, alice, bob, 10, 1, 1)
	txn.Payload = make([]byte, 128)
	if err := txn.Sign(key); err != nil {
		t.Fatalf("re-sign: %v", err)
	}
	if err := pool.Add(txn); !errors.Is(err, ErrTxTooLarge) {
		t.Fatalf("got %v, want ErrTxTooLarge", err)
	}

	// The same transaction fits under the default limit.
	roomy := New(Config{}, view)
	if err := roomy.Add(txn); err != nil {
		t.Fatalf("default limit rejected a small transaction: %v", err)
	}
}
