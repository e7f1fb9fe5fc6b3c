// Package miner assembles block candidates from the mempool and drives the
// consensus engine to seal them.
package miner

import (
	"context"
	"fmt"
	"time"

	"github.com/cobaltchain/cobalt/internal/chain"
	"github.com/cobaltchain/cobalt/internal/consensus"
	"github.com/cobaltchain/cobalt/internal/log"
	"github.com/cobaltchain/cobalt/internal/mempool"
	"github.com/cobaltchain/cobalt/internal/state"
	"github.com/cobaltchain/cobalt/pkg/block"
	"github.com/cobaltchain/cobalt/pkg/tx"
	"github.com/cobaltchain/cobalt/pkg/types"
)

// Config bounds the blocks the miner assembles.
type Config struct {
	// Coinbase receives block rewards and fees.
	Coinbase types.Address
	// MaxTxs caps transactions per block, coinbase excluded. Zero means
	// DefaultMaxTxs.
	MaxTxs int
	// MaxBytes caps the candidate's transaction bytes. Zero means
	// DefaultMaxBytes.
	MaxBytes int
}

// Candidate limits.
const (
	DefaultMaxTxs   = 2000
	DefaultMaxBytes = 1 * 1024 * 1024
)

// Miner builds and seals blocks on top of the canonical tip.
type Miner struct {
	cfg    Config
	chain  *chain.Chain
	pool   *mempool.Pool
	engine consensus.Engine
	view   *state.WorldState
	now    func() time.Time
}

// New creates a miner. The state view prices UTXO inputs when summing
// candidate fees.
func New(cfg Config, c *chain.Chain, pool *mempool.Pool, engine consensus.Engine, view *state.WorldState) *Miner {
	if cfg.MaxTxs == 0 {
		cfg.MaxTxs = DefaultMaxTxs
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	return &Miner{cfg: cfg, chain: c, pool: pool, engine: engine, view: view, now: time.Now}
}

// BuildCandidate assembles an unsealed block on the current tip: the best
// mempool package plus a coinbase claiming the subsidy and the fees.
func (m *Miner) BuildCandidate() (*block.Block, error) {
	parent := m.chain.TipHeader()
	height := parent.Height + 1

	txs := m.pool.Select(m.cfg.MaxTxs, m.cfg.MaxBytes)
	fees, err := m.sumFees(txs)
	if err != nil {
		return nil, fmt.Errorf("price candidate fees: %w", err)
	}

	reward := m.chain.Params().BlockReward
	coinbase := tx.NewCoinbase(m.cfg.Coinbase, reward+fees, height)
	all := append([]*tx.Transaction{coinbase}, txs...)

	timestamp := m.now().Unix()
	if timestamp <= parent.Timestamp {
		timestamp = parent.Timestamp + 1
	}

	b := block.New(block.CurrentVersion, parent.Hash(), height, timestamp, 0, all)
	if err := m.engine.Prepare(&parent, &b.Header); err != nil {
		return nil, fmt.Errorf("prepare header: %w", err)
	}
	return b, nil
}

// sumFees prices the selected transactions. Account fees are explicit;
// UTXO fees are the input value in excess of the outputs.
func (m *Miner) sumFees(txs []*tx.Transaction) (uint64, error) {
	var fees uint64
	for _, t := range txs {
		switch t.Kind() {
		case tx.KindAccount:
			fee, err := t.GasFee()
			if err != nil {
				return 0, err
			}
			fees += fee
		case tx.KindUTXO:
			var in uint64
			for _, input := range t.Inputs {
				utxo, ok := m.view.UTXO(input.PrevOut)
				if !ok {
					return 0, fmt.Errorf("tx %s: input %s vanished", t.Hash(), input.PrevOut)
				}
				in += utxo.Value
			}
			out, err := t.TotalOutputValue()
			if err != nil {
				return 0, err
			}
			if in < out {
				return 0, fmt.Errorf("tx %s: outputs exceed inputs", t.Hash())
			}
			fees += in - out
		}
	}
	return fees, nil
}

// Mine assembles a candidate and runs the engine over it. Returns the
// sealed block, or nil with consensus.ErrNoSolution when the budget ran
// out, or nil with consensus.ErrUnauthorized when this node cannot produce
// the slot.
func (m *Miner) Mine(ctx context.Context) (*block.Block, error) {
	b, err := m.BuildCandidate()
	if err != nil {
		return nil, err
	}

	started := m.now()
	proof, err := m.engine.Produce(ctx, &b.Header)
	if err != nil {
		return nil, err
	}
	b.Proof = proof

	log.Miner.Info().
		Stringer("hash", b.Hash()).
		Uint64("height", b.Header.Height).
		Int("txs", len(b.Transactions)).
		Dur("took", m.now().Sub(started)).
		Msg("block sealed")
	return b, nil
}
