// Package node wires the chain, mempool, consensus engine, and miner into
// a running service. Networking is out of scope: blocks and transactions
// enter through Submit methods and leave through broadcast hooks.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cobaltchain/cobalt/internal/chain"
	"github.com/cobaltchain/cobalt/internal/consensus"
	"github.com/cobaltchain/cobalt/internal/log"
	"github.com/cobaltchain/cobalt/internal/mempool"
	"github.com/cobaltchain/cobalt/internal/miner"
	"github.com/cobaltchain/cobalt/pkg/block"
	"github.com/cobaltchain/cobalt/pkg/tx"
	"github.com/cobaltchain/cobalt/pkg/types"
)

// Config controls the node's behavior.
type Config struct {
	// Produce enables block production.
	Produce bool
	// SlotDelay is the pause before retrying production after an
	// unauthorized slot or an exhausted search. Zero means DefaultSlotDelay.
	SlotDelay time.Duration
	// ExpireInterval is how often the mempool is swept for stale entries.
	// Zero means DefaultExpireInterval.
	ExpireInterval time.Duration
}

// Node timing defaults.
const (
	DefaultSlotDelay      = time.Second
	DefaultExpireInterval = time.Minute
)

// Node is the assembled service.
type Node struct {
	cfg    Config
	chain  *chain.Chain
	pool   *mempool.Pool
	miner  *miner.Miner
	engine consensus.Engine

	// Broadcast hooks; nil hooks are skipped. Transport wires these.
	broadcastBlock func(*block.Block)
	broadcastTx    func(*tx.Transaction)

	mu         sync.Mutex
	cancelMine context.CancelFunc

	quit chan struct{}
	wg   sync.WaitGroup
}

// New assembles a node. miner may be nil when Produce is off.
func New(cfg Config, c *chain.Chain, pool *mempool.Pool, m *miner.Miner, engine consensus.Engine) *Node {
	if cfg.SlotDelay == 0 {
		cfg.SlotDelay = DefaultSlotDelay
	}
	if cfg.ExpireInterval == 0 {
		cfg.ExpireInterval = DefaultExpireInterval
	}
	return &Node{
		cfg:    cfg,
		chain:  c,
		pool:   pool,
		miner:  m,
		engine: engine,
		quit:   make(chan struct{}),
	}
}

// SetBroadcast installs the outbound hooks invoked for every locally
// produced block and every accepted transaction.
func (n *Node) SetBroadcast(blockFn func(*block.Block), txFn func(*tx.Transaction)) {
	n.broadcastBlock = blockFn
	n.broadcastTx = txFn
}

// Start launches the background workers. A tip change cancels any
// production attempt in flight so the next one builds on the new tip.
func (n *Node) Start() error {
	if n.cfg.Produce && n.miner == nil {
		return fmt.Errorf("production enabled without a miner")
	}

	n.chain.OnTipChange(func(tip types.Hash, height uint64) {
		n.interruptProduction()
	})

	n.wg.Add(1)
	go n.sweepLoop()

	if n.cfg.Produce {
		n.wg.Add(1)
		go n.produceLoop()
	}

	log.Node.Info().
		Bool("produce", n.cfg.Produce).
		Str("engine", n.engine.Type()).
		Uint64("height", n.chain.Height()).
		Msg("node started")
	return nil
}

// Stop shuts the workers down and waits for them.
func (n *Node) Stop() {
	close(n.quit)
	n.interruptProduction()
	n.wg.Wait()
	log.Node.Info().Msg("node stopped")
}

func (n *Node) interruptProduction() {
	n.mu.Lock()
	cancel := n.cancelMine
	n.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// produceLoop repeatedly assembles and seals blocks. A failed or
// interrupted attempt backs off briefly; a sealed block is submitted to
// the chain and broadcast.
func (n *Node) produceLoop() {
	defer n.wg.Done()

	for {
		select {
		case <-n.quit:
			return
		default:
		}

		ctx, cancel := context.WithCancel(context.Background())
		n.mu.Lock()
		n.cancelMine = cancel
		n.mu.Unlock()

		b, err := n.miner.Mine(ctx)
		cancel()

		switch {
		case err == nil:
			if perr := n.chain.ProcessBlock(b); perr != nil {
				if !errors.Is(perr, chain.ErrKnownBlock) {
					log.Node.Warn().Err(perr).Msg("rejected own block")
				}
				continue
			}
			if n.broadcastBlock != nil {
				n.broadcastBlock(b)
			}
		case errors.Is(err, consensus.ErrNoSolution):
			// Budget exhausted; reassemble with a fresh timestamp.
		case errors.Is(err, consensus.ErrUnauthorized):
			// Not our slot; wait for the next one or a tip change.
			n.pause(n.cfg.SlotDelay)
		case errors.Is(err, context.Canceled):
			// Tip changed under us; rebuild immediately.
		default:
			log.Node.Error().Err(err).Msg("block production failed")
			n.pause(n.cfg.SlotDelay)
		}
	}
}

// sweepLoop periodically expires stale mempool entries.
func (n *Node) sweepLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.cfg.ExpireInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.quit:
			return
		case <-ticker.C:
			n.pool.Expire()
		}
	}
}

func (n *Node) pause(d time.Duration) {
	select {
	case <-n.quit:
	case <-time.After(d):
	}
}

// SubmitTransaction admits a transaction into the pool and broadcasts it.
// The entry point for both local submission and gossip.
func (n *Node) SubmitTransaction(t *tx.Transaction) error {
	if err := n.pool.Add(t); err != nil {
		return err
	}
	if n.broadcastTx != nil {
		n.broadcastTx(t)
	}
	return nil
}

// SubmitBlock feeds an externally received block into the chain. Known
// blocks are ignored; orphans are parked and reported.
func (n *Node) SubmitBlock(b *block.Block) error {
	err := n.chain.ProcessBlock(b)
	if errors.Is(err, chain.ErrKnownBlock) {
		return nil
	}
	return err
}

// Chain exposes the chain manager for queries.
func (n *Node) Chain() *chain.Chain {
	return n.chain
}

// Pool exposes the mempool for queries.
func (n *Node) Pool() *mempool.Pool {
	return n.pool
}
