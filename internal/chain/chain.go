package chain

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/cobaltchain/cobalt/internal/consensus"
	"github.com/cobaltchain/cobalt/internal/log"
	"github.com/cobaltchain/cobalt/internal/mempool"
	"github.com/cobaltchain/cobalt/internal/state"
	"github.com/cobaltchain/cobalt/internal/storage"
	"github.com/cobaltchain/cobalt/pkg/block"
	"github.com/cobaltchain/cobalt/pkg/tx"
	"github.com/cobaltchain/cobalt/pkg/types"
)

var (
	// ErrKnownBlock is returned when a block was already processed.
	ErrKnownBlock = errors.New("block already known")
	// ErrOrphanBlock is returned when a block's parent is unknown; the
	// block is parked and reconsidered when the parent arrives.
	ErrOrphanBlock = errors.New("orphan block parked")
	// ErrBadBlock is returned when a block fails contextual validation.
	ErrBadBlock = errors.New("invalid block")
	// ErrSideChain is returned when a valid block lands on a branch that
	// does not outweigh the current tip.
	ErrSideChain = errors.New("block stored on side chain")
)

// TipListener is notified after the canonical tip changes.
type TipListener func(tip types.Hash, height uint64)

// Chain is the chain manager. It owns the canonical tip, the world state
// at that tip, and the fork-choice decision.
type Chain struct {
	mu sync.RWMutex

	params Params
	store  *BlockStore
	state  *state.WorldState
	engine consensus.Engine
	pool   *mempool.Pool // may be nil

	tip     block.Header
	tipHash types.Hash
	tipWork *big.Int

	orphans *orphanPool

	listeners []TipListener
	// pendingEvents queues tip notifications raised while the lock is
	// held; ProcessBlock drains them after unlocking.
	pendingEvents []tipEvent
	now           func() time.Time
}

type tipEvent struct {
	hash   types.Hash
	height uint64
}

// New opens a chain over the given database. A fresh database is
// initialized with the genesis block derived from params; an existing one
// is loaded and its state rebuilt by replay. pool may be nil for nodes
// that do not assemble blocks.
func New(params Params, db storage.DB, engine consensus.Engine, st *state.WorldState, pool *mempool.Pool) (*Chain, error) {
	params.Normalize()
	c := &Chain{
		params:  params,
		store:   NewBlockStore(db),
		state:   st,
		engine:  engine,
		pool:    pool,
		orphans: newOrphanPool(defaultOrphanLimit),
		now:     time.Now,
	}

	_, err := c.store.Tip()
	switch {
	case errors.Is(err, ErrBlockNotFound):
		if err := c.initGenesis(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		if err := c.load(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Store exposes the block store for read-only lookups (it also serves as
// the consensus engine's header source).
func (c *Chain) Store() *BlockStore {
	return c.store
}

// initGenesis writes the genesis block and seeds the initial state.
func (c *Chain) initGenesis() error {
	gb := c.params.GenesisBlock()
	hash := gb.Hash()

	if err := c.params.seedState(c.state, hash); err != nil {
		return err
	}
	if err := c.store.PutBlock(gb, new(big.Int)); err != nil {
		return err
	}
	if err := c.store.LinkCanonical(gb); err != nil {
		return err
	}
	if err := c.store.SetTip(hash); err != nil {
		return err
	}

	c.tip = gb.Header
	c.tipHash = hash
	c.tipWork = new(big.Int)

	log.Chain.Info().
		Stringer("hash", hash).
		Int64("timestamp", gb.Header.Timestamp).
		Msg("genesis block initialized")
	return nil
}

// load restores the tip from disk and rebuilds the world state by
// replaying the canonical chain. The state is not persisted separately, so
// replay is the source of truth after a restart.
func (c *Chain) load() error {
	tipHash, err := c.store.Tip()
	if err != nil {
		return err
	}
	tipBlock, err := c.store.Block(tipHash)
	if err != nil {
		return fmt.Errorf("load tip: %w", err)
	}
	work, err := c.store.CumulativeWork(tipHash)
	if err != nil {
		return fmt.Errorf("load tip work: %w", err)
	}

	rebuilt, err := c.replayCanonical(tipBlock.Header.Height)
	if err != nil {
		return fmt.Errorf("rebuild state: %w", err)
	}
	c.state.Restore(rebuilt.Snapshot())

	c.tip = tipBlock.Header
	c.tipHash = tipHash
	c.tipWork = work

	log.Chain.Info().
		Stringer("tip", tipHash).
		Uint64("height", c.tip.Height).
		Msg("chain loaded")
	return nil
}

// OnTipChange registers a listener invoked after every tip change,
// including reorgs. Listeners run synchronously under no chain lock.
func (c *Chain) OnTipChange(fn TipListener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

func (c *Chain) notifyTip(tip types.Hash, height uint64) {
	c.mu.RLock()
	listeners := make([]TipListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.RUnlock()
	for _, fn := range listeners {
		fn(tip, height)
	}
}

// TipHeader returns a copy of the canonical tip header.
func (c *Chain) TipHeader() block.Header {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tip
}

// TipHash returns the canonical tip hash.
func (c *Chain) TipHash() types.Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tipHash
}

// Height returns the canonical tip height.
func (c *Chain) Height() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tip.Height
}

// Work returns the cumulative fork-choice weight at the tip.
func (c *Chain) Work() *big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return new(big.Int).Set(c.tipWork)
}

// StateRoot returns the state root at the canonical tip.
func (c *Chain) StateRoot() types.Hash {
	return c.state.Root()
}

// Balance returns the spendable balance at the canonical tip.
func (c *Chain) Balance(addr types.Address) uint64 {
	return c.state.Balance(addr)
}

// BlockByHash loads any stored block.
func (c *Chain) BlockByHash(hash types.Hash) (*block.Block, error) {
	return c.store.Block(hash)
}

// BlockByHeight loads the canonical block at a height.
func (c *Chain) BlockByHeight(height uint64) (*block.Block, error) {
	return c.store.BlockByHeight(height)
}

// TxByID locates a transaction on the canonical chain and the block
// containing it.
func (c *Chain) TxByID(txid types.Hash) (*tx.Transaction, types.Hash, error) {
	blockHash, err := c.store.TxBlock(txid)
	if err != nil {
		return nil, types.Hash{}, err
	}
	b, err := c.store.Block(blockHash)
	if err != nil {
		return nil, types.Hash{}, err
	}
	for _, t := range b.Transactions {
		if t.Hash() == txid {
			return t, blockHash, nil
		}
	}
	return nil, types.Hash{}, fmt.Errorf("%w: tx %s missing from indexed block", ErrBlockNotFound, txid)
}

// Params returns the protocol parameters.
func (c *Chain) Params() Params {
	return c.params
}
