package chain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/cobaltchain/cobalt/internal/log"
	"github.com/cobaltchain/cobalt/internal/state"
	"github.com/cobaltchain/cobalt/pkg/block"
	"github.com/cobaltchain/cobalt/pkg/types"
)

const defaultOrphanLimit = 128

// orphanPool parks blocks whose parents have not arrived, indexed by the
// missing parent so they can be revisited the moment it connects.
type orphanPool struct {
	byParent map[types.Hash][]*block.Block
	known    map[types.Hash]struct{}
	order    []types.Hash // FIFO eviction
	limit    int
}

func newOrphanPool(limit int) *orphanPool {
	return &orphanPool{
		byParent: make(map[types.Hash][]*block.Block),
		known:    make(map[types.Hash]struct{}),
		limit:    limit,
	}
}

func (o *orphanPool) add(b *block.Block) {
	hash := b.Hash()
	if _, ok := o.known[hash]; ok {
		return
	}
	for len(o.known) >= o.limit && len(o.order) > 0 {
		o.evict(o.order[0])
	}
	o.known[hash] = struct{}{}
	o.order = append(o.order, hash)
	o.byParent[b.Header.PrevHash] = append(o.byParent[b.Header.PrevHash], b)
}

func (o *orphanPool) evict(hash types.Hash) {
	delete(o.known, hash)
	for i, h := range o.order {
		if h == hash {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
	for parent, children := range o.byParent {
		for i, child := range children {
			if child.Hash() == hash {
				o.byParent[parent] = append(children[:i], children[i+1:]...)
				if len(o.byParent[parent]) == 0 {
					delete(o.byParent, parent)
				}
				break
			}
		}
	}
}

// take removes and returns the orphans waiting on a parent.
func (o *orphanPool) take(parent types.Hash) []*block.Block {
	children := o.byParent[parent]
	for _, child := range children {
		o.evict(child.Hash())
	}
	return children
}

func (o *orphanPool) size() int {
	return len(o.known)
}

// ProcessBlock runs the admission pipeline on a block: structural
// validation, parent linkage, contextual and consensus verification, state
// application, and fork choice. Valid blocks extending the best chain
// become the new tip; valid blocks on heavier side branches trigger a
// reorg; lighter branches are stored and reported as ErrSideChain.
func (c *Chain) ProcessBlock(b *block.Block) error {
	hash := b.Hash()

	if err := b.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrBadBlock, err)
	}

	c.mu.Lock()
	err := c.processLocked(b, hash)
	events := c.pendingEvents
	c.pendingEvents = nil
	c.mu.Unlock()

	for _, e := range events {
		c.notifyTip(e.hash, e.height)
	}
	return err
}

// processLocked is the body of ProcessBlock. Caller holds the lock.
func (c *Chain) processLocked(b *block.Block, hash types.Hash) error {
	if known, err := c.store.HasBlock(hash); err != nil {
		return err
	} else if known {
		return fmt.Errorf("%w: %s", ErrKnownBlock, hash)
	}

	parentExists, err := c.store.HasBlock(b.Header.PrevHash)
	if err != nil {
		return err
	}
	if !parentExists {
		c.orphans.add(b)
		log.Chain.Debug().
			Stringer("hash", hash).
			Stringer("parent", b.Header.PrevHash).
			Int("orphans", c.orphans.size()).
			Msg("parked orphan block")
		return fmt.Errorf("%w: %s waits for %s", ErrOrphanBlock, hash, b.Header.PrevHash)
	}

	// A side-chain block is stored even though it is not the tip, so
	// orphans waiting on it are resolvable either way.
	err = c.acceptBlock(b)
	if err != nil && !errors.Is(err, ErrSideChain) {
		return err
	}
	c.adoptOrphans(hash)
	return err
}

// acceptBlock verifies and places a block whose parent is known.
// Caller holds the lock.
func (c *Chain) acceptBlock(b *block.Block) error {
	hash := b.Hash()
	parent, err := c.store.Block(b.Header.PrevHash)
	if err != nil {
		return err
	}

	if err := c.verifyContext(&parent.Header, b); err != nil {
		return fmt.Errorf("%w: %v", ErrBadBlock, err)
	}

	parentWork, err := c.store.CumulativeWork(b.Header.PrevHash)
	if err != nil {
		return err
	}
	work := new(big.Int).Add(parentWork, c.engine.Work(&b.Header))

	if b.Header.PrevHash == c.tipHash {
		return c.connectTip(b, work)
	}

	// Side branch: persist, then let fork choice decide.
	if err := c.store.PutBlock(b, work); err != nil {
		return err
	}
	if work.Cmp(c.tipWork) > 0 {
		return c.reorg(b, work)
	}
	log.Chain.Debug().
		Stringer("hash", hash).
		Uint64("height", b.Header.Height).
		Msg("stored side-chain block")
	return fmt.Errorf("%w: %s", ErrSideChain, hash)
}

// verifyContext checks a block against its parent: height continuity,
// timestamp bounds, the consensus header fields, and the consensus proof.
func (c *Chain) verifyContext(parent *block.Header, b *block.Block) error {
	h := &b.Header
	if h.Height != parent.Height+1 {
		return fmt.Errorf("height %d does not follow parent height %d", h.Height, parent.Height)
	}
	if h.Timestamp <= parent.Timestamp {
		return fmt.Errorf("timestamp %d not after parent's %d", h.Timestamp, parent.Timestamp)
	}
	if drift := h.Timestamp - c.now().Unix(); drift > int64(c.params.MaxTimeDrift.Seconds()) {
		return fmt.Errorf("timestamp %ds in the future", drift)
	}
	if err := c.engine.VerifyHeader(parent, h); err != nil {
		return err
	}
	if err := c.engine.VerifyProof(h, b.Proof); err != nil {
		return err
	}
	return nil
}

// connectTip applies a block on top of the current state and advances the
// tip. The state mutation is guarded by a snapshot: a block that fails
// mid-application leaves no trace. Caller holds the lock.
func (c *Chain) connectTip(b *block.Block, work *big.Int) error {
	hash := b.Hash()

	snap := c.state.Snapshot()
	if err := c.applyBlock(c.state, b); err != nil {
		c.state.Restore(snap)
		return fmt.Errorf("%w: %v", ErrBadBlock, err)
	}

	if err := c.store.PutBlock(b, work); err != nil {
		c.state.Restore(snap)
		return err
	}
	if err := c.store.LinkCanonical(b); err != nil {
		c.state.Restore(snap)
		return err
	}
	if err := c.store.SetTip(hash); err != nil {
		c.state.Restore(snap)
		return err
	}

	c.tip = b.Header
	c.tipHash = hash
	c.tipWork = work

	if c.pool != nil {
		c.pool.Remove(b.Transactions)
	}
	c.pendingEvents = append(c.pendingEvents, tipEvent{hash: hash, height: b.Header.Height})

	log.Chain.Info().
		Stringer("hash", hash).
		Uint64("height", b.Header.Height).
		Int("txs", len(b.Transactions)).
		Msg("block connected")
	return nil
}

// applyBlock executes a block's transactions against a state. Fees from
// every transaction fund the coinbase, whose outputs may not exceed the
// subsidy plus collected fees.
func (c *Chain) applyBlock(st *state.WorldState, b *block.Block) error {
	height := b.Header.Height
	var fees uint64

	for i, t := range b.Transactions {
		if i == 0 && t.IsCoinbase() {
			continue
		}
		fee, err := st.Apply(t, height)
		if err != nil {
			return fmt.Errorf("tx %s: %w", t.Hash(), err)
		}
		fees += fee
	}

	if cb := b.Coinbase(); cb != nil {
		minted, err := cb.TotalOutputValue()
		if err != nil {
			return err
		}
		if minted > c.params.BlockReward+fees {
			return fmt.Errorf("coinbase mints %d, allowed %d (reward %d + fees %d)",
				minted, c.params.BlockReward+fees, c.params.BlockReward, fees)
		}
		if _, err := st.Apply(cb, height); err != nil {
			return fmt.Errorf("coinbase: %w", err)
		}
	}

	return nil
}

// adoptOrphans retries orphans that were waiting on the given block.
// Caller holds the lock.
func (c *Chain) adoptOrphans(parent types.Hash) {
	for _, orphan := range c.orphans.take(parent) {
		hash := orphan.Hash()
		if err := orphan.Validate(); err != nil {
			log.Chain.Warn().Stringer("hash", hash).Err(err).Msg("dropped invalid orphan")
			continue
		}
		if err := c.acceptBlock(orphan); err != nil && !errors.Is(err, ErrSideChain) {
			log.Chain.Debug().Stringer("hash", hash).Err(err).Msg("orphan not adopted")
			continue
		}
		// This orphan may in turn unblock its own children, on either
		// branch.
		c.adoptOrphans(hash)
	}
}
