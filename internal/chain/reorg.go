package chain

import (
	"fmt"
	"math/big"

	"github.com/cobaltchain/cobalt/internal/log"
	"github.com/cobaltchain/cobalt/internal/state"
	"github.com/cobaltchain/cobalt/pkg/block"
	"github.com/cobaltchain/cobalt/pkg/tx"
)

// freshState creates an empty world state under the chain's parameters.
func (c *Chain) freshState() *state.WorldState {
	return state.New(state.Config{
		Model:            c.params.StateModel,
		MintAuthority:    c.params.MintAuthority,
		CoinbaseMaturity: c.params.CoinbaseMaturity,
	})
}

// reorg switches the canonical chain to the branch ending in newTip, which
// has already been verified and persisted and carries more work than the
// current tip. The replacement state is built by full replay and adopted
// only if every block on the new branch applies cleanly; a bad branch
// leaves the chain untouched. Caller holds the lock.
func (c *Chain) reorg(newTip *block.Block, newWork *big.Int) error {
	newBranch, forkHeight, err := c.branchFromCanonical(newTip)
	if err != nil {
		return err
	}

	// Old canonical blocks above the fork, ascending.
	var oldBranch []*block.Block
	for h := forkHeight + 1; h <= c.tip.Height; h++ {
		b, err := c.store.BlockByHeight(h)
		if err != nil {
			return fmt.Errorf("reorg: old branch at height %d: %w", h, err)
		}
		oldBranch = append(oldBranch, b)
	}

	// Rebuild the state: canonical prefix up to the fork, then the new
	// branch. Nothing is swapped until the whole branch replays cleanly.
	rebuilt, err := c.replayCanonical(forkHeight)
	if err != nil {
		return fmt.Errorf("reorg: replay to fork height %d: %w", forkHeight, err)
	}
	for _, b := range newBranch {
		if err := c.applyBlock(rebuilt, b); err != nil {
			return fmt.Errorf("%w: reorg branch block %s: %v", ErrBadBlock, b.Hash(), err)
		}
	}

	// Point of no return: swap the canonical indexes.
	for _, b := range oldBranch {
		if err := c.store.UnlinkCanonical(b); err != nil {
			return err
		}
	}
	for _, b := range newBranch {
		if err := c.store.LinkCanonical(b); err != nil {
			return err
		}
	}
	newHash := newTip.Hash()
	if err := c.store.SetTip(newHash); err != nil {
		return err
	}

	c.state.Restore(rebuilt.Snapshot())
	c.tip = newTip.Header
	c.tipHash = newHash
	c.tipWork = newWork

	if c.pool != nil {
		for _, b := range newBranch {
			c.pool.Remove(b.Transactions)
		}
		var orphaned []*tx.Transaction
		for _, b := range oldBranch {
			orphaned = append(orphaned, b.Transactions...)
		}
		readmitted := c.pool.Reinsert(orphaned)
		if len(orphaned) > 0 {
			log.Chain.Debug().
				Int("orphaned", len(orphaned)).
				Int("readmitted", readmitted).
				Msg("recycled transactions from replaced branch")
		}
	}
	c.pendingEvents = append(c.pendingEvents, tipEvent{hash: newHash, height: newTip.Header.Height})

	log.Chain.Info().
		Uint64("fork_height", forkHeight).
		Int("disconnected", len(oldBranch)).
		Int("connected", len(newBranch)).
		Stringer("tip", newHash).
		Msg("chain reorganized")
	return nil
}

// branchFromCanonical walks back from newTip until it meets the canonical
// chain, returning the branch blocks in ascending order and the fork
// height. Caller holds the lock.
func (c *Chain) branchFromCanonical(newTip *block.Block) ([]*block.Block, uint64, error) {
	var reversed []*block.Block
	cursor := newTip
	for {
		canonical, err := c.store.CanonicalHash(cursor.Header.Height)
		if err == nil && canonical == cursor.Hash() {
			// Already canonical: everything collected sits above the fork.
			break
		}
		reversed = append(reversed, cursor)
		if cursor.Header.IsGenesis() {
			return nil, 0, fmt.Errorf("%w: branch reaches a foreign genesis", ErrBadBlock)
		}
		parent, err := c.store.Block(cursor.Header.PrevHash)
		if err != nil {
			return nil, 0, fmt.Errorf("reorg: missing ancestor %s: %w", cursor.Header.PrevHash, err)
		}
		cursor = parent
	}

	branch := make([]*block.Block, len(reversed))
	for i, b := range reversed {
		branch[len(reversed)-1-i] = b
	}
	return branch, cursor.Header.Height, nil
}

// replayCanonical rebuilds the world state by replaying the canonical
// chain from genesis up to and including the given height. Caller holds
// the lock.
func (c *Chain) replayCanonical(height uint64) (*state.WorldState, error) {
	st := c.freshState()

	genesisHash, err := c.store.CanonicalHash(0)
	if err != nil {
		return nil, fmt.Errorf("replay: genesis: %w", err)
	}
	if err := c.params.seedState(st, genesisHash); err != nil {
		return nil, err
	}

	for h := uint64(1); h <= height; h++ {
		b, err := c.store.BlockByHeight(h)
		if err != nil {
			return nil, fmt.Errorf("replay: height %d: %w", h, err)
		}
		if err := c.applyBlock(st, b); err != nil {
			return nil, fmt.Errorf("replay: block %s at height %d: %w", b.Hash(), h, err)
		}
	}
	return st, nil
}

// Validate audits the whole canonical chain: linkage, structural rules,
// consensus proofs, and a full state replay. Returns the first violation
// found, nil when the chain is sound from genesis to tip.
func (c *Chain) Validate() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tipHeight := c.tip.Height
	wantRoot := c.state.Root()

	prev, err := c.store.BlockByHeight(0)
	if err != nil {
		return fmt.Errorf("validate: genesis: %w", err)
	}
	if !prev.Header.IsGenesis() {
		return fmt.Errorf("validate: block at height 0 is not a genesis block")
	}

	for h := uint64(1); h <= tipHeight; h++ {
		b, err := c.store.BlockByHeight(h)
		if err != nil {
			return fmt.Errorf("validate: height %d: %w", h, err)
		}
		if b.Header.PrevHash != prev.Hash() {
			return fmt.Errorf("validate: height %d: broken parent link", h)
		}
		if err := b.Validate(); err != nil {
			return fmt.Errorf("validate: height %d: %w", h, err)
		}
		if err := c.engine.VerifyHeader(&prev.Header, &b.Header); err != nil {
			return fmt.Errorf("validate: height %d: %w", h, err)
		}
		if err := c.engine.VerifyProof(&b.Header, b.Proof); err != nil {
			return fmt.Errorf("validate: height %d: %w", h, err)
		}
		prev = b
	}

	rebuilt, err := c.replayCanonical(tipHeight)
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	if got := rebuilt.Root(); got != wantRoot {
		return fmt.Errorf("validate: replayed state root %s does not match live root %s", got, wantRoot)
	}
	return nil
}
