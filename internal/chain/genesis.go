package chain

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cobaltchain/cobalt/internal/consensus"
	"github.com/cobaltchain/cobalt/internal/state"
	"github.com/cobaltchain/cobalt/pkg/block"
	"github.com/cobaltchain/cobalt/pkg/crypto"
	"github.com/cobaltchain/cobalt/pkg/types"
)

// DefaultBlockReward is the coinbase subsidy in base units.
const DefaultBlockReward uint64 = 5_000_000_000

// DefaultMaxTimeDrift bounds how far into the future a block timestamp may
// sit relative to local time.
const DefaultMaxTimeDrift = 2 * time.Minute

// GenesisAccount seeds an account balance at genesis.
type GenesisAccount struct {
	Address types.Address `json:"address"`
	Balance uint64        `json:"balance"`
}

// GenesisUTXO seeds a spendable output at genesis. The outpoint is derived
// from the genesis block hash and the grant's position.
type GenesisUTXO struct {
	Address types.Address `json:"address"`
	Value   uint64        `json:"value"`
}

// GenesisValidator bonds stake at genesis.
type GenesisValidator struct {
	Address types.Address `json:"address"`
	Stake   uint64        `json:"stake"`
}

// Params fixes the protocol rules and the genesis content. Two nodes with
// identical Params produce the identical genesis block.
type Params struct {
	// ChainID and ExtraData name the network. Both are committed into the
	// genesis block, so networks that differ only in identity still get
	// distinct genesis hashes.
	ChainID   string
	ExtraData []byte

	StateModel       state.Model
	BlockReward      uint64
	MaxTimeDrift     time.Duration
	CoinbaseMaturity uint64
	MintAuthority    types.Address

	InitialBits      uint32
	GenesisTimestamp int64

	Alloc      []GenesisAccount
	UTXOGrants []GenesisUTXO
	Validators []GenesisValidator
}

// Normalize fills zero-valued parameters with defaults.
func (p *Params) Normalize() {
	if p.BlockReward == 0 {
		p.BlockReward = DefaultBlockReward
	}
	if p.MaxTimeDrift == 0 {
		p.MaxTimeDrift = DefaultMaxTimeDrift
	}
	if p.InitialBits == 0 {
		p.InitialBits = consensus.MaxBits
	}
	if p.GenesisTimestamp == 0 {
		p.GenesisTimestamp = 1735689600 // 2025-01-01T00:00:00Z
	}
}

// GenesisBlock builds the deterministic genesis block: height zero, zero
// parent, no transactions, no proof. Allocations live in the initial state
// rather than in transactions so they need no signatures. The chain
// identity occupies the merkle root slot, which a transactionless block
// leaves empty anyway.
func (p *Params) GenesisBlock() *block.Block {
	b := block.New(block.CurrentVersion, types.Hash{}, 0, p.GenesisTimestamp, p.InitialBits, nil)
	if p.ChainID != "" || len(p.ExtraData) > 0 {
		b.Header.MerkleRoot = p.identityCommitment()
	}
	return b
}

// identityCommitment hashes the chain identity. The id is length-prefixed
// so distinct (id, extra) pairs never collide by concatenation.
func (p *Params) identityCommitment() types.Hash {
	buf := make([]byte, 4+len(p.ChainID)+len(p.ExtraData))
	binary.BigEndian.PutUint32(buf, uint32(len(p.ChainID)))
	copy(buf[4:], p.ChainID)
	copy(buf[4+len(p.ChainID):], p.ExtraData)
	return crypto.Hash(buf)
}

// seedState writes the genesis allocations into a fresh world state.
func (p *Params) seedState(st *state.WorldState, genesisHash types.Hash) error {
	for _, a := range p.Alloc {
		st.SetBalance(a.Address, a.Balance)
	}
	for i, g := range p.UTXOGrants {
		op := types.Outpoint{TxID: genesisHash, Index: uint32(i)}
		err := st.AddUTXO(op, state.UTXOEntry{Value: g.Value, Address: g.Address})
		if err != nil {
			return fmt.Errorf("genesis utxo grant %d: %w", i, err)
		}
	}
	return nil
}

// SeedValidators bonds the genesis validator set. Callers assembling a
// stake-based engine run this before the first block is processed.
func (p *Params) SeedValidators(set *consensus.ValidatorSet) error {
	for _, v := range p.Validators {
		if err := set.Bond(v.Address, v.Stake); err != nil {
			return fmt.Errorf("genesis validator %s: %w", v.Address, err)
		}
	}
	return nil
}
