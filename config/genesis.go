package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/cobaltchain/cobalt/internal/chain"
	"github.com/cobaltchain/cobalt/internal/consensus"
	"github.com/cobaltchain/cobalt/internal/state"
	"github.com/cobaltchain/cobalt/pkg/crypto"
	"github.com/cobaltchain/cobalt/pkg/types"
)

// =============================================================================
// Protocol Rules (immutable, defined in genesis)
// These MUST match across all nodes or consensus breaks.
// =============================================================================

// Consensus type constants.
const (
	ConsensusPoW = "pow" // Proof of Work
	ConsensusPoS = "pos" // Proof of Stake
)

// State model constants.
const (
	StateAccount = "account"
	StateUTXO    = "utxo"
	StateHybrid  = "hybrid"
)

// Denomination constants.
// 1 coin = 10^9 base units. All on-chain values are in base units.
const (
	Decimals  = 9
	Coin      = 1_000_000_000 // 10^9 base units per coin
	MilliCoin = 1_000_000     // 10^6
	MicroCoin = 1_000         // 10^3
)

// Genesis holds the genesis block configuration and protocol rules.
// This is immutable after chain launch. Changes require a hard fork.
type Genesis struct {
	// Chain identity
	ChainID   string `json:"chain_id"`
	ChainName string `json:"chain_name"`
	Symbol    string `json:"symbol,omitempty"` // Native coin symbol (e.g. "CBT")

	// Genesis block
	Timestamp int64  `json:"timestamp"`
	ExtraData string `json:"extra_data,omitempty"`

	// Initial account balances (address -> base units)
	Alloc map[string]uint64 `json:"alloc,omitempty"`

	// Initial spendable outputs
	UTXOGrants []UTXOGrant `json:"utxo_grants,omitempty"`

	// Initial validator bonds (stake-based networks)
	Validators []ValidatorGrant `json:"validators,omitempty"`

	// Protocol rules
	Protocol ProtocolConfig `json:"protocol"`
}

// UTXOGrant seeds one spendable output at genesis.
type UTXOGrant struct {
	Address string `json:"address"`
	Value   uint64 `json:"value"`
}

// ValidatorGrant bonds stake to an address at genesis.
type ValidatorGrant struct {
	Address string `json:"address"`
	Stake   uint64 `json:"stake"`
}

// ProtocolConfig holds consensus-critical rules.
// All nodes MUST agree on these values.
type ProtocolConfig struct {
	Consensus ConsensusRules `json:"consensus"`
	State     StateRules     `json:"state"`
}

// ConsensusRules defines how blocks are produced and validated.
type ConsensusRules struct {
	// Type: "pow" or "pos"
	Type string `json:"type"`

	// Block timing
	TargetSpacing    int64  `json:"target_spacing"`    // Target seconds between blocks
	RetargetInterval uint64 `json:"retarget_interval"` // Blocks between difficulty adjustments

	// PoW settings (only if Type == "pow")
	InitialBits uint32 `json:"initial_bits,omitempty"` // Compact difficulty of block 1

	// Economics
	BlockReward uint64 `json:"block_reward"` // Base units per block

	// Timestamp tolerance in seconds
	MaxTimeDrift int64 `json:"max_time_drift,omitempty"`
}

// StateRules defines the ledger model.
type StateRules struct {
	// Model: "account", "utxo", or "hybrid"
	Model string `json:"model"`

	// CoinbaseMaturity is the block count before coinbase outputs spend.
	CoinbaseMaturity uint64 `json:"coinbase_maturity"`

	// MintAuthority, when set, is the only address allowed to mint
	// supply outside of coinbase rewards.
	MintAuthority string `json:"mint_authority,omitempty"`
}

// =============================================================================
// Pre-defined genesis configurations
// =============================================================================

// MainnetGenesis returns the mainnet genesis configuration.
func MainnetGenesis() *Genesis {
	return &Genesis{
		ChainID:   "cobalt-mainnet-1",
		ChainName: "Cobalt Mainnet",
		Symbol:    "CBT",
		Timestamp: 1735689600, // 2025-01-01T00:00:00Z
		ExtraData: "Cobalt Genesis",
		Alloc: map[string]uint64{
			"cob:4df0c2889d1710b51e8797c8de7ffd09be64ba35": 1_000_000 * Coin, // Foundation treasury
		},
		Protocol: ProtocolConfig{
			Consensus: ConsensusRules{
				Type:             ConsensusPoW,
				TargetSpacing:    10,
				RetargetInterval: 144,
				InitialBits:      0x1e0fffff,
				BlockReward:      5 * Coin,
				MaxTimeDrift:     120,
			},
			State: StateRules{
				Model:            StateHybrid,
				CoinbaseMaturity: 10,
			},
		},
	}
}

// TestnetGenesis returns the testnet genesis configuration.
// Difficulty starts near the floor so a laptop can produce blocks.
func TestnetGenesis() *Genesis {
	g := MainnetGenesis()
	g.ChainID = "cobalt-testnet-1"
	g.ChainName = "Cobalt Testnet"
	g.Symbol = "tCBT"
	g.ExtraData = "Cobalt Testnet Genesis"
	g.Alloc = map[string]uint64{
		"tcob:a03015922e5a54a8d01e71e929f84d53af1ef32a": 10_000_000 * Coin, // Faucet
	}
	g.Protocol.Consensus.InitialBits = 0x1f00ffff
	g.Protocol.Consensus.RetargetInterval = 20
	return g
}

// GenesisFor returns the genesis config for the given network.
func GenesisFor(network NetworkType) *Genesis {
	switch network {
	case Testnet:
		return TestnetGenesis()
	default:
		return MainnetGenesis()
	}
}

// =============================================================================
// Genesis file I/O
// =============================================================================

// LoadGenesis loads a genesis configuration from a file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading genesis file: %w", err)
	}

	var g Genesis
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parsing genesis file: %w", err)
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis: %w", err)
	}

	return &g, nil
}

// Save writes the genesis configuration to a file.
func (g *Genesis) Save(path string) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding genesis: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing genesis file: %w", err)
	}

	return nil
}

// Validate checks that the genesis configuration is consistent.
func (g *Genesis) Validate() error {
	if g.ChainID == "" {
		return fmt.Errorf("chain_id is required")
	}

	switch g.Protocol.Consensus.Type {
	case ConsensusPoW:
		if g.Protocol.Consensus.InitialBits == 0 {
			return fmt.Errorf("pow requires initial_bits")
		}
	case ConsensusPoS:
		if len(g.Validators) == 0 {
			return fmt.Errorf("pos requires at least one genesis validator")
		}
	default:
		return fmt.Errorf("unknown consensus type: %s", g.Protocol.Consensus.Type)
	}

	if g.Protocol.Consensus.TargetSpacing <= 0 {
		return fmt.Errorf("target_spacing must be positive")
	}
	if g.Protocol.Consensus.BlockReward == 0 {
		return fmt.Errorf("block_reward must be positive")
	}

	if _, err := parseModel(g.Protocol.State.Model); err != nil {
		return err
	}
	if g.Protocol.State.MintAuthority != "" {
		if _, err := types.ParseAddress(g.Protocol.State.MintAuthority); err != nil {
			return fmt.Errorf("invalid mint_authority: %w", err)
		}
	}

	for addrStr := range g.Alloc {
		if _, err := types.ParseAddress(addrStr); err != nil {
			return fmt.Errorf("invalid alloc address %q: %w", addrStr, err)
		}
	}
	for i, grant := range g.UTXOGrants {
		if _, err := types.ParseAddress(grant.Address); err != nil {
			return fmt.Errorf("invalid utxo grant %d address: %w", i, err)
		}
		if grant.Value == 0 {
			return fmt.Errorf("utxo grant %d has zero value", i)
		}
	}
	for i, v := range g.Validators {
		if _, err := types.ParseAddress(v.Address); err != nil {
			return fmt.Errorf("invalid validator %d address: %w", i, err)
		}
		if v.Stake == 0 {
			return fmt.Errorf("validator %d has zero stake", i)
		}
	}

	return nil
}

// Hash returns a BLAKE3 hash of the genesis configuration.
// Used to identify the chain and detect genesis mismatches.
func (g *Genesis) Hash() (types.Hash, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return types.Hash{}, err
	}
	return crypto.Hash(data), nil
}

// =============================================================================
// Conversion to runtime parameters
// =============================================================================

// Params converts the genesis configuration into chain parameters.
// Validate must have passed before calling.
func (g *Genesis) Params() (chain.Params, error) {
	model, err := parseModel(g.Protocol.State.Model)
	if err != nil {
		return chain.Params{}, err
	}

	p := chain.Params{
		ChainID:          g.ChainID,
		ExtraData:        []byte(g.ExtraData),
		StateModel:       model,
		BlockReward:      g.Protocol.Consensus.BlockReward,
		CoinbaseMaturity: g.Protocol.State.CoinbaseMaturity,
		InitialBits:      g.Protocol.Consensus.InitialBits,
		GenesisTimestamp: g.Timestamp,
	}
	if g.Protocol.Consensus.MaxTimeDrift > 0 {
		p.MaxTimeDrift = time.Duration(g.Protocol.Consensus.MaxTimeDrift) * time.Second
	}
	if g.Protocol.State.MintAuthority != "" {
		addr, err := types.ParseAddress(g.Protocol.State.MintAuthority)
		if err != nil {
			return chain.Params{}, fmt.Errorf("mint_authority: %w", err)
		}
		p.MintAuthority = addr
	}

	for addrStr, balance := range g.Alloc {
		addr, err := types.ParseAddress(addrStr)
		if err != nil {
			return chain.Params{}, fmt.Errorf("alloc %q: %w", addrStr, err)
		}
		p.Alloc = append(p.Alloc, chain.GenesisAccount{Address: addr, Balance: balance})
	}
	// Map iteration order is random; genesis content must not be.
	sort.Slice(p.Alloc, func(i, j int) bool {
		return bytes.Compare(p.Alloc[i].Address[:], p.Alloc[j].Address[:]) < 0
	})

	for i, grant := range g.UTXOGrants {
		addr, err := types.ParseAddress(grant.Address)
		if err != nil {
			return chain.Params{}, fmt.Errorf("utxo grant %d: %w", i, err)
		}
		p.UTXOGrants = append(p.UTXOGrants, chain.GenesisUTXO{Address: addr, Value: grant.Value})
	}

	for i, v := range g.Validators {
		addr, err := types.ParseAddress(v.Address)
		if err != nil {
			return chain.Params{}, fmt.Errorf("validator %d: %w", i, err)
		}
		p.Validators = append(p.Validators, chain.GenesisValidator{Address: addr, Stake: v.Stake})
	}

	return p, nil
}

// Retarget returns the difficulty adjustment schedule.
func (g *Genesis) Retarget() consensus.RetargetConfig {
	cfg := consensus.DefaultRetarget
	if g.Protocol.Consensus.RetargetInterval > 0 {
		cfg.Interval = g.Protocol.Consensus.RetargetInterval
	}
	if g.Protocol.Consensus.TargetSpacing > 0 {
		cfg.TargetSpacing = g.Protocol.Consensus.TargetSpacing
	}
	return cfg
}

// AddressPrefix returns the display prefix for the given network.
func AddressPrefix(network NetworkType) string {
	if network == Testnet {
		return types.TestnetPrefix
	}
	return types.MainnetPrefix
}

func parseModel(s string) (state.Model, error) {
	switch s {
	case StateAccount:
		return state.ModelAccount, nil
	case StateUTXO:
		return state.ModelUTXO, nil
	case StateHybrid, "":
		return state.ModelHybrid, nil
	default:
		return 0, fmt.Errorf("unknown state model: %s", s)
	}
}
