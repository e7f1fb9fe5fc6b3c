// Cobalt full node daemon.
//
// Usage:
//
//	cobaltd [--produce --coinbase=...] Run node
//	cobaltd --help                     Show help
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cobaltchain/cobalt/config"
	"github.com/cobaltchain/cobalt/internal/chain"
	"github.com/cobaltchain/cobalt/internal/consensus"
	"github.com/cobaltchain/cobalt/internal/log"
	"github.com/cobaltchain/cobalt/internal/mempool"
	"github.com/cobaltchain/cobalt/internal/miner"
	"github.com/cobaltchain/cobalt/internal/node"
	"github.com/cobaltchain/cobalt/internal/state"
	"github.com/cobaltchain/cobalt/internal/storage"
	"github.com/cobaltchain/cobalt/pkg/crypto"
	"github.com/cobaltchain/cobalt/pkg/keys"
	"github.com/cobaltchain/cobalt/pkg/types"
)

func main() {
	cfg, _, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	if err := log.Init(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	types.SetAddressPrefix(config.AddressPrefix(cfg.Network))

	genesis := config.GenesisFor(cfg.Network)
	if cfg.GenesisFile != "" {
		g, err := config.LoadGenesis(cfg.GenesisFile)
		if err != nil {
			return err
		}
		genesis = g
	}
	params, err := genesis.Params()
	if err != nil {
		return fmt.Errorf("genesis params: %w", err)
	}
	params.Normalize()

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	st := state.New(state.Config{
		Model:            params.StateModel,
		MintAuthority:    params.MintAuthority,
		CoinbaseMaturity: params.CoinbaseMaturity,
	})

	engine, err := buildEngine(cfg, genesis, &params, db)
	if err != nil {
		return err
	}

	pool := mempool.New(poolConfig(cfg), st)

	c, err := chain.New(params, db, engine, st, pool)
	if err != nil {
		return fmt.Errorf("open chain: %w", err)
	}

	logger := log.Node
	logger.Info().
		Str("chain_id", genesis.ChainID).
		Str("network", string(cfg.Network)).
		Str("consensus", genesis.Protocol.Consensus.Type).
		Uint64("height", c.Height()).
		Msg("chain ready")

	var m *miner.Miner
	if cfg.Produce.Enabled {
		coinbase, err := types.ParseAddress(cfg.Produce.Coinbase)
		if err != nil {
			return fmt.Errorf("coinbase: %w", err)
		}
		m = miner.New(miner.Config{
			Coinbase: coinbase,
			MaxTxs:   cfg.Produce.MaxTxs,
			MaxBytes: cfg.Produce.MaxBytes,
		}, c, pool, engine, st)
	}

	n := node.New(node.Config{Produce: cfg.Produce.Enabled}, c, pool, m, engine)
	if err := n.Start(); err != nil {
		n.Stop()
		return fmt.Errorf("start node: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	n.Stop()
	return nil
}

// openDB opens the block database, on disk unless --memdb was given.
func openDB(cfg *config.Config) (storage.DB, error) {
	if cfg.InMemory {
		return storage.NewMemory(), nil
	}
	db, err := storage.NewBadger(cfg.BlocksDir())
	if err != nil {
		return nil, fmt.Errorf("open block store: %w", err)
	}
	return db, nil
}

// buildEngine assembles the consensus engine the genesis config calls for.
func buildEngine(cfg *config.Config, genesis *config.Genesis, params *chain.Params, db storage.DB) (consensus.Engine, error) {
	switch genesis.Protocol.Consensus.Type {
	case config.ConsensusPoW:
		headers := chain.NewBlockStore(db)
		return consensus.NewPoW(genesis.Retarget(), headers, cfg.Produce.NonceBudget), nil

	case config.ConsensusPoS:
		validators := consensus.NewValidatorSet()
		if err := params.SeedValidators(validators); err != nil {
			return nil, err
		}
		var key *crypto.PrivateKey
		if cfg.Produce.Enabled {
			if cfg.Produce.Mnemonic == "" {
				return nil, fmt.Errorf("produce.mnemonic is required to validate on a stake-based network")
			}
			k, err := keys.FromMnemonic(cfg.Produce.Mnemonic, cfg.Produce.Passphrase,
				cfg.Produce.KeyAccount, cfg.Produce.KeyIndex)
			if err != nil {
				return nil, fmt.Errorf("derive validator key: %w", err)
			}
			key = k
		}
		return consensus.NewPoS(validators, key), nil

	default:
		return nil, fmt.Errorf("unknown consensus type: %s", genesis.Protocol.Consensus.Type)
	}
}

func poolConfig(cfg *config.Config) mempool.Config {
	pc := mempool.Config{
		MaxTxs:     cfg.Mempool.MaxTxs,
		MaxBytes:   cfg.Mempool.MaxBytes,
		MinFeeRate: cfg.Mempool.MinFeeRate,
	}
	if cfg.Mempool.MaxAgeMin > 0 {
		pc.MaxAge = time.Duration(cfg.Mempool.MaxAgeMin) * time.Minute
	}
	return pc
}
