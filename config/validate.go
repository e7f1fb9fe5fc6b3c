package config

import (
	"fmt"

	"github.com/cobaltchain/cobalt/pkg/keys"
	"github.com/cobaltchain/cobalt/pkg/types"
)

// Validate checks runtime node config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Network != Mainnet && cfg.Network != Testnet {
		return fmt.Errorf("network must be %q or %q", Mainnet, Testnet)
	}

	if cfg.Produce.Enabled {
		if cfg.Produce.Coinbase == "" {
			return fmt.Errorf("produce.coinbase is required when block production is enabled")
		}
		if _, err := types.ParseAddress(cfg.Produce.Coinbase); err != nil {
			return fmt.Errorf("produce.coinbase: %w", err)
		}
		if cfg.Produce.Mnemonic != "" && !keys.ValidateMnemonic(cfg.Produce.Mnemonic) {
			return fmt.Errorf("produce.mnemonic is not a valid BIP-39 mnemonic")
		}
	}

	if cfg.Mempool.MaxTxs < 0 || cfg.Mempool.MaxBytes < 0 || cfg.Mempool.MaxAgeMin < 0 {
		return fmt.Errorf("mempool limits must not be negative")
	}
	if cfg.Mempool.MinFeeRate < 0 {
		return fmt.Errorf("mempool.minfeerate must not be negative")
	}

	switch cfg.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn, or error")
	}

	return nil
}
