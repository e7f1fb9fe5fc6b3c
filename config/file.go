package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadFile loads node configuration from a .conf file.
// Format: key = value (one per line, # for comments)
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file configuration to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a node config value by key.
// Only node-operational settings, NOT protocol rules.
func setConfigValue(cfg *Config, key, value string) error {
	switch key {
	// Core
	case "network":
		cfg.Network = NetworkType(value)
	case "datadir":
		cfg.DataDir = value
	case "genesis":
		cfg.GenesisFile = value
	case "memdb":
		cfg.InMemory = parseBool(value)

	// Block production (operational, not consensus rules)
	case "produce.enabled", "produce":
		cfg.Produce.Enabled = parseBool(value)
	case "produce.coinbase", "coinbase":
		cfg.Produce.Coinbase = value
	case "produce.mnemonic":
		cfg.Produce.Mnemonic = value
	case "produce.passphrase":
		cfg.Produce.Passphrase = value
	case "produce.keyaccount":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return err
		}
		cfg.Produce.KeyAccount = uint32(n)
	case "produce.keyindex":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return err
		}
		cfg.Produce.KeyIndex = uint32(n)
	case "produce.maxtxs":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Produce.MaxTxs = n
	case "produce.maxbytes":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Produce.MaxBytes = n
	case "produce.noncebudget":
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		cfg.Produce.NonceBudget = n

	// Mempool
	case "mempool.maxtxs":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Mempool.MaxTxs = n
	case "mempool.maxbytes":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Mempool.MaxBytes = n
	case "mempool.maxage":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Mempool.MaxAgeMin = n
	case "mempool.minfeerate":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		cfg.Mempool.MinFeeRate = f

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)

	default:
		// Unknown keys are ignored
	}
	return nil
}

// parseBool parses a boolean value.
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// WriteDefaultConfig writes a default node configuration file.
func WriteDefaultConfig(path string, network NetworkType) error {
	content := `# Cobalt Node Configuration
#
# This file contains NODE settings only.
# Protocol rules (consensus type, state model, rewards) live in the
# genesis configuration and cannot be changed without a hard fork.

# Network: mainnet or testnet
network = ` + string(network) + `

# Data directory (default: ~/.cobalt)
# datadir = ~/.cobalt

# Custom genesis file (overrides the built-in genesis)
# genesis = ~/.cobalt/genesis.json

# ============================================================================
# Block Production
# ============================================================================

# Enable block production
produce.enabled = false

# Address to receive block rewards
# produce.coinbase = <your-address>

# Validator mnemonic for stake-based networks (24 words, BIP-39)
# produce.mnemonic =

# Candidate block limits
# produce.maxtxs = 2000
# produce.maxbytes = 1048576

# ============================================================================
# Mempool
# ============================================================================

mempool.maxtxs = 4096
mempool.maxbytes = 33554432
# Minutes before an unconfirmed transaction expires
mempool.maxage = 120
# Admission floor in base units per byte
# mempool.minfeerate = 0

# ============================================================================
# Logging
# ============================================================================

log.level = info
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0644)
}
