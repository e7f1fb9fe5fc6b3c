// Package keys derives signing keys from BIP-39 mnemonics.
//
// Validators keep a 24-word mnemonic instead of a raw key file. The
// production key sits at m/44'/5551'/account'/0/index, derived per
// BIP-32 from the mnemonic seed.
package keys

import (
	"fmt"

	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"

	"github.com/cobaltchain/cobalt/pkg/crypto"
)

// MnemonicEntropyBits is the entropy size for 24-word mnemonics.
const MnemonicEntropyBits = 256

// SeedSize is the length of a BIP-39 derived seed in bytes.
const SeedSize = 64

// BIP-44 path constants. Full path: m/44'/CoinType'/account'/change/index.
const (
	PurposeBIP44 = bip32.FirstHardenedChild + 44

	// CoinTypeCobalt is a placeholder coin type.
	// TODO: register a coin type in SLIP-0044.
	CoinTypeCobalt = bip32.FirstHardenedChild + 5551

	ChangeExternal = 0
)

// GenerateMnemonic creates a new 24-word BIP-39 mnemonic.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(MnemonicEntropyBits)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// ValidateMnemonic checks word count, word list membership, and checksum.
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}

// SeedFromMnemonic derives the 512-bit BIP-39 seed using PBKDF2-SHA512.
func SeedFromMnemonic(mnemonic, passphrase string) ([]byte, error) {
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("derive seed: %w", err)
	}
	return seed, nil
}

// Derive returns the private key at m/44'/5551'/account'/0/index.
func Derive(seed []byte, account, index uint32) (*crypto.PrivateKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	path := []uint32{
		PurposeBIP44,
		CoinTypeCobalt,
		bip32.FirstHardenedChild + account,
		ChangeExternal,
		index,
	}
	key := master
	for _, idx := range path {
		key, err = key.NewChildKey(idx)
		if err != nil {
			return nil, fmt.Errorf("derive child %d: %w", idx, err)
		}
	}
	return crypto.PrivateKeyFromBytes(privateKeyBytes(key))
}

// FromMnemonic derives the key at m/44'/5551'/account'/0/index straight
// from a mnemonic and passphrase.
func FromMnemonic(mnemonic, passphrase string, account, index uint32) (*crypto.PrivateKey, error) {
	if !ValidateMnemonic(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}
	seed, err := SeedFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return nil, err
	}
	return Derive(seed, account, index)
}

// privateKeyBytes strips the leading 0x00 pad the bip32 library keeps on
// private key material.
func privateKeyBytes(k *bip32.Key) []byte {
	raw := k.Key
	if len(raw) == 33 && raw[0] == 0 {
		return raw[1:]
	}
	return raw
}
