package consensus

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/cobaltchain/cobalt/pkg/crypto"
	"github.com/cobaltchain/cobalt/pkg/types"
)

var (
	// ErrNoStake is returned when proposer selection runs against an empty
	// validator set.
	ErrNoStake = errors.New("no active stake")
	// ErrUnknownValidator is returned when an address is not bonded.
	ErrUnknownValidator = errors.New("unknown validator")
)

// ValidatorSet tracks bonded stake per validator address. Proposer
// selection walks the set in sorted address order so every node derives
// the same proposer from the same entropy.
type ValidatorSet struct {
	mu     sync.RWMutex
	stakes map[types.Address]uint64
	total  uint64
}

// NewValidatorSet creates an empty validator set.
func NewValidatorSet() *ValidatorSet {
	return &ValidatorSet{stakes: make(map[types.Address]uint64)}
}

// Bond adds stake to a validator, admitting it on first bond.
func (v *ValidatorSet) Bond(addr types.Address, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("bond amount must be positive")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stakes[addr] += amount
	v.total += amount
	return nil
}

// Unbond removes stake from a validator, evicting it when its stake hits
// zero.
func (v *ValidatorSet) Unbond(addr types.Address, amount uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	stake, ok := v.stakes[addr]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownValidator, addr)
	}
	if amount > stake {
		return fmt.Errorf("unbond %d exceeds stake %d of %s", amount, stake, addr)
	}
	if amount == stake {
		delete(v.stakes, addr)
	} else {
		v.stakes[addr] = stake - amount
	}
	v.total -= amount
	return nil
}

// StakeOf returns the bonded stake for addr, zero if not a validator.
func (v *ValidatorSet) StakeOf(addr types.Address) uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.stakes[addr]
}

// IsValidator reports whether addr holds any stake.
func (v *ValidatorSet) IsValidator(addr types.Address) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.stakes[addr]
	return ok
}

// TotalStake returns the sum of all bonded stake.
func (v *ValidatorSet) TotalStake() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.total
}

// Len returns the number of bonded validators.
func (v *ValidatorSet) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.stakes)
}

// SelectProposer picks the block proposer for a slot. The entropy is the
// hash of the slot number and the parent block hash, reduced modulo the
// total stake; the winner is found by walking validators in ascending
// address order and subtracting each stake until the cursor lands inside
// one. Selection probability is proportional to stake.
func (v *ValidatorSet) SelectProposer(slot uint64, prevHash types.Hash) (types.Address, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.total == 0 {
		return types.Address{}, ErrNoStake
	}

	var seed [8 + types.HashSize]byte
	binary.LittleEndian.PutUint64(seed[:8], slot)
	copy(seed[8:], prevHash[:])
	entropy := crypto.Hash(seed[:])

	cursor := new(big.Int).SetBytes(entropy[:])
	cursor.Mod(cursor, new(big.Int).SetUint64(v.total))
	remaining := cursor.Uint64()

	addrs := make([]types.Address, 0, len(v.stakes))
	for addr := range v.stakes {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool {
		return bytes.Compare(addrs[i][:], addrs[j][:]) < 0
	})

	for _, addr := range addrs {
		stake := v.stakes[addr]
		if remaining < stake {
			return addr, nil
		}
		remaining -= stake
	}
	// Unreachable: the cursor is strictly below the total.
	return types.Address{}, ErrNoStake
}
