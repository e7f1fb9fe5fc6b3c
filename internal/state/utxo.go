package state

import (
	"fmt"

	"github.com/cobaltchain/cobalt/pkg/types"
)

// UTXOEntry is one unspent output: its value, the address it pays, and
// provenance used for maturity rules.
type UTXOEntry struct {
	Value    uint64        `json:"value"`
	Address  types.Address `json:"address"`
	Coinbase bool          `json:"coinbase"`
	Height   uint64        `json:"height"`
}

// UTXOSet tracks unspent outputs with a secondary index by owner address
// and a running total so wallet-style queries stay O(1) per address.
type UTXOSet struct {
	entries map[types.Outpoint]UTXOEntry
	byAddr  map[types.Address]map[types.Outpoint]struct{}
	total   uint64
}

// NewUTXOSet creates an empty UTXO set.
func NewUTXOSet() *UTXOSet {
	return &UTXOSet{
		entries: make(map[types.Outpoint]UTXOEntry),
		byAddr:  make(map[types.Address]map[types.Outpoint]struct{}),
	}
}

// Add inserts an unspent output. Adding an outpoint that already exists is
// a corruption bug upstream and returns an error.
func (s *UTXOSet) Add(op types.Outpoint, entry UTXOEntry) error {
	if _, ok := s.entries[op]; ok {
		return fmt.Errorf("utxo %s already exists", op)
	}
	s.entries[op] = entry
	idx := s.byAddr[entry.Address]
	if idx == nil {
		idx = make(map[types.Outpoint]struct{})
		s.byAddr[entry.Address] = idx
	}
	idx[op] = struct{}{}
	s.total += entry.Value
	return nil
}

// Spend removes an unspent output and returns it. Spending an absent
// outpoint returns ErrDoubleSpend.
func (s *UTXOSet) Spend(op types.Outpoint) (UTXOEntry, error) {
	entry, ok := s.entries[op]
	if !ok {
		return UTXOEntry{}, fmt.Errorf("%w: %s", ErrDoubleSpend, op)
	}
	delete(s.entries, op)
	idx := s.byAddr[entry.Address]
	delete(idx, op)
	if len(idx) == 0 {
		delete(s.byAddr, entry.Address)
	}
	s.total -= entry.Value
	return entry, nil
}

// Get returns the entry for an outpoint if it is unspent.
func (s *UTXOSet) Get(op types.Outpoint) (UTXOEntry, bool) {
	entry, ok := s.entries[op]
	return entry, ok
}

// Has reports whether an outpoint is unspent.
func (s *UTXOSet) Has(op types.Outpoint) bool {
	_, ok := s.entries[op]
	return ok
}

// Balance sums the unspent outputs paying addr.
func (s *UTXOSet) Balance(addr types.Address) uint64 {
	var sum uint64
	for op := range s.byAddr[addr] {
		sum += s.entries[op].Value
	}
	return sum
}

// OutpointsByAddress returns the unspent outpoints paying addr.
func (s *UTXOSet) OutpointsByAddress(addr types.Address) []types.Outpoint {
	idx := s.byAddr[addr]
	out := make([]types.Outpoint, 0, len(idx))
	for op := range idx {
		out = append(out, op)
	}
	return out
}

// TotalValue returns the sum of all unspent outputs.
func (s *UTXOSet) TotalValue() uint64 {
	return s.total
}

// Len returns the number of unspent outputs.
func (s *UTXOSet) Len() int {
	return len(s.entries)
}

// Clone deep-copies the set.
func (s *UTXOSet) Clone() *UTXOSet {
	c := &UTXOSet{
		entries: make(map[types.Outpoint]UTXOEntry, len(s.entries)),
		byAddr:  make(map[types.Address]map[types.Outpoint]struct{}, len(s.byAddr)),
		total:   s.total,
	}
	for op, e := range s.entries {
		c.entries[op] = e
	}
	for addr, idx := range s.byAddr {
		cp := make(map[types.Outpoint]struct{}, len(idx))
		for op := range idx {
			cp[op] = struct{}{}
		}
		c.byAddr[addr] = cp
	}
	return c
}
