package state

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/cobaltchain/cobalt/pkg/crypto"
	"github.com/cobaltchain/cobalt/pkg/types"
)

// Root returns the state root: a BLAKE3 digest over the canonical
// serialization of every account and unspent output, in sorted order so
// that two states with identical content always produce identical roots.
// The root is cached and recomputed only after a mutation.
func (w *WorldState) Root() types.Hash {
	w.mu.RLock()
	if w.rootValid {
		root := w.rootCache
		w.mu.RUnlock()
		return root
	}
	w.mu.RUnlock()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.rootValid {
		return w.rootCache
	}
	w.rootCache = w.computeRoot()
	w.rootValid = true
	return w.rootCache
}

// computeRoot serializes accounts sorted by address bytes, then outputs
// sorted by outpoint, into an incremental hasher. Caller holds the lock.
//
// Layout: account_count(8) | [addr(20) balance(8) nonce(8)
// storage_root(32) code_hash(32)]... | utxo_count(8) | [txid(32) index(4)
// value(8) addr(20) coinbase(1) height(8)]...
func (w *WorldState) computeRoot() types.Hash {
	h := crypto.NewHasher()
	var scratch [8]byte

	addrs := make([]types.Address, 0, len(w.accounts))
	for addr := range w.accounts {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool {
		return bytes.Compare(addrs[i][:], addrs[j][:]) < 0
	})

	binary.LittleEndian.PutUint64(scratch[:], uint64(len(addrs)))
	h.Write(scratch[:])
	for _, addr := range addrs {
		acct := w.accounts[addr]
		h.Write(addr[:])
		binary.LittleEndian.PutUint64(scratch[:], acct.Balance)
		h.Write(scratch[:])
		binary.LittleEndian.PutUint64(scratch[:], acct.Nonce)
		h.Write(scratch[:])
		h.Write(acct.StorageRoot[:])
		h.Write(acct.CodeHash[:])
	}

	ops := make([]types.Outpoint, 0, len(w.utxos.entries))
	for op := range w.utxos.entries {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool {
		return ops[i].Less(ops[j])
	})

	binary.LittleEndian.PutUint64(scratch[:], uint64(len(ops)))
	h.Write(scratch[:])
	for _, op := range ops {
		entry := w.utxos.entries[op]
		h.Write(op.TxID[:])
		binary.LittleEndian.PutUint32(scratch[:4], op.Index)
		h.Write(scratch[:4])
		binary.LittleEndian.PutUint64(scratch[:], entry.Value)
		h.Write(scratch[:])
		h.Write(entry.Address[:])
		if entry.Coinbase {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
		binary.LittleEndian.PutUint64(scratch[:], entry.Height)
		h.Write(scratch[:])
	}

	return h.Sum()
}
