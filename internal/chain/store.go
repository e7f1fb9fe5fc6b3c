// Package chain manages the block chain: persistence, genesis
// initialization, block admission, orphan handling, and fork choice.
package chain

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/cobaltchain/cobalt/internal/storage"
	"github.com/cobaltchain/cobalt/pkg/block"
	"github.com/cobaltchain/cobalt/pkg/types"
)

// ErrBlockNotFound is returned when a block is not in the store.
var ErrBlockNotFound = errors.New("block not found")

// Key prefixes. Blocks and their cumulative work are stored for every
// branch; the height and transaction indexes cover only the canonical
// chain and are rewritten on reorg.
var (
	prefixBlock  = []byte("b/") // hash -> block
	prefixHeight = []byte("h/") // height -> canonical hash
	prefixTx     = []byte("x/") // txid -> containing canonical block hash
	prefixWork   = []byte("w/") // hash -> cumulative fork-choice weight
	keyTip       = []byte("t/tip")
)

// BlockStore persists blocks and the canonical-chain indexes over a
// storage.DB.
type BlockStore struct {
	db storage.DB
}

// NewBlockStore wraps a database.
func NewBlockStore(db storage.DB) *BlockStore {
	return &BlockStore{db: db}
}

func blockKey(hash types.Hash) []byte {
	return append(append([]byte{}, prefixBlock...), hash[:]...)
}

func heightKey(height uint64) []byte {
	key := append([]byte{}, prefixHeight...)
	return binary.BigEndian.AppendUint64(key, height)
}

func txKey(txid types.Hash) []byte {
	return append(append([]byte{}, prefixTx...), txid[:]...)
}

func workKey(hash types.Hash) []byte {
	return append(append([]byte{}, prefixWork...), hash[:]...)
}

// PutBlock stores a block and its cumulative fork-choice weight, keyed by
// hash. Does not touch the canonical indexes.
func (s *BlockStore) PutBlock(b *block.Block, cumWork *big.Int) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode block: %w", err)
	}
	hash := b.Hash()
	if err := s.db.Put(blockKey(hash), data); err != nil {
		return fmt.Errorf("store block %s: %w", hash, err)
	}
	if err := s.db.Put(workKey(hash), cumWork.Bytes()); err != nil {
		return fmt.Errorf("store work for %s: %w", hash, err)
	}
	return nil
}

// Block loads a block by hash.
func (s *BlockStore) Block(hash types.Hash) (*block.Block, error) {
	data, err := s.db.Get(blockKey(hash))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrBlockNotFound, hash)
	}
	if err != nil {
		return nil, err
	}
	var b block.Block
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode block %s: %w", hash, err)
	}
	return &b, nil
}

// HasBlock reports whether a block is stored.
func (s *BlockStore) HasBlock(hash types.Hash) (bool, error) {
	return s.db.Has(blockKey(hash))
}

// CumulativeWork loads the fork-choice weight accumulated up to a block.
func (s *BlockStore) CumulativeWork(hash types.Hash) (*big.Int, error) {
	data, err := s.db.Get(workKey(hash))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: no work for %s", ErrBlockNotFound, hash)
	}
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(data), nil
}

// LinkCanonical marks a block canonical at its height and indexes its
// transactions.
func (s *BlockStore) LinkCanonical(b *block.Block) error {
	hash := b.Hash()
	if err := s.db.Put(heightKey(b.Header.Height), hash[:]); err != nil {
		return err
	}
	for _, t := range b.Transactions {
		txid := t.Hash()
		if err := s.db.Put(txKey(txid), hash[:]); err != nil {
			return err
		}
	}
	return nil
}

// UnlinkCanonical removes a block's canonical height and transaction index
// entries during a reorg.
func (s *BlockStore) UnlinkCanonical(b *block.Block) error {
	if err := s.db.Delete(heightKey(b.Header.Height)); err != nil {
		return err
	}
	for _, t := range b.Transactions {
		txid := t.Hash()
		if err := s.db.Delete(txKey(txid)); err != nil {
			return err
		}
	}
	return nil
}

// CanonicalHash returns the canonical block hash at a height.
func (s *BlockStore) CanonicalHash(height uint64) (types.Hash, error) {
	data, err := s.db.Get(heightKey(height))
	if errors.Is(err, storage.ErrNotFound) {
		return types.Hash{}, fmt.Errorf("%w: height %d", ErrBlockNotFound, height)
	}
	if err != nil {
		return types.Hash{}, err
	}
	var hash types.Hash
	copy(hash[:], data)
	return hash, nil
}

// BlockByHeight loads the canonical block at a height.
func (s *BlockStore) BlockByHeight(height uint64) (*block.Block, error) {
	hash, err := s.CanonicalHash(height)
	if err != nil {
		return nil, err
	}
	return s.Block(hash)
}

// HeaderByHash loads a stored header, canonical or not. Satisfies
// consensus.HeaderSource, which walks parent links for the retarget
// schedule.
func (s *BlockStore) HeaderByHash(hash types.Hash) (*block.Header, error) {
	b, err := s.Block(hash)
	if err != nil {
		return nil, err
	}
	return &b.Header, nil
}

// TxBlock returns the hash of the canonical block containing a transaction.
func (s *BlockStore) TxBlock(txid types.Hash) (types.Hash, error) {
	data, err := s.db.Get(txKey(txid))
	if errors.Is(err, storage.ErrNotFound) {
		return types.Hash{}, fmt.Errorf("%w: tx %s", ErrBlockNotFound, txid)
	}
	if err != nil {
		return types.Hash{}, err
	}
	var hash types.Hash
	copy(hash[:], data)
	return hash, nil
}

// SetTip persists the canonical tip hash.
func (s *BlockStore) SetTip(hash types.Hash) error {
	return s.db.Put(keyTip, hash[:])
}

// Tip returns the persisted canonical tip hash. ErrBlockNotFound on a
// fresh database.
func (s *BlockStore) Tip() (types.Hash, error) {
	data, err := s.db.Get(keyTip)
	if errors.Is(err, storage.ErrNotFound) {
		return types.Hash{}, fmt.Errorf("%w: no tip", ErrBlockNotFound)
	}
	if err != nil {
		return types.Hash{}, err
	}
	var hash types.Hash
	copy(hash[:], data)
	return hash, nil
}
