package consensus

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/cobaltchain/cobalt/pkg/block"
	"github.com/cobaltchain/cobalt/pkg/crypto"
)

// PoWNonceSize is the length of a proof-of-work proof: one 8-byte nonce.
const PoWNonceSize = 8

// DefaultNonceBudget bounds one production attempt before it reports
// ErrNoSolution and the caller reassembles the candidate.
const DefaultNonceBudget = 1 << 22

// checkInterval is how many nonces are tried between context checks.
const checkInterval = 4096

// PoW is the proof-of-work engine: find a nonce such that the double
// BLAKE3 of the header bytes and the nonce meets the compact target in
// the header's bits field.
type PoW struct {
	retarget RetargetConfig
	headers  HeaderSource
	budget   uint64
}

// NewPoW creates a proof-of-work engine. headers resolves stored headers
// for the retarget schedule.
func NewPoW(retarget RetargetConfig, headers HeaderSource, nonceBudget uint64) *PoW {
	if nonceBudget == 0 {
		nonceBudget = DefaultNonceBudget
	}
	return &PoW{retarget: retarget, headers: headers, budget: nonceBudget}
}

// Type returns "pow".
func (p *PoW) Type() string { return "pow" }

// Prepare sets the header's difficulty bits from the retarget schedule.
func (p *PoW) Prepare(parent, header *block.Header) error {
	bits, err := NextBits(p.retarget, parent, p.headers)
	if err != nil {
		return err
	}
	header.Bits = bits
	return nil
}

// Produce searches the nonce space for a proof. Returns ErrNoSolution when
// the budget is exhausted and ctx.Err() when cancelled.
func (p *PoW) Produce(ctx context.Context, header *block.Header) ([]byte, error) {
	target := CompactToTarget(header.Bits)
	if target.Sign() <= 0 || target.Cmp(maxTarget) > 0 {
		return nil, fmt.Errorf("%w: bits %08x out of range", ErrBadProof, header.Bits)
	}

	base := header.SigningBytes()
	buf := make([]byte, len(base)+PoWNonceSize)
	copy(buf, base)

	for nonce := uint64(0); nonce < p.budget; nonce++ {
		if nonce%checkInterval == 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}
		binary.LittleEndian.PutUint64(buf[len(base):], nonce)
		if HashMeetsTarget(crypto.DoubleHash(buf), target) {
			proof := make([]byte, PoWNonceSize)
			binary.LittleEndian.PutUint64(proof, nonce)
			return proof, nil
		}
	}
	return nil, ErrNoSolution
}

// VerifyHeader checks that the header's bits match the retarget schedule
// relative to its parent.
func (p *PoW) VerifyHeader(parent, header *block.Header) error {
	want, err := NextBits(p.retarget, parent, p.headers)
	if err != nil {
		return err
	}
	if header.Bits != want {
		return fmt.Errorf("%w: got %08x, want %08x", ErrWrongBits, header.Bits, want)
	}
	return nil
}

// VerifyProof recomputes the proof digest and checks it against the
// header's target.
func (p *PoW) VerifyProof(header *block.Header, proof []byte) error {
	if len(proof) != PoWNonceSize {
		return fmt.Errorf("%w: proof is %d bytes, want %d", ErrBadProof, len(proof), PoWNonceSize)
	}
	target := CompactToTarget(header.Bits)
	if target.Sign() <= 0 || target.Cmp(maxTarget) > 0 {
		return fmt.Errorf("%w: bits %08x out of range", ErrBadProof, header.Bits)
	}

	buf := append(header.SigningBytes(), proof...)
	if !HashMeetsTarget(crypto.DoubleHash(buf), target) {
		return fmt.Errorf("%w: digest above target", ErrBadProof)
	}
	return nil
}

// Work returns the expected attempt count the header's target implies.
func (p *PoW) Work(header *block.Header) *big.Int {
	return WorkForBits(header.Bits)
}
