// Package consensus defines the pluggable consensus engine interface and
// its two implementations: proof-of-work over a compact difficulty target,
// and stake-weighted proof-of-stake with deterministic proposer selection.
package consensus

import (
	"context"
	"errors"
	"math/big"

	"github.com/cobaltchain/cobalt/pkg/block"
	"github.com/cobaltchain/cobalt/pkg/types"
)

var (
	// ErrUnauthorized is returned by Produce when this node is not entitled
	// to produce the block (not a validator, or not the selected proposer).
	ErrUnauthorized = errors.New("not authorized to produce this block")
	// ErrNoSolution is returned by Produce when the search budget is
	// exhausted without finding a valid proof. It is a negative result,
	// not a failure: the caller reassembles and retries.
	ErrNoSolution = errors.New("no proof found within budget")
	// ErrBadProof is returned when a proof does not verify against its
	// header.
	ErrBadProof = errors.New("invalid consensus proof")
	// ErrWrongBits is returned when a header's difficulty field does not
	// match the retarget schedule.
	ErrWrongBits = errors.New("difficulty bits do not match schedule")
)

// Engine produces and verifies consensus proofs. Implementations must be
// safe for concurrent use: the node verifies incoming blocks while a
// production attempt runs.
type Engine interface {
	// Type returns the engine name ("pow" or "pos").
	Type() string

	// Prepare fills the consensus fields of a candidate header (the
	// difficulty bits) from its parent.
	Prepare(parent, header *block.Header) error

	// Produce computes a proof for the header. Blocks until a proof is
	// found, the budget runs out (ErrNoSolution), the node is not entitled
	// to this slot (ErrUnauthorized), or ctx is cancelled.
	Produce(ctx context.Context, header *block.Header) ([]byte, error)

	// VerifyHeader checks the consensus fields of a header against its
	// parent, independent of the proof.
	VerifyHeader(parent, header *block.Header) error

	// VerifyProof checks a proof against its header.
	VerifyProof(header *block.Header, proof []byte) error

	// Work returns the fork-choice weight this header contributes.
	Work(header *block.Header) *big.Int
}

// HeaderSource resolves stored headers by hash. The difficulty retarget
// walks parent links back through the branch being extended, so side
// branches are judged against their own history rather than the
// canonical index.
type HeaderSource interface {
	HeaderByHash(hash types.Hash) (*block.Header, error)
}
