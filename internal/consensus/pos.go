package consensus

import (
	"context"
	"fmt"
	"math/big"

	"github.com/cobaltchain/cobalt/pkg/block"
	"github.com/cobaltchain/cobalt/pkg/crypto"
	"github.com/cobaltchain/cobalt/pkg/types"
)

// PoSProofSize is the length of a proof-of-stake proof: the proposer's
// compressed public key followed by its signature over the header hash.
const PoSProofSize = crypto.PubKeySize + crypto.SignatureSize

// PoS is the proof-of-stake engine. Each height is a slot; the proposer is
// selected deterministically from the validator set weighted by stake, and
// authorizes the block by signing the header.
type PoS struct {
	validators *ValidatorSet

	// Signing identity. Nil on non-validating nodes, which can still
	// verify.
	key  *crypto.PrivateKey
	addr types.Address
}

// NewPoS creates a proof-of-stake engine. key may be nil for a
// verify-only node.
func NewPoS(validators *ValidatorSet, key *crypto.PrivateKey) *PoS {
	p := &PoS{validators: validators, key: key}
	if key != nil {
		p.addr = crypto.AddressFromPubKey(key.PublicKey())
	}
	return p
}

// Type returns "pos".
func (p *PoS) Type() string { return "pos" }

// Prepare carries the parent's bits forward; stake consensus has no
// difficulty schedule.
func (p *PoS) Prepare(parent, header *block.Header) error {
	header.Bits = parent.Bits
	return nil
}

// Produce signs the header if this node is the selected proposer for the
// slot. Returns ErrUnauthorized otherwise.
func (p *PoS) Produce(ctx context.Context, header *block.Header) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.key == nil {
		return nil, fmt.Errorf("%w: node has no validator key", ErrUnauthorized)
	}

	proposer, err := p.validators.SelectProposer(header.Height, header.PrevHash)
	if err != nil {
		return nil, err
	}
	if proposer != p.addr {
		return nil, fmt.Errorf("%w: slot %d belongs to %s", ErrUnauthorized, header.Height, proposer)
	}

	h := header.Hash()
	sig, err := p.key.Sign(h[:])
	if err != nil {
		return nil, err
	}
	proof := make([]byte, 0, PoSProofSize)
	proof = append(proof, p.key.PublicKey()...)
	proof = append(proof, sig...)
	return proof, nil
}

// VerifyHeader checks that the bits field carried forward unchanged.
func (p *PoS) VerifyHeader(parent, header *block.Header) error {
	if header.Bits != parent.Bits {
		return fmt.Errorf("%w: got %08x, want %08x", ErrWrongBits, header.Bits, parent.Bits)
	}
	return nil
}

// VerifyProof checks the proposer signature, that the signer is a bonded
// validator, and that it is the validator selection for this slot.
func (p *PoS) VerifyProof(header *block.Header, proof []byte) error {
	pubKey, sig, err := splitProof(proof)
	if err != nil {
		return err
	}

	h := header.Hash()
	if !crypto.VerifySignature(h[:], sig, pubKey) {
		return fmt.Errorf("%w: bad proposer signature", ErrBadProof)
	}

	signer := crypto.AddressFromPubKey(pubKey)
	if !p.validators.IsValidator(signer) {
		return fmt.Errorf("%w: %s holds no stake", ErrBadProof, signer)
	}

	proposer, err := p.validators.SelectProposer(header.Height, header.PrevHash)
	if err != nil {
		return err
	}
	if signer != proposer {
		return fmt.Errorf("%w: signed by %s, slot belongs to %s", ErrBadProof, signer, proposer)
	}
	return nil
}

// VerifySignatureOnly checks just the proposer signature, skipping the
// validator set and slot checks. Cheap pre-filter for blocks arriving
// ahead of their parent.
func (p *PoS) VerifySignatureOnly(header *block.Header, proof []byte) error {
	pubKey, sig, err := splitProof(proof)
	if err != nil {
		return err
	}
	h := header.Hash()
	if !crypto.VerifySignature(h[:], sig, pubKey) {
		return fmt.Errorf("%w: bad proposer signature", ErrBadProof)
	}
	return nil
}

func splitProof(proof []byte) (pubKey, sig []byte, err error) {
	if len(proof) != PoSProofSize {
		return nil, nil, fmt.Errorf("%w: proof is %d bytes, want %d", ErrBadProof, len(proof), PoSProofSize)
	}
	return proof[:crypto.PubKeySize], proof[crypto.PubKeySize:], nil
}

// Work weights every block equally: stake fork choice is longest chain.
func (p *PoS) Work(header *block.Header) *big.Int {
	return big.NewInt(1)
}
