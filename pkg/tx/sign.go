package tx

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/cobaltchain/cobalt/pkg/crypto"
	"github.com/cobaltchain/cobalt/pkg/types"
)

var (
	// ErrInvalidSignature is returned when a signature does not verify.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrMissingSignature is returned when a required signature is absent.
	ErrMissingSignature = errors.New("missing signature")
	// ErrWrongSigner is returned when the recovered address does not match
	// the address being authorized.
	ErrWrongSigner = errors.New("signer does not own the spent funds")
)

// Sign authorizes an account-form transaction with key. The key must own
// the From address.
func (t *Transaction) Sign(key *crypto.PrivateKey) error {
	if t.Kind() != KindAccount {
		return fmt.Errorf("sign: not an account transaction")
	}
	pub := key.PublicKey()
	if crypto.AddressFromPubKey(pub) != t.From {
		return ErrWrongSigner
	}
	h := t.Hash()
	sig, err := key.Sign(h[:])
	if err != nil {
		return err
	}
	t.PubKey = pub
	t.Signature = sig
	return nil
}

// SignInput authorizes input i with key. The key must own the address the
// spent output pays to, which the caller passes as owner.
func (t *Transaction) SignInput(i int, key *crypto.PrivateKey, owner types.Address) error {
	if i < 0 || i >= len(t.Inputs) {
		return fmt.Errorf("sign input: index %d out of range", i)
	}
	pub := key.PublicKey()
	if crypto.AddressFromPubKey(pub) != owner {
		return ErrWrongSigner
	}
	h := t.Hash()
	sig, err := key.Sign(h[:])
	if err != nil {
		return err
	}
	t.Inputs[i].PubKey = pub
	t.Inputs[i].Signature = sig
	return nil
}

// VerifySender checks the account-form signature and that the embedded
// public key hashes to the From address. Coinbase transactions carry no
// signature and always pass.
func (t *Transaction) VerifySender() error {
	if t.IsCoinbase() {
		return nil
	}
	if len(t.PubKey) == 0 || len(t.Signature) == 0 {
		return ErrMissingSignature
	}
	if crypto.AddressFromPubKey(t.PubKey) != t.From {
		return ErrWrongSigner
	}
	h := t.Hash()
	if !crypto.VerifySignature(h[:], t.Signature, t.PubKey) {
		return ErrInvalidSignature
	}
	return nil
}

// VerifyInput checks the signature on input i against the owner of the
// spent output. The caller resolves the owner from the UTXO set.
func (t *Transaction) VerifyInput(i int, owner types.Address) error {
	if i < 0 || i >= len(t.Inputs) {
		return fmt.Errorf("verify input: index %d out of range", i)
	}
	in := t.Inputs[i]
	if len(in.PubKey) == 0 || len(in.Signature) == 0 {
		return fmt.Errorf("input %d: %w", i, ErrMissingSignature)
	}
	if crypto.AddressFromPubKey(in.PubKey) != owner {
		return fmt.Errorf("input %d: %w", i, ErrWrongSigner)
	}
	h := t.Hash()
	if !crypto.VerifySignature(h[:], in.Signature, in.PubKey) {
		return fmt.Errorf("input %d: %w", i, ErrInvalidSignature)
	}
	return nil
}

// Equal reports whether two transactions have identical content, including
// authorization data.
func (t *Transaction) Equal(other *Transaction) bool {
	if t == nil || other == nil {
		return t == other
	}
	if !bytes.Equal(t.SigningBytes(), other.SigningBytes()) {
		return false
	}
	if !bytes.Equal(t.PubKey, other.PubKey) || !bytes.Equal(t.Signature, other.Signature) {
		return false
	}
	if len(t.Inputs) != len(other.Inputs) {
		return false
	}
	for i := range t.Inputs {
		if !bytes.Equal(t.Inputs[i].PubKey, other.Inputs[i].PubKey) ||
			!bytes.Equal(t.Inputs[i].Signature, other.Inputs[i].Signature) {
			return false
		}
	}
	return true
}
