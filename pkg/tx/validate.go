package tx

import (
	"errors"
	"fmt"
)

// CurrentVersion is the transaction format version produced by this node.
const CurrentVersion uint32 = 1

// MaxPayloadSize bounds account-transaction payloads.
const MaxPayloadSize = 64 * 1024

var (
	// ErrBadVersion is returned for unknown transaction versions.
	ErrBadVersion = errors.New("unsupported transaction version")
	// ErrMixedShape is returned when a transaction populates both account
	// and UTXO fields.
	ErrMixedShape = errors.New("transaction mixes account and utxo fields")
	// ErrNoTransfer is returned when a transaction moves no value.
	ErrNoTransfer = errors.New("transaction transfers no value")
	// ErrDuplicateInput is returned when a transaction spends the same
	// outpoint twice.
	ErrDuplicateInput = errors.New("duplicate input")
	// ErrZeroOutput is returned for outputs with zero value or address.
	ErrZeroOutput = errors.New("invalid output")
	// ErrPayloadTooLarge is returned when the payload exceeds MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// Validate performs the stateless structural checks: shape consistency,
// value sanity, and overflow. It does not verify signatures or consult
// state; those happen later in the admission pipeline.
func (t *Transaction) Validate() error {
	if t.Version == 0 || t.Version > CurrentVersion {
		return fmt.Errorf("%w: %d", ErrBadVersion, t.Version)
	}
	if len(t.Payload) > MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(t.Payload))
	}

	switch t.Kind() {
	case KindUTXO:
		return t.validateUTXO()
	default:
		return t.validateAccount()
	}
}

func (t *Transaction) validateUTXO() error {
	// UTXO transactions must not carry account transfer fields. Coinbase
	// reuses Nonce for the block height, so Nonce is exempt.
	if !t.From.IsZero() || !t.To.IsZero() || t.Amount != 0 || t.GasLimit != 0 || t.GasPrice != 0 {
		return ErrMixedShape
	}
	if len(t.Outputs) == 0 {
		return ErrNoTransfer
	}

	seen := make(map[string]struct{}, len(t.Inputs))
	for _, in := range t.Inputs {
		if in.PrevOut.IsZero() {
			return fmt.Errorf("input references zero outpoint")
		}
		key := in.PrevOut.String()
		if _, ok := seen[key]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateInput, key)
		}
		seen[key] = struct{}{}
	}

	for i, out := range t.Outputs {
		if out.Value == 0 || out.Address.IsZero() {
			return fmt.Errorf("%w: output %d", ErrZeroOutput, i)
		}
	}
	if _, err := t.TotalOutputValue(); err != nil {
		return err
	}
	return nil
}

func (t *Transaction) validateAccount() error {
	if t.From.IsZero() {
		return fmt.Errorf("account transaction missing sender")
	}
	if t.To.IsZero() {
		return fmt.Errorf("account transaction missing recipient")
	}
	if t.Amount == 0 && len(t.Payload) == 0 {
		return ErrNoTransfer
	}
	if _, err := t.GasFee(); err != nil {
		return err
	}
	return nil
}
