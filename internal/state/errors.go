package state

import "errors"

var (
	// ErrInsufficientBalance is returned when a sender cannot cover the
	// transferred amount plus fee.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrBadNonce is returned when an account transaction's nonce is not
	// exactly one above the sender's current nonce.
	ErrBadNonce = errors.New("bad nonce")
	// ErrDoubleSpend is returned when a transaction spends an outpoint that
	// is not in the UTXO set.
	ErrDoubleSpend = errors.New("output already spent or unknown")
	// ErrUnauthorized is returned when an operation is attempted by an
	// address that does not hold the required authority.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrWrongModel is returned when a transaction shape is not allowed
	// under the configured state model.
	ErrWrongModel = errors.New("transaction shape not allowed by state model")
	// ErrImmatureCoinbase is returned when a coinbase output is spent
	// before it matures.
	ErrImmatureCoinbase = errors.New("coinbase output not yet mature")
)
