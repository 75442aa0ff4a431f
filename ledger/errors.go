package ledger

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the ledger. Storage failures wrap ErrStorage so
// callers can tell them apart from refusals that leave state untouched.
var (
	ErrInsufficientCredit = errors.New("ledger: insufficient credit")
	ErrAlreadyClaimed     = errors.New("ledger: free credits already claimed")
	ErrNotSubscribed      = errors.New("ledger: required channel membership missing")
	ErrInvalidAmount      = errors.New("ledger: amount must be a positive integer")
	ErrInvalidDays        = errors.New("ledger: days must be a positive integer")
	ErrInvalidInput       = errors.New("ledger: invalid input")
	ErrStorage            = errors.New("ledger: storage failure")
	ErrUnauthorized       = errors.New("ledger: unauthorized")
)

// StorageFailure wraps an I/O error from a Store implementation.
func StorageFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// IsStorageError reports whether err originated in the Store.
func IsStorageError(err error) bool { return errors.Is(err, ErrStorage) }

// IsUserVisible reports whether err is a recoverable refusal the end user should see.
func IsUserVisible(err error) bool {
	return errors.Is(err, ErrInsufficientCredit) ||
		errors.Is(err, ErrAlreadyClaimed) ||
		errors.Is(err, ErrNotSubscribed) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidDays) ||
		errors.Is(err, ErrInvalidInput)
}
