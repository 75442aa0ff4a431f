package ledger

import (
	"context"
	"log/slog"
	"time"
)

// ClaimResult is the outcome of a free-credit claim.
type ClaimResult int

const (
	ClaimGranted ClaimResult = iota
	ClaimAlreadyClaimed
	ClaimNotSubscribed
)

func (r ClaimResult) String() string {
	switch r {
	case ClaimGranted:
		return "granted"
	case ClaimAlreadyClaimed:
		return "already_claimed"
	case ClaimNotSubscribed:
		return "not_subscribed"
	default:
		return "unknown"
	}
}

// Err maps the result onto the ledger sentinels; Granted maps to nil.
func (r ClaimResult) Err() error {
	switch r {
	case ClaimAlreadyClaimed:
		return ErrAlreadyClaimed
	case ClaimNotSubscribed:
		return ErrNotSubscribed
	default:
		return nil
	}
}

// ClaimFreeCredits grants the configured free credits once per account,
// provided the membership oracle confirms the user is in the required
// channel. Oracle errors count as non-membership. The oracle is queried
// outside the account lock; the flag is re-checked under it.
func (e *Engine) ClaimFreeCredits(ctx context.Context, userID int64) (ClaimResult, Account, error) {
	a, err := e.mutate(ctx, userID, nil)
	if err != nil {
		return 0, Account{}, err
	}
	if a.FreeClaimed {
		return ClaimAlreadyClaimed, a, nil
	}

	if !e.isMember(ctx, userID) {
		return ClaimNotSubscribed, a, nil
	}

	result := ClaimGranted
	amount := e.freeCredits
	a, err = e.mutate(ctx, userID, func(a *Account, _ time.Time) error {
		if a.FreeClaimed {
			result = ClaimAlreadyClaimed
			return nil
		}
		a.Balance += amount
		a.FreeClaimed = true
		return nil
	})
	if err != nil {
		return 0, Account{}, err
	}
	if result == ClaimGranted {
		e.logger.Info("free credits granted", slog.Int64("user_id", userID), slog.Int64("amount", amount))
	}
	return result, a, nil
}

func (e *Engine) isMember(ctx context.Context, userID int64) bool {
	if e.oracle == nil {
		return false
	}
	ok, err := e.oracle.IsMember(ctx, e.channel, userID)
	if err != nil {
		e.logger.Warn("membership check failed", slog.Int64("user_id", userID), slog.Any("error", err))
		return false
	}
	return ok
}
