package ledger

import (
	"context"
	"log/slog"
	"math"
	"time"
)

// DefaultFreeCredits is granted by a successful free claim when no amount is configured.
const DefaultFreeCredits = 2

// Engine enforces the balance and validity invariants over a Store.
type Engine struct {
	store       Store
	clock       Clock
	logger      *slog.Logger
	oracle      MembershipOracle
	channel     string
	freeCredits int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithMembership sets the oracle and the channel checked by ClaimFreeCredits.
func WithMembership(oracle MembershipOracle, channelID string) Option {
	return func(e *Engine) {
		e.oracle = oracle
		e.channel = channelID
	}
}

// WithFreeCredits sets the amount granted by ClaimFreeCredits.
func WithFreeCredits(n int64) Option { return func(e *Engine) { e.freeCredits = n } }

// NewEngine builds an Engine over store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		clock:       SystemClock,
		logger:      slog.Default(),
		freeCredits: DefaultFreeCredits,
	}
	for _, o := range opts {
		o(e)
	}
	e.logger = e.logger.With(slog.String("component", "ledger"))
	return e
}

// Store returns the underlying store.
func (e *Engine) Store() Store { return e.store }

// Now returns the engine clock reading.
func (e *Engine) Now() time.Time { return e.clock.Now() }

// expire clears balance and validity when the window has ended. Reports
// whether anything changed.
func expire(a *Account, now time.Time) bool {
	if !a.Expired(now) {
		return false
	}
	a.Balance = 0
	a.ValidFrom = nil
	a.ValidUntil = nil
	return true
}

// mutate runs fn under the store's per-account exclusion with lazy expiry
// applied first. An expiry reset is persisted together with fn's changes.
func (e *Engine) mutate(ctx context.Context, userID int64, fn func(*Account, time.Time) error) (Account, error) {
	now := e.clock.Now()
	return e.store.Mutate(ctx, userID, func(a *Account) error {
		if expire(a, now) {
			e.logger.Debug("validity expired", slog.Int64("user_id", userID))
		}
		if fn == nil {
			return nil
		}
		return fn(a, now)
	})
}

// GetBalance returns the balance and validity window after lazy expiry.
func (e *Engine) GetBalance(ctx context.Context, userID int64) (Balance, error) {
	a, err := e.mutate(ctx, userID, nil)
	if err != nil {
		return Balance{}, err
	}
	return a.BalanceView(), nil
}

// Snapshot returns the whole account after lazy expiry.
func (e *Engine) Snapshot(ctx context.Context, userID int64) (Account, error) {
	return e.mutate(ctx, userID, nil)
}

// Peek returns the account as the next operation would see it, without
// writing. Unknown users are not created.
func (e *Engine) Peek(ctx context.Context, userID int64) (Account, error) {
	a, err := e.store.Get(ctx, userID)
	if err != nil {
		return Account{}, err
	}
	expire(&a, e.clock.Now())
	return a, nil
}

// Touch records identity and last-seen time, creating the account if needed.
func (e *Engine) Touch(ctx context.Context, id Identity) (Account, error) {
	if err := e.store.UpsertIdentity(ctx, id, e.clock.Now()); err != nil {
		return Account{}, err
	}
	return e.mutate(ctx, id.UserID, nil)
}

// Credit adds amount to the balance. A credit that would overflow the balance
// is refused with ErrInvalidAmount and leaves the account unchanged.
func (e *Engine) Credit(ctx context.Context, userID, amount int64) (Account, error) {
	if amount <= 0 {
		return Account{}, ErrInvalidAmount
	}
	return e.mutate(ctx, userID, func(a *Account, _ time.Time) error {
		if a.Balance > math.MaxInt64-amount {
			return ErrInvalidAmount
		}
		a.Balance += amount
		return nil
	})
}

// Debit subtracts amount, flooring the balance at zero.
func (e *Engine) Debit(ctx context.Context, userID, amount int64) (Account, error) {
	if amount <= 0 {
		return Account{}, ErrInvalidAmount
	}
	return e.mutate(ctx, userID, func(a *Account, _ time.Time) error {
		a.Balance = max(a.Balance-amount, 0)
		return nil
	})
}

// TryReserve subtracts amount only when the balance covers it. The returned
// account reflects the state after the call either way; a refusal still
// persists any expiry reset.
func (e *Engine) TryReserve(ctx context.Context, userID, amount int64) (bool, Account, error) {
	if amount <= 0 {
		return false, Account{}, ErrInvalidAmount
	}
	var ok bool
	a, err := e.mutate(ctx, userID, func(a *Account, _ time.Time) error {
		if a.Balance < amount {
			return nil
		}
		a.Balance -= amount
		ok = true
		return nil
	})
	if err != nil {
		return false, Account{}, err
	}
	return ok, a, nil
}

// SetValidity replaces the window with [now, now+days). days must be in
// 1..MaxValidityDays.
func (e *Engine) SetValidity(ctx context.Context, userID int64, days int) (Account, error) {
	if days <= 0 || days > MaxValidityDays {
		return Account{}, ErrInvalidDays
	}
	return e.mutate(ctx, userID, func(a *Account, now time.Time) error {
		from := now.Truncate(time.Second)
		until := from.Add(time.Duration(days) * SecondsPerDay * time.Second)
		a.ValidFrom = &from
		a.ValidUntil = &until
		return nil
	})
}

// ClearValidity unsets the window without touching the balance.
func (e *Engine) ClearValidity(ctx context.Context, userID int64) (Account, error) {
	return e.mutate(ctx, userID, func(a *Account, _ time.Time) error {
		a.ValidFrom = nil
		a.ValidUntil = nil
		return nil
	})
}
