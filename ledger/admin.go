package ledger

import (
	"context"
	"log/slog"
)

// Admin exposes privileged mutations. Callers authorize before calling; Admin
// does not re-check identity.
type Admin struct {
	engine *Engine
}

// NewAdmin returns the admin surface over e.
func NewAdmin(e *Engine) *Admin { return &Admin{engine: e} }

// GrantCredits adds amount credits.
func (a *Admin) GrantCredits(ctx context.Context, userID, amount int64) (Account, error) {
	acc, err := a.engine.Credit(ctx, userID, amount)
	if err == nil {
		a.engine.logger.Info("credits granted", slog.Int64("user_id", userID), slog.Int64("amount", amount))
	}
	return acc, err
}

// RevokeCredits removes up to amount credits. Validity is left alone.
func (a *Admin) RevokeCredits(ctx context.Context, userID, amount int64) (Account, error) {
	acc, err := a.engine.Debit(ctx, userID, amount)
	if err == nil {
		a.engine.logger.Info("credits revoked", slog.Int64("user_id", userID), slog.Int64("amount", amount))
	}
	return acc, err
}

// AdjustCredits grants a positive delta and revokes a negative one.
func (a *Admin) AdjustCredits(ctx context.Context, userID, delta int64) (Account, error) {
	switch {
	case delta > 0:
		return a.GrantCredits(ctx, userID, delta)
	case delta < 0:
		return a.RevokeCredits(ctx, userID, -delta)
	default:
		return Account{}, ErrInvalidAmount
	}
}

// SetValidityDays replaces the validity window.
func (a *Admin) SetValidityDays(ctx context.Context, userID int64, days int) (Account, error) {
	acc, err := a.engine.SetValidity(ctx, userID, days)
	if err == nil {
		a.engine.logger.Info("validity set", slog.Int64("user_id", userID), slog.Int("days", days))
	}
	return acc, err
}

// ClearValidity removes the validity window.
func (a *Admin) ClearValidity(ctx context.Context, userID int64) (Account, error) {
	acc, err := a.engine.ClearValidity(ctx, userID)
	if err == nil {
		a.engine.logger.Info("validity cleared", slog.Int64("user_id", userID))
	}
	return acc, err
}

// Account returns one account with lazy expiry applied. Viewing does not
// create the account.
func (a *Admin) Account(ctx context.Context, userID int64) (Account, error) {
	return a.engine.Peek(ctx, userID)
}

// ListAccounts returns a page of accounts, most recently seen first. Expired
// windows are shown collapsed but not written back.
func (a *Admin) ListAccounts(ctx context.Context, offset, limit int) ([]Account, error) {
	if offset < 0 || limit <= 0 {
		return nil, ErrInvalidInput
	}
	list, err := a.engine.store.List(ctx, offset, limit)
	if err != nil {
		return nil, err
	}
	now := a.engine.clock.Now()
	for i := range list {
		expire(&list[i], now)
	}
	return list, nil
}

// ListActiveValidity returns accounts with a running window, soonest expiry first.
func (a *Admin) ListActiveValidity(ctx context.Context, limit int) ([]Account, error) {
	if limit <= 0 {
		return nil, ErrInvalidInput
	}
	return a.engine.store.ListActiveValidity(ctx, a.engine.clock.Now(), limit)
}

// CountAccounts returns the number of known accounts.
func (a *Admin) CountAccounts(ctx context.Context) (int, error) {
	return a.engine.store.Count(ctx)
}

// EnumerateUserIDs returns every known user id.
func (a *Admin) EnumerateUserIDs(ctx context.Context) ([]int64, error) {
	return a.engine.store.UserIDs(ctx)
}
