package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ishowlab-boop/CircleMakerProBot/ledger"
	"github.com/ishowlab-boop/CircleMakerProBot/telemetry"
)

const (
	// PageSize is the number of users per list page.
	PageSize = 10
	// PremiumLimit caps the active-validity listing.
	PremiumLimit = 50
)

var (
	// ErrNotAdmin rejects callers outside the allow-list.
	ErrNotAdmin = fmt.Errorf("admin: caller is not an admin: %w", ledger.ErrUnauthorized)
	// ErrNoPending is returned by Complete when no wizard step is open.
	ErrNoPending = errors.New("admin: no pending action")
	// ErrNoBroadcaster is returned when broadcasting is not configured.
	ErrNoBroadcaster = errors.New("admin: broadcast not configured")
)

// Overview is the console landing summary.
type Overview struct {
	Accounts       int
	ActiveValidity int
}

// UserPage is one page of the user list.
type UserPage struct {
	Accounts []ledger.Account
	Offset   int
	Total    int
}

// HasPrev reports whether an earlier page exists.
func (p UserPage) HasPrev() bool { return p.Offset > 0 }

// HasNext reports whether a later page exists.
func (p UserPage) HasNext() bool { return p.Offset+len(p.Accounts) < p.Total }

// Result is what a completed wizard step produced.
type Result struct {
	Op      string
	Account ledger.Account
	Report  *Report
	Offset  int
}

// Console authorizes admins and runs their ledger operations.
type Console struct {
	admins      map[int64]struct{}
	ledger      *ledger.Admin
	sessions    SessionStore
	broadcaster *Broadcaster
	now         func() time.Time
	logger      *slog.Logger
}

// ConsoleOption configures a Console.
type ConsoleOption func(*Console)

// WithBroadcaster enables the broadcast action.
func WithBroadcaster(b *Broadcaster) ConsoleOption { return func(c *Console) { c.broadcaster = b } }

// WithSessionClock overrides the time stamped on sessions.
func WithSessionClock(now func() time.Time) ConsoleOption { return func(c *Console) { c.now = now } }

// NewConsole builds a Console for the given admin ids.
func NewConsole(l *ledger.Admin, sessions SessionStore, adminIDs []int64, opts ...ConsoleOption) *Console {
	c := &Console{
		admins:   make(map[int64]struct{}, len(adminIDs)),
		ledger:   l,
		sessions: sessions,
		now:      time.Now,
		logger:   slog.Default().With(slog.String("component", "admin")),
	}
	for _, id := range adminIDs {
		c.admins[id] = struct{}{}
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// IsAdmin reports whether id is on the allow-list.
func (c *Console) IsAdmin(id int64) bool {
	_, ok := c.admins[id]
	return ok
}

func (c *Console) authorize(caller int64) error {
	if !c.IsAdmin(caller) {
		c.logger.Warn("admin action rejected", slog.Int64("caller", caller))
		return ErrNotAdmin
	}
	return nil
}

// Overview returns account totals.
func (c *Console) Overview(ctx context.Context, caller int64) (Overview, error) {
	if err := c.authorize(caller); err != nil {
		return Overview{}, err
	}
	n, err := c.ledger.CountAccounts(ctx)
	if err != nil {
		return Overview{}, err
	}
	active, err := c.ledger.ListActiveValidity(ctx, PremiumLimit)
	if err != nil {
		return Overview{}, err
	}
	return Overview{Accounts: n, ActiveValidity: len(active)}, nil
}

// Users returns the page of users starting at offset.
func (c *Console) Users(ctx context.Context, caller int64, offset int) (UserPage, error) {
	if err := c.authorize(caller); err != nil {
		return UserPage{}, err
	}
	offset = max(offset, 0)
	total, err := c.ledger.CountAccounts(ctx)
	if err != nil {
		return UserPage{}, err
	}
	list, err := c.ledger.ListAccounts(ctx, offset, PageSize)
	if err != nil {
		return UserPage{}, err
	}
	return UserPage{Accounts: list, Offset: offset, Total: total}, nil
}

// Card returns one user and selects it as the session target.
func (c *Console) Card(ctx context.Context, caller, target int64) (ledger.Account, error) {
	if err := c.authorize(caller); err != nil {
		return ledger.Account{}, err
	}
	acc, err := c.ledger.Account(ctx, target)
	if err != nil {
		return ledger.Account{}, err
	}
	if err := c.selectTarget(ctx, caller, target); err != nil {
		return ledger.Account{}, err
	}
	return acc, nil
}

// Target returns the selected user, 0 when none.
func (c *Console) Target(ctx context.Context, caller int64) (int64, error) {
	if err := c.authorize(caller); err != nil {
		return 0, err
	}
	s, ok, err := c.sessions.Get(ctx, caller)
	if err != nil || !ok {
		return 0, err
	}
	return s.Target, nil
}

func (c *Console) selectTarget(ctx context.Context, caller, target int64) error {
	s, _, err := c.sessions.Get(ctx, caller)
	if err != nil {
		return err
	}
	s.AdminID = caller
	s.Target = target
	s.UpdatedAt = c.now()
	return c.sessions.Put(ctx, s)
}

func (c *Console) mutated(op string, caller, target int64, acc ledger.Account, err error) (ledger.Account, error) {
	if err != nil {
		return ledger.Account{}, err
	}
	telemetry.RecordAdminMutation(op)
	c.logger.Info("admin mutation",
		slog.String("op", op),
		slog.Int64("caller", caller),
		slog.Int64("user_id", target),
		slog.Int64("balance", acc.Balance))
	return acc, nil
}

// Grant adds credits to target.
func (c *Console) Grant(ctx context.Context, caller, target, amount int64) (ledger.Account, error) {
	if err := c.authorize(caller); err != nil {
		return ledger.Account{}, err
	}
	acc, err := c.ledger.GrantCredits(ctx, target, amount)
	return c.mutated("grant", caller, target, acc, err)
}

// Revoke removes up to amount credits from target.
func (c *Console) Revoke(ctx context.Context, caller, target, amount int64) (ledger.Account, error) {
	if err := c.authorize(caller); err != nil {
		return ledger.Account{}, err
	}
	acc, err := c.ledger.RevokeCredits(ctx, target, amount)
	return c.mutated("revoke", caller, target, acc, err)
}

// Adjust grants or revokes depending on the sign of delta.
func (c *Console) Adjust(ctx context.Context, caller, target, delta int64) (ledger.Account, error) {
	if err := c.authorize(caller); err != nil {
		return ledger.Account{}, err
	}
	acc, err := c.ledger.AdjustCredits(ctx, target, delta)
	op := "grant"
	if delta < 0 {
		op = "revoke"
	}
	return c.mutated(op, caller, target, acc, err)
}

// SetValidity replaces target's validity window.
func (c *Console) SetValidity(ctx context.Context, caller, target int64, days int) (ledger.Account, error) {
	if err := c.authorize(caller); err != nil {
		return ledger.Account{}, err
	}
	acc, err := c.ledger.SetValidityDays(ctx, target, days)
	return c.mutated("set_validity", caller, target, acc, err)
}

// ClearValidity removes target's validity window.
func (c *Console) ClearValidity(ctx context.Context, caller, target int64) (ledger.Account, error) {
	if err := c.authorize(caller); err != nil {
		return ledger.Account{}, err
	}
	acc, err := c.ledger.ClearValidity(ctx, target)
	return c.mutated("clear_validity", caller, target, acc, err)
}

// Premium lists users with a running validity window, soonest expiry first.
func (c *Console) Premium(ctx context.Context, caller int64) ([]ledger.Account, error) {
	if err := c.authorize(caller); err != nil {
		return nil, err
	}
	return c.ledger.ListActiveValidity(ctx, PremiumLimit)
}

// Broadcast sends text to every user.
func (c *Console) Broadcast(ctx context.Context, caller int64, text string) (Report, error) {
	if err := c.authorize(caller); err != nil {
		return Report{}, err
	}
	if c.broadcaster == nil {
		return Report{}, ErrNoBroadcaster
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Report{}, ledger.ErrInvalidInput
	}
	c.logger.Info("broadcast started", slog.Int64("caller", caller))
	return c.broadcaster.Run(ctx, text)
}

// Begin opens a wizard step, replacing any open one.
func (c *Console) Begin(ctx context.Context, caller int64, p Pending) error {
	if err := c.authorize(caller); err != nil {
		return err
	}
	s, _, err := c.sessions.Get(ctx, caller)
	if err != nil {
		return err
	}
	s.AdminID = caller
	s.Pending = p
	s.UpdatedAt = c.now()
	switch p := p.(type) {
	case AwaitingAmount:
		s.Target = p.TargetID
	case AwaitingDays:
		s.Target = p.TargetID
	}
	return c.sessions.Put(ctx, s)
}

// Pending returns the open wizard step, if any.
func (c *Console) Pending(ctx context.Context, caller int64) (Pending, bool, error) {
	if !c.IsAdmin(caller) {
		return nil, false, nil
	}
	s, ok, err := c.sessions.Get(ctx, caller)
	if err != nil || !ok || s.Pending == nil {
		return nil, false, err
	}
	return s.Pending, true, nil
}

// Cancel closes the open wizard step and keeps the selected target.
func (c *Console) Cancel(ctx context.Context, caller int64) error {
	if err := c.authorize(caller); err != nil {
		return err
	}
	s, ok, err := c.sessions.Get(ctx, caller)
	if err != nil || !ok {
		return err
	}
	s.Pending = nil
	s.UpdatedAt = c.now()
	return c.sessions.Put(ctx, s)
}

// Complete feeds typed input to the open wizard step. The step is closed
// whether or not the input was valid.
func (c *Console) Complete(ctx context.Context, caller int64, input string) (Result, error) {
	if err := c.authorize(caller); err != nil {
		return Result{}, err
	}
	p, ok, err := c.Pending(ctx, caller)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, ErrNoPending
	}
	if err := c.Cancel(ctx, caller); err != nil {
		return Result{}, err
	}

	switch p := p.(type) {
	case AwaitingAmount:
		delta, err := ParseSignedAmount(input)
		if err != nil {
			return Result{Op: "adjust", Offset: p.Offset}, err
		}
		acc, err := c.Adjust(ctx, caller, p.TargetID, delta)
		return Result{Op: "adjust", Account: acc, Offset: p.Offset}, err
	case AwaitingDays:
		days, err := ParseDays(input)
		if err != nil {
			return Result{Op: "set_validity", Offset: p.Offset}, err
		}
		acc, err := c.SetValidity(ctx, caller, p.TargetID, days)
		return Result{Op: "set_validity", Account: acc, Offset: p.Offset}, err
	case AwaitingBroadcastText:
		rep, err := c.Broadcast(ctx, caller, input)
		return Result{Op: "broadcast", Report: &rep}, err
	case AwaitingTargetUserID:
		id, ok := ParseFirstInt(input)
		if !ok || id <= 0 {
			return Result{Op: "open_user"}, ledger.ErrInvalidInput
		}
		acc, err := c.Card(ctx, caller, id)
		return Result{Op: "open_user", Account: acc}, err
	default:
		return Result{}, fmt.Errorf("admin: unhandled pending %T", p)
	}
}
