package admin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ishowlab-boop/CircleMakerProBot/ledger"
	"github.com/ishowlab-boop/CircleMakerProBot/ledger/memory"
)

const (
	owner    int64 = 100
	stranger int64 = 200
)

type senderFunc func(ctx context.Context, chatID int64, text string) error

func (f senderFunc) SendText(ctx context.Context, chatID int64, text string) error {
	return f(ctx, chatID, text)
}

func newConsole(t *testing.T, opts ...ConsoleOption) (*Console, *ledger.Engine) {
	t.Helper()
	engine := ledger.NewEngine(memory.New())
	return NewConsole(ledger.NewAdmin(engine), NewMemorySessionStore(time.Minute), []int64{owner}, opts...), engine
}

func TestNonAdminRejectedBeforeMutation(t *testing.T) {
	ctx := context.Background()
	c, engine := newConsole(t)

	_, err := c.Grant(ctx, stranger, 5, 10)
	assert.ErrorIs(t, err, ErrNotAdmin)
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)

	_, err = c.SetValidity(ctx, stranger, 5, 30)
	assert.ErrorIs(t, err, ErrNotAdmin)
	_, err = c.Users(ctx, stranger, 0)
	assert.ErrorIs(t, err, ErrNotAdmin)
	assert.ErrorIs(t, c.Begin(ctx, stranger, AwaitingBroadcastText{}), ErrNotAdmin)

	n, err := engine.Store().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "no account should have been created")
}

func TestGrantRevokeValidity(t *testing.T) {
	ctx := context.Background()
	c, _ := newConsole(t)

	acc, err := c.Grant(ctx, owner, 5, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 10, acc.Balance)

	acc, err = c.Revoke(ctx, owner, 5, 15)
	require.NoError(t, err)
	assert.Zero(t, acc.Balance)

	acc, err = c.SetValidity(ctx, owner, 5, 30)
	require.NoError(t, err)
	require.NotNil(t, acc.ValidUntil)

	premium, err := c.Premium(ctx, owner)
	require.NoError(t, err)
	require.Len(t, premium, 1)

	acc, err = c.ClearValidity(ctx, owner, 5)
	require.NoError(t, err)
	assert.Nil(t, acc.ValidUntil)
}

func TestUsersPaging(t *testing.T) {
	ctx := context.Background()
	c, engine := newConsole(t)
	for id := int64(1); id <= 23; id++ {
		_, err := engine.Touch(ctx, ledger.Identity{UserID: id})
		require.NoError(t, err)
	}

	page, err := c.Users(ctx, owner, 0)
	require.NoError(t, err)
	assert.Len(t, page.Accounts, PageSize)
	assert.False(t, page.HasPrev())
	assert.True(t, page.HasNext())

	page, err = c.Users(ctx, owner, 20)
	require.NoError(t, err)
	assert.Len(t, page.Accounts, 3)
	assert.True(t, page.HasPrev())
	assert.False(t, page.HasNext())
}

func TestCardSelectsTarget(t *testing.T) {
	ctx := context.Background()
	c, engine := newConsole(t)

	_, err := c.Card(ctx, owner, 42)
	require.NoError(t, err)
	target, err := c.Target(ctx, owner)
	require.NoError(t, err)
	assert.EqualValues(t, 42, target)

	require.NoError(t, c.Begin(ctx, owner, AwaitingTargetUserID{}))
	_, err = c.Complete(ctx, owner, "4242")
	require.NoError(t, err)

	n, err := engine.Store().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "viewing a card must not create the account")

	_, err = c.Grant(ctx, owner, 42, 1)
	require.NoError(t, err)
	n, err = engine.Store().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWizardAmount(t *testing.T) {
	ctx := context.Background()
	c, _ := newConsole(t)

	require.NoError(t, c.Begin(ctx, owner, AwaitingAmount{TargetID: 9, Offset: 10}))
	p, ok, err := c.Pending(ctx, owner)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, AwaitingAmount{TargetID: 9, Offset: 10}, p)

	res, err := c.Complete(ctx, owner, "+50")
	require.NoError(t, err)
	assert.EqualValues(t, 50, res.Account.Balance)
	assert.Equal(t, 10, res.Offset)

	_, ok, err = c.Pending(ctx, owner)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Begin(ctx, owner, AwaitingAmount{TargetID: 9}))
	res, err = c.Complete(ctx, owner, "-20")
	require.NoError(t, err)
	assert.EqualValues(t, 30, res.Account.Balance)
}

func TestWizardInvalidInputClosesStep(t *testing.T) {
	ctx := context.Background()
	c, _ := newConsole(t)

	require.NoError(t, c.Begin(ctx, owner, AwaitingDays{TargetID: 9}))
	_, err := c.Complete(ctx, owner, "soon")
	assert.ErrorIs(t, err, ledger.ErrInvalidDays)

	_, ok, err := c.Pending(ctx, owner)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.Complete(ctx, owner, "30")
	assert.ErrorIs(t, err, ErrNoPending)
}

func TestWizardDaysAndTarget(t *testing.T) {
	ctx := context.Background()
	c, _ := newConsole(t)

	require.NoError(t, c.Begin(ctx, owner, AwaitingTargetUserID{}))
	res, err := c.Complete(ctx, owner, "id 777")
	require.NoError(t, err)
	assert.EqualValues(t, 777, res.Account.UserID)

	require.NoError(t, c.Begin(ctx, owner, AwaitingDays{TargetID: 777}))
	res, err = c.Complete(ctx, owner, "7 days")
	require.NoError(t, err)
	require.NotNil(t, res.Account.ValidUntil)
	assert.Equal(t, 7*24*time.Hour, res.Account.ValidUntil.Sub(*res.Account.ValidFrom))
}

func TestCancelKeepsTarget(t *testing.T) {
	ctx := context.Background()
	c, _ := newConsole(t)

	require.NoError(t, c.Begin(ctx, owner, AwaitingAmount{TargetID: 3}))
	require.NoError(t, c.Cancel(ctx, owner))

	_, ok, err := c.Pending(ctx, owner)
	require.NoError(t, err)
	assert.False(t, ok)
	target, err := c.Target(ctx, owner)
	require.NoError(t, err)
	assert.EqualValues(t, 3, target)
}

func TestSessionExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemorySessionStore(10 * time.Minute)
	store.now = func() time.Time { return now }
	c := NewConsole(ledger.NewAdmin(ledger.NewEngine(memory.New())), store, []int64{owner},
		WithSessionClock(func() time.Time { return now }))

	require.NoError(t, c.Begin(ctx, owner, AwaitingBroadcastText{}))
	now = now.Add(11 * time.Minute)
	_, ok, err := c.Pending(ctx, owner)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWizardBroadcast(t *testing.T) {
	ctx := context.Background()
	engine := ledger.NewEngine(memory.New())
	for _, id := range []int64{1, 2, 3} {
		_, err := engine.Touch(ctx, ledger.Identity{UserID: id})
		require.NoError(t, err)
	}
	var got []int64
	sender := senderFunc(func(_ context.Context, chatID int64, text string) error {
		assert.Equal(t, "hello", text)
		got = append(got, chatID)
		if chatID == 2 {
			return errors.New("blocked by user")
		}
		return nil
	})
	admin := ledger.NewAdmin(engine)
	c := NewConsole(admin, NewMemorySessionStore(0), []int64{owner},
		WithBroadcaster(NewBroadcaster(admin, sender, 1000)))

	require.NoError(t, c.Begin(ctx, owner, AwaitingBroadcastText{}))
	res, err := c.Complete(ctx, owner, "  hello ")
	require.NoError(t, err)
	require.NotNil(t, res.Report)
	assert.Equal(t, 3, res.Report.Total)
	assert.Equal(t, 2, res.Report.Sent)
	assert.Equal(t, 1, res.Report.Failed)
	assert.Equal(t, []int64{1, 2, 3}, got)
}

func TestBroadcastWithoutBroadcaster(t *testing.T) {
	c, _ := newConsole(t)
	_, err := c.Broadcast(context.Background(), owner, "x")
	assert.ErrorIs(t, err, ErrNoBroadcaster)
}

func TestOverview(t *testing.T) {
	ctx := context.Background()
	c, _ := newConsole(t)
	_, err := c.SetValidity(ctx, owner, 1, 7)
	require.NoError(t, err)
	_, err = c.Grant(ctx, owner, 2, 1)
	require.NoError(t, err)

	ov, err := c.Overview(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, Overview{Accounts: 2, ActiveValidity: 1}, ov)
}
