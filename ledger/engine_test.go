package ledger_test

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ishowlab-boop/CircleMakerProBot/ledger"
	"github.com/ishowlab-boop/CircleMakerProBot/ledger/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type oracleFunc func(ctx context.Context, channelID string, userID int64) (bool, error)

func (f oracleFunc) IsMember(ctx context.Context, channelID string, userID int64) (bool, error) {
	return f(ctx, channelID, userID)
}

func newEngine(t *testing.T, opts ...ledger.Option) (*ledger.Engine, *fakeClock) {
	t.Helper()
	clk := newFakeClock()
	store := memory.New(memory.WithNow(clk.Now))
	return ledger.NewEngine(store, append([]ledger.Option{ledger.WithClock(clk)}, opts...)...), clk
}

func TestTryReserveFreshAccountRefused(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	ok, acc, err := e.TryReserve(ctx, 1, 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, acc.Balance)
}

func TestReserveThenRefundRestoresBalance(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	tracker := ledger.NewTracker(e)

	_, err := e.Credit(ctx, 7, 2)
	require.NoError(t, err)

	ok, acc, err := e.TryReserve(ctx, 7, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 1, acc.Balance)

	// transcoder failed: refund
	acc, err = e.Credit(ctx, 7, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, acc.Balance)

	counts, err := tracker.GetCounts(ctx, 7)
	require.NoError(t, err)
	assert.Zero(t, counts.Videos)
}

func TestDebitCapsAtZero(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	_, err := e.Credit(ctx, 3, 4)
	require.NoError(t, err)
	acc, err := e.Debit(ctx, 3, 10)
	require.NoError(t, err)
	assert.Zero(t, acc.Balance)
}

func TestInvalidAmounts(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	_, err := e.Credit(ctx, 1, 0)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
	_, err = e.Debit(ctx, 1, -3)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
	_, _, err = e.TryReserve(ctx, 1, 0)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
	_, err = e.SetValidity(ctx, 1, 0)
	assert.ErrorIs(t, err, ledger.ErrInvalidDays)
}

func TestCreditOverflowRefused(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	acc, err := e.Credit(ctx, 4, math.MaxInt64)
	require.NoError(t, err)
	assert.EqualValues(t, int64(math.MaxInt64), acc.Balance)

	_, err = e.Credit(ctx, 4, 1)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	b, err := e.GetBalance(ctx, 4)
	require.NoError(t, err)
	assert.EqualValues(t, int64(math.MaxInt64), b.Amount)

	ok, acc, err := e.TryReserve(ctx, 4, math.MaxInt64)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, acc.Balance)
}

func TestSetValidityDayBounds(t *testing.T) {
	ctx := context.Background()
	e, clk := newEngine(t)
	_, err := e.Credit(ctx, 6, 5)
	require.NoError(t, err)

	for _, days := range []int{ledger.MaxValidityDays + 1, 200000, math.MaxInt} {
		_, err := e.SetValidity(ctx, 6, days)
		assert.ErrorIs(t, err, ledger.ErrInvalidDays, "days=%d", days)
	}

	acc, err := e.SetValidity(ctx, 6, ledger.MaxValidityDays)
	require.NoError(t, err)
	require.NotNil(t, acc.ValidUntil)
	assert.True(t, acc.ValidUntil.After(clk.Now()))

	clk.Advance(time.Second)
	b, err := e.GetBalance(ctx, 6)
	require.NoError(t, err)
	assert.EqualValues(t, 5, b.Amount)
	assert.NotNil(t, b.ValidUntil)
}

func TestBalanceNeverNegativeUnderRandomOps(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 2000; i++ {
		amt := int64(rng.Intn(5) + 1)
		var acc ledger.Account
		var err error
		switch rng.Intn(3) {
		case 0:
			acc, err = e.Credit(ctx, 9, amt)
		case 1:
			acc, err = e.Debit(ctx, 9, amt)
		default:
			_, acc, err = e.TryReserve(ctx, 9, amt)
		}
		require.NoError(t, err)
		require.GreaterOrEqual(t, acc.Balance, int64(0), "step %d", i)
	}
}

func TestLazyExpiryObservedByEveryOperation(t *testing.T) {
	ops := map[string]func(ctx context.Context, e *ledger.Engine) (ledger.Account, error){
		"get_balance": func(ctx context.Context, e *ledger.Engine) (ledger.Account, error) {
			return e.Snapshot(ctx, 5)
		},
		"try_reserve": func(ctx context.Context, e *ledger.Engine) (ledger.Account, error) {
			_, a, err := e.TryReserve(ctx, 5, 1)
			return a, err
		},
		"debit": func(ctx context.Context, e *ledger.Engine) (ledger.Account, error) {
			return e.Debit(ctx, 5, 1)
		},
		"clear_validity": func(ctx context.Context, e *ledger.Engine) (ledger.Account, error) {
			return e.ClearValidity(ctx, 5)
		},
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			e, clk := newEngine(t)
			_, err := e.Credit(ctx, 5, 5)
			require.NoError(t, err)
			_, err = e.SetValidity(ctx, 5, 1)
			require.NoError(t, err)

			clk.Advance(24 * time.Hour)
			acc, err := op(ctx, e)
			require.NoError(t, err)
			assert.Zero(t, acc.Balance)
			assert.Nil(t, acc.ValidFrom)
			assert.Nil(t, acc.ValidUntil)
		})
	}
}

func TestCreditAfterExpiryStartsFromZero(t *testing.T) {
	ctx := context.Background()
	e, clk := newEngine(t)
	_, err := e.Credit(ctx, 5, 5)
	require.NoError(t, err)
	_, err = e.SetValidity(ctx, 5, 2)
	require.NoError(t, err)

	clk.Advance(49 * time.Hour)
	acc, err := e.Credit(ctx, 5, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, acc.Balance)
	assert.Nil(t, acc.ValidUntil)
}

func TestFailedReservePersistsExpiryReset(t *testing.T) {
	ctx := context.Background()
	e, clk := newEngine(t)
	_, err := e.Credit(ctx, 8, 1)
	require.NoError(t, err)
	_, err = e.SetValidity(ctx, 8, 1)
	require.NoError(t, err)
	clk.Advance(25 * time.Hour)

	ok, _, err := e.TryReserve(ctx, 8, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	raw, err := e.Store().Get(ctx, 8)
	require.NoError(t, err)
	assert.Zero(t, raw.Balance)
	assert.Nil(t, raw.ValidUntil)
}

func TestValidityStillActiveJustBeforeEnd(t *testing.T) {
	ctx := context.Background()
	e, clk := newEngine(t)
	_, err := e.Credit(ctx, 5, 3)
	require.NoError(t, err)
	_, err = e.SetValidity(ctx, 5, 1)
	require.NoError(t, err)

	clk.Advance(24*time.Hour - time.Second)
	b, err := e.GetBalance(ctx, 5)
	require.NoError(t, err)
	assert.EqualValues(t, 3, b.Amount)
	require.NotNil(t, b.ValidUntil)
}

func TestSetValidityReplacesWindow(t *testing.T) {
	ctx := context.Background()
	e, clk := newEngine(t)
	admin := ledger.NewAdmin(e)

	_, err := admin.SetValidityDays(ctx, 11, 30)
	require.NoError(t, err)
	clk.Advance(time.Hour)
	second := clk.Now()
	acc, err := admin.SetValidityDays(ctx, 11, 7)
	require.NoError(t, err)

	require.NotNil(t, acc.ValidFrom)
	require.NotNil(t, acc.ValidUntil)
	assert.True(t, acc.ValidFrom.Equal(second))
	assert.Equal(t, 7*24*time.Hour, acc.ValidUntil.Sub(*acc.ValidFrom))
}

func TestClearValidityKeepsBalance(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	_, err := e.Credit(ctx, 2, 4)
	require.NoError(t, err)
	_, err = e.SetValidity(ctx, 2, 3)
	require.NoError(t, err)

	acc, err := e.ClearValidity(ctx, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 4, acc.Balance)
	assert.Nil(t, acc.ValidFrom)
	assert.Nil(t, acc.ValidUntil)
}

func TestGrantWithValidityExpiresAfterWindow(t *testing.T) {
	ctx := context.Background()
	e, clk := newEngine(t)
	admin := ledger.NewAdmin(e)

	_, err := admin.GrantCredits(ctx, 21, 5)
	require.NoError(t, err)
	_, err = admin.SetValidityDays(ctx, 21, 30)
	require.NoError(t, err)

	clk.Advance(31 * 24 * time.Hour)
	b, err := e.GetBalance(ctx, 21)
	require.NoError(t, err)
	assert.Equal(t, ledger.Balance{}, b)
}

func TestConcurrentReservationsAreLinearizable(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	const n, k = 64, 10
	_, err := e.Credit(ctx, 99, k)
	require.NoError(t, err)

	var wins, losses atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, _, err := e.TryReserve(ctx, 99, 1)
			if err != nil {
				t.Error(err)
				return
			}
			if ok {
				wins.Add(1)
			} else {
				losses.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, k, wins.Load())
	assert.EqualValues(t, n-k, losses.Load())
	b, err := e.GetBalance(ctx, 99)
	require.NoError(t, err)
	assert.Zero(t, b.Amount)
}

func TestClaimFreeCredits(t *testing.T) {
	ctx := context.Background()
	member := true
	var calls atomic.Int32
	oracle := oracleFunc(func(_ context.Context, ch string, _ int64) (bool, error) {
		calls.Add(1)
		assert.Equal(t, "@channel", ch)
		return member, nil
	})
	e, _ := newEngine(t, ledger.WithMembership(oracle, "@channel"), ledger.WithFreeCredits(2))

	res, acc, err := e.ClaimFreeCredits(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, ledger.ClaimGranted, res)
	assert.EqualValues(t, 2, acc.Balance)
	assert.True(t, acc.FreeClaimed)

	for _, m := range []bool{true, false} {
		member = m
		res, acc, err = e.ClaimFreeCredits(ctx, 4)
		require.NoError(t, err)
		assert.Equal(t, ledger.ClaimAlreadyClaimed, res)
		assert.EqualValues(t, 2, acc.Balance)
	}
	assert.EqualValues(t, 1, calls.Load())
}

func TestClaimFreeCreditsFailsClosed(t *testing.T) {
	ctx := context.Background()
	cases := map[string]ledger.MembershipOracle{
		"not a member": oracleFunc(func(context.Context, string, int64) (bool, error) { return false, nil }),
		"oracle error": oracleFunc(func(context.Context, string, int64) (bool, error) {
			return true, errors.New("telegram: bad gateway")
		}),
		"no oracle": nil,
	}
	for name, oracle := range cases {
		t.Run(name, func(t *testing.T) {
			e, _ := newEngine(t, ledger.WithMembership(oracle, "@c"))
			res, acc, err := e.ClaimFreeCredits(ctx, 6)
			require.NoError(t, err)
			assert.Equal(t, ledger.ClaimNotSubscribed, res)
			assert.ErrorIs(t, res.Err(), ledger.ErrNotSubscribed)
			assert.Zero(t, acc.Balance)
			assert.False(t, acc.FreeClaimed)
		})
	}
}

func TestConcurrentClaimsGrantOnce(t *testing.T) {
	ctx := context.Background()
	oracle := oracleFunc(func(context.Context, string, int64) (bool, error) { return true, nil })
	e, _ := newEngine(t, ledger.WithMembership(oracle, "@c"), ledger.WithFreeCredits(3))

	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, _, err := e.ClaimFreeCredits(ctx, 12)
			if err == nil && res == ledger.ClaimGranted {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, granted.Load())
	b, err := e.GetBalance(ctx, 12)
	require.NoError(t, err)
	assert.EqualValues(t, 3, b.Amount)
}

func TestTrackerCountsOnlyGrow(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	tr := ledger.NewTracker(e)

	_, err := tr.IncrementVideo(ctx, 1)
	require.NoError(t, err)
	_, err = tr.IncrementVideo(ctx, 1)
	require.NoError(t, err)
	c, err := tr.IncrementVoice(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, ledger.Counts{Videos: 2, Voices: 1}, c)

	_, err = tr.Increment(ctx, 1, ledger.MediaKind("gif"))
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)
}

func TestTouchRecordsIdentity(t *testing.T) {
	ctx := context.Background()
	e, clk := newEngine(t)

	_, err := e.Touch(ctx, ledger.Identity{UserID: 30, Username: "ann", FirstName: "Ann"})
	require.NoError(t, err)
	clk.Advance(time.Minute)
	acc, err := e.Touch(ctx, ledger.Identity{UserID: 30, Username: "ann2", FirstName: "Ann"})
	require.NoError(t, err)

	assert.Equal(t, "ann2", acc.Username)
	assert.True(t, acc.LastSeen.Equal(clk.Now()))
	assert.True(t, acc.JoinedAt.Before(acc.LastSeen))
}

type failingStore struct {
	ledger.Store
}

func (failingStore) Mutate(context.Context, int64, func(*ledger.Account) error) (ledger.Account, error) {
	return ledger.Account{}, ledger.StorageFailure("mutate", errors.New("disk full"))
}

func TestStorageFailurePropagates(t *testing.T) {
	ctx := context.Background()
	e := ledger.NewEngine(failingStore{Store: memory.New()})

	ok, _, err := e.TryReserve(ctx, 1, 1)
	assert.False(t, ok)
	assert.True(t, ledger.IsStorageError(err))
	assert.False(t, ledger.IsUserVisible(err))

	_, err = e.Credit(ctx, 1, 1)
	assert.ErrorIs(t, err, ledger.ErrStorage)
}
