package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ishowlab-boop/CircleMakerProBot/ledger"
)

func TestGetDoesNotCreate(t *testing.T) {
	ctx := context.Background()
	s := New()

	a, err := s.Get(ctx, 5)
	require.NoError(t, err)
	assert.EqualValues(t, 5, a.UserID)
	assert.Zero(t, a.Balance)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMutateErrorDiscardsChanges(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.Mutate(ctx, 1, func(a *ledger.Account) error { a.Balance = 3; return nil })
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = s.Mutate(ctx, 1, func(a *ledger.Account) error { a.Balance = 100; return boom })
	assert.ErrorIs(t, err, boom)

	a, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 3, a.Balance)
}

func TestMutateCannotRewriteIdentity(t *testing.T) {
	ctx := context.Background()
	s := New()
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertIdentity(ctx, ledger.Identity{UserID: 2, Username: "bob"}, at))

	a, err := s.Mutate(ctx, 2, func(a *ledger.Account) error {
		a.Username = "mallory"
		a.Balance = 1
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "bob", a.Username)
	assert.True(t, a.LastSeen.Equal(at))
}

func TestReturnedAccountIsACopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	until := time.Now().Add(time.Hour)
	a, err := s.Mutate(ctx, 3, func(a *ledger.Account) error { a.ValidUntil = &until; return nil })
	require.NoError(t, err)

	*a.ValidUntil = a.ValidUntil.Add(time.Hour)
	again, err := s.Get(ctx, 3)
	require.NoError(t, err)
	assert.True(t, again.ValidUntil.Equal(until))
}

func TestConcurrentMutateNoLostUpdates(t *testing.T) {
	ctx := context.Background()
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := int64(i % 4)
			_, err := s.Mutate(ctx, id, func(a *ledger.Account) error { a.Balance++; return nil })
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	for id := int64(0); id < 4; id++ {
		a, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.EqualValues(t, 50, a.Balance)
	}
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Mutate(ctx, 1, func(*ledger.Account) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
