package admin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticRecipients []int64

func (s staticRecipients) EnumerateUserIDs(context.Context) ([]int64, error) { return s, nil }

func TestBroadcastStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sent := 0
	sender := senderFunc(func(context.Context, int64, string) error {
		sent++
		if sent == 2 {
			cancel()
		}
		return nil
	})

	b := NewBroadcaster(staticRecipients{1, 2, 3, 4, 5}, sender, 1000)
	rep, err := b.Run(ctx, "hi")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 5, rep.Total)
	assert.Equal(t, 2, rep.Sent)
}

func TestBroadcastEmpty(t *testing.T) {
	b := NewBroadcaster(staticRecipients{}, senderFunc(func(context.Context, int64, string) error { return nil }), 0)
	rep, err := b.Run(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, Report{Duration: rep.Duration}, rep)
}
