package ledger

import (
	"context"
	"time"
)

// Counts holds the completed-conversion counters of one account.
type Counts struct {
	Videos int64
	Voices int64
}

// Tracker increments usage counters. Counters only grow.
type Tracker struct {
	engine *Engine
}

// NewTracker returns a Tracker writing through e.
func NewTracker(e *Engine) *Tracker { return &Tracker{engine: e} }

// Increment bumps the counter for kind.
func (t *Tracker) Increment(ctx context.Context, userID int64, kind MediaKind) (Counts, error) {
	a, err := t.engine.mutate(ctx, userID, func(a *Account, _ time.Time) error {
		switch kind {
		case KindVideo:
			a.VideosMade++
		case KindVoice:
			a.VoicesMade++
		default:
			return ErrInvalidInput
		}
		return nil
	})
	if err != nil {
		return Counts{}, err
	}
	return Counts{Videos: a.VideosMade, Voices: a.VoicesMade}, nil
}

// IncrementVideo records one finished video note.
func (t *Tracker) IncrementVideo(ctx context.Context, userID int64) (Counts, error) {
	return t.Increment(ctx, userID, KindVideo)
}

// IncrementVoice records one finished voice note.
func (t *Tracker) IncrementVoice(ctx context.Context, userID int64) (Counts, error) {
	return t.Increment(ctx, userID, KindVoice)
}

// GetCounts returns both counters.
func (t *Tracker) GetCounts(ctx context.Context, userID int64) (Counts, error) {
	a, err := t.engine.Snapshot(ctx, userID)
	if err != nil {
		return Counts{}, err
	}
	return Counts{Videos: a.VideosMade, Voices: a.VoicesMade}, nil
}
