package admin

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/ishowlab-boop/CircleMakerProBot/telemetry"
)

// Sender delivers one text message to a user.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Recipients enumerates broadcast targets.
type Recipients interface {
	EnumerateUserIDs(ctx context.Context) ([]int64, error)
}

// Report summarizes one broadcast.
type Report struct {
	Total    int
	Sent     int
	Failed   int
	Duration time.Duration
}

// Broadcaster sends a message to every known user at a bounded rate.
// Individual delivery failures are counted, not fatal.
type Broadcaster struct {
	recipients Recipients
	sender     Sender
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewBroadcaster paces deliveries at perSecond messages per second.
func NewBroadcaster(recipients Recipients, sender Sender, perSecond float64) *Broadcaster {
	if perSecond <= 0 {
		perSecond = 20
	}
	return &Broadcaster{
		recipients: recipients,
		sender:     sender,
		limiter:    rate.NewLimiter(rate.Limit(perSecond), 1),
		logger:     slog.Default().With(slog.String("component", "admin_broadcast")),
	}
}

// Run delivers text to every user. A canceled ctx stops the run and returns
// the partial report with ctx's error.
func (b *Broadcaster) Run(ctx context.Context, text string) (Report, error) {
	start := time.Now()
	ids, err := b.recipients.EnumerateUserIDs(ctx)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Total: len(ids)}
	for _, id := range ids {
		if err := b.limiter.Wait(ctx); err != nil {
			rep.Duration = time.Since(start)
			b.logger.Warn("broadcast interrupted", slog.Int("sent", rep.Sent), slog.Int("failed", rep.Failed), slog.Any("error", err))
			return rep, err
		}
		if err := b.sender.SendText(ctx, id, text); err != nil {
			rep.Failed++
			telemetry.RecordBroadcast(false)
			b.logger.Debug("broadcast delivery failed", slog.Int64("user_id", id), slog.Any("error", err))
			continue
		}
		rep.Sent++
		telemetry.RecordBroadcast(true)
	}
	rep.Duration = time.Since(start)
	b.logger.Info("broadcast finished",
		slog.Int("total", rep.Total),
		slog.Int("sent", rep.Sent),
		slog.Int("failed", rep.Failed),
		slog.Duration("took", rep.Duration))
	return rep, nil
}
