package convert

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ishowlab-boop/CircleMakerProBot/telemetry"
)

// Janitor removes conversion work directories left behind by crashed runs.
type Janitor struct {
	Dir      string
	MaxAge   time.Duration
	Interval time.Duration
	DryRun   bool

	now func() time.Time
}

// NewJanitor returns a Janitor over dir with the given age limit and interval.
func NewJanitor(dir string, maxAge, interval time.Duration) *Janitor {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Janitor{Dir: dir, MaxAge: maxAge, Interval: interval, now: time.Now}
}

// Sweep deletes entries in Dir older than MaxAge and returns how many it removed.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(j.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	cutoff := j.now().Add(-j.MaxAge)
	removed := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(j.Dir, e.Name())
		if j.DryRun {
			slog.Info("[DRY RUN] would remove stale work dir", slog.String("path", path), slog.String("component", "convert_janitor"))
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			slog.Warn("failed to remove stale work dir", slog.String("path", path), slog.Any("error", err), slog.String("component", "convert_janitor"))
			continue
		}
		removed++
	}
	telemetry.AddWorkdirsRemoved(removed)
	return removed, nil
}

// Run sweeps immediately and then every Interval until ctx is canceled.
func (j *Janitor) Run(ctx context.Context) {
	slog.Info("work dir janitor starting",
		slog.String("dir", j.Dir),
		slog.Duration("max_age", j.MaxAge),
		slog.Duration("interval", j.Interval),
		slog.String("component", "convert_janitor"))

	j.sweepAndLog(ctx)
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("work dir janitor stopped", slog.String("component", "convert_janitor"))
			return
		case <-ticker.C:
			j.sweepAndLog(ctx)
		}
	}
}

func (j *Janitor) sweepAndLog(ctx context.Context) {
	n, err := j.Sweep(ctx)
	if err != nil {
		slog.Warn("work dir sweep failed", slog.Any("error", err), slog.String("component", "convert_janitor"))
		return
	}
	if n > 0 {
		slog.Info("removed stale work dirs", slog.Int("count", n), slog.String("component", "convert_janitor"))
	}
}
