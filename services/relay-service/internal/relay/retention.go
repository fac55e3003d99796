package relay

import (
	"context"
	"log/slog"
	"time"
)

// Reaper deletes delivered outbox rows once they age out. Undelivered rows
// are never touched, however old: a stuck row must stay visible in the
// backlog until someone deals with it.
type Reaper struct {
	store    RetentionStore
	logger   *slog.Logger
	interval time.Duration
	retain   time.Duration
}

type RetentionStore interface {
	DeleteDeliveredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

func NewReaper(store RetentionStore, logger *slog.Logger, interval, retain time.Duration) *Reaper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if retain <= 0 {
		retain = 720 * time.Hour
	}
	return &Reaper{store: store, logger: logger, interval: interval, retain: retain}
}

func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-r.retain)
			n, err := r.store.DeleteDeliveredBefore(ctx, cutoff)
			if err != nil {
				r.logger.Error("retention sweep failed", "err", err)
				continue
			}
			if n > 0 {
				r.logger.Info("retention sweep", "deleted", n, "cutoff", cutoff)
			}
		}
	}
}
