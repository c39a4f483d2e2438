package workers

import (
	"context"
	"log/slog"
	"time"

	"join-code/contract"
)

// LockRefresher keeps the shared locks of local holders alive between edits.
type LockRefresher struct {
	log      *slog.Logger
	keeper   contract.LockKeeper
	interval time.Duration
}

func NewLockRefresher(log *slog.Logger, keeper contract.LockKeeper, interval time.Duration) *LockRefresher {
	return &LockRefresher{log: log, keeper: keeper, interval: interval}
}

func (w *LockRefresher) Run(ctx context.Context) error {
	w.log.Info("Starting lock refresher", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping lock refresher")
			return nil
		case <-ticker.C:
			w.keeper.RefreshLocks(ctx)
		}
	}
}
