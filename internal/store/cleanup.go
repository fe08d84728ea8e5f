package store

import (
	"context"
	"log/slog"
	"time"
)

// DefaultCleanupInterval is how often the cleanup worker sweeps.
const DefaultCleanupInterval = 5 * time.Minute

// StartCleanupWorker runs a background goroutine that periodically deletes
// sessions idle for longer than ttl. It stops when ctx is cancelled.
func StartCleanupWorker(ctx context.Context, st SessionStore, ttl, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Cleanup worker started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				cleanupExpired(ctx, st, ttl)
			case <-ctx.Done():
				slog.Info("Cleanup worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func cleanupExpired(ctx context.Context, st SessionStore, ttl time.Duration) int64 {
	deleted, err := st.DeleteExpired(ctx, ttl)
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("Cleanup worker: context canceled during sweep", "error", err)
			return 0
		}
		slog.Error("Cleanup worker failed to delete expired sessions", "error", err)
		return 0
	}
	if deleted > 0 {
		slog.Info("Cleanup worker removed expired sessions", "count", deleted)
	}
	return deleted
}
