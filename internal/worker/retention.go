// Package worker runs background maintenance for the reflection judge.
package worker

import (
	"context"
	"log/slog"
	"time"
)

// DefaultRetentionInterval is how often expired audit records are swept.
const DefaultRetentionInterval = time.Hour

// Cleaner deletes records older than a given age.
type Cleaner interface {
	CleanupOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// StartRetentionWorker runs a background goroutine that periodically deletes
// audit records older than retention. It stops when ctx is done; the returned
// channel is closed once it has.
func StartRetentionWorker(ctx context.Context, cleaner Cleaner, retention, interval time.Duration) <-chan struct{} {
	if interval <= 0 {
		interval = DefaultRetentionInterval
	}
	stopped := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(stopped)
		defer ticker.Stop()
		slog.Info("Retention worker started", "interval", interval, "retention", retention)

		sweep(ctx, cleaner, retention)
		for {
			select {
			case <-ticker.C:
				sweep(ctx, cleaner, retention)
			case <-ctx.Done():
				slog.Info("Retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return stopped
}

func sweep(ctx context.Context, cleaner Cleaner, retention time.Duration) {
	deleted, err := cleaner.CleanupOlderThan(ctx, retention)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("Retention worker failed to clean up records", "error", err)
		}
		return
	}
	if deleted > 0 {
		slog.Info("Retention worker removed expired records", "count", deleted)
	}
}
