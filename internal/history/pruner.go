package history

import (
	"context"
	"log/slog"
	"time"
)

// DefaultPruneInterval is how often RunPruner deletes expired rows.
const DefaultPruneInterval = time.Hour

// RunPruner deletes entries older than retention every interval until ctx
// is cancelled. It prunes once immediately. A non-positive retention
// returns at once.
func RunPruner(ctx context.Context, repo Repository, retention, interval time.Duration, logger *slog.Logger) {
	if retention <= 0 {
		return
	}
	if interval <= 0 {
		interval = DefaultPruneInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	prune := func() {
		n, err := repo.Prune(ctx, retention)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("message history prune failed", "error", err)
			}
			return
		}
		if n > 0 {
			logger.Debug("message history pruned", "deleted", n, "retention", retention)
		}
	}

	prune()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
