package service

import (
	"context"
	"log/slog"
	"time"

	"gamegroup/internal/storage"
)

// SweepExpiredTokens deletes expired login tokens every interval until ctx is
// done. Expired tokens are already unusable; this only bounds table growth.
func SweepExpiredTokens(ctx context.Context, st storage.Storage, interval time.Duration, now func() time.Time, lgr *slog.Logger) {
	const op = "service.SweepExpiredTokens"

	log := lgr.With(slog.String("op", op))

	if interval <= 0 {
		log.Warn("sweeper disabled", slog.Duration("interval", interval))
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := st.DeleteExpiredAuthTokens(ctx, now().UTC())
			if err != nil {
				log.Error("failed to delete expired login tokens", slog.Any("error", err))
				continue
			}
			if n > 0 {
				log.Info("deleted expired login tokens", slog.Int64("count", n))
			}
		}
	}
}
