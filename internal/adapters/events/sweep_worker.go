package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/rollboy-tz/mult-schools-management-system/internal/application"
)

// ExpirySweeper deletes expired refresh tokens and verification codes.
type ExpirySweeper interface {
	SweepExpired(ctx context.Context) (application.SweepResult, error)
}

// SweepWorker runs the expiry sweep on a fixed interval.
type SweepWorker struct {
	logger   *slog.Logger
	sweeper  ExpirySweeper
	interval time.Duration
}

func NewSweepWorker(logger *slog.Logger, sweeper ExpirySweeper, interval time.Duration) *SweepWorker {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &SweepWorker{
		logger:   logger.With("module", "events.sweep_worker", "layer", "adapter"),
		sweeper:  sweeper,
		interval: interval,
	}
}

func (w *SweepWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		res, err := w.sweeper.SweepExpired(ctx)
		if err != nil {
			w.logger.ErrorContext(ctx, "expiry sweep failed",
				"operation", "sweep_expired",
				"outcome", "failure",
				"error", err,
			)
		} else if res.RefreshTokens > 0 || res.VerificationCodes > 0 {
			w.logger.InfoContext(ctx, "expiry sweep completed",
				"operation", "sweep_expired",
				"outcome", "success",
				"refresh_tokens_deleted", res.RefreshTokens,
				"verification_codes_deleted", res.VerificationCodes,
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
