package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rollboy-tz/mult-schools-management-system/internal/ports"
)

// OutboxMetrics counts relayed outbox rows by outcome.
type OutboxMetrics interface {
	OutboxEvent(outcome string)
}

// OutboxConfig tunes the relay loop; zero values take defaults.
type OutboxConfig struct {
	Interval   time.Duration
	BatchSize  int
	ClaimTTL   time.Duration
	MaxRetries int
}

func (c OutboxConfig) withDefaults() OutboxConfig {
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	return c
}

// BatchResult summarizes one relay pass.
type BatchResult struct {
	Claimed      int
	Published    int
	Failed       int
	DeadLettered int
}

// OutboxWorker relays committed outbox rows to the event publisher. Rows are
// leased with a claim token so parallel workers never publish the same row.
type OutboxWorker struct {
	logger    *slog.Logger
	outbox    ports.OutboxRepository
	publisher ports.EventPublisher
	metrics   OutboxMetrics
	cfg       OutboxConfig
	nowFn     func() time.Time
}

func NewOutboxWorker(logger *slog.Logger, outbox ports.OutboxRepository, publisher ports.EventPublisher, metrics OutboxMetrics, cfg OutboxConfig) *OutboxWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &OutboxWorker{
		logger:    logger.With("module", "events.outbox_worker", "layer", "adapter"),
		outbox:    outbox,
		publisher: publisher,
		metrics:   metrics,
		cfg:       cfg.withDefaults(),
		nowFn:     time.Now,
	}
}

// Run relays on every tick until ctx is cancelled.
func (w *OutboxWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := w.ProcessOnce(ctx); err != nil {
			w.logger.ErrorContext(ctx, "outbox iteration failed",
				"operation", "outbox_process_once",
				"outcome", "failure",
				"error", err,
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessOnce claims one batch and publishes it.
func (w *OutboxWorker) ProcessOnce(ctx context.Context) (BatchResult, error) {
	claimToken := uuid.NewString()
	records, err := w.outbox.ClaimUnpublished(ctx, w.cfg.BatchSize, claimToken, w.nowFn().UTC().Add(w.cfg.ClaimTTL))
	if err != nil {
		return BatchResult{}, err
	}

	result := BatchResult{Claimed: len(records)}
	for _, rec := range records {
		now := w.nowFn().UTC()
		if rec.RetryCount >= w.cfg.MaxRetries {
			result.DeadLettered++
			w.settle(ctx, rec, "dead_lettered", w.outbox.MarkDeadLettered(ctx, rec.OutboxID, claimToken, "retry threshold reached before publish", now))
			continue
		}

		pubErr := w.publisher.Publish(ctx, rec.EventType, rec.Payload, rec.PartitionKey)
		if pubErr == nil {
			result.Published++
			w.settle(ctx, rec, "published", w.outbox.MarkPublished(ctx, rec.OutboxID, claimToken, now))
			continue
		}

		result.Failed++
		attempts := rec.RetryCount + 1
		if attempts >= w.cfg.MaxRetries {
			result.DeadLettered++
			w.logger.ErrorContext(ctx, "outbox message moved to dead letter",
				"operation", "publish_event",
				"outcome", "failure",
				"outbox_id", rec.OutboxID,
				"event_type", rec.EventType,
				"retry_count", attempts,
				"error", pubErr,
			)
			w.settle(ctx, rec, "dead_lettered", w.outbox.MarkDeadLettered(ctx, rec.OutboxID, claimToken, pubErr.Error(), now))
			continue
		}

		w.logger.WarnContext(ctx, "outbox publish failed; retry scheduled",
			"operation", "publish_event",
			"outcome", "failure",
			"outbox_id", rec.OutboxID,
			"event_type", rec.EventType,
			"retry_count", attempts,
			"error", pubErr,
		)
		w.settle(ctx, rec, "failed", w.outbox.MarkFailed(ctx, rec.OutboxID, claimToken, pubErr.Error(), now))
	}

	if result.Claimed > 0 {
		w.logger.InfoContext(ctx, "outbox batch processed",
			"operation", "outbox_process_once",
			"outcome", "success",
			"batch_size", result.Claimed,
			"published_count", result.Published,
			"failed_count", result.Failed,
			"dead_lettered_count", result.DeadLettered,
		)
	}
	return result, nil
}

// settle records the outcome; a failed mark leaves the lease to expire and
// the row is retried by a later pass.
func (w *OutboxWorker) settle(ctx context.Context, rec ports.OutboxRecord, outcome string, markErr error) {
	if w.metrics != nil {
		w.metrics.OutboxEvent(outcome)
	}
	if markErr != nil {
		w.logger.WarnContext(ctx, "outbox mark failed",
			"operation", "outbox_mark_"+outcome,
			"outcome", "failure",
			"outbox_id", rec.OutboxID,
			"error", markErr,
		)
	}
}
