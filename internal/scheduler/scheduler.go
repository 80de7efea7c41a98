package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shipmate/carrier-webhook-svc/internal/attemptlog"
	"github.com/shipmate/carrier-webhook-svc/internal/config"
	"github.com/shipmate/carrier-webhook-svc/internal/models"
	"github.com/shipmate/carrier-webhook-svc/internal/processor"
	"github.com/shipmate/carrier-webhook-svc/internal/retryqueue"
)

// Scheduler periodically drains due retry records through the event
// processor and prunes both the queue and the attempt log. Cycles never
// overlap in-process; a cycle that fires while the previous one still
// runs is skipped. Cross-process overlap is handled by the per-record
// claim in the queue.
type Scheduler struct {
	queue     *retryqueue.Queue
	processor *processor.Processor
	attempts  *attemptlog.Log
	cfg       config.RetryConfig
	logger    *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	runMu     sync.Mutex
}

func New(
	queue *retryqueue.Queue,
	proc *processor.Processor,
	attempts *attemptlog.Log,
	cfg config.RetryConfig,
	logger *zap.Logger,
) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		queue:     queue,
		processor: proc,
		attempts:  attempts,
		cfg:       cfg,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the periodic loop.
func (s *Scheduler) Start() error {
	if s.cfg.Interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive")
	}

	go s.loop()

	s.logger.Info("Retry scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("batch_limit", s.cfg.BatchLimit),
	)
	return nil
}

// Stop stops the periodic loop. A cycle already in flight finishes.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping retry scheduler")
	s.cancel()
}

func (s *Scheduler) loop() {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Info("Retry scheduler context cancelled, stopping")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(s.ctx); err != nil {
				s.logger.Error("Retry cycle failed", zap.Error(err))
			}
		}
	}
}

// RunOnce executes one retry cycle: fetch due items, reprocess each,
// record the outcome, then purge stale records. It is also the manual,
// on-demand trigger and is safe to call repeatedly; with nothing due it
// does nothing. Returns the number of items processed.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	if !s.runMu.TryLock() {
		s.logger.Warn("previous retry cycle still running, skipping")
		return 0, nil
	}
	defer s.runMu.Unlock()

	items, err := s.queue.DueItems(s.cfg.BatchLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch due retries: %w", err)
	}

	if len(items) == 0 {
		s.logger.Debug("no webhook retries to process")
	} else {
		s.logger.Info("processing webhook retries", zap.Int("count", len(items)))
		for i := range items {
			s.processItem(ctx, &items[i])
		}
	}

	if _, err := s.queue.PurgeStale(s.cfg.QueueRetention); err != nil {
		s.logger.Error("failed to purge retry queue", zap.Error(err))
	}
	if _, err := s.attempts.PurgeOlderThan(s.cfg.LogRetention); err != nil {
		s.logger.Error("failed to purge attempt log", zap.Error(err))
	}

	return len(items), nil
}

// processItem reprocesses one queued record. A failure or panic here
// must not abort the rest of the batch.
func (s *Scheduler) processItem(ctx context.Context, item *models.RetryRecord) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic while processing retry item",
				zap.Int64("id", item.ID),
				zap.Any("panic", r),
			)
		}
	}()

	itemCtx, cancel := context.WithTimeout(ctx, s.cfg.ItemTimeout)
	defer cancel()

	s.logger.Info("processing retry",
		zap.Int64("id", item.ID),
		zap.String("external_id", item.ExternalID),
		zap.String("event_type", item.EventType),
		zap.Int("retry_count", item.RetryCount),
	)

	event, err := models.ParseInboundEvent([]byte(item.Payload))
	if err != nil {
		// A snapshot that no longer parses will never succeed.
		if markErr := s.queue.MarkPermanentlyFailed(item, fmt.Sprintf("invalid payload snapshot: %v", err)); markErr != nil {
			s.logger.Error("failed to mark retry as failed", zap.Error(markErr))
		}
		return
	}

	_, procErr := s.processor.Process(itemCtx, event)

	if procErr != nil && !processor.Retryable(procErr) {
		s.logger.Warn("retry hit non-retryable failure",
			zap.Int64("id", item.ID),
			zap.String("error", procErr.Error()),
		)
		if markErr := s.queue.MarkPermanentlyFailed(item, procErr.Error()); markErr != nil {
			s.logger.Error("failed to mark retry as failed", zap.Error(markErr))
		}
		return
	}

	if err := s.queue.RecordResult(item, procErr); err != nil {
		s.logger.Error("failed to record retry result",
			zap.Int64("id", item.ID),
			zap.Error(err),
		)
	}
}
