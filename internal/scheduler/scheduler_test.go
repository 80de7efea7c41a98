package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/shipmate/carrier-webhook-svc/internal/attemptlog"
	"github.com/shipmate/carrier-webhook-svc/internal/config"
	"github.com/shipmate/carrier-webhook-svc/internal/models"
	"github.com/shipmate/carrier-webhook-svc/internal/orders"
	"github.com/shipmate/carrier-webhook-svc/internal/processor"
	"github.com/shipmate/carrier-webhook-svc/internal/retryqueue"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	sched *Scheduler
	queue *retryqueue.Queue
	store *orders.MemoryStore
	db    *gorm.DB
	clock *fakeClock
}

func testRetryConfig() config.RetryConfig {
	return config.RetryConfig{
		MaxRetries:     3,
		BaseDelay:      5 * time.Minute,
		BatchLimit:     10,
		Interval:       time.Hour,
		ItemTimeout:    30 * time.Second,
		QueueRetention: 7 * 24 * time.Hour,
		LogRetention:   30 * 24 * time.Hour,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&models.RetryRecord{}, &models.AttemptRecord{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := newFakeClock()
	cfg := testRetryConfig()
	logger := zap.NewNop()

	store := orders.NewMemoryStore()
	queue := retryqueue.New(db, logger, cfg.MaxRetries, cfg.BaseDelay, retryqueue.WithClock(clock.Now))
	attempts := attemptlog.New(db, logger, attemptlog.WithClock(clock.Now))
	proc := processor.New(store, nil, logger, processor.WithClock(clock.Now))

	return &fixture{
		sched: New(queue, proc, attempts, cfg, logger),
		queue: queue,
		store: store,
		db:    db,
		clock: clock,
	}
}

func (f *fixture) record(t *testing.T, externalID string) *models.RetryRecord {
	t.Helper()
	var rec models.RetryRecord
	if err := f.db.Where("external_id = ?", externalID).First(&rec).Error; err != nil {
		t.Fatalf("failed to load retry record: %v", err)
	}
	return &rec
}

func TestRunOnceEmptyQueue(t *testing.T) {
	f := newFixture(t)

	processed, err := f.sched.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if processed != 0 {
		t.Errorf("processed = %d, want 0", processed)
	}
}

func TestRunOnceRetriesUntilOrderAppears(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payload := []byte(`{"event":"order.posted","data":{"id":"ext-1","tracking":"TRK1"}}`)
	if err := f.queue.Enqueue(0, "ext-1", "order.posted", payload, "order not found"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Not due yet; no attempt consumed.
	processed, err := f.sched.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if processed != 0 {
		t.Fatalf("processed = %d before first delay elapsed, want 0", processed)
	}

	// First retry still fails: the order does not exist yet.
	f.clock.Advance(5 * time.Minute)
	processed, err = f.sched.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if processed != 1 {
		t.Fatalf("processed = %d, want 1", processed)
	}
	rec := f.record(t, "ext-1")
	if rec.Status != models.RetryStatusPending || rec.RetryCount != 1 {
		t.Fatalf("after first retry: status=%q count=%d, want pending/1", rec.Status, rec.RetryCount)
	}

	// The order shows up before the rescheduled attempt.
	f.store.Add("ext-1", "processing")

	f.clock.Advance(10 * time.Minute)
	if _, err := f.sched.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	rec = f.record(t, "ext-1")
	if rec.Status != models.RetryStatusCompleted {
		t.Fatalf("status = %q, want completed", rec.Status)
	}
	if rec.RetryCount != 2 {
		t.Errorf("retry_count = %d, want 2", rec.RetryCount)
	}

	ref, err := f.store.FindByExternalID(ctx, "ext-1")
	if err != nil {
		t.Fatalf("FindByExternalID: %v", err)
	}
	status, _ := f.store.Status(ctx, ref)
	if status != models.OrderStatusShipped {
		t.Errorf("order status = %q, want shipped after successful retry", status)
	}
}

func TestRunOnceExhaustsRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payload := []byte(`{"event":"order.posted","data":{"id":"ext-gone"}}`)
	if err := f.queue.Enqueue(0, "ext-gone", "order.posted", payload, "order not found"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// 5m, then 10m, then 20m backoff; the order never appears.
	for _, delay := range []time.Duration{5 * time.Minute, 10 * time.Minute, 20 * time.Minute} {
		f.clock.Advance(delay)
		if _, err := f.sched.RunOnce(ctx); err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
	}

	rec := f.record(t, "ext-gone")
	if rec.Status != models.RetryStatusFailed {
		t.Errorf("status = %q, want failed after exhausting retries", rec.Status)
	}
	if rec.RetryCount != 3 {
		t.Errorf("retry_count = %d, want 3", rec.RetryCount)
	}

	// A further cycle finds nothing to do.
	f.clock.Advance(time.Hour)
	processed, err := f.sched.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if processed != 0 {
		t.Errorf("processed = %d after exhaustion, want 0", processed)
	}
}

func TestRunOnceMarksUnparseableSnapshotFailed(t *testing.T) {
	f := newFixture(t)

	if err := f.queue.Enqueue(0, "ext-bad", "order.posted", []byte(`{"event":"order.cancelled","data":{"id":"ext-bad"}}`), "boom"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	f.clock.Advance(5 * time.Minute)
	if _, err := f.sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	// Straight to failed; no backoff cycles burned on a snapshot that
	// can never parse into a supported event.
	rec := f.record(t, "ext-bad")
	if rec.Status != models.RetryStatusFailed {
		t.Errorf("status = %q, want failed", rec.Status)
	}
	if rec.ErrorMessage == nil {
		t.Error("expected an error message on the failed record")
	}
}

func TestRunOncePurgesStaleRecords(t *testing.T) {
	f := newFixture(t)

	old := models.RetryRecord{
		ExternalID:  "ext-ancient",
		EventType:   "order.posted",
		Payload:     `{"event":"order.posted","data":{"id":"ext-ancient"}}`,
		MaxRetries:  3,
		NextRetryAt: f.clock.Now(),
		Status:      models.RetryStatusCompleted,
		CreatedAt:   f.clock.Now().Add(-8 * 24 * time.Hour),
		UpdatedAt:   f.clock.Now().Add(-8 * 24 * time.Hour),
	}
	if err := f.db.Create(&old).Error; err != nil {
		t.Fatalf("insert old record: %v", err)
	}
	oldAttempt := models.AttemptRecord{
		AttemptID: "attempt-ancient",
		Status:    models.AttemptStatusSuccess,
		CreatedAt: f.clock.Now().Add(-31 * 24 * time.Hour),
	}
	if err := f.db.Create(&oldAttempt).Error; err != nil {
		t.Fatalf("insert old attempt: %v", err)
	}

	if _, err := f.sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	var retryCount, attemptCount int64
	f.db.Model(&models.RetryRecord{}).Count(&retryCount)
	f.db.Model(&models.AttemptRecord{}).Count(&attemptCount)
	if retryCount != 0 {
		t.Errorf("stale retry record survived the cycle")
	}
	if attemptCount != 0 {
		t.Errorf("stale attempt record survived the cycle")
	}
}

func TestRunOnceBatchLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []string{"ext-a", "ext-b", "ext-c"} {
		payload := `{"event":"order.posted","data":{"id":"` + id + `"}}`
		if err := f.queue.Enqueue(0, id, "order.posted", []byte(payload), "order not found"); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		f.store.Add(id, "processing")
	}

	f.sched.cfg.BatchLimit = 2
	f.clock.Advance(5 * time.Minute)

	processed, err := f.sched.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if processed != 2 {
		t.Errorf("processed = %d, want batch limit of 2", processed)
	}

	var pending int64
	f.db.Model(&models.RetryRecord{}).
		Where("status = ?", models.RetryStatusPending).
		Count(&pending)
	if pending != 1 {
		t.Errorf("pending after limited batch = %d, want 1", pending)
	}

	// The remaining item drains on the next cycle.
	processed, err = f.sched.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if processed != 1 {
		t.Errorf("second cycle processed = %d, want 1", processed)
	}
}

func TestStartRejectsZeroInterval(t *testing.T) {
	f := newFixture(t)
	f.sched.cfg.Interval = 0

	if err := f.sched.Start(); err == nil {
		t.Error("expected Start to reject a non-positive interval")
	}
}

func TestStartAndStop(t *testing.T) {
	f := newFixture(t)
	f.sched.cfg.Interval = 50 * time.Millisecond

	if err := f.sched.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(120 * time.Millisecond)
	f.sched.Stop()
}
