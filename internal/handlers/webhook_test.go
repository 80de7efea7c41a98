package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/shipmate/carrier-webhook-svc/internal/attemptlog"
	"github.com/shipmate/carrier-webhook-svc/internal/models"
	"github.com/shipmate/carrier-webhook-svc/internal/orders"
	"github.com/shipmate/carrier-webhook-svc/internal/processor"
	"github.com/shipmate/carrier-webhook-svc/internal/retryqueue"
	"github.com/shipmate/carrier-webhook-svc/internal/secrets"
	"github.com/shipmate/carrier-webhook-svc/internal/verifier"
)

const (
	testSecret    = "test-webhook-secret"
	testSigHeader = "X-Carrier-Signature"
)

type webhookFixture struct {
	app   *fiber.App
	store *orders.MemoryStore
	db    *gorm.DB
}

func newWebhookFixture(t *testing.T, secret string) *webhookFixture {
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

	if err := db.AutoMigrate(&models.AttemptRecord{}, &models.RetryRecord{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	logger := zap.NewNop()
	store := orders.NewMemoryStore()

	handler := NewWebhookHandler(
		verifier.New(logger),
		attemptlog.New(db, logger),
		processor.New(store, nil, logger),
		retryqueue.New(db, logger, 3, 5*time.Minute),
		store,
		secrets.NewStatic(secret),
		testSigHeader,
		logger,
	)

	app := fiber.New()
	app.Post("/webhook", handler.Handle)

	return &webhookFixture{app: app, store: store, db: db}
}

func signBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (f *webhookFixture) post(t *testing.T, body []byte, signature string) (*http.Response, map[string]interface{}) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(testSigHeader, signature)
	}

	resp, err := f.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	resp.Body.Close()

	var parsed map[string]interface{}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, raw)
	}
	return resp, parsed
}

func (f *webhookFixture) retryCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	f.db.Model(&models.RetryRecord{}).Count(&count)
	return count
}

func (f *webhookFixture) lastAttempt(t *testing.T) *models.AttemptRecord {
	t.Helper()
	var rec models.AttemptRecord
	if err := f.db.Order("id DESC").First(&rec).Error; err != nil {
		t.Fatalf("failed to load attempt record: %v", err)
	}
	return &rec
}

func TestWebhookAppliesPostedEvent(t *testing.T) {
	f := newWebhookFixture(t, testSecret)
	orderRef := f.store.Add("ext-1", "processing")

	body := []byte(`{"event":"order.posted","data":{"id":"ext-1","tracking":"TRK1","tracking_url":"https://track.example/TRK1"}}`)
	resp, parsed := f.post(t, body, signBody(body, testSecret))

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if parsed["status"] != "success" {
		t.Errorf("response status = %v", parsed["status"])
	}
	if parsed["attempt_id"] == "" {
		t.Error("response is missing attempt_id")
	}

	status, _ := f.store.Status(context.Background(), orderRef)
	if status != models.OrderStatusShipped {
		t.Errorf("order status = %q, want shipped", status)
	}
	value, present, _ := f.store.Metadata(context.Background(), orderRef, processor.MetaTrackingCode)
	if !present || value != "TRK1" {
		t.Errorf("tracking metadata = (%q, %v)", value, present)
	}

	attempt := f.lastAttempt(t)
	if attempt.Status != models.AttemptStatusSuccess {
		t.Errorf("attempt status = %q, want success", attempt.Status)
	}
	if attempt.HTTPStatusCode == nil || *attempt.HTTPStatusCode != http.StatusOK {
		t.Errorf("attempt http_status_code = %v, want 200", attempt.HTTPStatusCode)
	}
	if attempt.OrderRef == nil || *attempt.OrderRef != orderRef {
		t.Errorf("attempt order_ref = %v, want %d", attempt.OrderRef, orderRef)
	}
	if got := f.retryCount(t); got != 0 {
		t.Errorf("retry queue has %d records after success, want 0", got)
	}
}

func TestWebhookAppliesMixedCaseEventType(t *testing.T) {
	f := newWebhookFixture(t, testSecret)
	orderRef := f.store.Add("ext-1", "processing")

	body := []byte(`{"event":"ORDER.POSTED","data":{"id":"ext-1","tracking":"TRK1"}}`)
	resp, parsed := f.post(t, body, signBody(body, testSecret))

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if parsed["status"] != "success" {
		t.Errorf("response status = %v", parsed["status"])
	}

	status, _ := f.store.Status(context.Background(), orderRef)
	if status != models.OrderStatusShipped {
		t.Errorf("order status = %q, want shipped", status)
	}
	if got := f.retryCount(t); got != 0 {
		t.Errorf("mixed-case event queued %d retries, want 0", got)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newWebhookFixture(t, testSecret)
	orderRef := f.store.Add("ext-1", "processing")

	body := []byte(`{"event":"order.posted","data":{"id":"ext-1"}}`)
	resp, parsed := f.post(t, body, signBody(body, "wrong-secret"))

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	msg, _ := parsed["message"].(string)
	if !strings.Contains(msg, "signature") {
		t.Errorf("message = %q, want a signature failure", msg)
	}

	status, _ := f.store.Status(context.Background(), orderRef)
	if status != "processing" {
		t.Errorf("order status = %q, unauthenticated request mutated state", status)
	}

	attempt := f.lastAttempt(t)
	if attempt.Status != models.AttemptStatusError {
		t.Errorf("attempt status = %q, want error", attempt.Status)
	}
	if attempt.HTTPStatusCode == nil || *attempt.HTTPStatusCode != http.StatusUnauthorized {
		t.Errorf("attempt http_status_code = %v, want 401", attempt.HTTPStatusCode)
	}
	if got := f.retryCount(t); got != 0 {
		t.Errorf("authentication failure queued a retry")
	}
}

func TestWebhookMissingSignatureHeader(t *testing.T) {
	f := newWebhookFixture(t, testSecret)
	f.store.Add("ext-1", "processing")

	body := []byte(`{"event":"order.posted","data":{"id":"ext-1"}}`)
	resp, _ := f.post(t, body, "")

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if got := f.retryCount(t); got != 0 {
		t.Errorf("missing signature queued a retry")
	}
}

func TestWebhookQueuesRetryForUnknownOrder(t *testing.T) {
	f := newWebhookFixture(t, testSecret)

	body := []byte(`{"event":"order.posted","data":{"id":"ext-missing"}}`)
	resp, parsed := f.post(t, body, signBody(body, testSecret))

	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	msg, _ := parsed["message"].(string)
	if !strings.Contains(msg, "order not found") {
		t.Errorf("message = %q", msg)
	}

	var rec models.RetryRecord
	if err := f.db.First(&rec).Error; err != nil {
		t.Fatalf("expected a queued retry: %v", err)
	}
	if rec.Status != models.RetryStatusPending || rec.RetryCount != 0 {
		t.Errorf("retry record = status %q count %d, want pending/0", rec.Status, rec.RetryCount)
	}
	if rec.ExternalID != "ext-missing" || rec.EventType != "order.posted" {
		t.Errorf("retry record = %q/%q", rec.ExternalID, rec.EventType)
	}
	if rec.Payload != string(body) {
		t.Error("retry payload is not the verbatim request body")
	}

	attempt := f.lastAttempt(t)
	if attempt.Status != models.AttemptStatusError {
		t.Errorf("attempt status = %q, want error", attempt.Status)
	}
}

func TestWebhookDuplicateDeliveryDoesNotQueue(t *testing.T) {
	f := newWebhookFixture(t, testSecret)
	orderRef := f.store.Add("ext-1", "processing")

	body := []byte(`{"event":"order.posted","data":{"id":"ext-1","tracking":"TRK1"}}`)
	sig := signBody(body, testSecret)

	resp, _ := f.post(t, body, sig)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first delivery status = %d", resp.StatusCode)
	}
	resp, parsed := f.post(t, body, sig)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("duplicate delivery status = %d, want 200", resp.StatusCode)
	}

	summary, ok := parsed["summary"].(map[string]interface{})
	if !ok {
		t.Fatalf("response has no summary: %v", parsed)
	}
	if summary["duplicate"] != true {
		t.Errorf("summary = %v, want duplicate=true", summary)
	}

	if notes := f.store.Notes(orderRef); len(notes) != 1 {
		t.Errorf("duplicate delivery appended a note: %d notes", len(notes))
	}
	if got := f.retryCount(t); got != 0 {
		t.Errorf("duplicate delivery queued a retry")
	}
}

func TestWebhookRejectsInvalidPayload(t *testing.T) {
	f := newWebhookFixture(t, testSecret)

	cases := []struct {
		name string
		body string
	}{
		{"not json", `not even json`},
		{"missing data", `{"event":"order.posted"}`},
		{"unsupported event", `{"event":"order.cancelled","data":{"id":"ext-1"}}`},
		{"missing data id", `{"event":"order.posted","data":{}}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := []byte(tc.body)
			resp, _ := f.post(t, body, signBody(body, testSecret))
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}

	if got := f.retryCount(t); got != 0 {
		t.Errorf("invalid payloads queued %d retries, want 0", got)
	}
}

func TestWebhookMissingSecret(t *testing.T) {
	f := newWebhookFixture(t, "")
	f.store.Add("ext-1", "processing")

	body := []byte(`{"event":"order.posted","data":{"id":"ext-1"}}`)
	resp, parsed := f.post(t, body, signBody(body, testSecret))

	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	msg, _ := parsed["message"].(string)
	if !strings.Contains(msg, "secret") {
		t.Errorf("message = %q", msg)
	}
	if got := f.retryCount(t); got != 0 {
		t.Errorf("missing secret queued a retry")
	}
}
