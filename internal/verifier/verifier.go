package verifier

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/shipmate/carrier-webhook-svc/internal/models"
)

// Verifier authenticates inbound webhook deliveries and validates their
// payload shape before any state is touched.
type Verifier struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Verifier {
	return &Verifier{logger: logger}
}

// VerifySignature checks the HMAC-SHA256 digest of the raw request body
// against the signature header. An optional "sha256=" prefix is stripped
// from the header value. Returns false, never an error; an empty header
// or secret always fails.
func (v *Verifier) VerifySignature(rawBody []byte, signatureHeader, secret string) bool {
	if signatureHeader == "" || secret == "" {
		v.logger.Warn("webhook verification failed: missing signature or secret")
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	provided := strings.TrimPrefix(signatureHeader, "sha256=")

	// Timing-safe comparison
	if subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) != 1 {
		v.logger.Warn("webhook signature verification failed",
			zap.String("expected", expected),
			zap.String("provided", provided),
			zap.Int("payload_length", len(rawBody)),
		)
		return false
	}

	return true
}

// ValidatePayload checks the structural shape of a webhook body: a top-level
// "event" with a supported event type and a "data" object with a non-empty id.
// It logs the specific failure reason and has no other side effects.
func (v *Verifier) ValidatePayload(rawBody []byte) bool {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		v.logger.Warn("invalid webhook payload: not a JSON object", zap.Error(err))
		return false
	}

	for _, field := range []string{"event", "data"} {
		if _, ok := payload[field]; !ok {
			v.logger.Warn("invalid webhook payload: missing field",
				zap.String("field", field),
			)
			return false
		}
	}

	var event string
	if err := json.Unmarshal(payload["event"], &event); err != nil {
		v.logger.Warn("invalid webhook payload: event is not a string", zap.Error(err))
		return false
	}
	if _, err := models.ParseEventType(event); err != nil {
		v.logger.Warn("unsupported webhook event", zap.String("event", event))
		return false
	}

	var data struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload["data"], &data); err != nil || data.ID == "" {
		v.logger.Warn("invalid webhook payload: missing data.id")
		return false
	}

	return true
}

const secretCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateSecret produces a random webhook signing secret of the given length.
func GenerateSecret(length int) (string, error) {
	if length <= 0 {
		length = 32
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = secretCharset[int(b)%len(secretCharset)]
	}
	return string(buf), nil
}
