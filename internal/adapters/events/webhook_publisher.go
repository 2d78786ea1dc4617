package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/atvirokodosprendimai/storefront/internal/core/domain"
	"github.com/atvirokodosprendimai/storefront/internal/core/ports"
)

const defaultWebhookTimeout = 10 * time.Second

// Webhook headers. The signature covers "<timestamp>.<body>".
const (
	HeaderTopic     = "X-Storefront-Topic"
	HeaderEventID   = "X-Storefront-Event-Id"
	HeaderEventType = "X-Storefront-Event-Type"
	HeaderStore     = "X-Storefront-Store"
	HeaderTimestamp = "X-Storefront-Timestamp"
	HeaderSignature = "X-Storefront-Signature-256"
)

// WebhookPublisher POSTs change events to one endpoint. Non-2xx responses are
// errors so the outbox dispatcher retries them.
type WebhookPublisher struct {
	url    string
	secret []byte
	client *http.Client
	now    func() time.Time
}

// NewWebhookPublisher signs with secret; a non-positive timeout means 10s.
func NewWebhookPublisher(url, secret string, timeout time.Duration) *WebhookPublisher {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookPublisher{
		url:    url,
		secret: []byte(secret),
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}
}

func (p *WebhookPublisher) Publish(ctx context.Context, topic string, event domain.EventEnvelope) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	ts := strconv.FormatInt(p.now().Unix(), 10)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTopic, topic)
	req.Header.Set(HeaderEventID, event.EventID)
	req.Header.Set(HeaderEventType, event.EventType)
	if event.AggregateType == domain.AggregateStore {
		req.Header.Set(HeaderStore, event.AggregateID)
	}
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, "sha256="+Sign(p.secret, ts, body))

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s returned status %d", event.EventID, resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of "<timestamp>.<body>". Receivers call it
// to verify a delivery.
func Sign(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

var _ ports.EventPublisher = (*WebhookPublisher)(nil)
