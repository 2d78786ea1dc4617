package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/storefront/internal/core/domain"
)

func TestWebhookPublisherSignsAndLabelsDeliveries(t *testing.T) {
	var gotBody []byte
	var gotHeaders http.Header

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	secret := "test-secret"
	pub := NewWebhookPublisher(srv.URL, secret, 5*time.Second)
	pub.now = func() time.Time { return time.Unix(1700000000, 0) }

	event := domain.EventEnvelope{
		EventID:       "evt-1",
		EventType:     domain.EventStoreCloned,
		AggregateType: domain.AggregateStore,
		AggregateID:   "s1",
		SchemaVersion: 1,
		Payload:       json.RawMessage(`{"parent_store_id":"s0"}`),
	}

	if err := pub.Publish(context.Background(), "storefront.store.cloned", event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]string{
		"Content-Type":  "application/json",
		HeaderTopic:     "storefront.store.cloned",
		HeaderEventID:   "evt-1",
		HeaderEventType: domain.EventStoreCloned,
		HeaderStore:     "s1",
		HeaderTimestamp: "1700000000",
	}
	for k, v := range want {
		if got := gotHeaders.Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}

	sig := gotHeaders.Get(HeaderSignature)
	if !strings.HasPrefix(sig, "sha256=") {
		t.Fatalf("signature header missing or malformed: %q", sig)
	}
	if got, want := strings.TrimPrefix(sig, "sha256="), Sign([]byte(secret), "1700000000", gotBody); got != want {
		t.Errorf("signature mismatch: got %q, want %q", got, want)
	}
	if Sign([]byte(secret), "1700000001", gotBody) == strings.TrimPrefix(sig, "sha256=") {
		t.Error("signature must depend on the timestamp")
	}

	var decoded domain.EventEnvelope
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded.EventID != event.EventID || decoded.AggregateID != "s1" {
		t.Errorf("unexpected body: %+v", decoded)
	}
}

func TestWebhookPublisherThemeEventsHaveNoStoreHeader(t *testing.T) {
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
	}))
	defer srv.Close()

	pub := NewWebhookPublisher(srv.URL, "s", time.Second)
	event := domain.EventEnvelope{EventID: "evt-9", EventType: domain.EventThemeCreated, AggregateType: domain.AggregateTheme, AggregateID: "t1"}
	if err := pub.Publish(context.Background(), "storefront.theme.created", event); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if v := gotHeaders.Get(HeaderStore); v != "" {
		t.Errorf("unexpected store header %q", v)
	}
}

func TestWebhookPublisherNon2xxReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	pub := NewWebhookPublisher(srv.URL, "secret", 5*time.Second)
	event := domain.EventEnvelope{EventID: "evt-2", EventType: domain.EventStoreUpdated, SchemaVersion: 1}

	err := pub.Publish(context.Background(), "storefront.store.updated", event)
	if err == nil {
		t.Fatal("expected error for 500 response, got nil")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error should mention status code 500, got: %v", err)
	}
}

func TestWebhookPublisherContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	pub := NewWebhookPublisher(srv.URL, "secret", 5*time.Second)
	event := domain.EventEnvelope{EventID: "evt-3", EventType: domain.EventStoreCreated, SchemaVersion: 1}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := pub.Publish(ctx, "storefront.store.created", event)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected error to wrap context.Canceled, got: %v", err)
	}
}

func TestWebhookPublisherZeroTimeoutUsesDefault(t *testing.T) {
	pub := NewWebhookPublisher("http://localhost:9", "s", 0)
	if pub.client.Timeout != defaultWebhookTimeout {
		t.Errorf("timeout = %v, want %v", pub.client.Timeout, defaultWebhookTimeout)
	}
}

type failingPublisher struct{ err error }

func (p failingPublisher) Publish(context.Context, string, domain.EventEnvelope) error { return p.err }

func TestFanoutPublishesEverywhereAndJoinsErrors(t *testing.T) {
	var buf bytes.Buffer
	logPub := NewLogPublisher(log.New(&buf, "", 0))
	boom := errors.New("boom")
	f := Fanout{logPub, failingPublisher{err: boom}}

	err := f.Publish(context.Background(), "storefront.store.updated", domain.EventEnvelope{EventID: "e1", EventType: domain.EventStoreUpdated, AggregateType: "store", AggregateID: "s1"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if !strings.Contains(buf.String(), "id=e1") || !strings.Contains(buf.String(), "store/s1") {
		t.Fatalf("log line missing event details: %q", buf.String())
	}
	if err := (Fanout{logPub}).Publish(context.Background(), "t", domain.EventEnvelope{}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}
