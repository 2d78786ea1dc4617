package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/storefront/internal/core/domain"
)

type outboxRepoStub struct {
	events []domain.OutboxEvent

	fetchLimits []int
	failed      []failedMark
	dead        []deadMark
	dispatched  []int64
}

type failedMark struct {
	id           int64
	attempts     int
	nextAttempt  string
	errorMessage string
}

type deadMark struct {
	id           int64
	attempts     int
	errorMessage string
}

func (r *outboxRepoStub) FetchPending(_ context.Context, limit int) ([]domain.OutboxEvent, error) {
	r.fetchLimits = append(r.fetchLimits, limit)
	out := make([]domain.OutboxEvent, 0, limit)
	now := time.Now().UTC()
	for _, e := range r.events {
		if e.Status != "pending" {
			continue
		}
		if e.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, e)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *outboxRepoStub) MarkDispatched(_ context.Context, id int64) error {
	r.dispatched = append(r.dispatched, id)
	for i := range r.events {
		if r.events[i].ID == id {
			r.events[i].Status = "dispatched"
			now := time.Now().UTC()
			r.events[i].DispatchedAt = &now
			return nil
		}
	}
	return errors.New("unknown outbox id")
}

func (r *outboxRepoStub) MarkFailed(_ context.Context, id int64, attempts int, nextAttemptAt string, errMsg string) error {
	r.failed = append(r.failed, failedMark{id: id, attempts: attempts, nextAttempt: nextAttemptAt, errorMessage: errMsg})
	parsed, err := time.Parse(time.RFC3339Nano, nextAttemptAt)
	if err != nil {
		return err
	}
	for i := range r.events {
		if r.events[i].ID == id {
			r.events[i].Attempts = attempts
			r.events[i].NextAttemptAt = parsed
			r.events[i].LastError = errMsg
			return nil
		}
	}
	return errors.New("unknown outbox id")
}

func (r *outboxRepoStub) MarkDead(_ context.Context, id int64, attempts int, errMsg string) error {
	r.dead = append(r.dead, deadMark{id: id, attempts: attempts, errorMessage: errMsg})
	for i := range r.events {
		if r.events[i].ID == id {
			r.events[i].Status = "dead"
			r.events[i].Attempts = attempts
			r.events[i].LastError = errMsg
			return nil
		}
	}
	return errors.New("unknown outbox id")
}

func pendingEvent(id int64, eventID, eventType string, attempts int) domain.OutboxEvent {
	payload, _ := json.Marshal(domain.EventEnvelope{EventID: eventID, EventType: eventType, SchemaVersion: domain.CurrentEventSchemaVersion})
	return domain.OutboxEvent{
		ID:            id,
		EventID:       eventID,
		Status:        "pending",
		Attempts:      attempts,
		NextAttemptAt: time.Now().UTC().Add(-time.Second),
		PayloadJSON:   payload,
		Topic:         "storefront." + eventType,
	}
}

type publisherStub struct {
	errByID   map[string]error
	published []domain.EventEnvelope
}

func (p *publisherStub) Publish(_ context.Context, _ string, event domain.EventEnvelope) error {
	p.published = append(p.published, event)
	if err, ok := p.errByID[event.EventID]; ok {
		return err
	}
	return nil
}

func TestOutboxDispatcherDrainPublishesAndMarksDispatched(t *testing.T) {
	repo := &outboxRepoStub{events: []domain.OutboxEvent{pendingEvent(1, "e1", domain.EventStoreCreated, 0)}}
	pub := &publisherStub{}
	d := NewOutboxDispatcher(repo, pub, DispatcherOptions{BatchSize: 10})

	n, err := d.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one published event, got %d", n)
	}
	if len(repo.fetchLimits) != 1 || repo.fetchLimits[0] != 10 {
		t.Fatalf("expected a single fetch with limit 10, got %v", repo.fetchLimits)
	}
	if len(pub.published) != 1 || pub.published[0].EventType != domain.EventStoreCreated {
		t.Fatalf("unexpected published events: %+v", pub.published)
	}
	if len(repo.dispatched) != 1 || repo.dispatched[0] != 1 {
		t.Fatalf("expected id=1 marked dispatched, got %v", repo.dispatched)
	}
	if got := d.Stats(); got.Published != 1 || got.Retried != 0 || got.Dead != 0 {
		t.Fatalf("unexpected stats: %+v", got)
	}
}

func TestOutboxDispatcherDrainWalksFullBatches(t *testing.T) {
	repo := &outboxRepoStub{events: []domain.OutboxEvent{
		pendingEvent(1, "e1", domain.EventStoreUpdated, 0),
		pendingEvent(2, "e2", domain.EventStoreUpdated, 0),
		pendingEvent(3, "e3", domain.EventStoreUpdated, 0),
	}}
	d := NewOutboxDispatcher(repo, &publisherStub{}, DispatcherOptions{BatchSize: 2})

	n, err := d.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected three published events, got %d", n)
	}
	if len(repo.fetchLimits) != 2 {
		t.Fatalf("expected two fetches, got %v", repo.fetchLimits)
	}
}

func TestOutboxDispatcherPublishFailureMarksFailedWithRetry(t *testing.T) {
	repo := &outboxRepoStub{events: []domain.OutboxEvent{pendingEvent(2, "e2", domain.EventBindingChanged, 0)}}
	pub := &publisherStub{errByID: map[string]error{"e2": errors.New("publisher down")}}
	d := NewOutboxDispatcher(repo, pub, DispatcherOptions{BatchSize: 10})

	if _, err := d.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}

	if len(repo.failed) != 1 {
		t.Fatalf("expected one failed mark, got %d", len(repo.failed))
	}
	if repo.failed[0].attempts != 1 {
		t.Fatalf("expected attempts=1, got %d", repo.failed[0].attempts)
	}
	if repo.failed[0].errorMessage != "publisher down" {
		t.Fatalf("unexpected error message: %q", repo.failed[0].errorMessage)
	}
	next, err := time.Parse(time.RFC3339Nano, repo.failed[0].nextAttempt)
	if err != nil {
		t.Fatalf("parse next attempt: %v", err)
	}
	if !next.After(time.Now().UTC()) {
		t.Fatalf("expected next attempt in the future, got %s", next)
	}
	if len(repo.dispatched) != 0 || len(repo.dead) != 0 {
		t.Fatalf("expected no dispatched or dead marks, got %v %v", repo.dispatched, repo.dead)
	}
	if got := d.Stats(); got.Retried != 1 {
		t.Fatalf("expected one retry, got %+v", got)
	}
}

func TestOutboxDispatcherRetryBudgetMovesToDead(t *testing.T) {
	repo := &outboxRepoStub{events: []domain.OutboxEvent{pendingEvent(3, "e3", domain.EventPageChanged, 2)}}
	pub := &publisherStub{errByID: map[string]error{"e3": errors.New("still failing")}}
	d := NewOutboxDispatcher(repo, pub, DispatcherOptions{BatchSize: 10, MaxAttempts: 3})

	if _, err := d.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}

	if len(repo.dead) != 1 {
		t.Fatalf("expected one dead mark, got %d", len(repo.dead))
	}
	if repo.dead[0].attempts != 3 {
		t.Fatalf("expected attempts=3, got %d", repo.dead[0].attempts)
	}
	if len(repo.failed) != 0 {
		t.Fatalf("expected no failed marks when dead-lettered, got %d", len(repo.failed))
	}
}

func TestOutboxDispatcherUndecodablePayloadIsDead(t *testing.T) {
	ev := pendingEvent(4, "e4", domain.EventDataChanged, 0)
	ev.PayloadJSON = []byte("{broken")
	repo := &outboxRepoStub{events: []domain.OutboxEvent{ev}}
	pub := &publisherStub{}
	d := NewOutboxDispatcher(repo, pub, DispatcherOptions{BatchSize: 10})

	if _, err := d.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(repo.dead) != 1 || repo.dead[0].id != 4 {
		t.Fatalf("expected id=4 dead, got %v", repo.dead)
	}
	if len(pub.published) != 0 {
		t.Fatalf("expected nothing published, got %d", len(pub.published))
	}
}

func TestOutboxDispatcherRestartResumesRemainingPending(t *testing.T) {
	repo := &outboxRepoStub{events: []domain.OutboxEvent{
		pendingEvent(4, "e4", domain.EventStoreCreated, 0),
		pendingEvent(5, "e5", domain.EventStoreUpdated, 0),
	}}

	pub := &publisherStub{errByID: map[string]error{"e4": errors.New("transient")}}
	d1 := NewOutboxDispatcher(repo, pub, DispatcherOptions{BatchSize: 10})
	if _, err := d1.Drain(context.Background()); err != nil {
		t.Fatalf("first drain: %v", err)
	}
	if len(repo.dispatched) != 1 || repo.dispatched[0] != 5 {
		t.Fatalf("expected only id=5 dispatched after first run, got %v", repo.dispatched)
	}

	repo.events[0].NextAttemptAt = time.Now().UTC().Add(-time.Second)
	pub.errByID = map[string]error{}
	d2 := NewOutboxDispatcher(repo, pub, DispatcherOptions{BatchSize: 10})
	if _, err := d2.Drain(context.Background()); err != nil {
		t.Fatalf("second drain: %v", err)
	}

	if len(repo.dispatched) != 2 || repo.dispatched[1] != 4 {
		t.Fatalf("expected resumed dispatch of id=4, got %v", repo.dispatched)
	}
}

func TestOutboxDispatcherBackoffIsCapped(t *testing.T) {
	d := NewOutboxDispatcher(&outboxRepoStub{}, &publisherStub{}, DispatcherOptions{MaxBackoff: 10 * time.Second})
	if got := d.backoff(1); got != time.Second {
		t.Fatalf("backoff(1) = %s", got)
	}
	if got := d.backoff(3); got != 9*time.Second {
		t.Fatalf("backoff(3) = %s", got)
	}
	if got := d.backoff(10); got != 10*time.Second {
		t.Fatalf("backoff(10) = %s", got)
	}
}
