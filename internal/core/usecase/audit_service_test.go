package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/storefront/internal/core/domain"
)

type auditRepoStub struct {
	events  []domain.AuditTrailEvent
	filters []domain.AuditFilter
}

// List mirrors the storage adapter: newest first, AfterID as an exclusive
// upper bound.
func (r *auditRepoStub) List(_ context.Context, filter domain.AuditFilter) ([]domain.AuditTrailEvent, error) {
	r.filters = append(r.filters, filter)
	items := make([]domain.AuditTrailEvent, 0, filter.Limit)
	for _, e := range r.events {
		if filter.AggregateID != "" && e.AggregateID != filter.AggregateID {
			continue
		}
		if filter.AfterID > 0 && e.ID >= filter.AfterID {
			continue
		}
		items = append(items, e)
		if len(items) >= filter.Limit {
			break
		}
	}
	return items, nil
}

func TestAuditServiceListClampsLimit(t *testing.T) {
	repo := &auditRepoStub{}
	svc := NewAuditService(repo)

	if _, err := svc.List(context.Background(), domain.AuditFilter{}); err != nil {
		t.Fatalf("list: %v", err)
	}
	if _, err := svc.List(context.Background(), domain.AuditFilter{Limit: 5000}); err != nil {
		t.Fatalf("list: %v", err)
	}
	if repo.filters[0].Limit != 100 || repo.filters[1].Limit != 1000 {
		t.Fatalf("unexpected limits: %d %d", repo.filters[0].Limit, repo.filters[1].Limit)
	}
}

func TestAuditServiceListRejectsBadFilters(t *testing.T) {
	svc := NewAuditService(&auditRepoStub{})
	cases := []domain.AuditFilter{
		{AggregateType: "record"},
		{AggregateID: "s1"},
		{AfterID: -1},
	}
	for _, f := range cases {
		if _, err := svc.List(context.Background(), f); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("filter %+v: expected invalid input, got %v", f, err)
		}
	}
}

func TestAuditServiceReplayPagesThroughHistory(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	repo := &auditRepoStub{events: []domain.AuditTrailEvent{
		{ID: 5, EventID: "e5", AggregateType: "store", AggregateID: "s1", Action: domain.EventStoreUpdated, SchemaVersion: 1, AggregateVersion: 3, OccurredAt: at, PayloadJSON: []byte(`{"title":"B"}`)},
		{ID: 4, EventID: "e4", AggregateType: "store", AggregateID: "s2", Action: domain.EventStoreCreated, SchemaVersion: 1, AggregateVersion: 1, OccurredAt: at},
		{ID: 3, EventID: "e3", AggregateType: "store", AggregateID: "s1", Action: domain.EventStoreUpdated, SchemaVersion: 1, AggregateVersion: 2, OccurredAt: at},
		{ID: 1, EventID: "e1", AggregateType: "store", AggregateID: "s1", Action: domain.EventStoreCreated, SchemaVersion: 1, AggregateVersion: 1, OccurredAt: at},
	}}
	svc := NewAuditService(repo)

	var seen []string
	err := svc.Replay(context.Background(), domain.AuditFilter{AggregateType: "store", AggregateID: "s1", Limit: 2}, func(id int64, env domain.EventEnvelope) error {
		seen = append(seen, env.EventID)
		if env.AggregateID != "s1" {
			t.Fatalf("unexpected aggregate %q", env.AggregateID)
		}
		if len(env.Payload) == 0 {
			t.Fatalf("event %d replayed without payload", id)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	want := []string{"e5", "e3", "e1"}
	if len(seen) != len(want) {
		t.Fatalf("expected %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, seen)
		}
	}
	if len(repo.filters) != 3 {
		t.Fatalf("expected three pages, got %d", len(repo.filters))
	}
}

func TestAuditServiceReplayRejectsNewerSchema(t *testing.T) {
	svc := NewAuditService(&auditRepoStub{events: []domain.AuditTrailEvent{
		{ID: 1, EventID: "e1", AggregateType: "store", AggregateID: "s1", SchemaVersion: domain.CurrentEventSchemaVersion + 1},
	}})
	err := svc.Replay(context.Background(), domain.AuditFilter{}, func(int64, domain.EventEnvelope) error { return nil })
	if err == nil {
		t.Fatal("expected replay to refuse an unknown schema version")
	}
}
