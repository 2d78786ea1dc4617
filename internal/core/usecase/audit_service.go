package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/atvirokodosprendimai/storefront/internal/core/domain"
	"github.com/atvirokodosprendimai/storefront/internal/core/ports"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// AuditService reads the append-only change history.
type AuditService struct {
	repo ports.AuditTrailRepository
}

func NewAuditService(repo ports.AuditTrailRepository) *AuditService {
	return &AuditService{repo: repo}
}

// List pages through history newest first. AfterID is the last id of the
// previous page.
func (s *AuditService) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditTrailEvent, error) {
	switch filter.AggregateType {
	case "", domain.AggregateStore, domain.AggregateTheme:
	default:
		return nil, fmt.Errorf("aggregate type %q: %w", filter.AggregateType, domain.ErrInvalidInput)
	}
	if filter.AggregateID != "" && filter.AggregateType == "" {
		return nil, fmt.Errorf("aggregate id needs an aggregate type: %w", domain.ErrInvalidInput)
	}
	if filter.AfterID < 0 {
		return nil, fmt.Errorf("after id must not be negative: %w", domain.ErrInvalidInput)
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultAuditLimit
	}
	if filter.Limit > maxAuditLimit {
		filter.Limit = maxAuditLimit
	}
	return s.repo.List(ctx, filter)
}

// StoreHistory lists the changes recorded against one store.
func (s *AuditService) StoreHistory(ctx context.Context, storeID string, afterID int64, limit int) ([]domain.AuditTrailEvent, error) {
	if err := domain.ValidateID("store", storeID); err != nil {
		return nil, err
	}
	return s.List(ctx, domain.AuditFilter{
		AggregateType: domain.AggregateStore,
		AggregateID:   storeID,
		AfterID:       afterID,
		Limit:         limit,
	})
}

// Replay walks history newest first and hands each event to fn as the
// envelope it was published with. It stops at the first error from fn.
func (s *AuditService) Replay(ctx context.Context, filter domain.AuditFilter, fn func(auditID int64, env domain.EventEnvelope) error) error {
	for {
		events, err := s.List(ctx, filter)
		if err != nil {
			return fmt.Errorf("list audit events: %w", err)
		}
		if len(events) == 0 {
			return nil
		}
		for _, e := range events {
			if e.SchemaVersion > domain.CurrentEventSchemaVersion {
				return fmt.Errorf("event %s has schema version %d, newest known is %d", e.EventID, e.SchemaVersion, domain.CurrentEventSchemaVersion)
			}
			if err := fn(e.ID, envelopeOf(e)); err != nil {
				return fmt.Errorf("replay event %s: %w", e.EventID, err)
			}
			filter.AfterID = e.ID
		}
	}
}

func envelopeOf(e domain.AuditTrailEvent) domain.EventEnvelope {
	payload := e.PayloadJSON
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	return domain.EventEnvelope{
		EventID:          e.EventID,
		EventType:        e.Action,
		SchemaVersion:    e.SchemaVersion,
		AggregateType:    e.AggregateType,
		AggregateID:      e.AggregateID,
		AggregateVersion: e.AggregateVersion,
		OccurredAt:       e.OccurredAt,
		CorrelationID:    e.CorrelationID,
		CausationID:      e.CausationID,
		Actor:            e.Actor,
		Source:           e.Source,
		Payload:          payload,
	}
}
