package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/storefront/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/storefront/internal/core/domain"
	"github.com/atvirokodosprendimai/storefront/internal/core/ports"
	"gorm.io/gorm"
)

// AuditTrailRepository reads the audit_events rows recordChange appends.
type AuditTrailRepository struct {
	db *gormsqlite.DB
}

var _ ports.AuditTrailRepository = (*AuditTrailRepository)(nil)

func NewAuditTrailRepository(db *gormsqlite.DB) *AuditTrailRepository {
	return &AuditTrailRepository{db: db}
}

// List returns history newest first. AfterID is an exclusive upper bound on
// the row id, so paging continues from the last id of the previous page.
func (r *AuditTrailRepository) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditTrailEvent, error) {
	var rows []auditEventModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Model(&auditEventModel{}).
			Scopes(forAggregate(filter.AggregateType, filter.AggregateID), withAction(filter.Action), beforeID(filter.AfterID)).
			Order("id DESC").
			Limit(filter.Limit).
			Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}

	out := make([]domain.AuditTrailEvent, len(rows))
	for i, row := range rows {
		out[i] = row.event()
	}
	return out, nil
}

// forAggregate narrows history to one aggregate kind and, when id is set, to
// one store or theme.
func forAggregate(kind, id string) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		if kind != "" {
			q = q.Where("aggregate_type = ?", kind)
		}
		if id != "" {
			q = q.Where("aggregate_id = ?", id)
		}
		return q
	}
}

func withAction(action string) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		if action == "" {
			return q
		}
		return q.Where("action = ?", action)
	}
}

func beforeID(id int64) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		if id <= 0 {
			return q
		}
		return q.Where("id < ?", id)
	}
}

func (m auditEventModel) event() domain.AuditTrailEvent {
	return domain.AuditTrailEvent{
		ID:               m.ID,
		EventID:          m.EventID,
		SchemaVersion:    m.SchemaVersion,
		AggregateType:    m.AggregateType,
		AggregateID:      m.AggregateID,
		AggregateVersion: m.AggregateVersion,
		Action:           m.Action,
		Actor:            m.Actor,
		Source:           m.Source,
		RequestID:        m.RequestID,
		CorrelationID:    m.CorrelationID,
		CausationID:      m.CausationID,
		PayloadJSON:      json.RawMessage(m.PayloadJSON),
		OccurredAt:       m.OccurredAt,
	}
}

// OutboxRepository moves outbox_events rows through pending, dispatched and
// dead for the dispatcher.
type OutboxRepository struct {
	db *gormsqlite.DB
}

var _ ports.OutboxRepository = (*OutboxRepository)(nil)

func NewOutboxRepository(db *gormsqlite.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

const defaultOutboxBatch = 50

// FetchPending returns due pending events in commit order.
func (r *OutboxRepository) FetchPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	if limit <= 0 {
		limit = defaultOutboxBatch
	}
	var rows []outboxEventModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("status = ?", outboxPending).
			Where("next_attempt_at <= ?", time.Now().UTC()).
			Order("id ASC").
			Limit(limit).
			Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("fetch pending outbox: %w", err)
	}

	out := make([]domain.OutboxEvent, len(rows))
	for i, row := range rows {
		out[i] = row.event()
	}
	return out, nil
}

func (r *OutboxRepository) MarkDispatched(ctx context.Context, id int64) error {
	dispatchedAt := time.Now().UTC()
	return r.update(ctx, "mark outbox dispatched", id, map[string]any{
		"status":        outboxDispatched,
		"dispatched_at": &dispatchedAt,
		"last_error":    "",
	})
}

// MarkFailed keeps the event pending and pushes its next attempt out.
// nextAttemptAt is RFC 3339.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id int64, attempts int, nextAttemptAt string, errMsg string) error {
	next, err := time.Parse(time.RFC3339Nano, nextAttemptAt)
	if err != nil {
		return fmt.Errorf("parse next attempt: %w", err)
	}
	return r.update(ctx, "mark outbox failed", id, map[string]any{
		"attempts":        attempts,
		"next_attempt_at": next.UTC(),
		"last_error":      errMsg,
	})
}

// MarkDead parks an event that exhausted its retries. Dead rows are never
// fetched again.
func (r *OutboxRepository) MarkDead(ctx context.Context, id int64, attempts int, errMsg string) error {
	return r.update(ctx, "mark outbox dead", id, map[string]any{
		"status":     outboxDead,
		"attempts":   attempts,
		"last_error": errMsg,
	})
}

func (r *OutboxRepository) update(ctx context.Context, op string, id int64, cols map[string]any) error {
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Model(&outboxEventModel{}).Where("id = ?", id).Updates(cols).Error
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (m outboxEventModel) event() domain.OutboxEvent {
	return domain.OutboxEvent{
		ID:            m.ID,
		EventID:       m.EventID,
		Topic:         m.Topic,
		PayloadJSON:   json.RawMessage(m.PayloadJSON),
		Status:        m.Status,
		Attempts:      m.Attempts,
		NextAttemptAt: m.NextAttemptAt,
		LastError:     m.LastError,
		CreatedAt:     m.CreatedAt,
		DispatchedAt:  m.DispatchedAt,
	}
}
