package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/storefront/internal/core/domain"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const topicPrefix = "storefront."

type auditEventModel struct {
	ID               int64          `gorm:"column:id;primaryKey;autoIncrement"`
	EventID          string         `gorm:"column:event_id;not null"`
	SchemaVersion    int            `gorm:"column:schema_version;not null"`
	AggregateType    string         `gorm:"column:aggregate_type;not null"`
	AggregateID      string         `gorm:"column:aggregate_id;not null"`
	AggregateVersion int64          `gorm:"column:aggregate_version;not null"`
	Action           string         `gorm:"column:action;not null"`
	Actor            string         `gorm:"column:actor;not null"`
	Source           string         `gorm:"column:source;not null"`
	RequestID        string         `gorm:"column:request_id;not null"`
	CorrelationID    string         `gorm:"column:correlation_id;not null"`
	CausationID      string         `gorm:"column:causation_id;not null"`
	PayloadJSON      datatypes.JSON `gorm:"column:payload_json"`
	OccurredAt       time.Time      `gorm:"column:occurred_at;not null"`
}

func (auditEventModel) TableName() string {
	return "audit_events"
}

type outboxEventModel struct {
	ID            int64          `gorm:"column:id;primaryKey;autoIncrement"`
	EventID       string         `gorm:"column:event_id;not null"`
	Topic         string         `gorm:"column:topic;not null"`
	PayloadJSON   datatypes.JSON `gorm:"column:payload_json;not null"`
	Status        string         `gorm:"column:status;not null"`
	Attempts      int            `gorm:"column:attempts;not null"`
	NextAttemptAt time.Time      `gorm:"column:next_attempt_at;not null"`
	LastError     string         `gorm:"column:last_error;not null"`
	CreatedAt     time.Time      `gorm:"column:created_at;not null"`
	DispatchedAt  *time.Time     `gorm:"column:dispatched_at"`
}

func (outboxEventModel) TableName() string {
	return "outbox_events"
}

// Outbox row states.
const (
	outboxPending    = "pending"
	outboxDispatched = "dispatched"
	outboxDead       = "dead"
)

// recordChange appends the audit row and the outbox row of change. It runs on
// the caller's transaction so the event commits or rolls back with the data.
func recordChange(tx *gorm.DB, change domain.Change, meta domain.MutationMetadata) error {
	meta = meta.Normalize()
	if change.AggregateType == "" || change.AggregateID == "" || change.EventType == "" {
		return fmt.Errorf("record change: aggregate and event type are required: %w", domain.ErrInvalidInput)
	}

	payload, err := json.Marshal(change.Payload)
	if err != nil {
		return fmt.Errorf("marshal change payload: %w", err)
	}

	aggregateVersion, err := nextAggregateVersion(tx, change.AggregateType, change.AggregateID)
	if err != nil {
		return err
	}

	envelope := domain.EventEnvelope{
		EventID:          uuid.NewString(),
		EventType:        change.EventType,
		SchemaVersion:    domain.CurrentEventSchemaVersion,
		AggregateType:    change.AggregateType,
		AggregateID:      change.AggregateID,
		AggregateVersion: aggregateVersion,
		OccurredAt:       meta.OccurredAt.UTC(),
		CorrelationID:    meta.CorrelationID,
		CausationID:      meta.CausationID,
		Actor:            meta.Actor,
		Source:           meta.Source,
		Payload:          payload,
	}
	return insertAuditAndOutbox(tx, meta, envelope)
}

func nextAggregateVersion(tx *gorm.DB, aggregateType, aggregateID string) (int64, error) {
	var maxVersion int64
	err := tx.Model(&auditEventModel{}).
		Where("aggregate_type = ? AND aggregate_id = ?", aggregateType, aggregateID).
		Select("COALESCE(MAX(aggregate_version), 0)").
		Scan(&maxVersion).Error
	if err != nil {
		return 0, fmt.Errorf("query aggregate version: %w", err)
	}
	return maxVersion + 1, nil
}

func insertAuditAndOutbox(tx *gorm.DB, meta domain.MutationMetadata, envelope domain.EventEnvelope) error {
	audit := auditEventModel{
		EventID:          envelope.EventID,
		SchemaVersion:    envelope.SchemaVersion,
		AggregateType:    envelope.AggregateType,
		AggregateID:      envelope.AggregateID,
		AggregateVersion: envelope.AggregateVersion,
		Action:           envelope.EventType,
		Actor:            meta.Actor,
		Source:           meta.Source,
		RequestID:        meta.RequestID,
		CorrelationID:    meta.CorrelationID,
		CausationID:      meta.CausationID,
		PayloadJSON:      datatypes.JSON(envelope.Payload),
		OccurredAt:       envelope.OccurredAt,
	}
	if err := tx.Create(&audit).Error; err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}

	outbox := outboxEventModel{
		EventID:       envelope.EventID,
		Topic:         topicFor(envelope),
		PayloadJSON:   datatypes.JSON(payload),
		Status:        outboxPending,
		NextAttemptAt: envelope.OccurredAt,
		CreatedAt:     envelope.OccurredAt,
	}
	if err := tx.Create(&outbox).Error; err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

// topicFor prefixes the event type, e.g. storefront.store.updated.
func topicFor(envelope domain.EventEnvelope) string {
	return topicPrefix + envelope.EventType
}
