package domain

import (
	"encoding/json"
	"time"
)

const CurrentEventSchemaVersion = 1

// Event types recorded for engine mutations.
const (
	EventThemeCreated      = "theme.created"
	EventVersionPublished  = "theme.version_published"
	EventStoreCreated      = "store.created"
	EventStoreUpdated      = "store.updated"
	EventStoreDeleted      = "store.deleted"
	EventStoreVersionBound = "store.version_bound"
	EventStoreCloned       = "store.cloned"
	EventComponentChanged  = "store.component_changed"
	EventPageChanged       = "store.page_changed"
	EventDataChanged       = "store.data_changed"
	EventBindingChanged    = "store.binding_changed"
	EventSnapshotCaptured  = "store.snapshot_captured"
	EventSnapshotRestored  = "store.snapshot_restored"
	AggregateTheme         = "theme"
	AggregateStore         = "store"
)

type MutationMetadata struct {
	Actor         string
	Source        string
	RequestID     string
	CorrelationID string
	CausationID   string
	OccurredAt    time.Time
}

func (m MutationMetadata) Normalize() MutationMetadata {
	if m.Actor == "" {
		m.Actor = "engine"
	}
	if m.Source == "" {
		m.Source = "engine"
	}
	if m.OccurredAt.IsZero() {
		m.OccurredAt = time.Now().UTC()
	}
	return m
}

// Change describes one engine mutation before it is enveloped by the event log.
type Change struct {
	EventType     string
	AggregateType string
	AggregateID   string
	Payload       any
}

type EventEnvelope struct {
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	SchemaVersion    int             `json:"schema_version"`
	AggregateType    string          `json:"aggregate_type"`
	AggregateID      string          `json:"aggregate_id"`
	AggregateVersion int64           `json:"aggregate_version"`
	OccurredAt       time.Time       `json:"occurred_at"`
	CorrelationID    string          `json:"correlation_id"`
	CausationID      string          `json:"causation_id"`
	Actor            string          `json:"actor"`
	Source           string          `json:"source"`
	Payload          json.RawMessage `json:"payload"`
}

type AuditTrailEvent struct {
	ID               int64           `json:"id"`
	EventID          string          `json:"event_id"`
	SchemaVersion    int             `json:"schema_version"`
	AggregateType    string          `json:"aggregate_type"`
	AggregateID      string          `json:"aggregate_id"`
	AggregateVersion int64           `json:"aggregate_version"`
	Action           string          `json:"action"`
	Actor            string          `json:"actor"`
	Source           string          `json:"source"`
	RequestID        string          `json:"request_id"`
	CorrelationID    string          `json:"correlation_id"`
	CausationID      string          `json:"causation_id"`
	PayloadJSON      json.RawMessage `json:"payload,omitempty"`
	OccurredAt       time.Time       `json:"occurred_at"`
}

type OutboxEvent struct {
	ID            int64
	EventID       string
	Topic         string
	PayloadJSON   json.RawMessage
	Status        string
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	DispatchedAt  *time.Time
}

type AuditFilter struct {
	AggregateType string
	AggregateID   string
	Action        string
	AfterID       int64
	Limit         int
}
