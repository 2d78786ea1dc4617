package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Binding source types.
const (
	BindCollection = "collection"
	BindEntity     = "entity"
	BindLiteral    = "literal"
)

type DataBinding struct {
	ID            string
	StoreID       string
	ComponentPath string
	BindingKey    string
	SourceType    string
	SourceRef     string
	Override      json.RawMessage
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (b DataBinding) Validate() error {
	if err := ValidateID("store", b.StoreID); err != nil {
		return err
	}
	if err := ValidateName("component path", b.ComponentPath); err != nil {
		return err
	}
	if err := ValidateName("binding key", b.BindingKey); err != nil {
		return err
	}
	if !ValidJSON(b.Override) {
		return fmt.Errorf("binding override must be valid json: %w", ErrInvalidInput)
	}
	switch b.SourceType {
	case BindCollection, BindEntity:
		if b.SourceRef == "" {
			return fmt.Errorf("%s binding needs a source ref: %w", b.SourceType, ErrInvalidInput)
		}
	case BindLiteral:
		if len(b.Override) == 0 {
			return fmt.Errorf("literal binding needs an override value: %w", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("binding source type %q: %w", b.SourceType, ErrInvalidInput)
	}
	return nil
}

// ValueKind tags the variant held by a ResolvedValue.
type ValueKind string

const (
	ValueUnbound    ValueKind = "unbound"
	ValueCollection ValueKind = "collection"
	ValueEntity     ValueKind = "entity"
	ValueLiteral    ValueKind = "literal"
)

// ResolvedValue is the result of resolving one binding slot.
type ResolvedValue struct {
	Kind     ValueKind        `json:"kind"`
	Entities []ResolvedEntity `json:"entities,omitempty"`
	Entity   *ResolvedEntity  `json:"entity,omitempty"`
	Literal  json.RawMessage  `json:"literal,omitempty"`
	Dangling bool             `json:"dangling,omitempty"`
	Reason   string           `json:"reason,omitempty"`
}

type ResolvedEntity struct {
	ID         string          `json:"id"`
	EntityType string          `json:"entityType,omitempty"`
	EntityKey  string          `json:"entityKey,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

func Unbound() ResolvedValue { return ResolvedValue{Kind: ValueUnbound} }

// DanglingPlaceholder renders a broken binding without blocking composition.
func DanglingPlaceholder(err error) ResolvedValue {
	return ResolvedValue{Kind: ValueUnbound, Dangling: true, Reason: err.Error()}
}

func ResolveEntity(e DataEntity) ResolvedEntity {
	return ResolvedEntity{ID: e.ID, EntityType: e.EntityType, EntityKey: e.EntityKey, Payload: e.Payload}
}
