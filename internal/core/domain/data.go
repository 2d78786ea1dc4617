package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type DataEntity struct {
	ID         string
	StoreID    string
	EntityType string
	EntityKey  string
	Payload    json.RawMessage
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (e DataEntity) Keyed() bool { return e.EntityKey != "" }

func (e DataEntity) Validate() error {
	if err := ValidateID("store", e.StoreID); err != nil {
		return err
	}
	if e.EntityType != "" {
		if err := ValidateName("entity type", e.EntityType); err != nil {
			return err
		}
	}
	if e.EntityKey != "" && e.EntityType == "" {
		return fmt.Errorf("keyed entities need a type: %w", ErrInvalidInput)
	}
	if len(e.Payload) == 0 || !json.Valid(e.Payload) {
		return fmt.Errorf("entity payload must be valid json: %w", ErrInvalidInput)
	}
	return nil
}

// Collection sources.
const (
	SourceManual  = "manual"
	SourceDynamic = "dynamic"
)

type Collection struct {
	ID        string
	StoreID   string
	Name      string
	Source    string
	Rules     json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CollectionRules is the decoded form of Collection.Rules.
type CollectionRules struct {
	EntityType string `json:"entityType,omitempty"`
	Filter     string `json:"filter,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

func DecodeRules(raw json.RawMessage) (CollectionRules, error) {
	var r CollectionRules
	if len(raw) == 0 || string(raw) == "null" {
		return r, nil
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return CollectionRules{}, fmt.Errorf("collection rules: %w", ErrInvalidInput)
	}
	if r.Limit < 0 {
		return CollectionRules{}, fmt.Errorf("collection rules limit must not be negative: %w", ErrInvalidInput)
	}
	return r, nil
}

func (c Collection) Validate() error {
	if err := ValidateID("store", c.StoreID); err != nil {
		return err
	}
	if err := ValidateName("collection name", c.Name); err != nil {
		return err
	}
	rules, err := DecodeRules(c.Rules)
	if err != nil {
		return err
	}
	switch c.Source {
	case SourceManual:
	case SourceDynamic:
		if rules.EntityType == "" {
			return fmt.Errorf("dynamic collections need rules.entityType: %w", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("collection source %q: %w", c.Source, ErrInvalidInput)
	}
	return nil
}

// CollectionItem places an entity in a collection. Seq records insertion
// order and breaks SortOrder ties.
type CollectionItem struct {
	ID           string
	CollectionID string
	EntityID     string
	SortOrder    int
	Seq          int64
	CreatedAt    time.Time
}

// EntityTypeCount is one row of an entity-type histogram.
type EntityTypeCount struct {
	EntityType string `json:"entityType"`
	Count      int64  `json:"count"`
}
