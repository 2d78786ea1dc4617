package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// CurrentSnapshotFormat is written into every captured document. Restore
// refuses documents written by a newer format.
const CurrentSnapshotFormat = 1

type Snapshot struct {
	ID        string
	StoreID   string
	Label     string
	Document  json.RawMessage
	CreatedAt time.Time
}

// SnapshotDocument is the serialized aggregate of a store's mutable state.
type SnapshotDocument struct {
	Format      int                  `json:"format"`
	StoreID     string               `json:"storeId"`
	CapturedAt  time.Time            `json:"capturedAt"`
	Store       SnapshotStore        `json:"store"`
	Components  []SnapshotComponent  `json:"components"`
	Pages       []SnapshotPage       `json:"pages"`
	Bindings    []SnapshotBinding    `json:"bindings"`
	Entities    []SnapshotEntity     `json:"entities"`
	Collections []SnapshotCollection `json:"collections"`
}

type SnapshotStore struct {
	ThemeID         string          `json:"themeId"`
	ThemeVersionID  string          `json:"themeVersionId"`
	Title           string          `json:"title"`
	DefaultLocale   string          `json:"defaultLocale"`
	DefaultCurrency string          `json:"defaultCurrency"`
	ActivePage      string          `json:"activePage"`
	Viewport        string          `json:"viewport"`
	Settings        json.RawMessage `json:"settings,omitempty"`
	ThemeSettings   json.RawMessage `json:"themeSettings,omitempty"`
	Branding        json.RawMessage `json:"branding,omitempty"`
}

type SnapshotComponent struct {
	ID            string          `json:"id"`
	ComponentPath string          `json:"componentPath"`
	InstanceOrder int             `json:"instanceOrder"`
	ComponentKey  string          `json:"componentKey,omitempty"`
	Settings      json.RawMessage `json:"settings,omitempty"`
	Visibility    json.RawMessage `json:"visibility,omitempty"`
}

type SnapshotPage struct {
	ID          string          `json:"id"`
	Page        string          `json:"page"`
	Composition json.RawMessage `json:"composition"`
}

type SnapshotBinding struct {
	ID            string          `json:"id"`
	ComponentPath string          `json:"componentPath"`
	BindingKey    string          `json:"bindingKey"`
	SourceType    string          `json:"sourceType"`
	SourceRef     string          `json:"sourceRef,omitempty"`
	Override      json.RawMessage `json:"override,omitempty"`
}

type SnapshotEntity struct {
	ID         string          `json:"id"`
	EntityType string          `json:"entityType,omitempty"`
	EntityKey  string          `json:"entityKey,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

type SnapshotCollection struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Source string          `json:"source"`
	Rules  json.RawMessage `json:"rules,omitempty"`
	Items  []SnapshotItem  `json:"items"`
}

type SnapshotItem struct {
	ID        string `json:"id"`
	EntityID  string `json:"entityId"`
	SortOrder int    `json:"sortOrder"`
	Seq       int64  `json:"seq"`
}

// DecodeSnapshot parses a stored document and checks its format.
func DecodeSnapshot(raw json.RawMessage) (SnapshotDocument, error) {
	var doc SnapshotDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return SnapshotDocument{}, fmt.Errorf("decode snapshot document: %w", err)
	}
	if doc.Format < 1 || doc.Format > CurrentSnapshotFormat {
		return SnapshotDocument{}, fmt.Errorf("snapshot format %d is not supported: %w", doc.Format, ErrIntegrityViolation)
	}
	return doc, nil
}
