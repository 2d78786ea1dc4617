package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9._:/-]+$`)

// ValidateName checks identifiers used as page names, component paths and
// binding keys.
func ValidateName(kind, name string) error {
	if name == "" || !namePattern.MatchString(name) {
		return fmt.Errorf("%s %q: %w", kind, name, ErrInvalidInput)
	}
	return nil
}

func ValidateID(kind, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%s id is required: %w", kind, ErrInvalidInput)
	}
	return nil
}

// ValidJSON reports whether raw is empty or a well formed json document.
func ValidJSON(raw json.RawMessage) bool {
	return len(raw) == 0 || json.Valid(raw)
}

type Store struct {
	ID              string
	ThemeID         string
	ThemeVersionID  string
	Title           string
	DefaultLocale   string
	DefaultCurrency string
	ActivePage      string
	Viewport        string
	Settings        json.RawMessage
	ThemeSettings   json.RawMessage
	Branding        json.RawMessage
	IsMaster        bool
	ParentStoreID   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (s Store) Validate() error {
	if strings.TrimSpace(s.Title) == "" {
		return fmt.Errorf("store title is required: %w", ErrInvalidInput)
	}
	if err := ValidateID("theme version", s.ThemeVersionID); err != nil {
		return err
	}
	if s.ActivePage != "" {
		if err := ValidateName("page", s.ActivePage); err != nil {
			return err
		}
	}
	for name, raw := range map[string]json.RawMessage{"settings": s.Settings, "theme settings": s.ThemeSettings, "branding": s.Branding} {
		if !ValidJSON(raw) {
			return fmt.Errorf("%s must be valid json: %w", name, ErrInvalidInput)
		}
	}
	return nil
}

// StoreState is the read-optimized projection of a Store. It is only ever
// derived from a Store through ProjectState.
type StoreState struct {
	StoreID        string
	ThemeID        string
	ThemeVersionID string
	ActivePage     string
	Viewport       string
	Settings       json.RawMessage
	ThemeSettings  json.RawMessage
	Branding       json.RawMessage
	Revision       int64
	UpdatedAt      time.Time
}

// ProjectState derives the state row for s. The revision follows prev.
func ProjectState(s Store, prevRevision int64) StoreState {
	return StoreState{
		StoreID:        s.ID,
		ThemeID:        s.ThemeID,
		ThemeVersionID: s.ThemeVersionID,
		ActivePage:     s.ActivePage,
		Viewport:       s.Viewport,
		Settings:       s.Settings,
		ThemeSettings:  s.ThemeSettings,
		Branding:       s.Branding,
		Revision:       prevRevision + 1,
		UpdatedAt:      s.UpdatedAt,
	}
}

// StorePatch carries the mutable scalar fields of a Store. Nil fields are left
// untouched.
type StorePatch struct {
	Title           *string
	DefaultLocale   *string
	DefaultCurrency *string
	ActivePage      *string
	Viewport        *string
	Settings        json.RawMessage
	ThemeSettings   json.RawMessage
	Branding        json.RawMessage
}

func (p StorePatch) Apply(s Store) Store {
	if p.Title != nil {
		s.Title = *p.Title
	}
	if p.DefaultLocale != nil {
		s.DefaultLocale = *p.DefaultLocale
	}
	if p.DefaultCurrency != nil {
		s.DefaultCurrency = *p.DefaultCurrency
	}
	if p.ActivePage != nil {
		s.ActivePage = *p.ActivePage
	}
	if p.Viewport != nil {
		s.Viewport = *p.Viewport
	}
	if p.Settings != nil {
		s.Settings = p.Settings
	}
	if p.ThemeSettings != nil {
		s.ThemeSettings = p.ThemeSettings
	}
	if p.Branding != nil {
		s.Branding = p.Branding
	}
	return s
}
