package domain

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

// BilingualText carries a value in the store's primary and secondary language.
type BilingualText struct {
	Primary   string `json:"primary"`
	Secondary string `json:"secondary,omitempty"`
}

type Theme struct {
	ID          string
	Name        BilingualText
	Description BilingualText
	AuthorEmail string
	Repository  string
	SupportURL  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (t Theme) Validate() error {
	if strings.TrimSpace(t.Name.Primary) == "" {
		return fmt.Errorf("theme name is required: %w", ErrInvalidInput)
	}
	if t.AuthorEmail != "" {
		if _, err := mail.ParseAddress(t.AuthorEmail); err != nil {
			return fmt.Errorf("author email: %w", ErrInvalidInput)
		}
	}
	return nil
}

// ThemeVersion is an immutable published release of a theme.
type ThemeVersion struct {
	ID           string
	ThemeID      string
	Version      string
	FSPath       string
	Contract     json.RawMessage
	Capabilities json.RawMessage
	SchemaHash   string
	CreatedAt    time.Time
}

// Contract is the decoded shape of ThemeVersion.Contract. Unknown keys are
// preserved in the raw document and ignored here.
type Contract struct {
	SettingsSchema json.RawMessage `json:"settingsSchema,omitempty"`
	Components     []string        `json:"components,omitempty"`
	Pages          []string        `json:"pages,omitempty"`
}

func DecodeContract(raw json.RawMessage) (Contract, error) {
	var c Contract
	if len(raw) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return Contract{}, fmt.Errorf("contract must be a json object: %w", ErrInvalidInput)
	}
	return c, nil
}

// AllowsComponent reports whether componentPath is declared by the contract.
// A contract without a component list allows everything.
func (c Contract) AllowsComponent(componentPath string) bool {
	if len(c.Components) == 0 {
		return true
	}
	for _, p := range c.Components {
		if p == componentPath {
			return true
		}
	}
	return false
}

// AllowsPage reports whether page is declared by the contract. A contract
// without a page list allows every page.
func (c Contract) AllowsPage(page string) bool {
	if len(c.Pages) == 0 {
		return true
	}
	for _, p := range c.Pages {
		if p == page {
			return true
		}
	}
	return false
}

// ValidateVersion accepts full MAJOR.MINOR.PATCH versions with or without a
// leading "v". Shorthands such as "1" or "1.2" are rejected because they
// would compare equal to "1.0.0" and "1.2.0".
func ValidateVersion(version string) error {
	v := CanonicalVersion(version)
	if !semver.IsValid(v) {
		return fmt.Errorf("version %q is not a semantic version: %w", version, ErrInvalidInput)
	}
	if strings.TrimSuffix(v, semver.Build(v)) != semver.Canonical(v) {
		return fmt.Errorf("version %q must name major, minor and patch: %w", version, ErrInvalidInput)
	}
	return nil
}

func CanonicalVersion(version string) string {
	if strings.HasPrefix(version, "v") {
		return version
	}
	return "v" + version
}

// CompareVersions orders two version strings by semantic version precedence.
func CompareVersions(a, b string) int {
	return semver.Compare(CanonicalVersion(a), CanonicalVersion(b))
}
