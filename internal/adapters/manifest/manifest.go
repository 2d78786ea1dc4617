// Package manifest loads theme manifests from YAML and publishes them into
// the theme catalog.
package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/atvirokodosprendimai/storefront/internal/core/domain"
	"github.com/atvirokodosprendimai/storefront/internal/core/usecase"
	"gopkg.in/yaml.v3"
)

// Manifest describes one theme version as shipped next to its files.
//
//	theme:
//	  id: dawn
//	  name: {primary: Dawn, secondary: Aušra}
//	version: 1.2.0
//	contract:
//	  components: [hero, footer]
//	  settingsSchema: {type: object}
type Manifest struct {
	Theme        ThemeInfo      `yaml:"theme"`
	Version      string         `yaml:"version"`
	FSPath       string         `yaml:"fs_path,omitempty"`
	Contract     map[string]any `yaml:"contract"`
	Capabilities map[string]any `yaml:"capabilities,omitempty"`
	SchemaHash   string         `yaml:"schema_hash,omitempty"`
}

type ThemeInfo struct {
	ID          string    `yaml:"id"`
	Name        Bilingual `yaml:"name"`
	Description Bilingual `yaml:"description,omitempty"`
	AuthorEmail string    `yaml:"author_email,omitempty"`
	Repository  string    `yaml:"repository,omitempty"`
	SupportURL  string    `yaml:"support_url,omitempty"`
}

type Bilingual struct {
	Primary   string `yaml:"primary"`
	Secondary string `yaml:"secondary,omitempty"`
}

// Catalog is the part of the theme catalog a manifest publishes through.
type Catalog interface {
	GetTheme(ctx context.Context, id string) (domain.Theme, error)
	CreateTheme(ctx context.Context, theme domain.Theme, meta domain.MutationMetadata) (domain.Theme, error)
	PublishVersion(ctx context.Context, req usecase.PublishRequest, meta domain.MutationMetadata) (domain.ThemeVersion, error)
}

// Load reads a manifest file. A manifest without fs_path points at the
// directory it lives in.
func Load(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	m, err := Parse(bytes.NewReader(data))
	if err != nil {
		return Manifest{}, fmt.Errorf("%s: %w", path, err)
	}
	if m.FSPath == "" {
		m.FSPath = filepath.Dir(path)
	}
	return m, nil
}

// Parse decodes a manifest, rejecting unknown fields.
func Parse(r io.Reader) (Manifest, error) {
	var m Manifest
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return Manifest{}, fmt.Errorf("empty manifest: %w", domain.ErrInvalidInput)
		}
		return Manifest{}, fmt.Errorf("parse manifest: %v: %w", err, domain.ErrInvalidInput)
	}
	if err := m.validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

func (m Manifest) validate() error {
	var problems []string
	if strings.TrimSpace(m.Theme.ID) == "" {
		problems = append(problems, "theme.id is required")
	}
	if strings.TrimSpace(m.Theme.Name.Primary) == "" {
		problems = append(problems, "theme.name.primary is required")
	}
	if strings.TrimSpace(m.Version) == "" {
		problems = append(problems, "version is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid manifest: %s: %w", strings.Join(problems, "; "), domain.ErrInvalidInput)
	}
	return nil
}

// ThemeRecord returns the catalog theme the manifest declares.
func (m Manifest) ThemeRecord() domain.Theme {
	return domain.Theme{
		ID:          m.Theme.ID,
		Name:        domain.BilingualText{Primary: m.Theme.Name.Primary, Secondary: m.Theme.Name.Secondary},
		Description: domain.BilingualText{Primary: m.Theme.Description.Primary, Secondary: m.Theme.Description.Secondary},
		AuthorEmail: m.Theme.AuthorEmail,
		Repository:  m.Theme.Repository,
		SupportURL:  m.Theme.SupportURL,
	}
}

// PublishRequest converts the manifest into catalog input. The contract and
// capabilities are re-encoded as JSON.
func (m Manifest) PublishRequest() (usecase.PublishRequest, error) {
	contract, err := toJSON(m.Contract)
	if err != nil {
		return usecase.PublishRequest{}, fmt.Errorf("contract: %w", err)
	}
	req := usecase.PublishRequest{
		ThemeID:    m.Theme.ID,
		Version:    m.Version,
		FSPath:     m.FSPath,
		Contract:   contract,
		SchemaHash: m.SchemaHash,
	}
	if len(m.Capabilities) > 0 {
		if req.Capabilities, err = toJSON(m.Capabilities); err != nil {
			return usecase.PublishRequest{}, fmt.Errorf("capabilities: %w", err)
		}
	}
	return req, nil
}

// Publish creates the theme when the catalog does not know it yet and then
// publishes the manifest version.
func Publish(ctx context.Context, catalog Catalog, m Manifest, meta domain.MutationMetadata) (domain.ThemeVersion, error) {
	req, err := m.PublishRequest()
	if err != nil {
		return domain.ThemeVersion{}, err
	}
	if _, err := catalog.GetTheme(ctx, m.Theme.ID); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.ThemeVersion{}, err
		}
		if _, err := catalog.CreateTheme(ctx, m.ThemeRecord(), meta); err != nil {
			return domain.ThemeVersion{}, fmt.Errorf("create theme %s: %w", m.Theme.ID, err)
		}
	}
	return catalog.PublishVersion(ctx, req, meta)
}

func toJSON(v map[string]any) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage(`{}`), nil
	}
	return json.Marshal(normalize(v))
}

// normalize turns YAML maps with non-string keys into JSON objects.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}
