package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/atvirokodosprendimai/storefront/internal/core/domain"
	"github.com/atvirokodosprendimai/storefront/internal/core/ports"
)

// Catalog owns themes and their immutable published versions. It never
// touches stores.
type Catalog struct {
	store     ports.EntityStore
	contracts *ContractValidator
}

func NewCatalog(store ports.EntityStore, contracts *ContractValidator) *Catalog {
	return &Catalog{store: store, contracts: contracts}
}

func (c *Catalog) CreateTheme(ctx context.Context, theme domain.Theme, meta domain.MutationMetadata) (domain.Theme, error) {
	if err := theme.Validate(); err != nil {
		return domain.Theme{}, err
	}
	if theme.ID == "" {
		theme.ID = newID()
	}
	ts := now()
	theme.CreatedAt, theme.UpdatedAt = ts, ts

	var created domain.Theme
	err := c.store.WriteTx(ctx, func(tx ports.Tx) error {
		var err error
		if created, err = tx.Themes().Create(ctx, theme); err != nil {
			return err
		}
		return tx.Record(ctx, domain.Change{
			EventType:     domain.EventThemeCreated,
			AggregateType: domain.AggregateTheme,
			AggregateID:   created.ID,
			Payload:       map[string]any{"name": created.Name},
		}, meta)
	})
	if err != nil {
		return domain.Theme{}, err
	}
	return created, nil
}

func (c *Catalog) GetTheme(ctx context.Context, id string) (domain.Theme, error) {
	if err := domain.ValidateID("theme", id); err != nil {
		return domain.Theme{}, err
	}
	var theme domain.Theme
	err := c.store.ReadTx(ctx, func(tx ports.Tx) error {
		var err error
		theme, err = tx.Themes().FindUnique(ctx, domain.Where{domain.Eq("id", id)})
		return err
	})
	return theme, err
}

func (c *Catalog) ListThemes(ctx context.Context) ([]domain.Theme, error) {
	var themes []domain.Theme
	err := c.store.ReadTx(ctx, func(tx ports.Tx) error {
		var err error
		themes, err = tx.Themes().FindMany(ctx, domain.Query{OrderBy: []domain.Order{domain.Asc("created_at"), domain.Asc("id")}})
		return err
	})
	return themes, err
}

// PublishRequest carries the inputs of PublishVersion. SchemaHash is computed
// when empty and verified otherwise.
type PublishRequest struct {
	ThemeID      string
	Version      string
	FSPath       string
	Contract     json.RawMessage
	Capabilities json.RawMessage
	SchemaHash   string
}

func (c *Catalog) PublishVersion(ctx context.Context, req PublishRequest, meta domain.MutationMetadata) (domain.ThemeVersion, error) {
	if err := domain.ValidateID("theme", req.ThemeID); err != nil {
		return domain.ThemeVersion{}, err
	}
	if err := domain.ValidateVersion(req.Version); err != nil {
		return domain.ThemeVersion{}, err
	}
	if !domain.ValidJSON(req.Capabilities) {
		return domain.ThemeVersion{}, fmt.Errorf("capabilities must be valid json: %w", domain.ErrInvalidInput)
	}
	if _, err := c.contracts.Check(req.Contract); err != nil {
		return domain.ThemeVersion{}, err
	}
	hash, err := c.contracts.Hash(req.Contract)
	if err != nil {
		return domain.ThemeVersion{}, err
	}
	if req.SchemaHash != "" && req.SchemaHash != hash {
		return domain.ThemeVersion{}, fmt.Errorf("schema hash %s does not match contract hash %s: %w", req.SchemaHash, hash, domain.ErrIntegrityViolation)
	}

	version := domain.ThemeVersion{
		ID:           newID(),
		ThemeID:      req.ThemeID,
		Version:      req.Version,
		FSPath:       req.FSPath,
		Contract:     req.Contract,
		Capabilities: req.Capabilities,
		SchemaHash:   hash,
		CreatedAt:    now(),
	}

	err = c.store.WriteTx(ctx, func(tx ports.Tx) error {
		if _, err := tx.Themes().FindUnique(ctx, domain.Where{domain.Eq("id", req.ThemeID)}); err != nil {
			return err
		}
		// Versions compare by semver precedence so "1.0.0" and "v1.0.0" collide.
		existing, err := tx.ThemeVersions().FindMany(ctx, domain.Query{Where: domain.Where{domain.Eq("theme_id", req.ThemeID)}})
		if err != nil {
			return err
		}
		for _, v := range existing {
			if domain.CompareVersions(v.Version, req.Version) == 0 {
				return fmt.Errorf("theme %s version %s: %w", req.ThemeID, req.Version, domain.ErrDuplicateVersion)
			}
		}
		if version, err = tx.ThemeVersions().Create(ctx, version); err != nil {
			if errors.Is(err, domain.ErrDuplicateKey) {
				return fmt.Errorf("theme %s version %s: %w", req.ThemeID, req.Version, domain.ErrDuplicateVersion)
			}
			return err
		}
		return tx.Record(ctx, domain.Change{
			EventType:     domain.EventVersionPublished,
			AggregateType: domain.AggregateTheme,
			AggregateID:   req.ThemeID,
			Payload:       map[string]any{"version_id": version.ID, "version": version.Version, "schema_hash": version.SchemaHash},
		}, meta)
	})
	if err != nil {
		return domain.ThemeVersion{}, err
	}
	return version, nil
}

func (c *Catalog) GetVersion(ctx context.Context, id string) (domain.ThemeVersion, error) {
	if err := domain.ValidateID("theme version", id); err != nil {
		return domain.ThemeVersion{}, err
	}
	var version domain.ThemeVersion
	err := c.store.ReadTx(ctx, func(tx ports.Tx) error {
		var err error
		version, err = tx.ThemeVersions().FindUnique(ctx, domain.Where{domain.Eq("id", id)})
		return err
	})
	return version, err
}

// ListVersions returns the versions of a theme in ascending semver order.
func (c *Catalog) ListVersions(ctx context.Context, themeID string) ([]domain.ThemeVersion, error) {
	if err := domain.ValidateID("theme", themeID); err != nil {
		return nil, err
	}
	var versions []domain.ThemeVersion
	err := c.store.ReadTx(ctx, func(tx ports.Tx) error {
		if _, err := tx.Themes().FindUnique(ctx, domain.Where{domain.Eq("id", themeID)}); err != nil {
			return err
		}
		var err error
		versions, err = tx.ThemeVersions().FindMany(ctx, domain.Query{Where: domain.Where{domain.Eq("theme_id", themeID)}})
		return err
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(versions, func(i, j int) bool {
		return domain.CompareVersions(versions[i].Version, versions[j].Version) < 0
	})
	return versions, nil
}

// LatestVersion returns the highest published version of a theme.
func (c *Catalog) LatestVersion(ctx context.Context, themeID string) (domain.ThemeVersion, error) {
	versions, err := c.ListVersions(ctx, themeID)
	if err != nil {
		return domain.ThemeVersion{}, err
	}
	if len(versions) == 0 {
		return domain.ThemeVersion{}, fmt.Errorf("theme %s has no published version: %w", themeID, domain.ErrNotFound)
	}
	return versions[len(versions)-1], nil
}
