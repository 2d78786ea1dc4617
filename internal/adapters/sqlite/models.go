package sqlite

import (
	"encoding/json"
	"time"

	"github.com/atvirokodosprendimai/storefront/internal/core/domain"
	"gorm.io/datatypes"
)

type themeModel struct {
	ID                   string    `gorm:"column:id;primaryKey"`
	NamePrimary          string    `gorm:"column:name_primary;not null"`
	NameSecondary        string    `gorm:"column:name_secondary;not null"`
	DescriptionPrimary   string    `gorm:"column:description_primary;not null"`
	DescriptionSecondary string    `gorm:"column:description_secondary;not null"`
	AuthorEmail          string    `gorm:"column:author_email;not null"`
	Repository           string    `gorm:"column:repository;not null"`
	SupportURL           string    `gorm:"column:support_url;not null"`
	CreatedAt            time.Time `gorm:"column:created_at;not null"`
	UpdatedAt            time.Time `gorm:"column:updated_at;not null"`
}

func (themeModel) TableName() string { return "themes" }

func themeToModel(t domain.Theme) themeModel {
	return themeModel{
		ID:                   t.ID,
		NamePrimary:          t.Name.Primary,
		NameSecondary:        t.Name.Secondary,
		DescriptionPrimary:   t.Description.Primary,
		DescriptionSecondary: t.Description.Secondary,
		AuthorEmail:          t.AuthorEmail,
		Repository:           t.Repository,
		SupportURL:           t.SupportURL,
		CreatedAt:            t.CreatedAt,
		UpdatedAt:            t.UpdatedAt,
	}
}

func themeToDomain(m themeModel) domain.Theme {
	return domain.Theme{
		ID:          m.ID,
		Name:        domain.BilingualText{Primary: m.NamePrimary, Secondary: m.NameSecondary},
		Description: domain.BilingualText{Primary: m.DescriptionPrimary, Secondary: m.DescriptionSecondary},
		AuthorEmail: m.AuthorEmail,
		Repository:  m.Repository,
		SupportURL:  m.SupportURL,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

type themeVersionModel struct {
	ID               string         `gorm:"column:id;primaryKey"`
	ThemeID          string         `gorm:"column:theme_id;not null"`
	Version          string         `gorm:"column:version;not null"`
	FSPath           string         `gorm:"column:fs_path;not null"`
	ContractJSON     datatypes.JSON `gorm:"column:contract_json;not null"`
	CapabilitiesJSON datatypes.JSON `gorm:"column:capabilities_json"`
	SchemaHash       string         `gorm:"column:schema_hash;not null"`
	CreatedAt        time.Time      `gorm:"column:created_at;not null"`
}

func (themeVersionModel) TableName() string { return "theme_versions" }

func themeVersionToModel(v domain.ThemeVersion) themeVersionModel {
	return themeVersionModel{
		ID:               v.ID,
		ThemeID:          v.ThemeID,
		Version:          v.Version,
		FSPath:           v.FSPath,
		ContractJSON:     requiredJSON(v.Contract),
		CapabilitiesJSON: optionalJSON(v.Capabilities),
		SchemaHash:       v.SchemaHash,
		CreatedAt:        v.CreatedAt,
	}
}

func themeVersionToDomain(m themeVersionModel) domain.ThemeVersion {
	return domain.ThemeVersion{
		ID:           m.ID,
		ThemeID:      m.ThemeID,
		Version:      m.Version,
		FSPath:       m.FSPath,
		Contract:     rawJSON(m.ContractJSON),
		Capabilities: rawJSON(m.CapabilitiesJSON),
		SchemaHash:   m.SchemaHash,
		CreatedAt:    m.CreatedAt,
	}
}

type storeModel struct {
	ID                string         `gorm:"column:id;primaryKey"`
	ThemeID           string         `gorm:"column:theme_id;not null"`
	ThemeVersionID    string         `gorm:"column:theme_version_id;not null"`
	Title             string         `gorm:"column:title;not null"`
	DefaultLocale     string         `gorm:"column:default_locale;not null"`
	DefaultCurrency   string         `gorm:"column:default_currency;not null"`
	ActivePage        string         `gorm:"column:active_page;not null"`
	Viewport          string         `gorm:"column:viewport;not null"`
	SettingsJSON      datatypes.JSON `gorm:"column:settings_json;not null"`
	ThemeSettingsJSON datatypes.JSON `gorm:"column:theme_settings_json;not null"`
	BrandingJSON      datatypes.JSON `gorm:"column:branding_json;not null"`
	IsMaster          bool           `gorm:"column:is_master;not null"`
	ParentStoreID     *string        `gorm:"column:parent_store_id"`
	CreatedAt         time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt         time.Time      `gorm:"column:updated_at;not null"`
}

func (storeModel) TableName() string { return "stores" }

func storeToModel(s domain.Store) storeModel {
	return storeModel{
		ID:                s.ID,
		ThemeID:           s.ThemeID,
		ThemeVersionID:    s.ThemeVersionID,
		Title:             s.Title,
		DefaultLocale:     s.DefaultLocale,
		DefaultCurrency:   s.DefaultCurrency,
		ActivePage:        s.ActivePage,
		Viewport:          s.Viewport,
		SettingsJSON:      requiredJSON(s.Settings),
		ThemeSettingsJSON: requiredJSON(s.ThemeSettings),
		BrandingJSON:      requiredJSON(s.Branding),
		IsMaster:          s.IsMaster,
		ParentStoreID:     nullable(s.ParentStoreID),
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

func storeToDomain(m storeModel) domain.Store {
	return domain.Store{
		ID:              m.ID,
		ThemeID:         m.ThemeID,
		ThemeVersionID:  m.ThemeVersionID,
		Title:           m.Title,
		DefaultLocale:   m.DefaultLocale,
		DefaultCurrency: m.DefaultCurrency,
		ActivePage:      m.ActivePage,
		Viewport:        m.Viewport,
		Settings:        rawJSON(m.SettingsJSON),
		ThemeSettings:   rawJSON(m.ThemeSettingsJSON),
		Branding:        rawJSON(m.BrandingJSON),
		IsMaster:        m.IsMaster,
		ParentStoreID:   deref(m.ParentStoreID),
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

type storeStateModel struct {
	StoreID           string         `gorm:"column:store_id;primaryKey"`
	ThemeID           string         `gorm:"column:theme_id;not null"`
	ThemeVersionID    string         `gorm:"column:theme_version_id;not null"`
	ActivePage        string         `gorm:"column:active_page;not null"`
	Viewport          string         `gorm:"column:viewport;not null"`
	SettingsJSON      datatypes.JSON `gorm:"column:settings_json;not null"`
	ThemeSettingsJSON datatypes.JSON `gorm:"column:theme_settings_json;not null"`
	BrandingJSON      datatypes.JSON `gorm:"column:branding_json;not null"`
	Revision          int64          `gorm:"column:revision;not null"`
	UpdatedAt         time.Time      `gorm:"column:updated_at;not null"`
}

func (storeStateModel) TableName() string { return "store_states" }

func storeStateToModel(s domain.StoreState) storeStateModel {
	return storeStateModel{
		StoreID:           s.StoreID,
		ThemeID:           s.ThemeID,
		ThemeVersionID:    s.ThemeVersionID,
		ActivePage:        s.ActivePage,
		Viewport:          s.Viewport,
		SettingsJSON:      requiredJSON(s.Settings),
		ThemeSettingsJSON: requiredJSON(s.ThemeSettings),
		BrandingJSON:      requiredJSON(s.Branding),
		Revision:          s.Revision,
		UpdatedAt:         s.UpdatedAt,
	}
}

func storeStateToDomain(m storeStateModel) domain.StoreState {
	return domain.StoreState{
		StoreID:        m.StoreID,
		ThemeID:        m.ThemeID,
		ThemeVersionID: m.ThemeVersionID,
		ActivePage:     m.ActivePage,
		Viewport:       m.Viewport,
		Settings:       rawJSON(m.SettingsJSON),
		ThemeSettings:  rawJSON(m.ThemeSettingsJSON),
		Branding:       rawJSON(m.BrandingJSON),
		Revision:       m.Revision,
		UpdatedAt:      m.UpdatedAt,
	}
}

type componentStateModel struct {
	ID             string         `gorm:"column:id;primaryKey"`
	StoreID        string         `gorm:"column:store_id;not null"`
	ComponentPath  string         `gorm:"column:component_path;not null"`
	InstanceOrder  int            `gorm:"column:instance_order;not null"`
	ComponentKey   *string        `gorm:"column:component_key"`
	SettingsJSON   datatypes.JSON `gorm:"column:settings_json;not null"`
	VisibilityJSON datatypes.JSON `gorm:"column:visibility_json"`
	CreatedAt      time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;not null"`
}

func (componentStateModel) TableName() string { return "component_states" }

func componentToModel(c domain.ComponentState) componentStateModel {
	return componentStateModel{
		ID:             c.ID,
		StoreID:        c.StoreID,
		ComponentPath:  c.ComponentPath,
		InstanceOrder:  c.InstanceOrder,
		ComponentKey:   nullable(c.ComponentKey),
		SettingsJSON:   requiredJSON(c.Settings),
		VisibilityJSON: optionalJSON(c.Visibility),
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

func componentToDomain(m componentStateModel) domain.ComponentState {
	return domain.ComponentState{
		ID:            m.ID,
		StoreID:       m.StoreID,
		ComponentPath: m.ComponentPath,
		InstanceOrder: m.InstanceOrder,
		ComponentKey:  deref(m.ComponentKey),
		Settings:      rawJSON(m.SettingsJSON),
		Visibility:    rawJSON(m.VisibilityJSON),
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

type pageCompositionModel struct {
	ID              string         `gorm:"column:id;primaryKey"`
	StoreID         string         `gorm:"column:store_id;not null"`
	Page            string         `gorm:"column:page;not null"`
	CompositionJSON datatypes.JSON `gorm:"column:composition_json;not null"`
	CreatedAt       time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt       time.Time      `gorm:"column:updated_at;not null"`
}

func (pageCompositionModel) TableName() string { return "page_compositions" }

func pageToModel(p domain.PageComposition) pageCompositionModel {
	return pageCompositionModel{
		ID:              p.ID,
		StoreID:         p.StoreID,
		Page:            p.Page,
		CompositionJSON: requiredJSON(p.Composition),
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

func pageToDomain(m pageCompositionModel) domain.PageComposition {
	return domain.PageComposition{
		ID:          m.ID,
		StoreID:     m.StoreID,
		Page:        m.Page,
		Composition: rawJSON(m.CompositionJSON),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

type dataEntityModel struct {
	ID          string         `gorm:"column:id;primaryKey"`
	StoreID     string         `gorm:"column:store_id;not null"`
	EntityType  string         `gorm:"column:entity_type;not null"`
	EntityKey   *string        `gorm:"column:entity_key"`
	PayloadJSON datatypes.JSON `gorm:"column:payload_json;not null"`
	CreatedAt   time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt   time.Time      `gorm:"column:updated_at;not null"`
}

func (dataEntityModel) TableName() string { return "data_entities" }

func entityToModel(e domain.DataEntity) dataEntityModel {
	return dataEntityModel{
		ID:          e.ID,
		StoreID:     e.StoreID,
		EntityType:  e.EntityType,
		EntityKey:   nullable(e.EntityKey),
		PayloadJSON: requiredJSON(e.Payload),
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

func entityToDomain(m dataEntityModel) domain.DataEntity {
	return domain.DataEntity{
		ID:         m.ID,
		StoreID:    m.StoreID,
		EntityType: m.EntityType,
		EntityKey:  deref(m.EntityKey),
		Payload:    rawJSON(m.PayloadJSON),
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

type collectionModel struct {
	ID        string         `gorm:"column:id;primaryKey"`
	StoreID   string         `gorm:"column:store_id;not null"`
	Name      string         `gorm:"column:name;not null"`
	Source    string         `gorm:"column:source;not null"`
	RulesJSON datatypes.JSON `gorm:"column:rules_json"`
	CreatedAt time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt time.Time      `gorm:"column:updated_at;not null"`
}

func (collectionModel) TableName() string { return "collections" }

func collectionToModel(c domain.Collection) collectionModel {
	return collectionModel{
		ID:        c.ID,
		StoreID:   c.StoreID,
		Name:      c.Name,
		Source:    c.Source,
		RulesJSON: optionalJSON(c.Rules),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func collectionToDomain(m collectionModel) domain.Collection {
	return domain.Collection{
		ID:        m.ID,
		StoreID:   m.StoreID,
		Name:      m.Name,
		Source:    m.Source,
		Rules:     rawJSON(m.RulesJSON),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

type collectionItemModel struct {
	ID           string    `gorm:"column:id;primaryKey"`
	CollectionID string    `gorm:"column:collection_id;not null"`
	EntityID     string    `gorm:"column:entity_id;not null"`
	SortOrder    int       `gorm:"column:sort_order;not null"`
	Seq          int64     `gorm:"column:seq;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
}

func (collectionItemModel) TableName() string { return "collection_items" }

func itemToModel(i domain.CollectionItem) collectionItemModel {
	return collectionItemModel{
		ID:           i.ID,
		CollectionID: i.CollectionID,
		EntityID:     i.EntityID,
		SortOrder:    i.SortOrder,
		Seq:          i.Seq,
		CreatedAt:    i.CreatedAt,
	}
}

func itemToDomain(m collectionItemModel) domain.CollectionItem {
	return domain.CollectionItem{
		ID:           m.ID,
		CollectionID: m.CollectionID,
		EntityID:     m.EntityID,
		SortOrder:    m.SortOrder,
		Seq:          m.Seq,
		CreatedAt:    m.CreatedAt,
	}
}

type dataBindingModel struct {
	ID            string         `gorm:"column:id;primaryKey"`
	StoreID       string         `gorm:"column:store_id;not null"`
	ComponentPath string         `gorm:"column:component_path;not null"`
	BindingKey    string         `gorm:"column:binding_key;not null"`
	SourceType    string         `gorm:"column:source_type;not null"`
	SourceRef     string         `gorm:"column:source_ref;not null"`
	BindingJSON   datatypes.JSON `gorm:"column:binding_json"`
	CreatedAt     time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt     time.Time      `gorm:"column:updated_at;not null"`
}

func (dataBindingModel) TableName() string { return "data_bindings" }

func bindingToModel(b domain.DataBinding) dataBindingModel {
	return dataBindingModel{
		ID:            b.ID,
		StoreID:       b.StoreID,
		ComponentPath: b.ComponentPath,
		BindingKey:    b.BindingKey,
		SourceType:    b.SourceType,
		SourceRef:     b.SourceRef,
		BindingJSON:   optionalJSON(b.Override),
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}

func bindingToDomain(m dataBindingModel) domain.DataBinding {
	return domain.DataBinding{
		ID:            m.ID,
		StoreID:       m.StoreID,
		ComponentPath: m.ComponentPath,
		BindingKey:    m.BindingKey,
		SourceType:    m.SourceType,
		SourceRef:     m.SourceRef,
		Override:      rawJSON(m.BindingJSON),
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

type snapshotModel struct {
	ID           string         `gorm:"column:id;primaryKey"`
	StoreID      string         `gorm:"column:store_id;not null"`
	Label        string         `gorm:"column:label;not null"`
	SnapshotJSON datatypes.JSON `gorm:"column:snapshot_json;not null"`
	CreatedAt    time.Time      `gorm:"column:created_at;not null"`
}

func (snapshotModel) TableName() string { return "snapshots" }

func snapshotToModel(s domain.Snapshot) snapshotModel {
	return snapshotModel{
		ID:           s.ID,
		StoreID:      s.StoreID,
		Label:        s.Label,
		SnapshotJSON: requiredJSON(s.Document),
		CreatedAt:    s.CreatedAt,
	}
}

func snapshotToDomain(m snapshotModel) domain.Snapshot {
	return domain.Snapshot{
		ID:        m.ID,
		StoreID:   m.StoreID,
		Label:     m.Label,
		Document:  rawJSON(m.SnapshotJSON),
		CreatedAt: m.CreatedAt,
	}
}

func requiredJSON(raw json.RawMessage) datatypes.JSON {
	if len(raw) == 0 {
		return datatypes.JSON(`{}`)
	}
	return datatypes.JSON(raw)
}

func optionalJSON(raw json.RawMessage) datatypes.JSON {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return datatypes.JSON(raw)
}

func rawJSON(j datatypes.JSON) json.RawMessage {
	if len(j) == 0 {
		return nil
	}
	return json.RawMessage(j)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
