package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/atvirokodosprendimai/storefront/internal/core/domain"
	"github.com/atvirokodosprendimai/storefront/internal/core/ports"
)

// StoreService owns stores and keeps each StoreState in step with its Store.
// Every write that touches a Store rewrites the StoreState in the same
// transaction; nothing else writes StoreState.
type StoreService struct {
	store     ports.EntityStore
	contracts *ContractValidator
	revisions *Revisions
	composer  *Composer
}

func NewStoreService(store ports.EntityStore, contracts *ContractValidator, revisions *Revisions, composer *Composer) *StoreService {
	return &StoreService{store: store, contracts: contracts, revisions: revisions, composer: composer}
}

// CreateStoreRequest carries the inputs of CreateStore. The theme is derived
// from the version.
type CreateStoreRequest struct {
	ThemeVersionID  string
	Title           string
	DefaultLocale   string
	DefaultCurrency string
	ActivePage      string
	Viewport        string
	Settings        json.RawMessage
	ThemeSettings   json.RawMessage
	Branding        json.RawMessage
}

func (s *StoreService) CreateStore(ctx context.Context, req CreateStoreRequest, meta domain.MutationMetadata) (domain.Store, error) {
	ts := now()
	st := domain.Store{
		ID:              newID(),
		ThemeVersionID:  req.ThemeVersionID,
		Title:           strings.TrimSpace(req.Title),
		DefaultLocale:   req.DefaultLocale,
		DefaultCurrency: req.DefaultCurrency,
		ActivePage:      req.ActivePage,
		Viewport:        req.Viewport,
		Settings:        objectOrEmpty(req.Settings),
		ThemeSettings:   objectOrEmpty(req.ThemeSettings),
		Branding:        objectOrEmpty(req.Branding),
		IsMaster:        true,
		CreatedAt:       ts,
		UpdatedAt:       ts,
	}
	if err := st.Validate(); err != nil {
		return domain.Store{}, err
	}

	err := s.store.WriteTx(ctx, func(tx ports.Tx) error {
		version, err := tx.ThemeVersions().FindUnique(ctx, domain.Where{domain.Eq("id", st.ThemeVersionID)})
		if err != nil {
			return err
		}
		st.ThemeID = version.ThemeID
		if err := s.contracts.ValidateSettings(version, st.ThemeSettings); err != nil {
			return err
		}
		if st, err = tx.Stores().Create(ctx, st); err != nil {
			return err
		}
		if _, err := syncState(ctx, tx, st); err != nil {
			return err
		}
		return recordStore(ctx, tx, domain.EventStoreCreated, st.ID, map[string]any{"theme_id": st.ThemeID, "theme_version_id": st.ThemeVersionID, "title": st.Title}, meta)
	})
	if err != nil {
		return domain.Store{}, domain.WrapTx("create store", err)
	}
	s.revisions.Bump(st.ID)
	return st, nil
}

// UpdateStore applies patch to the store's scalar and settings fields.
func (s *StoreService) UpdateStore(ctx context.Context, storeID string, patch domain.StorePatch, meta domain.MutationMetadata) (domain.Store, error) {
	if err := domain.ValidateID("store", storeID); err != nil {
		return domain.Store{}, err
	}
	var updated domain.Store
	err := s.store.WriteTx(ctx, func(tx ports.Tx) error {
		current, err := requireStore(ctx, tx, storeID)
		if err != nil {
			return err
		}
		next := patch.Apply(current)
		next.Title = strings.TrimSpace(next.Title)
		if err := next.Validate(); err != nil {
			return err
		}
		if patch.ThemeSettings != nil {
			version, err := tx.ThemeVersions().FindUnique(ctx, domain.Where{domain.Eq("id", next.ThemeVersionID)})
			if err != nil {
				return err
			}
			if err := s.contracts.ValidateSettings(version, next.ThemeSettings); err != nil {
				return err
			}
		}
		if updated, err = tx.Stores().Update(ctx, domain.Where{domain.Eq("id", storeID)}, storeColumns(next)); err != nil {
			return err
		}
		if _, err := syncState(ctx, tx, updated); err != nil {
			return err
		}
		return recordStore(ctx, tx, domain.EventStoreUpdated, storeID, map[string]any{"title": updated.Title, "active_page": updated.ActivePage, "viewport": updated.Viewport}, meta)
	})
	if err != nil {
		return domain.Store{}, domain.WrapTx("update store", err)
	}
	s.revisions.Bump(storeID)
	return updated, nil
}

// BindToVersion moves a store to another version of its own theme. The
// store's theme settings, component instances and saved pages must satisfy
// the new contract.
func (s *StoreService) BindToVersion(ctx context.Context, storeID, themeVersionID string, meta domain.MutationMetadata) (domain.Store, error) {
	if err := domain.ValidateID("store", storeID); err != nil {
		return domain.Store{}, err
	}
	if err := domain.ValidateID("theme version", themeVersionID); err != nil {
		return domain.Store{}, err
	}
	var bound domain.Store
	err := s.store.WriteTx(ctx, func(tx ports.Tx) error {
		current, err := requireStore(ctx, tx, storeID)
		if err != nil {
			return err
		}
		version, err := tx.ThemeVersions().FindUnique(ctx, domain.Where{domain.Eq("id", themeVersionID)})
		if err != nil {
			return err
		}
		if version.ThemeID != current.ThemeID {
			return fmt.Errorf("version %s belongs to theme %s, store %s uses theme %s: %w",
				version.ID, version.ThemeID, storeID, current.ThemeID, domain.ErrIncompatibleVersion)
		}
		if err := s.contracts.ValidateSettings(version, current.ThemeSettings); err != nil {
			return err
		}
		contract, err := domain.DecodeContract(version.Contract)
		if err != nil {
			return err
		}
		components, err := tx.ComponentStates().FindMany(ctx, domain.Query{Where: domain.Where{domain.Eq("store_id", storeID)}})
		if err != nil {
			return err
		}
		for _, cs := range components {
			if !contract.AllowsComponent(cs.ComponentPath) {
				return fmt.Errorf("component %q is not declared by version %s: %w", cs.ComponentPath, version.Version, domain.ErrContractViolation)
			}
		}
		pages, err := tx.PageCompositions().FindMany(ctx, domain.Query{Where: domain.Where{domain.Eq("store_id", storeID)}})
		if err != nil {
			return err
		}
		for _, pc := range pages {
			if !contract.AllowsPage(pc.Page) {
				return fmt.Errorf("page %q is not declared by version %s: %w", pc.Page, version.Version, domain.ErrContractViolation)
			}
		}

		if bound, err = tx.Stores().Update(ctx, domain.Where{domain.Eq("id", storeID)}, map[string]any{
			"theme_version_id": version.ID,
			"updated_at":       now(),
		}); err != nil {
			return err
		}
		if _, err := syncState(ctx, tx, bound); err != nil {
			return err
		}
		return recordStore(ctx, tx, domain.EventStoreVersionBound, storeID, map[string]any{"from_version_id": current.ThemeVersionID, "to_version_id": version.ID, "version": version.Version}, meta)
	})
	if err != nil {
		return domain.Store{}, domain.WrapTx("bind store to version", err)
	}
	s.revisions.Bump(storeID)
	return bound, nil
}

// CloneStore deep-copies a store into a new, independent store whose parent
// is the master. Rows get fresh ids and binding and membership references
// are remapped onto the copies.
func (s *StoreService) CloneStore(ctx context.Context, masterStoreID, title string, meta domain.MutationMetadata) (domain.Store, error) {
	if err := domain.ValidateID("store", masterStoreID); err != nil {
		return domain.Store{}, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Store{}, fmt.Errorf("store title is required: %w", domain.ErrInvalidInput)
	}

	var clone domain.Store
	err := s.store.WriteTx(ctx, func(tx ports.Tx) error {
		master, err := requireStore(ctx, tx, masterStoreID)
		if err != nil {
			return err
		}
		rows, err := loadStoreRows(ctx, tx, master.ID)
		if err != nil {
			return err
		}

		ts := now()
		clone = master
		clone.ID = newID()
		clone.Title = title
		clone.IsMaster = false
		clone.ParentStoreID = master.ID
		clone.CreatedAt, clone.UpdatedAt = ts, ts
		if clone, err = tx.Stores().Create(ctx, clone); err != nil {
			return err
		}
		if _, err := syncState(ctx, tx, clone); err != nil {
			return err
		}

		if err := rows.remap(clone.ID, ts).insert(ctx, tx); err != nil {
			return err
		}
		if err := recordStore(ctx, tx, domain.EventStoreCloned, clone.ID, map[string]any{"parent_store_id": master.ID, "title": clone.Title}, meta); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return domain.Store{}, domain.WrapTx("clone store", err)
	}
	s.revisions.Bump(clone.ID)
	return clone, nil
}

func (s *StoreService) GetStore(ctx context.Context, storeID string) (domain.Store, error) {
	if err := domain.ValidateID("store", storeID); err != nil {
		return domain.Store{}, err
	}
	var st domain.Store
	err := s.store.ReadTx(ctx, func(tx ports.Tx) error {
		var err error
		st, err = requireStore(ctx, tx, storeID)
		return err
	})
	return st, err
}

func (s *StoreService) GetStoreState(ctx context.Context, storeID string) (domain.StoreState, error) {
	if err := domain.ValidateID("store", storeID); err != nil {
		return domain.StoreState{}, err
	}
	var state domain.StoreState
	err := s.store.ReadTx(ctx, func(tx ports.Tx) error {
		var err error
		state, err = tx.StoreStates().FindUnique(ctx, domain.Where{domain.Eq("store_id", storeID)})
		return err
	})
	return state, err
}

// ListStores lists stores, optionally only the clones of one master.
func (s *StoreService) ListStores(ctx context.Context, parentStoreID string) ([]domain.Store, error) {
	var where domain.Where
	if parentStoreID != "" {
		where = domain.Where{domain.Eq("parent_store_id", parentStoreID)}
	}
	var out []domain.Store
	err := s.store.ReadTx(ctx, func(tx ports.Tx) error {
		var err error
		out, err = tx.Stores().FindMany(ctx, domain.Query{Where: where, OrderBy: []domain.Order{domain.Asc("created_at"), domain.Asc("id")}})
		return err
	})
	return out, err
}

// DeleteStore removes a store with everything it owns. Clones of the store
// survive and lose their parent link.
func (s *StoreService) DeleteStore(ctx context.Context, storeID string, meta domain.MutationMetadata) error {
	if err := domain.ValidateID("store", storeID); err != nil {
		return err
	}
	err := s.store.WriteTx(ctx, func(tx ports.Tx) error {
		removed, err := tx.Stores().Delete(ctx, domain.Where{domain.Eq("id", storeID)})
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("store %s: %w", storeID, domain.ErrNotFound)
		}
		return recordStore(ctx, tx, domain.EventStoreDeleted, storeID, map[string]any{}, meta)
	})
	if err != nil {
		return domain.WrapTx("delete store", err)
	}
	s.composer.forgetStore(storeID)
	s.revisions.Forget(storeID)
	return nil
}

// syncState rewrites the StoreState of st from st itself and advances its
// revision.
func syncState(ctx context.Context, tx ports.Tx, st domain.Store) (domain.StoreState, error) {
	var prev int64
	current, err := tx.StoreStates().FindUnique(ctx, domain.Where{domain.Eq("store_id", st.ID)})
	switch {
	case err == nil:
		prev = current.Revision
	case !errors.Is(err, domain.ErrNotFound):
		return domain.StoreState{}, err
	}
	state := domain.ProjectState(st, prev)
	state.UpdatedAt = now()
	return tx.StoreStates().Upsert(ctx, state, []string{"store_id"}, []string{
		"theme_id", "theme_version_id", "active_page", "viewport",
		"settings_json", "theme_settings_json", "branding_json", "revision", "updated_at",
	})
}

func storeColumns(st domain.Store) map[string]any {
	return map[string]any{
		"title":               st.Title,
		"default_locale":      st.DefaultLocale,
		"default_currency":    st.DefaultCurrency,
		"active_page":         st.ActivePage,
		"viewport":            st.Viewport,
		"settings_json":       objectOrEmpty(st.Settings),
		"theme_settings_json": objectOrEmpty(st.ThemeSettings),
		"branding_json":       objectOrEmpty(st.Branding),
		"updated_at":          now(),
	}
}

func recordStore(ctx context.Context, tx ports.Tx, eventType, storeID string, payload map[string]any, meta domain.MutationMetadata) error {
	return tx.Record(ctx, domain.Change{
		EventType:     eventType,
		AggregateType: domain.AggregateStore,
		AggregateID:   storeID,
		Payload:       payload,
	}, meta)
}
