package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/storefront/internal/core/domain"
	"github.com/atvirokodosprendimai/storefront/internal/core/ports"
)

// Snapshots captures and restores the mutable aggregate of a store: its
// settings, components, pages, bindings, entities and collections.
type Snapshots struct {
	store     ports.EntityStore
	contracts *ContractValidator
	revisions *Revisions
	composer  *Composer
}

func NewSnapshots(store ports.EntityStore, contracts *ContractValidator, revisions *Revisions, composer *Composer) *Snapshots {
	return &Snapshots{store: store, contracts: contracts, revisions: revisions, composer: composer}
}

func (s *Snapshots) Capture(ctx context.Context, storeID, label string, meta domain.MutationMetadata) (domain.Snapshot, error) {
	if err := domain.ValidateID("store", storeID); err != nil {
		return domain.Snapshot{}, err
	}
	var snap domain.Snapshot
	err := s.store.WriteTx(ctx, func(tx ports.Tx) error {
		st, err := requireStore(ctx, tx, storeID)
		if err != nil {
			return err
		}
		rows, err := loadStoreRows(ctx, tx, storeID)
		if err != nil {
			return err
		}
		ts := now()
		raw, err := json.Marshal(rows.document(st, ts))
		if err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		if snap, err = tx.Snapshots().Create(ctx, domain.Snapshot{
			ID:        newID(),
			StoreID:   storeID,
			Label:     strings.TrimSpace(label),
			Document:  raw,
			CreatedAt: ts,
		}); err != nil {
			return err
		}
		return recordStore(ctx, tx, domain.EventSnapshotCaptured, storeID, map[string]any{
			"snapshot_id": snap.ID,
			"label":       snap.Label,
			"components":  len(rows.components),
			"entities":    len(rows.entities),
		}, meta)
	})
	if err != nil {
		return domain.Snapshot{}, domain.WrapTx("capture snapshot", err)
	}
	return snap, nil
}

// Restore replaces the store's mutable state with the snapshot's. The store
// keeps its current theme version; only settings, title, locale and the owned
// rows come back. Components and pages the current contract does not declare
// fail the restore.
func (s *Snapshots) Restore(ctx context.Context, storeID, snapshotID string, meta domain.MutationMetadata) (domain.Store, error) {
	if err := domain.ValidateID("store", storeID); err != nil {
		return domain.Store{}, err
	}
	if err := domain.ValidateID("snapshot", snapshotID); err != nil {
		return domain.Store{}, err
	}
	var restored domain.Store
	err := s.store.WriteTx(ctx, func(tx ports.Tx) error {
		snap, err := tx.Snapshots().FindUnique(ctx, domain.Where{domain.Eq("id", snapshotID)})
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("%s: %w", snapshotID, domain.ErrSnapshotNotFound)
			}
			return err
		}
		if snap.StoreID != storeID {
			return fmt.Errorf("snapshot %s was taken of store %s: %w", snap.ID, snap.StoreID, domain.ErrStoreMismatch)
		}
		doc, err := domain.DecodeSnapshot(snap.Document)
		if err != nil {
			return err
		}
		if doc.StoreID != storeID {
			return fmt.Errorf("snapshot document names store %s: %w", doc.StoreID, domain.ErrStoreMismatch)
		}
		current, err := requireStore(ctx, tx, storeID)
		if err != nil {
			return err
		}
		version, err := tx.ThemeVersions().FindUnique(ctx, domain.Where{domain.Eq("id", current.ThemeVersionID)})
		if err != nil {
			return err
		}
		if err := s.contracts.ValidateSettings(version, objectOrEmpty(doc.Store.ThemeSettings)); err != nil {
			return err
		}
		contract, err := domain.DecodeContract(version.Contract)
		if err != nil {
			return err
		}
		for _, cs := range doc.Components {
			if !contract.AllowsComponent(cs.ComponentPath) {
				return fmt.Errorf("component %q is not declared by version %s: %w", cs.ComponentPath, version.Version, domain.ErrContractViolation)
			}
		}
		for _, p := range doc.Pages {
			if !contract.AllowsPage(p.Page) {
				return fmt.Errorf("page %q is not declared by version %s: %w", p.Page, version.Version, domain.ErrContractViolation)
			}
		}

		if err := clearStoreRows(ctx, tx, storeID); err != nil {
			return err
		}
		if err := rowsFromDocument(storeID, doc, now()).insert(ctx, tx); err != nil {
			return err
		}

		next := current
		next.Title = doc.Store.Title
		next.DefaultLocale = doc.Store.DefaultLocale
		next.DefaultCurrency = doc.Store.DefaultCurrency
		next.ActivePage = doc.Store.ActivePage
		next.Viewport = doc.Store.Viewport
		next.Settings = doc.Store.Settings
		next.ThemeSettings = doc.Store.ThemeSettings
		next.Branding = doc.Store.Branding
		if restored, err = tx.Stores().Update(ctx, domain.Where{domain.Eq("id", storeID)}, storeColumns(next)); err != nil {
			return err
		}
		if _, err := syncState(ctx, tx, restored); err != nil {
			return err
		}
		return recordStore(ctx, tx, domain.EventSnapshotRestored, storeID, map[string]any{"snapshot_id": snap.ID, "captured_at": doc.CapturedAt}, meta)
	})
	if err != nil {
		return domain.Store{}, domain.WrapTx("restore snapshot", err)
	}
	s.revisions.Bump(storeID)
	s.composer.forgetStore(storeID)
	return restored, nil
}

func (s *Snapshots) GetSnapshot(ctx context.Context, snapshotID string) (domain.Snapshot, error) {
	if err := domain.ValidateID("snapshot", snapshotID); err != nil {
		return domain.Snapshot{}, err
	}
	var snap domain.Snapshot
	err := s.store.ReadTx(ctx, func(tx ports.Tx) error {
		var err error
		snap, err = tx.Snapshots().FindUnique(ctx, domain.Where{domain.Eq("id", snapshotID)})
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%s: %w", snapshotID, domain.ErrSnapshotNotFound)
		}
		return err
	})
	return snap, err
}

// ListSnapshots returns a store's snapshots, newest first.
func (s *Snapshots) ListSnapshots(ctx context.Context, storeID string) ([]domain.Snapshot, error) {
	if err := domain.ValidateID("store", storeID); err != nil {
		return nil, err
	}
	var out []domain.Snapshot
	err := s.store.ReadTx(ctx, func(tx ports.Tx) error {
		var err error
		out, err = tx.Snapshots().FindMany(ctx, domain.Query{
			Where:   domain.Where{domain.Eq("store_id", storeID)},
			OrderBy: []domain.Order{domain.Desc("created_at"), domain.Desc("id")},
		})
		return err
	})
	return out, err
}

// storeRows are the rows a store owns besides itself and its state.
type storeRows struct {
	components  []domain.ComponentState
	pages       []domain.PageComposition
	bindings    []domain.DataBinding
	entities    []domain.DataEntity
	collections []domain.Collection
	items       []domain.CollectionItem
}

func loadStoreRows(ctx context.Context, tx ports.Tx, storeID string) (storeRows, error) {
	var (
		rows storeRows
		err  error
	)
	byStore := domain.Where{domain.Eq("store_id", storeID)}
	if rows.components, err = tx.ComponentStates().FindMany(ctx, domain.Query{
		Where:   byStore,
		OrderBy: []domain.Order{domain.Asc("component_path"), domain.Asc("instance_order")},
	}); err != nil {
		return storeRows{}, err
	}
	if rows.pages, err = tx.PageCompositions().FindMany(ctx, domain.Query{Where: byStore, OrderBy: []domain.Order{domain.Asc("page")}}); err != nil {
		return storeRows{}, err
	}
	if rows.bindings, err = tx.DataBindings().FindMany(ctx, domain.Query{
		Where:   byStore,
		OrderBy: []domain.Order{domain.Asc("component_path"), domain.Asc("binding_key")},
	}); err != nil {
		return storeRows{}, err
	}
	if rows.entities, err = tx.DataEntities().FindMany(ctx, domain.Query{Where: byStore, OrderBy: []domain.Order{domain.Asc("created_at"), domain.Asc("id")}}); err != nil {
		return storeRows{}, err
	}
	if rows.collections, err = tx.Collections().FindMany(ctx, domain.Query{Where: byStore, OrderBy: []domain.Order{domain.Asc("created_at"), domain.Asc("id")}}); err != nil {
		return storeRows{}, err
	}
	if len(rows.collections) == 0 {
		return rows, nil
	}
	ids := make([]any, 0, len(rows.collections))
	for _, c := range rows.collections {
		ids = append(ids, c.ID)
	}
	if rows.items, err = tx.CollectionItems().FindMany(ctx, domain.Query{
		Where:   domain.Where{domain.In("collection_id", ids...)},
		OrderBy: []domain.Order{domain.Asc("collection_id"), domain.Asc("sort_order"), domain.Asc("seq")},
	}); err != nil {
		return storeRows{}, err
	}
	return rows, nil
}

// clearStoreRows deletes every row loadStoreRows returns. Items go with
// their collections.
func clearStoreRows(ctx context.Context, tx ports.Tx, storeID string) error {
	byStore := domain.Where{domain.Eq("store_id", storeID)}
	if _, err := tx.DataBindings().DeleteMany(ctx, byStore); err != nil {
		return err
	}
	if _, err := tx.PageCompositions().DeleteMany(ctx, byStore); err != nil {
		return err
	}
	if _, err := tx.ComponentStates().DeleteMany(ctx, byStore); err != nil {
		return err
	}
	if _, err := tx.Collections().DeleteMany(ctx, byStore); err != nil {
		return err
	}
	_, err := tx.DataEntities().DeleteMany(ctx, byStore)
	return err
}

// insert writes rows in foreign key order.
func (r storeRows) insert(ctx context.Context, tx ports.Tx) error {
	if err := tx.DataEntities().CreateMany(ctx, r.entities); err != nil {
		return err
	}
	if err := tx.Collections().CreateMany(ctx, r.collections); err != nil {
		return err
	}
	if err := tx.CollectionItems().CreateMany(ctx, r.items); err != nil {
		return err
	}
	if err := tx.ComponentStates().CreateMany(ctx, r.components); err != nil {
		return err
	}
	if err := tx.PageCompositions().CreateMany(ctx, r.pages); err != nil {
		return err
	}
	return tx.DataBindings().CreateMany(ctx, r.bindings)
}

// remap copies the rows onto storeID under fresh ids. Entity and collection
// references in items and bindings follow their copies; a binding whose
// source was already missing keeps its reference and stays dangling.
func (r storeRows) remap(storeID string, ts time.Time) storeRows {
	ids := make(map[string]string, len(r.entities)+len(r.collections))
	out := storeRows{
		components:  make([]domain.ComponentState, 0, len(r.components)),
		pages:       make([]domain.PageComposition, 0, len(r.pages)),
		bindings:    make([]domain.DataBinding, 0, len(r.bindings)),
		entities:    make([]domain.DataEntity, 0, len(r.entities)),
		collections: make([]domain.Collection, 0, len(r.collections)),
		items:       make([]domain.CollectionItem, 0, len(r.items)),
	}
	for _, e := range r.entities {
		ids[e.ID] = newID()
		e.ID, e.StoreID, e.CreatedAt, e.UpdatedAt = ids[e.ID], storeID, ts, ts
		out.entities = append(out.entities, e)
	}
	for _, c := range r.collections {
		ids[c.ID] = newID()
		c.ID, c.StoreID, c.CreatedAt, c.UpdatedAt = ids[c.ID], storeID, ts, ts
		out.collections = append(out.collections, c)
	}
	for _, it := range r.items {
		it.ID = newID()
		it.CollectionID = ids[it.CollectionID]
		it.EntityID = ids[it.EntityID]
		it.CreatedAt = ts
		out.items = append(out.items, it)
	}
	for _, cs := range r.components {
		cs.ID, cs.StoreID, cs.CreatedAt, cs.UpdatedAt = newID(), storeID, ts, ts
		out.components = append(out.components, cs)
	}
	for _, p := range r.pages {
		p.ID, p.StoreID, p.CreatedAt, p.UpdatedAt = newID(), storeID, ts, ts
		out.pages = append(out.pages, p)
	}
	for _, b := range r.bindings {
		b.ID, b.StoreID, b.CreatedAt, b.UpdatedAt = newID(), storeID, ts, ts
		if ref, ok := ids[b.SourceRef]; ok && b.SourceType != domain.BindLiteral {
			b.SourceRef = ref
		}
		out.bindings = append(out.bindings, b)
	}
	return out
}

func (r storeRows) document(st domain.Store, ts time.Time) domain.SnapshotDocument {
	doc := domain.SnapshotDocument{
		Format:     domain.CurrentSnapshotFormat,
		StoreID:    st.ID,
		CapturedAt: ts,
		Store: domain.SnapshotStore{
			ThemeID:         st.ThemeID,
			ThemeVersionID:  st.ThemeVersionID,
			Title:           st.Title,
			DefaultLocale:   st.DefaultLocale,
			DefaultCurrency: st.DefaultCurrency,
			ActivePage:      st.ActivePage,
			Viewport:        st.Viewport,
			Settings:        st.Settings,
			ThemeSettings:   st.ThemeSettings,
			Branding:        st.Branding,
		},
		Components:  make([]domain.SnapshotComponent, 0, len(r.components)),
		Pages:       make([]domain.SnapshotPage, 0, len(r.pages)),
		Bindings:    make([]domain.SnapshotBinding, 0, len(r.bindings)),
		Entities:    make([]domain.SnapshotEntity, 0, len(r.entities)),
		Collections: make([]domain.SnapshotCollection, 0, len(r.collections)),
	}
	for _, cs := range r.components {
		doc.Components = append(doc.Components, domain.SnapshotComponent{
			ID:            cs.ID,
			ComponentPath: cs.ComponentPath,
			InstanceOrder: cs.InstanceOrder,
			ComponentKey:  cs.ComponentKey,
			Settings:      cs.Settings,
			Visibility:    cs.Visibility,
		})
	}
	for _, p := range r.pages {
		doc.Pages = append(doc.Pages, domain.SnapshotPage{ID: p.ID, Page: p.Page, Composition: p.Composition})
	}
	for _, b := range r.bindings {
		doc.Bindings = append(doc.Bindings, domain.SnapshotBinding{
			ID:            b.ID,
			ComponentPath: b.ComponentPath,
			BindingKey:    b.BindingKey,
			SourceType:    b.SourceType,
			SourceRef:     b.SourceRef,
			Override:      b.Override,
		})
	}
	for _, e := range r.entities {
		doc.Entities = append(doc.Entities, domain.SnapshotEntity{ID: e.ID, EntityType: e.EntityType, EntityKey: e.EntityKey, Payload: e.Payload})
	}
	items := make(map[string][]domain.SnapshotItem, len(r.collections))
	for _, it := range r.items {
		items[it.CollectionID] = append(items[it.CollectionID], domain.SnapshotItem{ID: it.ID, EntityID: it.EntityID, SortOrder: it.SortOrder, Seq: it.Seq})
	}
	for _, c := range r.collections {
		sc := domain.SnapshotCollection{ID: c.ID, Name: c.Name, Source: c.Source, Rules: c.Rules, Items: items[c.ID]}
		if sc.Items == nil {
			sc.Items = []domain.SnapshotItem{}
		}
		doc.Collections = append(doc.Collections, sc)
	}
	return doc
}

// rowsFromDocument rebuilds the rows of doc under their captured ids.
func rowsFromDocument(storeID string, doc domain.SnapshotDocument, ts time.Time) storeRows {
	var r storeRows
	for _, e := range doc.Entities {
		r.entities = append(r.entities, domain.DataEntity{
			ID: e.ID, StoreID: storeID, EntityType: e.EntityType, EntityKey: e.EntityKey, Payload: e.Payload,
			CreatedAt: ts, UpdatedAt: ts,
		})
	}
	for _, c := range doc.Collections {
		r.collections = append(r.collections, domain.Collection{
			ID: c.ID, StoreID: storeID, Name: c.Name, Source: c.Source, Rules: c.Rules,
			CreatedAt: ts, UpdatedAt: ts,
		})
		for _, it := range c.Items {
			r.items = append(r.items, domain.CollectionItem{
				ID: it.ID, CollectionID: c.ID, EntityID: it.EntityID, SortOrder: it.SortOrder, Seq: it.Seq,
				CreatedAt: ts,
			})
		}
	}
	for _, cs := range doc.Components {
		r.components = append(r.components, domain.ComponentState{
			ID: cs.ID, StoreID: storeID, ComponentPath: cs.ComponentPath, InstanceOrder: cs.InstanceOrder,
			ComponentKey: cs.ComponentKey, Settings: cs.Settings, Visibility: cs.Visibility,
			CreatedAt: ts, UpdatedAt: ts,
		})
	}
	for _, p := range doc.Pages {
		r.pages = append(r.pages, domain.PageComposition{
			ID: p.ID, StoreID: storeID, Page: p.Page, Composition: p.Composition,
			CreatedAt: ts, UpdatedAt: ts,
		})
	}
	for _, b := range doc.Bindings {
		r.bindings = append(r.bindings, domain.DataBinding{
			ID: b.ID, StoreID: storeID, ComponentPath: b.ComponentPath, BindingKey: b.BindingKey,
			SourceType: b.SourceType, SourceRef: b.SourceRef, Override: b.Override,
			CreatedAt: ts, UpdatedAt: ts,
		})
	}
	return r
}
