package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/atvirokodosprendimai/storefront/internal/core/domain"
	"github.com/atvirokodosprendimai/storefront/internal/core/ports"
)

// Fabric owns data entities, collections and collection membership.
type Fabric struct {
	store     ports.EntityStore
	revisions *Revisions
	preds     *predicates
}

func NewFabric(store ports.EntityStore, revisions *Revisions) *Fabric {
	return &Fabric{store: store, revisions: revisions, preds: &predicates{}}
}

// UpsertEntity replaces the payload of a keyed entity or creates it. Entities
// without a key are always created.
func (f *Fabric) UpsertEntity(ctx context.Context, e domain.DataEntity, meta domain.MutationMetadata) (domain.DataEntity, error) {
	if err := e.Validate(); err != nil {
		return domain.DataEntity{}, err
	}
	ts := now()
	e.ID = newID()
	e.CreatedAt, e.UpdatedAt = ts, ts

	var stored domain.DataEntity
	err := f.store.WriteTx(ctx, func(tx ports.Tx) error {
		if _, err := requireStore(ctx, tx, e.StoreID); err != nil {
			return err
		}
		var err error
		if e.Keyed() {
			stored, err = tx.DataEntities().Upsert(ctx, e,
				[]string{"store_id", "entity_type", "entity_key"},
				[]string{"payload_json", "updated_at"})
		} else {
			stored, err = tx.DataEntities().Create(ctx, e)
		}
		if err != nil {
			return err
		}
		return recordData(ctx, tx, stored.StoreID, "entity.upserted", map[string]any{"entity_id": stored.ID, "entity_type": stored.EntityType, "entity_key": stored.EntityKey}, meta)
	})
	if err != nil {
		return domain.DataEntity{}, err
	}
	f.revisions.Bump(stored.StoreID)
	return stored, nil
}

// DeleteEntity removes an entity together with its collection memberships.
func (f *Fabric) DeleteEntity(ctx context.Context, id string, meta domain.MutationMetadata) error {
	if err := domain.ValidateID("entity", id); err != nil {
		return err
	}
	var storeID string
	err := f.store.WriteTx(ctx, func(tx ports.Tx) error {
		e, err := tx.DataEntities().FindUnique(ctx, domain.Where{domain.Eq("id", id)})
		if err != nil {
			return err
		}
		storeID = e.StoreID
		if _, err := tx.DataEntities().Delete(ctx, domain.Where{domain.Eq("id", id)}); err != nil {
			return err
		}
		return recordData(ctx, tx, storeID, "entity.deleted", map[string]any{"entity_id": id}, meta)
	})
	if err != nil {
		return err
	}
	f.revisions.Bump(storeID)
	return nil
}

func (f *Fabric) GetEntity(ctx context.Context, id string) (domain.DataEntity, error) {
	if err := domain.ValidateID("entity", id); err != nil {
		return domain.DataEntity{}, err
	}
	var e domain.DataEntity
	err := f.store.ReadTx(ctx, func(tx ports.Tx) error {
		var err error
		e, err = tx.DataEntities().FindUnique(ctx, domain.Where{domain.Eq("id", id)})
		return err
	})
	return e, err
}

// ListEntities lists a store's entities, optionally narrowed to one type.
func (f *Fabric) ListEntities(ctx context.Context, storeID, entityType string) ([]domain.DataEntity, error) {
	if err := domain.ValidateID("store", storeID); err != nil {
		return nil, err
	}
	where := domain.Where{domain.Eq("store_id", storeID)}
	if entityType != "" {
		where = append(where, domain.Eq("entity_type", entityType))
	}
	var out []domain.DataEntity
	err := f.store.ReadTx(ctx, func(tx ports.Tx) error {
		var err error
		out, err = tx.DataEntities().FindMany(ctx, domain.Query{Where: where, OrderBy: []domain.Order{domain.Asc("created_at"), domain.Asc("id")}})
		return err
	})
	return out, err
}

// EntityStats counts a store's entities per entity type.
func (f *Fabric) EntityStats(ctx context.Context, storeID string) ([]domain.EntityTypeCount, error) {
	if err := domain.ValidateID("store", storeID); err != nil {
		return nil, err
	}
	var groups []domain.Group
	err := f.store.ReadTx(ctx, func(tx ports.Tx) error {
		if _, err := requireStore(ctx, tx, storeID); err != nil {
			return err
		}
		var err error
		groups, err = tx.DataEntities().GroupBy(ctx, []string{"entity_type"}, domain.Where{domain.Eq("store_id", storeID)})
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.EntityTypeCount, 0, len(groups))
	for _, g := range groups {
		typ, _ := g.Keys["entity_type"].(string)
		out = append(out, domain.EntityTypeCount{EntityType: typ, Count: g.Count})
	}
	return out, nil
}

func (f *Fabric) DefineCollection(ctx context.Context, c domain.Collection, meta domain.MutationMetadata) (domain.Collection, error) {
	if err := c.Validate(); err != nil {
		return domain.Collection{}, err
	}
	if rules, _ := domain.DecodeRules(c.Rules); rules.Filter != "" {
		if _, err := f.preds.compile(rules.Filter); err != nil {
			return domain.Collection{}, err
		}
	}
	ts := now()
	c.ID = newID()
	c.CreatedAt, c.UpdatedAt = ts, ts

	var created domain.Collection
	err := f.store.WriteTx(ctx, func(tx ports.Tx) error {
		if _, err := requireStore(ctx, tx, c.StoreID); err != nil {
			return err
		}
		var err error
		if created, err = tx.Collections().Create(ctx, c); err != nil {
			return err
		}
		return recordData(ctx, tx, c.StoreID, "collection.defined", map[string]any{"collection_id": created.ID, "name": created.Name, "source": created.Source}, meta)
	})
	if err != nil {
		return domain.Collection{}, err
	}
	f.revisions.Bump(created.StoreID)
	return created, nil
}

func (f *Fabric) DeleteCollection(ctx context.Context, id string, meta domain.MutationMetadata) error {
	if err := domain.ValidateID("collection", id); err != nil {
		return err
	}
	var storeID string
	err := f.store.WriteTx(ctx, func(tx ports.Tx) error {
		c, err := tx.Collections().FindUnique(ctx, domain.Where{domain.Eq("id", id)})
		if err != nil {
			return err
		}
		storeID = c.StoreID
		if _, err := tx.Collections().Delete(ctx, domain.Where{domain.Eq("id", id)}); err != nil {
			return err
		}
		return recordData(ctx, tx, storeID, "collection.deleted", map[string]any{"collection_id": id}, meta)
	})
	if err != nil {
		return err
	}
	f.revisions.Bump(storeID)
	return nil
}

func (f *Fabric) GetCollection(ctx context.Context, id string) (domain.Collection, error) {
	if err := domain.ValidateID("collection", id); err != nil {
		return domain.Collection{}, err
	}
	var c domain.Collection
	err := f.store.ReadTx(ctx, func(tx ports.Tx) error {
		var err error
		c, err = tx.Collections().FindUnique(ctx, domain.Where{domain.Eq("id", id)})
		return err
	})
	return c, err
}

func (f *Fabric) ListCollections(ctx context.Context, storeID string) ([]domain.Collection, error) {
	if err := domain.ValidateID("store", storeID); err != nil {
		return nil, err
	}
	var out []domain.Collection
	err := f.store.ReadTx(ctx, func(tx ports.Tx) error {
		var err error
		out, err = tx.Collections().FindMany(ctx, domain.Query{
			Where:   domain.Where{domain.Eq("store_id", storeID)},
			OrderBy: []domain.Order{domain.Asc("name"), domain.Asc("id")},
		})
		return err
	})
	return out, err
}

// AddToCollection appends an entity to a manual collection. Entities and
// collections must belong to the same store.
func (f *Fabric) AddToCollection(ctx context.Context, collectionID, entityID string, sortOrder int, meta domain.MutationMetadata) (domain.CollectionItem, error) {
	if err := domain.ValidateID("collection", collectionID); err != nil {
		return domain.CollectionItem{}, err
	}
	if err := domain.ValidateID("entity", entityID); err != nil {
		return domain.CollectionItem{}, err
	}

	var item domain.CollectionItem
	var storeID string
	err := f.store.WriteTx(ctx, func(tx ports.Tx) error {
		c, err := tx.Collections().FindUnique(ctx, domain.Where{domain.Eq("id", collectionID)})
		if err != nil {
			return err
		}
		if c.Source != domain.SourceManual {
			return fmt.Errorf("collection %s derives its members from rules: %w", collectionID, domain.ErrInvalidInput)
		}
		e, err := tx.DataEntities().FindUnique(ctx, domain.Where{domain.Eq("id", entityID)})
		if err != nil {
			return err
		}
		if e.StoreID != c.StoreID {
			return fmt.Errorf("entity %s belongs to another store than collection %s: %w", entityID, collectionID, domain.ErrIntegrityViolation)
		}
		storeID = c.StoreID

		member := domain.Where{domain.Eq("collection_id", collectionID), domain.Eq("entity_id", entityID)}
		n, err := tx.CollectionItems().Count(ctx, member)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("entity %s in collection %s: %w", entityID, collectionID, domain.ErrDuplicateMembership)
		}
		agg, err := tx.CollectionItems().Aggregate(ctx, "seq", domain.Where{domain.Eq("collection_id", collectionID)})
		if err != nil {
			return err
		}

		item, err = tx.CollectionItems().Create(ctx, domain.CollectionItem{
			ID:           newID(),
			CollectionID: collectionID,
			EntityID:     entityID,
			SortOrder:    sortOrder,
			Seq:          int64(agg.Max) + 1,
			CreatedAt:    now(),
		})
		if err != nil {
			if errors.Is(err, domain.ErrDuplicateKey) {
				return fmt.Errorf("entity %s in collection %s: %w", entityID, collectionID, domain.ErrDuplicateMembership)
			}
			return err
		}
		return recordData(ctx, tx, storeID, "collection.item_added", map[string]any{"collection_id": collectionID, "entity_id": entityID, "sort_order": sortOrder}, meta)
	})
	if err != nil {
		return domain.CollectionItem{}, err
	}
	f.revisions.Bump(storeID)
	return item, nil
}

// Reorder moves a member to newSortOrder. Membership never changes and
// repeating the call is a no-op.
func (f *Fabric) Reorder(ctx context.Context, collectionID, entityID string, newSortOrder int, meta domain.MutationMetadata) (domain.CollectionItem, error) {
	if err := domain.ValidateID("collection", collectionID); err != nil {
		return domain.CollectionItem{}, err
	}
	if err := domain.ValidateID("entity", entityID); err != nil {
		return domain.CollectionItem{}, err
	}

	var item domain.CollectionItem
	var storeID string
	err := f.store.WriteTx(ctx, func(tx ports.Tx) error {
		c, err := tx.Collections().FindUnique(ctx, domain.Where{domain.Eq("id", collectionID)})
		if err != nil {
			return err
		}
		storeID = c.StoreID
		item, err = tx.CollectionItems().Update(ctx,
			domain.Where{domain.Eq("collection_id", collectionID), domain.Eq("entity_id", entityID)},
			map[string]any{"sort_order": newSortOrder})
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("entity %s is not a member of collection %s: %w", entityID, collectionID, domain.ErrNotFound)
			}
			return err
		}
		return recordData(ctx, tx, storeID, "collection.item_reordered", map[string]any{"collection_id": collectionID, "entity_id": entityID, "sort_order": newSortOrder}, meta)
	})
	if err != nil {
		return domain.CollectionItem{}, err
	}
	f.revisions.Bump(storeID)
	return item, nil
}

func (f *Fabric) RemoveFromCollection(ctx context.Context, collectionID, entityID string, meta domain.MutationMetadata) error {
	if err := domain.ValidateID("collection", collectionID); err != nil {
		return err
	}
	if err := domain.ValidateID("entity", entityID); err != nil {
		return err
	}
	var storeID string
	err := f.store.WriteTx(ctx, func(tx ports.Tx) error {
		c, err := tx.Collections().FindUnique(ctx, domain.Where{domain.Eq("id", collectionID)})
		if err != nil {
			return err
		}
		storeID = c.StoreID
		removed, err := tx.CollectionItems().Delete(ctx, domain.Where{domain.Eq("collection_id", collectionID), domain.Eq("entity_id", entityID)})
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("entity %s is not a member of collection %s: %w", entityID, collectionID, domain.ErrNotFound)
		}
		return recordData(ctx, tx, storeID, "collection.item_removed", map[string]any{"collection_id": collectionID, "entity_id": entityID}, meta)
	})
	if err != nil {
		return err
	}
	f.revisions.Bump(storeID)
	return nil
}

// CollectionEntities returns the members of a collection in presentation
// order.
func (f *Fabric) CollectionEntities(ctx context.Context, collectionID string) ([]domain.DataEntity, error) {
	if err := domain.ValidateID("collection", collectionID); err != nil {
		return nil, err
	}
	var out []domain.DataEntity
	err := f.store.ReadTx(ctx, func(tx ports.Tx) error {
		c, err := tx.Collections().FindUnique(ctx, domain.Where{domain.Eq("id", collectionID)})
		if err != nil {
			return err
		}
		out, err = f.collectionEntities(ctx, tx, c)
		return err
	})
	return out, err
}

// collectionEntities orders manual members by (sort_order, seq) and dynamic
// members by creation. rules.filter and rules.limit apply to both.
func (f *Fabric) collectionEntities(ctx context.Context, tx ports.Tx, c domain.Collection) ([]domain.DataEntity, error) {
	rules, err := domain.DecodeRules(c.Rules)
	if err != nil {
		return nil, err
	}

	var entities []domain.DataEntity
	switch c.Source {
	case domain.SourceDynamic:
		entities, err = tx.DataEntities().FindMany(ctx, domain.Query{
			Where:   domain.Where{domain.Eq("store_id", c.StoreID), domain.Eq("entity_type", rules.EntityType)},
			OrderBy: []domain.Order{domain.Asc("created_at"), domain.Asc("id")},
		})
		if err != nil {
			return nil, err
		}
	default:
		items, err := tx.CollectionItems().FindMany(ctx, domain.Query{
			Where:   domain.Where{domain.Eq("collection_id", c.ID)},
			OrderBy: []domain.Order{domain.Asc("sort_order"), domain.Asc("seq")},
		})
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return nil, nil
		}
		ids := make([]any, 0, len(items))
		for _, it := range items {
			ids = append(ids, it.EntityID)
		}
		found, err := tx.DataEntities().FindMany(ctx, domain.Query{Where: domain.Where{domain.In("id", ids...)}})
		if err != nil {
			return nil, err
		}
		byID := make(map[string]domain.DataEntity, len(found))
		for _, e := range found {
			byID[e.ID] = e
		}
		entities = make([]domain.DataEntity, 0, len(items))
		for _, it := range items {
			if e, ok := byID[it.EntityID]; ok {
				entities = append(entities, e)
			}
		}
	}

	if rules.Filter != "" {
		kept := entities[:0]
		for _, e := range entities {
			ok, err := f.preds.eval(rules.Filter, entityEnv(e))
			if err != nil {
				return nil, fmt.Errorf("collection %s filter: %w", c.ID, err)
			}
			if ok {
				kept = append(kept, e)
			}
		}
		entities = kept
	}
	if rules.Limit > 0 && len(entities) > rules.Limit {
		entities = entities[:rules.Limit]
	}
	return entities, nil
}

func entityEnv(e domain.DataEntity) map[string]any {
	var payload any
	_ = json.Unmarshal(e.Payload, &payload)
	return map[string]any{
		"id":         e.ID,
		"entityType": e.EntityType,
		"entityKey":  e.EntityKey,
		"payload":    payload,
	}
}

func requireStore(ctx context.Context, tx ports.Tx, storeID string) (domain.Store, error) {
	s, err := tx.Stores().FindUnique(ctx, domain.Where{domain.Eq("id", storeID)})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Store{}, fmt.Errorf("store %s: %w", storeID, domain.ErrNotFound)
		}
		return domain.Store{}, err
	}
	return s, nil
}

func recordData(ctx context.Context, tx ports.Tx, storeID, op string, payload map[string]any, meta domain.MutationMetadata) error {
	payload["op"] = op
	return tx.Record(ctx, domain.Change{
		EventType:     domain.EventDataChanged,
		AggregateType: domain.AggregateStore,
		AggregateID:   storeID,
		Payload:       payload,
	}, meta)
}
