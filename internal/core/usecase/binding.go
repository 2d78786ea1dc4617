package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/atvirokodosprendimai/storefront/internal/core/domain"
	"github.com/atvirokodosprendimai/storefront/internal/core/ports"
)

// BindingResolver owns data bindings and turns them into concrete values.
type BindingResolver struct {
	store     ports.EntityStore
	fabric    *Fabric
	revisions *Revisions
}

func NewBindingResolver(store ports.EntityStore, fabric *Fabric, revisions *Revisions) *BindingResolver {
	return &BindingResolver{store: store, fabric: fabric, revisions: revisions}
}

// SetBinding creates or replaces the binding of a component slot. Collection
// and entity sources must exist in the same store.
func (r *BindingResolver) SetBinding(ctx context.Context, b domain.DataBinding, meta domain.MutationMetadata) (domain.DataBinding, error) {
	if b.SourceType == domain.BindLiteral {
		b.SourceRef = ""
	}
	if err := b.Validate(); err != nil {
		return domain.DataBinding{}, err
	}
	ts := now()
	b.ID = newID()
	b.CreatedAt, b.UpdatedAt = ts, ts

	var stored domain.DataBinding
	err := r.store.WriteTx(ctx, func(tx ports.Tx) error {
		if _, err := requireStore(ctx, tx, b.StoreID); err != nil {
			return err
		}
		if err := checkSource(ctx, tx, b); err != nil {
			return err
		}
		var err error
		stored, err = tx.DataBindings().Upsert(ctx, b,
			[]string{"store_id", "component_path", "binding_key"},
			[]string{"source_type", "source_ref", "binding_json", "updated_at"})
		if err != nil {
			return err
		}
		return tx.Record(ctx, domain.Change{
			EventType:     domain.EventBindingChanged,
			AggregateType: domain.AggregateStore,
			AggregateID:   b.StoreID,
			Payload:       map[string]any{"op": "set", "component_path": b.ComponentPath, "binding_key": b.BindingKey, "source_type": b.SourceType, "source_ref": b.SourceRef},
		}, meta)
	})
	if err != nil {
		return domain.DataBinding{}, err
	}
	r.revisions.Bump(stored.StoreID)
	return stored, nil
}

func (r *BindingResolver) RemoveBinding(ctx context.Context, storeID, componentPath, bindingKey string, meta domain.MutationMetadata) error {
	if err := domain.ValidateID("store", storeID); err != nil {
		return err
	}
	err := r.store.WriteTx(ctx, func(tx ports.Tx) error {
		removed, err := tx.DataBindings().Delete(ctx, slot(storeID, componentPath, bindingKey))
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("binding %s/%s: %w", componentPath, bindingKey, domain.ErrNotFound)
		}
		return tx.Record(ctx, domain.Change{
			EventType:     domain.EventBindingChanged,
			AggregateType: domain.AggregateStore,
			AggregateID:   storeID,
			Payload:       map[string]any{"op": "remove", "component_path": componentPath, "binding_key": bindingKey},
		}, meta)
	})
	if err != nil {
		return err
	}
	r.revisions.Bump(storeID)
	return nil
}

// ListBindings lists a store's bindings, optionally only those of one
// component path.
func (r *BindingResolver) ListBindings(ctx context.Context, storeID, componentPath string) ([]domain.DataBinding, error) {
	if err := domain.ValidateID("store", storeID); err != nil {
		return nil, err
	}
	var out []domain.DataBinding
	err := r.store.ReadTx(ctx, func(tx ports.Tx) error {
		var err error
		out, err = listBindings(ctx, tx, storeID, componentPath)
		return err
	})
	return out, err
}

// Resolve returns the value bound to a component slot. A slot without a
// binding resolves to Unbound. A binding whose source is gone fails with
// domain.ErrDanglingReference.
func (r *BindingResolver) Resolve(ctx context.Context, storeID, componentPath, bindingKey string) (domain.ResolvedValue, error) {
	if err := domain.ValidateID("store", storeID); err != nil {
		return domain.ResolvedValue{}, err
	}
	if err := domain.ValidateName("component path", componentPath); err != nil {
		return domain.ResolvedValue{}, err
	}
	if err := domain.ValidateName("binding key", bindingKey); err != nil {
		return domain.ResolvedValue{}, err
	}
	var out domain.ResolvedValue
	err := r.store.ReadTx(ctx, func(tx ports.Tx) error {
		b, err := tx.DataBindings().FindUnique(ctx, slot(storeID, componentPath, bindingKey))
		if errors.Is(err, domain.ErrNotFound) {
			out = domain.Unbound()
			return nil
		}
		if err != nil {
			return err
		}
		out, err = r.resolve(ctx, tx, b)
		return err
	})
	return out, err
}

func (r *BindingResolver) resolve(ctx context.Context, tx ports.Tx, b domain.DataBinding) (domain.ResolvedValue, error) {
	switch b.SourceType {
	case domain.BindLiteral:
		return domain.ResolvedValue{Kind: domain.ValueLiteral, Literal: b.Override}, nil

	case domain.BindEntity:
		e, err := tx.DataEntities().FindUnique(ctx, domain.Where{domain.Eq("id", b.SourceRef)})
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return domain.ResolvedValue{}, err
		}
		if err != nil || e.StoreID != b.StoreID {
			return domain.ResolvedValue{}, &domain.DanglingError{SourceType: b.SourceType, SourceRef: b.SourceRef}
		}
		resolved := domain.ResolveEntity(e)
		resolved.Payload = mergeOverride(e.Payload, b.Override)
		return domain.ResolvedValue{Kind: domain.ValueEntity, Entity: &resolved}, nil

	case domain.BindCollection:
		c, err := tx.Collections().FindUnique(ctx, domain.Where{domain.Eq("id", b.SourceRef)})
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return domain.ResolvedValue{}, err
		}
		if err != nil || c.StoreID != b.StoreID {
			return domain.ResolvedValue{}, &domain.DanglingError{SourceType: b.SourceType, SourceRef: b.SourceRef}
		}
		entities, err := r.fabric.collectionEntities(ctx, tx, c)
		if err != nil {
			return domain.ResolvedValue{}, err
		}
		if limit := overrideLimit(b.Override); limit > 0 && len(entities) > limit {
			entities = entities[:limit]
		}
		out := domain.ResolvedValue{Kind: domain.ValueCollection, Entities: make([]domain.ResolvedEntity, 0, len(entities))}
		for _, e := range entities {
			out.Entities = append(out.Entities, domain.ResolveEntity(e))
		}
		return out, nil
	}
	return domain.ResolvedValue{}, fmt.Errorf("binding source type %q: %w", b.SourceType, domain.ErrInvalidInput)
}

func checkSource(ctx context.Context, tx ports.Tx, b domain.DataBinding) error {
	var storeID string
	switch b.SourceType {
	case domain.BindEntity:
		e, err := tx.DataEntities().FindUnique(ctx, domain.Where{domain.Eq("id", b.SourceRef)})
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		storeID = e.StoreID
	case domain.BindCollection:
		c, err := tx.Collections().FindUnique(ctx, domain.Where{domain.Eq("id", b.SourceRef)})
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		storeID = c.StoreID
	default:
		return nil
	}
	if storeID != b.StoreID {
		return &domain.DanglingError{SourceType: b.SourceType, SourceRef: b.SourceRef}
	}
	return nil
}

func listBindings(ctx context.Context, tx ports.Tx, storeID, componentPath string) ([]domain.DataBinding, error) {
	where := domain.Where{domain.Eq("store_id", storeID)}
	if componentPath != "" {
		where = append(where, domain.Eq("component_path", componentPath))
	}
	return tx.DataBindings().FindMany(ctx, domain.Query{
		Where:   where,
		OrderBy: []domain.Order{domain.Asc("component_path"), domain.Asc("binding_key")},
	})
}

func slot(storeID, componentPath, bindingKey string) domain.Where {
	return domain.Where{
		domain.Eq("store_id", storeID),
		domain.Eq("component_path", componentPath),
		domain.Eq("binding_key", bindingKey),
	}
}

// mergeOverride lays the top-level keys of an object override over an object
// payload. Anything else leaves the payload untouched.
func mergeOverride(payload, override json.RawMessage) json.RawMessage {
	if len(override) == 0 {
		return payload
	}
	var base, over map[string]json.RawMessage
	if json.Unmarshal(payload, &base) != nil || json.Unmarshal(override, &over) != nil || base == nil {
		return payload
	}
	for k, v := range over {
		base[k] = v
	}
	merged, err := json.Marshal(base)
	if err != nil {
		return payload
	}
	return merged
}

func overrideLimit(override json.RawMessage) int {
	var opts struct {
		Limit int `json:"limit"`
	}
	if len(override) == 0 || json.Unmarshal(override, &opts) != nil {
		return 0
	}
	return opts.Limit
}
