package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/atvirokodosprendimai/storefront/internal/core/domain"
	"github.com/atvirokodosprendimai/storefront/internal/core/ports"
)

// PutComponent creates or replaces the instance at
// (storeId, componentPath, instanceOrder).
func (c *Composer) PutComponent(ctx context.Context, cs domain.ComponentState, meta domain.MutationMetadata) (domain.ComponentState, error) {
	if err := c.checkComponent(cs); err != nil {
		return domain.ComponentState{}, err
	}
	ts := now()
	cs.ID = newID()
	cs.CreatedAt, cs.UpdatedAt = ts, ts

	var stored domain.ComponentState
	err := c.store.WriteTx(ctx, func(tx ports.Tx) error {
		if err := requireContractComponent(ctx, tx, cs.StoreID, cs.ComponentPath); err != nil {
			return err
		}
		var err error
		stored, err = tx.ComponentStates().Upsert(ctx, cs,
			[]string{"store_id", "component_path", "instance_order"},
			[]string{"component_key", "settings_json", "visibility_json", "updated_at"})
		if err != nil {
			return err
		}
		return recordComponent(ctx, tx, stored, "put", meta)
	})
	if err != nil {
		return domain.ComponentState{}, err
	}
	c.revisions.Bump(stored.StoreID)
	return stored, nil
}

// AppendComponent adds an instance after the last instance of its path.
func (c *Composer) AppendComponent(ctx context.Context, cs domain.ComponentState, meta domain.MutationMetadata) (domain.ComponentState, error) {
	cs.InstanceOrder = 0
	if err := c.checkComponent(cs); err != nil {
		return domain.ComponentState{}, err
	}
	ts := now()
	cs.ID = newID()
	cs.CreatedAt, cs.UpdatedAt = ts, ts

	var created domain.ComponentState
	err := c.store.WriteTx(ctx, func(tx ports.Tx) error {
		if err := requireContractComponent(ctx, tx, cs.StoreID, cs.ComponentPath); err != nil {
			return err
		}
		agg, err := tx.ComponentStates().Aggregate(ctx, "instance_order", domain.Where{
			domain.Eq("store_id", cs.StoreID),
			domain.Eq("component_path", cs.ComponentPath),
		})
		if err != nil {
			return err
		}
		if agg.Count > 0 {
			cs.InstanceOrder = int(agg.Max) + 1
		}
		if created, err = tx.ComponentStates().Create(ctx, cs); err != nil {
			return err
		}
		return recordComponent(ctx, tx, created, "append", meta)
	})
	if err != nil {
		return domain.ComponentState{}, err
	}
	c.revisions.Bump(created.StoreID)
	return created, nil
}

// MoveComponent changes the instance order of one instance. Moving onto an
// occupied order fails with domain.ErrDuplicateKey.
func (c *Composer) MoveComponent(ctx context.Context, storeID, componentPath string, from, to int, meta domain.MutationMetadata) (domain.ComponentState, error) {
	if err := domain.ValidateID("store", storeID); err != nil {
		return domain.ComponentState{}, err
	}
	if err := domain.ValidateName("component path", componentPath); err != nil {
		return domain.ComponentState{}, err
	}
	if to < 0 {
		return domain.ComponentState{}, fmt.Errorf("instance order must not be negative: %w", domain.ErrInvalidInput)
	}

	var moved domain.ComponentState
	err := c.store.WriteTx(ctx, func(tx ports.Tx) error {
		current, err := tx.ComponentStates().FindUnique(ctx, instance(storeID, componentPath, from))
		if err != nil {
			return err
		}
		if from == to {
			moved = current
			return nil
		}
		n, err := tx.ComponentStates().Count(ctx, instance(storeID, componentPath, to))
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%s instance %d is taken: %w", componentPath, to, domain.ErrDuplicateKey)
		}
		moved, err = tx.ComponentStates().Update(ctx, domain.Where{domain.Eq("id", current.ID)}, map[string]any{"instance_order": to})
		if err != nil {
			return err
		}
		return recordComponent(ctx, tx, moved, "move", meta)
	})
	if err != nil {
		return domain.ComponentState{}, err
	}
	c.revisions.Bump(storeID)
	return moved, nil
}

func (c *Composer) RemoveComponent(ctx context.Context, storeID, componentPath string, instanceOrder int, meta domain.MutationMetadata) error {
	if err := domain.ValidateID("store", storeID); err != nil {
		return err
	}
	err := c.store.WriteTx(ctx, func(tx ports.Tx) error {
		current, err := tx.ComponentStates().FindUnique(ctx, instance(storeID, componentPath, instanceOrder))
		if err != nil {
			return err
		}
		if _, err := tx.ComponentStates().Delete(ctx, domain.Where{domain.Eq("id", current.ID)}); err != nil {
			return err
		}
		return recordComponent(ctx, tx, current, "remove", meta)
	})
	if err != nil {
		return err
	}
	c.revisions.Bump(storeID)
	return nil
}

// ListComponents lists a store's instances by path and instance order,
// optionally only those of one component path.
func (c *Composer) ListComponents(ctx context.Context, storeID, componentPath string) ([]domain.ComponentState, error) {
	if err := domain.ValidateID("store", storeID); err != nil {
		return nil, err
	}
	where := domain.Where{domain.Eq("store_id", storeID)}
	if componentPath != "" {
		where = append(where, domain.Eq("component_path", componentPath))
	}
	var out []domain.ComponentState
	err := c.store.ReadTx(ctx, func(tx ports.Tx) error {
		var err error
		out, err = tx.ComponentStates().FindMany(ctx, domain.Query{
			Where:   where,
			OrderBy: []domain.Order{domain.Asc("component_path"), domain.Asc("instance_order")},
		})
		return err
	})
	return out, err
}

// SavePage stores the composition tree of a page, replacing any previous one.
func (c *Composer) SavePage(ctx context.Context, storeID, page string, composition json.RawMessage, meta domain.MutationMetadata) (domain.PageComposition, error) {
	if err := domain.ValidateID("store", storeID); err != nil {
		return domain.PageComposition{}, err
	}
	if err := domain.ValidateName("page", page); err != nil {
		return domain.PageComposition{}, err
	}
	if _, err := domain.ParseComposition(composition); err != nil {
		return domain.PageComposition{}, err
	}
	ts := now()
	pc := domain.PageComposition{ID: newID(), StoreID: storeID, Page: page, Composition: objectOrEmpty(composition), CreatedAt: ts, UpdatedAt: ts}

	var stored domain.PageComposition
	err := c.store.WriteTx(ctx, func(tx ports.Tx) error {
		s, err := requireStore(ctx, tx, storeID)
		if err != nil {
			return err
		}
		contract, err := storeContract(ctx, tx, s)
		if err != nil {
			return err
		}
		if !contract.AllowsPage(page) {
			return fmt.Errorf("page %q is not declared by the theme contract: %w", page, domain.ErrContractViolation)
		}
		stored, err = tx.PageCompositions().Upsert(ctx, pc, []string{"store_id", "page"}, []string{"composition_json", "updated_at"})
		if err != nil {
			return err
		}
		return tx.Record(ctx, domain.Change{
			EventType:     domain.EventPageChanged,
			AggregateType: domain.AggregateStore,
			AggregateID:   storeID,
			Payload:       map[string]any{"op": "save", "page": page},
		}, meta)
	})
	if err != nil {
		return domain.PageComposition{}, err
	}
	c.revisions.Bump(storeID)
	return stored, nil
}

func (c *Composer) DeletePage(ctx context.Context, storeID, page string, meta domain.MutationMetadata) error {
	if err := domain.ValidateID("store", storeID); err != nil {
		return err
	}
	err := c.store.WriteTx(ctx, func(tx ports.Tx) error {
		removed, err := tx.PageCompositions().Delete(ctx, pageWhere(storeID, page))
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("page %q: %w", page, domain.ErrNotFound)
		}
		return tx.Record(ctx, domain.Change{
			EventType:     domain.EventPageChanged,
			AggregateType: domain.AggregateStore,
			AggregateID:   storeID,
			Payload:       map[string]any{"op": "delete", "page": page},
		}, meta)
	})
	if err != nil {
		return err
	}
	c.revisions.Bump(storeID)
	c.forget(storeID, page)
	return nil
}

func (c *Composer) GetPage(ctx context.Context, storeID, page string) (domain.PageComposition, error) {
	if err := domain.ValidateID("store", storeID); err != nil {
		return domain.PageComposition{}, err
	}
	var pc domain.PageComposition
	err := c.store.ReadTx(ctx, func(tx ports.Tx) error {
		var err error
		pc, err = tx.PageCompositions().FindUnique(ctx, pageWhere(storeID, page))
		return err
	})
	return pc, err
}

func (c *Composer) ListPages(ctx context.Context, storeID string) ([]domain.PageComposition, error) {
	if err := domain.ValidateID("store", storeID); err != nil {
		return nil, err
	}
	var out []domain.PageComposition
	err := c.store.ReadTx(ctx, func(tx ports.Tx) error {
		var err error
		out, err = tx.PageCompositions().FindMany(ctx, domain.Query{
			Where:   domain.Where{domain.Eq("store_id", storeID)},
			OrderBy: []domain.Order{domain.Asc("page")},
		})
		return err
	})
	return out, err
}

func (c *Composer) checkComponent(cs domain.ComponentState) error {
	if err := cs.Validate(); err != nil {
		return err
	}
	v, err := decodeVisibility(cs.Visibility)
	if err != nil {
		return err
	}
	if v.When != "" {
		if _, err := c.preds.compile(v.When); err != nil {
			return err
		}
	}
	return nil
}

func requireContractComponent(ctx context.Context, tx ports.Tx, storeID, componentPath string) error {
	s, err := requireStore(ctx, tx, storeID)
	if err != nil {
		return err
	}
	contract, err := storeContract(ctx, tx, s)
	if err != nil {
		return err
	}
	if !contract.AllowsComponent(componentPath) {
		return fmt.Errorf("component %q is not declared by the theme contract: %w", componentPath, domain.ErrContractViolation)
	}
	return nil
}

func storeContract(ctx context.Context, tx ports.Tx, s domain.Store) (domain.Contract, error) {
	v, err := tx.ThemeVersions().FindUnique(ctx, domain.Where{domain.Eq("id", s.ThemeVersionID)})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Contract{}, fmt.Errorf("store %s is bound to a missing version: %w", s.ID, domain.ErrIntegrityViolation)
		}
		return domain.Contract{}, err
	}
	return domain.DecodeContract(v.Contract)
}

func recordComponent(ctx context.Context, tx ports.Tx, cs domain.ComponentState, op string, meta domain.MutationMetadata) error {
	return tx.Record(ctx, domain.Change{
		EventType:     domain.EventComponentChanged,
		AggregateType: domain.AggregateStore,
		AggregateID:   cs.StoreID,
		Payload:       map[string]any{"op": op, "component_id": cs.ID, "component_path": cs.ComponentPath, "instance_order": cs.InstanceOrder},
	}, meta)
}

func instance(storeID, componentPath string, order int) domain.Where {
	return domain.Where{
		domain.Eq("store_id", storeID),
		domain.Eq("component_path", componentPath),
		domain.Eq("instance_order", order),
	}
}

func pageWhere(storeID, page string) domain.Where {
	return domain.Where{domain.Eq("store_id", storeID), domain.Eq("page", page)}
}
