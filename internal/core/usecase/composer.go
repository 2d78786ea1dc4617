package usecase

import (
	"context"
	"errors"
	"sync"

	"github.com/atvirokodosprendimai/storefront/internal/core/domain"
	"github.com/atvirokodosprendimai/storefront/internal/core/ports"
)

// Composer owns component instances and page compositions and assembles the
// render tree of a page. Composed trees are cached per page and tagged with
// the store revision they were read at.
type Composer struct {
	store     ports.EntityStore
	bindings  *BindingResolver
	revisions *Revisions
	preds     *predicates

	mu    sync.RWMutex
	cache map[pageRef]domain.ComponentTree
}

type pageRef struct {
	storeID string
	page    string
}

func NewComposer(store ports.EntityStore, bindings *BindingResolver, revisions *Revisions) *Composer {
	return &Composer{
		store:     store,
		bindings:  bindings,
		revisions: revisions,
		preds:     &predicates{},
		cache:     make(map[pageRef]domain.ComponentTree),
	}
}

// ComposePage returns the component tree of a page. A node that references a
// missing instance fails the whole page with domain.ErrCompositionIntegrity.
// Broken bindings render as dangling placeholders. A node naming only a
// component expands to all of its instances in order; the node's children
// attach to the first of them.
func (c *Composer) ComposePage(ctx context.Context, storeID, page string) (domain.ComponentTree, error) {
	if err := domain.ValidateID("store", storeID); err != nil {
		return domain.ComponentTree{}, err
	}
	if err := domain.ValidateName("page", page); err != nil {
		return domain.ComponentTree{}, err
	}
	ref := pageRef{storeID: storeID, page: page}
	rev := c.revisions.Current(storeID)

	c.mu.RLock()
	cached, ok := c.cache[ref]
	c.mu.RUnlock()
	if ok && cached.Revision == rev {
		return cached, nil
	}

	var tree domain.ComponentTree
	err := c.store.ReadTx(ctx, func(tx ports.Tx) error {
		var err error
		tree, err = c.compose(ctx, tx, storeID, page)
		return err
	})
	if err != nil {
		return domain.ComponentTree{}, err
	}
	tree.Revision = rev

	c.mu.Lock()
	if prev, ok := c.cache[ref]; !ok || prev.Revision <= rev {
		c.cache[ref] = tree
	}
	c.mu.Unlock()
	return tree, nil
}

// PageStatus reports whether a page was never composed, has a current cached
// tree, or has a tree that a later write invalidated.
func (c *Composer) PageStatus(storeID, page string) domain.PageStatus {
	c.mu.RLock()
	cached, ok := c.cache[pageRef{storeID: storeID, page: page}]
	c.mu.RUnlock()
	switch {
	case !ok:
		return domain.PageDraft
	case cached.Revision == c.revisions.Current(storeID):
		return domain.PageResolved
	default:
		return domain.PageStale
	}
}

func (c *Composer) forget(storeID, page string) {
	c.mu.Lock()
	delete(c.cache, pageRef{storeID: storeID, page: page})
	c.mu.Unlock()
}

// forgetStore drops every cached page of a store.
func (c *Composer) forgetStore(storeID string) {
	c.mu.Lock()
	for ref := range c.cache {
		if ref.storeID == storeID {
			delete(c.cache, ref)
		}
	}
	c.mu.Unlock()
}

// composition holds everything one compose pass reads.
type composition struct {
	page     string
	byPath   map[string][]domain.ComponentState
	byKey    map[string]domain.ComponentState
	bindings map[string][]domain.DataBinding
	placed   map[string]bool
	resolve  func(domain.DataBinding) (domain.ResolvedValue, error)
}

func (c *Composer) compose(ctx context.Context, tx ports.Tx, storeID, page string) (domain.ComponentTree, error) {
	s, err := requireStore(ctx, tx, storeID)
	if err != nil {
		return domain.ComponentTree{}, err
	}
	pc, err := tx.PageCompositions().FindUnique(ctx, pageWhere(storeID, page))
	if err != nil {
		return domain.ComponentTree{}, err
	}
	doc, err := domain.ParseComposition(pc.Composition)
	if err != nil {
		return domain.ComponentTree{}, err
	}

	components, err := tx.ComponentStates().FindMany(ctx, domain.Query{
		Where:   domain.Where{domain.Eq("store_id", storeID)},
		OrderBy: []domain.Order{domain.Asc("component_path"), domain.Asc("instance_order")},
	})
	if err != nil {
		return domain.ComponentTree{}, err
	}
	bindings, err := listBindings(ctx, tx, storeID, "")
	if err != nil {
		return domain.ComponentTree{}, err
	}

	comp := &composition{
		page:     page,
		byPath:   make(map[string][]domain.ComponentState),
		byKey:    make(map[string]domain.ComponentState),
		bindings: make(map[string][]domain.DataBinding),
		placed:   make(map[string]bool),
		resolve: func(b domain.DataBinding) (domain.ResolvedValue, error) {
			return c.bindings.resolve(ctx, tx, b)
		},
	}
	for _, cs := range components {
		comp.byPath[cs.ComponentPath] = append(comp.byPath[cs.ComponentPath], cs)
		if cs.ComponentKey != "" {
			comp.byKey[cs.ComponentKey] = cs
		}
	}
	for _, b := range bindings {
		comp.bindings[b.ComponentPath] = append(comp.bindings[b.ComponentPath], b)
	}

	roots, err := comp.build(doc.Nodes)
	if err != nil {
		return domain.ComponentTree{}, err
	}
	if roots, err = c.preds.prune(roots, newRenderEnv(s, page)); err != nil {
		return domain.ComponentTree{}, err
	}
	return domain.ComponentTree{StoreID: storeID, Page: page, Roots: roots}, nil
}

func (comp *composition) build(nodes []domain.CompositionNode) ([]domain.TreeNode, error) {
	out := make([]domain.TreeNode, 0, len(nodes))
	for _, n := range nodes {
		targets, err := comp.targets(n)
		if err != nil {
			return nil, err
		}
		childrenBuilt := false
		for _, cs := range targets {
			// An instance renders once per page; later references are dropped.
			if comp.placed[cs.ID] {
				continue
			}
			comp.placed[cs.ID] = true

			resolved, err := comp.resolveBindings(cs.ComponentPath, n.Bindings)
			if err != nil {
				return nil, err
			}
			// Children are built once per node and hang under the first
			// instance the node places.
			var children []domain.TreeNode
			if !childrenBuilt {
				childrenBuilt = true
				if children, err = comp.build(n.Children); err != nil {
					return nil, err
				}
			}
			out = append(out, domain.TreeNode{
				ComponentPath: cs.ComponentPath,
				ComponentKey:  cs.ComponentKey,
				InstanceOrder: cs.InstanceOrder,
				Settings:      cs.Settings,
				Visibility:    cs.Visibility,
				Bindings:      resolved,
				Children:      children,
			})
		}
	}
	return out, nil
}

func (comp *composition) targets(n domain.CompositionNode) ([]domain.ComponentState, error) {
	missing := &domain.CompositionError{Page: comp.page, Component: n.Component, Ref: n.Ref()}
	switch {
	case n.Key != "":
		cs, ok := comp.byKey[n.Key]
		if !ok || cs.ComponentPath != n.Component {
			return nil, missing
		}
		return []domain.ComponentState{cs}, nil
	case n.Instance != nil:
		for _, cs := range comp.byPath[n.Component] {
			if cs.InstanceOrder == *n.Instance {
				return []domain.ComponentState{cs}, nil
			}
		}
		return nil, missing
	default:
		all := comp.byPath[n.Component]
		if len(all) == 0 {
			return nil, missing
		}
		return all, nil
	}
}

// resolveBindings resolves the listed keys of a component, or all of its
// bindings when none are listed.
func (comp *composition) resolveBindings(componentPath string, keys []string) (map[string]domain.ResolvedValue, error) {
	bound := comp.bindings[componentPath]
	out := make(map[string]domain.ResolvedValue)
	if len(keys) == 0 {
		for _, b := range bound {
			keys = append(keys, b.BindingKey)
		}
	}
	for _, key := range keys {
		var binding *domain.DataBinding
		for i := range bound {
			if bound[i].BindingKey == key {
				binding = &bound[i]
				break
			}
		}
		if binding == nil {
			out[key] = domain.Unbound()
			continue
		}
		v, err := comp.resolve(*binding)
		if errors.Is(err, domain.ErrDanglingReference) {
			out[key] = domain.DanglingPlaceholder(err)
			continue
		}
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}
