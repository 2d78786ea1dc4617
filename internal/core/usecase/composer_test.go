package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/atvirokodosprendimai/storefront/internal/core/domain"
)

func TestComposePageHeroThenMissingInstance(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	st := e.seedStore(t)
	e.putComponent(t, st.ID, "hero", 0, "", `{"title":"Welcome"}`, "")
	e.savePage(t, st.ID, "home", `{"nodes":[{"component":"hero","instance":0}]}`)

	tree, err := e.composer.ComposePage(ctx, st.ID, "home")
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if len(tree.Roots) != 1 || tree.Roots[0].ComponentPath != "hero" {
		t.Fatalf("expected a single hero root, got %+v", tree.Roots)
	}

	if err := e.composer.RemoveComponent(ctx, st.ID, "hero", 0, testMeta); err != nil {
		t.Fatalf("remove component: %v", err)
	}
	_, err = e.composer.ComposePage(ctx, st.ID, "home")
	if !errors.Is(err, domain.ErrCompositionIntegrity) {
		t.Fatalf("expected composition integrity error, got %v", err)
	}
	var ce *domain.CompositionError
	if !errors.As(err, &ce) || ce.Component != "hero" || ce.Page != "home" {
		t.Fatalf("expected the error to name hero on home, got %v", err)
	}
}

func TestComposePageResolvesKeysChildrenAndBindings(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	st := e.seedStore(t)
	e.putComponent(t, st.ID, "hero", 0, "main-hero", "", "")
	e.putComponent(t, st.ID, "banner", 0, "", "", "")
	e.putComponent(t, st.ID, "banner", 1, "", "", "")
	if _, err := e.bindings.SetBinding(ctx, domain.DataBinding{
		StoreID: st.ID, ComponentPath: "hero", BindingKey: "headline",
		SourceType: domain.BindLiteral, Override: json.RawMessage(`"Hi"`),
	}, testMeta); err != nil {
		t.Fatalf("set binding: %v", err)
	}
	e.savePage(t, st.ID, "home", `{"nodes":[
		{"component":"hero","key":"main-hero","bindings":["headline","missing"],"children":[{"component":"banner"}]},
		{"component":"banner","instance":1}
	]}`)

	tree, err := e.composer.ComposePage(ctx, st.ID, "home")
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if len(tree.Roots) != 1 {
		t.Fatalf("expected the duplicate banner root to be dropped, got %d roots", len(tree.Roots))
	}
	hero := tree.Roots[0]
	if hero.ComponentKey != "main-hero" || len(hero.Children) != 2 {
		t.Fatalf("unexpected hero node: %+v", hero)
	}
	if hero.Children[0].InstanceOrder != 0 || hero.Children[1].InstanceOrder != 1 {
		t.Fatalf("expected banners in instance order, got %+v", hero.Children)
	}
	if v := hero.Bindings["headline"]; v.Kind != domain.ValueLiteral {
		t.Fatalf("expected literal headline, got %+v", v)
	}
	if v := hero.Bindings["missing"]; v.Kind != domain.ValueUnbound || v.Dangling {
		t.Fatalf("expected plain unbound slot, got %+v", v)
	}
}

func TestComposePageExpandedNodeChildrenUnderFirstInstance(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	st := e.seedStore(t)
	e.putComponent(t, st.ID, "banner", 0, "", "", "")
	e.putComponent(t, st.ID, "banner", 1, "", "", "")
	e.putComponent(t, st.ID, "footer", 0, "", "", "")
	e.savePage(t, st.ID, "home", `{"nodes":[{"component":"banner","children":[{"component":"footer"}]}]}`)

	tree, err := e.composer.ComposePage(ctx, st.ID, "home")
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if len(tree.Roots) != 2 {
		t.Fatalf("expected both banners as roots, got %+v", tree.Roots)
	}
	first, second := tree.Roots[0], tree.Roots[1]
	if first.InstanceOrder != 0 || len(first.Children) != 1 || first.Children[0].ComponentPath != "footer" {
		t.Fatalf("expected the footer under the first banner, got %+v", first)
	}
	if second.InstanceOrder != 1 || len(second.Children) != 0 {
		t.Fatalf("expected the second banner without children, got %+v", second)
	}
}

func TestComposePageRendersDanglingPlaceholder(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	st := e.seedStore(t)
	e.putComponent(t, st.ID, "hero", 0, "", "", "")
	c := e.manualCollection(t, st.ID, "items")
	if _, err := e.bindings.SetBinding(ctx, domain.DataBinding{
		StoreID: st.ID, ComponentPath: "hero", BindingKey: "items",
		SourceType: domain.BindCollection, SourceRef: c.ID,
	}, testMeta); err != nil {
		t.Fatalf("set binding: %v", err)
	}
	if err := e.fabric.DeleteCollection(ctx, c.ID, testMeta); err != nil {
		t.Fatalf("delete collection: %v", err)
	}
	e.savePage(t, st.ID, "home", `{"nodes":[{"component":"hero"}]}`)

	tree, err := e.composer.ComposePage(ctx, st.ID, "home")
	if err != nil {
		t.Fatalf("a dangling binding must not block composition: %v", err)
	}
	v := tree.Roots[0].Bindings["items"]
	if v.Kind != domain.ValueUnbound || !v.Dangling || v.Reason == "" {
		t.Fatalf("expected a dangling placeholder, got %+v", v)
	}
}

func TestComposePageAppliesVisibility(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	st := e.seedStore(t)
	e.putComponent(t, st.ID, "hero", 0, "", "", `{"hidden":true}`)
	e.putComponent(t, st.ID, "hero", 1, "", "", `{"viewports":["mobile"]}`)
	e.putComponent(t, st.ID, "hero", 2, "", "", `{"when":"themeSettings.accent == \"#112233\" && locale == \"en\""}`)
	e.putComponent(t, st.ID, "banner", 0, "", "", `{"pages":["about"]}`)
	e.putComponent(t, st.ID, "footer", 0, "", "", `{"when":"page == \"about\""}`)
	e.savePage(t, st.ID, "home", `{"nodes":[{"component":"hero"},{"component":"banner"},{"component":"footer"}]}`)

	tree, err := e.composer.ComposePage(ctx, st.ID, "home")
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if len(tree.Roots) != 1 || tree.Roots[0].InstanceOrder != 2 {
		t.Fatalf("expected only hero/2 to be visible, got %+v", tree.Roots)
	}

	components, err := e.composer.ListComponents(ctx, st.ID, "")
	if err != nil {
		t.Fatalf("list components: %v", err)
	}
	if len(components) != 5 {
		t.Fatalf("visibility must not mutate state, got %d components", len(components))
	}
}

func TestComposePageHiddenParentStillChecksChildren(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	st := e.seedStore(t)
	e.putComponent(t, st.ID, "hero", 0, "", "", `{"hidden":true}`)
	e.savePage(t, st.ID, "home", `{"nodes":[{"component":"hero","children":[{"component":"banner","instance":3}]}]}`)

	if _, err := e.composer.ComposePage(ctx, st.ID, "home"); !errors.Is(err, domain.ErrCompositionIntegrity) {
		t.Fatalf("expected composition integrity error under a hidden parent, got %v", err)
	}
}

func TestPageStatusTransitions(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	st := e.seedStore(t)
	e.putComponent(t, st.ID, "hero", 0, "", "", "")
	e.savePage(t, st.ID, "home", `{"nodes":[{"component":"hero"}]}`)

	if got := e.composer.PageStatus(st.ID, "home"); got != domain.PageDraft {
		t.Fatalf("expected draft, got %s", got)
	}
	first, err := e.composer.ComposePage(ctx, st.ID, "home")
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if got := e.composer.PageStatus(st.ID, "home"); got != domain.PageResolved {
		t.Fatalf("expected resolved, got %s", got)
	}

	e.putComponent(t, st.ID, "hero", 0, "", `{"title":"Changed"}`, "")
	if got := e.composer.PageStatus(st.ID, "home"); got != domain.PageStale {
		t.Fatalf("expected stale after a write, got %s", got)
	}

	second, err := e.composer.ComposePage(ctx, st.ID, "home")
	if err != nil {
		t.Fatalf("recompose: %v", err)
	}
	if second.Revision <= first.Revision {
		t.Fatalf("expected a newer revision, got %d after %d", second.Revision, first.Revision)
	}
	if !jsonEqual(t, second.Roots[0].Settings, json.RawMessage(`{"title":"Changed"}`)) {
		t.Fatalf("stale tree served: %s", second.Roots[0].Settings)
	}
	if got := e.composer.PageStatus(st.ID, "home"); got != domain.PageResolved {
		t.Fatalf("expected resolved after recompose, got %s", got)
	}

	if err := e.composer.DeletePage(ctx, st.ID, "home", testMeta); err != nil {
		t.Fatalf("delete page: %v", err)
	}
	if got := e.composer.PageStatus(st.ID, "home"); got != domain.PageDraft {
		t.Fatalf("expected draft after delete, got %s", got)
	}
}

func TestComponentEditingRespectsContract(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	st := e.seedStore(t)

	_, err := e.composer.PutComponent(ctx, domain.ComponentState{StoreID: st.ID, ComponentPath: "carousel"}, testMeta)
	if !errors.Is(err, domain.ErrContractViolation) {
		t.Fatalf("expected contract violation for an undeclared component, got %v", err)
	}
	_, err = e.composer.SavePage(ctx, st.ID, "checkout", json.RawMessage(`{"nodes":[]}`), testMeta)
	if !errors.Is(err, domain.ErrContractViolation) {
		t.Fatalf("expected contract violation for an undeclared page, got %v", err)
	}
	_, err = e.composer.PutComponent(ctx, domain.ComponentState{StoreID: st.ID, ComponentPath: "hero", Visibility: json.RawMessage(`{"when":"page =="}`)}, testMeta)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected a broken when expression to be rejected, got %v", err)
	}
}

func TestAppendAndMoveComponent(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	st := e.seedStore(t)

	for want := 0; want < 3; want++ {
		cs, err := e.composer.AppendComponent(ctx, domain.ComponentState{StoreID: st.ID, ComponentPath: "banner"}, testMeta)
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if cs.InstanceOrder != want {
			t.Fatalf("expected instance order %d, got %d", want, cs.InstanceOrder)
		}
	}

	if _, err := e.composer.MoveComponent(ctx, st.ID, "banner", 0, 2, testMeta); !errors.Is(err, domain.ErrDuplicateKey) {
		t.Fatalf("expected duplicate key when moving onto a taken order, got %v", err)
	}
	moved, err := e.composer.MoveComponent(ctx, st.ID, "banner", 0, 7, testMeta)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if moved.InstanceOrder != 7 {
		t.Fatalf("expected instance order 7, got %d", moved.InstanceOrder)
	}
	if _, err := e.composer.MoveComponent(ctx, st.ID, "banner", 0, 1, testMeta); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for a vacated order, got %v", err)
	}
}
