package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/atvirokodosprendimai/storefront/internal/core/domain"
)

func TestCaptureRestoreRoundTrip(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	st := e.seedStore(t)
	mug, col := populate(t, e, st.ID)
	captured := contentsOf(t, e, st.ID)

	snap, err := e.snapshots.Capture(ctx, st.ID, "before sale", testMeta)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	doc, err := domain.DecodeSnapshot(snap.Document)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Format != domain.CurrentSnapshotFormat || len(doc.Components) != 2 || len(doc.Entities) != 2 || len(doc.Collections) != 1 || len(doc.Collections[0].Items) != 2 {
		t.Fatalf("unexpected document: %+v", doc)
	}

	// Diverge in every table.
	title := "Sale"
	if _, err := e.stores.UpdateStore(ctx, st.ID, domain.StorePatch{Title: &title, ThemeSettings: json.RawMessage(`{"accent":"#ff0000"}`)}, testMeta); err != nil {
		t.Fatalf("update: %v", err)
	}
	e.putComponent(t, st.ID, "footer", 0, "", "", "")
	e.savePage(t, st.ID, "about", `{"nodes":[{"component":"footer"}]}`)
	if err := e.composer.RemoveComponent(ctx, st.ID, "banner", 0, testMeta); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := e.fabric.RemoveFromCollection(ctx, col.ID, mug.ID, testMeta); err != nil {
		t.Fatalf("remove member: %v", err)
	}
	e.upsertEntity(t, st.ID, "product", "plate", `{"name":"Plate"}`)
	if err := e.bindings.RemoveBinding(ctx, st.ID, "hero", "product", testMeta); err != nil {
		t.Fatalf("remove binding: %v", err)
	}
	if sameContents(captured, contentsOf(t, e, st.ID)) {
		t.Fatal("store did not diverge")
	}

	restored, err := e.snapshots.Restore(ctx, st.ID, snap.ID, testMeta)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Title != "Main" || !jsonEqual(t, restored.ThemeSettings, json.RawMessage(`{"accent":"#112233"}`)) {
		t.Fatalf("store settings not restored: %+v", restored)
	}
	if !sameContents(captured, contentsOf(t, e, st.ID)) {
		t.Fatalf("restore did not reproduce the captured set:\n%+v\n%+v", captured, contentsOf(t, e, st.ID))
	}

	// Rows come back under their captured ids, so bindings resolve again.
	got, err := e.fabric.GetEntity(ctx, mug.ID)
	if err != nil || got.ID != mug.ID {
		t.Fatalf("entity %s not restored: %v", mug.ID, err)
	}
	v, err := e.bindings.Resolve(ctx, st.ID, "hero", "items")
	if err != nil || len(v.Entities) != 2 {
		t.Fatalf("collection binding after restore: %+v %v", v, err)
	}
	state, err := e.stores.GetStoreState(ctx, st.ID)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if !jsonEqual(t, state.ThemeSettings, json.RawMessage(`{"accent":"#112233"}`)) {
		t.Fatalf("state not resynchronized: %s", state.ThemeSettings)
	}

	// Restoring twice is the same as restoring once.
	if _, err := e.snapshots.Restore(ctx, st.ID, snap.ID, testMeta); err != nil {
		t.Fatalf("second restore: %v", err)
	}
	if !sameContents(captured, contentsOf(t, e, st.ID)) {
		t.Fatal("second restore changed the result")
	}
}

func TestRestoreKeepsThemeVersion(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	st := e.seedStore(t)
	snap, err := e.snapshots.Capture(ctx, st.ID, "", testMeta)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	v2, err := e.catalog.PublishVersion(ctx, PublishRequest{ThemeID: st.ThemeID, Version: "1.1.0", Contract: json.RawMessage(heroContract)}, testMeta)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := e.stores.BindToVersion(ctx, st.ID, v2.ID, testMeta); err != nil {
		t.Fatalf("bind: %v", err)
	}

	restored, err := e.snapshots.Restore(ctx, st.ID, snap.ID, testMeta)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.ThemeVersionID != v2.ID {
		t.Fatalf("restore must keep the current version, got %s", restored.ThemeVersionID)
	}
}

func TestRestoreFailures(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	st := e.seedStore(t)
	other := e.seedStore(t)
	populate(t, e, st.ID)

	snap, err := e.snapshots.Capture(ctx, other.ID, "other", testMeta)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	before := contentsOf(t, e, st.ID)

	_, err = e.snapshots.Restore(ctx, st.ID, snap.ID, testMeta)
	if !errors.Is(err, domain.ErrStoreMismatch) || !errors.Is(err, domain.ErrTransactionFailure) {
		t.Fatalf("expected store mismatch, got %v", err)
	}
	_, err = e.snapshots.Restore(ctx, st.ID, "missing", testMeta)
	if !errors.Is(err, domain.ErrSnapshotNotFound) || !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected snapshot not found, got %v", err)
	}
	if !sameContents(before, contentsOf(t, e, st.ID)) {
		t.Fatal("failed restores changed the store")
	}
}

func TestRestoreRollsBackOnContractViolation(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	st := e.seedStore(t)
	populate(t, e, st.ID)
	snap, err := e.snapshots.Capture(ctx, st.ID, "", testMeta)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}

	// A stricter version rejects the captured accent.
	strict := `{"settingsSchema":{"type":"object","properties":{"accent":{"type":"string","enum":["#000000"]}}}}`
	v2, err := e.catalog.PublishVersion(ctx, PublishRequest{ThemeID: st.ThemeID, Version: "3.0.0", Contract: json.RawMessage(strict)}, testMeta)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := e.stores.UpdateStore(ctx, st.ID, domain.StorePatch{ThemeSettings: json.RawMessage(`{"accent":"#000000"}`)}, testMeta); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := e.stores.BindToVersion(ctx, st.ID, v2.ID, testMeta); err != nil {
		t.Fatalf("bind: %v", err)
	}
	e.upsertEntity(t, st.ID, "product", "plate", `{}`)
	before := contentsOf(t, e, st.ID)

	_, err = e.snapshots.Restore(ctx, st.ID, snap.ID, testMeta)
	if !errors.Is(err, domain.ErrTransactionFailure) || !errors.Is(err, domain.ErrContractViolation) {
		t.Fatalf("expected a rolled back contract violation, got %v", err)
	}
	if !sameContents(before, contentsOf(t, e, st.ID)) {
		t.Fatal("a failed restore left partial changes")
	}
}

func TestRestoreRejectsRowsTheBoundVersionDropped(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	st := e.seedStore(t)
	e.putComponent(t, st.ID, "hero", 0, "", "", "")
	e.putComponent(t, st.ID, "banner", 0, "", "", "")
	e.savePage(t, st.ID, "home", `{"nodes":[{"component":"hero"}]}`)
	e.savePage(t, st.ID, "about", `{"nodes":[{"component":"banner"}]}`)
	snap, err := e.snapshots.Capture(ctx, st.ID, "", testMeta)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}

	if err := e.composer.RemoveComponent(ctx, st.ID, "banner", 0, testMeta); err != nil {
		t.Fatalf("remove banner: %v", err)
	}
	if err := e.composer.DeletePage(ctx, st.ID, "about", testMeta); err != nil {
		t.Fatalf("delete page: %v", err)
	}
	narrow := `{"components":["hero"],"pages":["home"],"settingsSchema":{"type":"object"}}`
	v2, err := e.catalog.PublishVersion(ctx, PublishRequest{ThemeID: st.ThemeID, Version: "2.0.0", Contract: json.RawMessage(narrow)}, testMeta)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := e.stores.BindToVersion(ctx, st.ID, v2.ID, testMeta); err != nil {
		t.Fatalf("bind: %v", err)
	}
	before := contentsOf(t, e, st.ID)

	_, err = e.snapshots.Restore(ctx, st.ID, snap.ID, testMeta)
	if !errors.Is(err, domain.ErrTransactionFailure) || !errors.Is(err, domain.ErrContractViolation) {
		t.Fatalf("expected a rolled back contract violation, got %v", err)
	}
	if !sameContents(before, contentsOf(t, e, st.ID)) {
		t.Fatal("a rejected restore changed the store")
	}
	if _, err := e.composer.PutComponent(ctx, domain.ComponentState{StoreID: st.ID, ComponentPath: "banner"}, testMeta); !errors.Is(err, domain.ErrContractViolation) {
		t.Fatalf("banner must stay undeclared, got %v", err)
	}
}

func TestListSnapshotsNewestFirst(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	st := e.seedStore(t)
	var ids []string
	for _, label := range []string{"a", "b"} {
		snap, err := e.snapshots.Capture(ctx, st.ID, label, testMeta)
		if err != nil {
			t.Fatalf("capture: %v", err)
		}
		ids = append(ids, snap.ID)
	}
	list, err := e.snapshots.ListSnapshots(ctx, st.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != ids[1] || list[0].Label != "b" {
		t.Fatalf("expected newest first, got %+v", list)
	}
	got, err := e.snapshots.GetSnapshot(ctx, ids[0])
	if err != nil || got.Label != "a" {
		t.Fatalf("get snapshot: %+v %v", got, err)
	}
}
