package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/atvirokodosprendimai/storefront/internal/core/domain"
)

func TestUpsertEntityKeyedReplacesPayload(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	st := e.seedStore(t)

	first := e.upsertEntity(t, st.ID, "product", "mug", `{"name":"Mug","price":10}`)
	second := e.upsertEntity(t, st.ID, "product", "mug", `{"name":"Mug","price":12}`)
	if first.ID != second.ID {
		t.Fatalf("keyed upsert created a second row: %s vs %s", first.ID, second.ID)
	}
	got, err := e.fabric.GetEntity(ctx, first.ID)
	if err != nil {
		t.Fatalf("get entity: %v", err)
	}
	if !jsonEqual(t, got.Payload, json.RawMessage(`{"name":"Mug","price":12}`)) {
		t.Fatalf("payload not replaced: %s", got.Payload)
	}

	a := e.upsertEntity(t, st.ID, "note", "", `{"text":"a"}`)
	b := e.upsertEntity(t, st.ID, "note", "", `{"text":"a"}`)
	if a.ID == b.ID {
		t.Fatal("unkeyed entities must always be created")
	}
}

func TestUpsertEntityRejectsUnknownStoreAndBadPayload(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	st := e.seedStore(t)

	_, err := e.fabric.UpsertEntity(ctx, domain.DataEntity{StoreID: "missing", EntityType: "product", Payload: json.RawMessage(`{}`)}, testMeta)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	_, err = e.fabric.UpsertEntity(ctx, domain.DataEntity{StoreID: st.ID, EntityType: "product", Payload: json.RawMessage(`{broken`)}, testMeta)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestAddToCollectionRules(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	st := e.seedStore(t)
	other := e.seedStore(t)

	c := e.manualCollection(t, st.ID, "featured")
	mug := e.upsertEntity(t, st.ID, "product", "mug", `{"name":"Mug"}`)
	foreign := e.upsertEntity(t, other.ID, "product", "cup", `{"name":"Cup"}`)

	if _, err := e.fabric.AddToCollection(ctx, c.ID, mug.ID, 1, testMeta); err != nil {
		t.Fatalf("add: %v", err)
	}
	_, err := e.fabric.AddToCollection(ctx, c.ID, mug.ID, 2, testMeta)
	if !errors.Is(err, domain.ErrDuplicateMembership) || !errors.Is(err, domain.ErrDuplicateKey) {
		t.Fatalf("expected duplicate membership, got %v", err)
	}
	_, err = e.fabric.AddToCollection(ctx, c.ID, foreign.ID, 2, testMeta)
	if !errors.Is(err, domain.ErrIntegrityViolation) {
		t.Fatalf("expected integrity violation for a foreign entity, got %v", err)
	}

	dynamic, err := e.fabric.DefineCollection(ctx, domain.Collection{StoreID: st.ID, Name: "all-products", Source: domain.SourceDynamic, Rules: json.RawMessage(`{"entityType":"product"}`)}, testMeta)
	if err != nil {
		t.Fatalf("define dynamic: %v", err)
	}
	if _, err := e.fabric.AddToCollection(ctx, dynamic.ID, mug.ID, 1, testMeta); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected dynamic collections to refuse manual members, got %v", err)
	}
}

func TestReorderKeepsMembership(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	st := e.seedStore(t)
	c := e.manualCollection(t, st.ID, "featured")

	var ids []string
	for i, name := range []string{"a", "b", "c"} {
		ent := e.upsertEntity(t, st.ID, "product", name, `{"name":"`+name+`"}`)
		ids = append(ids, ent.ID)
		if _, err := e.fabric.AddToCollection(ctx, c.ID, ent.ID, i+1, testMeta); err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
	}

	for i := 0; i < 2; i++ {
		item, err := e.fabric.Reorder(ctx, c.ID, ids[0], 10, testMeta)
		if err != nil {
			t.Fatalf("reorder: %v", err)
		}
		if item.SortOrder != 10 {
			t.Fatalf("expected sort order 10, got %d", item.SortOrder)
		}
	}

	members, err := e.fabric.CollectionEntities(ctx, c.ID)
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	var got []string
	for _, m := range members {
		got = append(got, m.ID)
	}
	want := []string{ids[1], ids[2], ids[0]}
	if !equalStrings(got, want) {
		t.Fatalf("expected order %v, got %v", want, got)
	}

	stranger := e.upsertEntity(t, st.ID, "product", "z", `{"name":"z"}`)
	if _, err := e.fabric.Reorder(ctx, c.ID, stranger.ID, 1, testMeta); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for a non-member, got %v", err)
	}
}

func TestCollectionEntitiesBreaksTiesByInsertion(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	st := e.seedStore(t)
	c := e.manualCollection(t, st.ID, "ties")

	var ids []string
	for _, name := range []string{"x", "y", "z"} {
		ent := e.upsertEntity(t, st.ID, "product", name, `{}`)
		ids = append(ids, ent.ID)
		if _, err := e.fabric.AddToCollection(ctx, c.ID, ent.ID, 5, testMeta); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	members, err := e.fabric.CollectionEntities(ctx, c.ID)
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	var got []string
	for _, m := range members {
		got = append(got, m.ID)
	}
	if !equalStrings(got, ids) {
		t.Fatalf("expected insertion order %v, got %v", ids, got)
	}
}

func TestDynamicCollectionFilterAndLimit(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	st := e.seedStore(t)

	e.upsertEntity(t, st.ID, "product", "a", `{"price":5,"featured":true}`)
	b := e.upsertEntity(t, st.ID, "product", "b", `{"price":20,"featured":true}`)
	c := e.upsertEntity(t, st.ID, "product", "c", `{"price":30,"featured":true}`)
	e.upsertEntity(t, st.ID, "product", "d", `{"price":40,"featured":false}`)
	e.upsertEntity(t, st.ID, "article", "e", `{"price":50,"featured":true}`)

	col, err := e.fabric.DefineCollection(ctx, domain.Collection{
		StoreID: st.ID,
		Name:    "featured-expensive",
		Source:  domain.SourceDynamic,
		Rules:   json.RawMessage(`{"entityType":"product","filter":"payload.featured && payload.price > 10","limit":2}`),
	}, testMeta)
	if err != nil {
		t.Fatalf("define: %v", err)
	}
	members, err := e.fabric.CollectionEntities(ctx, col.ID)
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	var got []string
	for _, m := range members {
		got = append(got, m.ID)
	}
	if !equalStrings(got, []string{b.ID, c.ID}) {
		t.Fatalf("expected [%s %s], got %v", b.ID, c.ID, got)
	}

	_, err = e.fabric.DefineCollection(ctx, domain.Collection{StoreID: st.ID, Name: "broken", Source: domain.SourceDynamic, Rules: json.RawMessage(`{"entityType":"product","filter":"payload.price >"}`)}, testMeta)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected a broken filter to be rejected, got %v", err)
	}
}

func TestDeleteEntityCascadesMembership(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	st := e.seedStore(t)
	c := e.manualCollection(t, st.ID, "featured")
	mug := e.upsertEntity(t, st.ID, "product", "mug", `{}`)
	if _, err := e.fabric.AddToCollection(ctx, c.ID, mug.ID, 1, testMeta); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := e.fabric.DeleteEntity(ctx, mug.ID, testMeta); err != nil {
		t.Fatalf("delete: %v", err)
	}
	members, err := e.fabric.CollectionEntities(ctx, c.ID)
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("expected no members, got %d", len(members))
	}
	if err := e.fabric.DeleteEntity(ctx, mug.ID, testMeta); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestEntityStatsGroupsByType(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	st := e.seedStore(t)
	e.upsertEntity(t, st.ID, "product", "a", `{}`)
	e.upsertEntity(t, st.ID, "product", "b", `{}`)
	e.upsertEntity(t, st.ID, "article", "c", `{}`)

	stats, err := e.fabric.EntityStats(ctx, st.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	counts := map[string]int64{}
	for _, s := range stats {
		counts[s.EntityType] = s.Count
	}
	if counts["product"] != 2 || counts["article"] != 1 || len(counts) != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
