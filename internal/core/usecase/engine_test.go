package usecase

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/atvirokodosprendimai/storefront/internal/adapters/sqlite"
	"github.com/atvirokodosprendimai/storefront/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/storefront/internal/core/domain"
	"github.com/atvirokodosprendimai/storefront/migrations"
)

// engine wires every service against a fresh sqlite file.
type engine struct {
	catalog   *Catalog
	fabric    *Fabric
	bindings  *BindingResolver
	composer  *Composer
	stores    *StoreService
	snapshots *Snapshots
	revisions *Revisions
	es        *sqlite.EntityStore
	db        *gormsqlite.DB
}

var testMeta = domain.MutationMetadata{Actor: "test", Source: "usecase-test"}

func newEngine(t *testing.T) *engine {
	t.Helper()
	ctx := context.Background()
	db, err := gormsqlite.Open(filepath.Join(t.TempDir(), "engine.sqlite"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	wdb, err := db.WriteSQLDB()
	if err != nil {
		t.Fatalf("writer sql db: %v", err)
	}
	if err := migrations.Up(ctx, wdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	es, err := sqlite.NewEntityStore(db)
	if err != nil {
		t.Fatalf("entity store: %v", err)
	}

	revisions := NewRevisions()
	contracts := NewContractValidator()
	fabric := NewFabric(es, revisions)
	bindings := NewBindingResolver(es, fabric, revisions)
	composer := NewComposer(es, bindings, revisions)
	return &engine{
		catalog:   NewCatalog(es, contracts),
		fabric:    fabric,
		bindings:  bindings,
		composer:  composer,
		stores:    NewStoreService(es, contracts, revisions, composer),
		snapshots: NewSnapshots(es, contracts, revisions, composer),
		revisions: revisions,
		es:        es,
		db:        db,
	}
}

const heroContract = `{
	"components": ["hero", "banner", "footer"],
	"pages": ["home", "about"],
	"settingsSchema": {
		"type": "object",
		"properties": {"accent": {"type": "string", "pattern": "^#[0-9a-f]{6}$"}},
		"additionalProperties": true
	}
}`

// seedTheme publishes version 1.0.0 of a fresh theme.
func (e *engine) seedTheme(t *testing.T, contract string) (domain.Theme, domain.ThemeVersion) {
	t.Helper()
	ctx := context.Background()
	theme, err := e.catalog.CreateTheme(ctx, domain.Theme{Name: domain.BilingualText{Primary: "Dawn"}}, testMeta)
	if err != nil {
		t.Fatalf("create theme: %v", err)
	}
	v, err := e.catalog.PublishVersion(ctx, PublishRequest{ThemeID: theme.ID, Version: "1.0.0", Contract: json.RawMessage(contract)}, testMeta)
	if err != nil {
		t.Fatalf("publish version: %v", err)
	}
	return theme, v
}

// seedStore creates a master store on a fresh hero theme.
func (e *engine) seedStore(t *testing.T) domain.Store {
	t.Helper()
	_, v := e.seedTheme(t, heroContract)
	st, err := e.stores.CreateStore(context.Background(), CreateStoreRequest{
		ThemeVersionID: v.ID,
		Title:          "Main",
		ActivePage:     "home",
		Viewport:       "desktop",
		DefaultLocale:  "en",
		ThemeSettings:  json.RawMessage(`{"accent":"#112233"}`),
	}, testMeta)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	return st
}

func (e *engine) putComponent(t *testing.T, storeID, path string, order int, key, settings, visibility string) domain.ComponentState {
	t.Helper()
	cs := domain.ComponentState{StoreID: storeID, ComponentPath: path, InstanceOrder: order, ComponentKey: key}
	if settings != "" {
		cs.Settings = json.RawMessage(settings)
	}
	if visibility != "" {
		cs.Visibility = json.RawMessage(visibility)
	}
	got, err := e.composer.PutComponent(context.Background(), cs, testMeta)
	if err != nil {
		t.Fatalf("put component %s/%d: %v", path, order, err)
	}
	return got
}

func (e *engine) savePage(t *testing.T, storeID, page, composition string) {
	t.Helper()
	if _, err := e.composer.SavePage(context.Background(), storeID, page, json.RawMessage(composition), testMeta); err != nil {
		t.Fatalf("save page %s: %v", page, err)
	}
}

func (e *engine) upsertEntity(t *testing.T, storeID, typ, key, payload string) domain.DataEntity {
	t.Helper()
	got, err := e.fabric.UpsertEntity(context.Background(), domain.DataEntity{StoreID: storeID, EntityType: typ, EntityKey: key, Payload: json.RawMessage(payload)}, testMeta)
	if err != nil {
		t.Fatalf("upsert entity: %v", err)
	}
	return got
}

func (e *engine) manualCollection(t *testing.T, storeID, name string) domain.Collection {
	t.Helper()
	c, err := e.fabric.DefineCollection(context.Background(), domain.Collection{StoreID: storeID, Name: name, Source: domain.SourceManual}, testMeta)
	if err != nil {
		t.Fatalf("define collection: %v", err)
	}
	return c
}

func entityIDs(entities []domain.ResolvedEntity) []string {
	out := make([]string, 0, len(entities))
	for _, e := range entities {
		out = append(out, e.ID)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// jsonEqual compares two documents structurally.
func jsonEqual(t *testing.T, a, b json.RawMessage) bool {
	t.Helper()
	var x, y any
	if err := json.Unmarshal(objectOrEmpty(a), &x); err != nil {
		t.Fatalf("decode %s: %v", a, err)
	}
	if err := json.Unmarshal(objectOrEmpty(b), &y); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
	ax, _ := json.Marshal(x)
	by, _ := json.Marshal(y)
	return string(ax) == string(by)
}
