package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/atvirokodosprendimai/storefront/internal/core/domain"
)

func TestPublishDuplicateVersionLeavesCatalogUnchanged(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	theme, first := e.seedTheme(t, `{}`)

	for _, v := range []string{"1.0.0", "v1.0.0"} {
		_, err := e.catalog.PublishVersion(ctx, PublishRequest{ThemeID: theme.ID, Version: v, Contract: json.RawMessage(`{"pages":["home"]}`)}, testMeta)
		if !errors.Is(err, domain.ErrDuplicateVersion) || !errors.Is(err, domain.ErrDuplicateKey) {
			t.Fatalf("publish %s: expected duplicate version, got %v", v, err)
		}
	}

	versions, err := e.catalog.ListVersions(ctx, theme.ID)
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(versions) != 1 || versions[0].ID != first.ID {
		t.Fatalf("expected only the first version, got %+v", versions)
	}
}

func TestPublishVersionValidatesInput(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	theme, _ := e.seedTheme(t, `{}`)

	cases := []struct {
		name string
		req  PublishRequest
		want error
	}{
		{"bad semver", PublishRequest{ThemeID: theme.ID, Version: "one", Contract: json.RawMessage(`{}`)}, domain.ErrInvalidInput},
		{"major only", PublishRequest{ThemeID: theme.ID, Version: "2", Contract: json.RawMessage(`{}`)}, domain.ErrInvalidInput},
		{"no patch", PublishRequest{ThemeID: theme.ID, Version: "1.0", Contract: json.RawMessage(`{}`)}, domain.ErrInvalidInput},
		{"contract not an object", PublishRequest{ThemeID: theme.ID, Version: "2.0.0", Contract: json.RawMessage(`[1]`)}, domain.ErrInvalidInput},
		{"schema does not compile", PublishRequest{ThemeID: theme.ID, Version: "2.0.0", Contract: json.RawMessage(`{"settingsSchema":{"type":12}}`)}, domain.ErrInvalidInput},
		{"hash mismatch", PublishRequest{ThemeID: theme.ID, Version: "2.0.0", Contract: json.RawMessage(`{}`), SchemaHash: "deadbeef"}, domain.ErrIntegrityViolation},
		{"unknown theme", PublishRequest{ThemeID: "missing", Version: "2.0.0", Contract: json.RawMessage(`{}`)}, domain.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := e.catalog.PublishVersion(ctx, tc.req, testMeta); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestPublishVersionAcceptsMatchingHash(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	theme, _ := e.seedTheme(t, `{}`)

	contract := json.RawMessage(`{"pages": ["home"],  "components": ["hero"]}`)
	hash, err := NewContractValidator().Hash(json.RawMessage(`{"components":["hero"],"pages":["home"]}`))
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	v, err := e.catalog.PublishVersion(ctx, PublishRequest{ThemeID: theme.ID, Version: "1.1.0", Contract: contract, SchemaHash: hash}, testMeta)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if v.SchemaHash != hash {
		t.Fatalf("expected hash %s, got %s", hash, v.SchemaHash)
	}
}

func TestListVersionsOrdersBySemver(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	theme, _ := e.seedTheme(t, `{}`)
	for _, v := range []string{"1.10.0", "1.2.0", "2.0.0-rc.1"} {
		if _, err := e.catalog.PublishVersion(ctx, PublishRequest{ThemeID: theme.ID, Version: v, Contract: json.RawMessage(`{}`)}, testMeta); err != nil {
			t.Fatalf("publish %s: %v", v, err)
		}
	}

	versions, err := e.catalog.ListVersions(ctx, theme.ID)
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	var got []string
	for _, v := range versions {
		got = append(got, v.Version)
	}
	want := []string{"1.0.0", "1.2.0", "1.10.0", "2.0.0-rc.1"}
	if !equalStrings(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	latest, err := e.catalog.LatestVersion(ctx, theme.ID)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Version != "2.0.0-rc.1" {
		t.Fatalf("expected latest 2.0.0-rc.1, got %s", latest.Version)
	}
}

func TestContractValidatorReportsSchemaViolations(t *testing.T) {
	v := NewContractValidator()
	version := domain.ThemeVersion{ID: "v1", Contract: json.RawMessage(heroContract)}

	if err := v.ValidateSettings(version, json.RawMessage(`{"accent":"#abcdef"}`)); err != nil {
		t.Fatalf("valid settings rejected: %v", err)
	}
	err := v.ValidateSettings(version, json.RawMessage(`{"accent":"red"}`))
	var violation *domain.ErrSchemaViolation
	if !errors.As(err, &violation) || len(violation.Errors) == 0 {
		t.Fatalf("expected schema violation details, got %v", err)
	}
	if !errors.Is(err, domain.ErrContractViolation) {
		t.Fatalf("expected contract violation, got %v", err)
	}
	if err := v.ValidateSettings(domain.ThemeVersion{ID: "v2", Contract: json.RawMessage(`{}`)}, json.RawMessage(`{"anything":1}`)); err != nil {
		t.Fatalf("schemaless contract should accept anything: %v", err)
	}
}
