package usecase

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	santhosh "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/atvirokodosprendimai/storefront/internal/core/domain"
)

// contractHashDomain separates contract hashes from any other sha256 use.
const contractHashDomain = "storefront/contract/v1"

// ContractValidator checks theme contracts and validates store theme settings
// against the settingsSchema a contract declares.
type ContractValidator struct {
	cache sync.Map // theme version id -> *santhosh.Schema
}

func NewContractValidator() *ContractValidator {
	return &ContractValidator{}
}

// Check decodes a contract document and makes sure its settingsSchema
// compiles.
func (v *ContractValidator) Check(raw json.RawMessage) (domain.Contract, error) {
	if len(raw) == 0 || !json.Valid(raw) || bytes.TrimSpace(raw)[0] != '{' {
		return domain.Contract{}, fmt.Errorf("contract must be a json object: %w", domain.ErrInvalidInput)
	}
	c, err := domain.DecodeContract(raw)
	if err != nil {
		return domain.Contract{}, err
	}
	for _, p := range c.Components {
		if err := domain.ValidateName("contract component", p); err != nil {
			return domain.Contract{}, err
		}
	}
	for _, p := range c.Pages {
		if err := domain.ValidateName("contract page", p); err != nil {
			return domain.Contract{}, err
		}
	}
	if len(c.SettingsSchema) > 0 {
		if _, err := compileSchema(c.SettingsSchema); err != nil {
			return domain.Contract{}, fmt.Errorf("invalid settings schema: %v: %w", err, domain.ErrInvalidInput)
		}
	}
	return c, nil
}

// Hash returns the domain separated sha256 of the canonical contract JSON.
// Canonical means re-marshaled through encoding/json, which sorts object keys
// and drops insignificant whitespace.
func (v *ContractValidator) Hash(raw json.RawMessage) (string, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("contract hash: %w", domain.ErrInvalidInput)
	}
	canonical, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("contract hash: %w", err)
	}
	return hashWithDomain(contractHashDomain, canonical), nil
}

func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ValidateSettings checks settings against the settingsSchema of version. A
// contract without a schema accepts anything. Returns
// *domain.ErrSchemaViolation on failure.
func (v *ContractValidator) ValidateSettings(version domain.ThemeVersion, settings json.RawMessage) error {
	if cached, ok := v.cache.Load(version.ID); ok {
		if cached == nil {
			return nil
		}
		return runValidation(cached.(*santhosh.Schema), objectOrEmpty(settings))
	}

	c, err := domain.DecodeContract(version.Contract)
	if err != nil {
		return err
	}
	if len(c.SettingsSchema) == 0 {
		v.cache.Store(version.ID, nil)
		return nil
	}
	compiled, err := compileSchema(c.SettingsSchema)
	if err != nil {
		return fmt.Errorf("compile settings schema of version %s: %w", version.ID, err)
	}
	v.cache.Store(version.ID, compiled)
	return runValidation(compiled, objectOrEmpty(settings))
}

// compileSchema builds a *santhosh.Schema from raw JSON.
func compileSchema(schemaJSON json.RawMessage) (*santhosh.Schema, error) {
	compiler := santhosh.NewCompiler()
	compiler.Draft = santhosh.Draft7
	if err := compiler.AddResource("schema.json", bytes.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return compiler.Compile("schema.json")
}

// runValidation validates data against a pre-compiled schema.
func runValidation(sch *santhosh.Schema, data json.RawMessage) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("theme settings must be valid json: %w", domain.ErrInvalidInput)
	}
	if err := sch.Validate(doc); err != nil {
		var ve *santhosh.ValidationError
		if errors.As(err, &ve) {
			return &domain.ErrSchemaViolation{Errors: collectValidationErrors(ve)}
		}
		return &domain.ErrSchemaViolation{Errors: []string{err.Error()}}
	}
	return nil
}

func collectValidationErrors(ve *santhosh.ValidationError) []string {
	var msgs []string
	for _, cause := range ve.Causes {
		msgs = append(msgs, collectValidationErrors(cause)...)
	}
	if len(ve.Causes) == 0 {
		msgs = append(msgs, ve.Error())
	}
	return msgs
}
