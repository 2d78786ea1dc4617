package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type ComponentState struct {
	ID            string
	StoreID       string
	ComponentPath string
	InstanceOrder int
	ComponentKey  string
	Settings      json.RawMessage
	Visibility    json.RawMessage
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (c ComponentState) Validate() error {
	if err := ValidateID("store", c.StoreID); err != nil {
		return err
	}
	if err := ValidateName("component path", c.ComponentPath); err != nil {
		return err
	}
	if c.InstanceOrder < 0 {
		return fmt.Errorf("instance order must not be negative: %w", ErrInvalidInput)
	}
	if c.ComponentKey != "" {
		if err := ValidateName("component key", c.ComponentKey); err != nil {
			return err
		}
	}
	if !ValidJSON(c.Settings) || !ValidJSON(c.Visibility) {
		return fmt.Errorf("component settings must be valid json: %w", ErrInvalidInput)
	}
	return nil
}

type PageComposition struct {
	ID          string
	StoreID     string
	Page        string
	Composition json.RawMessage
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CompositionDoc is the ordering skeleton stored in PageComposition.Composition.
type CompositionDoc struct {
	Nodes []CompositionNode `json:"nodes"`
}

// CompositionNode references a component instance by key, by instance order,
// or, when both are absent, every instance of Component in instance order.
type CompositionNode struct {
	Component string            `json:"component"`
	Instance  *int              `json:"instance,omitempty"`
	Key       string            `json:"key,omitempty"`
	Bindings  []string          `json:"bindings,omitempty"`
	Children  []CompositionNode `json:"children,omitempty"`
}

func (n CompositionNode) ref() string {
	switch {
	case n.Key != "":
		return "key=" + n.Key
	case n.Instance != nil:
		return fmt.Sprintf("instance=%d", *n.Instance)
	default:
		return "all instances"
	}
}

// Ref describes how the node addresses its component instance.
func (n CompositionNode) Ref() string { return n.ref() }

// ParseComposition decodes and validates a page composition document.
func ParseComposition(raw json.RawMessage) (CompositionDoc, error) {
	var doc CompositionDoc
	if len(raw) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return CompositionDoc{}, fmt.Errorf("composition must be a json object with nodes: %w", ErrInvalidInput)
	}
	if err := validateNodes(doc.Nodes); err != nil {
		return CompositionDoc{}, err
	}
	return doc, nil
}

func validateNodes(nodes []CompositionNode) error {
	for _, n := range nodes {
		if err := ValidateName("component path", n.Component); err != nil {
			return err
		}
		if n.Instance != nil && *n.Instance < 0 {
			return fmt.Errorf("node %q: instance must not be negative: %w", n.Component, ErrInvalidInput)
		}
		for _, key := range n.Bindings {
			if err := ValidateName("binding key", key); err != nil {
				return err
			}
		}
		if err := validateNodes(n.Children); err != nil {
			return err
		}
	}
	return nil
}

// Visibility is the decoded form of ComponentState.Visibility.
type Visibility struct {
	Hidden    bool     `json:"hidden,omitempty"`
	Viewports []string `json:"viewports,omitempty"`
	Pages     []string `json:"pages,omitempty"`
	When      string   `json:"when,omitempty"`
}

// TreeNode is one resolved component of a composed page.
type TreeNode struct {
	ComponentPath string                   `json:"componentPath"`
	ComponentKey  string                   `json:"componentKey,omitempty"`
	InstanceOrder int                      `json:"instanceOrder"`
	Settings      json.RawMessage          `json:"settings,omitempty"`
	Visibility    json.RawMessage          `json:"visibility,omitempty"`
	Bindings      map[string]ResolvedValue `json:"resolvedBindings"`
	Children      []TreeNode               `json:"children,omitempty"`
}

type ComponentTree struct {
	StoreID  string     `json:"storeId"`
	Page     string     `json:"page"`
	Revision uint64     `json:"revision"`
	Roots    []TreeNode `json:"roots"`
}

// PageStatus is the cache state of a composed page.
type PageStatus string

const (
	PageDraft    PageStatus = "draft"
	PageResolved PageStatus = "resolved"
	PageStale    PageStatus = "stale"
)
