package usecase

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/atvirokodosprendimai/storefront/internal/core/domain"
)

func decodeVisibility(raw json.RawMessage) (domain.Visibility, error) {
	var v domain.Visibility
	if len(raw) == 0 || string(raw) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return domain.Visibility{}, fmt.Errorf("visibility must be a json object: %w", domain.ErrInvalidInput)
	}
	return v, nil
}

// renderEnv is what visibility rules can see about the page being composed.
type renderEnv struct {
	page     string
	viewport string
	vars     map[string]any
}

func newRenderEnv(s domain.Store, page string) renderEnv {
	var settings, themeSettings, branding any
	_ = json.Unmarshal(objectOrEmpty(s.Settings), &settings)
	_ = json.Unmarshal(objectOrEmpty(s.ThemeSettings), &themeSettings)
	_ = json.Unmarshal(objectOrEmpty(s.Branding), &branding)
	return renderEnv{
		page:     page,
		viewport: s.Viewport,
		vars: map[string]any{
			"page":          page,
			"viewport":      s.Viewport,
			"locale":        s.DefaultLocale,
			"currency":      s.DefaultCurrency,
			"settings":      settings,
			"themeSettings": themeSettings,
			"branding":      branding,
		},
	}
}

// visible applies hidden, then the viewport and page allow lists, then the
// when expression.
func (p *predicates) visible(v domain.Visibility, env renderEnv) (bool, error) {
	if v.Hidden {
		return false, nil
	}
	if len(v.Viewports) > 0 && env.viewport != "" && !slices.Contains(v.Viewports, env.viewport) {
		return false, nil
	}
	if len(v.Pages) > 0 && !slices.Contains(v.Pages, env.page) {
		return false, nil
	}
	if v.When == "" {
		return true, nil
	}
	return p.eval(v.When, env.vars)
}

// prune drops invisible nodes together with their subtrees.
func (p *predicates) prune(nodes []domain.TreeNode, env renderEnv) ([]domain.TreeNode, error) {
	kept := make([]domain.TreeNode, 0, len(nodes))
	for _, n := range nodes {
		v, err := decodeVisibility(n.Visibility)
		if err != nil {
			return nil, fmt.Errorf("component %s/%d: %w", n.ComponentPath, n.InstanceOrder, err)
		}
		ok, err := p.visible(v, env)
		if err != nil {
			return nil, fmt.Errorf("component %s/%d visibility: %w", n.ComponentPath, n.InstanceOrder, err)
		}
		if !ok {
			continue
		}
		if n.Children, err = p.prune(n.Children, env); err != nil {
			return nil, err
		}
		kept = append(kept, n)
	}
	return kept, nil
}
