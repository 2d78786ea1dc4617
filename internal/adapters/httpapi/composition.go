package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/atvirokodosprendimai/storefront/internal/core/domain"
	"github.com/go-chi/chi/v5"
)

type componentRequest struct {
	ComponentKey string          `json:"component_key"`
	Settings     json.RawMessage `json:"settings"`
	Visibility   json.RawMessage `json:"visibility"`
}

type moveRequest struct {
	To int `json:"to"`
}

type componentResponse struct {
	ID            string          `json:"id"`
	StoreID       string          `json:"store_id"`
	ComponentPath string          `json:"component_path"`
	InstanceOrder int             `json:"instance_order"`
	ComponentKey  string          `json:"component_key,omitempty"`
	Settings      json.RawMessage `json:"settings,omitempty"`
	Visibility    json.RawMessage `json:"visibility,omitempty"`
	CreatedAt     string          `json:"created_at"`
	UpdatedAt     string          `json:"updated_at"`
}

type pageResponse struct {
	ID          string          `json:"id"`
	StoreID     string          `json:"store_id"`
	Page        string          `json:"page"`
	Composition json.RawMessage `json:"composition"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
}

func (h *Handler) putComponent(w http.ResponseWriter, r *http.Request) {
	order, ok := intParam(w, r, "order")
	if !ok {
		return
	}
	var req componentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	cs, err := h.svc.Composer.PutComponent(r.Context(), domain.ComponentState{
		StoreID:       chi.URLParam(r, "storeID"),
		ComponentPath: pathParam(r, "path"),
		InstanceOrder: order,
		ComponentKey:  req.ComponentKey,
		Settings:      req.Settings,
		Visibility:    req.Visibility,
	}, metaFrom(r))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toComponentResponse(cs))
}

func (h *Handler) appendComponent(w http.ResponseWriter, r *http.Request) {
	var req componentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	cs, err := h.svc.Composer.AppendComponent(r.Context(), domain.ComponentState{
		StoreID:       chi.URLParam(r, "storeID"),
		ComponentPath: pathParam(r, "path"),
		ComponentKey:  req.ComponentKey,
		Settings:      req.Settings,
		Visibility:    req.Visibility,
	}, metaFrom(r))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toComponentResponse(cs))
}

func (h *Handler) moveComponent(w http.ResponseWriter, r *http.Request) {
	from, ok := intParam(w, r, "order")
	if !ok {
		return
	}
	var req moveRequest
	if !decodeBody(w, r, &req) {
		return
	}

	cs, err := h.svc.Composer.MoveComponent(r.Context(), chi.URLParam(r, "storeID"), pathParam(r, "path"), from, req.To, metaFrom(r))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toComponentResponse(cs))
}

func (h *Handler) removeComponent(w http.ResponseWriter, r *http.Request) {
	order, ok := intParam(w, r, "order")
	if !ok {
		return
	}
	if err := h.svc.Composer.RemoveComponent(r.Context(), chi.URLParam(r, "storeID"), pathParam(r, "path"), order, metaFrom(r)); err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *Handler) listComponents(w http.ResponseWriter, r *http.Request) {
	components, err := h.svc.Composer.ListComponents(r.Context(), chi.URLParam(r, "storeID"), r.URL.Query().Get("path"))
	if err != nil {
		handleDomainError(w, err)
		return
	}

	result := make([]componentResponse, 0, len(components))
	for _, cs := range components {
		result = append(result, toComponentResponse(cs))
	}
	writeJSON(w, http.StatusOK, map[string]any{"components": result})
}

// savePage takes the composition document itself as the request body.
func (h *Handler) savePage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	decoder := json.NewDecoder(r.Body)
	var composition json.RawMessage
	if err := decoder.Decode(&composition); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := ensureEOF(decoder); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	page, err := h.svc.Composer.SavePage(r.Context(), chi.URLParam(r, "storeID"), pathParam(r, "page"), composition, metaFrom(r))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(page))
}

func (h *Handler) getPage(w http.ResponseWriter, r *http.Request) {
	page, err := h.svc.Composer.GetPage(r.Context(), chi.URLParam(r, "storeID"), pathParam(r, "page"))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(page))
}

func (h *Handler) deletePage(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Composer.DeletePage(r.Context(), chi.URLParam(r, "storeID"), pathParam(r, "page"), metaFrom(r)); err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *Handler) listPages(w http.ResponseWriter, r *http.Request) {
	pages, err := h.svc.Composer.ListPages(r.Context(), chi.URLParam(r, "storeID"))
	if err != nil {
		handleDomainError(w, err)
		return
	}

	result := make([]pageResponse, 0, len(pages))
	for _, p := range pages {
		result = append(result, toPageResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": result})
}

func (h *Handler) composePage(w http.ResponseWriter, r *http.Request) {
	tree, err := h.svc.Composer.ComposePage(r.Context(), chi.URLParam(r, "storeID"), pathParam(r, "page"))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	if tree.Roots == nil {
		tree.Roots = []domain.TreeNode{}
	}
	writeJSON(w, http.StatusOK, tree)
}

func (h *Handler) pageStatus(w http.ResponseWriter, r *http.Request) {
	storeID, page := chi.URLParam(r, "storeID"), pathParam(r, "page")
	writeJSON(w, http.StatusOK, map[string]any{
		"store_id": storeID,
		"page":     page,
		"status":   h.svc.Composer.PageStatus(storeID, page),
	})
}

func toComponentResponse(cs domain.ComponentState) componentResponse {
	return componentResponse{
		ID:            cs.ID,
		StoreID:       cs.StoreID,
		ComponentPath: cs.ComponentPath,
		InstanceOrder: cs.InstanceOrder,
		ComponentKey:  cs.ComponentKey,
		Settings:      cs.Settings,
		Visibility:    cs.Visibility,
		CreatedAt:     cs.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt:     cs.UpdatedAt.UTC().Format(timeFormat),
	}
}

func toPageResponse(p domain.PageComposition) pageResponse {
	return pageResponse{
		ID:          p.ID,
		StoreID:     p.StoreID,
		Page:        p.Page,
		Composition: p.Composition,
		CreatedAt:   p.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt:   p.UpdatedAt.UTC().Format(timeFormat),
	}
}
