package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/atvirokodosprendimai/storefront/internal/core/domain"
	"github.com/atvirokodosprendimai/storefront/internal/core/usecase"
	"github.com/go-chi/chi/v5"
)

type createStoreRequest struct {
	ThemeVersionID  string          `json:"theme_version_id"`
	Title           string          `json:"title"`
	DefaultLocale   string          `json:"default_locale"`
	DefaultCurrency string          `json:"default_currency"`
	ActivePage      string          `json:"active_page"`
	Viewport        string          `json:"viewport"`
	Settings        json.RawMessage `json:"settings"`
	ThemeSettings   json.RawMessage `json:"theme_settings"`
	Branding        json.RawMessage `json:"branding"`
}

type updateStoreRequest struct {
	Title           *string         `json:"title"`
	DefaultLocale   *string         `json:"default_locale"`
	DefaultCurrency *string         `json:"default_currency"`
	ActivePage      *string         `json:"active_page"`
	Viewport        *string         `json:"viewport"`
	Settings        json.RawMessage `json:"settings"`
	ThemeSettings   json.RawMessage `json:"theme_settings"`
	Branding        json.RawMessage `json:"branding"`
}

type bindRequest struct {
	ThemeVersionID string `json:"theme_version_id"`
}

type cloneRequest struct {
	Title string `json:"title"`
}

type storeResponse struct {
	ID              string          `json:"id"`
	ThemeID         string          `json:"theme_id"`
	ThemeVersionID  string          `json:"theme_version_id"`
	Title           string          `json:"title"`
	DefaultLocale   string          `json:"default_locale,omitempty"`
	DefaultCurrency string          `json:"default_currency,omitempty"`
	ActivePage      string          `json:"active_page,omitempty"`
	Viewport        string          `json:"viewport,omitempty"`
	Settings        json.RawMessage `json:"settings,omitempty"`
	ThemeSettings   json.RawMessage `json:"theme_settings,omitempty"`
	Branding        json.RawMessage `json:"branding,omitempty"`
	IsMaster        bool            `json:"is_master"`
	ParentStoreID   string          `json:"parent_store_id,omitempty"`
	CreatedAt       string          `json:"created_at"`
	UpdatedAt       string          `json:"updated_at"`
}

type storeStateResponse struct {
	StoreID        string          `json:"store_id"`
	ThemeID        string          `json:"theme_id"`
	ThemeVersionID string          `json:"theme_version_id"`
	ActivePage     string          `json:"active_page,omitempty"`
	Viewport       string          `json:"viewport,omitempty"`
	Settings       json.RawMessage `json:"settings,omitempty"`
	ThemeSettings  json.RawMessage `json:"theme_settings,omitempty"`
	Branding       json.RawMessage `json:"branding,omitempty"`
	Revision       int64           `json:"revision"`
	UpdatedAt      string          `json:"updated_at"`
}

func (h *Handler) createStore(w http.ResponseWriter, r *http.Request) {
	var req createStoreRequest
	if !decodeBody(w, r, &req) {
		return
	}

	st, err := h.svc.Stores.CreateStore(r.Context(), usecase.CreateStoreRequest{
		ThemeVersionID:  req.ThemeVersionID,
		Title:           req.Title,
		DefaultLocale:   req.DefaultLocale,
		DefaultCurrency: req.DefaultCurrency,
		ActivePage:      req.ActivePage,
		Viewport:        req.Viewport,
		Settings:        req.Settings,
		ThemeSettings:   req.ThemeSettings,
		Branding:        req.Branding,
	}, metaFrom(r))
	if err != nil {
		handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toStoreResponse(st))
}

func (h *Handler) getStore(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stores.GetStore(r.Context(), chi.URLParam(r, "storeID"))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStoreResponse(st))
}

func (h *Handler) listStores(w http.ResponseWriter, r *http.Request) {
	stores, err := h.svc.Stores.ListStores(r.Context(), r.URL.Query().Get("parent"))
	if err != nil {
		handleDomainError(w, err)
		return
	}

	result := make([]storeResponse, 0, len(stores))
	for _, st := range stores {
		result = append(result, toStoreResponse(st))
	}
	writeJSON(w, http.StatusOK, map[string]any{"stores": result})
}

func (h *Handler) updateStore(w http.ResponseWriter, r *http.Request) {
	var req updateStoreRequest
	if !decodeBody(w, r, &req) {
		return
	}

	st, err := h.svc.Stores.UpdateStore(r.Context(), chi.URLParam(r, "storeID"), domain.StorePatch{
		Title:           req.Title,
		DefaultLocale:   req.DefaultLocale,
		DefaultCurrency: req.DefaultCurrency,
		ActivePage:      req.ActivePage,
		Viewport:        req.Viewport,
		Settings:        req.Settings,
		ThemeSettings:   req.ThemeSettings,
		Branding:        req.Branding,
	}, metaFrom(r))
	if err != nil {
		handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toStoreResponse(st))
}

func (h *Handler) deleteStore(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Stores.DeleteStore(r.Context(), chi.URLParam(r, "storeID"), metaFrom(r)); err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *Handler) bindStore(w http.ResponseWriter, r *http.Request) {
	var req bindRequest
	if !decodeBody(w, r, &req) {
		return
	}

	st, err := h.svc.Stores.BindToVersion(r.Context(), chi.URLParam(r, "storeID"), req.ThemeVersionID, metaFrom(r))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStoreResponse(st))
}

func (h *Handler) cloneStore(w http.ResponseWriter, r *http.Request) {
	var req cloneRequest
	if !decodeBody(w, r, &req) {
		return
	}

	clone, err := h.svc.Stores.CloneStore(r.Context(), chi.URLParam(r, "storeID"), req.Title, metaFrom(r))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toStoreResponse(clone))
}

func (h *Handler) getStoreState(w http.ResponseWriter, r *http.Request) {
	state, err := h.svc.Stores.GetStoreState(r.Context(), chi.URLParam(r, "storeID"))
	if err != nil {
		handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, storeStateResponse{
		StoreID:        state.StoreID,
		ThemeID:        state.ThemeID,
		ThemeVersionID: state.ThemeVersionID,
		ActivePage:     state.ActivePage,
		Viewport:       state.Viewport,
		Settings:       state.Settings,
		ThemeSettings:  state.ThemeSettings,
		Branding:       state.Branding,
		Revision:       state.Revision,
		UpdatedAt:      state.UpdatedAt.UTC().Format(timeFormat),
	})
}

func (h *Handler) storeHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	afterID, ok := parseAfter(w, r)
	if !ok {
		return
	}

	events, err := h.svc.Audit.StoreHistory(r.Context(), chi.URLParam(r, "storeID"), afterID, limit)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeAuditPage(w, events)
}

func (h *Handler) listAudit(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	afterID, ok := parseAfter(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	events, err := h.svc.Audit.List(r.Context(), domain.AuditFilter{
		AggregateType: q.Get("aggregate_type"),
		AggregateID:   q.Get("aggregate_id"),
		Action:        q.Get("action"),
		AfterID:       afterID,
		Limit:         limit,
	})
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeAuditPage(w, events)
}

func parseAfter(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.URL.Query().Get("after")
	if raw == "" {
		return 0, true
	}
	afterID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "after must be integer")
		return 0, false
	}
	return afterID, true
}

// writeAuditPage returns events newest first; next_after continues past the
// oldest event of the page.
func writeAuditPage(w http.ResponseWriter, events []domain.AuditTrailEvent) {
	body := map[string]any{"events": events}
	if events == nil {
		body["events"] = []domain.AuditTrailEvent{}
	}
	if n := len(events); n > 0 {
		body["next_after"] = events[n-1].ID
	}
	writeJSON(w, http.StatusOK, body)
}

func toStoreResponse(s domain.Store) storeResponse {
	return storeResponse{
		ID:              s.ID,
		ThemeID:         s.ThemeID,
		ThemeVersionID:  s.ThemeVersionID,
		Title:           s.Title,
		DefaultLocale:   s.DefaultLocale,
		DefaultCurrency: s.DefaultCurrency,
		ActivePage:      s.ActivePage,
		Viewport:        s.Viewport,
		Settings:        s.Settings,
		ThemeSettings:   s.ThemeSettings,
		Branding:        s.Branding,
		IsMaster:        s.IsMaster,
		ParentStoreID:   s.ParentStoreID,
		CreatedAt:       s.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt:       s.UpdatedAt.UTC().Format(timeFormat),
	}
}
