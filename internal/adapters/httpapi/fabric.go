package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/atvirokodosprendimai/storefront/internal/core/domain"
	"github.com/go-chi/chi/v5"
)

type entityRequest struct {
	EntityType string          `json:"entity_type"`
	EntityKey  string          `json:"entity_key"`
	Payload    json.RawMessage `json:"payload"`
}

type entityResponse struct {
	ID         string          `json:"id"`
	StoreID    string          `json:"store_id"`
	EntityType string          `json:"entity_type,omitempty"`
	EntityKey  string          `json:"entity_key,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  string          `json:"created_at"`
	UpdatedAt  string          `json:"updated_at"`
}

type collectionRequest struct {
	Name   string          `json:"name"`
	Source string          `json:"source"`
	Rules  json.RawMessage `json:"rules"`
}

type collectionResponse struct {
	ID        string          `json:"id"`
	StoreID   string          `json:"store_id"`
	Name      string          `json:"name"`
	Source    string          `json:"source"`
	Rules     json.RawMessage `json:"rules,omitempty"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
}

type addItemRequest struct {
	EntityID  string `json:"entity_id"`
	SortOrder int    `json:"sort_order"`
}

type reorderRequest struct {
	SortOrder int `json:"sort_order"`
}

type itemResponse struct {
	ID           string `json:"id"`
	CollectionID string `json:"collection_id"`
	EntityID     string `json:"entity_id"`
	SortOrder    int    `json:"sort_order"`
	CreatedAt    string `json:"created_at"`
}

type bindingRequest struct {
	SourceType string          `json:"source_type"`
	SourceRef  string          `json:"source_ref"`
	Override   json.RawMessage `json:"override"`
}

type bindingResponse struct {
	ID            string          `json:"id"`
	StoreID       string          `json:"store_id"`
	ComponentPath string          `json:"component_path"`
	BindingKey    string          `json:"binding_key"`
	SourceType    string          `json:"source_type"`
	SourceRef     string          `json:"source_ref,omitempty"`
	Override      json.RawMessage `json:"override,omitempty"`
	CreatedAt     string          `json:"created_at"`
	UpdatedAt     string          `json:"updated_at"`
}

func (h *Handler) upsertEntity(w http.ResponseWriter, r *http.Request) {
	var req entityRequest
	if !decodeBody(w, r, &req) {
		return
	}

	e, err := h.svc.Fabric.UpsertEntity(r.Context(), domain.DataEntity{
		StoreID:    chi.URLParam(r, "storeID"),
		EntityType: req.EntityType,
		EntityKey:  req.EntityKey,
		Payload:    req.Payload,
	}, metaFrom(r))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntityResponse(e))
}

func (h *Handler) getEntity(w http.ResponseWriter, r *http.Request) {
	e, err := h.svc.Fabric.GetEntity(r.Context(), chi.URLParam(r, "entityID"))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntityResponse(e))
}

func (h *Handler) deleteEntity(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Fabric.DeleteEntity(r.Context(), chi.URLParam(r, "entityID"), metaFrom(r)); err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *Handler) listEntities(w http.ResponseWriter, r *http.Request) {
	entities, err := h.svc.Fabric.ListEntities(r.Context(), chi.URLParam(r, "storeID"), r.URL.Query().Get("type"))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeEntities(w, entities)
}

func (h *Handler) entityStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Fabric.EntityStats(r.Context(), chi.URLParam(r, "storeID"))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	if stats == nil {
		stats = []domain.EntityTypeCount{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"types": stats})
}

func (h *Handler) defineCollection(w http.ResponseWriter, r *http.Request) {
	var req collectionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	c, err := h.svc.Fabric.DefineCollection(r.Context(), domain.Collection{
		StoreID: chi.URLParam(r, "storeID"),
		Name:    req.Name,
		Source:  req.Source,
		Rules:   req.Rules,
	}, metaFrom(r))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCollectionResponse(c))
}

func (h *Handler) getCollection(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Fabric.GetCollection(r.Context(), chi.URLParam(r, "collectionID"))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCollectionResponse(c))
}

func (h *Handler) deleteCollection(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Fabric.DeleteCollection(r.Context(), chi.URLParam(r, "collectionID"), metaFrom(r)); err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *Handler) listCollections(w http.ResponseWriter, r *http.Request) {
	collections, err := h.svc.Fabric.ListCollections(r.Context(), chi.URLParam(r, "storeID"))
	if err != nil {
		handleDomainError(w, err)
		return
	}

	result := make([]collectionResponse, 0, len(collections))
	for _, c := range collections {
		result = append(result, toCollectionResponse(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": result})
}

func (h *Handler) collectionEntities(w http.ResponseWriter, r *http.Request) {
	entities, err := h.svc.Fabric.CollectionEntities(r.Context(), chi.URLParam(r, "collectionID"))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeEntities(w, entities)
}

func (h *Handler) addToCollection(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if !decodeBody(w, r, &req) {
		return
	}

	item, err := h.svc.Fabric.AddToCollection(r.Context(), chi.URLParam(r, "collectionID"), req.EntityID, req.SortOrder, metaFrom(r))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemResponse(item))
}

func (h *Handler) reorderItem(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	item, err := h.svc.Fabric.Reorder(r.Context(), chi.URLParam(r, "collectionID"), chi.URLParam(r, "entityID"), req.SortOrder, metaFrom(r))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(item))
}

func (h *Handler) removeFromCollection(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Fabric.RemoveFromCollection(r.Context(), chi.URLParam(r, "collectionID"), chi.URLParam(r, "entityID"), metaFrom(r)); err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *Handler) setBinding(w http.ResponseWriter, r *http.Request) {
	var req bindingRequest
	if !decodeBody(w, r, &req) {
		return
	}

	b, err := h.svc.Bindings.SetBinding(r.Context(), domain.DataBinding{
		StoreID:       chi.URLParam(r, "storeID"),
		ComponentPath: pathParam(r, "component"),
		BindingKey:    pathParam(r, "key"),
		SourceType:    req.SourceType,
		SourceRef:     req.SourceRef,
		Override:      req.Override,
	}, metaFrom(r))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBindingResponse(b))
}

func (h *Handler) removeBinding(w http.ResponseWriter, r *http.Request) {
	err := h.svc.Bindings.RemoveBinding(r.Context(), chi.URLParam(r, "storeID"), pathParam(r, "component"), pathParam(r, "key"), metaFrom(r))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *Handler) resolveBinding(w http.ResponseWriter, r *http.Request) {
	value, err := h.svc.Bindings.Resolve(r.Context(), chi.URLParam(r, "storeID"), pathParam(r, "component"), pathParam(r, "key"))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, value)
}

func (h *Handler) listBindings(w http.ResponseWriter, r *http.Request) {
	bindings, err := h.svc.Bindings.ListBindings(r.Context(), chi.URLParam(r, "storeID"), r.URL.Query().Get("component"))
	if err != nil {
		handleDomainError(w, err)
		return
	}

	result := make([]bindingResponse, 0, len(bindings))
	for _, b := range bindings {
		result = append(result, toBindingResponse(b))
	}
	writeJSON(w, http.StatusOK, map[string]any{"bindings": result})
}

func writeEntities(w http.ResponseWriter, entities []domain.DataEntity) {
	result := make([]entityResponse, 0, len(entities))
	for _, e := range entities {
		result = append(result, toEntityResponse(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": result})
}

func toEntityResponse(e domain.DataEntity) entityResponse {
	return entityResponse{
		ID:         e.ID,
		StoreID:    e.StoreID,
		EntityType: e.EntityType,
		EntityKey:  e.EntityKey,
		Payload:    e.Payload,
		CreatedAt:  e.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt:  e.UpdatedAt.UTC().Format(timeFormat),
	}
}

func toCollectionResponse(c domain.Collection) collectionResponse {
	return collectionResponse{
		ID:        c.ID,
		StoreID:   c.StoreID,
		Name:      c.Name,
		Source:    c.Source,
		Rules:     c.Rules,
		CreatedAt: c.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt: c.UpdatedAt.UTC().Format(timeFormat),
	}
}

func toItemResponse(item domain.CollectionItem) itemResponse {
	return itemResponse{
		ID:           item.ID,
		CollectionID: item.CollectionID,
		EntityID:     item.EntityID,
		SortOrder:    item.SortOrder,
		CreatedAt:    item.CreatedAt.UTC().Format(timeFormat),
	}
}

func toBindingResponse(b domain.DataBinding) bindingResponse {
	return bindingResponse{
		ID:            b.ID,
		StoreID:       b.StoreID,
		ComponentPath: b.ComponentPath,
		BindingKey:    b.BindingKey,
		SourceType:    b.SourceType,
		SourceRef:     b.SourceRef,
		Override:      b.Override,
		CreatedAt:     b.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt:     b.UpdatedAt.UTC().Format(timeFormat),
	}
}
