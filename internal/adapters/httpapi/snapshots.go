package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/atvirokodosprendimai/storefront/internal/core/domain"
	"github.com/go-chi/chi/v5"
)

type captureRequest struct {
	Label string `json:"label"`
}

type snapshotResponse struct {
	ID        string          `json:"id"`
	StoreID   string          `json:"store_id"`
	Label     string          `json:"label,omitempty"`
	Document  json.RawMessage `json:"document,omitempty"`
	CreatedAt string          `json:"created_at"`
}

func (h *Handler) captureSnapshot(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if !decodeBody(w, r, &req) {
		return
	}

	snap, err := h.svc.Snapshots.Capture(r.Context(), chi.URLParam(r, "storeID"), req.Label, metaFrom(r))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSnapshotResponse(snap, false))
}

func (h *Handler) restoreSnapshot(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Snapshots.Restore(r.Context(), chi.URLParam(r, "storeID"), chi.URLParam(r, "snapshotID"), metaFrom(r))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStoreResponse(st))
}

func (h *Handler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Snapshots.GetSnapshot(r.Context(), chi.URLParam(r, "snapshotID"))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSnapshotResponse(snap, true))
}

func (h *Handler) listSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.svc.Snapshots.ListSnapshots(r.Context(), chi.URLParam(r, "storeID"))
	if err != nil {
		handleDomainError(w, err)
		return
	}

	result := make([]snapshotResponse, 0, len(snaps))
	for _, s := range snaps {
		result = append(result, toSnapshotResponse(s, false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": result})
}

func toSnapshotResponse(s domain.Snapshot, withDocument bool) snapshotResponse {
	resp := snapshotResponse{
		ID:        s.ID,
		StoreID:   s.StoreID,
		Label:     s.Label,
		CreatedAt: s.CreatedAt.UTC().Format(timeFormat),
	}
	if withDocument {
		resp.Document = s.Document
	}
	return resp
}
