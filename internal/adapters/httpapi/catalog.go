package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/atvirokodosprendimai/storefront/internal/core/domain"
	"github.com/atvirokodosprendimai/storefront/internal/core/usecase"
	"github.com/go-chi/chi/v5"
)

type themeRequest struct {
	ID          string               `json:"id"`
	Name        domain.BilingualText `json:"name"`
	Description domain.BilingualText `json:"description"`
	AuthorEmail string               `json:"author_email"`
	Repository  string               `json:"repository"`
	SupportURL  string               `json:"support_url"`
}

type themeResponse struct {
	ID          string               `json:"id"`
	Name        domain.BilingualText `json:"name"`
	Description domain.BilingualText `json:"description"`
	AuthorEmail string               `json:"author_email,omitempty"`
	Repository  string               `json:"repository,omitempty"`
	SupportURL  string               `json:"support_url,omitempty"`
	CreatedAt   string               `json:"created_at"`
	UpdatedAt   string               `json:"updated_at"`
}

type publishRequest struct {
	Version      string          `json:"version"`
	FSPath       string          `json:"fs_path"`
	Contract     json.RawMessage `json:"contract"`
	Capabilities json.RawMessage `json:"capabilities"`
	SchemaHash   string          `json:"schema_hash"`
}

type versionResponse struct {
	ID           string          `json:"id"`
	ThemeID      string          `json:"theme_id"`
	Version      string          `json:"version"`
	FSPath       string          `json:"fs_path"`
	Contract     json.RawMessage `json:"contract,omitempty"`
	Capabilities json.RawMessage `json:"capabilities,omitempty"`
	SchemaHash   string          `json:"schema_hash"`
	CreatedAt    string          `json:"created_at"`
}

func (h *Handler) createTheme(w http.ResponseWriter, r *http.Request) {
	var req themeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	theme, err := h.svc.Catalog.CreateTheme(r.Context(), domain.Theme{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		AuthorEmail: req.AuthorEmail,
		Repository:  req.Repository,
		SupportURL:  req.SupportURL,
	}, metaFrom(r))
	if err != nil {
		handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toThemeResponse(theme))
}

func (h *Handler) getTheme(w http.ResponseWriter, r *http.Request) {
	theme, err := h.svc.Catalog.GetTheme(r.Context(), chi.URLParam(r, "themeID"))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toThemeResponse(theme))
}

func (h *Handler) listThemes(w http.ResponseWriter, r *http.Request) {
	themes, err := h.svc.Catalog.ListThemes(r.Context())
	if err != nil {
		handleDomainError(w, err)
		return
	}

	result := make([]themeResponse, 0, len(themes))
	for _, theme := range themes {
		result = append(result, toThemeResponse(theme))
	}
	writeJSON(w, http.StatusOK, map[string]any{"themes": result})
}

func (h *Handler) publishVersion(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if !decodeBody(w, r, &req) {
		return
	}

	version, err := h.svc.Catalog.PublishVersion(r.Context(), usecase.PublishRequest{
		ThemeID:      chi.URLParam(r, "themeID"),
		Version:      req.Version,
		FSPath:       req.FSPath,
		Contract:     req.Contract,
		Capabilities: req.Capabilities,
		SchemaHash:   req.SchemaHash,
	}, metaFrom(r))
	if err != nil {
		handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toVersionResponse(version))
}

func (h *Handler) getVersion(w http.ResponseWriter, r *http.Request) {
	version, err := h.svc.Catalog.GetVersion(r.Context(), chi.URLParam(r, "versionID"))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVersionResponse(version))
}

func (h *Handler) latestVersion(w http.ResponseWriter, r *http.Request) {
	version, err := h.svc.Catalog.LatestVersion(r.Context(), chi.URLParam(r, "themeID"))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVersionResponse(version))
}

func (h *Handler) listVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.svc.Catalog.ListVersions(r.Context(), chi.URLParam(r, "themeID"))
	if err != nil {
		handleDomainError(w, err)
		return
	}

	result := make([]versionResponse, 0, len(versions))
	for _, v := range versions {
		result = append(result, toVersionResponse(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": result})
}

func toThemeResponse(t domain.Theme) themeResponse {
	return themeResponse{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		AuthorEmail: t.AuthorEmail,
		Repository:  t.Repository,
		SupportURL:  t.SupportURL,
		CreatedAt:   t.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt:   t.UpdatedAt.UTC().Format(timeFormat),
	}
}

func toVersionResponse(v domain.ThemeVersion) versionResponse {
	return versionResponse{
		ID:           v.ID,
		ThemeID:      v.ThemeID,
		Version:      v.Version,
		FSPath:       v.FSPath,
		Contract:     v.Contract,
		Capabilities: v.Capabilities,
		SchemaHash:   v.SchemaHash,
		CreatedAt:    v.CreatedAt.UTC().Format(timeFormat),
	}
}
