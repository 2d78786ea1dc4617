package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/atvirokodosprendimai/storefront/internal/core/domain"
	"github.com/atvirokodosprendimai/storefront/internal/core/usecase"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type ctxKey string

const (
	timeFormat             = "2006-01-02T15:04:05.999999999Z07:00"
	apiActorCtxKey  ctxKey = "api_actor"
	maxJSONBodySize        = 1 << 20
)

// Services groups the engine components served over HTTP.
type Services struct {
	Catalog   *usecase.Catalog
	Fabric    *usecase.Fabric
	Bindings  *usecase.BindingResolver
	Composer  *usecase.Composer
	Stores    *usecase.StoreService
	Snapshots *usecase.Snapshots
	Audit     *usecase.AuditService
}

type Handler struct {
	svc      Services
	apiToken string
}

// NewHandler serves svc. When apiToken is empty the /v1 routes are open.
func NewHandler(svc Services, apiToken string) *Handler {
	return &Handler{svc: svc, apiToken: strings.TrimSpace(apiToken)}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", h.healthz)
	r.Get("/openapi.json", h.openapi)

	r.Route("/v1", func(pr chi.Router) {
		pr.Use(h.requireToken)

		pr.Get("/themes", h.listThemes)
		pr.Post("/themes", h.createTheme)
		pr.Get("/themes/{themeID}", h.getTheme)
		pr.Get("/themes/{themeID}/versions", h.listVersions)
		pr.Post("/themes/{themeID}/versions", h.publishVersion)
		pr.Get("/themes/{themeID}/versions/latest", h.latestVersion)
		pr.Get("/versions/{versionID}", h.getVersion)

		pr.Get("/stores", h.listStores)
		pr.Post("/stores", h.createStore)
		pr.Route("/stores/{storeID}", func(sr chi.Router) {
			sr.Get("/", h.getStore)
			sr.Patch("/", h.updateStore)
			sr.Delete("/", h.deleteStore)
			sr.Post("/bind", h.bindStore)
			sr.Post("/clone", h.cloneStore)
			sr.Get("/state", h.getStoreState)
			sr.Get("/history", h.storeHistory)

			sr.Get("/components", h.listComponents)
			sr.Post("/components/{path}", h.appendComponent)
			sr.Put("/components/{path}/{order}", h.putComponent)
			sr.Delete("/components/{path}/{order}", h.removeComponent)
			sr.Post("/components/{path}/{order}/move", h.moveComponent)

			sr.Get("/pages", h.listPages)
			sr.Put("/pages/{page}", h.savePage)
			sr.Get("/pages/{page}", h.getPage)
			sr.Delete("/pages/{page}", h.deletePage)
			sr.Get("/pages/{page}/tree", h.composePage)
			sr.Get("/pages/{page}/status", h.pageStatus)

			sr.Get("/entities", h.listEntities)
			sr.Post("/entities", h.upsertEntity)
			sr.Get("/entities/stats", h.entityStats)

			sr.Get("/collections", h.listCollections)
			sr.Post("/collections", h.defineCollection)

			sr.Get("/bindings", h.listBindings)
			sr.Put("/bindings/{component}/{key}", h.setBinding)
			sr.Get("/bindings/{component}/{key}", h.resolveBinding)
			sr.Delete("/bindings/{component}/{key}", h.removeBinding)

			sr.Get("/snapshots", h.listSnapshots)
			sr.Post("/snapshots", h.captureSnapshot)
			sr.Post("/snapshots/{snapshotID}/restore", h.restoreSnapshot)
		})

		pr.Get("/entities/{entityID}", h.getEntity)
		pr.Delete("/entities/{entityID}", h.deleteEntity)

		pr.Get("/collections/{collectionID}", h.getCollection)
		pr.Delete("/collections/{collectionID}", h.deleteCollection)
		pr.Get("/collections/{collectionID}/entities", h.collectionEntities)
		pr.Post("/collections/{collectionID}/items", h.addToCollection)
		pr.Put("/collections/{collectionID}/items/{entityID}", h.reorderItem)
		pr.Delete("/collections/{collectionID}/items/{entityID}", h.removeFromCollection)

		pr.Get("/snapshots/{snapshotID}", h.getSnapshot)
		pr.Get("/audit", h.listAudit)
	})

	return r
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) openapi(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, openapiSpec())
}

// requireToken checks the static API token from X-API-Key or a bearer
// Authorization header and stores the caller name from X-Actor.
func (h *Handler) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.apiToken != "" {
			token := strings.TrimSpace(r.Header.Get("X-API-Key"))
			if token == "" {
				auth := strings.TrimSpace(r.Header.Get("Authorization"))
				if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
					token = strings.TrimSpace(auth[7:])
				}
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(h.apiToken)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}

		ctx := context.WithValue(r.Context(), apiActorCtxKey, strings.TrimSpace(r.Header.Get("X-Actor")))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// metaFrom builds the mutation metadata recorded with every write.
func metaFrom(r *http.Request) domain.MutationMetadata {
	return domain.MutationMetadata{
		Actor:         actorFromContext(r.Context()),
		Source:        "http",
		RequestID:     middleware.GetReqID(r.Context()),
		CorrelationID: r.Header.Get("X-Correlation-ID"),
		CausationID:   r.Header.Get("X-Causation-ID"),
	}
}

func actorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(apiActorCtxKey).(string)
	if actor == "" {
		return "api"
	}
	return actor
}

// pathParam returns a decoded URL parameter. Component paths and page names
// may contain '/', which clients send as %2F.
func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, name+" must be integer")
		return 0, false
	}
	return n, true
}

// decodeBody reads a single JSON value into dst, rejecting unknown fields
// and trailing tokens.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	if err := ensureEOF(decoder); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be integer")
			return 0, false
		}
		limit = parsed
	}
	return limit, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		log.Printf("encode json response: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(data, '\n')); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func handleDomainError(w http.ResponseWriter, err error) {
	var schemaErr *domain.ErrSchemaViolation
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrDuplicateKey):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &schemaErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error(), "details": schemaErr.Errors})
	case errors.Is(err, domain.ErrIntegrityViolation),
		errors.Is(err, domain.ErrDanglingReference),
		errors.Is(err, domain.ErrCompositionIntegrity):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		log.Printf("request failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func ensureEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	if err := decoder.Decode(&extra); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	return errors.New("extra json tokens")
}

func openapiSpec() map[string]any {
	op := func(summary string) map[string]any { return map[string]any{"summary": summary} }
	paths := map[string]any{}
	paths["/v1/themes"] = map[string]any{"get": op("List themes"), "post": op("Create theme")}
	paths["/v1/themes/{themeID}"] = map[string]any{"get": op("Get theme")}
	paths["/v1/themes/{themeID}/versions"] = map[string]any{"get": op("List versions"), "post": op("Publish version")}
	paths["/v1/themes/{themeID}/versions/latest"] = map[string]any{"get": op("Latest version")}
	paths["/v1/versions/{versionID}"] = map[string]any{"get": op("Get version")}
	paths["/v1/stores"] = map[string]any{"get": op("List stores"), "post": op("Create store")}
	paths["/v1/stores/{storeID}"] = map[string]any{"get": op("Get store"), "patch": op("Update store"), "delete": op("Delete store")}
	paths["/v1/stores/{storeID}/bind"] = map[string]any{"post": op("Bind store to theme version")}
	paths["/v1/stores/{storeID}/clone"] = map[string]any{"post": op("Clone store")}
	paths["/v1/stores/{storeID}/state"] = map[string]any{"get": op("Get store state")}
	paths["/v1/stores/{storeID}/history"] = map[string]any{"get": op("Store change history")}
	paths["/v1/stores/{storeID}/components"] = map[string]any{"get": op("List components")}
	paths["/v1/stores/{storeID}/components/{path}"] = map[string]any{"post": op("Append component instance")}
	paths["/v1/stores/{storeID}/components/{path}/{order}"] = map[string]any{"put": op("Put component instance"), "delete": op("Remove component instance")}
	paths["/v1/stores/{storeID}/components/{path}/{order}/move"] = map[string]any{"post": op("Move component instance")}
	paths["/v1/stores/{storeID}/pages"] = map[string]any{"get": op("List pages")}
	paths["/v1/stores/{storeID}/pages/{page}"] = map[string]any{"get": op("Get page"), "put": op("Save page"), "delete": op("Delete page")}
	paths["/v1/stores/{storeID}/pages/{page}/tree"] = map[string]any{"get": op("Compose page")}
	paths["/v1/stores/{storeID}/pages/{page}/status"] = map[string]any{"get": op("Page cache status")}
	paths["/v1/stores/{storeID}/entities"] = map[string]any{"get": op("List entities"), "post": op("Upsert entity")}
	paths["/v1/stores/{storeID}/entities/stats"] = map[string]any{"get": op("Entity counts by type")}
	paths["/v1/entities/{entityID}"] = map[string]any{"get": op("Get entity"), "delete": op("Delete entity")}
	paths["/v1/stores/{storeID}/collections"] = map[string]any{"get": op("List collections"), "post": op("Define collection")}
	paths["/v1/collections/{collectionID}"] = map[string]any{"get": op("Get collection"), "delete": op("Delete collection")}
	paths["/v1/collections/{collectionID}/entities"] = map[string]any{"get": op("Collection entities")}
	paths["/v1/collections/{collectionID}/items"] = map[string]any{"post": op("Add to collection")}
	paths["/v1/collections/{collectionID}/items/{entityID}"] = map[string]any{"put": op("Reorder item"), "delete": op("Remove from collection")}
	paths["/v1/stores/{storeID}/bindings"] = map[string]any{"get": op("List bindings")}
	paths["/v1/stores/{storeID}/bindings/{component}/{key}"] = map[string]any{"put": op("Set binding"), "get": op("Resolve binding"), "delete": op("Remove binding")}
	paths["/v1/stores/{storeID}/snapshots"] = map[string]any{"get": op("List snapshots"), "post": op("Capture snapshot")}
	paths["/v1/stores/{storeID}/snapshots/{snapshotID}/restore"] = map[string]any{"post": op("Restore snapshot")}
	paths["/v1/snapshots/{snapshotID}"] = map[string]any{"get": op("Get snapshot")}
	paths["/v1/audit"] = map[string]any{"get": op("List audit trail")}

	return map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   "storefront",
			"version": "1.0.0",
		},
		"paths": paths,
	}
}
