package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/melibackend/offline-inventory/internal/middleware"
	"github.com/melibackend/offline-inventory/internal/models"
)

// Handler serves the record store over HTTP
type Handler struct {
	store   *RecordStore
	version string
}

func NewHandler(store *RecordStore, version string) *Handler {
	return &Handler{store: store, version: version}
}

// NewRouter registers every backend route. Root middlewares run before
// authentication and see every request.
func NewRouter(h *Handler, apiKeys []string, root ...mux.MiddlewareFunc) *mux.Router {
	r := mux.NewRouter()
	for _, mw := range root {
		r.Use(mw)
	}

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(middleware.AuthMiddleware(apiKeys))
	v1.HandleFunc("/items", h.ListItems).Methods("GET")
	v1.HandleFunc("/items", h.CreateItem).Methods("POST")
	v1.HandleFunc("/items/{itemId}", h.GetItem).Methods("GET")
	v1.HandleFunc("/items/{itemId}", h.UpdateItem).Methods("PUT") // full snapshot, not a patch

	// Health check endpoint (no auth required)
	r.HandleFunc("/health", h.Health).Methods("GET")
	return r
}

func writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func writeErrorResponse(w http.ResponseWriter, statusCode int, code, message string, details []models.ErrorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(models.ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.HealthResponse{
		Status:    "healthy",
		Service:   "inventory-record-store",
		Version:   h.version,
		Timestamp: time.Now().UTC(),
	})
}

// ListItems handles GET /v1/items
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	items := h.store.List(r.Context())
	writeJSONResponse(w, http.StatusOK, models.ListResponse{Items: items, Count: len(items)})
}

// GetItem handles GET /v1/items/{itemId}
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	itemID := mux.Vars(r)["itemId"]

	item, err := h.store.Get(r.Context(), itemID)
	if err != nil {
		writeErrorResponse(w, http.StatusNotFound, "not_found", fmt.Sprintf("Item not found: %s", itemID), nil)
		return
	}
	writeJSONResponse(w, http.StatusOK, item)
}

// CreateItem handles POST /v1/items
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req models.RemoteWriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Invalid JSON in create request", "error", err, "remote_addr", r.RemoteAddr)
		writeErrorResponse(w, http.StatusBadRequest, "bad_request", "Invalid JSON", nil)
		return
	}
	h.write(w, r, models.MutationCreate, req)
}

// UpdateItem handles PUT /v1/items/{itemId}
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	itemID := mux.Vars(r)["itemId"]

	var req models.RemoteWriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Invalid JSON in update request", "error", err, "remote_addr", r.RemoteAddr)
		writeErrorResponse(w, http.StatusBadRequest, "bad_request", "Invalid JSON", nil)
		return
	}
	if req.Item.ID == "" {
		req.Item.ID = itemID
	}
	if req.Item.ID != itemID {
		writeErrorResponse(w, http.StatusBadRequest, "bad_request", "Item id does not match path", []models.ErrorDetail{
			{Field: "item.id", Issue: fmt.Sprintf("expected %q", itemID)},
		})
		return
	}
	h.write(w, r, models.MutationUpdate, req)
}

func (h *Handler) write(w http.ResponseWriter, r *http.Request, kind models.MutationKind, req models.RemoteWriteRequest) {
	resp, err := h.store.Write(r.Context(), kind, req)
	switch {
	case errors.Is(err, ErrMissingMutationID):
		writeErrorResponse(w, http.StatusBadRequest, "bad_request", "Missing clientMutationId", []models.ErrorDetail{
			{Field: "clientMutationId", Issue: "cannot be empty"},
		})
	case errors.Is(err, ErrInvalidItem):
		slog.Warn("Rejected invalid item",
			"item_id", req.Item.ID,
			"client_mutation_id", req.ClientMutationID,
			"error", err)
		writeErrorResponse(w, http.StatusUnprocessableEntity, "invalid_item", "Item failed validation", models.ValidationDetails(err))
	case err != nil:
		slog.Error("Failed to write item", "item_id", req.Item.ID, "error", err)
		writeErrorResponse(w, http.StatusInternalServerError, "internal_error", "Error writing item", nil)
	default:
		writeJSONResponse(w, http.StatusOK, resp)
	}
}
