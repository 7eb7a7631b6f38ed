package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/melibackend/offline-inventory/internal/inventory"
	"github.com/melibackend/offline-inventory/internal/models"
)

// InventoryHandler serves item reads and the optimistic item writes
type InventoryHandler struct {
	service *inventory.Service
}

func NewInventoryHandler(service *inventory.Service) *InventoryHandler {
	return &InventoryHandler{service: service}
}

// ListItems handles GET /v1/items, optionally filtered by ?status=
func (h *InventoryHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	status := models.ItemStatus(r.URL.Query().Get("status"))

	items, err := h.service.ListItems(r.Context(), status)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	slog.Debug("Items listed", "status_filter", status, "found_count", len(items))
	writeJSONResponse(w, http.StatusOK, models.ListResponse{Items: items, Count: len(items)})
}

// CreateItem handles POST /v1/items
func (h *InventoryHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req models.CreateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "bad_request", "Invalid JSON", nil)
		return
	}

	item, clientMutationID, err := h.service.CreateItem(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.WriteAccepted{Item: item, ClientMutationID: clientMutationID})
}

// GetItem handles GET /v1/items/{itemId}
func (h *InventoryHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.GetItem(r.Context(), chi.URLParam(r, "itemId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, item)
}

// GetItemByBarcode handles GET /v1/items/barcode/{barcode}
func (h *InventoryHandler) GetItemByBarcode(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.GetItemByBarcode(r.Context(), chi.URLParam(r, "barcode"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, item)
}

// ItemHistory handles GET /v1/items/{itemId}/history
func (h *InventoryHandler) ItemHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.service.ItemHistory(r.Context(), chi.URLParam(r, "itemId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, history)
}

// ChangeStatus handles POST /v1/items/{itemId}/status
func (h *InventoryHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	var req models.StatusChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "bad_request", "Invalid JSON", nil)
		return
	}

	item, clientMutationID, err := h.service.ChangeStatus(r.Context(), chi.URLParam(r, "itemId"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.WriteAccepted{Item: item, ClientMutationID: clientMutationID})
}

// StatusCounts handles GET /v1/stats/status-counts
func (h *InventoryHandler) StatusCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.service.StatusCounts(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	writeJSONResponse(w, http.StatusOK, models.StatusCountsResponse{Counts: counts, Total: total})
}

// ListMutations handles GET /v1/mutations
func (h *InventoryHandler) ListMutations(w http.ResponseWriter, r *http.Request) {
	mutations, err := h.service.ListMutations(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, mutations)
}

// DropMutation handles DELETE /v1/mutations/{clientMutationId}
func (h *InventoryHandler) DropMutation(w http.ResponseWriter, r *http.Request) {
	dropped, err := h.service.DropMutation(r.Context(), chi.URLParam(r, "clientMutationId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, dropped)
}
