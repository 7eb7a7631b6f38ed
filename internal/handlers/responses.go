package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/melibackend/offline-inventory/internal/inventory"
	"github.com/melibackend/offline-inventory/internal/models"
	"github.com/melibackend/offline-inventory/internal/queue"
	"github.com/melibackend/offline-inventory/internal/storage"
)

// writeJSONResponse is a helper function to write JSON responses
func writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeErrorResponse is a helper function to write error responses
func writeErrorResponse(w http.ResponseWriter, statusCode int, code, message string, details []models.ErrorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(models.ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	})
}

// writeServiceError maps engine errors onto HTTP responses
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrItemNotFound):
		writeErrorResponse(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, queue.ErrMutationNotFound):
		writeErrorResponse(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, queue.ErrMutationInFlight):
		writeErrorResponse(w, http.StatusConflict, "mutation_in_flight", err.Error(), nil)
	case errors.Is(err, inventory.ErrInvalidStatus):
		writeErrorResponse(w, http.StatusBadRequest, "invalid_status", err.Error(), []models.ErrorDetail{
			{Field: "status", Issue: "must be one of the known item statuses"},
		})
	case errors.Is(err, inventory.ErrInvalidItem):
		writeErrorResponse(w, http.StatusUnprocessableEntity, "invalid_item", "Item failed validation", models.ValidationDetails(err))
	case errors.Is(err, inventory.ErrDuplicateBarcode):
		writeErrorResponse(w, http.StatusConflict, "duplicate_barcode", err.Error(), []models.ErrorDetail{
			{Field: "barcode", Issue: "already registered; set allowDuplicate to override"},
		})
	case errors.Is(err, storage.ErrStorageFailure):
		slog.Error("Local storage failure", "path", r.URL.Path, "error", err)
		writeErrorResponse(w, http.StatusInternalServerError, "storage_failure", "Local storage failure; the change was not saved", nil)
	default:
		slog.Error("Unexpected error", "path", r.URL.Path, "error", err)
		writeErrorResponse(w, http.StatusInternalServerError, "internal_error", "Internal error", nil)
	}
}
