package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/melibackend/offline-inventory/internal/connectivity"
	"github.com/melibackend/offline-inventory/internal/models"
	syncengine "github.com/melibackend/offline-inventory/internal/sync"
)

// SyncHandler exposes the sync status projection and its manual controls
type SyncHandler struct {
	facade  *syncengine.StatusFacade
	monitor *connectivity.Monitor
}

func NewSyncHandler(facade *syncengine.StatusFacade, monitor *connectivity.Monitor) *SyncHandler {
	return &SyncHandler{facade: facade, monitor: monitor}
}

// Status handles GET /v1/sync/status
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.facade.Status(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, status)
}

// Trigger handles POST /v1/sync/trigger. It waits for the pass, or for the
// pass already in flight, and returns its outcome.
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.facade.TriggerSync(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, outcome)
}

// SetConnectivity handles PUT /v1/connectivity, a manual platform signal
func (h *SyncHandler) SetConnectivity(w http.ResponseWriter, r *http.Request) {
	var req models.ConnectivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "bad_request", "Invalid JSON", nil)
		return
	}

	if h.monitor.SetOnline(req.Online) {
		slog.Info("Connectivity overridden", "online", req.Online, "remote_addr", r.RemoteAddr)
	}
	h.Status(w, r)
}

// HealthHandler handles health check requests
type HealthHandler struct {
	service string
	version string
}

func NewHealthHandler(service, version string) *HealthHandler {
	return &HealthHandler{service: service, version: version}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.HealthResponse{
		Status:    "healthy",
		Service:   h.service,
		Version:   h.version,
		Timestamp: time.Now().UTC(),
	})
}
