package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	authmiddleware "github.com/melibackend/offline-inventory/internal/middleware"
)

// Handlers groups everything the local API serves
type Handlers struct {
	Inventory *InventoryHandler
	Sync      *SyncHandler
	Health    *HealthHandler
}

// NewRouter builds the local API. root middlewares run first on every request.
func NewRouter(h Handlers, apiKeys []string, root ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(root...)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.Health.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Use(authmiddleware.AuthMiddleware(apiKeys))

		r.Get("/sync/status", h.Sync.Status)
		r.Post("/sync/trigger", h.Sync.Trigger)
		r.Put("/connectivity", h.Sync.SetConnectivity)

		r.Get("/items", h.Inventory.ListItems)
		r.Post("/items", h.Inventory.CreateItem)
		r.Get("/items/barcode/{barcode}", h.Inventory.GetItemByBarcode)
		r.Get("/items/{itemId}", h.Inventory.GetItem)
		r.Get("/items/{itemId}/history", h.Inventory.ItemHistory)
		r.Post("/items/{itemId}/status", h.Inventory.ChangeStatus)

		r.Get("/stats/status-counts", h.Inventory.StatusCounts)

		r.Get("/mutations", h.Inventory.ListMutations)
		r.Delete("/mutations/{clientMutationId}", h.Inventory.DropMutation)
	})

	return r
}

// RoutePattern reports the chi route template that served r, for metrics labels
func RoutePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}
