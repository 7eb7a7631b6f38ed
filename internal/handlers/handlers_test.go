package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melibackend/offline-inventory/internal/backend"
	"github.com/melibackend/offline-inventory/internal/client"
	"github.com/melibackend/offline-inventory/internal/connectivity"
	"github.com/melibackend/offline-inventory/internal/inventory"
	"github.com/melibackend/offline-inventory/internal/models"
	"github.com/melibackend/offline-inventory/internal/queue"
	"github.com/melibackend/offline-inventory/internal/storage"
	syncengine "github.com/melibackend/offline-inventory/internal/sync"
	"github.com/melibackend/offline-inventory/internal/transition"
)

const localKey = "device-key"

type testEnv struct {
	router  http.Handler
	records *backend.RecordStore
	monitor *connectivity.Monitor
}

func newTestEnv(t *testing.T, online bool) *testEnv {
	t.Helper()

	records, err := backend.NewRecordStore(backend.StoreConfig{IdempotencyWindow: time.Hour}, nil)
	require.NoError(t, err)
	t.Cleanup(records.Close)
	remote := httptest.NewServer(backend.NewRouter(backend.NewHandler(records, "test"), []string{"backend-key"}))
	t.Cleanup(remote.Close)

	kv, err := storage.NewFileKV(t.TempDir(), nil)
	require.NoError(t, err)
	store := storage.NewLocalStore(kv, "file", nil)
	_, err = store.Seed(context.Background(), storage.DefaultSeedItems(time.Now().UTC()))
	require.NoError(t, err)

	q := queue.NewMutationQueue(store, nil)
	monitor := connectivity.NewMonitor(online, nil)
	t.Cleanup(monitor.Close)
	remoteClient := client.NewInventoryClient(remote.URL, "backend-key", client.Options{Timeout: 2 * time.Second})
	coordinator := syncengine.NewCoordinator(store, q, remoteClient, monitor, nil, syncengine.Config{}, nil)
	service := inventory.NewService(store, q, transition.NewEngine(), "alice", nil)

	router := NewRouter(Handlers{
		Inventory: NewInventoryHandler(service),
		Sync:      NewSyncHandler(syncengine.NewStatusFacade(monitor, coordinator, q), monitor),
		Health:    NewHealthHandler("test-client", "test"),
	}, []string{localKey})

	return &testEnv{router: router, records: records, monitor: monitor}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-API-Key", localKey)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

// TestRouter_HealthAndAuth tests the public and protected surfaces
func TestRouter_HealthAndAuth(t *testing.T) {
	env := newTestEnv(t, true)

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/items", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// TestRouter_OfflineChangeThenSync tests the full offline edit and reconnect flow
func TestRouter_OfflineChangeThenSync(t *testing.T) {
	// Arrange
	env := newTestEnv(t, false)

	// Act - change status while offline
	rec := env.do(t, http.MethodPost, "/v1/items/seed-0002/status", models.StatusChangeRequest{Status: models.StatusSold, Notes: "counter sale"})
	require.Equal(t, http.StatusOK, rec.Code)
	accepted := decode[models.WriteAccepted](t, rec)

	// Assert - optimistic local state and a pending mutation
	assert.Equal(t, models.StatusSold, accepted.Item.Status)
	assert.NotEmpty(t, accepted.ClientMutationID)

	status := decode[models.SyncStatus](t, env.do(t, http.MethodGet, "/v1/sync/status", nil))
	assert.False(t, status.IsOnline)
	assert.Equal(t, 1, status.PendingCount)

	outcome := decode[models.SyncOutcome](t, env.do(t, http.MethodPost, "/v1/sync/trigger", nil))
	assert.True(t, outcome.Skipped)

	// Act - reconnect and sync
	rec = env.do(t, http.MethodPut, "/v1/connectivity", models.ConnectivityRequest{Online: true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[models.SyncStatus](t, rec).IsOnline)

	outcome = decode[models.SyncOutcome](t, env.do(t, http.MethodPost, "/v1/sync/trigger", nil))

	// Assert
	assert.Equal(t, 1, outcome.Confirmed)
	status = decode[models.SyncStatus](t, env.do(t, http.MethodGet, "/v1/sync/status", nil))
	assert.Equal(t, 0, status.PendingCount)
	require.NotNil(t, status.LastOutcome)

	remoteItem, err := env.records.Get(context.Background(), "seed-0002")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSold, remoteItem.Status)

	local := decode[models.InventoryItem](t, env.do(t, http.MethodGet, "/v1/items/seed-0002", nil))
	assert.Equal(t, 1, local.Version)
	assert.NotNil(t, local.SyncedAt)
}

// TestRouter_CreateItem tests creation and its error mapping
func TestRouter_CreateItem(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, "/v1/items", models.CreateItemRequest{Barcode: "4006381333931", Name: "Stapler", Location: "Aisle 2"})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[models.WriteAccepted](t, rec)
	assert.Equal(t, models.StatusImported, created.Item.Status)

	rec = env.do(t, http.MethodPost, "/v1/items", models.CreateItemRequest{Barcode: "4006381333931", Name: "Stapler"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_barcode", decode[models.ErrorResponse](t, rec).Code)

	rec = env.do(t, http.MethodPost, "/v1/items", models.CreateItemRequest{Barcode: "123"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.NotEmpty(t, decode[models.ErrorResponse](t, rec).Details)

	byBarcode := decode[models.InventoryItem](t, env.do(t, http.MethodGet, "/v1/items/barcode/4006381333931", nil))
	assert.Equal(t, created.Item.ID, byBarcode.ID)

	rec = env.do(t, http.MethodGet, "/v1/items/barcode/000", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// TestRouter_Reads tests listing, history and counts
func TestRouter_Reads(t *testing.T) {
	env := newTestEnv(t, false)
	env.do(t, http.MethodPost, "/v1/items/seed-0001/status", models.StatusChangeRequest{Status: models.StatusReturned})

	list := decode[models.ListResponse](t, env.do(t, http.MethodGet, "/v1/items", nil))
	assert.Equal(t, 5, list.Count)

	returned := decode[models.ListResponse](t, env.do(t, http.MethodGet, "/v1/items?status=returned", nil))
	require.Equal(t, 1, returned.Count)
	assert.Equal(t, "seed-0001", returned.Items[0].ID)

	rec := env.do(t, http.MethodGet, "/v1/items?status=lost", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	history := decode[[]models.StatusHistory](t, env.do(t, http.MethodGet, "/v1/items/seed-0001/history", nil))
	assert.Equal(t, models.StatusReturned, history[len(history)-1].NewStatus)

	counts := decode[models.StatusCountsResponse](t, env.do(t, http.MethodGet, "/v1/stats/status-counts", nil))
	assert.Equal(t, 5, counts.Total)
	assert.Equal(t, 1, counts.Counts[models.StatusReturned])

	rec = env.do(t, http.MethodGet, "/v1/items/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/items/seed-0001/status", models.StatusChangeRequest{Status: "lost"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// TestRouter_DropMutation tests listing and dropping queued mutations
func TestRouter_DropMutation(t *testing.T) {
	env := newTestEnv(t, false)
	accepted := decode[models.WriteAccepted](t, env.do(t, http.MethodPost, "/v1/items/seed-0003/status", models.StatusChangeRequest{Status: models.StatusReturned}))

	mutations := decode[[]models.PendingMutation](t, env.do(t, http.MethodGet, "/v1/mutations", nil))
	require.Len(t, mutations, 1)
	assert.Equal(t, accepted.ClientMutationID, mutations[0].ClientMutationID)

	rec := env.do(t, http.MethodDelete, "/v1/mutations/"+accepted.ClientMutationID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, "/v1/mutations/"+accepted.ClientMutationID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// TestRoutePattern tests that the template is visible to outer middleware
func TestRoutePattern(t *testing.T) {
	var seen string
	capture := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			seen = RoutePattern(r)
		})
	}

	env := newTestEnv(t, false)
	router := NewRouter(Handlers{
		Inventory: NewInventoryHandler(nil),
		Sync:      NewSyncHandler(nil, env.monitor),
		Health:    NewHealthHandler("test-client", "test"),
	}, []string{localKey}, capture)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, "/health", seen)
}
