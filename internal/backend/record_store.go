package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/melibackend/offline-inventory/internal/cache"
	"github.com/melibackend/offline-inventory/internal/models"
	"github.com/melibackend/offline-inventory/internal/utils"
)

var (
	ErrItemNotFound = errors.New("item not found")

	// ErrMissingMutationID is returned for writes without a clientMutationId
	ErrMissingMutationID = errors.New("clientMutationId is required")

	// ErrInvalidItem wraps snapshot validation failures
	ErrInvalidItem = errors.New("invalid item")
)

// StoreConfig configures the record store
type StoreConfig struct {
	// JSON file the records are persisted to; empty keeps them in memory only
	DataFile string
	// How long a clientMutationId is remembered after its first write
	IdempotencyWindow time.Duration
	// How often expired idempotency entries are evicted
	IdempotencyCleanupInterval time.Duration
}

// recordData is the persisted file layout
type recordData struct {
	Items    map[string]models.InventoryItem `json:"items"`
	Metadata recordMetadata                  `json:"metadata"`
}

type recordMetadata struct {
	TotalItems  int       `json:"totalItems"`
	WriteCount  int       `json:"writeCount"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// RecordStore is the authoritative item store behind the backend API.
// Writes are idempotent on clientMutationId within the idempotency window
// and arbitrated last-writer-wins on the snapshot's lastUpdated. After the
// window a replayed snapshot is still a no-op when it matches the stored
// record field for field; the record keeps its version.
type RecordStore struct {
	data         *recordData
	globalMutex  sync.RWMutex // guards the items map and metadata
	itemLocks    *ItemLockManager
	idempotency  *cache.TTLCache[string, models.RemoteWriteResponse]
	dataFilePath string
	now          func() time.Time
	logger       *slog.Logger

	// serializes file saves so an older snapshot never overwrites a newer one
	saveMutex sync.Mutex
}

// NewRecordStore creates the store and loads cfg.DataFile when it exists
func NewRecordStore(cfg StoreConfig, logger *slog.Logger) (*RecordStore, error) {
	if cfg.IdempotencyWindow <= 0 {
		cfg.IdempotencyWindow = 24 * time.Hour
	}
	if cfg.IdempotencyCleanupInterval <= 0 {
		cfg.IdempotencyCleanupInterval = time.Minute
	}

	s := &RecordStore{
		data:         &recordData{Items: make(map[string]models.InventoryItem)},
		itemLocks:    NewItemLockManager(),
		idempotency:  cache.NewTTLCache[string, models.RemoteWriteResponse](cfg.IdempotencyWindow, cfg.IdempotencyCleanupInterval),
		dataFilePath: cfg.DataFile,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       utils.OrDefault(logger),
	}

	if err := s.loadDataFile(); err != nil {
		s.idempotency.Stop()
		return nil, err
	}

	s.logger.Info("Record store initialized",
		"data_file", cfg.DataFile,
		"items_count", len(s.data.Items),
		"idempotency_window", cfg.IdempotencyWindow.String())
	return s, nil
}

func (s *RecordStore) loadDataFile() error {
	if s.dataFilePath == "" {
		return nil
	}

	raw, err := os.ReadFile(s.dataFilePath)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Info("Record data file not found, starting empty", "path", s.dataFilePath)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read record data file: %w", err)
	}

	data := &recordData{}
	if err := json.Unmarshal(raw, data); err != nil {
		return fmt.Errorf("failed to parse record data file: %w", err)
	}
	if data.Items == nil {
		data.Items = make(map[string]models.InventoryItem)
	}
	s.data = data
	return nil
}

// Write applies a create or update. Both are upserts; kind only shows up in logs.
func (s *RecordStore) Write(ctx context.Context, kind models.MutationKind, req models.RemoteWriteRequest) (models.RemoteWriteResponse, error) {
	if req.ClientMutationID == "" {
		return models.RemoteWriteResponse{}, ErrMissingMutationID
	}
	if err := models.ValidateItem(req.Item); err != nil {
		return models.RemoteWriteResponse{}, fmt.Errorf("%w: %w", ErrInvalidItem, err)
	}

	if cached, ok := s.idempotency.Get(req.ClientMutationID); ok {
		return s.duplicate(cached), nil
	}

	var resp models.RemoteWriteResponse
	itemID := req.Item.ID

	s.itemLocks.WithItemWriteLock(itemID, func() {
		// a concurrent retry of the same mutation may have won the lock first
		if cached, ok := s.idempotency.Get(req.ClientMutationID); ok {
			resp = s.duplicate(cached)
			return
		}

		s.globalMutex.RLock()
		existing, exists := s.data.Items[itemID]
		s.globalMutex.RUnlock()

		if exists && req.Item.LastUpdated.Before(existing.LastUpdated) {
			// stale write loses; the caller receives the canonical record
			resp = models.RemoteWriteResponse{
				ClientMutationID: req.ClientMutationID,
				Item:             existing.Clone(),
				Applied:          false,
			}
			s.idempotency.Set(req.ClientMutationID, resp)

			s.logger.Warn("Stale write superseded by newer record",
				"item_id", itemID,
				"client_mutation_id", req.ClientMutationID,
				"incoming_last_updated", req.Item.LastUpdated,
				"current_last_updated", existing.LastUpdated)
			return
		}

		if exists && sameSnapshot(existing, req.Item) {
			// a replay that outlived the idempotency window; nothing changes
			resp = models.RemoteWriteResponse{
				ClientMutationID: req.ClientMutationID,
				Item:             existing.Clone(),
				Applied:          false,
			}
			s.idempotency.Set(req.ClientMutationID, resp)

			s.logger.Info("Write matches stored record, not reapplied",
				"item_id", itemID,
				"client_mutation_id", req.ClientMutationID,
				"version", existing.Version)
			return
		}

		now := s.now()
		item := req.Item.Clone()
		item.Version = existing.Version + 1
		item.SyncedAt = &now

		s.globalMutex.Lock()
		s.data.Items[itemID] = item
		s.data.Metadata.WriteCount++
		s.data.Metadata.TotalItems = len(s.data.Items)
		s.data.Metadata.LastUpdated = now
		s.globalMutex.Unlock()

		resp = models.RemoteWriteResponse{
			ClientMutationID: req.ClientMutationID,
			Item:             item.Clone(),
			Applied:          true,
		}
		s.idempotency.Set(req.ClientMutationID, resp)

		s.logger.Info("Item write applied",
			"kind", kind,
			"item_id", itemID,
			"status", item.Status,
			"version", item.Version,
			"client_mutation_id", req.ClientMutationID)
	})

	if resp.Applied {
		if err := s.saveDataFile(); err != nil {
			// the in-memory state stays authoritative
			s.logger.Error("Failed to persist record data", "item_id", itemID, "error", err)
		}
	}
	return resp, nil
}

// sameSnapshot compares the client-owned fields of two items, ignoring the
// server-assigned version and sync time
func sameSnapshot(stored, incoming models.InventoryItem) bool {
	stored.Version, incoming.Version = 0, 0
	stored.SyncedAt, incoming.SyncedAt = nil, nil

	a, err := json.Marshal(stored)
	if err != nil {
		return false
	}
	b, err := json.Marshal(incoming)
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

func (s *RecordStore) duplicate(cached models.RemoteWriteResponse) models.RemoteWriteResponse {
	s.logger.Info("Duplicate mutation detected, returning recorded result",
		"client_mutation_id", cached.ClientMutationID,
		"item_id", cached.Item.ID)
	cached.Item = cached.Item.Clone()
	cached.Applied = false
	cached.Duplicate = true
	return cached
}

// Get returns a copy of one record
func (s *RecordStore) Get(ctx context.Context, itemID string) (models.InventoryItem, error) {
	var item models.InventoryItem
	var exists bool

	s.itemLocks.WithItemReadLock(itemID, func() {
		s.globalMutex.RLock()
		defer s.globalMutex.RUnlock()
		item, exists = s.data.Items[itemID]
	})

	if !exists {
		return models.InventoryItem{}, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	return item.Clone(), nil
}

// List returns every record sorted by id
func (s *RecordStore) List(ctx context.Context) []models.InventoryItem {
	s.globalMutex.RLock()
	defer s.globalMutex.RUnlock()

	items := make([]models.InventoryItem, 0, len(s.data.Items))
	for _, item := range s.data.Items {
		items = append(items, item.Clone())
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

// Close stops the idempotency cache eviction
func (s *RecordStore) Close() {
	s.idempotency.Stop()
}

// saveDataFile persists the records via a temp file and rename
func (s *RecordStore) saveDataFile() error {
	if s.dataFilePath == "" {
		return nil
	}

	s.saveMutex.Lock()
	defer s.saveMutex.Unlock()

	s.globalMutex.RLock()
	jsonData, err := json.MarshalIndent(s.data, "", "  ")
	itemsCount := len(s.data.Items)
	s.globalMutex.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal record data: %w", err)
	}

	if dir := filepath.Dir(s.dataFilePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	tempFilePath := s.dataFilePath + ".tmp"
	if err := os.WriteFile(tempFilePath, jsonData, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempFilePath, s.dataFilePath); err != nil {
		os.Remove(tempFilePath)
		return fmt.Errorf("failed to replace data file: %w", err)
	}

	s.logger.Debug("Record data saved", "path", s.dataFilePath, "items_count", itemsCount)
	return nil
}
