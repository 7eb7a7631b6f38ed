package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/melibackend/offline-inventory/internal/models"
	"github.com/melibackend/offline-inventory/internal/utils"
)

// LocalStore owns the durable copies of the inventory item collection and the
// pending mutation queue. Every read and write goes through its mutex, so callers
// never hold references into the persisted collections.
type LocalStore struct {
	mu            sync.Mutex
	kv            KeyValueStore
	driver        string
	initializedAt time.Time
	logger        *slog.Logger
}

// NewLocalStore creates a local store over the given key/value backend
func NewLocalStore(kv KeyValueStore, driver string, logger *slog.Logger) *LocalStore {
	return &LocalStore{
		kv:            kv,
		driver:        driver,
		initializedAt: time.Now(),
		logger:        utils.OrDefault(logger),
	}
}

// Close closes the underlying key/value backend
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.kv.Close()
}

// Seed writes items only if the item collection has never been initialized.
// It reports whether the seed was applied.
func (s *LocalStore) Seed(ctx context.Context, items []models.InventoryItem) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists, err := s.kv.Get(ctx, KeyInventoryItems)
	if err != nil {
		return false, fmt.Errorf("%w: failed to check %s: %w", ErrStorageFailure, KeyInventoryItems, err)
	}
	if exists {
		s.logger.Debug("Local store already initialized, skipping seed")
		return false, nil
	}

	if items == nil {
		items = []models.InventoryItem{}
	}
	if err := s.saveItems(ctx, items); err != nil {
		return false, err
	}

	s.logger.Info("Local store seeded", "item_count", len(items))
	return true, nil
}

// ListItems returns a copy of every item in insertion order
func (s *LocalStore) ListItems(ctx context.Context) ([]models.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.loadItems(ctx)
	if err != nil {
		return nil, err
	}
	return cloneItems(items), nil
}

// GetItem returns a copy of the item with the given id
func (s *LocalStore) GetItem(ctx context.Context, id string) (models.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.loadItems(ctx)
	if err != nil {
		return models.InventoryItem{}, err
	}
	if idx := indexOf(items, id); idx >= 0 {
		return items[idx].Clone(), nil
	}
	return models.InventoryItem{}, fmt.Errorf("%w: %s", ErrItemNotFound, id)
}

// GetItemByBarcode returns the first item carrying the barcode
func (s *LocalStore) GetItemByBarcode(ctx context.Context, barcode string) (models.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.loadItems(ctx)
	if err != nil {
		return models.InventoryItem{}, err
	}
	for _, item := range items {
		if item.Barcode == barcode {
			return item.Clone(), nil
		}
	}
	return models.InventoryItem{}, fmt.Errorf("%w: barcode %s", ErrItemNotFound, barcode)
}

// BarcodeExists is an advisory uniqueness check; storage does not enforce it
func (s *LocalStore) BarcodeExists(ctx context.Context, barcode string) (bool, error) {
	_, err := s.GetItemByBarcode(ctx, barcode)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

// PutItem inserts or replaces an item and returns the previous snapshot, if any
func (s *LocalStore) PutItem(ctx context.Context, item models.InventoryItem) (*models.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.loadItems(ctx)
	if err != nil {
		return nil, err
	}

	var previous *models.InventoryItem
	if idx := indexOf(items, item.ID); idx >= 0 {
		prev := items[idx].Clone()
		previous = &prev
		items[idx] = item.Clone()
	} else {
		items = append(items, item.Clone())
	}

	if err := s.saveItems(ctx, items); err != nil {
		return nil, err
	}
	return previous, nil
}

// CommitWithMutation is the local half of an optimistic write: the item is
// persisted first, then the mutation is appended to the queue. If the queue
// write fails the previous item snapshot is put back and the error returned.
func (s *LocalStore) CommitWithMutation(ctx context.Context, item models.InventoryItem, mutation models.PendingMutation) (*models.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.loadItems(ctx)
	if err != nil {
		return nil, err
	}
	mutations, err := s.loadMutations(ctx)
	if err != nil {
		return nil, err
	}

	var previous *models.InventoryItem
	if idx := indexOf(items, item.ID); idx >= 0 {
		prev := items[idx].Clone()
		previous = &prev
		items[idx] = item.Clone()
	} else {
		items = append(items, item.Clone())
	}
	if err := s.saveItems(ctx, items); err != nil {
		return nil, err
	}

	if err := s.saveMutations(ctx, append(mutations, mutation)); err != nil {
		if rbErr := s.restoreLocked(ctx, item.ID, previous); rbErr != nil {
			s.logger.Error("Failed to roll back item after queue write failure",
				"item_id", item.ID,
				"error", rbErr,
			)
			return nil, fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		s.logger.Warn("Rolled back item after queue write failure", "item_id", item.ID)
		return nil, err
	}

	return previous, nil
}

// ReconcileItem overwrites the local copy with an authoritative item unless a
// mutation for the same item is still queued. It reports whether it wrote.
func (s *LocalStore) ReconcileItem(ctx context.Context, item models.InventoryItem) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mutations, err := s.loadMutations(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range mutations {
		if m.EntityID == item.ID {
			return false, nil
		}
	}

	items, err := s.loadItems(ctx)
	if err != nil {
		return false, err
	}
	if idx := indexOf(items, item.ID); idx >= 0 {
		items[idx] = item.Clone()
	} else {
		items = append(items, item.Clone())
	}
	if err := s.saveItems(ctx, items); err != nil {
		return false, err
	}
	return true, nil
}

// RestoreItem puts back a previous snapshot, or removes the item when previous is nil
func (s *LocalStore) RestoreItem(ctx context.Context, id string, previous *models.InventoryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.restoreLocked(ctx, id, previous)
}

func (s *LocalStore) restoreLocked(ctx context.Context, id string, previous *models.InventoryItem) error {
	items, err := s.loadItems(ctx)
	if err != nil {
		return err
	}

	idx := indexOf(items, id)
	switch {
	case previous == nil && idx >= 0:
		items = append(items[:idx], items[idx+1:]...)
	case previous != nil && idx >= 0:
		items[idx] = previous.Clone()
	case previous != nil:
		items = append(items, previous.Clone())
	default:
		return nil
	}

	return s.saveItems(ctx, items)
}

// ListMutations returns a copy of the pending mutation queue in FIFO order
func (s *LocalStore) ListMutations(ctx context.Context) ([]models.PendingMutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mutations, err := s.loadMutations(ctx)
	if err != nil {
		return nil, err
	}
	return cloneMutations(mutations), nil
}

// UpdateMutations applies fn to the queue and persists the result before returning.
// Nothing is written if fn returns an error.
func (s *LocalStore) UpdateMutations(ctx context.Context, fn func([]models.PendingMutation) ([]models.PendingMutation, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mutations, err := s.loadMutations(ctx)
	if err != nil {
		return err
	}

	updated, err := fn(cloneMutations(mutations))
	if err != nil {
		return err
	}

	return s.saveMutations(ctx, updated)
}

// Stats returns counts for both collections
func (s *LocalStore) Stats(ctx context.Context) (*StorageStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.loadItems(ctx)
	if err != nil {
		return nil, err
	}
	mutations, err := s.loadMutations(ctx)
	if err != nil {
		return nil, err
	}

	return &StorageStats{
		ItemCount:     len(items),
		PendingCount:  len(mutations),
		InitializedAt: s.initializedAt,
		Driver:        s.driver,
	}, nil
}

// loadItems falls back to an empty collection when the key is absent
func (s *LocalStore) loadItems(ctx context.Context) ([]models.InventoryItem, error) {
	data, exists, err := s.kv.Get(ctx, KeyInventoryItems)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %w", ErrStorageFailure, KeyInventoryItems, err)
	}
	if !exists {
		return []models.InventoryItem{}, nil
	}

	var items []models.InventoryItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal %s: %w", ErrStorageFailure, KeyInventoryItems, err)
	}
	return items, nil
}

func (s *LocalStore) saveItems(ctx context.Context, items []models.InventoryItem) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", KeyInventoryItems, err)
	}
	if err := s.kv.Set(ctx, KeyInventoryItems, data); err != nil {
		s.logger.Error("Failed to persist items", "error", err, "item_count", len(items))
		return fmt.Errorf("%w: failed to write %s: %w", ErrStorageFailure, KeyInventoryItems, err)
	}
	return nil
}

func (s *LocalStore) loadMutations(ctx context.Context) ([]models.PendingMutation, error) {
	data, exists, err := s.kv.Get(ctx, KeyPendingMutations)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %w", ErrStorageFailure, KeyPendingMutations, err)
	}
	if !exists {
		return []models.PendingMutation{}, nil
	}

	var mutations []models.PendingMutation
	if err := json.Unmarshal(data, &mutations); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal %s: %w", ErrStorageFailure, KeyPendingMutations, err)
	}
	return mutations, nil
}

func (s *LocalStore) saveMutations(ctx context.Context, mutations []models.PendingMutation) error {
	if mutations == nil {
		mutations = []models.PendingMutation{}
	}
	data, err := json.Marshal(mutations)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", KeyPendingMutations, err)
	}
	if err := s.kv.Set(ctx, KeyPendingMutations, data); err != nil {
		s.logger.Error("Failed to persist mutation queue", "error", err, "pending_count", len(mutations))
		return fmt.Errorf("%w: failed to write %s: %w", ErrStorageFailure, KeyPendingMutations, err)
	}
	return nil
}

func indexOf(items []models.InventoryItem, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneItems(items []models.InventoryItem) []models.InventoryItem {
	out := make([]models.InventoryItem, len(items))
	for i, item := range items {
		out[i] = item.Clone()
	}
	return out
}

func cloneMutations(mutations []models.PendingMutation) []models.PendingMutation {
	out := make([]models.PendingMutation, len(mutations))
	for i, m := range mutations {
		m.Snapshot = m.Snapshot.Clone()
		out[i] = m
	}
	return out
}
