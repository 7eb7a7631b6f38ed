package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/melibackend/offline-inventory/internal/models"
	"github.com/melibackend/offline-inventory/internal/queue"
	"github.com/melibackend/offline-inventory/internal/storage"
	"github.com/melibackend/offline-inventory/internal/transition"
	"github.com/melibackend/offline-inventory/internal/utils"
)

var (
	// ErrDuplicateBarcode is returned on create when another item already carries the barcode
	ErrDuplicateBarcode = errors.New("barcode already exists")

	// ErrInvalidStatus is returned for a status outside the known set
	ErrInvalidStatus = errors.New("invalid item status")

	// ErrInvalidItem wraps validation failures; use models.ValidationDetails for the fields
	ErrInvalidItem = errors.New("invalid item")
)

// Service handles the UI-facing inventory actions. Writes are optimistic:
// the local store and the mutation queue are updated together and the
// remote backend is reached later by the sync coordinator.
type Service struct {
	store  *storage.LocalStore
	queue  *queue.MutationQueue
	engine *transition.Engine
	actor  string
	logger *slog.Logger

	// serializes read-modify-write actions so no history entry is lost
	writeMutex sync.Mutex
}

// NewService creates an inventory service. actor is recorded as updatedBy on every change.
func NewService(store *storage.LocalStore, q *queue.MutationQueue, engine *transition.Engine, actor string, logger *slog.Logger) *Service {
	if engine == nil {
		engine = transition.NewEngine()
	}
	if actor == "" {
		actor = "device"
	}
	return &Service{
		store:  store,
		queue:  q,
		engine: engine,
		actor:  actor,
		logger: utils.OrDefault(logger),
	}
}

// CreateItem registers a new item locally and queues its create mutation.
// It returns the stored item and the mutation's clientMutationId.
func (s *Service) CreateItem(ctx context.Context, req models.CreateItemRequest) (models.InventoryItem, string, error) {
	if req.Status != "" && !req.Status.IsValid() {
		return models.InventoryItem{}, "", fmt.Errorf("%w: %q", ErrInvalidStatus, req.Status)
	}

	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	barcode := strings.TrimSpace(req.Barcode)
	if barcode != "" && !req.AllowDuplicate {
		exists, err := s.store.BarcodeExists(ctx, barcode)
		if err != nil {
			return models.InventoryItem{}, "", fmt.Errorf("failed to check barcode: %w", err)
		}
		if exists {
			return models.InventoryItem{}, "", fmt.Errorf("%w: %s", ErrDuplicateBarcode, barcode)
		}
	}

	item := s.engine.NewItem(models.InventoryItem{
		Barcode:  barcode,
		Name:     strings.TrimSpace(req.Name),
		Status:   req.Status,
		Location: req.Location,
		Category: req.Category,
	}, s.actor, req.Notes)

	if err := models.ValidateItem(item); err != nil {
		return models.InventoryItem{}, "", fmt.Errorf("%w: %w", ErrInvalidItem, err)
	}

	clientMutationID, _, err := s.queue.EnqueueWithItem(ctx, item, models.PendingMutation{
		Kind: models.MutationCreate,
	})
	if err != nil {
		s.logger.Error("Failed to create item", "barcode", barcode, "error", err)
		return models.InventoryItem{}, "", err
	}

	s.logger.Info("Item created",
		"item_id", item.ID,
		"barcode", item.Barcode,
		"status", item.Status,
		"client_mutation_id", clientMutationID,
	)
	return item, clientMutationID, nil
}

// ChangeStatus applies a status change locally and queues the update mutation.
// Any status may follow any status.
func (s *Service) ChangeStatus(ctx context.Context, itemID string, req models.StatusChangeRequest) (models.InventoryItem, string, error) {
	if !req.Status.IsValid() {
		return models.InventoryItem{}, "", fmt.Errorf("%w: %q", ErrInvalidStatus, req.Status)
	}

	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	current, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return models.InventoryItem{}, "", err
	}

	updated, entry := s.engine.ApplyStatusChange(current, req.Status, s.actor, req.Notes)
	base := current.LastUpdated

	clientMutationID, _, err := s.queue.EnqueueWithItem(ctx, updated, models.PendingMutation{
		Kind:            models.MutationUpdate,
		BaseLastUpdated: &base,
	})
	if err != nil {
		s.logger.Error("Failed to change item status", "item_id", itemID, "error", err)
		return models.InventoryItem{}, "", err
	}

	s.logger.Info("Item status changed",
		"item_id", itemID,
		"previous_status", current.Status,
		"new_status", entry.NewStatus,
		"updated_by", entry.UpdatedBy,
		"client_mutation_id", clientMutationID,
	)
	return updated, clientMutationID, nil
}

// GetItem returns the local copy of an item
func (s *Service) GetItem(ctx context.Context, itemID string) (models.InventoryItem, error) {
	return s.store.GetItem(ctx, itemID)
}

// ListItems returns every local item, optionally only those in the given status
func (s *Service) ListItems(ctx context.Context, status models.ItemStatus) ([]models.InventoryItem, error) {
	if status != "" && !status.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	items, err := s.store.ListItems(ctx)
	if err != nil {
		return nil, err
	}
	if status == "" {
		return items, nil
	}

	filtered := make([]models.InventoryItem, 0, len(items))
	for _, item := range items {
		if item.Status == status {
			filtered = append(filtered, item)
		}
	}
	return filtered, nil
}

func (s *Service) GetItemByBarcode(ctx context.Context, barcode string) (models.InventoryItem, error) {
	return s.store.GetItemByBarcode(ctx, barcode)
}

func (s *Service) BarcodeExists(ctx context.Context, barcode string) (bool, error) {
	return s.store.BarcodeExists(ctx, barcode)
}

// ItemHistory returns the status transition chain, oldest first
func (s *Service) ItemHistory(ctx context.Context, itemID string) ([]models.StatusHistory, error) {
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return item.History, nil
}

// StatusCounts returns the number of local items per status; every status is present
func (s *Service) StatusCounts(ctx context.Context) (map[models.ItemStatus]int, error) {
	items, err := s.store.ListItems(ctx)
	if err != nil {
		return nil, err
	}

	counts := make(map[models.ItemStatus]int, len(models.AllStatuses))
	for _, status := range models.AllStatuses {
		counts[status] = 0
	}
	for _, item := range items {
		counts[item.Status]++
	}
	return counts, nil
}

// ListMutations exposes the pending queue including attempt and rejection details
func (s *Service) ListMutations(ctx context.Context) ([]models.PendingMutation, error) {
	return s.queue.ListPending(ctx)
}

// DropMutation discards a queued mutation without confirmation. The local
// item keeps its optimistic state. Dropping a create leaves an item the
// backend never receives; it stays local-only with a nil SyncedAt until a
// later change to it is synced. A mutation that is being sent cannot be
// dropped and returns queue.ErrMutationInFlight.
func (s *Service) DropMutation(ctx context.Context, clientMutationID string) (models.PendingMutation, error) {
	return s.queue.Drop(ctx, clientMutationID)
}
