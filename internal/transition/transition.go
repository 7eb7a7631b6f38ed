// Package transition computes item snapshots for status changes.
//
// Every function here is pure: inputs are never modified and the clock and
// id source are supplied by the caller, so the previous snapshot stays
// available for rollback.
package transition

import (
	"time"

	"github.com/google/uuid"

	"github.com/melibackend/offline-inventory/internal/models"
)

// IDFunc produces identifiers for new history entries
type IDFunc func() string

// NewID is the default IDFunc
func NewID() string {
	return uuid.NewString()
}

// Engine applies status changes with an injected clock and id source
type Engine struct {
	Now   func() time.Time
	NewID IDFunc
}

// NewEngine returns an engine using the wall clock (UTC) and random uuids
func NewEngine() *Engine {
	return &Engine{
		Now:   func() time.Time { return time.Now().UTC() },
		NewID: NewID,
	}
}

// ApplyStatusChange returns the updated item and the history entry appended to it.
// Any status may follow any status. Notes replace the item's notes only when non-empty.
func (e *Engine) ApplyStatusChange(item models.InventoryItem, newStatus models.ItemStatus, actor, notes string) (models.InventoryItem, models.StatusHistory) {
	return ApplyStatusChange(item, newStatus, actor, notes, e.Now(), e.NewID())
}

// NewItem builds a fresh item whose history starts with its initial status
func (e *Engine) NewItem(draft models.InventoryItem, actor, notes string) models.InventoryItem {
	return NewItem(draft, e.NewID(), e.NewID(), actor, notes, e.Now())
}

// ApplyStatusChange is the clock-explicit form of Engine.ApplyStatusChange
func ApplyStatusChange(item models.InventoryItem, newStatus models.ItemStatus, actor, notes string, now time.Time, entryID string) (models.InventoryItem, models.StatusHistory) {
	// lastUpdated is monotonically non-decreasing per item
	if now.Before(item.LastUpdated) {
		now = item.LastUpdated
	}

	previous := item.Status
	entry := models.StatusHistory{
		ID:             entryID,
		Date:           now,
		PreviousStatus: &previous,
		NewStatus:      newStatus,
		UpdatedBy:      actor,
		Notes:          notes,
	}

	updated := item.Clone()
	updated.Status = newStatus
	updated.LastUpdated = now
	if notes != "" {
		updated.Notes = notes
	}
	updated.History = append(updated.History, entry)

	return updated, entry
}

// NewItem is the clock-explicit form of Engine.NewItem. An empty draft status defaults to imported.
func NewItem(draft models.InventoryItem, itemID, entryID, actor, notes string, now time.Time) models.InventoryItem {
	status := draft.Status
	if status == "" {
		status = models.StatusImported
	}

	item := draft.Clone()
	item.ID = itemID
	item.Status = status
	item.ImportDate = now
	item.LastUpdated = now
	item.Version = 0
	item.SyncedAt = nil
	if notes != "" {
		item.Notes = notes
	}
	item.History = []models.StatusHistory{{
		ID:        entryID,
		Date:      now,
		NewStatus: status,
		UpdatedBy: actor,
		Notes:     notes,
	}}
	return item
}
