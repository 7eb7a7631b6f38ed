package transition

import (
	"fmt"
	"testing"
	"time"

	"github.com/melibackend/offline-inventory/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

func importedItem(id string) models.InventoryItem {
	return models.InventoryItem{
		ID:          id,
		Barcode:     "B-" + id,
		Name:        "Pallet " + id,
		Status:      models.StatusImported,
		ImportDate:  baseTime,
		LastUpdated: baseTime,
		Notes:       "arrived sealed",
		History: []models.StatusHistory{{
			ID:        "h0",
			Date:      baseTime,
			NewStatus: models.StatusImported,
			UpdatedBy: "system",
		}},
	}
}

// fixedEngine returns an engine whose clock advances one minute per call
func fixedEngine() *Engine {
	tick := 0
	seq := 0
	return &Engine{
		Now: func() time.Time {
			tick++
			return baseTime.Add(time.Duration(tick) * time.Minute)
		},
		NewID: func() string {
			seq++
			return fmt.Sprintf("id-%d", seq)
		},
	}
}

// TestApplyStatusChange_SoldByAlice tests the basic imported to sold change
func TestApplyStatusChange_SoldByAlice(t *testing.T) {
	// Arrange
	item := importedItem("1")
	now := baseTime.Add(time.Hour)

	// Act
	updated, entry := ApplyStatusChange(item, models.StatusSold, "alice", "", now, "h1")

	// Assert
	assert.Equal(t, models.StatusSold, updated.Status)
	assert.Equal(t, now, updated.LastUpdated)
	require.NotNil(t, entry.PreviousStatus)
	assert.Equal(t, models.StatusImported, *entry.PreviousStatus)
	assert.Equal(t, models.StatusSold, entry.NewStatus)
	assert.Equal(t, "alice", entry.UpdatedBy)
	assert.Len(t, updated.History, 2)
	assert.Equal(t, entry, updated.History[1])
	assert.NoError(t, models.ValidateItem(updated))
}

// TestApplyStatusChange_DoesNotMutateInput tests that the prior snapshot is preserved
func TestApplyStatusChange_DoesNotMutateInput(t *testing.T) {
	item := importedItem("1")
	before := item.Clone()

	updated, _ := ApplyStatusChange(item, models.StatusDefective, "bob", "cracked", baseTime.Add(time.Minute), "h1")
	updated.History[0].UpdatedBy = "changed"

	assert.Equal(t, before, item)
}

// TestApplyStatusChange_Notes tests overwrite-if-present notes semantics
func TestApplyStatusChange_Notes(t *testing.T) {
	item := importedItem("1")

	kept, _ := ApplyStatusChange(item, models.StatusInTransit, "bob", "", baseTime.Add(time.Minute), "h1")
	assert.Equal(t, "arrived sealed", kept.Notes)

	replaced, entry := ApplyStatusChange(kept, models.StatusDefective, "bob", "box crushed", baseTime.Add(2*time.Minute), "h2")
	assert.Equal(t, "box crushed", replaced.Notes)
	assert.Equal(t, "box crushed", entry.Notes)
}

// TestApplyStatusChange_Permissive tests that no transition is rejected
func TestApplyStatusChange_Permissive(t *testing.T) {
	for _, from := range models.AllStatuses {
		for _, to := range models.AllStatuses {
			t.Run(fmt.Sprintf("%s_to_%s", from, to), func(t *testing.T) {
				item := importedItem("p")
				item, _ = ApplyStatusChange(item, from, "ops", "", baseTime.Add(time.Minute), "h1")

				updated, entry := ApplyStatusChange(item, to, "ops", "", baseTime.Add(2*time.Minute), "h2")

				assert.Equal(t, to, updated.Status)
				assert.Equal(t, from, *entry.PreviousStatus)
				assert.NoError(t, models.ValidateItem(updated))
			})
		}
	}
}

// TestApplyStatusChange_ClockSkew tests that lastUpdated never moves backwards
func TestApplyStatusChange_ClockSkew(t *testing.T) {
	item := importedItem("1")

	updated, entry := ApplyStatusChange(item, models.StatusSold, "alice", "", baseTime.Add(-time.Hour), "h1")

	assert.Equal(t, baseTime, updated.LastUpdated)
	assert.Equal(t, updated.LastUpdated, entry.Date)
}

// TestEngine_HistoryLengthProperty tests history length and tail status over a sequence of changes
func TestEngine_HistoryLengthProperty(t *testing.T) {
	engine := fixedEngine()
	item := importedItem("1")
	sequence := []models.ItemStatus{
		models.StatusInTransit, models.StatusReturned, models.StatusImported,
		models.StatusPendingTransfer, models.StatusSold, models.StatusSold, models.StatusDefective,
	}

	for n, status := range sequence {
		item, _ = engine.ApplyStatusChange(item, status, "ops", "")

		assert.Len(t, item.History, n+2)
		assert.Equal(t, item.Status, item.History[len(item.History)-1].NewStatus)
		assert.Equal(t, item.LastUpdated, item.History[len(item.History)-1].Date)
		require.NoError(t, models.ValidateItem(item))
	}
}

// TestNewItem tests the initial history entry of a created item
func TestNewItem(t *testing.T) {
	engine := fixedEngine()
	draft := models.InventoryItem{Barcode: "123", Name: "Crate", Location: "Dock 2"}

	item := engine.NewItem(draft, "carol", "received")

	assert.Equal(t, "id-1", item.ID)
	assert.Equal(t, models.StatusImported, item.Status)
	require.Len(t, item.History, 1)
	assert.Nil(t, item.History[0].PreviousStatus)
	assert.Equal(t, "carol", item.History[0].UpdatedBy)
	assert.Equal(t, item.ImportDate, item.LastUpdated)
	assert.Equal(t, "received", item.Notes)
	assert.NoError(t, models.ValidateItem(item))

	draft.Status = models.StatusInTransit
	transit := engine.NewItem(draft, "carol", "")
	assert.Equal(t, models.StatusInTransit, transit.History[0].NewStatus)
}
