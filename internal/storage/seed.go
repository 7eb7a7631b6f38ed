package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/melibackend/offline-inventory/internal/models"
)

// DefaultSeedItems returns the sample items written on first start when no seed file is configured
func DefaultSeedItems(now time.Time) []models.InventoryItem {
	type sample struct {
		id, barcode, name, location, category string
		status                                models.ItemStatus
		age                                   time.Duration
	}
	samples := []sample{
		{"seed-0001", "7501031311309", "Cordless Drill 18V", "Warehouse A / Rack 3", "Tools", models.StatusImported, 72 * time.Hour},
		{"seed-0002", "7501055300075", "LED Monitor 27\"", "Warehouse A / Rack 7", "Electronics", models.StatusInTransit, 48 * time.Hour},
		{"seed-0003", "7702004003508", "Office Chair Ergonomic", "Store Front", "Furniture", models.StatusSold, 36 * time.Hour},
		{"seed-0004", "7891000315507", "Wireless Headset", "Returns Desk", "Electronics", models.StatusDefective, 24 * time.Hour},
		{"seed-0005", "7613035068414", "Espresso Machine", "Warehouse B / Rack 1", "Appliances", models.StatusPendingTransfer, 12 * time.Hour},
	}

	items := make([]models.InventoryItem, 0, len(samples))
	for _, s := range samples {
		imported := now.Add(-s.age).UTC()
		history := []models.StatusHistory{{
			ID:        s.id + "-h1",
			Date:      imported,
			NewStatus: models.StatusImported,
			UpdatedBy: "system",
			Notes:     "Initial import",
		}}
		lastUpdated := imported
		if s.status != models.StatusImported {
			prev := models.StatusImported
			lastUpdated = imported.Add(s.age / 2)
			history = append(history, models.StatusHistory{
				ID:             s.id + "-h2",
				Date:           lastUpdated,
				PreviousStatus: &prev,
				NewStatus:      s.status,
				UpdatedBy:      "system",
			})
		}

		items = append(items, models.InventoryItem{
			ID:          s.id,
			Barcode:     s.barcode,
			Name:        s.name,
			Status:      s.status,
			Location:    s.location,
			Category:    s.category,
			ImportDate:  imported,
			LastUpdated: lastUpdated,
			History:     history,
		})
	}
	return items
}

// LoadSeedFile reads a JSON array of items and validates every entry
func LoadSeedFile(path string) ([]models.InventoryItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var items []models.InventoryItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal seed file: %w", err)
	}

	for i, item := range items {
		if err := models.ValidateItem(item); err != nil {
			return nil, fmt.Errorf("invalid seed item %d (%s): %w", i, item.ID, err)
		}
	}
	return items, nil
}
