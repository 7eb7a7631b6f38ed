package models

import "time"

// ItemStatus is the lifecycle status of a physical inventory item
type ItemStatus string

const (
	StatusImported        ItemStatus = "imported"
	StatusSold            ItemStatus = "sold"
	StatusDefective       ItemStatus = "defective"
	StatusInTransit       ItemStatus = "in_transit"
	StatusReturned        ItemStatus = "returned"
	StatusPendingTransfer ItemStatus = "pending_transfer"
)

// AllStatuses lists every ItemStatus in declaration order
var AllStatuses = []ItemStatus{
	StatusImported,
	StatusSold,
	StatusDefective,
	StatusInTransit,
	StatusReturned,
	StatusPendingTransfer,
}

// IsValid reports whether s is one of the known statuses
func (s ItemStatus) IsValid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// StatusHistory is one entry of an item's status transition chain
type StatusHistory struct {
	ID             string      `json:"id" validate:"required"`
	Date           time.Time   `json:"date" validate:"required"`
	PreviousStatus *ItemStatus `json:"previousStatus,omitempty"`
	NewStatus      ItemStatus  `json:"newStatus" validate:"required,itemstatus"`
	UpdatedBy      string      `json:"updatedBy" validate:"required"`
	Notes          string      `json:"notes,omitempty"`
}

// InventoryItem represents a tracked physical item
type InventoryItem struct {
	ID          string          `json:"id" validate:"required"`
	Barcode     string          `json:"barcode" validate:"required"`
	Name        string          `json:"name" validate:"required"`
	Status      ItemStatus      `json:"status" validate:"required,itemstatus"`
	Location    string          `json:"location"`
	Category    string          `json:"category"`
	ImportDate  time.Time       `json:"importDate"`
	LastUpdated time.Time       `json:"lastUpdated"`
	Notes       string          `json:"notes,omitempty"`
	History     []StatusHistory `json:"history" validate:"required,min=1,dive"`

	// Assigned by the remote backend once a write is accepted
	Version  int        `json:"version,omitempty"`
	SyncedAt *time.Time `json:"syncedAt,omitempty"`
}

// Clone returns a deep copy of the item so callers never share history slices
func (i InventoryItem) Clone() InventoryItem {
	out := i
	if i.History != nil {
		out.History = make([]StatusHistory, len(i.History))
		for idx, entry := range i.History {
			if entry.PreviousStatus != nil {
				prev := *entry.PreviousStatus
				entry.PreviousStatus = &prev
			}
			out.History[idx] = entry
		}
	}
	if i.SyncedAt != nil {
		syncedAt := *i.SyncedAt
		out.SyncedAt = &syncedAt
	}
	return out
}

// MutationKind is the remote operation a pending mutation replays as
type MutationKind string

const (
	MutationCreate MutationKind = "create"
	MutationUpdate MutationKind = "update"
)

// PendingMutation is a locally committed write awaiting remote acknowledgement
type PendingMutation struct {
	ClientMutationID string        `json:"clientMutationId"`
	EntityID         string        `json:"entityId"`
	Kind             MutationKind  `json:"kind"`
	Snapshot         InventoryItem `json:"snapshot"`
	BaseLastUpdated  *time.Time    `json:"baseLastUpdated,omitempty"`
	EnqueuedAt       time.Time     `json:"enqueuedAt"`
	AttemptCount     int           `json:"attemptCount"`
	LastAttemptAt    *time.Time    `json:"lastAttemptAt,omitempty"`
	LastError        string        `json:"lastError,omitempty"`
	Rejected         bool          `json:"rejected,omitempty"`
}

// SyncOutcome is the aggregate result of one sync pass
type SyncOutcome struct {
	StartedAt  time.Time     `json:"startedAt"`
	Duration   time.Duration `json:"duration"`
	Attempted  int           `json:"attempted"`
	Confirmed  int           `json:"confirmed"`
	Retried    int           `json:"retried"`
	Rejected   int           `json:"rejected"`
	Deferred   int           `json:"deferred"`
	Remaining  int           `json:"remaining"`
	Skipped    bool          `json:"skipped"`
	SkipReason string        `json:"skipReason,omitempty"`
}

// SyncStatus is the read-only projection the UI consumes
type SyncStatus struct {
	IsOnline      bool         `json:"isOnline"`
	IsSyncing     bool         `json:"isSyncing"`
	PendingCount  int          `json:"pendingCount"`
	RejectedCount int          `json:"rejectedCount"`
	LastOutcome   *SyncOutcome `json:"lastOutcome,omitempty"`
}

// RemoteWriteRequest is the body of a create or update sent to the remote backend
type RemoteWriteRequest struct {
	ClientMutationID string        `json:"clientMutationId"`
	BaseLastUpdated  *time.Time    `json:"baseLastUpdated,omitempty"`
	Item             InventoryItem `json:"item"`
}

// RemoteWriteResponse carries the authoritative item after a write
type RemoteWriteResponse struct {
	ClientMutationID string        `json:"clientMutationId"`
	Item             InventoryItem `json:"item"`
	Applied          bool          `json:"applied"`
	Duplicate        bool          `json:"duplicate"`
}

// ListResponse is a page of items returned by the remote backend
type ListResponse struct {
	Items []InventoryItem `json:"items"`
	Count int             `json:"count"`
}

// CreateItemRequest is the local API payload for creating an item
type CreateItemRequest struct {
	Barcode        string     `json:"barcode"`
	Name           string     `json:"name"`
	Status         ItemStatus `json:"status,omitempty"`
	Location       string     `json:"location"`
	Category       string     `json:"category"`
	Notes          string     `json:"notes,omitempty"`
	AllowDuplicate bool       `json:"allowDuplicate,omitempty"`
}

// StatusChangeRequest is the local API payload for a status change
type StatusChangeRequest struct {
	Status ItemStatus `json:"status"`
	Notes  string     `json:"notes,omitempty"`
}

// ConnectivityRequest overrides the platform connectivity signal
type ConnectivityRequest struct {
	Online bool `json:"online"`
}

// ErrorResponse represents the standard error response format
type ErrorResponse struct {
	Code    string        `json:"code"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Service   string    `json:"service,omitempty"`
	Version   string    `json:"version,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// WriteAccepted is returned by local writes; the mutation waits in the queue for sync
type WriteAccepted struct {
	Item             InventoryItem `json:"item"`
	ClientMutationID string        `json:"clientMutationId"`
}

// StatusCountsResponse is the number of local items per status
type StatusCountsResponse struct {
	Counts map[ItemStatus]int `json:"counts"`
	Total  int                `json:"total"`
}
