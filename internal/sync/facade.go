package sync

import (
	"context"

	"github.com/melibackend/offline-inventory/internal/connectivity"
	"github.com/melibackend/offline-inventory/internal/models"
	"github.com/melibackend/offline-inventory/internal/queue"
)

// StatusFacade is the read-only view the UI consumes. It keeps no state of
// its own; every value is read from its owner on demand.
type StatusFacade struct {
	monitor     *connectivity.Monitor
	coordinator *Coordinator
	queue       *queue.MutationQueue
}

func NewStatusFacade(monitor *connectivity.Monitor, coordinator *Coordinator, q *queue.MutationQueue) *StatusFacade {
	return &StatusFacade{monitor: monitor, coordinator: coordinator, queue: q}
}

func (f *StatusFacade) IsOnline() bool {
	return f.monitor.IsOnline()
}

func (f *StatusFacade) IsSyncing() bool {
	return f.coordinator.IsSyncing()
}

// PendingCount is the number of mutations not yet confirmed by the backend
func (f *StatusFacade) PendingCount(ctx context.Context) (int, error) {
	return f.queue.Count(ctx)
}

func (f *StatusFacade) TriggerSync(ctx context.Context) (models.SyncOutcome, error) {
	return f.coordinator.TriggerSync(ctx)
}

// Status assembles the full projection in one call
func (f *StatusFacade) Status(ctx context.Context) (models.SyncStatus, error) {
	pending, err := f.queue.ListPending(ctx)
	if err != nil {
		return models.SyncStatus{}, err
	}

	rejected := 0
	for _, m := range pending {
		if m.Rejected {
			rejected++
		}
	}

	return models.SyncStatus{
		IsOnline:      f.monitor.IsOnline(),
		IsSyncing:     f.coordinator.IsSyncing(),
		PendingCount:  len(pending),
		RejectedCount: rejected,
		LastOutcome:   f.coordinator.LastOutcome(),
	}, nil
}
