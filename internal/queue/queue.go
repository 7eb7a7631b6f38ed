package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/melibackend/offline-inventory/internal/models"
	"github.com/melibackend/offline-inventory/internal/storage"
	"github.com/melibackend/offline-inventory/internal/utils"
)

var (
	// ErrMutationNotFound is returned when no queued mutation has the given id
	ErrMutationNotFound = errors.New("mutation not found")

	// ErrMutationInFlight is returned when dropping a mutation that is being sent
	ErrMutationInFlight = errors.New("mutation is being sent to the remote backend")
)

// MutationQueue is the durable FIFO of writes awaiting remote acknowledgement.
// All state lives in the local store; the queue holds none of its own.
type MutationQueue struct {
	store  *storage.LocalStore
	now    func() time.Time
	logger *slog.Logger

	// guards claims and drops; taken before the store lock
	flightMutex sync.Mutex
	inFlight    map[string]bool
}

// NewMutationQueue creates a queue persisted in store
func NewMutationQueue(store *storage.LocalStore, logger *slog.Logger) *MutationQueue {
	return &MutationQueue{
		store:    store,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   utils.OrDefault(logger),
		inFlight: make(map[string]bool),
	}
}

// Enqueue appends a mutation and returns once it is durable.
// A ClientMutationID is generated when the caller did not set one.
func (q *MutationQueue) Enqueue(ctx context.Context, mutation models.PendingMutation) (string, error) {
	mutation = q.prepare(mutation)

	err := q.store.UpdateMutations(ctx, func(pending []models.PendingMutation) ([]models.PendingMutation, error) {
		return append(pending, mutation), nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue mutation: %w", err)
	}

	q.logEnqueued(mutation)
	return mutation.ClientMutationID, nil
}

// EnqueueWithItem writes the optimistic item and enqueues its mutation as one
// local commit. On failure neither is visible and the previous item is intact.
func (q *MutationQueue) EnqueueWithItem(ctx context.Context, item models.InventoryItem, mutation models.PendingMutation) (string, *models.InventoryItem, error) {
	mutation.Snapshot = item
	mutation = q.prepare(mutation)

	previous, err := q.store.CommitWithMutation(ctx, item, mutation)
	if err != nil {
		return "", nil, fmt.Errorf("failed to enqueue mutation: %w", err)
	}

	q.logEnqueued(mutation)
	return mutation.ClientMutationID, previous, nil
}

func (q *MutationQueue) prepare(mutation models.PendingMutation) models.PendingMutation {
	if mutation.ClientMutationID == "" {
		mutation.ClientMutationID = uuid.NewString()
	}
	if mutation.EntityID == "" {
		mutation.EntityID = mutation.Snapshot.ID
	}
	mutation.EnqueuedAt = q.now()
	mutation.AttemptCount = 0
	mutation.LastAttemptAt = nil
	mutation.LastError = ""
	mutation.Rejected = false
	mutation.Snapshot = mutation.Snapshot.Clone()
	return mutation
}

func (q *MutationQueue) logEnqueued(mutation models.PendingMutation) {
	q.logger.Debug("Mutation enqueued",
		"client_mutation_id", mutation.ClientMutationID,
		"item_id", mutation.EntityID,
		"kind", mutation.Kind,
	)
}

// DequeueConfirmed removes a mutation the remote backend has accepted.
// Removing an id that is no longer queued is not an error.
func (q *MutationQueue) DequeueConfirmed(ctx context.Context, clientMutationID string) error {
	err := q.store.UpdateMutations(ctx, func(pending []models.PendingMutation) ([]models.PendingMutation, error) {
		return remove(pending, clientMutationID), nil
	})
	if err != nil {
		return fmt.Errorf("failed to dequeue mutation %s: %w", clientMutationID, err)
	}
	return nil
}

// ListPending returns the queued mutations in FIFO order
func (q *MutationQueue) ListPending(ctx context.Context) ([]models.PendingMutation, error) {
	return q.store.ListMutations(ctx)
}

// Count returns the number of queued mutations
func (q *MutationQueue) Count(ctx context.Context) (int, error) {
	pending, err := q.store.ListMutations(ctx)
	if err != nil {
		return 0, err
	}
	return len(pending), nil
}

// RecordFailure increments the attempt count and stores the failure reason.
// The mutation stays queued either way.
func (q *MutationQueue) RecordFailure(ctx context.Context, clientMutationID string, cause error, rejected bool) (models.PendingMutation, error) {
	var updated models.PendingMutation
	err := q.store.UpdateMutations(ctx, func(pending []models.PendingMutation) ([]models.PendingMutation, error) {
		for i := range pending {
			if pending[i].ClientMutationID != clientMutationID {
				continue
			}
			attemptedAt := q.now()
			pending[i].AttemptCount++
			pending[i].LastAttemptAt = &attemptedAt
			pending[i].Rejected = rejected
			if cause != nil {
				pending[i].LastError = cause.Error()
			}
			updated = pending[i]
			return pending, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrMutationNotFound, clientMutationID)
	})
	if err != nil {
		return models.PendingMutation{}, err
	}
	return updated, nil
}

// Claim marks a mutation as being sent. It reports false when the mutation is
// no longer queued. A claimed mutation cannot be dropped until Release.
func (q *MutationQueue) Claim(ctx context.Context, clientMutationID string) (bool, error) {
	q.flightMutex.Lock()
	defer q.flightMutex.Unlock()

	pending, err := q.store.ListMutations(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to claim mutation %s: %w", clientMutationID, err)
	}
	for _, m := range pending {
		if m.ClientMutationID == clientMutationID {
			q.inFlight[clientMutationID] = true
			return true, nil
		}
	}
	return false, nil
}

// Release ends a claim once the send outcome has been recorded
func (q *MutationQueue) Release(clientMutationID string) {
	q.flightMutex.Lock()
	defer q.flightMutex.Unlock()
	delete(q.inFlight, clientMutationID)
}

// Drop removes a mutation without confirmation. It is the only path that
// discards unsynced work and must come from an explicit operator action.
// A mutation that is being sent returns ErrMutationInFlight.
func (q *MutationQueue) Drop(ctx context.Context, clientMutationID string) (models.PendingMutation, error) {
	q.flightMutex.Lock()
	defer q.flightMutex.Unlock()

	if q.inFlight[clientMutationID] {
		return models.PendingMutation{}, fmt.Errorf("%w: %s", ErrMutationInFlight, clientMutationID)
	}

	var dropped models.PendingMutation
	err := q.store.UpdateMutations(ctx, func(pending []models.PendingMutation) ([]models.PendingMutation, error) {
		for _, m := range pending {
			if m.ClientMutationID == clientMutationID {
				dropped = m
				return remove(pending, clientMutationID), nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrMutationNotFound, clientMutationID)
	})
	if err != nil {
		return models.PendingMutation{}, err
	}

	q.logger.Warn("Mutation dropped without confirmation",
		"client_mutation_id", dropped.ClientMutationID,
		"item_id", dropped.EntityID,
		"attempt_count", dropped.AttemptCount,
		"last_error", dropped.LastError,
	)
	return dropped, nil
}

func remove(pending []models.PendingMutation, clientMutationID string) []models.PendingMutation {
	out := pending[:0]
	for _, m := range pending {
		if m.ClientMutationID != clientMutationID {
			out = append(out, m)
		}
	}
	return out
}
