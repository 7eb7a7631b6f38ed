package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/melibackend/offline-inventory/internal/models"
	"github.com/melibackend/offline-inventory/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*MutationQueue, string) {
	t.Helper()
	dir := t.TempDir()
	kv, err := storage.NewFileKV(dir, nil)
	require.NoError(t, err)
	return NewMutationQueue(storage.NewLocalStore(kv, "file", nil), nil), dir
}

func updateFor(itemID, name string) models.PendingMutation {
	now := time.Date(2026, 2, 2, 8, 0, 0, 0, time.UTC)
	return models.PendingMutation{
		Kind: models.MutationUpdate,
		Snapshot: models.InventoryItem{
			ID:          itemID,
			Barcode:     "B" + itemID,
			Name:        name,
			Status:      models.StatusSold,
			LastUpdated: now,
			History: []models.StatusHistory{{
				ID: "h", Date: now, NewStatus: models.StatusSold, UpdatedBy: "alice",
			}},
		},
	}
}

// TestMutationQueue_EnqueueFIFO tests arrival order and generated ids
func TestMutationQueue_EnqueueFIFO(t *testing.T) {
	// Arrange
	q, _ := newTestQueue(t)
	ctx := context.Background()

	// Act
	id1, err := q.Enqueue(ctx, updateFor("1", "first"))
	require.NoError(t, err)
	id2, err := q.Enqueue(ctx, updateFor("2", "second"))
	require.NoError(t, err)
	id3, err := q.Enqueue(ctx, updateFor("1", "third"))
	require.NoError(t, err)

	// Assert
	assert.NotEmpty(t, id1)
	assert.NotEqual(t, id1, id2)

	pending, err := q.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, []string{id1, id2, id3}, []string{
		pending[0].ClientMutationID, pending[1].ClientMutationID, pending[2].ClientMutationID,
	})
	assert.Equal(t, "1", pending[0].EntityID, "Entity id should default to the snapshot id")
	assert.Equal(t, 0, pending[0].AttemptCount)
	assert.False(t, pending[0].EnqueuedAt.IsZero())

	count, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

// TestMutationQueue_DurableAcrossRestart tests that an enqueued mutation survives a new process
func TestMutationQueue_DurableAcrossRestart(t *testing.T) {
	q, dir := newTestQueue(t)
	ctx := context.Background()
	id, err := q.Enqueue(ctx, updateFor("2", "offline edit"))
	require.NoError(t, err)

	kv, err := storage.NewFileKV(dir, nil)
	require.NoError(t, err)
	reopened := NewMutationQueue(storage.NewLocalStore(kv, "file", nil), nil)

	pending, err := reopened.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ClientMutationID)
	assert.Equal(t, "offline edit", pending[0].Snapshot.Name)
}

// TestMutationQueue_DequeueConfirmed tests removal and idempotent removal
func TestMutationQueue_DequeueConfirmed(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	id1, _ := q.Enqueue(ctx, updateFor("1", "a"))
	id2, _ := q.Enqueue(ctx, updateFor("2", "b"))

	require.NoError(t, q.DequeueConfirmed(ctx, id1))
	require.NoError(t, q.DequeueConfirmed(ctx, id1))

	pending, err := q.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id2, pending[0].ClientMutationID)
}

// TestMutationQueue_RecordFailure tests attempt accounting without removal
func TestMutationQueue_RecordFailure(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	id, _ := q.Enqueue(ctx, updateFor("1", "a"))

	updated, err := q.RecordFailure(ctx, id, errors.New("connection refused"), false)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.AttemptCount)
	assert.Equal(t, "connection refused", updated.LastError)
	assert.NotNil(t, updated.LastAttemptAt)
	assert.False(t, updated.Rejected)

	updated, err = q.RecordFailure(ctx, id, errors.New("barcode required"), true)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.AttemptCount)
	assert.True(t, updated.Rejected)

	pending, err := q.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "a", pending[0].Snapshot.Name, "Snapshot content should be unaltered")

	_, err = q.RecordFailure(ctx, "unknown", nil, false)
	assert.ErrorIs(t, err, ErrMutationNotFound)
}

// TestMutationQueue_Drop tests explicit removal
func TestMutationQueue_Drop(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	id, _ := q.Enqueue(ctx, updateFor("1", "a"))

	dropped, err := q.Drop(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "1", dropped.EntityID)

	count, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	_, err = q.Drop(ctx, id)
	assert.ErrorIs(t, err, ErrMutationNotFound)
}

// TestMutationQueue_ClaimBlocksDrop tests that a mutation being sent cannot be dropped
func TestMutationQueue_ClaimBlocksDrop(t *testing.T) {
	// Arrange
	q, _ := newTestQueue(t)
	ctx := context.Background()
	id, _ := q.Enqueue(ctx, updateFor("1", "a"))

	// Act
	claimed, err := q.Claim(ctx, id)
	require.NoError(t, err)
	_, dropErr := q.Drop(ctx, id)

	// Assert
	assert.True(t, claimed)
	assert.ErrorIs(t, dropErr, ErrMutationInFlight)
	count, _ := q.Count(ctx)
	assert.Equal(t, 1, count)

	q.Release(id)
	_, err = q.Drop(ctx, id)
	require.NoError(t, err)

	claimed, err = q.Claim(ctx, id)
	require.NoError(t, err)
	assert.False(t, claimed, "A dropped mutation must not be claimable")
}

// TestMutationQueue_KeepsCallerID tests that a caller supplied id is preserved
func TestMutationQueue_KeepsCallerID(t *testing.T) {
	q, _ := newTestQueue(t)
	m := updateFor("1", "a")
	m.ClientMutationID = "fixed-id"
	m.AttemptCount = 9

	id, err := q.Enqueue(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", id)

	pending, _ := q.ListPending(context.Background())
	assert.Equal(t, 0, pending[0].AttemptCount)
}

// TestMutationQueue_EnqueueWithItem tests the combined local commit
func TestMutationQueue_EnqueueWithItem(t *testing.T) {
	q, dir := newTestQueue(t)
	ctx := context.Background()
	m := updateFor("5", "combined")

	id, previous, err := q.EnqueueWithItem(ctx, m.Snapshot, models.PendingMutation{Kind: models.MutationCreate})
	require.NoError(t, err)
	assert.Nil(t, previous)

	kv, err := storage.NewFileKV(dir, nil)
	require.NoError(t, err)
	store := storage.NewLocalStore(kv, "file", nil)
	item, err := store.GetItem(ctx, "5")
	require.NoError(t, err)
	assert.Equal(t, "combined", item.Name)

	pending, err := q.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ClientMutationID)
	assert.Equal(t, "5", pending[0].EntityID)
	assert.Equal(t, models.MutationCreate, pending[0].Kind)
}
