package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"github.com/melibackend/offline-inventory/internal/client"
	"github.com/melibackend/offline-inventory/internal/connectivity"
	"github.com/melibackend/offline-inventory/internal/models"
	"github.com/melibackend/offline-inventory/internal/queue"
	"github.com/melibackend/offline-inventory/internal/storage"
	"github.com/melibackend/offline-inventory/internal/telemetry"
	"github.com/melibackend/offline-inventory/internal/utils"
)

// SkipReasonOffline is reported when a trigger arrives while the monitor says offline
const SkipReasonOffline = "offline"

const passKey = "sync-pass"

// RemoteBackend is the record store the queue is drained against. Submitting
// the same ClientMutationID twice must be a no-op on the backend side.
type RemoteBackend interface {
	CreateItem(ctx context.Context, req models.RemoteWriteRequest) (*models.RemoteWriteResponse, error)
	UpdateItem(ctx context.Context, req models.RemoteWriteRequest) (*models.RemoteWriteResponse, error)
}

// Config controls the background triggers
type Config struct {
	// Periodic trigger; zero disables it
	SyncInterval time.Duration
	// Retry delays while retryable mutations remain
	RetryBackoffMin time.Duration
	RetryBackoffMax time.Duration
	// Per-mutation remote call timeout
	RequestTimeout time.Duration
}

// Coordinator drains the mutation queue against the remote backend.
// At most one pass runs at a time; concurrent triggers share its outcome.
type Coordinator struct {
	store     *storage.LocalStore
	queue     *queue.MutationQueue
	remote    RemoteBackend
	monitor   *connectivity.Monitor
	telemetry *telemetry.SyncTelemetry
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time

	group   singleflight.Group
	syncing atomic.Bool
	running atomic.Bool

	statusMutex sync.RWMutex
	lastOutcome *models.SyncOutcome

	lifecycleMutex sync.Mutex
	stopChan       chan struct{}
	unsubscribe    func()
	wg             sync.WaitGroup

	retryMutex sync.Mutex
	retryTimer *time.Timer
	retryChan  chan struct{}
	backoff    *backoff.ExponentialBackOff
}

// NewCoordinator creates a coordinator. st may be nil when metrics are not wanted.
func NewCoordinator(store *storage.LocalStore, q *queue.MutationQueue, remote RemoteBackend, monitor *connectivity.Monitor, st *telemetry.SyncTelemetry, cfg Config, logger *slog.Logger) *Coordinator {
	if cfg.RetryBackoffMin <= 0 {
		cfg.RetryBackoffMin = 2 * time.Second
	}
	if cfg.RetryBackoffMax < cfg.RetryBackoffMin {
		cfg.RetryBackoffMax = cfg.RetryBackoffMin
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.RetryBackoffMin
	bo.MaxInterval = cfg.RetryBackoffMax
	bo.MaxElapsedTime = 0
	bo.Reset()

	return &Coordinator{
		store:     store,
		queue:     q,
		remote:    remote,
		monitor:   monitor,
		telemetry: st,
		cfg:       cfg,
		logger:    utils.OrDefault(logger),
		now:       func() time.Time { return time.Now().UTC() },
		retryChan: make(chan struct{}, 1),
		backoff:   bo,
	}
}

// IsSyncing reports whether a pass is in flight
func (c *Coordinator) IsSyncing() bool {
	return c.syncing.Load()
}

// LastOutcome returns a copy of the most recent outcome, or nil before the first trigger
func (c *Coordinator) LastOutcome() *models.SyncOutcome {
	c.statusMutex.RLock()
	defer c.statusMutex.RUnlock()

	if c.lastOutcome == nil {
		return nil
	}
	outcome := *c.lastOutcome
	return &outcome
}

// TriggerSync runs a sync pass, or joins the one already in flight.
// The pass itself is not cancelled by ctx; ctx only bounds how long the caller waits.
// The returned error is reserved for local storage failures and caller cancellation.
func (c *Coordinator) TriggerSync(ctx context.Context) (models.SyncOutcome, error) {
	if !c.monitor.IsOnline() && !c.IsSyncing() {
		outcome := models.SyncOutcome{StartedAt: c.now(), Skipped: true, SkipReason: SkipReasonOffline}
		c.setLastOutcome(outcome)
		c.telemetry.RecordPass(ctx, "skipped", 0, 0, 0, 0)
		c.logger.Debug("Sync skipped", "reason", SkipReasonOffline)
		return outcome, nil
	}

	passCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(passKey, func() (interface{}, error) {
		return c.runPass(passCtx)
	})

	select {
	case res := <-ch:
		outcome, _ := res.Val.(models.SyncOutcome)
		if res.Shared {
			c.logger.Debug("Sync trigger coalesced into in-flight pass")
		}
		return outcome, res.Err
	case <-ctx.Done():
		return models.SyncOutcome{}, ctx.Err()
	}
}

// runPass drains the queue snapshot taken at its start. Mutations enqueued
// meanwhile wait for the next pass.
func (c *Coordinator) runPass(ctx context.Context) (models.SyncOutcome, error) {
	c.syncing.Store(true)
	defer c.syncing.Store(false)

	outcome := models.SyncOutcome{StartedAt: c.now()}
	start := time.Now()

	snapshot, err := c.queue.ListPending(ctx)
	if err != nil {
		return c.failPass(ctx, outcome, start, fmt.Errorf("failed to read mutation queue: %w", err))
	}

	c.logger.Info("Sync pass started", "pending_count", len(snapshot))

	// entities whose earlier mutation failed in this pass
	blocked := make(map[string]bool)

	for _, mutation := range snapshot {
		if blocked[mutation.EntityID] {
			outcome.Deferred++
			c.logger.Debug("Mutation deferred behind failed predecessor",
				"client_mutation_id", mutation.ClientMutationID,
				"item_id", mutation.EntityID,
			)
			continue
		}

		claimed, err := c.queue.Claim(ctx, mutation.ClientMutationID)
		if err != nil {
			return c.failPass(ctx, outcome, start, err)
		}
		if !claimed {
			c.logger.Info("Mutation left the queue before it was sent",
				"client_mutation_id", mutation.ClientMutationID,
				"item_id", mutation.EntityID,
			)
			continue
		}

		outcome.Attempted++
		err = c.process(ctx, mutation, &outcome, blocked)
		c.queue.Release(mutation.ClientMutationID)
		if err != nil {
			return c.failPass(ctx, outcome, start, err)
		}
	}

	remaining, err := c.queue.Count(ctx)
	if err != nil {
		return c.failPass(ctx, outcome, start, err)
	}
	outcome.Remaining = remaining
	outcome.Duration = time.Since(start)

	result := "success"
	if outcome.Retried > 0 || outcome.Rejected > 0 || outcome.Deferred > 0 {
		result = "partial"
	}
	c.telemetry.RecordPass(ctx, result, outcome.Duration, outcome.Confirmed, outcome.Retried, outcome.Rejected)
	c.setLastOutcome(outcome)
	c.scheduleRetry(outcome)

	c.logger.Info("Sync pass completed",
		"attempted", outcome.Attempted,
		"confirmed", outcome.Confirmed,
		"retried", outcome.Retried,
		"rejected", outcome.Rejected,
		"deferred", outcome.Deferred,
		"remaining", outcome.Remaining,
		"duration", outcome.Duration,
	)
	return outcome, nil
}

func (c *Coordinator) failPass(ctx context.Context, outcome models.SyncOutcome, start time.Time, err error) (models.SyncOutcome, error) {
	outcome.Duration = time.Since(start)
	if remaining, countErr := c.queue.Count(ctx); countErr == nil {
		outcome.Remaining = remaining
	}
	c.telemetry.RecordPass(ctx, "failed", outcome.Duration, outcome.Confirmed, outcome.Retried, outcome.Rejected)
	c.setLastOutcome(outcome)
	c.logger.Error("Sync pass aborted by local storage failure", "error", err)
	return outcome, err
}

// process sends one claimed mutation and records its result. Only local
// storage failures are returned.
func (c *Coordinator) process(ctx context.Context, mutation models.PendingMutation, outcome *models.SyncOutcome, blocked map[string]bool) error {
	resp, sendErr := c.send(ctx, mutation)
	if sendErr != nil {
		rejected := client.IsRejected(sendErr)
		updated, err := c.queue.RecordFailure(ctx, mutation.ClientMutationID, sendErr, rejected)
		if err != nil {
			return err
		}

		blocked[mutation.EntityID] = true
		if rejected {
			outcome.Rejected++
			c.logger.Warn("Mutation rejected by remote backend",
				"client_mutation_id", mutation.ClientMutationID,
				"item_id", mutation.EntityID,
				"attempt_count", updated.AttemptCount,
				"error", sendErr,
			)
		} else {
			outcome.Retried++
			c.logger.Warn("Mutation kept for retry",
				"client_mutation_id", mutation.ClientMutationID,
				"item_id", mutation.EntityID,
				"attempt_count", updated.AttemptCount,
				"error", sendErr,
			)
		}
		return nil
	}

	if err := c.queue.DequeueConfirmed(ctx, mutation.ClientMutationID); err != nil {
		return err
	}
	outcome.Confirmed++

	return c.reconcile(ctx, mutation, resp)
}

func (c *Coordinator) send(ctx context.Context, mutation models.PendingMutation) (*models.RemoteWriteResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req := models.RemoteWriteRequest{
		ClientMutationID: mutation.ClientMutationID,
		BaseLastUpdated:  mutation.BaseLastUpdated,
		Item:             mutation.Snapshot,
	}

	if mutation.Kind == models.MutationCreate {
		return c.remote.CreateItem(reqCtx, req)
	}
	return c.remote.UpdateItem(reqCtx, req)
}

// reconcile stores the authoritative item unless a later local mutation for
// the same item is still queued; that mutation's confirmation will do it.
func (c *Coordinator) reconcile(ctx context.Context, mutation models.PendingMutation, resp *models.RemoteWriteResponse) error {
	authoritative := mutation.Snapshot
	if resp != nil && resp.Item.ID != "" {
		authoritative = resp.Item
	}
	if authoritative.SyncedAt == nil {
		syncedAt := c.now()
		authoritative.SyncedAt = &syncedAt
	}

	applied, err := c.store.ReconcileItem(ctx, authoritative)
	if err != nil {
		return fmt.Errorf("failed to reconcile item %s: %w", authoritative.ID, err)
	}

	c.logger.Debug("Mutation confirmed",
		"client_mutation_id", mutation.ClientMutationID,
		"item_id", authoritative.ID,
		"local_overwritten", applied,
		"duplicate", resp != nil && resp.Duplicate,
	)
	return nil
}

func (c *Coordinator) setLastOutcome(outcome models.SyncOutcome) {
	c.statusMutex.Lock()
	defer c.statusMutex.Unlock()
	c.lastOutcome = &outcome
}

// scheduleRetry arms the backoff timer while retryable work remains
func (c *Coordinator) scheduleRetry(outcome models.SyncOutcome) {
	c.retryMutex.Lock()
	defer c.retryMutex.Unlock()

	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}

	if outcome.Retried == 0 && outcome.Deferred == 0 {
		c.backoff.Reset()
		return
	}
	// only the background loop consumes retries
	if !c.running.Load() {
		return
	}

	delay := c.backoff.NextBackOff()
	if delay == backoff.Stop {
		delay = c.cfg.RetryBackoffMax
	}
	c.retryTimer = time.AfterFunc(delay, func() {
		select {
		case c.retryChan <- struct{}{}:
		default:
		}
	})
	c.logger.Debug("Sync retry scheduled", "delay", delay)
}

// Start wires the background triggers: online transitions, the periodic
// timer and the retry backoff. Every trigger goes through TriggerSync.
func (c *Coordinator) Start(ctx context.Context) error {
	c.lifecycleMutex.Lock()
	defer c.lifecycleMutex.Unlock()

	if c.stopChan != nil {
		return errors.New("sync coordinator already started")
	}

	events, unsubscribe := c.monitor.Subscribe()
	c.stopChan = make(chan struct{})
	c.unsubscribe = unsubscribe

	c.running.Store(true)
	c.wg.Add(1)
	go c.run(ctx, events, c.stopChan)

	c.logger.Info("Sync coordinator started", "sync_interval", c.cfg.SyncInterval)
	return nil
}

// Stop ends the background triggers and waits for them. A pass already in
// flight runs to completion first.
func (c *Coordinator) Stop() {
	c.lifecycleMutex.Lock()
	if c.stopChan == nil {
		c.lifecycleMutex.Unlock()
		return
	}
	c.running.Store(false)
	close(c.stopChan)
	c.unsubscribe()
	c.stopChan = nil
	c.unsubscribe = nil
	c.lifecycleMutex.Unlock()

	c.retryMutex.Lock()
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.retryMutex.Unlock()

	c.wg.Wait()
	c.logger.Info("Sync coordinator stopped")
}

func (c *Coordinator) run(ctx context.Context, events <-chan connectivity.Event, stop <-chan struct{}) {
	defer c.wg.Done()

	var tick <-chan time.Time
	if c.cfg.SyncInterval > 0 {
		ticker := time.NewTicker(c.cfg.SyncInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Sync triggers stopped due to context cancellation")
			return
		case <-stop:
			return
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if event.Online {
				c.backgroundSync(ctx, "online")
			}
		case <-tick:
			c.backgroundSync(ctx, "periodic")
		case <-c.retryChan:
			c.backgroundSync(ctx, "retry")
		}
	}
}

func (c *Coordinator) backgroundSync(ctx context.Context, trigger string) {
	c.logger.Debug("Background sync triggered", "trigger", trigger)
	if _, err := c.TriggerSync(ctx); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Error("Background sync failed", "trigger", trigger, "error", err)
	}
}
