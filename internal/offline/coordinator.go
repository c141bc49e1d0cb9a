package offline

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/noah-isme/classmark-api/internal/dto"
	"github.com/noah-isme/classmark-api/internal/models"
	appErrors "github.com/noah-isme/classmark-api/pkg/errors"
)

// ErrSyncInFlight is returned when Sync is called while another sync is
// still running. Callers simply wait for the next trigger.
var ErrSyncInFlight = errors.New("sync already in flight")

// Outcome summarises one sync cycle for user-facing reporting.
type Outcome struct {
	Synced int
	Failed int
	// Errors maps each failed key to its machine error code.
	Errors map[Key]string
}

// Coordinator drains the pending mark store through the reconciler. At most
// one sync runs at a time per device; marks queued while a sync is in flight
// are picked up by the next trigger.
type Coordinator struct {
	store      Store
	reconciler Reconciler
	monitor    Monitor
	logger     *zap.Logger

	inFlight int32
}

// NewCoordinator constructs the coordinator and, when a monitor is supplied,
// registers the reconnect trigger: an offline-to-online edge with a
// non-empty queue starts a sync.
func NewCoordinator(store Store, reconciler Reconciler, monitor Monitor, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{store: store, reconciler: reconciler, monitor: monitor, logger: logger}
	if monitor != nil {
		monitor.OnTransition(func(online bool) {
			if !online {
				return
			}
			ctx := context.Background()
			count, err := c.store.CountQueued(ctx)
			if err != nil {
				c.logger.Warn("pending count failed on reconnect", zap.Error(err))
				return
			}
			if count == 0 {
				return
			}
			if _, err := c.Sync(ctx); err != nil && !errors.Is(err, ErrSyncInFlight) {
				c.logger.Warn("reconnect sync failed", zap.Error(err))
			}
		})
	}
	return c
}

// Mark records a local attendance intent. The write always lands in the
// durable store first and never blocks on the network; when the device is
// already online a sync is kicked off immediately.
func (c *Coordinator) Mark(ctx context.Context, key Key, status models.AttendanceStatus, notes *string) error {
	if err := c.store.Put(ctx, key, status, notes); err != nil {
		return err
	}
	if c.monitor != nil && c.monitor.IsOnline() {
		if _, err := c.Sync(ctx); err != nil && !errors.Is(err, ErrSyncInFlight) {
			c.logger.Warn("immediate sync failed", zap.Error(err))
		}
	}
	return nil
}

// PendingCount reports the queue size for the UI badge.
func (c *Coordinator) PendingCount(ctx context.Context) (int, error) {
	return c.store.CountQueued(ctx)
}

// Sync snapshots the queue, submits it as one batch, and reclassifies each
// mark from the per-item results. A whole-batch transport failure re-queues
// every snapshot item. Returns ErrSyncInFlight when a sync is already
// running; this is a single-flight guard, not a queue of syncs.
func (c *Coordinator) Sync(ctx context.Context) (*Outcome, error) {
	if !atomic.CompareAndSwapInt32(&c.inFlight, 0, 1) {
		return nil, ErrSyncInFlight
	}
	defer atomic.StoreInt32(&c.inFlight, 0)

	snapshot, err := c.store.AllQueued(ctx)
	if err != nil {
		return nil, err
	}
	if len(snapshot) == 0 {
		return &Outcome{}, nil
	}

	keys := make([]Key, len(snapshot))
	items := make([]dto.ReconcileItem, len(snapshot))
	for i, mark := range snapshot {
		keys[i] = mark.Key
		items[i] = dto.ReconcileItem{
			ClassID:        mark.Key.ClassID,
			StudentID:      mark.Key.StudentID,
			Date:           mark.Key.Date,
			Status:         string(mark.Status),
			Notes:          mark.Notes,
			LocalTimestamp: mark.LocalTimestamp,
		}
	}
	if err := c.store.MarkSyncing(ctx, keys); err != nil {
		return nil, err
	}

	resp, err := c.reconciler.ReconcileBatch(ctx, items)
	if err != nil {
		// Transport failure: every snapshot item stays queued for retry.
		if storeErr := c.store.MarkFailed(ctx, keys); storeErr != nil {
			c.logger.Error("failed to requeue after transport failure", zap.Error(storeErr))
		}
		outcome := &Outcome{Failed: len(keys), Errors: make(map[Key]string, len(keys))}
		for _, key := range keys {
			outcome.Errors[key] = appErrors.ErrTransportFailure.Code
		}
		c.logger.Warn("sync transport failure", zap.Int("items", len(keys)), zap.Error(err))
		return outcome, nil
	}

	outcome := &Outcome{Errors: map[Key]string{}}
	var synced, failed []Key
	for i, result := range resp.Results {
		if i >= len(keys) {
			break
		}
		if result.Success {
			synced = append(synced, keys[i])
			outcome.Synced++
		} else {
			failed = append(failed, keys[i])
			outcome.Failed++
			outcome.Errors[keys[i]] = result.Error
		}
	}
	// A short response leaves the tail unconfirmed; treat it as failed.
	for i := len(resp.Results); i < len(keys); i++ {
		failed = append(failed, keys[i])
		outcome.Failed++
		outcome.Errors[keys[i]] = appErrors.ErrTransportFailure.Code
	}

	if err := c.store.MarkSynced(ctx, synced); err != nil {
		return nil, err
	}
	if err := c.store.MarkFailed(ctx, failed); err != nil {
		return nil, err
	}

	c.logger.Info("sync cycle complete", zap.Int("synced", outcome.Synced), zap.Int("failed", outcome.Failed))
	return outcome, nil
}
