package ingest

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/devskill-org/energy-management-system/internal/homeautomation"
)

// BackupSOCWorker polls a Home Assistant sensor entity for the
// backup-discharge minimum SOC (the floor below which the battery must stay
// available for outages) and publishes it into the Store for the schedule
// generator and discharge-eligibility test to read.
type BackupSOCWorker struct {
	client   *homeautomation.Client
	store    *Store
	entityID string
	logger   *log.Logger
	backoff  *backoff
}

// NewBackupSOCWorker builds a worker reading entityID through client. A nil
// client disables the worker (each tick returns without fetching), matching the
// dry-run/no-home-automation deployment the rest of internal/ingest
// supports.
func NewBackupSOCWorker(client *homeautomation.Client, store *Store, entityID string, logger *log.Logger) *BackupSOCWorker {
	return &BackupSOCWorker{
		client:   client,
		store:    store,
		entityID: entityID,
		logger:   logger,
		backoff:  newBackoff(10*time.Second, 10*time.Minute),
	}
}

// Task returns the PeriodicTask that drives this worker.
func (w *BackupSOCWorker) Task(interval time.Duration) PeriodicTask {
	return PeriodicTask{
		Name:         "backup-soc",
		InitialDelay: time.Second,
		Interval:     interval,
		RunFunc:      w.tick,
	}
}

func (w *BackupSOCWorker) tick(ctx context.Context) {
	if w.client == nil || w.entityID == "" {
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	state, err := w.client.GetState(fetchCtx, w.entityID)
	if err != nil {
		delay := w.backoff.fail()
		w.logger.Printf("[ingest] backup-soc fetch failed, backing off %s: %v", delay, err)
		return
	}
	if state.Unavailable() {
		w.backoff.fail()
		w.logger.Printf("[ingest] backup-soc sensor %s is unavailable", w.entityID)
		return
	}

	soc, err := strconv.ParseFloat(state.State, 64)
	if err != nil {
		w.logger.Printf("[ingest] backup-soc sensor %s state %q is not numeric: %v", w.entityID, state.State, err)
		return
	}

	w.backoff.reset()
	w.store.SetBackupMinSOC(&soc)
}
