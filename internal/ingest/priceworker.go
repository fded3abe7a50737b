package ingest

import (
	"context"
	"log"
	"time"

	"github.com/devskill-org/energy-management-system/internal/model"
	"github.com/devskill-org/energy-management-system/internal/priceapi"
)

// PriceWorker periodically fetches the day-ahead price horizon and swaps it
// into the Store. Day-ahead prices for tomorrow typically arrive mid
// afternoon; every successful fetch stamps a new FetchedAt, and the decision
// loop regenerates the schedule on its next tick when it sees a newer one.
// It is transport-agnostic: it calls whatever priceapi.Source it was built
// with, so the same worker drives either the Home-Assistant-sensor source
// or the legacy ENTSO-E XML source.
type PriceWorker struct {
	source                   priceapi.Source
	store                    *Store
	distributionFeeCZKPerKWh float64
	logger                   *log.Logger
	backoff                  *backoff
}

// NewPriceWorker builds a PriceWorker writing into store, fetching through source.
func NewPriceWorker(store *Store, source priceapi.Source, distributionFeeCZKPerKWh float64, logger *log.Logger) *PriceWorker {
	return &PriceWorker{
		source:                   source,
		store:                    store,
		distributionFeeCZKPerKWh: distributionFeeCZKPerKWh,
		logger:                   logger,
		backoff:                  newBackoff(30*time.Second, 30*time.Minute),
	}
}

// Task returns the PeriodicTask that drives this worker.
func (w *PriceWorker) Task(interval time.Duration) PeriodicTask {
	return PeriodicTask{
		Name:         "price",
		InitialDelay: 0,
		Interval:     interval,
		RunFunc:      w.tick,
	}
}

func (w *PriceWorker) tick(ctx context.Context) {
	prevLen := len(w.store.Prices().Blocks)

	fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	data, err := w.source.FetchPrices(fetchCtx, time.Now())
	if err != nil {
		delay := w.backoff.fail()
		w.logger.Printf("[ingest] price fetch failed, backing off %s: %v", delay, err)
		return
	}
	w.backoff.reset()

	existing := w.store.Prices()
	merged := mergePriceBlocks(existing.Blocks, data.Blocks)
	merged.Normalize(w.distributionFeeCZKPerKWh)
	w.store.SetPrices(merged)

	if len(merged.Blocks) > prevLen {
		w.logger.Printf("[ingest] price horizon grew %d -> %d blocks, tomorrow's prices have arrived", prevLen, len(merged.Blocks))
	}
}

// mergePriceBlocks keeps every existing block whose start is later than now
// minus one day (a small trailing buffer for in-flight lookups) plus every
// freshly fetched block; SpotPriceData.Normalize then dedupes by BlockStart,
// preferring the freshest value for any overlapping slot.
func mergePriceBlocks(existing, fresh []model.TimeBlockPrice) model.SpotPriceData {
	cutoff := time.Now().Add(-24 * time.Hour)
	blocks := make([]model.TimeBlockPrice, 0, len(existing)+len(fresh))
	for _, b := range existing {
		if b.BlockStart.After(cutoff) {
			blocks = append(blocks, b)
		}
	}
	blocks = append(blocks, fresh...)
	return model.SpotPriceData{Blocks: blocks, FetchedAt: time.Now().UTC()}
}
