package ingest

import (
	"context"
	"log"
	"time"

	"github.com/devskill-org/energy-management-system/internal/inverterdriver"
)

// InverterWorker polls every registered inverter's raw telemetry on a short
// interval (default 5s) and writes it straight into the Store; a companion
// HistoryWorker derives and records the slower 15-minute history points a
// dedicated decomposer would extract from that raw state.
type InverterWorker struct {
	registry *inverterdriver.Registry
	store    *Store
	logger   *log.Logger
	backoffs map[string]*backoff
}

// NewInverterWorker builds a worker polling every inverter known to registry.
func NewInverterWorker(registry *inverterdriver.Registry, store *Store, logger *log.Logger) *InverterWorker {
	return &InverterWorker{
		registry: registry,
		store:    store,
		logger:   logger,
		backoffs: make(map[string]*backoff),
	}
}

// Task returns the PeriodicTask that drives this worker.
func (w *InverterWorker) Task(interval time.Duration) PeriodicTask {
	return PeriodicTask{
		Name:         "inverter-poll",
		InitialDelay: 0,
		Interval:     interval,
		RunFunc:      w.tick,
	}
}

func (w *InverterWorker) tick(ctx context.Context) {
	for _, id := range w.registry.InverterIDs() {
		w.pollOne(ctx, id)
	}

	var totalGridW, totalPVW, totalBatteryW float64
	states := w.store.InverterStates()
	for _, st := range states {
		totalGridW += st.GridPowerW
		totalPVW += st.PVPowerW
		totalBatteryW += st.BatteryPowerW
	}
	if len(states) > 0 {
		w.store.AccumulateEnergy(time.Now(), totalGridW, totalPVW, totalBatteryW)
	}
}

func (w *InverterWorker) pollOne(ctx context.Context, inverterID string) {
	readCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	state, err := w.registry.ReadState(readCtx, inverterID)
	if err != nil {
		b, ok := w.backoffs[inverterID]
		if !ok {
			b = newBackoff(5*time.Second, 5*time.Minute)
			w.backoffs[inverterID] = b
		}
		delay := b.fail()
		w.logger.Printf("[ingest] inverter %s read failed, back-off %s: %v", inverterID, delay, err)
		return
	}
	if b, ok := w.backoffs[inverterID]; ok {
		b.reset()
	}
	w.store.SetInverterState(state)
}

// HistoryWorker appends battery and PV power observations to the bounded
// histories every 15 minutes, the resolution the winter-adaptive strategy
// and the backtest harness both reason in.
type HistoryWorker struct {
	store *Store
}

// NewHistoryWorker builds a history-recording worker.
func NewHistoryWorker(store *Store) *HistoryWorker {
	return &HistoryWorker{store: store}
}

// Task returns the PeriodicTask that drives this worker. Its interval is
// fixed here at 15 minutes and is not configurable.
func (w *HistoryWorker) Task() PeriodicTask {
	return PeriodicTask{
		Name:         "history",
		InitialDelay: 0,
		Interval:     15 * time.Minute,
		RunFunc:      w.tick,
	}
}

func (w *HistoryWorker) tick(_ context.Context) {
	now := time.Now().UTC()
	var totalBatteryW, totalPVW float64
	states := w.store.InverterStates()
	for _, st := range states {
		totalBatteryW += st.BatteryPowerW
		totalPVW += st.PVPowerW
	}
	if len(states) == 0 {
		return
	}
	w.store.RecordBatteryPower(now, totalBatteryW)
	w.store.RecordPVPower(now, totalPVW)
}
