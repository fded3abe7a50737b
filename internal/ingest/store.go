package ingest

import (
	"sync"
	"time"

	"github.com/devskill-org/energy-management-system/internal/model"
)

// Store holds the latest ingested snapshots behind a single RWMutex. The
// decision tick reads from it at the head of every cycle; ingest workers
// write to it from their own goroutines and never hold the lock across I/O.
type Store struct {
	mu sync.RWMutex

	prices         model.SpotPriceData
	inverters      map[string]model.RawInverterState
	solarForecast  []float64 // parallel to prices.Blocks
	backupMinSOC   *float64
	batteryHistory *model.RingHistory
	pvHistory      *model.RingHistory
	consumption    *model.ConsumptionHistory

	todayDay            time.Time // local midnight the running totals below belong to
	todayLastSample     time.Time
	todayGridImportKWh  float64
	todayConsumptionKWh float64
	todaySolarKWh       float64
}

// NewStore returns an empty Store with fresh histories.
func NewStore() *Store {
	return &Store{
		inverters:      make(map[string]model.RawInverterState),
		batteryHistory: model.NewRingHistory(0),
		pvHistory:      model.NewRingHistory(0),
		consumption:    model.NewConsumptionHistory(0),
	}
}

// SetPrices atomically swaps the price snapshot.
func (s *Store) SetPrices(data model.SpotPriceData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices = data
}

// Prices returns the current price snapshot.
func (s *Store) Prices() model.SpotPriceData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prices
}

// SetInverterState inserts or replaces one inverter's telemetry.
func (s *Store) SetInverterState(state model.RawInverterState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inverters[state.InverterID] = state
}

// InverterState returns the latest telemetry for inverterID.
func (s *Store) InverterState(inverterID string) (model.RawInverterState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.inverters[inverterID]
	return state, ok
}

// InverterStates returns a snapshot copy of every known inverter's telemetry.
func (s *Store) InverterStates() map[string]model.RawInverterState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.RawInverterState, len(s.inverters))
	for id, st := range s.inverters {
		out[id] = st
	}
	return out
}

// SetSolarForecast replaces the per-block solar generation forecast,
// indexed in parallel with the current price horizon.
func (s *Store) SetSolarForecast(forecast []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.solarForecast = forecast
}

// SolarForecast returns the current solar forecast.
func (s *Store) SolarForecast() []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.solarForecast
}

// SetBackupMinSOC records the home-automation-sourced discharge floor, or
// clears it with nil when the backup sensor is unavailable/unconfigured.
func (s *Store) SetBackupMinSOC(v *float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backupMinSOC = v
}

// BackupMinSOC returns the current backup discharge floor.
func (s *Store) BackupMinSOC() *float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backupMinSOC
}

// RecordBatteryPower appends a 15-minute battery power observation.
func (s *Store) RecordBatteryPower(ts time.Time, watts float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batteryHistory.Push(ts, watts)
}

// RecordPVPower appends a 15-minute PV power observation.
func (s *Store) RecordPVPower(ts time.Time, watts float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pvHistory.Push(ts, watts)
}

// BatteryHistory returns the newest-first recorded battery power points.
func (s *Store) BatteryHistory() []model.HistoryPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batteryHistory.Points()
}

// PVHistory returns the newest-first recorded PV power points.
func (s *Store) PVHistory() []model.HistoryPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pvHistory.Points()
}

// AccumulateEnergy integrates one instantaneous power sample into the
// running today's grid-import and household-consumption energy totals,
// resetting both at local midnight. totalGridPowerW/totalPVPowerW/
// totalBatteryPowerW follow the same sign convention as RawInverterState
// (grid: +export/-import; battery: +charge/-discharge), summed across every
// known inverter the same way HistoryWorker sums its 15-minute points.
// Household consumption is derived from the plant's power balance:
// consumption = generation + import - storage = PV - grid - battery.
func (s *Store) AccumulateEnergy(ts time.Time, totalGridPowerW, totalPVPowerW, totalBatteryPowerW float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	local := ts.Local()
	year, month, dayOfMonth := local.Date()
	day := time.Date(year, month, dayOfMonth, 0, 0, 0, 0, local.Location())
	if !s.todayDay.Equal(day) {
		s.todayDay = day
		s.todayGridImportKWh = 0
		s.todayConsumptionKWh = 0
		s.todaySolarKWh = 0
		s.todayLastSample = time.Time{}
	}

	if s.todayLastSample.IsZero() {
		s.todayLastSample = ts
		return
	}
	dtHours := ts.Sub(s.todayLastSample).Hours()
	s.todayLastSample = ts
	if dtHours <= 0 {
		return
	}

	gridImportW := -totalGridPowerW
	if gridImportW < 0 {
		gridImportW = 0
	}
	consumptionW := totalPVPowerW - totalGridPowerW - totalBatteryPowerW
	if consumptionW < 0 {
		consumptionW = 0
	}

	s.todayGridImportKWh += gridImportW / 1000 * dtHours
	s.todayConsumptionKWh += consumptionW / 1000 * dtHours
	if totalPVPowerW > 0 {
		s.todaySolarKWh += totalPVPowerW / 1000 * dtHours
	}

	// Keep today's entry in the daily history current, so the consumption
	// EMA the schedule generator reads reflects the running day as well as
	// fully elapsed ones.
	s.consumption.Push(model.DailyEnergySummary{
		Date:               time.Date(year, month, dayOfMonth, 0, 0, 0, 0, time.UTC),
		ConsumptionKWh:     s.todayConsumptionKWh,
		SolarProductionKWh: s.todaySolarKWh,
		GridImportKWh:      s.todayGridImportKWh,
	})
}

// GridImportTodayKWh returns the running total of grid energy imported since
// local midnight.
func (s *Store) GridImportTodayKWh() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.todayGridImportKWh
}

// ConsumptionTodayKWh returns the running total of household consumption
// since local midnight, derived from the plant's instantaneous power
// balance rather than a dedicated consumption meter.
func (s *Store) ConsumptionTodayKWh() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.todayConsumptionKWh
}

// RecordDailyConsumption upserts today's consumption/solar/import summary.
func (s *Store) RecordDailyConsumption(summary model.DailyEnergySummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumption.Push(summary)
}

// ConsumptionEMA returns the exponential moving average of daily consumption
// over at most n days with smoothing factor alpha.
func (s *Store) ConsumptionEMA(n int, alpha float64) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.consumption.EMAConsumptionKWh(n, alpha)
}
