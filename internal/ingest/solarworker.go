package ingest

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/sixdouglas/suncalc"

	"github.com/devskill-org/energy-management-system/internal/model"
)

// SolarForecastSource optionally supplies an externally produced per-block
// forecast (e.g. a home-automation weather-aware sensor); when it returns
// ok=false the worker falls back to the suncalc clear-sky estimate.
type SolarForecastSource interface {
	Forecast(ctx context.Context, blocks []model.TimeBlockPrice) ([]float64, bool)
}

// SolarForecastWorker derives a per-block solar generation forecast aligned
// to the current price horizon, preferring an external forecast source when
// one is configured and falling back to a suncalc-derived clear-sky estimate
// otherwise.
type SolarForecastWorker struct {
	store     *Store
	source    SolarForecastSource // nil disables external source, suncalc-only
	latitude  float64
	longitude float64
	peakPowerKW float64
	logger    *log.Logger
}

// NewSolarForecastWorker builds a worker producing forecasts for a site at
// (latitude, longitude) with the given installed peak PV power.
func NewSolarForecastWorker(store *Store, source SolarForecastSource, latitude, longitude, peakPowerKW float64, logger *log.Logger) *SolarForecastWorker {
	return &SolarForecastWorker{
		store:       store,
		source:      source,
		latitude:    latitude,
		longitude:   longitude,
		peakPowerKW: peakPowerKW,
		logger:      logger,
	}
}

// Task returns the PeriodicTask that drives this worker (default 30 min).
func (w *SolarForecastWorker) Task(interval time.Duration) PeriodicTask {
	return PeriodicTask{
		Name:         "solar-forecast",
		InitialDelay: 5 * time.Second,
		Interval:     interval,
		RunFunc:      w.tick,
	}
}

func (w *SolarForecastWorker) tick(ctx context.Context) {
	blocks := w.store.Prices().Blocks
	if len(blocks) == 0 {
		return
	}

	if w.source != nil {
		if forecast, ok := w.source.Forecast(ctx, blocks); ok {
			w.store.SetSolarForecast(forecast)
			return
		}
	}

	forecast := make([]float64, len(blocks))
	for i, b := range blocks {
		forecast[i] = w.clearSkyEstimateKWh(b)
	}
	w.store.SetSolarForecast(forecast)
}

// clearSkyEstimateKWh estimates the energy produced during block using solar
// altitude alone (no cloud data): power scales with sin(altitude), zero
// before sunrise/after sunset.
func (w *SolarForecastWorker) clearSkyEstimateKWh(block model.TimeBlockPrice) float64 {
	mid := block.BlockStart.Add(time.Duration(block.DurationMinutes) * time.Minute / 2)

	times := suncalc.GetTimes(mid, w.latitude, w.longitude)
	sunrise := times["sunrise"].Value
	sunset := times["sunset"].Value
	if mid.Before(sunrise) || mid.After(sunset) {
		return 0
	}

	pos := suncalc.GetPosition(mid, w.latitude, w.longitude)
	altitudeFactor := math.Sin(pos.Altitude)
	if altitudeFactor < 0 {
		return 0
	}

	durationHours := float64(block.DurationMinutes) / 60.0
	return w.peakPowerKW * altitudeFactor * durationHours
}
