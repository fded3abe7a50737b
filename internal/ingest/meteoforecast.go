package ingest

import (
	"context"
	"log"
	"math"
	"sort"
	"time"

	"github.com/sixdouglas/suncalc"

	"github.com/devskill-org/energy-management-system/internal/model"
	"github.com/devskill-org/energy-management-system/meteo"
)

// MeteoForecastSource is a SolarForecastSource backed by the MET Norway
// Locationforecast API: it scales the same altitude-based clear-sky model
// the worker already falls back to by each block's cloud area fraction,
// instead of assuming a cloudless sky.
type MeteoForecastSource struct {
	client      *meteo.Client
	location    meteo.Location
	peakPowerKW float64
	logger      *log.Logger
}

// NewMeteoForecastSource builds a source for a site at loc with the given
// installed peak PV power. userAgent must identify the deployment per the
// MET Norway API's terms of use.
func NewMeteoForecastSource(userAgent string, loc meteo.Location, peakPowerKW float64, logger *log.Logger) *MeteoForecastSource {
	return &MeteoForecastSource{
		client:      meteo.NewClient(userAgent),
		location:    loc,
		peakPowerKW: peakPowerKW,
		logger:      logger,
	}
}

// Forecast implements SolarForecastSource. It fetches one compact forecast
// covering the whole horizon and interpolates cloud cover onto each
// 15-minute block by nearest preceding hourly timestep.
func (s *MeteoForecastSource) Forecast(ctx context.Context, blocks []model.TimeBlockPrice) ([]float64, bool) {
	if len(blocks) == 0 {
		return nil, false
	}

	forecast, err := s.client.GetCompact(meteo.QueryParams{Location: s.location})
	if err != nil {
		if s.logger != nil {
			s.logger.Printf("[ingest] meteo forecast fetch failed: %v", err)
		}
		return nil, false
	}
	if forecast.Properties == nil || len(forecast.Properties.Timeseries) == 0 {
		return nil, false
	}

	steps := forecast.Properties.Timeseries
	sort.Slice(steps, func(i, j int) bool { return steps[i].Time.Before(steps[j].Time) })

	out := make([]float64, len(blocks))
	for i, b := range blocks {
		cloudFraction := cloudFractionAt(steps, b.BlockStart)
		out[i] = s.clearSkyWithCloudKWh(b, cloudFraction)
	}
	return out, true
}

// cloudFractionAt returns the cloud area fraction (0-100) from the latest
// timestep at or before t, defaulting to 50 (moderate cloud) when t
// precedes every timestep or the field is absent.
func cloudFractionAt(steps []meteo.ForecastTimeStep, t time.Time) float64 {
	best := -1
	for i, step := range steps {
		if step.Time.After(t) {
			break
		}
		best = i
	}
	if best < 0 {
		return 50
	}
	data := steps[best].Data
	if data == nil || data.Instant == nil || data.Instant.Details == nil || data.Instant.Details.CloudAreaFraction == nil {
		return 50
	}
	return *data.Instant.Details.CloudAreaFraction
}

// clearSkyWithCloudKWh applies a linear cloud-attenuation factor
// (1 - 0.75*cloudFraction/100, floored at 0.1) on top of the same
// altitude-based clear-sky model used when no external source is
// configured, keeping forecasts from two code paths physically consistent.
func (s *MeteoForecastSource) clearSkyWithCloudKWh(block model.TimeBlockPrice, cloudFractionPercent float64) float64 {
	mid := block.BlockStart.Add(time.Duration(block.DurationMinutes) * time.Minute / 2)

	times := suncalc.GetTimes(mid, s.location.Latitude, s.location.Longitude)
	sunrise := times["sunrise"].Value
	sunset := times["sunset"].Value
	if mid.Before(sunrise) || mid.After(sunset) {
		return 0
	}

	pos := suncalc.GetPosition(mid, s.location.Latitude, s.location.Longitude)
	altitudeFactor := math.Sin(pos.Altitude)
	if altitudeFactor < 0 {
		return 0
	}

	cloudFactor := 1 - 0.75*(cloudFractionPercent/100.0)
	if cloudFactor < 0.1 {
		cloudFactor = 0.1
	}

	durationHours := float64(block.DurationMinutes) / 60.0
	return s.peakPowerKW * altitudeFactor * cloudFactor * durationHours
}
