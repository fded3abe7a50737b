package model

import "time"

// HistoryCapacity is the default ring-buffer size: 48h at 15-minute
// resolution.
const HistoryCapacity = 192

// HistoryPoint is one scalar observation at a point in time.
type HistoryPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// RingHistory is a bounded, newest-first FIFO of HistoryPoint, shared by
// BatteryHistory and PvHistory.
type RingHistory struct {
	points   []HistoryPoint
	capacity int
}

// NewRingHistory creates a history with the given capacity; a capacity of 0
// defaults to HistoryCapacity.
func NewRingHistory(capacity int) *RingHistory {
	if capacity <= 0 {
		capacity = HistoryCapacity
	}
	return &RingHistory{capacity: capacity}
}

// Push inserts a new point at the front, evicting the oldest entry once the
// history is at capacity. Points must be pushed in increasing timestamp order;
// Push is a no-op (returns false) if ts is not after the current newest point.
func (h *RingHistory) Push(ts time.Time, value float64) bool {
	if len(h.points) > 0 && !ts.After(h.points[0].Timestamp) {
		return false
	}
	h.points = append([]HistoryPoint{{Timestamp: ts, Value: value}}, h.points...)
	if len(h.points) > h.capacity {
		h.points = h.points[:h.capacity]
	}
	return true
}

// Points returns the newest-first slice of recorded points.
func (h *RingHistory) Points() []HistoryPoint {
	return h.points
}

// Len returns the number of points currently stored.
func (h *RingHistory) Len() int {
	return len(h.points)
}

// DailyEnergySummary is one day's aggregate energy accounting.
type DailyEnergySummary struct {
	Date               time.Time `json:"date"` // UTC midnight
	ConsumptionKWh      float64   `json:"consumption_kwh"`
	SolarProductionKWh  float64   `json:"solar_production_kwh"`
	GridImportKWh       float64   `json:"grid_import_kwh"`
}

// ConsumptionHistory is a bounded, newest-first deque of daily summaries.
type ConsumptionHistory struct {
	days     []DailyEnergySummary
	capacity int
}

func NewConsumptionHistory(capacity int) *ConsumptionHistory {
	if capacity <= 0 {
		capacity = 30
	}
	return &ConsumptionHistory{capacity: capacity}
}

// Push records today's summary, replacing any existing entry for the same day.
func (h *ConsumptionHistory) Push(summary DailyEnergySummary) {
	for i, d := range h.days {
		if d.Date.Equal(summary.Date) {
			h.days[i] = summary
			return
		}
	}
	h.days = append([]DailyEnergySummary{summary}, h.days...)
	if len(h.days) > h.capacity {
		h.days = h.days[:h.capacity]
	}
}

// Days returns the newest-first slice of daily summaries.
func (h *ConsumptionHistory) Days() []DailyEnergySummary {
	return h.days
}

// EMAConsumptionKWh returns the exponential moving average of daily
// consumption over at most the last n days, with smoothing factor alpha.
// Returns 0 if there is no history.
func (h *ConsumptionHistory) EMAConsumptionKWh(n int, alpha float64) float64 {
	if len(h.days) == 0 {
		return 0
	}
	if n <= 0 || n > len(h.days) {
		n = len(h.days)
	}
	// days[] is newest-first; walk oldest-to-newest within the window so the
	// EMA weights recent days more heavily.
	window := h.days[:n]
	ema := window[n-1].ConsumptionKWh
	for i := n - 2; i >= 0; i-- {
		ema = alpha*window[i].ConsumptionKWh + (1-alpha)*ema
	}
	return ema
}
