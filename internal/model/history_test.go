package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRingHistory_EvictsOldestBeyondCapacity(t *testing.T) {
	h := NewRingHistory(2)
	base := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	require.True(t, h.Push(base, 1))
	require.True(t, h.Push(base.Add(time.Minute), 2))
	require.True(t, h.Push(base.Add(2*time.Minute), 3))

	points := h.Points()
	require.Len(t, points, 2)
	require.Equal(t, 3.0, points[0].Value, "newest point must be first")
	require.Equal(t, 2.0, points[1].Value)
}

func TestRingHistory_RejectsNonIncreasingTimestamp(t *testing.T) {
	h := NewRingHistory(0)
	base := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	require.True(t, h.Push(base, 1))
	require.False(t, h.Push(base, 2), "equal timestamp must be rejected")
	require.False(t, h.Push(base.Add(-time.Second), 3), "earlier timestamp must be rejected")
	require.Equal(t, 1, h.Len())
}

func TestConsumptionHistory_EMAWeightsRecentDaysMoreHeavily(t *testing.T) {
	h := NewConsumptionHistory(0)
	day := func(offset int, kwh float64) DailyEnergySummary {
		return DailyEnergySummary{
			Date:           time.Date(2026, 1, 15+offset, 0, 0, 0, 0, time.UTC),
			ConsumptionKWh: kwh,
		}
	}

	h.Push(day(0, 10))
	h.Push(day(1, 20))

	ema := h.EMAConsumptionKWh(2, 0.5)
	require.InDelta(t, 15.0, ema, 1e-9)
}

func TestConsumptionHistory_PushReplacesSameDayEntry(t *testing.T) {
	h := NewConsumptionHistory(0)
	date := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	h.Push(DailyEnergySummary{Date: date, ConsumptionKWh: 10})
	h.Push(DailyEnergySummary{Date: date, ConsumptionKWh: 12})

	days := h.Days()
	require.Len(t, days, 1)
	require.Equal(t, 12.0, days[0].ConsumptionKWh)
}

func TestConsumptionHistory_EMAReturnsZeroWithNoHistory(t *testing.T) {
	h := NewConsumptionHistory(0)
	require.Equal(t, 0.0, h.EMAConsumptionKWh(7, 0.3))
}
