// Package model holds the data entities shared across the decision engine:
// price snapshots, inverter telemetry, histories, schedules, and control state.
package model

import (
	"sort"
	"time"
)

// TimeBlockPrice is a single 15-minute wholesale price quote.
type TimeBlockPrice struct {
	BlockStart              time.Time `json:"block_start"`
	DurationMinutes         int       `json:"duration_minutes"`
	PriceCZKPerKWh          float64   `json:"price_czk_per_kwh"`
	EffectivePriceCZKPerKWh float64   `json:"effective_price_czk_per_kwh"`
}

// End returns the exclusive end of the block.
func (b TimeBlockPrice) End() time.Time {
	return b.BlockStart.Add(time.Duration(b.DurationMinutes) * time.Minute)
}

// Covers reports whether t falls within [BlockStart, End).
func (b TimeBlockPrice) Covers(t time.Time) bool {
	return !t.Before(b.BlockStart) && t.Before(b.End())
}

// SpotPriceData is an ordered, contiguous horizon of price blocks.
type SpotPriceData struct {
	Blocks    []TimeBlockPrice `json:"blocks"`
	FetchedAt time.Time        `json:"fetched_at"`
}

// BlockAt returns the block covering t, or false if none does.
func (s *SpotPriceData) BlockAt(t time.Time) (TimeBlockPrice, bool) {
	for _, b := range s.Blocks {
		if b.Covers(t) {
			return b, true
		}
	}
	return TimeBlockPrice{}, false
}

// IndexAt returns the index of the block covering t, or -1.
func (s *SpotPriceData) IndexAt(t time.Time) int {
	for i, b := range s.Blocks {
		if b.Covers(t) {
			return i
		}
	}
	return -1
}

// Normalize sorts blocks by BlockStart, removes duplicate starts (keeping the
// last occurrence, which is assumed to be the freshest), and derives
// EffectivePriceCZKPerKWh from PriceCZKPerKWh plus the supplied fee when the
// effective price has not already been set by the source.
func (s *SpotPriceData) Normalize(distributionFeeCZKPerKWh float64) {
	if len(s.Blocks) == 0 {
		return
	}

	dedup := make(map[time.Time]TimeBlockPrice, len(s.Blocks))
	for _, b := range s.Blocks {
		dedup[b.BlockStart] = b
	}

	blocks := make([]TimeBlockPrice, 0, len(dedup))
	for _, b := range dedup {
		if b.EffectivePriceCZKPerKWh == 0 {
			b.EffectivePriceCZKPerKWh = b.PriceCZKPerKWh + distributionFeeCZKPerKWh
		}
		blocks = append(blocks, b)
	}

	sort.Slice(blocks, func(i, j int) bool {
		return blocks[i].BlockStart.Before(blocks[j].BlockStart)
	})
	s.Blocks = blocks
}
