package priceapi

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/devskill-org/energy-management-system/internal/homeautomation"
	"github.com/devskill-org/energy-management-system/internal/model"
)

// HomeAssistantSource satisfies Source by reading a single Home Assistant
// sensor entity whose attributes carry today's (and, once published,
// tomorrow's) 15-minute price blocks keyed by local wall-clock time. This is
// the program's default price source; ENTSOESource remains available for a
// direct ENTSO-E feed.
type HomeAssistantSource struct {
	client      *homeautomation.Client
	entityID    string
	location    *time.Location
	todayKey    string
	tomorrowKey string
}

// NewHomeAssistantSource builds a HomeAssistantSource reading entityID
// through client, interpreting its "HH:MM" attribute keys in location.
func NewHomeAssistantSource(client *homeautomation.Client, entityID string, location *time.Location) *HomeAssistantSource {
	return &HomeAssistantSource{
		client:      client,
		entityID:    entityID,
		location:    location,
		todayKey:    "today",
		tomorrowKey: "tomorrow",
	}
}

// FetchPrices implements Source. Missing/unavailable states are treated as
// a transient fetch failure and dropped.
func (s *HomeAssistantSource) FetchPrices(ctx context.Context, now time.Time) (model.SpotPriceData, error) {
	state, err := s.client.GetState(ctx, s.entityID)
	if err != nil {
		return model.SpotPriceData{}, fmt.Errorf("priceapi: home assistant price sensor: %w", err)
	}
	if state.Unavailable() {
		return model.SpotPriceData{}, fmt.Errorf("priceapi: home assistant price sensor %s is unavailable", s.entityID)
	}

	day := now.In(s.location)
	var blocks []model.TimeBlockPrice

	if raw, ok := state.Attributes[s.todayKey]; ok {
		blocks = append(blocks, decodeHAPriceTable(raw, day, s.location)...)
	}
	if raw, ok := state.Attributes[s.tomorrowKey]; ok {
		blocks = append(blocks, decodeHAPriceTable(raw, day.AddDate(0, 0, 1), s.location)...)
	}
	if len(blocks) == 0 {
		return model.SpotPriceData{}, fmt.Errorf("priceapi: home assistant price sensor %s carries no price attributes", s.entityID)
	}

	sort.Slice(blocks, func(i, j int) bool { return blocks[i].BlockStart.Before(blocks[j].BlockStart) })
	return model.SpotPriceData{Blocks: blocks, FetchedAt: time.Now().UTC()}, nil
}

// decodeHAPriceTable decodes a {"HH:MM": price, ...} attribute object into
// 15-minute blocks anchored on day (interpreted in loc), skipping any entry
// whose key does not parse as a time-of-day or whose value is not numeric.
func decodeHAPriceTable(raw json.RawMessage, day time.Time, loc *time.Location) []model.TimeBlockPrice {
	var table map[string]json.RawMessage
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil
	}

	blocks := make([]model.TimeBlockPrice, 0, len(table))
	for key, rawPrice := range table {
		hh, mm, ok := parseHHMM(key)
		if !ok {
			continue
		}
		var pricePtr *float64
		if err := json.Unmarshal(rawPrice, &pricePtr); err != nil || pricePtr == nil {
			continue
		}
		price := *pricePtr
		start := time.Date(day.Year(), day.Month(), day.Day(), hh, mm, 0, 0, loc)
		blocks = append(blocks, model.TimeBlockPrice{
			BlockStart:      start.UTC(),
			DurationMinutes: 15,
			PriceCZKPerKWh:  price,
		})
	}
	return blocks
}

// parseHHMM parses a "15:30" key; it also accepts a bare position index
// ("0".."95") as a fallback for sensors that key by block number instead of
// wall time.
func parseHHMM(key string) (hour, minute int, ok bool) {
	if h, m, found := strings.Cut(key, ":"); found {
		hh, err1 := strconv.Atoi(h)
		mm, err2 := strconv.Atoi(m)
		if err1 != nil || err2 != nil || hh < 0 || hh > 23 || mm < 0 || mm > 59 {
			return 0, 0, false
		}
		return hh, mm, true
	}

	idx, err := strconv.Atoi(key)
	if err != nil || idx < 0 || idx >= 96 {
		return 0, 0, false
	}
	return (idx * 15) / 60, (idx * 15) % 60, true
}
